// Package heartbeat keeps ready sessions alive by writing each contract's
// heartbeat payload on a fixed period.
package heartbeat

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blelink/internal/device"
)

// DefaultPeriod is the heartbeat period used when none is configured.
const DefaultPeriod = 2 * time.Second

// ErrCancelled is returned by Resume once the coordinator has been cancelled.
var ErrCancelled = errors.New("heartbeat cancelled")

// State is the coordinator timer state.
type State int

const (
	Idle State = iota
	Running
	Suspended
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Suspended:
		return "suspended"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Coordinator owns the heartbeat timer and the set of managed devices.
//
// The timer only calls fire. Building the writes is left to Beat, which the
// owner runs on its own serialized queue.
type Coordinator struct {
	mu      sync.Mutex
	period  time.Duration
	fire    func()
	factory TimerFactory
	timer   Timer
	state   State
	devices *orderedmap.OrderedMap[string, device.Identity]
	logger  *logrus.Logger
}

// New creates an idle coordinator. A nil factory uses NewTickerTimer.
func New(period time.Duration, fire func(), factory TimerFactory, logger *logrus.Logger) *Coordinator {
	if period <= 0 {
		period = DefaultPeriod
	}
	if factory == nil {
		factory = NewTickerTimer
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Coordinator{
		period:  period,
		fire:    fire,
		factory: factory,
		devices: orderedmap.New[string, device.Identity](),
		logger:  logger,
	}
}

// Period returns the firing period.
func (c *Coordinator) Period() time.Duration {
	return c.period
}

// Add starts managing id. Adding twice is a no-op.
func (c *Coordinator) Add(id device.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.devices.Get(id.Key()); ok {
		return
	}
	c.devices.Set(id.Key(), id)
	c.logger.WithField("device", id.String()).Debug("Heartbeat device added")
}

// Remove stops managing id.
func (c *Coordinator) Remove(id device.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.devices.Delete(id.Key()); ok {
		c.logger.WithField("device", id.String()).Debug("Heartbeat device removed")
	}
}

// Devices returns the managed devices in the order they were added.
func (c *Coordinator) Devices() []device.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]device.Identity, 0, c.devices.Len())
	for pair := c.devices.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// State returns the timer state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Resume starts or re-enables periodic firing, creating the timer on first use.
func (c *Coordinator) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Cancelled:
		return ErrCancelled
	case Running:
		return nil
	}

	if c.timer == nil {
		c.timer = c.factory(c.period, c.fire)
	}
	c.timer.Resume()
	c.state = Running
	c.logger.WithField("period", c.period).Debug("Heartbeat resumed")
	return nil
}

// Suspend pauses firing without releasing the timer.
func (c *Coordinator) Suspend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Running {
		return
	}
	c.timer.Suspend()
	c.state = Suspended
	c.logger.Debug("Heartbeat suspended")
}

// Cancel stops firing for good and releases the timer. It is safe to call
// repeatedly and while suspended.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Cancelled {
		return
	}
	if c.timer != nil {
		if c.state == Suspended {
			c.timer.Resume()
		}
		c.timer.Cancel()
		c.timer = nil
	}
	c.state = Cancelled
	c.logger.Debug("Heartbeat cancelled")
}

// Beat builds one write per managed device that is ready and has a heartbeat
// payload. Everything else is skipped.
func (c *Coordinator) Beat(lookup func(device.Identity) (*device.Peripheral, bool)) []device.WriteRequest {
	var out []device.WriteRequest
	for _, id := range c.Devices() {
		p, ok := lookup(id)
		if !ok || p.State != device.StateReady {
			continue
		}
		payload, ok := p.Contract.HeartbeatPayload()
		if !ok {
			continue
		}
		out = append(out, device.WriteRequest{
			Device:         p.Identity,
			Characteristic: p.Contract.Primary.Write,
			Payload:        payload,
		})
	}
	return out
}
