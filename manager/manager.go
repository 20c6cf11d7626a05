// Package manager is the session façade. It owns the peripheral registry, the
// session state machine and the heartbeat coordinator, and serializes every
// adapter event, command, heartbeat tick and timeout through one loop
// goroutine.
//
//	mgr := manager.New(adapter, manager.Options{Catalog: catalog}, logger)
//	done := mgr.Run(ctx)
//	cancel := mgr.Subscribe(func(ev manager.Event) { ... })
//	defer cancel()
//	_ = mgr.StartScan(&manager.ScanFilter{Names: []string{"Lamp"}})
//	<-done
package manager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/groutine"
	"github.com/srg/blelink/internal/heartbeat"
	"github.com/srg/blelink/internal/registry"
	"github.com/srg/blelink/internal/ringchan"
	"github.com/srg/blelink/internal/session"
)

var (
	// ErrNotRunning is returned by commands issued before Run.
	ErrNotRunning = errors.New("manager is not running")
	// ErrClosed is returned by commands issued after the Run context ended.
	ErrClosed = errors.New("manager is closed")
)

// Options tunes a Manager. Zero values fall back to the defaults below.
type Options struct {
	HeartbeatPeriod   time.Duration // default heartbeat.DefaultPeriod
	ConnectTimeout    time.Duration // handed to the adapter, 0 leaves it to the adapter
	DiscoveryTimeout  time.Duration // 0 disables discovery timeouts
	EventBuffer       int           // Events() capacity, default 100
	QueueSize         int           // loop queue capacity, default 256
	WriteWithResponse bool

	// Catalog binds contracts to discovered peripherals by advertised name.
	Catalog *device.ContractCatalog

	// TimerFactory creates the heartbeat timer, default heartbeat.NewTickerTimer.
	TimerFactory heartbeat.TimerFactory
}

const (
	defaultEventBuffer = 100
	defaultQueueSize   = 256
)

func (o Options) withDefaults() Options {
	if o.HeartbeatPeriod <= 0 {
		o.HeartbeatPeriod = heartbeat.DefaultPeriod
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = defaultEventBuffer
	}
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	return o
}

// Manager drives peripherals from discovery to ready sessions.
//
// All state is owned by the loop goroutine started by Run. Public methods
// hand closures to the loop and wait for them; called from an observer they
// run inline.
type Manager struct {
	adapter device.Adapter
	opts    Options
	logger  *logrus.Logger

	registry  *registry.Registry
	machine   *session.Machine
	heartbeat *heartbeat.Coordinator

	queue    chan func()
	deferred []device.Event
	started  atomic.Bool
	loopGID  atomic.Uint64
	stopped  chan struct{}

	observersMu sync.Mutex
	observers   []*observer
	events      *ringchan.RingChannel[Event]

	// loop-owned
	adapterState  device.AdapterState
	filter        *ScanFilter
	scanning      bool
	scanWanted    bool
	scanSuspended bool
	contracts     map[string]*device.ServiceContract
}

type observer struct {
	fn func(Event)
}

// New creates a Manager and attaches it to adapter as its event sink.
func New(adapter device.Adapter, opts Options, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	opts = opts.withDefaults()

	reg := registry.New(logger)
	m := &Manager{
		adapter:   adapter,
		opts:      opts,
		logger:    logger,
		registry:  reg,
		machine:   session.NewMachine(adapter, reg, device.ConnectOptions{Timeout: opts.ConnectTimeout}, logger),
		queue:     make(chan func(), opts.QueueSize),
		stopped:   make(chan struct{}),
		events:    ringchan.New[Event](opts.EventBuffer),
		contracts: make(map[string]*device.ServiceContract),
	}
	m.heartbeat = heartbeat.New(opts.HeartbeatPeriod, m.onHeartbeatTick, opts.TimerFactory, logger)

	adapter.Attach(m)
	return m
}

// Run starts the loop goroutine. The loop stops when ctx is done; the
// returned channel is closed once it has shut down.
func (m *Manager) Run(ctx context.Context) <-chan struct{} {
	if !m.started.CompareAndSwap(false, true) {
		return m.stopped
	}
	groutine.Go(ctx, "blelink-manager", m.loop)
	return m.stopped
}

func (m *Manager) loop(ctx context.Context) {
	m.loopGID.Store(groutine.GetGID())
	m.logger.Debug("Session manager started")

	defer func() {
		m.heartbeat.Cancel()
		m.events.Close()
		close(m.stopped)
		m.logger.Debug("Session manager stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-m.queue:
			fn()
			m.drainDeferred()
		}
	}
}

func (m *Manager) drainDeferred() {
	for len(m.deferred) > 0 {
		ev := m.deferred[0]
		m.deferred = m.deferred[1:]
		m.handle(ev)
	}
	m.deferred = nil
}

func (m *Manager) onLoop() bool {
	gid := m.loopGID.Load()
	return gid != 0 && gid == groutine.GetGID()
}

// enqueue hands fn to the loop. It blocks while the queue is full and
// returns false once the loop has stopped.
func (m *Manager) enqueue(fn func()) bool {
	select {
	case m.queue <- fn:
		return true
	case <-m.stopped:
		return false
	}
}

// call runs fn on the loop and returns its result.
func (m *Manager) call(fn func() error) error {
	if m.onLoop() {
		return fn()
	}
	if !m.started.Load() {
		return ErrNotRunning
	}

	res := make(chan error, 1)
	if !m.enqueue(func() { res <- fn() }) {
		return ErrClosed
	}
	select {
	case err := <-res:
		return err
	case <-m.stopped:
		select {
		case err := <-res:
			return err
		default:
			return ErrClosed
		}
	}
}

// Post implements device.EventSink. Events posted from the loop goroutine,
// as synchronous adapters do, are handled after the current command.
func (m *Manager) Post(ev device.Event) {
	if m.onLoop() {
		m.deferred = append(m.deferred, ev)
		return
	}
	if !m.enqueue(func() { m.handle(ev) }) {
		m.logger.WithField("event", ev).Debug("Dropping adapter event after shutdown")
	}
}

// Subscribe registers fn for every event. Observers run on the loop goroutine
// in subscription order and may call back into the manager.
func (m *Manager) Subscribe(fn func(Event)) (cancel func()) {
	o := &observer{fn: fn}
	m.observersMu.Lock()
	m.observers = append(m.observers, o)
	m.observersMu.Unlock()

	return func() {
		m.observersMu.Lock()
		defer m.observersMu.Unlock()
		for i, cur := range m.observers {
			if cur == o {
				m.observers = append(m.observers[:i:i], m.observers[i+1:]...)
				return
			}
		}
	}
}

// Events returns the event stream. When the reader falls behind the oldest
// events are dropped. The channel is closed when the manager stops.
func (m *Manager) Events() <-chan Event {
	return m.events.C()
}

// Heartbeat returns the heartbeat coordinator.
func (m *Manager) Heartbeat() *heartbeat.Coordinator {
	return m.heartbeat
}

func (m *Manager) emit(ev Event) {
	m.observersMu.Lock()
	observers := append([]*observer(nil), m.observers...)
	m.observersMu.Unlock()

	for _, o := range observers {
		o.fn(ev)
	}
	if m.events.Send(ev) {
		m.logger.WithField("event", ev.Type.String()).Debug("Event stream full, dropped oldest event")
	}
}

func (m *Manager) emitError(p *device.Peripheral, err error) {
	m.emit(Event{Type: EventError, Device: p.Snapshot(), Err: err})
}
