package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/srg/blelink/internal/groutine"
)

// Timer is a periodic timer facility.
//
// Implementations may refuse to cancel a suspended timer; callers must
// Resume before Cancel.
type Timer interface {
	Resume()
	Suspend()
	Cancel()
}

// TimerFactory creates a suspended Timer calling fire every period.
type TimerFactory func(period time.Duration, fire func()) Timer

// TickerTimer is a Timer backed by time.Ticker and one named goroutine.
type TickerTimer struct {
	mu        sync.Mutex
	period    time.Duration
	ticker    *time.Ticker
	stop      chan struct{}
	done      <-chan struct{}
	running   bool
	cancelled bool
}

// NewTickerTimer creates a suspended TickerTimer. A non-positive period falls
// back to DefaultPeriod.
func NewTickerTimer(period time.Duration, fire func()) Timer {
	if period <= 0 {
		period = DefaultPeriod
	}

	t := &TickerTimer{
		period: period,
		ticker: time.NewTicker(period),
		stop:   make(chan struct{}),
	}
	t.ticker.Stop()

	t.done = groutine.Go(context.Background(), "heartbeat-timer", func(ctx context.Context) {
		for {
			select {
			case <-t.stop:
				return
			case <-t.ticker.C:
				fire()
			}
		}
	})
	return t
}

func (t *TickerTimer) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled || t.running {
		return
	}
	t.ticker.Reset(t.period)
	t.running = true
}

func (t *TickerTimer) Suspend() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.ticker.Stop()
	t.running = false
}

// Cancel stops the timer for good. It does not wait for an in-flight fire
// callback; use Done for that.
func (t *TickerTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return
	}
	t.ticker.Stop()
	t.running = false
	t.cancelled = true
	close(t.stop)
}

// Done is closed once the timer goroutine has exited.
func (t *TickerTimer) Done() <-chan struct{} {
	return t.done
}
