// Package ringchan provides a bounded channel with overwrite-oldest semantics.
package ringchan

import (
	"sync"
	"sync/atomic"
)

// RingChannel is a bounded channel-like buffer with overwrite-oldest semantics.
//
// Producers never block: when the buffer is full the oldest element is
// discarded. Consumers read from C() like from any channel.
//
//	rc := ringchan.New[Event](3)
//	for i := 0; i < 10; i++ {
//	    rc.Send(ev)
//	}
//	for ev := range rc.C() {
//	    // only the last three survive
//	}
//
// Send after Close is a no-op.
type RingChannel[T any] struct {
	mu     sync.Mutex // serializes producers and Close
	ch     chan T
	closed bool

	written     atomic.Int64
	overwritten atomic.Int64
	received    atomic.Int64
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel. It is closed by Close.
//
// Reads from C() are not counted in Stats().Received.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts v, dropping the oldest element when full.
// Returns true if an element was dropped.
func (rc *RingChannel[T]) Send(v T) (dropped bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		return false
	}
	for {
		select {
		case rc.ch <- v:
			rc.written.Add(1)
			return dropped
		default:
		}
		select {
		case <-rc.ch:
			rc.overwritten.Add(1)
			dropped = true
		default:
			// a consumer drained it in between; retry the send
		}
	}
}

// TrySend inserts v only if there is room.
func (rc *RingChannel[T]) TrySend(v T) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		return false
	}
	select {
	case rc.ch <- v:
		rc.written.Add(1)
		return true
	default:
		return false
	}
}

// Receive blocks until a value is available or the channel is closed.
func (rc *RingChannel[T]) Receive() (v T, ok bool) {
	v, ok = <-rc.ch
	if ok {
		rc.received.Add(1)
	}
	return v, ok
}

// TryReceive returns immediately with (zero, false) when nothing is buffered.
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		if ok {
			rc.received.Add(1)
		}
		return v, ok
	default:
		return v, false
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int { return len(rc.ch) }

// Cap returns the capacity.
func (rc *RingChannel[T]) Cap() int { return cap(rc.ch) }

// Close closes the underlying channel. It is safe to call more than once.
func (rc *RingChannel[T]) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if !rc.closed {
		rc.closed = true
		close(rc.ch)
	}
}

// Stats is a point-in-time view of the channel counters.
type Stats struct {
	Written     int64
	Overwritten int64
	Received    int64
}

// Stats returns current counters.
func (rc *RingChannel[T]) Stats() Stats {
	return Stats{
		Written:     rc.written.Load(),
		Overwritten: rc.overwritten.Load(),
		Received:    rc.received.Load(),
	}
}
