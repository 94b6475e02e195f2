// Package ringchan provides a bounded channel that drops the oldest element
// instead of blocking the producer.
package ringchan

import (
	"sync"
	"sync/atomic"
)

// RingChannel is a bounded channel-like buffer with overwrite-oldest semantics.
//
// With capacity 1 it coalesces bursts of signals: a slow consumer only ever
// sees the latest value, and producers (the registry change callback running on
// the session loop) never block.
//
//	rc := ringchan.New[uint64](1)
//	rc.Send(1)
//	rc.Send(2)
//	v := <-rc.C() // 2
type RingChannel[T any] struct {
	ch     chan T
	sendMu sync.Mutex
	closed bool

	written     atomic.Int64
	overwritten atomic.Int64
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the receive side. It is closed by Close.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts v, discarding the oldest buffered value if the buffer is full.
// It reports whether a value was dropped. Sends after Close are ignored.
func (rc *RingChannel[T]) Send(v T) bool {
	rc.sendMu.Lock()
	defer rc.sendMu.Unlock()

	if rc.closed {
		return false
	}

	dropped := false
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
			// consumer drained it meanwhile; retry the send
		}
	}
}

// TryReceive attempts a non-blocking receive.
func (rc *RingChannel[T]) TryReceive() (T, bool) {
	select {
	case v, ok := <-rc.ch:
		return v, ok
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the channel capacity.
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Close closes the receive side. It is safe to call more than once.
func (rc *RingChannel[T]) Close() {
	rc.sendMu.Lock()
	defer rc.sendMu.Unlock()
	if !rc.closed {
		rc.closed = true
		close(rc.ch)
	}
}

// Stats reports how many values were written and how many were overwritten.
func (rc *RingChannel[T]) Stats() (written, overwritten int64) {
	return rc.written.Load(), rc.overwritten.Load()
}
