package rally

import (
	"context"
	"sync/atomic"
)

// Gate is a synchronization primitive that can be manually opened and closed.
//
// State:
//   - Open: Wait returns immediately.
//   - Close: Wait blocks.
//
// It is zero-value usable (starts Close).
//
// Every closed phase owns its own signal. Close installs a fresh one, so a
// waiter parked on an earlier phase is never woken by, or confused with, the
// opening of a later phase. Unlike a runtime semaphore the signal is a
// channel, which lets WaitContext give up.
type Gate struct {
	_   noCopy
	sig atomic.Pointer[gateSignal]
}

type gateSignal struct {
	opened atomic.Bool
	done   chan struct{}
}

func newGateSignal() *gateSignal {
	return &gateSignal{done: make(chan struct{})}
}

// signal returns the current phase, installing the first one lazily.
func (e *Gate) signal() *gateSignal {
	if s := e.sig.Load(); s != nil {
		return s
	}
	n := newGateSignal()
	if e.sig.CompareAndSwap(nil, n) {
		return n
	}
	return e.sig.Load()
}

// Open signals the gate (sets state to Open).
// All current waiters are woken up.
// Future calls to Wait() return immediately until Close() is called.
func (e *Gate) Open() {
	s := e.signal()
	if s.opened.CompareAndSwap(false, true) {
		close(s.done)
	}
}

// Close signals the gate (sets state to Close).
// Future calls to Wait() will block until the next Open().
func (e *Gate) Close() {
	var n *gateSignal
	for {
		s := e.signal()
		if !s.opened.Load() {
			// Already Close
			return
		}
		if n == nil {
			n = newGateSignal()
		}
		if e.sig.CompareAndSwap(s, n) {
			return
		}
	}
}

// Wait blocks until the gate is opened (Open).
// If the gate is already opened, it returns immediately.
//
// A waiter released by Open returns even if Close follows right after:
// the phase it waited on was opened.
func (e *Gate) Wait() {
	<-e.signal().done
}

// WaitContext is like Wait but gives up when ctx is done, returning
// ctx.Err(). An open gate wins over an expired context.
func (e *Gate) WaitContext(ctx context.Context) error {
	s := e.signal()
	select {
	case <-s.done:
		return nil
	default:
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsOpen returns true if the gate is currently opened.
func (e *Gate) IsOpen() bool {
	return e.signal().opened.Load()
}
