package rally

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gythreading/rally/internal/opt"
)

// Barrier is a reusable synchronization primitive that blocks callers until
// exactly threshold of them have arrived, then releases all of them together.
//
// Rounds are logical: the same Barrier cycles through generations forever.
// A round runs in three steps:
//   - Arrive: each caller increments the arrived count. The caller whose
//     increment reaches threshold is the opener and opens the gate.
//   - Release: everyone blocked on the gate wakes up.
//   - Drain: each released caller decrements the count. The caller that
//     brings it back to zero is the closer: it re-arms the gate and advances
//     the generation.
//
// While a round drains, callers of the next generation park on a second gate
// and are admitted only once the closer has advanced the generation, so they
// can neither be released by, nor counted in, the round being drained.
//
// A Barrier must be created with NewBarrier and must not be copied.
type Barrier struct {
	_ noCopy
	// state holds a token: draining flag, generation and arrived count.
	state atomic.Uint64
	_     [opt.CacheLineSize_ - 8]byte

	threshold uint32

	// gate releases the waiters of the current generation.
	gate Gate
	// drain is closed while a generation drains; the closer opens it.
	drain Gate
}

// NewBarrier creates a Barrier releasing callers in groups of threshold.
// It fails with ErrInvalidArgument if threshold is not positive.
func NewBarrier(threshold int) (*Barrier, error) {
	if threshold <= 0 || uint64(threshold) > maxThreshold {
		return nil, fmt.Errorf("%w: threshold %d must be in [1, %d]",
			ErrInvalidArgument, threshold, uint64(maxThreshold))
	}
	return &Barrier{threshold: uint32(threshold)}, nil
}

// MustBarrier is like NewBarrier but panics on an invalid threshold.
func MustBarrier(threshold int) *Barrier {
	b, err := NewBarrier(threshold)
	if err != nil {
		panic(err)
	}
	return b
}

// Threshold returns the number of callers released together.
func (b *Barrier) Threshold() int {
	return int(b.threshold)
}

// Arrived returns a snapshot of the callers counted in the current
// generation.
func (b *Barrier) Arrived() int {
	return int(token(b.state.Load()).arrived())
}

// Generation returns a snapshot of the current generation. It wraps after
// 1<<31 rounds.
func (b *Barrier) Generation() uint32 {
	return token(b.state.Load()).generation()
}

// Draining reports whether the current generation has been released and
// is still waiting for its callers to leave.
func (b *Barrier) Draining() bool {
	return token(b.state.Load()).draining()
}

// Await blocks until threshold callers, this one included, have called
// Await (or one of its variants) within the same generation.
//
// If fewer than threshold callers ever arrive, Await never returns.
func (b *Barrier) Await() {
	_ = b.AwaitContext(context.Background())
}

// AwaitTimeout is like Await but gives up after d. On expiry it returns an
// error matching ErrTimeout, and the caller's arrival is withdrawn so the
// remaining waiters still need threshold arrivals.
func (b *Barrier) AwaitTimeout(d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return b.AwaitContext(ctx)
}

// AwaitContext is like Await but gives up when ctx is done. A deadline
// yields an error matching both ErrTimeout and context.DeadlineExceeded;
// cancellation yields context.Canceled. If the release and ctx race, the
// release wins and AwaitContext returns nil.
func (b *Barrier) AwaitContext(ctx context.Context) error {
	_, err := b.AwaitGeneration(ctx)
	return err
}

// AwaitGeneration is like AwaitContext and also reports the generation the
// caller was released in.
func (b *Barrier) AwaitGeneration(ctx context.Context) (gen uint32, err error) {
	if err := ctx.Err(); err != nil {
		return 0, waitError(err)
	}
	gen, err = b.arrive(ctx)
	if err != nil {
		return 0, err
	}

	// Every exit past this point either withdraws the arrival or departs.
	var withdrawn, released bool
	defer func() {
		switch {
		case withdrawn:
		case released:
			b.depart(gen)
		default:
			b.leave(gen)
		}
	}()
	if err = b.wait(ctx, gen); err != nil {
		withdrawn = true
		return 0, err
	}
	released = true
	return gen, nil
}

// arrive counts the caller into the current generation and returns it.
func (b *Barrier) arrive(ctx context.Context) (uint32, error) {
	var spins int
	for {
		s := token(b.state.Load())
		if s.draining() {
			// The previous round has not drained yet.
			if err := b.drain.WaitContext(ctx); err != nil {
				return 0, waitError(err)
			}
			yield(&spins)
			continue
		}

		gen := s.generation()
		n := s.arrived() + 1
		if n < b.threshold {
			if b.state.CompareAndSwap(uint64(s), uint64(s+1)) {
				return gen, nil
			}
			continue
		}

		// We are the opener. Counting ourselves and starting the drain is
		// one CAS, so no one observes threshold arrivals with a shut gate.
		if b.state.CompareAndSwap(uint64(s), uint64(makeToken(gen, n, true))) {
			b.drain.Close()
			b.gate.Open()
			return gen, nil
		}
	}
}

// wait blocks until the gate opens for gen. If ctx ends first, the arrival
// is withdrawn and the context error is returned.
func (b *Barrier) wait(ctx context.Context, gen uint32) error {
	var spins int
	for !b.gate.IsOpen() && trySpin(&spins) {
	}

	for {
		err := b.gate.WaitContext(ctx)
		if err != nil {
			if b.withdraw(gen) {
				return waitError(err)
			}
			// The opener counted us before we could leave: we are
			// released, even if the gate is not visibly open yet.
			b.gate.Wait()
		}
		if b.releasedIn(gen) {
			return nil
		}
		// Woken outside our generation; block again.
		yield(&spins)
	}
}

// releasedIn reports whether the gate currently open belongs to gen.
func (b *Barrier) releasedIn(gen uint32) bool {
	s := token(b.state.Load())
	return s.draining() && s.generation() == gen
}

// withdraw takes back an arrival in gen that has not been released.
// It returns false if the generation was opened in the meantime.
func (b *Barrier) withdraw(gen uint32) bool {
	for {
		s := token(b.state.Load())
		if s.draining() || s.generation() != gen {
			return false
		}
		if b.state.CompareAndSwap(uint64(s), uint64(s-1)) {
			return true
		}
	}
}

// leave undoes an arrival in gen whose wait ended abnormally. If the opener
// counted it already, the caller drains with the round like any other.
func (b *Barrier) leave(gen uint32) {
	if b.withdraw(gen) {
		return
	}
	b.gate.Wait()
	b.depart(gen)
}

// depart counts a released caller out of gen. The last one out closes the
// gate, advances the generation and lets the next round in.
func (b *Barrier) depart(gen uint32) {
	for {
		s := token(b.state.Load())
		if !s.draining() || s.generation() != gen || s.arrived() == 0 {
			panic("rally: departure outside its generation")
		}
		if s.arrived() > 1 {
			if b.state.CompareAndSwap(uint64(s), uint64(s-1)) {
				return
			}
			continue
		}

		// We are the closer. The drain gate must open before the next
		// generation is published, or the next opener could close it
		// ahead of us and we would reopen it mid-drain.
		if b.state.CompareAndSwap(uint64(s), uint64(makeToken(gen, 0, true))) {
			b.gate.Close()
			b.drain.Open()
			b.state.Store(uint64(s.next()))
			return
		}
	}
}
