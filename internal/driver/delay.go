package driver

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/gythreading/rally/internal/probe"
)

// Delayer holds a worker back before it arrives at the barrier. Delay
// blocks and returns the time it spent.
type Delayer interface {
	Delay(ctx context.Context, id WorkerID) (time.Duration, error)
}

// DelayFunc adapts a function to a Delayer.
type DelayFunc func(ctx context.Context, id WorkerID) (time.Duration, error)

func (f DelayFunc) Delay(ctx context.Context, id WorkerID) (time.Duration, error) {
	return f(ctx, id)
}

// NoDelay lets workers arrive right away.
var NoDelay Delayer = DelayFunc(func(context.Context, WorkerID) (time.Duration, error) {
	return 0, nil
})

// RandomDelay sleeps a uniformly random duration in [lo, hi].
func RandomDelay(lo, hi time.Duration) Delayer {
	if hi < lo {
		lo, hi = hi, lo
	}
	return DelayFunc(func(ctx context.Context, _ WorkerID) (time.Duration, error) {
		d := lo
		if hi > lo {
			d += rand.N(hi - lo + 1)
		}
		return d, sleep(ctx, d)
	})
}

// FixedDelays gives worker i the i-th duration, cycling when there are
// more workers than durations.
func FixedDelays(ds ...time.Duration) Delayer {
	return DelayFunc(func(ctx context.Context, id WorkerID) (time.Duration, error) {
		if len(ds) == 0 {
			return 0, nil
		}
		d := ds[(int(id)-1)%len(ds)]
		return d, sleep(ctx, d)
	})
}

// ProbeDelay holds each worker for one probe round trip to target. A failed
// probe still counts as a delay: the time spent trying.
func ProbeDelay(p *probe.Pinger, target string) Delayer {
	return DelayFunc(func(ctx context.Context, _ WorkerID) (time.Duration, error) {
		start := time.Now()
		select {
		case res := <-p.PingAsync(ctx, target):
			if res.Reply != nil {
				return res.Reply.RTT, nil
			}
			return time.Since(start), nil
		case <-ctx.Done():
			return time.Since(start), ctx.Err()
		}
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
