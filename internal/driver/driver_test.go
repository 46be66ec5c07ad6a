package driver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gythreading/rally"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRun_AllReleasedTogether(t *testing.T) {
	b := rally.MustBarrier(4)
	d := New(b, WithDelay(FixedDelays(
		100*time.Millisecond,
		150*time.Millisecond,
		200*time.Millisecond,
		250*time.Millisecond,
	)))

	for round := 1; round <= 2; round++ {
		rep, err := d.Run(context.Background())
		require.NoError(t, err)

		assert.Equal(t, round, rep.Round)
		assert.NotEqual(t, uuid.Nil, rep.ID)
		assert.Len(t, rep.Events, 3*4)

		rel := rep.Releases()
		require.Len(t, rel, 4)
		for _, e := range rel {
			assert.Equal(t, 4, e.Arrivals, "worker %d released early", e.Worker)
			assert.Equal(t, uint32(round-1), e.Generation)
		}
		assert.Less(t, rep.Spread(), 100*time.Millisecond)
		assert.GreaterOrEqual(t, rep.Duration(), 250*time.Millisecond)
	}
	assert.Equal(t, uint32(2), b.Generation())
}

func TestRun_EventOrderPerWorker(t *testing.T) {
	b := rally.MustBarrier(3)
	rep, err := New(b, WithDelay(RandomDelay(time.Millisecond, 20*time.Millisecond))).Run(context.Background())
	require.NoError(t, err)

	seen := map[WorkerID][]EventKind{}
	for _, e := range rep.Events {
		seen[e.Worker] = append(seen[e.Worker], e.Kind)
	}
	require.Len(t, seen, 3)
	for id, kinds := range seen {
		assert.Equal(t, []EventKind{Sleeping, Arrived, Released}, kinds, "worker %d", id)
	}
	for i := 1; i < len(rep.Events); i++ {
		assert.False(t, rep.Events[i].At.Before(rep.Events[i-1].At), "events out of order")
	}
}

func TestRun_OnDone(t *testing.T) {
	b := rally.MustBarrier(2)
	var mu sync.Mutex
	var got []Report
	d := New(b,
		WithDelay(NoDelay),
		OnDone(func(r Report) {
			mu.Lock()
			got = append(got, r)
			mu.Unlock()
		}),
		OnDone(nil),
	)

	reports, err := d.RunRounds(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, reports, 3)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 3)
	for i, r := range got {
		assert.Equal(t, reports[i].ID, r.ID)
		assert.Len(t, r.Releases(), 2)
	}
}

func TestRun_Timeout(t *testing.T) {
	b := rally.MustBarrier(2)
	// Worker 2 is still asleep when worker 1 gives up, and the round then
	// cancels its sleep.
	d := New(b,
		WithTimeout(30*time.Millisecond),
		WithDelay(DelayFunc(func(ctx context.Context, id WorkerID) (time.Duration, error) {
			if id == 2 {
				select {
				case <-ctx.Done():
					return 0, ctx.Err()
				case <-time.After(5 * time.Second):
				}
			}
			return 0, nil
		})),
	)

	rep, err := d.Run(context.Background())
	require.ErrorIs(t, err, rally.ErrTimeout)

	var timedOut []Event
	for _, e := range rep.Events {
		if e.Kind == TimedOut {
			timedOut = append(timedOut, e)
		}
	}
	require.Len(t, timedOut, 1)
	assert.Equal(t, WorkerID(1), timedOut[0].Worker)
	assert.ErrorIs(t, timedOut[0].Err, rally.ErrTimeout)
	assert.Equal(t, 0, timedOut[0].Arrivals, "withdrawn arrival still counted")
	assert.Empty(t, rep.Releases())
	assert.Equal(t, 0, b.Arrived(), "timed out worker must withdraw")
}

func TestRun_DelayErrorCancelsPeers(t *testing.T) {
	b := rally.MustBarrier(2)
	stuck := errors.New("stuck")
	d := New(b, WithDelay(DelayFunc(func(ctx context.Context, id WorkerID) (time.Duration, error) {
		if id == 2 {
			return 0, stuck
		}
		return 0, nil
	})))

	type result struct {
		rep Report
		err error
	}
	done := make(chan result, 1)
	go func() {
		rep, err := d.Run(context.Background())
		done <- result{rep, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return, arrived=%d", b.Arrived())
	}
	require.ErrorIs(t, res.err, stuck)
	assert.Equal(t, 0, b.Arrived())
	assert.Empty(t, res.rep.Releases())
	for _, e := range res.rep.Events {
		if e.Kind == TimedOut {
			assert.ErrorIs(t, e.Err, context.Canceled)
			assert.Equal(t, 0, e.Arrivals)
		}
	}
}

func TestRun_Canceled(t *testing.T) {
	b := rally.MustBarrier(3)
	ctx, cancel := context.WithCancel(context.Background())
	d := New(b, WithDelay(DelayFunc(func(ctx context.Context, id WorkerID) (time.Duration, error) {
		if id == 3 {
			cancel()
			<-ctx.Done()
			return 0, ctx.Err()
		}
		return 0, nil
	})))

	_, err := d.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, b.Arrived())
}

func TestRun_Logs(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	b := rally.MustBarrier(2)
	_, err := New(b, WithLogger(zap.New(core)), WithDelay(NoDelay)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, logs.FilterMessage("waits for threshold").Len())
	assert.Equal(t, 2, logs.FilterMessage("released").Len())
	done := logs.FilterMessage("all workers done").All()
	require.Len(t, done, 1)
	assert.Equal(t, int64(2), done[0].ContextMap()["released"])
}

func TestWithClock(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	tick := 0
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	rep, err := New(rally.MustBarrier(1), WithDelay(NoDelay), WithClock(clock)).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Started.Equal(base.Add(time.Second)))
	assert.Equal(t, 4*time.Second, rep.Duration())
}
