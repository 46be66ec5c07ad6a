package driver

import (
	"context"
	"testing"
	"time"

	"github.com/gythreading/rally/internal/probe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedDelays(t *testing.T) {
	dl := FixedDelays(time.Millisecond, 2*time.Millisecond)
	for id, want := range map[WorkerID]time.Duration{
		1: time.Millisecond,
		2: 2 * time.Millisecond,
		3: time.Millisecond,
	} {
		got, err := dl.Delay(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, want, got, "worker %d", id)
	}

	got, err := FixedDelays().Delay(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestRandomDelay(t *testing.T) {
	lo, hi := time.Millisecond, 5*time.Millisecond
	for _, dl := range []Delayer{RandomDelay(lo, hi), RandomDelay(hi, lo)} {
		for range 20 {
			start := time.Now()
			got, err := dl.Delay(context.Background(), 1)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, got, lo)
			assert.LessOrEqual(t, got, hi)
			assert.GreaterOrEqual(t, time.Since(start), got)
		}
	}

	got, err := RandomDelay(lo, lo).Delay(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, lo, got)
}

func TestDelay_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := RandomDelay(time.Hour, time.Hour).Delay(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestProbeDelay_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	got, _ := ProbeDelay(probe.New(), "localhost").Delay(ctx, 1)
	assert.GreaterOrEqual(t, got, time.Duration(0))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestEventKind_String(t *testing.T) {
	assert.Equal(t, "sleeping", Sleeping.String())
	assert.Equal(t, "arrived", Arrived.String())
	assert.Equal(t, "released", Released.String())
	assert.Equal(t, "timed out", TimedOut.String())
	assert.Equal(t, "unknown", EventKind(99).String())
}

func TestReport_Spread(t *testing.T) {
	base := time.Now()
	r := Report{Events: []Event{
		{Kind: Arrived, At: base},
		{Kind: Released, At: base.Add(3 * time.Millisecond)},
		{Kind: Released, At: base.Add(time.Millisecond)},
		{Kind: Released, At: base.Add(2 * time.Millisecond)},
	}}
	assert.Len(t, r.Releases(), 3)
	assert.Equal(t, 2*time.Millisecond, r.Spread())
	assert.Zero(t, Report{}.Spread())
}
