// Package driver runs rounds of workers against a rally.Barrier and traces
// what each worker saw.
//
// A round spawns exactly Threshold workers. Each worker gets an explicit
// WorkerID, is held back by the Delayer, then waits at the barrier. Once
// every worker has returned, the round's Report is handed to the OnDone
// callbacks.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gythreading/rally"
	"github.com/gythreading/rally/internal/config"
	"github.com/llxisdsh/pb"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Driver runs rounds against one Barrier.
type Driver struct {
	b       *rally.Barrier
	log     *zap.Logger
	delay   Delayer
	timeout time.Duration
	now     func() time.Time
	onDone  []func(Report)

	rounds atomic.Int64
}

// New returns a Driver for b.
func New(b *rally.Barrier, opts ...Option) *Driver {
	d := &Driver{
		b:     b,
		log:   zap.NewNop(),
		delay: RandomDelay(config.MinWorkerDelay, config.MaxWorkerDelay),
		now:   time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Barrier returns the barrier the driver runs against.
func (d *Driver) Barrier() *rally.Barrier {
	return d.b
}

// Run runs one round and returns its report. A worker that times out or
// whose delay fails cancels the rest of the round, so waiting peers withdraw
// instead of parking forever; the first error is returned alongside the
// complete report.
//
// Run must not be called concurrently on one Driver: a round needs all
// Threshold arrivals to itself.
func (d *Driver) Run(ctx context.Context) (Report, error) {
	rep := Report{
		ID:        uuid.New(),
		Round:     int(d.rounds.Add(1)),
		Threshold: d.b.Threshold(),
		Started:   d.now(),
	}
	log := d.log.With(
		zap.Stringer("round_id", rep.ID),
		zap.Int("round", rep.Round),
	)
	log.Debug("round starting",
		zap.Int("threshold", rep.Threshold),
		zap.Uint32("generation", d.b.Generation()))

	var (
		traces   pb.MapOf[WorkerID, *trace]
		arrivals atomic.Int64
	)
	g, gctx := errgroup.WithContext(ctx)
	for i := 1; i <= rep.Threshold; i++ {
		id := WorkerID(i)
		tr := &trace{}
		traces.Store(id, tr)
		g.Go(func() error {
			return d.work(gctx, log.With(zap.Int("worker", int(id))), id, tr, &arrivals)
		})
	}
	err := g.Wait()

	rep.Finished = d.now()
	traces.Range(func(_ WorkerID, tr *trace) bool {
		rep.Events = append(rep.Events, tr.events...)
		return true
	})
	sortEvents(rep.Events)

	if err != nil {
		log.Warn("round finished with errors", zap.Error(err))
	}
	log.Info("all workers done",
		zap.Duration("elapsed", rep.Duration()),
		zap.Duration("spread", rep.Spread()),
		zap.Int("released", len(rep.Releases())))

	for _, fn := range d.onDone {
		fn(rep)
	}
	return rep, err
}

// RunRounds runs n rounds one after the other on the same barrier. It
// stops at the first failed round and returns the reports gathered so far.
func (d *Driver) RunRounds(ctx context.Context, n int) ([]Report, error) {
	reports := make([]Report, 0, n)
	for range n {
		rep, err := d.Run(ctx)
		reports = append(reports, rep)
		if err != nil {
			return reports, fmt.Errorf("round %d: %w", rep.Round, err)
		}
	}
	return reports, nil
}

func (d *Driver) work(
	ctx context.Context,
	log *zap.Logger,
	id WorkerID,
	tr *trace,
	arrivals *atomic.Int64,
) error {
	record := func(e Event) {
		e.Worker = id
		e.At = d.now()
		tr.events = append(tr.events, e)
	}

	record(Event{Kind: Sleeping, Arrivals: int(arrivals.Load())})
	log.Debug("sleeps")
	slept, err := d.delay.Delay(ctx, id)
	if err != nil {
		return fmt.Errorf("worker %d: delay: %w", id, err)
	}

	n := int(arrivals.Add(1))
	record(Event{Kind: Arrived, Delay: slept, Arrivals: n})
	log.Info("waits for threshold", zap.Duration("slept", slept), zap.Int("arrivals", n))

	wctx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	gen, err := d.b.AwaitGeneration(wctx)
	if err != nil {
		// The barrier took the arrival back.
		record(Event{Kind: TimedOut, Arrivals: int(arrivals.Add(-1)), Err: err})
		if errors.Is(err, rally.ErrTimeout) {
			log.Warn("gave up waiting", zap.Duration("timeout", d.timeout))
		}
		return fmt.Errorf("worker %d: %w", id, err)
	}

	n = int(arrivals.Load())
	record(Event{Kind: Released, Generation: gen, Arrivals: n})
	log.Info("released", zap.Uint32("generation", gen), zap.Int("arrivals", n))
	return nil
}
