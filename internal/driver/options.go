package driver

import (
	"time"

	"go.uber.org/zap"
)

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.log = l
		}
	}
}

// WithDelay sets the delay source of the workers. The default is
// RandomDelay(config.MinWorkerDelay, config.MaxWorkerDelay).
func WithDelay(dl Delayer) Option {
	return func(d *Driver) {
		if dl != nil {
			d.delay = dl
		}
	}
}

// WithTimeout bounds each worker's wait at the barrier. Zero waits
// without a deadline.
func WithTimeout(t time.Duration) Option {
	return func(d *Driver) {
		d.timeout = max(t, 0)
	}
}

// WithClock replaces time.Now for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) {
		if now != nil {
			d.now = now
		}
	}
}

// OnDone registers fn to run once every worker of a round has returned.
func OnDone(fn func(Report)) Option {
	return func(d *Driver) {
		if fn != nil {
			d.onDone = append(d.onDone, fn)
		}
	}
}
