package driver

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// WorkerID is the opaque identity handed to each worker of a round.
// Workers are numbered from 1.
type WorkerID int

// EventKind is what happened to a worker.
type EventKind uint8

const (
	// Sleeping: the worker started its delay.
	Sleeping EventKind = iota
	// Arrived: the worker finished its delay and is about to wait.
	Arrived
	// Released: the barrier let the worker through.
	Released
	// TimedOut: the worker gave up waiting.
	TimedOut
)

func (k EventKind) String() string {
	switch k {
	case Sleeping:
		return "sleeping"
	case Arrived:
		return "arrived"
	case Released:
		return "released"
	case TimedOut:
		return "timed out"
	default:
		return "unknown"
	}
}

// Event is one traced step of a worker.
type Event struct {
	Worker WorkerID
	Kind   EventKind
	At     time.Time

	// Delay is the time spent in the delay source (Arrived only).
	Delay time.Duration
	// Generation the worker was released in (Released only).
	Generation uint32
	// Arrivals samples the round's arrival counter when the event was
	// recorded.
	Arrivals int
	// Err is the wait error (TimedOut only).
	Err error
}

// trace collects the events of one worker. Only that worker appends.
type trace struct {
	events []Event
}

// Report describes one completed round.
type Report struct {
	ID        uuid.UUID
	Round     int
	Threshold int
	Started   time.Time
	Finished  time.Time
	// Events of all workers, ordered by time.
	Events []Event
}

// Releases returns the Released events of the round.
func (r Report) Releases() []Event {
	var out []Event
	for _, e := range r.Events {
		if e.Kind == Released {
			out = append(out, e)
		}
	}
	return out
}

// Spread is the time between the first and the last release.
func (r Report) Spread() time.Duration {
	rel := r.Releases()
	if len(rel) == 0 {
		return 0
	}
	lo, hi := rel[0].At, rel[0].At
	for _, e := range rel[1:] {
		if e.At.Before(lo) {
			lo = e.At
		}
		if e.At.After(hi) {
			hi = e.At
		}
	}
	return hi.Sub(lo)
}

// Duration is the wall time of the round.
func (r Report) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

func sortEvents(events []Event) {
	slices.SortStableFunc(events, func(a, b Event) int {
		if c := a.At.Compare(b.At); c != 0 {
			return c
		}
		if a.Worker != b.Worker {
			return int(a.Worker) - int(b.Worker)
		}
		return int(a.Kind) - int(b.Kind)
	})
}
