package rally

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned by NewBarrier for a threshold that
	// is not positive or does not fit the arrival counter.
	ErrInvalidArgument = errors.New("rally: invalid argument")

	// ErrTimeout is returned to a caller whose deadline expired before
	// the barrier opened. Only that caller is affected.
	ErrTimeout = errors.New("rally: timeout")
)

// waitError maps a context error to the barrier's taxonomy. Deadline
// expiry matches both ErrTimeout and context.DeadlineExceeded.
func waitError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
