// Package clock provides the logical run clock and a wall clock abstraction
// used for live-mode timeouts.
package clock

import (
	"time"

	"github.com/rxtech-lab/argo-engine/pkg/errors"
)

// Clock is the logical time of a run. It only moves forward, and each
// distinct timestamp may be processed once.
type Clock struct {
	now     time.Time
	started bool
}

// New returns a clock that has not processed any batch yet.
func New() *Clock {
	return &Clock{
		now:     time.Time{},
		started: false,
	}
}

// Now returns the timestamp of the last processed batch.
func (c *Clock) Now() time.Time {
	return c.now
}

// Started reports whether at least one batch has been processed.
func (c *Clock) Started() bool {
	return c.started
}

// Check verifies that ts may be processed next without advancing the clock.
func (c *Clock) Check(ts time.Time) error {
	if !c.started {
		return nil
	}

	if ts.Before(c.now) {
		return errors.Newf(errors.ErrCodeOrderingViolation,
			"event timestamp %s is earlier than last processed %s",
			ts.Format(time.RFC3339Nano), c.now.Format(time.RFC3339Nano))
	}

	if ts.Equal(c.now) {
		return errors.Newf(errors.ErrCodeOrderingViolation,
			"timestamp %s was already processed as a batch", ts.Format(time.RFC3339Nano))
	}

	return nil
}

// Advance moves the clock to ts.
func (c *Clock) Advance(ts time.Time) error {
	if err := c.Check(ts); err != nil {
		return err
	}

	c.now = ts
	c.started = true

	return nil
}

// WallClock is real time, abstracted so timeouts can be driven in tests.
type WallClock interface {
	After(d time.Duration) <-chan time.Time
	Now() time.Time
}

type RealClock struct{}

func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (RealClock) Now() time.Time                         { return time.Now() }
