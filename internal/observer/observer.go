// Package observer receives what a run did after every committed batch.
// Observers only read: nothing they do can change the account or the book.
package observer

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/rxtech-lab/argo-engine/internal/types"
	"github.com/rxtech-lab/argo-engine/pkg/errors"
	"github.com/shopspring/decimal"
)

// Report describes one committed step.
type Report struct {
	RunID   string                `json:"run_id" yaml:"run_id"`
	Step    int                   `json:"step" yaml:"step"`
	Time    time.Time             `json:"time" yaml:"time"`
	Fills   []types.Fill          `json:"fills" yaml:"fills"`
	Updates []types.OrderUpdate   `json:"updates" yaml:"updates"`
	Account types.AccountSnapshot `json:"account" yaml:"account"`
	// Prices are the latest default prices per instrument.
	Prices map[string]decimal.Decimal `json:"prices" yaml:"prices"`
	// Equity is in the account base currency.
	Equity decimal.Decimal `json:"equity" yaml:"equity"`
}

type Observer interface {
	Observe(ctx context.Context, report Report) error
}

type ObserverFunc func(ctx context.Context, report Report) error

func (f ObserverFunc) Observe(ctx context.Context, report Report) error {
	return f(ctx, report)
}

type multi []Observer

// Multi fans a report out to every observer, in order. All observers are
// called even when one fails.
func Multi(observers ...Observer) Observer {
	return multi(observers)
}

func (m multi) Observe(ctx context.Context, report Report) error {
	var errs []error

	for _, observer := range m {
		if observer == nil {
			continue
		}

		if err := observer.Observe(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) == 0 {
		return nil
	}

	return errors.Wrap(errors.ErrCodeCallbackFailed, "observer failed", stderrors.Join(errs...))
}

// Callbacks are optional hooks into the run lifecycle. Nil fields are skipped.
type Callbacks struct {
	OnRunStart func(runID string, at time.Time)
	// OnRunStop receives the final committed account and the error that ended the run, if any.
	OnRunStop func(final types.AccountSnapshot, err error)
	// OnFeedStalled is called each time nothing arrived within the stall timeout.
	OnFeedStalled func(consecutive int, timeout time.Duration)
	// OnEventDropped receives the running total of discarded market batches.
	OnEventDropped  func(total int64)
	OnStrategyError func(step int, err error)
}

func (c Callbacks) RunStart(runID string, at time.Time) {
	if c.OnRunStart != nil {
		c.OnRunStart(runID, at)
	}
}

func (c Callbacks) RunStop(final types.AccountSnapshot, err error) {
	if c.OnRunStop != nil {
		c.OnRunStop(final, err)
	}
}

func (c Callbacks) FeedStalled(consecutive int, timeout time.Duration) {
	if c.OnFeedStalled != nil {
		c.OnFeedStalled(consecutive, timeout)
	}
}

func (c Callbacks) EventDropped(total int64) {
	if c.OnEventDropped != nil {
		c.OnEventDropped(total)
	}
}

func (c Callbacks) StrategyError(step int, err error) {
	if c.OnStrategyError != nil {
		c.OnStrategyError(step, err)
	}
}
