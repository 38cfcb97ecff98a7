// Package feed defines the market data source contract: a lazy sequence of
// batches, each holding every event that shares one timestamp.
package feed

import (
	"context"
	"iter"
	"sync/atomic"

	"github.com/rxtech-lab/argo-engine/internal/types"
	"github.com/rxtech-lab/argo-engine/pkg/errors"
)

// Feed yields batches in non-decreasing timestamp order. Backtest feeds
// replay the same batches on every call to Batches; live feeds may only be
// consumed once.
type Feed interface {
	Batches(ctx context.Context) iter.Seq2[types.Batch, error]
}

// Group turns an ordered event sequence into batches of events with an
// identical timestamp. Ordering is not checked here; the run loop rejects a
// batch that goes back in time.
func Group(events iter.Seq2[types.MarketEvent, error]) iter.Seq2[types.Batch, error] {
	return func(yield func(types.Batch, error) bool) {
		var pending []types.MarketEvent

		flush := func() bool {
			if len(pending) == 0 {
				return true
			}

			batch, err := types.NewBatch(pending...)
			pending = pending[:0]

			return yield(batch, err)
		}

		for event, err := range events {
			if err != nil {
				if flush() {
					yield(types.Batch{}, err)
				}

				return
			}

			if len(pending) > 0 && !pending[0].Time.Equal(event.Time) {
				if !flush() {
					return
				}
			}

			pending = append(pending, event)
		}

		flush()
	}
}

// SliceFeed replays a fixed list of events.
type SliceFeed struct {
	events []types.MarketEvent
}

func NewSliceFeed(events ...types.MarketEvent) *SliceFeed {
	copied := make([]types.MarketEvent, len(events))
	copy(copied, events)

	return &SliceFeed{events: copied}
}

func (f *SliceFeed) Batches(ctx context.Context) iter.Seq2[types.Batch, error] {
	return Group(func(yield func(types.MarketEvent, error) bool) {
		for _, event := range f.events {
			if err := ctx.Err(); err != nil {
				yield(types.MarketEvent{}, err)

				return
			}

			if !yield(event, nil) {
				return
			}
		}
	})
}

// ChannelFeed forwards batches produced elsewhere, typically by a live
// market data connection. It can be consumed once.
type ChannelFeed struct {
	batches  <-chan types.Batch
	consumed atomic.Bool
}

func NewChannelFeed(batches <-chan types.Batch) *ChannelFeed {
	return &ChannelFeed{batches: batches}
}

// Batches ends when the channel is closed or ctx is done.
func (f *ChannelFeed) Batches(ctx context.Context) iter.Seq2[types.Batch, error] {
	return func(yield func(types.Batch, error) bool) {
		if !f.consumed.CompareAndSwap(false, true) {
			yield(types.Batch{}, errors.New(errors.ErrCodeDataSourceUnavailable, "live feed can only be consumed once"))

			return
		}

		for {
			select {
			case <-ctx.Done():
				yield(types.Batch{}, ctx.Err())

				return
			case batch, ok := <-f.batches:
				if !ok {
					return
				}

				if !yield(batch, nil) {
					return
				}
			}
		}
	}
}
