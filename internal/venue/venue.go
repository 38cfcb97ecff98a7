// Package venue defines how live orders reach a broker or exchange and how
// the venue reports back. Reports arrive asynchronously on Updates and are
// applied by the run loop through the same ledger path simulated fills take.
package venue

import (
	"context"
	"sync"
	"time"

	"github.com/rxtech-lab/argo-engine/internal/types"
)

type UpdateKind string

const (
	UpdateKindAck       UpdateKind = "ack"
	UpdateKindReject    UpdateKind = "reject"
	UpdateKindFill      UpdateKind = "fill"
	UpdateKindCancelled UpdateKind = "cancelled"
	UpdateKindExpired   UpdateKind = "expired"
)

// Update is one report from a venue about an order it was given.
type Update struct {
	Kind    UpdateKind   `json:"kind" yaml:"kind"`
	OrderID string       `json:"order_id" yaml:"order_id"`
	Time    time.Time    `json:"time" yaml:"time"`
	Fill    types.Fill   `json:"fill" yaml:"fill"`
	Reason  types.Reason `json:"reason" yaml:"reason"`
}

// Venue executes orders outside the process.
//
// Submit and Cancel only hand the request over; the outcome is reported on
// Updates. Run drives the connection until ctx is done and closes Updates
// when it returns.
type Venue interface {
	Submit(ctx context.Context, order types.Order) error
	Cancel(ctx context.Context, orderID string) error
	Updates() <-chan Update
	Run(ctx context.Context) error
}

// MarketAware venues want every committed batch, typically to simulate
// executions against it.
type MarketAware interface {
	OnBatch(batch types.Batch)
}

// outbox buffers updates without bound and pumps them into a channel, so a
// venue never blocks the caller of Submit and never drops a report.
type outbox struct {
	mu      sync.Mutex
	pending []Update
	notify  chan struct{}
	out     chan Update
}

func newOutbox() *outbox {
	return &outbox{
		pending: nil,
		notify:  make(chan struct{}, 1),
		out:     make(chan Update),
	}
}

func (o *outbox) push(updates ...Update) {
	if len(updates) == 0 {
		return
	}

	o.mu.Lock()
	o.pending = append(o.pending, updates...)
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
}

func (o *outbox) take() []Update {
	o.mu.Lock()
	defer o.mu.Unlock()

	taken := o.pending
	o.pending = nil

	return taken
}

// pump delivers buffered updates in order until ctx is done, then closes out.
func (o *outbox) pump(ctx context.Context) error {
	defer close(o.out)

	for {
		for _, update := range o.take() {
			select {
			case o.out <- update:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		select {
		case <-o.notify:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
