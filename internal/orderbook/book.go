// Package orderbook tracks the working orders of one run and enforces the
// order state machine.
package orderbook

import (
	"sort"
	"time"

	"github.com/rxtech-lab/argo-engine/internal/types"
	"github.com/rxtech-lab/argo-engine/pkg/errors"
	"github.com/shopspring/decimal"
)

// Book holds non-terminal orders keyed by id. Orders leave the book as soon
// as they reach a terminal status.
type Book struct {
	orders map[string]types.Order
}

// New creates an empty book.
func New() *Book {
	return &Book{orders: make(map[string]types.Order)}
}

// Add inserts a NEW order.
func (b *Book) Add(order types.Order) error {
	if order.ID == "" {
		return errors.New(errors.ErrCodeInvalidOrder, "order without id")
	}

	if _, exists := b.orders[order.ID]; exists {
		return errors.Newf(errors.ErrCodeDuplicateOrder, "order %s already exists", order.ID)
	}

	if order.Status != types.OrderStatusNew {
		return errors.Newf(errors.ErrCodeInvalidStatusTransition, "order %s must be NEW to enter the book, got %s",
			order.ID, order.Status)
	}

	b.orders[order.ID] = order

	return nil
}

// Get returns the working order with the given id.
func (b *Book) Get(id string) (types.Order, bool) {
	order, ok := b.orders[id]

	return order, ok
}

// Open accepts a NEW order into the given session.
func (b *Book) Open(id string, session string, at time.Time) (types.Order, types.OrderUpdate, error) {
	order, ok := b.orders[id]
	if !ok {
		return types.Order{}, types.OrderUpdate{}, errors.Newf(errors.ErrCodeOrderNotFound, "order %s not found", id)
	}

	order.Session = session
	b.orders[id] = order

	return b.Transition(id, types.OrderStatusOpen, order.Reason, at)
}

// Transition moves an order to status. Terminal orders are removed from the book.
func (b *Book) Transition(id string, status types.OrderStatus, reason types.Reason, at time.Time) (types.Order, types.OrderUpdate, error) {
	order, ok := b.orders[id]
	if !ok {
		return types.Order{}, types.OrderUpdate{}, errors.Newf(errors.ErrCodeOrderNotFound, "order %s not found", id)
	}

	if !order.Status.CanTransitionTo(status) {
		return order, types.OrderUpdate{}, errors.Newf(errors.ErrCodeInvalidStatusTransition,
			"order %s cannot move from %s to %s", id, order.Status, status)
	}

	update := types.OrderUpdate{
		OrderID:      id,
		InstrumentID: order.InstrumentID,
		Time:         at,
		From:         order.Status,
		Status:       status,
		Reason:       reason,
	}

	order.Status = status
	order.Reason = reason

	if status.IsTerminal() {
		delete(b.orders, id)
	} else {
		b.orders[id] = order
	}

	return order, update, nil
}

// RecordFill adds a fill to a working order and moves it to PARTIALLY_FILLED or FILLED.
func (b *Book) RecordFill(id string, size, price decimal.Decimal, at time.Time) (types.Order, types.OrderUpdate, error) {
	order, ok := b.orders[id]
	if !ok {
		return types.Order{}, types.OrderUpdate{}, errors.Newf(errors.ErrCodeOrderNotFound, "order %s not found", id)
	}

	if !order.Status.IsWorking() {
		return order, types.OrderUpdate{}, errors.Newf(errors.ErrCodeInvalidStatusTransition,
			"order %s is %s and cannot fill", id, order.Status)
	}

	if !size.IsPositive() || size.GreaterThan(order.Remaining()) {
		return order, types.OrderUpdate{}, errors.Newf(errors.ErrCodeInvalidOrder,
			"fill of %s exceeds remaining %s of order %s", size, order.Remaining(), id)
	}

	filled := order.FilledSize.Add(size)
	order.AvgFillPrice = order.AvgFillPrice.Mul(order.FilledSize).Add(price.Mul(size)).Div(filled)
	order.FilledSize = filled
	b.orders[id] = order

	status := types.OrderStatusPartiallyFilled
	if order.Remaining().IsZero() {
		status = types.OrderStatusFilled
	}

	return b.Transition(id, status, order.Reason, at)
}

// MarkTriggered records that a stop order has been armed.
func (b *Book) MarkTriggered(id string) error {
	order, ok := b.orders[id]
	if !ok {
		return errors.Newf(errors.ErrCodeOrderNotFound, "order %s not found", id)
	}

	order.Triggered = true
	b.orders[id] = order

	return nil
}

// Cancel cancels a working order.
func (b *Book) Cancel(id string, reason types.Reason, at time.Time) (types.Order, types.OrderUpdate, error) {
	order, ok := b.orders[id]
	if !ok {
		return types.Order{}, types.OrderUpdate{}, errors.Newf(errors.ErrCodeOrderNotFound, "order %s not found", id)
	}

	if !order.Status.IsWorking() {
		return order, types.OrderUpdate{}, errors.Newf(errors.ErrCodeOrderNotCancellable,
			"order %s is %s and cannot be cancelled", id, order.Status)
	}

	return b.Transition(id, types.OrderStatusCancelled, reason, at)
}

// Working returns every order in submission order.
func (b *Book) Working() []types.Order {
	return b.collect(func(types.Order) bool { return true })
}

// ForInstrument returns the orders for one instrument in submission order.
func (b *Book) ForInstrument(instrumentID string) []types.Order {
	return b.collect(func(order types.Order) bool { return order.InstrumentID == instrumentID })
}

// Len returns the number of orders in the book.
func (b *Book) Len() int {
	return len(b.orders)
}

// Clone returns an independent copy.
func (b *Book) Clone() *Book {
	orders := make(map[string]types.Order, len(b.orders))
	for id, order := range b.orders {
		orders[id] = order
	}

	return &Book{orders: orders}
}

func (b *Book) collect(keep func(types.Order) bool) []types.Order {
	orders := make([]types.Order, 0, len(b.orders))
	for _, order := range b.orders {
		if keep(order) {
			orders = append(orders, order)
		}
	}

	sort.Slice(orders, func(i, j int) bool {
		if orders[i].Seq != orders[j].Seq {
			return orders[i].Seq < orders[j].Seq
		}

		return orders[i].ID < orders[j].ID
	})

	return orders
}
