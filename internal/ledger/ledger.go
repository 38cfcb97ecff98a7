// Package ledger owns the account state of a run: cash per currency,
// positions, the open-order view and the append-only history of fills and
// closed orders. Mutation happens only through ApplyFill, OpenOrder and
// CloseOrder so simulated and live fills share the same invariants.
package ledger

import (
	"time"

	"github.com/rxtech-lab/argo-engine/internal/logger"
	"github.com/rxtech-lab/argo-engine/internal/types"
	"github.com/rxtech-lab/argo-engine/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Ledger struct {
	baseCurrency string
	registry     *types.InstrumentRegistry

	initial      types.Wallet
	cash         types.Wallet
	positions    map[string]types.Position
	openOrders   map[string]types.Order
	closedOrders []types.Order
	fills        []types.Fill

	grossRealized decimal.Decimal
	fees          decimal.Decimal
	time          time.Time

	log *logger.Logger
}

// New creates a ledger funded with the initial wallet.
func New(baseCurrency string, initial types.Wallet, registry *types.InstrumentRegistry, log *logger.Logger) *Ledger {
	if log == nil {
		log = logger.NewNopLogger()
	}

	if initial == nil {
		initial = make(types.Wallet)
	}

	return &Ledger{
		baseCurrency:  baseCurrency,
		registry:      registry,
		initial:       initial.Clone(),
		cash:          initial.Clone(),
		positions:     make(map[string]types.Position),
		openOrders:    make(map[string]types.Order),
		closedOrders:  nil,
		fills:         nil,
		grossRealized: decimal.Zero,
		fees:          decimal.Zero,
		time:          time.Time{},
		log:           log,
	}
}

// ApplyFill books a fill: cash moves by -(signed notional) - fee, the
// position is updated with weighted-average cost on increase and realizes
// P&L on decrease or flip, and the fill is appended to history.
// The returned fill carries the realized P&L. Nothing is mutated on error.
func (l *Ledger) ApplyFill(fill types.Fill) (types.Fill, error) {
	if err := fill.Validate(); err != nil {
		return fill, err
	}

	instrument := l.registry.Get(fill.InstrumentID)
	if instrument.IsNone() {
		return fill, errors.Newf(errors.ErrCodeUnknownInstrument, "fill for unknown instrument %s", fill.InstrumentID)
	}

	currency := instrument.Unwrap().Currency

	position, realized := applyToPosition(l.Position(fill.InstrumentID), fill)
	fill.RealizedPnL = realized

	l.cash.Add(currency, fill.CashDelta())

	if position.IsFlat() {
		delete(l.positions, fill.InstrumentID)
	} else {
		l.positions[fill.InstrumentID] = position
	}

	l.grossRealized = l.grossRealized.Add(realized)
	l.fees = l.fees.Add(fill.Fee)
	l.fills = append(l.fills, fill)

	if fill.Time.After(l.time) {
		l.time = fill.Time
	}

	l.log.Debug("Fill applied",
		zap.String("order_id", fill.OrderID),
		zap.String("instrument_id", fill.InstrumentID),
		zap.String("side", string(fill.Side)),
		zap.Stringer("size", fill.Size),
		zap.Stringer("price", fill.Price),
		zap.Stringer("fee", fill.Fee),
		zap.Stringer("realized_pnl", realized),
		zap.Stringer("position", position.Size),
	)

	return fill, nil
}

// applyToPosition returns the new position and the realized price P&L.
func applyToPosition(position types.Position, fill types.Fill) (types.Position, decimal.Decimal) {
	signed := fill.SignedSize()
	newSize := position.Size.Add(signed)

	if position.IsFlat() || position.Size.Sign() == signed.Sign() {
		cost := position.Size.Abs().Mul(position.AvgPrice).Add(fill.Size.Mul(fill.Price))

		return types.Position{
			InstrumentID: fill.InstrumentID,
			Size:         newSize,
			AvgPrice:     cost.Div(newSize.Abs()),
		}, decimal.Zero
	}

	closing := decimal.Min(position.Size.Abs(), fill.Size)
	direction := decimal.NewFromInt(int64(position.Size.Sign()))
	realized := closing.Mul(fill.Price.Sub(position.AvgPrice)).Mul(direction)

	switch {
	case newSize.IsZero():
		return types.Position{InstrumentID: fill.InstrumentID, Size: decimal.Zero, AvgPrice: decimal.Zero}, realized
	case newSize.Sign() == position.Size.Sign():
		return types.Position{InstrumentID: fill.InstrumentID, Size: newSize, AvgPrice: position.AvgPrice}, realized
	default:
		// flipped: the remainder opens at the fill price
		return types.Position{InstrumentID: fill.InstrumentID, Size: newSize, AvgPrice: fill.Price}, realized
	}
}

// OpenOrder registers or refreshes a non-terminal order in the open-order view.
func (l *Ledger) OpenOrder(order types.Order) error {
	if order.ID == "" {
		return errors.New(errors.ErrCodeInvalidOrder, "order without id")
	}

	if order.Status.IsTerminal() {
		return errors.Newf(errors.ErrCodeInvalidStatusTransition,
			"order %s is %s and cannot be opened", order.ID, order.Status)
	}

	if existing, ok := l.openOrders[order.ID]; ok {
		if existing.Status != order.Status && !existing.Status.CanTransitionTo(order.Status) {
			return errors.Newf(errors.ErrCodeInvalidStatusTransition,
				"order %s cannot move from %s to %s", order.ID, existing.Status, order.Status)
		}
	}

	l.openOrders[order.ID] = order

	return nil
}

// CloseOrder moves an open order into history with a terminal status.
func (l *Ledger) CloseOrder(orderID string, status types.OrderStatus, reason types.Reason) error {
	order, ok := l.openOrders[orderID]
	if !ok {
		return errors.Newf(errors.ErrCodeOrderNotFound, "order %s is not open", orderID)
	}

	if !status.IsTerminal() || !order.Status.CanTransitionTo(status) {
		return errors.Newf(errors.ErrCodeInvalidStatusTransition,
			"order %s cannot close from %s to %s", orderID, order.Status, status)
	}

	order.Status = status
	order.Reason = reason

	delete(l.openOrders, orderID)
	l.closedOrders = append(l.closedOrders, order)

	return nil
}

// Snapshot returns a read-only copy of the account.
func (l *Ledger) Snapshot() types.AccountSnapshot {
	positions := make(map[string]types.Position, len(l.positions))
	for id, position := range l.positions {
		positions[id] = position
	}

	orders := make(map[string]types.Order, len(l.openOrders))
	for id, order := range l.openOrders {
		orders[id] = order
	}

	return types.AccountSnapshot{
		Time:             l.time,
		BaseCurrency:     l.baseCurrency,
		Cash:             l.cash.Clone(),
		Positions:        positions,
		OpenOrders:       orders,
		RealizedPnL:      l.grossRealized.Sub(l.fees),
		GrossRealizedPnL: l.grossRealized,
		TotalFees:        l.fees,
		FillCount:        len(l.fills),
	}
}

// Clone returns an independent ledger. History slices are shared up to
// their current length and never written in place, so appends on either
// side do not leak into the other.
func (l *Ledger) Clone() *Ledger {
	positions := make(map[string]types.Position, len(l.positions))
	for id, position := range l.positions {
		positions[id] = position
	}

	orders := make(map[string]types.Order, len(l.openOrders))
	for id, order := range l.openOrders {
		orders[id] = order
	}

	return &Ledger{
		baseCurrency:  l.baseCurrency,
		registry:      l.registry,
		initial:       l.initial,
		cash:          l.cash.Clone(),
		positions:     positions,
		openOrders:    orders,
		closedOrders:  l.closedOrders[:len(l.closedOrders):len(l.closedOrders)],
		fills:         l.fills[:len(l.fills):len(l.fills)],
		grossRealized: l.grossRealized,
		fees:          l.fees,
		time:          l.time,
		log:           l.log,
	}
}

// Verify recomputes cash and positions from the fill history and reports
// ErrCodeLedgerCorrupted when they disagree with the running state.
func (l *Ledger) Verify() error {
	cash := l.initial.Clone()
	sizes := make(map[string]decimal.Decimal)

	for _, fill := range l.fills {
		instrument := l.registry.Get(fill.InstrumentID)
		if instrument.IsNone() {
			return errors.Newf(errors.ErrCodeLedgerCorrupted, "fill %s references unknown instrument %s",
				fill.OrderID, fill.InstrumentID)
		}

		cash.Add(instrument.Unwrap().Currency, fill.CashDelta())
		sizes[fill.InstrumentID] = sizes[fill.InstrumentID].Add(fill.SignedSize())
	}

	for currency := range mergeKeys(cash, l.cash) {
		if !cash.Get(currency).Equal(l.cash.Get(currency)) {
			return errors.Newf(errors.ErrCodeLedgerCorrupted, "cash in %s is %s but fills imply %s",
				currency, l.cash.Get(currency), cash.Get(currency))
		}
	}

	for id, size := range sizes {
		if !size.Equal(l.Position(id).Size) {
			return errors.Newf(errors.ErrCodeLedgerCorrupted, "position %s is %s but fills imply %s",
				id, l.Position(id).Size, size)
		}
	}

	for id, position := range l.positions {
		if _, ok := sizes[id]; !ok && !position.IsFlat() {
			return errors.Newf(errors.ErrCodeLedgerCorrupted, "position %s has no fills", id)
		}
	}

	return nil
}

// SetTime moves the snapshot time forward. Earlier times are ignored.
func (l *Ledger) SetTime(at time.Time) {
	if at.After(l.time) {
		l.time = at
	}
}

// Position returns the current position, flat when none is held.
func (l *Ledger) Position(instrumentID string) types.Position {
	position, ok := l.positions[instrumentID]
	if !ok {
		return types.Position{InstrumentID: instrumentID, Size: decimal.Zero, AvgPrice: decimal.Zero}
	}

	return position
}

// Cash returns the balance held in currency.
func (l *Ledger) Cash(currency string) decimal.Decimal {
	return l.cash.Get(currency)
}

// Order returns an open order by id.
func (l *Ledger) Order(orderID string) (types.Order, bool) {
	order, ok := l.openOrders[orderID]

	return order, ok
}

// Fills returns a copy of the fill history.
func (l *Ledger) Fills() []types.Fill {
	fills := make([]types.Fill, len(l.fills))
	copy(fills, l.fills)

	return fills
}

// ClosedOrders returns a copy of the closed order history.
func (l *Ledger) ClosedOrders() []types.Order {
	orders := make([]types.Order, len(l.closedOrders))
	copy(orders, l.closedOrders)

	return orders
}

// BaseCurrency is the currency equity is reported in.
func (l *Ledger) BaseCurrency() string {
	return l.baseCurrency
}

func mergeKeys(wallets ...types.Wallet) map[string]struct{} {
	keys := make(map[string]struct{})
	for _, wallet := range wallets {
		for currency := range wallet {
			keys[currency] = struct{}{}
		}
	}

	return keys
}
