// Package execution resolves orders against market batches: it accepts or
// rejects new orders, applies cancellations, evaluates fills, charges fees,
// enforces risk limits and expires orders by time in force.
//
// The engine is stateless. Every call works on a clone of the given State
// and returns the new state in Result, so a failed call leaves the caller's
// state untouched.
package execution

import (
	"context"
	"slices"
	"time"

	"github.com/rxtech-lab/argo-engine/internal/execution/commission_fee"
	"github.com/rxtech-lab/argo-engine/internal/execution/slippage"
	"github.com/rxtech-lab/argo-engine/internal/ledger"
	"github.com/rxtech-lab/argo-engine/internal/logger"
	"github.com/rxtech-lab/argo-engine/internal/orderbook"
	"github.com/rxtech-lab/argo-engine/internal/types"
	"github.com/rxtech-lab/argo-engine/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// State is the mutable part of a run the engine works on.
type State struct {
	Ledger *ledger.Ledger
	Book   *orderbook.Book
	// Last holds the latest event seen per instrument.
	Last map[string]types.MarketEvent
}

// Clone returns a state that shares nothing mutable with s.
func (s State) Clone() State {
	last := make(map[string]types.MarketEvent, len(s.Last))
	for id, event := range s.Last {
		last[id] = event
	}

	return State{Ledger: s.Ledger.Clone(), Book: s.Book.Clone(), Last: last}
}

// Result is the outcome of one engine call.
type Result struct {
	State   State
	Fills   []types.Fill
	Updates []types.OrderUpdate
}

type Engine struct {
	reference types.PriceReference
	fee       commission_fee.CommissionFee
	slippage  slippage.Model
	liquidity LiquidityModel
	calendar  *SessionCalendar
	risk      RiskConfig
	registry  *types.InstrumentRegistry
	log       *logger.Logger
}

// New builds an engine and resolves every capability model in cfg.
func New(cfg Config, registry *types.InstrumentRegistry, log *logger.Logger) (*Engine, error) {
	if registry == nil {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "instrument registry is required")
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	reference := cfg.PriceReference
	switch reference {
	case "":
		reference = types.PriceReferenceLast
	case types.PriceReferenceLast, types.PriceReferenceMid, types.PriceReferenceSide:
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "unknown price reference %q", reference)
	}

	fee, err := commission_fee.New(cfg.Fee)
	if err != nil {
		return nil, err
	}

	slip, err := slippage.New(cfg.Slippage)
	if err != nil {
		return nil, err
	}

	liquidity, err := NewLiquidityModel(cfg.Liquidity)
	if err != nil {
		return nil, err
	}

	calendar, err := NewSessionCalendar(cfg.Session.Timezone, cfg.Session.Close)
	if err != nil {
		return nil, err
	}

	if cfg.Risk.ShortMargin.IsNegative() {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "short margin must not be negative")
	}

	return &Engine{
		reference: reference,
		fee:       fee,
		slippage:  slip,
		liquidity: liquidity,
		calendar:  calendar,
		risk:      cfg.Risk,
		registry:  registry,
		log:       log.Named("execution"),
	}, nil
}

// Resolve processes one batch:
//  1. expire DAY and GTD orders whose time has passed
//  2. accept or reject newOrders in submission order
//  3. apply cancellations, so a cancelled order cannot fill in this batch
//  4. evaluate fills for every instrument in the batch, oldest order first
//  5. cancel what is left of IOC orders
func (e *Engine) Resolve(
	ctx context.Context,
	batch types.Batch,
	state State,
	newOrders []types.Order,
	cancels []types.Cancellation,
) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	r := e.begin(state, batch.Time)
	for _, event := range batch.Events {
		r.state.Last[event.InstrumentID] = event
	}

	if err := r.expire(); err != nil {
		return Result{}, err
	}

	if err := r.acceptAll(newOrders); err != nil {
		return Result{}, err
	}

	if err := r.cancelAll(cancels); err != nil {
		return Result{}, err
	}

	for _, instrumentID := range batch.Instruments() {
		event, _ := batch.Event(instrumentID)
		if err := r.match(instrumentID, event); err != nil {
			return Result{}, err
		}
	}

	if err := r.cancelImmediate(); err != nil {
		return Result{}, err
	}

	return r.result(), nil
}

// Accept validates new orders and opens them without matching. Live mode
// uses it before handing orders to a venue.
func (e *Engine) Accept(ctx context.Context, state State, orders []types.Order, at time.Time) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	r := e.begin(state, at)
	if err := r.acceptAll(orders); err != nil {
		return Result{}, err
	}

	return r.result(), nil
}

// Expire applies time-in-force expiry at the given time.
func (e *Engine) Expire(ctx context.Context, state State, at time.Time) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	r := e.begin(state, at)
	if err := r.expire(); err != nil {
		return Result{}, err
	}

	return r.result(), nil
}

// ApplyExternalFill books a fill reported by a venue through the same path
// simulated fills take.
func (e *Engine) ApplyExternalFill(ctx context.Context, state State, fill types.Fill) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if _, ok := state.Book.Get(fill.OrderID); !ok {
		return Result{}, errors.Newf(errors.ErrCodeOrderNotFound, "venue filled unknown order %s", fill.OrderID)
	}

	r := e.begin(state, fill.Time)
	if err := r.applyFill(fill); err != nil {
		return Result{}, err
	}

	return r.result(), nil
}

// Close moves a working order to a terminal status reported from outside
// the engine, such as a venue reject.
func (e *Engine) Close(
	ctx context.Context,
	state State,
	orderID string,
	status types.OrderStatus,
	reason types.Reason,
	at time.Time,
) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	r := e.begin(state, at)
	if err := r.close(orderID, status, reason); err != nil {
		return Result{}, err
	}

	return r.result(), nil
}

// Finish expires every working order. A backtest calls it once the data is
// exhausted so no order is left dangling.
func (e *Engine) Finish(ctx context.Context, state State, at time.Time) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	r := e.begin(state, at)
	for _, order := range r.state.Book.Working() {
		err := r.close(order.ID, types.OrderStatusExpired, types.Reason{
			Reason:  types.OrderReasonEndOfData,
			Message: "no more market data",
		})
		if err != nil {
			return Result{}, err
		}
	}

	return r.result(), nil
}

// resolution accumulates the effects of one engine call on a cloned state.
type resolution struct {
	engine  *Engine
	state   State
	at      time.Time
	fills   []types.Fill
	updates []types.OrderUpdate
	// fresh holds orders accepted in this call. They were decided after
	// seeing the batch, so only its closing price is tradable for them.
	fresh map[string]struct{}
}

func (e *Engine) begin(state State, at time.Time) *resolution {
	cloned := state.Clone()
	cloned.Ledger.SetTime(at)

	return &resolution{engine: e, state: cloned, at: at, fills: nil, updates: nil, fresh: make(map[string]struct{})}
}

func (r *resolution) result() Result {
	return Result{State: r.state, Fills: r.fills, Updates: r.updates}
}

func (r *resolution) expire() error {
	for _, order := range r.state.Book.Working() {
		reason, expired := r.engine.expiry(order, r.at)
		if !expired {
			continue
		}

		if err := r.close(order.ID, types.OrderStatusExpired, reason); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) expiry(order types.Order, at time.Time) (types.Reason, bool) {
	switch order.TimeInForce {
	case types.TimeInForceDay:
		if session := e.calendar.Key(at); session != order.Session {
			return types.Reason{
				Reason:  types.OrderReasonSessionEnded,
				Message: "session " + order.Session + " ended",
			}, true
		}
	case types.TimeInForceGTD:
		if order.ExpireAt.IsSome() && at.After(order.ExpireAt.Unwrap()) {
			return types.Reason{
				Reason:  types.OrderReasonExpireAtReached,
				Message: "expired at " + order.ExpireAt.Unwrap().Format(time.RFC3339),
			}, true
		}
	case types.TimeInForceGTC, types.TimeInForceIOC:
	}

	return types.Reason{}, false
}

func (r *resolution) acceptAll(orders []types.Order) error {
	sorted := slices.Clone(orders)
	slices.SortStableFunc(sorted, func(a, b types.Order) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		default:
			return 0
		}
	})

	for _, order := range sorted {
		if err := r.accept(order); err != nil {
			return err
		}
	}

	return nil
}

func (r *resolution) accept(order types.Order) error {
	if err := r.state.Book.Add(order); err != nil {
		return err
	}

	if err := r.state.Ledger.OpenOrder(order); err != nil {
		return err
	}

	if reason, rejected := r.engine.validate(order, r.state.Last); rejected {
		r.engine.log.Info("Order rejected",
			zap.String("order_id", order.ID),
			zap.String("instrument_id", order.InstrumentID),
			zap.String("reason", reason.Reason),
			zap.String("message", reason.Message),
		)

		return r.close(order.ID, types.OrderStatusRejected, reason)
	}

	opened, update, err := r.state.Book.Open(order.ID, r.engine.calendar.Key(r.at), r.at)
	if err != nil {
		return err
	}

	if err := r.state.Ledger.OpenOrder(opened); err != nil {
		return err
	}

	r.fresh[opened.ID] = struct{}{}
	r.updates = append(r.updates, update)

	return nil
}

// validate applies the order-level checks that reject an order on arrival.
func (e *Engine) validate(order types.Order, last map[string]types.MarketEvent) (types.Reason, bool) {
	request := types.OrderRequest{
		InstrumentID: order.InstrumentID,
		Side:         order.Side,
		Type:         order.Type,
		Size:         order.Size,
		LimitPrice:   order.LimitPrice,
		StopPrice:    order.StopPrice,
		TimeInForce:  order.TimeInForce,
		ExpireAt:     order.ExpireAt,
		Tag:          order.Tag,
	}
	if err := request.Validate(); err != nil {
		return types.Reason{Reason: types.OrderReasonInvalidOrder, Message: err.Error()}, true
	}

	instrument := e.registry.Get(order.InstrumentID)
	if instrument.IsNone() {
		return types.Reason{
			Reason:  types.OrderReasonUnknownInstrument,
			Message: "instrument " + order.InstrumentID + " is not registered",
		}, true
	}

	if _, seen := last[order.InstrumentID]; !seen {
		return types.Reason{
			Reason:  types.OrderReasonUnknownPriceReference,
			Message: "no market data seen for " + order.InstrumentID,
		}, true
	}

	if !instrument.Unwrap().IsLotMultiple(order.Size) {
		return types.Reason{
			Reason:  types.OrderReasonInvalidLotSize,
			Message: "size " + order.Size.String() + " is not a multiple of lot " + instrument.Unwrap().LotSize.String(),
		}, true
	}

	return types.Reason{}, false
}

func (r *resolution) cancelAll(cancels []types.Cancellation) error {
	reason := types.Reason{
		Reason:  types.OrderReasonCancelRequested,
		Message: "cancelled by strategy",
	}

	for _, cancel := range cancels {
		_, update, err := r.state.Book.Cancel(cancel.OrderID, reason, r.at)
		if errors.HasCode(err, errors.ErrCodeOrderNotFound) || errors.HasCode(err, errors.ErrCodeOrderNotCancellable) {
			r.engine.log.Warn("Cancellation ignored, order is not working",
				zap.String("order_id", cancel.OrderID),
				zap.Error(err),
			)

			continue
		}

		if err != nil {
			return err
		}

		if err := r.state.Ledger.CloseOrder(cancel.OrderID, types.OrderStatusCancelled, reason); err != nil {
			return err
		}

		r.updates = append(r.updates, update)
	}

	return nil
}

// close moves an order to a terminal status in both the book and the ledger.
func (r *resolution) close(orderID string, status types.OrderStatus, reason types.Reason) error {
	_, update, err := r.state.Book.Transition(orderID, status, reason, r.at)
	if err != nil {
		return err
	}

	if err := r.state.Ledger.CloseOrder(orderID, status, reason); err != nil {
		return err
	}

	r.updates = append(r.updates, update)

	return nil
}

func (r *resolution) match(instrumentID string, event types.MarketEvent) error {
	instrument := r.engine.registry.Get(instrumentID)
	if instrument.IsNone() {
		// events for unregistered instruments only feed prices
		return nil
	}

	pool := newAllocator(r.engine.liquidity, event, instrument.Unwrap())

	for _, order := range r.state.Book.ForInstrument(instrumentID) {
		if err := r.evaluate(order, event, instrument.Unwrap(), pool); err != nil {
			return err
		}
	}

	return nil
}

func (r *resolution) evaluate(order types.Order, event types.MarketEvent, instrument types.Instrument, pool *allocator) error {
	if _, ok := r.fresh[order.ID]; ok {
		event = event.AtClose()
	}

	triggeredNow := false

	if order.IsStop() && !order.Triggered {
		if !stopTriggered(order, event) {
			return nil
		}

		if err := r.state.Book.MarkTriggered(order.ID); err != nil {
			return err
		}

		order.Triggered = true
		triggeredNow = true

		if err := r.state.Ledger.OpenOrder(order); err != nil {
			return err
		}
	}

	price, crossed := r.engine.fillPrice(order, event, instrument, triggeredNow)
	if !crossed {
		return nil
	}

	size := order.Remaining()
	if isPriced(order) {
		size = instrument.FloorToLot(pool.limit(order.Side, size))
		if !size.IsPositive() {
			return nil
		}
	}

	check := riskCheck{
		config:     r.engine.risk,
		fee:        r.engine.fee,
		instrument: instrument,
		position:   r.state.Ledger.Position(order.InstrumentID),
		cash:       r.state.Ledger.Cash(instrument.Currency),
		side:       order.Side,
		price:      price,
	}

	allowed, violation := check.allowed(size)
	if !allowed.IsPositive() {
		return r.refuse(order, violation)
	}

	fill := types.Fill{
		OrderID:      order.ID,
		InstrumentID: order.InstrumentID,
		Time:         r.at,
		Side:         order.Side,
		Size:         allowed,
		Price:        price,
		Fee:          r.engine.fee.Calculate(allowed, price),
		RealizedPnL:  decimal.Zero,
	}
	if err := r.applyFill(fill); err != nil {
		return err
	}

	pool.consume(order.Side, allowed)

	if violation == "" {
		return nil
	}

	// partial fill to limit: the remainder cannot pass the same check
	return r.close(order.ID, types.OrderStatusCancelled, types.Reason{
		Reason:  violation,
		Message: "remainder cancelled after partial fill to risk limit",
	})
}

// refuse ends an order that failed a risk check. A partially filled order
// can no longer be rejected, so it is cancelled instead.
func (r *resolution) refuse(order types.Order, violation string) error {
	status := types.OrderStatusRejected
	if order.Status == types.OrderStatusPartiallyFilled {
		status = types.OrderStatusCancelled
	}

	r.engine.log.Info("Fill blocked by risk check",
		zap.String("order_id", order.ID),
		zap.String("instrument_id", order.InstrumentID),
		zap.String("reason", violation),
		zap.String("status", string(status)),
	)

	return r.close(order.ID, status, types.Reason{Reason: violation, Message: riskMessage(violation)})
}

func riskMessage(violation string) string {
	switch violation {
	case types.OrderReasonInsufficientFunds:
		return "not enough cash to cover the fill"
	case types.OrderReasonPositionLimitExceeded:
		return "fill would exceed the position limit"
	case types.OrderReasonShortingNotAllowed:
		return "fill would open a short position"
	default:
		return violation
	}
}

// applyFill records a fill on the order and books it in the ledger.
func (r *resolution) applyFill(fill types.Fill) error {
	order, update, err := r.state.Book.RecordFill(fill.OrderID, fill.Size, fill.Price, fill.Time)
	if err != nil {
		return err
	}

	booked, err := r.state.Ledger.ApplyFill(fill)
	if err != nil {
		return err
	}

	if order.Status.IsTerminal() {
		err = r.state.Ledger.CloseOrder(order.ID, order.Status, order.Reason)
	} else {
		err = r.state.Ledger.OpenOrder(order)
	}

	if err != nil {
		return err
	}

	r.fills = append(r.fills, booked)
	r.updates = append(r.updates, update)

	return nil
}

func (r *resolution) cancelImmediate() error {
	for _, order := range r.state.Book.Working() {
		if order.TimeInForce != types.TimeInForceIOC {
			continue
		}

		err := r.close(order.ID, types.OrderStatusCancelled, types.Reason{
			Reason:  types.OrderReasonImmediateOrCancel,
			Message: "unfilled remainder of immediate-or-cancel order",
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func stopTriggered(order types.Order, event types.MarketEvent) bool {
	stop := order.StopPrice.Unwrap()
	if order.Side == types.SideBuy {
		return event.Highest(types.SideBuy).GreaterThanOrEqual(stop)
	}

	return event.Lowest(types.SideSell).LessThanOrEqual(stop)
}

// isPriced reports whether the order fills against a limit price.
func isPriced(order types.Order) bool {
	return order.Type == types.OrderTypeLimit || order.Type == types.OrderTypeStopLimit
}

// fillPrice returns the execution price of order against event, and false
// when the order does not execute in this event. A stop limit triggered by
// this event cannot trade at prices seen before the stop was reached.
func (e *Engine) fillPrice(
	order types.Order,
	event types.MarketEvent,
	instrument types.Instrument,
	triggeredNow bool,
) (decimal.Decimal, bool) {
	if !isPriced(order) {
		reference := event.Reference(order.Side, e.reference)
		price := e.slippage.Apply(order.Side, reference, instrument)

		return price, price.IsPositive()
	}

	limit := order.LimitPrice.Unwrap()

	if order.Side == types.SideBuy {
		if event.Lowest(types.SideBuy).GreaterThan(limit) {
			return decimal.Zero, false
		}

		opening := event.Opening(types.SideBuy)
		if triggeredNow {
			opening = decimal.Max(opening, order.StopPrice.Unwrap())
		}

		return decimal.Min(limit, opening), true
	}

	if event.Highest(types.SideSell).LessThan(limit) {
		return decimal.Zero, false
	}

	opening := event.Opening(types.SideSell)
	if triggeredNow {
		opening = decimal.Min(opening, order.StopPrice.Unwrap())
	}

	return decimal.Max(limit, opening), true
}
