package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-engine/pkg/errors"
	"github.com/shopspring/decimal"
)

type Side string

type OrderType string

type OrderStatus string

type TimeInForce string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStop      OrderType = "STOP"
	OrderTypeStopLimit OrderType = "STOP_LIMIT"
)

const (
	// TimeInForceDay orders expire at the first session boundary after submission.
	TimeInForceDay TimeInForce = "DAY"
	// TimeInForceGTC orders persist until filled or cancelled.
	TimeInForceGTC TimeInForce = "GTC"
	// TimeInForceIOC orders fill what they can in the batch they arrive in; the rest is cancelled.
	TimeInForceIOC TimeInForce = "IOC"
	// TimeInForceGTD orders expire at the first batch after ExpireAt.
	TimeInForceGTD TimeInForce = "GTD"
)

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusOpen            OrderStatus = "OPEN"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

const (
	OrderReasonStrategy              string = "strategy"
	OrderReasonCancelRequested       string = "cancel_requested"
	OrderReasonInvalidOrder          string = "invalid_order"
	OrderReasonUnknownInstrument     string = "unknown_instrument"
	OrderReasonUnknownPriceReference string = "unknown_price_reference"
	OrderReasonInvalidLotSize        string = "invalid_lot_size"
	OrderReasonInsufficientFunds     string = "insufficient_funds"
	OrderReasonPositionLimitExceeded string = "position_limit_exceeded"
	OrderReasonShortingNotAllowed    string = "shorting_not_allowed"
	OrderReasonSessionEnded          string = "session_ended"
	OrderReasonExpireAtReached       string = "expire_at_reached"
	OrderReasonImmediateOrCancel     string = "immediate_or_cancel"
	OrderReasonEndOfData             string = "end_of_data"
	OrderReasonVenueRejected         string = "venue_rejected"
	OrderReasonVenueError            string = "venue_error"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusNew: {OrderStatusOpen, OrderStatusRejected},
	OrderStatusOpen: {
		OrderStatusPartiallyFilled, OrderStatusFilled, OrderStatusCancelled,
		OrderStatusExpired, OrderStatusRejected,
	},
	OrderStatusPartiallyFilled: {
		OrderStatusPartiallyFilled, OrderStatusFilled, OrderStatusCancelled, OrderStatusExpired,
	},
}

// Sign returns +1 for buys and -1 for sells.
func (s Side) Sign() decimal.Decimal {
	if s == SideBuy {
		return decimal.NewFromInt(1)
	}

	return decimal.NewFromInt(-1)
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}

	return SideBuy
}

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusExpired, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// IsWorking reports whether the order can still fill or be cancelled.
func (s OrderStatus) IsWorking() bool {
	return s == OrderStatusOpen || s == OrderStatusPartiallyFilled
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

type Reason struct {
	Reason  string `yaml:"reason" json:"reason"`
	Message string `yaml:"message" json:"message"`
}

// OrderRequest is what decision logic emits. The engine turns accepted
// requests into Orders.
type OrderRequest struct {
	InstrumentID string                            `yaml:"instrument_id" json:"instrument_id" validate:"required"`
	Side         Side                              `yaml:"side" json:"side" validate:"required,oneof=BUY SELL"`
	Type         OrderType                         `yaml:"type" json:"type" validate:"required,oneof=MARKET LIMIT STOP STOP_LIMIT"`
	Size         decimal.Decimal                   `yaml:"size" json:"size"`
	LimitPrice   optional.Option[decimal.Decimal] `yaml:"limit_price" json:"limit_price"`
	StopPrice    optional.Option[decimal.Decimal] `yaml:"stop_price" json:"stop_price"`
	TimeInForce  TimeInForce                       `yaml:"time_in_force" json:"time_in_force" validate:"omitempty,oneof=DAY GTC IOC GTD"`
	ExpireAt     optional.Option[time.Time]        `yaml:"expire_at" json:"expire_at"`
	// Tag is free-form text carried through to fills and journals.
	Tag string `yaml:"tag" json:"tag" validate:"max=64"`
}

// Cancellation asks the engine to cancel a working order.
type Cancellation struct {
	OrderID string `yaml:"order_id" json:"order_id" validate:"required"`
}

// Validate checks the request shape. Instrument-specific checks (lot size,
// known prices) happen in the execution engine.
func (r OrderRequest) Validate() error {
	if err := validator.New().Struct(r); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidOrder, "invalid order request", err)
	}

	if !r.Size.IsPositive() {
		return errors.Newf(errors.ErrCodeInvalidOrder, "order size must be positive, got %s", r.Size)
	}

	needsLimit := r.Type == OrderTypeLimit || r.Type == OrderTypeStopLimit
	if needsLimit {
		if r.LimitPrice.IsNone() || !r.LimitPrice.Unwrap().IsPositive() {
			return errors.Newf(errors.ErrCodeInvalidOrder, "%s order needs a positive limit price", r.Type)
		}
	} else if r.LimitPrice.IsSome() {
		return errors.Newf(errors.ErrCodeInvalidOrder, "%s order must not carry a limit price", r.Type)
	}

	needsStop := r.Type == OrderTypeStop || r.Type == OrderTypeStopLimit
	if needsStop {
		if r.StopPrice.IsNone() || !r.StopPrice.Unwrap().IsPositive() {
			return errors.Newf(errors.ErrCodeInvalidOrder, "%s order needs a positive stop price", r.Type)
		}
	} else if r.StopPrice.IsSome() {
		return errors.Newf(errors.ErrCodeInvalidOrder, "%s order must not carry a stop price", r.Type)
	}

	if r.TimeInForce == TimeInForceGTD && r.ExpireAt.IsNone() {
		return errors.New(errors.ErrCodeInvalidOrder, "GTD order needs an expire_at time")
	}

	return nil
}

type Order struct {
	ID           string                            `yaml:"id" json:"id"`
	Seq          uint64                            `yaml:"seq" json:"seq"`
	InstrumentID string                            `yaml:"instrument_id" json:"instrument_id"`
	Side         Side                              `yaml:"side" json:"side"`
	Type         OrderType                         `yaml:"type" json:"type"`
	Size         decimal.Decimal                   `yaml:"size" json:"size"`
	LimitPrice   optional.Option[decimal.Decimal] `yaml:"limit_price" json:"limit_price"`
	StopPrice    optional.Option[decimal.Decimal] `yaml:"stop_price" json:"stop_price"`
	TimeInForce  TimeInForce                       `yaml:"time_in_force" json:"time_in_force"`
	ExpireAt     optional.Option[time.Time]        `yaml:"expire_at" json:"expire_at"`
	Status       OrderStatus                       `yaml:"status" json:"status"`
	FilledSize   decimal.Decimal                   `yaml:"filled_size" json:"filled_size"`
	AvgFillPrice decimal.Decimal                   `yaml:"avg_fill_price" json:"avg_fill_price"`
	// Triggered is set once a stop or stop-limit order has been armed by a price cross.
	Triggered   bool      `yaml:"triggered" json:"triggered"`
	SubmittedAt time.Time `yaml:"submitted_at" json:"submitted_at"`
	// Session is the trading session the order was accepted in; DAY orders expire when it ends.
	Session string `yaml:"session" json:"session"`
	Reason  Reason `yaml:"reason" json:"reason"`
	Tag     string `yaml:"tag" json:"tag"`
}

// NewOrderFromRequest creates an order in status NEW.
func NewOrderFromRequest(id string, seq uint64, req OrderRequest, submittedAt time.Time) Order {
	tif := req.TimeInForce
	if tif == "" {
		tif = TimeInForceGTC
	}

	return Order{
		ID:           id,
		Seq:          seq,
		InstrumentID: req.InstrumentID,
		Side:         req.Side,
		Type:         req.Type,
		Size:         req.Size,
		LimitPrice:   req.LimitPrice,
		StopPrice:    req.StopPrice,
		TimeInForce:  tif,
		ExpireAt:     req.ExpireAt,
		Status:       OrderStatusNew,
		FilledSize:   decimal.Zero,
		AvgFillPrice: decimal.Zero,
		Triggered:    false,
		SubmittedAt:  submittedAt,
		Session:      "",
		Reason:       Reason{Reason: OrderReasonStrategy, Message: ""},
		Tag:          req.Tag,
	}
}

// Remaining is the size that has not been filled yet.
func (o Order) Remaining() decimal.Decimal {
	return o.Size.Sub(o.FilledSize)
}

// IsStop reports whether the order waits for a stop trigger.
func (o Order) IsStop() bool {
	return o.Type == OrderTypeStop || o.Type == OrderTypeStopLimit
}

// OrderUpdate records one status transition of an order.
type OrderUpdate struct {
	OrderID      string      `yaml:"order_id" json:"order_id"`
	InstrumentID string      `yaml:"instrument_id" json:"instrument_id"`
	Time         time.Time   `yaml:"time" json:"time"`
	From         OrderStatus `yaml:"from" json:"from"`
	Status       OrderStatus `yaml:"status" json:"status"`
	Reason       Reason      `yaml:"reason" json:"reason"`
}
