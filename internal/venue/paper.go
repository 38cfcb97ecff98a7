package venue

import (
	"context"
	"slices"
	"sync"

	"github.com/rxtech-lab/argo-engine/internal/execution/commission_fee"
	"github.com/rxtech-lab/argo-engine/internal/logger"
	"github.com/rxtech-lab/argo-engine/internal/types"
	"github.com/rxtech-lab/argo-engine/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaperVenue simulates a broker in process. Market orders fill in full at
// the last traded price of the latest batch. Limit orders fill at their
// limit once the last price crosses it. Stop orders are not supported.
type PaperVenue struct {
	mu      sync.Mutex
	fee     commission_fee.CommissionFee
	last    map[string]types.MarketEvent
	resting []types.Order
	box     *outbox
	logger  *logger.Logger
}

func NewPaperVenue(fee commission_fee.CommissionFee, log *logger.Logger) *PaperVenue {
	if fee == nil {
		fee = commission_fee.NewZeroCommissionFee()
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &PaperVenue{
		mu:      sync.Mutex{},
		fee:     fee,
		last:    make(map[string]types.MarketEvent),
		resting: nil,
		box:     newOutbox(),
		logger:  log.Named("paper_venue"),
	}
}

func (p *PaperVenue) Submit(_ context.Context, order types.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if slices.ContainsFunc(p.resting, func(o types.Order) bool { return o.ID == order.ID }) {
		return errors.Newf(errors.ErrCodeDuplicateOrder, "order %s already submitted", order.ID)
	}

	if order.IsStop() {
		p.box.push(Update{
			Kind:    UpdateKindReject,
			OrderID: order.ID,
			Time:    order.SubmittedAt,
			Fill:    types.Fill{},
			Reason:  types.Reason{Reason: types.OrderReasonVenueRejected, Message: "paper venue does not support stop orders"},
		})

		return nil
	}

	p.box.push(Update{Kind: UpdateKindAck, OrderID: order.ID, Time: order.SubmittedAt, Fill: types.Fill{}, Reason: types.Reason{}})

	event, ok := p.last[order.InstrumentID]
	if ok && p.tryFill(order, event) {
		return nil
	}

	p.resting = append(p.resting, order)

	return nil
}

func (p *PaperVenue) Cancel(_ context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	index := slices.IndexFunc(p.resting, func(o types.Order) bool { return o.ID == orderID })
	if index < 0 {
		return errors.Newf(errors.ErrCodeOrderNotFound, "order %s is not resting at the paper venue", orderID)
	}

	order := p.resting[index]
	p.resting = slices.Delete(p.resting, index, index+1)

	at := order.SubmittedAt
	if event, ok := p.last[order.InstrumentID]; ok {
		at = event.Time
	}

	p.box.push(Update{
		Kind:    UpdateKindCancelled,
		OrderID: orderID,
		Time:    at,
		Fill:    types.Fill{},
		Reason:  types.Reason{Reason: types.OrderReasonCancelRequested, Message: ""},
	})

	return nil
}

// OnBatch records the latest prices and fills resting orders they cross.
func (p *PaperVenue) OnBatch(batch types.Batch) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, event := range batch.Events {
		p.last[event.InstrumentID] = event
	}

	p.resting = slices.DeleteFunc(p.resting, func(order types.Order) bool {
		event, ok := batch.Event(order.InstrumentID)

		return ok && p.tryFill(order, event)
	})
}

func (p *PaperVenue) tryFill(order types.Order, event types.MarketEvent) bool {
	price := event.Reference(order.Side, types.PriceReferenceLast)

	// limits trade against the side the order takes: the ask for buys and
	// the bid for sells, at the limit or better
	if order.LimitPrice.IsSome() {
		limit := order.LimitPrice.Unwrap()
		side := event.Reference(order.Side, types.PriceReferenceSide)

		if order.Side == types.SideBuy {
			if side.GreaterThan(limit) {
				return false
			}

			price = decimal.Min(limit, side)
		} else {
			if side.LessThan(limit) {
				return false
			}

			price = decimal.Max(limit, side)
		}
	}

	size := order.Remaining()
	fill := types.Fill{
		OrderID:      order.ID,
		InstrumentID: order.InstrumentID,
		Time:         event.Time,
		Side:         order.Side,
		Size:         size,
		Price:        price,
		Fee:          p.fee.Calculate(size, price),
		RealizedPnL:  decimal.Zero,
	}

	p.logger.Debug("Paper fill",
		zap.String("order_id", order.ID),
		zap.Stringer("size", size),
		zap.Stringer("price", price),
	)

	p.box.push(Update{Kind: UpdateKindFill, OrderID: order.ID, Time: event.Time, Fill: fill, Reason: types.Reason{}})

	return true
}

func (p *PaperVenue) Updates() <-chan Update {
	return p.box.out
}

func (p *PaperVenue) Run(ctx context.Context) error {
	return p.box.pump(ctx)
}

var (
	_ Venue       = (*PaperVenue)(nil)
	_ MarketAware = (*PaperVenue)(nil)
)
