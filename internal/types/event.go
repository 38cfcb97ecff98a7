package types

import (
	"time"

	"github.com/rxtech-lab/argo-engine/pkg/errors"
	"github.com/shopspring/decimal"
)

type EventKind string

const (
	EventKindQuote EventKind = "quote"
	EventKindTrade EventKind = "trade"
	EventKindBar   EventKind = "bar"
)

// PriceType selects one price field of a market event.
type PriceType string

const (
	PriceTypeDefault PriceType = "default"
	PriceTypeLast    PriceType = "last"
	PriceTypeMid     PriceType = "mid"
	PriceTypeBid     PriceType = "bid"
	PriceTypeAsk     PriceType = "ask"
	PriceTypeOpen    PriceType = "open"
	PriceTypeHigh    PriceType = "high"
	PriceTypeLow     PriceType = "low"
	PriceTypeClose   PriceType = "close"
)

// PriceReference selects the price a market order executes against.
type PriceReference string

const (
	// PriceReferenceLast uses the last traded price (trade price, bar close, quote mid).
	PriceReferenceLast PriceReference = "last"
	// PriceReferenceMid uses the quote mid point where available.
	PriceReferenceMid PriceReference = "mid"
	// PriceReferenceSide uses the ask for buys and the bid for sells where available.
	PriceReferenceSide PriceReference = "side"
)

var two = decimal.NewFromInt(2)

// MarketEvent is an immutable price update for one instrument at one timestamp.
// Which price fields are meaningful depends on Kind.
type MarketEvent struct {
	InstrumentID string    `json:"instrument_id"`
	Time         time.Time `json:"time"`
	Kind         EventKind `json:"kind"`

	// quote
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	BidVolume decimal.Decimal `json:"bid_volume"`
	AskVolume decimal.Decimal `json:"ask_volume"`

	// trade
	Price decimal.Decimal `json:"price"`

	// bar
	Open  decimal.Decimal `json:"open"`
	High  decimal.Decimal `json:"high"`
	Low   decimal.Decimal `json:"low"`
	Close decimal.Decimal `json:"close"`

	// trade and bar
	Volume decimal.Decimal `json:"volume"`
}

func NewQuote(instrumentID string, t time.Time, bid, ask, bidVolume, askVolume decimal.Decimal) MarketEvent {
	return MarketEvent{
		InstrumentID: instrumentID,
		Time:         t,
		Kind:         EventKindQuote,
		Bid:          bid,
		Ask:          ask,
		BidVolume:    bidVolume,
		AskVolume:    askVolume,
	}
}

func NewTrade(instrumentID string, t time.Time, price, volume decimal.Decimal) MarketEvent {
	return MarketEvent{
		InstrumentID: instrumentID,
		Time:         t,
		Kind:         EventKindTrade,
		Price:        price,
		Volume:       volume,
	}
}

func NewBar(instrumentID string, t time.Time, open, high, low, closePrice, volume decimal.Decimal) MarketEvent {
	return MarketEvent{
		InstrumentID: instrumentID,
		Time:         t,
		Kind:         EventKindBar,
		Open:         open,
		High:         high,
		Low:          low,
		Close:        closePrice,
		Volume:       volume,
	}
}

// Validate checks that the event carries consistent prices for its kind.
func (e MarketEvent) Validate() error {
	if e.InstrumentID == "" {
		return errors.New(errors.ErrCodeInvalidParameter, "market event without instrument id")
	}

	if e.Time.IsZero() {
		return errors.Newf(errors.ErrCodeInvalidParameter, "market event for %s without timestamp", e.InstrumentID)
	}

	switch e.Kind {
	case EventKindQuote:
		if !e.Bid.IsPositive() || !e.Ask.IsPositive() {
			return errors.Newf(errors.ErrCodeInvalidParameter, "quote for %s needs positive bid and ask", e.InstrumentID)
		}

		if e.Bid.GreaterThan(e.Ask) {
			return errors.Newf(errors.ErrCodeInvalidParameter, "quote for %s is crossed: bid %s > ask %s",
				e.InstrumentID, e.Bid, e.Ask)
		}
	case EventKindTrade:
		if !e.Price.IsPositive() {
			return errors.Newf(errors.ErrCodeInvalidParameter, "trade for %s needs a positive price", e.InstrumentID)
		}
	case EventKindBar:
		if !e.Low.IsPositive() || e.High.LessThan(e.Low) {
			return errors.Newf(errors.ErrCodeInvalidParameter, "bar for %s has an invalid range", e.InstrumentID)
		}

		if e.Open.LessThan(e.Low) || e.Open.GreaterThan(e.High) || e.Close.LessThan(e.Low) || e.Close.GreaterThan(e.High) {
			return errors.Newf(errors.ErrCodeInvalidParameter, "bar for %s has open/close outside high/low", e.InstrumentID)
		}
	default:
		return errors.Newf(errors.ErrCodeInvalidParameter, "unknown event kind %q", e.Kind)
	}

	if e.Volume.IsNegative() || e.BidVolume.IsNegative() || e.AskVolume.IsNegative() {
		return errors.Newf(errors.ErrCodeInvalidParameter, "event for %s has negative volume", e.InstrumentID)
	}

	return nil
}

// PriceOf returns the requested price field. Fields that do not exist for
// the event kind fall back to the kind's default price: mid for quotes, the
// traded price for trades and the close for bars.
func (e MarketEvent) PriceOf(priceType PriceType) decimal.Decimal {
	switch e.Kind {
	case EventKindQuote:
		switch priceType {
		case PriceTypeBid:
			return e.Bid
		case PriceTypeAsk:
			return e.Ask
		default:
			return e.Bid.Add(e.Ask).Div(two)
		}
	case EventKindBar:
		switch priceType {
		case PriceTypeOpen:
			return e.Open
		case PriceTypeHigh:
			return e.High
		case PriceTypeLow:
			return e.Low
		case PriceTypeMid:
			return e.High.Add(e.Low).Div(two)
		default:
			return e.Close
		}
	default:
		return e.Price
	}
}

// Reference returns the execution reference price for a market order.
func (e MarketEvent) Reference(side Side, ref PriceReference) decimal.Decimal {
	switch ref {
	case PriceReferenceSide:
		if e.Kind == EventKindQuote {
			if side == SideBuy {
				return e.Ask
			}

			return e.Bid
		}

		return e.PriceOf(PriceTypeLast)
	case PriceReferenceMid:
		return e.PriceOf(PriceTypeMid)
	default:
		return e.PriceOf(PriceTypeLast)
	}
}

// AtClose returns the event as seen by an order placed after it: a bar
// collapses to its close, other kinds are unchanged.
func (e MarketEvent) AtClose() MarketEvent {
	if e.Kind == EventKindBar {
		e.Open, e.High, e.Low = e.Close, e.Close, e.Close
	}

	return e
}

// Opening is the first price the given side could have traded at.
func (e MarketEvent) Opening(side Side) decimal.Decimal {
	switch e.Kind {
	case EventKindQuote:
		return e.sidePrice(side)
	case EventKindBar:
		return e.Open
	default:
		return e.Price
	}
}

// Lowest is the lowest price the given side could have traded at.
func (e MarketEvent) Lowest(side Side) decimal.Decimal {
	switch e.Kind {
	case EventKindQuote:
		return e.sidePrice(side)
	case EventKindBar:
		return e.Low
	default:
		return e.Price
	}
}

// Highest is the highest price the given side could have traded at.
func (e MarketEvent) Highest(side Side) decimal.Decimal {
	switch e.Kind {
	case EventKindQuote:
		return e.sidePrice(side)
	case EventKindBar:
		return e.High
	default:
		return e.Price
	}
}

// Liquidity is the volume available to the given side.
func (e MarketEvent) Liquidity(side Side) decimal.Decimal {
	if e.Kind == EventKindQuote {
		if side == SideBuy {
			return e.AskVolume
		}

		return e.BidVolume
	}

	return e.Volume
}

func (e MarketEvent) sidePrice(side Side) decimal.Decimal {
	if side == SideBuy {
		return e.Ask
	}

	return e.Bid
}

// Batch is every market event sharing one timestamp. A batch is processed atomically.
type Batch struct {
	Time   time.Time     `json:"time"`
	Events []MarketEvent `json:"events"`
}

// NewBatch builds a batch from events that must all carry the same timestamp.
func NewBatch(events ...MarketEvent) (Batch, error) {
	if len(events) == 0 {
		return Batch{}, errors.New(errors.ErrCodeInvalidBatch, "batch must contain at least one event")
	}

	t := events[0].Time
	for _, event := range events {
		if err := event.Validate(); err != nil {
			return Batch{}, errors.Wrap(errors.ErrCodeInvalidBatch, "invalid event in batch", err)
		}

		if !event.Time.Equal(t) {
			return Batch{}, errors.Newf(errors.ErrCodeInvalidBatch,
				"batch mixes timestamps %s and %s", t.Format(time.RFC3339Nano), event.Time.Format(time.RFC3339Nano))
		}
	}

	copied := make([]MarketEvent, len(events))
	copy(copied, events)

	return Batch{Time: t, Events: copied}, nil
}

// Event returns the latest event for the instrument in this batch.
func (b Batch) Event(instrumentID string) (MarketEvent, bool) {
	for i := len(b.Events) - 1; i >= 0; i-- {
		if b.Events[i].InstrumentID == instrumentID {
			return b.Events[i], true
		}
	}

	return MarketEvent{}, false //nolint:exhaustruct // not found
}

// Instruments returns the instruments present in the batch in first-seen order.
func (b Batch) Instruments() []string {
	seen := make(map[string]struct{}, len(b.Events))
	ids := make([]string, 0, len(b.Events))

	for _, event := range b.Events {
		if _, ok := seen[event.InstrumentID]; ok {
			continue
		}

		seen[event.InstrumentID] = struct{}{}
		ids = append(ids, event.InstrumentID)
	}

	return ids
}

// Clone returns a copy that shares no slice with b.
func (b Batch) Clone() Batch {
	events := make([]MarketEvent, len(b.Events))
	copy(events, b.Events)

	return Batch{Time: b.Time, Events: events}
}
