package decision

import (
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-engine/internal/logger"
	"github.com/rxtech-lab/argo-engine/internal/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FlexConfig holds the rules FlexSizer applies to every signal. Percentages
// are fractions of account equity.
type FlexConfig struct {
	// OneOrderOnly skips instruments that already have a working order.
	OneOrderOnly bool `yaml:"one_order_only" json:"one_order_only"`
	// SafetyMarginPerc of equity is kept out of buying power.
	SafetyMarginPerc decimal.Decimal `yaml:"safety_margin_perc" json:"safety_margin_perc"`
	MaxOrderPerc     decimal.Decimal `yaml:"max_order_perc" json:"max_order_perc"`
	MinOrderPerc     decimal.Decimal `yaml:"min_order_perc" json:"min_order_perc"`
	MaxPositionPerc  decimal.Decimal `yaml:"max_position_perc" json:"max_position_perc"`
	Shorting         bool            `yaml:"shorting" json:"shorting"`
	// PriceType selects the event price used to value orders.
	PriceType types.PriceType `yaml:"price_type" json:"price_type"`
	// LimitOrders places limit orders at the valuation price instead of market orders.
	LimitOrders bool `yaml:"limit_orders" json:"limit_orders"`
	// GoodFor is the lifetime of limit orders. Zero makes them GTC.
	GoodFor time.Duration `yaml:"good_for" json:"good_for"`
}

func DefaultFlexConfig() FlexConfig {
	return FlexConfig{
		OneOrderOnly:     true,
		SafetyMarginPerc: decimal.RequireFromString("0.05"),
		MaxOrderPerc:     decimal.RequireFromString("0.05"),
		MinOrderPerc:     decimal.RequireFromString("0.02"),
		MaxPositionPerc:  decimal.RequireFromString("0.1"),
		Shorting:         false,
		PriceType:        types.PriceTypeDefault,
		LimitOrders:      false,
		GoodFor:          0,
	}
}

type positionChange int

const (
	entryLong positionChange = iota
	entryShort
	exitLong
	exitShort
)

func (c positionChange) isExit() bool {
	return c == exitLong || c == exitShort
}

func changeOf(buy bool, position decimal.Decimal) positionChange {
	switch {
	case position.IsZero():
		if buy {
			return entryLong
		}

		return entryShort
	case position.IsPositive():
		if buy {
			return entryLong
		}

		return exitLong
	default:
		if buy {
			return exitShort
		}

		return entryShort
	}
}

// FlexSizer sizes orders from signal ratings and equity percentages.
// A signal is discarded, with a debug log line, when any rule rejects it.
type FlexSizer struct {
	config    FlexConfig
	converter types.CurrencyConverter
	log       *logger.Logger
}

func NewFlexSizer(config FlexConfig, converter types.CurrencyConverter, log *logger.Logger) *FlexSizer {
	if converter == nil {
		converter = types.One2OneConverter{}
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &FlexSizer{config: config, converter: converter, log: log.Named("flex_sizer")}
}

func (f *FlexSizer) Size(signals []types.Signal, snapshot Snapshot) (Decision, error) {
	if len(signals) == 0 {
		return Decision{}, nil
	}

	equity, err := snapshot.Equity(f.converter)
	if err != nil {
		return Decision{}, err
	}

	maxOrderValue := equity.Mul(f.config.MaxOrderPerc)
	minOrderValue := equity.Mul(f.config.MinOrderPerc)
	maxPositionValue := equity.Mul(f.config.MaxPositionPerc)
	available := snapshot.Account.BuyingPower(snapshot.Account.BaseCurrency).Sub(equity.Mul(f.config.SafetyMarginPerc))

	var decision Decision

	for _, signal := range signals {
		position := snapshot.Account.Position(signal.InstrumentID)
		change := changeOf(signal.IsBuy(), position.Size)

		discard := func(rule string) {
			f.log.Debug("Discarded signal",
				zap.String("rule", rule),
				zap.String("instrument_id", signal.InstrumentID),
				zap.Stringer("rating", signal.Rating),
				zap.String("type", string(signal.Type)),
				zap.Stringer("position", position.Size),
			)
		}

		if signal.Rating.IsZero() {
			discard("zero rating")

			continue
		}

		if f.config.OneOrderOnly && snapshot.Account.HasOpenOrder(signal.InstrumentID) {
			discard("one order only")

			continue
		}

		instrument := snapshot.Instruments.Get(signal.InstrumentID)
		if instrument.IsNone() {
			discard("unknown instrument")

			continue
		}

		event, ok := snapshot.Event(signal.InstrumentID)
		if !ok {
			discard("no price is available")

			continue
		}

		price := event.PriceOf(f.config.PriceType)

		if !f.config.Shorting && change == entryShort {
			discard("no shorting")

			continue
		}

		if change.isExit() {
			if !signal.IsExit() {
				discard("no exit signal")

				continue
			}

			size := instrument.Unwrap().FloorToLot(position.Size.Abs().Mul(signal.Rating.Abs()))
			if size.IsZero() {
				discard("cannot exit with order size zero")

				continue
			}

			decision.Orders = append(decision.Orders, f.request(signal, size, price, snapshot.Time))

			continue
		}

		if !signal.IsEntry() {
			discard("no entry signal")

			continue
		}

		if available.IsNegative() || available.LessThan(minOrderValue) {
			discard("available buying power below minimum order value")

			continue
		}

		orderValue := decimal.Min(available, maxOrderValue, maxPositionValue.Sub(position.MarketValue(price).Abs()))
		if orderValue.LessThan(minOrderValue) || !orderValue.IsPositive() {
			discard("calculated available order value below minimum order value")

			continue
		}

		size := instrument.Unwrap().FloorToLot(signal.Rating.Abs().Mul(orderValue).Div(price))
		if size.IsZero() {
			discard("calculated order size is zero")

			continue
		}

		value := size.Mul(price)
		if value.GreaterThan(available) {
			discard("order value above available buying power")

			continue
		}

		if value.LessThan(minOrderValue) {
			discard("order value below minimum order value")

			continue
		}

		decision.Orders = append(decision.Orders, f.request(signal, size, price, snapshot.Time))
		available = available.Sub(value)
	}

	return decision, nil
}

func (f *FlexSizer) request(signal types.Signal, size, price decimal.Decimal, now time.Time) types.OrderRequest {
	side := types.SideBuy
	if signal.IsSell() {
		side = types.SideSell
	}

	request := types.OrderRequest{
		InstrumentID: signal.InstrumentID,
		Side:         side,
		Type:         types.OrderTypeMarket,
		Size:         size,
		LimitPrice:   optional.None[decimal.Decimal](),
		StopPrice:    optional.None[decimal.Decimal](),
		TimeInForce:  types.TimeInForceGTC,
		ExpireAt:     optional.None[time.Time](),
		Tag:          truncateTag(signal.Reason),
	}

	if f.config.LimitOrders {
		request.Type = types.OrderTypeLimit
		request.LimitPrice = optional.Some(price)

		if f.config.GoodFor > 0 {
			request.TimeInForce = types.TimeInForceGTD
			request.ExpireAt = optional.Some(now.Add(f.config.GoodFor))
		}
	}

	return request
}

const maxTagLength = 64

func truncateTag(tag string) string {
	runes := []rune(tag)
	if len(runes) <= maxTagLength {
		return tag
	}

	return string(runes[:maxTagLength])
}
