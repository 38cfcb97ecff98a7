package env

import (
	"github.com/rxtech-lab/argo-engine/internal/decision"
	"github.com/rxtech-lab/argo-engine/internal/logger"
	"github.com/rxtech-lab/argo-engine/internal/types"
	"github.com/rxtech-lab/argo-engine/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ActionAdapter translates an agent action into orders for the current
// snapshot. It must not keep references into the snapshot.
type ActionAdapter[A any] interface {
	Translate(action A, snapshot decision.Snapshot) (decision.Decision, error)
}

// Weights maps instrument ids to the wanted share of equity. Negative
// weights ask for a short position.
type Weights map[string]float64

var one = decimal.NewFromInt(1)

// TargetWeights rebalances the account towards per-instrument equity
// weights with market orders. Instruments not named in the action are left
// alone; sizes are floored to the instrument lot size.
type TargetWeights struct {
	converter types.CurrencyConverter
	// tolerance skips rebalancing when the order value would be below this
	// share of equity.
	tolerance decimal.Decimal
	logger    *logger.Logger
}

func NewTargetWeights(converter types.CurrencyConverter, tolerance float64, log *logger.Logger) *TargetWeights {
	if converter == nil {
		converter = types.One2OneConverter{}
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &TargetWeights{
		converter: converter,
		tolerance: decimal.NewFromFloat(tolerance),
		logger:    log.Named("target_weights"),
	}
}

func (t *TargetWeights) Translate(action Weights, snapshot decision.Snapshot) (decision.Decision, error) {
	if err := t.validate(action, snapshot.Instruments); err != nil {
		return decision.Decision{}, err
	}

	equity, err := snapshot.Equity(t.converter)
	if err != nil {
		return decision.Decision{}, err
	}

	var result decision.Decision

	for _, id := range snapshot.Instruments.IDs() {
		weight, ok := action[id]
		if !ok {
			continue
		}

		if snapshot.Account.HasOpenOrder(id) {
			t.logger.Debug("Skipping instrument with working orders", zap.String("instrument_id", id))

			continue
		}

		price := snapshot.Price(id)
		if price.IsNone() || !price.Unwrap().IsPositive() {
			t.logger.Debug("Skipping instrument without a price", zap.String("instrument_id", id))

			continue
		}

		instrument := snapshot.Instruments.Get(id).Unwrap()

		value, err := t.converter.Convert(equity.Mul(decimal.NewFromFloat(weight)),
			snapshot.Account.BaseCurrency, instrument.Currency, snapshot.Time)
		if err != nil {
			return decision.Decision{}, err
		}

		target := value.Div(price.Unwrap())
		if target.IsNegative() {
			target = instrument.FloorToLot(target.Neg()).Neg()
		} else {
			target = instrument.FloorToLot(target)
		}

		delta := target.Sub(snapshot.Account.Position(id).Size)
		if delta.IsZero() {
			continue
		}

		if t.tolerance.IsPositive() && equity.IsPositive() &&
			delta.Abs().Mul(price.Unwrap()).Div(equity).LessThan(t.tolerance) {
			continue
		}

		side := types.SideBuy
		if delta.IsNegative() {
			side = types.SideSell
		}

		result.Orders = append(result.Orders, types.OrderRequest{
			InstrumentID: id,
			Side:         side,
			Type:         types.OrderTypeMarket,
			Size:         delta.Abs(),
			TimeInForce:  types.TimeInForceGTC,
			Tag:          "rebalance",
		})
	}

	return result, nil
}

func (t *TargetWeights) validate(action Weights, registry *types.InstrumentRegistry) error {
	total := decimal.Zero

	for id, weight := range action {
		if registry.Get(id).IsNone() {
			return errors.Newf(errors.ErrCodeUnknownInstrument, "weight for unknown instrument %s", id)
		}

		w := decimal.NewFromFloat(weight)
		if w.Abs().GreaterThan(one) {
			return errors.Newf(errors.ErrCodeInvalidParameter, "weight %v for %s is outside [-1, 1]", weight, id)
		}

		total = total.Add(w.Abs())
	}

	if total.GreaterThan(one) {
		return errors.Newf(errors.ErrCodeInvalidParameter, "weights add up to %s, more than the whole equity", total)
	}

	return nil
}
