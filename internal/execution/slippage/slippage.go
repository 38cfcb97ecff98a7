// Package slippage adjusts reference prices to model execution cost.
package slippage

import (
	"github.com/rxtech-lab/argo-engine/internal/types"
	"github.com/rxtech-lab/argo-engine/pkg/errors"
	"github.com/shopspring/decimal"
)

// Model moves a reference price against the order side.
type Model interface {
	Apply(side types.Side, price decimal.Decimal, instrument types.Instrument) decimal.Decimal
}

type Kind string

const (
	KindNone       Kind = "none"
	KindPercentage Kind = "percentage"
	KindTicks      Kind = "ticks"
)

var AllKinds = []any{KindNone, KindPercentage, KindTicks}

var basisPoints = decimal.NewFromInt(10000)

type Config struct {
	Kind Kind `yaml:"kind" json:"kind" validate:"omitempty,oneof=none percentage ticks"`
	// Value is basis points for percentage and a tick count for ticks.
	Value decimal.Decimal `yaml:"value" json:"value"`
}

// New builds the model described by cfg.
func New(cfg Config) (Model, error) {
	if cfg.Value.IsNegative() {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "slippage must not be negative")
	}

	switch cfg.Kind {
	case KindNone, "":
		return None{}, nil
	case KindPercentage:
		return Percentage{BasisPoints: cfg.Value}, nil
	case KindTicks:
		return Ticks{Count: cfg.Value}, nil
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "unknown slippage model %q", cfg.Kind)
	}
}

type None struct{}

func (None) Apply(_ types.Side, price decimal.Decimal, _ types.Instrument) decimal.Decimal {
	return price
}

// Percentage moves the price by a fixed number of basis points and rounds
// to the tick grid away from the trader.
type Percentage struct {
	BasisPoints decimal.Decimal
}

func (p Percentage) Apply(side types.Side, price decimal.Decimal, instrument types.Instrument) decimal.Decimal {
	adjustment := price.Mul(p.BasisPoints).Div(basisPoints)
	adjusted := price.Add(adjustment.Mul(side.Sign()))

	return instrument.RoundToTick(adjusted, side == types.SideBuy)
}

// Ticks moves the price by a number of instrument ticks.
type Ticks struct {
	Count decimal.Decimal
}

func (t Ticks) Apply(side types.Side, price decimal.Decimal, instrument types.Instrument) decimal.Decimal {
	return price.Add(instrument.TickSize.Mul(t.Count).Mul(side.Sign()))
}
