package commission_fee

import (
	"github.com/rxtech-lab/argo-engine/pkg/errors"
	"github.com/shopspring/decimal"
)

type CommissionFee interface {
	// Calculate returns the fee for a fill of size units at price, in the instrument currency.
	Calculate(size, price decimal.Decimal) decimal.Decimal
}

type Broker string

const (
	BrokerInteractiveBroker Broker = "interactive_broker"
	BrokerZero              Broker = "zero_commission"
	BrokerFixed             Broker = "fixed"
	BrokerProportional      Broker = "proportional"
	BrokerPerUnit           Broker = "per_unit"
)

var AllBrokers = []any{
	BrokerInteractiveBroker,
	BrokerZero,
	BrokerFixed,
	BrokerProportional,
	BrokerPerUnit,
}

// Config describes a fee model.
//
//   - fixed: Amount per fill
//   - proportional: Amount is a rate applied to the notional (0.001 = 10 bps)
//   - per_unit: Amount per unit traded
//
// Minimum and Maximum clamp the computed fee; a zero Maximum means no cap.
type Config struct {
	Broker  Broker          `yaml:"broker" json:"broker" validate:"omitempty,oneof=interactive_broker zero_commission fixed proportional per_unit"`
	Amount  decimal.Decimal `yaml:"amount" json:"amount"`
	Minimum decimal.Decimal `yaml:"minimum" json:"minimum"`
	Maximum decimal.Decimal `yaml:"maximum" json:"maximum"`
}

// GetCommissionFeeHandler returns the preset fee model for a broker.
// Unknown and parameterised brokers fall back to zero commission.
func GetCommissionFeeHandler(broker Broker) CommissionFee {
	switch broker {
	case BrokerInteractiveBroker:
		return NewInteractiveBrokerCommissionFee()
	case BrokerZero:
		return NewZeroCommissionFee()
	default:
		return NewZeroCommissionFee()
	}
}

// New builds the fee model described by cfg.
func New(cfg Config) (CommissionFee, error) {
	if cfg.Amount.IsNegative() || cfg.Minimum.IsNegative() || cfg.Maximum.IsNegative() {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "fee amounts must not be negative")
	}

	if cfg.Maximum.IsPositive() && cfg.Maximum.LessThan(cfg.Minimum) {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "fee maximum is below the minimum")
	}

	switch cfg.Broker {
	case BrokerFixed:
		return NewFixedCommissionFee(cfg.Amount), nil
	case BrokerProportional:
		return NewProportionalCommissionFee(cfg.Amount, cfg.Minimum, cfg.Maximum), nil
	case BrokerPerUnit:
		return NewPerUnitCommissionFee(cfg.Amount, cfg.Minimum, cfg.Maximum), nil
	case BrokerInteractiveBroker, BrokerZero, "":
		return GetCommissionFeeHandler(cfg.Broker), nil
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "unknown fee model %q", cfg.Broker)
	}
}

func clamp(fee, minimum, maximum decimal.Decimal) decimal.Decimal {
	if fee.LessThan(minimum) {
		fee = minimum
	}

	if maximum.IsPositive() && fee.GreaterThan(maximum) {
		fee = maximum
	}

	return fee
}
