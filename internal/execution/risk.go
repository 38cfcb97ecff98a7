package execution

import (
	"github.com/rxtech-lab/argo-engine/internal/execution/commission_fee"
	"github.com/rxtech-lab/argo-engine/internal/types"
	"github.com/shopspring/decimal"
)

type RiskConfig struct {
	// BuyingPower requires cash in the instrument currency to cover each fill.
	BuyingPower bool `yaml:"buying_power" json:"buying_power"`
	// MaxPosition caps the absolute position per instrument id.
	MaxPosition map[string]decimal.Decimal `yaml:"max_position" json:"max_position"`
	// DefaultMaxPosition applies to instruments missing from MaxPosition. Zero disables it.
	DefaultMaxPosition decimal.Decimal `yaml:"default_max_position" json:"default_max_position"`
	AllowShort         bool            `yaml:"allow_short" json:"allow_short"`
	// ShortMargin is the share of notional that must be held in cash to open a short.
	ShortMargin decimal.Decimal `yaml:"short_margin" json:"short_margin"`
	// PartialFillToLimit shrinks a violating fill to the largest size that passes
	// instead of rejecting the order.
	PartialFillToLimit bool `yaml:"partial_fill_to_limit" json:"partial_fill_to_limit"`
}

// riskCheck evaluates one prospective fill against the account.
type riskCheck struct {
	config     RiskConfig
	fee        commission_fee.CommissionFee
	instrument types.Instrument
	position   types.Position
	cash       decimal.Decimal
	side       types.Side
	price      decimal.Decimal
}

// violation returns the reason size breaks a rule, or "" when it passes.
func (r riskCheck) violation(size decimal.Decimal) string {
	if !size.IsPositive() {
		return ""
	}

	// the part of a sell that goes beyond the current long position
	opening := decimal.Zero
	if r.side == types.SideSell {
		opening = decimal.Max(decimal.Zero, size.Sub(decimal.Max(decimal.Zero, r.position.Size)))
	}

	if opening.IsPositive() && !r.config.AllowShort {
		return types.OrderReasonShortingNotAllowed
	}

	if limit := r.maxPosition(); limit.IsPositive() {
		after := r.position.Size.Add(size.Mul(r.side.Sign())).Abs()
		if after.GreaterThan(limit) && after.GreaterThan(r.position.Size.Abs()) {
			return types.OrderReasonPositionLimitExceeded
		}
	}

	if r.config.BuyingPower {
		required := decimal.Zero

		switch {
		case r.side == types.SideBuy:
			required = r.price.Mul(size).Add(r.fee.Calculate(size, r.price))
		case opening.IsPositive():
			required = r.price.Mul(opening).Mul(r.config.ShortMargin).Add(r.fee.Calculate(size, r.price))
		}

		if required.GreaterThan(r.cash) {
			return types.OrderReasonInsufficientFunds
		}
	}

	return ""
}

func (r riskCheck) maxPosition() decimal.Decimal {
	if limit, ok := r.config.MaxPosition[r.instrument.ID]; ok {
		return limit
	}

	return r.config.DefaultMaxPosition
}

// allowed returns the size that may fill and, when it is below size, the
// rule that cut it. Without PartialFillToLimit a violation allows nothing.
func (r riskCheck) allowed(size decimal.Decimal) (decimal.Decimal, string) {
	reason := r.violation(size)
	if reason == "" {
		return size, ""
	}

	if !r.config.PartialFillToLimit {
		return decimal.Zero, reason
	}

	// binary search over whole lots; every rule is monotonic in size
	lot := r.instrument.LotSize
	low, high := int64(0), size.Div(lot).Floor().IntPart()

	for low < high {
		mid := (low + high + 1) / 2
		if r.violation(lot.Mul(decimal.NewFromInt(mid))) == "" {
			low = mid
		} else {
			high = mid - 1
		}
	}

	return lot.Mul(decimal.NewFromInt(low)), reason
}
