package commission_fee

import "github.com/shopspring/decimal"

// FixedCommissionFee charges the same amount for every fill.
type FixedCommissionFee struct {
	amount decimal.Decimal
}

func NewFixedCommissionFee(amount decimal.Decimal) CommissionFee {
	return &FixedCommissionFee{amount: amount}
}

func (c *FixedCommissionFee) Calculate(_, _ decimal.Decimal) decimal.Decimal {
	return c.amount
}

// ProportionalCommissionFee charges a rate on the notional.
type ProportionalCommissionFee struct {
	rate    decimal.Decimal
	minimum decimal.Decimal
	maximum decimal.Decimal
}

func NewProportionalCommissionFee(rate, minimum, maximum decimal.Decimal) CommissionFee {
	return &ProportionalCommissionFee{rate: rate, minimum: minimum, maximum: maximum}
}

func (c *ProportionalCommissionFee) Calculate(size, price decimal.Decimal) decimal.Decimal {
	return clamp(size.Abs().Mul(price).Mul(c.rate), c.minimum, c.maximum)
}

// PerUnitCommissionFee charges a fixed amount per unit traded.
type PerUnitCommissionFee struct {
	perUnit decimal.Decimal
	minimum decimal.Decimal
	maximum decimal.Decimal
}

func NewPerUnitCommissionFee(perUnit, minimum, maximum decimal.Decimal) CommissionFee {
	return &PerUnitCommissionFee{perUnit: perUnit, minimum: minimum, maximum: maximum}
}

func (c *PerUnitCommissionFee) Calculate(size, _ decimal.Decimal) decimal.Decimal {
	return clamp(size.Abs().Mul(c.perUnit), c.minimum, c.maximum)
}
