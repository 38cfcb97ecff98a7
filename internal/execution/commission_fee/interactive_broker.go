package commission_fee

import "github.com/shopspring/decimal"

var (
	ibPerShare = decimal.RequireFromString("0.005")
	ibMinimum  = decimal.NewFromInt(1)
)

type InteractiveBrokerCommissionFee struct {
}

func NewInteractiveBrokerCommissionFee() CommissionFee {
	return &InteractiveBrokerCommissionFee{}
}

func (c *InteractiveBrokerCommissionFee) Calculate(size, _ decimal.Decimal) decimal.Decimal {
	fee := ibPerShare.Mul(size.Abs())
	if fee.LessThan(ibMinimum) {
		return ibMinimum
	}

	return fee
}
