package types

import (
	"time"

	"github.com/rxtech-lab/argo-engine/pkg/errors"
	"github.com/shopspring/decimal"
)

// Fill is the immutable record of an order executing (fully or partially) at a price.
// Size is always positive; the direction comes from Side.
type Fill struct {
	OrderID      string          `yaml:"order_id" json:"order_id"`
	InstrumentID string          `yaml:"instrument_id" json:"instrument_id"`
	Time         time.Time       `yaml:"time" json:"time"`
	Side         Side            `yaml:"side" json:"side"`
	Size         decimal.Decimal `yaml:"size" json:"size"`
	Price        decimal.Decimal `yaml:"price" json:"price"`
	Fee          decimal.Decimal `yaml:"fee" json:"fee"`
	// RealizedPnL is the price P&L this fill realized, before fees. Set by the ledger.
	RealizedPnL decimal.Decimal `yaml:"realized_pnl" json:"realized_pnl"`
}

// SignedSize is positive for buys and negative for sells.
func (f Fill) SignedSize() decimal.Decimal {
	return f.Size.Mul(f.Side.Sign())
}

// Notional is price times size.
func (f Fill) Notional() decimal.Decimal {
	return f.Price.Mul(f.Size)
}

// CashDelta is the change in cash caused by the fill: -(signed notional) - fee.
func (f Fill) CashDelta() decimal.Decimal {
	return f.Price.Mul(f.SignedSize()).Neg().Sub(f.Fee)
}

// Validate checks the fill before it is applied.
func (f Fill) Validate() error {
	if f.OrderID == "" || f.InstrumentID == "" {
		return errors.New(errors.ErrCodeInvalidParameter, "fill needs order and instrument ids")
	}

	if f.Side != SideBuy && f.Side != SideSell {
		return errors.Newf(errors.ErrCodeInvalidParameter, "fill for %s has invalid side %q", f.OrderID, f.Side)
	}

	if !f.Size.IsPositive() {
		return errors.Newf(errors.ErrCodeInvalidParameter, "fill for %s has non-positive size %s", f.OrderID, f.Size)
	}

	if !f.Price.IsPositive() {
		return errors.Newf(errors.ErrCodeInvalidParameter, "fill for %s has non-positive price %s", f.OrderID, f.Price)
	}

	if f.Fee.IsNegative() {
		return errors.Newf(errors.ErrCodeInvalidParameter, "fill for %s has negative fee %s", f.OrderID, f.Fee)
	}

	return nil
}

// Position is the signed holding of one instrument.
type Position struct {
	InstrumentID string          `yaml:"instrument_id" json:"instrument_id"`
	Size         decimal.Decimal `yaml:"size" json:"size"`
	AvgPrice     decimal.Decimal `yaml:"avg_price" json:"avg_price"`
}

func (p Position) IsLong() bool  { return p.Size.IsPositive() }
func (p Position) IsShort() bool { return p.Size.IsNegative() }
func (p Position) IsFlat() bool  { return p.Size.IsZero() }

// MarketValue is size times price, negative for shorts.
func (p Position) MarketValue(price decimal.Decimal) decimal.Decimal {
	return p.Size.Mul(price)
}

// UnrealizedPnL is the P&L if the position were closed at price.
func (p Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	return p.Size.Mul(price.Sub(p.AvgPrice))
}
