package types

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// AccountSnapshot is a read-only copy of the account state. It shares no
// map with the ledger it was taken from.
type AccountSnapshot struct {
	Time         time.Time           `json:"time" yaml:"time"`
	BaseCurrency string              `json:"base_currency" yaml:"base_currency"`
	Cash         Wallet              `json:"cash" yaml:"cash"`
	Positions    map[string]Position `json:"positions" yaml:"positions"`
	OpenOrders   map[string]Order    `json:"open_orders" yaml:"open_orders"`
	// RealizedPnL is realized price P&L minus every fee paid.
	RealizedPnL decimal.Decimal `json:"realized_pnl" yaml:"realized_pnl"`
	// GrossRealizedPnL is realized price P&L before fees.
	GrossRealizedPnL decimal.Decimal `json:"gross_realized_pnl" yaml:"gross_realized_pnl"`
	TotalFees        decimal.Decimal `json:"total_fees" yaml:"total_fees"`
	FillCount        int             `json:"fill_count" yaml:"fill_count"`
}

// Clone returns a deep copy.
func (a AccountSnapshot) Clone() AccountSnapshot {
	positions := make(map[string]Position, len(a.Positions))
	for id, position := range a.Positions {
		positions[id] = position
	}

	orders := make(map[string]Order, len(a.OpenOrders))
	for id, order := range a.OpenOrders {
		orders[id] = order
	}

	cloned := a
	cloned.Cash = a.Cash.Clone()
	cloned.Positions = positions
	cloned.OpenOrders = orders

	return cloned
}

// Position returns the position for the instrument, flat when none is held.
func (a AccountSnapshot) Position(instrumentID string) Position {
	position, ok := a.Positions[instrumentID]
	if !ok {
		return Position{InstrumentID: instrumentID, Size: decimal.Zero, AvgPrice: decimal.Zero}
	}

	return position
}

// HasOpenOrder reports whether any working order exists for the instrument.
func (a AccountSnapshot) HasOpenOrder(instrumentID string) bool {
	for _, order := range a.OpenOrders {
		if order.InstrumentID == instrumentID {
			return true
		}
	}

	return false
}

// OpenOrdersFor returns working orders for the instrument in submission order.
func (a AccountSnapshot) OpenOrdersFor(instrumentID string) []Order {
	orders := make([]Order, 0)
	for _, order := range a.OpenOrders {
		if order.InstrumentID == instrumentID {
			orders = append(orders, order)
		}
	}

	sort.Slice(orders, func(i, j int) bool { return orders[i].Seq < orders[j].Seq })

	return orders
}

// PositionIDs returns held instrument ids in sorted order.
func (a AccountSnapshot) PositionIDs() []string {
	ids := make([]string, 0, len(a.Positions))
	for id := range a.Positions {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// MarketValue returns the market value of all positions per currency.
// Positions without a price in prices are valued at their average price.
func (a AccountSnapshot) MarketValue(prices map[string]decimal.Decimal, registry *InstrumentRegistry) Wallet {
	value := make(Wallet)

	for _, id := range a.PositionIDs() {
		position := a.Positions[id]

		price, ok := prices[id]
		if !ok {
			price = position.AvgPrice
		}

		value.Add(currencyOf(registry, id), position.MarketValue(price))
	}

	return value
}

// UnrealizedPnL returns open-position P&L per currency.
func (a AccountSnapshot) UnrealizedPnL(prices map[string]decimal.Decimal, registry *InstrumentRegistry) Wallet {
	pnl := make(Wallet)

	for _, id := range a.PositionIDs() {
		price, ok := prices[id]
		if !ok {
			continue
		}

		pnl.Add(currencyOf(registry, id), a.Positions[id].UnrealizedPnL(price))
	}

	return pnl
}

// Equity is cash plus market value, converted into the base currency.
func (a AccountSnapshot) Equity(
	prices map[string]decimal.Decimal,
	registry *InstrumentRegistry,
	converter CurrencyConverter,
) (decimal.Decimal, error) {
	total := a.Cash.Clone()
	for currency, amount := range a.MarketValue(prices, registry) {
		total.Add(currency, amount)
	}

	return total.Convert(a.BaseCurrency, converter, a.Time)
}

// BuyingPower is the cash available in currency.
func (a AccountSnapshot) BuyingPower(currency string) decimal.Decimal {
	return a.Cash.Get(currency)
}

func currencyOf(registry *InstrumentRegistry, instrumentID string) string {
	instrument := registry.Get(instrumentID)
	if instrument.IsNone() {
		return ""
	}

	return instrument.Unwrap().Currency
}
