package types

import (
	"sort"
	"time"

	"github.com/rxtech-lab/argo-engine/pkg/errors"
	"github.com/shopspring/decimal"
)

// Wallet holds amounts per currency.
type Wallet map[string]decimal.Decimal

// NewWallet returns a wallet with a single deposit.
func NewWallet(currency string, amount decimal.Decimal) Wallet {
	return Wallet{currency: amount}
}

// Get returns the amount held in currency, zero when absent.
func (w Wallet) Get(currency string) decimal.Decimal {
	amount, ok := w[currency]
	if !ok {
		return decimal.Zero
	}

	return amount
}

// Add adds amount (which may be negative) to currency.
func (w Wallet) Add(currency string, amount decimal.Decimal) {
	w[currency] = w.Get(currency).Add(amount)
}

// Clone returns an independent copy.
func (w Wallet) Clone() Wallet {
	cloned := make(Wallet, len(w))
	for currency, amount := range w {
		cloned[currency] = amount
	}

	return cloned
}

// Currencies returns the currencies in sorted order.
func (w Wallet) Currencies() []string {
	currencies := make([]string, 0, len(w))
	for currency := range w {
		currencies = append(currencies, currency)
	}

	sort.Strings(currencies)

	return currencies
}

// Convert sums every currency into one target currency.
// Currencies are visited in sorted order so the result is reproducible.
func (w Wallet) Convert(to string, converter CurrencyConverter, at time.Time) (decimal.Decimal, error) {
	total := decimal.Zero

	for _, currency := range w.Currencies() {
		amount := w[currency]
		if amount.IsZero() {
			continue
		}

		converted, err := converter.Convert(amount, currency, to, at)
		if err != nil {
			return decimal.Zero, err
		}

		total = total.Add(converted)
	}

	return total, nil
}

// CurrencyConverter converts amounts between currencies.
type CurrencyConverter interface {
	Convert(amount decimal.Decimal, from, to string, at time.Time) (decimal.Decimal, error)
}

// One2OneConverter treats every currency as equal in value.
type One2OneConverter struct{}

func (One2OneConverter) Convert(amount decimal.Decimal, _, _ string, _ time.Time) (decimal.Decimal, error) {
	return amount, nil
}

// StaticConverter converts with fixed rates expressed in the base currency:
// one unit of currency C is worth Rates[C] units of Base.
type StaticConverter struct {
	Base  string
	Rates map[string]decimal.Decimal
}

func (c StaticConverter) Convert(amount decimal.Decimal, from, to string, _ time.Time) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}

	fromRate, err := c.rate(from)
	if err != nil {
		return decimal.Zero, err
	}

	toRate, err := c.rate(to)
	if err != nil {
		return decimal.Zero, err
	}

	return amount.Mul(fromRate).Div(toRate), nil
}

func (c StaticConverter) rate(currency string) (decimal.Decimal, error) {
	if currency == c.Base {
		return decimal.NewFromInt(1), nil
	}

	rate, ok := c.Rates[currency]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, errors.Newf(errors.ErrCodeCurrencyNotConvertible, "no rate for %s in %s", currency, c.Base)
	}

	return rate, nil
}
