package types

import (
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-engine/pkg/errors"
	"github.com/shopspring/decimal"
)

type AssetClass string

const (
	AssetClassEquity AssetClass = "equity"
	AssetClassCrypto AssetClass = "crypto"
	AssetClassFuture AssetClass = "future"
	AssetClassForex  AssetClass = "forex"
	AssetClassOption AssetClass = "option"
)

// Instrument is the immutable identity of a tradable asset.
// Everything else refers to an instrument by its ID.
type Instrument struct {
	ID         string     `yaml:"id" json:"id" validate:"required"`
	Symbol     string     `yaml:"symbol" json:"symbol" validate:"required"`
	Exchange   string     `yaml:"exchange" json:"exchange"`
	AssetClass AssetClass `yaml:"asset_class" json:"asset_class" validate:"omitempty,oneof=equity crypto future forex option"`
	// TickSize is the minimum price increment. Zero disables price rounding.
	TickSize decimal.Decimal `yaml:"tick_size" json:"tick_size"`
	// LotSize is the minimum size increment. Order sizes must be a multiple of it.
	LotSize  decimal.Decimal `yaml:"lot_size" json:"lot_size"`
	Currency string          `yaml:"currency" json:"currency" validate:"required"`
}

// Validate checks the instrument definition.
func (i Instrument) Validate() error {
	if err := validator.New().Struct(i); err != nil {
		return errors.Wrapf(errors.ErrCodeInvalidParameter, err, "invalid instrument %q", i.ID)
	}

	if !i.LotSize.IsPositive() {
		return errors.Newf(errors.ErrCodeInvalidLotSize, "instrument %q: lot size must be positive", i.ID)
	}

	if i.TickSize.IsNegative() {
		return errors.Newf(errors.ErrCodeInvalidParameter, "instrument %q: tick size must not be negative", i.ID)
	}

	return nil
}

// IsLotMultiple reports whether size is a whole number of lots.
func (i Instrument) IsLotMultiple(size decimal.Decimal) bool {
	return size.Mod(i.LotSize).IsZero()
}

// FloorToLot rounds a non-negative size down to a whole number of lots.
func (i Instrument) FloorToLot(size decimal.Decimal) decimal.Decimal {
	if !size.IsPositive() {
		return decimal.Zero
	}

	return size.Div(i.LotSize).Floor().Mul(i.LotSize)
}

// RoundToTick rounds price to the tick grid. When up is true the price is
// rounded towards +inf, otherwise towards -inf.
func (i Instrument) RoundToTick(price decimal.Decimal, up bool) decimal.Decimal {
	if i.TickSize.IsZero() {
		return price
	}

	steps := price.Div(i.TickSize)
	if up {
		steps = steps.Ceil()
	} else {
		steps = steps.Floor()
	}

	return steps.Mul(i.TickSize)
}

// InstrumentRegistry holds the instruments known to a run.
// It is built once and never mutated afterwards.
type InstrumentRegistry struct {
	instruments map[string]Instrument
	ids         []string
}

// NewInstrumentRegistry validates and registers the given instruments.
func NewInstrumentRegistry(instruments ...Instrument) (*InstrumentRegistry, error) {
	registry := &InstrumentRegistry{
		instruments: make(map[string]Instrument, len(instruments)),
		ids:         make([]string, 0, len(instruments)),
	}

	for _, instrument := range instruments {
		if err := instrument.Validate(); err != nil {
			return nil, err
		}

		if _, exists := registry.instruments[instrument.ID]; exists {
			return nil, errors.Newf(errors.ErrCodeInvalidParameter, "instrument %q registered twice", instrument.ID)
		}

		registry.instruments[instrument.ID] = instrument
		registry.ids = append(registry.ids, instrument.ID)
	}

	return registry, nil
}

// Get returns the instrument with the given id.
func (r *InstrumentRegistry) Get(id string) optional.Option[Instrument] {
	if r == nil {
		return optional.None[Instrument]()
	}

	instrument, ok := r.instruments[id]
	if !ok {
		return optional.None[Instrument]()
	}

	return optional.Some(instrument)
}

// IDs returns instrument ids in registration order.
func (r *InstrumentRegistry) IDs() []string {
	ids := make([]string, len(r.ids))
	copy(ids, r.ids)

	return ids
}

// Currencies returns the sorted set of currencies used by the instruments.
func (r *InstrumentRegistry) Currencies() []string {
	seen := make(map[string]struct{})
	for _, instrument := range r.instruments {
		seen[instrument.Currency] = struct{}{}
	}

	currencies := make([]string, 0, len(seen))
	for currency := range seen {
		currencies = append(currencies, currency)
	}

	sort.Strings(currencies)

	return currencies
}

// Len returns the number of registered instruments.
func (r *InstrumentRegistry) Len() int {
	return len(r.ids)
}
