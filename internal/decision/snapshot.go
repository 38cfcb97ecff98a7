// Package decision turns immutable account snapshots into order requests.
// Strategies only ever see copies: nothing reachable from a Snapshot aliases
// engine state.
package decision

import (
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-engine/internal/types"
	"github.com/shopspring/decimal"
)

// Snapshot is everything decision logic may look at for one batch. It only
// contains data with a timestamp at or before Time.
type Snapshot struct {
	Step    int
	Time    time.Time
	Events  []types.MarketEvent
	Account types.AccountSnapshot
	// Prices holds the last known price per instrument, including this batch.
	Prices map[string]decimal.Decimal
	// Updates are the order transitions since the previous decision.
	Updates     []types.OrderUpdate
	Instruments *types.InstrumentRegistry
}

// NewSnapshot copies its inputs into a new snapshot.
func NewSnapshot(
	step int,
	batch types.Batch,
	account types.AccountSnapshot,
	last map[string]types.MarketEvent,
	updates []types.OrderUpdate,
	instruments *types.InstrumentRegistry,
) Snapshot {
	prices := make(map[string]decimal.Decimal, len(last))
	for id, event := range last {
		prices[id] = event.PriceOf(types.PriceTypeDefault)
	}

	copied := make([]types.OrderUpdate, len(updates))
	copy(copied, updates)

	account = account.Clone()
	account.Time = batch.Time

	return Snapshot{
		Step:        step,
		Time:        batch.Time,
		Events:      batch.Clone().Events,
		Account:     account,
		Prices:      prices,
		Updates:     copied,
		Instruments: instruments,
	}
}

// Event returns this batch's event for the instrument.
func (s Snapshot) Event(instrumentID string) (types.MarketEvent, bool) {
	return types.Batch{Time: s.Time, Events: s.Events}.Event(instrumentID)
}

// Price returns the last known price of the instrument.
func (s Snapshot) Price(instrumentID string) optional.Option[decimal.Decimal] {
	price, ok := s.Prices[instrumentID]
	if !ok {
		return optional.None[decimal.Decimal]()
	}

	return optional.Some(price)
}

// Equity values the account at the last known prices in its base currency.
func (s Snapshot) Equity(converter types.CurrencyConverter) (decimal.Decimal, error) {
	if converter == nil {
		converter = types.One2OneConverter{}
	}

	return s.Account.Equity(s.Prices, s.Instruments, converter)
}

// Decision is the output of decision logic for one batch.
type Decision struct {
	Orders  []types.OrderRequest
	Cancels []types.Cancellation
}

func (d Decision) IsEmpty() bool {
	return len(d.Orders) == 0 && len(d.Cancels) == 0
}
