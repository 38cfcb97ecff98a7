package types

import "github.com/shopspring/decimal"

type SignalType string

const (
	// SignalTypeEntry may only open or increase a position.
	SignalTypeEntry SignalType = "entry"
	// SignalTypeExit may only reduce or close a position.
	SignalTypeExit SignalType = "exit"
	// SignalTypeEntryExit may do both.
	SignalTypeEntryExit SignalType = "entry_exit"
)

// Signal expresses a view on an instrument without choosing a size.
// Rating runs from -1 (strong sell) to 1 (strong buy).
type Signal struct {
	InstrumentID string
	Rating       decimal.Decimal
	Type         SignalType
	// Reason is a free-form explanation carried into the order tag.
	Reason string
}

func (s Signal) IsBuy() bool  { return s.Rating.IsPositive() }
func (s Signal) IsSell() bool { return s.Rating.IsNegative() }

func (s Signal) IsEntry() bool {
	return s.Type == SignalTypeEntry || s.Type == SignalTypeEntryExit || s.Type == ""
}

func (s Signal) IsExit() bool {
	return s.Type == SignalTypeExit || s.Type == SignalTypeEntryExit || s.Type == ""
}
