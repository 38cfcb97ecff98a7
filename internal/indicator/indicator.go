// Package indicator holds streaming technical indicators. Each indicator is
// fed one value per bar and keeps only the state it needs, so strategies can
// use them without access to historical data.
package indicator

import (
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

type IndicatorType string

const (
	IndicatorTypeMA  IndicatorType = "ma"
	IndicatorTypeEMA IndicatorType = "ema"
)

// Indicator interface defines methods that any technical indicator must implement
type Indicator interface {
	// Name returns the name of the indicator
	Name() IndicatorType
	// Config sets the parameters and resets the indicator.
	Config(params ...any) error
	// Update adds the next value and returns the new reading, None while
	// the indicator is warming up.
	Update(value decimal.Decimal) optional.Option[decimal.Decimal]
	// Value returns the last reading without adding a value.
	Value() optional.Option[decimal.Decimal]
	Reset()
}

// periodParam reads a positive period from Config parameters. Decoded
// JSON and YAML numbers arrive as float64, so both are accepted.
func periodParam(name IndicatorType, params []any) (int, error) {
	if len(params) != 1 {
		return 0, errorf("%s config expects 1 parameter: period (int)", name)
	}

	period, ok := params[0].(int)
	if !ok {
		periodFloat, ok := params[0].(float64)
		if !ok {
			return 0, errorf("invalid type for %s period, expected int or float", name)
		}

		period = int(periodFloat)
	}

	if period <= 0 {
		return 0, errorf("%s period must be a positive integer, got %d", name, period)
	}

	return period, nil
}
