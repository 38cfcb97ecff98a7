package indicator

import (
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

// EMA is the exponential moving average with alpha = 2 / (period + 1),
// seeded with the simple average of the first period values. This matches
// pandas ewm(span=period, adjust=False) after the warm-up.
type EMA struct {
	period int
	alpha  decimal.Decimal
	seed   *MA
	value  optional.Option[decimal.Decimal]
}

// NewEMA creates a 20 period exponential moving average.
func NewEMA() Indicator {
	ema := &EMA{period: 20}
	ema.Reset()

	return ema
}

func (e *EMA) Name() IndicatorType {
	return IndicatorTypeEMA
}

// Expected parameters: period (int).
func (e *EMA) Config(params ...any) error {
	period, err := periodParam(e.Name(), params)
	if err != nil {
		return err
	}

	e.period = period
	e.Reset()

	return nil
}

func (e *EMA) Update(value decimal.Decimal) optional.Option[decimal.Decimal] {
	if e.value.IsNone() {
		e.value = e.seed.Update(value)

		return e.value
	}

	previous := e.value.Unwrap()
	e.value = optional.Some(value.Mul(e.alpha).Add(previous.Mul(decimal.NewFromInt(1).Sub(e.alpha))))

	return e.value
}

func (e *EMA) Value() optional.Option[decimal.Decimal] {
	return e.value
}

func (e *EMA) Reset() {
	e.alpha = decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(e.period + 1)))
	e.seed = &MA{period: e.period}
	e.seed.Reset()
	e.value = optional.None[decimal.Decimal]()
}
