package indicator

import (
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

// MA is the simple moving average over the last period values.
type MA struct {
	period int
	window []decimal.Decimal
	next   int
	sum    decimal.Decimal
}

// NewMA creates a 20 period moving average.
func NewMA() Indicator {
	ma := &MA{period: 20}
	ma.Reset()

	return ma
}

func (m *MA) Name() IndicatorType {
	return IndicatorTypeMA
}

// Expected parameters: period (int).
func (m *MA) Config(params ...any) error {
	period, err := periodParam(m.Name(), params)
	if err != nil {
		return err
	}

	m.period = period
	m.Reset()

	return nil
}

func (m *MA) Update(value decimal.Decimal) optional.Option[decimal.Decimal] {
	if len(m.window) < m.period {
		m.window = append(m.window, value)
		m.sum = m.sum.Add(value)
	} else {
		m.sum = m.sum.Sub(m.window[m.next]).Add(value)
		m.window[m.next] = value
		m.next = (m.next + 1) % m.period
	}

	return m.Value()
}

func (m *MA) Value() optional.Option[decimal.Decimal] {
	if len(m.window) < m.period {
		return optional.None[decimal.Decimal]()
	}

	return optional.Some(m.sum.Div(decimal.NewFromInt(int64(m.period))))
}

func (m *MA) Reset() {
	m.window = make([]decimal.Decimal, 0, m.period)
	m.next = 0
	m.sum = decimal.Zero
}
