package slippage

import (
	"testing"

	"github.com/rxtech-lab/argo-engine/internal/types"
	"github.com/rxtech-lab/argo-engine/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type SlippageTestSuite struct {
	suite.Suite
	instrument types.Instrument
}

func TestSlippageSuite(t *testing.T) {
	suite.Run(t, new(SlippageTestSuite))
}

func d(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func (suite *SlippageTestSuite) SetupTest() {
	suite.instrument = types.Instrument{ID: "AAPL", Symbol: "AAPL", Currency: "USD", LotSize: d("1"), TickSize: d("0.01")}
}

func (suite *SlippageTestSuite) TestModels() {
	tests := []struct {
		name     string
		config   Config
		side     types.Side
		price    string
		expected string
	}{
		{"none buy", Config{Kind: KindNone}, types.SideBuy, "100", "100"},
		{"empty kind", Config{}, types.SideSell, "100", "100"},
		{"10 bps buy", Config{Kind: KindPercentage, Value: d("10")}, types.SideBuy, "100", "100.1"},
		{"10 bps sell", Config{Kind: KindPercentage, Value: d("10")}, types.SideSell, "100", "99.9"},
		{"bps rounds buy up to tick", Config{Kind: KindPercentage, Value: d("1")}, types.SideBuy, "100.33", "100.35"},
		{"bps rounds sell down to tick", Config{Kind: KindPercentage, Value: d("1")}, types.SideSell, "100.33", "100.31"},
		{"two ticks buy", Config{Kind: KindTicks, Value: d("2")}, types.SideBuy, "100", "100.02"},
		{"two ticks sell", Config{Kind: KindTicks, Value: d("2")}, types.SideSell, "100", "99.98"},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			model, err := New(tc.config)
			suite.Require().NoError(err)

			result := model.Apply(tc.side, d(tc.price), suite.instrument)
			suite.True(result.Equal(d(tc.expected)), "got %s", result)
		})
	}
}

func (suite *SlippageTestSuite) TestInvalidConfig() {
	_, err := New(Config{Kind: Kind("random")})
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))

	_, err = New(Config{Kind: KindTicks, Value: d("-1")})
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}
