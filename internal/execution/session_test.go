package execution

import (
	"testing"
	"time"

	"github.com/rxtech-lab/argo-engine/internal/types"
	"github.com/stretchr/testify/suite"
)

type SessionTestSuite struct {
	suite.Suite
}

func TestSessionSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}

func (suite *SessionTestSuite) TestKey() {
	newYork, err := time.LoadLocation("America/New_York")
	suite.Require().NoError(err)

	tests := []struct {
		name     string
		timezone string
		close    string
		at       time.Time
		expected string
	}{
		{"utc midnight close", "", "", time.Date(2024, 1, 2, 23, 59, 0, 0, time.UTC), "2024-01-02"},
		{"utc next day", "UTC", "", time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), "2024-01-03"},
		{"before new york close", "America/New_York", "16:00", time.Date(2024, 1, 2, 15, 59, 0, 0, newYork), "2024-01-02"},
		{"at new york close", "America/New_York", "16:00", time.Date(2024, 1, 2, 16, 0, 0, 0, newYork), "2024-01-03"},
		{"utc input converted to new york", "America/New_York", "16:00", time.Date(2024, 1, 2, 20, 30, 0, 0, time.UTC), "2024-01-02"},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			calendar, err := NewSessionCalendar(tc.timezone, tc.close)
			suite.Require().NoError(err)
			suite.Equal(tc.expected, calendar.Key(tc.at))
		})
	}
}

func (suite *SessionTestSuite) TestVolumeLiquidity() {
	instrument := types.Instrument{ID: "MSFT", Symbol: "MSFT", Currency: "USD", LotSize: d("10")}
	now := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)

	model, err := NewLiquidityModel(LiquidityConfig{Kind: LiquidityVolume, ParticipationRate: d("0.1")})
	suite.Require().NoError(err)

	quote := types.NewQuote("MSFT", now, d("99"), d("100"), d("500"), d("255"))
	suite.True(model.Available(quote, types.SideBuy, instrument).Unwrap().Equal(d("20")))
	suite.True(model.Available(quote, types.SideSell, instrument).Unwrap().Equal(d("50")))

	pool := newAllocator(model, quote, instrument)
	suite.True(pool.limit(types.SideBuy, d("30")).Equal(d("20")))
	pool.consume(types.SideBuy, d("30"))
	suite.True(pool.limit(types.SideBuy, d("10")).IsZero())

	full := newAllocator(FullLiquidity{}, quote, instrument)
	suite.True(full.limit(types.SideBuy, d("1000")).Equal(d("1000")))
}
