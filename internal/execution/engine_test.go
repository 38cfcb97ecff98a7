package execution

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-engine/internal/execution/commission_fee"
	"github.com/rxtech-lab/argo-engine/internal/execution/slippage"
	"github.com/rxtech-lab/argo-engine/internal/ledger"
	"github.com/rxtech-lab/argo-engine/internal/logger"
	"github.com/rxtech-lab/argo-engine/internal/orderbook"
	"github.com/rxtech-lab/argo-engine/internal/types"
	"github.com/rxtech-lab/argo-engine/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type EngineTestSuite struct {
	suite.Suite
	registry *types.InstrumentRegistry
	engine   *Engine
	state    State
	start    time.Time
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func d(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func (suite *EngineTestSuite) SetupTest() {
	registry, err := types.NewInstrumentRegistry(
		types.Instrument{ID: "AAPL", Symbol: "AAPL", Currency: "USD", LotSize: d("1"), TickSize: d("0.01")},
		types.Instrument{ID: "MSFT", Symbol: "MSFT", Currency: "USD", LotSize: d("10"), TickSize: d("0.01")},
	)
	suite.Require().NoError(err)

	suite.registry = registry
	suite.start = time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)
	suite.useConfig(DefaultConfig())
	suite.resetState("10000")
}

func (suite *EngineTestSuite) useConfig(cfg Config) {
	engine, err := New(cfg, suite.registry, logger.NewNopLogger())
	suite.Require().NoError(err)

	suite.engine = engine
}

func (suite *EngineTestSuite) resetState(cash string) {
	suite.state = State{
		Ledger: ledger.New("USD", types.NewWallet("USD", d(cash)), suite.registry, logger.NewNopLogger()),
		Book:   orderbook.New(),
		Last:   make(map[string]types.MarketEvent),
	}
}

func (suite *EngineTestSuite) at(step int) time.Time {
	return suite.start.Add(time.Duration(step) * time.Minute)
}

func (suite *EngineTestSuite) trade(step int, instrumentID, price, volume string) types.Batch {
	batch, err := types.NewBatch(types.NewTrade(instrumentID, suite.at(step), d(price), d(volume)))
	suite.Require().NoError(err)

	return batch
}

func (suite *EngineTestSuite) order(seq uint64, req types.OrderRequest) types.Order {
	return types.NewOrderFromRequest(fmt.Sprintf("o%d", seq), seq, req, suite.start)
}

func market(instrumentID string, side types.Side, size string) types.OrderRequest {
	return types.OrderRequest{InstrumentID: instrumentID, Side: side, Type: types.OrderTypeMarket, Size: d(size)}
}

func limit(instrumentID string, side types.Side, size, price string) types.OrderRequest {
	return types.OrderRequest{
		InstrumentID: instrumentID,
		Side:         side,
		Type:         types.OrderTypeLimit,
		Size:         d(size),
		LimitPrice:   optional.Some(d(price)),
	}
}

// resolve runs one batch and commits the resulting state.
func (suite *EngineTestSuite) resolve(batch types.Batch, orders []types.Order, cancels ...types.Cancellation) Result {
	result, err := suite.engine.Resolve(context.Background(), batch, suite.state, orders, cancels)
	suite.Require().NoError(err)

	suite.state = result.State

	return result
}

func (suite *EngineTestSuite) closedOrder(id string) types.Order {
	for _, order := range suite.state.Ledger.ClosedOrders() {
		if order.ID == id {
			return order
		}
	}

	suite.FailNow("order not closed", id)

	return types.Order{}
}

func statuses(updates []types.OrderUpdate) []types.OrderStatus {
	result := make([]types.OrderStatus, 0, len(updates))
	for _, update := range updates {
		result = append(result, update.Status)
	}

	return result
}

func (suite *EngineTestSuite) TestRoundTripScenario() {
	cfg := DefaultConfig()
	cfg.Fee = commission_fee.Config{Broker: commission_fee.BrokerFixed, Amount: d("1")}
	suite.useConfig(cfg)

	first := suite.resolve(suite.trade(0, "AAPL", "100", "1000"),
		[]types.Order{suite.order(1, market("AAPL", types.SideBuy, "10"))})
	suite.Require().Len(first.Fills, 1)
	suite.True(first.Fills[0].Price.Equal(d("100")))
	suite.Equal([]types.OrderStatus{types.OrderStatusOpen, types.OrderStatusFilled}, statuses(first.Updates))
	suite.True(suite.state.Ledger.Cash("USD").Equal(d("8999")))

	second := suite.resolve(suite.trade(1, "AAPL", "101", "1000"),
		[]types.Order{suite.order(2, limit("AAPL", types.SideSell, "10", "101"))})
	suite.Require().Len(second.Fills, 1)
	suite.True(second.Fills[0].Price.Equal(d("101")))
	suite.True(second.Fills[0].RealizedPnL.Equal(d("10")))

	third := suite.resolve(suite.trade(2, "AAPL", "99", "1000"), nil)
	suite.Empty(third.Fills)

	snapshot := suite.state.Ledger.Snapshot()
	suite.True(snapshot.Position("AAPL").IsFlat())
	suite.True(snapshot.GrossRealizedPnL.Equal(d("10")))
	suite.True(snapshot.TotalFees.Equal(d("2")))
	suite.True(snapshot.RealizedPnL.Equal(d("8")))
	suite.True(snapshot.Cash.Get("USD").Equal(d("10008")))
	suite.Empty(snapshot.OpenOrders)
	suite.NoError(suite.state.Ledger.Verify())
}

func (suite *EngineTestSuite) TestInsufficientCashRejects() {
	result := suite.resolve(suite.trade(0, "AAPL", "100", "1000"),
		[]types.Order{suite.order(1, market("AAPL", types.SideBuy, "200"))})

	suite.Empty(result.Fills)
	suite.Equal([]types.OrderStatus{types.OrderStatusOpen, types.OrderStatusRejected}, statuses(result.Updates))
	suite.Equal(types.OrderReasonInsufficientFunds, result.Updates[1].Reason.Reason)
	suite.True(suite.state.Ledger.Cash("USD").Equal(d("10000")))
	suite.Empty(suite.state.Ledger.Fills())
	suite.Equal(types.OrderStatusRejected, suite.closedOrder("o1").Status)
}

func (suite *EngineTestSuite) TestPartialFillToLimit() {
	cfg := DefaultConfig()
	cfg.Risk.PartialFillToLimit = true
	suite.useConfig(cfg)

	result := suite.resolve(suite.trade(0, "AAPL", "100", "1000"),
		[]types.Order{suite.order(1, market("AAPL", types.SideBuy, "150"))})

	suite.Require().Len(result.Fills, 1)
	suite.True(result.Fills[0].Size.Equal(d("100")))
	suite.Equal([]types.OrderStatus{
		types.OrderStatusOpen, types.OrderStatusPartiallyFilled, types.OrderStatusCancelled,
	}, statuses(result.Updates))
	suite.Equal(types.OrderReasonInsufficientFunds, result.Updates[2].Reason.Reason)
	suite.True(suite.state.Ledger.Cash("USD").IsZero())
}

func (suite *EngineTestSuite) TestPartiallyFilledOrderFailingRiskIsCancelled() {
	cfg := DefaultConfig()
	cfg.Fee = commission_fee.Config{Broker: commission_fee.BrokerFixed, Amount: d("1")}
	cfg.Liquidity = LiquidityConfig{Kind: LiquidityVolume, ParticipationRate: d("0.5")}
	suite.useConfig(cfg)
	suite.resetState("1000")

	first := suite.resolve(suite.trade(0, "AAPL", "100", "10"),
		[]types.Order{suite.order(1, limit("AAPL", types.SideBuy, "10", "100"))})
	suite.Require().Len(first.Fills, 1)
	suite.True(first.Fills[0].Size.Equal(d("5")))
	suite.True(suite.state.Ledger.Cash("USD").Equal(d("499")))

	second := suite.resolve(suite.trade(1, "AAPL", "100", "100"), nil)
	suite.Empty(second.Fills)
	suite.Equal([]types.OrderStatus{types.OrderStatusCancelled}, statuses(second.Updates))
	suite.Equal(types.OrderReasonInsufficientFunds, second.Updates[0].Reason.Reason)
}

func (suite *EngineTestSuite) TestDayOrderExpiresAtSessionEnd() {
	day := limit("AAPL", types.SideBuy, "10", "90")
	day.TimeInForce = types.TimeInForceDay

	first := suite.resolve(suite.trade(0, "AAPL", "100", "1000"), []types.Order{suite.order(1, day)})
	suite.Equal([]types.OrderStatus{types.OrderStatusOpen}, statuses(first.Updates))

	evening, err := types.NewBatch(types.NewTrade("AAPL", suite.start.Add(5*time.Hour), d("95"), d("10")))
	suite.Require().NoError(err)
	suite.Empty(suite.resolve(evening, nil).Updates)

	nextDay, err := types.NewBatch(types.NewTrade("AAPL", suite.start.Add(24*time.Hour), d("89"), d("10")))
	suite.Require().NoError(err)

	result := suite.resolve(nextDay, nil)
	suite.Empty(result.Fills)
	suite.Equal([]types.OrderStatus{types.OrderStatusExpired}, statuses(result.Updates))
	suite.Equal(types.OrderReasonSessionEnded, result.Updates[0].Reason.Reason)
	suite.Equal(types.OrderStatusExpired, suite.closedOrder("o1").Status)
}

func (suite *EngineTestSuite) TestGoodTillDateExpiry() {
	gtd := limit("AAPL", types.SideBuy, "10", "90")
	gtd.TimeInForce = types.TimeInForceGTD
	gtd.ExpireAt = optional.Some(suite.at(1))

	suite.resolve(suite.trade(0, "AAPL", "100", "1000"), []types.Order{suite.order(1, gtd)})
	suite.Empty(suite.resolve(suite.trade(1, "AAPL", "99", "1000"), nil).Updates)

	result := suite.resolve(suite.trade(2, "AAPL", "80", "1000"), nil)
	suite.Empty(result.Fills)
	suite.Equal([]types.OrderStatus{types.OrderStatusExpired}, statuses(result.Updates))
	suite.Equal(types.OrderReasonExpireAtReached, result.Updates[0].Reason.Reason)
}

func (suite *EngineTestSuite) TestCancelBeforeFill() {
	suite.resolve(suite.trade(0, "AAPL", "100", "1000"),
		[]types.Order{suite.order(1, limit("AAPL", types.SideBuy, "10", "99"))})

	result := suite.resolve(suite.trade(1, "AAPL", "98", "1000"), nil, types.Cancellation{OrderID: "o1"})

	suite.Empty(result.Fills)
	suite.Equal([]types.OrderStatus{types.OrderStatusCancelled}, statuses(result.Updates))
	suite.Equal(types.OrderReasonCancelRequested, result.Updates[0].Reason.Reason)
	suite.Zero(suite.state.Book.Len())
}

func (suite *EngineTestSuite) TestCancelOfUnknownOrderIsIgnored() {
	result := suite.resolve(suite.trade(0, "AAPL", "100", "1000"), nil, types.Cancellation{OrderID: "missing"})
	suite.Empty(result.Updates)
}

func (suite *EngineTestSuite) TestOrderValidation() {
	msftBatch, err := types.NewBatch(
		types.NewTrade("AAPL", suite.start, d("100"), d("1000")),
		types.NewTrade("MSFT", suite.start, d("300"), d("1000")),
	)
	suite.Require().NoError(err)

	tests := []struct {
		name    string
		batch   types.Batch
		request types.OrderRequest
		reason  string
	}{
		{
			name:    "non positive size",
			batch:   suite.trade(0, "AAPL", "100", "1000"),
			request: market("AAPL", types.SideBuy, "0"),
			reason:  types.OrderReasonInvalidOrder,
		},
		{
			name:    "unregistered instrument",
			batch:   suite.trade(0, "AAPL", "100", "1000"),
			request: market("TSLA", types.SideBuy, "1"),
			reason:  types.OrderReasonUnknownInstrument,
		},
		{
			name:    "no price seen yet",
			batch:   suite.trade(0, "AAPL", "100", "1000"),
			request: market("MSFT", types.SideBuy, "10"),
			reason:  types.OrderReasonUnknownPriceReference,
		},
		{
			name:    "size not a lot multiple",
			batch:   msftBatch,
			request: market("MSFT", types.SideBuy, "15"),
			reason:  types.OrderReasonInvalidLotSize,
		},
		{
			name:    "limit order without price",
			batch:   suite.trade(0, "AAPL", "100", "1000"),
			request: types.OrderRequest{InstrumentID: "AAPL", Side: types.SideBuy, Type: types.OrderTypeLimit, Size: d("1")},
			reason:  types.OrderReasonInvalidOrder,
		},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			suite.resetState("10000")

			result := suite.resolve(tc.batch, []types.Order{suite.order(1, tc.request)})

			suite.Empty(result.Fills)
			suite.Require().Len(result.Updates, 1)
			suite.Equal(types.OrderStatusNew, result.Updates[0].From)
			suite.Equal(types.OrderStatusRejected, result.Updates[0].Status)
			suite.Equal(tc.reason, result.Updates[0].Reason.Reason)
			suite.True(suite.state.Ledger.Cash("USD").Equal(d("10000")))
		})
	}
}

func (suite *EngineTestSuite) TestDuplicateOrderIDAborts() {
	order := suite.order(1, market("AAPL", types.SideBuy, "1"))

	_, err := suite.engine.Resolve(context.Background(), suite.trade(0, "AAPL", "100", "1000"), suite.state,
		[]types.Order{order, order}, nil)
	suite.True(errors.HasCode(err, errors.ErrCodeDuplicateOrder))
	suite.Zero(suite.state.Book.Len())
}

func (suite *EngineTestSuite) TestLimitOrderCrossing() {
	tests := []struct {
		name    string
		request types.OrderRequest
		// working places the order on a trade at 100 before event arrives
		working  bool
		event    types.MarketEvent
		filled   bool
		expected string
	}{
		{
			name:     "buy limit fills at limit inside bar",
			request:  limit("AAPL", types.SideBuy, "1", "99"),
			working:  true,
			event:    types.NewBar("AAPL", suite.at(1), d("100"), d("101"), d("98"), d("100"), d("1000")),
			filled:   true,
			expected: "99",
		},
		{
			name:     "buy limit fills at open on gap down",
			request:  limit("AAPL", types.SideBuy, "1", "99"),
			working:  true,
			event:    types.NewBar("AAPL", suite.at(1), d("97"), d("98"), d("96"), d("97"), d("1000")),
			filled:   true,
			expected: "97",
		},
		{
			name:    "buy limit below the low stays open",
			request: limit("AAPL", types.SideBuy, "1", "95"),
			working: true,
			event:   types.NewBar("AAPL", suite.at(1), d("100"), d("101"), d("98"), d("100"), d("1000")),
			filled:  false,
		},
		{
			name:     "sell limit fills at the bid",
			request:  limit("AAPL", types.SideSell, "1", "99"),
			event:    types.NewQuote("AAPL", suite.start, d("99.5"), d("99.6"), d("100"), d("100")),
			filled:   true,
			expected: "99.5",
		},
		{
			name:    "sell limit above the bid stays open",
			request: limit("AAPL", types.SideSell, "1", "100"),
			event:   types.NewQuote("AAPL", suite.start, d("99.5"), d("99.6"), d("100"), d("100")),
			filled:  false,
		},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			cfg := DefaultConfig()
			cfg.Risk.AllowShort = true
			suite.useConfig(cfg)
			suite.resetState("10000")

			batch, err := types.NewBatch(tc.event)
			suite.Require().NoError(err)

			orders := []types.Order{suite.order(1, tc.request)}
			if tc.working {
				suite.Empty(suite.resolve(suite.trade(0, "AAPL", "100", "1000"), orders).Fills)
				orders = nil
			}

			result := suite.resolve(batch, orders)
			if !tc.filled {
				suite.Empty(result.Fills)
				suite.Equal(1, suite.state.Book.Len())

				return
			}

			suite.Require().Len(result.Fills, 1)
			suite.True(result.Fills[0].Price.Equal(d(tc.expected)), "got %s", result.Fills[0].Price)
		})
	}
}

func (suite *EngineTestSuite) TestStopOrders() {
	stop := types.OrderRequest{
		InstrumentID: "AAPL",
		Side:         types.SideBuy,
		Type:         types.OrderTypeStop,
		Size:         d("10"),
		StopPrice:    optional.Some(d("105")),
	}
	stopLimit := types.OrderRequest{
		InstrumentID: "AAPL",
		Side:         types.SideBuy,
		Type:         types.OrderTypeStopLimit,
		Size:         d("10"),
		StopPrice:    optional.Some(d("105")),
		LimitPrice:   optional.Some(d("105.5")),
	}

	first := suite.resolve(suite.trade(0, "AAPL", "100", "1000"),
		[]types.Order{suite.order(1, stop), suite.order(2, stopLimit)})
	suite.Empty(first.Fills)
	suite.Equal(2, suite.state.Book.Len())

	bar, err := types.NewBatch(types.NewBar("AAPL", suite.at(1), d("106"), d("107"), d("104"), d("106"), d("1000")))
	suite.Require().NoError(err)

	second := suite.resolve(bar, nil)
	suite.Require().Len(second.Fills, 2)
	suite.Equal("o1", second.Fills[0].OrderID)
	suite.True(second.Fills[0].Price.Equal(d("106")))
	suite.Equal("o2", second.Fills[1].OrderID)
	suite.True(second.Fills[1].Price.Equal(d("105.5")))
}

func (suite *EngineTestSuite) TestStopLimitTriggeredInsideBarPricesFromStop() {
	tests := []struct {
		name     string
		request  types.OrderRequest
		bar      types.MarketEvent
		expected string
	}{
		{
			name: "buy",
			request: types.OrderRequest{
				InstrumentID: "AAPL",
				Side:         types.SideBuy,
				Type:         types.OrderTypeStopLimit,
				Size:         d("10"),
				StopPrice:    optional.Some(d("105")),
				LimitPrice:   optional.Some(d("106")),
			},
			bar:      types.NewBar("AAPL", suite.at(1), d("100"), d("107"), d("99"), d("100"), d("1000")),
			expected: "105",
		},
		{
			name: "sell",
			request: types.OrderRequest{
				InstrumentID: "AAPL",
				Side:         types.SideSell,
				Type:         types.OrderTypeStopLimit,
				Size:         d("10"),
				StopPrice:    optional.Some(d("95")),
				LimitPrice:   optional.Some(d("94")),
			},
			bar:      types.NewBar("AAPL", suite.at(1), d("100"), d("101"), d("93"), d("100"), d("1000")),
			expected: "95",
		},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			cfg := DefaultConfig()
			cfg.Risk.AllowShort = true
			suite.useConfig(cfg)
			suite.resetState("10000")

			suite.Empty(suite.resolve(suite.trade(0, "AAPL", "100", "1000"), []types.Order{suite.order(1, tc.request)}).Fills)

			batch, err := types.NewBatch(tc.bar)
			suite.Require().NoError(err)

			result := suite.resolve(batch, nil)
			suite.Require().Len(result.Fills, 1)
			suite.True(result.Fills[0].Price.Equal(d(tc.expected)), "got %s", result.Fills[0].Price)
		})
	}
}

func (suite *EngineTestSuite) TestNewOrdersOnlyTradeAtTheBarClose() {
	seen, err := types.NewBatch(types.NewBar("AAPL", suite.at(0), d("100"), d("100"), d("90"), d("100"), d("1000")))
	suite.Require().NoError(err)

	orders := []types.Order{
		suite.order(1, limit("AAPL", types.SideBuy, "10", "90.01")),
		suite.order(2, limit("AAPL", types.SideBuy, "1", "100")),
	}

	first := suite.resolve(seen, orders)
	suite.Require().Len(first.Fills, 1)
	suite.Equal("o2", first.Fills[0].OrderID)
	suite.True(first.Fills[0].Price.Equal(d("100")))

	order, ok := suite.state.Book.Get("o1")
	suite.Require().True(ok)
	suite.Equal(types.OrderStatusOpen, order.Status)

	// once working, the next bar's range counts
	next, err := types.NewBatch(types.NewBar("AAPL", suite.at(1), d("100"), d("101"), d("89"), d("95"), d("1000")))
	suite.Require().NoError(err)

	second := suite.resolve(next, nil)
	suite.Require().Len(second.Fills, 1)
	suite.Equal("o1", second.Fills[0].OrderID)
	suite.True(second.Fills[0].Price.Equal(d("90.01")))
}

func (suite *EngineTestSuite) TestStopWaitsForTrigger() {
	stop := types.OrderRequest{
		InstrumentID: "AAPL",
		Side:         types.SideBuy,
		Type:         types.OrderTypeStopLimit,
		Size:         d("10"),
		StopPrice:    optional.Some(d("105")),
		LimitPrice:   optional.Some(d("100")),
	}

	suite.resolve(suite.trade(0, "AAPL", "100", "1000"), []types.Order{suite.order(1, stop)})

	// triggered but the limit is not reached
	suite.Empty(suite.resolve(suite.trade(1, "AAPL", "106", "1000"), nil).Fills)

	order, ok := suite.state.Book.Get("o1")
	suite.Require().True(ok)
	suite.True(order.Triggered)

	result := suite.resolve(suite.trade(2, "AAPL", "99", "1000"), nil)
	suite.Require().Len(result.Fills, 1)
	suite.True(result.Fills[0].Price.Equal(d("99")))
}

func (suite *EngineTestSuite) TestFIFOAllocationUnderVolumeLiquidity() {
	cfg := DefaultConfig()
	cfg.Liquidity = LiquidityConfig{Kind: LiquidityVolume, ParticipationRate: d("0.5")}
	suite.useConfig(cfg)

	orders := []types.Order{
		suite.order(2, limit("AAPL", types.SideBuy, "10", "101")),
		suite.order(1, limit("AAPL", types.SideBuy, "10", "101")),
		suite.order(3, limit("AAPL", types.SideBuy, "10", "101")),
	}

	result := suite.resolve(suite.trade(0, "AAPL", "100", "30"), orders)

	suite.Require().Len(result.Fills, 2)
	suite.Equal("o1", result.Fills[0].OrderID)
	suite.True(result.Fills[0].Size.Equal(d("10")))
	suite.Equal("o2", result.Fills[1].OrderID)
	suite.True(result.Fills[1].Size.Equal(d("5")))

	second, ok := suite.state.Book.Get("o2")
	suite.Require().True(ok)
	suite.Equal(types.OrderStatusPartiallyFilled, second.Status)

	third, ok := suite.state.Book.Get("o3")
	suite.Require().True(ok)
	suite.Equal(types.OrderStatusOpen, third.Status)
}

func (suite *EngineTestSuite) TestSlippageAndFees() {
	cfg := DefaultConfig()
	cfg.Slippage = slippage.Config{Kind: slippage.KindPercentage, Value: d("10")}
	cfg.Fee = commission_fee.Config{Broker: commission_fee.BrokerProportional, Amount: d("0.001")}
	suite.useConfig(cfg)

	result := suite.resolve(suite.trade(0, "AAPL", "100", "1000"),
		[]types.Order{suite.order(1, market("AAPL", types.SideBuy, "10"))})

	suite.Require().Len(result.Fills, 1)
	suite.True(result.Fills[0].Price.Equal(d("100.1")))
	suite.True(result.Fills[0].Fee.Equal(d("1.001")))
	suite.True(suite.state.Ledger.Cash("USD").Equal(d("8997.999")))
}

func (suite *EngineTestSuite) TestShortSelling() {
	result := suite.resolve(suite.trade(0, "AAPL", "100", "1000"),
		[]types.Order{suite.order(1, market("AAPL", types.SideSell, "10"))})
	suite.Empty(result.Fills)
	suite.Equal(types.OrderReasonShortingNotAllowed, result.Updates[1].Reason.Reason)

	cfg := DefaultConfig()
	cfg.Risk.AllowShort = true
	suite.useConfig(cfg)

	result = suite.resolve(suite.trade(1, "AAPL", "100", "1000"),
		[]types.Order{suite.order(2, market("AAPL", types.SideSell, "10"))})
	suite.Require().Len(result.Fills, 1)
	suite.True(suite.state.Ledger.Position("AAPL").Size.Equal(d("-10")))
	suite.True(suite.state.Ledger.Cash("USD").Equal(d("11000")))
}

func (suite *EngineTestSuite) TestPositionLimit() {
	cfg := DefaultConfig()
	cfg.Risk.MaxPosition = map[string]decimal.Decimal{"AAPL": d("5")}
	suite.useConfig(cfg)

	result := suite.resolve(suite.trade(0, "AAPL", "100", "1000"),
		[]types.Order{suite.order(1, market("AAPL", types.SideBuy, "10"))})

	suite.Empty(result.Fills)
	suite.Equal(types.OrderReasonPositionLimitExceeded, result.Updates[1].Reason.Reason)
}

func (suite *EngineTestSuite) TestImmediateOrCancel() {
	ioc := limit("AAPL", types.SideBuy, "10", "90")
	ioc.TimeInForce = types.TimeInForceIOC

	result := suite.resolve(suite.trade(0, "AAPL", "100", "1000"), []types.Order{suite.order(1, ioc)})

	suite.Empty(result.Fills)
	suite.Equal([]types.OrderStatus{types.OrderStatusOpen, types.OrderStatusCancelled}, statuses(result.Updates))
	suite.Equal(types.OrderReasonImmediateOrCancel, result.Updates[1].Reason.Reason)
}

func (suite *EngineTestSuite) TestDeterminism() {
	cfg := DefaultConfig()
	cfg.Fee = commission_fee.Config{Broker: commission_fee.BrokerProportional, Amount: d("0.0005")}
	cfg.Liquidity = LiquidityConfig{Kind: LiquidityVolume, ParticipationRate: d("0.25")}
	suite.useConfig(cfg)

	run := func() ([]types.Fill, types.AccountSnapshot) {
		suite.resetState("10000")

		prices := []string{"100", "99.5", "101.25", "98", "100.75"}
		for step, price := range prices {
			orders := []types.Order{
				suite.order(uint64(step*2+1), limit("AAPL", types.SideBuy, "7", price)),
				suite.order(uint64(step*2+2), market("AAPL", types.SideBuy, "3")),
			}
			suite.resolve(suite.trade(step, "AAPL", price, "40"), orders)
		}

		return suite.state.Ledger.Fills(), suite.state.Ledger.Snapshot()
	}

	firstFills, firstSnapshot := run()
	secondFills, secondSnapshot := run()

	suite.NotEmpty(firstFills)
	suite.Equal(firstFills, secondFills)
	suite.Equal(firstSnapshot, secondSnapshot)
}

func (suite *EngineTestSuite) TestResolveLeavesInputStateUntouched() {
	before := suite.state

	result := suite.resolve(suite.trade(0, "AAPL", "100", "1000"),
		[]types.Order{suite.order(1, market("AAPL", types.SideBuy, "10"))})
	suite.Len(result.Fills, 1)

	suite.True(before.Ledger.Cash("USD").Equal(d("10000")))
	suite.Zero(before.Book.Len())
	suite.Empty(before.Last)
	suite.Empty(before.Ledger.Fills())
}

func (suite *EngineTestSuite) TestFinishExpiresWorkingOrders() {
	suite.resolve(suite.trade(0, "AAPL", "100", "1000"), []types.Order{
		suite.order(1, limit("AAPL", types.SideBuy, "1", "90")),
		suite.order(2, limit("AAPL", types.SideBuy, "1", "91")),
	})

	result, err := suite.engine.Finish(context.Background(), suite.state, suite.at(1))
	suite.Require().NoError(err)

	suite.Equal([]types.OrderStatus{types.OrderStatusExpired, types.OrderStatusExpired}, statuses(result.Updates))
	suite.Equal(types.OrderReasonEndOfData, result.Updates[0].Reason.Reason)
	suite.Zero(result.State.Book.Len())
	suite.Empty(result.State.Ledger.Snapshot().OpenOrders)
}

func (suite *EngineTestSuite) TestLiveHelpers() {
	ctx := context.Background()
	suite.state.Last["AAPL"] = types.NewTrade("AAPL", suite.start, d("100"), d("1000"))

	accepted, err := suite.engine.Accept(ctx, suite.state, []types.Order{
		suite.order(1, limit("AAPL", types.SideBuy, "10", "100")),
		suite.order(2, limit("AAPL", types.SideBuy, "10", "95")),
	}, suite.start)
	suite.Require().NoError(err)
	suite.Empty(accepted.Fills)
	suite.Equal(2, accepted.State.Book.Len())

	filled, err := suite.engine.ApplyExternalFill(ctx, accepted.State, types.Fill{
		OrderID:      "o1",
		InstrumentID: "AAPL",
		Time:         suite.at(1),
		Side:         types.SideBuy,
		Size:         d("4"),
		Price:        d("99.9"),
		Fee:          d("0.5"),
	})
	suite.Require().NoError(err)
	suite.Require().Len(filled.Fills, 1)
	suite.Equal(types.OrderStatusPartiallyFilled, filled.Updates[0].Status)
	suite.True(filled.State.Ledger.Position("AAPL").Size.Equal(d("4")))
	suite.True(filled.State.Ledger.Cash("USD").Equal(d("9599.9")))

	_, err = suite.engine.ApplyExternalFill(ctx, filled.State, types.Fill{
		OrderID: "unknown", InstrumentID: "AAPL", Time: suite.at(1), Side: types.SideBuy, Size: d("1"), Price: d("1"),
	})
	suite.True(errors.HasCode(err, errors.ErrCodeOrderNotFound))

	cancelled, err := suite.engine.Close(ctx, filled.State, "o1", types.OrderStatusCancelled,
		types.Reason{Reason: types.OrderReasonCancelRequested, Message: "cancel acknowledged"}, suite.at(2))
	suite.Require().NoError(err)
	suite.Equal(types.OrderStatusCancelled, cancelled.Updates[0].Status)

	rejected, err := suite.engine.Close(ctx, cancelled.State, "o2", types.OrderStatusRejected,
		types.Reason{Reason: types.OrderReasonVenueRejected, Message: "market closed"}, suite.at(2))
	suite.Require().NoError(err)
	suite.Equal(types.OrderStatusRejected, rejected.Updates[0].Status)
	suite.Zero(rejected.State.Book.Len())
}

func (suite *EngineTestSuite) TestInvalidConfig() {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"price reference", func(cfg *Config) { cfg.PriceReference = "vwap" }},
		{"fee", func(cfg *Config) { cfg.Fee.Broker = "unknown" }},
		{"slippage", func(cfg *Config) { cfg.Slippage.Kind = "unknown" }},
		{"liquidity rate", func(cfg *Config) { cfg.Liquidity = LiquidityConfig{Kind: LiquidityVolume, ParticipationRate: d("2")} }},
		{"time zone", func(cfg *Config) { cfg.Session.Timezone = "Mars/Olympus" }},
		{"session close", func(cfg *Config) { cfg.Session.Close = "25:99" }},
		{"short margin", func(cfg *Config) { cfg.Risk.ShortMargin = d("-1") }},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			cfg := DefaultConfig()
			tc.mutate(&cfg)

			_, err := New(cfg, suite.registry, nil)
			suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
		})
	}
}
