package runloop

import (
	"context"
	stderrors "errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-engine/internal/decision"
	"github.com/rxtech-lab/argo-engine/internal/execution/commission_fee"
	"github.com/rxtech-lab/argo-engine/internal/feed"
	"github.com/rxtech-lab/argo-engine/internal/logger"
	"github.com/rxtech-lab/argo-engine/internal/observer"
	"github.com/rxtech-lab/argo-engine/internal/types"
	"github.com/rxtech-lab/argo-engine/internal/venue"
	"github.com/rxtech-lab/argo-engine/mocks"
	argoErrors "github.com/rxtech-lab/argo-engine/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
)

type RunLoopTestSuite struct {
	suite.Suite
	registry *types.InstrumentRegistry
	start    time.Time
	initial  Initial
}

func TestRunLoopSuite(t *testing.T) {
	suite.Run(t, new(RunLoopTestSuite))
}

func d(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func (suite *RunLoopTestSuite) SetupTest() {
	registry, err := types.NewInstrumentRegistry(
		types.Instrument{ID: "AAPL", Symbol: "AAPL", Currency: "USD", LotSize: d("1"), TickSize: d("0.01")},
		types.Instrument{ID: "MSFT", Symbol: "MSFT", Currency: "USD", LotSize: d("1"), TickSize: d("0.01")},
	)
	suite.Require().NoError(err)

	suite.registry = registry
	suite.start = time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)
	suite.initial = Initial{BaseCurrency: "USD", Cash: types.NewWallet("USD", d("10000"))}
}

func (suite *RunLoopTestSuite) at(step int) time.Time {
	return suite.start.Add(time.Duration(step) * time.Minute)
}

func (suite *RunLoopTestSuite) trade(step int, instrumentID, price string) types.MarketEvent {
	return types.NewTrade(instrumentID, suite.at(step), d(price), d("1000"))
}

func (suite *RunLoopTestSuite) batch(step int, instrumentID, price string) types.Batch {
	batch, err := types.NewBatch(suite.trade(step, instrumentID, price))
	suite.Require().NoError(err)

	return batch
}

func (suite *RunLoopTestSuite) prices(prices ...string) *feed.SliceFeed {
	events := make([]types.MarketEvent, 0, len(prices))
	for i, price := range prices {
		events = append(events, suite.trade(i, "AAPL", price))
	}

	return feed.NewSliceFeed(events...)
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

func orders(requests ...types.OrderRequest) decision.Decision {
	return decision.Decision{Orders: requests}
}

// recorder keeps every report an observer receives.
type recorder struct {
	mu      sync.Mutex
	reports []observer.Report
}

func (r *recorder) Observe(_ context.Context, report observer.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reports = append(r.reports, report)

	return nil
}

func (r *recorder) updates() []types.OrderUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()

	var updates []types.OrderUpdate
	for _, report := range r.reports {
		updates = append(updates, report.Updates...)
	}

	return updates
}

func (r *recorder) fills() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var fills []string
	for _, report := range r.reports {
		for _, fill := range report.Fills {
			fills = append(fills, fmt.Sprintf("%s %s %s %s %s",
				fill.OrderID, fill.Time.Format(time.RFC3339), fill.Side, fill.Size, fill.Price))
		}
	}

	return fills
}

func statuses(updates []types.OrderUpdate) []types.OrderStatus {
	result := make([]types.OrderStatus, 0, len(updates))
	for _, update := range updates {
		result = append(result, update.Status)
	}

	return result
}

func (suite *RunLoopTestSuite) TestRoundTrip() {
	cfg := DefaultConfig()
	cfg.Execution.Fee = commission_fee.Config{Broker: commission_fee.BrokerFixed, Amount: d("1")}
	cfg.VerifyLedger = true

	strategy := decision.StrategyFunc(func(_ context.Context, snapshot decision.Snapshot) (decision.Decision, error) {
		switch snapshot.Step {
		case 1:
			return orders(market("AAPL", types.SideBuy, "10")), nil
		case 2:
			suite.True(snapshot.Account.Position("AAPL").Size.Equal(d("10")))

			return orders(limit("AAPL", types.SideSell, "10", "101")), nil
		default:
			return decision.Decision{}, nil
		}
	})

	rec := &recorder{}
	runner := NewRunner(suite.registry, logger.NewNopLogger(), WithObserver(rec))

	final, err := runner.Run(context.Background(), suite.prices("100", "101", "99"), strategy, suite.initial, cfg)
	suite.Require().NoError(err)

	suite.True(final.Position("AAPL").IsFlat())
	suite.True(final.Cash.Get("USD").Equal(d("10008")))
	suite.True(final.GrossRealizedPnL.Equal(d("10")))
	suite.True(final.TotalFees.Equal(d("2")))
	suite.True(final.RealizedPnL.Equal(d("8")))
	suite.Equal(2, final.FillCount)
	suite.Empty(final.OpenOrders)
	suite.Equal(final, runner.Snapshot())

	suite.Require().Len(rec.reports, 3)
	suite.Equal([]int{1, 2, 3}, []int{rec.reports[0].Step, rec.reports[1].Step, rec.reports[2].Step})
	suite.True(rec.reports[0].Equity.Equal(d("9999")))
	suite.True(rec.reports[2].Equity.Equal(d("10008")))
}

func (suite *RunLoopTestSuite) TestOrderingViolationAbortsWithLastCommittedState() {
	source := feed.NewSliceFeed(
		suite.trade(0, "AAPL", "100"),
		suite.trade(2, "AAPL", "100"),
		suite.trade(1, "AAPL", "100"),
	)

	calls := 0
	strategy := decision.StrategyFunc(func(context.Context, decision.Snapshot) (decision.Decision, error) {
		calls++

		return orders(market("AAPL", types.SideBuy, "1")), nil
	})

	var stopErr error

	runner := NewRunner(suite.registry, nil, WithCallbacks(observer.Callbacks{
		OnRunStop: func(_ types.AccountSnapshot, err error) { stopErr = err },
	}))

	final, err := runner.Run(context.Background(), source, strategy, suite.initial, DefaultConfig())
	suite.Require().Error(err)
	suite.True(argoErrors.HasCode(err, argoErrors.ErrCodeOrderingViolation))
	suite.True(argoErrors.IsFatal(err))
	suite.Equal(err, stopErr)

	suite.Equal(2, calls)
	suite.True(final.Position("AAPL").Size.Equal(d("2")))
	suite.Equal(suite.at(2), final.Time)
}

func (suite *RunLoopTestSuite) TestStrategyOnlySeesPastData() {
	source := feed.NewSliceFeed(
		suite.trade(0, "AAPL", "100"),
		suite.trade(1, "MSFT", "50"),
		suite.trade(2, "AAPL", "101"),
	)

	var seen [][]string

	strategy := decision.StrategyFunc(func(_ context.Context, snapshot decision.Snapshot) (decision.Decision, error) {
		for _, event := range snapshot.Events {
			suite.Equal(snapshot.Time, event.Time)
		}

		suite.False(snapshot.Account.Time.After(snapshot.Time))

		ids := make([]string, 0, len(snapshot.Prices))
		for _, id := range suite.registry.IDs() {
			if snapshot.Price(id).IsSome() {
				ids = append(ids, id)
			}
		}

		seen = append(seen, ids)

		return decision.Decision{}, nil
	})

	runner := NewRunner(suite.registry, nil)
	_, err := runner.Run(context.Background(), source, strategy, suite.initial, DefaultConfig())
	suite.Require().NoError(err)

	suite.Equal([][]string{{"AAPL"}, {"AAPL", "MSFT"}, {"AAPL", "MSFT"}}, seen)
}

func (suite *RunLoopTestSuite) TestReplayIsDeterministic() {
	config := mocks.DefaultConfig()
	config.Count = 300
	events := mocks.NewDataGenerator(11).GenerateMultiSymbol([]string{"AAPL", "MSFT"}, config)

	strategy := decision.StrategyFunc(func(_ context.Context, snapshot decision.Snapshot) (decision.Decision, error) {
		switch {
		case snapshot.Step%5 == 0:
			return orders(market("AAPL", types.SideBuy, "2"), market("MSFT", types.SideBuy, "1")), nil
		case snapshot.Step%7 == 0 && snapshot.Account.Position("AAPL").IsLong():
			return orders(market("AAPL", types.SideSell, "1")), nil
		default:
			return decision.Decision{}, nil
		}
	})

	run := func() (types.AccountSnapshot, []string) {
		rec := &recorder{}
		runner := NewRunner(suite.registry, nil, WithObserver(rec))

		final, err := runner.Run(context.Background(), feed.NewSliceFeed(events...), strategy, suite.initial, DefaultConfig())
		suite.Require().NoError(err)

		return final, rec.fills()
	}

	first, firstFills := run()
	second, secondFills := run()

	suite.NotEmpty(firstFills)
	suite.Equal(firstFills, secondFills)
	suite.True(first.Cash.Get("USD").Equal(second.Cash.Get("USD")))
	suite.True(first.RealizedPnL.Equal(second.RealizedPnL))
	suite.Equal(first.FillCount, second.FillCount)
}

func (suite *RunLoopTestSuite) TestTruncatedReplayMatchesFullRunUpToCut() {
	config := mocks.DefaultConfig()
	config.Count = 300
	events := mocks.NewDataGenerator(23).GenerateMultiSymbol([]string{"AAPL", "MSFT"}, config)

	const cutStep = 120

	cut := config.StartTime.Add(time.Duration(cutStep-1) * config.Interval)

	var truncated []types.MarketEvent
	for _, event := range events {
		if !event.Time.After(cut) {
			truncated = append(truncated, event)
		}
	}

	suite.Require().Less(len(truncated), len(events))

	type outcome struct {
		decisions []string
		fills     []string
		accounts  []string
	}

	run := func(source []types.MarketEvent) outcome {
		var out outcome

		strategy := decision.StrategyFunc(func(_ context.Context, snapshot decision.Snapshot) (decision.Decision, error) {
			var decided decision.Decision

			if event, ok := snapshot.Event("AAPL"); ok && snapshot.Step%2 == 0 {
				price := event.Close.Mul(d("0.999")).Round(2)
				decided.Orders = append(decided.Orders, limit("AAPL", types.SideBuy, "1", price.String()))
			}

			if snapshot.Step%9 == 0 && snapshot.Account.Position("AAPL").IsLong() {
				decided.Orders = append(decided.Orders, market("AAPL", types.SideSell, "1"))
			}

			if snapshot.Step%10 == 0 {
				decided.Orders = append(decided.Orders, market("MSFT", types.SideBuy, "1"))
			}

			if snapshot.Step%13 == 0 && len(snapshot.Account.OpenOrders) > 0 {
				ids := make([]string, 0, len(snapshot.Account.OpenOrders))
				for id := range snapshot.Account.OpenOrders {
					ids = append(ids, id)
				}

				slices.Sort(ids)
				decided.Cancels = append(decided.Cancels, types.Cancellation{OrderID: ids[0]})
			}

			out.decisions = append(out.decisions, fmt.Sprintf("%d %v", snapshot.Step, decided))

			return decided, nil
		})

		rec := &recorder{}
		runner := NewRunner(suite.registry, nil, WithObserver(rec))

		_, err := runner.Run(context.Background(), feed.NewSliceFeed(source...), strategy, suite.initial, DefaultConfig())
		suite.Require().NoError(err)

		for _, report := range rec.reports {
			if report.Time.After(cut) {
				continue
			}

			for _, fill := range report.Fills {
				out.fills = append(out.fills, fmt.Sprintf("%s %s %s %s %s",
					fill.OrderID, fill.Time.Format(time.RFC3339), fill.Side, fill.Size, fill.Price))
			}

			// the end-of-data report repeats the last step
			if report.Step == len(out.accounts)+1 {
				out.accounts = append(out.accounts, fmt.Sprintf("%d %s %s %s",
					report.Step, report.Account.Cash.Get("USD"), report.Account.Position("AAPL").Size, report.Equity))
			}
		}

		return out
	}

	full := run(events)
	short := run(truncated)

	suite.Require().Len(short.decisions, cutStep)
	suite.Equal(full.decisions[:cutStep], short.decisions)
	suite.NotEmpty(short.fills)
	suite.Equal(full.fills, short.fills)
	suite.Equal(full.accounts, short.accounts)
}

func (suite *RunLoopTestSuite) TestStopConditions() {
	tests := []struct {
		name     string
		maxSteps optional.Option[int]
		until    optional.Option[time.Time]
		expected int
	}{
		{name: "feed exhausted", maxSteps: optional.None[int](), until: optional.None[time.Time](), expected: 5},
		{name: "max steps", maxSteps: optional.Some(3), until: optional.None[time.Time](), expected: 3},
		{name: "zero max steps", maxSteps: optional.Some(0), until: optional.None[time.Time](), expected: 0},
		{name: "until", maxSteps: optional.None[int](), until: optional.Some(suite.at(1)), expected: 2},
		{name: "both, max steps first", maxSteps: optional.Some(1), until: optional.Some(suite.at(3)), expected: 1},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			cfg := DefaultConfig()
			cfg.MaxSteps = tc.maxSteps
			cfg.Until = tc.until

			calls := 0
			strategy := decision.StrategyFunc(func(context.Context, decision.Snapshot) (decision.Decision, error) {
				calls++

				return decision.Decision{}, nil
			})

			_, err := NewRunner(suite.registry, nil).Run(context.Background(),
				suite.prices("100", "101", "102", "103", "104"), strategy, suite.initial, cfg)
			suite.Require().NoError(err)
			suite.Equal(tc.expected, calls)
		})
	}
}

func (suite *RunLoopTestSuite) TestStopFinishesBatchInFlight() {
	var runner *Runner

	calls := 0
	strategy := decision.StrategyFunc(func(_ context.Context, snapshot decision.Snapshot) (decision.Decision, error) {
		calls++
		if snapshot.Step == 2 {
			runner.Stop()
		}

		return orders(market("AAPL", types.SideBuy, "1")), nil
	})

	runner = NewRunner(suite.registry, nil)

	final, err := runner.Run(context.Background(), suite.prices("100", "101", "102", "103"), strategy, suite.initial, DefaultConfig())
	suite.Require().NoError(err)
	suite.Equal(2, calls)
	suite.True(final.Position("AAPL").Size.Equal(d("2")))
}

func (suite *RunLoopTestSuite) TestStrategyErrorSkipsBatch() {
	ctrl := gomock.NewController(suite.T())
	defer ctrl.Finish()

	strategy := mocks.NewMockStrategy(ctrl)
	gomock.InOrder(
		strategy.EXPECT().Decide(gomock.Any(), gomock.Any()).Return(decision.Decision{}, stderrors.New("boom")),
		strategy.EXPECT().Decide(gomock.Any(), gomock.Any()).Return(orders(market("AAPL", types.SideBuy, "10")), nil),
		strategy.EXPECT().Decide(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, _ decision.Snapshot) (decision.Decision, error) {
				panic("strategy bug")
			}),
	)

	var failedSteps []int

	runner := NewRunner(suite.registry, nil, WithCallbacks(observer.Callbacks{
		OnStrategyError: func(step int, err error) {
			suite.True(argoErrors.HasCode(err, argoErrors.ErrCodeStrategyRuntimeError))

			failedSteps = append(failedSteps, step)
		},
	}))

	final, err := runner.Run(context.Background(), suite.prices("100", "101", "102"), strategy, suite.initial, DefaultConfig())
	suite.Require().NoError(err)
	suite.Equal([]int{1, 3}, failedSteps)
	suite.True(final.Position("AAPL").Size.Equal(d("10")))
	suite.True(final.Cash.Get("USD").Equal(d("8990")))
}

func (suite *RunLoopTestSuite) TestObserverFailureDoesNotAbort() {
	ctrl := gomock.NewController(suite.T())
	defer ctrl.Finish()

	obs := mocks.NewMockObserver(ctrl)
	obs.EXPECT().Observe(gomock.Any(), gomock.Any()).Return(stderrors.New("disk full")).Times(3)

	strategy := decision.StrategyFunc(func(context.Context, decision.Snapshot) (decision.Decision, error) {
		return decision.Decision{}, nil
	})

	runner := NewRunner(suite.registry, nil, WithObserver(obs))
	_, err := runner.Run(context.Background(), suite.prices("100", "101", "102"), strategy, suite.initial, DefaultConfig())
	suite.NoError(err)
}

func (suite *RunLoopTestSuite) TestWorkingOrdersExpireAtEndOfData() {
	strategy := decision.StrategyFunc(func(_ context.Context, snapshot decision.Snapshot) (decision.Decision, error) {
		if snapshot.Step == 1 {
			return orders(limit("AAPL", types.SideBuy, "10", "50")), nil
		}

		return decision.Decision{}, nil
	})

	rec := &recorder{}
	runner := NewRunner(suite.registry, nil, WithObserver(rec))

	final, err := runner.Run(context.Background(), suite.prices("100", "101"), strategy, suite.initial, DefaultConfig())
	suite.Require().NoError(err)
	suite.Empty(final.OpenOrders)

	updates := rec.updates()
	suite.Equal([]types.OrderStatus{types.OrderStatusOpen, types.OrderStatusExpired}, statuses(updates))
	suite.Equal(types.OrderReasonEndOfData, updates[1].Reason.Reason)
	suite.Equal(suite.at(1), updates[1].Time)
}

func (suite *RunLoopTestSuite) TestFeedFailure() {
	ctrl := gomock.NewController(suite.T())
	defer ctrl.Finish()

	source := mocks.NewMockFeed(ctrl)
	source.EXPECT().Batches(gomock.Any()).Return(iter.Seq2[types.Batch, error](
		func(yield func(types.Batch, error) bool) {
			if !yield(suite.batch(0, "AAPL", "100"), nil) {
				return
			}

			yield(types.Batch{}, stderrors.New("connection reset"))
		}))

	calls := 0
	strategy := decision.StrategyFunc(func(context.Context, decision.Snapshot) (decision.Decision, error) {
		calls++

		return decision.Decision{}, nil
	})

	_, err := NewRunner(suite.registry, nil).Run(context.Background(), source, strategy, suite.initial, DefaultConfig())
	suite.True(argoErrors.HasCode(err, argoErrors.ErrCodeDataSourceUnavailable))
	suite.Equal(1, calls)
}

func (suite *RunLoopTestSuite) TestInvalidSetup() {
	noop := decision.StrategyFunc(func(context.Context, decision.Snapshot) (decision.Decision, error) {
		return decision.Decision{}, nil
	})

	negative := DefaultConfig()
	negative.MaxSteps = optional.Some(-1)

	tests := []struct {
		name     string
		source   feed.Feed
		strategy decision.Strategy
		initial  Initial
		cfg      Config
		code     argoErrors.ErrorCode
	}{
		{name: "no feed", source: nil, strategy: noop, initial: suite.initial, cfg: DefaultConfig(), code: argoErrors.ErrCodeRunNoDatasource},
		{name: "no strategy", source: suite.prices("1"), strategy: nil, initial: suite.initial, cfg: DefaultConfig(), code: argoErrors.ErrCodeRunNoStrategy},
		{name: "no base currency", source: suite.prices("1"), strategy: noop, initial: Initial{}, cfg: DefaultConfig(), code: argoErrors.ErrCodeInvalidConfiguration},
		{name: "negative max steps", source: suite.prices("1"), strategy: noop, initial: suite.initial, cfg: negative, code: argoErrors.ErrCodeInvalidConfiguration},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			_, err := NewRunner(suite.registry, nil).Run(context.Background(), tc.source, tc.strategy, tc.initial, tc.cfg)
			suite.True(argoErrors.HasCode(err, tc.code), "got %v", err)
		})
	}
}

func (suite *RunLoopTestSuite) TestSessionStepByStep() {
	runner := NewRunner(suite.registry, nil)
	cfg := DefaultConfig()

	strategy := decision.StrategyFunc(func(context.Context, decision.Snapshot) (decision.Decision, error) {
		return orders(market("AAPL", types.SideBuy, "5")), nil
	})

	session, err := runner.start(context.Background(), strategy, suite.initial, cfg)
	suite.Require().NoError(err)

	batch := suite.batch(0, "AAPL", "100")

	snapshot, err := session.Next(batch)
	suite.Require().NoError(err)
	suite.Equal(1, snapshot.Step)
	suite.True(snapshot.Price("AAPL").Unwrap().Equal(d("100")))

	output, err := session.Decide(context.Background(), snapshot)
	suite.Require().NoError(err)
	suite.Require().Len(output.Orders, 1)
	suite.True(session.Account().Position("AAPL").IsFlat())

	result, err := session.Apply(context.Background(), batch, output)
	suite.Require().NoError(err)
	suite.Len(result.Fills, 1)
	suite.Equal(1, session.Step())
	suite.True(session.Account().Position("AAPL").Size.Equal(d("5")))

	_, err = session.Next(batch)
	suite.True(argoErrors.HasCode(err, argoErrors.ErrCodeOrderingViolation))

	mixed := types.Batch{Time: suite.at(5), Events: []types.MarketEvent{suite.trade(4, "AAPL", "100")}}
	_, err = session.Next(mixed)
	suite.True(argoErrors.HasCode(err, argoErrors.ErrCodeInvalidBatch))

	next, err := session.Next(suite.batch(1, "AAPL", "101"))
	suite.Require().NoError(err)
	suite.Equal([]types.OrderStatus{types.OrderStatusOpen, types.OrderStatusFilled}, statuses(next.Updates))
}

// firedWall times out every wait immediately.
type firedWall struct{}

func (firedWall) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}

	return ch
}

func (firedWall) Now() time.Time {
	return time.Time{}
}

type liveResult struct {
	final types.AccountSnapshot
	err   error
}

func (suite *RunLoopTestSuite) runLive(
	runner *Runner,
	source feed.Feed,
	v venue.Venue,
	strategy decision.Strategy,
	cfg Config,
) <-chan liveResult {
	done := make(chan liveResult, 1)

	go func() {
		final, err := runner.RunLive(context.Background(), source, v, strategy, suite.initial, cfg)
		done <- liveResult{final: final, err: err}
	}()

	return done
}

func (suite *RunLoopTestSuite) wait(done <-chan liveResult) liveResult {
	select {
	case result := <-done:
		return result
	case <-time.After(5 * time.Second):
		suite.FailNow("live run did not finish")

		return liveResult{}
	}
}

func (suite *RunLoopTestSuite) TestLiveWithPaperVenue() {
	batches := make(chan types.Batch)
	strategy := decision.StrategyFunc(func(_ context.Context, snapshot decision.Snapshot) (decision.Decision, error) {
		switch snapshot.Step {
		case 1:
			return orders(market("AAPL", types.SideBuy, "10")), nil
		case 2:
			return orders(limit("AAPL", types.SideSell, "10", "102")), nil
		default:
			return decision.Decision{}, nil
		}
	})

	rec := &recorder{}
	runner := NewRunner(suite.registry, nil, WithObserver(rec))
	done := suite.runLive(runner, feed.NewChannelFeed(batches), venue.NewPaperVenue(nil, nil), strategy, DefaultConfig())

	batches <- suite.batch(0, "AAPL", "100")
	suite.Eventually(func() bool {
		return runner.Snapshot().Position("AAPL").Size.Equal(d("10"))
	}, 2*time.Second, 5*time.Millisecond)

	batches <- suite.batch(1, "AAPL", "101")
	suite.Eventually(func() bool {
		return len(runner.Snapshot().OpenOrders) == 1
	}, 2*time.Second, 5*time.Millisecond)

	batches <- suite.batch(2, "AAPL", "102.5")
	suite.Eventually(func() bool {
		return runner.Snapshot().Position("AAPL").IsFlat()
	}, 2*time.Second, 5*time.Millisecond)

	close(batches)

	result := suite.wait(done)
	suite.Require().NoError(result.err)
	// the resting sell limit at 102 trades at the better 102.5
	suite.True(result.final.Cash.Get("USD").Equal(d("10025")))
	suite.True(result.final.RealizedPnL.Equal(d("25")))
	suite.Empty(result.final.OpenOrders)
	suite.Len(rec.fills(), 2)
}

func (suite *RunLoopTestSuite) TestLiveSubmitFailureRejectsOrder() {
	ctrl := gomock.NewController(suite.T())
	defer ctrl.Finish()

	updates := make(chan venue.Update)
	v := mocks.NewMockVenue(ctrl)
	v.EXPECT().Updates().Return((<-chan venue.Update)(updates)).AnyTimes()
	v.EXPECT().Run(gomock.Any()).DoAndReturn(func(ctx context.Context) error {
		<-ctx.Done()

		return ctx.Err()
	})
	v.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(argoErrors.New(argoErrors.ErrCodeVenueError, "gateway down"))

	strategy := decision.StrategyFunc(func(_ context.Context, snapshot decision.Snapshot) (decision.Decision, error) {
		if snapshot.Step == 1 {
			return orders(market("AAPL", types.SideBuy, "10")), nil
		}

		return decision.Decision{}, nil
	})

	rec := &recorder{}
	runner := NewRunner(suite.registry, nil, WithObserver(rec))

	result := suite.wait(suite.runLive(runner, suite.prices("100", "101"), v, strategy, DefaultConfig()))
	suite.Require().NoError(result.err)
	suite.Empty(result.final.OpenOrders)
	suite.True(result.final.Position("AAPL").IsFlat())

	seen := rec.updates()
	suite.Equal([]types.OrderStatus{types.OrderStatusOpen, types.OrderStatusRejected}, statuses(seen))
	suite.Equal(types.OrderReasonVenueError, seen[1].Reason.Reason)
}

func (suite *RunLoopTestSuite) TestLiveVenueUpdatesDriveOrderState() {
	ctrl := gomock.NewController(suite.T())
	defer ctrl.Finish()

	updates := make(chan venue.Update)
	v := mocks.NewMockVenue(ctrl)
	v.EXPECT().Updates().Return((<-chan venue.Update)(updates)).AnyTimes()
	v.EXPECT().Run(gomock.Any()).DoAndReturn(func(ctx context.Context) error {
		<-ctx.Done()

		return ctx.Err()
	})

	submissions := make(chan types.Order, 1)
	v.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, order types.Order) error {
		submissions <- order

		return nil
	})

	strategy := decision.StrategyFunc(func(_ context.Context, snapshot decision.Snapshot) (decision.Decision, error) {
		if snapshot.Step == 1 {
			return orders(limit("AAPL", types.SideBuy, "10", "100")), nil
		}

		return decision.Decision{}, nil
	})

	batches := make(chan types.Batch)
	rec := &recorder{}
	runner := NewRunner(suite.registry, nil, WithObserver(rec))
	done := suite.runLive(runner, feed.NewChannelFeed(batches), v, strategy, DefaultConfig())

	batches <- suite.batch(0, "AAPL", "100")

	submitted := <-submissions
	suite.Equal(types.OrderStatusOpen, submitted.Status)
	suite.Len(runner.Snapshot().OpenOrders, 1)

	updates <- venue.Update{Kind: venue.UpdateKindAck, OrderID: submitted.ID, Time: suite.at(0)}
	updates <- venue.Update{
		Kind:    venue.UpdateKindFill,
		OrderID: submitted.ID,
		Time:    suite.at(0),
		Fill: types.Fill{
			OrderID:      submitted.ID,
			InstrumentID: "AAPL",
			Time:         suite.at(0),
			Side:         types.SideBuy,
			Size:         d("4"),
			Price:        d("100"),
			Fee:          decimal.Zero,
		},
	}
	updates <- venue.Update{Kind: venue.UpdateKindFill, OrderID: "unknown", Time: suite.at(0)}
	updates <- venue.Update{Kind: venue.UpdateKindCancelled, OrderID: submitted.ID, Time: suite.at(0)}

	suite.Eventually(func() bool {
		return len(runner.Snapshot().OpenOrders) == 0
	}, 2*time.Second, 5*time.Millisecond)

	close(batches)

	result := suite.wait(done)
	suite.Require().NoError(result.err)
	suite.True(result.final.Position("AAPL").Size.Equal(d("4")))
	suite.True(result.final.Cash.Get("USD").Equal(d("9600")))
	suite.Equal([]types.OrderStatus{
		types.OrderStatusOpen,
		types.OrderStatusPartiallyFilled,
		types.OrderStatusCancelled,
	}, statuses(rec.updates()))
}

func (suite *RunLoopTestSuite) TestLiveStallsAreReportedThenAbort() {
	var stalls []int

	cfg := DefaultConfig()
	cfg.Live.StallTimeout = time.Second
	cfg.Live.MaxConsecutiveStalls = 3

	runner := NewRunner(suite.registry, nil, WithWallClock(firedWall{}), WithCallbacks(observer.Callbacks{
		OnFeedStalled: func(consecutive int, timeout time.Duration) {
			suite.Equal(time.Second, timeout)

			stalls = append(stalls, consecutive)
		},
	}))

	strategy := decision.StrategyFunc(func(context.Context, decision.Snapshot) (decision.Decision, error) {
		return decision.Decision{}, nil
	})

	result := suite.wait(suite.runLive(runner, feed.NewChannelFeed(make(chan types.Batch)),
		venue.NewPaperVenue(nil, nil), strategy, cfg))
	suite.True(argoErrors.HasCode(result.err, argoErrors.ErrCodeFeedStalled))
	suite.Equal([]int{1, 2, 3}, stalls)
}

func (suite *RunLoopTestSuite) TestLiveOrderingViolation() {
	batches := make(chan types.Batch, 2)
	batches <- suite.batch(1, "AAPL", "100")
	batches <- suite.batch(0, "AAPL", "100")
	close(batches)

	strategy := decision.StrategyFunc(func(context.Context, decision.Snapshot) (decision.Decision, error) {
		return decision.Decision{}, nil
	})

	runner := NewRunner(suite.registry, nil)
	result := suite.wait(suite.runLive(runner, feed.NewChannelFeed(batches), venue.NewPaperVenue(nil, nil), strategy, DefaultConfig()))
	suite.True(argoErrors.HasCode(result.err, argoErrors.ErrCodeOrderingViolation))
	suite.Equal(suite.at(1), result.final.Time)
}

func (suite *RunLoopTestSuite) TestLiveStop() {
	var runner *Runner

	runner = NewRunner(suite.registry, nil, WithCallbacks(observer.Callbacks{
		OnRunStart: func(string, time.Time) { runner.Stop() },
	}))

	strategy := decision.StrategyFunc(func(context.Context, decision.Snapshot) (decision.Decision, error) {
		return decision.Decision{}, nil
	})

	result := suite.wait(suite.runLive(runner, feed.NewChannelFeed(make(chan types.Batch)),
		venue.NewPaperVenue(nil, nil), strategy, DefaultConfig()))
	suite.NoError(result.err)
	suite.True(result.final.Cash.Get("USD").Equal(d("10000")))
}

func (suite *RunLoopTestSuite) TestLiveRequiresVenue() {
	strategy := decision.StrategyFunc(func(context.Context, decision.Snapshot) (decision.Decision, error) {
		return decision.Decision{}, nil
	})

	_, err := NewRunner(suite.registry, nil).RunLive(context.Background(), suite.prices("1"), nil, strategy, suite.initial, DefaultConfig())
	suite.True(argoErrors.HasCode(err, argoErrors.ErrCodeRunNoVenue))
}
