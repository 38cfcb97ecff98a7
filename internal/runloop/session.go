package runloop

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rxtech-lab/argo-engine/internal/clock"
	"github.com/rxtech-lab/argo-engine/internal/decision"
	"github.com/rxtech-lab/argo-engine/internal/execution"
	"github.com/rxtech-lab/argo-engine/internal/ledger"
	"github.com/rxtech-lab/argo-engine/internal/logger"
	"github.com/rxtech-lab/argo-engine/internal/observer"
	"github.com/rxtech-lab/argo-engine/internal/orderbook"
	"github.com/rxtech-lab/argo-engine/internal/types"
	"github.com/rxtech-lab/argo-engine/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Hooks receive what a session commits.
type Hooks struct {
	Observer  observer.Observer
	Callbacks observer.Callbacks
}

// Session is the context of one run. It owns the clock, the committed
// state and the step counter, and is driven one batch at a time by a
// single goroutine. Only Account may be called from other goroutines.
type Session struct {
	engine    *execution.Engine
	adapter   *decision.Adapter
	registry  *types.InstrumentRegistry
	clock     *clock.Clock
	converter types.CurrencyConverter
	verify    bool
	hooks     Hooks
	runID     string

	state   execution.State
	step    int
	pending []types.OrderUpdate
	account atomic.Pointer[types.AccountSnapshot]

	logger *logger.Logger
}

func NewSession(
	engine *execution.Engine,
	registry *types.InstrumentRegistry,
	strategy decision.Strategy,
	initial Initial,
	cfg Config,
	hooks Hooks,
	log *logger.Logger,
) (*Session, error) {
	if engine == nil {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "execution engine is required")
	}

	if strategy == nil {
		return nil, errors.New(errors.ErrCodeRunNoStrategy, "strategy is required")
	}

	if err := initial.validate(); err != nil {
		return nil, err
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	cfg = cfg.withDefaults()

	s := &Session{
		engine:    engine,
		adapter:   decision.NewAdapter(strategy, cfg.RunID, log),
		registry:  registry,
		clock:     clock.New(),
		converter: cfg.Converter,
		verify:    cfg.VerifyLedger,
		hooks:     hooks,
		runID:     cfg.RunID.String(),
		state: execution.State{
			Ledger: ledger.New(initial.BaseCurrency, initial.Cash, registry, log),
			Book:   orderbook.New(),
			Last:   make(map[string]types.MarketEvent),
		},
		step:    0,
		pending: nil,
		logger:  log.Named("runloop"),
	}

	s.publish()

	return s, nil
}

// Account returns the last committed account snapshot.
func (s *Session) Account() types.AccountSnapshot {
	return s.account.Load().Clone()
}

// Step returns the number of committed batches.
func (s *Session) Step() int {
	return s.step
}

// Now returns the timestamp of the last committed batch.
func (s *Session) Now() time.Time {
	return s.clock.Now()
}

// Prices returns the latest default price per instrument.
func (s *Session) Prices() map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(s.state.Last))
	for id, event := range s.state.Last {
		prices[id] = event.PriceOf(types.PriceTypeDefault)
	}

	return prices
}

// Equity values the committed account at the latest prices.
func (s *Session) Equity() (decimal.Decimal, error) {
	return s.Account().Equity(s.Prices(), s.registry, s.converter)
}

// Next checks that batch may be processed and builds the snapshot the
// strategy sees for it. Nothing is committed.
func (s *Session) Next(batch types.Batch) (decision.Snapshot, error) {
	checked, err := types.NewBatch(batch.Events...)
	if err != nil {
		return decision.Snapshot{}, err
	}

	if !checked.Time.Equal(batch.Time) {
		return decision.Snapshot{}, errors.Newf(errors.ErrCodeInvalidBatch,
			"batch time %s does not match its events", batch.Time.Format(time.RFC3339Nano))
	}

	if err := s.clock.Check(batch.Time); err != nil {
		return decision.Snapshot{}, err
	}

	last := s.lastWith(batch)
	snapshot := decision.NewSnapshot(s.step+1, batch, s.state.Ledger.Snapshot(), last, s.pending, s.registry)
	s.pending = nil

	return snapshot, nil
}

// Decide runs the strategy on a snapshot built by Next.
func (s *Session) Decide(ctx context.Context, snapshot decision.Snapshot) (decision.Output, error) {
	output, err := s.adapter.Decide(ctx, snapshot)
	if err != nil {
		return decision.Output{}, err
	}

	if output.StrategyError != nil {
		s.hooks.Callbacks.StrategyError(snapshot.Step, output.StrategyError)
	}

	return output, nil
}

// Apply resolves the batch against the strategy output, commits the result,
// notifies observers and advances the clock. On error nothing is committed.
func (s *Session) Apply(ctx context.Context, batch types.Batch, output decision.Output) (execution.Result, error) {
	if err := s.clock.Check(batch.Time); err != nil {
		return execution.Result{}, err
	}

	result, err := s.engine.Resolve(ctx, batch, s.state, output.Orders, output.Cancels)
	if err != nil {
		return execution.Result{}, err
	}

	if err := s.commit(result); err != nil {
		return execution.Result{}, err
	}

	s.step++
	s.notify(ctx, batch.Time, result)

	if err := s.clock.Advance(batch.Time); err != nil {
		return execution.Result{}, err
	}

	return result, nil
}

// Process is Next, Decide and Apply for one batch.
func (s *Session) Process(ctx context.Context, batch types.Batch) (execution.Result, error) {
	snapshot, err := s.Next(batch)
	if err != nil {
		return execution.Result{}, err
	}

	output, err := s.Decide(ctx, snapshot)
	if err != nil {
		return execution.Result{}, err
	}

	return s.Apply(ctx, batch, output)
}

// Finish expires every working order at the last processed time.
func (s *Session) Finish(ctx context.Context) (execution.Result, error) {
	if s.state.Book.Len() == 0 {
		return execution.Result{}, nil
	}

	result, err := s.engine.Finish(ctx, s.state, s.clock.Now())
	if err != nil {
		return execution.Result{}, err
	}

	if err := s.commit(result); err != nil {
		return execution.Result{}, err
	}

	s.notify(ctx, s.clock.Now(), result)

	return result, nil
}

func (s *Session) lastWith(batch types.Batch) map[string]types.MarketEvent {
	last := make(map[string]types.MarketEvent, len(s.state.Last)+len(batch.Events))
	for id, event := range s.state.Last {
		last[id] = event
	}

	for _, event := range batch.Events {
		last[event.InstrumentID] = event
	}

	return last
}

func (s *Session) commit(result execution.Result) error {
	if s.verify {
		if err := result.State.Ledger.Verify(); err != nil {
			return err
		}
	}

	s.state = result.State
	s.pending = append(s.pending, result.Updates...)
	s.publish()

	return nil
}

func (s *Session) publish() {
	account := s.state.Ledger.Snapshot()
	s.account.Store(&account)
}

func (s *Session) notify(ctx context.Context, at time.Time, result execution.Result) {
	if s.hooks.Observer == nil {
		return
	}

	prices := s.Prices()
	account := s.Account()

	equity, err := account.Equity(prices, s.registry, s.converter)
	if err != nil {
		s.logger.Warn("Failed to value account", zap.Int("step", s.step), zap.Error(err))

		equity = decimal.Zero
	}

	report := observer.Report{
		RunID:   s.runID,
		Step:    s.step,
		Time:    at,
		Fills:   result.Fills,
		Updates: result.Updates,
		Account: account,
		Prices:  prices,
		Equity:  equity,
	}

	if err := s.hooks.Observer.Observe(ctx, report); err != nil {
		s.logger.Warn("Observer failed", zap.Int("step", s.step), zap.Error(err))
	}
}
