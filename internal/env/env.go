// Package env exposes a run as a step-wise environment for agents that
// learn by trial: every Step applies one batch with the orders an action
// translates to and reports the change in equity as the reward.
package env

import (
	"context"
	"iter"
	"time"

	"github.com/rxtech-lab/argo-engine/internal/decision"
	"github.com/rxtech-lab/argo-engine/internal/execution"
	"github.com/rxtech-lab/argo-engine/internal/feed"
	"github.com/rxtech-lab/argo-engine/internal/logger"
	"github.com/rxtech-lab/argo-engine/internal/runloop"
	"github.com/rxtech-lab/argo-engine/internal/types"
	"github.com/rxtech-lab/argo-engine/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Observation is what the agent sees before choosing an action.
type Observation struct {
	Step     int
	Time     time.Time
	Features []float64
	Account  types.AccountSnapshot
	Prices   map[string]decimal.Decimal
}

// ObservationFunc turns a snapshot into the agent's feature vector.
type ObservationFunc func(snapshot decision.Snapshot) ([]float64, error)

// LastPrices is the default observation: the last price of every
// registered instrument in registry order, zero when none is known yet.
func LastPrices(snapshot decision.Snapshot) ([]float64, error) {
	ids := snapshot.Instruments.IDs()
	features := make([]float64, len(ids))

	for i, id := range ids {
		if price := snapshot.Price(id); price.IsSome() {
			features[i] = price.Unwrap().InexactFloat64()
		}
	}

	return features, nil
}

// Info carries what happened during a step besides the reward.
type Info struct {
	Fills   []types.Fill
	Updates []types.OrderUpdate
	Equity  decimal.Decimal
	// ActionError is set when the action could not be executed; the batch
	// was then applied without orders.
	ActionError error
}

type Option[A any] func(*Environment[A])

func WithObservation[A any](fn ObservationFunc) Option[A] {
	return func(e *Environment[A]) {
		e.observe = fn
	}
}

// Environment replays a feed one batch per Step. It is not safe for
// concurrent use.
type Environment[A any] struct {
	source   feed.Feed
	registry *types.InstrumentRegistry
	adapter  ActionAdapter[A]
	initial  runloop.Initial
	config   runloop.Config
	observe  ObservationFunc
	logger   *logger.Logger

	session  *runloop.Session
	next     func() (types.Batch, error, bool)
	stop     func()
	batch    types.Batch
	snapshot decision.Snapshot
	planned  decision.Decision
	equity   decimal.Decimal
	done     bool
}

func New[A any](
	source feed.Feed,
	registry *types.InstrumentRegistry,
	adapter ActionAdapter[A],
	initial runloop.Initial,
	cfg runloop.Config,
	log *logger.Logger,
	options ...Option[A],
) (*Environment[A], error) {
	if source == nil {
		return nil, errors.New(errors.ErrCodeRunNoDatasource, "feed is required")
	}

	if adapter == nil {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "action adapter is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	e := &Environment[A]{
		source:   source,
		registry: registry,
		adapter:  adapter,
		initial:  initial,
		config:   cfg,
		observe:  LastPrices,
		logger:   log.Named("env"),
		done:     true,
	}

	for _, option := range options {
		option(e)
	}

	return e, nil
}

// Reset starts a new episode from the initial account and returns the
// observation of the first batch.
func (e *Environment[A]) Reset(ctx context.Context) (Observation, error) {
	e.Close()

	engine, err := execution.New(e.config.Execution, e.registry, e.logger)
	if err != nil {
		return Observation{}, err
	}

	strategy := decision.StrategyFunc(func(context.Context, decision.Snapshot) (decision.Decision, error) {
		return e.planned, nil
	})

	session, err := runloop.NewSession(engine, e.registry, strategy, e.initial, e.config, runloop.Hooks{}, e.logger)
	if err != nil {
		return Observation{}, err
	}

	e.session = session
	e.next, e.stop = iter.Pull2(e.source.Batches(ctx))
	e.done = false

	e.equity, err = session.Equity()
	if err != nil {
		return Observation{}, err
	}

	observation, more, err := e.advance()
	if err != nil {
		return Observation{}, err
	}

	if !more {
		return Observation{}, errors.New(errors.ErrCodeDataSourceUnavailable, "feed has no data")
	}

	return observation, nil
}

// Step applies the current batch with the orders the action translates to
// and returns the next observation, the equity change as reward, and
// whether the episode is over.
func (e *Environment[A]) Step(ctx context.Context, action A) (Observation, float64, bool, Info, error) {
	if e.done || e.session == nil {
		return Observation{}, 0, true, Info{}, errors.New(errors.ErrCodeInvalidParameter, "episode is over, call Reset")
	}

	var info Info

	planned, err := e.adapter.Translate(action, e.snapshot)
	if err != nil {
		e.logger.Warn("Action could not be translated", zap.Int("step", e.snapshot.Step), zap.Error(err))

		info.ActionError = err
		planned = decision.Decision{}
	}

	e.planned = planned

	output, err := e.session.Decide(ctx, e.snapshot)
	if err != nil {
		return Observation{}, 0, true, info, err
	}

	if output.StrategyError != nil && info.ActionError == nil {
		info.ActionError = output.StrategyError
	}

	result, err := e.session.Apply(ctx, e.batch, output)
	if err != nil {
		e.done = true

		return Observation{}, 0, true, info, err
	}

	info.Fills = result.Fills
	info.Updates = result.Updates

	observation, more, err := e.advance()
	if err != nil {
		e.done = true

		return Observation{}, 0, true, info, err
	}

	if !more || e.reachedMaxSteps() {
		e.done = true

		finished, err := e.session.Finish(ctx)
		if err != nil {
			return Observation{}, 0, true, info, err
		}

		info.Updates = append(info.Updates, finished.Updates...)
		observation = e.current()
	}

	equity, err := e.session.Equity()
	if err != nil {
		return Observation{}, 0, true, info, err
	}

	reward := equity.Sub(e.equity).InexactFloat64()
	e.equity = equity
	info.Equity = equity

	if e.done {
		e.Close()
	}

	return observation, reward, e.done, info, nil
}

// Account returns the committed account of the current episode.
func (e *Environment[A]) Account() types.AccountSnapshot {
	if e.session == nil {
		return types.AccountSnapshot{}
	}

	return e.session.Account()
}

// Close releases the feed of the current episode.
func (e *Environment[A]) Close() {
	if e.stop != nil {
		e.stop()
		e.stop = nil
		e.next = nil
	}
}

// advance pulls the next batch and prepares its snapshot.
func (e *Environment[A]) advance() (Observation, bool, error) {
	batch, err, ok := e.next()
	if !ok {
		return Observation{}, false, nil
	}

	if err != nil {
		return Observation{}, false, err
	}

	if e.config.Until.IsSome() && batch.Time.After(e.config.Until.Unwrap()) {
		return Observation{}, false, nil
	}

	snapshot, err := e.session.Next(batch)
	if err != nil {
		return Observation{}, false, err
	}

	features, err := e.observe(snapshot)
	if err != nil {
		return Observation{}, false, err
	}

	e.batch = batch
	e.snapshot = snapshot

	return Observation{
		Step:     snapshot.Step,
		Time:     snapshot.Time,
		Features: features,
		Account:  snapshot.Account,
		Prices:   snapshot.Prices,
	}, true, nil
}

// current describes the committed state once no batch is left.
func (e *Environment[A]) current() Observation {
	return Observation{
		Step:     e.session.Step(),
		Time:     e.session.Now(),
		Features: nil,
		Account:  e.session.Account(),
		Prices:   e.session.Prices(),
	}
}

func (e *Environment[A]) reachedMaxSteps() bool {
	return e.config.MaxSteps.IsSome() && e.session.Step() >= e.config.MaxSteps.Unwrap()
}
