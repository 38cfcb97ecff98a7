// Package runloop drives a run: it pulls timestamp batches, asks the
// strategy for a decision, resolves the decision through the execution
// engine and commits the result, one batch at a time.
package runloop

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"

	"github.com/rxtech-lab/argo-engine/internal/clock"
	"github.com/rxtech-lab/argo-engine/internal/decision"
	"github.com/rxtech-lab/argo-engine/internal/execution"
	"github.com/rxtech-lab/argo-engine/internal/feed"
	"github.com/rxtech-lab/argo-engine/internal/logger"
	"github.com/rxtech-lab/argo-engine/internal/observer"
	"github.com/rxtech-lab/argo-engine/internal/types"
	"github.com/rxtech-lab/argo-engine/pkg/errors"
	"go.uber.org/zap"
)

type Option func(*Runner)

// WithObserver sets the observer every committed step is reported to.
func WithObserver(obs observer.Observer) Option {
	return func(r *Runner) {
		r.observer = obs
	}
}

func WithCallbacks(callbacks observer.Callbacks) Option {
	return func(r *Runner) {
		r.callbacks = callbacks
	}
}

// WithWallClock replaces real time for stall detection.
func WithWallClock(wall clock.WallClock) Option {
	return func(r *Runner) {
		r.wall = wall
	}
}

// Runner runs strategies over feeds. One runner runs one run at a time.
type Runner struct {
	registry  *types.InstrumentRegistry
	observer  observer.Observer
	callbacks observer.Callbacks
	wall      clock.WallClock
	logger    *logger.Logger

	mu      sync.Mutex
	session *Session
	cancel  context.CancelFunc
	stopped atomic.Bool
}

func NewRunner(registry *types.InstrumentRegistry, log *logger.Logger, options ...Option) *Runner {
	if log == nil {
		log = logger.NewNopLogger()
	}

	r := &Runner{
		registry:  registry,
		observer:  nil,
		callbacks: observer.Callbacks{},
		wall:      clock.RealClock{},
		logger:    log,
		session:   nil,
		cancel:    nil,
	}

	for _, option := range options {
		option(r)
	}

	return r
}

// Run replays a feed against the strategy and returns the final account.
//
// The run ends when the feed is exhausted, MaxSteps batches were processed,
// the next batch lies after Until, or Stop was called. Orders still working
// at the end are expired. A fatal error aborts the run; the returned
// snapshot is then the last committed state.
func (r *Runner) Run(
	ctx context.Context,
	source feed.Feed,
	strategy decision.Strategy,
	initial Initial,
	cfg Config,
) (types.AccountSnapshot, error) {
	if source == nil {
		return types.AccountSnapshot{}, errors.New(errors.ErrCodeRunNoDatasource, "feed is required")
	}

	session, err := r.start(ctx, strategy, initial, cfg)
	if err != nil {
		return types.AccountSnapshot{}, err
	}
	defer r.release()

	cfg = cfg.withDefaults()
	runErr := r.replay(ctx, session, source, cfg)

	if runErr == nil {
		if _, err := session.Finish(ctx); err != nil {
			runErr = err
		}
	}

	return r.finish(session, runErr)
}

func (r *Runner) replay(ctx context.Context, session *Session, source feed.Feed, cfg Config) error {
	if reachedMaxSteps(cfg, session.Step()) {
		return nil
	}

	for batch, err := range source.Batches(ctx) {
		if err != nil {
			return r.feedError(ctx, err)
		}

		if r.stopped.Load() {
			r.logger.Info("Run stopped", zap.Int("step", session.Step()))

			return nil
		}

		if reachedUntil(cfg, batch) {
			r.logger.Info("Reached end time", zap.Time("time", batch.Time))

			return nil
		}

		if _, err := session.Process(ctx, batch); err != nil {
			return err
		}

		if reachedMaxSteps(cfg, session.Step()) {
			r.logger.Info("Reached max steps", zap.Int("step", session.Step()))

			return nil
		}
	}

	return nil
}

// Stop ends the current run after the batch in flight.
func (r *Runner) Stop() {
	r.stopped.Store(true)

	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Snapshot returns the last committed account of the current or last run.
func (r *Runner) Snapshot() types.AccountSnapshot {
	r.mu.Lock()
	session := r.session
	r.mu.Unlock()

	if session == nil {
		return types.AccountSnapshot{}
	}

	return session.Account()
}

func (r *Runner) start(ctx context.Context, strategy decision.Strategy, initial Initial, cfg Config) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	engine, err := execution.New(cfg.Execution, r.registry, r.logger)
	if err != nil {
		return nil, err
	}

	hooks := Hooks{Observer: r.observer, Callbacks: r.callbacks}

	session, err := NewSession(engine, r.registry, strategy, initial, cfg, hooks, r.logger)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.session = session
	r.mu.Unlock()

	r.stopped.Store(false)
	r.callbacks.RunStart(cfg.withDefaults().RunID.String(), r.wall.Now())

	return session, nil
}

func (r *Runner) release() {
	r.mu.Lock()
	r.cancel = nil
	r.mu.Unlock()
}

func (r *Runner) finish(session *Session, runErr error) (types.AccountSnapshot, error) {
	final := session.Account()

	if runErr != nil {
		r.logger.Error("Run aborted",
			zap.Int("step", session.Step()),
			zap.Time("time", session.Now()),
			zap.Error(runErr),
		)
	} else {
		r.logger.Info("Run finished",
			zap.Int("steps", session.Step()),
			zap.Int("fills", final.FillCount),
			zap.String("realized_pnl", final.RealizedPnL.String()),
		)
	}

	r.callbacks.RunStop(final, runErr)

	return final, runErr
}

func (r *Runner) feedError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && stderrors.Is(err, ctxErr) {
		if r.stopped.Load() {
			return nil
		}

		return ctxErr
	}

	if errors.GetCode(err) != errors.ErrCodeUnknown {
		return err
	}

	return errors.Wrap(errors.ErrCodeDataSourceUnavailable, "feed failed", err)
}

func reachedUntil(cfg Config, batch types.Batch) bool {
	return cfg.Until.IsSome() && batch.Time.After(cfg.Until.Unwrap())
}

func reachedMaxSteps(cfg Config, step int) bool {
	return cfg.MaxSteps.IsSome() && step >= cfg.MaxSteps.Unwrap()
}
