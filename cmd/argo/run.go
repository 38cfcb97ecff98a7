package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rxtech-lab/argo-engine/examples/strategy"
	"github.com/rxtech-lab/argo-engine/internal/config"
	"github.com/rxtech-lab/argo-engine/internal/decision"
	"github.com/rxtech-lab/argo-engine/internal/indicator"
	"github.com/rxtech-lab/argo-engine/internal/logger"
	"github.com/rxtech-lab/argo-engine/internal/observer"
	"github.com/rxtech-lab/argo-engine/internal/runloop"
	"github.com/rxtech-lab/argo-engine/internal/types"
	"github.com/rxtech-lab/argo-engine/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

// session holds the resolved config and observers of one backtest or live
// invocation.
type session struct {
	file     config.RunConfig
	run      config.Run
	strategy decision.Strategy
	journal  *observer.DuckDBJournal
	stats    *observer.StatsTracker
	runner   *runloop.Runner
	logger   *logger.Logger
	output   string
}

func prepare(cmd *cli.Command) (*session, error) {
	log, err := logger.NewLoggerWithLevel(cmd.String("log-level"))
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	file, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	if err := config.LoadFromEnv(&file, cmd.String("env-file")); err != nil {
		return nil, err
	}

	run, err := file.Build()
	if err != nil {
		return nil, err
	}

	strat, err := newStrategy(cmd, run.Config.Converter, log)
	if err != nil {
		return nil, err
	}

	journal, err := observer.NewDuckDBJournal(log)
	if err != nil {
		return nil, err
	}

	output := cmd.String("output")

	statsPath := ""
	if output != "" {
		statsPath = filepath.Join(output, "stats.yaml")
	}

	stats := observer.NewStatsTracker(run.Config.RunID.String(), time.UTC, statsPath, log)

	runner := runloop.NewRunner(run.Registry, log,
		runloop.WithObserver(observer.Multi(journal, stats, observer.NewLogJournal(log))),
		runloop.WithCallbacks(callbacks(log)),
	)

	return &session{
		file:     file,
		run:      run,
		strategy: strat,
		journal:  journal,
		stats:    stats,
		runner:   runner,
		logger:   log,
		output:   output,
	}, nil
}

func newStrategy(cmd *cli.Command, converter types.CurrencyConverter, log *logger.Logger) (decision.Strategy, error) {
	switch name := cmd.String("strategy"); name {
	case strategyConsecutiveCandles:
		size, err := decimal.NewFromString(cmd.String("size"))
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidParameter, "invalid size", err)
		}

		return strategy.NewConsecutiveCandles(size)
	case strategyMACross:
		signals, err := strategy.NewMACross(strategy.MACrossConfig{
			Indicator: indicator.IndicatorType(cmd.String("indicator")),
			Fast:      int(cmd.Int("fast")),
			Slow:      int(cmd.Int("slow")),
		}, indicator.NewRegistry())
		if err != nil {
			return nil, err
		}

		return decision.NewComposite(signals, decision.NewFlexSizer(decision.DefaultFlexConfig(), converter, log)), nil
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "unknown strategy %q", name)
	}
}

func callbacks(log *logger.Logger) observer.Callbacks {
	return observer.Callbacks{
		OnRunStart: func(runID string, at time.Time) {
			log.Info("Run started", zap.String("run_id", runID), zap.Time("at", at))
		},
		OnRunStop: func(final types.AccountSnapshot, err error) {
			if err != nil {
				log.Error("Run stopped with error", zap.Error(err))

				return
			}

			log.Info("Run stopped", zap.Int("positions", len(final.Positions)))
		},
		OnFeedStalled: func(consecutive int, timeout time.Duration) {
			log.Warn("Feed stalled", zap.Int("consecutive", consecutive), zap.Duration("timeout", timeout))
		},
		OnEventDropped: func(total int64) {
			log.Warn("Market batch dropped", zap.Int64("total", total))
		},
		OnStrategyError: func(step int, err error) {
			log.Warn("Strategy failed", zap.Int("step", step), zap.Error(err))
		},
	}
}

// stopOnSignal stops the runner on SIGINT or SIGTERM. The returned function
// releases the signal handler.
func stopOnSignal(runner *runloop.Runner) func() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})

	go func() {
		select {
		case <-signals:
			runner.Stop()
		case <-done:
		}
	}()

	return func() {
		signal.Stop(signals)
		close(done)
	}
}

// report prints the stats and exports the journal when an output
// directory was given.
func (s *session) report(ctx context.Context, cmd *cli.Command) error {
	out, err := s.stats.YAML()
	if err != nil {
		return err
	}

	if _, err := cmd.Root().Writer.Write(out); err != nil {
		return fmt.Errorf("failed to write stats: %w", err)
	}

	if s.output == "" {
		return nil
	}

	if err := os.MkdirAll(s.output, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := os.WriteFile(filepath.Join(s.output, "stats.yaml"), out, 0o644); err != nil {
		return fmt.Errorf("failed to write stats: %w", err)
	}

	return s.journal.Export(ctx, s.output)
}

func (s *session) close() {
	if err := s.journal.Close(); err != nil {
		s.logger.Warn("Failed to close journal", zap.Error(err))
	}

	_ = s.logger.Sync()
}
