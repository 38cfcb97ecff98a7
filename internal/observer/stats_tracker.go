package observer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rxtech-lab/argo-engine/internal/logger"
	"github.com/rxtech-lab/argo-engine/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Stats summarises a run, or one day of it.
type Stats struct {
	RunID       string    `yaml:"run_id" json:"run_id"`
	Date        string    `yaml:"date" json:"date"`
	Start       time.Time `yaml:"start" json:"start"`
	LastUpdated time.Time `yaml:"last_updated" json:"last_updated"`
	Steps       int       `yaml:"steps" json:"steps"`
	Fills       int       `yaml:"fills" json:"fills"`
	// Trades counts fills that realized P&L, that is fills reducing a position.
	Trades           int             `yaml:"trades" json:"trades"`
	WinningTrades    int             `yaml:"winning_trades" json:"winning_trades"`
	LosingTrades     int             `yaml:"losing_trades" json:"losing_trades"`
	WinRate          decimal.Decimal `yaml:"win_rate" json:"win_rate"`
	GrossRealizedPnL decimal.Decimal `yaml:"gross_realized_pnl" json:"gross_realized_pnl"`
	TotalFees        decimal.Decimal `yaml:"total_fees" json:"total_fees"`
	NetRealizedPnL   decimal.Decimal `yaml:"net_realized_pnl" json:"net_realized_pnl"`
	MaxProfit        decimal.Decimal `yaml:"max_profit" json:"max_profit"`
	MaxLoss          decimal.Decimal `yaml:"max_loss" json:"max_loss"`
	Equity           decimal.Decimal `yaml:"equity" json:"equity"`
	PeakEquity       decimal.Decimal `yaml:"peak_equity" json:"peak_equity"`
	MaxDrawdown      decimal.Decimal `yaml:"max_drawdown" json:"max_drawdown"`
	// MaxDrawdownPerc is MaxDrawdown as a fraction of the peak it was measured from.
	MaxDrawdownPerc decimal.Decimal `yaml:"max_drawdown_perc" json:"max_drawdown_perc"`
}

type accumulator struct {
	start           time.Time
	steps           int
	fills           int
	trades          int
	winning         int
	losing          int
	gross           decimal.Decimal
	fees            decimal.Decimal
	maxProfit       decimal.Decimal
	maxLoss         decimal.Decimal
	equity          decimal.Decimal
	peak            decimal.Decimal
	maxDrawdown     decimal.Decimal
	maxDrawdownPerc decimal.Decimal
}

func newAccumulator(start time.Time) *accumulator {
	return &accumulator{
		start:           start,
		steps:           0,
		fills:           0,
		trades:          0,
		winning:         0,
		losing:          0,
		gross:           decimal.Zero,
		fees:            decimal.Zero,
		maxProfit:       decimal.Zero,
		maxLoss:         decimal.Zero,
		equity:          decimal.Zero,
		peak:            decimal.Zero,
		maxDrawdown:     decimal.Zero,
		maxDrawdownPerc: decimal.Zero,
	}
}

func (a *accumulator) record(report Report) {
	a.steps++

	for _, fill := range report.Fills {
		a.fills++
		a.fees = a.fees.Add(fill.Fee)

		if fill.RealizedPnL.IsZero() {
			continue
		}

		a.trades++
		a.gross = a.gross.Add(fill.RealizedPnL)

		if fill.RealizedPnL.IsPositive() {
			a.winning++
		} else {
			a.losing++
		}

		a.maxProfit = decimal.Max(a.maxProfit, fill.RealizedPnL)
		a.maxLoss = decimal.Min(a.maxLoss, fill.RealizedPnL)
	}

	a.equity = report.Equity
	if a.steps == 1 || a.equity.GreaterThan(a.peak) {
		a.peak = a.equity
	}

	drawdown := a.peak.Sub(a.equity)
	if drawdown.GreaterThan(a.maxDrawdown) {
		a.maxDrawdown = drawdown

		if a.peak.IsPositive() {
			a.maxDrawdownPerc = drawdown.Div(a.peak)
		}
	}
}

// StatsTracker keeps cumulative and daily statistics of a run. Days follow
// the report time in the tracker's location.
type StatsTracker struct {
	mu          sync.Mutex
	runID       string
	location    *time.Location
	currentDate string
	daily       *accumulator
	cumulative  *accumulator
	outputPath  string
	logger      *logger.Logger
}

// NewStatsTracker creates a tracker. When outputPath is set, the cumulative
// stats are written there as YAML after every report.
func NewStatsTracker(runID string, location *time.Location, outputPath string, log *logger.Logger) *StatsTracker {
	if location == nil {
		location = time.UTC
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &StatsTracker{
		mu:          sync.Mutex{},
		runID:       runID,
		location:    location,
		currentDate: "",
		daily:       nil,
		cumulative:  nil,
		outputPath:  outputPath,
		logger:      log.Named("stats"),
	}
}

func (s *StatsTracker) Observe(_ context.Context, report Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	date := report.Time.In(s.location).Format(time.DateOnly)

	if s.cumulative == nil {
		s.cumulative = newAccumulator(report.Time)
	}

	if date != s.currentDate {
		if s.currentDate != "" {
			s.logger.Info("Date boundary, daily stats reset",
				zap.String("old_date", s.currentDate),
				zap.String("new_date", date),
			)
		}

		s.currentDate = date
		s.daily = newAccumulator(report.Time)
	}

	s.daily.record(report)
	s.cumulative.record(report)

	if s.outputPath == "" {
		return nil
	}

	return s.writeYAML(s.build(s.cumulative, report.Time))
}

func (s *StatsTracker) Daily() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.build(s.daily, time.Time{})
}

func (s *StatsTracker) Cumulative() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.build(s.cumulative, time.Time{})
}

func (s *StatsTracker) build(acc *accumulator, now time.Time) Stats {
	if acc == nil {
		acc = newAccumulator(time.Time{})
	}

	winRate := decimal.Zero
	if acc.trades > 0 {
		winRate = decimal.NewFromInt(int64(acc.winning)).Div(decimal.NewFromInt(int64(acc.trades)))
	}

	if now.IsZero() {
		now = acc.start
	}

	return Stats{
		RunID:            s.runID,
		Date:             s.currentDate,
		Start:            acc.start,
		LastUpdated:      now,
		Steps:            acc.steps,
		Fills:            acc.fills,
		Trades:           acc.trades,
		WinningTrades:    acc.winning,
		LosingTrades:     acc.losing,
		WinRate:          winRate,
		GrossRealizedPnL: acc.gross,
		TotalFees:        acc.fees,
		NetRealizedPnL:   acc.gross.Sub(acc.fees),
		MaxProfit:        acc.maxProfit,
		MaxLoss:          acc.maxLoss,
		Equity:           acc.equity,
		PeakEquity:       acc.peak,
		MaxDrawdown:      acc.maxDrawdown,
		MaxDrawdownPerc:  acc.maxDrawdownPerc,
	}
}

// YAML renders the cumulative stats.
func (s *StatsTracker) YAML() ([]byte, error) {
	stats := s.Cumulative()

	out, err := yaml.Marshal(stats)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeCallbackFailed, "failed to render stats", err)
	}

	return out, nil
}

func (s *StatsTracker) writeYAML(stats Stats) error {
	out, err := yaml.Marshal(stats)
	if err != nil {
		return errors.Wrap(errors.ErrCodeCallbackFailed, "failed to render stats", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.outputPath), 0o755); err != nil {
		return errors.Wrap(errors.ErrCodeCallbackFailed, "failed to create stats directory", err)
	}

	if err := os.WriteFile(s.outputPath, out, 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeCallbackFailed, "failed to write stats", err)
	}

	return nil
}
