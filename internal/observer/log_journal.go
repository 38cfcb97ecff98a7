package observer

import (
	"context"

	"github.com/rxtech-lab/argo-engine/internal/logger"
	"go.uber.org/zap"
)

// LogJournal writes every fill and order transition to the logger.
type LogJournal struct {
	logger *logger.Logger
}

func NewLogJournal(log *logger.Logger) *LogJournal {
	return &LogJournal{logger: log.Named("journal")}
}

func (j *LogJournal) Observe(_ context.Context, report Report) error {
	for _, fill := range report.Fills {
		j.logger.Info("Fill",
			zap.Int("step", report.Step),
			zap.String("order_id", fill.OrderID),
			zap.String("instrument_id", fill.InstrumentID),
			zap.String("side", string(fill.Side)),
			zap.Stringer("size", fill.Size),
			zap.Stringer("price", fill.Price),
			zap.Stringer("fee", fill.Fee),
			zap.Stringer("realized_pnl", fill.RealizedPnL),
		)
	}

	for _, update := range report.Updates {
		j.logger.Debug("Order update",
			zap.Int("step", report.Step),
			zap.String("order_id", update.OrderID),
			zap.String("from", string(update.From)),
			zap.String("status", string(update.Status)),
			zap.String("reason", update.Reason.Reason),
		)
	}

	j.logger.Debug("Step committed",
		zap.Int("step", report.Step),
		zap.Time("time", report.Time),
		zap.Stringer("equity", report.Equity),
		zap.Int("open_orders", len(report.Account.OpenOrders)),
	)

	return nil
}
