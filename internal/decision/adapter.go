package decision

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/rxtech-lab/argo-engine/internal/logger"
	"github.com/rxtech-lab/argo-engine/internal/types"
	"github.com/rxtech-lab/argo-engine/pkg/errors"
	"go.uber.org/zap"
)

// Output is what the adapter hands to the execution engine for one batch.
type Output struct {
	Orders  []types.Order
	Cancels []types.Cancellation
	// StrategyError is set when the strategy failed. The batch then carries
	// no orders and no cancellations.
	StrategyError error
}

// Adapter invokes a Strategy and converts its requests into NEW orders.
// Order ids are derived from the run id and a submission sequence number so
// a replay with the same run id produces the same ids.
type Adapter struct {
	strategy  Strategy
	namespace uuid.UUID
	seq       uint64
	log       *logger.Logger
}

func NewAdapter(strategy Strategy, runID uuid.UUID, log *logger.Logger) *Adapter {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Adapter{strategy: strategy, namespace: runID, seq: 0, log: log.Named("decision")}
}

// Decide runs the strategy for one snapshot. The returned error is non-nil
// only when ctx is done; strategy failures are reported in Output.
func (a *Adapter) Decide(ctx context.Context, snapshot Snapshot) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	decision, err := a.invoke(ctx, snapshot)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Output{}, ctxErr
		}

		a.log.Warn("Strategy failed, no orders for this batch",
			zap.Int("step", snapshot.Step),
			zap.Time("time", snapshot.Time),
			zap.Error(err),
		)

		return Output{StrategyError: err}, nil
	}

	orders := make([]types.Order, 0, len(decision.Orders))
	for _, request := range decision.Orders {
		a.seq++
		orders = append(orders, types.NewOrderFromRequest(a.orderID(a.seq), a.seq, request, snapshot.Time))
	}

	cancels := make([]types.Cancellation, len(decision.Cancels))
	copy(cancels, decision.Cancels)

	return Output{Orders: orders, Cancels: cancels, StrategyError: nil}, nil
}

func (a *Adapter) invoke(ctx context.Context, snapshot Snapshot) (decision Decision, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = errors.New(errors.ErrCodeStrategyRuntimeError, fmt.Sprintf("strategy panicked: %v", recovered))
		}
	}()

	decision, err = a.strategy.Decide(ctx, snapshot)
	if err != nil {
		return Decision{}, errors.Wrap(errors.ErrCodeStrategyRuntimeError, "strategy failed", err)
	}

	return decision, nil
}

func (a *Adapter) orderID(seq uint64) string {
	return uuid.NewSHA1(a.namespace, []byte(strconv.FormatUint(seq, 10))).String()
}
