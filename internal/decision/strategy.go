package decision

import (
	"context"

	"github.com/rxtech-lab/argo-engine/internal/types"
)

// Strategy decides which orders to place and cancel for a snapshot.
// Implementations must not keep references into the snapshot after Decide returns.
type Strategy interface {
	Decide(ctx context.Context, snapshot Snapshot) (Decision, error)
}

// StrategyFunc adapts a plain function to Strategy.
type StrategyFunc func(ctx context.Context, snapshot Snapshot) (Decision, error)

func (f StrategyFunc) Decide(ctx context.Context, snapshot Snapshot) (Decision, error) {
	return f(ctx, snapshot)
}

// SignalGenerator rates instruments without choosing order sizes.
type SignalGenerator interface {
	Signals(ctx context.Context, snapshot Snapshot) ([]types.Signal, error)
}

// SignalGeneratorFunc adapts a plain function to SignalGenerator.
type SignalGeneratorFunc func(ctx context.Context, snapshot Snapshot) ([]types.Signal, error)

func (f SignalGeneratorFunc) Signals(ctx context.Context, snapshot Snapshot) ([]types.Signal, error) {
	return f(ctx, snapshot)
}

// Sizer turns signals into orders. It sees the account through the snapshot
// but takes its trading intent only from the signals.
type Sizer interface {
	Size(signals []types.Signal, snapshot Snapshot) (Decision, error)
}

// Composite is a Strategy built from a signal generator and a sizer.
type Composite struct {
	Signals SignalGenerator
	Sizer   Sizer
}

func NewComposite(signals SignalGenerator, sizer Sizer) *Composite {
	return &Composite{Signals: signals, Sizer: sizer}
}

func (c *Composite) Decide(ctx context.Context, snapshot Snapshot) (Decision, error) {
	signals, err := c.Signals.Signals(ctx, snapshot)
	if err != nil {
		return Decision{}, err
	}

	if len(signals) == 0 {
		return Decision{}, nil
	}

	return c.Sizer.Size(signals, snapshot)
}
