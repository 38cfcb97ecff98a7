package execution

import (
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-engine/internal/types"
	"github.com/rxtech-lab/argo-engine/pkg/errors"
	"github.com/shopspring/decimal"
)

type LiquidityKind string

const (
	// LiquidityFull fills any crossing order completely.
	LiquidityFull LiquidityKind = "full"
	// LiquidityVolume caps fills at a share of the volume printed in the batch.
	LiquidityVolume LiquidityKind = "volume"
)

// LiquidityModel reports how much size one side can trade against an event.
// None means unbounded.
type LiquidityModel interface {
	Available(event types.MarketEvent, side types.Side, instrument types.Instrument) optional.Option[decimal.Decimal]
}

type LiquidityConfig struct {
	Kind LiquidityKind `yaml:"kind" json:"kind" validate:"omitempty,oneof=full volume"`
	// ParticipationRate is the share of event volume one run may take, in (0, 1].
	ParticipationRate decimal.Decimal `yaml:"participation_rate" json:"participation_rate"`
}

func NewLiquidityModel(cfg LiquidityConfig) (LiquidityModel, error) {
	switch cfg.Kind {
	case LiquidityFull, "":
		return FullLiquidity{}, nil
	case LiquidityVolume:
		if !cfg.ParticipationRate.IsPositive() || cfg.ParticipationRate.GreaterThan(decimal.NewFromInt(1)) {
			return nil, errors.Newf(errors.ErrCodeInvalidConfiguration,
				"participation rate must be in (0, 1], got %s", cfg.ParticipationRate)
		}

		return VolumeLiquidity{ParticipationRate: cfg.ParticipationRate}, nil
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "unknown liquidity model %q", cfg.Kind)
	}
}

type FullLiquidity struct{}

func (FullLiquidity) Available(types.MarketEvent, types.Side, types.Instrument) optional.Option[decimal.Decimal] {
	return optional.None[decimal.Decimal]()
}

type VolumeLiquidity struct {
	ParticipationRate decimal.Decimal
}

func (v VolumeLiquidity) Available(
	event types.MarketEvent,
	side types.Side,
	instrument types.Instrument,
) optional.Option[decimal.Decimal] {
	return optional.Some(instrument.FloorToLot(event.Liquidity(side).Mul(v.ParticipationRate)))
}

// allocator hands out one event's liquidity to competing orders. Orders are
// served strictly in the order they ask: an earlier order takes its whole
// remaining size before a later order receives anything.
type allocator struct {
	remaining map[types.Side]optional.Option[decimal.Decimal]
}

func newAllocator(model LiquidityModel, event types.MarketEvent, instrument types.Instrument) *allocator {
	return &allocator{
		remaining: map[types.Side]optional.Option[decimal.Decimal]{
			types.SideBuy:  model.Available(event, types.SideBuy, instrument),
			types.SideSell: model.Available(event, types.SideSell, instrument),
		},
	}
}

// limit caps want at what is left for side.
func (a *allocator) limit(side types.Side, want decimal.Decimal) decimal.Decimal {
	left := a.remaining[side]
	if left.IsNone() {
		return want
	}

	return decimal.Min(want, left.Unwrap())
}

// consume removes size from the pool of side, never going below zero.
func (a *allocator) consume(side types.Side, size decimal.Decimal) {
	left := a.remaining[side]
	if left.IsNone() {
		return
	}

	a.remaining[side] = optional.Some(decimal.Max(decimal.Zero, left.Unwrap().Sub(size)))
}
