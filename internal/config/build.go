package config

import (
	"maps"

	"github.com/google/uuid"
	"github.com/rxtech-lab/argo-engine/internal/execution"
	"github.com/rxtech-lab/argo-engine/internal/execution/commission_fee"
	"github.com/rxtech-lab/argo-engine/internal/feed"
	"github.com/rxtech-lab/argo-engine/internal/logger"
	"github.com/rxtech-lab/argo-engine/internal/runloop"
	"github.com/rxtech-lab/argo-engine/internal/types"
	"github.com/rxtech-lab/argo-engine/internal/venue"
	"github.com/rxtech-lab/argo-engine/pkg/errors"
)

// Run holds everything a runner needs that comes from the file.
type Run struct {
	Registry *types.InstrumentRegistry
	Config   runloop.Config
	Initial  runloop.Initial
}

// Build validates the file and resolves it into run loop inputs. The
// execution capabilities are constructed once so a bad fee, slippage,
// liquidity, session or risk setup fails here instead of at run start.
func (c RunConfig) Build() (Run, error) {
	if err := c.Validate(); err != nil {
		return Run{}, err
	}

	registry, err := types.NewInstrumentRegistry(c.Instruments...)
	if err != nil {
		return Run{}, err
	}

	runID := runloop.DefaultRunNamespace
	if c.RunID != "" {
		runID, err = uuid.Parse(c.RunID)
		if err != nil {
			return Run{}, errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid run_id", err)
		}
	}

	if _, err := execution.New(c.Execution, registry, nil); err != nil {
		return Run{}, err
	}

	var converter types.CurrencyConverter = types.One2OneConverter{}
	if len(c.Rates) > 0 {
		converter = types.StaticConverter{Base: c.BaseCurrency, Rates: maps.Clone(c.Rates)}
	}

	return Run{
		Registry: registry,
		Config: runloop.Config{
			RunID:        runID,
			Execution:    c.Execution,
			MaxSteps:     c.MaxSteps,
			Until:        c.Until,
			Converter:    converter,
			VerifyLedger: c.VerifyLedger,
			Live: runloop.LiveConfig{
				QueueCapacity:        c.Live.QueueCapacity,
				BackPressure:         c.Live.BackPressure,
				StallTimeout:         c.Live.StallTimeout,
				MaxConsecutiveStalls: c.Live.MaxConsecutiveStalls,
			},
		},
		Initial: runloop.Initial{
			BaseCurrency: c.BaseCurrency,
			Cash:         types.Wallet(maps.Clone(c.Cash)),
		},
	}, nil
}

// NewFeed opens the configured bar file.
func (c RunConfig) NewFeed(log *logger.Logger) (*feed.DuckDBFeed, error) {
	if c.Feed.Path == "" {
		return nil, errors.New(errors.ErrCodeRunNoDatasource, "feed path is not configured")
	}

	options := []feed.DuckDBOption{feed.WithRange(c.Feed.Start, c.Feed.End)}
	if len(c.Feed.Symbols) > 0 {
		options = append(options, feed.WithSymbols(c.Feed.Symbols...))
	}

	return feed.NewDuckDBFeed(c.Feed.Path, log, options...)
}

// NewVenue builds the venue live runs route orders to. The paper venue
// charges the same fee model as the execution config.
func (c RunConfig) NewVenue(registry *types.InstrumentRegistry, log *logger.Logger) (venue.Venue, error) {
	switch c.Venue.Kind {
	case VenuePaper, "":
		fee, err := commission_fee.New(c.Execution.Fee)
		if err != nil {
			return nil, err
		}

		return venue.NewPaperVenue(fee, log), nil
	case VenueBinance:
		if c.Venue.Binance == nil {
			return nil, errors.New(errors.ErrCodeInvalidConfiguration, "binance venue needs a binance section")
		}

		return venue.NewBinanceVenue(*c.Venue.Binance, registry, log)
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "unknown venue kind %q", c.Venue.Kind)
	}
}
