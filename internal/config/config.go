// Package config loads the YAML description of a run and turns it into
// the pieces the run loop needs.
package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-engine/internal/execution"
	"github.com/rxtech-lab/argo-engine/internal/execution/commission_fee"
	"github.com/rxtech-lab/argo-engine/internal/intake"
	"github.com/rxtech-lab/argo-engine/internal/types"
	"github.com/rxtech-lab/argo-engine/internal/venue"
	"github.com/rxtech-lab/argo-engine/internal/version"
	"github.com/rxtech-lab/argo-engine/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type VenueKind string

const (
	VenuePaper   VenueKind = "paper"
	VenueBinance VenueKind = "binance"
)

// RunConfig is the file format of a run.
type RunConfig struct {
	// EngineVersion pins the engine release the file was written for.
	EngineVersion string `yaml:"engine_version" json:"engine_version,omitempty" jsonschema:"title=Engine Version,description=Engine release the config was written for"`
	RunID         string `yaml:"run_id" json:"run_id,omitempty" jsonschema:"title=Run ID,description=UUID seeding deterministic order ids" validate:"omitempty,uuid"`

	BaseCurrency string                     `yaml:"base_currency" json:"base_currency" jsonschema:"title=Base Currency,required" validate:"required"`
	Cash         map[string]decimal.Decimal `yaml:"cash" json:"cash" jsonschema:"title=Cash,description=Starting cash per currency,required" validate:"required,min=1"`
	// Rates values one unit of each currency in the base currency.
	Rates       map[string]decimal.Decimal `yaml:"rates" json:"rates,omitempty" jsonschema:"title=Exchange Rates"`
	Instruments []types.Instrument         `yaml:"instruments" json:"instruments" jsonschema:"title=Instruments,required" validate:"required,min=1,dive"`

	MaxSteps     optional.Option[int]       `yaml:"max_steps" json:"max_steps,omitempty" jsonschema:"title=Max Steps,description=Stop after this many batches"`
	Until        optional.Option[time.Time] `yaml:"until" json:"until,omitempty" jsonschema:"title=Until,description=Stop before the first batch after this time"`
	VerifyLedger bool                       `yaml:"verify_ledger" json:"verify_ledger,omitempty" jsonschema:"title=Verify Ledger"`

	Execution execution.Config `yaml:"execution" json:"execution" jsonschema:"title=Execution"`
	Live      LiveConfig       `yaml:"live" json:"live" jsonschema:"title=Live"`
	Feed      FeedConfig       `yaml:"feed" json:"feed" jsonschema:"title=Feed"`
	Venue     VenueConfig      `yaml:"venue" json:"venue" jsonschema:"title=Venue"`
}

type LiveConfig struct {
	QueueCapacity        int           `yaml:"queue_capacity" json:"queue_capacity" jsonschema:"minimum=0" validate:"gte=0"`
	BackPressure         intake.Policy `yaml:"back_pressure" json:"back_pressure" validate:"omitempty,oneof=block drop"`
	StallTimeout         time.Duration `yaml:"stall_timeout" json:"stall_timeout" validate:"gte=0"`
	MaxConsecutiveStalls int           `yaml:"max_consecutive_stalls" json:"max_consecutive_stalls" jsonschema:"minimum=0" validate:"gte=0"`
}

// FeedConfig points at a parquet or CSV file of bars.
type FeedConfig struct {
	Path    string                     `yaml:"path" json:"path"`
	Symbols []string                   `yaml:"symbols" json:"symbols,omitempty"`
	Start   optional.Option[time.Time] `yaml:"start" json:"start,omitempty"`
	End     optional.Option[time.Time] `yaml:"end" json:"end,omitempty"`
}

type VenueConfig struct {
	Kind    VenueKind             `yaml:"kind" json:"kind" jsonschema:"enum=paper,enum=binance" validate:"omitempty,oneof=paper binance"`
	Binance *venue.BinanceConfig `yaml:"binance" json:"binance,omitempty" validate:"-"`
}

// Default returns the configuration every file is layered onto.
func Default() RunConfig {
	return RunConfig{
		EngineVersion: "",
		RunID:         "",
		BaseCurrency:  "",
		Cash:          nil,
		Rates:         nil,
		Instruments:   nil,
		MaxSteps:      optional.None[int](),
		Until:         optional.None[time.Time](),
		VerifyLedger:  false,
		Execution:     execution.DefaultConfig(),
		Live: LiveConfig{
			QueueCapacity:        1024,
			BackPressure:         intake.PolicyBlock,
			StallTimeout:         time.Minute,
			MaxConsecutiveStalls: 0,
		},
		Feed:  FeedConfig{Path: "", Symbols: nil, Start: optional.None[time.Time](), End: optional.None[time.Time]()},
		Venue: VenueConfig{Kind: VenuePaper, Binance: nil},
	}
}

// Load reads and validates the YAML file at path.
func Load(path string) (RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RunConfig{}, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to read config %s", path)
	}

	return Parse(data)
}

// Parse decodes YAML onto Default and validates the result.
func Parse(data []byte) (RunConfig, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse config", err)
	}

	if err := cfg.Validate(); err != nil {
		return RunConfig{}, err
	}

	return cfg, nil
}

// UnmarshalYAML maps nullable keys onto optional values. Keys missing from
// the document keep their current value.
func (c *RunConfig) UnmarshalYAML(value *yaml.Node) error {
	type raw struct {
		EngineVersion string                     `yaml:"engine_version"`
		RunID         string                     `yaml:"run_id"`
		BaseCurrency  string                     `yaml:"base_currency"`
		Cash          map[string]decimal.Decimal `yaml:"cash"`
		Rates         map[string]decimal.Decimal `yaml:"rates"`
		Instruments   []types.Instrument         `yaml:"instruments"`
		MaxSteps      *int                       `yaml:"max_steps"`
		Until         *time.Time                 `yaml:"until"`
		VerifyLedger  bool                       `yaml:"verify_ledger"`
		Execution     execution.Config           `yaml:"execution"`
		Live          LiveConfig                 `yaml:"live"`
		Feed          FeedConfig                 `yaml:"feed"`
		Venue         VenueConfig                `yaml:"venue"`
	}

	config := raw{
		EngineVersion: c.EngineVersion,
		RunID:         c.RunID,
		BaseCurrency:  c.BaseCurrency,
		Cash:          c.Cash,
		Rates:         c.Rates,
		Instruments:   c.Instruments,
		MaxSteps:      nil,
		Until:         nil,
		VerifyLedger:  c.VerifyLedger,
		Execution:     c.Execution,
		Live:          c.Live,
		Feed:          c.Feed,
		Venue:         c.Venue,
	}

	if err := value.Decode(&config); err != nil {
		return err
	}

	c.EngineVersion = config.EngineVersion
	c.RunID = config.RunID
	c.BaseCurrency = config.BaseCurrency
	c.Cash = config.Cash
	c.Rates = config.Rates
	c.Instruments = config.Instruments
	c.VerifyLedger = config.VerifyLedger
	c.Execution = config.Execution
	c.Live = config.Live
	c.Feed = config.Feed
	c.Venue = config.Venue

	if config.MaxSteps != nil {
		c.MaxSteps = optional.Some(*config.MaxSteps)
	}

	if config.Until != nil {
		c.Until = optional.Some(*config.Until)
	}

	return nil
}

func (f *FeedConfig) UnmarshalYAML(value *yaml.Node) error {
	type raw struct {
		Path    string     `yaml:"path"`
		Symbols []string   `yaml:"symbols"`
		Start   *time.Time `yaml:"start"`
		End     *time.Time `yaml:"end"`
	}

	config := raw{Path: f.Path, Symbols: f.Symbols, Start: nil, End: nil}
	if err := value.Decode(&config); err != nil {
		return err
	}

	f.Path = config.Path
	f.Symbols = config.Symbols

	if config.Start != nil {
		f.Start = optional.Some(*config.Start)
	}

	if config.End != nil {
		f.End = optional.Some(*config.End)
	}

	return nil
}

// Validate checks struct tags, cross-field rules and the engine version.
func (c RunConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid run config", err)
	}

	if err := version.CheckVersionCompatibility(version.GetVersion(), c.EngineVersion); err != nil {
		return err
	}

	if _, ok := c.Cash[c.BaseCurrency]; !ok {
		return errors.Newf(errors.ErrCodeInvalidConfiguration, "cash has no %s balance", c.BaseCurrency)
	}

	for currency, amount := range c.Cash {
		if amount.IsNegative() {
			return errors.Newf(errors.ErrCodeInvalidConfiguration, "initial %s cash is negative", currency)
		}
	}

	for currency, rate := range c.Rates {
		if !rate.IsPositive() {
			return errors.Newf(errors.ErrCodeInvalidConfiguration, "rate for %s must be positive", currency)
		}
	}

	if c.MaxSteps.IsSome() && c.MaxSteps.Unwrap() < 0 {
		return errors.New(errors.ErrCodeInvalidConfiguration, "max_steps must not be negative")
	}

	if c.Feed.Start.IsSome() && c.Feed.End.IsSome() && c.Feed.End.Unwrap().Before(c.Feed.Start.Unwrap()) {
		return errors.New(errors.ErrCodeInvalidConfiguration, "feed end is before feed start")
	}

	if c.Venue.Kind == VenueBinance {
		if c.Venue.Binance == nil {
			return errors.New(errors.ErrCodeInvalidConfiguration, "binance venue needs a binance section")
		}

		if err := c.Venue.Binance.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// MarshalYAML writes optional values as plain keys and leaves unset ones out.
func (c RunConfig) MarshalYAML() (any, error) {
	type raw struct {
		EngineVersion string                     `yaml:"engine_version,omitempty"`
		RunID         string                     `yaml:"run_id,omitempty"`
		BaseCurrency  string                     `yaml:"base_currency"`
		Cash          map[string]decimal.Decimal `yaml:"cash"`
		Rates         map[string]decimal.Decimal `yaml:"rates,omitempty"`
		Instruments   []types.Instrument         `yaml:"instruments"`
		MaxSteps      *int                       `yaml:"max_steps,omitempty"`
		Until         *time.Time                 `yaml:"until,omitempty"`
		VerifyLedger  bool                       `yaml:"verify_ledger"`
		Execution     execution.Config           `yaml:"execution"`
		Live          LiveConfig                 `yaml:"live"`
		Feed          FeedConfig                 `yaml:"feed"`
		Venue         VenueConfig                `yaml:"venue"`
	}

	return raw{
		EngineVersion: c.EngineVersion,
		RunID:         c.RunID,
		BaseCurrency:  c.BaseCurrency,
		Cash:          c.Cash,
		Rates:         c.Rates,
		Instruments:   c.Instruments,
		MaxSteps:      optionalPointer(c.MaxSteps),
		Until:         optionalPointer(c.Until),
		VerifyLedger:  c.VerifyLedger,
		Execution:     c.Execution,
		Live:          c.Live,
		Feed:          c.Feed,
		Venue:         c.Venue,
	}, nil
}

func (f FeedConfig) MarshalYAML() (any, error) {
	type raw struct {
		Path    string     `yaml:"path"`
		Symbols []string   `yaml:"symbols,omitempty"`
		Start   *time.Time `yaml:"start,omitempty"`
		End     *time.Time `yaml:"end,omitempty"`
	}

	return raw{
		Path:    f.Path,
		Symbols: f.Symbols,
		Start:   optionalPointer(f.Start),
		End:     optionalPointer(f.End),
	}, nil
}

func optionalPointer[T any](value optional.Option[T]) *T {
	if value.IsNone() {
		return nil
	}

	unwrapped := value.Unwrap()

	return &unwrapped
}

// Sample is the config written next to the generated schema: a paper
// backtest of one equity with IBKR fees over a parquet file.
func Sample() RunConfig {
	cfg := Default()
	cfg.EngineVersion = version.GetVersion()
	cfg.BaseCurrency = "USD"
	cfg.Cash = map[string]decimal.Decimal{"USD": decimal.NewFromInt(100000)}
	cfg.Instruments = []types.Instrument{{
		ID:         "AAPL",
		Symbol:     "AAPL",
		Exchange:   "NASDAQ",
		AssetClass: types.AssetClassEquity,
		TickSize:   decimal.RequireFromString("0.01"),
		LotSize:    decimal.NewFromInt(1),
		Currency:   "USD",
	}}
	cfg.Execution.Fee.Broker = commission_fee.BrokerInteractiveBroker
	cfg.Feed.Path = "data/AAPL.parquet"

	return cfg
}
