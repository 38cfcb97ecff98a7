package runloop

import (
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-engine/internal/execution"
	"github.com/rxtech-lab/argo-engine/internal/intake"
	"github.com/rxtech-lab/argo-engine/internal/types"
	"github.com/rxtech-lab/argo-engine/pkg/errors"
)

// DefaultRunNamespace seeds run ids when none is configured, so two runs
// with the same inputs produce the same order ids.
var DefaultRunNamespace = uuid.MustParse("6f1c2b8e-5d1a-4b7e-9c3f-2a8d4e6b1f00")

// Config controls one run.
type Config struct {
	// RunID seeds deterministic order ids. Zero means DefaultRunNamespace.
	RunID     uuid.UUID
	Execution execution.Config
	// MaxSteps stops the run after that many batches.
	MaxSteps optional.Option[int]
	// Until stops the run before the first batch later than this time.
	Until optional.Option[time.Time]
	// Converter values multi-currency accounts. Nil treats every currency as equal.
	Converter types.CurrencyConverter
	// VerifyLedger re-derives the ledger from its fills after every commit.
	VerifyLedger bool
	Live         LiveConfig
}

// LiveConfig only applies to RunLive.
type LiveConfig struct {
	QueueCapacity int
	BackPressure  intake.Policy
	// StallTimeout is how long the loop waits for any input before reporting
	// a stalled feed. Zero waits forever.
	StallTimeout time.Duration
	// MaxConsecutiveStalls aborts the run after that many stalls in a row.
	// Zero keeps waiting.
	MaxConsecutiveStalls int
}

// Initial is the account a run starts from.
type Initial struct {
	BaseCurrency string
	Cash         types.Wallet
}

func DefaultConfig() Config {
	return Config{
		RunID:        DefaultRunNamespace,
		Execution:    execution.DefaultConfig(),
		MaxSteps:     optional.None[int](),
		Until:        optional.None[time.Time](),
		Converter:    types.One2OneConverter{},
		VerifyLedger: false,
		Live: LiveConfig{
			QueueCapacity:        1024,
			BackPressure:         intake.PolicyBlock,
			StallTimeout:         time.Minute,
			MaxConsecutiveStalls: 0,
		},
	}
}

func (c Config) withDefaults() Config {
	if c.RunID == uuid.Nil {
		c.RunID = DefaultRunNamespace
	}

	if c.Converter == nil {
		c.Converter = types.One2OneConverter{}
	}

	if c.Live.QueueCapacity == 0 {
		c.Live.QueueCapacity = 1024
	}

	if c.Live.BackPressure == "" {
		c.Live.BackPressure = intake.PolicyBlock
	}

	return c
}

// Validate reports configuration a run cannot start with.
func (c Config) Validate() error {
	if c.MaxSteps.IsSome() && c.MaxSteps.Unwrap() < 0 {
		return errors.New(errors.ErrCodeInvalidConfiguration, "max_steps must not be negative")
	}

	if c.Live.StallTimeout < 0 {
		return errors.New(errors.ErrCodeInvalidConfiguration, "stall_timeout must not be negative")
	}

	if c.Live.MaxConsecutiveStalls < 0 {
		return errors.New(errors.ErrCodeInvalidConfiguration, "max_consecutive_stalls must not be negative")
	}

	return nil
}

func (i Initial) validate() error {
	if i.BaseCurrency == "" {
		return errors.New(errors.ErrCodeInvalidConfiguration, "initial account needs a base currency")
	}

	for currency, amount := range i.Cash {
		if amount.IsNegative() {
			return errors.Newf(errors.ErrCodeInvalidConfiguration, "initial %s cash is negative", currency)
		}
	}

	return nil
}
