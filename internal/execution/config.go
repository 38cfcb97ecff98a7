package execution

import (
	"github.com/rxtech-lab/argo-engine/internal/execution/commission_fee"
	"github.com/rxtech-lab/argo-engine/internal/execution/slippage"
	"github.com/rxtech-lab/argo-engine/internal/types"
	"github.com/shopspring/decimal"
)

type SessionConfig struct {
	// Timezone is an IANA zone name such as America/New_York. Empty means UTC.
	Timezone string `yaml:"timezone" json:"timezone"`
	// Close is the session close in HH:MM local time. Empty means midnight.
	Close string `yaml:"close" json:"close" validate:"omitempty,datetime=15:04"`
}

// Config selects the capability models of an Engine.
type Config struct {
	PriceReference types.PriceReference  `yaml:"price_reference" json:"price_reference" validate:"omitempty,oneof=last mid side"`
	Fee            commission_fee.Config `yaml:"fee" json:"fee"`
	Slippage       slippage.Config       `yaml:"slippage" json:"slippage"`
	Liquidity      LiquidityConfig       `yaml:"liquidity" json:"liquidity"`
	Session        SessionConfig         `yaml:"session" json:"session"`
	Risk           RiskConfig            `yaml:"risk" json:"risk"`
}

// DefaultConfig fills at the last price without fees or slippage, checks
// buying power and forbids shorting.
func DefaultConfig() Config {
	return Config{
		PriceReference: types.PriceReferenceLast,
		Fee:            commission_fee.Config{Broker: commission_fee.BrokerZero},
		Slippage:       slippage.Config{Kind: slippage.KindNone, Value: decimal.Zero},
		Liquidity:      LiquidityConfig{Kind: LiquidityFull, ParticipationRate: decimal.Zero},
		Session:        SessionConfig{Timezone: "UTC", Close: ""},
		Risk: RiskConfig{
			BuyingPower:        true,
			MaxPosition:        nil,
			DefaultMaxPosition: decimal.Zero,
			AllowShort:         false,
			ShortMargin:        decimal.NewFromInt(1),
			PartialFillToLimit: false,
		},
	}
}
