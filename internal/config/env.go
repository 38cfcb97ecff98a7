package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-engine/internal/intake"
	"github.com/rxtech-lab/argo-engine/internal/venue"
	"github.com/rxtech-lab/argo-engine/pkg/errors"
)

const (
	EnvRunID            = "ARGO_RUN_ID"
	EnvBaseCurrency     = "ARGO_BASE_CURRENCY"
	EnvMaxSteps         = "ARGO_MAX_STEPS"
	EnvUntil            = "ARGO_UNTIL"
	EnvVerifyLedger     = "ARGO_VERIFY_LEDGER"
	EnvFeedPath         = "ARGO_FEED_PATH"
	EnvBackPressure     = "ARGO_BACK_PRESSURE"
	EnvStallTimeout     = "ARGO_STALL_TIMEOUT"
	EnvVenue            = "ARGO_VENUE"
	EnvBinanceAPIKey    = "ARGO_BINANCE_API_KEY"
	EnvBinanceSecretKey = "ARGO_BINANCE_SECRET_KEY"
	EnvBinanceTestnet   = "ARGO_BINANCE_TESTNET"
)

// LoadFromEnv overlays ARGO_* variables onto cfg and validates the result.
// Variables are read from the process environment first and then from
// envFile, so precedence is ENV > env file > config file > defaults.
// An empty envFile tries .env in the working directory and ignores it when
// missing.
func LoadFromEnv(cfg *RunConfig, envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to load env file %s", envFile)
		}
	} else {
		_ = godotenv.Load()
	}

	if value, ok := os.LookupEnv(EnvRunID); ok {
		cfg.RunID = value
	}

	if value, ok := os.LookupEnv(EnvBaseCurrency); ok {
		cfg.BaseCurrency = value
	}

	if value, ok := os.LookupEnv(EnvMaxSteps); ok {
		steps, err := strconv.Atoi(value)
		if err != nil {
			return invalidEnv(EnvMaxSteps, err)
		}

		cfg.MaxSteps = optional.Some(steps)
	}

	if value, ok := os.LookupEnv(EnvUntil); ok {
		until, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return invalidEnv(EnvUntil, err)
		}

		cfg.Until = optional.Some(until)
	}

	if value, ok := os.LookupEnv(EnvVerifyLedger); ok {
		verify, err := strconv.ParseBool(value)
		if err != nil {
			return invalidEnv(EnvVerifyLedger, err)
		}

		cfg.VerifyLedger = verify
	}

	if value, ok := os.LookupEnv(EnvFeedPath); ok {
		cfg.Feed.Path = value
	}

	if value, ok := os.LookupEnv(EnvBackPressure); ok {
		cfg.Live.BackPressure = intake.Policy(value)
	}

	if value, ok := os.LookupEnv(EnvStallTimeout); ok {
		timeout, err := time.ParseDuration(value)
		if err != nil {
			return invalidEnv(EnvStallTimeout, err)
		}

		cfg.Live.StallTimeout = timeout
	}

	if value, ok := os.LookupEnv(EnvVenue); ok {
		cfg.Venue.Kind = VenueKind(value)
	}

	if err := overlayBinance(cfg); err != nil {
		return err
	}

	return cfg.Validate()
}

func overlayBinance(cfg *RunConfig) error {
	apiKey, hasAPIKey := os.LookupEnv(EnvBinanceAPIKey)
	secretKey, hasSecretKey := os.LookupEnv(EnvBinanceSecretKey)
	testnet, hasTestnet := os.LookupEnv(EnvBinanceTestnet)

	if !hasAPIKey && !hasSecretKey && !hasTestnet {
		return nil
	}

	if cfg.Venue.Binance == nil {
		cfg.Venue.Binance = &venue.BinanceConfig{}
	}

	if hasAPIKey {
		cfg.Venue.Binance.APIKey = apiKey
	}

	if hasSecretKey {
		cfg.Venue.Binance.SecretKey = secretKey
	}

	if hasTestnet {
		enabled, err := strconv.ParseBool(testnet)
		if err != nil {
			return invalidEnv(EnvBinanceTestnet, err)
		}

		cfg.Venue.Binance.Testnet = enabled
	}

	return nil
}

func invalidEnv(name string, err error) error {
	return errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "invalid value for %s", name)
}
