package main

import (
	"fmt"

	"github.com/rxtech-lab/argo-engine/internal/indicator"
	"github.com/rxtech-lab/argo-engine/internal/version"
	"github.com/urfave/cli/v3"
)

const (
	strategyConsecutiveCandles = "consecutive_candles"
	strategyMACross            = "ma_cross"
)

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "argo",
		Usage:   "Backtest and trade strategies with the argo engine",
		Version: version.GetVersion(),
		Commands: []*cli.Command{
			{
				Name:   "backtest",
				Usage:  "Replay the configured feed against a strategy",
				Flags:  runFlags(),
				Action: backtestAction,
			},
			{
				Name:   "live",
				Usage:  "Trade a strategy through the configured venue",
				Flags:  runFlags(),
				Action: liveAction,
			},
			{
				Name:  "schema",
				Usage: "Write the run config JSON schema and a sample config",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "dir",
						Aliases: []string{"d"},
						Usage:   "Output directory",
						Value:   "config",
					},
				},
				Action: schemaAction,
			},
		},
	}
}

func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "config",
			Aliases:  []string{"c"},
			Usage:    "Path to the run config YAML",
			Sources:  cli.EnvVars("ARGO_CONFIG"),
			Required: true,
		},
		&cli.StringFlag{
			Name:  "env-file",
			Usage: "Env file with ARGO_* overrides. Defaults to .env when present",
		},
		&cli.StringFlag{
			Name:    "strategy",
			Aliases: []string{"s"},
			Usage:   fmt.Sprintf("Strategy to run (%s, %s)", strategyConsecutiveCandles, strategyMACross),
			Value:   strategyMACross,
		},
		&cli.StringFlag{
			Name:  "size",
			Usage: "Order size of the consecutive candles strategy",
			Value: "1",
		},
		&cli.StringFlag{
			Name:  "indicator",
			Usage: "Moving average of the cross strategy (ma, ema)",
			Value: string(indicator.IndicatorTypeEMA),
		},
		&cli.IntFlag{
			Name:  "fast",
			Usage: "Fast period of the cross strategy",
			Value: 5,
		},
		&cli.IntFlag{
			Name:  "slow",
			Usage: "Slow period of the cross strategy",
			Value: 20,
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Directory for stats and journal parquet files",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "debug, info, warn or error",
			Value: "info",
		},
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "Hide the progress bar",
		},
	}
}
