package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rxtech-lab/argo-engine/internal/config"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const schemaHeader = "# yaml-language-server: $schema=run-config.json\n"

func backtestAction(ctx context.Context, cmd *cli.Command) error {
	s, err := prepare(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	source, err := s.file.NewFeed(s.logger)
	if err != nil {
		return err
	}
	defer source.Close()

	total, err := source.Count(ctx)
	if err != nil {
		return err
	}

	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(cmd.Root().ErrWriter),
		progressbar.OptionSetVisibility(!cmd.Bool("quiet")),
		progressbar.OptionSetDescription("backtesting"),
		progressbar.OptionShowCount(),
	)

	release := stopOnSignal(s.runner)
	defer release()

	final, err := s.runner.Run(ctx, &progressFeed{source: source, bar: bar}, s.strategy, s.run.Initial, s.run.Config)
	_ = bar.Finish()

	if err != nil {
		return err
	}

	s.logger.Info("Backtest finished",
		zap.Int("positions", len(final.Positions)),
		zap.Int("open_orders", len(final.OpenOrders)),
	)

	return s.report(ctx, cmd)
}

func liveAction(ctx context.Context, cmd *cli.Command) error {
	s, err := prepare(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	source, err := s.file.NewFeed(s.logger)
	if err != nil {
		return err
	}
	defer source.Close()

	v, err := s.file.NewVenue(s.run.Registry, s.logger)
	if err != nil {
		return err
	}

	release := stopOnSignal(s.runner)
	defer release()

	final, err := s.runner.RunLive(ctx, source, v, s.strategy, s.run.Initial, s.run.Config)
	if err != nil {
		return err
	}

	s.logger.Info("Live run finished",
		zap.String("venue", string(s.file.Venue.Kind)),
		zap.Int("open_orders", len(final.OpenOrders)),
	)

	return s.report(ctx, cmd)
}

// schemaAction writes the JSON schema of the run config. A sample config
// pointing at the schema is written next to it unless one already exists.
func schemaAction(_ context.Context, cmd *cli.Command) error {
	dir := cmd.String("dir")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create schema directory: %w", err)
	}

	schema, err := (&config.RunConfig{}).GenerateSchemaJSON()
	if err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(dir, "run-config.json"), []byte(schema), 0o644); err != nil {
		return fmt.Errorf("failed to write schema: %w", err)
	}

	samplePath := filepath.Join(dir, "run-config.yaml")
	if _, err := os.Stat(samplePath); err == nil {
		fmt.Fprintf(cmd.Root().Writer, "Schema written to %s, kept existing %s\n", dir, samplePath)

		return nil
	}

	sample, err := yaml.Marshal(config.Sample())
	if err != nil {
		return fmt.Errorf("failed to render sample config: %w", err)
	}

	if err := os.WriteFile(samplePath, append([]byte(schemaHeader), sample...), 0o644); err != nil {
		return fmt.Errorf("failed to write sample config: %w", err)
	}

	fmt.Fprintf(cmd.Root().Writer, "Schema and sample config written to %s\n", dir)

	return nil
}
