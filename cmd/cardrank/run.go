// Cardrank - Credit Card Recommendation Batch Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cardrank

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tomtom215/cardrank/internal/cardgenius"
	"github.com/tomtom215/cardrank/internal/cardmap"
	"github.com/tomtom215/cardrank/internal/config"
	"github.com/tomtom215/cardrank/internal/logging"
	"github.com/tomtom215/cardrank/internal/pipeline"
)

type runOptions struct {
	input      string
	output     string
	workers    int
	reportPath string
}

func newRunCmd(global *globalOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Rank cards for every row of the input table",
		Example: `  cardrank run --config config.yaml
  cardrank run -c config.yaml --input users.xlsx --output ranked.xlsx --workers 4 --report run.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(global)
			if err != nil {
				return err
			}
			if err := opts.apply(cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runBatch(ctx, cfg, opts.reportPath)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.input, "input", "i", "", "input table (overrides excel.input_file)")
	f.StringVarP(&opts.output, "output", "o", "", "output table (overrides excel.output_file)")
	f.IntVarP(&opts.workers, "workers", "w", 0, "concurrent rows (overrides processing.workers)")
	f.StringVar(&opts.reportPath, "report", "", "write the run report as JSON to this path")
	return cmd
}

// apply layers the flag overrides onto cfg and revalidates it.
func (o *runOptions) apply(cfg *config.Config) error {
	if o.input != "" {
		cfg.Excel.InputFile = o.input
	}
	if o.output != "" {
		cfg.Excel.OutputFile = o.output
	}
	if o.workers > 0 {
		cfg.Processing.Workers = o.workers
	}
	if err := cfg.Validate(); err != nil {
		return &config.ConfigError{Source: "flags", Err: err}
	}
	return cfg.ValidateForRun()
}

// runBatch runs the pipeline over the configured input table.
func runBatch(ctx context.Context, cfg *config.Config, reportPath string) error {
	logging.Info().
		Str("api", cfg.API.BaseURL).
		Str("input", cfg.Excel.InputFile).
		Str("output", cfg.Excel.OutputFile).
		Int("workers", cfg.Processing.Workers).
		Int("top_n", cfg.Processing.TopNCards).
		Msg("Configuration loaded")

	opts := []pipeline.Option{pipeline.WithRunID(logging.GenerateRunID())}
	if cfg.Processing.CardNameMode == config.CardNameModeCashKaro {
		store, err := cardmap.LoadStore(cfg.CardMapping.OverridesFile)
		if err != nil {
			return fmt.Errorf("load card name overrides: %w", err)
		}
		opts = append(opts, pipeline.WithDisplayNames(store))
	}

	report, err := pipeline.NewRunner(cfg, newRecommender(cfg), opts...).Run(ctx)
	if report != nil && reportPath != "" {
		if werr := report.WriteJSON(reportPath); werr != nil {
			logging.Error().Err(werr).Str("path", reportPath).Msg("Failed to write run report")
		}
	}
	return err
}

// newRecommender builds the scoring client, behind a circuit breaker when
// one is configured.
func newRecommender(cfg *config.Config) cardgenius.Recommender {
	client := cardgenius.NewClient(&cfg.API)
	if !cfg.API.CircuitBreaker.Enabled {
		return client
	}
	return cardgenius.NewBreakerClient(client, &cfg.API.CircuitBreaker)
}
