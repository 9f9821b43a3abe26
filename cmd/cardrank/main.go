// Cardrank - Credit Card Recommendation Batch Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cardrank

// Package main is the cardrank command.
//
// cardrank enriches a spreadsheet of user spend profiles with the best
// credit cards for each user, as ranked by the CardGenius scoring API.
//
// # Commands
//
//	cardrank run    --config cfg.yaml [--input x.xlsx] [--output y.xlsx] [--workers n] [--report r.json]
//	cardrank match  --cashkaro a.txt --cardgenius b.txt [--threshold 0.6] [--strict] [--save]
//	cardrank serve  --config cfg.yaml [--addr :8000]
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest priority wins):
//   - Environment variables (CARDRANK_API_BASE_URL, CARDRANK_WORKERS, CARDRANK_SERVER_API_KEY, ...)
//   - Config file (--config, CONFIG_PATH or ./config.yaml)
//   - Built-in defaults
//
// # Exit Codes
//
// The process exits 1 when the configuration is invalid, the output table
// cannot be written, or a run is aborted by the API or a signal.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/tomtom215/cardrank/internal/config"
	"github.com/tomtom215/cardrank/internal/logging"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	verbose    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logging.Error().Err(err).Msg("cardrank failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "cardrank",
		Short: "Credit card recommendation batch pipeline",
		Long: `cardrank ranks credit cards for every user in a spreadsheet using the
CardGenius scoring API and writes the enriched table back out.

It can also reconcile card names between catalogs (match) and serve the
pipeline as an HTTP batch job API (serve).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML or JSON config file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newRunCmd(opts), newMatchCmd(opts), newServeCmd(opts))
	return root
}

// loadConfig loads the configuration and initializes logging from it.
func loadConfig(opts *globalOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	initLogging(cfg, opts.verbose)
	return cfg, nil
}

func initLogging(cfg *config.Config, verbose bool) {
	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	logging.Init(logging.Config{
		Level:     level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	})
}
