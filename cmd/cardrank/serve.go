// Cardrank - Credit Card Recommendation Batch Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cardrank

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/cardrank/internal/api"
	"github.com/tomtom215/cardrank/internal/cardmap"
	"github.com/tomtom215/cardrank/internal/config"
	"github.com/tomtom215/cardrank/internal/jobs"
	"github.com/tomtom215/cardrank/internal/logging"
	"github.com/tomtom215/cardrank/internal/pipeline"
	"github.com/tomtom215/cardrank/internal/supervisor"
	"github.com/tomtom215/cardrank/internal/supervisor/services"
)

func newServeCmd(global *globalOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Serve the pipeline as an HTTP batch job API",
		Example: `  CARDRANK_SERVER_API_KEY=secret cardrank serve --config config.yaml --addr :8000`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(global)
			if err != nil {
				return err
			}
			if err := cfg.ValidateForServe(); err != nil {
				return err
			}
			if addr == "" {
				addr = net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.host:server.port)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, addr string) error {
	logging.Info().Msg("Starting cardrank job server with supervisor tree")

	var names pipeline.DisplayNamer
	if cfg.Processing.CardNameMode == config.CardNameModeCashKaro {
		store, err := cardmap.LoadStore(cfg.CardMapping.OverridesFile)
		if err != nil {
			return fmt.Errorf("load card name overrides: %w", err)
		}
		names = store
	}

	manager := jobs.NewManager(jobs.DefaultQueueSize)
	worker := jobs.NewWorker(manager, cfg, newRecommender(cfg), names)

	mwCfg := api.DefaultMiddlewareConfig()
	mwCfg.CORSAllowedOrigins = cfg.Server.CORSOrigins
	mwCfg.RateLimitRequests = cfg.Server.RateLimitReqs
	mwCfg.RateLimitWindow = cfg.Server.RateLimitDuration()
	router := api.NewRouter(
		api.NewHandler(manager, cfg.Server.MaxUsersPerJob),
		api.RouterConfig{APIKey: cfg.Server.APIKey, Middleware: mwCfg},
	)

	treeCfg := supervisor.DefaultTreeConfig()
	treeCfg.ShutdownTimeout = cfg.Server.ShutdownDuration() + 5*time.Second
	tree := supervisor.NewSupervisorTree(logging.NewSlogLogger("supervisor"), treeCfg)

	tree.AddWorkerService(worker)
	tree.AddAPIService(services.NewHTTPServerService(func() services.HTTPServer {
		return &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
	}, cfg.Server.ShutdownDuration()))

	logging.Info().
		Str("addr", addr).
		Str("api", cfg.API.BaseURL).
		Int("max_users_per_job", cfg.Server.MaxUsersPerJob).
		Str("card_name_mode", cfg.Processing.CardNameMode).
		Msg("Job server listening")

	err := tree.Serve(ctx)
	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		logging.Warn().Int("count", len(report)).Msg("Services did not stop within the shutdown timeout")
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logging.Info().Msg("Job server stopped")
	return nil
}
