// Cardrank - Credit Card Recommendation Batch Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cardrank

package jobs

import (
	"context"
	"fmt"

	"github.com/tomtom215/cardrank/internal/cardgenius"
	"github.com/tomtom215/cardrank/internal/config"
	"github.com/tomtom215/cardrank/internal/logging"
	"github.com/tomtom215/cardrank/internal/pipeline"
)

// Worker processes queued jobs one at a time. It implements suture.Service.
type Worker struct {
	manager *Manager
	cfg     *config.Config
	client  cardgenius.Recommender
	pacer   *cardgenius.Pacer
	names   pipeline.DisplayNamer
}

// NewWorker creates a worker. Every job shares client and one pacer built
// from cfg, so the API rate limit holds across jobs. names may be nil.
func NewWorker(m *Manager, cfg *config.Config, client cardgenius.Recommender, names pipeline.DisplayNamer) *Worker {
	return &Worker{
		manager: m,
		cfg:     cfg,
		client:  client,
		pacer:   cardgenius.NewPacer(cfg.API.SleepDuration()),
		names:   names,
	}
}

// Serve implements suture.Service. It returns ctx.Err() on shutdown; a job
// in progress is canceled between rows and marked failed.
func (w *Worker) Serve(ctx context.Context) error {
	logging.Info().Msg("Job worker started")
	for {
		j, jobCtx, err := w.manager.next(ctx)
		if err != nil {
			logging.Info().Msg("Job worker stopping")
			return err
		}
		w.process(jobCtx, j)
	}
}

// String implements fmt.Stringer for suture logging.
func (w *Worker) String() string {
	return "job-worker"
}

func (w *Worker) process(ctx context.Context, j *job) {
	ctx = logging.ContextWithLogger(ctx, logging.WithComponent(w.String()))
	ctx = logging.ContextWithJobID(ctx, j.id)
	log := logging.Ctx(ctx)

	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Msg("Job panicked")
			w.manager.fail(j.id, fmt.Errorf("internal error: %v", p))
		}
	}()

	log.Info().Int("users", len(j.users)).Msg("Starting job")

	t := buildTable(j.users)
	runner := pipeline.NewRunner(w.jobConfig(j), w.client, w.runnerOptions(j)...)
	report, err := runner.Process(ctx, t)
	if err != nil {
		log.Error().Err(err).Msg("Job failed")
		w.manager.fail(j.id, err)
		return
	}

	w.manager.complete(j.id, t, report)
	log.Info().
		Int("successful", report.Succeeded+report.Skipped).
		Int("failed", report.Failed).
		Dur("duration", report.Duration()).
		Msg("Job completed")
}

// jobConfig derives the pipeline configuration for j from the server's.
func (w *Worker) jobConfig(j *job) *config.Config {
	c := *w.cfg
	c.ColumnMappings = columnMappings()
	c.Processing.TopNCards = j.topN
	c.Processing.SkipEmptyRows = true
	c.Processing.ContinueOnError = true
	c.Processing.Workers = 1
	return &c
}

func (w *Worker) runnerOptions(j *job) []pipeline.Option {
	opts := []pipeline.Option{
		pipeline.WithPacer(w.pacer),
		pipeline.WithRunID(j.id[:8]),
		pipeline.WithProgress(func(p pipeline.Progress) {
			w.manager.updateProgress(j.id, p)
		}),
	}
	if w.names != nil {
		opts = append(opts, pipeline.WithDisplayNames(w.names))
	}
	return opts
}
