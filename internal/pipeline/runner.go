// Cardrank - Credit Card Recommendation Batch Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cardrank

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/cardrank/internal/cardgenius"
	"github.com/tomtom215/cardrank/internal/config"
	"github.com/tomtom215/cardrank/internal/logging"
	"github.com/tomtom215/cardrank/internal/metrics"
	"github.com/tomtom215/cardrank/internal/table"
)

var (
	// ErrInputRead wraps failures loading the input table.
	ErrInputRead = errors.New("failed to read input table")

	// ErrOutputWrite wraps failures saving the output table. The rows were
	// processed; only the write failed.
	ErrOutputWrite = errors.New("failed to write output table")

	// ErrAborted wraps the cause of a run that stopped before every row
	// reached a terminal state: cancellation, or a row failure with
	// continue_on_error disabled.
	ErrAborted = errors.New("run aborted")
)

// RowState tracks a row through the pipeline.
type RowState string

const (
	StatePending         RowState = "pending"
	StateResolvedPayload RowState = "resolved-payload"
	StateAPICalled       RowState = "api-called"
	StateRanked          RowState = "ranked"
	StateAPIFailed       RowState = "api-failed"
	StateException       RowState = "exception"
	StateSkipped         RowState = "skipped"
)

// RowError is a row failure. It aborts the run when continue_on_error is off.
type RowError struct {
	Row    int
	UserID string
	State  RowState
	Err    error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d (user %s) %s: %v", e.Row, e.UserID, e.State, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// message is the text written to the row's error column.
func (e *RowError) message() string {
	if e.State == StateAPIFailed {
		return fmt.Sprintf("API call failed for user %s: %v", e.UserID, e.Err)
	}
	return fmt.Sprintf("Error processing user %s: %v", e.UserID, e.Err)
}

// Runner drives the pipeline over a table.
type Runner struct {
	cfg      *config.Config
	client   cardgenius.Recommender
	pacer    *cardgenius.Pacer
	names    DisplayNamer
	progress func(Progress)
	runID    string
}

// Option configures a Runner.
type Option func(*Runner)

// WithPacer replaces the pacer built from api.sleep_between_requests. Runners
// that share a pacer share its rate.
func WithPacer(p *cardgenius.Pacer) Option {
	return func(r *Runner) { r.pacer = p }
}

// WithDisplayNames sets the name source used in cashkaro card-name mode.
func WithDisplayNames(n DisplayNamer) Option {
	return func(r *Runner) { r.names = n }
}

// WithProgress registers a callback invoked after each row reaches a
// terminal state. It may be called from several goroutines.
func WithProgress(fn func(Progress)) Option {
	return func(r *Runner) { r.progress = fn }
}

// WithRunID fixes the run ID instead of generating one.
func WithRunID(id string) Option {
	return func(r *Runner) { r.runID = id }
}

// NewRunner creates a runner. cfg must already be validated.
func NewRunner(cfg *config.Config, client cardgenius.Recommender, opts ...Option) *Runner {
	r := &Runner{cfg: cfg, client: client}
	for _, opt := range opts {
		opt(r)
	}
	if r.pacer == nil {
		r.pacer = cardgenius.NewPacer(cfg.API.SleepDuration())
	}
	return r
}

// Run reads the configured input table, processes it and writes the output
// table. The output is not written when the run is aborted.
func (r *Runner) Run(ctx context.Context) (*RunReport, error) {
	in, out := r.cfg.Excel.InputFile, r.cfg.Excel.OutputFile

	logging.Info().Str("input", in).Msg("Loading input table")
	t, err := table.Read(in, r.cfg.Excel.SheetName)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInputRead, err)
	}
	logging.Info().Int("rows", len(t.Rows)).Strs("columns", t.Headers).Msg("Loaded input table")

	report, err := r.Process(ctx, t)
	report.Input, report.Output = in, out
	if err != nil {
		return report, err
	}

	logging.Info().Str("output", out).Msg("Saving results")
	if err := table.Write(out, t); err != nil {
		return report, fmt.Errorf("%w: %w", ErrOutputWrite, err)
	}

	logging.Info().
		Int("total_rows", report.Total).
		Int("successful", report.Succeeded).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Int("warnings", len(report.Warnings)).
		Dur("duration", report.Duration()).
		Str("output", out).
		Msg("Processing complete")
	return report, nil
}

// Process runs every row of t through the pipeline, adding the result
// columns in place. Rows keep their input order however many workers run.
// The returned report is never nil.
func (r *Runner) Process(ctx context.Context, t *table.Table) (*RunReport, error) {
	runID := r.runID
	if runID == "" {
		runID = logging.GenerateRunID()
	}
	ctx = logging.ContextWithRunID(ctx, runID)
	rc := NewRunContext(runID, len(t.Rows))
	log := logging.Ctx(ctx)

	mapping := ResolveColumns(r.cfg.ColumnMappings.Targets(), t.Headers, rc)

	proc := r.cfg.Processing
	lay := newLayout(proc.TopNCards, proc.ExtractSpendKeys, proc.CardNameMode)
	lay.addColumns(t)
	for _, row := range t.Rows {
		lay.reset(row)
	}
	if proc.CardNameMode == config.CardNameModeCashKaro && r.names == nil {
		rc.Warn(WarnDisplayName, "cashkaro card name mode without a name mapping; API names are kept")
	}

	workers := proc.Workers
	if workers < 1 {
		workers = 1
	}
	log.Info().Int("rows", len(t.Rows)).Int("workers", workers).Int("top_n", proc.TopNCards).Msg("Processing rows")

	g, gctx := errgroup.WithContext(ctx)
	indices := make(chan int)

	g.Go(func() error {
		defer close(indices)
		for i := range t.Rows {
			select {
			case indices <- i:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := range indices {
				// Cancellation takes effect between rows only.
				if gctx.Err() != nil {
					return nil
				}
				if err := r.processRow(gctx, i, t.Rows[i], mapping, lay, rc); err != nil {
					return err
				}
			}
			return nil
		})
	}

	err := g.Wait()
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	report := rc.Finish(err != nil)
	if err != nil {
		metrics.RunsTotal.WithLabelValues("aborted").Inc()
		log.Error().Err(err).Int("processed", report.Processed).Int("total", report.Total).Msg("Run aborted")
		return report, fmt.Errorf("%w: %w", ErrAborted, err)
	}
	metrics.RunsTotal.WithLabelValues("completed").Inc()
	return report, nil
}

// processRow takes one row to a terminal state. It returns an error only
// when the run must stop.
func (r *Runner) processRow(ctx context.Context, idx int, row table.Row, mapping ResolvedMapping, lay *layout, rc *RunContext) error {
	start := time.Now()
	rowNum := idx + 1

	userID := ""
	if h, ok := mapping.Header(config.FieldUserID); ok {
		userID = cellString(row[h])
	}
	log := logging.Ctx(ctx).With().Int("row", rowNum).Str("user_id", userID).Logger()

	if r.cfg.Processing.SkipEmptyRows && userID == "" {
		log.Info().Str("state", string(StateSkipped)).Msg("Skipping empty row")
		r.finish(rc, metrics.OutcomeSkipped, start)
		return nil
	}

	if err := r.pacer.Wait(ctx); err != nil {
		return err
	}

	log.Info().Int("total", rc.Progress().Total).Msg("Processing row")

	if rowErr := r.rank(ctx, &log, row, mapping, lay, rc.ForRow(rowNum, userID)); rowErr != nil {
		rowErr.Row, rowErr.UserID = rowNum, userID
		lay.reset(row)
		row[ErrorColumn] = rowErr.message()
		log.Error().Err(rowErr.Err).Str("state", string(rowErr.State)).Msg("Row failed")
		r.finish(rc, metrics.OutcomeFailed, start)
		if !r.cfg.Processing.ContinueOnError {
			return rowErr
		}
		return nil
	}

	log.Info().Msg("Successfully processed user")
	r.finish(rc, metrics.OutcomeRanked, start)
	return nil
}

// rank builds the payload, calls the API and writes the ranked cards into
// row. A panic in any stage becomes an exception-state RowError.
func (r *Runner) rank(ctx context.Context, log *zerolog.Logger, row table.Row, mapping ResolvedMapping, lay *layout, sink WarningSink) (rowErr *RowError) {
	state := StatePending
	defer func() {
		if p := recover(); p != nil {
			rowErr = &RowError{State: StateException, Err: fmt.Errorf("panic in %s state: %v", state, p)}
		}
	}()

	proc := r.cfg.Processing
	payload := BuildPayload(row, mapping, proc.OtherOnlineMode)
	state = StateResolvedPayload
	log.Debug().Interface("payload", payload).Msg("Built payload")

	raw, err := r.client.Recommend(ctx, payload)
	if err != nil {
		return &RowError{State: StateAPIFailed, Err: err}
	}
	state = StateAPICalled

	cards := Normalize(raw, proc.TopNCards, sink)
	if len(cards) > 0 {
		log.Info().Str("card", cards[0].Name).Float64("roi", cards[0].ROI).Float64("net_savings", cards[0].NetSavings).Msg("Top card")
	}
	lay.apply(row, cards, r.names)
	log.Debug().Str("state", string(StateRanked)).Int("cards", len(cards)).Msg("Row ranked")
	return nil
}

func (r *Runner) finish(rc *RunContext, outcome string, start time.Time) {
	metrics.RecordRow(outcome, time.Since(start))
	p := rc.record(outcome)
	if r.progress != nil {
		r.progress(p)
	}
}
