// Cardrank - Credit Card Recommendation Batch Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cardrank

package pipeline

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cardrank/internal/logging"
	"github.com/tomtom215/cardrank/internal/metrics"
)

// Warning kinds recorded in a RunReport.
const (
	WarnColumnGap        = "column_resolution_gap"
	WarnResponseShape    = "response_shape"
	WarnNoCards          = "no_cards"
	WarnNullFinancials   = "null_financials"
	WarnBadAmount        = "bad_amount"
	WarnCardDecode       = "card_decode"
	WarnBreakdownEntry   = "breakdown_entry"
	WarnWelcomeBonus     = "welcome_bonus"
	WarnMilestoneRewards = "milestone_rewards"
	WarnVoucherBonus     = "voucher_bonus"
	WarnDisplayName      = "display_name"
)

// Warning is a degraded-but-recovered condition. Row is 1-based; 0 means
// the warning concerns the whole run.
type Warning struct {
	Row     int    `json:"row,omitempty"`
	UserID  string `json:"user_id,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// RunReport summarises one pass over an input table.
type RunReport struct {
	RunID  string `json:"run_id"`
	Input  string `json:"input,omitempty"`
	Output string `json:"output,omitempty"`

	// Total is the number of data rows in the input.
	Total int `json:"total"`

	// Processed counts rows in a terminal state, including skipped ones.
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`

	Warnings []Warning `json:"warnings"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Aborted   bool      `json:"aborted"`
}

// Duration returns the run's wall time so far.
func (r *RunReport) Duration() time.Duration {
	if r.EndTime.IsZero() {
		return time.Since(r.StartTime)
	}
	return r.EndTime.Sub(r.StartTime)
}

// Progress returns processed rows as a percentage (0-100).
func (r *RunReport) Progress() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Processed) / float64(r.Total) * 100
}

// WriteJSON writes the report to path.
func (r *RunReport) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}

// Progress is a point-in-time copy of a run's counters.
type Progress struct {
	Total     int
	Processed int
	Succeeded int
	Failed    int
	Skipped   int
}

// Percentage returns Processed as a percentage of Total.
func (p Progress) Percentage() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Processed) / float64(p.Total) * 100
}

// RunContext is the run-scoped state shared by every stage: the counters
// and the warning sink. It is safe for concurrent use.
type RunContext struct {
	mu     sync.Mutex
	report RunReport
}

// NewRunContext starts a run with the given ID and row count.
func NewRunContext(runID string, total int) *RunContext {
	return &RunContext{report: RunReport{
		RunID:     runID,
		Total:     total,
		Warnings:  []Warning{},
		StartTime: time.Now(),
	}}
}

// Warn records a run-level warning.
func (rc *RunContext) Warn(kind, message string) {
	rc.addWarning(Warning{Kind: kind, Message: message})
}

func (rc *RunContext) addWarning(w Warning) {
	event := logging.Warn().Str("run_id", rc.runID()).Str("kind", w.Kind)
	if w.Row > 0 {
		event = event.Int("row", w.Row).Str("user_id", w.UserID)
	}
	event.Msg(w.Message)

	metrics.ResponseWarnings.WithLabelValues(w.Kind).Inc()
	rc.mu.Lock()
	rc.report.Warnings = append(rc.report.Warnings, w)
	rc.mu.Unlock()
}

func (rc *RunContext) runID() string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.report.RunID
}

// ForRow returns a warning sink bound to one row.
func (rc *RunContext) ForRow(row int, userID string) *RowScope {
	return &RowScope{rc: rc, row: row, userID: userID}
}

func (rc *RunContext) record(outcome string) Progress {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.report.Processed++
	switch outcome {
	case metrics.OutcomeRanked:
		rc.report.Succeeded++
	case metrics.OutcomeFailed:
		rc.report.Failed++
	case metrics.OutcomeSkipped:
		rc.report.Skipped++
	}
	return rc.progressLocked()
}

// Progress returns the current counters.
func (rc *RunContext) Progress() Progress {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.progressLocked()
}

func (rc *RunContext) progressLocked() Progress {
	return Progress{
		Total:     rc.report.Total,
		Processed: rc.report.Processed,
		Succeeded: rc.report.Succeeded,
		Failed:    rc.report.Failed,
		Skipped:   rc.report.Skipped,
	}
}

// Finish stamps the end time and returns a copy of the report.
func (rc *RunContext) Finish(aborted bool) *RunReport {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.report.EndTime = time.Now()
	rc.report.Aborted = aborted
	out := rc.report
	out.Warnings = append([]Warning(nil), rc.report.Warnings...)
	return &out
}

// WarningSink receives degraded-but-recovered conditions from a stage.
type WarningSink interface {
	Warn(kind, message string)
}

// RowScope is a WarningSink that tags warnings with a row and user id.
type RowScope struct {
	rc     *RunContext
	row    int
	userID string
}

// Warn implements WarningSink.
func (s *RowScope) Warn(kind, message string) {
	s.rc.addWarning(Warning{Row: s.row, UserID: s.userID, Kind: kind, Message: message})
}

// discardWarnings drops every warning.
type discardWarnings struct{}

func (discardWarnings) Warn(string, string) {}
