// Cardrank - Credit Card Recommendation Batch Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cardrank

// Package jobs runs recommendation batches submitted to the job server.
//
// A Manager keeps jobs in memory and queues them; a single Worker, run under
// the supervisor tree, takes them one at a time and drives the same pipeline
// the batch CLI uses over an in-memory table. Jobs move through
//
//	queued -> processing -> completed | failed
//
// and never leave a terminal state. Watchers receive a Status snapshot on
// every change until the job is terminal or deleted.
package jobs

import (
	"context"
	"time"

	"github.com/tomtom215/cardrank/internal/config"
	"github.com/tomtom215/cardrank/internal/pipeline"
	"github.com/tomtom215/cardrank/internal/table"
)

// State is a job's lifecycle state.
type State string

const (
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// User is one user's spend profile in a job submission.
type User struct {
	UserID          string  `json:"user_id" validate:"required,max=128"`
	AvgAmazonGMV    float64 `json:"avg_amazon_gmv" validate:"gte=0"`
	AvgFlipkartGMV  float64 `json:"avg_flipkart_gmv" validate:"gte=0"`
	AvgMyntraGMV    float64 `json:"avg_myntra_gmv" validate:"gte=0"`
	AvgAjioGMV      float64 `json:"avg_ajio_gmv" validate:"gte=0"`
	AvgConfirmedGMV float64 `json:"avg_confirmed_gmv" validate:"gte=0"`
	AvgGroceryGMV   float64 `json:"avg_grocery_gmv" validate:"gte=0"`
	TotalGMV        float64 `json:"total_gmv" validate:"gte=0"`
}

// Input table headers for job rows.
const (
	headerUserID       = "userid"
	headerAmazon       = "avg_amazon_gmv"
	headerFlipkart     = "avg_flipkart_gmv"
	headerMyntra       = "avg_myntra_gmv"
	headerAjio         = "avg_ajio_gmv"
	headerConfirmedGMV = "avg_confirmed_gmv"
	headerGrocery      = "avg_grocery_gmv"
	headerTotalGMV     = "total_gmv"
)

var inputHeaders = []string{
	headerUserID, headerAmazon, headerFlipkart, headerMyntra,
	headerAjio, headerConfirmedGMV, headerGrocery, headerTotalGMV,
}

// columnMappings maps the job table headers to the pipeline's logical fields.
func columnMappings() config.ColumnMappingsConfig {
	return config.ColumnMappingsConfig{
		UserID:         headerUserID,
		AmazonSpends:   headerAmazon,
		FlipkartSpends: headerFlipkart,
		Myntra:         headerMyntra,
		Ajio:           headerAjio,
		AvgGMV:         headerConfirmedGMV,
		Grocery:        headerGrocery,
		TotalGMV:       headerTotalGMV,
	}
}

// buildTable converts a submission into the pipeline's input table.
func buildTable(users []User) *table.Table {
	t := &table.Table{
		Headers: append([]string(nil), inputHeaders...),
		Rows:    make([]table.Row, 0, len(users)),
	}
	for _, u := range users {
		t.Rows = append(t.Rows, table.Row{
			headerUserID:       u.UserID,
			headerAmazon:       u.AvgAmazonGMV,
			headerFlipkart:     u.AvgFlipkartGMV,
			headerMyntra:       u.AvgMyntraGMV,
			headerAjio:         u.AvgAjioGMV,
			headerConfirmedGMV: u.AvgConfirmedGMV,
			headerGrocery:      u.AvgGroceryGMV,
			headerTotalGMV:     u.TotalGMV,
		})
	}
	return t
}

// Status is a point-in-time view of a job.
type Status struct {
	JobID              string     `json:"job_id"`
	Status             State      `json:"status"`
	TotalUsers         int        `json:"total_users"`
	ProcessedUsers     int        `json:"processed_users"`
	Successful         int        `json:"successful"`
	Failed             int        `json:"failed"`
	ProgressPercentage float64    `json:"progress_percentage"`
	CreatedAt          time.Time  `json:"created_at"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	Error              string     `json:"error,omitempty"`
}

// job is the manager's mutable record. Guarded by Manager.mu.
type job struct {
	id        string
	users     []User
	topN      int
	state     State
	progress  pipeline.Progress
	created   time.Time
	started   time.Time
	completed time.Time
	err       string
	results   []map[string]interface{}
	cancel    context.CancelFunc
}

func (j *job) status() Status {
	s := Status{
		JobID:          j.id,
		Status:         j.state,
		TotalUsers:     len(j.users),
		ProcessedUsers: j.progress.Processed,
		// Skipped rows carry no error and count as successful.
		Successful: j.progress.Succeeded + j.progress.Skipped,
		Failed:     j.progress.Failed,
		CreatedAt:  j.created,
		Error:      j.err,
	}
	if s.TotalUsers > 0 {
		s.ProgressPercentage = float64(s.ProcessedUsers) / float64(s.TotalUsers) * 100
	}
	if !j.started.IsZero() {
		t := j.started
		s.StartedAt = &t
	}
	if !j.completed.IsZero() {
		t := j.completed
		s.CompletedAt = &t
	}
	return s
}
