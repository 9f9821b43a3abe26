// Cardrank - Credit Card Recommendation Batch Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cardrank

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/cardrank/internal/jobs"
	"github.com/tomtom215/cardrank/internal/logging"
)

const (
	// DefaultTopNCards applies when a submission omits top_n_cards.
	DefaultTopNCards = 10

	// DefaultMaxUsersPerJob caps the users in one submission.
	DefaultMaxUsersPerJob = 200

	maxRequestBodySize = 8 * 1024 * 1024

	serviceName    = "CardGenius Recommendations API"
	serviceVersion = "1.0.0"
)

// JobService is the job registry the handlers drive.
type JobService interface {
	Submit(users []jobs.User, topN int) (jobs.Status, error)
	Get(id string) (jobs.Status, error)
	Results(id string) ([]map[string]interface{}, jobs.Status, error)
	List() []jobs.Status
	Delete(id string) bool
	Watch(id string) (<-chan jobs.Status, func(), error)
}

// Handler serves the job API.
type Handler struct {
	jobs     JobService
	maxUsers int
}

// NewHandler creates a handler. maxUsers <= 0 uses DefaultMaxUsersPerJob.
func NewHandler(svc JobService, maxUsers int) *Handler {
	if maxUsers <= 0 {
		maxUsers = DefaultMaxUsersPerJob
	}
	return &Handler{jobs: svc, maxUsers: maxUsers}
}

// RecommendationRequest is the body of POST /api/v1/recommendations.
type RecommendationRequest struct {
	Users     []jobs.User `json:"users" validate:"dive"`
	TopNCards *int        `json:"top_n_cards" validate:"omitempty,min=1,max=50"`
}

// JobResponse acknowledges a submission.
type JobResponse struct {
	JobID      string     `json:"job_id"`
	Status     jobs.State `json:"status"`
	TotalUsers int        `json:"total_users"`
	Message    string     `json:"message"`
}

// ResultsResponse carries a completed job's rows.
type ResultsResponse struct {
	JobID      string                   `json:"job_id"`
	Status     jobs.State               `json:"status"`
	TotalUsers int                      `json:"total_users"`
	Successful int                      `json:"successful"`
	Failed     int                      `json:"failed"`
	Results    []map[string]interface{} `json:"results"`
}

// JobsResponse lists jobs.
type JobsResponse struct {
	Jobs  []jobs.Status `json:"jobs"`
	Total int           `json:"total"`
}

// Root reports the service banner.
func (h *Handler) Root(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"service": serviceName,
		"version": serviceVersion,
		"status":  "running",
	})
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// CreateJob queues a batch of users.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req RecommendationRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err != nil {
		respondError(w, r, http.StatusRequestEntityTooLarge, CodeValidation, "Request body too large", nil)
		return
	}
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, CodeValidation, "Invalid JSON body", nil)
		return
	}

	if len(req.Users) == 0 {
		respondError(w, r, http.StatusBadRequest, CodeValidation, "No users provided", nil)
		return
	}
	if len(req.Users) > h.maxUsers {
		respondError(w, r, http.StatusBadRequest, CodeValidation,
			fmt.Sprintf("Maximum %d users per batch", h.maxUsers), nil)
		return
	}
	if !validateRequest(w, r, &req) {
		return
	}

	topN := DefaultTopNCards
	if req.TopNCards != nil {
		topN = *req.TopNCards
	}

	status, err := h.jobs.Submit(req.Users, topN)
	if errors.Is(err, jobs.ErrQueueFull) {
		respondError(w, r, http.StatusServiceUnavailable, CodeQueueFull, "Job queue is full, retry later", nil)
		return
	}
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, CodeInternalServer, "Failed to create job", err)
		return
	}

	logging.Ctx(r.Context()).Info().Str("job_id", status.JobID).Int("users", status.TotalUsers).Msg("Created job")
	respondJSON(w, http.StatusOK, &JobResponse{
		JobID:      status.JobID,
		Status:     status.Status,
		TotalUsers: status.TotalUsers,
		Message:    "Job created successfully. Use /api/v1/status/{job_id} to check progress",
	})
}

// JobStatus reports a job's progress.
func (h *Handler) JobStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.jobs.Get(chi.URLParam(r, "jobID"))
	if err != nil {
		h.jobError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// JobResults returns a completed job's rows.
func (h *Handler) JobResults(w http.ResponseWriter, r *http.Request) {
	rows, status, err := h.jobs.Results(chi.URLParam(r, "jobID"))
	if errors.Is(err, jobs.ErrNotCompleted) {
		respondError(w, r, http.StatusBadRequest, CodeNotReady,
			fmt.Sprintf("Job is not completed yet. Current status: %s", status.Status), nil)
		return
	}
	if err != nil {
		h.jobError(w, r, err)
		return
	}
	if rows == nil {
		rows = []map[string]interface{}{}
	}
	respondJSON(w, http.StatusOK, &ResultsResponse{
		JobID:      status.JobID,
		Status:     status.Status,
		TotalUsers: status.TotalUsers,
		Successful: status.Successful,
		Failed:     status.Failed,
		Results:    rows,
	})
}

// ListJobs lists every job, oldest first.
func (h *Handler) ListJobs(w http.ResponseWriter, _ *http.Request) {
	list := h.jobs.List()
	respondJSON(w, http.StatusOK, &JobsResponse{Jobs: list, Total: len(list)})
}

// DeleteJob removes a job and its results. Deleting an unknown job succeeds.
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	found := h.jobs.Delete(id)
	logging.Ctx(r.Context()).Info().Str("job_id", sanitizeLogValue(id)).Bool("found", found).Msg("Delete job")
	respondJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Job %s deleted successfully", id),
	})
}

func (h *Handler) jobError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, jobs.ErrNotFound) {
		respondError(w, r, http.StatusNotFound, CodeNotFound, "Job not found", nil)
		return
	}
	respondError(w, r, http.StatusInternalServerError, CodeInternalServer, "Failed to read job", err)
}
