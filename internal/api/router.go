// Cardrank - Credit Card Recommendation Batch Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cardrank

// Package api is the HTTP surface of `cardrank serve`: a chi router that
// accepts recommendation batches, reports their progress and serves their
// results.
//
// Routes:
//
//	GET    /                         service banner
//	GET    /health                   liveness
//	GET    /metrics                  Prometheus metrics
//	POST   /api/v1/recommendations   queue a batch (rate limited per IP)
//	GET    /api/v1/status/{jobID}    job progress
//	GET    /api/v1/results/{jobID}   rows of a completed job
//	GET    /api/v1/jobs              every job
//	DELETE /api/v1/job/{jobID}       drop a job and its results
//	GET    /api/v1/jobs/{jobID}/ws   websocket progress stream
//
// Every /api/v1 route requires the X-API-Key header.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig wires the router.
type RouterConfig struct {
	APIKey     string
	Middleware *MiddlewareConfig
}

// NewRouter builds the job server's handler.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	mw := NewMiddleware(cfg.Middleware)

	r := chi.NewRouter()
	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(mw.CORS())
	r.Use(PrometheusMetrics)

	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(APIKeyAuth(cfg.APIKey))

		r.With(mw.RateLimit()).Post("/recommendations", h.CreateJob)
		r.Get("/status/{jobID}", h.JobStatus)
		r.Get("/results/{jobID}", h.JobResults)
		r.Get("/jobs", h.ListJobs)
		r.Delete("/job/{jobID}", h.DeleteJob)
		r.Get("/jobs/{jobID}/ws", h.JobStream)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusNotFound, CodeNotFound, "Not found", nil)
	})
	return r
}
