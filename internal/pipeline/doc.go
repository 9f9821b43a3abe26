// Cardrank - Credit Card Recommendation Batch Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cardrank

// Package pipeline turns a table of per-user spend records into ranked
// credit-card recommendations.
//
// # Data Flow
//
//	input table
//	       ↓
//	ResolveColumns (once per table)
//	       ↓
//	BuildPayload → Coerce (per row)
//	       ↓
//	cardgenius.Recommender (retry, backoff, pacing)
//	       ↓
//	Normalize (shape, validity, net savings, stable rank, top N)
//	       ↓
//	top{i}_* columns + cardgenius_error
//
// # Row States
//
// Each row moves pending → resolved-payload → api-called and ends ranked,
// skipped or failed. Failed rows carry a message in the cardgenius_error
// column and default values in every result column. With
// continue_on_error disabled the first failure aborts the run and no output
// is written.
//
// # Concurrency
//
// processing.workers rows run at once. Every API call first waits on one
// shared cardgenius.Pacer, so the aggregate call rate stays at one per
// api.sleep_between_requests regardless of the worker count. Results are
// written into the row they came from, so output order is input order.
// Cancelling the context stops the run between rows; an in-flight call
// completes.
//
// # Warnings
//
// Conditions the pipeline recovers from (an unresolved column, an
// unexpected response shape, a card with null financials, an unreadable
// benefit term) are recorded on the RunContext, logged and counted in
// cardrank_response_warnings_total. They never fail a row.
package pipeline
