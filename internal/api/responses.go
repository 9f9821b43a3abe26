// Cardrank - Credit Card Recommendation Batch Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cardrank

package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cardrank/internal/logging"
	"github.com/tomtom215/cardrank/internal/validation"
)

// Error codes returned in ErrorResponse.
const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeUnauthorized   = "AUTHENTICATION_ERROR"
	CodeNotFound       = "NOT_FOUND"
	CodeNotReady       = "JOB_NOT_COMPLETED"
	CodeQueueFull      = "QUEUE_FULL"
	CodeRateLimited    = "RATE_LIMITED"
	CodeInternalServer = "INTERNAL_ERROR"
)

// ErrorResponse is the body of every non-2xx response. Detail repeats the
// message for clients of the original job API.
type ErrorResponse struct {
	Status    string     `json:"status"`
	Detail    string     `json:"detail"`
	Error     *ErrorInfo `json:"error"`
	Timestamp time.Time  `json:"timestamp"`
}

// ErrorInfo is the structured part of an ErrorResponse.
type ErrorInfo struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// sanitizeLogValue escapes control characters so request-supplied values
// cannot forge log lines.
func sanitizeLogValue(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			fmt.Fprintf(&b, "\\x%02x", r)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// respondJSON writes v with the given status.
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// respondError writes an ErrorResponse. err, when given, is logged but not
// sent to the client.
func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string, err error) {
	respondErrorDetails(w, r, status, code, message, nil, err)
}

func respondErrorDetails(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]interface{}, err error) {
	if err != nil || status >= http.StatusInternalServerError {
		logging.Ctx(r.Context()).Error().
			AnErr("error", err).
			Str("code", code).
			Str("path", sanitizeLogValue(r.URL.Path)).
			Msg("API error")
	}

	respondJSON(w, status, &ErrorResponse{
		Status: "error",
		Detail: message,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
			Details: details,
		},
		Timestamp: time.Now().UTC(),
	})
}

// validateRequest runs the struct-tag validator and writes a 400 on failure.
// It reports whether the request was valid.
func validateRequest(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	verr := validation.ValidateStruct(v)
	if verr == nil {
		return true
	}
	respondErrorDetails(w, r, http.StatusBadRequest, CodeValidation, verr.Error(), verr.Details(), nil)
	return false
}
