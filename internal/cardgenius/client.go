// Cardrank - Credit Card Recommendation Batch Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cardrank

// Package cardgenius is the HTTP client for the CardGenius scoring API.
//
// A Client sends one Payload per call and retries transport failures and
// retryable statuses with exponential backoff. The raw JSON body of the
// first successful attempt is returned unparsed; shape handling belongs to
// the pipeline's normalizer. One Client (and so one http.Client connection
// pool) is shared by every row of a run.
package cardgenius

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cardrank/internal/config"
	"github.com/tomtom215/cardrank/internal/logging"
	"github.com/tomtom215/cardrank/internal/metrics"
)

const (
	// maxErrorBodySize caps how much of a failed response is kept for the error.
	maxErrorBodySize = 4 * 1024

	// maxResponseSize caps a successful response body.
	maxResponseSize = 16 * 1024 * 1024

	defaultUserAgent = "CardGenius-Batch-Runner/1.0"
)

// Recommender returns the raw scoring response for one payload.
type Recommender interface {
	Recommend(ctx context.Context, payload *Payload) (json.RawMessage, error)
}

// Client calls the scoring API with bounded retries.
type Client struct {
	baseURL        string
	userAgent      string
	client         *http.Client
	maxRetries     int
	retryBaseDelay time.Duration

	// wait blocks for d or until ctx is done; replaced in tests.
	wait func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client from the api section of the configuration.
func NewClient(cfg *config.APIConfig) *Client {
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Client{
		baseURL:   cfg.BaseURL,
		userAgent: userAgent,
		client: &http.Client{
			Timeout: cfg.TimeoutDuration(),
		},
		maxRetries:     maxRetries,
		retryBaseDelay: cfg.RetryBaseDuration(),
		wait:           sleepContext,
	}
}

// Recommend posts payload and returns the response body of the first
// successful attempt. It makes at most maxRetries attempts, waiting
// retryBaseDelay * 2^attempt between them, and never waits after the last
// one. Non-retryable failures stop immediately. Every failure is returned
// as a *TerminalError, except cancellation during a backoff wait, which
// returns ctx.Err().
//
// The HTTP request itself is detached from ctx cancellation so that an
// operator interrupt lets the in-flight call finish; the client timeout
// still bounds it.
func (c *Client) Recommend(ctx context.Context, payload *Payload) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &TerminalError{Attempts: 0, Err: fmt.Errorf("failed to encode payload: %w", err)}
	}

	log := logging.Ctx(ctx)
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryBaseDelay * time.Duration(1<<uint(attempt-1))
			metrics.ScoringRetriesTotal.Inc()
			log.Debug().Int("attempt", attempt+1).Dur("backoff", delay).Msg("Retrying scoring API call")
			if err := c.wait(ctx, delay); err != nil {
				return nil, err
			}
		}

		raw, err := c.do(context.WithoutCancel(ctx), body)
		if err == nil {
			return raw, nil
		}
		lastErr = err

		log.Warn().Err(err).Int("attempt", attempt+1).Int("max_attempts", c.maxRetries).Msg("Scoring API attempt failed")

		if !IsRetryable(err) {
			return nil, &TerminalError{Attempts: attempt + 1, Err: err}
		}
	}

	return nil, &TerminalError{Attempts: c.maxRetries, Err: lastErr}
}

// do performs a single attempt.
func (c *Client) do(ctx context.Context, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		metrics.RecordScoringAttempt(0, time.Since(start))
		return nil, &TransportError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.RecordScoringAttempt(resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(readBodyForError(resp.Body))}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("failed to read response: %w", err)}
	}
	if !json.Valid(raw) {
		return nil, &TransportError{Err: fmt.Errorf("response is not valid JSON (%d bytes)", len(raw))}
	}
	return json.RawMessage(raw), nil
}

// readBodyForError reads at most maxErrorBodySize bytes of an error body.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	return bytes.TrimSpace(body)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
