// Cardrank - Credit Card Recommendation Batch Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cardrank

package cardgenius

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cardrank/internal/config"
)

// newTestClient returns a client whose backoff waits are recorded instead
// of slept.
func newTestClient(url string, maxRetries int) (*Client, *[]time.Duration) {
	c := NewClient(&config.APIConfig{
		BaseURL:        url,
		Timeout:        5,
		MaxRetries:     maxRetries,
		RetryBaseDelay: 1,
	})
	waits := &[]time.Duration{}
	c.wait = func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return ctx.Err()
	}
	return c, waits
}

func TestRecommend_Success(t *testing.T) {
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if ua := r.Header.Get("User-Agent"); ua != "CardGenius-Batch-Runner/1.0" {
			t.Errorf("Expected default User-Agent, got %q", ua)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Expected JSON content type, got %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotBody); err != nil {
			t.Errorf("Failed to decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"savings":[{"card_name":"A"}]}`))
	}))
	defer server.Close()

	client, waits := newTestClient(server.URL, 3)
	raw, err := client.Recommend(context.Background(), &Payload{AmazonSpends: 5000, OtherOnlineSpends: 8000})
	if err != nil {
		t.Fatalf("Recommend() error = %v", err)
	}

	if !strings.Contains(string(raw), `"card_name":"A"`) {
		t.Errorf("Expected raw response body, got %s", raw)
	}
	if len(*waits) != 0 {
		t.Errorf("Expected no backoff waits, got %v", *waits)
	}
	if v, ok := gotBody["selected_card_id"]; !ok || v != nil {
		t.Errorf("Expected selected_card_id to be sent as null, got %v (present=%v)", v, ok)
	}
	if gotBody["other_online_spends"] != float64(8000) {
		t.Errorf("Expected other_online_spends 8000, got %v", gotBody["other_online_spends"])
	}
	for _, filler := range []string{"dining_spends", "fuel_spends", "travel_spends", "other_spends"} {
		if v, ok := gotBody[filler]; !ok || v != float64(0) {
			t.Errorf("Expected filler %s = 0, got %v (present=%v)", filler, v, ok)
		}
	}
}

func TestRecommend_RetryBehaviour(t *testing.T) {
	tests := []struct {
		name         string
		maxRetries   int
		responses    []int // status per attempt; 200 ends the sequence
		wantErr      bool
		wantAttempts int32
		wantWaits    []time.Duration
		wantRetry    bool
	}{
		{
			name:         "three server errors exhaust three attempts",
			maxRetries:   3,
			responses:    []int{503, 503, 503},
			wantErr:      true,
			wantAttempts: 3,
			wantWaits:    []time.Duration{time.Second, 2 * time.Second},
			wantRetry:    true,
		},
		{
			name:         "success after two failures",
			maxRetries:   3,
			responses:    []int{500, 429, 200},
			wantAttempts: 3,
			wantWaits:    []time.Duration{time.Second, 2 * time.Second},
		},
		{
			name:         "bad request is not retried",
			maxRetries:   3,
			responses:    []int{400},
			wantErr:      true,
			wantAttempts: 1,
		},
		{
			name:         "single attempt budget",
			maxRetries:   1,
			responses:    []int{502},
			wantErr:      true,
			wantAttempts: 1,
			wantRetry:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := atomic.AddInt32(&attempts, 1)
				status := tt.responses[len(tt.responses)-1]
				if int(n) <= len(tt.responses) {
					status = tt.responses[n-1]
				}
				w.WriteHeader(status)
				if status == http.StatusOK {
					_, _ = w.Write([]byte(`{"cards":[]}`))
				} else {
					_, _ = w.Write([]byte("upstream unavailable"))
				}
			}))
			defer server.Close()

			client, waits := newTestClient(server.URL, tt.maxRetries)
			_, err := client.Recommend(context.Background(), &Payload{})

			if got := atomic.LoadInt32(&attempts); got != tt.wantAttempts {
				t.Errorf("Expected %d attempts, got %d", tt.wantAttempts, got)
			}
			if len(*waits) != len(tt.wantWaits) {
				t.Fatalf("Expected waits %v, got %v", tt.wantWaits, *waits)
			}
			for i := range tt.wantWaits {
				if (*waits)[i] != tt.wantWaits[i] {
					t.Errorf("wait[%d] = %v, want %v", i, (*waits)[i], tt.wantWaits[i])
				}
			}

			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Recommend() error = %v", err)
				}
				return
			}

			var terminal *TerminalError
			if !errors.As(err, &terminal) {
				t.Fatalf("Expected *TerminalError, got %T: %v", err, err)
			}
			if terminal.Attempts != int(tt.wantAttempts) {
				t.Errorf("TerminalError.Attempts = %d, want %d", terminal.Attempts, tt.wantAttempts)
			}
			var status *StatusError
			if !errors.As(err, &status) {
				t.Fatalf("Expected wrapped *StatusError, got %v", err)
			}
			if status.Retryable() != tt.wantRetry {
				t.Errorf("StatusError.Retryable() = %v, want %v", status.Retryable(), tt.wantRetry)
			}
			if !strings.Contains(err.Error(), "upstream unavailable") {
				t.Errorf("Expected error to carry the response body, got %q", err.Error())
			}
		})
	}
}

func TestRecommend_TransportFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close() // every attempt now fails to connect

	client, waits := newTestClient(url, 3)
	_, err := client.Recommend(context.Background(), &Payload{})

	var terminal *TerminalError
	if !errors.As(err, &terminal) {
		t.Fatalf("Expected *TerminalError, got %T: %v", err, err)
	}
	if terminal.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", terminal.Attempts)
	}
	var transport *TransportError
	if !errors.As(err, &transport) {
		t.Errorf("Expected wrapped *TransportError, got %v", err)
	}
	if len(*waits) != 2 {
		t.Errorf("Expected 2 backoff waits (none after the last attempt), got %v", *waits)
	}
}

func TestRecommend_InvalidJSONIsRetried(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			_, _ = w.Write([]byte(`<html>gateway</html>`))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client, _ := newTestClient(server.URL, 2)
	raw, err := client.Recommend(context.Background(), &Payload{})
	if err != nil {
		t.Fatalf("Recommend() error = %v", err)
	}
	if string(raw) != "[]" {
		t.Errorf("Expected second body, got %s", raw)
	}
}

func TestRecommend_CancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client, _ := newTestClient(server.URL, 3)
	client.wait = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := client.Recommend(ctx, &Payload{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"500", &StatusError{StatusCode: 500}, true},
		{"408", &StatusError{StatusCode: 408}, true},
		{"429", &StatusError{StatusCode: 429}, true},
		{"404", &StatusError{StatusCode: 404}, false},
		{"transport", &TransportError{Err: errors.New("reset")}, true},
		{"wrapped", &TerminalError{Attempts: 1, Err: &StatusError{StatusCode: 502}}, true},
		{"plain", errors.New("other"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Errorf("Expected nil after short sleep, got %v", err)
	}
}
