// Cardrank - Credit Card Recommendation Batch Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cardrank

package api

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cardrank/internal/jobs"
)

const testAPIKey = "test-key"

// fakeJobs is an in-memory JobService with scriptable results.
type fakeJobs struct {
	mu        sync.Mutex
	submitted [][]jobs.User
	topN      []int
	statuses  map[string]jobs.Status
	results   map[string][]map[string]interface{}
	deleted   []string
	submitErr error
	watch     chan jobs.Status
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{
		statuses: make(map[string]jobs.Status),
		results:  make(map[string][]map[string]interface{}),
	}
}

func (f *fakeJobs) Submit(users []jobs.User, topN int) (jobs.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return jobs.Status{}, f.submitErr
	}
	f.submitted = append(f.submitted, users)
	f.topN = append(f.topN, topN)
	s := jobs.Status{JobID: fmt.Sprintf("job-%d", len(f.submitted)), Status: jobs.StateQueued, TotalUsers: len(users)}
	f.statuses[s.JobID] = s
	return s, nil
}

func (f *fakeJobs) Get(id string) (jobs.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.statuses[id]
	if !ok {
		return jobs.Status{}, jobs.ErrNotFound
	}
	return s, nil
}

func (f *fakeJobs) Results(id string) ([]map[string]interface{}, jobs.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.statuses[id]
	if !ok {
		return nil, jobs.Status{}, jobs.ErrNotFound
	}
	if s.Status != jobs.StateCompleted {
		return nil, s, jobs.ErrNotCompleted
	}
	return f.results[id], s, nil
}

func (f *fakeJobs) List() []jobs.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]jobs.Status, 0, len(f.statuses))
	for _, s := range f.statuses {
		out = append(out, s)
	}
	return out
}

func (f *fakeJobs) Delete(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	_, ok := f.statuses[id]
	delete(f.statuses, id)
	return ok
}

func (f *fakeJobs) Watch(id string) (<-chan jobs.Status, func(), error) {
	if _, err := f.Get(id); err != nil {
		return nil, nil, err
	}
	return f.watch, func() {}, nil
}

func newTestRouter(svc JobService, mwCfg *MiddlewareConfig) http.Handler {
	if mwCfg == nil {
		mwCfg = DefaultMiddlewareConfig()
		mwCfg.RateLimitDisabled = true
	}
	return NewRouter(NewHandler(svc, 3), RouterConfig{APIKey: testAPIKey, Middleware: mwCfg})
}

func doRequest(t *testing.T, h http.Handler, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if authed {
		req.Header.Set(APIKeyHeader, testAPIKey)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
}

func TestRootAndHealth(t *testing.T) {
	t.Parallel()

	h := newTestRouter(newFakeJobs(), nil)

	w := doRequest(t, h, http.MethodGet, "/", "", false)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var banner map[string]string
	decode(t, w, &banner)
	if banner["status"] != "running" || banner["service"] == "" {
		t.Errorf("Expected running banner, got %v", banner)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("Expected X-Request-ID header")
	}

	w = doRequest(t, h, http.MethodGet, "/health", "", false)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"healthy"`) {
		t.Errorf("Expected healthy, got %d %s", w.Code, w.Body.String())
	}
}

func TestAPIKeyRequired(t *testing.T) {
	t.Parallel()

	h := newTestRouter(newFakeJobs(), nil)

	tests := []struct {
		name   string
		setKey func(r *http.Request)
		want   int
	}{
		{"missing", func(*http.Request) {}, http.StatusUnauthorized},
		{"wrong", func(r *http.Request) { r.Header.Set(APIKeyHeader, "nope") }, http.StatusUnauthorized},
		{"header", func(r *http.Request) { r.Header.Set(APIKeyHeader, testAPIKey) }, http.StatusOK},
		{"query", func(r *http.Request) { r.URL.RawQuery = "api_key=" + testAPIKey }, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
			tt.setKey(req)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestAPIKeyEmptyRejectsAll(t *testing.T) {
	t.Parallel()

	h := NewRouter(NewHandler(newFakeJobs(), 0), RouterConfig{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	req.Header.Set(APIKeyHeader, "")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without a configured key, got %d", w.Code)
	}
}

func TestCreateJob(t *testing.T) {
	t.Parallel()

	svc := newFakeJobs()
	h := newTestRouter(svc, nil)

	body := `{"users":[{"user_id":"u1","avg_amazon_gmv":5000,"total_gmv":null},{"user_id":"u2"}]}`
	w := doRequest(t, h, http.MethodPost, "/api/v1/recommendations", body, true)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp JobResponse
	decode(t, w, &resp)
	if resp.JobID != "job-1" || resp.Status != jobs.StateQueued || resp.TotalUsers != 2 {
		t.Errorf("Unexpected response %+v", resp)
	}
	if !strings.Contains(resp.Message, "/api/v1/status/") {
		t.Errorf("Expected status hint in message, got %q", resp.Message)
	}

	if svc.topN[0] != DefaultTopNCards {
		t.Errorf("Expected default top_n %d, got %d", DefaultTopNCards, svc.topN[0])
	}
	if svc.submitted[0][0].AvgAmazonGMV != 5000 {
		t.Errorf("Expected amazon gmv 5000, got %v", svc.submitted[0][0].AvgAmazonGMV)
	}
}

func TestCreateJobTopN(t *testing.T) {
	t.Parallel()

	svc := newFakeJobs()
	h := newTestRouter(svc, nil)

	w := doRequest(t, h, http.MethodPost, "/api/v1/recommendations", `{"users":[{"user_id":"u1"}],"top_n_cards":3}`, true)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if svc.topN[0] != 3 {
		t.Errorf("Expected top_n 3, got %d", svc.topN[0])
	}
}

func TestCreateJobRejects(t *testing.T) {
	t.Parallel()

	h := newTestRouter(newFakeJobs(), nil)

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"invalid json", `{"users":`, "Invalid JSON body"},
		{"no users", `{"users":[]}`, "No users provided"},
		{"missing users", `{}`, "No users provided"},
		{"too many users", `{"users":[{"user_id":"a"},{"user_id":"b"},{"user_id":"c"},{"user_id":"d"}]}`, "Maximum 3 users per batch"},
		{"missing user id", `{"users":[{"avg_amazon_gmv":10}]}`, ""},
		{"negative spend", `{"users":[{"user_id":"a","avg_amazon_gmv":-1}]}`, ""},
		{"top n zero", `{"users":[{"user_id":"a"}],"top_n_cards":0}`, ""},
		{"top n too large", `{"users":[{"user_id":"a"}],"top_n_cards":51}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := doRequest(t, h, http.MethodPost, "/api/v1/recommendations", tt.body, true)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("Expected 400, got %d: %s", w.Code, w.Body.String())
			}
			var resp ErrorResponse
			decode(t, w, &resp)
			if resp.Error == nil || resp.Error.Code != CodeValidation {
				t.Errorf("Expected validation error, got %+v", resp)
			}
			if tt.message != "" && resp.Detail != tt.message {
				t.Errorf("Expected detail %q, got %q", tt.message, resp.Detail)
			}
		})
	}
}

func TestCreateJobQueueFull(t *testing.T) {
	t.Parallel()

	svc := newFakeJobs()
	svc.submitErr = jobs.ErrQueueFull
	h := newTestRouter(svc, nil)

	w := doRequest(t, h, http.MethodPost, "/api/v1/recommendations", `{"users":[{"user_id":"u1"}]}`, true)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", w.Code)
	}
}

func TestJobStatus(t *testing.T) {
	t.Parallel()

	svc := newFakeJobs()
	svc.statuses["abc"] = jobs.Status{
		JobID: "abc", Status: jobs.StateProcessing, TotalUsers: 4,
		ProcessedUsers: 1, Successful: 1, ProgressPercentage: 25,
	}
	h := newTestRouter(svc, nil)

	w := doRequest(t, h, http.MethodGet, "/api/v1/status/abc", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var got map[string]interface{}
	decode(t, w, &got)
	for _, key := range []string{"job_id", "status", "total_users", "processed_users", "successful", "failed", "progress_percentage"} {
		if _, ok := got[key]; !ok {
			t.Errorf("Expected %s in status response: %s", key, w.Body.String())
		}
	}
	if got["progress_percentage"] != 25.0 {
		t.Errorf("Expected 25 percent, got %v", got["progress_percentage"])
	}

	w = doRequest(t, h, http.MethodGet, "/api/v1/status/missing", "", true)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown job, got %d", w.Code)
	}
}

func TestJobResults(t *testing.T) {
	t.Parallel()

	svc := newFakeJobs()
	svc.statuses["done"] = jobs.Status{JobID: "done", Status: jobs.StateCompleted, TotalUsers: 1, Successful: 1}
	svc.results["done"] = []map[string]interface{}{{"userid": "u1", "top1_card_name": "B"}}
	svc.statuses["busy"] = jobs.Status{JobID: "busy", Status: jobs.StateProcessing, TotalUsers: 1}
	h := newTestRouter(svc, nil)

	w := doRequest(t, h, http.MethodGet, "/api/v1/results/done", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp ResultsResponse
	decode(t, w, &resp)
	if resp.Status != jobs.StateCompleted || len(resp.Results) != 1 || resp.Results[0]["top1_card_name"] != "B" {
		t.Errorf("Unexpected results %+v", resp)
	}

	w = doRequest(t, h, http.MethodGet, "/api/v1/results/busy", "", true)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for unfinished job, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Current status: processing") {
		t.Errorf("Expected current status in detail, got %s", w.Body.String())
	}

	w = doRequest(t, h, http.MethodGet, "/api/v1/results/missing", "", true)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestListAndDeleteJobs(t *testing.T) {
	t.Parallel()

	svc := newFakeJobs()
	svc.statuses["a"] = jobs.Status{JobID: "a", Status: jobs.StateQueued}
	h := newTestRouter(svc, nil)

	w := doRequest(t, h, http.MethodGet, "/api/v1/jobs", "", true)
	var list JobsResponse
	decode(t, w, &list)
	if list.Total != 1 || list.Jobs[0].JobID != "a" {
		t.Errorf("Expected one job, got %+v", list)
	}

	for _, id := range []string{"a", "never-existed"} {
		w = doRequest(t, h, http.MethodDelete, "/api/v1/job/"+id, "", true)
		if w.Code != http.StatusOK {
			t.Errorf("Expected 200 deleting %s, got %d", id, w.Code)
		}
		if !strings.Contains(w.Body.String(), "deleted successfully") {
			t.Errorf("Expected delete message, got %s", w.Body.String())
		}
	}
	if len(svc.deleted) != 2 {
		t.Errorf("Expected 2 delete calls, got %d", len(svc.deleted))
	}
}

func TestSubmissionRateLimit(t *testing.T) {
	t.Parallel()

	cfg := DefaultMiddlewareConfig()
	cfg.RateLimitRequests = 1
	cfg.RateLimitWindow = time.Minute
	h := newTestRouter(newFakeJobs(), cfg)

	body := `{"users":[{"user_id":"u1"}]}`
	if w := doRequest(t, h, http.MethodPost, "/api/v1/recommendations", body, true); w.Code != http.StatusOK {
		t.Fatalf("Expected first submission accepted, got %d", w.Code)
	}
	w := doRequest(t, h, http.MethodPost, "/api/v1/recommendations", body, true)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", w.Code)
	}

	// Reads are not limited.
	if w := doRequest(t, h, http.MethodGet, "/api/v1/jobs", "", true); w.Code != http.StatusOK {
		t.Errorf("Expected status reads unaffected, got %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	cfg := DefaultMiddlewareConfig()
	cfg.CORSAllowedOrigins = []string{"https://dashboard.example.com"}
	h := newTestRouter(newFakeJobs(), cfg)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/recommendations", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", APIKeyHeader)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://dashboard.example.com" {
		t.Errorf("Expected allowed origin echoed, got %q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	h := newTestRouter(newFakeJobs(), nil)
	doRequest(t, h, http.MethodGet, "/health", "", false)

	w := doRequest(t, h, http.MethodGet, "/metrics", "", false)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `cardrank_http_requests_total{method="GET",route="/health",status="200"}`) {
		t.Errorf("Expected request counter for /health in metrics output")
	}
}

func TestNotFound(t *testing.T) {
	t.Parallel()

	w := doRequest(t, newTestRouter(newFakeJobs(), nil), http.MethodGet, "/nope", "", false)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestSanitizeLogValue(t *testing.T) {
	t.Parallel()

	if got := sanitizeLogValue("a\nb\x7f"); got != `a\x0ab\x7f` {
		t.Errorf("Expected control characters escaped, got %q", got)
	}
}
