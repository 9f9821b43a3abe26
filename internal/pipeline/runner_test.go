// Cardrank - Credit Card Recommendation Batch Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cardrank

package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cardrank/internal/cardgenius"
	"github.com/tomtom215/cardrank/internal/config"
	"github.com/tomtom215/cardrank/internal/table"
)

const twoCardResponse = `{"savings":[
	{"card_name":"A","total_savings_yearly":1000,"joining_fees":500,"total_extra_benefits":0},
	{"card_name":"B","total_savings_yearly":800,"joining_fees":0,"total_extra_benefits":0}
]}`

// fakeRecommender answers from a function and records every payload.
type fakeRecommender struct {
	mu       sync.Mutex
	payloads []*cardgenius.Payload
	respond  func(p *cardgenius.Payload) (json.RawMessage, error)
}

func (f *fakeRecommender) Recommend(_ context.Context, p *cardgenius.Payload) (json.RawMessage, error) {
	f.mu.Lock()
	f.payloads = append(f.payloads, p)
	f.mu.Unlock()
	if f.respond == nil {
		return json.RawMessage(twoCardResponse), nil
	}
	return f.respond(p)
}

func (f *fakeRecommender) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.API.SleepBetweenRequests = 0
	cfg.API.RetryBaseDelay = 0
	cfg.API.Timeout = 5
	cfg.Processing.TopNCards = 1
	return cfg
}

var inputHeaders = []string{
	"userid", "avg_amazon_gmv", "avg_flipkart_gmv", "avg_myntra_gmv",
	"avg_ajio_gmv", "avg_confirmed_gmv", "avg_grocery_gmv", "total_gmv",
}

func userRow(id string, amazon float64) table.Row {
	return table.Row{
		"userid":            id,
		"avg_amazon_gmv":    amazon,
		"avg_flipkart_gmv":  3000.0,
		"avg_myntra_gmv":    2000.0,
		"avg_ajio_gmv":      1000.0,
		"avg_confirmed_gmv": 5000.0,
		"avg_grocery_gmv":   8000.0,
		"total_gmv":         24000.0,
	}
}

func newTable(rows ...table.Row) *table.Table {
	return &table.Table{Headers: append([]string(nil), inputHeaders...), Rows: rows}
}

func TestProcess_EndToEnd(t *testing.T) {
	fake := &fakeRecommender{}
	tbl := newTable(userRow("u1", 5000))

	r := NewRunner(testConfig(), fake)
	report, err := r.Process(context.Background(), tbl)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if fake.calls() != 1 {
		t.Fatalf("Expected 1 API call, got %d", fake.calls())
	}
	p := fake.payloads[0]
	if p.OtherOnlineSpends != 8000 {
		t.Errorf("Expected other_online_spends 8000, got %v", p.OtherOnlineSpends)
	}
	if p.AmazonSpends != 5000 || p.FlipkartSpends != 3000 || p.GrocerySpendsOnline != 8000 {
		t.Errorf("Unexpected payload %+v", p)
	}

	row := tbl.Rows[0]
	if row["top1_card_name"] != "B" {
		t.Errorf("Expected top1 card B, got %v", row["top1_card_name"])
	}
	if row["top1_net_savings"] != 800.0 {
		t.Errorf("Expected top1 net 800, got %v", row["top1_net_savings"])
	}
	if row["top1_card_type"] != "cashback" {
		t.Errorf("Expected cashback, got %v", row["top1_card_type"])
	}
	if row[ErrorColumn] != "" {
		t.Errorf("Expected empty error column, got %v", row[ErrorColumn])
	}
	if _, ok := row["top2_card_name"]; ok {
		t.Error("Expected no top2 columns with top_n_cards=1")
	}

	if report.Succeeded != 1 || report.Failed != 0 || report.Processed != 1 || report.Total != 1 {
		t.Errorf("Unexpected report counters: %+v", report)
	}
	if report.Aborted {
		t.Error("Expected run not to be aborted")
	}

	last := tbl.Headers[len(tbl.Headers)-1]
	if last != ErrorColumn {
		t.Errorf("Expected %s as last column, got %s", ErrorColumn, last)
	}
	if tbl.Headers[0] != "userid" {
		t.Errorf("Expected input columns first, got %v", tbl.Headers[:3])
	}
}

func TestProcess_GroceryGapReadsZero(t *testing.T) {
	fake := &fakeRecommender{}
	tbl := newTable(userRow("u1", 100), userRow("u2", 200))
	tbl.Headers = []string{"userid", "avg_amazon_gmv", "avg_flipkart_gmv", "avg_myntra_gmv", "avg_ajio_gmv", "avg_confirmed_gmv"}
	for _, row := range tbl.Rows {
		delete(row, "avg_grocery_gmv")
		delete(row, "total_gmv")
	}

	report, err := NewRunner(testConfig(), fake).Process(context.Background(), tbl)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	for i, p := range fake.payloads {
		if p.GrocerySpendsOnline != 0 {
			t.Errorf("payload %d: expected grocery 0, got %v", i, p.GrocerySpendsOnline)
		}
	}
	if report.Succeeded != 2 {
		t.Errorf("Expected both rows to succeed, got %+v", report)
	}

	gaps := 0
	for _, w := range report.Warnings {
		if w.Kind == WarnColumnGap {
			gaps++
		}
	}
	if gaps != 2 {
		t.Errorf("Expected gaps for grocery and total_gmv, got %d (%+v)", gaps, report.Warnings)
	}
}

func TestProcess_TransportFailuresThenContinue(t *testing.T) {
	var failing int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p cardgenius.Payload
		_ = json.NewDecoder(r.Body).Decode(&p)
		if p.AmazonSpends == 1 {
			atomic.AddInt32(&failing, 1)
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Error("response writer does not support hijacking")
				return
			}
			conn, _, _ := hj.Hijack()
			_ = conn.Close()
			return
		}
		_, _ = w.Write([]byte(twoCardResponse))
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.API.BaseURL = server.URL
	cfg.API.MaxRetries = 3

	tbl := newTable(userRow("u1", 1), userRow("u2", 2))
	report, err := NewRunner(cfg, cardgenius.NewClient(&cfg.API)).Process(context.Background(), tbl)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if got := atomic.LoadInt32(&failing); got != 3 {
		t.Errorf("Expected exactly 3 attempts for the failing row, got %d", got)
	}

	failed := tbl.Rows[0]
	msg, _ := failed[ErrorColumn].(string)
	if !strings.Contains(msg, "API call failed for user u1") {
		t.Errorf("Expected populated error message, got %q", msg)
	}
	if failed["top1_card_name"] != "" || failed["top1_redemption_required"] != true {
		t.Errorf("Expected default result fields on failed row, got name=%v redemption=%v", failed["top1_card_name"], failed["top1_redemption_required"])
	}

	if tbl.Rows[1]["top1_card_name"] != "B" {
		t.Errorf("Expected next row to be processed, got %v", tbl.Rows[1]["top1_card_name"])
	}
	if report.Failed != 1 || report.Succeeded != 1 {
		t.Errorf("Unexpected report counters: %+v", report)
	}
}

func TestProcess_StopOnError(t *testing.T) {
	fake := &fakeRecommender{respond: func(p *cardgenius.Payload) (json.RawMessage, error) {
		return nil, &cardgenius.TerminalError{Attempts: 1, Err: &cardgenius.StatusError{StatusCode: 400}}
	}}
	cfg := testConfig()
	cfg.Processing.ContinueOnError = false

	tbl := newTable(userRow("u1", 1), userRow("u2", 2), userRow("u3", 3))
	report, err := NewRunner(cfg, fake).Process(context.Background(), tbl)

	if !errors.Is(err, ErrAborted) {
		t.Fatalf("Expected ErrAborted, got %v", err)
	}
	var rowErr *RowError
	if !errors.As(err, &rowErr) {
		t.Fatalf("Expected *RowError in chain, got %v", err)
	}
	if rowErr.Row != 1 || rowErr.UserID != "u1" || rowErr.State != StateAPIFailed {
		t.Errorf("Unexpected row error %+v", rowErr)
	}
	if fake.calls() != 1 {
		t.Errorf("Expected the run to stop after the first row, got %d calls", fake.calls())
	}
	if !report.Aborted || report.Failed != 1 {
		t.Errorf("Unexpected report %+v", report)
	}
}

func TestProcess_SkipEmptyRows(t *testing.T) {
	fake := &fakeRecommender{}
	blank := userRow("  ", 1)
	missing := userRow("", 1)
	delete(missing, "userid")

	tbl := newTable(blank, userRow("u2", 2), missing)
	report, err := NewRunner(testConfig(), fake).Process(context.Background(), tbl)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if fake.calls() != 1 {
		t.Errorf("Expected skipped rows not to call the API, got %d calls", fake.calls())
	}
	if report.Skipped != 2 || report.Succeeded != 1 || report.Processed != 3 {
		t.Errorf("Unexpected counters %+v", report)
	}
	if tbl.Rows[0]["top1_card_name"] != "" || tbl.Rows[0][ErrorColumn] != "" {
		t.Error("Expected skipped row to keep default result fields")
	}
}

func TestProcess_ExceptionIsRecorded(t *testing.T) {
	fake := &fakeRecommender{respond: func(p *cardgenius.Payload) (json.RawMessage, error) {
		if p.AmazonSpends == 1 {
			panic("decoder exploded")
		}
		return json.RawMessage(twoCardResponse), nil
	}}

	tbl := newTable(userRow("u1", 1), userRow("u2", 2))
	report, err := NewRunner(testConfig(), fake).Process(context.Background(), tbl)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	msg, _ := tbl.Rows[0][ErrorColumn].(string)
	if !strings.HasPrefix(msg, "Error processing user u1") || !strings.Contains(msg, "decoder exploded") {
		t.Errorf("Unexpected error message %q", msg)
	}
	if report.Failed != 1 || report.Succeeded != 1 {
		t.Errorf("Unexpected counters %+v", report)
	}
}

func TestProcess_WorkersPreserveOrder(t *testing.T) {
	fake := &fakeRecommender{respond: func(p *cardgenius.Payload) (json.RawMessage, error) {
		// Later rows answer sooner.
		time.Sleep(time.Duration(20-int(p.AmazonSpends)) * time.Millisecond)
		body := `[{"card_name":"card-` + strings.Repeat("x", int(p.AmazonSpends)) + `","total_savings_yearly":1,"joining_fees":0,"total_extra_benefits":0}]`
		return json.RawMessage(body), nil
	}}
	cfg := testConfig()
	cfg.Processing.Workers = 4

	rows := make([]table.Row, 10)
	for i := range rows {
		rows[i] = userRow("u", float64(i+1))
	}
	tbl := newTable(rows...)

	var progressCalls int32
	r := NewRunner(cfg, fake, WithProgress(func(p Progress) { atomic.AddInt32(&progressCalls, 1) }))
	report, err := r.Process(context.Background(), tbl)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	for i, row := range tbl.Rows {
		want := "card-" + strings.Repeat("x", i+1)
		if row["top1_card_name"] != want {
			t.Errorf("row %d: expected %s, got %v", i, want, row["top1_card_name"])
		}
	}
	if report.Succeeded != 10 {
		t.Errorf("Expected 10 successes, got %+v", report)
	}
	if atomic.LoadInt32(&progressCalls) != 10 {
		t.Errorf("Expected 10 progress callbacks, got %d", progressCalls)
	}
}

func TestProcess_PacerSpacesCalls(t *testing.T) {
	fake := &fakeRecommender{}
	cfg := testConfig()
	cfg.Processing.Workers = 3

	tbl := newTable(userRow("u1", 1), userRow("u2", 2), userRow("u3", 3))
	start := time.Now()
	_, err := NewRunner(cfg, fake, WithPacer(cardgenius.NewPacer(30*time.Millisecond))).Process(context.Background(), tbl)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 55*time.Millisecond {
		t.Errorf("Expected three paced calls to span two intervals, took %v", elapsed)
	}
}

func TestProcess_CancelledBetweenRows(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fake := &fakeRecommender{respond: func(p *cardgenius.Payload) (json.RawMessage, error) {
		cancel()
		return json.RawMessage(twoCardResponse), nil
	}}

	tbl := newTable(userRow("u1", 1), userRow("u2", 2), userRow("u3", 3))
	report, err := NewRunner(testConfig(), fake).Process(ctx, tbl)

	if !errors.Is(err, ErrAborted) || !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected aborted run caused by cancellation, got %v", err)
	}
	if fake.calls() != 1 {
		t.Errorf("Expected no call after cancellation, got %d", fake.calls())
	}
	if tbl.Rows[0]["top1_card_name"] != "B" {
		t.Errorf("Expected the in-flight row to complete, got %v", tbl.Rows[0]["top1_card_name"])
	}
	if report.Processed != 1 || !report.Aborted {
		t.Errorf("Unexpected report %+v", report)
	}
}

type staticNames map[string]string

func (s staticNames) DisplayName(name string) (string, bool) {
	v, ok := s[name]
	return v, ok
}

func TestProcess_CashKaroNames(t *testing.T) {
	cfg := testConfig()
	cfg.Processing.CardNameMode = config.CardNameModeCashKaro
	cfg.Processing.TopNCards = 2

	tbl := newTable(userRow("u1", 1))
	r := NewRunner(cfg, &fakeRecommender{}, WithDisplayNames(staticNames{"B": "Bank B Platinum Credit Card"}))
	if _, err := r.Process(context.Background(), tbl); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	row := tbl.Rows[0]
	if row["top1_card_name"] != "Bank B Platinum Credit Card" || row["top1_cardgenius_name"] != "B" {
		t.Errorf("Unexpected top1 names %v / %v", row["top1_card_name"], row["top1_cardgenius_name"])
	}
	if row["top2_card_name"] != "A" || row["top2_cardgenius_name"] != "A" {
		t.Errorf("Expected unmapped name kept, got %v / %v", row["top2_card_name"], row["top2_cardgenius_name"])
	}
}

func TestRun_CSVRoundTrip(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "users.csv")
	out := filepath.Join(dir, "out.csv")
	csv := "userid,avg_amazon_gmv,avg_flipkart_gmv,avg_myntra_gmv,avg_ajio_gmv,avg_confirmed_gmv,avg_grocery_gmv,total_gmv\n" +
		"u1,\"₹5,000\",3000,2000,1000,5000,8000,24000\n"
	if err := os.WriteFile(in, []byte(csv), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	fake := &fakeRecommender{}
	cfg := testConfig()
	cfg.Excel.InputFile, cfg.Excel.OutputFile = in, out

	report, err := NewRunner(cfg, fake).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Input != in || report.Output != out {
		t.Errorf("Expected report paths, got %s -> %s", report.Input, report.Output)
	}
	if fake.payloads[0].AmazonSpends != 5000 {
		t.Errorf("Expected coerced amazon 5000, got %v", fake.payloads[0].AmazonSpends)
	}

	result, err := table.Read(out, "")
	if err != nil {
		t.Fatalf("Read output failed: %v", err)
	}
	if result.Rows[0]["top1_card_name"] != "B" || result.Rows[0]["top1_net_savings"] != "800" {
		t.Errorf("Unexpected output row %v", result.Rows[0])
	}
}

func TestRun_Errors(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "users.csv")
	if err := os.WriteFile(in, []byte("userid\nu1\n"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	t.Run("missing input", func(t *testing.T) {
		cfg := testConfig()
		cfg.Excel.InputFile = filepath.Join(dir, "nope.csv")
		cfg.Excel.OutputFile = filepath.Join(dir, "out.csv")
		if _, err := NewRunner(cfg, &fakeRecommender{}).Run(context.Background()); !errors.Is(err, ErrInputRead) {
			t.Errorf("Expected ErrInputRead, got %v", err)
		}
	})

	t.Run("unwritable output", func(t *testing.T) {
		cfg := testConfig()
		cfg.Excel.InputFile = in
		cfg.Excel.OutputFile = filepath.Join(dir, "missing-dir", "out.csv")
		report, err := NewRunner(cfg, &fakeRecommender{}).Run(context.Background())
		if !errors.Is(err, ErrOutputWrite) {
			t.Fatalf("Expected ErrOutputWrite, got %v", err)
		}
		if report == nil || report.Succeeded != 1 {
			t.Errorf("Expected rows processed before the write failed, got %+v", report)
		}
	})
}

func TestResultColumns(t *testing.T) {
	t.Parallel()

	cols := ResultColumns(2, []string{"amazon_spends"}, config.CardNameModeCardGenius)
	want := 2*(13+3) + 1
	if len(cols) != want {
		t.Fatalf("Expected %d columns, got %d", want, len(cols))
	}
	if cols[0] != "top1_card_name" || cols[13] != "top1_amazon_spends_points" || cols[len(cols)-1] != ErrorColumn {
		t.Errorf("Unexpected column layout %v", cols)
	}

	withNames := ResultColumns(1, nil, config.CardNameModeCashKaro)
	if withNames[1] != "top1_cardgenius_name" {
		t.Errorf("Expected cardgenius name column in cashkaro mode, got %v", withNames)
	}
}
