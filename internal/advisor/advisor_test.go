package advisor

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"pricehawk/internal/config"
	"pricehawk/internal/model"
	"pricehawk/internal/ranker"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testLatest() []ranker.LatestPrice {
	return []ranker.LatestPrice{
		{Platform: "AmazonX", Price: 100, Currency: "USD"},
		{Platform: "MartY", Price: 120, Currency: "USD"},
	}
}

func newTestEngine(baseURL string) *Engine {
	return NewEngine(&config.OllamaConfig{
		BaseURL:     baseURL,
		Model:       "mistral",
		Timeout:     2 * time.Second,
		Temperature: 0.7,
		TopP:        0.9,
		TopK:        40,
	}, testLogger())
}

func TestParseReply_AllFields(t *testing.T) {
	reply := `BEST_PLATFORM: AmazonX
RECOMMENDATION: Wait
CONFIDENCE: 92%
SUMMARY: Prices dropped twice this week.
Expect another dip soon.
WHY: Downward trend across platforms.`

	rec := parseReply(reply, testLatest())
	if rec.BestPlatform != "AmazonX" {
		t.Fatalf("unexpected bestPlatform: %q", rec.BestPlatform)
	}
	if rec.Recommendation != "Wait" {
		t.Fatalf("unexpected recommendation: %q", rec.Recommendation)
	}
	if rec.Confidence != "92%" {
		t.Fatalf("unexpected confidence: %q", rec.Confidence)
	}
	if !strings.Contains(rec.Summary, "Expect another dip soon.") {
		t.Fatalf("summary should span lines, got %q", rec.Summary)
	}
	if strings.Contains(rec.Summary, "WHY:") {
		t.Fatalf("summary must stop before WHY label, got %q", rec.Summary)
	}
	if rec.Why != "Downward trend across platforms." {
		t.Fatalf("unexpected why: %q", rec.Why)
	}
	if !rec.AIAvailable {
		t.Fatal("expected aiAvailable=true for parsed reply")
	}
	if rec.AnalysisDate == "" {
		t.Fatal("analysisDate must always be set")
	}
}

func TestParseReply_CaseInsensitive(t *testing.T) {
	reply := "best_platform: MartY\nrecommendation: wait\nconfidence: 60%"
	rec := parseReply(reply, testLatest())
	if rec.BestPlatform != "MartY" || rec.Recommendation != "wait" || rec.Confidence != "60%" {
		t.Fatalf("labels should match case-insensitively, got %+v", rec)
	}
}

// 字段独立性：单个标签缺失只让该字段退回默认值，不影响其它字段。
func TestParseReply_MissingFieldsDefaultIndependently(t *testing.T) {
	reply := "RECOMMENDATION: Wait\nWHY: Sale next week."
	rec := parseReply(reply, testLatest())

	if rec.Recommendation != "Wait" {
		t.Fatalf("parsed field lost: %q", rec.Recommendation)
	}
	if rec.Why != "Sale next week." {
		t.Fatalf("parsed field lost: %q", rec.Why)
	}
	if rec.BestPlatform != "AmazonX" {
		t.Fatalf("missing bestPlatform should default to cheapest platform, got %q", rec.BestPlatform)
	}
	if rec.Confidence != "85%" {
		t.Fatalf("missing confidence should default to 85%%, got %q", rec.Confidence)
	}
	if !strings.Contains(rec.Summary, "AmazonX offers the best deal") {
		t.Fatalf("missing summary should use templated default, got %q", rec.Summary)
	}
	if !rec.AIAvailable {
		t.Fatal("partial parse still counts as an AI result")
	}
}

// 标签只在行首生效：句子里夹带的 "why:"/"confidence:" 不是字段。
func TestParseReply_LabelsAreLineAnchored(t *testing.T) {
	reply := "SUMMARY: Nobody knows why: confidence: is low on MartY this week."
	rec := parseReply(reply, testLatest())

	if rec.Summary != "Nobody knows why: confidence: is low on MartY this week." {
		t.Fatalf("mid-sentence labels must not split the summary, got %q", rec.Summary)
	}
	if rec.Why != "Current market lowest price." {
		t.Fatalf("mid-sentence why must not be extracted, got %q", rec.Why)
	}
	if rec.Confidence != "85%" {
		t.Fatalf("mid-sentence confidence must not be extracted, got %q", rec.Confidence)
	}
}

func TestParseReply_GarbageReply(t *testing.T) {
	rec := parseReply("I cannot help with that.", testLatest())
	if rec.Recommendation != "Buy Now" || rec.Confidence != "85%" || rec.BestPlatform != "AmazonX" {
		t.Fatalf("all fields should default, got %+v", rec)
	}
	if rec.Why != "Current market lowest price." {
		t.Fatalf("unexpected default why: %q", rec.Why)
	}
}

// latest 为空时 Analyze 不得发起任何外部调用。
func TestAnalyze_EmptyPricesSkipsBackend(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	engine := newTestEngine(srv.URL)
	rec := engine.Analyze(context.Background(), &model.Product{Name: "Widget"}, nil, nil)

	if got := calls.Load(); got != 0 {
		t.Fatalf("expected no backend calls, got %d", got)
	}
	if rec.AIAvailable {
		t.Fatal("expected fallback recommendation")
	}
	if rec.BestPlatform != "N/A" {
		t.Fatalf("expected N/A bestPlatform, got %q", rec.BestPlatform)
	}
	if rec.Recommendation != "Buy Now" || rec.Confidence != "70%" {
		t.Fatalf("unexpected fallback fields: %+v", rec)
	}
	if !strings.Contains(rec.Summary, "No pricing data available yet") {
		t.Fatalf("unexpected fallback summary: %q", rec.Summary)
	}
}

func TestAnalyze_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"response":"BEST_PLATFORM: AmazonX\nRECOMMENDATION: Buy Now\nCONFIDENCE: 95%\nSUMMARY: Good price.\nWHY: At a 90 day low."}`))
	}))
	defer srv.Close()

	engine := newTestEngine(srv.URL)
	rec := engine.Analyze(context.Background(), &model.Product{Name: "Widget"}, testLatest(), nil)

	if !rec.AIAvailable {
		t.Fatal("expected AI-backed recommendation")
	}
	if rec.Confidence != "95%" || rec.Why != "At a 90 day low." {
		t.Fatalf("unexpected recommendation: %+v", rec)
	}
}

func TestAnalyze_BackendErrorFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	engine := newTestEngine(srv.URL)
	rec := engine.Analyze(context.Background(), &model.Product{Name: "Widget"}, testLatest(), nil)

	if rec.AIAvailable {
		t.Fatal("expected fallback on backend error")
	}
	if rec.BestPlatform != "AmazonX" {
		t.Fatalf("fallback should name the cheapest platform, got %q", rec.BestPlatform)
	}
	if rec.Recommendation != "Buy Now" || rec.Confidence != "70%" {
		t.Fatalf("unexpected fallback fields: %+v", rec)
	}
}

func TestAnalyze_BackendUnreachableFallsBack(t *testing.T) {
	engine := newTestEngine("http://127.0.0.1:1")
	rec := engine.Analyze(context.Background(), &model.Product{Name: "Widget"}, testLatest(), nil)
	if rec.AIAvailable {
		t.Fatal("expected fallback when the backend is unreachable")
	}
}

func TestCheckStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"models":[{"name":"mistral:latest"}]}`))
	}))
	defer srv.Close()

	engine := newTestEngine(srv.URL)
	status := engine.CheckStatus(context.Background())
	if !status.Available || !status.ModelLoaded {
		t.Fatalf("expected available with model loaded, got %+v", status)
	}

	down := newTestEngine("http://127.0.0.1:1")
	status = down.CheckStatus(context.Background())
	if status.Available {
		t.Fatal("expected unavailable status")
	}
	if status.Error == "" {
		t.Fatal("expected error detail when probe fails")
	}
}

func TestBuildPrompt(t *testing.T) {
	history := []model.PriceEntry{
		{Platform: "AmazonX", Price: 110, Currency: "USD", CreatedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)},
	}
	prompt := buildPrompt(&model.Product{Name: "Widget"}, testLatest(), history)

	for _, want := range []string{
		"Product: Widget",
		"- AmazonX: USD 100.00",
		"- MartY: USD 120.00",
		"Highest Price: USD 120.00",
		"Lowest Price: USD 100.00",
		"Price Gap: USD 20.00",
		"Recent Price History:",
		"- AmazonX: USD 110.00 (2026-02-01)",
		"BEST_PLATFORM:",
		"RECOMMENDATION:",
		"CONFIDENCE:",
		"SUMMARY:",
		"WHY:",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}
