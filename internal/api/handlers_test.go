package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/insightstack/assist-sentinel/internal/classify"
	"github.com/insightstack/assist-sentinel/internal/config"
	"github.com/insightstack/assist-sentinel/internal/detect"
	"github.com/insightstack/assist-sentinel/internal/models"
	"github.com/insightstack/assist-sentinel/internal/report"
	"github.com/insightstack/assist-sentinel/internal/store"
)

func newTestRouter(t *testing.T) (http.Handler, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), nil, 5)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	oracle := classify.NewFallback(classify.NewKeywordOracle(), nil, time.Second, "other")
	detector := detect.New(nil, s, s, oracle, config.DefaultDetection())
	processor := detect.NewProcessor(nil, detector, nil, 2)
	reports := report.New(nil, s, s, nil)

	handlers := NewHandlers(nil, processor, s, reports)
	return handlers.Routes(), s
}

func doJSON(t *testing.T, router http.Handler, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
}

func TestEventsEndpointValidation(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/events", map[string]any{"events": []any{}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty batch status = %d, want 400", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewBufferString("{not json"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d, want 400", rec.Code)
	}
}

func TestEventsEndpointIsolatesFailures(t *testing.T) {
	router, _ := newTestRouter(t)
	now := time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC)

	events := []models.ConversationEvent{
		{TenantID: "acme", Kind: models.EventQuestion, ActorID: "alice", Text: "vpnが繋がりません", Timestamp: now},
		{Kind: models.EventQuestion, Text: "missing fields"},
		{TenantID: "acme", Kind: models.EventQuestion, ActorID: "bob", Text: "こんにちは", Timestamp: now},
	}
	rec := doJSON(t, router, http.MethodPost, "/api/v1/events", map[string]any{"events": events})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Results []detect.EventResult `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(resp.Results))
	}
	if resp.Results[0].Error != "" || resp.Results[0].Skipped {
		t.Fatalf("valid event result = %+v", resp.Results[0])
	}
	if resp.Results[1].Error == "" {
		t.Fatalf("invalid event result = %+v, want error", resp.Results[1])
	}
	if !resp.Results[2].Skipped {
		t.Fatalf("greeting result = %+v, want skipped", resp.Results[2])
	}
}

func TestInsightListAndStatusFlow(t *testing.T) {
	router, _ := newTestRouter(t)
	base := time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC)

	// Five repeats of one question cross the promotion threshold.
	var events []models.ConversationEvent
	for i := 0; i < 5; i++ {
		events = append(events, models.ConversationEvent{
			TenantID:  "acme",
			Kind:      models.EventQuestion,
			ActorID:   fmt.Sprintf("user-%d", i%3),
			Text:      "経費精算のやり方を教えてください",
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		})
	}
	rec := doJSON(t, router, http.MethodPost, "/api/v1/events", map[string]any{"events": events})
	if rec.Code != http.StatusOK {
		t.Fatalf("ingest status = %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/insights?tenant_id=acme&severity=medium", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var listResp struct {
		Insights []models.Insight `json:"insights"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listResp.Insights) != 1 {
		t.Fatalf("insights = %d, want 1", len(listResp.Insights))
	}
	id := listResp.Insights[0].ID

	rec = doJSON(t, router, http.MethodPost, "/api/v1/insights/"+id+"/status",
		statusRequest{Status: models.InsightAcknowledged, Actor: "admin"})
	if rec.Code != http.StatusOK {
		t.Fatalf("acknowledge status = %d body=%s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/insights/"+id+"/status",
		statusRequest{Status: models.InsightAddressed, Actor: "admin", Note: "documented"})
	if rec.Code != http.StatusOK {
		t.Fatalf("address status = %d", rec.Code)
	}

	// Terminal insights reject further transitions.
	rec = doJSON(t, router, http.MethodPost, "/api/v1/insights/"+id+"/status",
		statusRequest{Status: models.InsightDismissed, Actor: "admin"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("terminal transition status = %d, want 409", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/insights/nope/status",
		statusRequest{Status: models.InsightAcknowledged, Actor: "admin"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing insight status = %d, want 404", rec.Code)
	}
}

func TestReportEndpoint(t *testing.T) {
	router, s := newTestRouter(t)

	_, _, err := s.UpsertForSource(context.Background(), models.Insight{
		TenantID:   "acme",
		SourceKind: models.SourceRepeatedQuestion,
		SourceID:   "fp-1",
		Severity:   models.SeverityHigh,
		Title:      "Repeated question",
	})
	if err != nil {
		t.Fatalf("seed insight: %v", err)
	}

	today := time.Now().UTC().Format("2006-01-02")
	tomorrow := time.Now().UTC().AddDate(0, 0, 1).Format("2006-01-02")

	rec := doJSON(t, router, http.MethodPost, "/api/v1/reports/generate",
		reportRequest{TenantID: "acme", PeriodStart: today, PeriodEnd: tomorrow})
	if rec.Code != http.StatusOK {
		t.Fatalf("generate status = %d body=%s", rec.Code, rec.Body.String())
	}
	var generated models.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &generated); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if generated.Summary.Total != 1 || generated.Status != models.ReportDraft {
		t.Fatalf("report = %+v", generated)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/reports/generate",
		reportRequest{TenantID: "acme", PeriodStart: "not-a-date", PeriodEnd: tomorrow})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad date status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/reports/generate",
		reportRequest{PeriodStart: today, PeriodEnd: tomorrow})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing tenant status = %d, want 400", rec.Code)
	}
}
