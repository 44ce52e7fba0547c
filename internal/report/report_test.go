package report

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/insightstack/assist-sentinel/internal/models"
	"github.com/insightstack/assist-sentinel/internal/store"
	"github.com/insightstack/assist-sentinel/internal/utils"
)

type fakeDeliverer struct {
	sent []models.Report
	fail bool
}

func (d *fakeDeliverer) SendDigest(ctx context.Context, report models.Report) error {
	if d.fail {
		return fmt.Errorf("%w: chat unavailable", utils.ErrDeliveryFailed)
	}
	d.sent = append(d.sent, report)
	return nil
}

func newTestAggregator(t *testing.T, deliverer Deliverer) (*Aggregator, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), nil, 5)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(nil, s, s, deliverer), s
}

func seedInsight(t *testing.T, s *store.Store, sourceID string, severity models.Severity) models.Insight {
	t.Helper()
	insight, _, err := s.UpsertForSource(context.Background(), models.Insight{
		TenantID:          "acme",
		SourceKind:        models.SourceRepeatedQuestion,
		SourceID:          sourceID,
		Severity:          severity,
		Category:          "reports",
		Title:             "Repeated question: " + sourceID,
		RecommendedAction: "Document the answer.",
	})
	if err != nil {
		t.Fatalf("seed insight: %v", err)
	}
	return insight
}

func period() (time.Time, time.Time) {
	start := utils.DayOf(time.Now().UTC())
	return start, start.AddDate(0, 0, 1)
}

func TestGenerateBuildsDigestFromLedger(t *testing.T) {
	agg, s := newTestAggregator(t, nil)
	ctx := context.Background()
	start, end := period()

	seedInsight(t, s, "fp-weekly", models.SeverityCritical)
	seedInsight(t, s, "fp-vpn", models.SeverityHigh)
	seedInsight(t, s, "fp-expense", models.SeverityMedium)

	report, err := agg.Generate(ctx, "acme", start, end)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if report.Summary.Total != 3 || report.Summary.Critical != 1 || report.Summary.High != 1 || report.Summary.Medium != 1 {
		t.Fatalf("summary = %+v", report.Summary)
	}
	if report.Summary.NewInRange != 3 {
		t.Fatalf("new in range = %d, want 3", report.Summary.NewInRange)
	}
	if len(report.InsightIDs) != 3 || report.Status != models.ReportDraft {
		t.Fatalf("report = %+v", report)
	}
	// Sections are ordered most severe first.
	critIdx := strings.Index(report.Body, "CRITICAL")
	highIdx := strings.Index(report.Body, "HIGH")
	if critIdx < 0 || highIdx < 0 || critIdx > highIdx {
		t.Fatalf("section order wrong in body:\n%s", report.Body)
	}
	if !strings.Contains(report.Body, "Repeated question: fp-weekly") {
		t.Fatalf("body missing insight title:\n%s", report.Body)
	}
}

func TestGenerateEmptyPeriod(t *testing.T) {
	agg, _ := newTestAggregator(t, nil)
	start, end := period()

	report, err := agg.Generate(context.Background(), "acme", start, end)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if report.Summary.Total != 0 || !strings.Contains(report.Body, "No insights this period") {
		t.Fatalf("empty period report = %+v", report)
	}
}

func TestGenerateRejectsBadPeriod(t *testing.T) {
	agg, _ := newTestAggregator(t, nil)
	start, _ := period()

	if _, err := agg.Generate(context.Background(), "acme", start, start); err == nil {
		t.Fatal("expected error for empty period")
	}
	if _, err := agg.Generate(context.Background(), "", start, start.AddDate(0, 0, 7)); err == nil {
		t.Fatal("expected error for missing tenant")
	}
}

func TestGenerateAndSendMarksDelivery(t *testing.T) {
	deliverer := &fakeDeliverer{}
	agg, s := newTestAggregator(t, deliverer)
	ctx := context.Background()
	start, end := period()

	seedInsight(t, s, "fp-weekly", models.SeverityHigh)

	sent, err := agg.GenerateAndSend(ctx, "acme", start, end)
	if err != nil {
		t.Fatalf("generate and send: %v", err)
	}
	if sent.Status != models.ReportSent || sent.SentAt == nil {
		t.Fatalf("report after send = %+v", sent)
	}
	if len(deliverer.sent) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(deliverer.sent))
	}

	// A sent period cannot be regenerated.
	if _, err := agg.Generate(ctx, "acme", start, end); !errors.Is(err, utils.ErrReportAlreadySent) {
		t.Fatalf("regenerate err = %v, want ErrReportAlreadySent", err)
	}
}

func TestGenerateAndSendRecordsFailure(t *testing.T) {
	deliverer := &fakeDeliverer{fail: true}
	agg, s := newTestAggregator(t, deliverer)
	ctx := context.Background()
	start, end := period()

	seedInsight(t, s, "fp-weekly", models.SeverityHigh)

	_, err := agg.GenerateAndSend(ctx, "acme", start, end)
	if !errors.Is(err, utils.ErrDeliveryFailed) {
		t.Fatalf("err = %v, want ErrDeliveryFailed", err)
	}
	stored, err := s.GetReport(ctx, "acme", start)
	if err != nil {
		t.Fatalf("get report: %v", err)
	}
	if stored.Status != models.ReportFailed || stored.DeliveryError == "" {
		t.Fatalf("stored report = %+v, want failed with detail", stored)
	}

	// The failed period can be retried end to end.
	deliverer.fail = false
	retried, err := agg.GenerateAndSend(ctx, "acme", start, end)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried.Status != models.ReportSent {
		t.Fatalf("retried report status = %s, want sent", retried.Status)
	}
}
