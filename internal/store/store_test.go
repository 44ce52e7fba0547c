package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/insightstack/assist-sentinel/internal/models"
	"github.com/insightstack/assist-sentinel/internal/utils"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), nil, 5)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func questionObs(actor, sample string, at time.Time) models.Observation {
	return models.Observation{
		TenantID:     "acme",
		DetectorKind: models.KindRepetition,
		GroupingKey:  "fp-weekly-report",
		Category:     "reports",
		ActorID:      actor,
		Sample:       sample,
		At:           at,
	}
}

func TestRecordObservationAccumulates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC)

	record, err := s.RecordObservation(ctx, questionObs("alice", "how do I submit the weekly report", base))
	if err != nil {
		t.Fatalf("first observation: %v", err)
	}
	if record.OccurrenceCount != 1 || record.Status != models.SignalActive {
		t.Fatalf("got count=%d status=%s, want 1/active", record.OccurrenceCount, record.Status)
	}

	record, err = s.RecordObservation(ctx, questionObs("bob", "weekly report how to submit", base.Add(time.Hour)))
	if err != nil {
		t.Fatalf("second observation: %v", err)
	}
	if record.OccurrenceCount != 2 {
		t.Fatalf("occurrence count = %d, want 2", record.OccurrenceCount)
	}
	if len(record.ActorIDs) != 2 {
		t.Fatalf("actor set = %v, want alice and bob", record.ActorIDs)
	}
	if !record.FirstSeen.Equal(base) || !record.LastSeen.Equal(base.Add(time.Hour)) {
		t.Fatalf("seen range = %s..%s", record.FirstSeen, record.LastSeen)
	}

	// Same actor again: the set must not grow.
	record, err = s.RecordObservation(ctx, questionObs("alice", "weekly report?", base.Add(2*time.Hour)))
	if err != nil {
		t.Fatalf("third observation: %v", err)
	}
	if record.OccurrenceCount != 3 || len(record.ActorIDs) != 2 {
		t.Fatalf("got count=%d actors=%v", record.OccurrenceCount, record.ActorIDs)
	}
}

func TestRecordObservationBoundsSamples(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC)

	var record models.SignalRecord
	var err error
	samples := []string{"one", "two", "three", "four", "five", "six", "seven"}
	for i, sample := range samples {
		record, err = s.RecordObservation(ctx, questionObs("alice", sample, base.Add(time.Duration(i)*time.Minute)))
		if err != nil {
			t.Fatalf("observation %d: %v", i, err)
		}
	}
	if len(record.Samples) != models.MaxSignalSamples {
		t.Fatalf("sample count = %d, want %d", len(record.Samples), models.MaxSignalSamples)
	}
	if record.Samples[0] != "three" || record.Samples[len(record.Samples)-1] != "seven" {
		t.Fatalf("samples = %v, want oldest dropped first", record.Samples)
	}
}

func TestConcurrentObservationsNeverLoseIncrements(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC)

	const writers = 10
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.RecordObservation(ctx, questionObs("alice", "", base.Add(time.Duration(n)*time.Second)))
			if err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent observation: %v", err)
	}

	record, err := s.GetSignalRecord(ctx, "acme", models.KindRepetition, "fp-weekly-report")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if record.OccurrenceCount != writers {
		t.Fatalf("occurrence count = %d, want %d", record.OccurrenceCount, writers)
	}
}

func TestDailyScoresAndBaseline(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	scores := []float64{0.3, 0.1, -0.4, -0.5}
	for i, score := range scores {
		_, err := s.RecordObservation(ctx, models.Observation{
			TenantID:     "acme",
			DetectorKind: models.KindSentiment,
			GroupingKey:  "carol",
			ActorID:      "carol",
			Score:        score,
			HasScore:     true,
			At:           base.AddDate(0, 0, i),
		})
		if err != nil {
			t.Fatalf("observation %d: %v", i, err)
		}
	}
	// Two scores on the final day must average, not duplicate the day.
	_, err := s.RecordObservation(ctx, models.Observation{
		TenantID:     "acme",
		DetectorKind: models.KindSentiment,
		GroupingKey:  "carol",
		ActorID:      "carol",
		Score:        -0.6,
		HasScore:     true,
		At:           base.AddDate(0, 0, 3).Add(2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("same-day observation: %v", err)
	}

	daily, err := s.DailyScoresInWindow(ctx, "acme", models.KindSentiment, "carol", base.AddDate(0, 0, -1))
	if err != nil {
		t.Fatalf("daily scores: %v", err)
	}
	if len(daily) != 4 {
		t.Fatalf("daily days = %d, want 4", len(daily))
	}
	last := daily[len(daily)-1].Score
	if last > -0.54 || last < -0.56 {
		t.Fatalf("final day average = %f, want -0.55", last)
	}

	avg, ok, err := s.AverageScoreInWindow(ctx, "acme", models.KindSentiment, "carol", base.AddDate(0, 0, -1))
	if err != nil || !ok {
		t.Fatalf("average: %v ok=%v", err, ok)
	}
	want := (0.3 + 0.1 - 0.4 - 0.5 - 0.6) / 5
	if avg > want+0.001 || avg < want-0.001 {
		t.Fatalf("baseline = %f, want %f", avg, want)
	}

	_, ok, err = s.AverageScoreInWindow(ctx, "acme", models.KindSentiment, "nobody", base)
	if err != nil || ok {
		t.Fatalf("empty baseline: ok=%v err=%v, want ok=false", ok, err)
	}
}

func TestUpsertForSourceKeepsOneActiveInsight(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	proposed := models.Insight{
		TenantID:   "acme",
		SourceKind: models.SourceRepeatedQuestion,
		SourceID:   "fp-weekly-report",
		Severity:   models.SeverityHigh,
		Category:   "reports",
		Title:      "Repeated question: weekly report",
		Evidence:   map[string]any{"occurrence_count": 10},
	}
	first, created, err := s.UpsertForSource(ctx, proposed)
	if err != nil || !created {
		t.Fatalf("first upsert: created=%v err=%v", created, err)
	}

	// A weaker refresh keeps the stored severity; a stronger one raises it.
	proposed.Severity = models.SeverityMedium
	refreshed, created, err := s.UpsertForSource(ctx, proposed)
	if err != nil {
		t.Fatalf("refresh upsert: %v", err)
	}
	if created || refreshed.ID != first.ID {
		t.Fatalf("refresh created=%v id=%s, want update of %s", created, refreshed.ID, first.ID)
	}
	if refreshed.Severity != models.SeverityHigh {
		t.Fatalf("severity after weaker refresh = %s, want high", refreshed.Severity)
	}

	proposed.Severity = models.SeverityCritical
	refreshed, _, err = s.UpsertForSource(ctx, proposed)
	if err != nil {
		t.Fatalf("escalate upsert: %v", err)
	}
	if refreshed.Severity != models.SeverityCritical {
		t.Fatalf("severity after escalation = %s, want critical", refreshed.Severity)
	}

	insights, err := s.ListInsights(ctx, models.InsightFilter{TenantID: "acme"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(insights) != 1 {
		t.Fatalf("insight rows = %d, want 1", len(insights))
	}
}

func TestUpsertAfterCloseCreatesFreshInsight(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	proposed := models.Insight{
		TenantID:   "acme",
		SourceKind: models.SourceRepeatedQuestion,
		SourceID:   "fp-vpn",
		Severity:   models.SeverityHigh,
		Title:      "Repeated question: vpn",
	}
	first, _, err := s.UpsertForSource(ctx, proposed)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if _, err := s.TransitionStatus(ctx, first.ID, models.InsightAddressed, "admin", "documented"); err != nil {
		t.Fatalf("close insight: %v", err)
	}

	second, created, err := s.UpsertForSource(ctx, proposed)
	if err != nil {
		t.Fatalf("post-close upsert: %v", err)
	}
	if !created || second.ID == first.ID {
		t.Fatalf("created=%v id=%s, want a fresh insight distinct from %s", created, second.ID, first.ID)
	}
}

func TestTransitionStatusRules(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Back the insight with a signal record so closing can release it.
	_, err := s.RecordObservation(ctx, questionObs("alice", "weekly report", time.Now()))
	if err != nil {
		t.Fatalf("seed signal: %v", err)
	}
	insight, _, err := s.UpsertForSource(ctx, models.Insight{
		TenantID:   "acme",
		SourceKind: models.SourceRepeatedQuestion,
		SourceID:   "fp-weekly-report",
		Severity:   models.SeverityHigh,
		Title:      "Repeated question",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	acked, err := s.TransitionStatus(ctx, insight.ID, models.InsightAcknowledged, "admin", "")
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if acked.Status != models.InsightAcknowledged || acked.AcknowledgedAt == nil || acked.AcknowledgedBy != "admin" {
		t.Fatalf("acknowledged fields not set: %+v", acked)
	}

	resolved, err := s.TransitionStatus(ctx, insight.ID, models.InsightAddressed, "admin", "wrote the doc")
	if err != nil {
		t.Fatalf("address: %v", err)
	}
	if resolved.ResolvedAt == nil || resolved.ResolutionNote != "wrote the doc" {
		t.Fatalf("resolution fields not set: %+v", resolved)
	}

	// Terminal states reject further movement.
	if _, err := s.TransitionStatus(ctx, insight.ID, models.InsightDismissed, "admin", ""); !errors.Is(err, utils.ErrInvalidStateTransition) {
		t.Fatalf("addressed -> dismissed err = %v, want ErrInvalidStateTransition", err)
	}

	record, err := s.GetSignalRecord(ctx, "acme", models.KindRepetition, "fp-weekly-report")
	if err != nil {
		t.Fatalf("get signal: %v", err)
	}
	if record.Status != models.SignalAddressed {
		t.Fatalf("signal status = %s, want addressed after closing insight", record.Status)
	}

	if _, err := s.TransitionStatus(ctx, "missing-id", models.InsightAcknowledged, "admin", ""); !errors.Is(err, utils.ErrNotFound) {
		t.Fatalf("missing insight err = %v, want ErrNotFound", err)
	}
}

func ledgerKey() models.IdempotencyKey {
	return models.NotificationKeyFor("acme", "insight", "ins-1", "insight_alert",
		time.Date(2026, 8, 10, 15, 0, 0, 0, time.UTC))
}

func TestNotificationLedgerIdempotency(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := ledgerKey()

	entry, err := s.RecordAttempt(ctx, models.LedgerEntry{
		Key:         key,
		Status:      models.DeliveryFailed,
		Channel:     "webhook",
		ErrorDetail: "503 from chat",
	})
	if err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	if entry.RetryCount != 0 || entry.Status != models.DeliveryFailed {
		t.Fatalf("first attempt entry = %+v", entry)
	}

	entry, err = s.RecordAttempt(ctx, models.LedgerEntry{Key: key, Status: models.DeliverySuccess, Channel: "webhook"})
	if err != nil {
		t.Fatalf("retry attempt: %v", err)
	}
	if entry.RetryCount != 1 || entry.Status != models.DeliverySuccess {
		t.Fatalf("retry entry = %+v, want retry_count 1 success", entry)
	}

	ok, err := s.HasSucceeded(ctx, key)
	if err != nil || !ok {
		t.Fatalf("HasSucceeded = %v, %v", ok, err)
	}

	// Success is sticky: a late failure report cannot downgrade it.
	entry, err = s.RecordAttempt(ctx, models.LedgerEntry{Key: key, Status: models.DeliveryFailed, ErrorDetail: "late failure"})
	if err != nil {
		t.Fatalf("late attempt: %v", err)
	}
	if entry.Status != models.DeliverySuccess || entry.RetryCount != 1 {
		t.Fatalf("late attempt entry = %+v, want success preserved", entry)
	}

	// A different day is a different key.
	otherDay := models.NotificationKeyFor("acme", "insight", "ins-1", "insight_alert",
		time.Date(2026, 8, 11, 9, 0, 0, 0, time.UTC))
	ok, err = s.HasSucceeded(ctx, otherDay)
	if err != nil || ok {
		t.Fatalf("other-day HasSucceeded = %v, %v, want false", ok, err)
	}
}

func TestReportLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 7)

	draft, err := s.SaveReport(ctx, models.Report{
		TenantID:    "acme",
		PeriodStart: start,
		PeriodEnd:   end,
		Body:        "first draft",
		Summary:     models.ReportSummary{Total: 2, High: 2},
		InsightIDs:  []string{"a", "b"},
	})
	if err != nil {
		t.Fatalf("save draft: %v", err)
	}
	if draft.Status != models.ReportDraft || draft.Body != "first draft" {
		t.Fatalf("draft = %+v", draft)
	}

	// Regenerating an unsent period replaces the draft in place.
	redraft, err := s.SaveReport(ctx, models.Report{
		TenantID:    "acme",
		PeriodStart: start,
		PeriodEnd:   end,
		Body:        "second draft",
		Summary:     models.ReportSummary{Total: 3, High: 3},
		InsightIDs:  []string{"a", "b", "c"},
	})
	if err != nil {
		t.Fatalf("save redraft: %v", err)
	}
	if redraft.Body != "second draft" || len(redraft.InsightIDs) != 3 {
		t.Fatalf("redraft = %+v", redraft)
	}

	if err := s.MarkReportSent(ctx, "acme", start, time.Now()); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	sent, err := s.GetReport(ctx, "acme", start)
	if err != nil {
		t.Fatalf("get report: %v", err)
	}
	if sent.Status != models.ReportSent || sent.SentAt == nil {
		t.Fatalf("sent report = %+v", sent)
	}

	_, err = s.SaveReport(ctx, models.Report{TenantID: "acme", PeriodStart: start, PeriodEnd: end, Body: "rewrite"})
	if !errors.Is(err, utils.ErrReportAlreadySent) {
		t.Fatalf("regenerate sent period err = %v, want ErrReportAlreadySent", err)
	}

	// A late failure mark never downgrades a sent report.
	if err := s.MarkReportFailed(ctx, "acme", start, "late error"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	still, err := s.GetReport(ctx, "acme", start)
	if err != nil {
		t.Fatalf("get report: %v", err)
	}
	if still.Status != models.ReportSent {
		t.Fatalf("status after late failure = %s, want sent", still.Status)
	}

	if _, err := s.GetReport(ctx, "acme", start.AddDate(0, 0, 7)); !errors.Is(err, utils.ErrNotFound) {
		t.Fatalf("missing report err = %v, want ErrNotFound", err)
	}
}
