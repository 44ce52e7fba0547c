// Package detect orchestrates the per-event detection flow: normalize,
// classify, aggregate, evaluate, and promote threshold-crossing signals to
// the insight ledger. One concrete pipeline serves every detector variant;
// the variants differ only in the configuration record wired in.
package detect

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/insightstack/assist-sentinel/internal/classify"
	"github.com/insightstack/assist-sentinel/internal/config"
	"github.com/insightstack/assist-sentinel/internal/metrics"
	"github.com/insightstack/assist-sentinel/internal/models"
	"github.com/insightstack/assist-sentinel/internal/utils"
)

// Aggregator is the statistics surface the detector writes and reads.
type Aggregator interface {
	RecordObservation(ctx context.Context, obs models.Observation) (models.SignalRecord, error)
	ActorCountsInWindow(ctx context.Context, tenantID string, kind models.DetectorKind, groupingKey string, windowStart time.Time) ([]models.ActorCount, time.Time, time.Time, error)
	DailyScoresInWindow(ctx context.Context, tenantID string, kind models.DetectorKind, groupingKey string, windowStart time.Time) ([]models.DailyScore, error)
	AverageScoreInWindow(ctx context.Context, tenantID string, kind models.DetectorKind, groupingKey string, windowStart time.Time) (float64, bool, error)
}

// Ledger is the insight persistence surface the detector promotes into.
type Ledger interface {
	UpsertForSource(ctx context.Context, proposed models.Insight) (models.Insight, bool, error)
}

// observation is the variant-prepared update plus presentation callbacks.
type observation struct {
	obs      models.Observation
	evaluate func(ctx context.Context, record models.SignalRecord) (models.Severity, map[string]any, error)
	present  func(record models.SignalRecord, severity models.Severity, evidence map[string]any) (title, description, action string)
}

// variant is the per-kind configuration record: how to derive the grouping
// key and observation from an event, how to evaluate risk, and how to render
// the resulting insight. This replaces an inheritance hierarchy with one
// tested orchestration path.
type variant struct {
	kind       models.DetectorKind
	sourceKind string
	accepts    func(event models.ConversationEvent) bool
	prepare    func(ctx context.Context, d *Detector, event models.ConversationEvent) (*observation, error)
}

// Detector runs the shared detection pipeline over all registered variants.
type Detector struct {
	logger   *slog.Logger
	agg      Aggregator
	ledger   Ledger
	oracle   classify.Oracle
	cfg      config.DetectionConfig
	variants []variant
}

// New constructs a Detector. The oracle must already be failure-wrapped; the
// detector treats its answers as authoritative.
func New(logger *slog.Logger, agg Aggregator, ledger Ledger, oracle classify.Oracle, cfg config.DetectionConfig) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Detector{
		logger: logger,
		agg:    agg,
		ledger: ledger,
		oracle: oracle,
		cfg:    cfg,
	}
	d.variants = []variant{
		repetitionVariant(),
		concentrationVariant(),
		sentimentVariant(),
	}
	return d
}

// Detect runs one event through every variant that accepts it. The
// statistics update always happens; an insight is created or refreshed only
// when the evaluated risk reaches medium and the signal record is still
// active. Returns the promoted or refreshed insight, if any, and whether any
// variant found the event analyzable.
//
// The aggregator update is the single source of truth: re-running Detect for
// the same event after a failed insight write re-derives the same promotion
// decision without double-promoting, because the ledger upsert merges.
func (d *Detector) Detect(ctx context.Context, event models.ConversationEvent) (*models.Insight, bool, error) {
	if !event.Valid() {
		return nil, false, fmt.Errorf("%w: event missing tenant, kind, actor, or timestamp", utils.ErrDetectionFailed)
	}

	var promoted *models.Insight
	analyzed := false
	for _, v := range d.variants {
		if !v.accepts(event) {
			continue
		}
		insight, ok, err := d.detectVariant(ctx, v, event)
		if err != nil {
			return promoted, analyzed, err
		}
		analyzed = analyzed || ok
		if insight != nil {
			promoted = insight
		}
	}
	return promoted, analyzed, nil
}

func (d *Detector) detectVariant(ctx context.Context, v variant, event models.ConversationEvent) (*models.Insight, bool, error) {
	prepared, err := v.prepare(ctx, d, event)
	if err != nil {
		return nil, false, fmt.Errorf("%w: prepare %s: %v", utils.ErrDetectionFailed, v.kind, err)
	}
	if prepared == nil {
		// Nothing analyzable (e.g. a pure greeting).
		return nil, false, nil
	}

	record, err := d.agg.RecordObservation(ctx, prepared.obs)
	if err != nil {
		return nil, true, fmt.Errorf("%w: aggregate %s: %v", utils.ErrDetectionFailed, v.kind, err)
	}

	severity, evidence, err := prepared.evaluate(ctx, record)
	if err != nil {
		return nil, true, fmt.Errorf("%w: evaluate %s: %v", utils.ErrDetectionFailed, v.kind, err)
	}
	if severity.Rank() < models.SeverityMedium.Rank() {
		return nil, true, nil
	}
	if record.Status != models.SignalActive {
		// An addressed or dismissed signal does not re-promote; new
		// occurrences keep accumulating silently.
		return nil, true, nil
	}

	title, description, action := prepared.present(record, severity, evidence)
	proposed := models.Insight{
		TenantID:          event.TenantID,
		SourceKind:        v.sourceKind,
		SourceID:          prepared.obs.GroupingKey,
		Severity:          severity,
		Category:          record.Category,
		Title:             title,
		Description:       description,
		RecommendedAction: action,
		Evidence:          evidence,
	}

	stored, created, err := d.ledger.UpsertForSource(ctx, proposed)
	if err != nil {
		return nil, true, fmt.Errorf("%w: promote %s: %v", utils.ErrDetectionFailed, v.kind, err)
	}
	if created {
		metrics.ObserveInsightCreated(string(v.kind), string(stored.Severity))
		d.logger.Info("insight created",
			slog.String("tenant", stored.TenantID),
			slog.String("source_kind", stored.SourceKind),
			slog.String("severity", string(stored.Severity)))
	} else {
		d.logger.Debug("insight evidence refreshed",
			slog.String("tenant", stored.TenantID),
			slog.String("source_kind", stored.SourceKind),
			slog.String("id", stored.ID))
	}
	return &stored, true, nil
}

func truncateSample(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "…"
}
