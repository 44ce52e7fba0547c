package detect

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/insightstack/assist-sentinel/internal/metrics"
	"github.com/insightstack/assist-sentinel/internal/models"
	"github.com/insightstack/assist-sentinel/internal/utils"
)

// InsightSink receives promoted insights for delivery. Dispatch must not
// block: the detection path never waits on a chat channel.
type InsightSink interface {
	Dispatch(insight models.Insight)
}

// EventResult is the per-event outcome of a batch run.
type EventResult struct {
	Index     int    `json:"index"`
	InsightID string `json:"insight_id,omitempty"`
	Skipped   bool   `json:"skipped,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Processor runs event batches through the detector with bounded
// concurrency. One event's failure is logged and recorded in its result;
// sibling events always continue.
type Processor struct {
	logger    *slog.Logger
	detector  *Detector
	sink      InsightSink
	workers   int
	latencies *utils.LatencyTracker
}

// NewProcessor constructs a Processor; sink may be nil when notification
// delivery is disabled.
func NewProcessor(logger *slog.Logger, detector *Detector, sink InsightSink, workers int) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 4
	}
	return &Processor{
		logger:    logger,
		detector:  detector,
		sink:      sink,
		workers:   workers,
		latencies: utils.NewLatencyTracker(1024),
	}
}

// Process runs every event in the batch and returns per-event results in
// input order. The batch itself never fails: partial failure is isolated to
// the affected events.
func (p *Processor) Process(ctx context.Context, events []models.ConversationEvent) []EventResult {
	results := make([]EventResult, len(events))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.workers)
	for i, event := range events {
		group.Go(func() error {
			results[i] = p.processOne(groupCtx, i, event)
			return nil
		})
	}
	// Workers never return errors; Wait only orders completion.
	_ = group.Wait()

	if count := p.latencies.Count(); count >= 20 && count%20 == 0 {
		p.logger.Info("detection latency",
			slog.Duration("p95", p.latencies.Percentile(95)),
			slog.Int("samples", count))
	}
	return results
}

func (p *Processor) processOne(ctx context.Context, index int, event models.ConversationEvent) EventResult {
	start := time.Now()
	insight, analyzed, err := p.detector.Detect(ctx, event)
	duration := time.Since(start)
	p.latencies.Observe(duration)

	result := EventResult{Index: index}
	switch {
	case err != nil:
		metrics.ObserveEvent(duration, metrics.OutcomeError)
		// Log with enough context to replay this single event.
		p.logger.Error("event detection failed",
			slog.String("tenant", event.TenantID),
			slog.String("kind", string(event.Kind)),
			slog.String("actor", event.ActorID),
			slog.Time("timestamp", event.Timestamp),
			slog.Any("error", err))
		result.Error = err.Error()
	case !analyzed:
		metrics.ObserveEvent(duration, metrics.OutcomeSkipped)
		result.Skipped = true
	default:
		metrics.ObserveEvent(duration, metrics.OutcomeProcessed)
		if insight != nil {
			result.InsightID = insight.ID
			if p.sink != nil {
				p.sink.Dispatch(*insight)
			}
		}
	}
	return result
}
