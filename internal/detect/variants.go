package detect

import (
	"context"
	"fmt"
	"time"

	"github.com/insightstack/assist-sentinel/internal/fingerprint"
	"github.com/insightstack/assist-sentinel/internal/models"
	"github.com/insightstack/assist-sentinel/internal/normalize"
	"github.com/insightstack/assist-sentinel/internal/risk"
	"github.com/insightstack/assist-sentinel/internal/utils"
)

func repetitionVariant() variant {
	return variant{
		kind:       models.KindRepetition,
		sourceKind: models.SourceRepeatedQuestion,
		accepts: func(event models.ConversationEvent) bool {
			return event.Kind == models.EventQuestion
		},
		prepare: func(ctx context.Context, d *Detector, event models.ConversationEvent) (*observation, error) {
			normalized := normalize.Normalize(event.Text)
			if normalized == "" {
				return nil, nil
			}

			// Classification is best-effort and happens before the atomic
			// update; the fallback oracle never returns an error.
			classification, _ := d.oracle.Classify(ctx, normalized)

			cfg := d.cfg.Repetition
			obs := models.Observation{
				TenantID:     event.TenantID,
				DetectorKind: models.KindRepetition,
				GroupingKey:  fingerprint.Sum(normalized),
				Category:     classification.Category,
				ActorID:      event.ActorID,
				Sample:       truncateSample(normalized, 120),
				At:           event.Timestamp,
			}
			return &observation{
				obs: obs,
				evaluate: func(ctx context.Context, record models.SignalRecord) (models.Severity, map[string]any, error) {
					stats := risk.RepetitionStats{
						OccurrenceCount: record.OccurrenceCount,
						DistinctActors:  len(record.ActorIDs),
					}
					severity := risk.EvaluateRepetition(stats, cfg)
					evidence := map[string]any{
						"occurrence_count": record.OccurrenceCount,
						"distinct_actors":  len(record.ActorIDs),
						"first_seen":       record.FirstSeen.Format(time.RFC3339),
						"last_seen":        record.LastSeen.Format(time.RFC3339),
						"samples":          record.Samples,
					}
					return severity, evidence, nil
				},
				present: func(record models.SignalRecord, severity models.Severity, evidence map[string]any) (string, string, string) {
					example := ""
					if len(record.Samples) > 0 {
						example = record.Samples[len(record.Samples)-1]
					}
					title := fmt.Sprintf("Repeated question: %s", truncateSample(example, 60))
					description := fmt.Sprintf(
						"The same question was asked %d times by %d people. Recurring questions usually point at missing or hard-to-find documentation.",
						record.OccurrenceCount, len(record.ActorIDs))
					action := "Document the answer where people will find it, or fix the underlying process."
					return title, description, action
				},
			}, nil
		},
	}
}

func concentrationVariant() variant {
	return variant{
		kind:       models.KindConcentration,
		sourceKind: models.SourceAnswerConcentration,
		accepts: func(event models.ConversationEvent) bool {
			return event.Kind == models.EventAnswer
		},
		prepare: func(ctx context.Context, d *Detector, event models.ConversationEvent) (*observation, error) {
			category := "other"
			if text := normalize.Normalize(event.Text); text != "" {
				classification, _ := d.oracle.Classify(ctx, text)
				if classification.Category != "" {
					category = classification.Category
				}
			}

			cfg := d.cfg.Concentration
			obs := models.Observation{
				TenantID:     event.TenantID,
				DetectorKind: models.KindConcentration,
				GroupingKey:  category,
				Category:     category,
				ActorID:      event.ActorID,
				At:           event.Timestamp,
			}
			return &observation{
				obs: obs,
				evaluate: func(ctx context.Context, record models.SignalRecord) (models.Severity, map[string]any, error) {
					windowStart := utils.WindowStart(obs.At, cfg.WindowDays)
					counts, first, last, err := d.agg.ActorCountsInWindow(ctx, obs.TenantID, obs.DetectorKind, obs.GroupingKey, windowStart)
					if err != nil {
						return models.SeverityNone, nil, err
					}

					total := 0
					for _, c := range counts {
						total += c.Count
					}
					stats := risk.ConcentrationStats{
						TotalResponses: total,
						DistinctActors: len(counts),
						SustainedDays:  utils.SpanDays(first, last),
					}
					if len(counts) > 0 {
						stats.TopActorID = counts[0].ActorID
						stats.TopActorCount = counts[0].Count
					}
					severity := risk.EvaluateConcentration(stats, cfg)

					responderCounts := make(map[string]int, len(counts))
					for _, c := range counts {
						responderCounts[c.ActorID] = c.Count
					}
					ratio := 0.0
					if total > 0 {
						ratio = float64(stats.TopActorCount) / float64(total)
					}
					evidence := map[string]any{
						"total_responses":  total,
						"top_responder":    stats.TopActorID,
						"top_count":        stats.TopActorCount,
						"ratio":            ratio,
						"sustained_days":   stats.SustainedDays,
						"responder_counts": responderCounts,
					}
					return severity, evidence, nil
				},
				present: func(record models.SignalRecord, severity models.Severity, evidence map[string]any) (string, string, string) {
					top, _ := evidence["top_responder"].(string)
					title := fmt.Sprintf("Answer concentration in %q", record.Category)
					description := fmt.Sprintf(
						"%s is answering most %q questions. A single point of knowledge is a staffing risk and a bottleneck.",
						top, record.Category)
					action := "Spread the load: pair a second responder on this topic and capture the recurring answers."
					return title, description, action
				},
			}, nil
		},
	}
}

func sentimentVariant() variant {
	return variant{
		kind:       models.KindSentiment,
		sourceKind: models.SourceSentimentDrift,
		accepts: func(event models.ConversationEvent) bool {
			return event.Kind == models.EventMessage
		},
		prepare: func(ctx context.Context, d *Detector, event models.ConversationEvent) (*observation, error) {
			normalized := normalize.Normalize(event.Text)
			if normalized == "" {
				return nil, nil
			}
			subject := event.SubjectID
			if subject == "" {
				subject = event.ActorID
			}

			sentiment, _ := d.oracle.Score(ctx, normalized)

			cfg := d.cfg.Sentiment
			// Raw message text is intentionally absent from the observation:
			// only the score is retained.
			obs := models.Observation{
				TenantID:     event.TenantID,
				DetectorKind: models.KindSentiment,
				GroupingKey:  subject,
				Category:     "wellbeing",
				ActorID:      subject,
				Score:        sentiment.Score,
				HasScore:     true,
				At:           event.Timestamp,
			}
			return &observation{
				obs: obs,
				evaluate: func(ctx context.Context, record models.SignalRecord) (models.Severity, map[string]any, error) {
					daily, err := d.agg.DailyScoresInWindow(ctx, obs.TenantID, obs.DetectorKind, obs.GroupingKey, utils.WindowStart(obs.At, cfg.WindowDays))
					if err != nil {
						return models.SeverityNone, nil, err
					}
					baseline, hasBaseline, err := d.agg.AverageScoreInWindow(ctx, obs.TenantID, obs.DetectorKind, obs.GroupingKey, utils.WindowStart(obs.At, cfg.BaselineDays))
					if err != nil {
						return models.SeverityNone, nil, err
					}

					stats := risk.SentimentStats{Baseline: baseline, HasBaseline: hasBaseline, Daily: daily}
					severity := risk.EvaluateSentiment(stats, cfg)

					current := 0.0
					if len(daily) > 0 {
						current = daily[len(daily)-1].Score
					}
					evidence := map[string]any{
						"baseline":                  baseline,
						"current":                   current,
						"drop":                      baseline - current,
						"days_observed":             len(daily),
						"consecutive_negative_days": risk.ConsecutiveNegativeDays(daily),
					}
					return severity, evidence, nil
				},
				present: func(record models.SignalRecord, severity models.Severity, evidence map[string]any) (string, string, string) {
					title := fmt.Sprintf("Sentiment decline for %s", record.GroupingKey)
					description := "Recent messages trend well below this person's usual tone. Only aggregate scores are recorded; no message content is retained."
					action := "Consider a low-key check-in through their manager or a trusted colleague."
					return title, description, action
				},
			}, nil
		},
	}
}
