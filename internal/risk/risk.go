// Package risk maps aggregated statistics to a discrete risk level. Every
// evaluator is a pure function over its statistics and thresholds: rules are
// ordered most severe first and the first match wins. Each kind requires a
// minimum sample size before producing anything above none/low, so sparse
// data never triggers noisy findings.
package risk

import (
	"github.com/insightstack/assist-sentinel/internal/config"
	"github.com/insightstack/assist-sentinel/internal/models"
)

// RepetitionStats feeds the repeated-question evaluator.
type RepetitionStats struct {
	OccurrenceCount int
	DistinctActors  int
}

// ConcentrationStats feeds the answer-concentration evaluator.
type ConcentrationStats struct {
	TotalResponses int
	TopActorID     string
	TopActorCount  int
	DistinctActors int
	SustainedDays  int
}

// SentimentStats feeds the sentiment-drift evaluator. Daily holds per-day
// average scores oldest first; Baseline is the rolling long-window mean.
type SentimentStats struct {
	Baseline    float64
	HasBaseline bool
	Daily       []models.DailyScore
}

// EvaluateRepetition scores a repeated-question signal.
func EvaluateRepetition(stats RepetitionStats, cfg config.RepetitionConfig) models.Severity {
	if stats.OccurrenceCount < cfg.MinOccurrences {
		return models.SeverityNone
	}
	switch {
	case stats.OccurrenceCount >= cfg.CriticalOccurrence || stats.DistinctActors >= cfg.CriticalActors:
		return models.SeverityCritical
	case stats.OccurrenceCount >= cfg.HighOccurrences || stats.DistinctActors >= cfg.HighActors:
		return models.SeverityHigh
	default:
		return models.SeverityMedium
	}
}

// EvaluateConcentration scores an answer-concentration signal. A single
// responder with no alternative for the critical span is critical; below
// that, the top-responder ratio must be sustained for the configured days.
func EvaluateConcentration(stats ConcentrationStats, cfg config.ConcentrationConfig) models.Severity {
	if stats.TotalResponses < cfg.MinResponses {
		return models.SeverityNone
	}
	ratio := float64(stats.TopActorCount) / float64(stats.TotalResponses)
	if ratio < cfg.MediumRatio {
		return models.SeverityNone
	}
	switch {
	case stats.DistinctActors == 1 && stats.SustainedDays >= cfg.ExclusiveCritDays:
		return models.SeverityCritical
	case ratio >= cfg.HighRatio && stats.SustainedDays >= cfg.HighDays:
		return models.SeverityHigh
	case ratio >= cfg.MediumRatio && stats.SustainedDays >= cfg.MediumDays:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// EvaluateSentiment scores a sentiment-drift signal. Drop conditions compare
// trailing consecutive negative days against the rolling baseline; floor
// conditions look at trailing days at or below an absolute score.
func EvaluateSentiment(stats SentimentStats, cfg config.SentimentConfig) models.Severity {
	if len(stats.Daily) < cfg.MinDays {
		return models.SeverityNone
	}

	baseline := stats.Baseline
	if !stats.HasBaseline {
		baseline = 0
	}
	current := stats.Daily[len(stats.Daily)-1].Score
	drop := baseline - current

	switch {
	case negativeDropDays(stats.Daily, baseline, cfg.CriticalDrop) >= cfg.CriticalDropDays,
		floorDays(stats.Daily, cfg.CriticalFloor) >= cfg.CriticalFloorDay:
		return models.SeverityCritical
	case negativeDropDays(stats.Daily, baseline, cfg.HighDrop) >= cfg.HighDropDays,
		floorDays(stats.Daily, cfg.HighFloor) >= cfg.HighFloorDays:
		return models.SeverityHigh
	case drop >= cfg.MediumDrop,
		floorDays(stats.Daily, cfg.MediumFloor) >= cfg.MediumFloorDays:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// negativeDropDays counts trailing consecutive days that are both negative
// and at least minDrop below the baseline.
func negativeDropDays(daily []models.DailyScore, baseline, minDrop float64) int {
	days := 0
	for i := len(daily) - 1; i >= 0; i-- {
		score := daily[i].Score
		if score < 0 && baseline-score >= minDrop {
			days++
			continue
		}
		break
	}
	return days
}

// ConsecutiveNegativeDays counts trailing consecutive days with a negative
// average score. Exposed for evidence payloads.
func ConsecutiveNegativeDays(daily []models.DailyScore) int {
	days := 0
	for i := len(daily) - 1; i >= 0; i-- {
		if daily[i].Score < 0 {
			days++
			continue
		}
		break
	}
	return days
}

// floorDays counts trailing consecutive days at or below the floor score.
func floorDays(daily []models.DailyScore, floor float64) int {
	days := 0
	for i := len(daily) - 1; i >= 0; i-- {
		if daily[i].Score <= floor {
			days++
			continue
		}
		break
	}
	return days
}
