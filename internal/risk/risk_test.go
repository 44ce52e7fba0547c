package risk

import (
	"testing"
	"time"

	"github.com/insightstack/assist-sentinel/internal/config"
	"github.com/insightstack/assist-sentinel/internal/models"
)

func TestEvaluateRepetitionBoundaries(t *testing.T) {
	cfg := config.DefaultDetection().Repetition

	cases := []struct {
		name        string
		occurrences int
		actors      int
		want        models.Severity
	}{
		{"below minimum", 4, 4, models.SeverityNone},
		{"at minimum", 5, 1, models.SeverityMedium},
		{"ten occurrences five actors", 10, 5, models.SeverityHigh},
		{"ten occurrences few actors", 10, 2, models.SeverityHigh},
		{"five distinct actors", 6, 5, models.SeverityHigh},
		{"twenty occurrences", 20, 3, models.SeverityCritical},
		{"ten distinct actors", 12, 10, models.SeverityCritical},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := EvaluateRepetition(RepetitionStats{OccurrenceCount: tc.occurrences, DistinctActors: tc.actors}, cfg)
			if got != tc.want {
				t.Fatalf("EvaluateRepetition(%d, %d) = %s, want %s", tc.occurrences, tc.actors, got, tc.want)
			}
		})
	}
}

func TestEvaluateConcentration(t *testing.T) {
	cfg := config.DefaultDetection().Concentration

	cases := []struct {
		name  string
		stats ConcentrationStats
		want  models.Severity
	}{
		{"too few responses", ConcentrationStats{TotalResponses: 4, TopActorCount: 4, DistinctActors: 1, SustainedDays: 40}, models.SeverityNone},
		{"ratio below threshold", ConcentrationStats{TotalResponses: 10, TopActorCount: 5, DistinctActors: 3, SustainedDays: 20}, models.SeverityNone},
		{"nine of ten over sixteen days with alternative", ConcentrationStats{TotalResponses: 10, TopActorCount: 9, DistinctActors: 2, SustainedDays: 16}, models.SeverityHigh},
		{"exclusive responder thirty days", ConcentrationStats{TotalResponses: 12, TopActorCount: 12, DistinctActors: 1, SustainedDays: 30}, models.SeverityCritical},
		{"exclusive responder short span", ConcentrationStats{TotalResponses: 12, TopActorCount: 12, DistinctActors: 1, SustainedDays: 10}, models.SeverityMedium},
		{"moderate ratio sustained week", ConcentrationStats{TotalResponses: 10, TopActorCount: 7, DistinctActors: 3, SustainedDays: 8}, models.SeverityMedium},
		{"high ratio short span", ConcentrationStats{TotalResponses: 10, TopActorCount: 9, DistinctActors: 2, SustainedDays: 3}, models.SeverityLow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := EvaluateConcentration(tc.stats, cfg); got != tc.want {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func daily(scores ...float64) []models.DailyScore {
	out := make([]models.DailyScore, 0, len(scores))
	day := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i, s := range scores {
		out = append(out, models.DailyScore{Day: day.AddDate(0, 0, i), Score: s})
	}
	return out
}

func TestEvaluateSentiment(t *testing.T) {
	cfg := config.DefaultDetection().Sentiment

	cases := []struct {
		name     string
		baseline float64
		scores   []float64
		want     models.Severity
	}{
		{"sharp drop three negative days", 0.2, []float64{-0.25, -0.3, -0.22}, models.SeverityCritical},
		{"sustained very low week", 0.0, []float64{-0.6, -0.55, -0.6, -0.52, -0.58, -0.61, -0.55}, models.SeverityCritical},
		{"moderate drop two days", 0.1, []float64{0.1, -0.25, -0.3}, models.SeverityHigh},
		{"mild drop only", 0.2, []float64{0.1, 0.15, -0.05}, models.SeverityMedium},
		{"slightly low three days", 0.0, []float64{-0.2, -0.21, -0.25}, models.SeverityMedium},
		{"stable positive", 0.2, []float64{0.2, 0.25, 0.18}, models.SeverityLow},
		{"too few samples", 0.2, []float64{-0.5, -0.6}, models.SeverityNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stats := SentimentStats{Baseline: tc.baseline, HasBaseline: true, Daily: daily(tc.scores...)}
			if got := EvaluateSentiment(stats, cfg); got != tc.want {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}
}
