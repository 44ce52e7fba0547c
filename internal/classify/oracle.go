// Package classify defines the boundary to the external text-classification
// oracle. The pipeline only consumes its category/sentiment output and must
// keep working, degraded, when the oracle is unavailable.
package classify

import "context"

// Classification is a category label with the oracle's confidence.
type Classification struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// SentimentResult is a sentiment score in [-1, 1] with label and confidence.
type SentimentResult struct {
	Score      float64 `json:"score"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Oracle classifies normalized text. Implementations must honour the context
// deadline; blocking indefinitely is never acceptable in the detection path.
type Oracle interface {
	Classify(ctx context.Context, text string) (Classification, error)
	Score(ctx context.Context, text string) (SentimentResult, error)
}
