package classify

import (
	"context"
	"log/slog"
	"time"

	"github.com/insightstack/assist-sentinel/internal/metrics"
	"github.com/insightstack/assist-sentinel/internal/utils"
)

// Fallback wraps an Oracle with a bounded timeout and converts any failure
// into the default category or a neutral sentiment score. Detection treats a
// timeout identically to a low-confidence "other" classification; the failure
// is logged, counted, and never surfaced to the caller.
type Fallback struct {
	inner           Oracle
	logger          *slog.Logger
	timeout         time.Duration
	defaultCategory string
}

// NewFallback wraps inner; a nil inner degrades every call immediately.
func NewFallback(inner Oracle, logger *slog.Logger, timeout time.Duration, defaultCategory string) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if defaultCategory == "" {
		defaultCategory = "other"
	}
	return &Fallback{
		inner:           inner,
		logger:          logger,
		timeout:         timeout,
		defaultCategory: defaultCategory,
	}
}

// Classify returns the oracle's category, or the default category when the
// oracle errors or exceeds the timeout. The returned error is always nil.
func (f *Fallback) Classify(ctx context.Context, text string) (Classification, error) {
	if f.inner == nil {
		return f.degradedCategory(nil), nil
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	result, err := f.inner.Classify(ctx, text)
	if err != nil {
		return f.degradedCategory(err), nil
	}
	return result, nil
}

// Score returns the oracle's sentiment, or a neutral score on failure.
// The returned error is always nil.
func (f *Fallback) Score(ctx context.Context, text string) (SentimentResult, error) {
	if f.inner == nil {
		return f.degradedSentiment(nil), nil
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	result, err := f.inner.Score(ctx, text)
	if err != nil {
		return f.degradedSentiment(err), nil
	}
	return result, nil
}

func (f *Fallback) degradedCategory(err error) Classification {
	f.noteFallback("category", err)
	return Classification{Category: f.defaultCategory, Confidence: 0}
}

func (f *Fallback) degradedSentiment(err error) SentimentResult {
	f.noteFallback("sentiment", err)
	return SentimentResult{Score: 0, Label: "neutral", Confidence: 0}
}

func (f *Fallback) noteFallback(kind string, err error) {
	metrics.ObserveClassifierFallback(kind)
	if err != nil {
		f.logger.Warn("classification unavailable, using fallback",
			slog.String("kind", kind),
			slog.Any("error", utils.NewAppError("classify", "oracle call failed", err)))
	}
}
