package classify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/insightstack/assist-sentinel/internal/cache"
	"github.com/insightstack/assist-sentinel/internal/fingerprint"
)

// Cached memoizes oracle answers keyed by the text fingerprint. Repeated
// questions are the whole point of this system, so the same normalized text
// arrives again and again; caching spares the remote classifier those calls.
// Cache failures fall through to the inner oracle and are never surfaced.
type Cached struct {
	inner    Oracle
	provider cache.Provider
	logger   *slog.Logger
	ttl      time.Duration
}

// NewCached wraps inner with a cache. A nil provider disables caching.
func NewCached(inner Oracle, provider cache.Provider, logger *slog.Logger, ttl time.Duration) *Cached {
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cached{inner: inner, provider: provider, logger: logger, ttl: ttl}
}

// Classify returns the cached category for the text when present.
func (c *Cached) Classify(ctx context.Context, text string) (Classification, error) {
	key := "sentinel:cat:" + fingerprint.Sum(text)

	var cached Classification
	if c.lookup(ctx, key, &cached) {
		return cached, nil
	}

	result, err := c.inner.Classify(ctx, text)
	if err != nil {
		return Classification{}, err
	}
	c.store(ctx, key, result)
	return result, nil
}

// Score returns the cached sentiment for the text when present.
func (c *Cached) Score(ctx context.Context, text string) (SentimentResult, error) {
	key := "sentinel:sent:" + fingerprint.Sum(text)

	var cached SentimentResult
	if c.lookup(ctx, key, &cached) {
		return cached, nil
	}

	result, err := c.inner.Score(ctx, text)
	if err != nil {
		return SentimentResult{}, err
	}
	c.store(ctx, key, result)
	return result, nil
}

func (c *Cached) lookup(ctx context.Context, key string, out any) bool {
	data, err := c.provider.Get(ctx, key)
	if err != nil {
		if err != cache.ErrCacheMiss {
			c.logger.Debug("classification cache read failed", slog.Any("error", err))
		}
		return false
	}
	return json.Unmarshal(data, out) == nil
}

func (c *Cached) store(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.provider.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Debug("classification cache write failed", slog.Any("error", err))
	}
}
