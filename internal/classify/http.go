package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// HTTPOracle calls a remote classification service over JSON/HTTP.
type HTTPOracle struct {
	baseURL       string
	categoryPath  string
	sentimentPath string
	httpClient    *http.Client
}

// NewHTTPOracle constructs a client targeting the configured classification service.
func NewHTTPOracle(baseURL, categoryPath, sentimentPath string, timeout time.Duration) *HTTPOracle {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPOracle{
		baseURL:       strings.TrimRight(baseURL, "/"),
		categoryPath:  categoryPath,
		sentimentPath: sentimentPath,
		httpClient:    &http.Client{Timeout: timeout},
	}
}

// Classify requests a category label for the supplied text.
func (c *HTTPOracle) Classify(ctx context.Context, text string) (Classification, error) {
	if c == nil || c.baseURL == "" {
		return Classification{}, fmt.Errorf("classifier base URL not configured")
	}

	payload := map[string]any{"text": text}
	var response Classification
	if err := c.postJSON(ctx, c.resolvePath(c.categoryPath), payload, &response); err != nil {
		return Classification{}, fmt.Errorf("classifier category request failed: %w", err)
	}
	if response.Category == "" {
		return Classification{}, fmt.Errorf("classifier returned empty category")
	}
	return response, nil
}

// Score requests a sentiment score for the supplied text.
func (c *HTTPOracle) Score(ctx context.Context, text string) (SentimentResult, error) {
	if c == nil || c.baseURL == "" {
		return SentimentResult{}, fmt.Errorf("classifier base URL not configured")
	}

	payload := map[string]any{"text": text}
	var response SentimentResult
	if err := c.postJSON(ctx, c.resolvePath(c.sentimentPath), payload, &response); err != nil {
		return SentimentResult{}, fmt.Errorf("classifier sentiment request failed: %w", err)
	}
	if response.Score < -1 || response.Score > 1 {
		return SentimentResult{}, fmt.Errorf("classifier sentiment score %.2f out of range", response.Score)
	}
	return response, nil
}

func (c *HTTPOracle) resolvePath(p string) string {
	if c.baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *HTTPOracle) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("classifier returned %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
