package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

const (
	defaultTimeout = 30 * time.Second
	maxRetries     = 3
)

// Compile-time interface check.
var _ Extractor = (*HTTPExtractor)(nil)

// HTTPExtractor calls an embedding sidecar over HTTP. The sidecar accepts
// a raw image and responds with the embedding vector, or signals that no
// face was detected.
type HTTPExtractor struct {
	baseURL string
	client  *http.Client
}

// NewHTTPExtractor creates an extractor client for the given base URL.
// A zero timeout uses the default.
func NewHTTPExtractor(baseURL string, timeout time.Duration) *HTTPExtractor {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPExtractor{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type extractResponse struct {
	Vector []float32 `json:"vector"`
	Error  string    `json:"error,omitempty"`
}

// Extract sends the image to the sidecar and returns the embedding.
// Server-side failures are retried with exponential backoff; a "no face"
// answer is terminal and returned as ErrNoFace.
func (e *HTTPExtractor) Extract(ctx context.Context, image []byte) ([]float32, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff: 1s, 2s, 4s
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		vector, retryable, err := e.extractOnce(ctx, image)
		if err == nil {
			return vector, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("extractor: giving up after %d retries: %w", maxRetries, lastErr)
}

func (e *HTTPExtractor) extractOnce(ctx context.Context, image []byte) (vector []float32, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embed", bytes.NewReader(image))
	if err != nil {
		return nil, false, fmt.Errorf("extractor: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("extractor: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, true, fmt.Errorf("extractor: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, false, ErrNoFace
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("extractor: server error %d: %s", resp.StatusCode, string(body))
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("extractor: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var parsed extractResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, false, fmt.Errorf("extractor: decode response: %w", err)
	}
	if parsed.Error != "" {
		return nil, false, fmt.Errorf("extractor: %s", parsed.Error)
	}
	if len(parsed.Vector) == 0 {
		return nil, false, ErrNoFace
	}
	return parsed.Vector, false, nil
}
