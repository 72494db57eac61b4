package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout = 120 * time.Second

	// Transient failures retry with exponential backoff.
	maxAttempts = 3
	baseBackoff = 500 * time.Millisecond
)

// HTTPClient calls POST {BaseURL}/a2a/complete. It is safe for
// concurrent use.
type HTTPClient struct {
	BaseURL    string       // e.g. "http://localhost:7001"
	APIKey     string       // optional; sent as a bearer token
	HTTPClient *http.Client // optional; nil uses a 120s-timeout client
}

// NewHTTPClient returns a client for the given base URL. Empty baseURL
// and apiKey fall back to the environment.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	if baseURL == "" {
		baseURL = BaseURLFromEnv()
	}
	if apiKey == "" {
		apiKey = APIKeyFromEnv()
	}
	return &HTTPClient{BaseURL: strings.TrimRight(baseURL, "/"), APIKey: apiKey}
}

func (c *HTTPClient) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: defaultTimeout}
}

// Complete posts the request, retrying transient failures up to
// maxAttempts with doubling backoff. Rejected requests (4xx) return a
// *RequestError immediately.
func (c *HTTPClient) Complete(ctx context.Context, req Request) (string, error) {
	if req.Mode == "" {
		req.Mode = ModeHighReasoning
	}
	if req.Context == nil {
		req.Context = map[string]string{}
	}

	var lastErr error
	backoff := baseBackoff
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		out, err := c.post(ctx, req)
		if err == nil {
			return out, nil
		}
		var te *TransientError
		if !errors.As(err, &te) {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("completion failed after %d attempts: %w", maxAttempts, lastErr)
}

func (c *HTTPClient) post(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/a2a/complete", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.client().Do(httpReq)
	if err != nil {
		return "", &TransientError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out Response
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", &TransientError{Err: fmt.Errorf("decode response: %w", err)}
		}
		return out.Output, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &RequestError{Status: resp.StatusCode, Msg: strings.TrimSpace(string(msg))}
	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", &TransientError{Err: fmt.Errorf("status %d from completion service", resp.StatusCode)}
	}
}
