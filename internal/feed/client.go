package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const defaultUserAgent = "airfuse/1.0"

// ClientConfig configures the HTTP client shared by all feed adapters.
type ClientConfig struct {
	// RatePerSec is the number of requests per second the feed tolerates (default: 1).
	RatePerSec float64
	// Burst is the maximum number of requests sent back to back (default: 1).
	Burst int
	// UserAgent is sent with every request.
	UserAgent string
	// Transport allows injecting a custom HTTP transport (for tests).
	Transport http.RoundTripper
}

// Client is a rate-limited HTTP client for JSON feeds. Timeouts are taken from the request context.
type Client struct {
	source     string
	httpClient *http.Client
	limiter    *rate.Limiter
	userAgent  string
}

// NewClient creates a client for the named source.
func NewClient(source string, cfg ClientConfig) *Client {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	return &Client{
		source:     source,
		httpClient: &http.Client{Transport: cfg.Transport},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		userAgent:  cfg.UserAgent,
	}
}

// GetJSON sends a GET request and decodes the JSON response body into target.
func (c *Client) GetJSON(ctx context.Context, url string, target any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("getJSON: %s: %w: %w", c.source, ErrRateLimited, err)
	}

	body, err := c.sendRequest(ctx, url)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("getJSON: %s: %w: %w", c.source, ErrMalformed, err)
	}
	return nil
}

// sendRequest sends an HTTP GET request and returns a valid byte slice of the response body.
func (c *Client) sendRequest(ctx context.Context, url string) (body []byte, err error) {
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if reqErr != nil {
		return nil, fmt.Errorf("sendRequest: invalid request error: %s : %w", url, reqErr)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, respErr := c.httpClient.Do(req)
	if respErr != nil {
		return nil, fmt.Errorf("sendRequest: failed to send GET request after %s: %s: %w",
			time.Since(start).Round(time.Millisecond), url, respErr)
	}
	defer func() {
		closeErr := resp.Body.Close()
		if closeErr != nil && err == nil {
			err = fmt.Errorf("sendRequest: error while closing response body: %w", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Source: c.source, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, bodyErr := io.ReadAll(resp.Body)
	if bodyErr != nil {
		return nil, fmt.Errorf("sendRequest: failed to read response body: %w", bodyErr)
	}

	if len(body) == 0 {
		return nil, fmt.Errorf("sendRequest: %w", ErrEmptyResponseBody)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "application/json") {
		return nil, fmt.Errorf("sendRequest: %w, %s", ErrNonJSONContent, contentType)
	}

	return body, nil
}
