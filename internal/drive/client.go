package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Default endpoints for the Drive v3 API.
const (
	DefaultBaseURL   = "https://www.googleapis.com/drive/v3"
	DefaultUploadURL = "https://www.googleapis.com/upload/drive/v3"
)

// Retry and backoff constants.
const (
	DefaultMaxRetries = 3
	baseBackoff       = 1 * time.Second
	maxBackoff        = 60 * time.Second
	backoffFactor     = 2.0
	jitterFraction    = 0.25
	defaultUserAgent  = "notesync/0.1"
)

// Client is an HTTP client for the Drive v3 API. It holds no credentials:
// every call receives the bearer token explicitly.
type Client struct {
	baseURL    string
	uploadURL  string
	httpClient *http.Client
	logger     *slog.Logger
	userAgent  string
	maxRetries int

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Drive API client. Empty URLs select the public
// endpoints.
func NewClient(baseURL, uploadURL string, httpClient *http.Client, logger *slog.Logger, userAgent string) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	if uploadURL == "" {
		uploadURL = DefaultUploadURL
	}

	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		uploadURL:  strings.TrimRight(uploadURL, "/"),
		httpClient: httpClient,
		logger:     logger,
		userAgent:  userAgent,
		maxRetries: DefaultMaxRetries,
		sleepFunc:  timeSleep,
	}
}

// SetMaxRetries overrides the number of transient-failure retries per
// request. Zero disables in-client retry.
func (c *Client) SetMaxRetries(n int) {
	if n < 0 {
		n = 0
	}

	c.maxRetries = n
}

// request describes one API call. body is kept as a byte slice so the call
// can be replayed on retry.
type request struct {
	method      string
	url         string
	path        string // for logs and errors
	body        []byte
	contentType string
	header      http.Header
}

// do executes a request with bounded retry for network errors and
// retryable statuses. The caller closes the response body on success.
func (c *Client) do(ctx context.Context, tok string, r request) (*http.Response, error) {
	var attempt int
	for {
		resp, err := c.doOnce(ctx, tok, r)
		if err != nil {
			// Context cancellation is not retryable and is not a network error.
			if ctx.Err() != nil {
				return nil, fmt.Errorf("drive: request canceled: %w", ctx.Err())
			}

			if attempt < c.maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", r.method),
					slog.String("path", r.path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("drive: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, &NetworkError{Op: r.method + " " + r.path, Err: err}
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("method", r.method),
				slog.String("path", r.path),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))

		if isRetryable(resp.StatusCode) && attempt < c.maxRetries {
			backoff := retryAfter
			if backoff <= 0 {
				backoff = c.calcBackoff(attempt)
			}

			c.logger.Warn("retrying after HTTP error",
				slog.String("method", r.method),
				slog.String("path", r.path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("drive: request canceled: %w", err)
			}

			attempt++

			continue
		}

		if attempt > 0 {
			c.logger.Error("request failed after retries",
				slog.String("method", r.method),
				slog.String("path", r.path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", attempt+1),
			)
		}

		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Method:     r.method,
			Path:       r.path,
			Body:       string(errBody),
			RetryAfter: retryAfter,
			Err:        classifyStatus(resp.StatusCode),
		}
	}
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(ctx context.Context, tok string, r request) (*http.Response, error) {
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", c.userAgent)

	if r.body != nil {
		ct := r.contentType
		if ct == "" {
			ct = "application/json; charset=UTF-8"
		}

		req.Header.Set("Content-Type", ct)
	}

	return c.httpClient.Do(req)
}

// doJSON executes a request and decodes a JSON response into out. A nil out
// discards the body.
func (c *Client) doJSON(ctx context.Context, tok string, r request, out any) error {
	resp, err := c.do(ctx, tok, r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)

		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("drive: decoding %s %s response: %w", r.method, r.path, err)
	}

	return nil
}

// parseRetryAfter reads a Retry-After header given in seconds or as an
// HTTP date. Returns 0 when absent or unparsable.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}

	return 0
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
