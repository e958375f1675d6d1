package graph

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/graphfs/internal/metrics"
)

// DefaultBaseURL is the Graph API v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// Retry and backoff constants.
const (
	DefaultMaxRetries = 5
	baseBackoff       = 1 * time.Second
	maxBackoff        = 60 * time.Second
	backoffFactor     = 2.0
	jitterFraction    = 0.25
	defaultUserAgent  = "graphfs/0.1"
)

// preAuthLogPath replaces pre-authenticated URLs in log output. Those URLs
// embed credentials and must never be logged.
const preAuthLogPath = "(pre-authenticated url)"

// Credential is a bearer access token and its expiry.
type Credential struct {
	AccessToken string
	Expiry      time.Time
}

// TokenProvider supplies bearer tokens for an account. Defined at the
// consumer; internal/auth provides the implementations.
type TokenProvider interface {
	Token(ctx context.Context, account string) (Credential, error)
	Refresh(ctx context.Context, account string) (Credential, error)
}

// Client is an HTTP client for the Microsoft Graph API.
// It handles request construction, authentication, retry with
// exponential backoff, and error classification. It holds no cache state.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenProvider
	account    string
	userAgent  string
	maxRetries int
	logger     *slog.Logger

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Graph API client.
// baseURL is typically DefaultBaseURL.
func NewClient(baseURL string, httpClient *http.Client, tokens TokenProvider, logger *slog.Logger, userAgent string) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		tokens:     tokens,
		userAgent:  userAgent,
		maxRetries: DefaultMaxRetries,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// SetAccount selects the account whose tokens are requested from the provider.
func (c *Client) SetAccount(account string) {
	c.account = account
}

// SetMaxRetries bounds the number of retries per request. Negative values are ignored.
func (c *Client) SetMaxRetries(n int) {
	if n >= 0 {
		c.maxRetries = n
	}
}

// request describes one logical call. Every retry replays it from scratch,
// so body must be seekable.
type request struct {
	method      string
	url         string
	logPath     string
	body        io.ReadSeeker
	length      int64
	contentType string
	header      http.Header
	noAuth      bool
}

// Do executes an authenticated request against the Graph API.
// The path is appended to the client's base URL.
// For non-nil bodies, Content-Type is set to application/json.
// The caller is responsible for closing the response body on success.
func (c *Client) Do(ctx context.Context, method, path string, body io.ReadSeeker) (*http.Response, error) {
	r := &request{
		method:  method,
		url:     c.baseURL + path,
		logPath: path,
		body:    body,
	}

	if body != nil {
		r.contentType = "application/json"
	}

	return c.doRequest(ctx, r)
}

// doPreAuth executes a request against a pre-authenticated URL (upload
// session, copy monitor). No Authorization header is sent, but the retry
// envelope still applies.
func (c *Client) doPreAuth(
	ctx context.Context, method, rawURL string, body io.ReadSeeker, length int64, header http.Header,
) (*http.Response, error) {
	r := &request{
		method:  method,
		url:     rawURL,
		logPath: preAuthLogPath,
		body:    body,
		length:  length,
		header:  header,
		noAuth:  true,
	}

	if body != nil {
		r.contentType = "application/octet-stream"
	}

	return c.doRequest(ctx, r)
}

// doRequest is the retry envelope shared by every call. A 401 triggers one
// forced token refresh and one replay; throttling and server errors are
// retried with backoff up to maxRetries; other errors return immediately.
func (c *Client) doRequest(ctx context.Context, r *request) (*http.Response, error) {
	start := time.Now()
	clientRequestID := uuid.NewString()
	refreshed := false

	var attempt int
	for {
		if err := rewindBody(r.body); err != nil {
			return nil, err
		}

		resp, err := c.doOnce(ctx, r, clientRequestID)
		if err != nil {
			// Context cancellation is not retryable.
			if ctx.Err() != nil {
				metrics.RecordAPIRequest(r.method, 0, time.Since(start))
				return nil, fmt.Errorf("graph: request canceled: %w", ctx.Err())
			}

			if fe, ok := err.(*fatalError); ok { //nolint:errorlint // doOnce returns it unwrapped
				return nil, fmt.Errorf("graph: %s %s: %w", r.method, r.logPath, fe.err)
			}

			// Network errors are retryable.
			if attempt < c.maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", r.method),
					slog.String("path", r.logPath),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)
				metrics.RecordRetry("network")

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("graph: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			metrics.RecordAPIRequest(r.method, 0, time.Since(start))

			return nil, fmt.Errorf("graph: %s %s failed after %d retries: %w: %w",
				r.method, r.logPath, c.maxRetries, ErrUnavailable, err)
		}

		// 2xx: success.
		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("method", r.method),
				slog.String("path", r.logPath),
				slog.Int("status", resp.StatusCode),
			)
			metrics.RecordAPIRequest(r.method, resp.StatusCode, time.Since(start))

			return resp, nil
		}

		// Read and close body for error responses.
		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if resp.StatusCode == http.StatusUnauthorized && !r.noAuth && !refreshed {
			refreshed = true

			c.logger.Warn("token rejected, forcing refresh",
				slog.String("method", r.method),
				slog.String("path", r.logPath),
			)

			if _, refreshErr := c.tokens.Refresh(ctx, c.account); refreshErr != nil {
				metrics.RecordTokenRefresh(false)
				metrics.RecordAPIRequest(r.method, resp.StatusCode, time.Since(start))

				return nil, fmt.Errorf("graph: refreshing token: %w: %w", ErrAuthExpired, refreshErr)
			}

			metrics.RecordTokenRefresh(true)

			continue
		}

		if isRetryable(resp.StatusCode) && attempt < c.maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", r.method),
				slog.String("path", r.logPath),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)
			metrics.RecordRetry(strconv.Itoa(resp.StatusCode))

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("graph: request canceled: %w", err)
			}

			attempt++

			continue
		}

		graphErr := &GraphError{
			StatusCode: resp.StatusCode,
			RequestID:  resp.Header.Get("request-id"),
			Message:    string(errBody),
			Err:        classifyStatus(resp.StatusCode),
		}

		if attempt > 0 {
			c.logger.Error("request failed after retries",
				slog.String("method", r.method),
				slog.String("path", r.logPath),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", attempt+1),
			)
		}

		metrics.RecordAPIRequest(r.method, resp.StatusCode, time.Since(start))

		return nil, graphErr
	}
}

// fatalError marks a failure before the request reached the network
// (building the request, obtaining a token). It is never retried.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }

func (e *fatalError) Unwrap() error { return e.err }

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(ctx context.Context, r *request, clientRequestID string) (*http.Response, error) {
	var body io.Reader = http.NoBody
	if r.body != nil {
		body = r.body
	}

	req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
	if err != nil {
		return nil, &fatalError{err: fmt.Errorf("creating request: %w", err)}
	}

	if !r.noAuth {
		cred, tokErr := c.tokens.Token(ctx, c.account)
		if tokErr != nil {
			return nil, &fatalError{err: fmt.Errorf("obtaining token: %w: %w", ErrAuthExpired, tokErr)}
		}

		req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("client-request-id", clientRequestID)

	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}

	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	if r.length > 0 {
		req.ContentLength = r.length
	}

	return c.httpClient.Do(req)
}

// rewindBody seeks a replayable body back to its start before each attempt.
func rewindBody(body io.ReadSeeker) error {
	if body == nil {
		return nil
	}

	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("graph: rewinding request body: %w", err)
	}

	return nil
}

// retryBackoff returns the backoff duration for a retryable response.
// A Retry-After header, in delta-seconds or HTTP-date form, is used verbatim.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if d, ok := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
		return d
	}

	return c.calcBackoff(attempt)
}

func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}

	if seconds, err := strconv.Atoi(v); err == nil {
		if seconds < 0 {
			return 0, false
		}

		return time.Duration(seconds) * time.Second, true
	}

	t, err := http.ParseTime(v)
	if err != nil {
		return 0, false
	}

	return max(t.Sub(now), 0), true
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	// Apply ±25% jitter.
	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
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
