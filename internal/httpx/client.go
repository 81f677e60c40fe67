// Package httpx is the JSON-over-HTTP request helper shared by the Evolution
// API and CRM API clients.
//
// Idempotent requests are retried with exponential backoff on network
// errors, 408, 429 and 5xx responses. POST and PATCH are only retried when
// the server never saw them: a refused connection or a 429. Any other non-2xx
// status fails immediately with an *APIError.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/crmops/crmctl/internal/debug"
	"github.com/crmops/crmctl/internal/telemetry"
)

const (
	// DefaultTimeout is the per-attempt HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the number of retries after the first attempt.
	DefaultMaxRetries = 3

	// DefaultRetryDelay is the first backoff interval.
	DefaultRetryDelay = 500 * time.Millisecond

	// MaxResponseSize caps how much of a response body is read.
	MaxResponseSize = 50 * 1024 * 1024

	// maxRetryAfter bounds how long a Retry-After header can stall a command.
	maxRetryAfter = 60 * time.Second

	// maxErrorBody is how much of an error response is kept in APIError.
	maxErrorBody = 512
)

// Client sends JSON requests to one service.
type Client struct {
	Service    string // label for logs and spans: "evolution", "crm"
	BaseURL    string
	HTTPClient *http.Client
	MaxRetries int
	RetryDelay time.Duration
	Headers    http.Header
}

// New creates a client for service rooted at baseURL.
func New(service, baseURL string) *Client {
	return &Client{
		Service:    service,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
		MaxRetries: DefaultMaxRetries,
		RetryDelay: DefaultRetryDelay,
		Headers:    http.Header{},
	}
}

func (c *Client) clone() *Client {
	cp := *c
	cp.Headers = c.Headers.Clone()
	return &cp
}

// WithHTTPClient returns a new client with a custom HTTP client.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	cp := c.clone()
	cp.HTTPClient = httpClient
	return cp
}

// WithBaseURL returns a new client with a custom base URL.
func (c *Client) WithBaseURL(baseURL string) *Client {
	cp := c.clone()
	cp.BaseURL = strings.TrimRight(baseURL, "/")
	return cp
}

// WithHeader returns a new client that sends header on every request.
// An empty value removes the header.
func (c *Client) WithHeader(key, value string) *Client {
	cp := c.clone()
	if value == "" {
		cp.Headers.Del(key)
	} else {
		cp.Headers.Set(key, value)
	}
	return cp
}

// WithTimeout returns a new client with a different per-attempt timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	cp := c.clone()
	hc := *c.HTTPClient
	hc.Timeout = d
	cp.HTTPClient = &hc
	return cp
}

// WithRetries returns a new client with a different retry budget. A negative
// maxRetries is treated as zero.
func (c *Client) WithRetries(maxRetries int, delay time.Duration) *Client {
	cp := c.clone()
	if maxRetries < 0 {
		maxRetries = 0
	}
	cp.MaxRetries = maxRetries
	cp.RetryDelay = delay
	return cp
}

// URL builds a full URL for path with optional query parameters.
func (c *Client) URL(path string, params url.Values) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := c.BaseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// Response is a successful (2xx) response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
}

// Decode unmarshals the body into out. An empty body leaves out untouched.
func (r *Response) Decode(out interface{}) error {
	if out == nil || len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// Do performs a request with retry. body, when non-nil, is sent as JSON.
func (c *Client) Do(ctx context.Context, method, path string, params url.Values, body interface{}) (*Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}
	urlStr := c.URL(path, params)
	log := debug.Logger().With(
		zap.String("service", c.Service),
		zap.String("method", method),
		zap.String("path", path),
	)

	ctx, call := telemetry.StartHTTP(ctx, c.Service, method, path)

	var (
		result   *Response
		attempts int
		status   int
	)
	operation := func() error {
		attempts++
		resp, err := c.attempt(ctx, method, urlStr, payload)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if !idempotent(method) && !errors.Is(err, syscall.ECONNREFUSED) {
				return backoff.Permanent(fmt.Errorf("%s %s request failed: %w", method, path, err))
			}
			return fmt.Errorf("%s %s request failed (attempt %d/%d): %w", method, path, attempts, c.MaxRetries+1, err)
		}
		status = resp.StatusCode
		resp.Attempts = attempts

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			result = resp
			return nil
		}

		apiErr := &APIError{
			Service:    c.Service,
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       snippet(resp.Body),
		}
		if !retryable(method, resp.StatusCode) {
			return backoff.Permanent(apiErr)
		}
		if wait := retryAfter(resp.Header); wait > 0 && attempts <= c.MaxRetries {
			log.Debug("honoring Retry-After", zap.Duration("wait", wait))
			select {
			case <-ctx.Done():
				return backoff.Permanent(ctx.Err())
			case <-time.After(wait):
			}
		}
		return apiErr
	}

	notify := func(err error, next time.Duration) {
		log.Warn("retrying request", zap.Error(err), zap.Duration("backoff", next), zap.Int("attempt", attempts))
	}

	err := backoff.RetryNotify(operation, c.policy(ctx), notify)
	call.End(ctx, status, attempts, err)
	if err != nil {
		log.Debug("request failed", zap.Error(err), zap.Int("attempts", attempts))
		return nil, err
	}
	log.Debug("request ok", zap.Int("status", result.StatusCode), zap.Int("attempts", attempts))
	return result, nil
}

func (c *Client) policy(ctx context.Context) backoff.BackOffContext {
	bo := backoff.NewExponentialBackOff()
	if c.RetryDelay > 0 {
		bo.InitialInterval = c.RetryDelay
	}
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 2 * time.Minute
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.MaxRetries)), ctx)
}

func (c *Client) attempt(ctx context.Context, method, urlStr string, payload []byte) (*Response, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, urlStr, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vals := range c.Headers {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// GetJSON performs a GET and decodes the response into out.
func (c *Client) GetJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	resp, err := c.Do(ctx, http.MethodGet, path, params, nil)
	if err != nil {
		return err
	}
	return resp.Decode(out)
}

// SendJSON performs method with body and decodes the response into out
// (which may be nil).
func (c *Client) SendJSON(ctx context.Context, method, path string, body, out interface{}) error {
	resp, err := c.Do(ctx, method, path, nil, body)
	if err != nil {
		return err
	}
	return resp.Decode(out)
}

func retryable(method string, status int) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	if !idempotent(method) {
		return false
	}
	return status == http.StatusRequestTimeout || status >= 500
}

// idempotent reports whether repeating method cannot duplicate a side
// effect such as a sent message.
func idempotent(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPatch:
		return false
	default:
		return true
	}
}

// retryAfter parses a Retry-After header in seconds or HTTP-date form.
func retryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	var d time.Duration
	if seconds, err := strconv.Atoi(v); err == nil {
		d = time.Duration(seconds) * time.Second
	} else if t, err := http.ParseTime(v); err == nil {
		d = time.Until(t)
	}
	if d < 0 {
		return 0
	}
	if d > maxRetryAfter {
		return maxRetryAfter
	}
	return d
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}

// APIError is a non-2xx response.
type APIError struct {
	Service    string
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s API error: %s %s returned %d", e.Service, e.Method, e.Path, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// StatusCode returns the HTTP status of an *APIError in err's chain, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsStatus reports whether err carries one of the given HTTP statuses.
func IsStatus(err error, codes ...int) bool {
	sc := StatusCode(err)
	if sc == 0 {
		return false
	}
	for _, c := range codes {
		if sc == c {
			return true
		}
	}
	return false
}
