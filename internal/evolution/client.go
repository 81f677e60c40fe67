// Package evolution is a client for the Evolution API v2 WhatsApp gateway:
// instance lifecycle, webhook registration and text sends.
package evolution

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/crmops/crmctl/internal/debug"
	"github.com/crmops/crmctl/internal/httpx"
	"github.com/crmops/crmctl/internal/types"
)

// ServiceName labels requests in logs and spans.
const ServiceName = "evolution"

var (
	// ErrInstanceNotFound is returned when the gateway has no such instance.
	ErrInstanceNotFound = errors.New("evolution: instance not found")

	// ErrUnauthorized is returned when the api key is missing or wrong.
	ErrUnauthorized = errors.New("evolution: unauthorized (check evolution.api-key)")

	// ErrWebhookNotApplied is returned by EnsureWebhook when the gateway
	// keeps reporting a configuration other than the one that was set.
	ErrWebhookNotApplied = errors.New("evolution: webhook configuration not applied")
)

// Client talks to one Evolution API server.
type Client struct {
	http *httpx.Client
}

// NewClient creates a client authenticating with the global api key.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		http: httpx.New(ServiceName, baseURL).WithHeader("apikey", apiKey),
	}
}

// WithHTTP returns a client using a customised request helper (timeouts,
// retries, test servers).
func (c *Client) WithHTTP(fn func(*httpx.Client) *httpx.Client) *Client {
	return &Client{http: fn(c.http)}
}

// BaseURL returns the server the client talks to.
func (c *Client) BaseURL() string {
	return c.http.BaseURL
}

// mapError converts status codes into the package sentinels while keeping
// the APIError in the chain.
func mapError(err error, instance string) error {
	if err == nil {
		return nil
	}
	switch {
	case httpx.IsStatus(err, http.StatusNotFound):
		return fmt.Errorf("%w: %q: %w", ErrInstanceNotFound, instance, err)
	case httpx.IsStatus(err, http.StatusUnauthorized, http.StatusForbidden):
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return err
}

func instancePath(prefix, instance string) string {
	return prefix + "/" + url.PathEscape(instance)
}

// FetchInstances lists every instance on the server.
func (c *Client) FetchInstances(ctx context.Context) ([]Instance, error) {
	var out []Instance
	if err := c.http.GetJSON(ctx, "/instance/fetchInstances", nil, &out); err != nil {
		return nil, mapError(err, "")
	}
	return out, nil
}

// FindInstance returns the named instance, or ErrInstanceNotFound.
func (c *Client) FindInstance(ctx context.Context, name string) (*Instance, error) {
	params := url.Values{"instanceName": {name}}
	var out []Instance
	if err := c.http.GetJSON(ctx, "/instance/fetchInstances", params, &out); err != nil {
		return nil, mapError(err, name)
	}
	for i := range out {
		if out[i].Name == name {
			return &out[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrInstanceNotFound, name)
}

// ConnectionState returns "open", "connecting" or "close".
func (c *Client) ConnectionState(ctx context.Context, instance string) (string, error) {
	var out ConnectionState
	if err := c.http.GetJSON(ctx, instancePath("/instance/connectionState", instance), nil, &out); err != nil {
		return "", mapError(err, instance)
	}
	return out.State(), nil
}

// Connect requests a QR/pairing code for a disconnected instance.
// number, when set, asks for a pairing code for that phone.
func (c *Client) Connect(ctx context.Context, instance, number string) (*ConnectResponse, error) {
	var params url.Values
	if number != "" {
		params = url.Values{"number": {types.NormalizePhone(number)}}
	}
	var out ConnectResponse
	if err := c.http.GetJSON(ctx, instancePath("/instance/connect", instance), params, &out); err != nil {
		return nil, mapError(err, instance)
	}
	return &out, nil
}

// Restart restarts the instance's session.
func (c *Client) Restart(ctx context.Context, instance string) error {
	return mapError(c.http.SendJSON(ctx, http.MethodPut, instancePath("/instance/restart", instance), nil, nil), instance)
}

// Logout ends the WhatsApp session; the instance must be reconnected with a
// new QR code afterwards.
func (c *Client) Logout(ctx context.Context, instance string) error {
	return mapError(c.http.SendJSON(ctx, http.MethodDelete, instancePath("/instance/logout", instance), nil, nil), instance)
}

// FindWebhook returns the webhook registration. An instance without one
// yields a zero config (Enabled false).
func (c *Client) FindWebhook(ctx context.Context, instance string) (*WebhookConfig, error) {
	var out *WebhookConfig
	if err := c.http.GetJSON(ctx, instancePath("/webhook/find", instance), nil, &out); err != nil {
		return nil, mapError(err, instance)
	}
	if out == nil {
		out = &WebhookConfig{}
	}
	return out, nil
}

// SetWebhook replaces the webhook registration.
func (c *Client) SetWebhook(ctx context.Context, instance string, cfg WebhookConfig) error {
	body := setWebhookRequest{Webhook: cfg.Normalized()}
	return mapError(c.http.SendJSON(ctx, http.MethodPost, instancePath("/webhook/set", instance), body, nil), instance)
}

// EnsureOptions bounds EnsureWebhook's verification loop.
type EnsureOptions struct {
	InitialInterval time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultEnsureOptions gives the gateway up to a minute to report the new
// configuration.
var DefaultEnsureOptions = EnsureOptions{
	InitialInterval: time.Second,
	MaxElapsedTime:  time.Minute,
}

// EnsureResult reports what EnsureWebhook did.
type EnsureResult struct {
	Changed  bool          `json:"changed"`
	Before   WebhookConfig `json:"before"`
	After    WebhookConfig `json:"after"`
	Diff     []string      `json:"diff,omitempty"`
	Attempts int           `json:"attempts"`
}

// EnsureWebhook makes the instance's webhook match desired: find, diff, set,
// then re-find until the gateway reports the desired config. The set+verify
// cycle is retried with exponential backoff until opts.MaxElapsedTime.
func (c *Client) EnsureWebhook(ctx context.Context, instance string, desired WebhookConfig, opts EnsureOptions) (*EnsureResult, error) {
	log := debug.Logger().With(zap.String("instance", instance))

	current, err := c.FindWebhook(ctx, instance)
	if err != nil {
		return nil, err
	}
	result := &EnsureResult{Before: *current, After: *current, Diff: Diff(*current, desired)}
	if len(result.Diff) == 0 {
		return result, nil
	}

	bo := backoff.NewExponentialBackOff()
	if opts.InitialInterval > 0 {
		bo.InitialInterval = opts.InitialInterval
	}
	bo.MaxElapsedTime = opts.MaxElapsedTime
	if bo.MaxElapsedTime <= 0 {
		bo.MaxElapsedTime = DefaultEnsureOptions.MaxElapsedTime
	}

	operation := func() error {
		result.Attempts++
		if err := c.SetWebhook(ctx, instance, desired); err != nil {
			if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrInstanceNotFound) || httpx.IsStatus(err, http.StatusBadRequest) {
				return backoff.Permanent(err)
			}
			return err
		}
		got, err := c.FindWebhook(ctx, instance)
		if err != nil {
			return err
		}
		result.After = *got
		if remaining := Diff(*got, desired); len(remaining) > 0 {
			return fmt.Errorf("%w: %s", ErrWebhookNotApplied, strings.Join(remaining, "; "))
		}
		return nil
	}
	notify := func(err error, next time.Duration) {
		log.Warn("webhook not yet applied", zap.Error(err), zap.Duration("retry_in", next))
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(bo, ctx), notify); err != nil {
		return result, err
	}
	result.Changed = true
	return result, nil
}

// SendText sends a plain text message to number (digits or JID).
func (c *Client) SendText(ctx context.Context, instance, number, text string) (*SendTextResponse, error) {
	n := types.NormalizePhone(number)
	if n == "" {
		return nil, fmt.Errorf("evolution: invalid number %q", number)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("evolution: text is required")
	}
	var out SendTextResponse
	body := sendTextRequest{Number: n, Text: text}
	if err := c.http.SendJSON(ctx, http.MethodPost, instancePath("/message/sendText", instance), body, &out); err != nil {
		return nil, mapError(err, instance)
	}
	return &out, nil
}
