// Package crmapi is a client of the CRM web application's own HTTP API:
// tickets, agents and messages, the Evolution webhook route, and the A2A
// agent endpoints.
package crmapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/crmops/crmctl/internal/httpx"
	"github.com/crmops/crmctl/internal/types"
)

// ServiceName labels requests in logs and spans.
const ServiceName = "crm"

var (
	// ErrNotFound is returned for a 404 on a single-resource endpoint.
	ErrNotFound = errors.New("crm: not found")

	// ErrUnauthorized is returned for 401/403.
	ErrUnauthorized = errors.New("crm: unauthorized (check crm.api-key)")
)

// Client talks to one CRM deployment.
type Client struct {
	http   *httpx.Client
	apiKey string
}

// NewClient creates a client. apiKey may be empty for deployments that do
// not protect the API.
func NewClient(baseURL, apiKey string) *Client {
	h := httpx.New(ServiceName, baseURL)
	if apiKey != "" {
		// The A2A routes read x-api-key; the rest read the bearer token.
		h = h.WithHeader("Authorization", "Bearer "+apiKey).WithHeader("x-api-key", apiKey)
	}
	return &Client{http: h, apiKey: apiKey}
}

// WithHTTP returns a client using a customised request helper.
func (c *Client) WithHTTP(fn func(*httpx.Client) *httpx.Client) *Client {
	return &Client{http: fn(c.http), apiKey: c.apiKey}
}

// BaseURL returns the deployment the client talks to.
func (c *Client) BaseURL() string {
	return c.http.BaseURL
}

func mapError(err error, what string) error {
	if err == nil {
		return nil
	}
	switch {
	case httpx.IsStatus(err, http.StatusNotFound):
		return fmt.Errorf("%w: %s: %w", ErrNotFound, what, err)
	case httpx.IsStatus(err, http.StatusUnauthorized, http.StatusForbidden):
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return err
}

// decodeList accepts a bare JSON array or an object wrapping it under key
// or "data", which are the shapes the CRM's routes have used.
func decodeList(body []byte, key string, out interface{}) error {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil
	}
	if body[0] == '[' {
		return json.Unmarshal(body, out)
	}
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	for _, k := range []string{key, "data", "items"} {
		if raw, ok := wrapper[k]; ok {
			return json.Unmarshal(raw, out)
		}
	}
	return fmt.Errorf("response has no %q list", key)
}

// decodeOne accepts a bare object or one wrapped under key or "data".
func decodeOne(body []byte, key string, out interface{}) error {
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	for _, k := range []string{key, "data"} {
		if raw, ok := wrapper[k]; ok && len(raw) > 0 && raw[0] == '{' {
			return json.Unmarshal(raw, out)
		}
	}
	return json.Unmarshal(body, out)
}

// ListTickets queries /api/tickets. Filters the route does not understand
// are applied to the result as well.
func (c *Client) ListTickets(ctx context.Context, filter types.TicketFilter) ([]*types.Ticket, error) {
	params := url.Values{}
	if filter.Status != "" {
		params.Set("status", string(filter.Status))
	}
	if filter.AssignedAgentID != "" {
		params.Set("assignedAgentId", filter.AssignedAgentID)
	}
	if filter.Unassigned {
		params.Set("unassigned", "true")
	}
	if filter.Tag != "" {
		params.Set("tag", filter.Tag)
	}
	if !filter.Since.IsZero() {
		params.Set("since", filter.Since.UTC().Format(time.RFC3339))
	}
	if filter.Limit > 0 {
		params.Set("limit", strconv.Itoa(filter.Limit))
	}

	resp, err := c.http.Do(ctx, http.MethodGet, "/api/tickets", params, nil)
	if err != nil {
		return nil, mapError(err, "tickets")
	}
	var all []*types.Ticket
	if err := decodeList(resp.Body, "tickets", &all); err != nil {
		return nil, err
	}
	out := all[:0]
	for _, t := range all {
		if filter.Matches(t) {
			out = append(out, t)
		}
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// GetTicket fetches one ticket.
func (c *Client) GetTicket(ctx context.Context, id string) (*types.Ticket, error) {
	resp, err := c.http.Do(ctx, http.MethodGet, "/api/tickets/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return nil, mapError(err, "ticket "+id)
	}
	var t types.Ticket
	if err := decodeOne(resp.Body, "ticket", &t); err != nil {
		return nil, err
	}
	if t.ID == "" {
		t.ID = id
	}
	return &t, nil
}

// AssignTicket assigns a ticket through the app, which also runs its own
// side effects (notifications, AI auto-response).
func (c *Client) AssignTicket(ctx context.Context, id, agentID string, agentType types.AgentType) (*types.Ticket, error) {
	body := map[string]interface{}{"assignedAgentId": agentID}
	if agentType != "" {
		body["assignedAgentType"] = agentType
	}
	resp, err := c.http.Do(ctx, http.MethodPatch, "/api/tickets/"+url.PathEscape(id), nil, body)
	if err != nil {
		return nil, mapError(err, "ticket "+id)
	}
	t := types.Ticket{ID: id}
	if len(bytes.TrimSpace(resp.Body)) > 0 {
		if err := decodeOne(resp.Body, "ticket", &t); err != nil {
			return nil, err
		}
	}
	if t.ID == "" {
		t.ID = id
	}
	return &t, nil
}

// ListAgents queries /api/agents.
func (c *Client) ListAgents(ctx context.Context) ([]*types.Agent, error) {
	resp, err := c.http.Do(ctx, http.MethodGet, "/api/agents", nil, nil)
	if err != nil {
		return nil, mapError(err, "agents")
	}
	var out []*types.Agent
	if err := decodeList(resp.Body, "agents", &out); err != nil {
		return nil, err
	}
	types.SortAgentsByName(out)
	return out, nil
}

// ListMessages queries /api/messages for one ticket.
func (c *Client) ListMessages(ctx context.Context, ticketID string) ([]*types.Message, error) {
	params := url.Values{"ticketId": {ticketID}}
	resp, err := c.http.Do(ctx, http.MethodGet, "/api/messages", params, nil)
	if err != nil {
		return nil, mapError(err, "messages")
	}
	var out []*types.Message
	if err := decodeList(resp.Body, "messages", &out); err != nil {
		return nil, err
	}
	types.SortMessagesChronological(out)
	return out, nil
}

// SendMessageRequest is the body of POST /api/messages.
type SendMessageRequest struct {
	TicketID string              `json:"ticketId"`
	Content  string              `json:"content"`
	Sender   types.MessageSender `json:"sender"`
	Type     string              `json:"type"`
}

// SendMessage posts an agent message; the app stores it and relays it to
// WhatsApp.
func (c *Client) SendMessage(ctx context.Context, ticketID, content string) (*types.Message, error) {
	if ticketID == "" || content == "" {
		return nil, fmt.Errorf("crm: ticket id and content are required")
	}
	body := SendMessageRequest{TicketID: ticketID, Content: content, Sender: types.SenderAgent, Type: "text"}
	resp, err := c.http.Do(ctx, http.MethodPost, "/api/messages", nil, body)
	if err != nil {
		return nil, mapError(err, "ticket "+ticketID)
	}
	m := types.Message{TicketID: ticketID, Content: content, Sender: types.SenderAgent}
	if len(bytes.TrimSpace(resp.Body)) > 0 {
		if err := decodeOne(resp.Body, "message", &m); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

// HealthResult describes a successful health probe.
type HealthResult struct {
	Endpoint   string        `json:"endpoint"`
	StatusCode int           `json:"status_code"`
	Latency    time.Duration `json:"latency"`
}

// Health checks /api/health, falling back to /api/agents for deployments
// without a health route.
func (c *Client) Health(ctx context.Context) (*HealthResult, error) {
	start := time.Now()
	endpoint := "/api/health"
	resp, err := c.http.Do(ctx, http.MethodGet, endpoint, nil, nil)
	if httpx.IsStatus(err, http.StatusNotFound, http.StatusMethodNotAllowed) {
		endpoint = "/api/agents"
		resp, err = c.http.Do(ctx, http.MethodGet, endpoint, nil, nil)
	}
	if err != nil {
		return nil, mapError(err, endpoint)
	}
	return &HealthResult{Endpoint: endpoint, StatusCode: resp.StatusCode, Latency: time.Since(start)}, nil
}
