package crmapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/crmops/crmctl/internal/types"
)

// WebhookPath is the CRM route Evolution posts events to.
const WebhookPath = "/api/webhooks/evolution"

// Evolution event names as they appear in webhook payloads.
const (
	EventMessagesUpsert   = "messages.upsert"
	EventMessagesUpdate   = "messages.update"
	EventConnectionUpdate = "connection.update"
	EventQRCodeUpdated    = "qrcode.updated"
	EventSendMessage      = "send.message"
)

// WebhookEvent is the envelope Evolution posts to the webhook URL.
type WebhookEvent struct {
	Event       string      `json:"event"`
	Instance    string      `json:"instance"`
	Data        interface{} `json:"data"`
	Destination string      `json:"destination,omitempty"`
	DateTime    string      `json:"date_time"`
	Sender      string      `json:"sender,omitempty"`
	ServerURL   string      `json:"server_url,omitempty"`
	APIKey      string      `json:"apikey,omitempty"`
}

// MessageKey identifies a WhatsApp message.
type MessageKey struct {
	RemoteJID string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
	ID        string `json:"id"`
}

// MessageData is the data of a messages.upsert event for a text message.
type MessageData struct {
	Key              MessageKey             `json:"key"`
	PushName         string                 `json:"pushName,omitempty"`
	Message          map[string]interface{} `json:"message"`
	MessageType      string                 `json:"messageType"`
	MessageTimestamp int64                  `json:"messageTimestamp"`
	InstanceID       string                 `json:"instanceId,omitempty"`
	Source           string                 `json:"source,omitempty"`
}

// ConnectionData is the data of a connection.update event.
type ConnectionData struct {
	Instance     string `json:"instance"`
	State        string `json:"state"`
	StatusReason int    `json:"statusReason,omitempty"`
}

// newMessageID returns an id in the uppercase-hex style WhatsApp Web uses.
func newMessageID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "3EB0" + strings.ToUpper(hex[:16])
}

// NewInboundTextEvent builds the messages.upsert payload for a customer
// sending text to the instance.
func NewInboundTextEvent(instance, phone, pushName, text string, now time.Time) (*WebhookEvent, error) {
	jid := types.JIDFromPhone(phone)
	if jid == "" {
		return nil, fmt.Errorf("invalid phone %q", phone)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text is required")
	}
	return &WebhookEvent{
		Event:    EventMessagesUpsert,
		Instance: instance,
		Data: MessageData{
			Key:              MessageKey{RemoteJID: jid, FromMe: false, ID: newMessageID()},
			PushName:         pushName,
			Message:          map[string]interface{}{"conversation": text},
			MessageType:      "conversation",
			MessageTimestamp: now.Unix(),
			Source:           "crmctl",
		},
		DateTime: now.UTC().Format("2006-01-02T15:04:05.000Z"),
		Sender:   jid,
	}, nil
}

// NewConnectionEvent builds a connection.update payload.
func NewConnectionEvent(instance, state string, now time.Time) *WebhookEvent {
	return &WebhookEvent{
		Event:    EventConnectionUpdate,
		Instance: instance,
		Data:     ConnectionData{Instance: instance, State: state},
		DateTime: now.UTC().Format("2006-01-02T15:04:05.000Z"),
	}
}

// WebhookSlug converts "messages.upsert" to "messages-upsert", the suffix
// Evolution appends when webhook-by-events is on.
func WebhookSlug(event string) string {
	s := strings.ToLower(strings.TrimSpace(event))
	return strings.NewReplacer(".", "-", "_", "-").Replace(s)
}

// WebhookResponse is whatever the route answered.
type WebhookResponse struct {
	Path       string `json:"path"`
	StatusCode int    `json:"status_code"`
	Body       string `json:"body,omitempty"`
}

// SimulateWebhook posts ev to the CRM webhook route as Evolution would.
func (c *Client) SimulateWebhook(ctx context.Context, ev *WebhookEvent, byEvents bool) (*WebhookResponse, error) {
	path := WebhookPath
	if byEvents {
		path += "/" + WebhookSlug(ev.Event)
	}
	if ev.ServerURL == "" {
		ev.ServerURL = "crmctl"
	}
	resp, err := c.http.Do(ctx, http.MethodPost, path, nil, ev)
	if err != nil {
		return nil, mapError(err, path)
	}
	return &WebhookResponse{Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(resp.Body))}, nil
}
