package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/crmops/crmctl/internal/types"
)

// HeaderAttempt carries the delivery attempt so the dispatcher can give up
// after its own retry budget.
const HeaderAttempt = "x-attempt"

// OutboundMessage is the payload the CRM's dispatcher consumes from the
// outbound queue and relays to the WhatsApp gateway.
type OutboundMessage struct {
	ID           string    `json:"id"`
	TicketID     string    `json:"ticketId"`
	InstanceName string    `json:"instanceName"`
	To           string    `json:"to"`
	Text         string    `json:"text,omitempty"`
	MediaURL     string    `json:"mediaUrl,omitempty"`
	Attempt      int       `json:"attempt"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Validate checks the fields the dispatcher requires and normalizes To to a
// digits-only number.
func (m *OutboundMessage) Validate() error {
	if m.TicketID == "" {
		return fmt.Errorf("ticketId is required")
	}
	if m.InstanceName == "" {
		return fmt.Errorf("instanceName is required")
	}
	to := types.NormalizePhone(m.To)
	if to == "" {
		return fmt.Errorf("invalid recipient %q", m.To)
	}
	if types.IsGroupJID(m.To) {
		to = strings.TrimSpace(m.To)
	}
	m.To = to
	if strings.TrimSpace(m.Text) == "" && m.MediaURL == "" {
		return fmt.Errorf("text or mediaUrl is required")
	}
	if m.Attempt < 0 {
		return fmt.Errorf("attempt cannot be negative")
	}
	return nil
}

// publishing fills in defaults and encodes m as a persistent JSON message.
func (m *OutboundMessage) publishing(now time.Time) (amqp.Publishing, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now.UTC()
	}
	if m.Attempt == 0 {
		m.Attempt = 1
	}
	body, err := json.Marshal(m)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode message: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    m.ID,
		Timestamp:    m.CreatedAt,
		Type:         "outbound.message",
		Headers:      amqp.Table{HeaderAttempt: int32(m.Attempt)},
		Body:         body,
	}, nil
}

// Peeked is a message read by Peek. Message is nil when the body is not an
// OutboundMessage.
type Peeked struct {
	MessageID   string           `json:"messageId,omitempty"`
	ContentType string           `json:"contentType,omitempty"`
	Timestamp   time.Time        `json:"timestamp,omitempty"`
	Redelivered bool             `json:"redelivered"`
	Attempt     int              `json:"attempt,omitempty"`
	Headers     map[string]any   `json:"headers,omitempty"`
	Message     *OutboundMessage `json:"message,omitempty"`
	Body        string           `json:"body,omitempty"`
}

func peeked(d amqp.Delivery) Peeked {
	p := Peeked{
		MessageID:   d.MessageId,
		ContentType: d.ContentType,
		Timestamp:   d.Timestamp,
		Redelivered: d.Redelivered,
		Attempt:     attemptHeader(d.Headers),
	}
	if len(d.Headers) > 0 {
		p.Headers = map[string]any(d.Headers)
	}
	var m OutboundMessage
	if err := json.Unmarshal(d.Body, &m); err == nil && m.TicketID != "" {
		p.Message = &m
	} else {
		p.Body = string(d.Body)
	}
	return p
}

// attemptHeader reads x-attempt, which publishers in other languages may
// have encoded with any integer width.
func attemptHeader(h amqp.Table) int {
	switch v := h[HeaderAttempt].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint8:
		return int(v)
	case uint16:
		return int(v)
	case uint32:
		return int(v)
	case string:
		var n int
		_, _ = fmt.Sscanf(v, "%d", &n)
		return n
	}
	return 0
}
