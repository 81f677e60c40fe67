// Package types defines mirror types for the CRM documents crmctl reads and repairs.
//
// The CRM owns these schemas; nothing here is authoritative. Field names follow
// the camelCase keys written by the web application, and every field carries the
// same name in its json and firestore tags so the in-memory and Firestore stores
// see identical documents.
package types

import (
	"fmt"
	"strings"
	"time"
)

// Collection names in the CRM document store.
const (
	CollectionTickets      = "tickets"
	CollectionMessages     = "messages"
	CollectionAgents       = "agents"
	CollectionInteractions = "agent_interactions"
)

// Collections lists every collection crmctl knows about.
var Collections = []string{
	CollectionTickets,
	CollectionMessages,
	CollectionAgents,
	CollectionInteractions,
}

// IsKnownCollection reports whether name is one of Collections.
func IsKnownCollection(name string) bool {
	for _, c := range Collections {
		if c == name {
			return true
		}
	}
	return false
}

// TicketStatus is the lifecycle state of a conversation thread.
type TicketStatus string

const (
	TicketOpen       TicketStatus = "open"
	TicketPending    TicketStatus = "pending"
	TicketInProgress TicketStatus = "in_progress"
	TicketResolved   TicketStatus = "resolved"
	TicketClosed     TicketStatus = "closed"
)

// IsValid checks if the status value is one the CRM writes.
func (s TicketStatus) IsValid() bool {
	switch s {
	case TicketOpen, TicketPending, TicketInProgress, TicketResolved, TicketClosed:
		return true
	}
	return false
}

// IsActive is true while the conversation still needs an agent.
func (s TicketStatus) IsActive() bool {
	return s == TicketOpen || s == TicketPending || s == TicketInProgress
}

// Ticket is one customer conversation thread.
type Ticket struct {
	ID                string       `json:"id" firestore:"-"`
	ContactName       string       `json:"contactName,omitempty" firestore:"contactName,omitempty"`
	ContactPhone      string       `json:"contactPhone,omitempty" firestore:"contactPhone,omitempty"`
	RemoteJID         string       `json:"remoteJid,omitempty" firestore:"remoteJid,omitempty"`
	InstanceName      string       `json:"instanceName,omitempty" firestore:"instanceName,omitempty"`
	Channel           string       `json:"channel,omitempty" firestore:"channel,omitempty"`
	Status            TicketStatus `json:"status" firestore:"status"`
	Priority          string       `json:"priority,omitempty" firestore:"priority,omitempty"`
	Department        string       `json:"department,omitempty" firestore:"department,omitempty"`
	Tags              []string     `json:"tags,omitempty" firestore:"tags,omitempty"`
	AssignedAgentID   string       `json:"assignedAgentId,omitempty" firestore:"assignedAgentId,omitempty"`
	AssignedAgentType AgentType    `json:"assignedAgentType,omitempty" firestore:"assignedAgentType,omitempty"`
	UnreadCount       int          `json:"unreadCount,omitempty" firestore:"unreadCount,omitempty"`
	LastMessage       string       `json:"lastMessage,omitempty" firestore:"lastMessage,omitempty"`
	LastMessageAt     *time.Time   `json:"lastMessageAt,omitempty" firestore:"lastMessageAt,omitempty"`
	CreatedAt         time.Time    `json:"createdAt" firestore:"createdAt"`
	UpdatedAt         time.Time    `json:"updatedAt" firestore:"updatedAt"`
}

// IsAssigned reports whether the ticket references an agent at all.
func (t *Ticket) IsAssigned() bool {
	return strings.TrimSpace(t.AssignedAgentID) != ""
}

// HasTag reports whether tag is present on the ticket.
func (t *Ticket) HasTag(tag string) bool {
	for _, existing := range t.Tags {
		if existing == tag {
			return true
		}
	}
	return false
}

// Validate checks the fields crmctl writes when creating tickets.
func (t *Ticket) Validate() error {
	if t.ContactPhone == "" && t.RemoteJID == "" {
		return fmt.Errorf("ticket needs contactPhone or remoteJid")
	}
	if !t.Status.IsValid() {
		return fmt.Errorf("invalid ticket status: %q", t.Status)
	}
	if t.AssignedAgentType != "" && !t.AssignedAgentType.IsValid() {
		return fmt.Errorf("invalid assignedAgentType: %q", t.AssignedAgentType)
	}
	return nil
}

// MessageSender identifies who authored a message.
type MessageSender string

const (
	SenderCustomer MessageSender = "customer"
	SenderAgent    MessageSender = "agent"
	SenderAI       MessageSender = "ai"
	SenderSystem   MessageSender = "system"
)

func (s MessageSender) IsValid() bool {
	switch s {
	case SenderCustomer, SenderAgent, SenderAI, SenderSystem:
		return true
	}
	return false
}

// MessageStatus tracks delivery through the WhatsApp gateway.
type MessageStatus string

const (
	MessagePending   MessageStatus = "pending"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
	MessageFailed    MessageStatus = "failed"
)

func (s MessageStatus) IsValid() bool {
	switch s {
	case MessagePending, MessageSent, MessageDelivered, MessageRead, MessageFailed:
		return true
	}
	return false
}

// Message is a single entry in a ticket's conversation.
type Message struct {
	ID           string        `json:"id" firestore:"-"`
	TicketID     string        `json:"ticketId" firestore:"ticketId"`
	Content      string        `json:"content" firestore:"content"`
	Type         string        `json:"type,omitempty" firestore:"type,omitempty"` // text, image, audio, document
	Sender       MessageSender `json:"sender" firestore:"sender"`
	FromMe       bool          `json:"fromMe" firestore:"fromMe"`
	Status       MessageStatus `json:"status,omitempty" firestore:"status,omitempty"`
	ExternalID   string        `json:"externalId,omitempty" firestore:"externalId,omitempty"` // Evolution message key id
	InstanceName string        `json:"instanceName,omitempty" firestore:"instanceName,omitempty"`
	Timestamp    time.Time     `json:"timestamp" firestore:"timestamp"`
}

func (m *Message) Validate() error {
	if m.TicketID == "" {
		return fmt.Errorf("message ticketId is required")
	}
	if !m.Sender.IsValid() {
		return fmt.Errorf("invalid message sender: %q", m.Sender)
	}
	if m.Status != "" && !m.Status.IsValid() {
		return fmt.Errorf("invalid message status: %q", m.Status)
	}
	return nil
}

// TicketFilter narrows ticket listings. Zero values mean "no constraint".
type TicketFilter struct {
	Status          TicketStatus
	AssignedAgentID string
	Unassigned      bool
	Tag             string
	Since           time.Time // createdAt >= Since
	Limit           int
}

// Matches applies the filter to a single ticket. Stores that cannot express a
// constraint server-side use this to finish the job.
func (f TicketFilter) Matches(t *Ticket) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.AssignedAgentID != "" && t.AssignedAgentID != f.AssignedAgentID {
		return false
	}
	if f.Unassigned && t.IsAssigned() {
		return false
	}
	if f.Tag != "" && !t.HasTag(f.Tag) {
		return false
	}
	if !f.Since.IsZero() && t.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

// MessageFilter narrows message listings.
type MessageFilter struct {
	TicketID string
	Since    time.Time
	Limit    int
}

func (f MessageFilter) Matches(m *Message) bool {
	if f.TicketID != "" && m.TicketID != f.TicketID {
		return false
	}
	if !f.Since.IsZero() && m.Timestamp.Before(f.Since) {
		return false
	}
	return true
}
