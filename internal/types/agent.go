package types

import (
	"fmt"
	"strings"
	"time"
)

// AgentType distinguishes human operators from AI responders.
type AgentType string

const (
	AgentHuman AgentType = "human"
	AgentAI    AgentType = "ai"
)

func (t AgentType) IsValid() bool {
	return t == AgentHuman || t == AgentAI
}

// AgentStatus is the presence of a human operator. AI agents are always
// considered online.
type AgentStatus string

const (
	AgentOnline  AgentStatus = "online"
	AgentAway    AgentStatus = "away"
	AgentOffline AgentStatus = "offline"
)

func (s AgentStatus) IsValid() bool {
	switch s {
	case AgentOnline, AgentAway, AgentOffline:
		return true
	}
	return false
}

// Agent is either a human operator or an AI responder configuration.
type Agent struct {
	ID                   string      `json:"id" firestore:"-"`
	Name                 string      `json:"name" firestore:"name"`
	Email                string      `json:"email,omitempty" firestore:"email,omitempty"`
	Type                 AgentType   `json:"type" firestore:"type"`
	Status               AgentStatus `json:"status,omitempty" firestore:"status,omitempty"`
	Active               bool        `json:"active" firestore:"active"`
	Departments          []string    `json:"departments,omitempty" firestore:"departments,omitempty"`
	Skills               []string    `json:"skills,omitempty" firestore:"skills,omitempty"`
	MaxConcurrentTickets int         `json:"maxConcurrentTickets,omitempty" firestore:"maxConcurrentTickets,omitempty"`
	EvoAgentID           string      `json:"evoAgentId,omitempty" firestore:"evoAgentId,omitempty"` // Evo AI agents.id
	AutoResponse         bool        `json:"autoResponse,omitempty" firestore:"autoResponse,omitempty"`
	CreatedAt            time.Time   `json:"createdAt" firestore:"createdAt"`
	UpdatedAt            time.Time   `json:"updatedAt" firestore:"updatedAt"`
}

// Available reports whether the agent can take new tickets right now.
func (a *Agent) Available() bool {
	if !a.Active {
		return false
	}
	if a.Type == AgentAI {
		return true
	}
	return a.Status == AgentOnline
}

// InDepartment matches case-insensitively; an agent with no departments
// belongs to none.
func (a *Agent) InDepartment(dept string) bool {
	for _, d := range a.Departments {
		if strings.EqualFold(d, dept) {
			return true
		}
	}
	return false
}

func (a *Agent) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("agent name is required")
	}
	if !a.Type.IsValid() {
		return fmt.Errorf("invalid agent type: %q", a.Type)
	}
	if a.Status != "" && !a.Status.IsValid() {
		return fmt.Errorf("invalid agent status: %q", a.Status)
	}
	if a.MaxConcurrentTickets < 0 {
		return fmt.Errorf("maxConcurrentTickets cannot be negative")
	}
	return nil
}

// AgentFilter narrows agent listings.
type AgentFilter struct {
	Type       AgentType
	ActiveOnly bool
}

func (f AgentFilter) Matches(a *Agent) bool {
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	if f.ActiveOnly && !a.Active {
		return false
	}
	return true
}

// InteractionKind classifies an agent_interactions record.
type InteractionKind string

const (
	InteractionAssigned InteractionKind = "assigned"
	InteractionResponse InteractionKind = "response"
	InteractionHandoff  InteractionKind = "handoff"
	InteractionError    InteractionKind = "error"
)

// AgentInteraction is an audit record of an agent touching a ticket.
type AgentInteraction struct {
	ID        string          `json:"id" firestore:"-"`
	AgentID   string          `json:"agentId" firestore:"agentId"`
	TicketID  string          `json:"ticketId" firestore:"ticketId"`
	Kind      InteractionKind `json:"kind" firestore:"kind"`
	Input     string          `json:"input,omitempty" firestore:"input,omitempty"`
	Output    string          `json:"output,omitempty" firestore:"output,omitempty"`
	LatencyMs int64           `json:"latencyMs,omitempty" firestore:"latencyMs,omitempty"`
	CreatedAt time.Time       `json:"createdAt" firestore:"createdAt"`
}

// InteractionFilter narrows interaction listings.
type InteractionFilter struct {
	AgentID  string
	TicketID string
	Limit    int
}

func (f InteractionFilter) Matches(i *AgentInteraction) bool {
	if f.AgentID != "" && i.AgentID != f.AgentID {
		return false
	}
	if f.TicketID != "" && i.TicketID != f.TicketID {
		return false
	}
	return true
}
