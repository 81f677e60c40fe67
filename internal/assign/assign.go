// Package assign plans and applies automatic ticket-to-agent assignment.
//
// Planning is pure: given tickets, agents and current loads it produces an
// ordered list of assignments. Only Apply writes to the store, so a plan can
// be printed as a dry run first.
package assign

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/crmops/crmctl/internal/debug"
	"github.com/crmops/crmctl/internal/storage"
	"github.com/crmops/crmctl/internal/types"
)

// Strategy selects which eligible agent gets the next ticket.
type Strategy string

const (
	// StrategyLeastLoaded picks the agent with the fewest open tickets.
	StrategyLeastLoaded Strategy = "least-loaded"
	// StrategyRoundRobin rotates through eligible agents by ID.
	StrategyRoundRobin Strategy = "round-robin"
)

// ParseStrategy accepts the strategy names and a few common spellings.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "least-loaded", "least_loaded", "leastloaded":
		return StrategyLeastLoaded, nil
	case "round-robin", "round_robin", "roundrobin", "rr":
		return StrategyRoundRobin, nil
	}
	return "", fmt.Errorf("unknown assignment strategy %q (valid: least-loaded, round-robin)", s)
}

// Assignment is one planned ticket assignment.
type Assignment struct {
	TicketID       string             `json:"ticket_id"`
	AgentID        string             `json:"agent_id"`
	AgentName      string             `json:"agent_name,omitempty"`
	AgentType      types.AgentType    `json:"agent_type"`
	PreviousStatus types.TicketStatus `json:"previous_status"`
	Reason         string             `json:"reason"`
}

// Skip is a ticket the planner left alone.
type Skip struct {
	TicketID string `json:"ticket_id"`
	Reason   string `json:"reason"`
}

// Plan is the outcome of Planner.Plan.
type Plan struct {
	Strategy    Strategy     `json:"strategy"`
	Assignments []Assignment `json:"assignments"`
	Skipped     []Skip       `json:"skipped,omitempty"`
	// Cursor is the round-robin position after the last assignment.
	Cursor string `json:"cursor,omitempty"`
}

// Planner holds the assignment policy.
type Planner struct {
	Strategy Strategy
	// MaxOpenPerAgent caps human agents that do not set their own
	// MaxConcurrentTickets. Zero means unlimited.
	MaxOpenPerAgent int
	// Cursor persists the round-robin position. A nil Cursor starts every
	// run from the first agent.
	Cursor CursorStore
}

// OpenCounts counts active tickets per assigned agent.
func OpenCounts(tickets []*types.Ticket) map[string]int {
	counts := make(map[string]int)
	for _, t := range tickets {
		if t.IsAssigned() && t.Status.IsActive() {
			counts[t.AssignedAgentID]++
		}
	}
	return counts
}

func (p *Planner) capacity(a *types.Agent) int {
	if a.Type == types.AgentAI {
		return 0
	}
	if a.MaxConcurrentTickets > 0 {
		return a.MaxConcurrentTickets
	}
	return p.MaxOpenPerAgent
}

// Plan assigns every unassigned active ticket to an eligible agent, oldest
// ticket first. loads holds current open-ticket counts per agent ID and is
// not modified.
func (p *Planner) Plan(ctx context.Context, tickets []*types.Ticket, agents []*types.Agent, loads map[string]int) (*Plan, error) {
	strategy := p.Strategy
	if strategy == "" {
		strategy = StrategyLeastLoaded
	}
	plan := &Plan{Strategy: strategy, Assignments: []Assignment{}}

	load := make(map[string]int, len(loads))
	for id, n := range loads {
		load[id] = n
	}

	pool := make([]*types.Agent, 0, len(agents))
	for _, a := range agents {
		if a.Available() {
			pool = append(pool, a)
		}
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i].ID < pool[j].ID })

	if strategy == StrategyRoundRobin && p.Cursor != nil {
		cur, err := p.Cursor.Get(ctx, CursorKey)
		if err != nil {
			return nil, fmt.Errorf("read round-robin cursor: %w", err)
		}
		plan.Cursor = cur
	}

	queue := make([]*types.Ticket, 0, len(tickets))
	for _, t := range tickets {
		switch {
		case t.IsAssigned():
			plan.Skipped = append(plan.Skipped, Skip{TicketID: t.ID, Reason: "already assigned to " + t.AssignedAgentID})
		case !t.Status.IsActive():
			plan.Skipped = append(plan.Skipped, Skip{TicketID: t.ID, Reason: "status " + string(t.Status)})
		default:
			queue = append(queue, t)
		}
	}
	sort.SliceStable(queue, func(i, j int) bool {
		if !queue[i].CreatedAt.Equal(queue[j].CreatedAt) {
			return queue[i].CreatedAt.Before(queue[j].CreatedAt)
		}
		return queue[i].ID < queue[j].ID
	})

	for _, t := range queue {
		var eligible []*types.Agent
		for _, a := range pool {
			if c := p.capacity(a); c > 0 && load[a.ID] >= c {
				continue
			}
			eligible = append(eligible, a)
		}
		if len(eligible) == 0 {
			reason := "no available agent"
			if len(pool) > 0 {
				reason = "all available agents at capacity"
			}
			plan.Skipped = append(plan.Skipped, Skip{TicketID: t.ID, Reason: reason})
			continue
		}

		candidates, why := eligible, ""
		if t.Department != "" {
			var inDept []*types.Agent
			for _, a := range eligible {
				if a.InDepartment(t.Department) {
					inDept = append(inDept, a)
				}
			}
			if len(inDept) > 0 {
				candidates, why = inDept, "department "+t.Department
			} else {
				why = "no agent in department " + t.Department + ", fell back to any"
			}
		}

		var chosen *types.Agent
		switch strategy {
		case StrategyRoundRobin:
			chosen = nextAfter(candidates, plan.Cursor)
			plan.Cursor = chosen.ID
		default:
			chosen = leastLoaded(candidates, load)
		}

		reason := fmt.Sprintf("%s (load %d)", strategy, load[chosen.ID])
		if why != "" {
			reason += "; " + why
		}
		load[chosen.ID]++
		plan.Assignments = append(plan.Assignments, Assignment{
			TicketID:       t.ID,
			AgentID:        chosen.ID,
			AgentName:      chosen.Name,
			AgentType:      chosen.Type,
			PreviousStatus: t.Status,
			Reason:         reason,
		})
	}
	return plan, nil
}

// leastLoaded returns the candidate with the lowest load; candidates are
// sorted by ID so ties go to the lowest ID.
func leastLoaded(candidates []*types.Agent, load map[string]int) *types.Agent {
	best := candidates[0]
	for _, a := range candidates[1:] {
		if load[a.ID] < load[best.ID] {
			best = a
		}
	}
	return best
}

// nextAfter returns the first candidate whose ID sorts after cursor,
// wrapping to the first candidate.
func nextAfter(candidates []*types.Agent, cursor string) *types.Agent {
	for _, a := range candidates {
		if a.ID > cursor {
			return a
		}
	}
	return candidates[0]
}

// Result reports what Apply wrote.
type Result struct {
	Applied int      `json:"applied"`
	Failed  []string `json:"failed,omitempty"`
}

// Apply writes the plan: each ticket gets its agent (and moves from open to
// in_progress) and an "assigned" interaction is recorded. A failed ticket is
// reported and the rest continue. The round-robin cursor is saved last.
func (p *Planner) Apply(ctx context.Context, store storage.Store, plan *Plan, now time.Time) (*Result, error) {
	res := &Result{}
	log := debug.Logger()
	for _, a := range plan.Assignments {
		updates := map[string]interface{}{
			"assignedAgentId":   a.AgentID,
			"assignedAgentType": string(a.AgentType),
			"updatedAt":         now,
		}
		if a.PreviousStatus == types.TicketOpen {
			updates["status"] = string(types.TicketInProgress)
		}
		if err := store.UpdateTicket(ctx, a.TicketID, updates); err != nil {
			log.Warn("assign failed", zap.String("ticket_id", a.TicketID), zap.Error(err))
			res.Failed = append(res.Failed, fmt.Sprintf("%s: %v", a.TicketID, err))
			continue
		}
		if err := store.CreateInteraction(ctx, &types.AgentInteraction{
			AgentID:   a.AgentID,
			TicketID:  a.TicketID,
			Kind:      types.InteractionAssigned,
			Output:    a.Reason,
			CreatedAt: now,
		}); err != nil {
			res.Failed = append(res.Failed, fmt.Sprintf("%s: interaction: %v", a.TicketID, err))
		}
		res.Applied++
	}
	if plan.Strategy == StrategyRoundRobin && p.Cursor != nil && plan.Cursor != "" && res.Applied > 0 {
		if err := p.Cursor.Set(ctx, CursorKey, plan.Cursor); err != nil {
			return res, fmt.Errorf("save round-robin cursor: %w", err)
		}
	}
	return res, nil
}
