package repair

import (
	"context"
	"fmt"
	"strings"

	"github.com/crmops/crmctl/internal/types"
)

// agentIndex resolves a stale agent reference to an existing agent.
type agentIndex struct {
	byID   map[string]*types.Agent
	byName map[string]*types.Agent // lowercased name; ambiguous names map to nil
	byEvo  map[string]*types.Agent
}

func newAgentIndex(agents []*types.Agent) *agentIndex {
	idx := &agentIndex{
		byID:   make(map[string]*types.Agent, len(agents)),
		byName: make(map[string]*types.Agent, len(agents)),
		byEvo:  make(map[string]*types.Agent),
	}
	for _, a := range agents {
		idx.byID[a.ID] = a
		name := strings.ToLower(strings.TrimSpace(a.Name))
		if name != "" {
			if _, dup := idx.byName[name]; dup {
				idx.byName[name] = nil
			} else {
				idx.byName[name] = a
			}
		}
		if a.EvoAgentID != "" {
			idx.byEvo[a.EvoAgentID] = a
		}
	}
	return idx
}

// resolve maps a dangling reference to an agent, returning how it matched.
func (idx *agentIndex) resolve(ref string) (*types.Agent, string) {
	if a := idx.byName[strings.ToLower(strings.TrimSpace(ref))]; a != nil {
		return a, "matched agent name"
	}
	if a := idx.byEvo[ref]; a != nil {
		return a, "matched evoAgentId"
	}
	return nil, ""
}

// TicketAgentRefs fixes tickets whose assignedAgentId does not name an
// existing agent. Such references are usually an agent name or an Evo AI
// agent id written by an older integration; they are rewritten to the
// matching agent's document ID. References that match nothing are cleared
// and the ticket goes back to open.
func (r *Repairer) TicketAgentRefs(ctx context.Context) (*Report, error) {
	rep := r.report("ticket-agent-refs")

	agents, err := r.Store.ListAgents(ctx, types.AgentFilter{})
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	idx := newAgentIndex(agents)

	tickets, err := r.Store.ListTickets(ctx, types.TicketFilter{})
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	now := r.now()
	for _, t := range tickets {
		rep.Scanned++
		if !t.IsAssigned() {
			continue
		}
		if _, ok := idx.byID[t.AssignedAgentID]; ok {
			continue
		}

		if a, how := idx.resolve(t.AssignedAgentID); a != nil {
			c := Change{Collection: types.CollectionTickets, ID: t.ID, Action: ActionReassign,
				Field: "assignedAgentId", From: t.AssignedAgentID, To: a.ID, Note: how}
			r.write(rep, c, func() error {
				return r.Store.UpdateTicket(ctx, t.ID, map[string]interface{}{
					"assignedAgentId":   a.ID,
					"assignedAgentType": string(a.Type),
					"updatedAt":         now,
				})
			})
			continue
		}

		note := "agent not found"
		if !types.IsValidUUID(t.AssignedAgentID) {
			note = "not a uuid and matches no agent"
		}
		c := Change{Collection: types.CollectionTickets, ID: t.ID, Action: ActionUnassign,
			Field: "assignedAgentId", From: t.AssignedAgentID, Note: note}
		r.write(rep, c, func() error {
			set := map[string]interface{}{"updatedAt": now}
			if t.Status == types.TicketInProgress {
				set["status"] = string(types.TicketOpen)
			}
			return r.Store.UpdateDocument(ctx, types.CollectionTickets, t.ID, set,
				[]string{"assignedAgentId", "assignedAgentType"})
		})
	}
	return rep, nil
}

// AgentIDs moves agents whose document ID is not a UUID to a fresh UUID
// document, rewrites the tickets and interactions that reference the old ID,
// then deletes the old document. The new document is written first so a
// failure part way leaves a duplicate agent, never a missing one.
func (r *Repairer) AgentIDs(ctx context.Context) (*Report, error) {
	rep := r.report("agent-ids")

	docs, err := r.Store.ListDocuments(ctx, types.CollectionAgents, 0)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	for _, doc := range docs {
		rep.Scanned++
		if types.IsValidUUID(doc.ID) {
			continue
		}
		oldID, newID := doc.ID, r.newID()

		moved := r.write(rep, Change{Collection: types.CollectionAgents, ID: oldID, Action: ActionMove,
			From: oldID, To: newID}, func() error {
			return r.Store.CreateDocument(ctx, types.CollectionAgents, newID, doc.Data)
		})
		if !moved {
			continue
		}

		tickets, err := r.Store.ListTickets(ctx, types.TicketFilter{AssignedAgentID: oldID})
		if err != nil {
			return rep, fmt.Errorf("list tickets of agent %s: %w", oldID, err)
		}
		for _, t := range tickets {
			r.write(rep, Change{Collection: types.CollectionTickets, ID: t.ID, Action: ActionUpdate,
				Field: "assignedAgentId", From: oldID, To: newID}, func() error {
				return r.Store.UpdateTicket(ctx, t.ID, map[string]interface{}{"assignedAgentId": newID})
			})
		}

		inter, err := r.Store.ListInteractions(ctx, types.InteractionFilter{AgentID: oldID})
		if err != nil {
			return rep, fmt.Errorf("list interactions of agent %s: %w", oldID, err)
		}
		for _, i := range inter {
			r.write(rep, Change{Collection: types.CollectionInteractions, ID: i.ID, Action: ActionUpdate,
				Field: "agentId", From: oldID, To: newID}, func() error {
				return r.Store.UpdateInteraction(ctx, i.ID, map[string]interface{}{"agentId": newID})
			})
		}

		r.write(rep, Change{Collection: types.CollectionAgents, ID: oldID, Action: ActionDelete,
			Note: "replaced by " + newID}, func() error {
			return r.Store.DeleteAgent(ctx, oldID)
		})
	}
	return rep, nil
}

// EvoAIAgentIDs gives Evo AI agents with malformed primary keys a fresh UUID
// and updates the CRM agents whose evoAgentId pointed at the old key.
func (r *Repairer) EvoAIAgentIDs(ctx context.Context) (*Report, error) {
	if r.EvoAI == nil {
		return nil, fmt.Errorf("evo ai database is not configured")
	}
	rep := r.report("evoai-agent-ids")

	bad, err := r.EvoAI.FindMalformedIDs(ctx)
	if err != nil {
		return nil, err
	}
	all, err := r.EvoAI.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	rep.Scanned = len(all)
	if len(bad) == 0 {
		return rep, nil
	}

	crmAgents, err := r.Store.ListAgents(ctx, types.AgentFilter{})
	if err != nil {
		return nil, fmt.Errorf("list crm agents: %w", err)
	}
	now := r.now()

	for _, m := range bad {
		newID := r.newID()
		note := m.Name
		replaced := r.write(rep, Change{Collection: "evoai.agents", ID: m.ID, Action: ActionMove,
			From: m.ID, To: newID, Note: note}, func() error {
			n, err := r.EvoAI.ReplaceAgentID(ctx, m.ID, newID)
			if err == nil && n > 0 {
				rep.Changes[len(rep.Changes)-1].Note = fmt.Sprintf("%s; %d config reference(s) rewritten", note, n)
			}
			return err
		})
		if !replaced {
			continue
		}
		for _, a := range crmAgents {
			if a.EvoAgentID != m.ID {
				continue
			}
			r.write(rep, Change{Collection: types.CollectionAgents, ID: a.ID, Action: ActionUpdate,
				Field: "evoAgentId", From: m.ID, To: newID}, func() error {
				return r.Store.UpdateAgent(ctx, a.ID, map[string]interface{}{"evoAgentId": newID, "updatedAt": now})
			})
		}
	}
	return rep, nil
}
