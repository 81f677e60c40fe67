package repair

import (
	"context"
	"fmt"
	"strings"

	"github.com/crmops/crmctl/internal/storage"
	"github.com/crmops/crmctl/internal/types"
)

// RenameField renames a top-level field on every document of collection.
// Documents that already carry the new field are left untouched and listed
// as conflicts.
func (r *Repairer) RenameField(ctx context.Context, collection, from, to string) (*Report, error) {
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if from == "" || to == "" || from == to {
		return nil, fmt.Errorf("rename needs two different field names")
	}
	if from == "id" || to == "id" {
		return nil, fmt.Errorf("the document id cannot be renamed")
	}
	if err := storage.CheckCollection(collection); err != nil {
		return nil, err
	}
	rep := r.report("rename-field")

	docs, err := r.Store.ListDocuments(ctx, collection, 0)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	for _, doc := range docs {
		rep.Scanned++
		if !doc.Has(from) {
			continue
		}
		if doc.Has(to) {
			rep.Conflicts = append(rep.Conflicts, fmt.Sprintf("%s/%s already has %s", collection, doc.ID, to))
			continue
		}
		value := doc.Data[from]
		r.write(rep, Change{Collection: collection, ID: doc.ID, Action: ActionRename, Field: from, To: to},
			func() error {
				return r.Store.UpdateDocument(ctx, collection, doc.ID, map[string]interface{}{to: value}, []string{from})
			})
	}
	return rep, nil
}

// Orphans deletes messages whose ticket no longer exists and interactions
// whose ticket or agent no longer exists.
func (r *Repairer) Orphans(ctx context.Context) (*Report, error) {
	rep := r.report("orphans")

	tickets, err := r.Store.ListTickets(ctx, types.TicketFilter{})
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	ticketIDs := make(map[string]bool, len(tickets))
	for _, t := range tickets {
		ticketIDs[t.ID] = true
	}
	agents, err := r.Store.ListAgents(ctx, types.AgentFilter{})
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	agentIDs := make(map[string]bool, len(agents))
	for _, a := range agents {
		agentIDs[a.ID] = true
	}

	msgs, err := r.Store.ListMessages(ctx, types.MessageFilter{})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	for _, m := range msgs {
		rep.Scanned++
		if ticketIDs[m.TicketID] {
			continue
		}
		r.write(rep, Change{Collection: types.CollectionMessages, ID: m.ID, Action: ActionDelete,
			Note: "ticket " + orNone(m.TicketID) + " missing"}, func() error {
			return r.Store.DeleteMessage(ctx, m.ID)
		})
	}

	inter, err := r.Store.ListInteractions(ctx, types.InteractionFilter{})
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	for _, i := range inter {
		rep.Scanned++
		var missing []string
		if !ticketIDs[i.TicketID] {
			missing = append(missing, "ticket "+orNone(i.TicketID))
		}
		if !agentIDs[i.AgentID] {
			missing = append(missing, "agent "+orNone(i.AgentID))
		}
		if len(missing) == 0 {
			continue
		}
		r.write(rep, Change{Collection: types.CollectionInteractions, ID: i.ID, Action: ActionDelete,
			Note: strings.Join(missing, " and ") + " missing"}, func() error {
			return r.Store.DeleteInteraction(ctx, i.ID)
		})
	}
	return rep, nil
}

func orNone(id string) string {
	if id == "" {
		return "(none)"
	}
	return id
}
