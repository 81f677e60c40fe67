package doctor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/crmops/crmctl/internal/evolution"
	"github.com/crmops/crmctl/internal/repair"
	"github.com/crmops/crmctl/internal/types"
)

func errorCheck(category, name string, err error, fix string) Check {
	return Check{Name: name, Category: category, Status: StatusError, Message: err.Error(), Fix: fix}
}

func (d *Doctor) checkStore(ctx context.Context) []Check {
	const name = "Firestore"
	if d.StoreErr != nil {
		return []Check{errorCheck(CategoryStore, name, d.StoreErr,
			"Check firebase.project-id and firebase.credentials-file (or GOOGLE_APPLICATION_CREDENTIALS)")}
	}
	if d.Store == nil {
		return []Check{skipped(CategoryStore, name, "Set firebase.project-id")}
	}

	tickets, err := d.Store.ListTickets(ctx, types.TicketFilter{})
	if err != nil {
		return []Check{errorCheck(CategoryStore, name, err, "Check Firestore permissions for the service account")}
	}
	var open, unassigned int
	for _, t := range tickets {
		if !t.Status.IsActive() {
			continue
		}
		open++
		if !t.IsAssigned() {
			unassigned++
		}
	}
	checks := []Check{{
		Name:     name,
		Category: CategoryStore,
		Status:   StatusOK,
		Message:  fmt.Sprintf("%d tickets", len(tickets)),
		Detail:   fmt.Sprintf("%d active", open),
	}}
	unassignedCheck := Check{Name: "Unassigned tickets", Category: CategoryStore, Status: StatusOK,
		Message: fmt.Sprintf("%d active tickets without an agent", unassigned)}
	if unassigned > 0 {
		unassignedCheck.Status = StatusWarning
		unassignedCheck.Fix = "Run 'crmctl tickets auto-assign --apply'"
	}
	return append(checks, unassignedCheck)
}

// checkIntegrity runs the orphan and agent-reference repairs in dry-run mode
// and reports how much they would change.
func (d *Doctor) checkIntegrity(ctx context.Context) []Check {
	if d.Store == nil {
		return []Check{skipped(CategoryData, "Data integrity", "Set firebase.project-id")}
	}
	r := &repair.Repairer{Store: d.Store}

	var checks []Check
	orphans, err := r.Orphans(ctx)
	if err != nil {
		checks = append(checks, errorCheck(CategoryData, "Orphaned records", err, ""))
	} else {
		c := Check{Name: "Orphaned records", Category: CategoryData, Status: StatusOK,
			Message: fmt.Sprintf("none in %d messages and interactions", orphans.Scanned)}
		if n := len(orphans.Changes); n > 0 {
			c.Status = StatusWarning
			c.Message = fmt.Sprintf("%d message(s)/interaction(s) reference missing records", n)
			c.Detail = summarize(orphans.Changes)
			c.Fix = "Run 'crmctl repair orphans --apply'"
		}
		checks = append(checks, c)
	}

	refs, err := r.TicketAgentRefs(ctx)
	if err != nil {
		checks = append(checks, errorCheck(CategoryData, "Ticket agent references", err, ""))
	} else {
		c := Check{Name: "Ticket agent references", Category: CategoryData, Status: StatusOK,
			Message: "all assigned tickets reference existing agents"}
		if n := len(refs.Changes); n > 0 {
			c.Status = StatusWarning
			c.Message = fmt.Sprintf("%d ticket(s) reference unknown agents", n)
			c.Detail = summarize(refs.Changes)
			c.Fix = "Run 'crmctl repair ticket-refs --apply'"
		}
		checks = append(checks, c)
	}

	docs, err := d.Store.ListAgents(ctx, types.AgentFilter{})
	if err != nil {
		checks = append(checks, errorCheck(CategoryData, "Agent IDs", err, ""))
	} else {
		var bad []string
		for _, a := range docs {
			if !types.IsValidUUID(a.ID) {
				bad = append(bad, a.ID)
			}
		}
		c := Check{Name: "Agent IDs", Category: CategoryData, Status: StatusOK,
			Message: fmt.Sprintf("%d agents, all with UUID ids", len(docs))}
		if len(bad) > 0 {
			c.Status = StatusWarning
			c.Message = fmt.Sprintf("%d agent(s) with non-UUID ids", len(bad))
			c.Detail = truncateList(bad)
			c.Fix = "Run 'crmctl repair agent-ids --apply'"
		}
		checks = append(checks, c)
	}
	return checks
}

func (d *Doctor) checkEvoAI(ctx context.Context) []Check {
	const name = "Evo AI database"
	if d.EvoAIErr != nil {
		return []Check{errorCheck(CategoryEvoAI, name, d.EvoAIErr, "Check evoai.database-url and that the agents table exists")}
	}
	if d.EvoAI == nil {
		return []Check{skipped(CategoryEvoAI, name, "Set evoai.database-url")}
	}
	st, err := d.EvoAI.Stats(ctx)
	if err != nil {
		return []Check{errorCheck(CategoryEvoAI, name, err, "")}
	}
	checks := []Check{{Name: name, Category: CategoryEvoAI, Status: StatusOK,
		Message: fmt.Sprintf("reachable, %d agents", st.Agents)}}

	ids := Check{Name: "Evo AI agent IDs", Category: CategoryEvoAI, Status: StatusOK, Message: "all agent ids are UUIDs"}
	if st.MalformedID > 0 {
		ids.Status = StatusWarning
		ids.Message = fmt.Sprintf("%d agent(s) with malformed ids", st.MalformedID)
		ids.Fix = "Run 'crmctl repair evoai-ids --apply'"
	}
	checks = append(checks, ids)

	if d.Store == nil {
		return checks
	}
	evoAgents, err := d.EvoAI.ListAgents(ctx)
	if err != nil {
		return append(checks, errorCheck(CategoryEvoAI, "CRM to Evo AI links", err, ""))
	}
	known := make(map[string]bool, len(evoAgents))
	for _, a := range evoAgents {
		known[a.ID] = true
	}
	crmAgents, err := d.Store.ListAgents(ctx, types.AgentFilter{Type: types.AgentAI})
	if err != nil {
		return append(checks, errorCheck(CategoryEvoAI, "CRM to Evo AI links", err, ""))
	}
	var dangling []string
	for _, a := range crmAgents {
		if a.EvoAgentID != "" && !known[a.EvoAgentID] {
			dangling = append(dangling, fmt.Sprintf("%s (%s)", a.Name, a.EvoAgentID))
		}
	}
	links := Check{Name: "CRM to Evo AI links", Category: CategoryEvoAI, Status: StatusOK,
		Message: fmt.Sprintf("%d AI agent(s) checked", len(crmAgents))}
	if len(dangling) > 0 {
		links.Status = StatusWarning
		links.Message = fmt.Sprintf("%d CRM agent(s) point at unknown Evo AI agents", len(dangling))
		links.Detail = truncateList(dangling)
		links.Fix = "Update evoAgentId on those agents, or run 'crmctl repair evoai-ids' if the Evo AI ids were malformed"
	}
	return append(checks, links)
}

// WebhookCheckName names the check --fix repairs.
const WebhookCheckName = "Webhook"

func (d *Doctor) checkEvolution(ctx context.Context) []Check {
	if d.Evolution == nil {
		return []Check{skipped(CategoryEvolution, "Evolution API", "Set evolution.url and evolution.api-key")}
	}
	if d.Instance == "" {
		return []Check{skipped(CategoryEvolution, "Instance", "Set evolution.instance")}
	}

	inst, err := d.Evolution.FindInstance(ctx, d.Instance)
	if err != nil {
		fix := "Check evolution.api-key"
		if errors.Is(err, evolution.ErrInstanceNotFound) {
			fix = "Create the instance in Evolution or fix evolution.instance"
		}
		return []Check{errorCheck(CategoryEvolution, "Instance", err, fix)}
	}
	checks := []Check{{Name: "Instance", Category: CategoryEvolution, Status: StatusOK,
		Message: fmt.Sprintf("%s exists", inst.Name), Detail: inst.OwnerJID}}

	state, err := d.Evolution.ConnectionState(ctx, d.Instance)
	conn := Check{Name: "Connection", Category: CategoryEvolution}
	switch {
	case err != nil:
		conn = errorCheck(CategoryEvolution, "Connection", err, "")
	case state == evolution.StateOpen:
		conn.Status, conn.Message = StatusOK, "open"
	default:
		conn.Status = StatusError
		conn.Message = "state " + orUnknown(state)
		conn.Fix = "Run 'crmctl evolution connect' and scan the QR code"
	}
	checks = append(checks, conn)

	wh, err := d.Evolution.FindWebhook(ctx, d.Instance)
	if err != nil {
		return append(checks, errorCheck(CategoryEvolution, WebhookCheckName, err, ""))
	}
	webhook := Check{Name: WebhookCheckName, Category: CategoryEvolution, Status: StatusOK,
		Message: "enabled, " + wh.URL}
	if diffs := evolution.Diff(*wh, d.Webhook); len(diffs) > 0 {
		webhook.Status = StatusError
		if wh.Enabled {
			webhook.Status = StatusWarning
		}
		webhook.Message = fmt.Sprintf("%d difference(s) from the expected configuration", len(diffs))
		webhook.Detail = strings.Join(diffs, "; ")
		webhook.Fix = "Run 'crmctl doctor --fix' or 'crmctl evolution webhook ensure'"
	}
	return append(checks, webhook)
}

func (d *Doctor) checkCRM(ctx context.Context) []Check {
	const name = "CRM API"
	if d.CRM == nil {
		return []Check{skipped(CategoryCRM, name, "Set crm.url")}
	}
	h, err := d.CRM.Health(ctx)
	if err != nil {
		return []Check{errorCheck(CategoryCRM, name, err, "Check that the CRM is running at crm.url and crm.api-key is valid")}
	}
	return []Check{{Name: name, Category: CategoryCRM, Status: StatusOK,
		Message: fmt.Sprintf("%s answered %d", h.Endpoint, h.StatusCode),
		Detail:  fmt.Sprintf("%dms", h.Latency.Milliseconds())}}
}

func (d *Doctor) checkQueue(ctx context.Context) []Check {
	const name = "Broker"
	if d.QueueErr != nil {
		return []Check{errorCheck(CategoryQueue, name, d.QueueErr, "Check rabbitmq.url")}
	}
	if d.Queue == nil || d.OutboundQueue == "" {
		return []Check{skipped(CategoryQueue, name, "Set rabbitmq.url")}
	}
	stats, err := d.Queue.Stats(ctx, d.OutboundQueue)
	if err != nil {
		return []Check{errorCheck(CategoryQueue, name, err, "")}
	}
	checks := []Check{{Name: name, Category: CategoryQueue, Status: StatusOK, Message: "reachable"}}
	if len(stats) == 0 {
		return checks
	}
	st := stats[0]
	q := Check{Name: "Outbound queue", Category: CategoryQueue}
	threshold := d.QueueDepth
	if threshold <= 0 {
		threshold = DefaultQueueDepthWarning
	}
	switch {
	case st.Error != "":
		q.Status, q.Message = StatusError, st.Error
	case !st.Exists:
		q.Status, q.Message = StatusError, st.Name+" does not exist"
		q.Fix = "Start the CRM dispatcher, which declares the queue"
	case st.Consumers == 0:
		q.Status = StatusWarning
		q.Message = fmt.Sprintf("%s has no consumers (%d waiting)", st.Name, st.Messages)
		q.Fix = "Start the CRM outbound dispatcher"
	case st.Messages >= threshold:
		q.Status = StatusWarning
		q.Message = fmt.Sprintf("%s backlog of %d messages", st.Name, st.Messages)
		q.Detail = fmt.Sprintf("%d consumer(s)", st.Consumers)
	default:
		q.Status = StatusOK
		q.Message = fmt.Sprintf("%s: %d waiting, %d consumer(s)", st.Name, st.Messages, st.Consumers)
	}
	return append(checks, q)
}

func summarize(changes []repair.Change) string {
	items := make([]string, 0, len(changes))
	for _, c := range changes {
		items = append(items, c.Collection+"/"+c.ID)
	}
	return truncateList(items)
}

func truncateList(items []string) string {
	const max = 5
	if len(items) <= max {
		return strings.Join(items, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(items[:max], ", "), len(items)-max)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
