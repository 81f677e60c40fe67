package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/crmops/crmctl/internal/assign"
	"github.com/crmops/crmctl/internal/config"
	"github.com/crmops/crmctl/internal/debug"
	"github.com/crmops/crmctl/internal/timeparsing"
	"github.com/crmops/crmctl/internal/types"
	"github.com/crmops/crmctl/internal/ui"
)

const (
	sourceStore = "store"
	sourceAPI   = "api"
)

var (
	ticketsStatus     string
	ticketsSince      string
	ticketsUnassigned bool
	ticketsAgent      string
	ticketsTag        string
	ticketsLimit      int
	ticketsSort       string
	ticketsSource     string

	ticketShowMessages int

	autoAssignStrategy string
	autoAssignMaxOpen  int
	autoAssignApply    bool
)

// now is replaced in tests.
var now = time.Now

var ticketsCmd = &cobra.Command{
	Use:     "tickets",
	GroupID: "data",
	Short:   "List, inspect and assign tickets",
}

var ticketsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tickets",
	Long: `List tickets from Firestore (default) or through the CRM API.

Examples:
  crmctl tickets list --status open --unassigned
  crmctl tickets list --since 2d --sort priority,last-message
  crmctl tickets list --agent 0b6b7d7e-... --source api`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		filter := ticketFilterFromFlags()
		tickets := listTickets(filter)
		if ticketsSort != "" {
			types.SortTickets(tickets, types.ParseTicketSortOrder(ticketsSort))
		}
		if jsonOutput {
			outputJSON(tickets)
			return
		}
		if len(tickets) == 0 {
			fmt.Println("No tickets found.")
			return
		}
		printTickets(tickets)
	},
}

func ticketFilterFromFlags() types.TicketFilter {
	filter := types.TicketFilter{
		AssignedAgentID: ticketsAgent,
		Unassigned:      ticketsUnassigned,
		Tag:             ticketsTag,
		Limit:           ticketsLimit,
	}
	if ticketsStatus != "" {
		filter.Status = types.TicketStatus(strings.ToLower(ticketsStatus))
		if !filter.Status.IsValid() {
			FatalErrorWithHint(fmt.Sprintf("invalid status %q", ticketsStatus), "Use open, pending, in_progress, resolved or closed")
		}
	}
	if ticketsSince != "" {
		since, err := timeparsing.ParseSince(ticketsSince, now())
		if err != nil {
			FatalError("%v", err)
		}
		filter.Since = since
	}
	return filter
}

func listTickets(filter types.TicketFilter) []*types.Ticket {
	ctx := getRootContext()
	checkSource()
	if ticketsSource == sourceAPI {
		tickets, err := newCRMClient().ListTickets(ctx, filter)
		if err != nil {
			FatalError("listing tickets via CRM API: %w", err)
		}
		return tickets
	}
	tickets, err := getStore(ctx).ListTickets(ctx, filter)
	if err != nil {
		FatalError("listing tickets: %w", err)
	}
	return tickets
}

func printTickets(tickets []*types.Ticket) {
	t := now()
	w := newTable("ID", "STATUS", "CONTACT", "AGENT", "DEPT", "LAST MESSAGE", "UPDATED")
	for _, tk := range tickets {
		contact := tk.ContactName
		if contact == "" {
			contact = tk.ContactPhone
		}
		agent := "-"
		if tk.IsAssigned() {
			agent = ui.Truncate(tk.AssignedAgentID, 12)
			if tk.AssignedAgentType == types.AgentAI {
				agent += " " + ui.RenderAgentType(types.AgentAI)
			}
		}
		writeRow(w,
			tk.ID,
			ui.RenderTicketStatus(tk.Status),
			ui.Truncate(orDash(contact), 24),
			agent,
			orDash(tk.Department),
			ui.OneLine(orDash(tk.LastMessage), 40),
			ui.Ago(tk.UpdatedAt, t),
		)
	}
	_ = w.Flush()
	if !debug.IsQuiet() {
		fmt.Printf("\n%d ticket(s)\n", len(tickets))
	}
}

var ticketsShowCmd = &cobra.Command{
	Use:   "show <ticket-id>",
	Short: "Show a ticket with its latest messages",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := getRootContext()
		checkSource()
		var (
			ticket   *types.Ticket
			messages []*types.Message
			err      error
		)
		if ticketsSource == sourceAPI {
			client := newCRMClient()
			if ticket, err = client.GetTicket(ctx, args[0]); err == nil {
				messages, err = client.ListMessages(ctx, args[0])
			}
		} else {
			store := getStore(ctx)
			if ticket, err = store.GetTicket(ctx, args[0]); err == nil {
				messages, err = store.ListMessages(ctx, types.MessageFilter{TicketID: args[0]})
			}
		}
		if err != nil {
			FatalError("%w", err)
			return
		}
		if ticketShowMessages > 0 && len(messages) > ticketShowMessages {
			messages = messages[len(messages)-ticketShowMessages:]
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{"ticket": ticket, "messages": messages})
			return
		}
		_ = ui.ToPager(formatTicket(ticket, messages), ui.PagerOptions{})
	},
}

func formatTicket(t *types.Ticket, messages []*types.Message) string {
	var b strings.Builder
	field := func(name, value string) {
		if value != "" {
			fmt.Fprintf(&b, "  %-12s %s\n", name+":", value)
		}
	}
	fmt.Fprintf(&b, "%s %s\n", ui.RenderBold("Ticket "+t.ID), ui.RenderTicketStatus(t.Status))
	field("Contact", strings.TrimSpace(t.ContactName+" "+t.ContactPhone))
	field("JID", t.RemoteJID)
	field("Instance", t.InstanceName)
	field("Channel", t.Channel)
	field("Priority", t.Priority)
	field("Department", t.Department)
	field("Tags", strings.Join(t.Tags, ", "))
	if t.IsAssigned() {
		field("Agent", fmt.Sprintf("%s (%s)", t.AssignedAgentID, orDash(string(t.AssignedAgentType))))
	}
	if !t.CreatedAt.IsZero() {
		field("Created", t.CreatedAt.Local().Format(time.DateTime))
	}
	if !t.UpdatedAt.IsZero() {
		field("Updated", t.UpdatedAt.Local().Format(time.DateTime))
	}

	fmt.Fprintf(&b, "\n%s\n", ui.RenderCategory(fmt.Sprintf("Messages (%d)", len(messages))))
	for _, m := range messages {
		who := string(m.Sender)
		if m.Sender == types.SenderAI {
			who = ui.RenderAgentType(types.AgentAI)
		}
		stamp := "--:--"
		if !m.Timestamp.IsZero() {
			stamp = m.Timestamp.Local().Format("01-02 15:04")
		}
		fmt.Fprintf(&b, "  %s %-8s %s\n", ui.RenderMuted(stamp), who, strings.ReplaceAll(m.Content, "\n", "\n"+strings.Repeat(" ", 23))+statusSuffix(m))
	}
	return b.String()
}

func statusSuffix(m *types.Message) string {
	if m.Status == types.MessageFailed {
		return " " + ui.RenderFail("(failed)")
	}
	return ""
}

var ticketsAssignCmd = &cobra.Command{
	Use:   "assign <ticket-id> <agent-id>",
	Short: "Assign a ticket to an agent",
	Long: `Assign a ticket to an agent. With --source store the ticket document is
updated directly and an "assigned" interaction is recorded; with --source api
the CRM performs the assignment.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := getRootContext()
		checkSource()
		ticketID, agentID := args[0], args[1]

		if ticketsSource == sourceAPI {
			t, err := newCRMClient().AssignTicket(ctx, ticketID, agentID, "")
			if err != nil {
				FatalError("assigning via CRM API: %w", err)
				return
			}
			if jsonOutput {
				outputJSON(t)
				return
			}
			printSuccess("Assigned %s to %s", ticketID, agentID)
			return
		}

		store := getStore(ctx)
		ticket, err := store.GetTicket(ctx, ticketID)
		if err != nil {
			FatalError("%w", err)
			return
		}
		agent, err := store.GetAgent(ctx, agentID)
		if err != nil {
			FatalError("%w", err)
			return
		}
		if !agent.Active {
			WarnError("agent %s is inactive", agent.Name)
		}
		plan := &assign.Plan{Assignments: []assign.Assignment{{
			TicketID:       ticket.ID,
			AgentID:        agent.ID,
			AgentName:      agent.Name,
			AgentType:      agent.Type,
			PreviousStatus: ticket.Status,
			Reason:         "manual assignment",
		}}}
		res, err := (&assign.Planner{}).Apply(ctx, store, plan, now().UTC())
		if err != nil {
			FatalError("%w", err)
			return
		}
		if len(res.Failed) > 0 {
			FatalError("%s", strings.Join(res.Failed, "; "))
			return
		}
		if jsonOutput {
			outputJSON(plan.Assignments[0])
			return
		}
		printSuccess("Assigned %s to %s (%s)", ticket.ID, agent.Name, agent.Type)
	},
}

var ticketsAutoAssignCmd = &cobra.Command{
	Use:   "auto-assign",
	Short: "Assign unassigned active tickets to available agents",
	Long: `Plan assignments for every active ticket without an agent, oldest first.

Strategies:
  least-loaded  agent with the fewest open tickets (ties by agent ID)
  round-robin   rotate through agents; the position persists in Redis when redis.url is set

Human agents are capped at their maxConcurrentTickets (or --max-open); AI agents
take any number. A ticket with a department goes to an agent of that department
when one is available.

Without --apply only the plan is printed.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := getRootContext()
		name := autoAssignStrategy
		if name == "" {
			name = config.GetString(config.KeyAssignStrategy)
		}
		strategy, err := assign.ParseStrategy(name)
		if err != nil {
			FatalError("%v", err)
			return
		}
		maxOpen := autoAssignMaxOpen
		if !cmd.Flags().Changed("max-open") {
			maxOpen = config.GetInt(config.KeyAssignMaxPerOpen)
		}

		store := getStore(ctx)
		tickets, err := store.ListTickets(ctx, types.TicketFilter{})
		if err != nil {
			FatalError("listing tickets: %w", err)
			return
		}
		agents, err := store.ListAgents(ctx, types.AgentFilter{ActiveOnly: true})
		if err != nil {
			FatalError("listing agents: %w", err)
			return
		}

		planner := &assign.Planner{Strategy: strategy, MaxOpenPerAgent: maxOpen}
		if strategy == assign.StrategyRoundRobin {
			cursor, err := openCursorFn()
			if err != nil {
				FatalErrorWithHint(err.Error(), "Check redis.url or unset it to use an in-memory cursor")
				return
			}
			planner.Cursor = cursor
		}
		plan, err := planner.Plan(ctx, tickets, agents, assign.OpenCounts(tickets))
		if err != nil {
			FatalError("planning: %w", err)
			return
		}

		var result *assign.Result
		if autoAssignApply && len(plan.Assignments) > 0 {
			if confirmApply(fmt.Sprintf("Assign %d ticket(s)?", len(plan.Assignments))) {
				if result, err = planner.Apply(ctx, store, plan, now().UTC()); err != nil {
					FatalError("%w", err)
					return
				}
			}
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{"plan": plan, "result": result})
			return
		}
		if !autoAssignApply {
			printDryRunBanner()
		}
		printPlan(plan)
		if result != nil {
			fmt.Println()
			printSuccess("Assigned %d ticket(s)", result.Applied)
			for _, f := range result.Failed {
				fmt.Printf("  %s %s\n", ui.RenderStatusIcon("error"), f)
			}
		}
	},
}

func printPlan(plan *assign.Plan) {
	if len(plan.Assignments) == 0 {
		fmt.Println("Nothing to assign.")
	} else {
		w := newTable("TICKET", "AGENT", "TYPE", "REASON")
		for _, a := range plan.Assignments {
			writeRow(w, a.TicketID, orDash(a.AgentName), ui.RenderAgentType(a.AgentType), a.Reason)
		}
		_ = w.Flush()
	}
	if len(plan.Skipped) > 0 && debug.Enabled() {
		fmt.Println()
		for _, s := range plan.Skipped {
			fmt.Printf("  %s %s: %s\n", ui.RenderStatusIcon("skipped"), s.TicketID, s.Reason)
		}
	} else if len(plan.Skipped) > 0 {
		fmt.Printf("\n%d ticket(s) skipped (use -v for reasons)\n", len(plan.Skipped))
	}
}

// checkSource validates --source.
func checkSource() {
	if ticketsSource != sourceStore && ticketsSource != sourceAPI {
		FatalErrorWithHint(fmt.Sprintf("unknown source %q", ticketsSource), "Use --source store or --source api")
	}
}

func init() {
	ticketsCmd.PersistentFlags().StringVar(&ticketsSource, "source", sourceStore, "Read from Firestore (store) or the CRM API (api)")

	ticketsListCmd.Flags().StringVarP(&ticketsStatus, "status", "s", "", "Filter by status (open, pending, in_progress, resolved, closed)")
	ticketsListCmd.Flags().StringVar(&ticketsSince, "since", "", "Only tickets created since (e.g. 2d, 6h, 2025-01-31, yesterday)")
	ticketsListCmd.Flags().BoolVar(&ticketsUnassigned, "unassigned", false, "Only tickets without an agent")
	ticketsListCmd.Flags().StringVar(&ticketsAgent, "agent", "", "Only tickets assigned to this agent ID")
	ticketsListCmd.Flags().StringVar(&ticketsTag, "tag", "", "Only tickets with this tag")
	ticketsListCmd.Flags().IntVarP(&ticketsLimit, "limit", "n", 50, "Maximum tickets to return (0 for all)")
	ticketsListCmd.Flags().StringVar(&ticketsSort, "sort", "", "Sort order, e.g. priority,last-message-desc,created:asc")

	ticketsShowCmd.Flags().IntVar(&ticketShowMessages, "messages", 20, "Show at most this many recent messages (0 for all)")

	ticketsAutoAssignCmd.Flags().StringVar(&autoAssignStrategy, "strategy", "", "least-loaded or round-robin (default: assign.strategy)")
	ticketsAutoAssignCmd.Flags().IntVar(&autoAssignMaxOpen, "max-open", 10, "Open tickets per human agent without their own limit (0 = unlimited)")
	ticketsAutoAssignCmd.Flags().BoolVar(&autoAssignApply, "apply", false, "Write the assignments")

	ticketsCmd.AddCommand(ticketsListCmd, ticketsShowCmd, ticketsAssignCmd, ticketsAutoAssignCmd)
	rootCmd.AddCommand(ticketsCmd)
}
