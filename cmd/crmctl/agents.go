package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crmops/crmctl/internal/assign"
	"github.com/crmops/crmctl/internal/evoai"
	"github.com/crmops/crmctl/internal/types"
	"github.com/crmops/crmctl/internal/ui"
)

const (
	agentSourceCRM   = "crm"
	agentSourceEvoAI = "evoai"
	agentSourceAPI   = "api"
)

var (
	agentsSource     string
	agentsType       string
	agentsActiveOnly bool
)

var agentsCmd = &cobra.Command{
	Use:     "agents",
	GroupID: "data",
	Short:   "Inspect CRM agents and Evo AI agents",
}

// agentRow is a CRM agent with its current open-ticket load.
type agentRow struct {
	*types.Agent
	OpenTickets int `json:"openTickets"`
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents",
	Long: `List agents from the CRM's Firestore (crm, default), the CRM API (api) or the
Evo AI Postgres database (evoai). CRM listings include each agent's open
ticket count.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := getRootContext()
		switch agentsSource {
		case agentSourceEvoAI:
			agents, err := getEvoAI(ctx).ListAgents(ctx)
			if err != nil {
				FatalError("listing Evo AI agents: %w", err)
				return
			}
			if agentsType != "" {
				agents = filterEvoAgents(agents, agentsType)
			}
			if jsonOutput {
				outputJSON(agents)
				return
			}
			printEvoAgents(agents)
		case agentSourceCRM, agentSourceAPI:
			rows := listCRMAgents()
			if jsonOutput {
				outputJSON(rows)
				return
			}
			printCRMAgents(rows)
		default:
			FatalErrorWithHint(fmt.Sprintf("unknown source %q", agentsSource), "Use --source crm, api or evoai")
		}
	},
}

func listCRMAgents() []agentRow {
	ctx := getRootContext()
	filter := types.AgentFilter{Type: types.AgentType(agentsType), ActiveOnly: agentsActiveOnly}
	if filter.Type != "" && !filter.Type.IsValid() {
		FatalErrorWithHint(fmt.Sprintf("invalid type %q", agentsType), "Use human or ai")
		return nil
	}

	var (
		agents  []*types.Agent
		tickets []*types.Ticket
		err     error
	)
	if agentsSource == agentSourceAPI {
		client := newCRMClient()
		if agents, err = client.ListAgents(ctx); err == nil {
			tickets, err = client.ListTickets(ctx, types.TicketFilter{})
		}
		agents = filterAgents(agents, filter)
	} else {
		store := getStore(ctx)
		if agents, err = store.ListAgents(ctx, filter); err == nil {
			tickets, err = store.ListTickets(ctx, types.TicketFilter{})
		}
	}
	if err != nil {
		FatalError("listing agents: %w", err)
		return nil
	}

	loads := assign.OpenCounts(tickets)
	rows := make([]agentRow, 0, len(agents))
	for _, a := range agents {
		rows = append(rows, agentRow{Agent: a, OpenTickets: loads[a.ID]})
	}
	return rows
}

func filterAgents(agents []*types.Agent, f types.AgentFilter) []*types.Agent {
	out := agents[:0]
	for _, a := range agents {
		if f.Matches(a) {
			out = append(out, a)
		}
	}
	types.SortAgentsByName(out)
	return out
}

func filterEvoAgents(agents []*evoai.Agent, typ string) []*evoai.Agent {
	var out []*evoai.Agent
	for _, a := range agents {
		if strings.EqualFold(a.Type, typ) {
			out = append(out, a)
		}
	}
	return out
}

func printCRMAgents(rows []agentRow) {
	if len(rows) == 0 {
		fmt.Println("No agents found.")
		return
	}
	w := newTable("ID", "NAME", "TYPE", "STATUS", "ACTIVE", "OPEN", "DEPARTMENTS", "EVO AGENT")
	for _, r := range rows {
		active := ui.RenderPass("yes")
		if !r.Active {
			active = ui.RenderMuted("no")
		}
		open := fmt.Sprintf("%d", r.OpenTickets)
		if r.MaxConcurrentTickets > 0 {
			open = fmt.Sprintf("%d/%d", r.OpenTickets, r.MaxConcurrentTickets)
		}
		id := r.ID
		if !types.IsValidUUID(id) {
			id = ui.RenderWarn(id)
		}
		writeRow(w, id, r.Name, ui.RenderAgentType(r.Type), ui.RenderAgentStatus(r.Status), active, open,
			orDash(strings.Join(r.Departments, ",")), orDash(r.EvoAgentID))
	}
	_ = w.Flush()
}

func printEvoAgents(agents []*evoai.Agent) {
	if len(agents) == 0 {
		fmt.Println("No Evo AI agents found.")
		return
	}
	w := newTable("ID", "NAME", "TYPE", "MODEL", "UPDATED")
	for _, a := range agents {
		id := a.ID
		if !types.IsValidUUID(id) {
			id = ui.RenderWarn(id)
		}
		updated := "-"
		if !a.UpdatedAt.IsZero() {
			updated = ui.Ago(a.UpdatedAt, now())
		}
		writeRow(w, id, a.Name, orDash(a.Type), orDash(a.Model), updated)
	}
	_ = w.Flush()
}

var agentsShowCmd = &cobra.Command{
	Use:   "show <agent-id>",
	Short: "Show one agent",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := getRootContext()
		if agentsSource == agentSourceEvoAI {
			a, err := getEvoAI(ctx).GetAgent(ctx, args[0])
			if err != nil {
				FatalError("%w", err)
				return
			}
			if jsonOutput {
				outputJSON(a)
				return
			}
			printEvoAgent(a)
			return
		}

		store := getStore(ctx)
		a, err := store.GetAgent(ctx, args[0])
		if err != nil {
			FatalError("%w", err)
			return
		}
		tickets, err := store.ListTickets(ctx, types.TicketFilter{AssignedAgentID: a.ID})
		if err != nil {
			FatalError("listing tickets: %w", err)
			return
		}
		var active []*types.Ticket
		for _, t := range tickets {
			if t.Status.IsActive() {
				active = append(active, t)
			}
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"agent": a, "activeTickets": active})
			return
		}
		fmt.Printf("%s %s\n", ui.RenderBold(a.Name), ui.RenderAgentType(a.Type))
		fmt.Printf("  %-12s %s\n", "ID:", a.ID)
		if a.Email != "" {
			fmt.Printf("  %-12s %s\n", "Email:", a.Email)
		}
		fmt.Printf("  %-12s %s\n", "Status:", ui.RenderAgentStatus(a.Status))
		fmt.Printf("  %-12s %t\n", "Active:", a.Active)
		if len(a.Departments) > 0 {
			fmt.Printf("  %-12s %s\n", "Departments:", strings.Join(a.Departments, ", "))
		}
		if len(a.Skills) > 0 {
			fmt.Printf("  %-12s %s\n", "Skills:", strings.Join(a.Skills, ", "))
		}
		if a.EvoAgentID != "" {
			fmt.Printf("  %-12s %s\n", "Evo agent:", a.EvoAgentID)
		}
		fmt.Printf("\n%s\n", ui.RenderCategory(fmt.Sprintf("Active tickets (%d)", len(active))))
		for _, t := range active {
			fmt.Printf("  %s  %s  %s\n", t.ID, ui.RenderTicketStatus(t.Status), ui.OneLine(t.LastMessage, 60))
		}
	},
}

func printEvoAgent(a *evoai.Agent) {
	fmt.Printf("%s %s\n", ui.RenderBold(a.Name), ui.RenderMuted(a.Type))
	fmt.Printf("  %-12s %s\n", "ID:", a.ID)
	fmt.Printf("  %-12s %s\n", "Model:", orDash(a.Model))
	if a.Description != "" {
		fmt.Printf("  %-12s %s\n", "Description:", a.Description)
	}
	if a.AgentCardURL != "" {
		fmt.Printf("  %-12s %s\n", "Agent card:", a.AgentCardURL)
	}
	if a.Instruction != "" {
		fmt.Printf("\n%s\n%s\n", ui.RenderCategory("Instruction"), ui.Indent(a.Instruction, "  "))
	}
	if len(a.Config) > 0 {
		keys := make([]string, 0, len(a.Config))
		for k := range a.Config {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Printf("\n%s\n  %s\n", ui.RenderCategory("Config keys"), strings.Join(keys, ", "))
	}
}

func init() {
	agentsCmd.PersistentFlags().StringVar(&agentsSource, "source", agentSourceCRM, "crm (Firestore), api (CRM API) or evoai (Evo AI Postgres)")
	agentsListCmd.Flags().StringVarP(&agentsType, "type", "t", "", "Filter by type (human or ai; Evo AI types such as llm, a2a)")
	agentsListCmd.Flags().BoolVar(&agentsActiveOnly, "active", false, "Only active agents")

	agentsCmd.AddCommand(agentsListCmd, agentsShowCmd)
	rootCmd.AddCommand(agentsCmd)
}
