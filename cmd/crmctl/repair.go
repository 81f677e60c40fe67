package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crmops/crmctl/internal/evoai"
	"github.com/crmops/crmctl/internal/repair"
	"github.com/crmops/crmctl/internal/types"
	"github.com/crmops/crmctl/internal/ui"
)

var repairApply bool

var repairCmd = &cobra.Command{
	Use:     "repair",
	GroupID: "maint",
	Short:   "Find and fix data problems in Firestore and Evo AI",
	Long: `One-off data repairs. Every subcommand scans first and prints what it would
change; nothing is written without --apply (and a confirmation, or --yes).`,
}

// runRepair scans, confirms and applies one repair. The scan always runs as
// a dry run; the apply pass only happens when it found something to change.
func runRepair(title string, fn func(*repair.Repairer, context.Context) (*repair.Report, error), needsEvoAI bool) {
	ctx := getRootContext()
	r := &repair.Repairer{Store: getStore(ctx), NewID: types.NewID, Now: now}
	if needsEvoAI {
		r.EvoAI = getEvoAI(ctx)
	}

	rep, err := fn(r, ctx)
	if err != nil {
		FatalError("%s: %w", title, err)
		return
	}
	if repairApply && len(rep.Changes) > 0 {
		if !confirmApply(fmt.Sprintf("%s: apply %d change(s)?", title, len(rep.Changes))) {
			return
		}
		r.Apply = true
		rep, err = fn(r, ctx)
		if err != nil {
			FatalError("%s: %w", title, err)
			return
		}
	}

	if jsonOutput {
		outputJSON(rep)
	} else {
		printReport(rep)
	}
	if !rep.OK() {
		exit(1)
	}
}

func printReport(rep *repair.Report) {
	if !rep.Applied {
		printDryRunBanner()
	}
	fmt.Printf("%s %s\n", ui.RenderBold(rep.Name), ui.RenderMuted(fmt.Sprintf("(%d scanned)", rep.Scanned)))
	if len(rep.Changes) == 0 && len(rep.Conflicts) == 0 && len(rep.Errors) == 0 {
		fmt.Println(ui.RenderPass("  Nothing to repair."))
		return
	}
	if len(rep.Changes) > 0 {
		w := newTable("ACTION", "COLLECTION", "ID", "FIELD", "FROM", "TO", "NOTE")
		for _, c := range rep.Changes {
			writeRow(w, c.Action, c.Collection, c.ID, orDash(c.Field), orDash(c.From), orDash(c.To), orDash(c.Note))
		}
		_ = w.Flush()
	}
	for _, c := range rep.Conflicts {
		fmt.Printf("%s %s\n", ui.RenderWarn(ui.IconWarn), c)
	}
	for _, e := range rep.Errors {
		fmt.Printf("%s %s\n", ui.RenderFail(ui.IconFail), e)
	}
	verb := "Would apply"
	if rep.Applied {
		verb = "Applied"
	}
	fmt.Printf("\n%s %d change(s), %d conflict(s), %d error(s)\n", verb, len(rep.Changes), len(rep.Conflicts), len(rep.Errors))
}

var repairTicketRefsCmd = &cobra.Command{
	Use:   "ticket-refs",
	Short: "Fix tickets whose assignedAgentId is malformed or dangling",
	Long: `Tickets whose assignedAgentId is not a UUID or names a missing agent are
re-pointed at the agent it most likely meant (exact name match, then Evo AI
agent id match). Tickets with no match are unassigned.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runRepair("ticket-refs", (*repair.Repairer).TicketAgentRefs, false)
	},
}

var repairAgentIDsCmd = &cobra.Command{
	Use:   "agent-ids",
	Short: "Move CRM agents with non-UUID document IDs to fresh UUIDs",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runRepair("agent-ids", (*repair.Repairer).AgentIDs, false)
	},
}

var repairRenameFieldCmd = &cobra.Command{
	Use:   "rename-field <collection> <from> <to>",
	Short: "Rename a top-level field on every document of a collection",
	Example: `  crmctl repair rename-field tickets agentId assignedAgentId --apply`,
	Args: cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		collection, from, to := args[0], args[1], args[2]
		if !types.IsKnownCollection(collection) {
			FatalErrorWithHint(fmt.Sprintf("unknown collection %q", collection),
				"Use tickets, messages, agents or agent_interactions")
			return
		}
		runRepair("rename-field", func(r *repair.Repairer, ctx context.Context) (*repair.Report, error) {
			return r.RenameField(ctx, collection, from, to)
		}, false)
	},
}

var repairOrphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "Delete messages and interactions that point at missing records",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runRepair("orphans", (*repair.Repairer).Orphans, false)
	},
}

var repairEvoAIIDsCmd = &cobra.Command{
	Use:   "evoai-ids",
	Short: "Give Evo AI agents with malformed IDs a fresh UUID",
	Long: `Evo AI rows whose id is not a canonical UUID get a new one. References to the
old id inside other agents' config are rewritten in the same transaction, and
CRM agents whose evoAgentId pointed at it are updated.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runRepair("evoai-ids", (*repair.Repairer).EvoAIAgentIDs, true)
	},
}

// configKeyPlan lists the Evo AI agents that carry oldKey and those that
// already carry newKey.
func configKeyPlan(agents []*evoai.Agent, oldKey, newKey string) (rename, conflicts []string) {
	for _, a := range agents {
		if _, ok := a.Config[oldKey]; !ok {
			continue
		}
		if _, ok := a.Config[newKey]; ok {
			conflicts = append(conflicts, a.ID)
			continue
		}
		rename = append(rename, a.ID)
	}
	return rename, conflicts
}

var repairEvoAIConfigKeyCmd = &cobra.Command{
	Use:   "evoai-config-key <old> <new>",
	Short: "Rename a top-level key in every Evo AI agent's config",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		oldKey, newKey := args[0], args[1]
		ctx := getRootContext()
		store := getEvoAI(ctx)
		agents, err := store.ListAgents(ctx)
		if err != nil {
			FatalError("listing Evo AI agents: %w", err)
			return
		}
		rename, conflicts := configKeyPlan(agents, oldKey, newKey)

		if !repairApply || len(rename) == 0 {
			if jsonOutput {
				outputJSON(map[string]interface{}{"applied": false, "rename": rename, "conflicts": conflicts})
				return
			}
			printDryRunBanner()
			fmt.Printf("%d agent(s) carry %q; %d already have %q and are skipped.\n", len(rename), oldKey, len(conflicts), newKey)
			for _, id := range rename {
				fmt.Printf("  %s\n", id)
			}
			return
		}
		if !confirmApply(fmt.Sprintf("Rename config key %q to %q on %d agent(s)?", oldKey, newKey, len(rename))) {
			return
		}
		res, err := store.RenameConfigKey(ctx, oldKey, newKey)
		if err != nil {
			FatalError("%w", err)
			return
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"applied": true, "renamed": res.Renamed, "conflicts": res.Conflicts})
			return
		}
		printSuccess("Renamed %q to %q on %d agent(s); %d skipped", oldKey, newKey, res.Renamed, len(res.Conflicts))
	},
}

var repairEvoAIDeleteCmd = &cobra.Command{
	Use:   "evoai-delete <agent-id>",
	Short: "Delete an Evo AI agent that no CRM agent references",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := args[0]
		ctx := getRootContext()
		evo := getEvoAI(ctx)
		a, err := evo.GetAgent(ctx, id)
		if err != nil {
			FatalError("%w", err)
			return
		}
		crmAgents, err := getStore(ctx).ListAgents(ctx, types.AgentFilter{})
		if err != nil {
			FatalError("listing CRM agents: %w", err)
			return
		}
		for _, ca := range crmAgents {
			if ca.EvoAgentID == id {
				FatalErrorWithHint(fmt.Sprintf("CRM agent %s (%s) still uses %s", ca.ID, ca.Name, id),
					"Point the CRM agent elsewhere before deleting")
				return
			}
		}
		if !repairApply {
			if jsonOutput {
				outputJSON(map[string]interface{}{"applied": false, "agent": a})
				return
			}
			printDryRunBanner()
			fmt.Printf("Would delete Evo AI agent %s (%s).\n", a.ID, a.Name)
			return
		}
		if !confirmApply(fmt.Sprintf("Delete Evo AI agent %s (%s)?", a.ID, a.Name)) {
			return
		}
		if err := evo.DeleteAgent(ctx, id); err != nil {
			FatalError("%w", err)
			return
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"applied": true, "agent": a})
			return
		}
		printSuccess("Deleted Evo AI agent %s (%s)", a.ID, a.Name)
	},
}

func init() {
	repairCmd.PersistentFlags().BoolVar(&repairApply, "apply", false, "Write the changes (default is a dry run)")
	repairCmd.AddCommand(
		repairTicketRefsCmd,
		repairAgentIDsCmd,
		repairRenameFieldCmd,
		repairOrphansCmd,
		repairEvoAIIDsCmd,
		repairEvoAIConfigKeyCmd,
		repairEvoAIDeleteCmd,
	)
	rootCmd.AddCommand(repairCmd)
}
