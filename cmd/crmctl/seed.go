package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crmops/crmctl/internal/seed"
	"github.com/crmops/crmctl/internal/ui"
)

var (
	seedAgents   int
	seedTickets  int
	seedMessages int
	seedRandSeed int64
	seedApply    bool
)

var seedCmd = &cobra.Command{
	Use:     "seed",
	GroupID: "maint",
	Short:   "Generate test agents, tickets and messages",
	Long: `Generate a deterministic dataset: the same --rand-seed produces the same
records. Seeded tickets are tagged "seed" and seeded agents are named
"Seed ...", so 'crmctl seed clean' can remove exactly them.

Without --apply the dataset is only printed.`,
	Example: `  crmctl seed --tickets 50 --apply
  crmctl seed clean --apply --yes`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		opts := seed.Options{
			Agents:            seedAgents,
			Tickets:           seedTickets,
			MessagesPerTicket: seedMessages,
			RandSeed:          seedRandSeed,
			Now:               now(),
		}
		ds, err := seed.Generate(opts)
		if err != nil {
			FatalError("%w", err)
			return
		}

		if seedApply {
			if err := seed.Write(getRootContext(), getStore(getRootContext()), ds); err != nil {
				FatalError("seeding: %w", err)
				return
			}
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"applied": seedApply, "dataset": ds})
			return
		}
		if !seedApply {
			printDryRunBanner()
			printTickets(ds.Tickets)
			fmt.Println()
		}
		verb := "Would create"
		if seedApply {
			verb = "Created"
		}
		fmt.Printf("%s %d agent(s), %d ticket(s), %d message(s) %s\n", verb,
			len(ds.Agents), len(ds.Tickets), len(ds.Messages),
			ui.RenderMuted(fmt.Sprintf("(rand seed %d)", seedRandSeed)))
	},
}

var seedCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove every seeded record",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := getRootContext()
		store := getStore(ctx)
		res, err := seed.Clean(ctx, store, false)
		if err != nil {
			FatalError("%w", err)
			return
		}
		if seedApply && res.Total() > 0 {
			if !confirmApply(fmt.Sprintf("Delete %d seeded record(s)?", res.Total())) {
				return
			}
			if res, err = seed.Clean(ctx, store, true); err != nil {
				FatalError("%w", err)
				return
			}
		}
		if jsonOutput {
			outputJSON(res)
			return
		}
		if !res.Applied {
			printDryRunBanner()
		}
		if res.Total() == 0 {
			fmt.Println("No seeded records found.")
			return
		}
		verb := "Would delete"
		if res.Applied {
			verb = "Deleted"
		}
		fmt.Printf("%s %d agent(s), %d ticket(s), %d message(s), %d interaction(s)\n", verb,
			len(res.Agents), len(res.Tickets), len(res.Messages), len(res.Interactions))
		if n := len(res.KeptAgents); n > 0 {
			fmt.Printf("Kept %d seeded agent(s) still assigned to other tickets: %s\n", n, strings.Join(res.KeptAgents, ", "))
		}
	},
}

func init() {
	def := seed.DefaultOptions()
	seedCmd.Flags().IntVar(&seedAgents, "agents", def.Agents, "Number of agents")
	seedCmd.Flags().IntVar(&seedTickets, "tickets", def.Tickets, "Number of tickets")
	seedCmd.Flags().IntVar(&seedMessages, "messages", def.MessagesPerTicket, "Messages per ticket")
	seedCmd.Flags().Int64Var(&seedRandSeed, "rand-seed", def.RandSeed, "Random seed")
	seedCmd.PersistentFlags().BoolVar(&seedApply, "apply", false, "Write to Firestore (default is a dry run)")

	seedCmd.AddCommand(seedCleanCmd)
	rootCmd.AddCommand(seedCmd)
}
