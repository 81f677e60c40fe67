package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/crmops/crmctl/internal/config"
	"github.com/crmops/crmctl/internal/doctor"
	"github.com/crmops/crmctl/internal/evolution"
	"github.com/crmops/crmctl/internal/ui"
)

var (
	doctorFix      bool
	doctorOutput   string
	doctorInstance string
	doctorSkip     []string
)

var doctorCmd = &cobra.Command{
	Use:     "doctor",
	GroupID: "diag",
	Short:   "Check Firestore, Evo AI, Evolution, the CRM API and RabbitMQ",
	Long: `Run read-only health probes against every system the CRM depends on.

Probes run in parallel; each is skipped when its system is not configured.
Exit status is 1 when any check reports an error.

Examples:
  crmctl doctor
  crmctl doctor --fix              # re-apply the Evolution webhook if it drifted
  crmctl doctor --skip rabbitmq    # do not probe the broker
  crmctl doctor --json --output report.json`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := getRootContext()
		d := buildDoctor()
		result := d.Run(ctx)

		if doctorFix {
			if fixed := fixWebhook(d, result); fixed {
				result = d.Run(ctx)
			}
		}

		if doctorOutput != "" {
			if err := writeDoctorReport(doctorOutput, result); err != nil {
				FatalError("writing report: %w", err)
				return
			}
		}
		if jsonOutput {
			outputJSON(result)
		} else {
			printDiagnostics(result)
		}
		if !result.OverallOK {
			exit(1)
		}
	},
}

func skipProbe(name string) bool {
	for _, s := range doctorSkip {
		if s == name {
			return true
		}
	}
	return false
}

// buildDoctor opens every configured client. Connection failures become
// error checks instead of aborting the run.
func buildDoctor() *doctor.Doctor {
	ctx := getRootContext()
	d := &doctor.Doctor{
		Version:       Version,
		Webhook:       desiredWebhook(),
		OutboundQueue: config.GetString(config.KeyRabbitOutboundQueue),
	}

	if config.GetString(config.KeyFirebaseProjectID) != "" && !skipProbe("firestore") {
		s, err := openStoreFn(ctx)
		if err != nil {
			d.StoreErr = err
		} else {
			onClose(func() { _ = s.Close() })
			d.Store = s
		}
	}
	if config.GetString(config.KeyEvoAIDatabaseURL) != "" && !skipProbe("evoai") {
		s, err := openEvoAIFn(ctx)
		if err != nil {
			d.EvoAIErr = err
		} else {
			d.EvoAI = s
		}
	}
	if config.GetString(config.KeyEvolutionAPIKey) != "" && !skipProbe("evolution") {
		d.Evolution = newEvolutionClient()
		d.Instance = doctorInstance
		if d.Instance == "" {
			d.Instance = config.GetString(config.KeyEvolutionInstance)
		}
	}
	if !skipProbe("crm") {
		d.CRM = newCRMClient()
	}
	if config.GetString(config.KeyRabbitURL) != "" && !skipProbe("rabbitmq") {
		b, err := openBrokerFn()
		if err != nil {
			d.QueueErr = err
		} else {
			d.Queue = b
		}
	}
	return d
}

// fixWebhook re-applies the webhook when the Webhook check is not ok.
func fixWebhook(d *doctor.Doctor, result *doctor.Result) bool {
	check, ok := result.Find(doctor.WebhookCheckName)
	if !ok || check.Status == doctor.StatusOK || check.Status == doctor.StatusSkipped {
		return false
	}
	client, ok := d.Evolution.(*evolution.Client)
	if !ok {
		return false
	}
	if d.Webhook.URL == "" {
		WarnError("cannot fix webhook: set evolution.webhook-url or crm.url")
		return false
	}
	res, err := client.EnsureWebhook(getRootContext(), d.Instance, d.Webhook, evolution.DefaultEnsureOptions)
	if err != nil {
		WarnError("webhook fix failed: %v", err)
		return false
	}
	if !jsonOutput {
		printSuccess("Webhook updated for %s after %d attempt(s)", d.Instance, res.Attempts)
	}
	return res.Changed
}

func writeDoctorReport(path string, result *doctor.Result) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

func printDiagnostics(result *doctor.Result) {
	fmt.Printf("\ncrmctl doctor v%s\n\n", result.CLIVersion)

	byCategory := make(map[string][]doctor.Check)
	for _, c := range result.Checks {
		byCategory[c.Category] = append(byCategory[c.Category], c)
	}

	var problems []doctor.Check
	for _, category := range doctor.CategoryOrder {
		checks := byCategory[category]
		if len(checks) == 0 {
			continue
		}
		fmt.Println(ui.RenderCategory(category))
		for _, c := range checks {
			fmt.Printf("  %s  %s", ui.RenderStatusIcon(c.Status), c.Name)
			if c.Message != "" {
				fmt.Print(ui.RenderMuted(" " + c.Message))
			}
			fmt.Println()
			if c.Detail != "" {
				fmt.Printf("     %s%s\n", ui.MutedStyle.Render(ui.TreeLast), ui.RenderMuted(c.Detail))
			}
			if c.Status == doctor.StatusWarning || c.Status == doctor.StatusError {
				problems = append(problems, c)
			}
		}
		fmt.Println()
	}

	counts := result.Counts()
	fmt.Println(ui.RenderSeparator())
	fmt.Printf("%s %d passed  %s %d warnings  %s %d errors  %s %d skipped  (%dms)\n",
		ui.RenderStatusIcon(doctor.StatusOK), counts[doctor.StatusOK],
		ui.RenderStatusIcon(doctor.StatusWarning), counts[doctor.StatusWarning],
		ui.RenderStatusIcon(doctor.StatusError), counts[doctor.StatusError],
		ui.RenderStatusIcon(doctor.StatusSkipped), counts[doctor.StatusSkipped],
		result.DurationMs)

	var fixes []doctor.Check
	for _, c := range problems {
		if c.Fix != "" {
			fixes = append(fixes, c)
		}
	}
	if len(fixes) > 0 {
		fmt.Println()
		fmt.Println(color.New(color.Bold).Sprint("Suggested fixes:"))
		for i, c := range fixes {
			fmt.Printf("  %d. %s: %s\n", i+1, c.Name, c.Fix)
		}
	}
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorFix, "fix", false, "Re-apply the expected Evolution webhook configuration when it drifted")
	doctorCmd.Flags().StringVarP(&doctorOutput, "output", "o", "", "Also write the JSON report to this file")
	doctorCmd.Flags().StringVar(&doctorInstance, "instance", "", "Evolution instance (default: evolution.instance)")
	doctorCmd.Flags().StringSliceVar(&doctorSkip, "skip", nil, "Probes to skip: firestore, evoai, evolution, crm, rabbitmq")
	rootCmd.AddCommand(doctorCmd)
}
