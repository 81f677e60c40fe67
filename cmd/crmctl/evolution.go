package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crmops/crmctl/internal/evolution"
	"github.com/crmops/crmctl/internal/types"
	"github.com/crmops/crmctl/internal/ui"
)

var (
	evoInstance      string
	evoConnectNumber string

	webhookURLFlag      string
	webhookEventsFlag   []string
	webhookByEventsFlag bool
	webhookBase64Flag   bool
	webhookApply        bool
)

var evolutionCmd = &cobra.Command{
	Use:     "evolution",
	Aliases: []string{"evo"},
	GroupID: "integrations",
	Short:   "Manage WhatsApp instances on the Evolution API gateway",
}

var evoInstancesCmd = &cobra.Command{
	Use:   "instances",
	Short: "List instances and their connection status",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		instances, err := newEvolutionClient().FetchInstances(getRootContext())
		if err != nil {
			FatalError("fetching instances: %w", err)
			return
		}
		if jsonOutput {
			outputJSON(instances)
			return
		}
		if len(instances) == 0 {
			fmt.Println("No instances found.")
			return
		}
		w := newTable("NAME", "STATUS", "NUMBER", "PROFILE", "INTEGRATION")
		for _, inst := range instances {
			status := ui.RenderWarn(orDash(inst.ConnectionStatus))
			if inst.Connected() {
				status = ui.RenderPass(inst.ConnectionStatus)
			}
			number := inst.Number
			if number == "" {
				number = types.NormalizePhone(inst.OwnerJID)
			}
			writeRow(w, inst.Name, status, orDash(number), orDash(inst.ProfileName), orDash(inst.Integration))
		}
		_ = w.Flush()
	},
}

var evoStateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show an instance's connection state",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		name := instanceName(evoInstance)
		state, err := newEvolutionClient().ConnectionState(getRootContext(), name)
		if err != nil {
			FatalError("%w", err)
			return
		}
		if jsonOutput {
			outputJSON(map[string]string{"instance": name, "state": state})
			return
		}
		rendered := ui.RenderWarn(state)
		if state == evolution.StateOpen {
			rendered = ui.RenderPass(state)
		}
		fmt.Printf("%s: %s\n", name, rendered)
	},
}

var evoConnectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Start a pairing session and print the pairing code",
	Long: `Ask the gateway for a new pairing session. The pairing code is entered on
the phone under Linked devices > Link with phone number; pass --number to get
one. The QR code is only available as a base64 PNG (use --json to get it).`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		name := instanceName(evoInstance)
		res, err := newEvolutionClient().Connect(getRootContext(), name, types.NormalizePhone(evoConnectNumber))
		if err != nil {
			FatalError("%w", err)
			return
		}
		if jsonOutput {
			outputJSON(res)
			return
		}
		if res.Instance != nil && res.Instance.State == evolution.StateOpen {
			printSuccess("%s is already connected", name)
			return
		}
		if res.PairingCode != "" {
			fmt.Printf("Pairing code for %s: %s\n", name, ui.RenderBold(res.PairingCode))
		}
		if res.Base64 != "" {
			fmt.Println(ui.RenderMuted("QR code available; rerun with --json and open the base64 field as an image."))
		}
		if res.PairingCode == "" && res.Base64 == "" {
			fmt.Printf("Connection requested for %s; no code returned yet.\n", name)
		}
	},
}

var evoRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart an instance's WhatsApp session",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		name := instanceName(evoInstance)
		if err := newEvolutionClient().Restart(getRootContext(), name); err != nil {
			FatalError("%w", err)
			return
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"instance": name, "restarted": true})
			return
		}
		printSuccess("Restarted %s", name)
	},
}

var evoLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log an instance out of WhatsApp (requires pairing again)",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		name := instanceName(evoInstance)
		if !confirmApply(fmt.Sprintf("Log out %s? The phone will need to pair again.", name)) {
			return
		}
		if err := newEvolutionClient().Logout(getRootContext(), name); err != nil {
			FatalError("%w", err)
			return
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"instance": name, "loggedOut": true})
			return
		}
		printSuccess("Logged out %s", name)
	},
}

var evoWebhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Inspect or correct an instance's webhook registration",
}

var evoWebhookShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current webhook and how it differs from the expected one",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		name := instanceName(evoInstance)
		current, err := newEvolutionClient().FindWebhook(getRootContext(), name)
		if err != nil {
			FatalError("%w", err)
			return
		}
		desired := webhookFromFlags(cmd)
		diff := evolution.Diff(*current, desired)
		if jsonOutput {
			outputJSON(map[string]interface{}{"instance": name, "current": current, "expected": desired, "diff": diff})
			return
		}
		printWebhook(name, *current)
		if desired.URL == "" {
			return
		}
		fmt.Println()
		if len(diff) == 0 {
			fmt.Println(ui.RenderPass("Matches the expected configuration."))
			return
		}
		fmt.Println(ui.RenderWarn("Differs from the expected configuration:"))
		for _, d := range diff {
			fmt.Printf("  - %s\n", d)
		}
		fmt.Println(ui.RenderMuted("Run 'crmctl evolution webhook ensure --apply' to correct it."))
	},
}

func printWebhook(instance string, w evolution.WebhookConfig) {
	fmt.Printf("%s %s\n", ui.RenderBold("Webhook"), ui.RenderMuted(instance))
	fmt.Printf("  %-10s %t\n", "Enabled:", w.Enabled)
	fmt.Printf("  %-10s %s\n", "URL:", orDash(w.URL))
	fmt.Printf("  %-10s %t\n", "By events:", w.ByEvents)
	fmt.Printf("  %-10s %t\n", "Base64:", w.Base64)
	fmt.Printf("  %-10s %s\n", "Events:", orDash(strings.Join(w.Events, ", ")))
}

// webhookFromFlags starts from the configured webhook and applies any flag
// the user set.
func webhookFromFlags(cmd *cobra.Command) evolution.WebhookConfig {
	w := desiredWebhook()
	flags := cmd.Flags()
	if flags.Changed("url") {
		w.URL = webhookURLFlag
	}
	if flags.Changed("events") {
		w.Events = webhookEventsFlag
	}
	if flags.Changed("by-events") {
		w.ByEvents = webhookByEventsFlag
	}
	if flags.Changed("base64") {
		w.Base64 = webhookBase64Flag
	}
	w.Events = evolution.NormalizeEvents(w.Events)
	return w
}

func requireWebhookURL(w evolution.WebhookConfig) {
	if w.URL == "" {
		FatalErrorWithHint("no webhook URL", "Pass --url or set evolution.webhook-url (or crm.url)")
	}
}

var evoWebhookSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Register the webhook once, without verification",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		name := instanceName(evoInstance)
		desired := webhookFromFlags(cmd)
		requireWebhookURL(desired)
		if !webhookApply {
			printDryRunBanner()
			if jsonOutput {
				outputJSON(map[string]interface{}{"instance": name, "applied": false, "webhook": desired})
				return
			}
			printWebhook(name, desired)
			return
		}
		if err := newEvolutionClient().SetWebhook(getRootContext(), name, desired); err != nil {
			FatalError("%w", err)
			return
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"instance": name, "applied": true, "webhook": desired})
			return
		}
		printSuccess("Webhook set for %s -> %s", name, desired.URL)
	},
}

var evoWebhookEnsureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Make the webhook match the expected configuration and verify it",
	Long: `Compare the instance's webhook with the expected configuration (from config,
overridden by flags). With --apply, set it and re-read it with backoff until
the gateway reports the new configuration.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		name := instanceName(evoInstance)
		desired := webhookFromFlags(cmd)
		requireWebhookURL(desired)
		client := newEvolutionClient()
		ctx := getRootContext()

		if !webhookApply {
			current, err := client.FindWebhook(ctx, name)
			if err != nil {
				FatalError("%w", err)
				return
			}
			diff := evolution.Diff(*current, desired)
			if jsonOutput {
				outputJSON(&evolution.EnsureResult{Changed: false, Before: *current, After: *current, Diff: diff})
				return
			}
			printDryRunBanner()
			if len(diff) == 0 {
				printSuccess("Webhook for %s already matches", name)
				return
			}
			fmt.Printf("Would change the webhook for %s:\n", name)
			for _, d := range diff {
				fmt.Printf("  - %s\n", d)
			}
			return
		}

		res, err := client.EnsureWebhook(ctx, name, desired, evolution.DefaultEnsureOptions)
		if err != nil {
			FatalError("%w", err)
			return
		}
		if jsonOutput {
			outputJSON(res)
			return
		}
		if !res.Changed {
			printSuccess("Webhook for %s already matches", name)
			return
		}
		printSuccess("Webhook for %s updated and verified after %d attempt(s)", name, res.Attempts)
		for _, d := range res.Diff {
			fmt.Printf("  - %s\n", d)
		}
	},
}

var evoSendCmd = &cobra.Command{
	Use:   "send <number> <text>",
	Short: "Send a text message directly through an instance",
	Example: `  crmctl evolution send 5511999998888 "hello from crmctl" --instance support`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		name := instanceName(evoInstance)
		number := args[0]
		if !types.IsGroupJID(number) {
			number = types.NormalizePhone(number)
		}
		if number == "" {
			FatalError("invalid number %q", args[0])
			return
		}
		res, err := newEvolutionClient().SendText(getRootContext(), name, number, args[1])
		if err != nil {
			FatalError("%w", err)
			return
		}
		if jsonOutput {
			outputJSON(res)
			return
		}
		printSuccess("Sent to %s via %s (key %s)", orDash(res.Key.RemoteJID), name, orDash(res.Key.ID))
	},
}

func init() {
	evolutionCmd.PersistentFlags().StringVar(&evoInstance, "instance", "", "Instance name (default: evolution.instance)")
	evoConnectCmd.Flags().StringVar(&evoConnectNumber, "number", "", "Phone number to request a pairing code for")

	for _, c := range []*cobra.Command{evoWebhookShowCmd, evoWebhookSetCmd, evoWebhookEnsureCmd} {
		c.Flags().StringVar(&webhookURLFlag, "url", "", "Webhook URL (default: evolution.webhook-url or <crm.url>/api/webhooks/evolution)")
		c.Flags().StringSliceVar(&webhookEventsFlag, "events", nil, "Events to subscribe to (default: evolution.webhook-events)")
		c.Flags().BoolVar(&webhookByEventsFlag, "by-events", false, "Append the event name to the webhook URL")
		c.Flags().BoolVar(&webhookBase64Flag, "base64", false, "Ask the gateway to inline media as base64")
	}
	evoWebhookSetCmd.Flags().BoolVar(&webhookApply, "apply", false, "Write the change (default is a dry run)")
	evoWebhookEnsureCmd.Flags().BoolVar(&webhookApply, "apply", false, "Write the change (default is a dry run)")

	evoWebhookCmd.AddCommand(evoWebhookShowCmd, evoWebhookSetCmd, evoWebhookEnsureCmd)
	evolutionCmd.AddCommand(evoInstancesCmd, evoStateCmd, evoConnectCmd, evoRestartCmd, evoLogoutCmd, evoWebhookCmd, evoSendCmd)
	rootCmd.AddCommand(evolutionCmd)
}
