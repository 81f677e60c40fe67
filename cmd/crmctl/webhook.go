package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crmops/crmctl/internal/config"
	"github.com/crmops/crmctl/internal/crmapi"
	"github.com/crmops/crmctl/internal/evolution"
	"github.com/crmops/crmctl/internal/ui"
)

var (
	simulateEvent    string
	simulatePhone    string
	simulateName     string
	simulateText     string
	simulateState    string
	simulateInstance string
)

var webhookCmd = &cobra.Command{
	Use:     "webhook",
	GroupID: "integrations",
	Short:   "Exercise the CRM's Evolution webhook route",
}

var webhookSimulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Post a synthetic Evolution event to the CRM webhook",
	Long: `Build the payload Evolution would send and post it to the CRM's webhook
route. The route suffix follows evolution.webhook-by-events.

Supported events:
  messages.upsert     an inbound text message (--phone, --text, optional --name)
  connection.update   an instance state change (--state)`,
	Example: `  crmctl webhook simulate --phone 5511999998888 --text "I need help"
  crmctl webhook simulate --event connection.update --state close`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		instance := instanceName(simulateInstance)
		var ev *crmapi.WebhookEvent
		switch evolution.NormalizeEvent(simulateEvent) {
		case evolution.NormalizeEvent(crmapi.EventMessagesUpsert):
			var err error
			ev, err = crmapi.NewInboundTextEvent(instance, simulatePhone, simulateName, simulateText, now())
			if err != nil {
				FatalErrorWithHint(err.Error(), "messages.upsert needs --phone and --text")
				return
			}
		case evolution.NormalizeEvent(crmapi.EventConnectionUpdate):
			ev = crmapi.NewConnectionEvent(instance, simulateState, now())
		default:
			FatalErrorWithHint(fmt.Sprintf("unsupported event %q", simulateEvent), "Use messages.upsert or connection.update")
			return
		}

		resp, err := newCRMClient().SimulateWebhook(getRootContext(), ev, config.GetBool(config.KeyEvolutionByEvents))
		if err != nil {
			FatalError("posting webhook: %w", err)
			return
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"event": ev, "response": resp})
			return
		}
		status := ui.RenderPass(fmt.Sprintf("%d", resp.StatusCode))
		if resp.StatusCode >= 300 {
			status = ui.RenderFail(fmt.Sprintf("%d", resp.StatusCode))
		}
		fmt.Printf("POST %s -> %s\n", resp.Path, status)
		if resp.Body != "" {
			fmt.Println(ui.RenderMuted(ui.Truncate(resp.Body, 500)))
		}
		if resp.StatusCode >= 300 {
			exit(1)
		}
	},
}

func init() {
	webhookSimulateCmd.Flags().StringVar(&simulateEvent, "event", crmapi.EventMessagesUpsert, "Event to simulate")
	webhookSimulateCmd.Flags().StringVar(&simulatePhone, "phone", "", "Customer phone number")
	webhookSimulateCmd.Flags().StringVar(&simulateName, "name", "", "Customer push name")
	webhookSimulateCmd.Flags().StringVar(&simulateText, "text", "", "Message text")
	webhookSimulateCmd.Flags().StringVar(&simulateState, "state", evolution.StateOpen, "Connection state for connection.update")
	webhookSimulateCmd.Flags().StringVar(&simulateInstance, "instance", "", "Instance name (default: evolution.instance)")

	webhookCmd.AddCommand(webhookSimulateCmd)
	rootCmd.AddCommand(webhookCmd)
}
