package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crmops/crmctl/internal/ui"
)

var a2aContextID string

var a2aCmd = &cobra.Command{
	Use:     "a2a",
	GroupID: "integrations",
	Short:   "Talk to AI agents over the A2A protocol",
}

var a2aCardCmd = &cobra.Command{
	Use:   "card <agent-id>",
	Short: "Fetch an agent's A2A agent card",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		card, err := newCRMClient().AgentCard(getRootContext(), args[0])
		if err != nil {
			FatalError("%w", err)
			return
		}
		if jsonOutput {
			outputJSON(card)
			return
		}
		fmt.Printf("%s %s\n", ui.RenderBold(card.Name), ui.RenderMuted(card.Version))
		if card.Description != "" {
			fmt.Printf("  %s\n", card.Description)
		}
		fmt.Printf("  %-10s %s\n", "URL:", orDash(card.URL))
		if card.ProtocolVersion != "" {
			fmt.Printf("  %-10s %s\n", "Protocol:", card.ProtocolVersion)
		}
		fmt.Printf("  %-10s streaming=%t push=%t\n", "Supports:", card.Capabilities.Streaming, card.Capabilities.PushNotifications)
		if len(card.Skills) > 0 {
			fmt.Printf("\n%s\n", ui.RenderCategory("Skills"))
			for _, s := range card.Skills {
				fmt.Printf("  %s %s", ui.RenderAccent(s.ID), s.Name)
				if len(s.Tags) > 0 {
					fmt.Print(ui.RenderMuted(" [" + strings.Join(s.Tags, ", ") + "]"))
				}
				fmt.Println()
				if s.Description != "" {
					fmt.Printf("    %s\n", ui.RenderMuted(ui.OneLine(s.Description, 100)))
				}
			}
		}
	},
}

var a2aSendCmd = &cobra.Command{
	Use:   "send <agent-id> <text>",
	Short: "Send a message to an agent and print its reply",
	Example: `  crmctl a2a send 3f6d... "What are your opening hours?"
  crmctl a2a send 3f6d... "And on Sundays?" --context ctx-123`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		res, err := newCRMClient().SendA2A(getRootContext(), args[0], args[1], a2aContextID)
		if err != nil {
			FatalError("%w", err)
			return
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"state": res.State(), "text": res.Text(), "result": res})
			return
		}
		reply := res.Text()
		if reply == "" {
			reply = ui.RenderMuted("(no text in reply)")
		}
		fmt.Println(reply)
		if !quietFlag {
			fmt.Println()
			fmt.Println(ui.RenderMuted(fmt.Sprintf("state: %s  context: %s", res.State(), orDash(res.ContextID))))
		}
	},
}

func init() {
	a2aSendCmd.Flags().StringVar(&a2aContextID, "context", "", "Continue an existing conversation context")
	a2aCmd.AddCommand(a2aCardCmd, a2aSendCmd)
	rootCmd.AddCommand(a2aCmd)
}
