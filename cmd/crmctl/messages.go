package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crmops/crmctl/internal/config"
	"github.com/crmops/crmctl/internal/queue"
	"github.com/crmops/crmctl/internal/timeparsing"
	"github.com/crmops/crmctl/internal/types"
	"github.com/crmops/crmctl/internal/ui"
)

const (
	viaCRM       = "crm"
	viaEvolution = "evolution"
	viaQueue     = "queue"
)

var (
	messagesTicket string
	messagesSince  string
	messagesLimit  int
	messagesSource string

	sendTicket string
	sendText   string
	sendVia    string
	sendRecord bool
)

var messagesCmd = &cobra.Command{
	Use:     "messages",
	GroupID: "data",
	Short:   "List and send ticket messages",
}

var messagesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a ticket's messages, oldest first",
	Example: `  crmctl messages list --ticket 5f0c... --since 2h
  crmctl messages list --ticket 5f0c... --source api --json`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if messagesTicket == "" {
			FatalErrorWithHint("--ticket is required", "Find ticket IDs with 'crmctl tickets list'")
			return
		}
		filter := types.MessageFilter{TicketID: messagesTicket, Limit: messagesLimit}
		if messagesSince != "" {
			t, err := timeparsing.ParseSince(messagesSince, now())
			if err != nil {
				FatalError("--since: %w", err)
				return
			}
			filter.Since = t
		}

		ctx := getRootContext()
		var (
			msgs []*types.Message
			err  error
		)
		switch messagesSource {
		case sourceAPI:
			msgs, err = newCRMClient().ListMessages(ctx, messagesTicket)
			msgs = applyMessageFilter(msgs, filter)
		case sourceStore:
			msgs, err = getStore(ctx).ListMessages(ctx, filter)
			types.SortMessagesChronological(msgs)
		default:
			FatalErrorWithHint(fmt.Sprintf("unknown source %q", messagesSource), "Use --source store or api")
			return
		}
		if err != nil {
			FatalError("listing messages: %w", err)
			return
		}

		if jsonOutput {
			outputJSON(msgs)
			return
		}
		if len(msgs) == 0 {
			fmt.Println("No messages found.")
			return
		}
		var b strings.Builder
		for _, m := range msgs {
			b.WriteString(formatMessageLine(m))
		}
		if err := ui.ToPager(b.String(), ui.PagerOptions{}); err != nil {
			FatalError("%w", err)
		}
	},
}

// applyMessageFilter finishes filtering for sources that ignore the filter.
// The limit keeps the newest messages.
func applyMessageFilter(msgs []*types.Message, f types.MessageFilter) []*types.Message {
	out := make([]*types.Message, 0, len(msgs))
	for _, m := range msgs {
		if f.Matches(m) {
			out = append(out, m)
		}
	}
	types.SortMessagesChronological(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

func formatMessageLine(m *types.Message) string {
	who := string(m.Sender)
	switch m.Sender {
	case types.SenderAI:
		who = ui.AIStyle.Render(who)
	case types.SenderAgent:
		who = ui.RenderAccent(who)
	case types.SenderSystem:
		who = ui.RenderMuted(who)
	}
	status := ""
	if m.Status == types.MessageFailed {
		status = " " + ui.RenderFail(string(m.Status))
	}
	content := strings.ReplaceAll(strings.TrimRight(m.Content, "\n"), "\n", "\n    ")
	return fmt.Sprintf("%s %s%s\n    %s\n",
		ui.RenderMuted(m.Timestamp.Local().Format("2006-01-02 15:04")), who, status, content)
}

var messagesSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a text message to a ticket's contact",
	Long: `Send a text message on a ticket.

  --via crm        POST it to the CRM API, which records and delivers it (default)
  --via evolution  send it straight through the Evolution gateway
  --via queue      publish it to the outbound RabbitMQ queue for the dispatcher

The evolution and queue paths look the ticket up in Firestore to find the
recipient and instance. With --record, the evolution path also writes the
sent message to the ticket.`,
	Example: `  crmctl messages send --ticket 5f0c... --text "Hi, we are looking into it"
  crmctl messages send --ticket 5f0c... --text "test" --via evolution --record`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if sendTicket == "" || strings.TrimSpace(sendText) == "" {
			FatalErrorWithHint("--ticket and --text are required", "crmctl messages send --ticket <id> --text <text>")
			return
		}
		switch sendVia {
		case viaCRM:
			sendViaCRM()
		case viaEvolution:
			sendViaEvolution()
		case viaQueue:
			sendViaQueue()
		default:
			FatalErrorWithHint(fmt.Sprintf("unknown --via %q", sendVia), "Use crm, evolution or queue")
		}
	},
}

func sendViaCRM() {
	m, err := newCRMClient().SendMessage(getRootContext(), sendTicket, sendText)
	if err != nil {
		FatalError("sending message: %w", err)
		return
	}
	if jsonOutput {
		outputJSON(m)
		return
	}
	printSuccess("Sent message %s on ticket %s", orDash(m.ID), sendTicket)
}

// ticketRecipient returns the number to send to and the instance that owns
// the conversation.
func ticketRecipient(t *types.Ticket) (to, instance string) {
	to = t.RemoteJID
	if to == "" {
		to = t.ContactPhone
	}
	instance = t.InstanceName
	if instance == "" {
		instance = instanceName("")
	}
	return to, instance
}

func sendViaEvolution() {
	ctx := getRootContext()
	store := getStore(ctx)
	t, err := store.GetTicket(ctx, sendTicket)
	if err != nil {
		FatalError("%w", err)
		return
	}
	to, instance := ticketRecipient(t)
	if types.NormalizePhone(to) == "" {
		FatalError("ticket %s has no usable contact number", t.ID)
		return
	}
	res, err := newEvolutionClient().SendText(ctx, instance, to, sendText)
	if err != nil {
		FatalError("sending via %s: %w", instance, err)
		return
	}

	var recorded *types.Message
	if sendRecord {
		recorded = &types.Message{
			TicketID:     t.ID,
			Content:      sendText,
			Type:         "text",
			Sender:       types.SenderAgent,
			FromMe:       true,
			Status:       types.MessageSent,
			ExternalID:   res.Key.ID,
			InstanceName: instance,
			Timestamp:    now().UTC(),
		}
		if err := store.CreateMessage(ctx, recorded); err != nil {
			FatalError("message sent but not recorded: %w", err)
			return
		}
		if err := store.UpdateTicket(ctx, t.ID, map[string]interface{}{
			"lastMessage":   sendText,
			"lastMessageAt": recorded.Timestamp,
			"updatedAt":     recorded.Timestamp,
		}); err != nil {
			WarnError("updating ticket %s: %v", t.ID, err)
		}
	}

	if jsonOutput {
		outputJSON(map[string]interface{}{"instance": instance, "response": res, "recorded": recorded})
		return
	}
	printSuccess("Sent via %s to %s (key %s)", instance, res.Key.RemoteJID, orDash(res.Key.ID))
	if recorded != nil {
		fmt.Printf("  recorded as message %s\n", recorded.ID)
	}
}

func sendViaQueue() {
	ctx := getRootContext()
	t, err := getStore(ctx).GetTicket(ctx, sendTicket)
	if err != nil {
		FatalError("%w", err)
		return
	}
	to, instance := ticketRecipient(t)
	msg := &queue.OutboundMessage{
		TicketID:     t.ID,
		InstanceName: instance,
		To:           to,
		Text:         sendText,
	}
	publishOutbound(config.GetString(config.KeyRabbitOutboundQueue), msg)
}

// publishOutbound validates and publishes msg, then reports it.
func publishOutbound(queueName string, msg *queue.OutboundMessage) {
	if err := msg.Validate(); err != nil {
		FatalError("invalid message: %w", err)
		return
	}
	if err := getBroker().Publish(getRootContext(), queueName, msg); err != nil {
		FatalError("publishing: %w", err)
		return
	}
	if jsonOutput {
		outputJSON(msg)
		return
	}
	printSuccess("Published %s to %s (ticket %s, to %s)", msg.ID, queueName, msg.TicketID, msg.To)
}

func init() {
	messagesListCmd.Flags().StringVar(&messagesTicket, "ticket", "", "Ticket ID (required)")
	messagesListCmd.Flags().StringVar(&messagesSince, "since", "", "Only messages since a time (2h, 3d, yesterday, 2025-01-15)")
	messagesListCmd.Flags().IntVarP(&messagesLimit, "limit", "n", 0, "Keep only the newest N messages")
	messagesListCmd.Flags().StringVar(&messagesSource, "source", sourceStore, "Read from store (Firestore) or api (CRM API)")

	messagesSendCmd.Flags().StringVar(&sendTicket, "ticket", "", "Ticket ID (required)")
	messagesSendCmd.Flags().StringVar(&sendText, "text", "", "Message text (required)")
	messagesSendCmd.Flags().StringVar(&sendVia, "via", viaCRM, "Delivery path: crm, evolution or queue")
	messagesSendCmd.Flags().BoolVar(&sendRecord, "record", false, "With --via evolution, also record the message on the ticket")

	messagesCmd.AddCommand(messagesListCmd, messagesSendCmd)
	rootCmd.AddCommand(messagesCmd)
}
