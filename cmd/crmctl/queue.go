package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crmops/crmctl/internal/config"
	"github.com/crmops/crmctl/internal/queue"
	"github.com/crmops/crmctl/internal/ui"
)

var (
	queueName  string
	peekCount  int
	purgeApply bool

	publishTicket   string
	publishTo       string
	publishText     string
	publishMedia    string
	publishInstance string
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	GroupID: "integrations",
	Short:   "Inspect and feed the RabbitMQ message queues",
	Long: `Inspect and feed the CRM's RabbitMQ queues.

--queue takes a queue name or one of the aliases outbound, inbound and dlq,
which resolve to rabbitmq.outbound-queue, rabbitmq.inbound-queue and
rabbitmq.dead-letter-queue.`,
}

// resolveQueue maps the outbound/inbound/dlq aliases to configured names.
func resolveQueue(name string) string {
	switch strings.ToLower(name) {
	case "", "outbound":
		return config.GetString(config.KeyRabbitOutboundQueue)
	case "inbound":
		return config.GetString(config.KeyRabbitInboundQueue)
	case "dlq", "dead-letter":
		return config.GetString(config.KeyRabbitDLQ)
	}
	return name
}

func configuredQueues() []string {
	var out []string
	for _, q := range []string{
		config.GetString(config.KeyRabbitOutboundQueue),
		config.GetString(config.KeyRabbitInboundQueue),
		config.GetString(config.KeyRabbitDLQ),
	} {
		if q != "" {
			out = append(out, q)
		}
	}
	return out
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats [queue...]",
	Short: "Show depth and consumer count of the queues",
	Run: func(cmd *cobra.Command, args []string) {
		names := configuredQueues()
		if len(args) > 0 {
			names = names[:0]
			for _, a := range args {
				names = append(names, resolveQueue(a))
			}
		}
		stats, err := getBroker().Stats(getRootContext(), names...)
		if err != nil {
			FatalError("%w", err)
			return
		}
		if jsonOutput {
			outputJSON(stats)
			return
		}
		w := newTable("QUEUE", "MESSAGES", "CONSUMERS", "STATE")
		for _, st := range stats {
			state := ui.RenderPass("ok")
			switch {
			case st.Error != "":
				state = ui.RenderFail(st.Error)
			case !st.Exists:
				state = ui.RenderWarn("missing")
			case st.Consumers == 0 && st.Messages > 0:
				state = ui.RenderWarn("no consumers")
			}
			writeRow(w, st.Name, fmt.Sprintf("%d", st.Messages), fmt.Sprintf("%d", st.Consumers), state)
		}
		_ = w.Flush()
	},
}

var queuePeekCmd = &cobra.Command{
	Use:   "peek",
	Short: "Show messages at the head of a queue without consuming them",
	Long: `Read up to -n messages and put them back. The messages keep their position
but are marked redelivered.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		name := resolveQueue(queueName)
		msgs, err := getBroker().Peek(name, peekCount)
		if err != nil {
			FatalError("%w", err)
			return
		}
		if jsonOutput {
			outputJSON(msgs)
			return
		}
		if len(msgs) == 0 {
			fmt.Printf("%s is empty.\n", name)
			return
		}
		for i, p := range msgs {
			fmt.Println(formatPeeked(i+1, p))
		}
	},
}

func formatPeeked(n int, p queue.Peeked) string {
	var b strings.Builder
	head := fmt.Sprintf("#%d %s", n, orDash(p.MessageID))
	fmt.Fprintf(&b, "%s", ui.RenderBold(head))
	if !p.Timestamp.IsZero() {
		fmt.Fprintf(&b, " %s", ui.RenderMuted(ui.Ago(p.Timestamp, now())))
	}
	if p.Attempt > 1 {
		fmt.Fprintf(&b, " %s", ui.RenderWarn(fmt.Sprintf("attempt %d", p.Attempt)))
	}
	b.WriteString("\n")
	if m := p.Message; m != nil {
		fmt.Fprintf(&b, "  ticket %s  to %s  via %s\n", m.TicketID, m.To, m.InstanceName)
		if m.Text != "" {
			fmt.Fprintf(&b, "  %s\n", ui.OneLine(m.Text, 100))
		}
		if m.MediaURL != "" {
			fmt.Fprintf(&b, "  media %s\n", m.MediaURL)
		}
	} else {
		fmt.Fprintf(&b, "  %s\n", ui.RenderMuted(ui.OneLine(p.Body, 100)))
	}
	return b.String()
}

var queuePublishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish an outbound message for the dispatcher to deliver",
	Example: `  crmctl queue publish --ticket 5f0c... --to 5511999998888 --text "hello"
  crmctl queue publish --ticket 5f0c... --to 5511999998888 --media https://example.com/a.png`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		msg := &queue.OutboundMessage{
			TicketID:     publishTicket,
			InstanceName: instanceName(publishInstance),
			To:           publishTo,
			Text:         publishText,
			MediaURL:     publishMedia,
		}
		publishOutbound(resolveQueue(queueName), msg)
	},
}

var queuePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every ready message in a queue",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if queueName == "" {
			FatalErrorWithHint("--queue is required", "Name the queue explicitly, e.g. --queue dlq")
			return
		}
		name := resolveQueue(queueName)
		broker := getBroker()
		if !purgeApply {
			stats, err := broker.Stats(getRootContext(), name)
			if err != nil {
				FatalError("%w", err)
				return
			}
			if jsonOutput {
				outputJSON(map[string]interface{}{"queue": name, "applied": false, "messages": stats[0].Messages})
				return
			}
			printDryRunBanner()
			if !stats[0].Exists {
				fmt.Printf("Queue %s does not exist.\n", name)
				return
			}
			fmt.Printf("Would purge %d message(s) from %s.\n", stats[0].Messages, name)
			return
		}
		if !confirmApply(fmt.Sprintf("Purge every message in %s?", name)) {
			return
		}
		n, err := broker.Purge(name)
		if err != nil {
			FatalError("%w", err)
			return
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"queue": name, "applied": true, "purged": n})
			return
		}
		printSuccess("Purged %d message(s) from %s", n, name)
	},
}

func init() {
	queuePeekCmd.Flags().StringVar(&queueName, "queue", "outbound", "Queue name or alias")
	queuePeekCmd.Flags().IntVarP(&peekCount, "count", "n", 10, "Maximum messages to show")

	queuePublishCmd.Flags().StringVar(&queueName, "queue", "outbound", "Queue name or alias")
	queuePublishCmd.Flags().StringVar(&publishTicket, "ticket", "", "Ticket ID the message belongs to (required)")
	queuePublishCmd.Flags().StringVar(&publishTo, "to", "", "Recipient phone number or group JID (required)")
	queuePublishCmd.Flags().StringVar(&publishText, "text", "", "Message text")
	queuePublishCmd.Flags().StringVar(&publishMedia, "media", "", "Media URL")
	queuePublishCmd.Flags().StringVar(&publishInstance, "instance", "", "Sending instance (default: evolution.instance)")

	queuePurgeCmd.Flags().StringVar(&queueName, "queue", "", "Queue name or alias (required)")
	queuePurgeCmd.Flags().BoolVar(&purgeApply, "apply", false, "Purge (default is a dry run)")

	queueCmd.AddCommand(queueStatsCmd, queuePeekCmd, queuePublishCmd, queuePurgeCmd)
	rootCmd.AddCommand(queueCmd)
}
