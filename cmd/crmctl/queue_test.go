package main

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmops/crmctl/internal/config"
	"github.com/crmops/crmctl/internal/evoai"
	"github.com/crmops/crmctl/internal/queue"
)

type published struct {
	queue string
	msg   queue.OutboundMessage
}

// fakeBroker keeps queue depths in a map and records publishes.
type fakeBroker struct {
	depth     map[string]int
	published []published
	purged    []string
}

func (b *fakeBroker) Stats(_ context.Context, names ...string) ([]queue.QueueStats, error) {
	out := make([]queue.QueueStats, 0, len(names))
	for _, n := range names {
		d, ok := b.depth[n]
		out = append(out, queue.QueueStats{Name: n, Exists: ok, Messages: d})
	}
	return out, nil
}

func (b *fakeBroker) Publish(_ context.Context, name string, m *queue.OutboundMessage) error {
	if m.ID == "" {
		m.ID = "msg-1"
	}
	b.published = append(b.published, published{queue: name, msg: *m})
	b.depth[name]++
	return nil
}

func (b *fakeBroker) Peek(name string, n int) ([]queue.Peeked, error) {
	var out []queue.Peeked
	for _, p := range b.published {
		if p.queue != name || len(out) == n {
			continue
		}
		msg := p.msg
		out = append(out, queue.Peeked{MessageID: msg.ID, Attempt: 1, Message: &msg})
	}
	return out, nil
}

func (b *fakeBroker) Purge(name string) (int, error) {
	n := b.depth[name]
	b.depth[name] = 0
	b.purged = append(b.purged, name)
	return n, nil
}

func useFakeBroker(t *testing.T) *fakeBroker {
	t.Helper()
	b := &fakeBroker{depth: map[string]int{}}
	setVar(t, &openBrokerFn, func() (brokerClient, error) { return b, nil })
	return b
}

func TestResolveQueue(t *testing.T) {
	setupCmdTest(t)
	tests := map[string]string{
		"":            "crm.messages.outbound",
		"outbound":    "crm.messages.outbound",
		"INBOUND":     "crm.messages.inbound",
		"dlq":         "crm.messages.dlq",
		"dead-letter": "crm.messages.dlq",
		"custom.q":    "custom.q",
	}
	for in, want := range tests {
		assert.Equal(t, want, resolveQueue(in), in)
	}
}

func TestQueuePublishNormalizesRecipient(t *testing.T) {
	setupCmdTest(t)
	b := useFakeBroker(t)
	config.Set(config.KeyEvolutionInstance, "support")
	setVar(t, &queueName, "outbound")
	setVar(t, &publishTicket, "t-open")
	setVar(t, &publishTo, "+55 11 99999-0001")
	setVar(t, &publishText, "olá")

	out, code := capture(t, func() { queuePublishCmd.Run(queuePublishCmd, nil) })
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Published msg-1 to crm.messages.outbound")

	require.Len(t, b.published, 1)
	got := b.published[0]
	assert.Equal(t, "crm.messages.outbound", got.queue)
	assert.Equal(t, "5511999990001", got.msg.To)
	assert.Equal(t, "support", got.msg.InstanceName)
}

func TestQueuePublishRejectsMissingTicket(t *testing.T) {
	setupCmdTest(t)
	b := useFakeBroker(t)
	setVar(t, &queueName, "outbound")
	setVar(t, &publishInstance, "support")
	setVar(t, &publishTicket, "")
	setVar(t, &publishTo, "5511999990001")
	setVar(t, &publishText, "olá")

	_, code := capture(t, func() { queuePublishCmd.Run(queuePublishCmd, nil) })
	assert.Equal(t, 1, code)
	assert.Empty(t, b.published)
}

func TestQueuePurge(t *testing.T) {
	setupCmdTest(t)
	b := useFakeBroker(t)
	b.depth["crm.messages.dlq"] = 7
	setVar(t, &queueName, "dlq")

	setVar(t, &purgeApply, false)
	out, code := capture(t, func() { queuePurgeCmd.Run(queuePurgeCmd, nil) })
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Would purge 7 message(s) from crm.messages.dlq")
	assert.Empty(t, b.purged)

	setVar(t, &purgeApply, true)
	_, code = capture(t, func() { queuePurgeCmd.Run(queuePurgeCmd, nil) })
	assert.Equal(t, 1, code, "purge without --yes on a non-terminal must refuse")
	assert.Empty(t, b.purged)

	setVar(t, &yesFlag, true)
	out, code = capture(t, func() { queuePurgeCmd.Run(queuePurgeCmd, nil) })
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Purged 7 message(s)")
	assert.Equal(t, []string{"crm.messages.dlq"}, b.purged)
}

func TestQueuePurgeRequiresQueue(t *testing.T) {
	setupCmdTest(t)
	useFakeBroker(t)
	setVar(t, &queueName, "")
	_, code := capture(t, func() { queuePurgeCmd.Run(queuePurgeCmd, nil) })
	assert.Equal(t, 1, code)
}

func TestQueueStatsAndPeek(t *testing.T) {
	setupCmdTest(t)
	b := useFakeBroker(t)
	b.depth["crm.messages.outbound"] = 0
	b.depth["crm.messages.inbound"] = 3
	require.NoError(t, b.Publish(context.Background(), "crm.messages.outbound", &queue.OutboundMessage{
		TicketID: "t-open", InstanceName: "support", To: "5511999990001", Text: "primeira",
	}))

	out, code := capture(t, func() { queueStatsCmd.Run(queueStatsCmd, nil) })
	require.Equal(t, 0, code)
	assert.Contains(t, out, "crm.messages.inbound")
	assert.Contains(t, out, "no consumers")
	assert.Contains(t, out, "missing")

	setVar(t, &queueName, "outbound")
	setVar(t, &peekCount, 5)
	out, code = capture(t, func() { queuePeekCmd.Run(queuePeekCmd, nil) })
	require.Equal(t, 0, code)
	assert.Contains(t, out, "ticket t-open")
	assert.Contains(t, out, "primeira")
}

func TestMessagesSendViaQueue(t *testing.T) {
	setupCmdTest(t)
	seedFixture(t, useMemoryStore(t))
	b := useFakeBroker(t)
	setVar(t, &sendTicket, "t-open")
	setVar(t, &sendText, "Olá Bruno")
	setVar(t, &sendVia, viaQueue)
	setVar(t, &jsonOutput, true)

	out, code := capture(t, func() { messagesSendCmd.Run(messagesSendCmd, nil) })
	require.Equal(t, 0, code)

	var msg queue.OutboundMessage
	require.NoError(t, json.Unmarshal([]byte(out), &msg))
	assert.Equal(t, "5511999990001", msg.To)
	assert.Equal(t, "support", msg.InstanceName)
	require.Len(t, b.published, 1)
	assert.Equal(t, "crm.messages.outbound", b.published[0].queue)
}

// fakeEvoAI serves a fixed agent list.
type fakeEvoAI struct {
	agents  []*evoai.Agent
	deleted []string
}

func (f *fakeEvoAI) ListAgents(context.Context) ([]*evoai.Agent, error) { return f.agents, nil }

func (f *fakeEvoAI) GetAgent(_ context.Context, id string) (*evoai.Agent, error) {
	for _, a := range f.agents {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, evoai.ErrNotFound
}

func (f *fakeEvoAI) FindMalformedIDs(context.Context) ([]evoai.MalformedID, error) { return nil, nil }

func (f *fakeEvoAI) ReplaceAgentID(context.Context, string, string) (int, error) { return 0, nil }

func (f *fakeEvoAI) RenameConfigKey(context.Context, string, string) (*evoai.RenameResult, error) {
	return &evoai.RenameResult{}, nil
}

func (f *fakeEvoAI) DeleteAgent(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeEvoAI) Stats(context.Context) (*evoai.Stats, error) {
	return &evoai.Stats{Agents: len(f.agents)}, nil
}

func useFakeEvoAI(t *testing.T, agents ...*evoai.Agent) *fakeEvoAI {
	t.Helper()
	f := &fakeEvoAI{agents: agents}
	setVar(t, &openEvoAIFn, func(context.Context) (evoAIStore, error) { return f, nil })
	return f
}

func TestAgentsListCRMIncludesLoad(t *testing.T) {
	setupCmdTest(t)
	seedFixture(t, useMemoryStore(t))
	setVar(t, &agentsSource, agentSourceCRM)
	setVar(t, &agentsType, "")
	setVar(t, &agentsActiveOnly, false)
	setVar(t, &jsonOutput, true)

	out, code := capture(t, func() { agentsListCmd.Run(agentsListCmd, nil) })
	require.Equal(t, 0, code)

	var rows []struct {
		ID          string `json:"id"`
		OpenTickets int    `json:"openTickets"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	loads := map[string]int{}
	for _, r := range rows {
		loads[r.ID] = r.OpenTickets
	}
	assert.Equal(t, map[string]int{agentAna: 1, agentBot: 0}, loads)
}

func TestAgentsListRejectsBadType(t *testing.T) {
	setupCmdTest(t)
	useMemoryStore(t)
	setVar(t, &agentsSource, agentSourceCRM)
	setVar(t, &agentsType, "robot")
	_, code := capture(t, func() { agentsListCmd.Run(agentsListCmd, nil) })
	assert.Equal(t, 1, code)
}

func TestAgentsListEvoAI(t *testing.T) {
	setupCmdTest(t)
	useFakeEvoAI(t,
		&evoai.Agent{ID: "evo-1", Name: "Triagem", Type: "llm", Model: "gpt-4o-mini"},
		&evoai.Agent{ID: "0b6b7d7e-1f0a-4c53-9a43-4d5c1c7b0b01", Name: "Roteador", Type: "a2a"},
	)
	setVar(t, &agentsSource, agentSourceEvoAI)
	setVar(t, &agentsType, "LLM")

	out, code := capture(t, func() { agentsListCmd.Run(agentsListCmd, nil) })
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Triagem")
	assert.Contains(t, out, "gpt-4o-mini")
	assert.NotContains(t, out, "Roteador")
}

func TestRepairEvoAIDeleteRefusesReferencedAgent(t *testing.T) {
	setupCmdTest(t)
	seedFixture(t, useMemoryStore(t))
	f := useFakeEvoAI(t, &evoai.Agent{ID: "evo-1", Name: "Triagem"})
	setVar(t, &repairApply, true)
	setVar(t, &yesFlag, true)

	_, code := capture(t, func() { repairEvoAIDeleteCmd.Run(repairEvoAIDeleteCmd, []string{"evo-1"}) })
	assert.Equal(t, 1, code)
	assert.Empty(t, f.deleted)
}

func TestRepairEvoAIDelete(t *testing.T) {
	setupCmdTest(t)
	seedFixture(t, useMemoryStore(t))
	f := useFakeEvoAI(t, &evoai.Agent{ID: "evo-2", Name: "Antigo"})

	setVar(t, &repairApply, false)
	out, code := capture(t, func() { repairEvoAIDeleteCmd.Run(repairEvoAIDeleteCmd, []string{"evo-2"}) })
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Would delete Evo AI agent evo-2")
	assert.Empty(t, f.deleted)

	setVar(t, &repairApply, true)
	setVar(t, &yesFlag, true)
	_, code = capture(t, func() { repairEvoAIDeleteCmd.Run(repairEvoAIDeleteCmd, []string{"evo-2"}) })
	require.Equal(t, 0, code)
	assert.Equal(t, []string{"evo-2"}, f.deleted)
}
