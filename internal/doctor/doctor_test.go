package doctor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmops/crmctl/internal/crmapi"
	"github.com/crmops/crmctl/internal/evoai"
	"github.com/crmops/crmctl/internal/evolution"
	"github.com/crmops/crmctl/internal/queue"
	"github.com/crmops/crmctl/internal/storage/memory"
	"github.com/crmops/crmctl/internal/types"
)

type fakeEvolution struct {
	instanceErr error
	state       string
	webhook     evolution.WebhookConfig
}

func (f *fakeEvolution) FindInstance(_ context.Context, name string) (*evolution.Instance, error) {
	if f.instanceErr != nil {
		return nil, f.instanceErr
	}
	return &evolution.Instance{Name: name, OwnerJID: "5511999990000@s.whatsapp.net"}, nil
}

func (f *fakeEvolution) ConnectionState(context.Context, string) (string, error) {
	return f.state, nil
}

func (f *fakeEvolution) FindWebhook(context.Context, string) (*evolution.WebhookConfig, error) {
	wh := f.webhook
	return &wh, nil
}

type fakeCRM struct{ err error }

func (f fakeCRM) Health(context.Context) (*crmapi.HealthResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &crmapi.HealthResult{Endpoint: "/api/health", StatusCode: 200, Latency: 12 * time.Millisecond}, nil
}

type fakeEvoAI struct {
	agents []*evoai.Agent
}

func (f fakeEvoAI) Stats(context.Context) (*evoai.Stats, error) {
	st := &evoai.Stats{Agents: len(f.agents)}
	for _, a := range f.agents {
		if !types.IsValidUUID(a.ID) {
			st.MalformedID++
		}
	}
	return st, nil
}

func (f fakeEvoAI) ListAgents(context.Context) ([]*evoai.Agent, error) { return f.agents, nil }

type fakeQueue struct {
	stats queue.QueueStats
	hang  bool // block until ctx is done
}

func (f fakeQueue) Stats(ctx context.Context, queues ...string) ([]queue.QueueStats, error) {
	if f.hang {
		<-ctx.Done()
		return nil, fmt.Errorf("inspect queue %s: %w", queues[0], ctx.Err())
	}
	st := f.stats
	st.Name = queues[0]
	return []queue.QueueStats{st}, nil
}

var expectedWebhook = evolution.WebhookConfig{
	Enabled: true,
	URL:     "http://crm/api/webhooks/evolution",
	Events:  []string{"MESSAGES_UPSERT", "CONNECTION_UPDATE"},
}

func healthyStore(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	agentID := "11111111-1111-4111-8111-111111111111"
	require.NoError(t, s.CreateAgent(ctx, &types.Agent{ID: agentID, Name: "Bot", Type: types.AgentAI, Active: true, EvoAgentID: "22222222-2222-4222-8222-222222222222"}))
	require.NoError(t, s.CreateTicket(ctx, &types.Ticket{ID: "t1", Status: types.TicketInProgress, ContactPhone: "1", AssignedAgentID: agentID}))
	require.NoError(t, s.CreateMessage(ctx, &types.Message{ID: "m1", TicketID: "t1", Sender: types.SenderCustomer}))
	return s
}

func healthyDoctor(t *testing.T) *Doctor {
	return &Doctor{
		Store:         healthyStore(t),
		EvoAI:         fakeEvoAI{agents: []*evoai.Agent{{ID: "22222222-2222-4222-8222-222222222222", Name: "Bot"}}},
		Evolution:     &fakeEvolution{state: evolution.StateOpen, webhook: expectedWebhook},
		Instance:      "main",
		Webhook:       expectedWebhook,
		CRM:           fakeCRM{},
		Queue:         fakeQueue{stats: queue.QueueStats{Exists: true, Messages: 3, Consumers: 1}},
		OutboundQueue: "crm.messages.outbound",
		Version:       "test",
	}
}

func TestAllHealthy(t *testing.T) {
	res := healthyDoctor(t).Run(context.Background())
	for _, c := range res.Checks {
		assert.Equal(t, StatusOK, c.Status, "%s: %s", c.Name, c.Message)
	}
	assert.True(t, res.OverallOK)
	assert.Equal(t, "test", res.CLIVersion)

	// Categories come out in display order.
	var cats []string
	for _, c := range res.Checks {
		if len(cats) == 0 || cats[len(cats)-1] != c.Category {
			cats = append(cats, c.Category)
		}
	}
	assert.Equal(t, CategoryOrder, cats)
}

func TestNothingConfigured(t *testing.T) {
	res := (&Doctor{}).Run(context.Background())
	assert.True(t, res.OverallOK)
	assert.Equal(t, len(CategoryOrder), res.Counts()[StatusSkipped])
	for _, c := range res.Checks {
		assert.NotEmpty(t, c.Fix, c.Name)
	}
}

func TestProblemsAreReported(t *testing.T) {
	ctx := context.Background()
	d := healthyDoctor(t)

	store := d.Store.(*memory.Store)
	require.NoError(t, store.CreateTicket(ctx, &types.Ticket{ID: "t2", Status: types.TicketOpen, ContactPhone: "2"}))
	require.NoError(t, store.CreateTicket(ctx, &types.Ticket{ID: "t3", Status: types.TicketOpen, ContactPhone: "3", AssignedAgentID: "Ana"}))
	require.NoError(t, store.CreateMessage(ctx, &types.Message{ID: "m-orphan", TicketID: "gone", Sender: types.SenderCustomer}))
	require.NoError(t, store.CreateAgent(ctx, &types.Agent{ID: "legacy", Name: "Legacy Bot", Type: types.AgentAI, EvoAgentID: "missing-evo"}))

	d.Evolution = &fakeEvolution{state: "close", webhook: evolution.WebhookConfig{Enabled: true, URL: "http://old"}}
	d.EvoAI = fakeEvoAI{agents: []*evoai.Agent{{ID: "22222222-2222-4222-8222-222222222222"}, {ID: "bad-id"}}}
	d.Queue = fakeQueue{stats: queue.QueueStats{Exists: true, Messages: 250, Consumers: 2}}
	d.CRM = fakeCRM{err: errors.New("connection refused")}

	res := d.Run(ctx)
	assert.False(t, res.OverallOK)

	want := map[string]string{
		"Unassigned tickets":      StatusWarning,
		"Orphaned records":        StatusWarning,
		"Ticket agent references": StatusWarning,
		"Agent IDs":               StatusWarning,
		"Evo AI agent IDs":        StatusWarning,
		"CRM to Evo AI links":     StatusWarning,
		"Connection":              StatusError,
		WebhookCheckName:          StatusWarning,
		"CRM API":                 StatusError,
		"Outbound queue":          StatusWarning,
	}
	for name, status := range want {
		c, ok := res.Find(name)
		require.True(t, ok, name)
		assert.Equal(t, status, c.Status, "%s: %s", name, c.Message)
	}

	wh, _ := res.Find(WebhookCheckName)
	assert.Contains(t, wh.Detail, "url")
	assert.Contains(t, wh.Detail, "events missing")
	links, _ := res.Find("CRM to Evo AI links")
	assert.Contains(t, links.Detail, "missing-evo")
	unassigned, _ := res.Find("Unassigned tickets")
	assert.Contains(t, unassigned.Message, "1 active")
}

func TestConnectionErrorsBecomeErrors(t *testing.T) {
	d := &Doctor{
		StoreErr:      errors.New("no credentials"),
		EvoAIErr:      fmt.Errorf("wrapped: %w", evoai.ErrSchema),
		Evolution:     &fakeEvolution{instanceErr: fmt.Errorf("%w: main", evolution.ErrInstanceNotFound)},
		Instance:      "main",
		QueueErr:      errors.New("dial tcp: refused"),
		OutboundQueue: "q",
	}
	res := d.Run(context.Background())
	assert.False(t, res.OverallOK)

	inst, ok := res.Find("Instance")
	require.True(t, ok)
	assert.Equal(t, StatusError, inst.Status)
	assert.Contains(t, inst.Fix, "Create the instance")

	c := res.Counts()
	assert.Equal(t, 4, c[StatusError])
}

func TestQueueStates(t *testing.T) {
	tests := []struct {
		name   string
		stats  queue.QueueStats
		status string
	}{
		{"missing", queue.QueueStats{}, StatusError},
		{"no consumers", queue.QueueStats{Exists: true}, StatusWarning},
		{"backlog", queue.QueueStats{Exists: true, Consumers: 1, Messages: 10}, StatusWarning},
		{"fine", queue.QueueStats{Exists: true, Consumers: 1, Messages: 9}, StatusOK},
		{"error", queue.QueueStats{Error: "access refused"}, StatusError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Doctor{Queue: fakeQueue{stats: tt.stats}, OutboundQueue: "q", QueueDepth: 10}
			checks := d.checkQueue(context.Background())
			require.Len(t, checks, 2)
			assert.Equal(t, tt.status, checks[1].Status)
		})
	}
}

// failingAgents makes ListAgents fail while every other read works.
type failingAgents struct {
	*memory.Store
}

func (failingAgents) ListAgents(context.Context, types.AgentFilter) ([]*types.Agent, error) {
	return nil, errors.New("firestore: permission denied")
}

func TestAgentListErrorIsReported(t *testing.T) {
	d := &Doctor{Store: failingAgents{healthyStore(t)}}
	checks := d.checkIntegrity(context.Background())

	var found bool
	for _, c := range checks {
		if c.Name == "Agent IDs" {
			found = true
			assert.Equal(t, StatusError, c.Status)
			assert.Contains(t, c.Message, "permission denied")
		}
	}
	assert.True(t, found, "agent list failure must produce a check")
}

func TestQueueCheckHonorsTimeout(t *testing.T) {
	d := &Doctor{
		Queue:         fakeQueue{hang: true},
		OutboundQueue: "q",
		Timeout:       20 * time.Millisecond,
	}
	start := time.Now()
	res := d.Run(context.Background())
	assert.Less(t, time.Since(start), 5*time.Second)

	c, ok := res.Find("Broker")
	require.True(t, ok)
	assert.Equal(t, StatusError, c.Status)
	assert.Contains(t, c.Message, context.DeadlineExceeded.Error())
}

func TestTruncateList(t *testing.T) {
	assert.Equal(t, "a, b", truncateList([]string{"a", "b"}))
	assert.Equal(t, "1, 2, 3, 4, 5 and 2 more", truncateList([]string{"1", "2", "3", "4", "5", "6", "7"}))
}
