package seed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmops/crmctl/internal/storage/memory"
	"github.com/crmops/crmctl/internal/types"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestGenerateIsDeterministic(t *testing.T) {
	opts := Options{Agents: 3, Tickets: 5, MessagesPerTicket: 3, RandSeed: 42, Now: now}
	a, err := Generate(opts)
	require.NoError(t, err)
	b, err := Generate(opts)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	opts.RandSeed = 43
	c, err := Generate(opts)
	require.NoError(t, err)
	assert.NotEqual(t, a.Tickets[0].ID, c.Tickets[0].ID)
}

func TestGenerateShape(t *testing.T) {
	ds, err := Generate(Options{Agents: 3, Tickets: 6, MessagesPerTicket: 4, RandSeed: 7, Now: now})
	require.NoError(t, err)
	require.Len(t, ds.Agents, 3)
	require.Len(t, ds.Tickets, 6)
	require.Len(t, ds.Messages, 24)

	assert.Equal(t, types.AgentAI, ds.Agents[2].Type)
	for _, a := range ds.Agents {
		assert.True(t, IsSeeded(a), a.Name)
		assert.True(t, types.IsValidUUID(a.ID))
		require.NoError(t, a.Validate())
	}
	for _, tk := range ds.Tickets {
		assert.True(t, tk.HasTag(Tag))
		require.NoError(t, tk.Validate())
		assert.Equal(t, tk.Status != types.TicketOpen, tk.IsAssigned())
		assert.True(t, tk.CreatedAt.Before(now))
		require.NotNil(t, tk.LastMessageAt)
	}

	// Messages alternate customer/agent within a ticket.
	first := ds.Messages[:4]
	assert.Equal(t, types.SenderCustomer, first[0].Sender)
	assert.NotEqual(t, types.SenderCustomer, first[1].Sender)
	assert.True(t, first[1].FromMe)
	assert.True(t, first[0].Timestamp.Before(first[1].Timestamp))
}

func TestGenerateValidation(t *testing.T) {
	_, err := Generate(Options{Agents: -1})
	assert.Error(t, err)
	_, err = Generate(Options{Tickets: 1})
	assert.Error(t, err)

	ds, err := Generate(Options{Agents: 2})
	require.NoError(t, err)
	assert.Len(t, ds.Agents, 2)
	assert.Empty(t, ds.Tickets)
}

func TestWriteAndClean(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	// Unrelated data that Clean must keep.
	require.NoError(t, store.CreateAgent(ctx, &types.Agent{ID: "real", Name: "Maria", Type: types.AgentHuman}))
	require.NoError(t, store.CreateTicket(ctx, &types.Ticket{ID: "real-t", Status: types.TicketOpen, ContactPhone: "1", Tags: []string{"vip"}}))
	require.NoError(t, store.CreateMessage(ctx, &types.Message{ID: "real-m", TicketID: "real-t", Sender: types.SenderCustomer}))

	ds, err := Generate(Options{Agents: 2, Tickets: 3, MessagesPerTicket: 2, RandSeed: 1, Now: now})
	require.NoError(t, err)
	require.NoError(t, Write(ctx, store, ds))

	require.NoError(t, store.CreateInteraction(ctx, &types.AgentInteraction{ID: "i-seed", AgentID: ds.Agents[0].ID, TicketID: "real-t"}))
	require.NoError(t, store.CreateInteraction(ctx, &types.AgentInteraction{ID: "i-real", AgentID: "real", TicketID: "real-t"}))

	assert.Equal(t, 3, store.Len(types.CollectionAgents))
	assert.Equal(t, 7, store.Len(types.CollectionMessages))

	// Writing the same dataset twice collides on IDs.
	assert.Error(t, Write(ctx, store, ds))

	dry, err := Clean(ctx, store, false)
	require.NoError(t, err)
	assert.Equal(t, 2+3+6+1, dry.Total())
	assert.Equal(t, []string{"i-seed"}, dry.Interactions)
	assert.Equal(t, 3, store.Len(types.CollectionAgents), "dry run must not delete")

	res, err := Clean(ctx, store, true)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, 1, store.Len(types.CollectionAgents))
	assert.Equal(t, 1, store.Len(types.CollectionTickets))
	assert.Equal(t, 1, store.Len(types.CollectionMessages))
	assert.Equal(t, 1, store.Len(types.CollectionInteractions))
}

func TestCleanKeepsAgentsAssignedOutsideSeed(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	ds, err := Generate(Options{Agents: 2, Tickets: 2, MessagesPerTicket: 1, RandSeed: 7, Now: now})
	require.NoError(t, err)
	require.NoError(t, Write(ctx, store, ds))

	busy := ds.Agents[0].ID
	require.NoError(t, store.CreateTicket(ctx, &types.Ticket{
		ID: "real-t", Status: types.TicketInProgress, ContactPhone: "1", AssignedAgentID: busy,
	}))
	require.NoError(t, store.CreateInteraction(ctx, &types.AgentInteraction{ID: "i-busy", AgentID: busy, TicketID: "real-t"}))

	res, err := Clean(ctx, store, true)
	require.NoError(t, err)
	assert.Equal(t, []string{busy}, res.KeptAgents)
	assert.NotContains(t, res.Agents, busy)
	assert.Contains(t, res.Agents, ds.Agents[1].ID)
	assert.NotContains(t, res.Interactions, "i-busy")

	_, err = store.GetAgent(ctx, busy)
	require.NoError(t, err, "agent still assigned to real-t must survive")
	kept, err := store.GetTicket(ctx, "real-t")
	require.NoError(t, err)
	assert.Equal(t, busy, kept.AssignedAgentID)
	assert.Equal(t, 1, store.Len(types.CollectionAgents))
	assert.Equal(t, 1, store.Len(types.CollectionTickets))
	assert.Equal(t, 1, store.Len(types.CollectionInteractions))
}
