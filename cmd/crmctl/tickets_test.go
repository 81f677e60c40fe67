package main

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmops/crmctl/internal/assign"
	"github.com/crmops/crmctl/internal/types"
)

func ticketIDs(tickets []types.Ticket) []string {
	out := make([]string, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, t.ID)
	}
	return out
}

func TestTicketsListFilters(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(t *testing.T)
		expect []string
	}{
		{"all", func(t *testing.T) {}, []string{"t-open", "t-progress", "t-closed"}},
		{"status", func(t *testing.T) { setVar(t, &ticketsStatus, "OPEN") }, []string{"t-open"}},
		{"unassigned", func(t *testing.T) { setVar(t, &ticketsUnassigned, true) }, []string{"t-open"}},
		{"agent", func(t *testing.T) { setVar(t, &ticketsAgent, agentAna) }, []string{"t-progress", "t-closed"}},
		{"since", func(t *testing.T) { setVar(t, &ticketsSince, "4d") }, []string{"t-open", "t-progress"}},
		{"tag", func(t *testing.T) { setVar(t, &ticketsTag, "vip") }, []string{"t-open"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupCmdTest(t)
			seedFixture(t, useMemoryStore(t))
			setVar(t, &ticketsSource, sourceStore)
			setVar(t, &jsonOutput, true)
			tt.setup(t)

			out, code := capture(t, func() { ticketsListCmd.Run(ticketsListCmd, nil) })
			require.Equal(t, 0, code)

			var got []types.Ticket
			require.NoError(t, json.Unmarshal([]byte(out), &got))
			assert.ElementsMatch(t, tt.expect, ticketIDs(got))
		})
	}
}

func TestTicketsListRejectsBadInput(t *testing.T) {
	setupCmdTest(t)
	useMemoryStore(t)

	setVar(t, &ticketsSource, "sheets")
	_, code := capture(t, func() { ticketsListCmd.Run(ticketsListCmd, nil) })
	assert.Equal(t, 1, code)

	setVar(t, &ticketsSource, sourceStore)
	setVar(t, &ticketsStatus, "archived")
	_, code = capture(t, func() { ticketsListCmd.Run(ticketsListCmd, nil) })
	assert.Equal(t, 1, code)
}

func TestTicketsListTable(t *testing.T) {
	setupCmdTest(t)
	seedFixture(t, useMemoryStore(t))
	setVar(t, &ticketsSource, sourceStore)
	setVar(t, &ticketsSort, "created:asc")

	out, code := capture(t, func() { ticketsListCmd.Run(ticketsListCmd, nil) })
	require.Equal(t, 0, code)
	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, "Bruno")
	assert.Contains(t, out, "3 ticket(s)")
	assert.Less(t, strings.Index(out, "t-closed"), strings.Index(out, "t-open"))
}

func TestTicketsAssignStore(t *testing.T) {
	setupCmdTest(t)
	s := useMemoryStore(t)
	seedFixture(t, s)
	setVar(t, &ticketsSource, sourceStore)

	out, code := capture(t, func() { ticketsAssignCmd.Run(ticketsAssignCmd, []string{"t-open", agentBot}) })
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Assigned t-open to Triagem Bot")

	ctx := context.Background()
	got, err := s.GetTicket(ctx, "t-open")
	require.NoError(t, err)
	assert.Equal(t, agentBot, got.AssignedAgentID)
	assert.Equal(t, types.AgentAI, got.AssignedAgentType)
	assert.Equal(t, types.TicketInProgress, got.Status)

	inter, err := s.ListInteractions(ctx, types.InteractionFilter{})
	require.NoError(t, err)
	assert.Len(t, inter, 1)
}

func TestTicketsAssignUnknownAgent(t *testing.T) {
	setupCmdTest(t)
	seedFixture(t, useMemoryStore(t))
	setVar(t, &ticketsSource, sourceStore)
	setVar(t, &jsonOutput, true)

	_, code := capture(t, func() { ticketsAssignCmd.Run(ticketsAssignCmd, []string{"t-open", agentGone}) })
	assert.Equal(t, 1, code)
}

func TestAutoAssignDryRunWritesNothing(t *testing.T) {
	setupCmdTest(t)
	s := useMemoryStore(t)
	seedFixture(t, s)
	setVar(t, &autoAssignApply, false)
	setVar(t, &autoAssignStrategy, "")

	out, code := capture(t, func() { ticketsAutoAssignCmd.Run(ticketsAutoAssignCmd, nil) })
	require.Equal(t, 0, code)
	assert.Contains(t, out, "DRY RUN")
	assert.Contains(t, out, "t-open")

	got, err := s.GetTicket(context.Background(), "t-open")
	require.NoError(t, err)
	assert.False(t, got.IsAssigned())
}

func TestAutoAssignApply(t *testing.T) {
	setupCmdTest(t)
	s := useMemoryStore(t)
	seedFixture(t, s)
	setVar(t, &autoAssignApply, true)
	setVar(t, &autoAssignStrategy, string(assign.StrategyLeastLoaded))
	setVar(t, &yesFlag, true)
	setVar(t, &jsonOutput, true)

	out, code := capture(t, func() { ticketsAutoAssignCmd.Run(ticketsAutoAssignCmd, nil) })
	require.Equal(t, 0, code)

	var res struct {
		Plan   assign.Plan   `json:"plan"`
		Result *assign.Result `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Plan.Assignments, 1)
	require.NotNil(t, res.Result)

	got, err := s.GetTicket(context.Background(), "t-open")
	require.NoError(t, err)
	assert.Equal(t, res.Plan.Assignments[0].AgentID, got.AssignedAgentID)
	assert.Equal(t, types.TicketInProgress, got.Status)
}

func TestAutoAssignNeedsConfirmation(t *testing.T) {
	setupCmdTest(t)
	s := useMemoryStore(t)
	seedFixture(t, s)
	setVar(t, &autoAssignApply, true)
	setVar(t, &autoAssignStrategy, "")

	_, code := capture(t, func() { ticketsAutoAssignCmd.Run(ticketsAutoAssignCmd, nil) })
	assert.Equal(t, 1, code)

	got, err := s.GetTicket(context.Background(), "t-open")
	require.NoError(t, err)
	assert.False(t, got.IsAssigned())
}

func TestAutoAssignRoundRobinUsesCursor(t *testing.T) {
	setupCmdTest(t)
	seedFixture(t, useMemoryStore(t))
	cursor := assign.NewMemoryCursor()
	setVar(t, &openCursorFn, func() (assign.CursorStore, error) { return cursor, nil })
	setVar(t, &autoAssignApply, true)
	setVar(t, &autoAssignStrategy, string(assign.StrategyRoundRobin))
	setVar(t, &yesFlag, true)
	setVar(t, &jsonOutput, true)

	_, code := capture(t, func() { ticketsAutoAssignCmd.Run(ticketsAutoAssignCmd, nil) })
	require.Equal(t, 0, code)

	pos, err := cursor.Get(context.Background(), assign.CursorKey)
	require.NoError(t, err)
	assert.NotEmpty(t, pos)
}

func TestTicketsShow(t *testing.T) {
	setupCmdTest(t)
	s := useMemoryStore(t)
	seedFixture(t, s)
	setVar(t, &ticketsSource, sourceStore)
	require.NoError(t, s.CreateMessage(context.Background(), &types.Message{
		TicketID: "t-open", Content: "preciso de ajuda", Sender: types.SenderCustomer, Timestamp: testNow.Add(-time.Minute),
	}))

	out, code := capture(t, func() { ticketsShowCmd.Run(ticketsShowCmd, []string{"t-open"}) })
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Bruno")
	assert.Contains(t, out, "preciso de ajuda")
}
