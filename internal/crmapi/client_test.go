package crmapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmops/crmctl/internal/httpx"
	"github.com/crmops/crmctl/internal/types"
)

func newTestClient(t *testing.T, apiKey string, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, apiKey).WithHTTP(func(h *httpx.Client) *httpx.Client {
		return h.WithRetries(0, time.Millisecond)
	})
}

func TestListTicketsWrappedAndFiltered(t *testing.T) {
	c := newTestClient(t, "k", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tickets", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		assert.Equal(t, "open", r.URL.Query().Get("status"))
		assert.Equal(t, "true", r.URL.Query().Get("unassigned"))
		// The route ignores unassigned; the client must filter.
		_, _ = io.WriteString(w, `{"tickets":[
			{"id":"t1","status":"open","contactPhone":"1","createdAt":"2024-05-01T10:00:00Z"},
			{"id":"t2","status":"open","assignedAgentId":"a1","contactPhone":"2","createdAt":"2024-05-01T11:00:00Z"}
		]}`)
	})

	tickets, err := c.ListTickets(context.Background(), types.TicketFilter{Status: types.TicketOpen, Unassigned: true})
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, "t1", tickets[0].ID)
}

func TestListAgentsBareArray(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `[{"id":"b","name":"Bruna","type":"human"},{"id":"a","name":"ana","type":"ai","active":true}]`)
	})
	agents, err := c.ListAgents(context.Background())
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "ana", agents[0].Name)
	assert.Equal(t, types.AgentAI, agents[0].Type)
}

func TestGetTicketNotFound(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"Ticket not found"}`)
	})
	_, err := c.GetTicket(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnauthorized(t *testing.T) {
	c := newTestClient(t, "bad", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := c.ListAgents(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAssignTicket(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/tickets/t1", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "a1", body["assignedAgentId"])
		assert.Equal(t, "ai", body["assignedAgentType"])
		_, _ = io.WriteString(w, `{"success":true,"ticket":{"id":"t1","status":"in_progress","assignedAgentId":"a1"}}`)
	})
	tk, err := c.AssignTicket(context.Background(), "t1", "a1", types.AgentAI)
	require.NoError(t, err)
	assert.Equal(t, types.TicketInProgress, tk.Status)
	assert.Equal(t, "a1", tk.AssignedAgentID)
}

func TestMessages(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			assert.Equal(t, "t1", r.URL.Query().Get("ticketId"))
			_, _ = io.WriteString(w, `{"data":[
				{"id":"m2","ticketId":"t1","content":"second","sender":"agent","timestamp":"2024-05-01T10:01:00Z"},
				{"id":"m1","ticketId":"t1","content":"first","sender":"customer","timestamp":"2024-05-01T10:00:00Z"}
			]}`)
		case http.MethodPost:
			var body SendMessageRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, types.SenderAgent, body.Sender)
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"id":"m3","ticketId":"t1","content":"`+body.Content+`","sender":"agent","status":"sent"}`)
		}
	})

	msgs, err := c.ListMessages(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)

	m, err := c.SendMessage(context.Background(), "t1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "m3", m.ID)
	assert.Equal(t, types.MessageSent, m.Status)

	_, err = c.SendMessage(context.Background(), "", "hello")
	assert.Error(t, err)
}

func TestSendMessageIsNotResentAfterServerError(t *testing.T) {
	var posts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&posts, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"message":{"id":"m9"}}`)
	}))
	t.Cleanup(server.Close)
	c := NewClient(server.URL, "k").WithHTTP(func(h *httpx.Client) *httpx.Client {
		return h.WithRetries(3, time.Millisecond)
	})

	_, err := c.SendMessage(context.Background(), "t1", "hello")
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, httpx.StatusCode(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&posts))
}

func TestHealthFallsBackToAgents(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, `[]`)
	})
	res, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/api/agents", res.Endpoint)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestDecodeListErrors(t *testing.T) {
	var out []map[string]interface{}
	assert.Error(t, decodeList([]byte(`{"other":[]}`), "tickets", &out))
	assert.NoError(t, decodeList([]byte(``), "tickets", &out))
	assert.NoError(t, decodeList([]byte(`{"items":[{"a":1}]}`), "tickets", &out))
	assert.Len(t, out, 1)
}
