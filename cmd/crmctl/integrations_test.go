package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmops/crmctl/internal/config"
	"github.com/crmops/crmctl/internal/crmapi"
	"github.com/crmops/crmctl/internal/types"
)

// recordingServer answers every request with status and body and keeps the
// last request path, API key header and decoded JSON body.
type recordingServer struct {
	*httptest.Server
	path   string
	apiKey string
	body   map[string]interface{}
}

func newRecordingServer(t *testing.T, status int, body string) *recordingServer {
	t.Helper()
	rs := &recordingServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.path = r.URL.Path
		rs.apiKey = r.Header.Get("apikey")
		if rs.apiKey == "" {
			rs.apiKey = r.Header.Get("x-api-key")
		}
		rs.body = nil
		_ = json.NewDecoder(r.Body).Decode(&rs.body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(rs.Close)
	return rs
}

func TestWebhookSimulateInboundText(t *testing.T) {
	setupCmdTest(t)
	srv := newRecordingServer(t, http.StatusOK, `{"ok":true}`)
	config.Set(config.KeyCRMURL, srv.URL)
	config.Set(config.KeyEvolutionInstance, "support")
	config.Set(config.KeyEvolutionByEvents, true)
	setVar(t, &simulateEvent, crmapi.EventMessagesUpsert)
	setVar(t, &simulatePhone, "+55 (11) 99999-8888")
	setVar(t, &simulateText, "preciso de ajuda")
	setVar(t, &simulateName, "Bruno")

	out, code := capture(t, func() { webhookSimulateCmd.Run(webhookSimulateCmd, nil) })
	require.Equal(t, 0, code)
	assert.Contains(t, out, "POST "+crmapi.WebhookPath+"/messages-upsert")
	assert.Contains(t, out, "200")

	assert.Equal(t, crmapi.WebhookPath+"/messages-upsert", srv.path)
	assert.Equal(t, "messages.upsert", srv.body["event"])
	assert.Equal(t, "support", srv.body["instance"])
	data, ok := srv.body["data"].(map[string]interface{})
	require.True(t, ok)
	key, ok := data["key"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, types.JIDFromPhone("5511999998888"), key["remoteJid"])
	assert.Equal(t, "Bruno", data["pushName"])
}

func TestWebhookSimulateConnectionUpdate(t *testing.T) {
	setupCmdTest(t)
	srv := newRecordingServer(t, http.StatusOK, `{}`)
	config.Set(config.KeyCRMURL, srv.URL)
	setVar(t, &simulateEvent, "CONNECTION_UPDATE")
	setVar(t, &simulateState, "close")
	setVar(t, &simulateInstance, "sales")

	_, code := capture(t, func() { webhookSimulateCmd.Run(webhookSimulateCmd, nil) })
	require.Equal(t, 0, code)
	assert.Equal(t, crmapi.WebhookPath, srv.path)
	assert.Equal(t, "connection.update", srv.body["event"])
}

func TestWebhookSimulateNeedsInstance(t *testing.T) {
	setupCmdTest(t)
	setVar(t, &simulateInstance, "")
	_, code := capture(t, func() { webhookSimulateCmd.Run(webhookSimulateCmd, nil) })
	assert.Equal(t, 1, code)
}

func TestA2ASend(t *testing.T) {
	setupCmdTest(t)
	srv := newRecordingServer(t, http.StatusOK, `{"jsonrpc":"2.0","id":"1","result":{
		"kind":"message","role":"agent","contextId":"ctx-9",
		"parts":[{"kind":"text","text":"Abrimos às 9h."}]}}`)
	config.Set(config.KeyCRMURL, srv.URL)
	config.Set(config.KeyCRMAPIKey, "crm-key")
	setVar(t, &a2aContextID, "ctx-9")

	out, code := capture(t, func() { a2aSendCmd.Run(a2aSendCmd, []string{"agent-1", "Que horas abrem?"}) })
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Abrimos às 9h.")
	assert.Contains(t, out, "ctx-9")

	assert.Equal(t, "/api/v1/a2a/agent-1", srv.path)
	assert.Equal(t, "crm-key", srv.apiKey)
	assert.Equal(t, "message/send", srv.body["method"])
}

func TestA2ACard(t *testing.T) {
	setupCmdTest(t)
	srv := newRecordingServer(t, http.StatusOK, `{"name":"Triagem","url":"http://x/a2a","version":"1.0",
		"capabilities":{"streaming":true},"skills":[{"id":"faq","name":"FAQ","tags":["support"]}]}`)
	config.Set(config.KeyCRMURL, srv.URL)

	out, code := capture(t, func() { a2aCardCmd.Run(a2aCardCmd, []string{"agent-1"}) })
	require.Equal(t, 0, code)
	assert.Equal(t, "/api/v1/a2a/agent-1/.well-known/agent.json", srv.path)
	assert.Contains(t, out, "Triagem")
	assert.Contains(t, out, "faq")
	assert.Contains(t, out, "streaming=true")
}

func TestEvolutionState(t *testing.T) {
	setupCmdTest(t)
	srv := newRecordingServer(t, http.StatusOK, `{"instance":{"instanceName":"support","state":"open"}}`)
	config.Set(config.KeyEvolutionURL, srv.URL)
	config.Set(config.KeyEvolutionAPIKey, "evo-key")
	setVar(t, &evoInstance, "support")
	setVar(t, &jsonOutput, true)

	out, code := capture(t, func() { evoStateCmd.Run(evoStateCmd, nil) })
	require.Equal(t, 0, code)
	assert.Equal(t, "/instance/connectionState/support", srv.path)
	assert.Equal(t, "evo-key", srv.apiKey)
	assert.JSONEq(t, `{"instance":"support","state":"open"}`, out)
}

func TestEvolutionUnknownInstance(t *testing.T) {
	setupCmdTest(t)
	srv := newRecordingServer(t, http.StatusNotFound, `{"status":404,"error":"Not Found"}`)
	config.Set(config.KeyEvolutionURL, srv.URL)
	setVar(t, &evoInstance, "ghost")

	_, code := capture(t, func() { evoStateCmd.Run(evoStateCmd, nil) })
	assert.Equal(t, 1, code)
}

func TestMessagesSendViaEvolutionRecords(t *testing.T) {
	setupCmdTest(t)
	s := useMemoryStore(t)
	seedFixture(t, s)
	srv := newRecordingServer(t, http.StatusCreated, `{"key":{"remoteJid":"5511999990001@s.whatsapp.net","fromMe":true,"id":"3EB0ABC"},"status":"PENDING"}`)
	config.Set(config.KeyEvolutionURL, srv.URL)
	setVar(t, &sendTicket, "t-open")
	setVar(t, &sendText, "Olá Bruno")
	setVar(t, &sendVia, viaEvolution)
	setVar(t, &sendRecord, true)

	out, code := capture(t, func() { messagesSendCmd.Run(messagesSendCmd, nil) })
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Sent via support")

	assert.Equal(t, "/message/sendText/support", srv.path)
	assert.Equal(t, "5511999990001", srv.body["number"])

	msgs, err := s.ListMessages(context.Background(), types.MessageFilter{TicketID: "t-open"})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "3EB0ABC", msgs[0].ExternalID)
	assert.Equal(t, types.SenderAgent, msgs[0].Sender)

	ticket, err := s.GetTicket(context.Background(), "t-open")
	require.NoError(t, err)
	assert.Equal(t, "Olá Bruno", ticket.LastMessage)
}

func TestMessagesSendViaCRM(t *testing.T) {
	setupCmdTest(t)
	srv := newRecordingServer(t, http.StatusCreated, `{"message":{"id":"m-1","ticketId":"t-open","content":"oi","sender":"agent"}}`)
	config.Set(config.KeyCRMURL, srv.URL)
	setVar(t, &sendTicket, "t-open")
	setVar(t, &sendText, "oi")
	setVar(t, &sendVia, viaCRM)

	out, code := capture(t, func() { messagesSendCmd.Run(messagesSendCmd, nil) })
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Sent message m-1 on ticket t-open")
	assert.Equal(t, "oi", srv.body["content"])
}

func TestMessagesSendRequiresText(t *testing.T) {
	setupCmdTest(t)
	setVar(t, &sendTicket, "t-open")
	setVar(t, &sendText, "  ")
	_, code := capture(t, func() { messagesSendCmd.Run(messagesSendCmd, nil) })
	assert.Equal(t, 1, code)
}

func TestMessagesListFromStore(t *testing.T) {
	setupCmdTest(t)
	s := useMemoryStore(t)
	seedFixture(t, s)
	ctx := context.Background()
	for i, text := range []string{"primeira", "segunda", "terceira"} {
		require.NoError(t, s.CreateMessage(ctx, &types.Message{
			TicketID: "t-open", Content: text, Sender: types.SenderCustomer,
			Timestamp: testNow.Add(time.Duration(i-3) * time.Hour),
		}))
	}
	setVar(t, &messagesTicket, "t-open")
	setVar(t, &messagesSource, sourceStore)
	setVar(t, &messagesSince, "150m")

	out, code := capture(t, func() { messagesListCmd.Run(messagesListCmd, nil) })
	require.Equal(t, 0, code)
	assert.NotContains(t, out, "primeira")
	assert.Contains(t, out, "segunda")
	assert.Contains(t, out, "terceira")
}

func TestApplyMessageFilterKeepsNewest(t *testing.T) {
	msgs := []*types.Message{
		{ID: "3", TicketID: "t", Timestamp: testNow},
		{ID: "1", TicketID: "t", Timestamp: testNow.Add(-2 * time.Hour)},
		{ID: "x", TicketID: "other", Timestamp: testNow},
		{ID: "2", TicketID: "t", Timestamp: testNow.Add(-time.Hour)},
	}
	got := applyMessageFilter(msgs, types.MessageFilter{TicketID: "t", Limit: 2})
	require.Len(t, got, 2)
	assert.Equal(t, "2", got[0].ID)
	assert.Equal(t, "3", got[1].ID)
}
