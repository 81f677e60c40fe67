package crmapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentCard(t *testing.T) {
	c := newTestClient(t, "k", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/a2a/agent-1/.well-known/agent.json", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("x-api-key"))
		_, _ = io.WriteString(w, `{
			"name":"Support Bot","url":"http://crm/api/v1/a2a/agent-1","version":"1.0.0",
			"capabilities":{"streaming":true},
			"skills":[{"id":"faq","name":"FAQ","tags":["support"]}]
		}`)
	})
	card, err := c.AgentCard(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "Support Bot", card.Name)
	assert.True(t, card.Capabilities.Streaming)
	require.Len(t, card.Skills, 1)
	assert.Equal(t, "faq", card.Skills[0].ID)
}

func TestSendA2ATaskResult(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			JSONRPC string `json:"jsonrpc"`
			ID      string `json:"id"`
			Method  string `json:"method"`
			Params  struct {
				Message A2AMessage `json:"message"`
			} `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "2.0", req.JSONRPC)
		assert.Equal(t, "message/send", req.Method)
		assert.Equal(t, "user", req.Params.Message.Role)
		require.Len(t, req.Params.Message.Parts, 1)
		assert.Equal(t, "qual o horário?", req.Params.Message.Parts[0].Text)
		assert.Equal(t, "ctx-1", req.Params.Message.ContextID)

		_, _ = io.WriteString(w, `{"jsonrpc":"2.0","id":"`+req.ID+`","result":{
			"kind":"task","id":"task-1","contextId":"ctx-1",
			"status":{"state":"completed","message":{"role":"agent","parts":[{"kind":"text","text":"Das 8h às 18h."}]}},
			"artifacts":[{"parts":[{"type":"text","text":"Horário comercial"},{"kind":"file"}]}]
		}}`)
	})

	res, err := c.SendA2A(context.Background(), "agent-1", "qual o horário?", "ctx-1")
	require.NoError(t, err)
	assert.Equal(t, "task", res.Kind)
	assert.Equal(t, "completed", res.State())
	assert.Equal(t, "Das 8h às 18h.\nHorário comercial", res.Text())
}

func TestSendA2AMessageResult(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"jsonrpc":"2.0","id":"1","result":{"kind":"message","role":"agent","parts":[{"kind":"text","text":"oi"}]}}`)
	})
	res, err := c.SendA2A(context.Background(), "agent-1", "olá", "")
	require.NoError(t, err)
	assert.Equal(t, "oi", res.Text())
	assert.Equal(t, "completed", res.State())
}

func TestSendA2ARPCError(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"jsonrpc":"2.0","id":"1","error":{"code":-32601,"message":"Method not found"}}`)
	})
	_, err := c.SendA2A(context.Background(), "agent-1", "olá", "")
	require.Error(t, err)
	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, -32601, rpcErr.Code)

	_, err = c.SendA2A(context.Background(), "agent-1", "", "")
	assert.Error(t, err)
}
