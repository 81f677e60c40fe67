package crmapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInboundTextEvent(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ev, err := NewInboundTextEvent("main", "+55 11 99999-0000", "Maria", "Olá", now)
	require.NoError(t, err)

	assert.Equal(t, EventMessagesUpsert, ev.Event)
	assert.Equal(t, "5511999990000@s.whatsapp.net", ev.Sender)
	assert.Equal(t, "2024-05-01T12:00:00.000Z", ev.DateTime)

	data := ev.Data.(MessageData)
	assert.False(t, data.Key.FromMe)
	assert.True(t, strings.HasPrefix(data.Key.ID, "3EB0"))
	assert.Len(t, data.Key.ID, 20)
	assert.Equal(t, "Olá", data.Message["conversation"])
	assert.Equal(t, now.Unix(), data.MessageTimestamp)

	_, err = NewInboundTextEvent("main", "abc", "", "hi", now)
	assert.Error(t, err)
	_, err = NewInboundTextEvent("main", "5511999990000", "", " ", now)
	assert.Error(t, err)
}

func TestWebhookSlug(t *testing.T) {
	assert.Equal(t, "messages-upsert", WebhookSlug("messages.upsert"))
	assert.Equal(t, "connection-update", WebhookSlug("CONNECTION_UPDATE"))
}

func TestSimulateWebhook(t *testing.T) {
	var gotPath string
	var got map[string]interface{}
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":true}`))
	})

	ev := NewConnectionEvent("main", "open", time.Now())

	res, err := c.SimulateWebhook(context.Background(), ev, false)
	require.NoError(t, err)
	assert.Equal(t, WebhookPath, gotPath)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, `{"success":true}`, res.Body)
	assert.Equal(t, "connection.update", got["event"])
	assert.Equal(t, "main", got["instance"])

	_, err = c.SimulateWebhook(context.Background(), ev, true)
	require.NoError(t, err)
	assert.Equal(t, WebhookPath+"/connection-update", gotPath)
}
