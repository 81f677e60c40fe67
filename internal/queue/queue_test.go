package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboundMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     OutboundMessage
		wantErr string
		wantTo  string
	}{
		{
			name:   "normalizes number",
			msg:    OutboundMessage{TicketID: "t1", InstanceName: "main", To: "+55 (11) 99999-0000", Text: "oi"},
			wantTo: "5511999990000",
		},
		{
			name:   "strips jid suffix",
			msg:    OutboundMessage{TicketID: "t1", InstanceName: "main", To: "5511999990000@s.whatsapp.net", Text: "oi"},
			wantTo: "5511999990000",
		},
		{
			name:   "media only",
			msg:    OutboundMessage{TicketID: "t1", InstanceName: "main", To: "5511", MediaURL: "https://x/y.png"},
			wantTo: "5511",
		},
		{name: "missing ticket", msg: OutboundMessage{InstanceName: "main", To: "1", Text: "x"}, wantErr: "ticketId"},
		{name: "missing instance", msg: OutboundMessage{TicketID: "t1", To: "1", Text: "x"}, wantErr: "instanceName"},
		{name: "bad recipient", msg: OutboundMessage{TicketID: "t1", InstanceName: "main", To: "abc", Text: "x"}, wantErr: "recipient"},
		{name: "no content", msg: OutboundMessage{TicketID: "t1", InstanceName: "main", To: "1", Text: "  "}, wantErr: "text or mediaUrl"},
		{name: "negative attempt", msg: OutboundMessage{TicketID: "t1", InstanceName: "main", To: "1", Text: "x", Attempt: -1}, wantErr: "attempt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTo, tt.msg.To)
		})
	}
}

func TestPublishingDefaults(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m := &OutboundMessage{TicketID: "t1", InstanceName: "main", To: "5511", Text: "oi"}

	p, err := m.publishing(now)
	require.NoError(t, err)

	assert.NotEmpty(t, m.ID)
	assert.Equal(t, m.ID, p.MessageId)
	assert.Equal(t, 1, m.Attempt)
	assert.Equal(t, now, p.Timestamp)
	assert.Equal(t, amqp.Persistent, p.DeliveryMode)
	assert.Equal(t, "application/json", p.ContentType)
	assert.Equal(t, int32(1), p.Headers[HeaderAttempt])

	var decoded OutboundMessage
	require.NoError(t, json.Unmarshal(p.Body, &decoded))
	assert.Equal(t, *m, decoded)
}

func TestPublishingKeepsExplicitFields(t *testing.T) {
	created := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	m := &OutboundMessage{ID: "fixed", TicketID: "t1", InstanceName: "main", To: "1", Text: "x", Attempt: 3, CreatedAt: created}
	p, err := m.publishing(time.Now())
	require.NoError(t, err)
	assert.Equal(t, "fixed", p.MessageId)
	assert.Equal(t, created, p.Timestamp)
	assert.Equal(t, int32(3), p.Headers[HeaderAttempt])
}

func TestPeekedDecodesOutbound(t *testing.T) {
	body, _ := json.Marshal(OutboundMessage{ID: "m1", TicketID: "t1", To: "1", Text: "oi"})
	p := peeked(amqp.Delivery{
		MessageId:   "m1",
		Body:        body,
		Redelivered: true,
		Headers:     amqp.Table{HeaderAttempt: int64(2)},
	})
	require.NotNil(t, p.Message)
	assert.Equal(t, "t1", p.Message.TicketID)
	assert.Equal(t, 2, p.Attempt)
	assert.True(t, p.Redelivered)
	assert.Empty(t, p.Body)

	raw := peeked(amqp.Delivery{Body: []byte("not json")})
	assert.Nil(t, raw.Message)
	assert.Equal(t, "not json", raw.Body)
}

func TestAttemptHeader(t *testing.T) {
	assert.Equal(t, 0, attemptHeader(nil))
	assert.Equal(t, 4, attemptHeader(amqp.Table{HeaderAttempt: int8(4)}))
	assert.Equal(t, 5, attemptHeader(amqp.Table{HeaderAttempt: "5"}))
	assert.Equal(t, 0, attemptHeader(amqp.Table{HeaderAttempt: 1.5}))
}

func TestMapError(t *testing.T) {
	err := mapError("q", &amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - no queue 'q'"})
	assert.ErrorIs(t, err, ErrQueueNotFound)

	err = mapError("q", &amqp.Error{Code: amqp.AccessRefused})
	assert.NotErrorIs(t, err, ErrQueueNotFound)
	assert.Contains(t, err.Error(), "queue q")
}

func TestDialEmptyURL(t *testing.T) {
	_, err := Dial("")
	assert.Error(t, err)
}

// TestBrokerRoundTrip runs against a real broker when CRMCTL_TEST_AMQP_URL is set.
func TestBrokerRoundTrip(t *testing.T) {
	url := os.Getenv("CRMCTL_TEST_AMQP_URL")
	if url == "" {
		t.Skip("CRMCTL_TEST_AMQP_URL not set")
	}
	b, err := Dial(url)
	require.NoError(t, err)
	defer b.Close()

	name := fmt.Sprintf("crmctl.test.%d", time.Now().UnixNano())
	err = b.withChannel(func(ch *amqp.Channel) error {
		_, err := ch.QueueDeclare(name, false, true, false, false, nil)
		return err
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := 0; i < 3; i++ {
		m := &OutboundMessage{TicketID: fmt.Sprintf("t%d", i), InstanceName: "main", To: "5511", Text: "oi"}
		require.NoError(t, b.Publish(ctx, name, m))
	}

	stats, err := b.Stats(ctx, name, name+".missing")
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.True(t, stats[0].Exists)
	assert.Equal(t, 3, stats[0].Messages)
	assert.False(t, stats[1].Exists)
	assert.Empty(t, stats[1].Error)

	peek, err := b.Peek(name, 2)
	require.NoError(t, err)
	require.Len(t, peek, 2)
	assert.Equal(t, "t0", peek[0].Message.TicketID)

	// Peek must not consume.
	stats, err = b.Stats(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, 3, stats[0].Messages)

	n, err := b.Purge(name)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = b.Purge(name + ".missing")
	assert.ErrorIs(t, err, ErrQueueNotFound)
}

func TestRunWithContext(t *testing.T) {
	assert.NoError(t, runWithContext(context.Background(), func() error { return nil }))

	boom := fmt.Errorf("channel closed")
	assert.Equal(t, boom, runWithContext(context.Background(), func() error { return boom }))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	release := make(chan struct{})
	defer close(release)
	start := time.Now()
	err := runWithContext(ctx, func() error {
		<-release
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)

	cancelled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	called := false
	err = runWithContext(cancelled, func() error { called = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
