// Package queue inspects and feeds the CRM's RabbitMQ queues.
//
// crmctl never consumes: Peek reads messages and puts them back, and Publish
// only writes to the default exchange with the queue name as routing key,
// the same way the CRM's dispatcher publishes.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/crmops/crmctl/internal/debug"
)

// DefaultDialTimeout bounds the TCP connect and AMQP handshake.
const DefaultDialTimeout = 10 * time.Second

// ErrQueueNotFound is returned when a passive declare reports 404.
var ErrQueueNotFound = errors.New("queue not found")

// Broker is a connection to one RabbitMQ server.
type Broker struct {
	conn *amqp.Connection
	now  func() time.Time
}

// Dial connects to url (amqp:// or amqps://).
func Dial(url string) (*Broker, error) {
	if url == "" {
		return nil, fmt.Errorf("rabbitmq url is empty")
	}
	conn, err := amqp.DialConfig(url, amqp.Config{
		Dial:       amqp.DefaultDial(DefaultDialTimeout),
		Properties: amqp.Table{"connection_name": "crmctl"},
	})
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	return &Broker{conn: conn, now: time.Now}, nil
}

// Close closes the connection.
func (b *Broker) Close() error {
	if b.conn == nil || b.conn.IsClosed() {
		return nil
	}
	return b.conn.Close()
}

// withChannel runs fn on a fresh channel. A failed passive declare closes
// the channel it ran on, so every operation gets its own.
func (b *Broker) withChannel(fn func(ch *amqp.Channel) error) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()
	return fn(ch)
}

func mapError(queue string, err error) error {
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) && amqpErr.Code == amqp.NotFound {
		return fmt.Errorf("%w: %s", ErrQueueNotFound, queue)
	}
	return fmt.Errorf("queue %s: %w", queue, err)
}

// QueueStats is the depth and consumer count of one queue.
type QueueStats struct {
	Name      string `json:"name"`
	Exists    bool   `json:"exists"`
	Messages  int    `json:"messages"`
	Consumers int    `json:"consumers"`
	Error     string `json:"error,omitempty"`
}

// Stats inspects each queue with a passive declare. A missing queue is
// reported in its QueueStats rather than failing the call; only connection
// level failures and ctx expiry are returned as errors.
func (b *Broker) Stats(ctx context.Context, queues ...string) ([]QueueStats, error) {
	out := make([]QueueStats, 0, len(queues))
	for _, name := range queues {
		st := QueueStats{Name: name}
		err := runWithContext(ctx, func() error {
			return b.withChannel(func(ch *amqp.Channel) error {
				q, err := ch.QueueDeclarePassive(name, true, false, false, false, nil)
				if err != nil {
					return err
				}
				st.Exists = true
				st.Messages = q.Messages
				st.Consumers = q.Consumers
				return nil
			})
		})
		if ctx.Err() != nil {
			return out, fmt.Errorf("inspect queue %s: %w", name, ctx.Err())
		}
		if err != nil {
			if b.conn.IsClosed() {
				return out, fmt.Errorf("rabbitmq connection closed: %w", err)
			}
			err = mapError(name, err)
			if !errors.Is(err, ErrQueueNotFound) {
				st.Error = err.Error()
			}
		}
		out = append(out, st)
	}
	return out, nil
}

// runWithContext runs fn, which cannot be cancelled, and stops waiting for
// it once ctx is done. fn keeps running in the background until the broker
// answers or the connection drops.
func runWithContext(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Publish validates m and publishes it persistently to queue. It returns
// after the broker confirms the message.
func (b *Broker) Publish(ctx context.Context, queue string, m *OutboundMessage) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}
	msg, err := m.publishing(b.now())
	if err != nil {
		return err
	}
	return b.withChannel(func(ch *amqp.Channel) error {
		if _, err := ch.QueueDeclarePassive(queue, true, false, false, false, nil); err != nil {
			return mapError(queue, err)
		}
		if err := ch.Confirm(false); err != nil {
			return fmt.Errorf("enable publisher confirms: %w", err)
		}
		conf, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, msg)
		if err != nil {
			return mapError(queue, err)
		}
		ok, err := conf.WaitContext(ctx)
		if err != nil {
			return fmt.Errorf("waiting for confirm: %w", err)
		}
		if !ok {
			return fmt.Errorf("broker rejected message %s", m.ID)
		}
		debug.Logger().Debug("published message",
			zap.String("queue", queue),
			zap.String("message_id", m.ID),
			zap.String("ticket_id", m.TicketID))
		return nil
	})
}

// Peek reads up to n messages from queue and requeues them all. Messages are
// requeued at their original position, but their redelivered flag is set.
func (b *Broker) Peek(queue string, n int) ([]Peeked, error) {
	if n <= 0 {
		n = 10
	}
	var out []Peeked
	err := b.withChannel(func(ch *amqp.Channel) error {
		var last uint64
		defer func() {
			if last > 0 {
				_ = ch.Nack(last, true, true)
			}
		}()
		for len(out) < n {
			d, ok, err := ch.Get(queue, false)
			if err != nil {
				return mapError(queue, err)
			}
			if !ok {
				break
			}
			last = d.DeliveryTag
			out = append(out, peeked(d))
		}
		return nil
	})
	return out, err
}

// Purge removes every ready message from queue and returns how many were
// removed.
func (b *Broker) Purge(queue string) (int, error) {
	var n int
	err := b.withChannel(func(ch *amqp.Channel) error {
		if _, err := ch.QueueDeclarePassive(queue, true, false, false, false, nil); err != nil {
			return mapError(queue, err)
		}
		purged, err := ch.QueuePurge(queue, false)
		if err != nil {
			return mapError(queue, err)
		}
		n = purged
		return nil
	})
	return n, err
}
