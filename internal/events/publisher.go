package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange is the topic exchange catalog changes are published to.
const DefaultExchange = "libreria.catalog"

// Routing keys for catalog change events.
const (
	KeyBookSaved   = "catalog.book.saved"
	KeyBookDeleted = "catalog.book.deleted"
	KeyUserSaved   = "catalog.user.saved"
	KeyUserDeleted = "catalog.user.deleted"
)

// Event is the payload published for every catalog change.
type Event struct {
	EntityID   string    `json:"entityId"`
	ActorID    string    `json:"actorId"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Publisher emits catalog change events to a RabbitMQ topic exchange. A nil
// Publisher is valid and drops every event, so the broker stays optional.
type Publisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// NewPublisher dials the broker and declares the exchange.
func NewPublisher(url, exchange string) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Publisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// Publish emits one event. Broker failures are logged and dropped so catalog
// writes never fail because of the event stream.
func (p *Publisher) Publish(ctx context.Context, key, entityID, actorID string) {
	if p == nil {
		return
	}
	body, err := json.Marshal(Event{
		EntityID:   entityID,
		ActorID:    actorID,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		slog.ErrorContext(ctx, "marshal catalog event", "key", key, "error", err)
		return
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		slog.WarnContext(ctx, "publish catalog event failed", "key", key, "entity_id", entityID, "error", err)
	}
}

// Close shuts down the channel and connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
