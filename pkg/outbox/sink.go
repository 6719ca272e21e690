package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
)

// Message is the broker-neutral form of a published outbox row.
type Message struct {
	Key        string
	Data       []byte
	Attributes map[string]string
}

// Sink delivers messages to a broker. Publish returns only after the broker
// acknowledged the message.
type Sink interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Ping(ctx context.Context) error
	Close() error
}

// NewMessage builds the message for an outbox row, keyed by aggregate so a
// broker that partitions by key keeps one order's events in sequence.
func NewMessage(event models.OutboxEvent, eventID string) Message {
	return Message{
		Key:  aggregateKey(event.AggregateID),
		Data: event.Payload,
		Attributes: map[string]string{
			"event_id":       eventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
		},
	}
}

func aggregateKey(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}
