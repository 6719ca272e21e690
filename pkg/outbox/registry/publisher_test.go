package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
)

func TestEventRegistryResolveSuccess(t *testing.T) {
	reg, err := NewEventRegistry("orders-topic")
	require.NoError(t, err)

	orderID := uuid.New()
	event := models.OutboxEvent{
		EventType:     enums.EventOrderPlaced,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Payload: mustEnvelope(t, payloads.OrderPlacedEvent{
			OrderID:    orderID,
			TotalCents: 242500,
			Currency:   "THB",
		}),
	}

	resolved, err := reg.Resolve(event)
	require.NoError(t, err)
	require.Equal(t, "orders-topic", resolved.Descriptor.Topic)
	payload, ok := resolved.Payload.(*payloads.OrderPlacedEvent)
	require.True(t, ok)
	require.Equal(t, orderID, payload.OrderID)
	require.Equal(t, int64(242500), payload.TotalCents)
	require.NotEmpty(t, resolved.Envelope.EventID)
}

func TestEventRegistryRequiresTopic(t *testing.T) {
	_, err := NewEventRegistry("")
	require.Error(t, err)
}

func TestEventRegistryResolveRejectsBadRows(t *testing.T) {
	reg, err := NewEventRegistry("orders-topic")
	require.NoError(t, err)

	cases := map[string]models.OutboxEvent{
		"unknown type": {
			EventType:     enums.OutboxEventType("order.teleported"),
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, map[string]string{"a": "b"}),
		},
		"aggregate mismatch": {
			EventType:     enums.EventPaymentSettled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, payloads.PaymentStatusEvent{}),
		},
		"missing aggregate": {
			EventType:     enums.EventOrderPlaced,
			AggregateType: enums.AggregateOrder,
			Payload:       mustEnvelope(t, payloads.OrderPlacedEvent{}),
		},
		"null data": {
			EventType:     enums.EventOrderPlaced,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, nil),
		},
		"broken envelope": {
			EventType:     enums.EventOrderPlaced,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{"data":`),
		},
	}
	for name, event := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Resolve(event)
			var nonRetryable NonRetryableError
			require.True(t, errors.As(err, &nonRetryable), "got %v", err)
		})
	}
}

func mustEnvelope(t *testing.T, data any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	out, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       raw,
	})
	require.NoError(t, err)
	return out
}
