package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// OrderPlacedLine is one purchased line in an OrderPlacedEvent.
type OrderPlacedLine struct {
	ProductID      uuid.UUID `json:"product_id"`
	StoreID        uuid.UUID `json:"store_id"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
}

// OrderPlacedEvent is emitted in the checkout transaction.
type OrderPlacedEvent struct {
	OrderID       uuid.UUID           `json:"order_id"`
	BuyerID       uuid.UUID           `json:"buyer_id"`
	TotalCents    int64               `json:"total_cents"`
	Currency      string              `json:"currency"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
	Lines         []OrderPlacedLine   `json:"lines"`
}

// OrderStatusChangedEvent is emitted for every fulfillment transition.
type OrderStatusChangedEvent struct {
	OrderID   uuid.UUID         `json:"order_id"`
	From      enums.OrderStatus `json:"from"`
	To        enums.OrderStatus `json:"to"`
	ActorType enums.ActorType   `json:"actor_type"`
	Reason    string            `json:"reason,omitempty"`
	ChangedAt time.Time         `json:"changed_at"`
}

// PaymentStatusEvent covers settled, failed, awaiting and refund-due payment
// events.
type PaymentStatusEvent struct {
	OrderID       uuid.UUID           `json:"order_id"`
	PaymentID     uuid.UUID           `json:"payment_id"`
	Method        enums.PaymentMethod `json:"method"`
	Status        enums.PaymentStatus `json:"status"`
	AmountCents   int64               `json:"amount_cents"`
	ChargeID      string              `json:"charge_id,omitempty"`
	FailureReason string              `json:"failure_reason,omitempty"`
}

// StockReleasedEvent reports stock returned to the ledger by a cancellation.
type StockReleasedEvent struct {
	OrderID uuid.UUID          `json:"order_id"`
	Items   []StockReleaseItem `json:"items"`
}

type StockReleaseItem struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}
