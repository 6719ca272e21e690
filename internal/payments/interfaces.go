package payments

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type transitioner interface {
	Apply(ctx context.Context, tx *gorm.DB, in orders.TransitionInput) (*models.Order, error)
}

// Settler settles one payment method. The order is pending and its payment
// row belongs to it when Settle is called.
type Settler interface {
	Method() enums.PaymentMethod
	Settle(ctx context.Context, order *models.Order, payment *models.Payment, in Instruction) (*Settlement, error)
}
