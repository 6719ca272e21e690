package cart

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
)

// CartRepository captures cart line persistence.
type CartRepository interface {
	WithTx(tx *gorm.DB) CartRepository
	ListByBuyer(ctx context.Context, buyerID uuid.UUID) ([]models.CartLine, error)
	FindFirst(ctx context.Context, buyerID, productID uuid.UUID) (*models.CartLine, error)
	Create(ctx context.Context, line *models.CartLine) error
	AddQuantity(ctx context.Context, lineID uuid.UUID, delta int) (bool, error)
	SetQuantity(ctx context.Context, lineID uuid.UUID, qty int) (bool, error)
	DeleteOtherLines(ctx context.Context, buyerID, productID, keepID uuid.UUID) error
	DeleteByProduct(ctx context.Context, buyerID, productID uuid.UUID) (int64, error)
	DeleteByIDs(ctx context.Context, buyerID uuid.UUID, ids []uuid.UUID) (int64, error)
	SnapshotRows(ctx context.Context, buyerID uuid.UUID, lock bool) ([]SnapshotRow, error)
}

type productReader interface {
	FindProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}
