// Package inventory owns product stock counts. Every mutation happens inside
// the caller's transaction so it commits or rolls back with the order.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// Reservation is one product quantity to take from (or return to) stock.
type Reservation struct {
	ProductID uuid.UUID
	Qty       int
}

// Ledger reserves and releases stock with conditional updates, so two
// concurrent reservations can never drive stock below zero.
type Ledger struct{}

func NewLedger() *Ledger {
	return &Ledger{}
}

// Reserve decrements stock only when the product is available and holds at
// least qty units.
func (l *Ledger) Reserve(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "reservation quantity must be positive").
			WithDetails(map[string]any{"product_id": productID.String(), "qty": qty})
	}

	res := tx.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ? AND is_available = ? AND stock_qty >= ?", productID, true, qty).
		UpdateColumn("stock_qty", gorm.Expr("stock_qty - ?", qty))
	if res.Error != nil {
		return fmt.Errorf("reserve product %s: %w", productID, res.Error)
	}
	if res.RowsAffected == 0 {
		return pkgerrors.InsufficientStock(productID)
	}
	return nil
}

// ReserveAll reserves every line in ascending product order and stops at the
// first failure. The caller's rollback undoes the reservations already taken.
func (l *Ledger) ReserveAll(ctx context.Context, tx *gorm.DB, lines []Reservation) error {
	for _, line := range sortedByProduct(lines) {
		if err := l.Reserve(ctx, tx, line.ProductID, line.Qty); err != nil {
			return err
		}
	}
	return nil
}

// Release returns qty units to stock.
func (l *Ledger) Release(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if qty <= 0 {
		return nil
	}
	res := tx.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ?", productID).
		UpdateColumn("stock_qty", gorm.Expr("stock_qty + ?", qty))
	if res.Error != nil {
		return fmt.Errorf("release product %s: %w", productID, res.Error)
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
			WithDetails(map[string]any{"product_id": productID.String()})
	}
	return nil
}

// ReleaseAll returns every line to stock in ascending product order.
func (l *Ledger) ReleaseAll(ctx context.Context, tx *gorm.DB, lines []Reservation) error {
	for _, line := range sortedByProduct(lines) {
		if err := l.Release(ctx, tx, line.ProductID, line.Qty); err != nil {
			return err
		}
	}
	return nil
}

func sortedByProduct(lines []Reservation) []Reservation {
	sorted := make([]Reservation, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ProductID.String() < sorted[j].ProductID.String()
	})
	return sorted
}
