package cart

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
)

// Repository exposes persistence operations for buyer cart lines.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a cart repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) CartRepository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) ListByBuyer(ctx context.Context, buyerID uuid.UUID) ([]models.CartLine, error) {
	var lines []models.CartLine
	err := r.db.WithContext(ctx).
		Where("buyer_id = ?", buyerID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&lines).Error
	return lines, err
}

// FindFirst returns the oldest line for the product, or nil when none exists.
func (r *Repository) FindFirst(ctx context.Context, buyerID, productID uuid.UUID) (*models.CartLine, error) {
	var line models.CartLine
	err := r.db.WithContext(ctx).
		Where("buyer_id = ? AND product_id = ?", buyerID, productID).
		Order("created_at ASC").
		Order("id ASC").
		First(&line).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &line, nil
}

func (r *Repository) Create(ctx context.Context, line *models.CartLine) error {
	return r.db.WithContext(ctx).Create(line).Error
}

// AddQuantity increments a line in place. It reports false when the row no
// longer exists, e.g. because a checkout consumed it meanwhile.
func (r *Repository) AddQuantity(ctx context.Context, lineID uuid.UUID, delta int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.CartLine{}).
		Where("id = ?", lineID).
		Updates(map[string]any{
			"quantity":   gorm.Expr("quantity + ?", delta),
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected > 0, res.Error
}

func (r *Repository) SetQuantity(ctx context.Context, lineID uuid.UUID, qty int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.CartLine{}).
		Where("id = ?", lineID).
		Updates(map[string]any{
			"quantity":   qty,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected > 0, res.Error
}

// DeleteOtherLines removes duplicate rows for the product except keepID.
func (r *Repository) DeleteOtherLines(ctx context.Context, buyerID, productID, keepID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("buyer_id = ? AND product_id = ? AND id <> ?", buyerID, productID, keepID).
		Delete(&models.CartLine{}).Error
}

func (r *Repository) DeleteByProduct(ctx context.Context, buyerID, productID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("buyer_id = ? AND product_id = ?", buyerID, productID).
		Delete(&models.CartLine{})
	return res.RowsAffected, res.Error
}

// DeleteByIDs removes exactly the listed rows, scoped to the buyer.
func (r *Repository) DeleteByIDs(ctx context.Context, buyerID uuid.UUID, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Where("buyer_id = ? AND id IN ?", buyerID, ids).
		Delete(&models.CartLine{})
	return res.RowsAffected, res.Error
}

// SnapshotRow is one raw cart line joined with its product. Product columns
// are nil when the product row no longer exists.
type SnapshotRow struct {
	LineID      uuid.UUID
	ProductID   uuid.UUID
	Quantity    int
	StoreID     *uuid.UUID
	ProductName *string
	PriceCents  *int64
	StockQty    *int
	IsAvailable *bool
}

// SnapshotRows reads the buyer's cart joined with current product data. With
// lock set, the cart rows are held FOR UPDATE until the transaction ends.
func (r *Repository) SnapshotRows(ctx context.Context, buyerID uuid.UUID, lock bool) ([]SnapshotRow, error) {
	query := r.db.WithContext(ctx).
		Table("cart_lines").
		Select(`cart_lines.id AS line_id,
			cart_lines.product_id AS product_id,
			cart_lines.quantity AS quantity,
			products.store_id AS store_id,
			products.name AS product_name,
			products.price_cents AS price_cents,
			products.stock_qty AS stock_qty,
			products.is_available AS is_available`).
		Joins("LEFT JOIN products ON products.id = cart_lines.product_id").
		Where("cart_lines.buyer_id = ?", buyerID).
		Order("cart_lines.created_at ASC").
		Order("cart_lines.id ASC")
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE", Table: clause.Table{Name: "cart_lines"}})
	}

	var rows []SnapshotRow
	if err := query.Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
