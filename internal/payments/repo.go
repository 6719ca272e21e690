package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// Repository persists payment rows.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// Create opens the payment row for a freshly placed order.
func (r *Repository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *Repository) FindByOrder(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// LockByOrder loads the payment with a row lock held until the surrounding
// transaction ends.
func (r *Repository) LockByOrder(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ?", orderID).
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *Repository) FindByChargeID(ctx context.Context, chargeID string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("charge_id = ?", chargeID).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// Save writes the mutable payment columns.
func (r *Repository) Save(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ?", payment.ID).
		Updates(map[string]any{
			"status":              payment.Status,
			"provider":            payment.Provider,
			"charge_id":           payment.ChargeID,
			"source_id":           payment.SourceID,
			"scannable_image_url": payment.ScannableImageURL,
			"failure_reason":      payment.FailureReason,
			"attempt_count":       payment.AttemptCount,
			"updated_at":          time.Now().UTC(),
		}).Error
}

// ListStale returns gateway payments stuck in processing or awaiting
// confirmation since before cutoff, oldest first.
func (r *Repository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error) {
	var rows []models.Payment
	err := r.db.WithContext(ctx).
		Where("status IN ? AND method <> ? AND updated_at < ?",
			[]enums.PaymentStatus{enums.PaymentStatusProcessing, enums.PaymentStatusAwaitingConfirmation},
			enums.PaymentMethodCOD,
			cutoff.UTC(),
		).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// MarkCollected records cash handed over on delivery. It is a no-op for
// non-COD or already final payments.
func (r *Repository) MarkCollected(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	return r.WithTx(tx).db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("order_id = ? AND method = ? AND status NOT IN ?",
			orderID,
			enums.PaymentMethodCOD,
			[]enums.PaymentStatus{enums.PaymentStatusSucceeded, enums.PaymentStatusFailed},
		).
		Updates(map[string]any{
			"status":     enums.PaymentStatusSucceeded,
			"updated_at": time.Now().UTC(),
		}).Error
}
