package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// Payment holds the gateway's opaque identifiers for an order. Card numbers
// and CVVs never reach this table.
type Payment struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderID           uuid.UUID           `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	Method            enums.PaymentMethod `gorm:"column:method;type:text;not null"`
	Status            enums.PaymentStatus `gorm:"column:status;type:text;not null"`
	Provider          *string             `gorm:"column:provider"`
	ChargeID          *string             `gorm:"column:charge_id;index"`
	SourceID          *string             `gorm:"column:source_id"`
	ScannableImageURL *string             `gorm:"column:scannable_image_url"`
	AmountCents       int64               `gorm:"column:amount_cents;not null"`
	Currency          string              `gorm:"column:currency;not null"`
	FailureReason     *string             `gorm:"column:failure_reason"`
	AttemptCount      int                 `gorm:"column:attempt_count;not null"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Payment) BeforeCreate(*gorm.DB) error {
	assignID(&p.ID)
	return nil
}
