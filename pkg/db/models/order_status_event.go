package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// OrderStatusEvent is the append-only audit trail of order transitions.
type OrderStatusEvent struct {
	ID         uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	OrderID    uuid.UUID          `gorm:"column:order_id;type:uuid;not null;index"`
	FromStatus *enums.OrderStatus `gorm:"column:from_status;type:text"`
	ToStatus   enums.OrderStatus  `gorm:"column:to_status;type:text;not null"`
	ActorType  enums.ActorType    `gorm:"column:actor_type;type:text;not null"`
	ActorID    *uuid.UUID         `gorm:"column:actor_id;type:uuid"`
	Reason     *string            `gorm:"column:reason"`
	CreatedAt  time.Time          `gorm:"column:created_at;autoCreateTime"`
}

func (e *OrderStatusEvent) BeforeCreate(*gorm.DB) error {
	assignID(&e.ID)
	return nil
}
