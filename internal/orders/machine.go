package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
)

// Actor identifies who requested a transition.
type Actor struct {
	Type    enums.ActorType
	UserID  *uuid.UUID
	StoreID *uuid.UUID
}

// SystemActor is used by background jobs.
var SystemActor = Actor{Type: enums.ActorSystem}

// GatewayActor is used when the payment gateway drives a transition.
var GatewayActor = Actor{Type: enums.ActorGateway}

func (a Actor) ref() *outbox.ActorRef {
	return &outbox.ActorRef{UserID: a.UserID, StoreID: a.StoreID, Type: string(a.Type)}
}

// TransitionInput describes one status change.
type TransitionInput struct {
	OrderID uuid.UUID
	To      enums.OrderStatus
	Actor   Actor
	Reason  string
}

// Machine applies fulfillment transitions inside a caller-owned transaction.
// Each applied transition writes a history row and an outbox event; a
// cancellation also returns the order's stock.
type Machine struct {
	repo   Repository
	stock  StockReleaser
	outbox outboxPublisher
	logg   *logger.Logger
	stats  *metrics.OrderMetrics
	now    func() time.Time
}

func NewMachine(repo Repository, stock StockReleaser, outbox outboxPublisher, logg *logger.Logger) (*Machine, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if stock == nil {
		return nil, fmt.Errorf("stock releaser required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &Machine{repo: repo, stock: stock, outbox: outbox, logg: logg, now: time.Now}, nil
}

// WithMetrics counts applied transitions.
func (m *Machine) WithMetrics(stats *metrics.OrderMetrics) *Machine {
	m.stats = stats
	return m
}

// Apply moves the order to in.To. Disallowed moves, including a move that
// lost a race with a concurrent transition, return InvalidTransition and
// leave the order untouched.
func (m *Machine) Apply(ctx context.Context, tx *gorm.DB, in TransitionInput) (*models.Order, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	repo := m.repo.WithTx(tx)

	order, err := repo.FindOrder(ctx, in.OrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	from := order.Status
	if !CanTransition(from, in.To) {
		return nil, pkgerrors.InvalidTransition(string(from), string(in.To))
	}

	moved, err := repo.UpdateStatus(ctx, order.ID, from, in.To)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	if !moved {
		return nil, pkgerrors.InvalidTransition(string(from), string(in.To))
	}
	order.Status = in.To

	history := &models.OrderStatusEvent{
		OrderID:    order.ID,
		FromStatus: &from,
		ToStatus:   in.To,
		ActorType:  in.Actor.Type,
		ActorID:    in.Actor.UserID,
	}
	if in.Reason != "" {
		reason := in.Reason
		history.Reason = &reason
	}
	if err := repo.AppendStatusEvent(ctx, history); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record status event")
	}

	if in.To == enums.OrderStatusCancelled {
		if err := m.releaseStock(ctx, tx, order, in.Actor); err != nil {
			return nil, err
		}
	}

	err = m.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         in.Actor.ref(),
		Data: payloads.OrderStatusChangedEvent{
			OrderID:   order.ID,
			From:      from,
			To:        in.To,
			ActorType: in.Actor.Type,
			Reason:    in.Reason,
			ChangedAt: m.now().UTC(),
		},
	})
	if err != nil {
		return nil, err
	}

	m.stats.IncTransition(string(in.To))
	if m.logg != nil {
		logCtx := m.logg.WithFields(ctx, map[string]any{
			"order_id":   order.ID.String(),
			"from":       from,
			"to":         in.To,
			"actor_type": in.Actor.Type,
		})
		m.logg.Info(logCtx, "order status changed")
	}
	return order, nil
}

// releaseStock returns every line's quantity. Products the catalog has since
// removed are skipped.
func (m *Machine) releaseStock(ctx context.Context, tx *gorm.DB, order *models.Order, actor Actor) error {
	released := make([]payloads.StockReleaseItem, 0, len(order.Lines))
	for _, line := range order.Lines {
		err := m.stock.Release(ctx, tx, line.ProductID, line.Quantity)
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			if m.logg != nil {
				m.logg.Warn(m.logg.WithField(ctx, "product_id", line.ProductID.String()), "skip release for missing product")
			}
			continue
		}
		if err != nil {
			return err
		}
		released = append(released, payloads.StockReleaseItem{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	if len(released) == 0 {
		return nil
	}
	return m.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventStockReleased,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor.ref(),
		Data:          payloads.StockReleasedEvent{OrderID: order.ID, Items: released},
	})
}
