// Package checkout turns a buyer's cart into a pending order in a single
// database transaction.
package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/checkout/helpers"
	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

const defaultMaxAttempts = 3

type txRunner interface {
	WithRetryTx(ctx context.Context, attempts int, fn func(tx *gorm.DB) error) error
}

type snapshotTaker interface {
	Take(ctx context.Context, tx *gorm.DB, buyerID uuid.UUID) (*cart.Snapshot, error)
}

type stockReserver interface {
	ReserveAll(ctx context.Context, tx *gorm.DB, lines []inventory.Reservation) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service places orders.
type Service interface {
	PlaceOrder(ctx context.Context, input PlaceOrderInput) (*models.Order, error)
}

// PlaceOrderInput is the buyer's checkout form. ShippingAddress takes
// precedence over the split Address fields.
type PlaceOrderInput struct {
	BuyerID         uuid.UUID
	ShippingAddress string
	Address         types.ShippingAddress
	Phone           string
	PaymentMethod   string
}

type ServiceParams struct {
	TX          txRunner
	Snapshots   snapshotTaker
	Cart        cart.CartRepository
	Ledger      stockReserver
	Orders      orders.Repository
	Payments    *payments.Repository
	Outbox      outboxPublisher
	Currency    string
	MaxAttempts int
	Logger      *logger.Logger
	Metrics     *metrics.OrderMetrics
}

type service struct {
	tx          txRunner
	snapshots   snapshotTaker
	cartRepo    cart.CartRepository
	ledger      stockReserver
	ordersRepo  orders.Repository
	payments    *payments.Repository
	outbox      outboxPublisher
	currency    string
	maxAttempts int
	logg        *logger.Logger
	stats       *metrics.OrderMetrics
}

// NewService builds the checkout service.
func NewService(params ServiceParams) (Service, error) {
	if params.TX == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Snapshots == nil {
		return nil, fmt.Errorf("cart snapshot reader required")
	}
	if params.Cart == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("inventory ledger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	currency := strings.ToUpper(strings.TrimSpace(params.Currency))
	if currency == "" {
		currency = "THB"
	}
	attempts := params.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	return &service{
		tx:          params.TX,
		snapshots:   params.Snapshots,
		cartRepo:    params.Cart,
		ledger:      params.Ledger,
		ordersRepo:  params.Orders,
		payments:    params.Payments,
		outbox:      params.Outbox,
		currency:    currency,
		maxAttempts: attempts,
		logg:        params.Logger,
		stats:       params.Metrics,
	}, nil
}

// PlaceOrder snapshots the cart, reserves stock, writes the order with its
// lines, payment row, first history entry and order.placed event, and clears
// exactly the snapshotted cart rows. Any failure rolls all of it back.
func (s *service) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*models.Order, error) {
	started := time.Now()
	method, order, err := s.placeOrder(ctx, input)
	s.observe(ctx, method, order, err, time.Since(started))
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) placeOrder(ctx context.Context, input PlaceOrderInput) (enums.PaymentMethod, *models.Order, error) {
	if input.BuyerID == uuid.Nil {
		return "", nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "buyer required")
	}
	contact, err := helpers.ValidateContact(input.ShippingAddress, input.Address, input.Phone)
	if err != nil {
		return "", nil, err
	}
	method, err := helpers.ValidatePaymentMethod(input.PaymentMethod)
	if err != nil {
		return "", nil, err
	}

	var result *models.Order
	err = s.tx.WithRetryTx(ctx, s.maxAttempts, func(tx *gorm.DB) error {
		snapshot, err := s.snapshots.Take(ctx, tx, input.BuyerID)
		if err != nil {
			return err
		}
		if snapshot.IsEmpty() {
			return pkgerrors.EmptyCart()
		}
		if err := s.ledger.ReserveAll(ctx, tx, helpers.Reservations(snapshot.Lines)); err != nil {
			return err
		}

		lines, total := helpers.BuildOrderLines(snapshot.Lines)
		order := &models.Order{
			BuyerID:         input.BuyerID,
			TotalCents:      total,
			Currency:        s.currency,
			ShippingAddress: contact.ShippingAddress,
			Phone:           contact.Phone,
			PaymentMethod:   method,
			Status:          enums.OrderStatusPending,
			Lines:           lines,
		}
		ordersRepo := s.ordersRepo.WithTx(tx)
		if err := ordersRepo.CreateOrder(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		err = s.payments.WithTx(tx).Create(ctx, &models.Payment{
			OrderID:     order.ID,
			Method:      method,
			Status:      enums.PaymentStatusPending,
			AmountCents: total,
			Currency:    s.currency,
		})
		if err != nil {
			return fmt.Errorf("open payment: %w", err)
		}
		buyerID := input.BuyerID
		err = ordersRepo.AppendStatusEvent(ctx, &models.OrderStatusEvent{
			OrderID:   order.ID,
			ToStatus:  enums.OrderStatusPending,
			ActorType: enums.ActorBuyer,
			ActorID:   &buyerID,
		})
		if err != nil {
			return fmt.Errorf("record status event: %w", err)
		}
		if err := s.emitOrderPlaced(ctx, tx, order); err != nil {
			return err
		}
		if _, err := s.cartRepo.WithTx(tx).DeleteByIDs(ctx, input.BuyerID, snapshot.LineIDs); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}
		result = order
		return nil
	})
	if err != nil {
		if pkgerrors.As(err) == nil {
			err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "checkout failed")
		}
		return method, nil, err
	}
	return method, result, nil
}

func (s *service) emitOrderPlaced(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	buyerID := order.BuyerID
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderPlaced,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         &outbox.ActorRef{UserID: &buyerID, Type: string(enums.ActorBuyer)},
		Data: payloads.OrderPlacedEvent{
			OrderID:       order.ID,
			BuyerID:       order.BuyerID,
			TotalCents:    order.TotalCents,
			Currency:      order.Currency,
			PaymentMethod: order.PaymentMethod,
			Lines:         helpers.PlacedLines(order.Lines),
		},
	})
}

func (s *service) observe(ctx context.Context, method enums.PaymentMethod, order *models.Order, err error, elapsed time.Duration) {
	outcome := "placed"
	if err != nil {
		outcome = strings.ToLower(string(pkgerrors.As(err).Code()))
	}
	methodLabel := string(method)
	if methodLabel == "" {
		methodLabel = "unknown"
	}
	s.stats.ObserveCheckout(methodLabel, outcome, elapsed)

	if s.logg == nil {
		return
	}
	fields := map[string]any{
		"payment_method": methodLabel,
		"outcome":        outcome,
		"duration_ms":    elapsed.Milliseconds(),
	}
	if order != nil {
		fields["order_id"] = order.ID.String()
		fields["total_cents"] = order.TotalCents
		fields["line_count"] = len(order.Lines)
		fields["store_count"] = len(helpers.ComputeTotalsByStore(order.Lines))
	}
	logCtx := s.logg.WithFields(ctx, fields)
	if err != nil {
		s.logg.Warn(logCtx, "checkout rejected")
		return
	}
	s.logg.Info(logCtx, "order placed")
}
