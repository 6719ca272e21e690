package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/fees"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

// Service exposes order reads and seller-driven fulfillment.
type Service interface {
	GetBuyerOrder(ctx context.Context, buyerID, orderID uuid.UUID) (*OrderView, error)
	ListBuyerOrders(ctx context.Context, buyerID uuid.UUID, params pagination.Params) (*OrderList, error)
	ListSellerOrders(ctx context.Context, storeID uuid.UUID, params pagination.Params) (*OrderList, error)
	SellerAction(ctx context.Context, input SellerActionInput) (*OrderView, error)
	SellerRevenue(ctx context.Context, storeID, orderID uuid.UUID) (*RevenueReport, error)
	SellerRevenueSummary(ctx context.Context, storeID uuid.UUID, status *enums.OrderStatus) (*RevenueSummary, error)
}

// SellerActionInput carries a seller's fulfillment command.
type SellerActionInput struct {
	OrderID uuid.UUID
	StoreID uuid.UUID
	UserID  uuid.UUID
	Action  Action
	Reason  string
}

type ServiceParams struct {
	Repo    Repository
	TX      txRunner
	Machine *Machine
	Fees    *fees.Calculator
	COD     CODCollector
}

type service struct {
	repo    Repository
	tx      txRunner
	machine *Machine
	fees    *fees.Calculator
	cod     CODCollector
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.TX == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Machine == nil {
		return nil, fmt.Errorf("state machine required")
	}
	if params.Fees == nil {
		return nil, fmt.Errorf("fee calculator required")
	}
	if params.COD == nil {
		return nil, fmt.Errorf("cod collector required")
	}
	return &service{
		repo:    params.Repo,
		tx:      params.TX,
		machine: params.Machine,
		fees:    params.Fees,
		cod:     params.COD,
	}, nil
}

func (s *service) GetBuyerOrder(ctx context.Context, buyerID, orderID uuid.UUID) (*OrderView, error) {
	order, err := s.loadOrder(ctx, s.repo, orderID)
	if err != nil {
		return nil, err
	}
	// Another buyer's order reads as missing.
	if order.BuyerID != buyerID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	payment, err := s.repo.FindPayment(ctx, order.ID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	view := NewOrderView(order, payment)
	return &view, nil
}

func (s *service) ListBuyerOrders(ctx context.Context, buyerID uuid.UUID, params pagination.Params) (*OrderList, error) {
	rows, next, err := s.repo.ListBuyerOrders(ctx, buyerID, params)
	return toList(rows, next, err)
}

func (s *service) ListSellerOrders(ctx context.Context, storeID uuid.UUID, params pagination.Params) (*OrderList, error) {
	if storeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "store context missing")
	}
	rows, next, err := s.repo.ListStoreOrders(ctx, storeID, params)
	return toList(rows, next, err)
}

// SellerAction applies confirm, ship, deliver or cancel for a store owning at
// least one line of the order.
func (s *service) SellerAction(ctx context.Context, input SellerActionInput) (*OrderView, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.StoreID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "store context missing")
	}
	target, ok := input.Action.Target()
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown fulfillment action")
	}

	userID := input.UserID
	storeID := input.StoreID
	actor := Actor{Type: enums.ActorSeller, StoreID: &storeID}
	if userID != uuid.Nil {
		actor.UserID = &userID
	}

	var updated *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.loadOrder(ctx, s.repo.WithTx(tx), input.OrderID)
		if err != nil {
			return err
		}
		if !hasStoreLine(order, input.StoreID) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		// Gateway-paid orders are confirmed by the payment itself.
		if target == enums.OrderStatusConfirmed && order.Status == enums.OrderStatusPending && order.PaymentMethod.UsesGateway() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is awaiting payment").
				WithDetails(map[string]any{"status": order.Status, "payment_method": order.PaymentMethod})
		}

		// An open gateway charge may still succeed; the reconciler or the QR
		// TTL closes it out first.
		if target == enums.OrderStatusCancelled && order.Status == enums.OrderStatusPending && order.PaymentMethod.UsesGateway() {
			payment, err := s.repo.WithTx(tx).LockPayment(ctx, order.ID)
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock payment")
			}
			if payment != nil && paymentInFlight(payment.Status) {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "payment is in progress").
					WithDetails(map[string]any{"payment_status": payment.Status})
			}
		}

		updated, err = s.machine.Apply(ctx, tx, TransitionInput{
			OrderID: input.OrderID,
			To:      target,
			Actor:   actor,
			Reason:  input.Reason,
		})
		if err != nil {
			return err
		}
		if target == enums.OrderStatusDelivered && updated.PaymentMethod == enums.PaymentMethodCOD {
			return s.cod.MarkCollected(ctx, tx, updated.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	payment, err := s.repo.FindPayment(ctx, updated.ID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	view := NewOrderView(updated, payment)
	return &view, nil
}

// SellerRevenue applies the fee tiers to each of the store's lines.
func (s *service) SellerRevenue(ctx context.Context, storeID, orderID uuid.UUID) (*RevenueReport, error) {
	if storeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "store context missing")
	}
	order, err := s.loadOrder(ctx, s.repo, orderID)
	if err != nil {
		return nil, err
	}

	report := &RevenueReport{OrderID: order.ID, StoreID: storeID, Status: order.Status}
	for _, line := range order.Lines {
		if line.StoreID != storeID {
			continue
		}
		revenue := s.fees.NetRevenue(line.Quantity, line.UnitPriceCents)
		report.Lines = append(report.Lines, RevenueLine{
			LineID:         line.ID,
			ProductID:      line.ProductID,
			ProductName:    line.ProductName,
			Quantity:       line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
			GrossCents:     revenue.GrossCents,
			FeeRate:        revenue.Rate.String(),
			FeeCents:       revenue.FeeCents,
			NetCents:       revenue.NetCents,
		})
		report.GrossCents += revenue.GrossCents
		report.FeeCents += revenue.FeeCents
		report.NetCents += revenue.NetCents
	}
	if len(report.Lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return report, nil
}

// SellerRevenueSummary totals the fee tiers over every line the store sold.
// A nil status covers orders in any status.
func (s *service) SellerRevenueSummary(ctx context.Context, storeID uuid.UUID, status *enums.OrderStatus) (*RevenueSummary, error) {
	if storeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "store context missing")
	}
	if status != nil && !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status")
	}
	lines, err := s.repo.ListStoreLines(ctx, storeID, status)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list store lines")
	}

	summary := &RevenueSummary{StoreID: storeID, Status: status}
	seen := make(map[uuid.UUID]struct{})
	for _, line := range lines {
		revenue := s.fees.NetRevenue(line.Quantity, line.UnitPriceCents)
		seen[line.OrderID] = struct{}{}
		summary.LineCount++
		summary.UnitCount += line.Quantity
		summary.GrossCents += revenue.GrossCents
		summary.FeeCents += revenue.FeeCents
		summary.NetCents += revenue.NetCents
	}
	summary.OrderCount = len(seen)
	return summary, nil
}

func paymentInFlight(status enums.PaymentStatus) bool {
	return status == enums.PaymentStatusProcessing || status == enums.PaymentStatusAwaitingConfirmation
}

func (s *service) loadOrder(ctx context.Context, repo Repository, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := repo.FindOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func hasStoreLine(order *models.Order, storeID uuid.UUID) bool {
	for _, line := range order.Lines {
		if line.StoreID == storeID {
			return true
		}
	}
	return false
}

func toList(rows []models.Order, next string, err error) (*OrderList, error) {
	if err != nil {
		if errors.Is(err, ErrInvalidCursor) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	list := &OrderList{Orders: make([]OrderView, 0, len(rows)), NextCursor: next}
	for i := range rows {
		list.Orders = append(list.Orders, NewOrderView(&rows[i], nil))
	}
	return list, nil
}
