package payments

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
)

var errChargeMissing = pkgerrors.New(pkgerrors.CodeNotFound, "charge not found")

type fakeGateway struct {
	mu sync.Mutex

	chargeResult *Charge
	chargeErr    error
	sourceResult *Charge
	sourceErr    error
	byID         map[string]*Charge
	byReference  map[string]*Charge

	chargeCalls []ChargeRequest
	sourceCalls []SourceRequest
	getCalls    int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{byID: map[string]*Charge{}, byReference: map[string]*Charge{}}
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) CreateCharge(_ context.Context, req ChargeRequest) (*Charge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.chargeCalls = append(g.chargeCalls, req)
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	charge := *g.chargeResult
	charge.Reference = req.Reference
	g.byID[charge.ID] = &charge
	return &charge, nil
}

func (g *fakeGateway) CreateSource(_ context.Context, req SourceRequest) (*Charge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sourceCalls = append(g.sourceCalls, req)
	if g.sourceErr != nil {
		return nil, g.sourceErr
	}
	charge := *g.sourceResult
	charge.Reference = req.Reference
	g.byID[charge.ID] = &charge
	return &charge, nil
}

func (g *fakeGateway) GetCharge(_ context.Context, chargeID string) (*Charge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.getCalls++
	charge, ok := g.byID[chargeID]
	if !ok {
		return nil, errChargeMissing
	}
	copied := *charge
	return &copied, nil
}

func (g *fakeGateway) FindChargeByReference(_ context.Context, reference string) (*Charge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	charge, ok := g.byReference[reference]
	if !ok {
		return nil, nil
	}
	copied := *charge
	return &copied, nil
}

// setStatus flips a charge the way the gateway would after the buyer acts.
func (g *fakeGateway) setStatus(chargeID string, status ChargeStatus, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.byID[chargeID].Status = status
	g.byID[chargeID].FailureReason = reason
}

type fixture struct {
	client     *db.Client
	orders     orders.Repository
	payments   *Repository
	outbox     *outbox.Repository
	machine    *orders.Machine
	gateway    *fakeGateway
	reconciler *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := dbtest.Open(t)
	orderRepo := orders.NewRepository(client.DB())
	outboxRepo := outbox.NewRepository(client.DB())
	events := outbox.NewService(outboxRepo, nil)
	machine, err := orders.NewMachine(orderRepo, inventory.NewLedger(), events, nil)
	require.NoError(t, err)

	gateway := newFakeGateway()
	paymentRepo := NewRepository(client.DB())
	reconciler, err := NewReconciler(Params{
		TX:       client,
		Payments: paymentRepo,
		Orders:   orderRepo,
		Machine:  machine,
		Outbox:   events,
		Card:     gateway,
		QR:       gateway,
	})
	require.NoError(t, err)
	return &fixture{
		client:     client,
		orders:     orderRepo,
		payments:   paymentRepo,
		outbox:     outboxRepo,
		machine:    machine,
		gateway:    gateway,
		reconciler: reconciler,
	}
}

// cardOnlyGateway hides the reference search, like Square.
type cardOnlyGateway struct {
	CardGateway
}

// reconcilerWithCard builds a second reconciler over the fixture's storage
// that charges cards through gw and has no QR gateway.
func (f *fixture) reconcilerWithCard(t *testing.T, gw CardGateway) *Reconciler {
	t.Helper()
	reconciler, err := NewReconciler(Params{
		TX:       f.client,
		Payments: f.payments,
		Orders:   f.orders,
		Machine:  f.machine,
		Outbox:   outbox.NewService(f.outbox, nil),
		Card:     gw,
	})
	require.NoError(t, err)
	return reconciler
}

// placeOrder stores a pending order with its stock already taken, plus the
// pending payment row checkout opens.
func (f *fixture) placeOrder(t *testing.T, method enums.PaymentMethod, priceCents int64, qty, stock int) (*models.Order, uuid.UUID) {
	t.Helper()
	product := dbtest.SeedProduct(t, f.client, uuid.New(), "tea set", priceCents, stock-qty)
	order := &models.Order{
		BuyerID:         uuid.New(),
		TotalCents:      priceCents * int64(qty),
		Currency:        "THB",
		ShippingAddress: "1 Silom Rd, Bangkok 10500",
		Phone:           "0899999999",
		PaymentMethod:   method,
		Status:          enums.OrderStatusPending,
		Lines: []models.OrderLine{{
			ProductID:      product.ID,
			StoreID:        product.StoreID,
			ProductName:    product.Name,
			Quantity:       qty,
			UnitPriceCents: priceCents,
			LineTotalCents: priceCents * int64(qty),
		}},
	}
	require.NoError(t, f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		if err := f.orders.WithTx(tx).CreateOrder(context.Background(), order); err != nil {
			return err
		}
		return f.payments.WithTx(tx).Create(context.Background(), &models.Payment{
			OrderID:     order.ID,
			Method:      method,
			Status:      enums.PaymentStatusPending,
			AmountCents: order.TotalCents,
			Currency:    order.Currency,
		})
	}))
	return order, product.ID
}

// sellerCancel cancels the order directly through the state machine, as a
// seller action that raced the gateway would have.
func (f *fixture) sellerCancel(t *testing.T, order *models.Order) {
	t.Helper()
	storeID := order.Lines[0].StoreID
	require.NoError(t, f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		_, err := f.machine.Apply(context.Background(), tx, orders.TransitionInput{
			OrderID: order.ID,
			To:      enums.OrderStatusCancelled,
			Actor:   orders.Actor{Type: enums.ActorSeller, StoreID: &storeID},
			Reason:  "out of stock",
		})
		return err
	}))
}

func (f *fixture) orderStatus(t *testing.T, orderID uuid.UUID) enums.OrderStatus {
	t.Helper()
	order, err := f.orders.FindOrder(context.Background(), orderID)
	require.NoError(t, err)
	return order.Status
}

func (f *fixture) payment(t *testing.T, orderID uuid.UUID) *models.Payment {
	t.Helper()
	payment, err := f.payments.FindByOrder(context.Background(), orderID)
	require.NoError(t, err)
	return payment
}

func (f *fixture) eventTypes(t *testing.T, aggregateID uuid.UUID) []enums.OutboxEventType {
	t.Helper()
	rows, err := f.outbox.ListByAggregate(context.Background(), aggregateID)
	require.NoError(t, err)
	out := make([]enums.OutboxEventType, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.EventType)
	}
	return out
}

func cardInput(order *models.Order, token string) SettleInput {
	return SettleInput{
		OrderID:     order.ID,
		BuyerID:     order.BuyerID,
		Instruction: Instruction{Method: enums.PaymentMethodCard, Card: &CardPayload{Token: token}},
	}
}
