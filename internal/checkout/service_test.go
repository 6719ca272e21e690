package checkout

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/fees"
	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

type harness struct {
	client   *db.Client
	service  Service
	orders   orders.Repository
	payments *payments.Repository
	machine  *orders.Machine
	events   *outbox.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	client := dbtest.Open(t)
	cartRepo := cart.NewRepository(client.DB())
	ordersRepo := orders.NewRepository(client.DB())
	paymentsRepo := payments.NewRepository(client.DB())
	events := outbox.NewService(outbox.NewRepository(client.DB()), nil)
	ledger := inventory.NewLedger()

	svc, err := NewService(ServiceParams{
		TX:        client,
		Snapshots: cart.NewSnapshotReader(cartRepo),
		Cart:      cartRepo,
		Ledger:    ledger,
		Orders:    ordersRepo,
		Payments:  paymentsRepo,
		Outbox:    events,
		Currency:  "thb",
	})
	require.NoError(t, err)
	machine, err := orders.NewMachine(ordersRepo, ledger, events, nil)
	require.NoError(t, err)
	return &harness{client: client, service: svc, orders: ordersRepo, payments: paymentsRepo, machine: machine, events: events}
}

func (h *harness) place(buyer uuid.UUID, method string) (*models.Order, error) {
	return h.service.PlaceOrder(context.Background(), PlaceOrderInput{
		BuyerID:         buyer,
		ShippingAddress: "  55 Charoen Krung Rd, Bangkok 10100 ",
		Phone:           " 0811111111 ",
		PaymentMethod:   method,
	})
}

func (h *harness) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.client.DB().Model(model).Count(&n).Error)
	return n
}

func (h *harness) committedQty(t *testing.T, productID uuid.UUID) int {
	t.Helper()
	var total int
	require.NoError(t, h.client.DB().Model(&models.OrderLine{}).
		Where("product_id = ?", productID).
		Select("COALESCE(SUM(quantity), 0)").
		Scan(&total).Error)
	return total
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}

func TestPlaceOrderCreatesPendingOrder(t *testing.T) {
	h := newHarness(t)
	store := uuid.New()
	buyer := uuid.New()
	a := dbtest.SeedProduct(t, h.client, store, "celadon bowl", 50000, 10)
	b := dbtest.SeedProduct(t, h.client, store, "teak tray", 150000, 10)
	dbtest.AddCartLine(t, h.client, buyer, a.ID, 2)
	dbtest.AddCartLine(t, h.client, buyer, b.ID, 1)

	order, err := h.place(buyer, "credit_card")
	require.NoError(t, err)

	assert.Equal(t, enums.OrderStatusPending, order.Status)
	assert.Equal(t, enums.PaymentMethodCard, order.PaymentMethod)
	assert.Equal(t, "THB", order.Currency)
	assert.Equal(t, "55 Charoen Krung Rd, Bangkok 10100", order.ShippingAddress)
	assert.Equal(t, "0811111111", order.Phone)
	assert.Equal(t, int64(250000), order.TotalCents)

	stored, err := h.orders.FindOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, stored.Lines, 2)
	var sum int64
	for _, line := range stored.Lines {
		assert.Equal(t, int64(line.Quantity)*line.UnitPriceCents, line.LineTotalCents)
		sum += line.LineTotalCents
	}
	assert.Equal(t, stored.TotalCents, sum)

	assert.Equal(t, 8, dbtest.StockOf(t, h.client, a.ID))
	assert.Equal(t, 9, dbtest.StockOf(t, h.client, b.ID))
	assert.Zero(t, h.count(t, &models.CartLine{}))

	payment, err := h.payments.FindByOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPending, payment.Status)
	assert.Equal(t, int64(250000), payment.AmountCents)

	history, err := h.orders.ListStatusEvents(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Nil(t, history[0].FromStatus)
	assert.Equal(t, enums.OrderStatusPending, history[0].ToStatus)

	var events []models.OutboxEvent
	require.NoError(t, h.client.DB().Where("aggregate_id = ?", order.ID).Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventOrderPlaced, events[0].EventType)

	_, err = h.place(buyer, "card")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeEmptyCart))
}

func TestPlaceOrderMergesDuplicateCartLines(t *testing.T) {
	h := newHarness(t)
	buyer := uuid.New()
	product := dbtest.SeedProduct(t, h.client, uuid.New(), "silk scarf", 33333, 5)
	dbtest.AddCartLine(t, h.client, buyer, product.ID, 1)
	dbtest.AddCartLine(t, h.client, buyer, product.ID, 2)

	order, err := h.place(buyer, "cod")
	require.NoError(t, err)
	require.Len(t, order.Lines, 1)
	assert.Equal(t, 3, order.Lines[0].Quantity)
	assert.Equal(t, int64(99999), order.TotalCents)
	assert.Equal(t, 2, dbtest.StockOf(t, h.client, product.ID))
	assert.Zero(t, h.count(t, &models.CartLine{}))
}

func TestPlaceOrderEmptyCart(t *testing.T) {
	h := newHarness(t)
	_, err := h.place(uuid.New(), "qr")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeEmptyCart))
	assert.Zero(t, h.count(t, &models.Order{}))
}

func TestPlaceOrderValidatesInput(t *testing.T) {
	h := newHarness(t)
	buyer := uuid.New()
	product := dbtest.SeedProduct(t, h.client, uuid.New(), "lamp", 1000, 5)
	dbtest.AddCartLine(t, h.client, buyer, product.ID, 1)

	cases := []PlaceOrderInput{
		{BuyerID: buyer, ShippingAddress: "   ", Phone: "0811111111", PaymentMethod: "cod"},
		{BuyerID: buyer, ShippingAddress: "1 Main Rd", Phone: "", PaymentMethod: "cod"},
		{BuyerID: buyer, ShippingAddress: "1 Main Rd", Phone: "0811111111", PaymentMethod: "cheque"},
	}
	for _, in := range cases {
		_, err := h.service.PlaceOrder(context.Background(), in)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "input %+v: %v", in, err)
	}

	_, err := h.service.PlaceOrder(context.Background(), PlaceOrderInput{ShippingAddress: "x", Phone: "1", PaymentMethod: "cod"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))

	order, err := h.service.PlaceOrder(context.Background(), PlaceOrderInput{
		BuyerID:       buyer,
		Address:       types.ShippingAddress{Address: "1 Main Rd", City: "Chiang Mai", PostalCode: "50000"},
		Phone:         "0811111111",
		PaymentMethod: "promptpay",
	})
	require.NoError(t, err)
	assert.Equal(t, "1 Main Rd, Chiang Mai 50000", order.ShippingAddress)
	assert.Equal(t, enums.PaymentMethodQR, order.PaymentMethod)
}

// A failed checkout leaves stock, orders and the cart exactly as they were.
func TestPlaceOrderFailureRollsBackEverything(t *testing.T) {
	h := newHarness(t)
	buyer := uuid.New()
	plenty := dbtest.SeedProduct(t, h.client, uuid.New(), "mug", 1200, 5)
	scarce := dbtest.SeedProduct(t, h.client, uuid.New(), "vase", 9900, 1)
	dbtest.AddCartLine(t, h.client, buyer, plenty.ID, 2)
	dbtest.AddCartLine(t, h.client, buyer, scarce.ID, 3)

	_, err := h.place(buyer, "card")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock))
	assert.Equal(t, map[string]any{"product_id": scarce.ID.String()}, pkgerrors.As(err).Details())

	assert.Equal(t, 5, dbtest.StockOf(t, h.client, plenty.ID))
	assert.Equal(t, 1, dbtest.StockOf(t, h.client, scarce.ID))
	assert.Zero(t, h.count(t, &models.Order{}))
	assert.Zero(t, h.count(t, &models.OrderLine{}))
	assert.Zero(t, h.count(t, &models.Payment{}))
	assert.Zero(t, h.count(t, &models.OutboxEvent{}))
	assert.Equal(t, int64(2), h.count(t, &models.CartLine{}))
}

func TestPlaceOrderRejectsUnavailableProduct(t *testing.T) {
	h := newHarness(t)
	buyer := uuid.New()
	product := dbtest.SeedProduct(t, h.client, uuid.New(), "retired", 1000, 5)
	require.NoError(t, h.client.DB().Model(&models.Product{}).Where("id = ?", product.ID).Update("is_available", false).Error)
	dbtest.AddCartLine(t, h.client, buyer, product.ID, 1)

	_, err := h.place(buyer, "cod")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock))
	assert.Equal(t, 5, dbtest.StockOf(t, h.client, product.ID))
}

// Two buyers race for 2 units each of a product with 3 in stock.
func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	h := newHarness(t)
	product := dbtest.SeedProduct(t, h.client, uuid.New(), "limited print", 70000, 3)
	buyers := []uuid.UUID{uuid.New(), uuid.New()}
	for _, buyer := range buyers {
		dbtest.AddCartLine(t, h.client, buyer, product.ID, 2)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(buyers))
	placed := make([]*models.Order, len(buyers))
	for i, buyer := range buyers {
		wg.Add(1)
		go func(i int, buyer uuid.UUID) {
			defer wg.Done()
			placed[i], errs[i] = h.place(buyer, "cod")
		}(i, buyer)
	}
	wg.Wait()

	succeeded := 0
	for i, err := range errs {
		if err == nil {
			succeeded++
			require.Len(t, placed[i].Lines, 1)
			assert.Equal(t, 2, placed[i].Lines[0].Quantity)
			continue
		}
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, dbtest.StockOf(t, h.client, product.ID))
	assert.Equal(t, 2, h.committedQty(t, product.ID))
}

func TestManyConcurrentCheckoutsStayWithinStock(t *testing.T) {
	h := newHarness(t)
	const stock = 7
	product := dbtest.SeedProduct(t, h.client, uuid.New(), "batch", 500, stock)
	buyers := make([]uuid.UUID, 10)
	for i := range buyers {
		buyers[i] = uuid.New()
		dbtest.AddCartLine(t, h.client, buyers[i], product.ID, 1+i%3)
	}

	var wg sync.WaitGroup
	for _, buyer := range buyers {
		wg.Add(1)
		go func(buyer uuid.UUID) {
			defer wg.Done()
			_, _ = h.place(buyer, "cod")
		}(buyer)
	}
	wg.Wait()

	committed := h.committedQty(t, product.ID)
	assert.LessOrEqual(t, committed, stock)
	assert.Equal(t, stock-committed, dbtest.StockOf(t, h.client, product.ID))
}

// Cash on delivery runs pending -> confirmed -> shipped -> delivered under
// seller control and the cash is recorded on delivery.
func TestCODOrderLifecycle(t *testing.T) {
	h := newHarness(t)
	store := uuid.New()
	buyer := uuid.New()
	product := dbtest.SeedProduct(t, h.client, store, "rice cooker", 180000, 2)
	dbtest.AddCartLine(t, h.client, buyer, product.ID, 1)

	order, err := h.place(buyer, "cash_on_delivery")
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusPending, order.Status)

	reconciler, err := payments.NewReconciler(payments.Params{
		TX:       h.client,
		Payments: h.payments,
		Orders:   h.orders,
		Machine:  h.machine,
		Outbox:   h.events,
	})
	require.NoError(t, err)
	settlement, err := reconciler.Settle(context.Background(), payments.SettleInput{
		OrderID:     order.ID,
		BuyerID:     buyer,
		Instruction: payments.Instruction{Method: enums.PaymentMethodCOD},
	})
	require.NoError(t, err)
	assert.Equal(t, payments.OutcomeAwaitingConfirmation, settlement.Outcome)

	svc, err := orders.NewService(orders.ServiceParams{
		Repo:    h.orders,
		TX:      h.client,
		Machine: h.machine,
		Fees:    fees.NewCalculator(fees.DefaultTiers()),
		COD:     h.payments,
	})
	require.NoError(t, err)

	_, err = svc.SellerAction(context.Background(), orders.SellerActionInput{OrderID: order.ID, StoreID: store, Action: orders.ActionShip})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	for _, action := range []orders.Action{orders.ActionConfirm, orders.ActionShip, orders.ActionDeliver} {
		_, err := svc.SellerAction(context.Background(), orders.SellerActionInput{OrderID: order.ID, StoreID: store, UserID: uuid.New(), Action: action})
		require.NoError(t, err, "action %s", action)
	}

	history, err := h.orders.ListStatusEvents(context.Background(), order.ID)
	require.NoError(t, err)
	got := make([]enums.OrderStatus, 0, len(history))
	for _, event := range history {
		got = append(got, event.ToStatus)
	}
	assert.Equal(t, []enums.OrderStatus{
		enums.OrderStatusPending,
		enums.OrderStatusConfirmed,
		enums.OrderStatusShipped,
		enums.OrderStatusDelivered,
	}, got)

	payment, err := h.payments.FindByOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusSucceeded, payment.Status)
}

type decliningGateway struct{}

func (decliningGateway) Name() string { return "declining" }

func (decliningGateway) GetCharge(context.Context, string) (*payments.Charge, error) {
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "charge not found")
}

func (decliningGateway) CreateCharge(_ context.Context, req payments.ChargeRequest) (*payments.Charge, error) {
	return &payments.Charge{ID: "chrg_declined", Status: payments.ChargeFailed, Reference: req.Reference, FailureReason: "card declined"}, nil
}

// A declined card cancels the order and puts the stock back.
func TestDeclinedCardRestoresStock(t *testing.T) {
	h := newHarness(t)
	buyer := uuid.New()
	product := dbtest.SeedProduct(t, h.client, uuid.New(), "camera", 1250000, 4)
	dbtest.AddCartLine(t, h.client, buyer, product.ID, 3)

	order, err := h.place(buyer, "card")
	require.NoError(t, err)
	require.Equal(t, 1, dbtest.StockOf(t, h.client, product.ID))

	reconciler, err := payments.NewReconciler(payments.Params{
		TX:       h.client,
		Payments: h.payments,
		Orders:   h.orders,
		Machine:  h.machine,
		Outbox:   h.events,
		Card:     decliningGateway{},
	})
	require.NoError(t, err)
	_, err = reconciler.Settle(context.Background(), payments.SettleInput{
		OrderID:     order.ID,
		BuyerID:     buyer,
		Instruction: payments.Instruction{Method: enums.PaymentMethodCard, Card: &payments.CardPayload{Token: "tokn_test_declined"}},
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodePaymentDeclined))

	stored, err := h.orders.FindOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, stored.Status)
	assert.Equal(t, 4, dbtest.StockOf(t, h.client, product.ID))
}
