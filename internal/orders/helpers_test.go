package orders

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
)

type seededLine struct {
	storeID uuid.UUID
	price   int64
	qty     int
	stock   int
}

type fixture struct {
	client  *db.Client
	repo    Repository
	outbox  *outbox.Repository
	machine *Machine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	outboxRepo := outbox.NewRepository(client.DB())
	machine, err := NewMachine(repo, inventory.NewLedger(), outbox.NewService(outboxRepo, nil), nil)
	require.NoError(t, err)
	return &fixture{client: client, repo: repo, outbox: outboxRepo, machine: machine}
}

// seedOrder stores an order whose stock has already been taken, the way
// checkout leaves it.
func (f *fixture) seedOrder(t *testing.T, method enums.PaymentMethod, lines ...seededLine) *models.Order {
	t.Helper()
	order := &models.Order{
		BuyerID:         uuid.New(),
		Currency:        "THB",
		ShippingAddress: "99 Sukhumvit Rd, Bangkok 10110",
		Phone:           "0812345678",
		PaymentMethod:   method,
		Status:          enums.OrderStatusPending,
	}
	for i, line := range lines {
		product := dbtest.SeedProduct(t, f.client, line.storeID, "item", line.price, line.stock-line.qty)
		order.Lines = append(order.Lines, models.OrderLine{
			ProductID:      product.ID,
			StoreID:        line.storeID,
			ProductName:    "item " + string(rune('A'+i)),
			Quantity:       line.qty,
			UnitPriceCents: line.price,
			LineTotalCents: int64(line.qty) * line.price,
		})
		order.TotalCents += int64(line.qty) * line.price
	}
	require.NoError(t, f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		if err := f.repo.WithTx(tx).CreateOrder(context.Background(), order); err != nil {
			return err
		}
		return tx.Create(&models.Payment{
			OrderID:     order.ID,
			Method:      method,
			Status:      enums.PaymentStatusPending,
			AmountCents: order.TotalCents,
			Currency:    order.Currency,
		}).Error
	}))
	return order
}

func (f *fixture) apply(t *testing.T, orderID uuid.UUID, to enums.OrderStatus) error {
	t.Helper()
	return f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		_, err := f.machine.Apply(context.Background(), tx, TransitionInput{OrderID: orderID, To: to, Actor: SystemActor})
		return err
	})
}

func (f *fixture) status(t *testing.T, orderID uuid.UUID) enums.OrderStatus {
	t.Helper()
	order, err := f.repo.FindOrder(context.Background(), orderID)
	require.NoError(t, err)
	return order.Status
}

type recordingCOD struct {
	collected []uuid.UUID
}

func (r *recordingCOD) MarkCollected(_ context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	r.collected = append(r.collected, orderID)
	return tx.Model(&models.Payment{}).
		Where("order_id = ?", orderID).
		Update("status", enums.PaymentStatusSucceeded).Error
}

// setPaymentStatus moves the order's payment the way a settler would.
func (f *fixture) setPaymentStatus(t *testing.T, orderID uuid.UUID, status enums.PaymentStatus) {
	t.Helper()
	require.NoError(t, f.client.DB().Model(&models.Payment{}).
		Where("order_id = ?", orderID).
		Update("status", status).Error)
}
