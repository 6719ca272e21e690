package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

func TestNewReconcilerRequiresDependencies(t *testing.T) {
	_, err := NewReconciler(Params{})
	require.Error(t, err)
}

func TestCardSettleConfirmsOrder(t *testing.T) {
	f := newFixture(t)
	f.gateway.chargeResult = &Charge{ID: "chrg_1", Status: ChargeSucceeded}
	order, _ := f.placeOrder(t, enums.PaymentMethodCard, 150000, 2, 5)

	result, err := f.reconciler.Settle(context.Background(), cardInput(order, "tokn_ok"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSettled, result.Outcome)
	assert.Equal(t, enums.OrderStatusConfirmed, result.OrderStatus)
	assert.Equal(t, enums.OrderStatusConfirmed, f.orderStatus(t, order.ID))

	require.Len(t, f.gateway.chargeCalls, 1)
	call := f.gateway.chargeCalls[0]
	assert.Equal(t, int64(300000), call.AmountCents)
	assert.Equal(t, "tokn_ok", call.CardToken)
	assert.Equal(t, "order-"+order.ID.String()+"-charge-1", call.IdempotencyKey)

	payment := f.payment(t, order.ID)
	assert.Equal(t, enums.PaymentStatusSucceeded, payment.Status)
	require.NotNil(t, payment.ChargeID)
	assert.Equal(t, "chrg_1", *payment.ChargeID)
	assert.Equal(t, 1, payment.AttemptCount)
	assert.Equal(t, []enums.OutboxEventType{enums.EventPaymentSettled}, f.eventTypes(t, payment.ID))
	assert.Contains(t, f.eventTypes(t, order.ID), enums.EventOrderStatusChanged)
}

func TestSettleReplayAfterConfirmationSkipsGateway(t *testing.T) {
	f := newFixture(t)
	f.gateway.chargeResult = &Charge{ID: "chrg_1", Status: ChargeSucceeded}
	order, _ := f.placeOrder(t, enums.PaymentMethodCard, 50000, 1, 3)

	first, err := f.reconciler.Settle(context.Background(), cardInput(order, "tokn_ok"))
	require.NoError(t, err)
	second, err := f.reconciler.Settle(context.Background(), cardInput(order, "tokn_ok"))
	require.NoError(t, err)

	assert.Equal(t, first.Outcome, second.Outcome)
	assert.Equal(t, OutcomeSettled, second.Outcome)
	assert.Len(t, f.gateway.chargeCalls, 1)
	assert.Len(t, f.eventTypes(t, f.payment(t, order.ID).ID), 1)
}

func TestCardDeclineCancelsOrderAndReleasesStock(t *testing.T) {
	f := newFixture(t)
	f.gateway.chargeResult = &Charge{ID: "chrg_declined", Status: ChargeFailed, FailureReason: "insufficient funds"}
	order, productID := f.placeOrder(t, enums.PaymentMethodCard, 80000, 2, 10)
	require.Equal(t, 8, dbtest.StockOf(t, f.client, productID))

	result, err := f.reconciler.Settle(context.Background(), cardInput(order, "tokn_declined"))
	require.Nil(t, result)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodePaymentDeclined))
	assert.Equal(t, map[string]any{"reason": "insufficient funds"}, pkgerrors.As(err).Details())

	assert.Equal(t, enums.OrderStatusCancelled, f.orderStatus(t, order.ID))
	assert.Equal(t, 10, dbtest.StockOf(t, f.client, productID))
	payment := f.payment(t, order.ID)
	assert.Equal(t, enums.PaymentStatusFailed, payment.Status)
	require.NotNil(t, payment.FailureReason)
	assert.Equal(t, "insufficient funds", *payment.FailureReason)
	assert.Contains(t, f.eventTypes(t, order.ID), enums.EventStockReleased)
	assert.Equal(t, []enums.OutboxEventType{enums.EventPaymentFailed}, f.eventTypes(t, payment.ID))

	_, err = f.reconciler.Settle(context.Background(), cardInput(order, "tokn_other"))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Len(t, f.gateway.chargeCalls, 1)
}

func TestCardTimeoutLeavesOrderPendingAndRetryReusesKey(t *testing.T) {
	f := newFixture(t)
	f.gateway.chargeErr = pkgerrors.GatewayUnavailable(errors.New("context deadline exceeded"))
	order, productID := f.placeOrder(t, enums.PaymentMethodCard, 20000, 1, 4)

	_, err := f.reconciler.Settle(context.Background(), cardInput(order, "tokn_ok"))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGatewayUnavailable))
	assert.Equal(t, enums.OrderStatusPending, f.orderStatus(t, order.ID))
	assert.Equal(t, enums.PaymentStatusProcessing, f.payment(t, order.ID).Status)
	assert.Equal(t, 3, dbtest.StockOf(t, f.client, productID))

	f.gateway.chargeErr = nil
	f.gateway.chargeResult = &Charge{ID: "chrg_2", Status: ChargeSucceeded}
	result, err := f.reconciler.Settle(context.Background(), cardInput(order, "tokn_ok"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSettled, result.Outcome)

	require.Len(t, f.gateway.chargeCalls, 2)
	assert.Equal(t, f.gateway.chargeCalls[0].IdempotencyKey, f.gateway.chargeCalls[1].IdempotencyKey)
	assert.Equal(t, 1, f.payment(t, order.ID).AttemptCount)
}

func TestCardRetryRecoversChargeFoundByReference(t *testing.T) {
	f := newFixture(t)
	f.gateway.chargeErr = pkgerrors.GatewayUnavailable(errors.New("read timeout"))
	order, _ := f.placeOrder(t, enums.PaymentMethodCard, 20000, 1, 4)

	_, err := f.reconciler.Settle(context.Background(), cardInput(order, "tokn_ok"))
	require.Error(t, err)

	f.gateway.byReference[order.ID.String()] = &Charge{ID: "chrg_late", Status: ChargeSucceeded}
	result, err := f.reconciler.Settle(context.Background(), cardInput(order, "tokn_ok"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSettled, result.Outcome)
	assert.Len(t, f.gateway.chargeCalls, 1)
	assert.Equal(t, "chrg_late", *f.payment(t, order.ID).ChargeID)
}

func TestSettleUsesOrderMethodWhenOmitted(t *testing.T) {
	f := newFixture(t)
	f.gateway.chargeResult = &Charge{ID: "chrg_default", Status: ChargeSucceeded}
	order, _ := f.placeOrder(t, enums.PaymentMethodCard, 30000, 1, 2)

	_, err := f.reconciler.Settle(context.Background(), SettleInput{OrderID: order.ID, BuyerID: order.BuyerID})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "card order still needs a token: %v", err)

	result, err := f.reconciler.Settle(context.Background(), SettleInput{
		OrderID:     order.ID,
		BuyerID:     order.BuyerID,
		Instruction: Instruction{Card: &CardPayload{Token: "tokn_ok"}},
	})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentMethodCard, result.Method)
	assert.Equal(t, OutcomeSettled, result.Outcome)
	assert.Len(t, f.gateway.chargeCalls, 1)
}

func TestSettleRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	order, _ := f.placeOrder(t, enums.PaymentMethodCard, 1000, 1, 2)

	_, err := f.reconciler.Settle(context.Background(), cardInput(order, "  "))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	other := cardInput(order, "tokn")
	other.BuyerID = uuid.New()
	_, err = f.reconciler.Settle(context.Background(), other)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = f.reconciler.Settle(context.Background(), SettleInput{
		OrderID:     order.ID,
		BuyerID:     order.BuyerID,
		Instruction: Instruction{Method: enums.PaymentMethodQR},
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.reconciler.Settle(context.Background(), SettleInput{OrderID: uuid.New(), Instruction: Instruction{Method: enums.PaymentMethodCOD}})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	assert.Empty(t, f.gateway.chargeCalls)
}

func TestQRSettleAwaitsWebhook(t *testing.T) {
	f := newFixture(t)
	f.gateway.sourceResult = &Charge{
		ID:       "chrg_qr",
		SourceID: "src_qr",
		Status:   ChargePending,
		ImageURL: "https://gateway.test/qr/chrg_qr.svg",
	}
	order, _ := f.placeOrder(t, enums.PaymentMethodQR, 45000, 1, 2)
	in := SettleInput{OrderID: order.ID, BuyerID: order.BuyerID, Instruction: Instruction{Method: enums.PaymentMethodQR}}

	result, err := f.reconciler.Settle(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAwaitingConfirmation, result.Outcome)
	assert.Equal(t, "https://gateway.test/qr/chrg_qr.svg", result.ScannableImageURL)
	assert.Equal(t, enums.OrderStatusPending, f.orderStatus(t, order.ID))
	require.Len(t, f.gateway.sourceCalls, 1)
	assert.Equal(t, sourceTypePromptPay, f.gateway.sourceCalls[0].Type)

	again, err := f.reconciler.Settle(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, result.ScannableImageURL, again.ScannableImageURL)
	assert.Len(t, f.gateway.sourceCalls, 1)

	// an unpaid verification changes nothing
	verified, err := f.reconciler.Verify(context.Background(), order.BuyerID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAwaitingConfirmation, verified.Outcome)

	f.gateway.setStatus("chrg_qr", ChargeSucceeded, "")
	resolved, err := f.reconciler.ResolveCharge(context.Background(), "chrg_qr")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSettled, resolved.Outcome)
	assert.Equal(t, enums.OrderStatusConfirmed, f.orderStatus(t, order.ID))

	payment := f.payment(t, order.ID)
	assert.Equal(t, []enums.OutboxEventType{enums.EventPaymentAwaiting, enums.EventPaymentSettled}, f.eventTypes(t, payment.ID))

	// duplicate webhook delivery
	_, err = f.reconciler.ResolveCharge(context.Background(), "chrg_qr")
	require.NoError(t, err)
	assert.Len(t, f.eventTypes(t, payment.ID), 2)
}

func TestChargeSucceedingAfterCancelIsNotSettled(t *testing.T) {
	f := newFixture(t)
	f.gateway.sourceResult = &Charge{ID: "chrg_qr", Status: ChargePending, ImageURL: "https://gateway.test/qr.svg"}
	order, productID := f.placeOrder(t, enums.PaymentMethodQR, 45000, 1, 2)
	_, err := f.reconciler.Settle(context.Background(), SettleInput{OrderID: order.ID, BuyerID: order.BuyerID, Instruction: Instruction{Method: enums.PaymentMethodQR}})
	require.NoError(t, err)

	f.sellerCancel(t, order)
	require.Equal(t, 2, dbtest.StockOf(t, f.client, productID))

	f.gateway.setStatus("chrg_qr", ChargeSucceeded, "")
	result, err := f.reconciler.ResolveCharge(context.Background(), "chrg_qr")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Equal(t, enums.OrderStatusCancelled, result.OrderStatus)
	assert.Equal(t, enums.PaymentStatusSucceeded, result.PaymentStatus)
	assert.Equal(t, refundDueReason, result.FailureReason)
	assert.Equal(t, enums.OrderStatusCancelled, f.orderStatus(t, order.ID))
	assert.Equal(t, 2, dbtest.StockOf(t, f.client, productID))

	payment := f.payment(t, order.ID)
	assert.Equal(t, []enums.OutboxEventType{enums.EventPaymentAwaiting, enums.EventPaymentRefundDue}, f.eventTypes(t, payment.ID))

	again, err := f.reconciler.ResolveCharge(context.Background(), "chrg_qr")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, again.Outcome)
	assert.Len(t, f.eventTypes(t, payment.ID), 2)
}

func TestSettlementNeverReportsCancelledOrderSettled(t *testing.T) {
	order := &models.Order{ID: uuid.New(), PaymentMethod: enums.PaymentMethodCard, Status: enums.OrderStatusCancelled}
	result := settlementFor(order, &models.Payment{Status: enums.PaymentStatusSucceeded})
	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Equal(t, "order was cancelled", result.FailureReason)

	order.Status = enums.OrderStatusConfirmed
	assert.Equal(t, OutcomeSettled, settlementFor(order, &models.Payment{Status: enums.PaymentStatusSucceeded}).Outcome)
}

func TestVerifyConfirmsPaidQR(t *testing.T) {
	f := newFixture(t)
	f.gateway.sourceResult = &Charge{ID: "chrg_qr", Status: ChargePending, ImageURL: "https://gateway.test/qr.svg"}
	order, _ := f.placeOrder(t, enums.PaymentMethodQR, 45000, 1, 2)
	_, err := f.reconciler.Settle(context.Background(), SettleInput{OrderID: order.ID, BuyerID: order.BuyerID, Instruction: Instruction{Method: enums.PaymentMethodQR}})
	require.NoError(t, err)

	_, err = f.reconciler.Verify(context.Background(), uuid.New(), order.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	f.gateway.setStatus("chrg_qr", ChargeSucceeded, "")
	result, err := f.reconciler.Verify(context.Background(), order.BuyerID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSettled, result.Outcome)
	assert.Equal(t, enums.OrderStatusConfirmed, f.orderStatus(t, order.ID))
}

func TestResolveUnknownCharge(t *testing.T) {
	f := newFixture(t)
	_, err := f.reconciler.ResolveCharge(context.Background(), "chrg_missing")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestReconcileExpiresUnpaidQR(t *testing.T) {
	f := newFixture(t)
	f.gateway.sourceResult = &Charge{ID: "chrg_qr", Status: ChargePending, ImageURL: "https://gateway.test/qr.svg"}
	order, productID := f.placeOrder(t, enums.PaymentMethodQR, 30000, 3, 3)
	_, err := f.reconciler.Settle(context.Background(), SettleInput{OrderID: order.ID, BuyerID: order.BuyerID, Instruction: Instruction{Method: enums.PaymentMethodQR}})
	require.NoError(t, err)
	require.Equal(t, 0, dbtest.StockOf(t, f.client, productID))

	f.reconciler.now = func() time.Time { return time.Now().Add(5 * time.Minute) }
	report, err := f.reconciler.ReconcileStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Checked: 1, Pending: 1}, report)
	assert.Equal(t, enums.OrderStatusPending, f.orderStatus(t, order.ID))

	f.reconciler.now = func() time.Time { return time.Now().Add(20 * time.Minute) }
	report, err = f.reconciler.ReconcileStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Checked: 1, Expired: 1}, report)
	assert.Equal(t, enums.OrderStatusCancelled, f.orderStatus(t, order.ID))
	assert.Equal(t, 3, dbtest.StockOf(t, f.client, productID))
	assert.Equal(t, enums.PaymentStatusFailed, f.payment(t, order.ID).Status)
}

func TestReconcileResolvesTimedOutCard(t *testing.T) {
	f := newFixture(t)
	f.gateway.chargeErr = pkgerrors.GatewayUnavailable(errors.New("i/o timeout"))
	order, _ := f.placeOrder(t, enums.PaymentMethodCard, 12000, 1, 1)
	_, err := f.reconciler.Settle(context.Background(), cardInput(order, "tokn_ok"))
	require.Error(t, err)

	f.gateway.byReference[order.ID.String()] = &Charge{ID: "chrg_done", Status: ChargeSucceeded}
	f.reconciler.now = func() time.Time { return time.Now().Add(3 * time.Minute) }
	report, err := f.reconciler.ReconcileStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Checked: 1, Settled: 1}, report)
	assert.Equal(t, enums.OrderStatusConfirmed, f.orderStatus(t, order.ID))
}

func TestReconcileExpiresUnconfirmedCardWithoutSearch(t *testing.T) {
	f := newFixture(t)
	gw := newFakeGateway()
	gw.chargeErr = pkgerrors.GatewayUnavailable(errors.New("i/o timeout"))
	reconciler := f.reconcilerWithCard(t, cardOnlyGateway{gw})
	order, productID := f.placeOrder(t, enums.PaymentMethodCard, 12000, 1, 3)

	_, err := reconciler.Settle(context.Background(), cardInput(order, "tokn_ok"))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGatewayUnavailable))
	require.Nil(t, f.payment(t, order.ID).ChargeID)

	reconciler.now = func() time.Time { return time.Now().Add(5 * time.Minute) }
	report, err := reconciler.ReconcileStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Checked: 1, Skipped: 1}, report)
	assert.Equal(t, enums.OrderStatusPending, f.orderStatus(t, order.ID))
	assert.Equal(t, 2, dbtest.StockOf(t, f.client, productID))

	reconciler.now = func() time.Time { return time.Now().Add(45 * time.Minute) }
	report, err = reconciler.ReconcileStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Checked: 1, Expired: 1}, report)
	assert.Equal(t, enums.OrderStatusCancelled, f.orderStatus(t, order.ID))
	assert.Equal(t, 3, dbtest.StockOf(t, f.client, productID))

	payment := f.payment(t, order.ID)
	assert.Equal(t, enums.PaymentStatusFailed, payment.Status)
	require.NotNil(t, payment.FailureReason)
	assert.Equal(t, unconfirmedCharge, *payment.FailureReason)
}

func TestReconcileCollectsErrors(t *testing.T) {
	f := newFixture(t)
	f.gateway.sourceResult = &Charge{ID: "chrg_gone", Status: ChargePending, ImageURL: "https://gateway.test/qr.svg"}
	order, _ := f.placeOrder(t, enums.PaymentMethodQR, 1000, 1, 1)
	_, err := f.reconciler.Settle(context.Background(), SettleInput{OrderID: order.ID, BuyerID: order.BuyerID, Instruction: Instruction{Method: enums.PaymentMethodQR}})
	require.NoError(t, err)
	delete(f.gateway.byID, "chrg_gone")

	f.reconciler.now = func() time.Time { return time.Now().Add(3 * time.Minute) }
	report, err := f.reconciler.ReconcileStale(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "charge not found")
	assert.Equal(t, 1, report.Checked)
}

func TestCODSettleAwaitsDelivery(t *testing.T) {
	f := newFixture(t)
	order, _ := f.placeOrder(t, enums.PaymentMethodCOD, 25000, 1, 1)
	in := SettleInput{OrderID: order.ID, BuyerID: order.BuyerID, Instruction: Instruction{Method: enums.PaymentMethodCOD}}

	result, err := f.reconciler.Settle(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAwaitingConfirmation, result.Outcome)
	assert.Equal(t, enums.PaymentStatusAwaitingConfirmation, result.PaymentStatus)
	assert.Equal(t, enums.OrderStatusPending, f.orderStatus(t, order.ID))

	_, err = f.reconciler.Settle(context.Background(), in)
	require.NoError(t, err)
	payment := f.payment(t, order.ID)
	assert.Len(t, f.eventTypes(t, payment.ID), 1)

	require.NoError(t, f.payments.MarkCollected(context.Background(), f.client.DB(), order.ID))
	assert.Equal(t, enums.PaymentStatusSucceeded, f.payment(t, order.ID).Status)
	assert.Empty(t, f.gateway.chargeCalls)
}

func TestMarkCollectedIgnoresGatewayPayments(t *testing.T) {
	f := newFixture(t)
	order, _ := f.placeOrder(t, enums.PaymentMethodCard, 25000, 1, 1)
	require.NoError(t, f.payments.MarkCollected(context.Background(), f.client.DB(), order.ID))
	assert.Equal(t, enums.PaymentStatusPending, f.payment(t, order.ID).Status)
}
