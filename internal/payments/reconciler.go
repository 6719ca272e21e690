// Package payments settles orders against the configured payment gateways.
// Gateway I/O always happens outside database transactions; every state
// change it causes is written in a short transaction afterwards.
package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
)

const (
	defaultQRTTL          = 15 * time.Minute
	defaultCardTTL        = 30 * time.Minute
	defaultReconcileAfter = 2 * time.Minute
	reconcileBatchSize    = 100

	refundDueReason   = "charge succeeded after the order was cancelled"
	unconfirmedCharge = "card charge could not be confirmed"
)

// Params wires a Reconciler. Card and QR are optional; a method without a
// gateway is rejected at settle time. Lookups adds gateways that only need
// to answer GetCharge for rows written by a previous configuration.
type Params struct {
	TX             txRunner
	Payments       *Repository
	Orders         orders.Repository
	Machine        transitioner
	Outbox         outboxPublisher
	Card           CardGateway
	QR             QRGateway
	Lookups        []Gateway
	QRTTL          time.Duration
	CardTTL        time.Duration
	ReconcileAfter time.Duration
	Logger         *logger.Logger
	Metrics        *metrics.OrderMetrics
}

// Reconciler drives payments from pending to a final state.
type Reconciler struct {
	tx             txRunner
	payments       *Repository
	orders         orders.Repository
	machine        transitioner
	outbox         outboxPublisher
	settlers       map[enums.PaymentMethod]Settler
	gateways       map[string]Gateway
	card           CardGateway
	qr             QRGateway
	qrTTL          time.Duration
	cardTTL        time.Duration
	reconcileAfter time.Duration
	logg           *logger.Logger
	stats          *metrics.OrderMetrics
	now            func() time.Time
}

func NewReconciler(p Params) (*Reconciler, error) {
	if p.TX == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if p.Payments == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if p.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if p.Machine == nil {
		return nil, fmt.Errorf("order state machine required")
	}
	if p.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	r := &Reconciler{
		tx:             p.TX,
		payments:       p.Payments,
		orders:         p.Orders,
		machine:        p.Machine,
		outbox:         p.Outbox,
		settlers:       map[enums.PaymentMethod]Settler{},
		gateways:       map[string]Gateway{},
		card:           p.Card,
		qr:             p.QR,
		qrTTL:          p.QRTTL,
		cardTTL:        p.CardTTL,
		reconcileAfter: p.ReconcileAfter,
		logg:           p.Logger,
		stats:          p.Metrics,
		now:            time.Now,
	}
	if r.qrTTL <= 0 {
		r.qrTTL = defaultQRTTL
	}
	if r.cardTTL <= 0 {
		r.cardTTL = defaultCardTTL
	}
	if r.reconcileAfter <= 0 {
		r.reconcileAfter = defaultReconcileAfter
	}
	for _, gw := range p.Lookups {
		if gw != nil {
			r.gateways[gw.Name()] = gw
		}
	}
	if p.Card != nil {
		r.gateways[p.Card.Name()] = p.Card
		r.register(&cardSettler{r: r, gateway: p.Card})
	}
	if p.QR != nil {
		r.gateways[p.QR.Name()] = p.QR
		r.register(&qrSettler{r: r, gateway: p.QR})
	}
	r.register(&codSettler{r: r})
	return r, nil
}

func (r *Reconciler) register(s Settler) {
	r.settlers[s.Method()] = s
}

// Settle runs the settler for the order's payment method. An instruction
// without a method uses the one chosen at checkout. An order that is already
// confirmed or beyond is reported as settled without touching the gateway, so
// replays are safe.
func (r *Reconciler) Settle(ctx context.Context, in SettleInput) (*Settlement, error) {
	method := in.Instruction.Method
	if method != "" && !method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method")
	}
	order, payment, err := r.load(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != in.BuyerID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if method == "" {
		method = order.PaymentMethod
		in.Instruction.Method = method
	}
	if order.PaymentMethod != method {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment method does not match order").
			WithDetails(map[string]any{"order_payment_method": order.PaymentMethod})
	}
	if order.Status.IsSettled() {
		r.stats.IncSettlement(string(method), "replayed")
		return settlementFor(order, payment), nil
	}
	if order.Status == enums.OrderStatusCancelled {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order was cancelled")
	}

	settler, ok := r.settlers[method]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment method unavailable")
	}
	result, err := settler.Settle(ctx, order, payment, in.Instruction)
	r.record(ctx, order.ID, method, result, err)
	return result, err
}

// Verify asks the gateway for the charge behind a pending order. It is the
// server side of the buyer's "I have paid" action and never trusts the client.
func (r *Reconciler) Verify(ctx context.Context, buyerID, orderID uuid.UUID) (*Settlement, error) {
	order, payment, err := r.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != buyerID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if order.Status != enums.OrderStatusPending || payment.Status.IsFinal() ||
		order.PaymentMethod == enums.PaymentMethodCOD || payment.ChargeID == nil {
		return settlementFor(order, payment), nil
	}
	gw, err := r.gatewayFor(payment)
	if err != nil {
		return nil, err
	}
	charge, err := gw.GetCharge(ctx, *payment.ChargeID)
	if err != nil {
		return nil, err
	}
	return r.apply(ctx, order.ID, charge)
}

// ResolveCharge re-reads a charge from its gateway and applies the result.
// Webhooks call it after the signature check; the webhook body itself is not
// trusted for the status.
func (r *Reconciler) ResolveCharge(ctx context.Context, chargeID string) (*Settlement, error) {
	payment, err := r.payments.FindByChargeID(ctx, chargeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	gw, err := r.gatewayFor(payment)
	if err != nil {
		return nil, err
	}
	charge, err := gw.GetCharge(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	result, err := r.apply(ctx, payment.OrderID, charge)
	r.record(ctx, payment.OrderID, payment.Method, result, err)
	return result, err
}

// ReconcileStale resolves gateway payments that have been processing or
// awaiting confirmation for longer than the reconcile window. QR payments
// still unpaid after the QR TTL are expired, which cancels the order and
// returns its stock.
func (r *Reconciler) ReconcileStale(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	now := r.now().UTC()
	rows, err := r.payments.ListStale(ctx, now.Add(-r.reconcileAfter), reconcileBatchSize)
	if err != nil {
		return report, fmt.Errorf("list stale payments: %w", err)
	}

	var errs error
	for i := range rows {
		payment := rows[i]
		report.Checked++
		result, expired, err := r.reconcileOne(ctx, &payment, now)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("payment %s: %w", payment.ID, err))
			continue
		}
		switch {
		case result == nil:
			report.Skipped++
		case expired:
			report.Expired++
		case result.Outcome == OutcomeSettled:
			report.Settled++
		case result.Outcome == OutcomeFailed:
			report.Failed++
		default:
			report.Pending++
		}
	}
	return report, errs
}

func (r *Reconciler) reconcileOne(ctx context.Context, payment *models.Payment, now time.Time) (*Settlement, bool, error) {
	gw, err := r.gatewayFor(payment)
	if err != nil {
		return nil, false, err
	}
	stale := now.Sub(payment.UpdatedAt) > r.qrTTL

	var charge *Charge
	switch {
	case payment.ChargeID != nil:
		charge, err = gw.GetCharge(ctx, *payment.ChargeID)
	default:
		finder, ok := gw.(ChargeFinder)
		if !ok {
			// Without a charge id or a reference search the outcome is unknowable;
			// after the card TTL the order is cancelled so its stock is not held forever.
			if now.Sub(payment.UpdatedAt) <= r.cardTTL {
				r.warn(ctx, payment.OrderID, "payment has no charge id and the gateway cannot search by order")
				return nil, false, nil
			}
			r.warn(ctx, payment.OrderID, "unconfirmed card charge expired; check the gateway dashboard before closing")
			result, err := r.fail(ctx, payment.OrderID, nil, unconfirmedCharge)
			return result, true, err
		}
		charge, err = finder.FindChargeByReference(ctx, payment.OrderID.String())
	}
	if err != nil {
		return nil, false, err
	}

	if charge == nil {
		if !stale {
			return nil, false, nil
		}
		result, err := r.fail(ctx, payment.OrderID, nil, "payment was not completed in time")
		return result, true, err
	}
	if charge.Status == ChargePending && payment.Method == enums.PaymentMethodQR && stale {
		result, err := r.fail(ctx, payment.OrderID, charge, "qr code expired")
		return result, true, err
	}
	if charge.Status == ChargeExpired {
		result, err := r.fail(ctx, payment.OrderID, charge, "qr code expired")
		return result, true, err
	}
	result, err := r.apply(ctx, payment.OrderID, charge)
	return result, false, err
}

func (r *Reconciler) load(ctx context.Context, orderID uuid.UUID) (*models.Order, *models.Payment, error) {
	order, err := r.orders.FindOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	payment, err := r.payments.FindByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	return order, payment, nil
}

func (r *Reconciler) gatewayFor(payment *models.Payment) (Gateway, error) {
	if payment.Provider != nil {
		if gw, ok := r.gateways[*payment.Provider]; ok {
			return gw, nil
		}
	}
	switch {
	case payment.Method == enums.PaymentMethodCard && r.card != nil:
		return r.card, nil
	case payment.Method == enums.PaymentMethodQR && r.qr != nil:
		return r.qr, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeDependency, "no gateway configured for payment")
}

// claim moves a pending payment to processing and bumps the attempt counter.
// A payment already processing keeps its attempt, so the retried gateway
// call reuses the same idempotency key. resumed reports that case.
func (r *Reconciler) claim(ctx context.Context, orderID uuid.UUID, provider string) (payment *models.Payment, resumed bool, err error) {
	err = r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.payments.WithTx(tx)
		locked, err := repo.LockByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		payment = locked
		order, err := r.orders.WithTx(tx).FindOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != enums.OrderStatusPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is no longer awaiting payment")
		}
		switch locked.Status {
		case enums.PaymentStatusPending:
			locked.Status = enums.PaymentStatusProcessing
			locked.AttemptCount++
			locked.Provider = &provider
			return repo.Save(ctx, locked)
		case enums.PaymentStatusProcessing, enums.PaymentStatusAwaitingConfirmation:
			resumed = true
		}
		return nil
	})
	if err != nil {
		return nil, false, wrapDependency(err, "claim payment")
	}
	return payment, resumed, nil
}

// apply records a charge result.
func (r *Reconciler) apply(ctx context.Context, orderID uuid.UUID, charge *Charge) (*Settlement, error) {
	switch charge.Status {
	case ChargeSucceeded:
		return r.succeed(ctx, orderID, charge)
	case ChargeFailed, ChargeExpired:
		reason := charge.FailureReason
		if reason == "" {
			reason = "payment " + string(charge.Status)
		}
		return r.fail(ctx, orderID, charge, reason)
	default:
		return r.await(ctx, orderID, charge)
	}
}

func (r *Reconciler) succeed(ctx context.Context, orderID uuid.UUID, charge *Charge) (*Settlement, error) {
	var result *Settlement
	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.payments.WithTx(tx)
		payment, err := repo.LockByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		order, err := r.orders.WithTx(tx).FindOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if payment.Status == enums.PaymentStatusSucceeded {
			result = settlementFor(order, payment)
			return nil
		}
		payment.Status = enums.PaymentStatusSucceeded
		payment.FailureReason = nil
		attachCharge(payment, charge)
		if order.Status == enums.OrderStatusCancelled {
			r.warn(ctx, orderID, "charge succeeded after the order was cancelled; refund due")
			reason := refundDueReason
			payment.FailureReason = &reason
			if err := repo.Save(ctx, payment); err != nil {
				return err
			}
			if err := r.emit(ctx, tx, enums.EventPaymentRefundDue, payment); err != nil {
				return err
			}
			result = settlementFor(order, payment)
			return nil
		}
		if err := repo.Save(ctx, payment); err != nil {
			return err
		}
		if order.Status == enums.OrderStatusPending {
			order, err = r.machine.Apply(ctx, tx, orders.TransitionInput{
				OrderID: orderID,
				To:      enums.OrderStatusConfirmed,
				Actor:   orders.GatewayActor,
				Reason:  "payment settled",
			})
			if err != nil {
				return err
			}
		}
		if err := r.emit(ctx, tx, enums.EventPaymentSettled, payment); err != nil {
			return err
		}
		result = settlementFor(order, payment)
		return nil
	})
	if err != nil {
		return nil, wrapDependency(err, "record settled payment")
	}
	return result, nil
}

// fail marks the payment failed and cancels a still pending order, which
// returns its stock in the same transaction.
func (r *Reconciler) fail(ctx context.Context, orderID uuid.UUID, charge *Charge, reason string) (*Settlement, error) {
	var result *Settlement
	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.payments.WithTx(tx)
		payment, err := repo.LockByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		order, err := r.orders.WithTx(tx).FindOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if payment.Status.IsFinal() {
			result = settlementFor(order, payment)
			return nil
		}
		payment.Status = enums.PaymentStatusFailed
		payment.FailureReason = &reason
		if charge != nil {
			attachCharge(payment, charge)
		}
		if err := repo.Save(ctx, payment); err != nil {
			return err
		}
		if order.Status == enums.OrderStatusPending {
			order, err = r.machine.Apply(ctx, tx, orders.TransitionInput{
				OrderID: orderID,
				To:      enums.OrderStatusCancelled,
				Actor:   orders.GatewayActor,
				Reason:  reason,
			})
			if err != nil {
				return err
			}
		}
		if err := r.emit(ctx, tx, enums.EventPaymentFailed, payment); err != nil {
			return err
		}
		result = settlementFor(order, payment)
		return nil
	})
	if err != nil {
		return nil, wrapDependency(err, "record failed payment")
	}
	return result, nil
}

// await stores the gateway ids of a charge that is still open.
func (r *Reconciler) await(ctx context.Context, orderID uuid.UUID, charge *Charge) (*Settlement, error) {
	var result *Settlement
	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.payments.WithTx(tx)
		payment, err := repo.LockByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		order, err := r.orders.WithTx(tx).FindOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if payment.Status.IsFinal() {
			result = settlementFor(order, payment)
			return nil
		}
		// An unchanged row is left alone so updated_at keeps measuring the QR TTL.
		entered := payment.Status != enums.PaymentStatusAwaitingConfirmation
		before := *payment
		payment.Status = enums.PaymentStatusAwaitingConfirmation
		if charge != nil {
			attachCharge(payment, charge)
		}
		if entered || !sameGatewayRefs(&before, payment) {
			if err := repo.Save(ctx, payment); err != nil {
				return err
			}
		}
		if entered {
			if err := r.emit(ctx, tx, enums.EventPaymentAwaiting, payment); err != nil {
				return err
			}
		}
		result = settlementFor(order, payment)
		return nil
	})
	if err != nil {
		return nil, wrapDependency(err, "record pending payment")
	}
	return result, nil
}

func (r *Reconciler) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, payment *models.Payment) error {
	data := payloads.PaymentStatusEvent{
		OrderID:     payment.OrderID,
		PaymentID:   payment.ID,
		Method:      payment.Method,
		Status:      payment.Status,
		AmountCents: payment.AmountCents,
	}
	if payment.ChargeID != nil {
		data.ChargeID = *payment.ChargeID
	}
	if payment.FailureReason != nil {
		data.FailureReason = *payment.FailureReason
	}
	return r.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Actor:         &outbox.ActorRef{Type: string(enums.ActorGateway)},
		Data:          data,
	})
}

func (r *Reconciler) record(ctx context.Context, orderID uuid.UUID, method enums.PaymentMethod, result *Settlement, err error) {
	outcome := "error"
	switch {
	case pkgerrors.IsCode(err, pkgerrors.CodePaymentDeclined):
		outcome = string(OutcomeFailed)
	case err == nil && result != nil:
		outcome = string(result.Outcome)
	}
	r.stats.IncSettlement(string(method), outcome)
	if r.logg == nil {
		return
	}
	logCtx := r.logg.WithFields(ctx, map[string]any{
		"order_id": orderID.String(),
		"method":   method,
		"outcome":  outcome,
	})
	if outcome == "error" {
		r.logg.Warn(logCtx, fmt.Sprintf("payment settlement failed: %v", err))
		return
	}
	r.logg.Info(logCtx, "payment settlement recorded")
}

func (r *Reconciler) warn(ctx context.Context, orderID uuid.UUID, msg string) {
	if r.logg == nil {
		return
	}
	r.logg.Warn(r.logg.WithField(ctx, "order_id", orderID.String()), msg)
}

func attachCharge(payment *models.Payment, charge *Charge) {
	if charge.ID != "" {
		id := charge.ID
		payment.ChargeID = &id
	}
	if charge.SourceID != "" {
		source := charge.SourceID
		payment.SourceID = &source
	}
	if charge.ImageURL != "" {
		image := charge.ImageURL
		payment.ScannableImageURL = &image
	}
}

func sameGatewayRefs(a, b *models.Payment) bool {
	return equalPtr(a.ChargeID, b.ChargeID) && equalPtr(a.SourceID, b.SourceID) &&
		equalPtr(a.ScannableImageURL, b.ScannableImageURL)
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func wrapDependency(err error, msg string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}

func idempotencyKey(orderID uuid.UUID, attempt int) string {
	return fmt.Sprintf("order-%s-charge-%d", orderID, attempt)
}
