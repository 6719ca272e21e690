package payments

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// cardSettler charges synchronously. A decline cancels the order and is
// returned as PaymentDeclined; a transport failure leaves the payment
// processing for the reconcile job.
type cardSettler struct {
	r       *Reconciler
	gateway CardGateway
}

func (s *cardSettler) Method() enums.PaymentMethod { return enums.PaymentMethodCard }

func (s *cardSettler) Settle(ctx context.Context, order *models.Order, payment *models.Payment, in Instruction) (*Settlement, error) {
	if in.Card == nil || strings.TrimSpace(in.Card.Token) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "card token is required")
	}
	if payment.Status == enums.PaymentStatusAwaitingConfirmation && payment.ChargeID != nil {
		charge, err := s.gateway.GetCharge(ctx, *payment.ChargeID)
		if err != nil {
			return nil, err
		}
		return s.finish(ctx, order, charge)
	}

	claimed, resumed, err := s.r.claim(ctx, order.ID, s.gateway.Name())
	if err != nil {
		return nil, err
	}
	reference := order.ID.String()

	var charge *Charge
	if finder, ok := s.gateway.(ChargeFinder); ok && resumed {
		charge, err = finder.FindChargeByReference(ctx, reference)
		if err != nil {
			return nil, err
		}
	}
	if charge == nil {
		charge, err = s.gateway.CreateCharge(ctx, ChargeRequest{
			AmountCents:    order.TotalCents,
			Currency:       order.Currency,
			CardToken:      strings.TrimSpace(in.Card.Token),
			Reference:      reference,
			IdempotencyKey: idempotencyKey(order.ID, claimed.AttemptCount),
		})
		if err != nil {
			if pkgerrors.As(err) == nil {
				err = pkgerrors.GatewayUnavailable(err)
			}
			return nil, err
		}
	}
	return s.finish(ctx, order, charge)
}

func (s *cardSettler) finish(ctx context.Context, order *models.Order, charge *Charge) (*Settlement, error) {
	result, err := s.r.apply(ctx, order.ID, charge)
	if err != nil {
		return nil, err
	}
	if result.Outcome == OutcomeFailed {
		return nil, pkgerrors.PaymentDeclined(result.FailureReason)
	}
	return result, nil
}

// qrSettler opens a PromptPay source and waits for the gateway webhook or a
// server-side verification. A source already on file is handed back as is.
type qrSettler struct {
	r       *Reconciler
	gateway QRGateway
}

func (s *qrSettler) Method() enums.PaymentMethod { return enums.PaymentMethodQR }

func (s *qrSettler) Settle(ctx context.Context, order *models.Order, payment *models.Payment, _ Instruction) (*Settlement, error) {
	if payment.Status == enums.PaymentStatusAwaitingConfirmation && payment.ChargeID != nil && payment.ScannableImageURL != nil {
		return settlementFor(order, payment), nil
	}
	claimed, _, err := s.r.claim(ctx, order.ID, s.gateway.Name())
	if err != nil {
		return nil, err
	}
	charge, err := s.gateway.CreateSource(ctx, SourceRequest{
		AmountCents:    order.TotalCents,
		Currency:       order.Currency,
		Type:           sourceTypePromptPay,
		Reference:      order.ID.String(),
		IdempotencyKey: idempotencyKey(order.ID, claimed.AttemptCount),
	})
	if err != nil {
		if pkgerrors.As(err) == nil {
			err = pkgerrors.GatewayUnavailable(err)
		}
		return nil, err
	}
	return s.r.apply(ctx, order.ID, charge)
}

// codSettler needs no gateway: the payment waits for cash on delivery while
// the seller drives the order forward.
type codSettler struct {
	r *Reconciler
}

func (s *codSettler) Method() enums.PaymentMethod { return enums.PaymentMethodCOD }

func (s *codSettler) Settle(ctx context.Context, order *models.Order, _ *models.Payment, _ Instruction) (*Settlement, error) {
	var result *Settlement
	err := s.r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.r.payments.WithTx(tx)
		payment, err := repo.LockByOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		if payment.Status == enums.PaymentStatusPending {
			payment.Status = enums.PaymentStatusAwaitingConfirmation
			if err := repo.Save(ctx, payment); err != nil {
				return err
			}
			if err := s.r.emit(ctx, tx, enums.EventPaymentAwaiting, payment); err != nil {
				return err
			}
		}
		result = settlementFor(order, payment)
		return nil
	})
	if err != nil {
		return nil, wrapDependency(err, "record cod payment")
	}
	return result, nil
}
