package payments

import (
	"context"

	sq "github.com/square/square-go-sdk"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/square"
)

// ProviderSquare names the Square card gateway in payment rows.
const ProviderSquare = "square"

type squareAPI interface {
	CreatePayment(ctx context.Context, params square.PaymentCreateParams) (*sq.Payment, error)
	GetPayment(ctx context.Context, paymentID string) (*sq.Payment, error)
}

// SquareGateway charges cards through Square. It has no QR support.
type SquareGateway struct {
	client squareAPI
}

func NewSquareGateway(client *square.Client) *SquareGateway {
	return &SquareGateway{client: client}
}

func (g *SquareGateway) Name() string { return ProviderSquare }

func (g *SquareGateway) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	payment, err := g.client.CreatePayment(ctx, square.PaymentCreateParams{
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		SourceID:       req.CardToken,
		IdempotencyKey: req.IdempotencyKey,
		ReferenceID:    req.Reference,
		Note:           "order " + req.Reference,
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodePaymentDeclined {
			return &Charge{Status: ChargeFailed, Reference: req.Reference, FailureReason: declineReason(typed)}, nil
		}
		return nil, err
	}
	return fromSquare(payment), nil
}

func (g *SquareGateway) GetCharge(ctx context.Context, chargeID string) (*Charge, error) {
	payment, err := g.client.GetPayment(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	return fromSquare(payment), nil
}

func declineReason(err *pkgerrors.Error) string {
	if details, ok := err.Details().(map[string]any); ok {
		if reason, ok := details["reason"].(string); ok && reason != "" {
			return reason
		}
	}
	return err.Message()
}

func fromSquare(p *sq.Payment) *Charge {
	if p == nil {
		return &Charge{Status: ChargePending}
	}
	out := &Charge{}
	if id := p.GetID(); id != nil {
		out.ID = *id
	}
	if ref := p.GetReferenceID(); ref != nil {
		out.Reference = *ref
	}
	if money := p.GetAmountMoney(); money != nil && money.GetAmount() != nil {
		out.AmountCents = *money.GetAmount()
	}
	status := ""
	if s := p.GetStatus(); s != nil {
		status = *s
	}
	switch status {
	case square.PaymentStatusCompleted, square.PaymentStatusApproved:
		out.Status = ChargeSucceeded
	case square.PaymentStatusCanceled, square.PaymentStatusFailed:
		out.Status = ChargeFailed
		out.FailureReason = "square payment " + status
	default:
		out.Status = ChargePending
	}
	return out
}
