package payments

import (
	"context"
	"errors"
	"net/http"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/paygate"
)

// ProviderPaygate names the resty-backed gateway in payment rows.
const ProviderPaygate = "paygate"

type paygateAPI interface {
	CreateCharge(ctx context.Context, params paygate.ChargeParams) (*paygate.Charge, error)
	CreatePromptPayCharge(ctx context.Context, params paygate.PromptPayParams) (*paygate.Charge, error)
	GetCharge(ctx context.Context, chargeID string) (*paygate.Charge, error)
	FindChargeByOrder(ctx context.Context, orderID string) (*paygate.Charge, error)
}

// PaygateGateway serves both card and QR settlement.
type PaygateGateway struct {
	client paygateAPI
}

func NewPaygateGateway(client *paygate.Client) *PaygateGateway {
	return &PaygateGateway{client: client}
}

func (g *PaygateGateway) Name() string { return ProviderPaygate }

func (g *PaygateGateway) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	charge, err := g.client.CreateCharge(ctx, paygate.ChargeParams{
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		CardToken:      req.CardToken,
		OrderID:        req.Reference,
		Description:    "order " + req.Reference,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return declineOrUnavailable(err, req.Reference)
	}
	return fromPaygate(charge), nil
}

func (g *PaygateGateway) CreateSource(ctx context.Context, req SourceRequest) (*Charge, error) {
	charge, err := g.client.CreatePromptPayCharge(ctx, paygate.PromptPayParams{
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		OrderID:        req.Reference,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, classifyPaygate(err)
	}
	return fromPaygate(charge), nil
}

func (g *PaygateGateway) GetCharge(ctx context.Context, chargeID string) (*Charge, error) {
	charge, err := g.client.GetCharge(ctx, chargeID)
	if err != nil {
		return nil, classifyPaygate(err)
	}
	return fromPaygate(charge), nil
}

func (g *PaygateGateway) FindChargeByReference(ctx context.Context, reference string) (*Charge, error) {
	charge, err := g.client.FindChargeByOrder(ctx, reference)
	if err != nil {
		return nil, classifyPaygate(err)
	}
	if charge == nil {
		return nil, nil
	}
	return fromPaygate(charge), nil
}

// declineOrUnavailable turns a client-side rejection of the card (bad token,
// insufficient funds reported as 4xx) into a failed charge.
func declineOrUnavailable(err error, reference string) (*Charge, error) {
	var apiErr *paygate.APIError
	if errors.As(err, &apiErr) && isDecline(apiErr) {
		reason := apiErr.Message
		if reason == "" {
			reason = apiErr.Code
		}
		return &Charge{Status: ChargeFailed, Reference: reference, FailureReason: reason}, nil
	}
	return nil, classifyPaygate(err)
}

func isDecline(apiErr *paygate.APIError) bool {
	if apiErr.Temporary() {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return false
	}
	return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
}

func classifyPaygate(err error) error {
	var apiErr *paygate.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusNotFound:
			return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "charge not found")
		case apiErr.Temporary():
			return pkgerrors.GatewayUnavailable(err)
		default:
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment gateway rejected request")
		}
	}
	return pkgerrors.GatewayUnavailable(err)
}

func fromPaygate(c *paygate.Charge) *Charge {
	out := &Charge{
		ID:            c.ID,
		AmountCents:   c.Amount,
		Reference:     c.Metadata["order_id"],
		FailureReason: c.Reason(),
		ImageURL:      c.ImageURL(),
	}
	if c.Source != nil {
		out.SourceID = c.Source.ID
	}
	switch c.Status {
	case paygate.ChargeStatusSuccessful:
		out.Status = ChargeSucceeded
	case paygate.ChargeStatusFailed, paygate.ChargeStatusReversed:
		out.Status = ChargeFailed
	case paygate.ChargeStatusExpired:
		out.Status = ChargeExpired
	default:
		out.Status = ChargePending
	}
	return out
}
