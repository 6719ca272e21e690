package payments

import (
	"context"
)

// ChargeStatus is the gateway-neutral state of a charge.
type ChargeStatus string

const (
	ChargePending   ChargeStatus = "pending"
	ChargeSucceeded ChargeStatus = "succeeded"
	ChargeFailed    ChargeStatus = "failed"
	ChargeExpired   ChargeStatus = "expired"
)

// Charge is what the engine keeps from a gateway response. Only opaque ids
// are carried; card data never leaves the gateway.
type Charge struct {
	ID            string
	SourceID      string
	Status        ChargeStatus
	AmountCents   int64
	Reference     string
	FailureReason string
	ImageURL      string
}

// ChargeRequest charges a tokenized card.
type ChargeRequest struct {
	AmountCents    int64
	Currency       string
	CardToken      string
	Reference      string
	IdempotencyKey string
}

// SourceRequest opens an asynchronous source such as a PromptPay QR code.
type SourceRequest struct {
	AmountCents    int64
	Currency       string
	Type           string
	Reference      string
	IdempotencyKey string
}

// Gateway is the read side every provider supports. Declines are reported as
// a failed Charge; transport problems come back as GatewayUnavailable errors.
type Gateway interface {
	Name() string
	GetCharge(ctx context.Context, chargeID string) (*Charge, error)
}

// CardGateway charges cards synchronously.
type CardGateway interface {
	Gateway
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
}

// QRGateway opens scannable payment sources.
type QRGateway interface {
	Gateway
	CreateSource(ctx context.Context, req SourceRequest) (*Charge, error)
}

// ChargeFinder is implemented by gateways that can look a charge up by the
// order reference, which lets a timed-out attempt be recovered without an id.
type ChargeFinder interface {
	FindChargeByReference(ctx context.Context, reference string) (*Charge, error)
}

const sourceTypePromptPay = "promptpay"
