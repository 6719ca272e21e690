package gatewaywebhook

import (
	"context"
	"strings"

	"github.com/angelmondragon/storefront-backend/internal/payments"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const (
	EventChargeComplete = "charge.complete"
	EventChargeExpire   = "charge.expire"
	objectCharge        = "charge"
)

type chargeResolver interface {
	ResolveCharge(ctx context.Context, chargeID string) (*payments.Settlement, error)
}

type ServiceParams struct {
	Resolver chargeResolver
	Logger   *logger.Logger
}

// Service applies payment gateway webhook events. The event body only names
// the charge; its status is always re-read from the gateway.
type Service struct {
	resolver chargeResolver
	logg     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Resolver == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "charge resolver required")
	}
	return &Service{resolver: params.Resolver, logg: params.Logger}, nil
}

type Event struct {
	ID   string    `json:"id"`
	Key  string    `json:"key"`
	Data EventData `json:"data"`
}

type EventData struct {
	Object string `json:"object"`
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
}

// DedupeID is the id used to drop repeated deliveries.
func (e *Event) DedupeID() string {
	if id := strings.TrimSpace(e.ID); id != "" {
		return id
	}
	if e.Data.ID == "" {
		return ""
	}
	return e.Key + ":" + e.Data.ID
}

// HandleEvent resolves the referenced charge. Unrelated events are ignored.
func (s *Service) HandleEvent(ctx context.Context, event *Event) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "gateway event required")
	}
	switch event.Key {
	case EventChargeComplete, EventChargeExpire:
	default:
		s.debug(ctx, event, "gateway event ignored")
		return nil
	}
	if event.Data.Object != "" && event.Data.Object != objectCharge {
		return pkgerrors.New(pkgerrors.CodeValidation, "unexpected event object").
			WithDetails(map[string]any{"object": event.Data.Object})
	}
	chargeID := strings.TrimSpace(event.Data.ID)
	if chargeID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "charge id required")
	}

	result, err := s.resolver.ResolveCharge(ctx, chargeID)
	if err != nil {
		// Charges created outside this service are acknowledged so the
		// gateway stops redelivering them.
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			s.debug(ctx, event, "gateway event for unknown charge")
			return nil
		}
		return err
	}
	if s.logg != nil {
		ctx = s.logg.WithOrderID(ctx, result.OrderID.String())
		ctx = s.logg.WithFields(ctx, map[string]any{
			"event_id":  event.ID,
			"charge_id": chargeID,
			"outcome":   string(result.Outcome),
		})
		s.logg.Info(ctx, "gateway event applied")
	}
	return nil
}

func (s *Service) debug(ctx context.Context, event *Event, msg string) {
	if s.logg == nil {
		return
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"event_id": event.ID, "event_key": event.Key})
	s.logg.Debug(ctx, msg)
}
