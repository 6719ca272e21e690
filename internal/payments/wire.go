package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/paygate"
	"github.com/angelmondragon/storefront-backend/pkg/square"
)

// GatewaySet is the gateway selection derived from configuration.
type GatewaySet struct {
	Card    CardGateway
	QR      QRGateway
	Lookups []Gateway
}

// GatewaysFromConfig builds the configured gateways. Paygate serves QR
// whenever its secret key is set; cards go to the provider named by
// STOREFRONT_PAYMENT_CARD_PROVIDER. A configured provider that is not the
// card provider stays registered for lookups so rows it created still
// resolve after a switch.
func GatewaysFromConfig(ctx context.Context, payment config.PaymentConfig, sq config.SquareConfig, logg *logger.Logger) (GatewaySet, error) {
	var set GatewaySet

	var pg *PaygateGateway
	if strings.TrimSpace(payment.SecretKey) != "" {
		client, err := paygate.NewClient(payment, logg)
		if err != nil {
			return set, fmt.Errorf("paygate client: %w", err)
		}
		pg = NewPaygateGateway(client)
		set.QR = pg
	}

	var sqGateway *SquareGateway
	if payment.UsesSquare() || strings.TrimSpace(sq.AccessToken) != "" {
		client, err := square.NewClient(ctx, sq, logg)
		if err != nil {
			if payment.UsesSquare() {
				return set, fmt.Errorf("square client: %w", err)
			}
		} else {
			sqGateway = NewSquareGateway(client)
		}
	}

	if payment.UsesSquare() {
		set.Card = sqGateway
		if pg != nil {
			set.Lookups = append(set.Lookups, pg)
		}
	} else {
		if pg == nil {
			return set, fmt.Errorf("paygate secret key required for card provider %q", config.PaymentProviderPaygate)
		}
		set.Card = pg
		if sqGateway != nil {
			set.Lookups = append(set.Lookups, sqGateway)
		}
	}
	return set, nil
}
