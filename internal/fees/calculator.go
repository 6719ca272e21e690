// Package fees computes the platform commission taken from each order line.
package fees

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-backend/pkg/config"
)

// Tiers holds the commission schedule. Prices are minor units.
type Tiers struct {
	LowTierMaxCents int64
	MidTierMaxCents int64
	LowRate         decimal.Decimal
	MidRate         decimal.Decimal
	HighRate        decimal.Decimal
}

// DefaultTiers is the published schedule: 3% below 4000.00, 5% from 4000.00.
// The 1000.00 boundary is kept even though both lower tiers charge 3%.
func DefaultTiers() Tiers {
	return Tiers{
		LowTierMaxCents: 100000,
		MidTierMaxCents: 400000,
		LowRate:         decimal.RequireFromString("0.03"),
		MidRate:         decimal.RequireFromString("0.03"),
		HighRate:        decimal.RequireFromString("0.05"),
	}
}

// Calculator is pure: it never fails once constructed.
type Calculator struct {
	tiers Tiers
}

func NewCalculator(tiers Tiers) *Calculator {
	return &Calculator{tiers: tiers}
}

// NewCalculatorFromConfig parses the configured tier rates.
func NewCalculatorFromConfig(cfg config.FeesConfig) (*Calculator, error) {
	tiers := Tiers{
		LowTierMaxCents: cfg.LowTierMaxCents,
		MidTierMaxCents: cfg.MidTierMaxCents,
	}
	for _, rate := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"low tier", cfg.LowTierRate, &tiers.LowRate},
		{"mid tier", cfg.MidTierRate, &tiers.MidRate},
		{"high tier", cfg.HighTierRate, &tiers.HighRate},
	} {
		parsed, err := decimal.NewFromString(rate.raw)
		if err != nil {
			return nil, fmt.Errorf("parse %s fee rate %q: %w", rate.name, rate.raw, err)
		}
		if parsed.IsNegative() || parsed.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("%s fee rate %s must be in [0, 1)", rate.name, parsed)
		}
		*rate.dst = parsed
	}
	if tiers.LowTierMaxCents <= 0 || tiers.MidTierMaxCents < tiers.LowTierMaxCents {
		return nil, fmt.Errorf("fee tier thresholds must be positive and ascending")
	}
	return NewCalculator(tiers), nil
}

// Rate returns the commission rate for a unit price in minor units.
func (c *Calculator) Rate(unitPriceCents int64) decimal.Decimal {
	switch {
	case unitPriceCents < c.tiers.LowTierMaxCents:
		return c.tiers.LowRate
	case unitPriceCents < c.tiers.MidTierMaxCents:
		return c.tiers.MidRate
	default:
		return c.tiers.HighRate
	}
}

// LineRevenue is the seller-facing breakdown of one order line.
type LineRevenue struct {
	GrossCents int64
	Rate       decimal.Decimal
	FeeCents   int64
	NetCents   int64
}

// NetRevenue computes quantity x unit price x (1 - rate), rounded half away
// from zero to minor units. Fee is the remainder so gross == fee + net.
func (c *Calculator) NetRevenue(qty int, unitPriceCents int64) LineRevenue {
	gross := decimal.NewFromInt(unitPriceCents).Mul(decimal.NewFromInt(int64(qty)))
	rate := c.Rate(unitPriceCents)
	net := gross.Mul(decimal.NewFromInt(1).Sub(rate)).Round(0)
	return LineRevenue{
		GrossCents: gross.IntPart(),
		Rate:       rate,
		FeeCents:   gross.Sub(net).IntPart(),
		NetCents:   net.IntPart(),
	}
}
