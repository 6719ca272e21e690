package helpers

import (
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

func TestBuildOrderLinesSumsExactly(t *testing.T) {
	t.Parallel()
	store := uuid.New()
	lines := []cart.SnapshotLine{
		{ProductID: uuid.New(), StoreID: store, Quantity: 3, UnitPriceCents: 33333},
		{ProductID: uuid.New(), StoreID: store, Quantity: 1, UnitPriceCents: 1},
	}

	built, total := BuildOrderLines(lines)
	if len(built) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(built))
	}
	if total != 100000 {
		t.Fatalf("expected total 100000, got %d", total)
	}
	if built[0].LineTotalCents != 99999 {
		t.Fatalf("expected line total 99999, got %d", built[0].LineTotalCents)
	}
}

func TestComputeTotalsByStore(t *testing.T) {
	t.Parallel()
	storeA := uuid.New()
	storeB := uuid.New()
	built, _ := BuildOrderLines([]cart.SnapshotLine{
		{ProductID: uuid.New(), StoreID: storeA, Quantity: 2, UnitPriceCents: 500},
		{ProductID: uuid.New(), StoreID: storeB, Quantity: 1, UnitPriceCents: 700},
		{ProductID: uuid.New(), StoreID: storeA, Quantity: 1, UnitPriceCents: 100},
	})

	totals := ComputeTotalsByStore(built)
	if totals[storeA].TotalCents != 1100 || totals[storeA].ItemCount != 3 {
		t.Fatalf("unexpected store A totals: %+v", totals[storeA])
	}
	if totals[storeB].TotalCents != 700 {
		t.Fatalf("unexpected store B totals: %+v", totals[storeB])
	}
}

func TestReservationsKeepQuantities(t *testing.T) {
	t.Parallel()
	id := uuid.New()
	got := Reservations([]cart.SnapshotLine{{ProductID: id, Quantity: 4}})
	if len(got) != 1 || got[0].ProductID != id || got[0].Qty != 4 {
		t.Fatalf("unexpected reservations: %+v", got)
	}
}

func TestValidateContact(t *testing.T) {
	t.Parallel()
	contact, err := ValidateContact("  12 Rama IV Rd  ", types.ShippingAddress{}, " 0812345678 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if contact.ShippingAddress != "12 Rama IV Rd" || contact.Phone != "0812345678" {
		t.Fatalf("expected trimmed contact, got %+v", contact)
	}

	contact, err = ValidateContact("", types.ShippingAddress{Address: "12 Rama IV Rd", City: "Bangkok", PostalCode: "10330"}, "0812345678")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if contact.ShippingAddress != "12 Rama IV Rd, Bangkok 10330" {
		t.Fatalf("expected composed address, got %q", contact.ShippingAddress)
	}

	for _, tc := range []struct {
		address, phone string
	}{
		{"   ", "0812345678"},
		{"12 Rama IV Rd", "   "},
	} {
		_, err := ValidateContact(tc.address, types.ShippingAddress{}, tc.phone)
		if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			t.Fatalf("expected validation error for %+v, got %v", tc, err)
		}
	}
}

func TestValidatePaymentMethod(t *testing.T) {
	t.Parallel()
	method, err := ValidatePaymentMethod("cash_on_delivery")
	if err != nil || method != enums.PaymentMethodCOD {
		t.Fatalf("expected cod, got %q (%v)", method, err)
	}
	if _, err := ValidatePaymentMethod("bitcoin"); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
