package types

import "strings"

// ShippingAddress is the split address form sent by the storefront checkout
// page. Orders store it flattened into one line.
type ShippingAddress struct {
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
}

// Compose joins the non-empty parts as "address, city postal_code".
func (a ShippingAddress) Compose() string {
	street := strings.TrimSpace(a.Address)
	locality := strings.TrimSpace(strings.Join(strings.Fields(a.City+" "+a.PostalCode), " "))
	switch {
	case street == "":
		return locality
	case locality == "":
		return street
	}
	return street + ", " + locality
}

// IsZero reports whether every part is blank.
func (a ShippingAddress) IsZero() bool {
	return strings.TrimSpace(a.Address) == "" &&
		strings.TrimSpace(a.City) == "" &&
		strings.TrimSpace(a.PostalCode) == ""
}
