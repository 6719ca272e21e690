package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShippingAddressCompose(t *testing.T) {
	cases := []struct {
		name string
		in   ShippingAddress
		want string
	}{
		{"full", ShippingAddress{Address: " 99 Sukhumvit Rd ", City: "Bangkok", PostalCode: "10110"}, "99 Sukhumvit Rd, Bangkok 10110"},
		{"street only", ShippingAddress{Address: "99 Sukhumvit Rd"}, "99 Sukhumvit Rd"},
		{"no street", ShippingAddress{City: "Chiang Mai", PostalCode: "50000"}, "Chiang Mai 50000"},
		{"blank", ShippingAddress{Address: "  "}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.in.Compose())
		})
	}
	assert.True(t, ShippingAddress{City: " "}.IsZero())
	assert.False(t, ShippingAddress{City: "Bangkok"}.IsZero())
}
