package enums

import "fmt"

// Role is the platform-level role carried in access tokens.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

var validRoles = []Role{RoleBuyer, RoleSeller, RoleAdmin}

// String implements fmt.Stringer.
func (r Role) String() string {
	return string(r)
}

// IsValid reports whether the value is a known Role.
func (r Role) IsValid() bool {
	for _, candidate := range validRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseRole converts raw input into a Role.
func ParseRole(value string) (Role, error) {
	for _, candidate := range validRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid role %q", value)
}

// ActorType records who drove an order status change.
type ActorType string

const (
	ActorBuyer   ActorType = "buyer"
	ActorSeller  ActorType = "seller"
	ActorSystem  ActorType = "system"
	ActorGateway ActorType = "gateway"
)
