package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Role is the access level carried by a back-office token. The storefront
// surface is unauthenticated; tokens exist only for admin operators.
type Role string

const (
	// RoleAdmin may mutate orders: cancel, verify, retry fulfillment.
	RoleAdmin Role = "admin"
	// RoleReadOnly may list and inspect orders but not act on them.
	RoleReadOnly Role = "read_only"
)

var validRoles = []Role{RoleAdmin, RoleReadOnly}

// IsValid reports whether the role is recognized.
func (r Role) IsValid() bool {
	for _, candidate := range validRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// TokenPayload captures the data available when minting a JWT.
type TokenPayload struct {
	AdminID uuid.UUID
	Email   string
	Role    Role
	JTI     string
}

// TokenClaims represents the typed JWT issued to back-office clients.
type TokenClaims struct {
	AdminID uuid.UUID `json:"admin_id"`
	Email   string    `json:"email"`
	Role    Role      `json:"role"`
	jwt.RegisteredClaims
}
