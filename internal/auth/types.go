package auth

import "errors"

// Role represents an authorisation tier.
type Role string

const (
	// RoleViewer can watch status, events and history.
	RoleViewer Role = "viewer"

	// RoleOperator can run sequences, move channels, stop and reset.
	RoleOperator Role = "operator"

	// RoleAdmin has every operator permission plus history maintenance.
	RoleAdmin Role = "admin"
)

// ValidRoles is the set of valid roles.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleAdmin}

// IsValidRole returns true if r is one of ValidRoles.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Operator is a login account.
type Operator struct {
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	Role         Role   `json:"role"`
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrForbidden          = errors.New("insufficient permissions")
	ErrInvalidOperator    = errors.New("invalid operator account")
	ErrInvalidPassword    = errors.New("invalid password")
)
