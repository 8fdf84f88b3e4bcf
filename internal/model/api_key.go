package model

import (
	"time"

	"github.com/google/uuid"
)

// UserRole is a caller's RBAC role.
type UserRole string

const (
	RoleAdmin    UserRole = "admin"
	RoleOperator UserRole = "operator"
	RoleViewer   UserRole = "viewer"
)

// roleRank orders roles for RoleAtLeast. Unknown roles rank below viewer.
var roleRank = map[UserRole]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// RoleAtLeast reports whether role meets or exceeds min.
func RoleAtLeast(role, min UserRole) bool {
	return roleRank[role] >= roleRank[min]
}

// APIKey is a stored credential for token exchange. Only the Argon2id hash
// of the key material is persisted.
type APIKey struct {
	ID        uuid.UUID `json:"id"`
	KeyID     string    `json:"key_id"` // public identifier presented at exchange
	KeyHash   string    `json:"-"`
	UserID    string    `json:"user_id"`
	Role      UserRole  `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
