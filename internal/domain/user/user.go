package user

import (
	"time"

	"github.com/google/uuid"
)

// Role classifies what a user may do on the platform.
type Role string

const (
	RoleBidder Role = "bidder"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

// Valid reports whether the role is one the engine knows.
func (r Role) Valid() bool {
	switch r {
	case RoleBidder, RoleSeller, RoleAdmin:
		return true
	}
	return false
}

// User is the engine's read-only view of an identity. Users are created and
// mutated only by the external auth collaborator; the engine never writes
// this table.
type User struct {
	ID          uuid.UUID `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Role        Role      `json:"role"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Identity is the verified result of presenting a credential to the auth
// collaborator: who the caller is and whether they may act.
type Identity struct {
	UserID   uuid.UUID
	Username string
	Email    string
	Role     Role
	Active   bool
}
