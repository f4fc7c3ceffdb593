// internal/model/user.go
package model

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleAgent   Role = "agent"
	RoleViewer  Role = "viewer"
)

// Privileged roles also receive the global analytics room.
func (r Role) Privileged() bool {
	return r == RoleAdmin || r == RoleManager
}

type User struct {
	ID          string   `db:"id" json:"id"`
	Email       string   `db:"email" json:"email"`
	Name        string   `db:"name" json:"name"`
	Role        Role     `db:"role" json:"role"`
	Permissions []string `db:"permissions" json:"permissions"`
	Active      bool     `db:"active" json:"active"`
}

// TokenClaims is what a verified bearer token resolves to.
type TokenClaims struct {
	UserID  string
	TokenID string
}
