package identity

import (
	"fmt"
	"strings"
	"time"
)

// Role is the closed set of roles shared by every application on the platform.
type Role string

const (
	RoleCustomer     Role = "customer"
	RoleArtist       Role = "artist"
	RoleAdmin        Role = "admin"
	RoleOperator     Role = "operator"
	RoleSocialWorker Role = "social_worker"
	RoleService      Role = "service"
)

// Roles lists every enumerated role. Order is stable for deterministic output.
var Roles = []Role{
	RoleCustomer,
	RoleArtist,
	RoleAdmin,
	RoleOperator,
	RoleSocialWorker,
	RoleService,
}

// ParseRole normalizes a raw role value at the boundary. Casing and
// surrounding whitespace are tolerated; unknown values are rejected so
// downstream call sites never reconcile spellings themselves.
func ParseRole(raw string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Roles {
		if r == known {
			return known, nil
		}
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, raw)
}

// Status of a directory account.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Identity is the directory record consulted by every authorization check.
type Identity struct {
	ID                 string    `json:"id"`
	Email              string    `json:"email"`
	Name               string    `json:"name"`
	Role               Role      `json:"role"`
	Status             Status    `json:"status"`
	PermissionsVersion int64     `json:"permissions_version"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Active reports whether the identity may pass any authorization check.
func (id Identity) Active() bool {
	return id.Status == StatusActive
}

// HasRole reports whether the identity carries the given role.
func (id Identity) HasRole(role Role) bool {
	return id.Role == role
}

// HasAnyRole reports whether the identity carries at least one of the roles.
func (id Identity) HasAnyRole(roles ...Role) bool {
	for _, role := range roles {
		if id.Role == role {
			return true
		}
	}
	return false
}
