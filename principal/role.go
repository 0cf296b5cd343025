package principal

import (
	"errors"
	"fmt"
	"strings"
)

// Role is the closed set of portal roles. Raw role strings are resolved to a
// Role once, at the boundary, through ParseRole.
type Role string

const (
	RoleStudent    Role = "student"
	RoleFaculty    Role = "faculty"
	RoleStaff      Role = "staff"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// ErrUnknownRole is returned for role tags outside the normalization table.
var ErrUnknownRole = errors.New("unknown role")

var roleAliases = map[string]Role{
	"student":       RoleStudent,
	"faculty":       RoleFaculty,
	"teacher":       RoleFaculty,
	"staff":         RoleStaff,
	"admin":         RoleAdmin,
	"administrator": RoleAdmin,
	"super_admin":   RoleSuperAdmin,
	"super-admin":   RoleSuperAdmin,
	"superadmin":    RoleSuperAdmin,
	"super admin":   RoleSuperAdmin,
}

// AllRoles lists every Role in a stable order.
func AllRoles() []Role {
	return []Role{RoleStudent, RoleFaculty, RoleStaff, RoleAdmin, RoleSuperAdmin}
}

// ParseRole resolves a raw role tag, case-insensitively, through the alias table.
func ParseRole(raw string) (Role, error) {
	r, ok := roleAliases[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
	}
	return r, nil
}

// ParseRoles resolves every tag and drops duplicates, keeping first-seen order.
func ParseRoles(raw []string) ([]Role, error) {
	out := make([]Role, 0, len(raw))
	seen := make(map[Role]struct{}, len(raw))
	for _, tag := range raw {
		r, err := ParseRole(tag)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out, nil
}

// Valid reports whether r is one of the enumerated roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleFaculty, RoleStaff, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

func (r Role) String() string {
	return string(r)
}

// RoleStrings converts roles to their canonical tags.
func RoleStrings(roles []Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}
