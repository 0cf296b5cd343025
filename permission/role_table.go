package permission

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrEthical07/portalauth/principal"
)

// RoleTable maps each role to its capability Set.
type RoleTable struct {
	registry *Registry

	mu     sync.RWMutex
	roles  map[principal.Role]Set
	frozen bool
}

// NewRoleTable creates an empty table resolving names through registry.
func NewRoleTable(registry *Registry) *RoleTable {
	return &RoleTable{
		registry: registry,
		roles:    make(map[principal.Role]Set),
	}
}

// RegisterRole binds a role to the named capabilities. Wildcard grants every
// capability registered so far.
func (rt *RoleTable) RegisterRole(role principal.Role, capabilities []string) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.frozen {
		return errors.New("role table frozen")
	}

	if !role.Valid() {
		return fmt.Errorf("%w: %q", principal.ErrUnknownRole, role)
	}

	if _, exists := rt.roles[role]; exists {
		return fmt.Errorf("role %q already registered", role)
	}

	var set Set
	for _, name := range capabilities {
		if name == Wildcard {
			set = set.Union(rt.registry.All())
			continue
		}
		bit, ok := rt.registry.Bit(name)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownCapability, name)
		}
		set.Set(bit)
	}

	rt.roles[role] = set
	return nil
}

// Capabilities returns the Set bound to role.
func (rt *RoleTable) Capabilities(role principal.Role) (Set, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	set, ok := rt.roles[role]
	return set, ok
}

// Grants reports whether any of roles carries the capability bit.
func (rt *RoleTable) Grants(roles []principal.Role, bit int) bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	for _, r := range roles {
		if set, ok := rt.roles[r]; ok && set.Has(bit) {
			return true
		}
	}
	return false
}

// Freeze prevents further registrations.
func (rt *RoleTable) Freeze() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.frozen = true
}

// Count returns the number of roles bound.
func (rt *RoleTable) Count() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.roles)
}
