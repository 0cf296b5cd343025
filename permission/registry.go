package permission

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Wildcard in a role's capability list grants every registered capability.
const Wildcard = "*"

var (
	// ErrUnknownCapability is returned when a name is not in the registry.
	ErrUnknownCapability = errors.New("unknown capability")
	errRegistryFrozen    = errors.New("capability registry is frozen")
)

// Registry maps capability names ("resource:action") to bit positions in a
// Set, in registration order. It is filled while a policy compiles and
// frozen before the evaluator sees it.
type Registry struct {
	mu     sync.RWMutex
	names  []string
	bits   map[string]int
	frozen bool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{bits: make(map[string]int)}
}

// Register assigns the next free bit to name and returns it.
func (r *Registry) Register(name string) (int, error) {
	if err := ValidateName(name); err != nil {
		return -1, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.frozen:
		return -1, errRegistryFrozen
	case len(r.names) >= MaxCapabilities:
		return -1, fmt.Errorf("more than %d capabilities", MaxCapabilities)
	}
	if _, dup := r.bits[name]; dup {
		return -1, fmt.Errorf("capability %q already registered", name)
	}

	bit := len(r.names)
	r.names = append(r.names, name)
	r.bits[name] = bit
	return bit, nil
}

// Bit returns the bit index for name.
func (r *Registry) Bit(name string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bit, ok := r.bits[name]
	return bit, ok
}

// Name returns the capability stored at bit.
func (r *Registry) Name(bit int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if bit < 0 || bit >= len(r.names) {
		return "", false
	}
	return r.names[bit], true
}

// All returns a Set with every registered capability.
func (r *Registry) All() Set {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var s Set
	for bit := range r.names {
		s.Set(bit)
	}
	return s
}

// Names lists the capabilities contained in s, sorted.
func (r *Registry) Names(s Set) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, s.Len())
	for bit, name := range r.names {
		if s.Has(bit) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Freeze prevents further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}

// ValidateName checks the "resource:action" shape of a capability name.
func ValidateName(name string) error {
	if strings.ContainsAny(name, " \t\r\n") {
		return fmt.Errorf("capability %q must not contain whitespace", name)
	}
	resource, action, ok := strings.Cut(name, ":")
	if !ok || resource == "" || action == "" || strings.Contains(action, ":") {
		return fmt.Errorf("capability %q must have the form resource:action", name)
	}
	return nil
}
