package permission

import (
	"slices"

	"github.com/MrEthical07/portalauth/principal"
)

// Decision is the outcome of an evaluation. Only DecisionRole and
// DecisionAllowExtra allow.
type Decision int

const (
	DecisionInactive Decision = iota
	DecisionDenied
	DecisionRole
	DecisionAllowExtra
	DecisionNoGrant
)

func (d Decision) Allowed() bool {
	return d == DecisionRole || d == DecisionAllowExtra
}

func (d Decision) String() string {
	switch d {
	case DecisionInactive:
		return "inactive"
	case DecisionDenied:
		return "denied"
	case DecisionRole:
		return "role"
	case DecisionAllowExtra:
		return "allow_extra"
	default:
		return "no_grant"
	}
}

// Evaluator resolves capability checks against a compiled policy.
type Evaluator struct {
	registry *Registry
	roles    *RoleTable
}

func NewEvaluator(registry *Registry, roles *RoleTable) *Evaluator {
	return &Evaluator{registry: registry, roles: roles}
}

// Evaluate checks e for capability. A non-active status never passes. An
// explicit deny beats every grant; then the role sets are consulted, then
// the principal's allowExtra list.
func (ev *Evaluator) Evaluate(e *Entry, capability string) Decision {
	if e == nil || e.Status != principal.StatusActive {
		return DecisionInactive
	}
	if slices.Contains(e.Deny, capability) {
		return DecisionDenied
	}
	if bit, ok := ev.registry.Bit(capability); ok && ev.roles.Grants(e.Roles, bit) {
		return DecisionRole
	}
	if slices.Contains(e.AllowExtra, capability) {
		return DecisionAllowExtra
	}
	return DecisionNoGrant
}

// Capabilities lists what e is effectively allowed, sorted.
func (ev *Evaluator) Capabilities(e *Entry) []string {
	if e == nil || e.Status != principal.StatusActive {
		return nil
	}
	var set Set
	for _, r := range e.Roles {
		if s, ok := ev.roles.Capabilities(r); ok {
			set = set.Union(s)
		}
	}
	for _, name := range e.AllowExtra {
		if bit, ok := ev.registry.Bit(name); ok {
			set.Set(bit)
		}
	}
	for _, name := range e.Deny {
		if bit, ok := ev.registry.Bit(name); ok {
			set.Clear(bit)
		}
	}
	return ev.registry.Names(set)
}
