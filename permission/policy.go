package permission

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/MrEthical07/portalauth/principal"
)

// Policy is the role to capability mapping loaded at startup, for example:
//
//	capabilities = ["notice:read", "notice:create"]
//
//	[roles]
//	student = ["notice:read"]
//	faculty = ["notice:read", "notice:create"]
//	super_admin = ["*"]
type Policy struct {
	Capabilities []string            `toml:"capabilities"`
	Roles        map[string][]string `toml:"roles"`
}

// ParsePolicy decodes a TOML policy document.
func ParsePolicy(data string) (Policy, error) {
	var p Policy
	md, err := toml.Decode(data, &p)
	if err != nil {
		return Policy{}, fmt.Errorf("parse policy: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Policy{}, fmt.Errorf("parse policy: unknown key %q", undecoded[0].String())
	}
	return p, nil
}

// LoadPolicyFile reads and decodes a TOML policy file.
func LoadPolicyFile(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	return ParsePolicy(string(data))
}

// Compile registers every capability, binds the roles and freezes both.
// Role keys go through principal.ParseRole, so aliases like "teacher" are
// accepted.
func (p Policy) Compile() (*Registry, *RoleTable, error) {
	if len(p.Capabilities) == 0 {
		return nil, nil, fmt.Errorf("policy declares no capabilities")
	}
	if len(p.Roles) == 0 {
		return nil, nil, fmt.Errorf("policy declares no roles")
	}

	registry := NewRegistry()
	for _, name := range p.Capabilities {
		if _, err := registry.Register(name); err != nil {
			return nil, nil, err
		}
	}
	registry.Freeze()

	table := NewRoleTable(registry)
	for raw, caps := range p.Roles {
		role, err := principal.ParseRole(raw)
		if err != nil {
			return nil, nil, err
		}
		if err := table.RegisterRole(role, caps); err != nil {
			return nil, nil, err
		}
	}
	table.Freeze()

	return registry, table, nil
}
