package permission

import (
	"time"

	"github.com/MrEthical07/portalauth/principal"
)

// Entry is the resolved authorization data of one principal, as held in the
// cache. The gate reads only this.
type Entry struct {
	PrincipalID string           `json:"pid"`
	Email       string           `json:"email"`
	Roles       []principal.Role `json:"roles"`
	Scope       principal.Scope  `json:"scope"`
	Allow       []string         `json:"allow,omitempty"`
	Deny        []string         `json:"deny,omitempty"`
	AllowExtra  []string         `json:"allowExtra,omitempty"`
	Status      principal.Status `json:"status"`
	BuiltAt     time.Time        `json:"builtAt"`
}

// EntryFor resolves a principal into a cache entry.
func EntryFor(p *principal.Principal, builtAt time.Time) *Entry {
	c := p.Clone()
	return &Entry{
		PrincipalID: c.ID,
		Email:       c.Email,
		Roles:       c.Roles,
		Scope:       c.Scope,
		Allow:       c.Overrides.Allow,
		Deny:        c.Overrides.Deny,
		AllowExtra:  c.Overrides.AllowExtra,
		Status:      c.Status,
		BuiltAt:     builtAt.UTC(),
	}
}
