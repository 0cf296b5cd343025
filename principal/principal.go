package principal

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a principal. Only StatusActive may
// authenticate or pass authorization.
type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusBlocked  Status = "blocked"
	StatusRejected Status = "rejected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusBlocked, StatusRejected:
		return true
	}
	return false
}

// Scope narrows a principal to an organisational unit.
type Scope struct {
	Branch     string `bson:"branch,omitempty" json:"branch,omitempty"`
	Department string `bson:"department,omitempty" json:"department,omitempty"`
}

// Overrides are explicit per-principal capability adjustments.
type Overrides struct {
	Allow      []string `bson:"allow,omitempty" json:"allow,omitempty"`
	Deny       []string `bson:"deny,omitempty" json:"deny,omitempty"`
	AllowExtra []string `bson:"allowExtra,omitempty" json:"allowExtra,omitempty"`
}

// Principal is one human account.
type Principal struct {
	ID              string    `bson:"_id" json:"id"`
	Email           string    `bson:"email" json:"email"`
	Username        string    `bson:"username,omitempty" json:"username,omitempty"`
	UsernameKey     string    `bson:"usernameKey,omitempty" json:"-"`
	ExternalSubject string    `bson:"externalSubject,omitempty" json:"-"`
	PasswordHash    string    `bson:"passwordHash,omitempty" json:"-"`
	Roles           []Role    `bson:"roles" json:"roles"`
	Scope           Scope     `bson:"scope" json:"scope"`
	Overrides       Overrides `bson:"overrides" json:"overrides"`
	Status          Status    `bson:"status" json:"status"`
	CreatedAt       time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time `bson:"updatedAt" json:"updatedAt"`
}

// Active reports whether the principal may authenticate.
func (p *Principal) Active() bool {
	return p != nil && p.Status == StatusActive
}

// Clone returns a deep copy.
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	c := *p
	c.Roles = append([]Role(nil), p.Roles...)
	c.Overrides.Allow = append([]string(nil), p.Overrides.Allow...)
	c.Overrides.Deny = append([]string(nil), p.Overrides.Deny...)
	c.Overrides.AllowExtra = append([]string(nil), p.Overrides.AllowExtra...)
	return &c
}

func (p *Principal) sanitized() *Principal {
	c := p.Clone()
	if c != nil {
		c.PasswordHash = ""
	}
	return c
}

// NormalizeEmail trims and lower-cases an address and folds "+tag" aliases
// in the local part, so "A.User+exams@Uni.edu" and "a.user@uni.edu" resolve
// to the same principal.
func NormalizeEmail(email string) string {
	e := strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndexByte(e, '@')
	if at <= 0 {
		return e
	}
	local, domain := e[:at], e[at+1:]
	if plus := strings.IndexByte(local, '+'); plus > 0 {
		local = local[:plus]
	}
	return local + "@" + domain
}

// NormalizeUsername folds a secondary identifier for case-insensitive lookup.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
