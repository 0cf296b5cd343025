package portalauth

import (
	"context"
	"time"

	"github.com/MrEthical07/portalauth/internal"
	"github.com/MrEthical07/portalauth/principal"
	"github.com/MrEthical07/portalauth/session"
)

// SessionStore persists refresh sessions. session.RedisStore and
// session.MongoStore implement it.
type SessionStore interface {
	Create(ctx context.Context, sess *session.Session) error
	Get(ctx context.Context, sessionID string) (*session.Session, error)
	Rotate(ctx context.Context, sessionID string, presentedHash [32]byte, next *session.Session) error
	Revoke(ctx context.Context, sessionID, reason string) error
	RevokeAll(ctx context.Context, principalID, reason string) (int, error)
	ListByPrincipal(ctx context.Context, principalID string) ([]*session.Session, error)
}

// Credential is the refresh credential handed to the client. The secret is
// returned exactly once, at issue time.
type Credential struct {
	SessionID     string
	RefreshSecret string
}

// Encode returns the opaque transport form base64url(sessionID‖secret).
func (c Credential) Encode() (string, error) {
	return internal.EncodeCredential(c.SessionID, c.RefreshSecret)
}

// Result is returned by every successful login and refresh.
type Result struct {
	AccessToken      string
	ExpiresAt        time.Time
	Credential       Credential
	RefreshExpiresAt time.Time
}

// Identity is the authenticated caller as seen by the gate.
type Identity struct {
	PrincipalID string
	Email       string
	Roles       []principal.Role
	Scope       principal.Scope
	SessionID   string
	// Capabilities is the effective capability list, filled by the gate.
	Capabilities []string
}

// SessionInfo describes one refresh session for introspection. It never
// carries secret material.
type SessionInfo struct {
	SessionID    string
	Method       string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastUsedAt   time.Time
	IP           string
	UserAgent    string
	Device       string
	Revoked      bool
	RevokeReason string
	Current      bool
}

func sessionInfo(s *session.Session, currentID string) SessionInfo {
	return SessionInfo{
		SessionID:    s.ID,
		Method:       s.Method,
		CreatedAt:    s.CreatedAt,
		ExpiresAt:    s.ExpiresAt,
		LastUsedAt:   s.LastUsedAt,
		IP:           s.Metadata.IP,
		UserAgent:    s.Metadata.UserAgent,
		Device:       s.Metadata.Device,
		Revoked:      s.Revoked,
		RevokeReason: s.RevokeReason,
		Current:      s.ID == currentID,
	}
}
