package session

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no session has the given id.
	ErrNotFound = errors.New("session not found")
	// ErrRevoked is returned when the session was already revoked.
	ErrRevoked = errors.New("session revoked")
	// ErrExpired is returned when the session is past its absolute expiry.
	ErrExpired = errors.New("session expired")
	// ErrMismatch is returned when the presented secret does not hash to the
	// stored value. Callers treat it as possible theft or replay.
	ErrMismatch = errors.New("refresh secret mismatch")
	// ErrUnavailable wraps backing-store failures.
	ErrUnavailable = errors.New("session store unavailable")
)

// Revocation reasons recorded on the session.
const (
	ReasonRotated        = "rotated"
	ReasonLogout         = "logout"
	ReasonLogoutAll      = "logout_all"
	ReasonReplay         = "replay"
	ReasonAccountChanged = "account_changed"
)

// Login method tags.
const (
	MethodPassword = "password"
	MethodOTP      = "otp"
	MethodExternal = "external"
)

// Metadata describes the client that opened the session.
type Metadata struct {
	IP        string
	UserAgent string
	Device    string
}

// Session is one refresh session. The raw secret is never stored; only its
// SHA-256 hash. Records are revoked, never deleted, so rotation lineage stays
// auditable: RotatedFrom points at the predecessor and ReplacedBy at the
// successor.
type Session struct {
	ID           string
	PrincipalID  string
	SecretHash   [32]byte
	CreatedAt    time.Time
	ExpiresAt    time.Time
	Revoked      bool
	RevokeReason string
	RevokedAt    time.Time
	Method       string
	Metadata     Metadata
	RotatedFrom  string
	ReplacedBy   string
	LastUsedAt   time.Time
}

// Active reports whether the session can still be redeemed at now.
func (s *Session) Active(now time.Time) bool {
	return s != nil && !s.Revoked && now.Before(s.ExpiresAt)
}
