package session

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/MrEthical07/portalauth/internal"
)

// Getter is the read side of a session store.
type Getter interface {
	Get(ctx context.Context, sessionID string) (*Session, error)
}

// Redeem checks a presented refresh secret against the stored session without
// mutating it. Checks run in order: existence (ErrNotFound), revocation
// (ErrRevoked), expiry (ErrExpired), hash (ErrMismatch). For ErrRevoked the
// session is returned alongside the error so callers can inspect the reason.
//
// Redeem does not rotate. Rotation goes through the store's atomic Rotate.
func Redeem(ctx context.Context, g Getter, sessionID, rawSecret string, now time.Time) (*Session, error) {
	sess, err := g.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Revoked {
		return sess, ErrRevoked
	}
	if !now.Before(sess.ExpiresAt) {
		return nil, ErrExpired
	}

	presented, err := internal.HashRefreshSecret(rawSecret)
	if err != nil {
		return nil, ErrMismatch
	}
	if subtle.ConstantTimeCompare(presented[:], sess.SecretHash[:]) != 1 {
		return nil, ErrMismatch
	}
	return sess, nil
}
