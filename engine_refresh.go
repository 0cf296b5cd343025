package portalauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/portalauth/internal"
	"github.com/MrEthical07/portalauth/permission"
	"github.com/MrEthical07/portalauth/principal"
	"github.com/MrEthical07/portalauth/session"
	"go.uber.org/zap"
)

// maxLineageHops bounds how far a replay follows ReplacedBy links.
const maxLineageHops = 32

// Refresh redeems a refresh credential and rotates its session: the
// presented session is revoked and a successor with a fresh secret is
// created in one atomic step. The successor keeps the original absolute
// expiry.
//
// A secret that was already rotated away, or that does not match, fails
// with ErrSecretMismatch and revokes the live tip of the session lineage.
// Store outages fail closed with ErrUnauthorized.
func (e *Engine) Refresh(ctx context.Context, credential string) (*Result, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	sid, secret, err := internal.DecodeCredential(credential)
	if err != nil {
		return nil, e.refreshFailed(ctx, "", "", ErrSessionNotFound)
	}

	sctx, cancel := e.sessionCtx(ctx)
	sess, err := session.Redeem(sctx, e.sessions, sid, secret, time.Now())
	cancel()
	if err != nil {
		return nil, e.redeemFailed(ctx, sid, sess, err)
	}

	p, err := e.directory.FindByID(ctx, sess.PrincipalID)
	if err != nil {
		if errors.Is(err, principal.ErrNotFound) {
			e.revokeAll(ctx, sess.PrincipalID, session.ReasonAccountChanged)
			return nil, e.refreshFailed(ctx, sess.PrincipalID, sid, ErrSessionRevoked)
		}
		e.logger.Error("principal lookup failed during refresh", zap.String("session_id", sid), zap.Error(err))
		return nil, e.refreshFailed(ctx, sess.PrincipalID, sid, ErrUnauthorized)
	}
	if statusErr := mapPrincipalError(principal.StatusError(p.Status)); statusErr != nil {
		e.revokeAll(ctx, p.ID, session.ReasonAccountChanged)
		return nil, e.refreshFailed(ctx, p.ID, sid, statusErr)
	}

	entry, err := e.cache.Build(ctx, p.ID)
	if err != nil {
		if errors.Is(err, permission.ErrInactive) {
			return nil, e.refreshFailed(ctx, p.ID, sid, ErrAccountBlocked)
		}
		e.metricInc(MetricCacheUnavailable)
		e.logger.Warn("permission cache unavailable during refresh", zap.String("principal_id", p.ID), zap.Error(err))
		return nil, e.refreshFailed(ctx, p.ID, sid, ErrUnauthorized)
	}

	next, nextSecret, err := e.newSession(ctx, p.ID, sess.Method, sess.ExpiresAt)
	if err != nil {
		return nil, e.refreshFailed(ctx, p.ID, sid, err)
	}
	if next.Metadata.IP == "" && next.Metadata.UserAgent == "" {
		next.Metadata = sess.Metadata
	}

	rctx, cancel := e.sessionCtx(ctx)
	err = e.sessions.Rotate(rctx, sid, sess.SecretHash, next)
	cancel()
	if err != nil {
		if errors.Is(err, session.ErrRevoked) {
			// Lost a concurrent rotation of the same secret.
			e.handleReplay(ctx, sid, "concurrent_rotation")
			return nil, e.refreshFailed(ctx, p.ID, sid, ErrSecretMismatch)
		}
		return nil, e.redeemFailed(ctx, sid, nil, err)
	}

	result, err := e.issue(entry, next, nextSecret)
	if err != nil {
		return nil, e.refreshFailed(ctx, p.ID, next.ID, err)
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, p.ID, next.ID, nil, func() map[string]string {
		return map[string]string{"rotated_from": sid}
	})
	return result, nil
}

// redeemFailed maps session store errors onto the public taxonomy and runs
// the replay response where the error signals one. sess is only set for
// ErrRevoked.
func (e *Engine) redeemFailed(ctx context.Context, sid string, sess *session.Session, err error) error {
	principalID := ""
	if sess != nil {
		principalID = sess.PrincipalID
	}

	switch {
	case errors.Is(err, session.ErrNotFound):
		return e.refreshFailed(ctx, principalID, sid, ErrSessionNotFound)
	case errors.Is(err, session.ErrRevoked):
		if sess != nil && sess.RevokeReason == session.ReasonRotated {
			e.handleReplay(ctx, sid, "rotated_secret")
			return e.refreshFailed(ctx, principalID, sid, ErrSecretMismatch)
		}
		return e.refreshFailed(ctx, principalID, sid, ErrSessionRevoked)
	case errors.Is(err, session.ErrExpired):
		return e.refreshFailed(ctx, principalID, sid, ErrSessionExpired)
	case errors.Is(err, session.ErrMismatch):
		e.handleReplay(ctx, sid, "secret_mismatch")
		return e.refreshFailed(ctx, principalID, sid, ErrSecretMismatch)
	default:
		e.logger.Error("session store unavailable during refresh", zap.String("session_id", sid), zap.Error(err))
		return e.refreshFailed(ctx, principalID, sid, ErrUnauthorized)
	}
}

// handleReplay responds to a replayed or forged refresh secret: the newest
// session of the lineage is revoked with reason "replay" and the permission
// entry is dropped so outstanding access tokens stop passing the gate.
func (e *Engine) handleReplay(ctx context.Context, sid, signal string) {
	sctx, cancel := e.sessionCtx(ctx)
	defer cancel()

	tip, err := e.sessions.Get(sctx, sid)
	if err != nil {
		e.logger.Error("replay lineage lookup failed", zap.String("session_id", sid), zap.Error(err))
		return
	}
	for hops := 0; tip.ReplacedBy != "" && hops < maxLineageHops; hops++ {
		next, err := e.sessions.Get(sctx, tip.ReplacedBy)
		if err != nil {
			break
		}
		tip = next
	}

	revoked := ""
	if !tip.Revoked {
		if err := e.sessions.Revoke(sctx, tip.ID, session.ReasonReplay); err != nil {
			e.logger.Error("replay revocation failed", zap.String("session_id", tip.ID), zap.Error(err))
		} else {
			revoked = tip.ID
			e.metricInc(MetricSessionRevoked)
		}
	}
	if err := e.cache.Invalidate(ctx, tip.PrincipalID); err != nil {
		e.logger.Error("replay cache invalidation failed", zap.String("principal_id", tip.PrincipalID), zap.Error(err))
	}

	e.logger.Warn("refresh secret replay detected",
		zap.String("principal_id", tip.PrincipalID),
		zap.String("session_id", sid),
		zap.String("ip", clientIPFromContext(ctx)),
		zap.String("signal", signal),
		zap.String("revoked_session_id", revoked),
	)
	e.metricInc(MetricReplayDetected)
	e.emitAudit(ctx, auditEventRefreshReplay, false, tip.PrincipalID, sid, ErrSecretMismatch, func() map[string]string {
		return map[string]string{"signal": signal, "revoked_session_id": revoked}
	})
}

func (e *Engine) refreshFailed(ctx context.Context, principalID, sid string, err error) error {
	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, auditEventRefreshFailure, false, principalID, sid, err, nil)
	return err
}

// revokeAll revokes every session of the principal and drops its cache
// entry, logging failures.
func (e *Engine) revokeAll(ctx context.Context, principalID, reason string) (int, error) {
	sctx, cancel := e.sessionCtx(ctx)
	n, err := e.sessions.RevokeAll(sctx, principalID, reason)
	cancel()
	if err != nil {
		e.logger.Error("revoke sessions failed", zap.String("principal_id", principalID), zap.String("reason", reason), zap.Error(err))
	}
	for i := 0; i < n; i++ {
		e.metricInc(MetricSessionRevoked)
	}

	if cerr := e.cache.Invalidate(ctx, principalID); cerr != nil {
		e.logger.Error("permission cache invalidation failed", zap.String("principal_id", principalID), zap.Error(cerr))
		err = errors.Join(err, cerr)
	}
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return n, nil
}
