package portalauth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/MrEthical07/portalauth/internal"
	"github.com/MrEthical07/portalauth/session"
	"go.uber.org/zap"
)

// Logout revokes the session behind credential and drops the principal's
// permission entry. It never fails: a missing, malformed or already revoked
// credential is a no-op, and cleanup errors are logged. A credential whose
// secret does not match is not honoured, so knowing a session id alone
// cannot end someone else's session.
func (e *Engine) Logout(ctx context.Context, credential string) {
	if !e.ready() {
		return
	}
	e.metricInc(MetricLogout)

	if credential == "" {
		return
	}
	sid, secret, err := internal.DecodeCredential(credential)
	if err != nil {
		return
	}

	sctx, cancel := e.sessionCtx(ctx)
	sess, err := session.Redeem(sctx, e.sessions, sid, secret, time.Now())
	cancel()
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrRevoked):
		return
	case errors.Is(err, session.ErrExpired):
		// Nothing to revoke; the lookup below still needs the principal.
		sctx, cancel := e.sessionCtx(ctx)
		sess, err = e.sessions.Get(sctx, sid)
		cancel()
		if err != nil {
			return
		}
	case errors.Is(err, session.ErrMismatch):
		e.logger.Warn("logout with mismatched refresh secret",
			zap.String("session_id", sid),
			zap.String("ip", clientIPFromContext(ctx)),
		)
		return
	default:
		e.logger.Error("logout session lookup failed", zap.String("session_id", sid), zap.Error(err))
		return
	}

	rctx, cancel := e.sessionCtx(ctx)
	rerr := e.sessions.Revoke(rctx, sess.ID, session.ReasonLogout)
	cancel()
	if rerr != nil {
		e.logger.Error("logout revoke failed", zap.String("session_id", sess.ID), zap.Error(rerr))
	} else {
		e.metricInc(MetricSessionRevoked)
	}

	if cerr := e.cache.Invalidate(ctx, sess.PrincipalID); cerr != nil {
		e.logger.Error("logout cache invalidation failed", zap.String("principal_id", sess.PrincipalID), zap.Error(cerr))
	}

	e.emitAudit(ctx, auditEventLogoutSession, rerr == nil, sess.PrincipalID, sess.ID, rerr, nil)
}

// LogoutAll revokes every session of principalID and returns how many were
// active.
func (e *Engine) LogoutAll(ctx context.Context, principalID string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	if principalID == "" {
		return 0, ErrUnauthorized
	}

	n, err := e.revokeAll(ctx, principalID, session.ReasonLogoutAll)
	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, err == nil, principalID, "", err, func() map[string]string {
		return map[string]string{"revoked": fmt.Sprint(n)}
	})
	return n, err
}

// ListSessions returns the principal's live sessions, newest first.
// currentSessionID marks the caller's own session.
func (e *Engine) ListSessions(ctx context.Context, principalID, currentSessionID string) ([]SessionInfo, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	sctx, cancel := e.sessionCtx(ctx)
	defer cancel()

	sessions, err := e.sessions.ListByPrincipal(sctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", ErrInternal, err)
	}

	now := time.Now()
	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		if !s.Active(now) {
			continue
		}
		out = append(out, sessionInfo(s, currentSessionID))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
