package portalauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/portalauth/identity"
	"github.com/MrEthical07/portalauth/internal"
	internalaudit "github.com/MrEthical07/portalauth/internal/audit"
	"github.com/MrEthical07/portalauth/internal/rate"
	"github.com/MrEthical07/portalauth/jwt"
	"github.com/MrEthical07/portalauth/notify"
	"github.com/MrEthical07/portalauth/otp"
	"github.com/MrEthical07/portalauth/permission"
	"github.com/MrEthical07/portalauth/principal"
	"github.com/MrEthical07/portalauth/session"
	"go.uber.org/zap"
)

// Engine runs login, refresh, logout and authorization for the portal. It
// is safe for concurrent use once built; all mutable state lives in Redis
// and the principal store.
type Engine struct {
	config Config
	logger *zap.Logger

	directory   *principal.Directory
	sessions    SessionStore
	cache       *permission.Cache
	evaluator   *permission.Evaluator
	registry    *permission.Registry
	codes       *otp.Service
	codeSender  notify.Sender
	identity    identity.Verifier
	jwtManager  *jwt.Manager
	rateLimiter *rate.Limiter
	audit       *internalaudit.Dispatcher
	metrics     *Metrics
}

// Close flushes pending audit events. Clients passed to the Builder are
// owned by the caller and are not closed.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// MetricsSnapshot returns the current counter values.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) ready() bool {
	return e != nil && e.directory != nil && e.sessions != nil && e.cache != nil
}

// sessionCtx bounds one session store call.
func (e *Engine) sessionCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.config.Session.OperationTimeout)
}

// completeLogin builds the permission entry, opens a session and signs the
// first access token. The principal has already passed its status check.
func (e *Engine) completeLogin(ctx context.Context, p *principal.Principal, method string) (*Result, error) {
	entry, err := e.cache.Build(ctx, p.ID)
	if err != nil {
		if errors.Is(err, permission.ErrInactive) {
			return nil, ErrAccountBlocked
		}
		return nil, fmt.Errorf("%w: build permission cache: %v", ErrInternal, err)
	}

	sess, secret, err := e.newSession(ctx, p.ID, method, time.Now().Add(e.config.JWT.RefreshTTL))
	if err != nil {
		return nil, err
	}

	sctx, cancel := e.sessionCtx(ctx)
	err = e.sessions.Create(sctx, sess)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: create session: %v", ErrInternal, err)
	}

	result, err := e.issue(entry, sess, secret)
	if err != nil {
		rctx, cancel := e.sessionCtx(ctx)
		if rerr := e.sessions.Revoke(rctx, sess.ID, session.ReasonLogout); rerr != nil {
			e.logger.Error("revoke unissued session failed", zap.String("session_id", sess.ID), zap.Error(rerr))
		}
		cancel()
		return nil, err
	}

	e.metricInc(MetricSessionCreated)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, p.ID, sess.ID, nil, func() map[string]string {
		return map[string]string{"method": method}
	})

	return result, nil
}

// newSession prepares a session record and its raw secret.
func (e *Engine) newSession(ctx context.Context, principalID, method string, expiresAt time.Time) (*session.Session, string, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInternal, err)
	}
	raw, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInternal, err)
	}
	secret := raw.String()
	hash, err := internal.HashRefreshSecret(secret)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInternal, err)
	}

	now := time.Now()
	ua := userAgentFromContext(ctx)
	return &session.Session{
		ID:          sid.String(),
		PrincipalID: principalID,
		SecretHash:  hash,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
		Method:      method,
		LastUsedAt:  now,
		Metadata: session.Metadata{
			IP:        clientIPFromContext(ctx),
			UserAgent: ua,
			Device:    internal.DeviceFingerprint(ua),
		},
	}, secret, nil
}

func (e *Engine) issue(entry *permission.Entry, sess *session.Session, secret string) (*Result, error) {
	claims := jwt.NewClaims(entry.PrincipalID, entry.Email, entry.Roles, entry.Scope, sess.ID)
	token, expiresAt, err := e.jwtManager.SignAccessToken(claims)
	if err != nil {
		return nil, fmt.Errorf("%w: sign access token: %v", ErrInternal, err)
	}
	return &Result{
		AccessToken:      token,
		ExpiresAt:        expiresAt,
		Credential:       Credential{SessionID: sess.ID, RefreshSecret: secret},
		RefreshExpiresAt: sess.ExpiresAt,
	}, nil
}

// mapPrincipalError translates credential-store errors into the public
// taxonomy. Unknown identifiers and wrong passwords are indistinguishable.
func mapPrincipalError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, principal.ErrNotFound),
		errors.Is(err, principal.ErrInvalidPassword):
		return ErrInvalidCredential
	case errors.Is(err, principal.ErrBlocked):
		return ErrAccountBlocked
	case errors.Is(err, principal.ErrUnverified):
		return ErrAccountUnverified
	default:
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
}

// normalizeIdentifier keys login throttling on the address the directory
// resolves, so "+tag" aliases of one mailbox share a single budget.
func normalizeIdentifier(identifier string) string {
	return principal.NormalizeEmail(identifier)
}
