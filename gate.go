package portalauth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/portalauth/jwt"
	"github.com/MrEthical07/portalauth/permission"
	"github.com/MrEthical07/portalauth/principal"
	"go.uber.org/zap"
)

// Authorize is the Required gate. It verifies bearer, loads the principal's
// permission entry and checks capability against it. The token alone is
// never enough: a missing or unreadable entry fails closed with
// ErrSessionExpired. No principal store read happens here.
//
// An empty capability only authenticates.
func (e *Engine) Authorize(ctx context.Context, bearer, capability string) (*Identity, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	start := time.Now()
	defer func() {
		e.metricObserve(MetricGateLatency, time.Since(start))
	}()

	claims, err := e.verifyBearer(bearer)
	if err != nil {
		return nil, err
	}

	entry, err := e.cache.Get(ctx, claims.PrincipalID())
	if err != nil {
		if !errors.Is(err, permission.ErrAbsent) {
			e.metricInc(MetricCacheUnavailable)
			e.logger.Warn("permission cache unavailable, denying request",
				zap.String("principal_id", claims.PrincipalID()),
				zap.Error(err),
			)
		}
		e.metricInc(MetricGateSessionMissing)
		return nil, ErrSessionExpired
	}

	if err := mapPrincipalError(principal.StatusError(entry.Status)); err != nil {
		e.metricInc(MetricGateForbidden)
		return nil, err
	}

	if capability != "" {
		if d := e.evaluator.Evaluate(entry, capability); !d.Allowed() {
			e.metricInc(MetricGateForbidden)
			return nil, ErrForbidden
		}
	}

	e.metricInc(MetricGateAllowed)
	return &Identity{
		PrincipalID:  entry.PrincipalID,
		Email:        entry.Email,
		Roles:        entry.Roles,
		Scope:        entry.Scope,
		SessionID:    claims.SessionID,
		Capabilities: e.evaluator.Capabilities(entry),
	}, nil
}

// Identify is the Soft gate: any failure yields (nil, false) instead of an
// error.
func (e *Engine) Identify(ctx context.Context, bearer string) (*Identity, bool) {
	if strings.TrimSpace(bearer) == "" {
		return nil, false
	}
	id, err := e.Authorize(ctx, bearer, "")
	if err != nil {
		return nil, false
	}
	return id, true
}

// Can reports whether an authorized identity holds capability, using the
// capability list resolved by the gate.
func (id *Identity) Can(capability string) bool {
	if id == nil {
		return false
	}
	for _, c := range id.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

func (e *Engine) verifyBearer(bearer string) (*jwt.Claims, error) {
	bearer = strings.TrimSpace(bearer)
	if bearer == "" {
		return nil, ErrUnauthorized
	}
	claims, err := e.jwtManager.VerifyAccessToken(bearer)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
