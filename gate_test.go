package portalauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/portalauth/permission"
	"github.com/MrEthical07/portalauth/principal"
	jwtlib "github.com/golang-jwt/jwt/v5"
)

func TestAuthorizeRoleAndOverrides(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	env.seed(t, "p-1", "asha@uni.edu", principal.StatusActive, principal.RoleStudent)
	res := env.login(t, "asha@uni.edu")
	ctx := context.Background()

	id, err := env.engine.Authorize(ctx, res.AccessToken, "notice:read")
	if err != nil {
		t.Fatalf("notice:read: %v", err)
	}
	if id.PrincipalID != "p-1" || id.SessionID != res.Credential.SessionID {
		t.Fatalf("unexpected identity %+v", id)
	}
	if !id.Can("marks:read") || id.Can("notice:create") {
		t.Fatalf("unexpected capabilities %v", id.Capabilities)
	}

	if _, err := env.engine.Authorize(ctx, res.AccessToken, "notice:create"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("notice:create: expected ErrForbidden, got %v", err)
	}

	if err := env.engine.UpdateOverrides(ctx, "p-1", principal.Overrides{AllowExtra: []string{"notice:create"}}); err != nil {
		t.Fatalf("UpdateOverrides: %v", err)
	}
	// Invalidated until the next refresh or rebuild.
	if _, err := env.engine.Authorize(ctx, res.AccessToken, "notice:read"); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired after invalidation, got %v", err)
	}
	if err := env.engine.RebuildPermissions(ctx, "p-1"); err != nil {
		t.Fatalf("RebuildPermissions: %v", err)
	}
	if _, err := env.engine.Authorize(ctx, res.AccessToken, "notice:create"); err != nil {
		t.Fatalf("allowExtra must grant notice:create: %v", err)
	}
	if _, err := env.engine.Authorize(ctx, res.AccessToken, "notice:delete"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("notice:delete: expected ErrForbidden, got %v", err)
	}
}

func TestAuthorizeDenyBeatsRole(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	env.seed(t, "p-1", "root@uni.edu", principal.StatusActive, principal.RoleSuperAdmin)
	res := env.login(t, "root@uni.edu")
	ctx := context.Background()

	if _, err := env.engine.Authorize(ctx, res.AccessToken, "users:manage"); err != nil {
		t.Fatalf("wildcard role must grant users:manage: %v", err)
	}

	if err := env.engine.UpdateOverrides(ctx, "p-1", principal.Overrides{Deny: []string{"users:manage"}}); err != nil {
		t.Fatalf("UpdateOverrides: %v", err)
	}
	if err := env.engine.RebuildPermissions(ctx, "p-1"); err != nil {
		t.Fatalf("RebuildPermissions: %v", err)
	}
	if _, err := env.engine.Authorize(ctx, res.AccessToken, "users:manage"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("deny must beat role, got %v", err)
	}
	if _, err := env.engine.Authorize(ctx, res.AccessToken, "marks:write"); err != nil {
		t.Fatalf("other capabilities stay granted: %v", err)
	}
}

func TestUpdateOverridesRejectsUnknownCapability(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	env.seed(t, "p-1", "asha@uni.edu", principal.StatusActive)

	err := env.engine.UpdateOverrides(context.Background(), "p-1", principal.Overrides{AllowExtra: []string{"notice:burn"}})
	if !errors.Is(err, permission.ErrUnknownCapability) {
		t.Fatalf("expected ErrUnknownCapability, got %v", err)
	}
}

func TestUpdateRolesTakesEffectOnRebuild(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	env.seed(t, "p-1", "asha@uni.edu", principal.StatusActive)
	res := env.login(t, "asha@uni.edu")
	ctx := context.Background()

	if err := env.engine.UpdateRoles(ctx, "p-1", []string{"Teacher"}); err != nil {
		t.Fatalf("UpdateRoles: %v", err)
	}
	if err := env.engine.RebuildPermissions(ctx, "p-1"); err != nil {
		t.Fatalf("RebuildPermissions: %v", err)
	}
	if _, err := env.engine.Authorize(ctx, res.AccessToken, "marks:write"); err != nil {
		t.Fatalf("faculty role must grant marks:write: %v", err)
	}
	if err := env.engine.UpdateRoles(ctx, "p-1", []string{"wizard"}); err == nil {
		t.Fatal("expected unknown role error")
	}
}

func TestAuthorizeRejectsBadBearers(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	ctx := context.Background()

	if _, err := env.engine.Authorize(ctx, "  ", ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("empty: expected ErrUnauthorized, got %v", err)
	}
	if _, err := env.engine.Authorize(ctx, "not.a.jwt", ""); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("garbage: expected ErrTokenInvalid, got %v", err)
	}

	claims := jwtlib.MapClaims{
		"sub": "p-1",
		"iss": "portalauth",
		"sid": "s-1",
		"iat": time.Now().Add(-2 * time.Hour).Unix(),
		"exp": time.Now().Add(-time.Hour).Unix(),
	}
	expired, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := env.engine.Authorize(ctx, expired, ""); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expired: expected ErrTokenExpired, got %v", err)
	}

	claims["exp"] = time.Now().Add(time.Hour).Unix()
	forged, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte("ffffffffffffffffffffffffffffffff"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := env.engine.Authorize(ctx, forged, ""); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("forged: expected ErrTokenInvalid, got %v", err)
	}
}

func TestAuthorizeFailsClosedWithoutCacheEntry(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	env.seed(t, "p-1", "asha@uni.edu", principal.StatusActive)
	res := env.login(t, "asha@uni.edu")

	if err := env.engine.cache.Invalidate(context.Background(), "p-1"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, err := env.engine.Authorize(context.Background(), res.AccessToken, "notice:read"); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}

	// A refresh rebuilds the entry.
	next, err := env.engine.Refresh(context.Background(), encodeCredential(t, res.Credential))
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, err := env.engine.Authorize(context.Background(), next.AccessToken, "notice:read"); err != nil {
		t.Fatalf("Authorize after refresh: %v", err)
	}
}

func TestAuthorizeFailsClosedWhenCacheDown(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	env.seed(t, "p-1", "asha@uni.edu", principal.StatusActive)
	res := env.login(t, "asha@uni.edu")

	env.mr.Close()

	if _, err := env.engine.Authorize(context.Background(), res.AccessToken, "notice:read"); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricCacheUnavailable]; got != 1 {
		t.Fatalf("expected one cache outage, got %d", got)
	}
}

func TestAuthorizeDoesNotReadPrincipalStore(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	env.seed(t, "p-1", "asha@uni.edu", principal.StatusActive)
	res := env.login(t, "asha@uni.edu")

	before := env.repo.reads.Load()
	for i := 0; i < 25; i++ {
		if _, err := env.engine.Authorize(context.Background(), res.AccessToken, "notice:read"); err != nil {
			t.Fatalf("Authorize: %v", err)
		}
	}
	if after := env.repo.reads.Load(); after != before {
		t.Fatalf("gate read the principal store %d times", after-before)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricGateAllowed]; got != 25 {
		t.Fatalf("expected 25 allowed, got %d", got)
	}
}

func TestIdentifyIsSoft(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	env.seed(t, "p-1", "asha@uni.edu", principal.StatusActive)
	res := env.login(t, "asha@uni.edu")

	if id, ok := env.engine.Identify(context.Background(), ""); ok || id != nil {
		t.Fatal("empty bearer must not identify")
	}
	if _, ok := env.engine.Identify(context.Background(), "garbage"); ok {
		t.Fatal("garbage bearer must not identify")
	}
	id, ok := env.engine.Identify(context.Background(), res.AccessToken)
	if !ok || id.PrincipalID != "p-1" {
		t.Fatalf("expected identity, got %+v %v", id, ok)
	}
}
