package portalauth

import (
	"context"
	"errors"
	"testing"

	"github.com/MrEthical07/portalauth/internal"
	"github.com/MrEthical07/portalauth/principal"
	"github.com/MrEthical07/portalauth/session"
)

func TestLogoutIsIdempotent(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	env.seed(t, "p-1", "asha@uni.edu", principal.StatusActive)
	res := env.login(t, "asha@uni.edu")
	credential := encodeCredential(t, res.Credential)

	env.engine.Logout(context.Background(), credential)
	env.engine.Logout(context.Background(), credential)

	sess, err := env.engine.sessions.Get(context.Background(), res.Credential.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !sess.Revoked || sess.RevokeReason != session.ReasonLogout {
		t.Fatalf("session not revoked by logout: %+v", sess)
	}
	if _, err := env.engine.Refresh(context.Background(), credential); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked, got %v", err)
	}
	if _, err := env.engine.Authorize(context.Background(), res.AccessToken, ""); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricLogout]; got != 2 {
		t.Fatalf("expected 2 logout calls counted, got %d", got)
	}
}

func TestLogoutIgnoresBadCredentials(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)

	env.engine.Logout(context.Background(), "")
	env.engine.Logout(context.Background(), "%%%garbage%%%")

	sid, err := internal.NewSessionID()
	if err != nil {
		t.Fatalf("NewSessionID: %v", err)
	}
	raw, err := internal.NewRefreshSecret()
	if err != nil {
		t.Fatalf("NewRefreshSecret: %v", err)
	}
	env.engine.Logout(context.Background(), encodeCredential(t, Credential{SessionID: sid.String(), RefreshSecret: raw.String()}))
}

func TestLogoutWithWrongSecretKeepsSession(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	env.seed(t, "p-1", "asha@uni.edu", principal.StatusActive)
	res := env.login(t, "asha@uni.edu")

	raw, err := internal.NewRefreshSecret()
	if err != nil {
		t.Fatalf("NewRefreshSecret: %v", err)
	}
	env.engine.Logout(context.Background(), encodeCredential(t, Credential{SessionID: res.Credential.SessionID, RefreshSecret: raw.String()}))

	if _, err := env.engine.Refresh(context.Background(), encodeCredential(t, res.Credential)); err != nil {
		t.Fatalf("session must survive a logout with the wrong secret: %v", err)
	}
}

func TestLogoutAll(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	env.seed(t, "p-1", "asha@uni.edu", principal.StatusActive)
	env.seed(t, "p-2", "ravi@uni.edu", principal.StatusActive)

	a := env.login(t, "asha@uni.edu")
	b := env.login(t, "asha@uni.edu")
	env.engine.Logout(context.Background(), encodeCredential(t, b.Credential))
	env.login(t, "asha@uni.edu")
	other := env.login(t, "ravi@uni.edu")

	n, err := env.engine.LogoutAll(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("LogoutAll: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 active sessions revoked, got %d", n)
	}
	if _, err := env.engine.Refresh(context.Background(), encodeCredential(t, a.Credential)); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked, got %v", err)
	}

	sessions, err := env.engine.ListSessions(context.Background(), "p-2", other.Credential.SessionID)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("other principal must keep its session, got %d", len(sessions))
	}

	if _, err := env.engine.LogoutAll(context.Background(), ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestListSessionsNewestFirst(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	env.seed(t, "p-1", "asha@uni.edu", principal.StatusActive)

	first := env.login(t, "asha@uni.edu")
	second := env.login(t, "asha@uni.edu")

	sessions, err := env.engine.ListSessions(context.Background(), "p-1", first.Credential.SessionID)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].CreatedAt.Before(sessions[1].CreatedAt) {
		t.Fatal("sessions must be sorted newest first")
	}
	for _, s := range sessions {
		if s.Current != (s.SessionID == first.Credential.SessionID) {
			t.Fatalf("wrong current flag on %+v", s)
		}
		if s.SessionID != first.Credential.SessionID && s.SessionID != second.Credential.SessionID {
			t.Fatalf("unexpected session %s", s.SessionID)
		}
	}
}
