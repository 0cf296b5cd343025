package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/portalauth/internal"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, "as", time.Hour), mr
}

func newTestSession(t *testing.T, principalID string, ttl time.Duration) (*Session, string) {
	t.Helper()
	sid, err := internal.NewSessionID()
	if err != nil {
		t.Fatalf("session id: %v", err)
	}
	secret, err := internal.NewRefreshSecret()
	if err != nil {
		t.Fatalf("secret: %v", err)
	}
	raw := secret.String()
	hash, err := internal.HashRefreshSecret(raw)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	now := time.Now()
	return &Session{
		ID:          sid.String(),
		PrincipalID: principalID,
		SecretHash:  hash,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		Method:      MethodPassword,
		Metadata:    Metadata{IP: "10.0.0.1", UserAgent: "test-agent", Device: internal.DeviceFingerprint("test-agent")},
	}, raw
}

func TestCreateAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	sess, _ := newTestSession(t, "p-1", time.Hour)

	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.PrincipalID != "p-1" || got.SecretHash != sess.SecretHash || got.Method != MethodPassword {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.Metadata != sess.Metadata {
		t.Fatalf("metadata = %+v, want %+v", got.Metadata, sess.Metadata)
	}
	if got.ExpiresAt.UnixMilli() != sess.ExpiresAt.UnixMilli() {
		t.Fatalf("expiry drifted: %v vs %v", got.ExpiresAt, sess.ExpiresAt)
	}
	if got.Revoked {
		t.Fatal("new session should not be revoked")
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRedeemClassification(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	active, raw := newTestSession(t, "p-1", time.Hour)
	if err := store.Create(ctx, active); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := Redeem(ctx, store, active.ID, raw, now); err != nil {
		t.Fatalf("Redeem active: %v", err)
	}
	if _, err := Redeem(ctx, store, active.ID, "not-the-secret", now); !errors.Is(err, ErrMismatch) {
		t.Fatalf("expected ErrMismatch, got %v", err)
	}
	if _, err := Redeem(ctx, store, "missing", raw, now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := Redeem(ctx, store, active.ID, raw, active.ExpiresAt); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired at expiry instant, got %v", err)
	}

	if err := store.Revoke(ctx, active.ID, ReasonLogout); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	sess, err := Redeem(ctx, store, active.ID, raw, now)
	if !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
	if sess == nil || sess.RevokeReason != ReasonLogout {
		t.Fatalf("revoked session should be returned with its reason, got %+v", sess)
	}
}

func TestRotateLinksLineage(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first, raw := newTestSession(t, "p-1", time.Hour)
	if err := store.Create(ctx, first); err != nil {
		t.Fatalf("Create: %v", err)
	}
	next, _ := newTestSession(t, "p-1", time.Hour)
	hash, _ := internal.HashRefreshSecret(raw)

	if err := store.Rotate(ctx, first.ID, hash, next); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	old, err := store.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("Get old: %v", err)
	}
	if !old.Revoked || old.RevokeReason != ReasonRotated || old.ReplacedBy != next.ID {
		t.Fatalf("old session not marked rotated: %+v", old)
	}
	if old.RevokedAt.IsZero() {
		t.Fatal("expected revoked_at to be stamped")
	}

	succ, err := store.Get(ctx, next.ID)
	if err != nil {
		t.Fatalf("Get next: %v", err)
	}
	if succ.RotatedFrom != first.ID || succ.Revoked {
		t.Fatalf("successor lineage wrong: %+v", succ)
	}

	if err := store.Rotate(ctx, first.ID, hash, &Session{ID: "other", PrincipalID: "p-1", ExpiresAt: time.Now().Add(time.Hour)}); !errors.Is(err, ErrRevoked) {
		t.Fatalf("second rotation should fail with ErrRevoked, got %v", err)
	}
}

func TestRotateRejectsMismatchAndExpired(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess, _ := newTestSession(t, "p-1", time.Hour)
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create: %v", err)
	}
	next, _ := newTestSession(t, "p-1", time.Hour)
	if err := store.Rotate(ctx, sess.ID, [32]byte{1}, next); !errors.Is(err, ErrMismatch) {
		t.Fatalf("expected ErrMismatch, got %v", err)
	}
	if _, err := store.Get(ctx, next.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("failed rotation must not create successor, got %v", err)
	}

	expired, raw := newTestSession(t, "p-1", time.Hour)
	expired.ExpiresAt = time.Now().Add(-time.Second)
	if err := store.Create(ctx, expired); err != nil {
		t.Fatalf("Create expired: %v", err)
	}
	hash, _ := internal.HashRefreshSecret(raw)
	if err := store.Rotate(ctx, expired.ID, hash, next); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}

	if err := store.Rotate(ctx, "missing", hash, next); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRotateConcurrentSingleWinner(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess, raw := newTestSession(t, "p-1", time.Hour)
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create: %v", err)
	}
	hash, _ := internal.HashRefreshSecret(raw)

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		revoked int
	)
	for i := 0; i < workers; i++ {
		next, _ := newTestSession(t, "p-1", time.Hour)
		wg.Add(1)
		go func(next *Session) {
			defer wg.Done()
			err := store.Rotate(ctx, sess.ID, hash, next)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrRevoked):
				revoked++
			default:
				t.Errorf("unexpected rotate error: %v", err)
			}
		}(next)
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	if revoked != workers-1 {
		t.Fatalf("expected %d ErrRevoked, got %d", workers-1, revoked)
	}
}

func TestRevokeIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess, _ := newTestSession(t, "p-1", time.Hour)
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Revoke(ctx, sess.ID, ReasonLogout); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := store.Revoke(ctx, sess.ID, ReasonReplay); err != nil {
		t.Fatalf("second Revoke: %v", err)
	}
	got, _ := store.Get(ctx, sess.ID)
	if got.RevokeReason != ReasonLogout {
		t.Fatalf("reason overwritten: %q", got.RevokeReason)
	}
	if err := store.Revoke(ctx, "missing", ReasonLogout); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRevokeAllAndList(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		sess, _ := newTestSession(t, "p-1", time.Hour)
		if err := store.Create(ctx, sess); err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, sess.ID)
	}
	other, _ := newTestSession(t, "p-2", time.Hour)
	if err := store.Create(ctx, other); err != nil {
		t.Fatalf("Create other: %v", err)
	}
	if err := store.Revoke(ctx, ids[0], ReasonLogout); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	n, err := store.RevokeAll(ctx, "p-1", ReasonLogoutAll)
	if err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 newly revoked, got %d", n)
	}

	list, err := store.ListByPrincipal(ctx, "p-1")
	if err != nil {
		t.Fatalf("ListByPrincipal: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(list))
	}
	for _, s := range list {
		if !s.Revoked {
			t.Fatalf("session %s still active", s.ID)
		}
	}

	o, _ := store.Get(ctx, other.ID)
	if o.Revoked {
		t.Fatal("other principal's session must be untouched")
	}
}

func TestRotateStampsLastUsed(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first, raw := newTestSession(t, "p-1", time.Hour)
	if err := store.Create(ctx, first); err != nil {
		t.Fatalf("Create: %v", err)
	}
	before := time.Now().Add(-time.Second)
	next, _ := newTestSession(t, "p-1", time.Hour)
	hash, _ := internal.HashRefreshSecret(raw)
	if err := store.Rotate(ctx, first.ID, hash, next); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	old, err := store.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if old.LastUsedAt.Before(before) {
		t.Fatalf("redeemed session last used = %v, want >= %v", old.LastUsedAt, before)
	}
}

func TestRecordsRetainedPastExpiry(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	sess, _ := newTestSession(t, "p-1", time.Minute)
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create: %v", err)
	}
	ttl := mr.TTL(store.key(sess.ID))
	if ttl <= time.Hour {
		t.Fatalf("record ttl %v should include retention", ttl)
	}
}

func TestPrincipalIndexOutlivesEveryMember(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	older, raw := newTestSession(t, "p-1", time.Hour)
	newer, _ := newTestSession(t, "p-1", 10*time.Hour)
	if err := store.Create(ctx, newer); err != nil {
		t.Fatalf("Create newer: %v", err)
	}
	if err := store.Create(ctx, older); err != nil {
		t.Fatalf("Create older: %v", err)
	}
	if ttl := mr.TTL(store.principalKey("p-1")); ttl <= 10*time.Hour {
		t.Fatalf("shorter create pulled index ttl in to %v", ttl)
	}

	next, _ := newTestSession(t, "p-1", time.Hour)
	hash, _ := internal.HashRefreshSecret(raw)
	if err := store.Rotate(ctx, older.ID, hash, next); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if ttl := mr.TTL(store.principalKey("p-1")); ttl <= 10*time.Hour {
		t.Fatalf("rotation pulled index ttl in to %v", ttl)
	}

	mr.FastForward(3 * time.Hour)

	n, err := store.RevokeAll(ctx, "p-1", ReasonLogoutAll)
	if err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}
	if n != 1 {
		t.Fatalf("revoked %d sessions, want 1", n)
	}
	got, err := store.Get(ctx, newer.ID)
	if err != nil {
		t.Fatalf("Get newer: %v", err)
	}
	if !got.Revoked {
		t.Fatal("live session survived RevokeAll")
	}
}
