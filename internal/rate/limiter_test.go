package rate

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return New(rdb, cfg), mr
}

func TestLoginBudgetPerIdentifier(t *testing.T) {
	l, mr := newTestLimiter(t, Config{
		MaxLoginAttempts:      3,
		LoginCooldownDuration: time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.CheckLogin(ctx, "a@b.com", ""); err != nil {
			t.Fatalf("attempt %d: unexpected error %v", i, err)
		}
		if err := l.IncrementLogin(ctx, "a@b.com", ""); err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
	}

	if err := l.CheckLogin(ctx, "a@b.com", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	if n, err := mr.Get("al:a@b.com"); err != nil || n != "3" {
		t.Fatalf("expected 3 attempts, got %q (%v)", n, err)
	}

	mr.FastForward(2 * time.Minute)
	if err := l.CheckLogin(ctx, "a@b.com", ""); err != nil {
		t.Fatalf("window should have expired, got %v", err)
	}
}

func TestResetLoginKeepsIPCounter(t *testing.T) {
	l, _ := newTestLimiter(t, Config{
		EnableIPThrottle:      true,
		MaxLoginAttempts:      2,
		LoginCooldownDuration: time.Minute,
	})
	ctx := context.Background()

	_ = l.IncrementLogin(ctx, "x", "10.0.0.1")
	_ = l.IncrementLogin(ctx, "y", "10.0.0.1")
	if err := l.ResetLogin(ctx, "x"); err != nil {
		t.Fatalf("ResetLogin: %v", err)
	}

	if err := l.CheckLogin(ctx, "z", "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected IP budget exhausted, got %v", err)
	}
}

func TestCodeSendWindow(t *testing.T) {
	l, _ := newTestLimiter(t, Config{MaxCodeSends: 2, CodeSendWindow: time.Hour})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.CheckCodeSend(ctx, "a@b.com"); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if err := l.CheckCodeSend(ctx, "a@b.com"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestRedisFailureIsWrapped(t *testing.T) {
	l, mr := newTestLimiter(t, Config{MaxLoginAttempts: 1, LoginCooldownDuration: time.Minute})
	mr.Close()

	err := l.CheckLogin(context.Background(), "a", "")
	if !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}

func TestWindowStartsOnFirstHitOnly(t *testing.T) {
	l, mr := newTestLimiter(t, Config{MaxCodeSends: 5, CodeSendWindow: time.Minute})
	ctx := context.Background()

	_ = l.CheckCodeSend(ctx, "a@b.com")
	mr.FastForward(40 * time.Second)
	_ = l.CheckCodeSend(ctx, "a@b.com")

	if ttl := mr.TTL("acs:a@b.com"); ttl <= 0 || ttl > 20*time.Second {
		t.Fatalf("second hit must not extend the window, ttl=%v", ttl)
	}
}

func TestDisabledBudgetsTouchNothing(t *testing.T) {
	l, mr := newTestLimiter(t, Config{})
	ctx := context.Background()

	if err := l.IncrementLogin(ctx, "a", "10.0.0.1"); err != nil {
		t.Fatalf("IncrementLogin: %v", err)
	}
	if err := l.CheckCodeSend(ctx, "a"); err != nil {
		t.Fatalf("CheckCodeSend: %v", err)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("expected no counters, got %v", keys)
	}
}

// stalledRedis returns a client whose server accepts connections and never
// replies.
func stalledRedis(t *testing.T) *redis.Client {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() { _, _ = io.Copy(io.Discard, conn) }()
		}
	}()

	rdb := redis.NewClient(&redis.Options{
		Addr:                  ln.Addr().String(),
		ReadTimeout:           time.Minute,
		WriteTimeout:          time.Minute,
		MaxRetries:            -1,
		ContextTimeoutEnabled: true,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestCallsBoundedByOperationTimeout(t *testing.T) {
	l := New(stalledRedis(t), Config{
		MaxLoginAttempts:      3,
		LoginCooldownDuration: time.Minute,
		MaxCodeSends:          3,
		CodeSendWindow:        time.Minute,
		OperationTimeout:      50 * time.Millisecond,
	})
	ctx := context.Background()

	start := time.Now()
	if err := l.CheckLogin(ctx, "a", ""); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("CheckLogin: expected ErrRedisUnavailable, got %v", err)
	}
	if err := l.IncrementLogin(ctx, "a", ""); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("IncrementLogin: expected ErrRedisUnavailable, got %v", err)
	}
	if err := l.CheckCodeSend(ctx, "a"); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("CheckCodeSend: expected ErrRedisUnavailable, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("stalled redis held the limiter for %v", elapsed)
	}
}
