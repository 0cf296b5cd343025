package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRateLimited is returned once a counter exceeds its window budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps Redis failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// hitScript increments a counter and starts its window on the first hit, in
// one round trip.
var hitScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// Config holds rate limiter tuning parameters.
type Config struct {
	EnableIPThrottle      bool
	MaxLoginAttempts      int
	LoginCooldownDuration time.Duration
	MaxCodeSends          int
	CodeSendWindow        time.Duration
	// OperationTimeout bounds each Redis round trip; zero means 500ms.
	OperationTimeout time.Duration
}

// window is one fixed-window budget under a key prefix. A limit of zero or
// less disables it.
type window struct {
	prefix string
	limit  int
	ttl    time.Duration
}

func (w window) on() bool             { return w.limit > 0 }
func (w window) key(id string) string { return w.prefix + id }

// Limiter enforces per-identifier and per-IP budgets for failed logins and
// one-time-code sends using Redis counters.
type Limiter struct {
	redis   redis.UniversalClient
	login   window
	loginIP window
	send    window
	timeout time.Duration
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	l := &Limiter{
		redis:   redisClient,
		login:   window{prefix: "al:", limit: cfg.MaxLoginAttempts, ttl: cfg.LoginCooldownDuration},
		send:    window{prefix: "acs:", limit: cfg.MaxCodeSends, ttl: cfg.CodeSendWindow},
		timeout: cfg.OperationTimeout,
	}
	if l.timeout <= 0 {
		l.timeout = 500 * time.Millisecond
	}
	if cfg.EnableIPThrottle {
		l.loginIP = window{prefix: "ali:", limit: cfg.MaxLoginAttempts, ttl: cfg.LoginCooldownDuration}
	}
	return l
}

// CheckLogin reports ErrRateLimited when the identifier or IP has exhausted
// its failed-login budget. It reads both counters in one MGET.
func (l *Limiter) CheckLogin(ctx context.Context, identifier, ip string) error {
	if !l.login.on() {
		return nil
	}
	keys := []string{l.login.key(identifier)}
	if l.loginIP.on() && ip != "" {
		keys = append(keys, l.loginIP.key(ip))
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	vals, err := l.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var n int
		if _, err := fmt.Sscan(s, &n); err == nil && n >= l.login.limit {
			return ErrRateLimited
		}
	}
	return nil
}

// IncrementLogin records a failed login attempt for the identifier and, when
// IP throttling is on, for the client IP.
func (l *Limiter) IncrementLogin(ctx context.Context, identifier, ip string) error {
	if !l.login.on() {
		return nil
	}
	if _, err := l.hit(ctx, l.login, identifier); err != nil {
		return err
	}
	if l.loginIP.on() && ip != "" {
		if _, err := l.hit(ctx, l.loginIP, ip); err != nil {
			return err
		}
	}
	return nil
}

// ResetLogin clears the identifier counter after a successful login. The IP
// counter keeps running so one good account cannot launder a sprayed IP.
func (l *Limiter) ResetLogin(ctx context.Context, identifier string) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	if err := l.redis.Del(ctx, l.login.key(identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// CheckCodeSend counts one send for the identifier and fails once the
// window budget is exceeded.
func (l *Limiter) CheckCodeSend(ctx context.Context, identifier string) error {
	if !l.send.on() {
		return nil
	}
	n, err := l.hit(ctx, l.send, identifier)
	if err != nil {
		return err
	}
	if n > int64(l.send.limit) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) hit(ctx context.Context, w window, id string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	n, err := hitScript.Run(ctx, l.redis, []string{w.key(id)}, w.ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n, nil
}
