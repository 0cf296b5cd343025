package otp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/portalauth/internal"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrExpired is returned when no live code exists for the key.
	ErrExpired = errors.New("code expired or absent")
	// ErrInvalid is returned when the code does not match; the attempt is counted.
	ErrInvalid = errors.New("code invalid")
	// ErrTooManyAttempts is returned once the attempt ceiling is reached; the
	// code is destroyed.
	ErrTooManyAttempts = errors.New("code attempts exhausted")
	// ErrTooSoon is returned when a new code is requested inside the cooldown.
	ErrTooSoon = errors.New("code requested too soon")
	// ErrUnavailable wraps Redis failures.
	ErrUnavailable = errors.New("code store unavailable")
)

// Channel is the delivery channel of a code.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Purpose scopes a code; a code issued for one purpose never verifies another.
type Purpose string

const (
	PurposeLogin              Purpose = "LOGIN"
	PurposeVerifyRegistration Purpose = "VERIFY_REGISTRATION"
	PurposeResetPassword      Purpose = "RESET_PASSWORD"
)

func (c Channel) valid() bool {
	return c == ChannelEmail || c == ChannelSMS
}

func (p Purpose) valid() bool {
	switch p {
	case PurposeLogin, PurposeVerifyRegistration, PurposeResetPassword:
		return true
	}
	return false
}

// Config holds service defaults. Per-request TTL and MaxAttempts override
// them when non-zero.
type Config struct {
	Digits      int
	TTL         time.Duration
	MaxAttempts int
	Cooldown    time.Duration
	Prefix      string
	// OperationTimeout bounds each Redis round trip.
	OperationTimeout time.Duration
}

// DefaultConfig returns 6-digit codes valid for five minutes with three
// attempts and a one minute resend cooldown.
func DefaultConfig() Config {
	return Config{
		Digits:           6,
		TTL:              5 * time.Minute,
		MaxAttempts:      3,
		Cooldown:         time.Minute,
		Prefix:           "otp",
		OperationTimeout: 500 * time.Millisecond,
	}
}

// Validate checks the configuration bounds.
func (c Config) Validate() error {
	if c.Digits < 4 || c.Digits > 10 {
		return errors.New("otp digits must be between 4 and 10")
	}
	if c.TTL <= 0 {
		return errors.New("otp ttl must be > 0")
	}
	if c.MaxAttempts <= 0 {
		return errors.New("otp max attempts must be > 0")
	}
	if c.Cooldown < 0 || c.Cooldown >= c.TTL {
		return errors.New("otp cooldown must be >= 0 and shorter than ttl")
	}
	if c.OperationTimeout <= 0 {
		return errors.New("otp operation timeout must be > 0")
	}
	return nil
}

// Request describes a code to issue.
type Request struct {
	Channel     Channel
	Identifier  string
	Purpose     Purpose
	TTL         time.Duration
	MaxAttempts int
}

// verifyCodeScript checks a presented hash against the stored entry.
// KEYS[1] = code key; ARGV[1] = presented hash (hex)
// Returns 0 absent, 1 exhausted (deleted), 2 mismatch (counted), 3 match (deleted).
const verifyCodeScript = `
local cur = redis.call("HMGET", KEYS[1], "h", "a", "m")
if not cur[1] then
  return 0
end
local attempts = tonumber(cur[2]) or 0
local max = tonumber(cur[3]) or 0
if attempts >= max then
  redis.call("DEL", KEYS[1])
  return 1
end
if cur[1] ~= ARGV[1] then
  redis.call("HINCRBY", KEYS[1], "a", 1)
  return 2
end
redis.call("DEL", KEYS[1])
return 3
`

// issueCodeScript writes a fresh entry unless the current one is inside the
// cooldown.
// KEYS[1] = code key
// ARGV[1] = hash, ARGV[2] = max attempts, ARGV[3] = now (unix ms),
// ARGV[4] = ttl (ms), ARGV[5] = cooldown (ms)
const issueCodeScript = `
local issued = redis.call("HGET", KEYS[1], "i")
if issued then
  local elapsed = tonumber(ARGV[3]) - tonumber(issued)
  if elapsed < tonumber(ARGV[5]) then
    return 0
  end
end
redis.call("DEL", KEYS[1])
redis.call("HSET", KEYS[1], "h", ARGV[1], "a", 0, "m", ARGV[2], "i", ARGV[3])
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return 1
`

const (
	verifyAbsent    int64 = 0
	verifyExhausted int64 = 1
	verifyMismatch  int64 = 2
	verifyMatch     int64 = 3
)

var (
	verifyCodeLua = redis.NewScript(verifyCodeScript)
	issueCodeLua  = redis.NewScript(issueCodeScript)
)

// Service issues and verifies one-time codes stored in Redis. Only the code
// hash is persisted.
type Service struct {
	redis  redis.UniversalClient
	config Config
	now    func() time.Time
}

// NewService validates cfg and returns a Service.
func NewService(client redis.UniversalClient, cfg Config) (*Service, error) {
	if client == nil {
		return nil, errors.New("otp service requires redis client")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "otp"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Service{redis: client, config: cfg, now: time.Now}, nil
}

func (s *Service) key(channel Channel, identifier string, purpose Purpose) string {
	return s.config.Prefix + ":" + string(channel) + ":" + normalizeIdentifier(identifier) + ":" + string(purpose)
}

// Issue generates a code, stores its hash and returns the plaintext for
// delivery. A code issued less than Cooldown ago blocks a new one with
// ErrTooSoon; after that the new code replaces the old entry.
func (s *Service) Issue(ctx context.Context, req Request) (string, error) {
	if !req.Channel.valid() {
		return "", fmt.Errorf("unknown otp channel %q", req.Channel)
	}
	if !req.Purpose.valid() {
		return "", fmt.Errorf("unknown otp purpose %q", req.Purpose)
	}
	if normalizeIdentifier(req.Identifier) == "" {
		return "", errors.New("otp identifier required")
	}

	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.config.TTL
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.config.MaxAttempts
	}

	code, err := internal.NewOTP(s.config.Digits)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.OperationTimeout)
	defer cancel()
	res, err := issueCodeLua.Run(ctx, s.redis,
		[]string{s.key(req.Channel, req.Identifier, req.Purpose)},
		hashCode(code),
		maxAttempts,
		s.now().UnixMilli(),
		ttl.Milliseconds(),
		s.config.Cooldown.Milliseconds(),
	).Int64()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if res == 0 {
		return "", ErrTooSoon
	}
	return code, nil
}

// Verify consumes one attempt against the stored code. A match deletes the
// entry so the code cannot be used twice.
func (s *Service) Verify(ctx context.Context, channel Channel, identifier string, purpose Purpose, code string) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.OperationTimeout)
	defer cancel()
	res, err := verifyCodeLua.Run(ctx, s.redis,
		[]string{s.key(channel, identifier, purpose)},
		hashCode(strings.TrimSpace(code)),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch res {
	case verifyMatch:
		return nil
	case verifyMismatch:
		return ErrInvalid
	case verifyExhausted:
		return ErrTooManyAttempts
	default:
		return ErrExpired
	}
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func normalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
