package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusRevoked  int64 = 1
	rotateStatusMismatch int64 = 2
	rotateStatusExpired  int64 = 3
	rotateStatusRotated  int64 = 4
)

const (
	revokeStatusNotFound int64 = 0
	revokeStatusAlready  int64 = 1
	revokeStatusRevoked  int64 = 2
)

// extendIndexLua adds a member to a principal index and pushes the index
// expiry out to at, never pulling it in.
const extendIndexLua = `
local function extendIndex(key, member, at, now)
  redis.call("SADD", key, member)
  local ttl = redis.call("PTTL", key)
  if ttl < 0 or now + ttl < tonumber(at) then
    redis.call("PEXPIREAT", key, at)
  end
end
`

// createSessionScript writes a session record and indexes it.
// KEYS[1] = session key, KEYS[2] = principal index
// ARGV[1] = now (unix ms), ARGV[2] = session id, ARGV[3] = retention expiry (unix ms),
// ARGV[4..] = record fields.
const createSessionScript = extendIndexLua + `
local fields = {}
for i = 4, #ARGV do
  fields[#fields + 1] = ARGV[i]
end
redis.call("HSET", KEYS[1], unpack(fields))
redis.call("PEXPIREAT", KEYS[1], ARGV[3])
extendIndex(KEYS[2], ARGV[2], ARGV[3], tonumber(ARGV[1]))
return 1
`

// rotateSessionScript atomically revokes the presented session and writes
// its successor.
// KEYS[1] = current session key, KEYS[2] = next session key, KEYS[3] = principal index
// ARGV[1] = presented hash (hex), ARGV[2] = now (unix ms), ARGV[3] = next session id,
// ARGV[4] = retention expiry of the next record (unix ms), ARGV[5..] = next record fields.
const rotateSessionScript = extendIndexLua + `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
local cur = redis.call("HMGET", KEYS[1], "revoked", "hash", "expires")
if cur[1] == "1" then
  return 1
end
local now = tonumber(ARGV[2])
if tonumber(cur[3]) <= now then
  return 3
end
if cur[2] ~= ARGV[1] then
  return 2
end
redis.call("HSET", KEYS[1], "revoked", "1", "reason", "rotated", "revoked_at", ARGV[2], "next", ARGV[3], "last_used", ARGV[2])
local fields = {}
for i = 5, #ARGV do
  fields[#fields + 1] = ARGV[i]
end
redis.call("HSET", KEYS[2], unpack(fields))
redis.call("PEXPIREAT", KEYS[2], ARGV[4])
extendIndex(KEYS[3], ARGV[3], ARGV[4], now)
return 4
`

// revokeSessionScript marks a session revoked unless it already is.
// KEYS[1] = session key; ARGV[1] = reason, ARGV[2] = now (unix ms)
const revokeSessionScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
if redis.call("HGET", KEYS[1], "revoked") == "1" then
  return 1
end
redis.call("HSET", KEYS[1], "revoked", "1", "reason", ARGV[1], "revoked_at", ARGV[2])
return 2
`

var (
	createSessionLua = redis.NewScript(createSessionScript)
	rotateSessionLua = redis.NewScript(rotateSessionScript)
	revokeSessionLua = redis.NewScript(revokeSessionScript)
)

// RedisStore keeps refresh sessions as Redis hashes. Records outlive their
// absolute expiry by the retention window so revoked lineage stays
// inspectable; Redis purges them afterwards.
type RedisStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisStore creates a session store. prefix namespaces the keys
// (default "as"); retention is how long records are kept after expiry.
func NewRedisStore(client redis.UniversalClient, prefix string, retention time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "as"
	}
	if retention < 0 {
		retention = 0
	}
	return &RedisStore{redis: client, prefix: prefix, retention: retention}
}

func (s *RedisStore) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *RedisStore) principalKey(principalID string) string {
	return s.prefix + "p:" + principalID
}

// Create persists a new session and indexes it under its principal. The
// index lives as long as its longest-lived member.
func (s *RedisStore) Create(ctx context.Context, sess *Session) error {
	if sess == nil || sess.ID == "" || sess.PrincipalID == "" {
		return errors.New("session requires id and principal id")
	}

	args := []interface{}{
		time.Now().UnixMilli(),
		sess.ID,
		sess.ExpiresAt.Add(s.retention).UnixMilli(),
	}
	args = append(args, encodeFields(sess)...)

	err := createSessionLua.Run(ctx, s.redis,
		[]string{s.key(sess.ID), s.principalKey(sess.PrincipalID)},
		args...,
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get loads a session regardless of its revocation state.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	sess, err := decodeFields(sessionID, fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return sess, nil
}

// Rotate revokes sessionID with reason "rotated" and creates next in one
// atomic step, provided the session is active and presentedHash matches.
// Exactly one of several concurrent callers can succeed; the others get
// ErrRevoked. next.RotatedFrom is set to sessionID.
func (s *RedisStore) Rotate(ctx context.Context, sessionID string, presentedHash [32]byte, next *Session) error {
	if next == nil || next.ID == "" {
		return errors.New("rotation requires a successor session")
	}
	now := time.Now()
	next.RotatedFrom = sessionID

	args := []interface{}{
		hex.EncodeToString(presentedHash[:]),
		now.UnixMilli(),
		next.ID,
		next.ExpiresAt.Add(s.retention).UnixMilli(),
	}
	args = append(args, encodeFields(next)...)

	code, err := rotateSessionLua.Run(ctx, s.redis,
		[]string{s.key(sessionID), s.key(next.ID), s.principalKey(next.PrincipalID)},
		args...,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch code {
	case rotateStatusRotated:
		return nil
	case rotateStatusNotFound:
		return ErrNotFound
	case rotateStatusRevoked:
		return ErrRevoked
	case rotateStatusExpired:
		return ErrExpired
	case rotateStatusMismatch:
		return ErrMismatch
	default:
		return fmt.Errorf("%w: unknown rotate status %d", ErrUnavailable, code)
	}
}

// Revoke marks the session revoked. Revoking an already revoked session is
// a successful no-op; an unknown id yields ErrNotFound.
func (s *RedisStore) Revoke(ctx context.Context, sessionID, reason string) error {
	_, err := s.revoke(ctx, sessionID, reason)
	return err
}

func (s *RedisStore) revoke(ctx context.Context, sessionID, reason string) (bool, error) {
	code, err := revokeSessionLua.Run(ctx, s.redis, []string{s.key(sessionID)}, reason, time.Now().UnixMilli()).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	switch code {
	case revokeStatusRevoked:
		return true, nil
	case revokeStatusAlready:
		return false, nil
	default:
		return false, ErrNotFound
	}
}

// RevokeAll revokes every session indexed under the principal and returns
// how many were newly revoked.
func (s *RedisStore) RevokeAll(ctx context.Context, principalID, reason string) (int, error) {
	ids, err := s.redis.SMembers(ctx, s.principalKey(principalID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	revoked := 0
	var errs []error
	for _, id := range ids {
		ok, err := s.revoke(ctx, id, reason)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		if ok {
			revoked++
		}
	}
	return revoked, errors.Join(errs...)
}

// ListByPrincipal returns every retained session of the principal, revoked
// ones included.
func (s *RedisStore) ListByPrincipal(ctx context.Context, principalID string) ([]*Session, error) {
	ids, err := s.redis.SMembers(ctx, s.principalKey(principalID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.key(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	out := make([]*Session, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		sess, err := decodeFields(ids[i], fields)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		out = append(out, sess)
	}
	return out, nil
}

// Ping measures a round trip to Redis.
func (s *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return time.Since(start), nil
}

func encodeFields(sess *Session) []interface{} {
	revoked := "0"
	if sess.Revoked {
		revoked = "1"
	}
	return []interface{}{
		"pid", sess.PrincipalID,
		"hash", hex.EncodeToString(sess.SecretHash[:]),
		"created", sess.CreatedAt.UnixMilli(),
		"expires", sess.ExpiresAt.UnixMilli(),
		"revoked", revoked,
		"reason", sess.RevokeReason,
		"revoked_at", unixMilliOrZero(sess.RevokedAt),
		"method", sess.Method,
		"ip", sess.Metadata.IP,
		"ua", sess.Metadata.UserAgent,
		"device", sess.Metadata.Device,
		"from", sess.RotatedFrom,
		"next", sess.ReplacedBy,
		"last_used", unixMilliOrZero(sess.LastUsedAt),
	}
}

func decodeFields(sessionID string, f map[string]string) (*Session, error) {
	hash, err := hex.DecodeString(f["hash"])
	if err != nil || len(hash) != 32 {
		return nil, errors.New("invalid session hash field")
	}

	sess := &Session{
		ID:           sessionID,
		PrincipalID:  f["pid"],
		Revoked:      f["revoked"] == "1",
		RevokeReason: f["reason"],
		Method:       f["method"],
		Metadata: Metadata{
			IP:        f["ip"],
			UserAgent: f["ua"],
			Device:    f["device"],
		},
		RotatedFrom: f["from"],
		ReplacedBy:  f["next"],
	}
	copy(sess.SecretHash[:], hash)

	for name, dst := range map[string]*time.Time{
		"created":    &sess.CreatedAt,
		"expires":    &sess.ExpiresAt,
		"revoked_at": &sess.RevokedAt,
		"last_used":  &sess.LastUsedAt,
	} {
		t, err := parseMillis(f[name])
		if err != nil {
			return nil, fmt.Errorf("invalid session %s field: %w", name, err)
		}
		*dst = t
	}
	if sess.PrincipalID == "" {
		return nil, errors.New("session without principal")
	}
	return sess, nil
}

func unixMilliOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func parseMillis(v string) (time.Time, error) {
	if v == "" || v == "0" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
