package portalauth

import (
	"errors"
	"fmt"
	"time"
)

// Config is the complete Engine configuration. Start from DefaultConfig and
// override what the deployment needs; Build validates the result.
type Config struct {
	JWT             JWTConfig
	Session         SessionConfig
	Principal       PrincipalConfig
	Password        PasswordConfig
	OTP             OTPConfig
	PermissionCache PermissionCacheConfig
	Security        SecurityConfig
	External        ExternalConfig
	Audit           AuditConfig
	Metrics         MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls access tokens and the refresh session lifetime.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	KeyID         string
	Leeway        time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls the refresh session store.
type SessionConfig struct {
	RedisPrefix string
	// Retention is how long a revoked or expired session record is kept for
	// lineage inspection before the store lets it expire.
	Retention        time.Duration
	OperationTimeout time.Duration
}

/*
====================================
PRINCIPAL CONFIG
====================================
*/

// PrincipalConfig bounds calls into the principal repository.
type PrincipalConfig struct {
	OperationTimeout time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds argon2id parameters for new hashes.
type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

/*
====================================
OTP CONFIG
====================================
*/

type OTPConfig struct {
	Digits           int
	TTL              time.Duration
	MaxAttempts      int
	Cooldown         time.Duration
	RedisPrefix      string
	OperationTimeout time.Duration
}

/*
====================================
PERMISSION CACHE CONFIG
====================================
*/

// PermissionCacheConfig sizes the per-principal authorization cache. Entries
// live for JWT.AccessTTL + Margin so that no valid token outlives its entry.
type PermissionCacheConfig struct {
	RedisPrefix      string
	Margin           time.Duration
	OperationTimeout time.Duration
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig controls login and code-send throttling.
type SecurityConfig struct {
	EnableIPThrottle      bool
	MaxLoginAttempts      int
	LoginCooldownDuration time.Duration
	MaxCodeSends          int
	CodeSendWindow        time.Duration
	// OperationTimeout bounds each throttle counter round trip.
	OperationTimeout time.Duration
}

/*
====================================
EXTERNAL IDENTITY CONFIG
====================================
*/

// ExternalConfig controls federated login. With AutoLinkByEmail an unlinked
// assertion whose verified email matches a principal links that principal.
type ExternalConfig struct {
	AutoLinkByEmail bool
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns production defaults: 15 minute access tokens,
// 7 day refresh sessions and a one minute permission cache margin.
// Signing keys are left empty and must be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "ed25519",
			Issuer:        "portalauth",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			RedisPrefix:      "as",
			Retention:        24 * time.Hour,
			OperationTimeout: 2 * time.Second,
		},
		Principal: PrincipalConfig{
			OperationTimeout: 2 * time.Second,
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		OTP: OTPConfig{
			Digits:           6,
			TTL:              5 * time.Minute,
			MaxAttempts:      3,
			Cooldown:         time.Minute,
			RedisPrefix:      "otp",
			OperationTimeout: 500 * time.Millisecond,
		},
		PermissionCache: PermissionCacheConfig{
			RedisPrefix:      "apc",
			Margin:           time.Minute,
			OperationTimeout: 500 * time.Millisecond,
		},
		Security: SecurityConfig{
			EnableIPThrottle:      true,
			MaxLoginAttempts:      5,
			LoginCooldownDuration: 15 * time.Minute,
			MaxCodeSends:          5,
			CodeSendWindow:        15 * time.Minute,
			OperationTimeout:      500 * time.Millisecond,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration error found.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 || c.JWT.AccessTTL > time.Hour {
		return errors.New("JWT AccessTTL must be in (0, 1h]")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must exceed AccessTTL")
	}
	switch c.JWT.SigningMethod {
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return fmt.Errorf("unsupported JWT signing method %q", c.JWT.SigningMethod)
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 5*time.Minute {
		return errors.New("JWT Leeway must be in [0, 5m]")
	}

	// Session
	if c.Session.Retention < 0 {
		return errors.New("Session Retention must be >= 0")
	}
	if c.Session.OperationTimeout <= 0 {
		return errors.New("Session OperationTimeout must be > 0")
	}

	// Principal
	if c.Principal.OperationTimeout <= 0 {
		return errors.New("Principal OperationTimeout must be > 0")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// OTP
	if c.OTP.Digits < 4 || c.OTP.Digits > 10 {
		return errors.New("OTP Digits must be between 4 and 10")
	}
	if c.OTP.TTL <= 0 {
		return errors.New("OTP TTL must be > 0")
	}
	if c.OTP.MaxAttempts <= 0 {
		return errors.New("OTP MaxAttempts must be > 0")
	}
	if c.OTP.Cooldown < 0 || c.OTP.Cooldown >= c.OTP.TTL {
		return errors.New("OTP Cooldown must be >= 0 and shorter than TTL")
	}
	if c.OTP.OperationTimeout <= 0 {
		return errors.New("OTP OperationTimeout must be > 0")
	}

	// Permission cache
	if c.PermissionCache.Margin <= 0 {
		return errors.New("PermissionCache Margin must be > 0")
	}
	if c.PermissionCache.OperationTimeout <= 0 {
		return errors.New("PermissionCache OperationTimeout must be > 0")
	}

	// Security
	if c.Security.MaxLoginAttempts <= 0 {
		return errors.New("Security MaxLoginAttempts must be > 0")
	}
	if c.Security.LoginCooldownDuration <= 0 {
		return errors.New("Security LoginCooldownDuration must be > 0")
	}
	if c.Security.MaxCodeSends <= 0 {
		return errors.New("Security MaxCodeSends must be > 0")
	}
	if c.Security.CodeSendWindow <= 0 {
		return errors.New("Security CodeSendWindow must be > 0")
	}
	if c.Security.OperationTimeout <= 0 {
		return errors.New("Security OperationTimeout must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}

// permissionCacheTTL is how long a cache entry lives after a login or refresh.
func (c *Config) permissionCacheTTL() time.Duration {
	return c.JWT.AccessTTL + c.PermissionCache.Margin
}
