package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/portalauth/principal"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the access-token algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

var (
	// ErrTokenExpired is returned for well-formed tokens past their expiry.
	ErrTokenExpired = errors.New("access token expired")
	// ErrTokenInvalid covers bad signatures, algorithms, issuers, audiences and shapes.
	ErrTokenInvalid = errors.New("access token invalid")

	errUnknownKid = errors.New("unknown kid")
	errNoSignKey  = errors.New("manager has no signing key")
)

// Config configures the token issuer.
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	RequireIAT    bool
	MaxFutureIAT  time.Duration
	// KeyID is written to the kid header; with VerifyKeys it selects the
	// verification key during rotation.
	KeyID      string
	VerifyKeys map[string][]byte
}

func (c *Config) normalize() error {
	c.KeyID = strings.TrimSpace(c.KeyID)
	if c.MaxFutureIAT == 0 {
		c.MaxFutureIAT = 10 * time.Minute
	}
	switch {
	case c.AccessTTL <= 0 || c.AccessTTL > time.Hour:
		return errors.New("access TTL must be within (0, 1h]")
	case c.Leeway < 0 || c.Leeway > 2*time.Minute:
		return errors.New("leeway must be within [0, 2m]")
	case c.MaxFutureIAT < 0 || c.MaxFutureIAT > 24*time.Hour:
		return errors.New("MaxFutureIAT must be within [0, 24h]")
	}
	if c.KeyID != "" && len(c.VerifyKeys) > 0 {
		if _, ok := c.VerifyKeys[c.KeyID]; !ok {
			return errors.New("KeyID is not present in VerifyKeys")
		}
	}
	return nil
}

// keyring holds the parsed keys for one signing method. sign is nil for a
// verify-only manager.
type keyring struct {
	method jwt.SigningMethod
	sign   any
	verify any
	byKid  map[string]any
}

func newKeyring(cfg Config) (*keyring, error) {
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
		k := &keyring{method: jwt.SigningMethodHS256, sign: cfg.PrivateKey, verify: cfg.PrivateKey}
		if len(cfg.VerifyKeys) > 0 {
			k.byKid = make(map[string]any, len(cfg.VerifyKeys))
			for kid, key := range cfg.VerifyKeys {
				if strings.TrimSpace(kid) == "" {
					return nil, errors.New("verify key map contains empty kid")
				}
				k.byKid[kid] = key
			}
		}
		return k, nil

	case MethodEd25519:
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key or verify key set")
		}
		k := &keyring{method: jwt.SigningMethodEdDSA}
		if len(cfg.PrivateKey) > 0 {
			priv, err := parseEdPrivateKey(cfg.PrivateKey)
			if err != nil {
				return nil, err
			}
			k.sign = priv
		}
		if len(cfg.PublicKey) > 0 {
			pub, err := parseEdPublicKey(cfg.PublicKey)
			if err != nil {
				return nil, err
			}
			k.verify = pub
		}
		if len(cfg.VerifyKeys) > 0 {
			k.byKid = make(map[string]any, len(cfg.VerifyKeys))
			for kid, key := range cfg.VerifyKeys {
				if strings.TrimSpace(kid) == "" {
					return nil, errors.New("verify key map contains empty kid")
				}
				pub, err := parseEdPublicKey(key)
				if err != nil {
					return nil, fmt.Errorf("verify key %q: %w", kid, err)
				}
				k.byKid[kid] = pub
			}
		}
		return k, nil
	}
	return nil, fmt.Errorf("unsupported signing method %q", cfg.SigningMethod)
}

// Manager signs and verifies access tokens.
type Manager struct {
	config Config
	keys   *keyring
	parser *jwt.Parser
}

// Claims is the access-token payload. The subject is the principal id.
type Claims struct {
	Email     string           `json:"email"`
	Roles     []principal.Role `json:"roles"`
	Scope     principal.Scope  `json:"scope"`
	SessionID string           `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// PrincipalID returns the token subject.
func (c *Claims) PrincipalID() string {
	return c.Subject
}

// NewClaims fills the portal-specific claims of an access token.
func NewClaims(principalID, email string, roles []principal.Role, scope principal.Scope, sessionID string) Claims {
	return Claims{
		Email:            email,
		Roles:            append([]principal.Role(nil), roles...),
		Scope:            scope,
		SessionID:        sessionID,
		RegisteredClaims: jwt.RegisteredClaims{Subject: principalID},
	}
}

// NewManager validates cfg and parses the configured keys once.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	keys, err := newKeyring(cfg)
	if err != nil {
		return nil, err
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{keys.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.RequireIAT {
		opts = append(opts, jwt.WithIssuedAt())
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &Manager{config: cfg, keys: keys, parser: jwt.NewParser(opts...)}, nil
}

// SignAccessToken stamps iss, aud, iat, exp and jti onto c and signs it.
// The returned time is the token expiry.
func (m *Manager) SignAccessToken(c Claims) (string, time.Time, error) {
	if c.Subject == "" {
		return "", time.Time{}, errors.New("access token requires a subject")
	}
	if m.keys.sign == nil {
		return "", time.Time{}, errNoSignKey
	}

	// Second precision keeps the returned expiry equal to the exp claim.
	now := time.Now().Truncate(time.Second)
	expiresAt := now.Add(m.config.AccessTTL)

	c.ID = uuid.NewString()
	c.Issuer = m.config.Issuer
	c.IssuedAt = jwt.NewNumericDate(now)
	c.ExpiresAt = jwt.NewNumericDate(expiresAt)
	if m.config.Audience != "" {
		c.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	token := jwt.NewWithClaims(m.keys.method, c)
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}
	signed, err := token.SignedString(m.keys.sign)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// VerifyAccessToken checks signature, algorithm, issuer, audience and expiry.
// It never touches a store. Expired tokens yield ErrTokenExpired, anything
// else that fails yields ErrTokenInvalid.
func (m *Manager) VerifyAccessToken(raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrTokenInvalid
	}

	claims := &Claims{}
	token, err := m.parser.ParseWithClaims(raw, claims, m.verifyKey)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	case !token.Valid || claims.Subject == "":
		return nil, ErrTokenInvalid
	}

	if claims.IssuedAt != nil && m.config.MaxFutureIAT > 0 &&
		claims.IssuedAt.After(time.Now().Add(m.config.MaxFutureIAT)) {
		return nil, fmt.Errorf("%w: iat too far in the future", ErrTokenInvalid)
	}
	return claims, nil
}

// verifyKey picks the key by kid when a verify set is configured, and
// otherwise requires the kid to match KeyID if one is set.
func (m *Manager) verifyKey(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if m.keys.byKid != nil {
		if key, ok := m.keys.byKid[kid]; ok {
			return key, nil
		}
		return nil, errUnknownKid
	}
	if m.config.KeyID != "" && kid != m.config.KeyID {
		return nil, errUnknownKid
	}
	if m.keys.verify == nil {
		return nil, errUnknownKid
	}
	return m.keys.verify, nil
}

// parseEdPrivateKey accepts a raw 64-byte key or a PKCS#8 PEM block.
func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("ed25519 private key: %w", err)
	}
	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("ed25519 private key: wrong key type")
	}
	return priv, nil
}

// parseEdPublicKey accepts a raw 32-byte key or a PKIX PEM block.
func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("ed25519 public key: %w", err)
	}
	pub, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("ed25519 public key: wrong key type")
	}
	return pub, nil
}
