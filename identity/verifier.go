package identity

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidAssertion is returned for any assertion that fails
	// signature, issuer, audience or expiry checks.
	ErrInvalidAssertion = errors.New("invalid identity assertion")
	// ErrEmailUnverified is returned when the provider does not vouch for
	// the email address.
	ErrEmailUnverified = errors.New("identity email not verified")
)

// ExternalIdentity is what a provider asserts about the caller.
type ExternalIdentity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// Verifier checks a provider assertion and extracts the identity it carries.
type Verifier interface {
	Verify(ctx context.Context, assertion string) (*ExternalIdentity, error)
}

// Config configures a JWTVerifier. Keys maps a key id ("kid" header) to a
// public key (*rsa.PublicKey, *ecdsa.PublicKey or ed25519.PublicKey).
// HMACSecret enables HS256 assertions from a trusted internal broker.
type Config struct {
	Issuer               string
	Audience             string
	Keys                 map[string]crypto.PublicKey
	HMACSecret           []byte
	Leeway               time.Duration
	RequireEmailVerified bool
}

type assertionClaims struct {
	Email         string `json:"email"`
	EmailVerified any    `json:"email_verified"`
	Name          string `json:"name"`
	jwtlib.RegisteredClaims
}

// JWTVerifier verifies signed ID-token style assertions against a static
// key set.
type JWTVerifier struct {
	config  Config
	methods []string
}

func NewJWTVerifier(cfg Config) (*JWTVerifier, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("identity issuer is required")
	}
	if cfg.Audience == "" {
		return nil, errors.New("identity audience is required")
	}
	if len(cfg.Keys) == 0 && len(cfg.HMACSecret) == 0 {
		return nil, errors.New("identity verifier requires keys or an hmac secret")
	}
	if len(cfg.HMACSecret) > 0 && len(cfg.HMACSecret) < 32 {
		return nil, errors.New("identity hmac secret must be at least 32 bytes")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 5*time.Minute {
		return nil, errors.New("identity leeway must be between 0 and 5m")
	}

	var methods []string
	for kid, key := range cfg.Keys {
		switch key.(type) {
		case *rsa.PublicKey:
			methods = append(methods, "RS256")
		case *ecdsa.PublicKey:
			methods = append(methods, "ES256")
		case ed25519.PublicKey:
			methods = append(methods, "EdDSA")
		default:
			return nil, fmt.Errorf("unsupported key type for kid %q", kid)
		}
	}
	if len(cfg.HMACSecret) > 0 {
		methods = append(methods, "HS256")
	}

	return &JWTVerifier{config: cfg, methods: methods}, nil
}

// Verify checks the assertion and returns the asserted identity.
func (v *JWTVerifier) Verify(_ context.Context, assertion string) (*ExternalIdentity, error) {
	assertion = strings.TrimSpace(assertion)
	if assertion == "" {
		return nil, ErrInvalidAssertion
	}

	claims := &assertionClaims{}
	token, err := jwtlib.ParseWithClaims(assertion, claims, v.keyFunc,
		jwtlib.WithValidMethods(v.methods),
		jwtlib.WithIssuer(v.config.Issuer),
		jwtlib.WithAudience(v.config.Audience),
		jwtlib.WithLeeway(v.config.Leeway),
		jwtlib.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidAssertion
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidAssertion
	}

	id := &ExternalIdentity{
		Subject:       claims.Subject,
		Email:         strings.TrimSpace(claims.Email),
		EmailVerified: boolClaim(claims.EmailVerified),
		Name:          claims.Name,
	}
	if v.config.RequireEmailVerified && id.Email != "" && !id.EmailVerified {
		return nil, ErrEmailUnverified
	}
	return id, nil
}

func (v *JWTVerifier) keyFunc(t *jwtlib.Token) (any, error) {
	if t.Method.Alg() == "HS256" {
		if len(v.config.HMACSecret) == 0 {
			return nil, ErrInvalidAssertion
		}
		return v.config.HMACSecret, nil
	}

	kid, _ := t.Header["kid"].(string)
	key, ok := v.config.Keys[kid]
	if !ok {
		return nil, ErrInvalidAssertion
	}
	switch key.(type) {
	case *rsa.PublicKey:
		if _, ok := t.Method.(*jwtlib.SigningMethodRSA); !ok {
			return nil, ErrInvalidAssertion
		}
	case *ecdsa.PublicKey:
		if _, ok := t.Method.(*jwtlib.SigningMethodECDSA); !ok {
			return nil, ErrInvalidAssertion
		}
	case ed25519.PublicKey:
		if _, ok := t.Method.(*jwtlib.SigningMethodEd25519); !ok {
			return nil, ErrInvalidAssertion
		}
	}
	return key, nil
}

// Some providers send email_verified as the string "true".
func boolClaim(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(b, "true")
	default:
		return false
	}
}
