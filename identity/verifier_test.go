package identity

import (
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

type testProvider struct {
	priv ed25519.PrivateKey
	v    *JWTVerifier
}

func newTestProvider(t *testing.T, requireVerified bool) *testProvider {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	v, err := NewJWTVerifier(Config{
		Issuer:               "https://idp.example",
		Audience:             "portal",
		Keys:                 map[string]crypto.PublicKey{"k1": pub},
		HMACSecret:           []byte("0123456789abcdef0123456789abcdef"),
		RequireEmailVerified: requireVerified,
	})
	if err != nil {
		t.Fatalf("NewJWTVerifier: %v", err)
	}
	return &testProvider{priv: priv, v: v}
}

func (p *testProvider) sign(t *testing.T, claims jwtlib.MapClaims) string {
	t.Helper()
	tok := jwtlib.NewWithClaims(jwtlib.SigningMethodEdDSA, claims)
	tok.Header["kid"] = "k1"
	s, err := tok.SignedString(p.priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func baseClaims() jwtlib.MapClaims {
	now := time.Now()
	return jwtlib.MapClaims{
		"iss":            "https://idp.example",
		"aud":            "portal",
		"sub":            "ext-123",
		"email":          "Student@Uni.edu",
		"email_verified": true,
		"iat":            now.Unix(),
		"exp":            now.Add(5 * time.Minute).Unix(),
	}
}

func TestVerifyValidAssertion(t *testing.T) {
	p := newTestProvider(t, true)
	id, err := p.v.Verify(context.Background(), p.sign(t, baseClaims()))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.Subject != "ext-123" || id.Email != "Student@Uni.edu" || !id.EmailVerified {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestVerifyRejectsBadAssertions(t *testing.T) {
	p := newTestProvider(t, true)
	ctx := context.Background()

	cases := map[string]func(jwtlib.MapClaims){
		"wrong issuer":   func(c jwtlib.MapClaims) { c["iss"] = "https://evil.example" },
		"wrong audience": func(c jwtlib.MapClaims) { c["aud"] = "other" },
		"expired":        func(c jwtlib.MapClaims) { c["exp"] = time.Now().Add(-time.Minute).Unix() },
		"no expiry":      func(c jwtlib.MapClaims) { delete(c, "exp") },
		"no subject":     func(c jwtlib.MapClaims) { delete(c, "sub") },
	}
	for name, mutate := range cases {
		c := baseClaims()
		mutate(c)
		if _, err := p.v.Verify(ctx, p.sign(t, c)); !errors.Is(err, ErrInvalidAssertion) {
			t.Fatalf("%s: expected ErrInvalidAssertion, got %v", name, err)
		}
	}

	tok := p.sign(t, baseClaims())
	tampered := tok + "x"
	if _, err := p.v.Verify(ctx, tampered); !errors.Is(err, ErrInvalidAssertion) {
		t.Fatalf("tampered: expected ErrInvalidAssertion, got %v", err)
	}
	if _, err := p.v.Verify(ctx, ""); !errors.Is(err, ErrInvalidAssertion) {
		t.Fatalf("empty: expected ErrInvalidAssertion, got %v", err)
	}
}

func TestVerifyUnknownKid(t *testing.T) {
	p := newTestProvider(t, false)
	tok := jwtlib.NewWithClaims(jwtlib.SigningMethodEdDSA, baseClaims())
	tok.Header["kid"] = "k2"
	s, err := tok.SignedString(p.priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := p.v.Verify(context.Background(), s); !errors.Is(err, ErrInvalidAssertion) {
		t.Fatalf("expected ErrInvalidAssertion, got %v", err)
	}
}

func TestVerifyEmailVerifiedHandling(t *testing.T) {
	strict := newTestProvider(t, true)
	c := baseClaims()
	c["email_verified"] = false
	if _, err := strict.v.Verify(context.Background(), strict.sign(t, c)); !errors.Is(err, ErrEmailUnverified) {
		t.Fatalf("expected ErrEmailUnverified, got %v", err)
	}

	c["email_verified"] = "true"
	id, err := strict.v.Verify(context.Background(), strict.sign(t, c))
	if err != nil || !id.EmailVerified {
		t.Fatalf("string true should count as verified: %+v %v", id, err)
	}
}

func TestVerifyHS256Broker(t *testing.T) {
	p := newTestProvider(t, false)
	tok := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, baseClaims())
	s, err := tok.SignedString([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := p.v.Verify(context.Background(), s); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestNewJWTVerifierValidation(t *testing.T) {
	if _, err := NewJWTVerifier(Config{Audience: "portal", HMACSecret: make([]byte, 32)}); err == nil {
		t.Fatal("missing issuer should fail")
	}
	if _, err := NewJWTVerifier(Config{Issuer: "i", Audience: "a"}); err == nil {
		t.Fatal("missing keys should fail")
	}
	if _, err := NewJWTVerifier(Config{Issuer: "i", Audience: "a", HMACSecret: []byte("short")}); err == nil {
		t.Fatal("short secret should fail")
	}
}
