package password

import (
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHasherVerifiesLegacyBcrypt(t *testing.T) {
	h, err := NewHasher(secureConfig())
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}

	legacy, err := bcrypt.GenerateFromPassword([]byte("legacy-secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	ok, err := h.Verify("legacy-secret", string(legacy))
	if err != nil || !ok {
		t.Fatalf("expected legacy hash to verify, ok=%v err=%v", ok, err)
	}

	ok, err = h.Verify("wrong-secret", string(legacy))
	if err != nil || ok {
		t.Fatalf("expected mismatch, ok=%v err=%v", ok, err)
	}

	if !h.NeedsRehash(string(legacy)) {
		t.Fatal("bcrypt hashes must be flagged for rehash")
	}
}

func TestHasherArgonRoundTrip(t *testing.T) {
	h, err := NewHasher(secureConfig())
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}

	hash, err := h.Hash("portal-password")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	ok, err := h.Verify("portal-password", hash)
	if err != nil || !ok {
		t.Fatalf("expected verify ok, ok=%v err=%v", ok, err)
	}
	if h.NeedsRehash(hash) {
		t.Fatal("fresh hash should not need rehash")
	}
}

func TestHasherRejectsUnknownFormat(t *testing.T) {
	h, err := NewHasher(secureConfig())
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}

	if _, err := h.Verify("pw", "plaintext"); !errors.Is(err, ErrUnsupportedHash) {
		t.Fatalf("expected ErrUnsupportedHash, got %v", err)
	}
}
