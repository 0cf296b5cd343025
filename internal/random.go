package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
)

// SessionID is the random identifier of a refresh session.
type SessionID [16]byte

// RefreshSecret is the raw refresh secret handed to the client exactly once.
type RefreshSecret [32]byte

// The credential is the session id followed by the secret, base64url.
const credentialSize = len(SessionID{}) + len(RefreshSecret{})

var (
	b64url = base64.RawURLEncoding

	errSessionIDSize  = errors.New("invalid session id size")
	errSecretSize     = errors.New("invalid refresh secret size")
	errCredentialSize = errors.New("invalid credential size")
)

// decodeInto decodes base64url s into dst, which it must fill exactly.
func decodeInto(dst []byte, s string, sizeErr error) error {
	if b64url.DecodedLen(len(s)) != len(dst) {
		return sizeErr
	}
	n, err := b64url.Decode(dst, []byte(s))
	if err != nil {
		return err
	}
	if n != len(dst) {
		return sizeErr
	}
	return nil
}

func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

func (s SessionID) String() string { return b64url.EncodeToString(s[:]) }

func ParseSessionID(s string) (SessionID, error) {
	var sid SessionID
	return sid, decodeInto(sid[:], s, errSessionIDSize)
}

func NewRefreshSecret() (RefreshSecret, error) {
	var secret RefreshSecret
	_, err := rand.Read(secret[:])
	return secret, err
}

func (s RefreshSecret) String() string { return b64url.EncodeToString(s[:]) }

// Hash is the SHA-256 digest stored in place of the secret.
func (s RefreshSecret) Hash() [32]byte { return sha256.Sum256(s[:]) }

func ParseRefreshSecret(s string) (RefreshSecret, error) {
	var secret RefreshSecret
	return secret, decodeInto(secret[:], s, errSecretSize)
}

// HashRefreshSecret parses a raw base64url secret and returns the digest
// persisted in its place.
func HashRefreshSecret(raw string) ([32]byte, error) {
	secret, err := ParseRefreshSecret(raw)
	if err != nil {
		return [32]byte{}, err
	}
	return secret.Hash(), nil
}

// EncodeCredential packs the session id and raw secret into the opaque
// client-held credential.
func EncodeCredential(sessionID, rawSecret string) (string, error) {
	sid, err := ParseSessionID(sessionID)
	if err != nil {
		return "", err
	}
	secret, err := ParseRefreshSecret(rawSecret)
	if err != nil {
		return "", err
	}
	buf := make([]byte, 0, credentialSize)
	buf = append(append(buf, sid[:]...), secret[:]...)
	return b64url.EncodeToString(buf), nil
}

// DecodeCredential splits a credential into session id and raw secret,
// both re-encoded as base64url.
func DecodeCredential(credential string) (sessionID, rawSecret string, err error) {
	var buf [credentialSize]byte
	if err := decodeInto(buf[:], credential, errCredentialSize); err != nil {
		return "", "", err
	}
	var (
		sid    SessionID
		secret RefreshSecret
	)
	n := copy(sid[:], buf[:])
	copy(secret[:], buf[n:])
	return sid.String(), secret.String(), nil
}

// NewOTP returns a uniformly random numeric code of the given length,
// zero-padded.
func NewOTP(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", fmt.Errorf("otp length %d outside [4, 10]", digits)
	}
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}
