package portalauth

import "errors"

var (
	// ErrInvalidCredential covers unknown identifiers, wrong passwords and
	// rejected external assertions. They are indistinguishable by design of
	// the login flow.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrAccountBlocked is returned for blocked or rejected principals.
	ErrAccountBlocked = errors.New("account blocked")
	// ErrAccountUnverified is returned for principals pending approval.
	ErrAccountUnverified = errors.New("account unverified")
	// ErrCodeExpired is returned when no live one-time code exists.
	ErrCodeExpired = errors.New("code expired")
	// ErrCodeInvalid is returned for a wrong code with attempts left.
	ErrCodeInvalid = errors.New("code invalid")
	// ErrCodeExhausted is returned once the attempt ceiling is reached.
	ErrCodeExhausted = errors.New("code attempts exhausted")
	// ErrCodeTooSoon is returned when a code is re-requested inside the cooldown.
	ErrCodeTooSoon = errors.New("code requested too soon")
	// ErrTokenExpired is returned for a well-formed access token past expiry.
	ErrTokenExpired = errors.New("access token expired")
	// ErrTokenInvalid is returned for any other access token failure.
	ErrTokenInvalid = errors.New("access token invalid")
	// ErrSessionRevoked is returned for a refresh against a revoked session.
	ErrSessionRevoked = errors.New("session revoked")
	// ErrSessionNotFound is returned for unknown or malformed credentials.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired is returned when the refresh session is past its
	// expiry, and by the gate when no permission entry is cached.
	ErrSessionExpired = errors.New("session expired")
	// ErrSecretMismatch signals a wrong or replayed refresh secret.
	ErrSecretMismatch = errors.New("refresh secret mismatch")
	// ErrForbidden is returned when the capability is not granted.
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthorized is returned when no bearer token was presented.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRateLimited is returned when login or code-send throttling trips.
	ErrRateLimited = errors.New("rate limited")
	// ErrInternal wraps backing-store and signing failures.
	ErrInternal = errors.New("internal error")
	// ErrEngineNotReady is returned by a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not ready")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrInvalidCredential, "invalid_credential"},
	{ErrAccountBlocked, "account_blocked"},
	{ErrAccountUnverified, "account_unverified"},
	{ErrCodeExpired, "code_expired"},
	{ErrCodeInvalid, "code_invalid"},
	{ErrCodeExhausted, "code_exhausted"},
	{ErrCodeTooSoon, "code_too_soon"},
	{ErrTokenExpired, "token_expired"},
	{ErrTokenInvalid, "token_invalid"},
	{ErrSessionRevoked, "session_revoked"},
	{ErrSessionNotFound, "session_not_found"},
	{ErrSessionExpired, "session_expired"},
	{ErrSecretMismatch, "secret_mismatch"},
	{ErrForbidden, "forbidden"},
	{ErrUnauthorized, "unauthorized"},
	{ErrRateLimited, "rate_limited"},
	{ErrEngineNotReady, "internal"},
	{ErrInternal, "internal"},
}

// ErrCode returns the stable string code for err, as used in HTTP error
// bodies and audit events. Unknown errors map to "internal"; nil maps to "".
func ErrCode(err error) string {
	if err == nil {
		return ""
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "internal"
}
