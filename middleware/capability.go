package middleware

import (
	"net/http"
)

// RequireCapability rejects the request unless the bearer token passes the
// gate and the principal holds capability.
func RequireCapability(authz Authorizer, capability string) func(http.Handler) http.Handler {
	return Guard(authz, capability)
}

// Authenticated rejects the request unless the bearer token passes the gate.
func Authenticated(authz Authorizer) func(http.Handler) http.Handler {
	return Guard(authz, "")
}
