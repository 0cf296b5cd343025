package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/portalauth"
)

// Authorizer is the gate surface the guards need. *portalauth.Engine
// satisfies it.
type Authorizer interface {
	Authorize(ctx context.Context, bearer, capability string) (*portalauth.Identity, error)
	Identify(ctx context.Context, bearer string) (*portalauth.Identity, bool)
}

// Guard runs the Required gate for capability. An empty capability only
// authenticates.
func Guard(authz Authorizer, capability string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authz == nil {
				WriteError(w, portalauth.ErrEngineNotReady)
				return
			}

			token, _ := BearerToken(r.Header.Get("Authorization"))
			id, err := authz.Authorize(r.Context(), token, capability)
			if err != nil {
				WriteError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(portalauth.WithIdentity(r.Context(), id)))
		})
	}
}

// ClientContext copies the caller's IP and User-Agent into the request
// context for throttling, session metadata and audit.
func ClientContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := portalauth.WithClientIP(r.Context(), ClientIP(r))
		ctx = portalauth.WithUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIP returns the host part of r.RemoteAddr. Proxies are expected to
// rewrite RemoteAddr before the request reaches this package.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// BearerToken extracts the token from an Authorization header value. The
// scheme is matched case-insensitively.
func BearerToken(value string) (string, bool) {
	const bearer = "bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

// StatusCode maps an Engine error onto an HTTP status.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, portalauth.ErrForbidden),
		errors.Is(err, portalauth.ErrAccountBlocked),
		errors.Is(err, portalauth.ErrAccountUnverified):
		return http.StatusForbidden
	case errors.Is(err, portalauth.ErrRateLimited),
		errors.Is(err, portalauth.ErrCodeTooSoon):
		return http.StatusTooManyRequests
	case errors.Is(err, portalauth.ErrInternal),
		errors.Is(err, portalauth.ErrEngineNotReady):
		return http.StatusInternalServerError
	case portalauth.ErrCode(err) == "internal":
		return http.StatusInternalServerError
	default:
		return http.StatusUnauthorized
	}
}

// WriteError writes {"error": "<code>"} with the status for err. Internal
// details never reach the body.
func WriteError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(StatusCode(err))
	_ = json.NewEncoder(w).Encode(map[string]string{"error": portalauth.ErrCode(err)})
}
