package middleware

import (
	"net/http"

	"github.com/MrEthical07/portalauth"
)

// IdentifyIfPresent attaches the caller's identity when the bearer token
// passes the gate. Requests without a usable token proceed anonymously.
func IdentifyIfPresent(authz Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r.Header.Get("Authorization"))
			if ok && authz != nil {
				if id, found := authz.Identify(r.Context(), token); found {
					r = r.WithContext(portalauth.WithIdentity(r.Context(), id))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
