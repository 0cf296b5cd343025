package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrEthical07/portalauth"
)

type fakeAuthorizer struct {
	tokens map[string]*portalauth.Identity
	grants map[string][]string
	calls  int
}

func (f *fakeAuthorizer) Authorize(_ context.Context, bearer, capability string) (*portalauth.Identity, error) {
	f.calls++
	if bearer == "" {
		return nil, portalauth.ErrUnauthorized
	}
	id, ok := f.tokens[bearer]
	if !ok {
		return nil, portalauth.ErrTokenInvalid
	}
	if capability == "" {
		return id, nil
	}
	for _, c := range f.grants[bearer] {
		if c == capability {
			return id, nil
		}
	}
	return nil, portalauth.ErrForbidden
}

func (f *fakeAuthorizer) Identify(ctx context.Context, bearer string) (*portalauth.Identity, bool) {
	id, err := f.Authorize(ctx, bearer, "")
	return id, err == nil
}

func newFake() *fakeAuthorizer {
	return &fakeAuthorizer{
		tokens: map[string]*portalauth.Identity{"student-token": {PrincipalID: "p-1"}},
		grants: map[string][]string{"student-token": {"notice:read"}},
	}
}

func echoPrincipal() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := portalauth.IdentityFromContext(r.Context())
		if !ok {
			_, _ = w.Write([]byte("anonymous"))
			return
		}
		_, _ = w.Write([]byte(id.PrincipalID))
	})
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body["error"]
}

func TestRequireCapability(t *testing.T) {
	authz := newFake()

	tests := []struct {
		name       string
		header     string
		capability string
		wantStatus int
		wantBody   string
		wantCode   string
	}{
		{"missing header", "", "notice:read", http.StatusUnauthorized, "", "unauthorized"},
		{"wrong scheme", "Basic abc", "notice:read", http.StatusUnauthorized, "", "unauthorized"},
		{"unknown token", "Bearer nope", "notice:read", http.StatusUnauthorized, "", "token_invalid"},
		{"granted", "Bearer student-token", "notice:read", http.StatusOK, "p-1", ""},
		{"lower-case scheme", "bearer student-token", "notice:read", http.StatusOK, "p-1", ""},
		{"not granted", "Bearer student-token", "notice:create", http.StatusForbidden, "", "forbidden"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := RequireCapability(authz, tc.capability)(echoPrincipal())
			req := httptest.NewRequest(http.MethodGet, "/notices", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rec.Code)
			}
			if tc.wantBody != "" && rec.Body.String() != tc.wantBody {
				t.Fatalf("expected body %q, got %q", tc.wantBody, rec.Body.String())
			}
			if tc.wantCode != "" && errorCode(t, rec) != tc.wantCode {
				t.Fatalf("expected code %q, got %q", tc.wantCode, errorCode(t, rec))
			}
		})
	}
}

func TestAuthenticatedSkipsCapability(t *testing.T) {
	h := Authenticated(newFake())(echoPrincipal())
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer student-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "p-1" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
}

func TestGuardWithoutAuthorizer(t *testing.T) {
	h := RequireCapability(nil, "notice:read")(echoPrincipal())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError || errorCode(t, rec) != "internal" {
		t.Fatalf("expected internal error, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestIdentifyIfPresent(t *testing.T) {
	authz := newFake()
	h := IdentifyIfPresent(authz)(echoPrincipal())

	for header, want := range map[string]string{
		"":                     "anonymous",
		"Bearer nope":          "anonymous",
		"Bearer student-token": "p-1",
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK || rec.Body.String() != want {
			t.Fatalf("header %q: expected 200 %q, got %d %q", header, want, rec.Code, rec.Body.String())
		}
	}
}

func TestClientContext(t *testing.T) {
	var gotIP string
	h := ClientContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIP = ClientIP(r)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:51234"
	h.ServeHTTP(httptest.NewRecorder(), req)

	if gotIP != "192.0.2.10" {
		t.Fatalf("expected 192.0.2.10, got %q", gotIP)
	}
}

func TestStatusCode(t *testing.T) {
	tests := map[error]int{
		portalauth.ErrInvalidCredential: http.StatusUnauthorized,
		portalauth.ErrSessionExpired:    http.StatusUnauthorized,
		portalauth.ErrSecretMismatch:    http.StatusUnauthorized,
		portalauth.ErrForbidden:         http.StatusForbidden,
		portalauth.ErrAccountBlocked:    http.StatusForbidden,
		portalauth.ErrRateLimited:       http.StatusTooManyRequests,
		portalauth.ErrCodeTooSoon:       http.StatusTooManyRequests,
		fmt.Errorf("%w: boom", portalauth.ErrInternal): http.StatusInternalServerError,
		errors.New("unmapped"):                         http.StatusInternalServerError,
	}
	for err, want := range tests {
		if got := StatusCode(err); got != want {
			t.Fatalf("StatusCode(%v) = %d, want %d", err, got, want)
		}
	}
}
