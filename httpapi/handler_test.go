package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/portalauth"
	"github.com/MrEthical07/portalauth/password"
	"github.com/MrEthical07/portalauth/permission"
	"github.com/MrEthical07/portalauth/principal"
	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const testPassword = "correct-horse-battery"

func newTestEngine(t *testing.T) *portalauth.Engine {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := portalauth.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password = portalauth.PasswordConfig{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

	hasher, err := password.NewHasher(password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	require.NoError(t, err)
	hash, err := hasher.Hash(testPassword)
	require.NoError(t, err)

	repo := principal.NewMemoryRepository()
	require.NoError(t, repo.Create(context.Background(), &principal.Principal{
		ID:           "p-1",
		Email:        "asha@uni.edu",
		PasswordHash: hash,
		Roles:        []principal.Role{principal.RoleStudent},
		Status:       principal.StatusActive,
	}))

	engine, err := portalauth.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithPrincipalRepository(repo).
		WithPolicy(permission.Policy{
			Capabilities: []string{"notice:read"},
			Roles:        map[string][]string{"student": {"notice:read"}},
		}).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	return engine
}

func newTestHandler(t *testing.T, cfg Config, reg prometheus.Registerer) *Handler {
	t.Helper()
	h, err := NewHandler(newTestEngine(t), cfg, nil, reg)
	require.NoError(t, err)
	return h
}

func post(h http.Handler, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func refreshCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == "portal_refresh" {
			return c
		}
	}
	t.Fatal("refresh cookie not set")
	return nil
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestPasswordLoginRefreshLogout(t *testing.T) {
	h := newTestHandler(t, DefaultConfig(), nil)

	rec := post(h, "/login/password", `{"identifier":"asha@uni.edu","password":"`+testPassword+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.NotEmpty(t, body["accessToken"])
	require.NotEmpty(t, body["expiresAt"])

	cookie := refreshCookie(t, rec)
	require.True(t, cookie.HttpOnly)
	require.True(t, cookie.Secure)
	require.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	require.Equal(t, "/auth", cookie.Path)
	require.Greater(t, cookie.MaxAge, 0)

	// Sessions with the bearer token.
	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+body["accessToken"].(string))
	srec := httptest.NewRecorder()
	h.ServeHTTP(srec, req)
	require.Equal(t, http.StatusOK, srec.Code)
	var list struct {
		Sessions []sessionView `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(srec.Body.Bytes(), &list))
	require.Len(t, list.Sessions, 1)
	require.True(t, list.Sessions[0].Current)

	rotated := post(h, "/refresh", "", cookie)
	require.Equal(t, http.StatusOK, rotated.Code)
	next := refreshCookie(t, rotated)
	require.NotEqual(t, cookie.Value, next.Value)

	replay := post(h, "/refresh", "", cookie)
	require.Equal(t, http.StatusUnauthorized, replay.Code)
	require.Equal(t, "secret_mismatch", decodeBody(t, replay)["error"])
	require.Equal(t, -1, refreshCookie(t, replay).MaxAge)

	out := post(h, "/logout", "", next)
	require.Equal(t, http.StatusOK, out.Code)
	require.Equal(t, -1, refreshCookie(t, out).MaxAge)

	again := post(h, "/logout", "")
	require.Equal(t, http.StatusOK, again.Code)
}

func TestLoginErrors(t *testing.T) {
	h := newTestHandler(t, DefaultConfig(), nil)

	rec := post(h, "/login/password", `{"identifier":"asha@uni.edu","password":"wrong"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "invalid_credential", decodeBody(t, rec)["error"])

	rec = post(h, "/login/password", `{"identifier":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_request", decodeBody(t, rec)["error"])

	rec = post(h, "/refresh", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "session_not_found", decodeBody(t, rec)["error"])

	rec = post(h, "/login/external", `{"assertionToken":"x"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "internal", decodeBody(t, rec)["error"])
}

func TestSendLoginCodeAlwaysAccepted(t *testing.T) {
	h := newTestHandler(t, DefaultConfig(), nil)

	for _, id := range []string{"asha@uni.edu", "ghost@uni.edu"} {
		rec := post(h, "/login/otp/send", `{"identifier":"`+id+`"}`)
		require.Equal(t, http.StatusAccepted, rec.Code, id)
	}

	rec := post(h, "/login/otp/send", `{"identifier":"asha@uni.edu"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "code_too_soon", decodeBody(t, rec)["error"])

	rec = post(h, "/login/otp/verify", `{"identifier":"ghost@uni.edu","code":"123456"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "code_expired", decodeBody(t, rec)["error"])
}

func TestBearerEndpointsRequireToken(t *testing.T) {
	h := newTestHandler(t, DefaultConfig(), nil)

	rec := post(h, "/logout/all", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "unauthorized", decodeBody(t, rec)["error"])

	login := post(h, "/login/password", `{"identifier":"asha@uni.edu","password":"`+testPassword+`"}`)
	require.Equal(t, http.StatusOK, login.Code)
	token := decodeBody(t, login)["accessToken"].(string)

	req := httptest.NewRequest(http.MethodPost, "/logout/all", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	all := httptest.NewRecorder()
	h.ServeHTTP(all, req)
	require.Equal(t, http.StatusOK, all.Code)
	require.EqualValues(t, 1, decodeBody(t, all)["revoked"])

	refresh := post(h, "/refresh", "", refreshCookie(t, login))
	require.Equal(t, http.StatusUnauthorized, refresh.Code)
	require.Equal(t, "session_revoked", decodeBody(t, refresh)["error"])
}

func TestIPThrottle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequestsPerMinute = 10
	h := newTestHandler(t, cfg, nil)

	first := post(h, "/logout", "")
	require.Equal(t, http.StatusOK, first.Code)

	second := post(h, "/logout", "")
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	require.Equal(t, "rate_limited", decodeBody(t, second)["error"])
}

func TestIPThrottleRefills(t *testing.T) {
	th := newIPThrottle(60)
	now := time.Now()
	for i := 0; i < 6; i++ {
		require.True(t, th.allow("10.0.0.1", now), "request %d", i)
	}
	require.False(t, th.allow("10.0.0.1", now))
	require.True(t, th.allow("10.0.0.2", now))
	require.True(t, th.allow("10.0.0.1", now.Add(2*time.Second)))
	require.Nil(t, newIPThrottle(0))
}

func TestRequestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := newTestHandler(t, DefaultConfig(), reg)

	post(h, "/logout", "")
	post(h, "/login/password", `{"identifier":"asha@uni.edu","password":"wrong"}`)

	families, err := reg.Gather()
	require.NoError(t, err)

	counts := map[string]float64{}
	for _, f := range families {
		if f.GetName() != "portalauth_http_requests_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			counts[labels["route"]+" "+labels["status"]] += m.GetCounter().GetValue()
		}
	}
	require.Equal(t, float64(1), counts["logout 200"])
	require.Equal(t, float64(1), counts["login_password 401"])
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.CookiePath = "auth"
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.CookieName = ""
	require.Error(t, cfg.Validate())

	_, err := NewHandler(nil, DefaultConfig(), nil, nil)
	require.Error(t, err)
}
