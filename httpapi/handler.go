package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/MrEthical07/portalauth"
	"github.com/MrEthical07/portalauth/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Engine is the part of *portalauth.Engine the endpoints call.
type Engine interface {
	middleware.Authorizer
	LoginPassword(ctx context.Context, identifier, password string) (*portalauth.Result, error)
	SendLoginCode(ctx context.Context, identifier string) error
	LoginOTP(ctx context.Context, identifier, code string) (*portalauth.Result, error)
	LoginExternal(ctx context.Context, assertion string) (*portalauth.Result, error)
	Refresh(ctx context.Context, credential string) (*portalauth.Result, error)
	Logout(ctx context.Context, credential string)
	LogoutAll(ctx context.Context, principalID string) (int, error)
	ListSessions(ctx context.Context, principalID, currentSessionID string) ([]portalauth.SessionInfo, error)
}

// Handler routes the auth endpoints. Mount it under Config.CookiePath, for
// example with http.StripPrefix.
type Handler struct {
	engine  Engine
	config  Config
	logger  *zap.Logger
	metrics *httpMetrics
	handler http.Handler
}

// NewHandler wires the endpoints with access logging, request metrics
// registered on reg (nil skips metrics) and the per-IP throttle.
func NewHandler(engine Engine, cfg Config, logger *zap.Logger, reg prometheus.Registerer) (*Handler, error) {
	if engine == nil {
		return nil, errors.New("httpapi: engine required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &Handler{
		engine: engine,
		config: cfg,
		logger: logger,
	}
	if reg != nil {
		m, err := newHTTPMetrics(reg)
		if err != nil {
			return nil, err
		}
		h.metrics = m
	}

	mux := http.NewServeMux()
	h.route(mux, "POST /login/password", "login_password", http.HandlerFunc(h.loginPassword))
	h.route(mux, "POST /login/otp/send", "login_otp_send", http.HandlerFunc(h.sendLoginCode))
	h.route(mux, "POST /login/otp/verify", "login_otp_verify", http.HandlerFunc(h.loginOTP))
	h.route(mux, "POST /login/external", "login_external", http.HandlerFunc(h.loginExternal))
	h.route(mux, "POST /refresh", "refresh", http.HandlerFunc(h.refresh))
	h.route(mux, "POST /logout", "logout", http.HandlerFunc(h.logout))
	h.route(mux, "POST /logout/all", "logout_all", middleware.Authenticated(engine)(http.HandlerFunc(h.logoutAll)))
	h.route(mux, "GET /sessions", "sessions", middleware.Authenticated(engine)(http.HandlerFunc(h.sessions)))

	var root http.Handler = mux
	root = middleware.ClientContext(root)
	root = newIPThrottle(cfg.RequestsPerMinute).wrap(root)
	root = maxBodyBytes(root, cfg.MaxBodyBytes)
	root = http.TimeoutHandler(root, cfg.RequestTimeout, `{"error":"internal"}`)
	root = accessLog(logger, root)
	h.handler = root

	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

func (h *Handler) route(mux *http.ServeMux, pattern, name string, next http.Handler) {
	mux.Handle(pattern, h.metrics.instrument(name, next))
}

type passwordRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type codeSendRequest struct {
	Identifier string `json:"identifier"`
}

type codeVerifyRequest struct {
	Identifier string `json:"identifier"`
	Code       string `json:"code"`
}

type externalRequest struct {
	AssertionToken string `json:"assertionToken"`
}

type tokenResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type sessionView struct {
	SessionID  string    `json:"sessionId"`
	Method     string    `json:"method"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	LastUsedAt time.Time `json:"lastUsedAt"`
	IP         string    `json:"ip,omitempty"`
	UserAgent  string    `json:"userAgent,omitempty"`
	Device     string    `json:"device,omitempty"`
	Current    bool      `json:"current"`
}

func (h *Handler) loginPassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.engine.LoginPassword(r.Context(), req.Identifier, req.Password)
	h.respondSession(w, res, err)
}

// sendLoginCode answers 202 for every identifier so callers cannot probe
// which accounts exist. Only throttling is reported.
func (h *Handler) sendLoginCode(w http.ResponseWriter, r *http.Request) {
	var req codeSendRequest
	if !decode(w, r, &req) {
		return
	}
	err := h.engine.SendLoginCode(r.Context(), req.Identifier)
	switch {
	case err == nil:
	case errors.Is(err, portalauth.ErrRateLimited), errors.Is(err, portalauth.ErrCodeTooSoon):
		middleware.WriteError(w, err)
		return
	default:
		h.logger.Error("login code send failed", zap.String("ip", middleware.ClientIP(r)), zap.Error(err))
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *Handler) loginOTP(w http.ResponseWriter, r *http.Request) {
	var req codeVerifyRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.engine.LoginOTP(r.Context(), req.Identifier, req.Code)
	h.respondSession(w, res, err)
}

func (h *Handler) loginExternal(w http.ResponseWriter, r *http.Request) {
	var req externalRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.engine.LoginExternal(r.Context(), req.AssertionToken)
	h.respondSession(w, res, err)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	credential, ok := h.readCredential(r)
	if !ok {
		middleware.WriteError(w, portalauth.ErrSessionNotFound)
		return
	}

	res, err := h.engine.Refresh(r.Context(), credential)
	if err != nil && terminalRefreshError(err) {
		h.clearCredential(w)
	}
	h.respondSession(w, res, err)
}

// logout always succeeds and always clears the cookie.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if credential, ok := h.readCredential(r); ok {
		h.engine.Logout(r.Context(), credential)
	}
	h.clearCredential(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) logoutAll(w http.ResponseWriter, r *http.Request) {
	id, _ := portalauth.IdentityFromContext(r.Context())
	n, err := h.engine.LogoutAll(r.Context(), id.PrincipalID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	h.clearCredential(w)
	writeJSON(w, http.StatusOK, map[string]int{"revoked": n})
}

func (h *Handler) sessions(w http.ResponseWriter, r *http.Request) {
	id, _ := portalauth.IdentityFromContext(r.Context())
	list, err := h.engine.ListSessions(r.Context(), id.PrincipalID, id.SessionID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	out := make([]sessionView, 0, len(list))
	for _, s := range list {
		out = append(out, sessionView{
			SessionID:  s.SessionID,
			Method:     s.Method,
			CreatedAt:  s.CreatedAt,
			ExpiresAt:  s.ExpiresAt,
			LastUsedAt: s.LastUsedAt,
			IP:         s.IP,
			UserAgent:  s.UserAgent,
			Device:     s.Device,
			Current:    s.Current,
		})
	}
	writeJSON(w, http.StatusOK, map[string][]sessionView{"sessions": out})
}

func (h *Handler) respondSession(w http.ResponseWriter, res *portalauth.Result, err error) {
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	credential, err := res.Credential.Encode()
	if err != nil {
		h.logger.Error("encode refresh credential failed", zap.Error(err))
		middleware.WriteError(w, portalauth.ErrInternal)
		return
	}
	h.setCredential(w, credential, res.RefreshExpiresAt)
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: res.AccessToken, ExpiresAt: res.ExpiresAt})
}

// terminalRefreshError reports whether the presented credential can never
// succeed again, so the client should drop it.
func terminalRefreshError(err error) bool {
	return errors.Is(err, portalauth.ErrSessionNotFound) ||
		errors.Is(err, portalauth.ErrSessionRevoked) ||
		errors.Is(err, portalauth.ErrSessionExpired) ||
		errors.Is(err, portalauth.ErrSecretMismatch) ||
		errors.Is(err, portalauth.ErrAccountBlocked) ||
		errors.Is(err, portalauth.ErrAccountUnverified)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
