package httpapi

import (
	"net/http"
	"time"
)

func (h *Handler) setCredential(w http.ResponseWriter, credential string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.config.CookieName,
		Value:    credential,
		Path:     h.config.CookiePath,
		Domain:   h.config.CookieDomain,
		Expires:  expiresAt,
		MaxAge:   int(time.Until(expiresAt).Seconds()),
		HttpOnly: true,
		Secure:   !h.config.InsecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearCredential(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.config.CookieName,
		Value:    "",
		Path:     h.config.CookiePath,
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   !h.config.InsecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) readCredential(r *http.Request) (string, bool) {
	c, err := r.Cookie(h.config.CookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}
