package httpapi

import (
	"errors"
	"time"
)

// Config controls cookies and request hygiene for the Handler.
type Config struct {
	// CookieName is the refresh credential cookie.
	CookieName string
	// CookiePath scopes the cookie to where the Handler is mounted.
	CookiePath   string
	CookieDomain string
	// InsecureCookies drops the Secure attribute. Local development only.
	InsecureCookies bool

	// RequestsPerMinute is the per-IP budget across all endpoints; zero
	// disables the throttle.
	RequestsPerMinute int
	MaxBodyBytes      int64
	RequestTimeout    time.Duration
}

func DefaultConfig() Config {
	return Config{
		CookieName:        "portal_refresh",
		CookiePath:        "/auth",
		RequestsPerMinute: 120,
		MaxBodyBytes:      16 << 10,
		RequestTimeout:    10 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.CookieName == "" {
		return errors.New("httpapi: CookieName must not be empty")
	}
	if c.CookiePath == "" || c.CookiePath[0] != '/' {
		return errors.New("httpapi: CookiePath must start with /")
	}
	if c.RequestsPerMinute < 0 {
		return errors.New("httpapi: RequestsPerMinute must be >= 0")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("httpapi: MaxBodyBytes must be > 0")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("httpapi: RequestTimeout must be > 0")
	}
	return nil
}
