package httpapi

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/portalauth"
	"github.com/MrEthical07/portalauth/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// accessLog writes one line per request. Bodies and cookies are never logged.
func accessLog(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.Int("status", sw.code),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", middleware.ClientIP(r)),
			zap.String("user_agent", r.UserAgent()),
		}

		switch {
		case sw.code >= 500:
			logger.Error("http_request", fields...)
		case sw.code >= 400:
			logger.Warn("http_request", fields...)
		default:
			logger.Info("http_request", fields...)
		}
	})
}

func maxBodyBytes(next http.Handler, limit int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}

// ipThrottle keeps one token bucket per client IP. Idle buckets are swept
// at most once a minute.
type ipThrottle struct {
	limit rate.Limit
	burst int
	idle  time.Duration

	mu      sync.Mutex
	clients map[string]*ipBucket
	swept   time.Time
}

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newIPThrottle returns nil when requestsPerMinute is zero.
func newIPThrottle(requestsPerMinute int) *ipThrottle {
	if requestsPerMinute <= 0 {
		return nil
	}
	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &ipThrottle{
		limit:   rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:   burst,
		idle:    5 * time.Minute,
		clients: make(map[string]*ipBucket),
	}
}

func (t *ipThrottle) wrap(next http.Handler) http.Handler {
	if t == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.allow(middleware.ClientIP(r), time.Now()) {
			middleware.WriteError(w, portalauth.ErrRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (t *ipThrottle) allow(ip string, now time.Time) bool {
	if ip == "" {
		ip = "unknown"
	}

	t.mu.Lock()
	b, ok := t.clients[ip]
	if !ok {
		b = &ipBucket{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.clients[ip] = b
	}
	b.lastSeen = now
	t.sweepLocked(now)
	t.mu.Unlock()

	return b.limiter.AllowN(now, 1)
}

func (t *ipThrottle) sweepLocked(now time.Time) {
	if now.Sub(t.swept) < time.Minute {
		return
	}
	t.swept = now
	for ip, b := range t.clients {
		if now.Sub(b.lastSeen) > t.idle {
			delete(t.clients, ip)
		}
	}
}
