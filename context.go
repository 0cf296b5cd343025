package portalauth

import "context"

type ctxKey uint8

const (
	clientIPKey ctxKey = iota
	userAgentKey
	identityKey
)

func fromContext[T any](ctx context.Context, key ctxKey) (T, bool) {
	var zero T
	if ctx == nil {
		return zero, false
	}
	v, ok := ctx.Value(key).(T)
	return v, ok
}

// WithClientIP attaches the caller's IP address to ctx. The Engine uses it
// for per-IP login throttling, session metadata and audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx. It is stored on
// new sessions and hashed into a device tag.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentKey, userAgent)
}

// WithIdentity attaches an authorized Identity to ctx.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the Identity attached by WithIdentity.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := fromContext[*Identity](ctx, identityKey)
	return id, ok && id != nil
}

func clientIPFromContext(ctx context.Context) string {
	ip, _ := fromContext[string](ctx, clientIPKey)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	ua, _ := fromContext[string](ctx, userAgentKey)
	return ua
}
