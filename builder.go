package portalauth

import (
	"errors"
	"fmt"

	"github.com/MrEthical07/portalauth/identity"
	internalaudit "github.com/MrEthical07/portalauth/internal/audit"
	"github.com/MrEthical07/portalauth/internal/rate"
	"github.com/MrEthical07/portalauth/jwt"
	"github.com/MrEthical07/portalauth/notify"
	"github.com/MrEthical07/portalauth/otp"
	"github.com/MrEthical07/portalauth/password"
	"github.com/MrEthical07/portalauth/permission"
	"github.com/MrEthical07/portalauth/principal"
	"github.com/MrEthical07/portalauth/session"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an Engine. Configure it during initialization, call
// Build once, and discard it.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	principals   principal.Repository
	sessions     SessionStore
	policy       *permission.Policy
	logger       *zap.Logger
	auditSink    AuditSink
	codeSender   notify.Sender
	identityVerf identity.Verifier

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client used for the permission cache, one-time codes,
// rate limits and, unless WithSessionStore is used, refresh sessions.
// Per-call timeouts only cut a hung command short when the client was
// created with ContextTimeoutEnabled.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithPrincipalRepository(repo principal.Repository) *Builder {
	b.principals = repo
	return b
}

// WithSessionStore replaces the default Redis-backed session store, for
// example with session.MongoStore.
func (b *Builder) WithSessionStore(store SessionStore) *Builder {
	b.sessions = store
	return b
}

// WithPolicy sets the capability catalogue and role table.
func (b *Builder) WithPolicy(p permission.Policy) *Builder {
	b.policy = &p
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithCodeSender sets where login codes are delivered. Without one, codes
// are logged through the Engine logger, which is only suitable for development.
func (b *Builder) WithCodeSender(sender notify.Sender) *Builder {
	b.codeSender = sender
	return b
}

// WithIdentityVerifier enables LoginExternal.
func (b *Builder) WithIdentityVerifier(v identity.Verifier) *Builder {
	b.identityVerf = v
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.principals == nil {
		return nil, errors.New("principal repository required")
	}
	if b.policy == nil {
		return nil, errors.New("permission policy required")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// -------- PERMISSIONS --------
	registry, roles, err := b.policy.Compile()
	if err != nil {
		return nil, fmt.Errorf("compile policy: %w", err)
	}

	// -------- PRINCIPALS --------
	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	directory, err := principal.NewDirectory(b.principals, hasher, cfg.Principal.OperationTimeout, logger.Named("principal"))
	if err != nil {
		return nil, err
	}

	cache, err := permission.NewCache(b.redis, directory, permission.CacheConfig{
		Prefix:           cfg.PermissionCache.RedisPrefix,
		TTL:              cfg.permissionCacheTTL(),
		OperationTimeout: cfg.PermissionCache.OperationTimeout,
		LoadTimeout:      cfg.Principal.OperationTimeout,
	})
	if err != nil {
		return nil, err
	}

	// -------- SESSIONS --------
	store := b.sessions
	if store == nil {
		store = session.NewRedisStore(b.redis, cfg.Session.RedisPrefix, cfg.Session.Retention)
	}

	// -------- ONE-TIME CODES --------
	codes, err := otp.NewService(b.redis, otp.Config{
		Digits:           cfg.OTP.Digits,
		TTL:              cfg.OTP.TTL,
		MaxAttempts:      cfg.OTP.MaxAttempts,
		Cooldown:         cfg.OTP.Cooldown,
		Prefix:           cfg.OTP.RedisPrefix,
		OperationTimeout: cfg.OTP.OperationTimeout,
	})
	if err != nil {
		return nil, err
	}
	sender := b.codeSender
	if sender == nil {
		sender = notify.NewLogSender(logger)
	}

	// -------- TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:     cfg,
		logger:     logger,
		directory:  directory,
		sessions:   store,
		cache:      cache,
		evaluator:  permission.NewEvaluator(registry, roles),
		registry:   registry,
		codes:      codes,
		codeSender: sender,
		identity:   b.identityVerf,
		jwtManager: jm,
	}
	engine.rateLimiter = rate.New(b.redis, rate.Config{
		EnableIPThrottle:      cfg.Security.EnableIPThrottle,
		MaxLoginAttempts:      cfg.Security.MaxLoginAttempts,
		LoginCooldownDuration: cfg.Security.LoginCooldownDuration,
		MaxCodeSends:          cfg.Security.MaxCodeSends,
		CodeSendWindow:        cfg.Security.CodeSendWindow,
		OperationTimeout:      cfg.Security.OperationTimeout,
	})
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled && b.auditSink != nil,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		Critical:   criticalAuditEvent,
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	b.built = true

	return engine, nil
}
