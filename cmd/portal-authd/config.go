package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/portalauth"
	"github.com/MrEthical07/portalauth/httpapi"
	"github.com/joho/godotenv"
)

type config struct {
	HTTPAddr        string
	MountPath       string
	ShutdownTimeout time.Duration
	LogLevel        string
	LogFormat       string

	RedisAddrs    []string
	RedisPassword string
	RedisDB       int

	MongoURI      string
	MongoDatabase string
	PrincipalColl string
	SessionStore  string
	SessionColl   string
	PolicyFile    string

	KafkaBrokers  []string
	KafkaTopic    string
	AuditTopic    string
	NotifyBuffer  int
	NotifyWorkers int

	IdentityIssuer   string
	IdentityAudience string
	IdentitySecret   []byte
	IdentityAutoLink bool
	IdentityVerified bool

	OTelMetrics bool
	MetricsPath string
	HealthPath  string

	Engine portalauth.Config
	HTTP   httpapi.Config
}

func loadConfig() (config, error) {
	_ = godotenv.Load()

	cfg := config{
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		MountPath:       getEnv("MOUNT_PATH", "/auth"),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "json"),

		RedisAddrs:    getList("REDIS_ADDRS", []string{"localhost:6379"}),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),

		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGO_DATABASE", "portal"),
		PrincipalColl: getEnv("MONGO_PRINCIPALS", "principals"),
		SessionStore:  strings.ToLower(getEnv("SESSION_STORE", "redis")),
		SessionColl:   getEnv("MONGO_SESSIONS", "refresh_sessions"),
		PolicyFile:    getEnv("POLICY_FILE", "policy.toml"),

		KafkaBrokers:  getList("KAFKA_BROKERS", nil),
		KafkaTopic:    getEnv("KAFKA_CODE_TOPIC", "portal.login-codes"),
		AuditTopic:    getEnv("KAFKA_AUDIT_TOPIC", ""),
		NotifyBuffer:  getInt("NOTIFY_BUFFER", 256),
		NotifyWorkers: getInt("NOTIFY_WORKERS", 2),

		IdentityIssuer:   getEnv("IDP_ISSUER", ""),
		IdentityAudience: getEnv("IDP_AUDIENCE", ""),
		IdentityAutoLink: getBool("IDP_AUTO_LINK", false),
		IdentityVerified: getBool("IDP_REQUIRE_EMAIL_VERIFIED", true),

		OTelMetrics: getBool("OTEL_METRICS", false),
		MetricsPath: getEnv("METRICS_PATH", "/metrics"),
		HealthPath:  getEnv("HEALTH_PATH", "/healthz"),
	}

	if cfg.SessionStore != "redis" && cfg.SessionStore != "mongo" {
		return config{}, fmt.Errorf("SESSION_STORE must be redis or mongo, got %q", cfg.SessionStore)
	}

	secret, err := getSecret("IDP_HMAC_SECRET")
	if err != nil {
		return config{}, err
	}
	cfg.IdentitySecret = secret

	engine := portalauth.DefaultConfig()
	engine.JWT.SigningMethod = getEnv("JWT_SIGNING_METHOD", engine.JWT.SigningMethod)
	engine.JWT.Issuer = getEnv("JWT_ISSUER", engine.JWT.Issuer)
	engine.JWT.Audience = getEnv("JWT_AUDIENCE", engine.JWT.Audience)
	engine.JWT.KeyID = getEnv("JWT_KEY_ID", engine.JWT.KeyID)
	engine.JWT.AccessTTL = getDuration("ACCESS_TTL", engine.JWT.AccessTTL)
	engine.JWT.RefreshTTL = getDuration("REFRESH_TTL", engine.JWT.RefreshTTL)
	if engine.JWT.PrivateKey, err = getKey("JWT_PRIVATE_KEY"); err != nil {
		return config{}, err
	}
	if engine.JWT.PublicKey, err = getKey("JWT_PUBLIC_KEY"); err != nil {
		return config{}, err
	}
	engine.Session.Retention = getDuration("SESSION_RETENTION", engine.Session.Retention)
	engine.OTP.TTL = getDuration("OTP_TTL", engine.OTP.TTL)
	engine.OTP.MaxAttempts = getInt("OTP_MAX_ATTEMPTS", engine.OTP.MaxAttempts)
	engine.Security.MaxLoginAttempts = getInt("LOGIN_MAX_ATTEMPTS", engine.Security.MaxLoginAttempts)
	engine.Security.LoginCooldownDuration = getDuration("LOGIN_COOLDOWN", engine.Security.LoginCooldownDuration)
	engine.External.AutoLinkByEmail = cfg.IdentityAutoLink
	engine.Metrics.EnableLatencyHistograms = getBool("LATENCY_HISTOGRAMS", true)
	if err := engine.Validate(); err != nil {
		return config{}, fmt.Errorf("engine config: %w", err)
	}
	cfg.Engine = engine

	api := httpapi.DefaultConfig()
	api.CookieName = getEnv("COOKIE_NAME", api.CookieName)
	api.CookiePath = cfg.MountPath
	api.CookieDomain = getEnv("COOKIE_DOMAIN", "")
	api.InsecureCookies = getBool("INSECURE_COOKIES", false)
	api.RequestsPerMinute = getInt("REQUESTS_PER_MINUTE", api.RequestsPerMinute)
	api.RequestTimeout = getDuration("REQUEST_TIMEOUT", api.RequestTimeout)
	if err := api.Validate(); err != nil {
		return config{}, fmt.Errorf("http config: %w", err)
	}
	cfg.HTTP = api

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

func getList(key string, def []string) []string {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getKey reads key material from KEY_FILE (PEM or raw bytes) or from KEY as
// base64.
func getKey(key string) ([]byte, error) {
	if path := getEnv(key+"_FILE", ""); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s_FILE: %w", key, err)
		}
		return b, nil
	}
	return getSecret(key)
}

func getSecret(key string) ([]byte, error) {
	v := getEnv(key, "")
	if v == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("%s must be base64: %w", key, err)
	}
	return b, nil
}
