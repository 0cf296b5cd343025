// Command portal-authd serves the portal's login, refresh and logout
// endpoints backed by Redis, MongoDB and Kafka.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MrEthical07/portalauth"
	"github.com/MrEthical07/portalauth/httpapi"
	"github.com/MrEthical07/portalauth/identity"
	otelexport "github.com/MrEthical07/portalauth/metrics/export/otel"
	promexport "github.com/MrEthical07/portalauth/metrics/export/prometheus"
	"github.com/MrEthical07/portalauth/notify"
	"github.com/MrEthical07/portalauth/permission"
	"github.com/MrEthical07/portalauth/principal"
	"github.com/MrEthical07/portalauth/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		_, _ = os.Stderr.WriteString("portal-authd: " + err.Error() + "\n")
		os.Exit(2)
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		_, _ = os.Stderr.WriteString("portal-authd: " + err.Error() + "\n")
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("portal-authd stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config, logger *zap.Logger) error {
	policy, err := permission.LoadPolicyFile(cfg.PolicyFile)
	if err != nil {
		return err
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:                 cfg.RedisAddrs,
		Password:              cfg.RedisPassword,
		DB:                    cfg.RedisDB,
		ContextTimeoutEnabled: true,
	})
	defer func() { _ = rdb.Close() }()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := rdb.Ping(startCtx).Err(); err != nil {
		return err
	}

	mc, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return err
	}
	defer func() {
		dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer dcancel()
		_ = mc.Disconnect(dctx)
	}()
	if err := mc.Ping(startCtx, nil); err != nil {
		return err
	}
	db := mc.Database(cfg.MongoDatabase)

	repo := principal.NewMongoRepository(db, cfg.PrincipalColl)
	if err := repo.EnsureIndexes(startCtx); err != nil {
		return err
	}

	auditSink := portalauth.MultiSink{portalauth.NewZapSink(logger)}
	if len(cfg.KafkaBrokers) > 0 && cfg.AuditTopic != "" {
		ks, err := portalauth.NewKafkaAuditSink(cfg.KafkaBrokers, cfg.AuditTopic, logger)
		if err != nil {
			return err
		}
		// Registered before the engine so it closes after the audit drain.
		defer func() { _ = ks.Close() }()
		auditSink = append(auditSink, ks)
	}

	builder := portalauth.New().
		WithConfig(cfg.Engine).
		WithRedis(rdb).
		WithPrincipalRepository(repo).
		WithPolicy(policy).
		WithLogger(logger).
		WithAuditSink(auditSink)

	if cfg.SessionStore == "mongo" {
		store := session.NewMongoStore(db, cfg.SessionColl)
		if err := store.EnsureIndexes(startCtx); err != nil {
			return err
		}
		builder = builder.WithSessionStore(store)
	}

	var downstream notify.Sender = notify.NewLogSender(logger)
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := notify.NewKafkaSender(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return err
		}
		defer func() { _ = kafka.Close() }()
		downstream = kafka
	}
	queue := notify.NewQueue(notify.QueueConfig{
		BufferSize: cfg.NotifyBuffer,
		Workers:    cfg.NotifyWorkers,
	}, downstream, logger)
	defer queue.Close()
	builder = builder.WithCodeSender(queue)

	if cfg.IdentityIssuer != "" {
		verifier, err := identity.NewJWTVerifier(identity.Config{
			Issuer:               cfg.IdentityIssuer,
			Audience:             cfg.IdentityAudience,
			HMACSecret:           cfg.IdentitySecret,
			Leeway:               30 * time.Second,
			RequireEmailVerified: cfg.IdentityVerified,
		})
		if err != nil {
			return err
		}
		builder = builder.WithIdentityVerifier(verifier)
	}

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		promexport.NewCollector(engine),
	)

	if cfg.OTelMetrics {
		exp, err := otelexport.NewExporter(otel.GetMeterProvider().Meter("github.com/MrEthical07/portalauth"), engine)
		if err != nil {
			return err
		}
		defer func() { _ = exp.Close() }()
	}

	api, err := httpapi.NewHandler(engine, cfg.HTTP, logger, reg)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.MountPath+"/", http.StripPrefix(cfg.MountPath, api))
	mux.Handle("GET "+cfg.MetricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("GET "+cfg.HealthPath, func(w http.ResponseWriter, r *http.Request) {
		hctx, hcancel := context.WithTimeout(r.Context(), time.Second)
		defer hcancel()
		if err := rdb.Ping(hctx).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.HTTP.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("portal-authd listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("mount", cfg.MountPath),
			zap.String("session_store", cfg.SessionStore),
			zap.Int("kafka_brokers", len(cfg.KafkaBrokers)),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("shutdown complete",
		zap.Uint64("codes_dropped", queue.Dropped()),
		zap.Uint64("codes_failed", queue.Failed()),
		zap.Uint64("audit_dropped", engine.AuditDropped()),
	)
	return nil
}

func newLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	if strings.EqualFold(format, "console") {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = lvl
	return zcfg.Build()
}
