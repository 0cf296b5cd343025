// Command portalauth-loadtest logs in a population of principals and then
// hammers the authorization gate and refresh rotation, printing latency
// quantiles and the engine's gate counters.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/MrEthical07/portalauth"
	"github.com/MrEthical07/portalauth/password"
	"github.com/MrEthical07/portalauth/permission"
	"github.com/MrEthical07/portalauth/principal"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const loadPassword = "load-test-password"

var fastArgon = password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

// session is one logged-in principal. Refresh holds mu across the call so
// every rotation presents the current secret.
type session struct {
	mu         sync.Mutex
	token      string
	credential string
}

func main() {
	var (
		sessions    = flag.Int("sessions", 2000, "number of principals to log in")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase (authorize + refresh)")
		redisAddr   = flag.String("redis-addr", os.Getenv("REDIS_ADDR"), "redis address; miniredis when empty")
		capability  = flag.String("capability", "notice:read", "capability checked by the authorize phase")
	)
	flag.Parse()
	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 {
		log.Fatal("sessions, concurrency and ops must be > 0")
	}

	client, stop, err := connect(*redisAddr)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer stop()

	ctx := context.Background()
	engine, err := buildEngine(ctx, client, *sessions)
	if err != nil {
		log.Fatalf("build engine: %v", err)
	}
	defer engine.Close()

	pool, err := loginAll(ctx, engine, *sessions)
	if err != nil {
		log.Fatal(err)
	}
	pick := func(r *rand.Rand) *session { return &pool[r.IntN(len(pool))] }

	authorize := runPhase("authorize", *ops, *concurrency, func(r *rand.Rand) error {
		s := pick(r)
		s.mu.Lock()
		token := s.token
		s.mu.Unlock()
		_, err := engine.Authorize(ctx, token, *capability)
		return err
	})

	refresh := runPhase("refresh", *ops, *concurrency, func(r *rand.Rand) error {
		s := pick(r)
		s.mu.Lock()
		defer s.mu.Unlock()
		res, err := engine.Refresh(ctx, s.credential)
		if err != nil {
			return err
		}
		cred, err := res.Credential.Encode()
		if err != nil {
			return err
		}
		s.credential, s.token = cred, res.AccessToken
		return nil
	})

	fmt.Println("---- results ----")
	fmt.Println(authorize)
	fmt.Println(refresh)

	c := engine.MetricsSnapshot().Counters
	fmt.Printf("gate: allowed=%d forbidden=%d cache_unavailable=%d replay=%d\n",
		c[portalauth.MetricGateAllowed],
		c[portalauth.MetricGateForbidden],
		c[portalauth.MetricCacheUnavailable],
		c[portalauth.MetricReplayDetected],
	)
}

func connect(addr string) (redis.UniversalClient, func(), error) {
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}, ContextTimeoutEnabled: true})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}
	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() { _ = client.Close(); mr.Close() }, nil
}

func buildEngine(ctx context.Context, client redis.UniversalClient, n int) (*portalauth.Engine, error) {
	cfg := portalauth.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("load-test-signing-secret-0123456789")
	cfg.Password = portalauth.PasswordConfig(fastArgon)
	cfg.Audit.Enabled = false
	cfg.Metrics.EnableLatencyHistograms = true

	hasher, err := password.NewHasher(fastArgon)
	if err != nil {
		return nil, err
	}
	hash, err := hasher.Hash(loadPassword)
	if err != nil {
		return nil, err
	}

	repo := principal.NewMemoryRepository()
	for i := range n {
		err := repo.Create(ctx, &principal.Principal{
			ID:           fmt.Sprintf("p-%d", i),
			Email:        emailFor(i),
			PasswordHash: hash,
			Roles:        []principal.Role{principal.RoleStudent},
			Status:       principal.StatusActive,
		})
		if err != nil {
			return nil, err
		}
	}

	return portalauth.New().
		WithConfig(cfg).
		WithRedis(client).
		WithPrincipalRepository(repo).
		WithPolicy(permission.Policy{
			Capabilities: []string{"notice:read", "notice:create"},
			Roles:        map[string][]string{"student": {"notice:read"}},
		}).
		Build()
}

func loginAll(ctx context.Context, engine *portalauth.Engine, n int) ([]session, error) {
	fmt.Printf("logging in %d principals...\n", n)
	start := time.Now()
	pool := make([]session, n)
	for i := range pool {
		res, err := engine.LoginPassword(ctx, emailFor(i), loadPassword)
		if err != nil {
			return nil, fmt.Errorf("login %d: %w", i, err)
		}
		cred, err := res.Credential.Encode()
		if err != nil {
			return nil, fmt.Errorf("encode credential %d: %w", i, err)
		}
		pool[i].token, pool[i].credential = res.AccessToken, cred
	}
	fmt.Printf("seeded in %s\n", time.Since(start).Round(time.Millisecond))
	return pool, nil
}

func emailFor(i int) string {
	return fmt.Sprintf("user%d@load.test", i)
}
