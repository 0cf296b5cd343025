package permission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/portalauth/principal"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrAbsent is returned when no entry is cached. The gate treats it as
	// "no session".
	ErrAbsent = errors.New("permission entry absent")
	// ErrInactive is returned by Build for principals that are not active.
	ErrInactive = errors.New("principal not active")
	// ErrUnavailable wraps Redis failures and timeouts.
	ErrUnavailable = errors.New("permission cache unavailable")
)

// Loader fetches the principal a cache entry is built from.
type Loader interface {
	FindByID(ctx context.Context, id string) (*principal.Principal, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, id string) (*principal.Principal, error)

func (f LoaderFunc) FindByID(ctx context.Context, id string) (*principal.Principal, error) {
	return f(ctx, id)
}

// CacheConfig bounds the cache. TTL must exceed the access-token lifetime so
// a valid token never outlives its entry.
type CacheConfig struct {
	Prefix           string
	TTL              time.Duration
	OperationTimeout time.Duration
	// LoadTimeout bounds the loader call in Build; zero means OperationTimeout.
	LoadTimeout time.Duration
}

// Cache stores Entries as JSON in Redis under {prefix}:{principalID}.
type Cache struct {
	redis  redis.UniversalClient
	loader Loader
	config CacheConfig
	now    func() time.Time
}

func NewCache(client redis.UniversalClient, loader Loader, cfg CacheConfig) (*Cache, error) {
	if client == nil {
		return nil, errors.New("permission cache requires redis client")
	}
	if loader == nil {
		return nil, errors.New("permission cache requires a loader")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("permission cache ttl must be > 0")
	}
	if cfg.OperationTimeout <= 0 {
		return nil, errors.New("permission cache operation timeout must be > 0")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "apc"
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = cfg.OperationTimeout
	}
	return &Cache{redis: client, loader: loader, config: cfg, now: time.Now}, nil
}

func (c *Cache) key(principalID string) string {
	return c.config.Prefix + ":" + principalID
}

// Build loads the principal and writes a fresh entry. A non-active principal
// is refused with ErrInactive and any existing entry is removed.
func (c *Cache) Build(ctx context.Context, principalID string) (*Entry, error) {
	p, err := c.load(ctx, principalID)
	if err != nil {
		if errors.Is(err, principal.ErrNotFound) {
			_ = c.Invalidate(ctx, principalID)
		}
		return nil, err
	}
	if !p.Active() {
		if err := c.Invalidate(ctx, principalID); err != nil {
			return nil, err
		}
		return nil, ErrInactive
	}

	entry := EntryFor(p, c.now())
	if err := c.Put(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (c *Cache) load(ctx context.Context, principalID string) (*principal.Principal, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.LoadTimeout)
	defer cancel()
	return c.loader.FindByID(ctx, principalID)
}

// Put writes e with the configured TTL.
func (c *Cache) Put(ctx context.Context, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.OperationTimeout)
	defer cancel()

	if err := c.redis.Set(ctx, c.key(e.PrincipalID), data, c.config.TTL).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get returns the cached entry, ErrAbsent when there is none, or
// ErrUnavailable when Redis cannot answer in time.
func (c *Cache) Get(ctx context.Context, principalID string) (*Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.OperationTimeout)
	defer cancel()

	data, err := c.redis.Get(ctx, c.key(principalID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrAbsent
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: corrupt entry: %v", ErrUnavailable, err)
	}
	if e.PrincipalID != principalID {
		return nil, fmt.Errorf("%w: entry principal mismatch", ErrUnavailable)
	}
	return &e, nil
}

// Invalidate removes the entry. Removing an absent entry is not an error.
func (c *Cache) Invalidate(ctx context.Context, principalID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.OperationTimeout)
	defer cancel()

	if err := c.redis.Del(ctx, c.key(principalID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
