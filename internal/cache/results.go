package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/voyageflow/voyageflow/internal/models"
)

// ResultCache is the scheduler-facing cache for finished request results
type ResultCache interface {
	// Get returns a cached result for a request fingerprint
	Get(ctx context.Context, fingerprint string) (*models.RequestResult, bool)

	// Set stores a result under a fingerprint with the given TTL
	Set(ctx context.Context, fingerprint string, result *models.RequestResult, ttl time.Duration) error

	// Len returns the number of live entries
	Len(ctx context.Context) int

	// HitRate returns the cache hit ratio since startup
	HitRate() float64

	// Close releases any backing connection
	Close() error
}

// MemoryResultCache keeps results in-process
type MemoryResultCache struct {
	store *Store[*models.RequestResult]
}

// NewMemoryResultCache creates an in-process result cache
func NewMemoryResultCache(defaultTTL time.Duration) *MemoryResultCache {
	return &MemoryResultCache{
		store: NewStore[*models.RequestResult](defaultTTL, 0),
	}
}

// Get returns a cached result for a request fingerprint
func (c *MemoryResultCache) Get(ctx context.Context, fingerprint string) (*models.RequestResult, bool) {
	return c.store.Get(fingerprint)
}

// Set stores a result under a fingerprint with the given TTL
func (c *MemoryResultCache) Set(ctx context.Context, fingerprint string, result *models.RequestResult, ttl time.Duration) error {
	c.store.SetTTL(fingerprint, result, ttl)
	return nil
}

// Len returns the number of live entries
func (c *MemoryResultCache) Len(ctx context.Context) int {
	return c.store.Len()
}

// HitRate returns the cache hit ratio since startup
func (c *MemoryResultCache) HitRate() float64 {
	return c.store.HitRate()
}

// Close is a no-op for the in-process cache
func (c *MemoryResultCache) Close() error {
	return nil
}

// Store exposes the underlying store for maintenance sweeps
func (c *MemoryResultCache) Store() *Store[*models.RequestResult] {
	return c.store
}

// RedisResultCache shares results across orchestrator instances.
// Expiry is delegated to Redis-native TTLs.
type RedisResultCache struct {
	client *redis.Client
	prefix string

	hits   atomic.Int64
	misses atomic.Int64
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisResultCache connects to Redis and verifies the connection
func NewRedisResultCache(config *RedisConfig) (*RedisResultCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisResultCache{
		client: client,
		prefix: "orchestrator:result:",
	}, nil
}

// Get returns a cached result for a request fingerprint
func (c *RedisResultCache) Get(ctx context.Context, fingerprint string) (*models.RequestResult, bool) {
	data, err := c.client.Get(ctx, c.prefix+fingerprint).Bytes()
	if err != nil {
		c.misses.Add(1)
		return nil, false
	}

	var result models.RequestResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return &result, true
}

// Set stores a result under a fingerprint with the given TTL
func (c *RedisResultCache) Set(ctx context.Context, fingerprint string, result *models.RequestResult, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := c.client.Set(ctx, c.prefix+fingerprint, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store result: %w", err)
	}
	return nil
}

// Len returns the number of live entries
func (c *RedisResultCache) Len(ctx context.Context) int {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
	count := 0
	for iter.Next(ctx) {
		count++
	}
	return count
}

// HitRate returns the cache hit ratio since startup
func (c *RedisResultCache) HitRate() float64 {
	hits := c.hits.Load()
	total := hits + c.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Close closes the Redis connection
func (c *RedisResultCache) Close() error {
	return c.client.Close()
}
