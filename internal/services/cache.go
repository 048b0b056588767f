package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// EmbeddingCache keeps text-query vectors so repeated searches skip the
// model. Best-effort: a miss or backend hiccup just means one extra embed.
type EmbeddingCache interface {
	Get(ctx context.Context, text string) ([]float32, bool)
	Put(ctx context.Context, text string, vec []float32)
}

type CacheType string

const (
	CacheTypeMemory CacheType = "memory"
	CacheTypeRedis  CacheType = "redis"
)

var ErrInvalidCacheConfig = errors.New("invalid cache configuration")

type cacheConfig struct {
	redisClient *redis.Client
	redisTTL    time.Duration
	maxEntries  int
}

type CacheOption func(*cacheConfig)

func WithRedisClient(client *redis.Client) CacheOption {
	return func(c *cacheConfig) { c.redisClient = client }
}

func WithRedisTTL(ttl time.Duration) CacheOption {
	return func(c *cacheConfig) { c.redisTTL = ttl }
}

func WithMaxEntries(n int) CacheOption {
	return func(c *cacheConfig) { c.maxEntries = n }
}

// NewEmbeddingCache creates a cache of the given type. Redis requires
// WithRedisClient.
func NewEmbeddingCache(cacheType CacheType, opts ...CacheOption) (EmbeddingCache, error) {
	config := &cacheConfig{}
	for _, opt := range opts {
		opt(config)
	}

	switch cacheType {
	case CacheTypeMemory:
		maxEntries := config.maxEntries
		if maxEntries <= 0 {
			maxEntries = 1024
		}
		return &memoryCache{
			entries:    make(map[string][]float32),
			maxEntries: maxEntries,
		}, nil

	case CacheTypeRedis:
		if config.redisClient == nil {
			return nil, ErrInvalidCacheConfig
		}
		ttl := config.redisTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		return &redisCache{
			client: config.redisClient,
			ttl:    ttl,
			log:    logrus.WithField("component", "embedding-cache"),
		}, nil

	default:
		return nil, ErrInvalidCacheConfig
	}
}

type memoryCache struct {
	mu         sync.RWMutex
	entries    map[string][]float32
	maxEntries int
}

func (c *memoryCache) Get(_ context.Context, text string) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	vec, ok := c.entries[cacheKey(text)]
	return vec, ok
}

func (c *memoryCache) Put(_ context.Context, text string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Drop everything when full rather than tracking LRU order; query
	// embeddings are cheap to recompute.
	if len(c.entries) >= c.maxEntries {
		c.entries = make(map[string][]float32)
	}
	c.entries[cacheKey(text)] = vec
}

type redisCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *logrus.Entry
}

func (c *redisCache) Get(ctx context.Context, text string) ([]float32, bool) {
	data, err := c.client.Get(ctx, cacheKey(text)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.WithError(err).Debug("cache get failed")
		}
		return nil, false
	}

	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		return nil, false
	}
	return vec, true
}

func (c *redisCache) Put(ctx context.Context, text string, vec []float32) {
	data, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(text), data, c.ttl).Err(); err != nil {
		c.log.WithError(err).Debug("cache put failed")
	}
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "embed:" + hex.EncodeToString(sum[:])
}
