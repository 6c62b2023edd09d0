package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"kb/internal/port"
)

// RedisCache stores embedding vectors in Redis so several engine processes
// can share them. Failures are logged and treated as misses.
type RedisCache struct {
	client    redis.UniversalClient
	prefix    string
	ttl       time.Duration
	opTimeout time.Duration
	logger    *zap.Logger
}

// RedisConfig configures a RedisCache.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
	OpTimeout time.Duration
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return NewRedisCacheWithClient(client, cfg, logger), nil
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client redis.UniversalClient, cfg RedisConfig, logger *zap.Logger) *RedisCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 250 * time.Millisecond
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "kb:emb:"
	}
	return &RedisCache{
		client:    client,
		prefix:    cfg.KeyPrefix,
		ttl:       cfg.TTL,
		opTimeout: cfg.OpTimeout,
		logger:    logger,
	}
}

// Get returns the vector stored under key. Redis expires entries itself.
func (c *RedisCache) Get(key string) ([]float32, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opTimeout)
	defer cancel()

	data, err := c.client.Get(ctx, c.redisKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("embedding cache get failed", zap.Error(err))
		}
		return nil, false
	}
	vec, ok := decodeVector(data)
	if !ok {
		c.logger.Warn("discarding malformed cached vector", zap.Int("bytes", len(data)))
		return nil, false
	}
	return vec, true
}

// Set stores vector under key with the configured TTL.
func (c *RedisCache) Set(key string, vector []float32) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opTimeout)
	defer cancel()

	if err := c.client.Set(ctx, c.redisKey(key), encodeVector(vector), c.ttl).Err(); err != nil {
		c.logger.Warn("embedding cache set failed", zap.Error(err))
	}
}

// Invalidate deletes key.
func (c *RedisCache) Invalidate(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opTimeout)
	defer cancel()

	if err := c.client.Del(ctx, c.redisKey(key)).Err(); err != nil {
		c.logger.Warn("embedding cache invalidate failed", zap.Error(err))
	}
}

// Close releases the client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// redisKey hashes the model-qualified text so chunk content never ends up
// in a Redis key.
func (c *RedisCache) redisKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return c.prefix + hex.EncodeToString(sum[:])
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, bool) {
	if len(data)%4 != 0 {
		return nil, false
	}
	v := make([]float32, len(data)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return v, true
}

var _ port.EmbeddingCache = (*RedisCache)(nil)
