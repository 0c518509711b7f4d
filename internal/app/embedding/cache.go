package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/acilabs/toolcatalog/internal/app/metrics"
	"github.com/acilabs/toolcatalog/pkg/logger"
)

// ErrCacheMiss is returned by a Cache when no entry exists for the hash.
var ErrCacheMiss = errors.New("embedding not cached")

// Cache is content-addressed storage for embedding vectors. Keys are a hash
// of the model identifier and the embedded text, so a model change never
// serves stale vectors.
type Cache interface {
	Get(ctx context.Context, contentHash string) ([]float32, error)
	Put(ctx context.Context, contentHash string, vector []float32) error
}

// RedisCache stores vectors in Redis as JSON arrays.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

var _ Cache = (*RedisCache)(nil)

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, prefix: "embedding:"}
}

func (c *RedisCache) Get(ctx context.Context, contentHash string) ([]float32, error) {
	data, err := c.client.Get(ctx, c.prefix+contentHash).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	var vector []float32
	if err := json.Unmarshal(data, &vector); err != nil {
		return nil, fmt.Errorf("decode cached embedding: %w", err)
	}
	return vector, nil
}

func (c *RedisCache) Put(ctx context.Context, contentHash string, vector []float32) error {
	data, err := json.Marshal(vector)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+contentHash, data, c.ttl).Err()
}

// CachedProvider wraps a Provider with a Cache. Cache failures are logged
// and treated as misses so the provider path always works.
type CachedProvider struct {
	inner Provider
	cache Cache
	log   *logger.Logger
}

var _ Provider = (*CachedProvider)(nil)

func NewCachedProvider(inner Provider, cache Cache, log *logger.Logger) *CachedProvider {
	if log == nil {
		log = logger.NewDefault("embedding-cache")
	}
	return &CachedProvider{inner: inner, cache: cache, log: log}
}

func (p *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := contentHash(p.inner.Model(), text)
	vector, err := p.cache.Get(ctx, key)
	if err == nil {
		metrics.EmbeddingCacheHits.Inc()
		return vector, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		p.log.WithError(err).Warn("embedding cache read failed")
	}
	metrics.EmbeddingCacheMisses.Inc()

	vector, err = p.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := p.cache.Put(ctx, key, vector); err != nil {
		p.log.WithError(err).Warn("embedding cache write failed")
	}
	return vector, nil
}

func (p *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		v, err := p.cache.Get(ctx, contentHash(p.inner.Model(), text))
		if err == nil {
			metrics.EmbeddingCacheHits.Inc()
			vectors[i] = v
			continue
		}
		if !errors.Is(err, ErrCacheMiss) {
			p.log.WithError(err).Warn("embedding cache read failed")
		}
		metrics.EmbeddingCacheMisses.Inc()
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return vectors, nil
	}

	computed, err := p.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, v := range computed {
		i := missingIdx[j]
		vectors[i] = v
		if err := p.cache.Put(ctx, contentHash(p.inner.Model(), texts[i]), v); err != nil {
			p.log.WithError(err).Warn("embedding cache write failed")
		}
	}
	return vectors, nil
}

func (p *CachedProvider) Dimension() int { return p.inner.Dimension() }

func (p *CachedProvider) Model() string { return p.inner.Model() }

func contentHash(model, text string) string {
	h := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(h[:])
}
