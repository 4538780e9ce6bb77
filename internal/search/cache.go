package search

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/routewise-ai/routewise/internal/metrics"
)

// Cache stores a retrieval run's document set. Cache failures are soft: a
// miss is returned and the search runs live.
type Cache interface {
	Get(ctx context.Context, key string) ([]Document, bool)
	Put(ctx context.Context, key string, docs []Document)
}

// CacheKey derives a stable per-query key from the provider mode and the
// query text, so the same query reused in a different plan still hits and a
// provider change invalidates everything collected under the old set.
func CacheKey(mode, query string) string {
	h := sha1.Sum([]byte(mode + ":" + strings.ToLower(strings.TrimSpace(query))))
	return hex.EncodeToString(h[:])
}

// FileCache keeps one JSON file per entry under a directory; entry age is the
// file's mtime. Zero TTL means entries never expire.
type FileCache struct {
	dir    string
	ttl    time.Duration
	logger *zap.Logger
}

func NewFileCache(dir string, ttl time.Duration, logger *zap.Logger) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileCache{dir: dir, ttl: ttl, logger: logger}, nil
}

func (c *FileCache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}

func (c *FileCache) Get(ctx context.Context, key string) ([]Document, bool) {
	path := c.path(key)
	info, err := os.Stat(path)
	if err != nil {
		metrics.CacheMisses.Inc()
		return nil, false
	}
	if c.ttl > 0 && time.Since(info.ModTime()) > c.ttl {
		os.Remove(path)
		metrics.CacheMisses.Inc()
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		metrics.CacheMisses.Inc()
		return nil, false
	}
	var docs []Document
	if err := json.Unmarshal(data, &docs); err != nil {
		c.logger.Warn("Corrupt cache entry removed", zap.String("key", key))
		os.Remove(path)
		metrics.CacheMisses.Inc()
		return nil, false
	}
	metrics.CacheHits.Inc()
	return docs, true
}

func (c *FileCache) Put(ctx context.Context, key string, docs []Document) {
	data, err := json.Marshal(docs)
	if err != nil {
		return
	}
	tmp := c.path(key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		c.logger.Warn("Cache write failed", zap.Error(err))
		return
	}
	if err := os.Rename(tmp, c.path(key)); err != nil {
		c.logger.Warn("Cache rename failed", zap.Error(err))
		os.Remove(tmp)
	}
}

// RedisCache shares entries across instances.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisCache(addr string, ttl time.Duration, logger *zap.Logger) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
		logger: logger,
	}
}

func (c *RedisCache) keyName(key string) string {
	return "routewise:search:" + key
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]Document, bool) {
	data, err := c.client.Get(ctx, c.keyName(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("Redis cache read failed", zap.Error(err))
		}
		metrics.CacheMisses.Inc()
		return nil, false
	}
	var docs []Document
	if err := json.Unmarshal(data, &docs); err != nil {
		metrics.CacheMisses.Inc()
		return nil, false
	}
	metrics.CacheHits.Inc()
	return docs, true
}

func (c *RedisCache) Put(ctx context.Context, key string, docs []Document) {
	data, err := json.Marshal(docs)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.keyName(key), data, c.ttl).Err(); err != nil {
		c.logger.Warn("Redis cache write failed", zap.Error(err))
	}
}
