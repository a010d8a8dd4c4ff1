package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis implements the cache on a Redis server with compression of large values
type Redis struct {
	client         redis.UniversalClient
	defaultTTL     time.Duration
	compressionMin int64 // Minimum size for compression
	keyPrefix      string

	// Statistics
	hits   int64
	misses int64
	sets   int64
	errors int64
}

// redisItem is the envelope stored under each key
type redisItem struct {
	Data       []byte    `json:"data"`
	Compressed bool      `json:"compressed"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewRedis creates a Redis-backed cache
func NewRedis(client redis.UniversalClient, defaultTTL time.Duration, compressionMin int64) *Redis {
	return &Redis{
		client:         client,
		defaultTTL:     defaultTTL,
		compressionMin: compressionMin,
		keyPrefix:      "analytics:cache:",
	}
}

func (c *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			atomic.AddInt64(&c.misses, 1)
			return nil, false, nil
		}
		atomic.AddInt64(&c.errors, 1)
		return nil, false, fmt.Errorf("failed to get from cache: %w", err)
	}

	var item redisItem
	if err := json.Unmarshal(data, &item); err != nil {
		atomic.AddInt64(&c.errors, 1)
		return nil, false, fmt.Errorf("failed to unmarshal cache item: %w", err)
	}
	value := item.Data
	if item.Compressed {
		if value, err = decompress(item.Data); err != nil {
			atomic.AddInt64(&c.errors, 1)
			return nil, false, fmt.Errorf("failed to decompress cache data: %w", err)
		}
	}

	atomic.AddInt64(&c.hits, 1)
	return value, true, nil
}

func (c *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	item := redisItem{Data: value, CreatedAt: time.Now()}
	if int64(len(value)) >= c.compressionMin {
		compressed, err := compress(value)
		if err != nil {
			atomic.AddInt64(&c.errors, 1)
			return fmt.Errorf("failed to compress cache data: %w", err)
		}
		item.Data, item.Compressed = compressed, true
	}

	itemData, err := json.Marshal(item)
	if err != nil {
		atomic.AddInt64(&c.errors, 1)
		return fmt.Errorf("failed to marshal cache item: %w", err)
	}
	if err := c.client.Set(ctx, c.keyPrefix+key, itemData, ttl).Err(); err != nil {
		atomic.AddInt64(&c.errors, 1)
		return fmt.Errorf("failed to set cache in Redis: %w", err)
	}

	atomic.AddInt64(&c.sets, 1)
	return nil
}

func (c *Redis) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.keyPrefix+key).Err(); err != nil {
		atomic.AddInt64(&c.errors, 1)
		return fmt.Errorf("failed to delete from cache: %w", err)
	}
	return nil
}

// DeletePrefix removes all keys starting with prefix
func (c *Redis) DeletePrefix(ctx context.Context, prefix string) error {
	var cursor uint64
	var keys []string
	for {
		batch, next, err := c.client.Scan(ctx, cursor, c.keyPrefix+prefix+"*", 100).Result()
		if err != nil {
			atomic.AddInt64(&c.errors, 1)
			return fmt.Errorf("failed to scan cache keys: %w", err)
		}
		keys = append(keys, batch...)
		if cursor = next; cursor == 0 {
			break
		}
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		atomic.AddInt64(&c.errors, 1)
		return fmt.Errorf("failed to delete cache keys: %w", err)
	}
	return nil
}

func (c *Redis) Stats() Stats {
	return Stats{
		Backend: "redis",
		Hits:    atomic.LoadInt64(&c.hits),
		Misses:  atomic.LoadInt64(&c.misses),
		Sets:    atomic.LoadInt64(&c.sets),
		Errors:  atomic.LoadInt64(&c.errors),
	}
}

// Close closes the Redis client
func (c *Redis) Close() error {
	return c.client.Close()
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
