// Package cache memoises expensive analysis results keyed by a request
// fingerprint.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores opaque values with a TTL
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Stats() Stats
}

// Stats counts cache traffic
type Stats struct {
	Backend string `json:"backend"`
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
	Sets    int64  `json:"sets"`
	Errors  int64  `json:"errors"`
	Evicted int64  `json:"evicted"`
}

// New returns a Redis cache when redisURL is set and a memory cache otherwise
func New(ctx context.Context, redisURL string, defaultTTL time.Duration) (Cache, error) {
	if redisURL == "" {
		return NewMemory(defaultTTL), nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedis(client, defaultTTL, 4096), nil
}

// Fingerprint derives a stable key from a namespace and request parts
func Fingerprint(namespace string, parts ...interface{}) (string, error) {
	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, p := range parts {
		if err := enc.Encode(p); err != nil {
			return "", fmt.Errorf("fingerprint %s: %w", namespace, err)
		}
	}
	return namespace + ":" + hex.EncodeToString(h.Sum(nil)), nil
}

// GetJSON decodes a cached value into out
func GetJSON(ctx context.Context, c Cache, key string, out interface{}) (bool, error) {
	data, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return true, nil
}

// SetJSON encodes value and stores it
func SetJSON(ctx context.Context, c Cache, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value for cache: %w", err)
	}
	return c.Set(ctx, key, data, ttl)
}

type memoryItem struct {
	data      []byte
	expiresAt time.Time
}

// DefaultMemoryItems caps the number of entries a Memory cache holds
const DefaultMemoryItems = 4096

// Memory is an in-process cache. Expired entries are dropped on read and
// swept on write; once maxItems is reached the entry closest to expiry
// is evicted.
type Memory struct {
	mu         sync.Mutex
	items      map[string]memoryItem
	defaultTTL time.Duration
	maxItems   int
	nextSweep  time.Time
	stats      Stats
	now        func() time.Time
}

// NewMemory creates an in-process cache holding at most DefaultMemoryItems
func NewMemory(defaultTTL time.Duration) *Memory {
	return NewMemorySize(defaultTTL, DefaultMemoryItems)
}

// NewMemorySize creates an in-process cache holding at most maxItems entries
func NewMemorySize(defaultTTL time.Duration, maxItems int) *Memory {
	if maxItems < 1 {
		maxItems = DefaultMemoryItems
	}
	return &Memory{
		items:      make(map[string]memoryItem),
		defaultTTL: defaultTTL,
		maxItems:   maxItems,
		stats:      Stats{Backend: "memory"},
		now:        time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[key]
	if !ok || !m.now().Before(item.expiresAt) {
		delete(m.items, key)
		m.stats.Misses++
		return nil, false, nil
	}
	m.stats.Hits++
	return item.data, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = m.defaultTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if !now.Before(m.nextSweep) {
		m.sweep(now)
	}
	if _, exists := m.items[key]; !exists && len(m.items) >= m.maxItems {
		m.sweep(now)
		if len(m.items) >= m.maxItems {
			m.evictOldest()
		}
	}
	m.items[key] = memoryItem{data: value, expiresAt: now.Add(ttl)}
	m.stats.Sets++
	return nil
}

// sweep drops expired entries; callers hold mu
func (m *Memory) sweep(now time.Time) {
	for k, item := range m.items {
		if !now.Before(item.expiresAt) {
			delete(m.items, k)
		}
	}
	m.nextSweep = now.Add(m.defaultTTL)
}

// evictOldest drops the entry closest to expiry; callers hold mu
func (m *Memory) evictOldest() {
	var (
		victim string
		first  time.Time
		found  bool
	)
	for k, item := range m.items {
		if !found || item.expiresAt.Before(first) {
			victim, first, found = k, item.expiresAt, true
		}
	}
	delete(m.items, victim)
	m.stats.Evicted++
}

// Len reports the number of entries currently held, expired or not
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *Memory) DeletePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.items {
		if strings.HasPrefix(k, prefix) {
			delete(m.items, k)
		}
	}
	return nil
}

func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
