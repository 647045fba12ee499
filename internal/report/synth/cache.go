package synth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Content is the model-written part of a draft.
type Content struct {
	Title           string   `json:"title"`
	Narrative       string   `json:"narrative"`
	Recommendations []string `json:"recommendations"`
}

// DraftCache memoises generated content per snapshot digest so a retried generation over
// the same feedback snapshot yields the same text, and therefore the same fingerprint.
type DraftCache interface {
	Get(ctx context.Context, digest string) (*Content, bool, error)
	Put(ctx context.Context, digest string, content Content) error
}

// MemoryCache is a process-local DraftCache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]Content
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]Content)}
}

func (c *MemoryCache) Get(_ context.Context, digest string) (*Content, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	content, ok := c.entries[digest]
	if !ok {
		return nil, false, nil
	}
	content.Recommendations = append([]string(nil), content.Recommendations...)
	return &content, true, nil
}

// Put keeps the first stored content for a digest.
func (c *MemoryCache) Put(_ context.Context, digest string, content Content) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[digest]; exists {
		return nil
	}
	content.Recommendations = append([]string(nil), content.Recommendations...)
	c.entries[digest] = content
	return nil
}

const redisKeyPrefix = "civicproof:draft:"

// RedisCache shares drafts across replicas.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisCache stores entries for ttl. Zero keeps them until evicted.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, digest string) (*Content, bool, error) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+digest).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get cached draft: %w", err)
	}
	var content Content
	if err := json.Unmarshal(raw, &content); err != nil {
		return nil, false, fmt.Errorf("decode cached draft: %w", err)
	}
	return &content, true, nil
}

// Put keeps the first stored content for a digest.
func (c *RedisCache) Put(ctx context.Context, digest string, content Content) error {
	raw, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	if err := c.client.SetNX(ctx, redisKeyPrefix+digest, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache draft: %w", err)
	}
	return nil
}
