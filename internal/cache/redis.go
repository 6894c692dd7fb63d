// Package cache distributes active policies to Redis, where authentication
// frontends read them without calling the policy service.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/filipexyz/authpolicy/internal/domain"
)

// ErrMiss is returned when a cache key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Redis writes each active policy under its cache key with the policy's TTL,
// and keeps a set of active policy keys per type.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// New connects to the Redis instance at url and pings it.
func New(url string) (*Redis, error) {
	if url == "" {
		url = "redis://localhost:6379"
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &Redis{client: client, prefix: "authpolicy:"}, nil
}

func (r *Redis) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

func (r *Redis) indexKey(t domain.PolicyType) string {
	return r.prefix + "active:" + string(t)
}

// Put writes p under its cache key and adds it to the active index of its type.
func (r *Redis) Put(ctx context.Context, p *domain.AuthPolicy) error {
	if p.Integration.CacheKey == "" {
		return fmt.Errorf("policy %s has no cache key", p.ID)
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, p.Integration.CacheKey, payload, p.Integration.CacheTTL())
	pipe.SAdd(ctx, r.indexKey(p.Type), p.Integration.CacheKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("distribute policy: %w", err)
	}
	return nil
}

// Evict removes p from the cache and from the active index.
func (r *Redis) Evict(ctx context.Context, p *domain.AuthPolicy) error {
	if p.Integration.CacheKey == "" {
		return nil
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, p.Integration.CacheKey)
	pipe.SRem(ctx, r.indexKey(p.Type), p.Integration.CacheKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("evict policy: %w", err)
	}
	return nil
}

// Get reads one distributed policy.
func (r *Redis) Get(ctx context.Context, key string) (*domain.AuthPolicy, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	var p domain.AuthPolicy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	return &p, nil
}

// Active returns the distributed policies of type t. Index members whose
// entry has expired are pruned.
func (r *Redis) Active(ctx context.Context, t domain.PolicyType) ([]*domain.AuthPolicy, error) {
	keys, err := r.client.SMembers(ctx, r.indexKey(t)).Result()
	if err != nil {
		return nil, fmt.Errorf("read active index: %w", err)
	}
	out := make([]*domain.AuthPolicy, 0, len(keys))
	for _, k := range keys {
		p, err := r.Get(ctx, k)
		if errors.Is(err, ErrMiss) {
			r.client.SRem(ctx, r.indexKey(t), k)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Ping reports whether Redis is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
