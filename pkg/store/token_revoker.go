package store

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenRevoker tracks revoked token IDs until expiry.
type TokenRevoker interface {
	Revoke(jti string, ttl time.Duration) error
	IsRevoked(jti string) (bool, error)
}

// MemoryTokenRevoker keeps revoked tokens in-memory (single instance only).
type MemoryTokenRevoker struct {
	mu     sync.Mutex
	tokens map[string]time.Time
	now    func() time.Time
}

func NewMemoryTokenRevoker() *MemoryTokenRevoker {
	return &MemoryTokenRevoker{
		tokens: make(map[string]time.Time),
		now:    time.Now,
	}
}

// Revoke marks a token as revoked until its expiry.
func (r *MemoryTokenRevoker) Revoke(jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for k, exp := range r.tokens {
		if now.After(exp) {
			delete(r.tokens, k)
		}
	}
	r.tokens[jti] = now.Add(ttl)
	return nil
}

func (r *MemoryTokenRevoker) IsRevoked(jti string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	expiry, ok := r.tokens[jti]
	if !ok {
		return false, nil
	}
	if r.now().After(expiry) {
		delete(r.tokens, jti)
		return false, nil
	}
	return true, nil
}

// RedisTokenRevoker stores revoked tokens in Redis with TTL.
type RedisTokenRevoker struct {
	client *redis.Client
	prefix string
}

// NewRedisTokenRevoker builds a Redis-backed revoker on a shared client.
func NewRedisTokenRevoker(client *redis.Client, prefix string) *RedisTokenRevoker {
	if prefix == "" {
		prefix = "jifou:revoked"
	}
	return &RedisTokenRevoker{client: client, prefix: prefix}
}

func (r *RedisTokenRevoker) Revoke(jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return r.client.Set(ctx, r.key(jti), "1", ttl).Err()
}

func (r *RedisTokenRevoker) IsRevoked(jti string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	res, err := r.client.Exists(ctx, r.key(jti)).Result()
	if err != nil {
		return false, err
	}
	return res > 0, nil
}

func (r *RedisTokenRevoker) key(jti string) string {
	return r.prefix + ":" + jti
}
