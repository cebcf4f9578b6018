package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shop-integrations-layer/internal/ports"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultKeyPrefix = "integrations:"

	scanBatch = 100
)

// RedisTokenCache stores tokens in Redis. Values are sealed with the encryption
// service so plaintext credentials never leave the process.
type RedisTokenCache struct {
	client redis.UniversalClient
	prefix string
	sealer ports.EncryptionService
}

var _ ports.TokenCache = (*RedisTokenCache)(nil)

// NewRedisTokenCache creates a Redis-backed token cache
func NewRedisTokenCache(client redis.UniversalClient, keyPrefix string, sealer ports.EncryptionService) (*RedisTokenCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if sealer == nil {
		return nil, fmt.Errorf("encryption service is required")
	}
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisTokenCache{client: client, prefix: keyPrefix + "token:", sealer: sealer}, nil
}

func (c *RedisTokenCache) Get(ctx context.Context, key string) (string, bool, error) {
	sealed, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read token cache: %w", err)
	}
	value, err := c.sealer.Decrypt(sealed)
	if err != nil {
		// unreadable after a key rotation; treat as a miss and drop it
		_ = c.client.Del(ctx, c.prefix+key).Err()
		return "", false, nil
	}
	return value, true, nil
}

func (c *RedisTokenCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	sealed, err := c.sealer.Encrypt(value)
	if err != nil {
		return fmt.Errorf("failed to seal cached token: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, sealed, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write token cache: %w", err)
	}
	return nil
}

// InvalidatePrefix scans and deletes matching keys before returning
func (c *RedisTokenCache) InvalidatePrefix(ctx context.Context, prefix string) error {
	pattern := c.prefix + escapeGlob(prefix) + "*"
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return fmt.Errorf("failed to scan token cache: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to invalidate token cache: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func escapeGlob(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

// RedisNonceStore marks nonces used with SET NX so single use holds across replicas
type RedisNonceStore struct {
	client redis.UniversalClient
	prefix string
}

var _ ports.NonceStore = (*RedisNonceStore)(nil)

// NewRedisNonceStore creates a Redis-backed nonce store
func NewRedisNonceStore(client redis.UniversalClient, keyPrefix string) (*RedisNonceStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisNonceStore{client: client, prefix: keyPrefix + "nonce:"}, nil
}

func (s *RedisNonceStore) UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	ttl := time.Until(expiry)
	if ttl < time.Second {
		ttl = time.Second
	}
	ok, err := s.client.SetNX(ctx, s.prefix+scope+":"+nonce, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record nonce: %w", err)
	}
	return ok, nil
}
