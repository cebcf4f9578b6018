// Package cache provides the token cache and the single-use nonce store,
// each backed either by process memory or by Redis.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"shop-integrations-layer/internal/ports"
)

type entry struct {
	value     string
	expiresAt time.Time
}

// MemoryTokenCache is an in-process TTL map
type MemoryTokenCache struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

var _ ports.TokenCache = (*MemoryTokenCache)(nil)

// NewMemoryTokenCache creates an empty cache
func NewMemoryTokenCache() *MemoryTokenCache {
	return &MemoryTokenCache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

func (c *MemoryTokenCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	if !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		if cur, still := c.entries[key]; still && cur.expiresAt == e.expiresAt {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return "", false, nil
	}
	return e.value, true, nil
}

func (c *MemoryTokenCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

func (c *MemoryTokenCache) InvalidatePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	return nil
}

// Sweep drops expired entries
func (c *MemoryTokenCache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, including expired ones not yet swept
func (c *MemoryTokenCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// MemoryNonceStore records used nonces until they expire
type MemoryNonceStore struct {
	mu      sync.Mutex
	used    map[string]time.Time
	now     func() time.Time
	inserts int
}

var _ ports.NonceStore = (*MemoryNonceStore)(nil)

// NewMemoryNonceStore creates an empty nonce store
func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{
		used: make(map[string]time.Time),
		now:  time.Now,
	}
}

func (s *MemoryNonceStore) UseNonce(_ context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	key := scope + ":" + nonce
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if exp, ok := s.used[key]; ok && now.Before(exp) {
		return false, nil
	}
	s.used[key] = expiry

	s.inserts++
	if s.inserts%256 == 0 {
		for k, exp := range s.used {
			if !now.Before(exp) {
				delete(s.used, k)
			}
		}
	}
	return true, nil
}

// JanitorInterval picks a sweep period for entries cached with ttl, never below a minute.
func JanitorInterval(ttl time.Duration) time.Duration {
	if ttl < time.Minute {
		return time.Minute
	}
	return ttl
}

// StartJanitor sweeps the cache every interval until ctx is done
func StartJanitor(ctx context.Context, c *MemoryTokenCache, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}
