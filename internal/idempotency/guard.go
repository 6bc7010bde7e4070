package idempotency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Guard records keys that have already been processed.
type Guard interface {
	// Acquire claims key and reports true the first time it is seen.
	Acquire(ctx context.Context, key string) (bool, error)
	// Release forgets key so a failed attempt can be retried.
	Release(ctx context.Context, key string) error
}

// PaymentKey identifies one confirmation of one payment for one order.
func PaymentKey(orderID, paymentID string) string {
	return "verify:" + orderID + ":" + paymentID
}

type RedisGuard struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisGuard(client *redis.Client, prefix string, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisGuard{client: client, prefix: prefix, ttl: ttl}
}

func (g *RedisGuard) Acquire(ctx context.Context, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.prefix+key, time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire idempotency key: %w", err)
	}
	return ok, nil
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, g.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

// MemoryGuard keeps keys in process memory with the same expiry semantics
// as RedisGuard.
type MemoryGuard struct {
	mutex sync.Mutex
	keys  map[string]time.Time
	ttl   time.Duration
	now   func() time.Time
}

func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryGuard{keys: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

func (g *MemoryGuard) Acquire(ctx context.Context, key string) (bool, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	now := g.now()
	if exp, ok := g.keys[key]; ok && now.Before(exp) {
		return false, nil
	}
	g.keys[key] = now.Add(g.ttl)
	return true, nil
}

func (g *MemoryGuard) Release(ctx context.Context, key string) error {
	g.mutex.Lock()
	delete(g.keys, key)
	g.mutex.Unlock()
	return nil
}
