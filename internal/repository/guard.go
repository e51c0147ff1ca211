package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CreationGuard hands out short-lived claims on a key.  Claim returns true
// for exactly one caller per key until the window expires, even under
// concurrent calls.  Release drops a claim early, for when the guarded
// work failed or its result no longer exists.
type CreationGuard interface {
	Claim(ctx context.Context, key string, window time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// CreationKey identifies "the same form by the same owner": owner id plus
// a digest of the exact title.
func CreationKey(ownerID, title string) string {
	sum := sha256.Sum256([]byte(title))
	return "form-create:" + ownerID + ":" + hex.EncodeToString(sum[:])
}

// MemoryGuard is a process-local CreationGuard.
type MemoryGuard struct {
	mu     sync.Mutex
	claims map[string]time.Time // key -> expiry
	now    func() time.Time
}

// NewMemoryGuard returns an empty guard using the wall clock.
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{claims: map[string]time.Time{}, now: time.Now}
}

func (g *MemoryGuard) Claim(_ context.Context, key string, window time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	for k, exp := range g.claims {
		if !now.Before(exp) {
			delete(g.claims, k)
		}
	}
	if _, held := g.claims[key]; held {
		return false, nil
	}
	g.claims[key] = now.Add(window)
	return true, nil
}

func (g *MemoryGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	delete(g.claims, key)
	g.mu.Unlock()
	return nil
}

// RedisGuard claims keys with SET NX and the window as TTL, so the claim
// holds across every server instance sharing the Redis.  When Redis fails
// the claim is taken from a local MemoryGuard instead.
type RedisGuard struct {
	rdb      *redis.Client
	prefix   string
	fallback *MemoryGuard
	onError  func(error)
}

// NewRedisGuard wraps rdb.  onError, if non-nil, is told about Redis
// failures before falling back.
func NewRedisGuard(rdb *redis.Client, prefix string, onError func(error)) *RedisGuard {
	return &RedisGuard{rdb: rdb, prefix: prefix, fallback: NewMemoryGuard(), onError: onError}
}

func (g *RedisGuard) Claim(ctx context.Context, key string, window time.Duration) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, g.prefix+key, 1, window).Result()
	if err != nil {
		if g.onError != nil {
			g.onError(err)
		}
		return g.fallback.Claim(ctx, key, window)
	}
	return ok, nil
}

// Release deletes the key in Redis and in the fallback, since the claim may
// have been taken from either.
func (g *RedisGuard) Release(ctx context.Context, key string) error {
	_ = g.fallback.Release(ctx, key)
	if err := g.rdb.Del(ctx, g.prefix+key).Err(); err != nil {
		if g.onError != nil {
			g.onError(err)
		}
	}
	return nil
}
