package signing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// NonceCache answers whether a nonce has been seen within the replay window,
// recording it as a side effect when it has not.
type NonceCache interface {
	Seen(ctx context.Context, nonce string, now time.Time) (bool, error)
}

// memoryNonceCache is the process-local cache. Eviction runs on every check
// as a linear filter over the live set; the set is bounded by the window so
// this stays cheap. Check-and-insert is atomic under the mutex.
type memoryNonceCache struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
}

func NewMemoryNonceCache(window time.Duration) NonceCache {
	return &memoryNonceCache{window: window, seen: map[string]time.Time{}}
}

func (c *memoryNonceCache) Seen(_ context.Context, nonce string, now time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for n, ts := range c.seen {
		if now.Sub(ts) > c.window {
			delete(c.seen, n)
		}
	}
	if _, ok := c.seen[nonce]; ok {
		return true, nil
	}
	c.seen[nonce] = now
	return false, nil
}

// redisNonceCache shares the replay window across processes. SetNX with the
// window as TTL is the whole protocol: a failed set means replay.
type redisNonceCache struct {
	rdb    *redis.Client
	window time.Duration
}

func NewRedisNonceCache(rdb *redis.Client, window time.Duration) NonceCache {
	return &redisNonceCache{rdb: rdb, window: window}
}

func (c *redisNonceCache) Seen(ctx context.Context, nonce string, _ time.Time) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, "nonce:"+nonce, 1, c.window).Result()
	if err != nil {
		return false, fmt.Errorf("nonce cache: %w", err)
	}
	return !ok, nil
}
