package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker provides short-lived per-order exclusivity. The queue substrate
// guarantees no deduplication, so two in-flight deliveries of the same order
// are possible; holding the order lock from before leaving queued until the
// terminal state keeps exactly one execution live per order.
type Locker interface {
	// Acquire takes the order lock, reporting false when another execution
	// holds it. The TTL bounds lock lifetime should the holder die.
	Acquire(ctx context.Context, orderID string, ttl time.Duration) (bool, error)

	// Release frees the lock if still held by this locker.
	Release(ctx context.Context, orderID string) error
}

func lockKey(orderID string) string { return "lock:order:" + orderID }

// releaseScript deletes the lock only when the stored token matches, so an
// expired lock reacquired by another process is never released by the
// original holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX EX and token-checked release.
type RedisLocker struct {
	rdb redis.UniversalClient

	mu     sync.Mutex
	tokens map[string]string
}

// NewRedisLocker creates a RedisLocker over the given connection.
func NewRedisLocker(rdb redis.UniversalClient) *RedisLocker {
	return &RedisLocker{rdb: rdb, tokens: make(map[string]string)}
}

// Acquire takes lock:order:<id> with SET NX.
func (l *RedisLocker) Acquire(ctx context.Context, orderID string, ttl time.Duration) (bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, lockKey(orderID), token, ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		l.mu.Lock()
		l.tokens[orderID] = token
		l.mu.Unlock()
	}
	return ok, nil
}

// Release frees the lock when this locker's token still owns it.
func (l *RedisLocker) Release(ctx context.Context, orderID string) error {
	l.mu.Lock()
	token, ok := l.tokens[orderID]
	delete(l.tokens, orderID)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	return releaseScript.Run(ctx, l.rdb, []string{lockKey(orderID)}, token).Err()
}

// MemoryLocker is an in-process Locker for tests and single-node runs.
type MemoryLocker struct {
	mu    sync.Mutex
	holds map[string]time.Time // orderID -> expiry
}

// NewMemoryLocker creates an empty MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{holds: make(map[string]time.Time)}
}

// Acquire takes the lock unless an unexpired hold exists.
func (l *MemoryLocker) Acquire(ctx context.Context, orderID string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if expiry, ok := l.holds[orderID]; ok && time.Now().Before(expiry) {
		return false, nil
	}
	l.holds[orderID] = time.Now().Add(ttl)
	return true, nil
}

// Release frees the lock.
func (l *MemoryLocker) Release(ctx context.Context, orderID string) error {
	l.mu.Lock()
	delete(l.holds, orderID)
	l.mu.Unlock()
	return nil
}
