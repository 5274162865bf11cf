package engine

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/dexflow/engine/internal/model"
	"github.com/dexflow/engine/internal/publisher"
)

// StateStore answers "what is this order's last known state" for the
// redelivery guard: a task whose order already reached a terminal state is
// dropped without re-executing.
type StateStore interface {
	// CurrentState returns the order's last known state; found is false when
	// nothing is recorded (a fresh order).
	CurrentState(ctx context.Context, orderID string) (state model.OrderState, found bool, err error)
}

// RedisStateStore reads the cache sink's projection. The cache record
// carries a TTL, so a long-expired order reads as unknown; that only costs a
// redundant execution attempt, which the sinks already tolerate.
type RedisStateStore struct {
	rdb redis.UniversalClient
}

// NewRedisStateStore creates a RedisStateStore over the given connection.
func NewRedisStateStore(rdb redis.UniversalClient) *RedisStateStore {
	return &RedisStateStore{rdb: rdb}
}

// CurrentState reads the cached status field.
func (s *RedisStateStore) CurrentState(ctx context.Context, orderID string) (model.OrderState, bool, error) {
	status, err := s.rdb.HGet(ctx, publisher.CacheKey(orderID), "status").Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return model.OrderState(status), true, nil
}

// MemoryStateStore is an in-process StateStore for tests.
type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[string]model.OrderState
}

// NewMemoryStateStore creates an empty MemoryStateStore.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]model.OrderState)}
}

// Set records an order state.
func (s *MemoryStateStore) Set(orderID string, state model.OrderState) {
	s.mu.Lock()
	s.states[orderID] = state
	s.mu.Unlock()
}

// CurrentState returns the recorded state, if any.
func (s *MemoryStateStore) CurrentState(ctx context.Context, orderID string) (model.OrderState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[orderID]
	return state, ok, nil
}
