package orderqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dexflow/engine/internal/model"
)

const (
	queueKey      = "queue:orders"
	processingKey = "queue:orders:processing"

	// pollTimeout bounds each blocking pop so context cancellation is
	// observed promptly.
	pollTimeout = time.Second
)

// RedisQueue is a Redis-list-backed at-least-once queue: tasks are pushed to
// a pending list, atomically moved to a processing list on dequeue, and
// removed only on acknowledge. Tasks stranded in the processing list survive
// consumer crashes and are recovered by ReplayPending on startup.
type RedisQueue struct {
	rdb    redis.UniversalClient
	logger *zap.Logger

	mu       sync.Mutex
	inflight map[string]string // orderID -> raw payload, for LREM on ack
}

// NewRedisQueue creates a RedisQueue over the given connection.
func NewRedisQueue(rdb redis.UniversalClient, logger *zap.Logger) *RedisQueue {
	return &RedisQueue{
		rdb:      rdb,
		logger:   logger,
		inflight: make(map[string]string),
	}
}

// Enqueue pushes the serialized task onto the pending list.
func (q *RedisQueue) Enqueue(ctx context.Context, task model.OrderTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := q.rdb.LPush(ctx, queueKey, payload).Err(); err != nil {
		return fmt.Errorf("enqueue order %s: %w", task.OrderID, err)
	}
	return nil
}

// Dequeue atomically moves the next task to the processing list and returns
// it, blocking until one is available or ctx ends.
func (q *RedisQueue) Dequeue(ctx context.Context) (model.OrderTask, error) {
	for {
		if err := ctx.Err(); err != nil {
			return model.OrderTask{}, err
		}

		raw, err := q.rdb.BLMove(ctx, queueKey, processingKey, "RIGHT", "LEFT", pollTimeout).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return model.OrderTask{}, fmt.Errorf("dequeue: %w", err)
		}

		var task model.OrderTask
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			// A malformed payload can never succeed; drop it rather than
			// poison the processing list.
			q.logger.Error("dropping malformed task payload", zap.Error(err))
			q.rdb.LRem(ctx, processingKey, 1, raw)
			continue
		}

		q.mu.Lock()
		q.inflight[task.OrderID] = raw
		q.mu.Unlock()
		return task, nil
	}
}

// Acknowledge removes the task's payload from the processing list.
func (q *RedisQueue) Acknowledge(ctx context.Context, orderID string) error {
	q.mu.Lock()
	raw, ok := q.inflight[orderID]
	delete(q.inflight, orderID)
	q.mu.Unlock()
	if !ok {
		return nil
	}
	if err := q.rdb.LRem(ctx, processingKey, 1, raw).Err(); err != nil {
		return fmt.Errorf("acknowledge order %s: %w", orderID, err)
	}
	return nil
}

// ReplayPending drains the processing list back onto the pending list.
// Call on startup, before consumers run, to recover tasks a previous
// process left in flight.
func (q *RedisQueue) ReplayPending(ctx context.Context) (int, error) {
	stranded, err := q.rdb.LLen(ctx, processingKey).Result()
	if err != nil {
		return 0, fmt.Errorf("inspect processing list: %w", err)
	}
	recovered := 0
	for i := int64(0); i < stranded; i++ {
		if err := q.rdb.LMove(ctx, processingKey, queueKey, "RIGHT", "LEFT").Err(); err != nil {
			if err == redis.Nil {
				break
			}
			return recovered, fmt.Errorf("recover stranded task: %w", err)
		}
		recovered++
	}
	if recovered > 0 {
		q.logger.Info("recovered stranded tasks", zap.Int("count", recovered))
	}
	return recovered, nil
}

// Shutdown releases in-flight tracking. The Redis connection is owned by the
// caller and is not closed here.
func (q *RedisQueue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.inflight = make(map[string]string)
	q.mu.Unlock()
	return nil
}
