package orderqueue

import (
	"context"
	"sync"

	"github.com/dexflow/engine/internal/model"
)

// MemoryQueue is an in-process Queue with the same at-least-once contract as
// RedisQueue. Used in tests and single-process deployments.
type MemoryQueue struct {
	tasks chan model.OrderTask

	mu       sync.Mutex
	inflight map[string]model.OrderTask
	closed   bool
}

// NewMemoryQueue creates a MemoryQueue with the given buffer capacity.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryQueue{
		tasks:    make(chan model.OrderTask, capacity),
		inflight: make(map[string]model.OrderTask),
	}
}

// Enqueue adds a task to the buffer.
func (q *MemoryQueue) Enqueue(ctx context.Context, task model.OrderTask) error {
	select {
	case q.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue blocks for the next task and tracks it in-flight.
func (q *MemoryQueue) Dequeue(ctx context.Context) (model.OrderTask, error) {
	select {
	case task := <-q.tasks:
		q.mu.Lock()
		q.inflight[task.OrderID] = task
		q.mu.Unlock()
		return task, nil
	case <-ctx.Done():
		return model.OrderTask{}, ctx.Err()
	}
}

// Acknowledge drops the task from in-flight tracking.
func (q *MemoryQueue) Acknowledge(ctx context.Context, orderID string) error {
	q.mu.Lock()
	delete(q.inflight, orderID)
	q.mu.Unlock()
	return nil
}

// ReplayPending requeues everything still tracked as in-flight.
func (q *MemoryQueue) ReplayPending(ctx context.Context) (int, error) {
	q.mu.Lock()
	pending := make([]model.OrderTask, 0, len(q.inflight))
	for _, task := range q.inflight {
		pending = append(pending, task)
	}
	q.inflight = make(map[string]model.OrderTask)
	q.mu.Unlock()

	for _, task := range pending {
		if err := q.Enqueue(ctx, task); err != nil {
			return 0, err
		}
	}
	return len(pending), nil
}

// Shutdown marks the queue closed.
func (q *MemoryQueue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return nil
}
