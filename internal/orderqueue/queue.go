// Package orderqueue provides the at-least-once task queue the execution
// pool consumes from. Delivery is at-least-once with no deduplication:
// a task may be redelivered after a crash, and consumers must tolerate
// replays (the engine guards with a per-order lock and terminal-state
// checks).
package orderqueue

import (
	"context"

	"github.com/dexflow/engine/internal/model"
)

// Queue is the interface between intake and the execution pool.
type Queue interface {
	// Enqueue adds a task to the queue.
	Enqueue(ctx context.Context, task model.OrderTask) error

	// Dequeue blocks until a task is available or the context ends. The
	// returned task stays tracked as in-flight until Acknowledge.
	Dequeue(ctx context.Context) (model.OrderTask, error)

	// Acknowledge marks the task as processed, removing it from in-flight
	// tracking. Unacknowledged tasks are redelivered by ReplayPending.
	Acknowledge(ctx context.Context, orderID string) error

	// ReplayPending moves tasks stranded in-flight (by a crashed consumer)
	// back onto the queue and returns how many were recovered.
	ReplayPending(ctx context.Context) (int, error)

	// Shutdown stops the queue, letting in-flight operations finish.
	Shutdown(ctx context.Context) error
}
