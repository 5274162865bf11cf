package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dexflow/engine/internal/orderqueue"
)

// Pool runs a bounded set of consumers over the order queue. Every consumer
// loops dequeue -> execute -> acknowledge; concurrency is capped by Size, and
// errors inside an execution resolve to the order's failed state, never to a
// crashed consumer.
type Pool struct {
	queue       orderqueue.Queue
	worker      *Worker
	size        int
	execTimeout time.Duration
	logger      *zap.Logger

	wg sync.WaitGroup
}

// NewPool creates a Pool. size defaults to 8 consumers; execTimeout bounds a
// single order execution end to end. An execution cut off mid-flight, by the
// timeout or by shutdown, emits no terminal state and stays unacknowledged
// so the queue replays it.
func NewPool(queue orderqueue.Queue, worker *Worker, size int, execTimeout time.Duration, logger *zap.Logger) *Pool {
	if size <= 0 {
		size = 8
	}
	if execTimeout <= 0 {
		execTimeout = time.Minute
	}
	return &Pool{
		queue:       queue,
		worker:      worker,
		size:        size,
		execTimeout: execTimeout,
		logger:      logger,
	}
}

// Start launches the consumers. They run until ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.consume(ctx, id)
		}(i)
	}
}

// Wait blocks until all consumers have exited.
func (p *Pool) Wait() { p.wg.Wait() }

// dequeueRetryDelay throttles the consume loop while the queue backend is
// unreachable.
const dequeueRetryDelay = 500 * time.Millisecond

func (p *Pool) consume(ctx context.Context, id int) {
	log := p.logger.With(zap.Int("consumer", id))
	for {
		task, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(dequeueRetryDelay):
			}
			continue
		}

		execCtx, cancel := context.WithTimeout(ctx, p.execTimeout)
		_, err = p.worker.Execute(execCtx, task)
		cancel()

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// interrupted mid-flight with no terminal state: leave the
			// task unacknowledged so ReplayPending redelivers it
			log.Warn("execution interrupted, task left for replay",
				zap.String("order_id", task.OrderID), zap.Error(err))
			if ctx.Err() != nil {
				return
			}
			continue
		}

		switch {
		case err == nil:
			// confirmed
		case errors.Is(err, ErrDuplicateDelivery):
			// already handled elsewhere; just ack
		default:
			// terminal failure already recorded as a failed state event
			log.Debug("order failed", zap.String("order_id", task.OrderID), zap.Error(err))
		}

		// Acknowledge every order that reached a terminal state: a failed
		// order must not be redelivered as an internal retry.
		if err := p.queue.Acknowledge(context.WithoutCancel(ctx), task.OrderID); err != nil {
			log.Error("acknowledge failed", zap.String("order_id", task.OrderID), zap.Error(err))
		}

		if ctx.Err() != nil {
			return
		}
	}
}
