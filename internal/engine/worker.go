// Package engine drives swap orders through their execution lifecycle:
// queued -> routing -> building -> confirmed | failed. Each Execute call is
// an independent state machine invocation holding no cross-order state, so
// a pool can run many orders concurrently.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dexflow/engine/internal/metrics"
	"github.com/dexflow/engine/internal/model"
	"github.com/dexflow/engine/internal/retry"
	"github.com/dexflow/engine/internal/router"
)

// ErrDuplicateDelivery marks a redelivered task that was dropped because the
// order is already in flight or already reached a terminal state. The task
// should be acknowledged without further work.
var ErrDuplicateDelivery = errors.New("order already in flight or finalized")

// EventSink receives state events from the worker. The production
// implementation is the publisher's buffered channel, so emitting never
// blocks on sink I/O.
type EventSink interface {
	Emit(ev model.StateEvent)
}

// Worker executes one order at a time through the full lifecycle. It is the
// explicit execution context of the pipeline: constructed once, owning its
// router, retry policy, sinks handle, and lock; no package-level state.
type Worker struct {
	router  *router.Router
	policy  retry.Policy
	events  EventSink
	locks   Locker
	states  StateStore
	logger  *zap.Logger
	lockTTL time.Duration
}

// NewWorker builds a Worker. lockTTL bounds per-order exclusivity; it should
// comfortably exceed the longest possible execution.
func NewWorker(r *router.Router, policy retry.Policy, events EventSink, locks Locker, states StateStore, lockTTL time.Duration, logger *zap.Logger) *Worker {
	if policy.Retryable == nil {
		policy.Retryable = model.IsRetryable
	}
	if lockTTL <= 0 {
		lockTTL = 2 * time.Minute
	}
	return &Worker{
		router:  r,
		policy:  policy,
		events:  events,
		locks:   locks,
		states:  states,
		logger:  logger,
		lockTTL: lockTTL,
	}
}

// execution tracks one invocation's walk through the state enum, enforcing
// that states only advance and that exactly one terminal event is emitted.
type execution struct {
	worker *Worker
	task   model.OrderTask
	state  model.OrderState
}

func (e *execution) advance(to model.OrderState, details map[string]any) error {
	if !model.CanTransition(e.state, to) {
		return fmt.Errorf("illegal transition %s -> %s for order %s", e.state, to, e.task.OrderID)
	}
	e.state = to
	e.worker.events.Emit(model.NewStateEvent(e.task.OrderID, to, details))
	e.worker.logger.Info("order state change",
		zap.String("order_id", e.task.OrderID),
		zap.String("state", string(to)))
	return nil
}

// fail drives the order to its failed terminal state, carrying the error
// detail. Every error path inside Execute resolves through here exactly once.
func (e *execution) fail(cause error) {
	if err := e.advance(model.StateFailed, model.FailedDetails(cause)); err != nil {
		e.worker.logger.Error("could not record failure", zap.String("order_id", e.task.OrderID), zap.Error(err))
		return
	}
	metrics.OrdersExecuted.WithLabelValues(string(model.StateFailed)).Inc()
}

// Execute runs the order to a terminal state. It returns the execution
// result on confirmation, ErrDuplicateDelivery for dropped redeliveries, or
// the terminal error otherwise. In every non-duplicate case exactly one
// terminal state event has been emitted by the time Execute returns.
func (w *Worker) Execute(ctx context.Context, task model.OrderTask) (model.ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return model.ExecutionResult{}, err
	}

	if state, found, err := w.states.CurrentState(ctx, task.OrderID); err != nil {
		w.logger.Warn("state lookup failed, proceeding", zap.String("order_id", task.OrderID), zap.Error(err))
	} else if found && state.IsTerminal() {
		metrics.DuplicateDeliveries.Inc()
		w.logger.Info("dropping redelivered terminal order",
			zap.String("order_id", task.OrderID),
			zap.String("state", string(state)))
		return model.ExecutionResult{}, ErrDuplicateDelivery
	}

	acquired, err := w.locks.Acquire(ctx, task.OrderID, w.lockTTL)
	if err != nil {
		return model.ExecutionResult{}, fmt.Errorf("acquire order lock: %w", err)
	}
	if !acquired {
		metrics.DuplicateDeliveries.Inc()
		w.logger.Info("dropping concurrently delivered order", zap.String("order_id", task.OrderID))
		return model.ExecutionResult{}, ErrDuplicateDelivery
	}
	defer func() {
		if err := w.locks.Release(context.WithoutCancel(ctx), task.OrderID); err != nil {
			w.logger.Warn("order lock release failed", zap.String("order_id", task.OrderID), zap.Error(err))
		}
	}()

	started := time.Now()
	defer func() { metrics.ExecutionLatency.Observe(time.Since(started).Seconds()) }()

	exec := &execution{worker: w, task: task, state: model.StateQueued}

	if err := exec.advance(model.StateRouting, nil); err != nil {
		return model.ExecutionResult{}, err
	}
	best, quotes, err := w.router.Route(ctx, task.TokenIn, task.TokenOut, task.Amount)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			// interrupted, not failed: no terminal event, so a replayed
			// delivery can run the order to completion
			return model.ExecutionResult{}, cerr
		}
		exec.fail(err)
		return model.ExecutionResult{}, err
	}
	w.logger.Debug("quotes gathered",
		zap.String("order_id", task.OrderID),
		zap.Int("venues", len(quotes)),
		zap.String("best_venue", best.Venue))

	if err := exec.advance(model.StateBuilding, model.BuildingDetails(best)); err != nil {
		return model.ExecutionResult{}, err
	}

	venue, ok := w.router.Venue(best.Venue)
	if !ok {
		err := &model.RoutingError{TokenIn: task.TokenIn, TokenOut: task.TokenOut,
			Reason: fmt.Sprintf("winning venue %s not configured", best.Venue)}
		exec.fail(err)
		return model.ExecutionResult{}, err
	}

	policy := w.policy
	policy.OnRetry = func(error) {
		metrics.SettlementRetries.WithLabelValues(venue.Name).Inc()
	}

	var result model.ExecutionResult
	err = policy.Do(ctx, func(ctx context.Context) error {
		res, serr := venue.Settle(ctx, best, task.Amount, task.SlippageBps)
		if serr != nil {
			return serr
		}
		result = res
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return model.ExecutionResult{}, err
		}
		exec.fail(err)
		return model.ExecutionResult{}, err
	}

	if err := exec.advance(model.StateConfirmed, model.ConfirmedDetails(result)); err != nil {
		return model.ExecutionResult{}, err
	}
	metrics.OrdersExecuted.WithLabelValues(string(model.StateConfirmed)).Inc()
	return result, nil
}
