// Package publisher fans out order state events to the downstream sinks:
// the durable audit log, the TTL cache projection, and the pub/sub broadcast
// channels. Sinks are independent; one sink failing never blocks the others
// and never fails the order that produced the event.
package publisher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dexflow/engine/internal/metrics"
	"github.com/dexflow/engine/internal/model"
	"github.com/dexflow/engine/internal/retry"
)

// Sink consumes one state event. Implementations must tolerate replayed
// events for an order that already reached a terminal state: the log side may
// append a duplicate row, but a projection must never regress.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev model.StateEvent) error
}

// Publisher drains a bounded event channel on its own goroutine so the
// execution state machine never blocks on sink I/O. Within one order, events
// arrive on the channel in state-machine order and a single drain goroutine
// preserves that order at every sink.
type Publisher struct {
	sinks  []Sink
	logger *zap.Logger
	policy retry.Policy

	events chan model.StateEvent
	wg     sync.WaitGroup
	once   sync.Once
}

// New creates a Publisher over the given sinks.
func New(logger *zap.Logger, sinks ...Sink) *Publisher {
	return &Publisher{
		sinks:  sinks,
		logger: logger,
		policy: retry.Policy{
			MaxAttempts: 2,
			BaseDelay:   100 * time.Millisecond,
			MaxDelay:    time.Second,
			Retryable:   func(error) bool { return true },
			Logger:      logger,
		},
		events: make(chan model.StateEvent, 256),
	}
}

// sinkWriteTimeout bounds the fan-out of a single event so one stuck sink
// cannot stall the drain indefinitely.
const sinkWriteTimeout = 10 * time.Second

// Start launches the drain goroutine. Buffered events must reach the sinks
// even when ctx is a shutdown signal that has already fired, so the drain
// detaches from ctx cancellation and bounds each event's sink writes with
// its own timeout instead. Call Close to stop.
func (p *Publisher) Start(ctx context.Context) {
	base := context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for ev := range p.events {
			wctx, cancel := context.WithTimeout(base, sinkWriteTimeout)
			p.Dispatch(wctx, ev)
			cancel()
		}
	}()
}

// Emit hands one state event to the publisher. It blocks only when the
// buffer is full.
func (p *Publisher) Emit(ev model.StateEvent) {
	metrics.StateEventsPublished.WithLabelValues(string(ev.State)).Inc()
	p.events <- ev
}

// Dispatch pushes one event to every sink. Each sink write gets one bounded
// retry; failures are logged and counted independently and the event still
// reaches the remaining sinks.
func (p *Publisher) Dispatch(ctx context.Context, ev model.StateEvent) {
	for _, sink := range p.sinks {
		err := p.policy.Do(ctx, func(ctx context.Context) error {
			return sink.Publish(ctx, ev)
		})
		if err != nil {
			metrics.SinkWriteErrors.WithLabelValues(sink.Name()).Inc()
			werr := &model.SinkWriteError{Sink: sink.Name(), Err: err}
			p.logger.Error("sink write failed",
				zap.String("sink", sink.Name()),
				zap.String("order_id", ev.OrderID),
				zap.String("state", string(ev.State)),
				zap.Error(werr))
		}
	}
}

// Close stops accepting events and waits for the buffer to drain.
func (p *Publisher) Close() {
	p.once.Do(func() { close(p.events) })
	p.wg.Wait()
}
