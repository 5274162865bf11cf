package publisher

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dexflow/engine/internal/model"
)

// GlobalChannel is the firehose channel every state event is published to.
const GlobalChannel = "orders:all"

// OrderChannel returns the per-order pub/sub channel name.
func OrderChannel(orderID string) string { return "order:" + orderID }

// BroadcastSink publishes each state event to the order's dedicated channel
// and to the global firehose. Both channels receive the identical serialized
// payload. The publishing connection is distinct from subscriber-side
// connections so a slow subscriber never blocks publication.
type BroadcastSink struct {
	rdb    redis.UniversalClient
	logger *zap.Logger
}

// NewBroadcastSink creates a BroadcastSink over the publishing connection.
func NewBroadcastSink(rdb redis.UniversalClient, logger *zap.Logger) *BroadcastSink {
	return &BroadcastSink{rdb: rdb, logger: logger}
}

// Name identifies the sink in logs and metrics.
func (s *BroadcastSink) Name() string { return "broadcast" }

// Publish sends the event to both channels; a failure on one channel does
// not prevent the other from being attempted.
func (s *BroadcastSink) Publish(ctx context.Context, ev model.StateEvent) error {
	payload, err := ev.BroadcastPayload()
	if err != nil {
		return fmt.Errorf("serialize broadcast payload: %w", err)
	}

	var errs []error
	for _, channel := range []string{OrderChannel(ev.OrderID), GlobalChannel} {
		if err := s.rdb.Publish(ctx, channel, payload).Err(); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", channel, err))
		}
	}
	return errors.Join(errs...)
}
