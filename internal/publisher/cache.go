package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dexflow/engine/internal/model"
)

// CacheKey returns the Redis key holding the flat order record.
func CacheKey(orderID string) string { return "order:" + orderID }

// CacheSink maintains a fast-read projection of each order as a Redis hash
// under order:<orderId>, last-write-wins with the TTL refreshed on every
// write. Writes carrying a state below the one already cached are dropped so
// a redelivered lifecycle never regresses the visible status.
type CacheSink struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

// NewCacheSink creates a CacheSink. ttl <= 0 falls back to one hour.
func NewCacheSink(rdb redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *CacheSink {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CacheSink{rdb: rdb, ttl: ttl, logger: logger}
}

// Name identifies the sink in logs and metrics.
func (s *CacheSink) Name() string { return "cache" }

// Publish upserts the order record and refreshes its TTL.
func (s *CacheSink) Publish(ctx context.Context, ev model.StateEvent) error {
	key := CacheKey(ev.OrderID)

	current, err := s.rdb.HGet(ctx, key, "status").Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("read cached status: %w", err)
	}
	if err == nil && staleWrite(current, ev.State) {
		s.logger.Debug("stale state write skipped",
			zap.String("order_id", ev.OrderID),
			zap.String("cached", current),
			zap.String("incoming", string(ev.State)))
		return nil
	}

	fields := map[string]string{
		"status":    string(ev.State),
		"updatedAt": ev.Timestamp.Format(time.RFC3339Nano),
	}
	for k, v := range ev.Details {
		fields[k] = stringify(v)
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write order record: %w", err)
	}
	return nil
}

// staleWrite reports whether the cached status outranks the incoming state.
// A stale write is skipped outright: rewriting an equal or later state is
// what refreshes the record and its TTL, a regression never is.
func staleWrite(cached string, incoming model.OrderState) bool {
	return model.OrderState(cached).Rank() > incoming.Rank()
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case decimal.Decimal:
		return t.String()
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
