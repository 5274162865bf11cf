package publisher

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/dexflow/engine/internal/model"
)

func testAuditSink(t *testing.T) (*AuditSink, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sink := NewAuditSink(db, zap.NewNop())
	require.NoError(t, sink.Migrate())
	return sink, db
}

func currentState(t *testing.T, db *gorm.DB, orderID string) string {
	t.Helper()
	var row OrderRow
	require.NoError(t, db.Take(&row, "id = ?", orderID).Error)
	return row.CurrentState
}

func eventCount(t *testing.T, db *gorm.DB, orderID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&OrderEventRow{}).Where("order_id = ?", orderID).Count(&n).Error)
	return n
}

const orderID = "a3e9f9a0-0000-4000-8000-000000000001"

func TestAuditPublishAppendsAndAdvancesProjection(t *testing.T) {
	sink, db := testAuditSink(t)
	ctx := context.Background()

	// intake seeds the projection row
	require.NoError(t, db.Create(&OrderRow{ID: orderID, UserID: orderID, CurrentState: "queued"}).Error)

	require.NoError(t, sink.Publish(ctx, model.NewStateEvent(orderID, model.StateRouting, nil)))
	assert.Equal(t, "routing", currentState(t, db, orderID))

	require.NoError(t, sink.Publish(ctx, model.NewStateEvent(orderID, model.StateBuilding, map[string]any{
		"venue": "RAYDIUM",
	})))
	assert.Equal(t, "building", currentState(t, db, orderID))
	assert.EqualValues(t, 2, eventCount(t, db, orderID))
}

func TestAuditConfirmedRecordsSettledAmount(t *testing.T) {
	sink, db := testAuditSink(t)
	ctx := context.Background()

	received := decimal.RequireFromString("0.0997")
	require.NoError(t, sink.Publish(ctx, model.NewStateEvent(orderID, model.StateConfirmed, map[string]any{
		"txHash":         "sig_raydium_deadbeef",
		"finalRate":      decimal.RequireFromString("0.00997"),
		"receivedAmount": received,
	})))

	var row OrderRow
	require.NoError(t, db.Take(&row, "id = ?", orderID).Error)
	assert.Equal(t, "confirmed", row.CurrentState)
	require.True(t, row.AmountOut.Valid)
	assert.True(t, row.AmountOut.Decimal.Equal(received))
}

func TestAuditProjectionNeverRegresses(t *testing.T) {
	sink, db := testAuditSink(t)
	ctx := context.Background()

	require.NoError(t, sink.Publish(ctx, model.NewStateEvent(orderID, model.StateConfirmed, map[string]any{
		"receivedAmount": decimal.RequireFromString("1.5"),
	})))
	assert.Equal(t, "confirmed", currentState(t, db, orderID))

	// a redelivered task replays earlier states: the log grows, the
	// projection holds
	require.NoError(t, sink.Publish(ctx, model.NewStateEvent(orderID, model.StateRouting, nil)))
	require.NoError(t, sink.Publish(ctx, model.NewStateEvent(orderID, model.StateBuilding, nil)))

	assert.Equal(t, "confirmed", currentState(t, db, orderID))
	assert.EqualValues(t, 3, eventCount(t, db, orderID))
}

func TestAuditTerminalReplayIsProjectionNoOp(t *testing.T) {
	sink, db := testAuditSink(t)
	ctx := context.Background()

	ev := model.NewStateEvent(orderID, model.StateConfirmed, map[string]any{
		"receivedAmount": decimal.RequireFromString("1.5"),
	})
	require.NoError(t, sink.Publish(ctx, ev))
	require.NoError(t, sink.Publish(ctx, ev))

	assert.Equal(t, "confirmed", currentState(t, db, orderID))
	assert.EqualValues(t, 2, eventCount(t, db, orderID), "log may carry duplicate rows")
}
