package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dexflow/engine/internal/model"
)

// OrderRow is the audit projection of an order: one row per order carrying
// the most recently committed state and, once confirmed, the settled output
// amount.
type OrderRow struct {
	ID           string              `gorm:"primaryKey;type:uuid"`
	UserID       string              `gorm:"type:uuid;index"`
	CurrentState string              `gorm:"type:varchar(20);not null;default:'queued'"`
	AmountOut    decimal.NullDecimal `gorm:"type:numeric"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableName maps OrderRow to the orders table.
func (OrderRow) TableName() string { return "orders" }

// OrderEventRow is one append-only entry in the order event log.
type OrderEventRow struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	OrderID   string    `gorm:"type:uuid;not null;index"`
	State     string    `gorm:"type:varchar(20);not null"`
	Details   string    `gorm:"type:jsonb"`
	EventTime time.Time `gorm:"not null"`
}

// TableName maps OrderEventRow to the order_events table.
func (OrderEventRow) TableName() string { return "order_events" }

// AuditSink persists each state event in a single transaction: append to the
// event log, advance the current_state projection, and on confirmation record
// the settled amount. Any step failing rolls the whole transaction back.
//
// The projection reconciles redelivered events by rank: a replayed event for
// a state at or below the committed one appends a log row but never moves
// current_state backwards.
type AuditSink struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewAuditSink creates an AuditSink over the given database handle.
func NewAuditSink(db *gorm.DB, logger *zap.Logger) *AuditSink {
	return &AuditSink{db: db, logger: logger}
}

// Name identifies the sink in logs and metrics.
func (s *AuditSink) Name() string { return "audit" }

// Migrate creates the audit tables. Intended for dev and test databases;
// production schemas are managed externally.
func (s *AuditSink) Migrate() error {
	return s.db.AutoMigrate(&OrderRow{}, &OrderEventRow{})
}

// Publish writes the event log row and projection update atomically.
func (s *AuditSink) Publish(ctx context.Context, ev model.StateEvent) error {
	detailsJSON, err := json.Marshal(ev.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		eventRow := OrderEventRow{
			OrderID:   ev.OrderID,
			State:     string(ev.State),
			Details:   string(detailsJSON),
			EventTime: ev.Timestamp,
		}
		if err := tx.Create(&eventRow).Error; err != nil {
			return fmt.Errorf("append order event: %w", err)
		}

		// Writes for one order are serialized by the publisher's single
		// drain goroutine; cross-instance exclusivity comes from the
		// per-order execution lock.
		var row OrderRow
		err := tx.Take(&row, "id = ?", ev.OrderID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			// Intake normally seeds the row; tolerate its absence so audit
			// never drops a lifecycle.
			row = OrderRow{ID: ev.OrderID, CurrentState: string(ev.State)}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("create order projection: %w", err)
			}
		case err != nil:
			return fmt.Errorf("load order projection: %w", err)
		default:
			if ev.State.Rank() >= model.OrderState(row.CurrentState).Rank() {
				if err := tx.Model(&row).
					Update("current_state", string(ev.State)).Error; err != nil {
					return fmt.Errorf("update order projection: %w", err)
				}
			}
		}

		if ev.State == model.StateConfirmed {
			if amount, ok := detailDecimal(ev.Details, "receivedAmount"); ok {
				if err := tx.Model(&OrderRow{}).
					Where("id = ?", ev.OrderID).
					Update("amount_out", amount).Error; err != nil {
					return fmt.Errorf("record settled amount: %w", err)
				}
			}
		}

		return nil
	})
}

func detailDecimal(details map[string]any, key string) (decimal.Decimal, bool) {
	raw, ok := details[key]
	if !ok {
		return decimal.Decimal{}, false
	}
	switch v := raw.(type) {
	case decimal.Decimal:
		return v, true
	case string:
		d, err := decimal.NewFromString(v)
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(v), true
	default:
		return decimal.Decimal{}, false
	}
}
