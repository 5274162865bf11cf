// Package model defines the core domain types shared across the swap
// execution pipeline: order tasks, venue quotes, execution results, and the
// order lifecycle state events propagated to downstream sinks.
package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// OrderTask is the unit of work describing one requested swap. It is created
// by the intake layer and consumed by exactly one logical execution; the
// queue substrate may redeliver it, so downstream effects must tolerate
// replay.
type OrderTask struct {
	OrderID     string          `json:"orderId"`
	TokenIn     string          `json:"tokenIn"`
	TokenOut    string          `json:"tokenOut"`
	Amount      decimal.Decimal `json:"amount"`
	SlippageBps int64           `json:"slippageBps"`
	UserID      string          `json:"userId"`
}

// Quote is a priced offer from a single venue for one routing attempt.
type Quote struct {
	Venue       string          `json:"venue"`
	Rate        decimal.Decimal `json:"rate"`
	PriceImpact decimal.Decimal `json:"priceImpact"`
	Fee         decimal.Decimal `json:"fee"`
	PoolID      string          `json:"poolId"`
}

// ExecutionResult is produced once per successfully settled trade.
type ExecutionResult struct {
	Signature      string          `json:"signature"`
	FinalRate      decimal.Decimal `json:"finalRate"`
	ReceivedAmount decimal.Decimal `json:"receivedAmount"`
}

// StateEvent records one order lifecycle transition. Events are append-only;
// the terminal state for an order is emitted exactly once per execution.
type StateEvent struct {
	OrderID   string         `json:"orderId"`
	State     OrderState     `json:"state"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewStateEvent builds a StateEvent for a transition. It is a pure function
// of its inputs apart from the timestamp; sink fan-out happens elsewhere.
func NewStateEvent(orderID string, state OrderState, details map[string]any) StateEvent {
	return StateEvent{
		OrderID:   orderID,
		State:     state,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
}

// BroadcastPayload serializes the event into the wire shape published to the
// per-order and global pub/sub channels: a flat JSON object carrying the
// order id, status, the state-dependent details, and a millisecond timestamp.
// Both channels receive these bytes verbatim.
func (ev StateEvent) BroadcastPayload() ([]byte, error) {
	payload := make(map[string]any, len(ev.Details)+3)
	for k, v := range ev.Details {
		payload[k] = v
	}
	payload["orderId"] = ev.OrderID
	payload["status"] = ev.State
	payload["timestamp"] = ev.Timestamp.UnixMilli()
	return json.Marshal(payload)
}

// BuildingDetails is the detail payload for the building state.
func BuildingDetails(q Quote) map[string]any {
	return map[string]any{
		"venue":       q.Venue,
		"quotedRate":  q.Rate,
		"priceImpact": q.PriceImpact,
	}
}

// ConfirmedDetails is the detail payload for the confirmed state.
func ConfirmedDetails(res ExecutionResult) map[string]any {
	return map[string]any{
		"txHash":         res.Signature,
		"finalRate":      res.FinalRate,
		"receivedAmount": res.ReceivedAmount,
	}
}

// FailedDetails is the detail payload for the failed state.
func FailedDetails(err error) map[string]any {
	return map[string]any{"error": err.Error()}
}
