package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateOrdering(t *testing.T) {
	assert.Less(t, StateQueued.Rank(), StateRouting.Rank())
	assert.Less(t, StateRouting.Rank(), StateBuilding.Rank())
	assert.Less(t, StateBuilding.Rank(), StateConfirmed.Rank())
	assert.Equal(t, StateConfirmed.Rank(), StateFailed.Rank())
	assert.Equal(t, -1, OrderState("settled").Rank())
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, StateConfirmed.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
	assert.False(t, StateQueued.IsTerminal())
	assert.False(t, StateRouting.IsTerminal())
	assert.False(t, StateBuilding.IsTerminal())
}

func TestCanTransition(t *testing.T) {
	// forward walk
	assert.True(t, CanTransition(StateQueued, StateRouting))
	assert.True(t, CanTransition(StateRouting, StateBuilding))
	assert.True(t, CanTransition(StateBuilding, StateConfirmed))

	// any non-terminal state may fail
	assert.True(t, CanTransition(StateQueued, StateFailed))
	assert.True(t, CanTransition(StateRouting, StateFailed))
	assert.True(t, CanTransition(StateBuilding, StateFailed))

	// no skips, no regressions
	assert.False(t, CanTransition(StateQueued, StateBuilding))
	assert.False(t, CanTransition(StateRouting, StateConfirmed))
	assert.False(t, CanTransition(StateBuilding, StateRouting))

	// terminal states are final
	assert.False(t, CanTransition(StateConfirmed, StateFailed))
	assert.False(t, CanTransition(StateFailed, StateRouting))
	assert.False(t, CanTransition(StateConfirmed, StateConfirmed))
}

func TestErrorClassification(t *testing.T) {
	transient := &TransientExecutionError{Venue: "RAYDIUM", Reason: "network RPC timeout"}
	assert.True(t, IsRetryable(transient))
	assert.True(t, IsRetryable(fmt.Errorf("settle: %w", transient)))

	slippage := &SlippageExceededError{
		QuotedRate:   decimal.NewFromInt(100),
		RealizedRate: decimal.NewFromInt(90),
		SlippageBps:  decimal.NewFromInt(1000),
		ToleranceBps: 100,
	}
	assert.False(t, IsRetryable(slippage))

	routing := &RoutingError{TokenIn: "USDC", TokenOut: "SOL", Reason: "no venue produced a usable quote"}
	assert.False(t, IsRetryable(routing))

	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestSinkWriteErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &SinkWriteError{Sink: "audit", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "audit")
}

func TestBroadcastPayloadShape(t *testing.T) {
	ev := NewStateEvent("ord-1", StateBuilding, map[string]any{
		"venue":      "RAYDIUM",
		"quotedRate": decimal.RequireFromString("99.5"),
	})
	payload, err := ev.BroadcastPayload()
	require.NoError(t, err)

	assert.Contains(t, string(payload), `"orderId":"ord-1"`)
	assert.Contains(t, string(payload), `"status":"building"`)
	assert.Contains(t, string(payload), `"venue":"RAYDIUM"`)
	assert.Contains(t, string(payload), `"timestamp"`)
}
