package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dexflow/engine/internal/model"
	"github.com/dexflow/engine/internal/retry"
	"github.com/dexflow/engine/internal/router"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testLogger() *zap.Logger { return zap.NewNop() }

// captureSink records emitted state events for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []model.StateEvent
}

func (c *captureSink) Emit(ev model.StateEvent) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *captureSink) states() []model.OrderState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.OrderState, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.State
	}
	return out
}

func (c *captureSink) last() model.StateEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[len(c.events)-1]
}

// fakeSim is a deterministic strategy: fixed latencies (zero by default),
// scripted faults, fixed drift, counting settlement attempts.
type fakeSim struct {
	settleLat   time.Duration
	faultsLeft  int32
	fault       string
	drift       decimal.Decimal
	settleCalls int32
}

func (f *fakeSim) QuoteLatency() time.Duration  { return 0 }
func (f *fakeSim) SettleLatency() time.Duration { return f.settleLat }

func (f *fakeSim) SettlementFault() (string, bool) {
	atomic.AddInt32(&f.settleCalls, 1)
	if atomic.AddInt32(&f.faultsLeft, -1) >= 0 {
		return f.fault, true
	}
	return "", false
}

func (f *fakeSim) RealizedRate(quoted decimal.Decimal) decimal.Decimal {
	if f.drift.IsZero() {
		return quoted
	}
	return quoted.Mul(f.drift)
}

func (f *fakeSim) attempts() int { return int(atomic.LoadInt32(&f.settleCalls)) }

func testVenues(sim *fakeSim) []*router.Venue {
	pools := map[string]router.PoolReserves{
		"USDC-SOL": {ReserveIn: d("1000000"), ReserveOut: d("10000")},
	}
	shallowPools := map[string]router.PoolReserves{
		"USDC-SOL": {ReserveIn: d("500000"), ReserveOut: d("5000")},
	}
	defaults := router.PoolReserves{ReserveIn: d("1000000"), ReserveOut: d("1000000")}
	return []*router.Venue{
		router.NewVenue(router.VenueParams{
			Name: "RAYDIUM", FeeRate: d("0.003"), Pools: pools,
			DefaultReserves: defaults, Latency: sim, Faults: sim, Drift: sim,
		}),
		router.NewVenue(router.VenueParams{
			Name: "METEORA", FeeRate: d("0.002"), Pools: shallowPools,
			DefaultReserves: defaults, Latency: sim, Faults: sim, Drift: sim,
		}),
	}
}

func newTestWorker(t *testing.T, venues []*router.Venue, events EventSink) (*Worker, *MemoryStateStore) {
	t.Helper()
	states := NewMemoryStateStore()
	policy := retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    4 * time.Millisecond,
		Exponential: true,
		Logger:      zap.NewNop(),
	}
	w := NewWorker(
		router.New(venues, zap.NewNop()),
		policy,
		events,
		NewMemoryLocker(),
		states,
		time.Minute,
		zap.NewNop(),
	)
	return w, states
}

func task(orderID string) model.OrderTask {
	return model.OrderTask{
		OrderID:     orderID,
		TokenIn:     "USDC",
		TokenOut:    "SOL",
		Amount:      d("10"),
		SlippageBps: 100,
		UserID:      "user-1",
	}
}

func TestExecuteConfirmedEndToEnd(t *testing.T) {
	sim := &fakeSim{}
	sink := &captureSink{}
	w, _ := newTestWorker(t, testVenues(sim), sink)

	res, err := w.Execute(context.Background(), task("ord-1"))
	require.NoError(t, err)

	assert.Equal(t,
		[]model.OrderState{model.StateRouting, model.StateBuilding, model.StateConfirmed},
		sink.states())

	confirmed := sink.last()
	assert.Equal(t, res.Signature, confirmed.Details["txHash"])
	assert.True(t, res.ReceivedAmount.Equal(d("10").Mul(res.FinalRate)))

	// the deeper RAYDIUM pool must win the route
	building := sink.events[1]
	assert.Equal(t, "RAYDIUM", building.Details["venue"])
}

func TestExecuteSlippageBreachFailsWithoutRetry(t *testing.T) {
	sim := &fakeSim{drift: d("0.98")} // 200bps against a 100bps tolerance
	sink := &captureSink{}
	w, _ := newTestWorker(t, testVenues(sim), sink)

	_, err := w.Execute(context.Background(), task("ord-2"))
	var slippageErr *model.SlippageExceededError
	require.ErrorAs(t, err, &slippageErr)

	assert.Equal(t, 1, sim.attempts(), "slippage breach must not be retried")
	assert.Equal(t,
		[]model.OrderState{model.StateRouting, model.StateBuilding, model.StateFailed},
		sink.states())
	assert.Contains(t, sink.last().Details["error"], "slippage")
}

func TestExecuteTransientFaultRetriesThenConfirms(t *testing.T) {
	sim := &fakeSim{faultsLeft: 1, fault: "network RPC timeout"}
	sink := &captureSink{}
	w, _ := newTestWorker(t, testVenues(sim), sink)

	_, err := w.Execute(context.Background(), task("ord-3"))
	require.NoError(t, err)
	assert.Equal(t, 2, sim.attempts())
	assert.Equal(t, model.StateConfirmed, sink.last().State)
}

func TestExecuteTransientFaultExhaustsRetries(t *testing.T) {
	sim := &fakeSim{faultsLeft: 100, fault: "expired blockhash"}
	sink := &captureSink{}
	w, _ := newTestWorker(t, testVenues(sim), sink)

	_, err := w.Execute(context.Background(), task("ord-4"))
	var transient *model.TransientExecutionError
	require.ErrorAs(t, err, &transient)

	assert.Equal(t, 3, sim.attempts())
	states := sink.states()
	assert.Equal(t, model.StateFailed, states[len(states)-1])

	terminal := 0
	for _, s := range states {
		if s.IsTerminal() {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal, "exactly one terminal event")
}

func TestExecuteNoVenuesFailsRouting(t *testing.T) {
	sink := &captureSink{}
	w, _ := newTestWorker(t, nil, sink)

	_, err := w.Execute(context.Background(), task("ord-5"))
	var routingErr *model.RoutingError
	require.ErrorAs(t, err, &routingErr)
	assert.Equal(t,
		[]model.OrderState{model.StateRouting, model.StateFailed},
		sink.states())
}

func TestExecuteCancelledMidSettlementEmitsNoTerminalState(t *testing.T) {
	sim := &fakeSim{settleLat: 5 * time.Second}
	sink := &captureSink{}
	w, _ := newTestWorker(t, testVenues(sim), sink)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := w.Execute(ctx, task("ord-9"))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// interrupted, not failed: the order stays replayable
	assert.Equal(t,
		[]model.OrderState{model.StateRouting, model.StateBuilding},
		sink.states())
}

func TestExecuteCancelledBeforeRoutingEmitsNoTerminalState(t *testing.T) {
	sim := &fakeSim{}
	sink := &captureSink{}
	w, _ := newTestWorker(t, testVenues(sim), sink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.Execute(ctx, task("ord-10"))
	require.ErrorIs(t, err, context.Canceled)
	for _, s := range sink.states() {
		assert.False(t, s.IsTerminal(), "no terminal event for an interrupted order")
	}
}

func TestExecuteDropsRedeliveredTerminalOrder(t *testing.T) {
	sim := &fakeSim{}
	sink := &captureSink{}
	w, states := newTestWorker(t, testVenues(sim), sink)
	states.Set("ord-6", model.StateConfirmed)

	_, err := w.Execute(context.Background(), task("ord-6"))
	assert.ErrorIs(t, err, ErrDuplicateDelivery)
	assert.Empty(t, sink.states(), "no events for a dropped redelivery")
}

func TestExecuteDropsConcurrentDuplicate(t *testing.T) {
	sim := &fakeSim{}
	sink := &captureSink{}
	w, _ := newTestWorker(t, testVenues(sim), sink)

	// simulate another in-flight execution holding the lock
	held, err := w.locks.Acquire(context.Background(), "ord-7", time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	_, err = w.Execute(context.Background(), task("ord-7"))
	assert.ErrorIs(t, err, ErrDuplicateDelivery)
	assert.Empty(t, sink.states())
}

func TestExecuteReleasesLockOnCompletion(t *testing.T) {
	sim := &fakeSim{}
	sink := &captureSink{}
	w, _ := newTestWorker(t, testVenues(sim), sink)

	_, err := w.Execute(context.Background(), task("ord-8"))
	require.NoError(t, err)

	// lock must be free again for a later (redelivered) task; the state
	// store guard is what drops it, not a stale lock
	held, err := w.locks.Acquire(context.Background(), "ord-8", time.Minute)
	require.NoError(t, err)
	assert.True(t, held)
}
