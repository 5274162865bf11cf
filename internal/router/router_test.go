package router

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dexflow/engine/internal/model"
)

// staticSim is a deterministic simulation strategy: fixed latencies, no
// faults unless configured, fixed drift factor.
type staticSim struct {
	quoteDelay  time.Duration
	settleDelay time.Duration
	fault       string
	drift       decimal.Decimal
}

func (s *staticSim) QuoteLatency() time.Duration  { return s.quoteDelay }
func (s *staticSim) SettleLatency() time.Duration { return s.settleDelay }

func (s *staticSim) SettlementFault() (string, bool) {
	if s.fault == "" {
		return "", false
	}
	return s.fault, true
}

func (s *staticSim) RealizedRate(quoted decimal.Decimal) decimal.Decimal {
	if s.drift.IsZero() {
		return quoted
	}
	return quoted.Mul(s.drift)
}

func testVenue(name string, reserveIn, reserveOut string, sim *staticSim) *Venue {
	return NewVenue(VenueParams{
		Name:    name,
		FeeRate: d("0.003"),
		Pools: map[string]PoolReserves{
			"USDC-SOL": {ReserveIn: d(reserveIn), ReserveOut: d(reserveOut)},
		},
		DefaultReserves: PoolReserves{ReserveIn: d("1000000"), ReserveOut: d("1000000")},
		Latency:         sim,
		Faults:          sim,
		Drift:           sim,
	})
}

func TestRouteSelectsBestRate(t *testing.T) {
	sim := &staticSim{}
	// The deeper pool yields a better execution price for the same trade.
	deep := testVenue("RAYDIUM", "1000000", "10000", sim)
	shallow := testVenue("METEORA", "500000", "5000", sim)
	r := New([]*Venue{shallow, deep}, zap.NewNop())

	best, all, err := r.Route(context.Background(), "USDC", "SOL", d("500"))
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, "RAYDIUM", best.Venue)

	for _, q := range all {
		assert.True(t, best.Rate.GreaterThanOrEqual(q.Rate))
	}
}

func TestRouteTieBreakPrefersFirstListed(t *testing.T) {
	sim := &staticSim{}
	// Identical reserves and fees quote identical rates.
	a := testVenue("ALPHA", "1000000", "10000", sim)
	b := testVenue("BETA", "1000000", "10000", sim)
	r := New([]*Venue{a, b}, zap.NewNop())

	best, all, err := r.Route(context.Background(), "USDC", "SOL", d("100"))
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[0].Rate.Equal(all[1].Rate))
	assert.Equal(t, "ALPHA", best.Venue)
}

func TestRouteConcurrentLatencyBoundedBySlowest(t *testing.T) {
	slow := &staticSim{quoteDelay: 120 * time.Millisecond}
	alsoSlow := &staticSim{quoteDelay: 120 * time.Millisecond}
	a := testVenue("RAYDIUM", "1000000", "10000", slow)
	b := testVenue("METEORA", "500000", "5000", alsoSlow)
	r := New([]*Venue{a, b}, zap.NewNop())

	start := time.Now()
	_, all, err := r.Route(context.Background(), "USDC", "SOL", d("100"))
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Len(t, all, 2)
	// Two 120ms venues queried sequentially would take 240ms+.
	assert.Less(t, elapsed, 220*time.Millisecond, "venue quotes were not gathered concurrently")
}

func TestRouteUnknownPairFallsBackToDefaultReserves(t *testing.T) {
	sim := &staticSim{}
	v := testVenue("RAYDIUM", "1000000", "10000", sim)
	r := New([]*Venue{v}, zap.NewNop())

	best, _, err := r.Route(context.Background(), "BONK", "WIF", d("100"))
	require.NoError(t, err)
	// Default reserves are 1:1, so the rate lands just under 1 after the fee.
	assert.True(t, best.Rate.LessThan(d("1")))
	assert.True(t, best.Rate.GreaterThan(d("0.99")))
}

func TestRouteCancelledContextFailsRouting(t *testing.T) {
	sim := &staticSim{quoteDelay: time.Second}
	v := testVenue("RAYDIUM", "1000000", "10000", sim)
	r := New([]*Venue{v}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := r.Route(ctx, "USDC", "SOL", d("100"))
	var routingErr *model.RoutingError
	require.ErrorAs(t, err, &routingErr)
}
