package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dexflow/engine/internal/model"
)

// Venue is a simulated liquidity source: one competing AMM with its own fee
// schedule and per-pair reserve depths. Pairs without configured reserves
// fall back to the venue's default pool.
type Venue struct {
	Name            string
	FeeRate         decimal.Decimal
	Pools           map[string]PoolReserves // keyed "TOKENIN-TOKENOUT"
	DefaultReserves PoolReserves

	latency LatencySource
	faults  FaultInjector
	drift   DriftSource
}

// VenueParams configures a Venue. Latency, Faults, and Drift default to a
// shared RandomSim when nil so tests can inject deterministic strategies.
type VenueParams struct {
	Name            string
	FeeRate         decimal.Decimal
	Pools           map[string]PoolReserves
	DefaultReserves PoolReserves
	Latency         LatencySource
	Faults          FaultInjector
	Drift           DriftSource
}

// NewVenue builds a venue from params.
func NewVenue(p VenueParams) *Venue {
	v := &Venue{
		Name:            p.Name,
		FeeRate:         p.FeeRate,
		Pools:           p.Pools,
		DefaultReserves: p.DefaultReserves,
		latency:         p.Latency,
		faults:          p.Faults,
		drift:           p.Drift,
	}
	if v.latency == nil || v.faults == nil || v.drift == nil {
		sim := NewRandomSim(time.Now().UnixNano())
		if v.latency == nil {
			v.latency = sim
		}
		if v.faults == nil {
			v.faults = sim
		}
		if v.drift == nil {
			v.drift = sim
		}
	}
	return v
}

// PairKey builds the pool lookup key for a token pair.
func PairKey(tokenIn, tokenOut string) string {
	return strings.ToUpper(tokenIn) + "-" + strings.ToUpper(tokenOut)
}

func (v *Venue) reserves(tokenIn, tokenOut string) PoolReserves {
	if res, ok := v.Pools[PairKey(tokenIn, tokenOut)]; ok {
		return res
	}
	return v.DefaultReserves
}

// Quote prices a trade against this venue's pool using constant-product
// pricing. The call blocks for the venue's simulated quote latency.
func (v *Venue) Quote(ctx context.Context, tokenIn, tokenOut string, amount decimal.Decimal) (model.Quote, error) {
	if err := sleep(ctx, v.latency.QuoteLatency()); err != nil {
		return model.Quote{}, err
	}

	pricing := PriceTrade(amount, v.reserves(tokenIn, tokenOut), v.FeeRate)
	return model.Quote{
		Venue:       v.Name,
		Rate:        pricing.ExecutionPrice,
		PriceImpact: pricing.PriceImpact,
		Fee:         v.FeeRate,
		PoolID:      fmt.Sprintf("%s:%s", strings.ToLower(v.Name), PairKey(tokenIn, tokenOut)),
	}, nil
}

// Settle executes the trade against this venue. The simulated settlement
// latency elapses first, then fault injection, then the slippage guard
// against the drift-adjusted realized rate, so a rejected attempt has
// already paid the full settlement cost, as on a real chain.
func (v *Venue) Settle(ctx context.Context, quote model.Quote, amount decimal.Decimal, toleranceBps int64) (model.ExecutionResult, error) {
	if err := sleep(ctx, v.latency.SettleLatency()); err != nil {
		return model.ExecutionResult{}, err
	}

	if reason, ok := v.faults.SettlementFault(); ok {
		return model.ExecutionResult{}, &model.TransientExecutionError{Venue: v.Name, Reason: reason}
	}

	realized := v.drift.RealizedRate(quote.Rate)
	if err := CheckSlippage(quote.Rate, realized, toleranceBps); err != nil {
		return model.ExecutionResult{}, err
	}

	return model.ExecutionResult{
		Signature:      fmt.Sprintf("sig_%s_%s", strings.ToLower(v.Name), uuid.NewString()[:8]),
		FinalRate:      realized,
		ReceivedAmount: amount.Mul(realized),
	}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
