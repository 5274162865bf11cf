package router

import (
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// LatencySource models the simulated wall-clock cost of a venue operation.
// Tests substitute a zero-latency source.
type LatencySource interface {
	QuoteLatency() time.Duration
	SettleLatency() time.Duration
}

// FaultInjector decides whether a settlement attempt hits a simulated
// infrastructure failure and, if so, which one.
type FaultInjector interface {
	SettlementFault() (reason string, ok bool)
}

// DriftSource models market movement between quote and settlement: it maps a
// quoted rate to the rate realized at settlement time.
type DriftSource interface {
	RealizedRate(quoted decimal.Decimal) decimal.Decimal
}

// transientFaults mirrors the failure modes of a real settlement path.
var transientFaults = []string{
	"network RPC timeout",
	"expired blockhash",
	"price moved too fast (stale pool)",
	"transaction pre-flight simulation failed",
}

// RandomSim is the production simulation strategy: jittered latency, a fixed
// fault probability, and uniform rate drift around the quote.
type RandomSim struct {
	QuoteDelay     time.Duration
	SettleDelayMin time.Duration
	SettleDelayMax time.Duration
	FaultRate      float64
	DriftMin       float64 // realized = quoted * uniform(DriftMin, DriftMax)
	DriftMax       float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSim builds a RandomSim with the reference deployment's values:
// ~200ms quotes, 2-3s settlement, 15% transient fault rate, and realized
// rates drifting between 99.5% and 100.5% of the quote.
func NewRandomSim(seed int64) *RandomSim {
	return &RandomSim{
		QuoteDelay:     200 * time.Millisecond,
		SettleDelayMin: 2 * time.Second,
		SettleDelayMax: 3 * time.Second,
		FaultRate:      0.15,
		DriftMin:       0.995,
		DriftMax:       1.005,
		rng:            rand.New(rand.NewSource(seed)),
	}
}

func (s *RandomSim) QuoteLatency() time.Duration { return s.QuoteDelay }

func (s *RandomSim) SettleLatency() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	spread := s.SettleDelayMax - s.SettleDelayMin
	if spread <= 0 {
		return s.SettleDelayMin
	}
	return s.SettleDelayMin + time.Duration(s.rng.Int63n(int64(spread)))
}

func (s *RandomSim) SettlementFault() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rng.Float64() >= s.FaultRate {
		return "", false
	}
	return transientFaults[s.rng.Intn(len(transientFaults))], true
}

func (s *RandomSim) RealizedRate(quoted decimal.Decimal) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	factor := s.DriftMin + s.rng.Float64()*(s.DriftMax-s.DriftMin)
	return quoted.Mul(decimal.NewFromFloat(factor))
}
