package router

import (
	"github.com/shopspring/decimal"

	"github.com/dexflow/engine/internal/model"
)

var tenThousand = decimal.NewFromInt(10000)

// SlippageBps returns the realized slippage between the quoted and realized
// rate in basis points. A realized rate above the quote yields a negative
// value (price improvement).
func SlippageBps(quotedRate, realizedRate decimal.Decimal) decimal.Decimal {
	return quotedRate.Sub(realizedRate).Div(quotedRate).Mul(tenThousand)
}

// CheckSlippage validates the realized settlement rate against the caller's
// tolerance. It runs inside the settlement step, after settlement latency has
// already been paid, so a rejection still costs a full attempt. A breach is
// terminal: re-attempting against the same quote cannot address the cause.
func CheckSlippage(quotedRate, realizedRate decimal.Decimal, toleranceBps int64) error {
	bps := SlippageBps(quotedRate, realizedRate)
	if bps.GreaterThan(decimal.NewFromInt(toleranceBps)) {
		return &model.SlippageExceededError{
			QuotedRate:   quotedRate,
			RealizedRate: realizedRate,
			SlippageBps:  bps,
			ToleranceBps: toleranceBps,
		}
	}
	return nil
}
