package router

import "github.com/shopspring/decimal"

// PoolReserves holds the constant-product reserves for one (venue, pair)
// pool, denominated in the input and output tokens of the quoted direction.
type PoolReserves struct {
	ReserveIn  decimal.Decimal
	ReserveOut decimal.Decimal
}

// Pricing is the result of applying the constant-product formula to a trade
// against a single pool.
type Pricing struct {
	OutputAmount   decimal.Decimal
	ExecutionPrice decimal.Decimal
	MarketPrice    decimal.Decimal
	PriceImpact    decimal.Decimal // percent
}

var oneHundred = decimal.NewFromInt(100)

// PriceTrade applies constant-product (x*y=k) pricing to amountIn against the
// given reserves, charging feeRate on the input side:
//
//	out = (in * (1-fee)) * reserveOut / (reserveIn + in * (1-fee))
//
// PriceImpact is the percentage deviation of the execution price from the
// reserve-implied market price; it grows with trade size and shrinks with
// pool depth.
func PriceTrade(amountIn decimal.Decimal, reserves PoolReserves, feeRate decimal.Decimal) Pricing {
	effectiveIn := amountIn.Mul(decimal.NewFromInt(1).Sub(feeRate))
	out := effectiveIn.Mul(reserves.ReserveOut).Div(reserves.ReserveIn.Add(effectiveIn))

	market := reserves.ReserveOut.Div(reserves.ReserveIn)
	exec := out.Div(amountIn)
	impact := market.Sub(exec).Div(market).Mul(oneHundred)

	return Pricing{
		OutputAmount:   out,
		ExecutionPrice: exec,
		MarketPrice:    market,
		PriceImpact:    impact,
	}
}
