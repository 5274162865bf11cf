// Package router implements venue routing for swap orders: concurrent quote
// gathering across competing AMM venues, constant-product pricing, and the
// settlement-time slippage guard.
package router

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dexflow/engine/internal/model"
)

// Router queries a fixed set of venues concurrently and selects the best
// quote. Venue enumeration order is the tie-break: when two venues quote the
// same rate, the first listed wins.
type Router struct {
	venues []*Venue
	logger *zap.Logger
}

// New creates a Router over the given venues.
func New(venues []*Venue, logger *zap.Logger) *Router {
	return &Router{venues: venues, logger: logger}
}

// Venue returns the configured venue with the given name, if any.
func (r *Router) Venue(name string) (*Venue, bool) {
	for _, v := range r.venues {
		if v.Name == name {
			return v, true
		}
	}
	return nil, false
}

// Route gathers quotes from every venue concurrently and returns the winning
// quote plus all usable quotes for observability. Total latency is bounded by
// the slowest venue, not the sum. A venue error drops that venue from the
// candidate set; if no venue produces a usable quote the result is a terminal
// RoutingError.
func (r *Router) Route(ctx context.Context, tokenIn, tokenOut string, amount decimal.Decimal) (model.Quote, []model.Quote, error) {
	type result struct {
		quote model.Quote
		err   error
	}

	results := make([]result, len(r.venues))
	var wg sync.WaitGroup
	for i, v := range r.venues {
		wg.Add(1)
		go func(i int, v *Venue) {
			defer wg.Done()
			q, err := v.Quote(ctx, tokenIn, tokenOut, amount)
			results[i] = result{quote: q, err: err}
		}(i, v)
	}
	wg.Wait()

	quotes := make([]model.Quote, 0, len(results))
	best := -1
	for i, res := range results {
		if res.err != nil {
			r.logger.Warn("venue quote failed",
				zap.String("venue", r.venues[i].Name),
				zap.String("pair", PairKey(tokenIn, tokenOut)),
				zap.Error(res.err))
			continue
		}
		quotes = append(quotes, res.quote)
		if best == -1 || res.quote.Rate.GreaterThan(quotes[best].Rate) {
			best = len(quotes) - 1
		}
	}

	if best == -1 {
		return model.Quote{}, nil, &model.RoutingError{
			TokenIn:  tokenIn,
			TokenOut: tokenOut,
			Reason:   "no venue produced a usable quote",
		}
	}

	r.logger.Debug("route selected",
		zap.String("venue", quotes[best].Venue),
		zap.String("rate", quotes[best].Rate.String()),
		zap.Int("quoted_venues", len(quotes)))

	return quotes[best], quotes, nil
}
