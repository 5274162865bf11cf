package model

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// RoutingError indicates that no venue produced a usable quote. It is
// terminal: re-running the same routing attempt cannot help.
type RoutingError struct {
	TokenIn  string
	TokenOut string
	Reason   string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("routing %s->%s failed: %s", e.TokenIn, e.TokenOut, e.Reason)
}

// TransientExecutionError is a simulated infrastructure failure during
// settlement (RPC timeout, expired blockhash, stale pool, failed pre-flight
// simulation). It is retryable up to the policy limit.
type TransientExecutionError struct {
	Venue  string
	Reason string
}

func (e *TransientExecutionError) Error() string {
	return fmt.Sprintf("[%s] trade failed: %s", e.Venue, e.Reason)
}

// SlippageExceededError is raised by the slippage guard when the realized
// rate at settlement deviates from the quote beyond the caller's tolerance.
// It reflects the market at the moment of settlement and is never retried
// without a fresh quote.
type SlippageExceededError struct {
	QuotedRate   decimal.Decimal
	RealizedRate decimal.Decimal
	SlippageBps  decimal.Decimal
	ToleranceBps int64
}

func (e *SlippageExceededError) Error() string {
	return fmt.Sprintf("slippage %sbps exceeds tolerance %dbps (quoted %s, realized %s)",
		e.SlippageBps.StringFixed(2), e.ToleranceBps, e.QuotedRate, e.RealizedRate)
}

// SinkWriteError wraps a failure writing a state event to one downstream
// sink. Sink failures are logged and surfaced to observability; they never
// fail the order itself.
type SinkWriteError struct {
	Sink string
	Err  error
}

func (e *SinkWriteError) Error() string {
	return fmt.Sprintf("sink %s write failed: %v", e.Sink, e.Err)
}

func (e *SinkWriteError) Unwrap() error { return e.Err }

// IsRetryable classifies an error for the retry policy. Only transient
// execution failures are retryable; routing and slippage errors are terminal.
func IsRetryable(err error) bool {
	var transient *TransientExecutionError
	return errors.As(err, &transient)
}
