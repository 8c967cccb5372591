// Package risklimit enforces notional exposure limits on leveraged
// perpetual positions.
//
// A trader opening ten max-leverage longs on the same asset has correlated
// risk that per-position margin checks never see. This package caps both
// the notional on any single ticker and the aggregate notional across all
// of a trader's open perpetual positions.
package risklimit

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrTickerLimitExceeded is returned when an open would push a single
	// ticker's notional beyond the per-ticker maximum.
	ErrTickerLimitExceeded = errors.New("risklimit: per-ticker exposure limit exceeded")

	// ErrAggregateLimitExceeded is returned when an open would push the
	// trader's total open notional beyond the aggregate maximum.
	ErrAggregateLimitExceeded = errors.New("risklimit: aggregate exposure limit exceeded")
)

// Limiter enforces notional exposure limits per trader.
type Limiter struct {
	// MaxPerTicker is the maximum notional a trader may hold in any single
	// perpetual ticker, summed across open positions regardless of side.
	MaxPerTicker decimal.Decimal

	// MaxAggregate is the maximum total notional across all of a trader's
	// open perpetual positions.
	MaxAggregate decimal.Decimal
}

// NewLimiter creates a limiter with the given per-ticker and aggregate
// notional limits.
func NewLimiter(maxPerTicker, maxAggregate decimal.Decimal) *Limiter {
	return &Limiter{
		MaxPerTicker: maxPerTicker,
		MaxAggregate: maxAggregate,
	}
}

// CheckLimit validates whether opening sizeDelta of additional notional on
// targetTicker respects the limits, given the trader's current open
// notional per ticker. Long and short notional both count toward exposure;
// they do not net out, a hedged book still carries liquidation risk on
// both legs.
func (l *Limiter) CheckLimit(
	targetTicker string,
	sizeDelta decimal.Decimal,
	openNotional map[string]decimal.Decimal,
) error {
	newInTicker := openNotional[targetTicker].Add(sizeDelta)
	if newInTicker.GreaterThan(l.MaxPerTicker) {
		return ErrTickerLimitExceeded
	}

	total := newInTicker
	for ticker, notional := range openNotional {
		if ticker == targetTicker {
			continue // already counted via newInTicker above
		}
		total = total.Add(notional)
	}

	if total.GreaterThan(l.MaxAggregate) {
		return ErrAggregateLimitExceeded
	}

	return nil
}
