// Package perp implements the pure risk and pricing math for leveraged
// perpetual-futures positions: liquidation thresholds, unrealized PnL,
// funding accrual, and manipulation-resistant mark pricing.
//
// All functions are pure — position state is passed as arguments, never
// stored — and all monetary values use shopspring/decimal.
package perp

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/babylon/trading-engine/internal/model"
)

var (
	// ErrInvalidLeverage is returned when leverage is outside [MinLeverage, MaxLeverage].
	ErrInvalidLeverage = errors.New("perp: leverage out of bounds")

	// ErrInvalidSize is returned for zero or negative notional size.
	ErrInvalidSize = errors.New("perp: size must be positive")

	// ErrInvalidPrice is returned for zero or negative prices.
	ErrInvalidPrice = errors.New("perp: price must be positive")

	// MinLeverage and MaxLeverage bound accepted leverage.
	MinLeverage = decimal.NewFromInt(1)
	MaxLeverage = decimal.NewFromInt(100)
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)

	// maintenanceBuffer keeps liquidation short of the theoretical 100%-loss
	// point so liquidation fees can still be covered: positions liquidate at
	// 90% of the naive entry/leverage distance.
	maintenanceBuffer = decimal.NewFromFloat(0.9)

	// Mark price blends 70% index with 30% last trade to resist last-trade
	// manipulation while remaining responsive.
	indexWeight     = decimal.NewFromFloat(0.7)
	lastTradeWeight = decimal.NewFromFloat(0.3)

	// fundingMarkWeight scales the multiplicative funding nudge on the
	// blended mark price.
	fundingMarkWeight = decimal.NewFromFloat(0.05)

	// fundingPeriodsPerYear: funding accrues every 8 hours, 365*3 periods
	// a year.
	fundingPeriodsPerYear = decimal.NewFromInt(365 * 3)
	fundingPeriodHours    = decimal.NewFromInt(8)
)

// RiskEngine exposes the perpetual pricing functions. It is stateless and
// safe for concurrent use.
type RiskEngine struct{}

// NewRiskEngine creates a risk engine.
func NewRiskEngine() *RiskEngine {
	return &RiskEngine{}
}

// ValidateLeverage checks leverage against the configured bounds.
func (e *RiskEngine) ValidateLeverage(leverage decimal.Decimal) error {
	if leverage.LessThan(MinLeverage) || leverage.GreaterThan(MaxLeverage) {
		return ErrInvalidLeverage
	}
	return nil
}

// LiquidationPrice returns the adverse-move threshold at which margin is
// exhausted. Longs liquidate below entry, shorts above:
//
//	distance = entryPrice * buffer / leverage
func (e *RiskEngine) LiquidationPrice(entryPrice decimal.Decimal, side model.PerpSide, leverage decimal.Decimal) (decimal.Decimal, error) {
	if entryPrice.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrInvalidPrice
	}
	if err := e.ValidateLeverage(leverage); err != nil {
		return decimal.Zero, err
	}

	distance := entryPrice.Mul(maintenanceBuffer).Div(leverage)
	if side == model.PerpShort {
		return entryPrice.Add(distance), nil
	}
	return entryPrice.Sub(distance), nil
}

// PnL is an unrealized profit-and-loss snapshot.
type PnL struct {
	PnL        decimal.Decimal `json:"pnl"`
	PnLPercent decimal.Decimal `json:"pnl_percent"`
}

// UnrealizedPnL computes mark-to-market PnL on the notional size:
// long PnL is proportional to (current-entry)/entry, short PnL to
// (entry-current)/entry.
func (e *RiskEngine) UnrealizedPnL(entryPrice, currentPrice decimal.Decimal, side model.PerpSide, size decimal.Decimal) (PnL, error) {
	if entryPrice.LessThanOrEqual(decimal.Zero) || currentPrice.LessThanOrEqual(decimal.Zero) {
		return PnL{}, ErrInvalidPrice
	}
	if size.LessThanOrEqual(decimal.Zero) {
		return PnL{}, ErrInvalidSize
	}

	move := currentPrice.Sub(entryPrice).Div(entryPrice)
	if side == model.PerpShort {
		move = move.Neg()
	}

	pnl := move.Mul(size)
	return PnL{
		PnL:        pnl,
		PnLPercent: pnl.Div(size).Mul(hundred),
	}, nil
}

// FundingPayment returns the funding accrued over hoursHeld at the given
// annual funding rate. Funding accrues per 8-hour period:
//
//	payment = size * (annualRate / (365*3)) * (hoursHeld / 8)
//
// A positive payment flows from longs to shorts; negative flows the other
// way. The execution service applies it as a ledger debit/credit, not just
// a display number.
func (e *RiskEngine) FundingPayment(size, annualFundingRate, hoursHeld decimal.Decimal) decimal.Decimal {
	if size.LessThanOrEqual(decimal.Zero) || hoursHeld.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	perPeriod := annualFundingRate.Div(fundingPeriodsPerYear)
	periods := hoursHeld.Div(fundingPeriodHours)
	return size.Mul(perPeriod).Mul(periods)
}

// MarkPrice blends the index and last-trade prices 70/30, then nudges the
// blend multiplicatively in proportion to the funding rate.
func (e *RiskEngine) MarkPrice(indexPrice, lastTradePrice, fundingRate decimal.Decimal) decimal.Decimal {
	if lastTradePrice.LessThanOrEqual(decimal.Zero) {
		lastTradePrice = indexPrice
	}
	blended := indexPrice.Mul(indexWeight).Add(lastTradePrice.Mul(lastTradeWeight))
	return blended.Mul(one.Add(fundingRate.Mul(fundingMarkWeight)))
}

// ShouldLiquidate reports whether price has moved through the liquidation
// threshold in the adverse direction: at or below for longs, at or above
// for shorts.
func (e *RiskEngine) ShouldLiquidate(currentPrice, liquidationPrice decimal.Decimal, side model.PerpSide) bool {
	if side == model.PerpShort {
		return currentPrice.GreaterThanOrEqual(liquidationPrice)
	}
	return currentPrice.LessThanOrEqual(liquidationPrice)
}
