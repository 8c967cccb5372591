// Package amm implements the constant-product market maker (CPMM) for
// binary yes/no prediction markets.
//
// The two outcome reserves behave like a two-asset constant-product pool:
// the reserve opposite the purchased side absorbs the trader's collateral
// and the purchased side's reserve is solved from k = yesReserve * noReserve
// so the product is preserved exactly, net of fee extraction.
//
// All functions are pure — reserves are passed as arguments, never stored —
// and all monetary values use shopspring/decimal, never float64.
package amm

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/babylon/trading-engine/internal/model"
)

var (
	// ErrInvalidAmount is returned for zero or negative trade amounts.
	ErrInvalidAmount = errors.New("amm: trade amount must be positive")

	// ErrInvalidSide is returned for a side other than yes/no.
	ErrInvalidSide = errors.New("amm: side must be yes or no")

	// ErrInvalidFeeRate is returned when the fee rate is outside [0, 1).
	ErrInvalidFeeRate = errors.New("amm: fee rate must be in [0, 1)")

	// ErrReserveDepleted is returned when a trade would drive a reserve
	// to zero or below.
	ErrReserveDepleted = errors.New("amm: trade would deplete a reserve")

	// PriceScale is the number of decimal places for display-price rounding.
	// Reserves themselves are never rounded: rounding them would leak the
	// constant-product invariant.
	PriceScale int32 = 8
)

// DefaultFeeRate is the trading fee charged on gross amounts (1%).
var DefaultFeeRate = decimal.NewFromFloat(0.01)

// MarketMaker prices trades against constant-product reserves. It is
// stateless; the execution service applies its output.
type MarketMaker struct {
	feeRate decimal.Decimal
}

// NewMarketMaker creates a market maker with the given fee rate.
func NewMarketMaker(feeRate decimal.Decimal) (*MarketMaker, error) {
	if feeRate.IsNegative() || feeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, ErrInvalidFeeRate
	}
	return &MarketMaker{feeRate: feeRate}, nil
}

// FeeRate returns the configured fee rate.
func (m *MarketMaker) FeeRate() decimal.Decimal {
	return m.feeRate
}

// BuyQuote is the priced outcome of a prospective buy.
type BuyQuote struct {
	Fee           decimal.Decimal `json:"fee"`
	NetAmount     decimal.Decimal `json:"net_amount"`
	SharesOut     decimal.Decimal `json:"shares_out"`
	NewYesReserve decimal.Decimal `json:"new_yes_reserve"`
	NewNoReserve  decimal.Decimal `json:"new_no_reserve"`
	TotalCost     decimal.Decimal `json:"total_cost"` // what the trader pays (gross)
	AvgPrice      decimal.Decimal `json:"avg_price"`  // totalCost / sharesOut
}

// SellQuote is the priced outcome of a prospective sell.
type SellQuote struct {
	Fee           decimal.Decimal `json:"fee"`
	GrossProceeds decimal.Decimal `json:"gross_proceeds"`
	NetProceeds   decimal.Decimal `json:"net_proceeds"`
	NewYesReserve decimal.Decimal `json:"new_yes_reserve"`
	NewNoReserve  decimal.Decimal `json:"new_no_reserve"`
	AvgPrice      decimal.Decimal `json:"avg_price"` // netProceeds / sharesIn
}

// QuoteBuy prices spending grossAmount of collateral on the given side.
//
// The fee is skimmed off the gross amount first; the net amount is added to
// the reserve opposite the purchased side, and the purchased side's reserve
// is solved from k so that newYesReserve * newNoReserve == k. SharesOut is
// the decrease in the purchased side's reserve.
func (m *MarketMaker) QuoteBuy(yesReserve, noReserve decimal.Decimal, side model.Side, grossAmount decimal.Decimal) (*BuyQuote, error) {
	if grossAmount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	if yesReserve.LessThanOrEqual(decimal.Zero) || noReserve.LessThanOrEqual(decimal.Zero) {
		return nil, ErrReserveDepleted
	}

	fee := grossAmount.Mul(m.feeRate)
	net := grossAmount.Sub(fee)
	if net.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	k := yesReserve.Mul(noReserve)

	var newYes, newNo, shares decimal.Decimal
	switch side {
	case model.SideYes:
		newNo = noReserve.Add(net)
		newYes = k.Div(newNo)
		shares = yesReserve.Sub(newYes)
	case model.SideNo:
		newYes = yesReserve.Add(net)
		newNo = k.Div(newYes)
		shares = noReserve.Sub(newNo)
	default:
		return nil, ErrInvalidSide
	}

	if newYes.LessThanOrEqual(decimal.Zero) || newNo.LessThanOrEqual(decimal.Zero) || shares.LessThanOrEqual(decimal.Zero) {
		return nil, ErrReserveDepleted
	}

	return &BuyQuote{
		Fee:           fee,
		NetAmount:     net,
		SharesOut:     shares,
		NewYesReserve: newYes,
		NewNoReserve:  newNo,
		TotalCost:     grossAmount,
		AvgPrice:      grossAmount.Div(shares).Round(PriceScale),
	}, nil
}

// QuoteSell prices returning sharesIn of the given side to the pool: the
// inverse swap. The sold side's reserve grows by sharesIn, the opposite
// reserve is solved from k, and the decrease in the opposite reserve is the
// gross proceeds. The fee is charged on gross proceeds.
func (m *MarketMaker) QuoteSell(yesReserve, noReserve decimal.Decimal, side model.Side, sharesIn decimal.Decimal) (*SellQuote, error) {
	if sharesIn.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	if yesReserve.LessThanOrEqual(decimal.Zero) || noReserve.LessThanOrEqual(decimal.Zero) {
		return nil, ErrReserveDepleted
	}

	k := yesReserve.Mul(noReserve)

	var newYes, newNo, gross decimal.Decimal
	switch side {
	case model.SideYes:
		newYes = yesReserve.Add(sharesIn)
		newNo = k.Div(newYes)
		gross = noReserve.Sub(newNo)
	case model.SideNo:
		newNo = noReserve.Add(sharesIn)
		newYes = k.Div(newNo)
		gross = yesReserve.Sub(newYes)
	default:
		return nil, ErrInvalidSide
	}

	if gross.LessThanOrEqual(decimal.Zero) {
		return nil, ErrReserveDepleted
	}

	fee := gross.Mul(m.feeRate)
	net := gross.Sub(fee)

	return &SellQuote{
		Fee:           fee,
		GrossProceeds: gross,
		NetProceeds:   net,
		NewYesReserve: newYes,
		NewNoReserve:  newNo,
		AvgPrice:      net.Div(sharesIn).Round(PriceScale),
	}, nil
}

// Price returns the instantaneous probability-style price of one side:
// the opposite reserve over the reserve sum. Buying a side raises its price.
func (m *MarketMaker) Price(yesReserve, noReserve decimal.Decimal, side model.Side) decimal.Decimal {
	total := yesReserve.Add(noReserve)
	if total.IsZero() {
		return decimal.NewFromFloat(0.5)
	}
	if side == model.SideYes {
		return noReserve.Div(total).Round(PriceScale)
	}
	return yesReserve.Div(total).Round(PriceScale)
}
