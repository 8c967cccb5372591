// Package model defines the core domain types shared across the trading engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketType distinguishes the two tradable market families.
type MarketType string

const (
	MarketPrediction MarketType = "prediction"
	MarketPerpetual  MarketType = "perpetual"
)

// Side is the outcome side of a binary prediction market.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// PerpSide is the direction of a perpetual position.
type PerpSide string

const (
	PerpLong  PerpSide = "long"
	PerpShort PerpSide = "short"
)

// Market is a binary prediction market priced by a constant-product pool.
// The product yesReserve * noReserve stays constant across trades net of
// fee extraction, until resolution.
type Market struct {
	ID             string          `json:"id" db:"id"`
	Question       string          `json:"question" db:"question"`
	YesReserve     decimal.Decimal `json:"yes_reserve" db:"yes_reserve"`
	NoReserve      decimal.Decimal `json:"no_reserve" db:"no_reserve"`
	LiquidityParam decimal.Decimal `json:"liquidity_param" db:"liquidity_param"`
	Resolved       bool            `json:"resolved" db:"resolved"`
	Outcome        *bool           `json:"outcome,omitempty" db:"outcome"`
	EndDate        time.Time       `json:"end_date" db:"end_date"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Pool is a trader's simulated collateral wallet. AvailableBalance never
// goes negative; all mutation flows through the ledger.
type Pool struct {
	ID                 string          `json:"id" db:"id"`
	AvailableBalance   decimal.Decimal `json:"available_balance" db:"available_balance"`
	TotalDeposits      decimal.Decimal `json:"total_deposits" db:"total_deposits"`
	LifetimePnL        decimal.Decimal `json:"lifetime_pnl" db:"lifetime_pnl"`
	TotalFeesCollected decimal.Decimal `json:"total_fees_collected" db:"total_fees_collected"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
}

// Position is an open holding in one prediction market. At most one open
// position exists per (pool, market, side); closing sets ClosedAt and
// zeroes Shares.
type Position struct {
	ID        string          `json:"id" db:"id"`
	PoolID    string          `json:"pool_id" db:"pool_id"`
	MarketID  string          `json:"market_id" db:"market_id"`
	Side      Side            `json:"side" db:"side"`
	Shares    decimal.Decimal `json:"shares" db:"shares"`
	CostBasis decimal.Decimal `json:"cost_basis" db:"cost_basis"` // paid net of fee
	OpenedAt  time.Time       `json:"opened_at" db:"opened_at"`
	ClosedAt  *time.Time      `json:"closed_at,omitempty" db:"closed_at"`
}

// PerpStatus tracks the perpetual position lifecycle:
// open -> {funding tick}* -> closed | liquidated.
type PerpStatus string

const (
	PerpOpen       PerpStatus = "open"
	PerpClosed     PerpStatus = "closed"
	PerpLiquidated PerpStatus = "liquidated"
)

// PerpPosition is a leveraged perpetual-futures position. LiquidationPrice
// is recomputed whenever entry price or leverage changes.
type PerpPosition struct {
	ID               string          `json:"id" db:"id"`
	OwnerID          string          `json:"owner_id" db:"owner_id"` // pool ID
	Ticker           string          `json:"ticker" db:"ticker"`
	Side             PerpSide        `json:"side" db:"side"`
	EntryPrice       decimal.Decimal `json:"entry_price" db:"entry_price"`
	CurrentPrice     decimal.Decimal `json:"current_price" db:"current_price"`
	Size             decimal.Decimal `json:"size" db:"size"` // USD notional
	Leverage         decimal.Decimal `json:"leverage" db:"leverage"`
	Margin           decimal.Decimal `json:"margin" db:"margin"` // size / leverage
	LiquidationPrice decimal.Decimal `json:"liquidation_price" db:"liquidation_price"`
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl" db:"unrealized_pnl"`
	FundingPaid      decimal.Decimal `json:"funding_paid" db:"funding_paid"` // cumulative
	Status           PerpStatus      `json:"status" db:"status"`
	OpenedAt         time.Time       `json:"opened_at" db:"opened_at"`
	LastFundingAt    time.Time       `json:"last_funding_at" db:"last_funding_at"`
	LastUpdated      time.Time       `json:"last_updated" db:"last_updated"`
	ClosedAt         *time.Time      `json:"closed_at,omitempty" db:"closed_at"`
}

// TransactionType labels a balance transaction for the audit trail.
type TransactionType string

const (
	TxDeposit     TransactionType = "deposit"
	TxWithdraw    TransactionType = "withdraw"
	TxBuy         TransactionType = "buy"
	TxSell        TransactionType = "sell"
	TxPerpOpen    TransactionType = "perp_open"
	TxPerpClose   TransactionType = "perp_close"
	TxFunding     TransactionType = "funding"
	TxLiquidation TransactionType = "liquidation"
	TxSettlement  TransactionType = "settlement"
)

// BalanceTransaction is one immutable row of the balance audit trail.
// BalanceAfter - BalanceBefore == Amount holds for every row; rows are
// never updated or deleted.
type BalanceTransaction struct {
	ID            string          `json:"id" db:"id"`
	PoolID        string          `json:"pool_id" db:"pool_id"`
	Type          TransactionType `json:"type" db:"type"`
	Amount        decimal.Decimal `json:"amount" db:"amount"` // signed
	BalanceBefore decimal.Decimal `json:"balance_before" db:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after" db:"balance_after"`
	RelatedID     string          `json:"related_id" db:"related_id"`
	Description   string          `json:"description" db:"description"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}
