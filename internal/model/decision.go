package model

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Action is the decision verb. Typed constants with exhaustive switches
// replace free-form string dispatch: adding an action is a compile-time
// exercise, not a string comparison that silently falls through.
type Action string

const (
	ActionBuyYes        Action = "buy_yes"
	ActionBuyNo         Action = "buy_no"
	ActionSell          Action = "sell"
	ActionClosePosition Action = "close_position"
	ActionOpenLong      Action = "open_long"
	ActionOpenShort     Action = "open_short"
	ActionClosePerp     Action = "close_perp"
)

// ErrUnknownAction is returned when an action string does not name a
// supported decision verb.
var ErrUnknownAction = errors.New("model: unknown action")

// ParseAction validates an incoming action string.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionBuyYes, ActionBuyNo, ActionSell, ActionClosePosition,
		ActionOpenLong, ActionOpenShort, ActionClosePerp:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
}

// MarketType returns the market family the action trades against.
func (a Action) MarketType() MarketType {
	switch a {
	case ActionOpenLong, ActionOpenShort, ActionClosePerp:
		return MarketPerpetual
	default:
		return MarketPrediction
	}
}

// TradingDecision is the engine's only input: a validated intent produced
// by a decision layer (NPC brain, human, or UI). The engine never generates
// decisions, it only executes them.
type TradingDecision struct {
	PoolID     string          `json:"pool_id"`
	Action     Action          `json:"action"`
	MarketID   string          `json:"market_id,omitempty"`   // prediction actions
	PositionID string          `json:"position_id,omitempty"` // sell/close actions
	Ticker     string          `json:"ticker,omitempty"`      // perp opens
	Amount     decimal.Decimal `json:"amount"`                // gross spend, shares, or notional
	Leverage   decimal.Decimal `json:"leverage,omitempty"`
	// LimitPrice is an optional slippage bound on the effective per-share
	// (or per-unit) price: a ceiling for buys/opens, a floor for sells.
	LimitPrice decimal.Decimal `json:"limit_price,omitempty"`
}

// ExecutedTrade summarizes a successfully applied decision.
type ExecutedTrade struct {
	PositionID    string          `json:"position_id"`
	MarketType    MarketType      `json:"market_type"`
	Action        Action          `json:"action"`
	SharesOrSize  decimal.Decimal `json:"shares_or_size"`
	AmountCharged decimal.Decimal `json:"amount_charged"` // signed: + debit, - credit
	Fee           decimal.Decimal `json:"fee"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
}
