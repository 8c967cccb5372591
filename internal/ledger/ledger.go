// Package ledger provides the debit/credit primitive shared by both market
// types. Every balance mutation writes the new balance and one immutable
// BalanceTransaction row inside the caller's transaction, so the pair is
// applied — or rolled back — as a unit.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/babylon/trading-engine/internal/model"
	"github.com/babylon/trading-engine/internal/store"
)

var (
	// ErrInsufficientFunds is returned when a debit exceeds the available
	// balance. The balance is left untouched.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
)

// Ledger writes balance mutations and their audit rows. The clock is
// injectable for tests.
type Ledger struct {
	now func() time.Time
}

// New creates a ledger using the wall clock.
func New() *Ledger {
	return &Ledger{now: func() time.Time { return time.Now().UTC() }}
}

// NewWithClock creates a ledger with a custom clock.
func NewWithClock(now func() time.Time) *Ledger {
	return &Ledger{now: now}
}

// Debit decreases the pool's available balance by amount. It fails with
// ErrInsufficientFunds — without mutating anything — when the balance does
// not cover the amount. On success the pool struct is mutated, persisted
// through tx, and an audit row with a negative amount is appended.
func (l *Ledger) Debit(ctx context.Context, tx store.Tx, pool *model.Pool, amount decimal.Decimal, txType model.TransactionType, relatedID, description string) (*model.BalanceTransaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	if pool.AvailableBalance.LessThan(amount) {
		return nil, ErrInsufficientFunds
	}

	before := pool.AvailableBalance
	pool.AvailableBalance = before.Sub(amount)

	return l.record(ctx, tx, pool, amount.Neg(), before, txType, relatedID, description)
}

// Credit increases the pool's available balance by amount. Credits never
// fail the balance check, only on storage failure.
func (l *Ledger) Credit(ctx context.Context, tx store.Tx, pool *model.Pool, amount decimal.Decimal, txType model.TransactionType, relatedID, description string) (*model.BalanceTransaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	before := pool.AvailableBalance
	pool.AvailableBalance = before.Add(amount)

	return l.record(ctx, tx, pool, amount, before, txType, relatedID, description)
}

func (l *Ledger) record(ctx context.Context, tx store.Tx, pool *model.Pool, signedAmount, before decimal.Decimal, txType model.TransactionType, relatedID, description string) (*model.BalanceTransaction, error) {
	if err := tx.UpdatePool(ctx, pool); err != nil {
		return nil, err
	}

	entry := &model.BalanceTransaction{
		ID:            uuid.New().String(),
		PoolID:        pool.ID,
		Type:          txType,
		Amount:        signedAmount,
		BalanceBefore: before,
		BalanceAfter:  pool.AvailableBalance,
		RelatedID:     relatedID,
		Description:   description,
		CreatedAt:     l.now(),
	}
	if err := tx.InsertBalanceTransaction(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}
