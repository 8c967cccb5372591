// Package store defines the persistence interface for the trading engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// The contract that matters for correctness: every trade mutates its rows
// inside one atomic unit of work, and rows read through the Tx Lock*
// methods are exclusively locked from the read until commit or rollback.
// Quoting against an unlocked snapshot and writing afterwards is exactly
// the race this interface exists to prevent.
package store

import (
	"context"
	"errors"

	"github.com/babylon/trading-engine/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrContention is returned when a row lock cannot be acquired within
	// the store's lock timeout. Retryable by the caller with backoff.
	ErrContention = errors.New("store: lock contention")

	// ErrConflict is returned when a create collides with an existing row.
	ErrConflict = errors.New("store: conflict")
)

// Reader is the read-only view used by preview endpoints and sweeps.
// Reads are point-in-time snapshots and take no locks.
type Reader interface {
	GetMarket(ctx context.Context, id string) (*model.Market, error)
	ListMarkets(ctx context.Context) ([]model.Market, error)
	GetPool(ctx context.Context, id string) (*model.Pool, error)
	GetPosition(ctx context.Context, id string) (*model.Position, error)
	GetPerpPosition(ctx context.Context, id string) (*model.PerpPosition, error)
	ListOpenPerpPositions(ctx context.Context) ([]model.PerpPosition, error)
	ListBalanceTransactions(ctx context.Context, poolID string) ([]model.BalanceTransaction, error)
}

// Store is the full persistence interface.
type Store interface {
	Reader

	// CreateMarket and CreatePool persist new top-level rows.
	CreateMarket(ctx context.Context, m *model.Market) error
	CreatePool(ctx context.Context, p *model.Pool) error

	// RunInTx executes fn as one atomic unit: either every write inside fn
	// is applied, or none is. Locks acquired through the Tx are held until
	// the unit finishes. fn returning an error rolls the unit back and the
	// error is returned as-is.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the handle passed to RunInTx callbacks.
//
// Lock ordering discipline (callers must follow it, implementations rely
// on it to stay deadlock-free): market or perp-position rows first, then
// pool rows; when several pools are locked in one unit, lock them in
// sorted ID order.
type Tx interface {
	// Locking reads. The row stays exclusively locked until the unit ends.
	LockMarket(ctx context.Context, id string) (*model.Market, error)
	LockPool(ctx context.Context, id string) (*model.Pool, error)
	LockPerpPosition(ctx context.Context, id string) (*model.PerpPosition, error)

	// Prediction positions are guarded by their market's lock; these reads
	// are safe once the market row is held.
	GetPosition(ctx context.Context, id string) (*model.Position, error)
	FindOpenPosition(ctx context.Context, poolID, marketID string, side model.Side) (*model.Position, error)
	ListOpenPositionsByMarket(ctx context.Context, marketID string) ([]model.Position, error)

	// Perp exposure for risk-limit checks; guarded by the owner's pool lock.
	ListOpenPerpPositionsByOwner(ctx context.Context, ownerID string) ([]model.PerpPosition, error)

	UpdateMarket(ctx context.Context, m *model.Market) error
	UpdatePool(ctx context.Context, p *model.Pool) error

	InsertPosition(ctx context.Context, p *model.Position) error
	UpdatePosition(ctx context.Context, p *model.Position) error

	InsertPerpPosition(ctx context.Context, p *model.PerpPosition) error
	UpdatePerpPosition(ctx context.Context, p *model.PerpPosition) error

	// InsertBalanceTransaction appends one immutable audit row. There is
	// deliberately no update or delete.
	InsertBalanceTransaction(ctx context.Context, t *model.BalanceTransaction) error
}
