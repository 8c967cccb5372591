package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/babylon/trading-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Row locks come from SELECT ... FOR UPDATE under a per-transaction
// lock_timeout; a timed-out lock surfaces as ErrContention.
type PostgresStore struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, lockTimeout: 2 * time.Second}
}

// SetLockTimeout overrides the row-lock acquisition timeout.
func (s *PostgresStore) SetLockTimeout(d time.Duration) {
	s.lockTimeout = d
}

// lockNotAvailable is the PostgreSQL error code raised when lock_timeout
// expires while waiting on a row lock.
const lockNotAvailable = "55P03"

func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case lockNotAvailable:
			return ErrContention
		case "23505": // unique_violation
			return ErrConflict
		}
	}
	return err
}

// --- Row scanning ---

const marketCols = `id, question, yes_reserve::TEXT, no_reserve::TEXT, liquidity_param::TEXT,
	resolved, outcome, end_date, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMarket(row rowScanner) (*model.Market, error) {
	var m model.Market
	var yes, no, liq string
	if err := row.Scan(&m.ID, &m.Question, &yes, &no, &liq,
		&m.Resolved, &m.Outcome, &m.EndDate, &m.CreatedAt); err != nil {
		return nil, mapPgError(err)
	}
	m.YesReserve, _ = decimal.NewFromString(yes)
	m.NoReserve, _ = decimal.NewFromString(no)
	m.LiquidityParam, _ = decimal.NewFromString(liq)
	return &m, nil
}

const poolCols = `id, available_balance::TEXT, total_deposits::TEXT, lifetime_pnl::TEXT,
	total_fees_collected::TEXT, created_at`

func scanPool(row rowScanner) (*model.Pool, error) {
	var p model.Pool
	var bal, dep, pnl, fees string
	if err := row.Scan(&p.ID, &bal, &dep, &pnl, &fees, &p.CreatedAt); err != nil {
		return nil, mapPgError(err)
	}
	p.AvailableBalance, _ = decimal.NewFromString(bal)
	p.TotalDeposits, _ = decimal.NewFromString(dep)
	p.LifetimePnL, _ = decimal.NewFromString(pnl)
	p.TotalFeesCollected, _ = decimal.NewFromString(fees)
	return &p, nil
}

const positionCols = `id, pool_id, market_id, side, shares::TEXT, cost_basis::TEXT, opened_at, closed_at`

func scanPosition(row rowScanner) (*model.Position, error) {
	var p model.Position
	var shares, cost string
	if err := row.Scan(&p.ID, &p.PoolID, &p.MarketID, &p.Side, &shares, &cost,
		&p.OpenedAt, &p.ClosedAt); err != nil {
		return nil, mapPgError(err)
	}
	p.Shares, _ = decimal.NewFromString(shares)
	p.CostBasis, _ = decimal.NewFromString(cost)
	return &p, nil
}

const perpCols = `id, owner_id, ticker, side, entry_price::TEXT, current_price::TEXT,
	size::TEXT, leverage::TEXT, margin::TEXT, liquidation_price::TEXT,
	unrealized_pnl::TEXT, funding_paid::TEXT, status, opened_at, last_funding_at,
	last_updated, closed_at`

func scanPerp(row rowScanner) (*model.PerpPosition, error) {
	var p model.PerpPosition
	var entry, cur, size, lev, margin, liq, pnl, funding string
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Ticker, &p.Side, &entry, &cur,
		&size, &lev, &margin, &liq, &pnl, &funding, &p.Status,
		&p.OpenedAt, &p.LastFundingAt, &p.LastUpdated, &p.ClosedAt); err != nil {
		return nil, mapPgError(err)
	}
	p.EntryPrice, _ = decimal.NewFromString(entry)
	p.CurrentPrice, _ = decimal.NewFromString(cur)
	p.Size, _ = decimal.NewFromString(size)
	p.Leverage, _ = decimal.NewFromString(lev)
	p.Margin, _ = decimal.NewFromString(margin)
	p.LiquidationPrice, _ = decimal.NewFromString(liq)
	p.UnrealizedPnL, _ = decimal.NewFromString(pnl)
	p.FundingPaid, _ = decimal.NewFromString(funding)
	return &p, nil
}

// --- Reader ---

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func getMarket(ctx context.Context, q querier, id, suffix string) (*model.Market, error) {
	return scanMarket(q.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`+suffix, id))
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	return getMarket(ctx, s.pool, id, "")
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketCols+` FROM markets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func getPool(ctx context.Context, q querier, id, suffix string) (*model.Pool, error) {
	return scanPool(q.QueryRow(ctx,
		`SELECT `+poolCols+` FROM pools WHERE id = $1`+suffix, id))
}

func (s *PostgresStore) GetPool(ctx context.Context, id string) (*model.Pool, error) {
	return getPool(ctx, s.pool, id, "")
}

func (s *PostgresStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	return scanPosition(s.pool.QueryRow(ctx,
		`SELECT `+positionCols+` FROM positions WHERE id = $1`, id))
}

func getPerp(ctx context.Context, q querier, id, suffix string) (*model.PerpPosition, error) {
	return scanPerp(q.QueryRow(ctx,
		`SELECT `+perpCols+` FROM perp_positions WHERE id = $1`+suffix, id))
}

func (s *PostgresStore) GetPerpPosition(ctx context.Context, id string) (*model.PerpPosition, error) {
	return getPerp(ctx, s.pool, id, "")
}

func listPerps(ctx context.Context, q querier, where string, args ...any) ([]model.PerpPosition, error) {
	rows, err := q.Query(ctx,
		`SELECT `+perpCols+` FROM perp_positions `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PerpPosition
	for rows.Next() {
		p, err := scanPerp(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListOpenPerpPositions(ctx context.Context) ([]model.PerpPosition, error) {
	return listPerps(ctx, s.pool, `WHERE status = 'open'`)
}

func (s *PostgresStore) ListBalanceTransactions(ctx context.Context, poolID string) ([]model.BalanceTransaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, pool_id, type, amount::TEXT, balance_before::TEXT, balance_after::TEXT,
		        related_id, description, created_at
		 FROM balance_transactions WHERE pool_id = $1 ORDER BY created_at`, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BalanceTransaction
	for rows.Next() {
		var t model.BalanceTransaction
		var amount, before, after string
		if err := rows.Scan(&t.ID, &t.PoolID, &t.Type, &amount, &before, &after,
			&t.RelatedID, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Amount, _ = decimal.NewFromString(amount)
		t.BalanceBefore, _ = decimal.NewFromString(before)
		t.BalanceAfter, _ = decimal.NewFromString(after)
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- Creates ---

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, question, yes_reserve, no_reserve, liquidity_param, resolved, outcome, end_date, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6, $7, $8, $9)`,
		m.ID, m.Question, m.YesReserve.String(), m.NoReserve.String(),
		m.LiquidityParam.String(), m.Resolved, m.Outcome, m.EndDate, m.CreatedAt)
	return mapPgError(err)
}

func (s *PostgresStore) CreatePool(ctx context.Context, p *model.Pool) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pools (id, available_balance, total_deposits, lifetime_pnl, total_fees_collected, created_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6)`,
		p.ID, p.AvailableBalance.String(), p.TotalDeposits.String(),
		p.LifetimePnL.String(), p.TotalFeesCollected.String(), p.CreatedAt)
	return mapPgError(err)
}

// --- Transactions ---

func (s *PostgresStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	pgtx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer pgtx.Rollback(ctx) // no-op after commit

	// lock_timeout bounds every FOR UPDATE wait in this unit; SET LOCAL
	// reverts on commit/rollback.
	if _, err := pgtx.Exec(ctx,
		fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return err
	}

	if err := fn(&pgTx{tx: pgtx}); err != nil {
		return err
	}
	return pgtx.Commit(ctx)
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockMarket(ctx context.Context, id string) (*model.Market, error) {
	return getMarket(ctx, t.tx, id, ` FOR UPDATE`)
}

func (t *pgTx) LockPool(ctx context.Context, id string) (*model.Pool, error) {
	return getPool(ctx, t.tx, id, ` FOR UPDATE`)
}

func (t *pgTx) LockPerpPosition(ctx context.Context, id string) (*model.PerpPosition, error) {
	return getPerp(ctx, t.tx, id, ` FOR UPDATE`)
}

func (t *pgTx) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	return scanPosition(t.tx.QueryRow(ctx,
		`SELECT `+positionCols+` FROM positions WHERE id = $1`, id))
}

func (t *pgTx) FindOpenPosition(ctx context.Context, poolID, marketID string, side model.Side) (*model.Position, error) {
	return scanPosition(t.tx.QueryRow(ctx,
		`SELECT `+positionCols+` FROM positions
		 WHERE pool_id = $1 AND market_id = $2 AND side = $3 AND closed_at IS NULL`,
		poolID, marketID, side))
}

func (t *pgTx) ListOpenPositionsByMarket(ctx context.Context, marketID string) ([]model.Position, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+positionCols+` FROM positions
		 WHERE market_id = $1 AND closed_at IS NULL ORDER BY id`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (t *pgTx) ListOpenPerpPositionsByOwner(ctx context.Context, ownerID string) ([]model.PerpPosition, error) {
	return listPerps(ctx, t.tx, `WHERE owner_id = $1 AND status = 'open'`, ownerID)
}

func (t *pgTx) UpdateMarket(ctx context.Context, m *model.Market) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE markets
		 SET yes_reserve = $2::NUMERIC, no_reserve = $3::NUMERIC, resolved = $4, outcome = $5
		 WHERE id = $1`,
		m.ID, m.YesReserve.String(), m.NoReserve.String(), m.Resolved, m.Outcome)
	return mapPgError(err)
}

func (t *pgTx) UpdatePool(ctx context.Context, p *model.Pool) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE pools
		 SET available_balance = $2::NUMERIC, total_deposits = $3::NUMERIC,
		     lifetime_pnl = $4::NUMERIC, total_fees_collected = $5::NUMERIC
		 WHERE id = $1`,
		p.ID, p.AvailableBalance.String(), p.TotalDeposits.String(),
		p.LifetimePnL.String(), p.TotalFeesCollected.String())
	return mapPgError(err)
}

func (t *pgTx) InsertPosition(ctx context.Context, p *model.Position) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO positions (id, pool_id, market_id, side, shares, cost_basis, opened_at, closed_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8)`,
		p.ID, p.PoolID, p.MarketID, p.Side, p.Shares.String(), p.CostBasis.String(),
		p.OpenedAt, p.ClosedAt)
	return mapPgError(err)
}

func (t *pgTx) UpdatePosition(ctx context.Context, p *model.Position) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE positions
		 SET shares = $2::NUMERIC, cost_basis = $3::NUMERIC, closed_at = $4
		 WHERE id = $1`,
		p.ID, p.Shares.String(), p.CostBasis.String(), p.ClosedAt)
	return mapPgError(err)
}

func (t *pgTx) InsertPerpPosition(ctx context.Context, p *model.PerpPosition) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO perp_positions (id, owner_id, ticker, side, entry_price, current_price,
		        size, leverage, margin, liquidation_price, unrealized_pnl, funding_paid,
		        status, opened_at, last_funding_at, last_updated, closed_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC,
		         $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12::NUMERIC, $13, $14, $15, $16, $17)`,
		p.ID, p.OwnerID, p.Ticker, p.Side, p.EntryPrice.String(), p.CurrentPrice.String(),
		p.Size.String(), p.Leverage.String(), p.Margin.String(), p.LiquidationPrice.String(),
		p.UnrealizedPnL.String(), p.FundingPaid.String(), p.Status,
		p.OpenedAt, p.LastFundingAt, p.LastUpdated, p.ClosedAt)
	return mapPgError(err)
}

func (t *pgTx) UpdatePerpPosition(ctx context.Context, p *model.PerpPosition) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE perp_positions
		 SET current_price = $2::NUMERIC, size = $3::NUMERIC, leverage = $4::NUMERIC,
		     margin = $5::NUMERIC, liquidation_price = $6::NUMERIC,
		     unrealized_pnl = $7::NUMERIC, funding_paid = $8::NUMERIC,
		     status = $9, last_funding_at = $10, last_updated = $11, closed_at = $12
		 WHERE id = $1`,
		p.ID, p.CurrentPrice.String(), p.Size.String(), p.Leverage.String(),
		p.Margin.String(), p.LiquidationPrice.String(), p.UnrealizedPnL.String(),
		p.FundingPaid.String(), p.Status, p.LastFundingAt, p.LastUpdated, p.ClosedAt)
	return mapPgError(err)
}

func (t *pgTx) InsertBalanceTransaction(ctx context.Context, b *model.BalanceTransaction) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO balance_transactions (id, pool_id, type, amount, balance_before, balance_after, related_id, description, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8, $9)`,
		b.ID, b.PoolID, b.Type, b.Amount.String(), b.BalanceBefore.String(),
		b.BalanceAfter.String(), b.RelatedID, b.Description, b.CreatedAt)
	return mapPgError(err)
}
