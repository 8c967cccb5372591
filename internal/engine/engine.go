// Package engine executes trading decisions against prediction markets and
// perpetual futures. It is the only writer of market, position, and balance
// state; decision layers (NPC brains, humans, UIs) produce TradingDecision
// values and hand them here.
//
// Execution is atomic per decision: the rows a trade touches are locked,
// quoted, and written inside one store transaction. Quoting against an
// unlocked snapshot and writing afterwards is the lost-update race this
// package exists to prevent.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/babylon/trading-engine/internal/amm"
	"github.com/babylon/trading-engine/internal/feed"
	"github.com/babylon/trading-engine/internal/ledger"
	"github.com/babylon/trading-engine/internal/metrics"
	"github.com/babylon/trading-engine/internal/model"
	"github.com/babylon/trading-engine/internal/perp"
	"github.com/babylon/trading-engine/internal/risklimit"
	"github.com/babylon/trading-engine/internal/store"
)

var (
	// ErrValidation is returned for decisions that are malformed before any
	// state is touched: missing IDs, non-positive amounts, wrong-market
	// actions.
	ErrValidation = errors.New("engine: invalid decision")

	// ErrMarketClosed is returned when trading a market that is resolved or
	// past its end date.
	ErrMarketClosed = errors.New("engine: market closed to trading")

	// ErrSlippageExceeded is returned when the effective price breaches the
	// decision's limit price. Nothing is charged.
	ErrSlippageExceeded = errors.New("engine: slippage limit exceeded")

	// ErrPositionClosed is returned when selling or closing a position that
	// is already closed.
	ErrPositionClosed = errors.New("engine: position already closed")

	// ErrLiquidated is returned when closing a perpetual position that was
	// force-closed by the liquidation sweep.
	ErrLiquidated = errors.New("engine: position was liquidated")

	// ErrNoOutcome is returned when settling a market whose resolution
	// outcome is not yet available from the feed.
	ErrNoOutcome = errors.New("engine: no resolution outcome available")
)

// Broadcaster receives events for real-time fan-out. Implementations must
// not block.
type Broadcaster interface {
	Broadcast(event Event)
}

// Event is a real-time notification about engine activity.
type Event struct {
	Type     string `json:"type"`
	PoolID   string `json:"pool_id,omitempty"`
	MarketID string `json:"market_id,omitempty"`
	Ticker   string `json:"ticker,omitempty"`
	Action   string `json:"action,omitempty"`
	Amount   string `json:"amount,omitempty"`
	Price    string `json:"price,omitempty"`
	PnL      string `json:"pnl,omitempty"`
}

// Service executes trading decisions. All collaborators are injected;
// construct one per process and share it freely, every method is safe for
// concurrent use.
type Service struct {
	store  store.Store
	feed   feed.Feed
	mm     *amm.MarketMaker
	risk   *perp.RiskEngine
	ledger *ledger.Ledger
	limits *risklimit.Limiter
	hub    Broadcaster // optional

	now func() time.Time
}

// NewService creates an execution service. Pass nil for hub if real-time
// broadcasting is not needed.
func NewService(st store.Store, fd feed.Feed, mm *amm.MarketMaker, risk *perp.RiskEngine, led *ledger.Ledger, limits *risklimit.Limiter, hub Broadcaster) *Service {
	return &Service{
		store:  st,
		feed:   fd,
		mm:     mm,
		risk:   risk,
		ledger: led,
		limits: limits,
		hub:    hub,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the service clock. Test hook.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Init hydrates gauges and logs a startup snapshot. Call once after
// construction.
func (s *Service) Init(ctx context.Context) error {
	markets, err := s.store.ListMarkets(ctx)
	if err != nil {
		return fmt.Errorf("engine: init: %w", err)
	}
	active := 0
	for _, m := range markets {
		if !m.Resolved {
			active++
		}
	}
	metrics.ActiveMarkets.Set(float64(active))

	perps, err := s.store.ListOpenPerpPositions(ctx)
	if err != nil {
		return fmt.Errorf("engine: init: %w", err)
	}

	slog.Info("engine initialized",
		"markets", len(markets),
		"active_markets", active,
		"open_perp_positions", len(perps),
	)
	return nil
}

// ExecuteDecision validates and executes one trading decision atomically.
// On success the returned ExecutedTrade summarizes what was charged,
// credited, and realized.
func (s *Service) ExecuteDecision(ctx context.Context, d *model.TradingDecision) (*model.ExecutedTrade, error) {
	if d.PoolID == "" {
		return nil, fmt.Errorf("%w: pool_id is required", ErrValidation)
	}
	if _, err := model.ParseAction(string(d.Action)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	start := time.Now()
	trade, err := s.dispatch(ctx, d)
	if err != nil {
		metrics.TradeRejections.WithLabelValues(rejectionReason(err)).Inc()
		return nil, err
	}

	metrics.TradesTotal.WithLabelValues(string(d.Action)).Inc()
	metrics.TradeLatency.WithLabelValues(string(d.Action)).Observe(time.Since(start).Seconds())

	slog.Info("decision executed",
		"pool", d.PoolID,
		"action", d.Action,
		"position", trade.PositionID,
		"amount_charged", trade.AmountCharged.String(),
		"fee", trade.Fee.String(),
		"realized_pnl", trade.RealizedPnL.String(),
	)

	if s.hub != nil {
		s.hub.Broadcast(Event{
			Type:     "trade_executed",
			PoolID:   d.PoolID,
			MarketID: d.MarketID,
			Ticker:   d.Ticker,
			Action:   string(d.Action),
			Amount:   trade.AmountCharged.String(),
			PnL:      trade.RealizedPnL.String(),
		})
	}
	return trade, nil
}

func (s *Service) dispatch(ctx context.Context, d *model.TradingDecision) (*model.ExecutedTrade, error) {
	switch d.Action {
	case model.ActionBuyYes:
		return s.executeBuy(ctx, d, model.SideYes)
	case model.ActionBuyNo:
		return s.executeBuy(ctx, d, model.SideNo)
	case model.ActionSell:
		return s.executeSell(ctx, d, false)
	case model.ActionClosePosition:
		return s.executeSell(ctx, d, true)
	case model.ActionOpenLong:
		return s.executeOpenPerp(ctx, d, model.PerpLong)
	case model.ActionOpenShort:
		return s.executeOpenPerp(ctx, d, model.PerpShort)
	case model.ActionClosePerp:
		return s.executeClosePerp(ctx, d)
	default:
		// Unreachable after ParseAction; kept so a new Action constant
		// cannot silently fall through.
		return nil, fmt.Errorf("%w: unhandled action %q", ErrValidation, d.Action)
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrMarketClosed):
		return "market_closed"
	case errors.Is(err, ErrSlippageExceeded):
		return "slippage"
	case errors.Is(err, ErrPositionClosed), errors.Is(err, ErrLiquidated):
		return "position_closed"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, risklimit.ErrTickerLimitExceeded), errors.Is(err, risklimit.ErrAggregateLimitExceeded):
		return "exposure_limit"
	case errors.Is(err, store.ErrContention):
		return "contention"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}

// --- Pools and markets ---

// CreateMarket creates a binary prediction market seeded with equal yes/no
// reserves, so both sides start at price 0.5.
func (s *Service) CreateMarket(ctx context.Context, question string, endDate time.Time, initialLiquidity decimal.Decimal) (*model.Market, error) {
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", ErrValidation)
	}
	if initialLiquidity.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: initial liquidity must be positive", ErrValidation)
	}
	if !endDate.After(s.now()) {
		return nil, fmt.Errorf("%w: end date must be in the future", ErrValidation)
	}

	market := &model.Market{
		ID:             uuid.New().String(),
		Question:       question,
		YesReserve:     initialLiquidity,
		NoReserve:      initialLiquidity,
		LiquidityParam: initialLiquidity,
		EndDate:        endDate,
		CreatedAt:      s.now(),
	}
	if err := s.store.CreateMarket(ctx, market); err != nil {
		return nil, err
	}

	metrics.ActiveMarkets.Inc()
	slog.Info("market created",
		"id", market.ID,
		"question", question,
		"liquidity", initialLiquidity.String(),
		"end_date", endDate,
	)
	return market, nil
}

// CreatePool creates a trader wallet, optionally seeded with an initial
// deposit recorded through the ledger.
func (s *Service) CreatePool(ctx context.Context, initialDeposit decimal.Decimal) (*model.Pool, error) {
	if initialDeposit.IsNegative() {
		return nil, fmt.Errorf("%w: initial deposit cannot be negative", ErrValidation)
	}

	pool := &model.Pool{
		ID:        uuid.New().String(),
		CreatedAt: s.now(),
	}
	if err := s.store.CreatePool(ctx, pool); err != nil {
		return nil, err
	}

	if initialDeposit.IsPositive() {
		if err := s.Deposit(ctx, pool.ID, initialDeposit); err != nil {
			return nil, err
		}
		pool.AvailableBalance = initialDeposit
		pool.TotalDeposits = initialDeposit
	}

	slog.Info("pool created", "id", pool.ID, "initial_deposit", initialDeposit.String())
	return pool, nil
}

// Deposit credits external funds into a pool.
func (s *Service) Deposit(ctx context.Context, poolID string, amount decimal.Decimal) error {
	return s.store.RunInTx(ctx, func(tx store.Tx) error {
		pool, err := tx.LockPool(ctx, poolID)
		if err != nil {
			return err
		}
		pool.TotalDeposits = pool.TotalDeposits.Add(amount)
		_, err = s.ledger.Credit(ctx, tx, pool, amount, model.TxDeposit, "", "deposit")
		return err
	})
}

// Withdraw debits funds out of a pool. Fails with
// ledger.ErrInsufficientFunds when the available balance does not cover the
// amount; margin locked in open positions is not withdrawable.
func (s *Service) Withdraw(ctx context.Context, poolID string, amount decimal.Decimal) error {
	return s.store.RunInTx(ctx, func(tx store.Tx) error {
		pool, err := tx.LockPool(ctx, poolID)
		if err != nil {
			return err
		}
		_, err = s.ledger.Debit(ctx, tx, pool, amount, model.TxWithdraw, "", "withdrawal")
		return err
	})
}
