package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/babylon/trading-engine/internal/amm"
	"github.com/babylon/trading-engine/internal/metrics"
	"github.com/babylon/trading-engine/internal/model"
	"github.com/babylon/trading-engine/internal/store"
)

// tradeable rejects resolved or expired markets.
func (s *Service) tradeable(m *model.Market) error {
	if m.Resolved {
		return fmt.Errorf("%w: market %s is resolved", ErrMarketClosed, m.ID)
	}
	if !s.now().Before(m.EndDate) {
		return fmt.Errorf("%w: market %s is past its end date", ErrMarketClosed, m.ID)
	}
	return nil
}

// executeBuy spends d.Amount of collateral on one side of a prediction
// market. Lock order: market row, then pool row.
func (s *Service) executeBuy(ctx context.Context, d *model.TradingDecision, side model.Side) (*model.ExecutedTrade, error) {
	if d.MarketID == "" {
		return nil, fmt.Errorf("%w: market_id is required", ErrValidation)
	}
	if d.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}

	var trade *model.ExecutedTrade
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		market, err := tx.LockMarket(ctx, d.MarketID)
		if err != nil {
			return err
		}
		if err := s.tradeable(market); err != nil {
			return err
		}

		pool, err := tx.LockPool(ctx, d.PoolID)
		if err != nil {
			return err
		}

		quote, err := s.mm.QuoteBuy(market.YesReserve, market.NoReserve, side, d.Amount)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		if d.LimitPrice.IsPositive() && quote.AvgPrice.GreaterThan(d.LimitPrice) {
			return fmt.Errorf("%w: avg price %s above limit %s",
				ErrSlippageExceeded, quote.AvgPrice, d.LimitPrice)
		}

		// Fee counter rides the same pool update the debit writes.
		pool.TotalFeesCollected = pool.TotalFeesCollected.Add(quote.Fee)
		if _, err := s.ledger.Debit(ctx, tx, pool, quote.TotalCost, model.TxBuy, d.MarketID,
			fmt.Sprintf("buy %s on market %s", side, d.MarketID)); err != nil {
			return err
		}

		position, err := s.upsertPosition(ctx, tx, d.PoolID, d.MarketID, side, quote)
		if err != nil {
			return err
		}

		market.YesReserve = quote.NewYesReserve
		market.NoReserve = quote.NewNoReserve
		if err := tx.UpdateMarket(ctx, market); err != nil {
			return err
		}

		trade = &model.ExecutedTrade{
			PositionID:    position.ID,
			MarketType:    model.MarketPrediction,
			Action:        d.Action,
			SharesOrSize:  quote.SharesOut,
			AmountCharged: quote.TotalCost,
			Fee:           quote.Fee,
			RealizedPnL:   decimal.Zero,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return trade, nil
}

// upsertPosition adds shares to the pool's open position on (market, side),
// creating it when none exists. Cost basis accrues net of fee.
func (s *Service) upsertPosition(ctx context.Context, tx store.Tx, poolID, marketID string, side model.Side, quote *amm.BuyQuote) (*model.Position, error) {
	position, err := tx.FindOpenPosition(ctx, poolID, marketID, side)
	switch {
	case errors.Is(err, store.ErrNotFound):
		position = &model.Position{
			ID:        uuid.New().String(),
			PoolID:    poolID,
			MarketID:  marketID,
			Side:      side,
			Shares:    quote.SharesOut,
			CostBasis: quote.NetAmount,
			OpenedAt:  s.now(),
		}
		return position, tx.InsertPosition(ctx, position)
	case err != nil:
		return nil, err
	default:
		position.Shares = position.Shares.Add(quote.SharesOut)
		position.CostBasis = position.CostBasis.Add(quote.NetAmount)
		return position, tx.UpdatePosition(ctx, position)
	}
}

// executeSell returns shares to the market pool for collateral. closeAll
// sells the position's full share balance regardless of d.Amount.
func (s *Service) executeSell(ctx context.Context, d *model.TradingDecision, closeAll bool) (*model.ExecutedTrade, error) {
	if d.PositionID == "" {
		return nil, fmt.Errorf("%w: position_id is required", ErrValidation)
	}
	if !closeAll && d.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}

	// Unlocked pre-read to learn the lock targets; everything is
	// re-validated under the locks.
	snapshot, err := s.store.GetPosition(ctx, d.PositionID)
	if err != nil {
		return nil, err
	}

	var trade *model.ExecutedTrade
	err = s.store.RunInTx(ctx, func(tx store.Tx) error {
		market, err := tx.LockMarket(ctx, snapshot.MarketID)
		if err != nil {
			return err
		}
		if err := s.tradeable(market); err != nil {
			return err
		}

		position, err := tx.GetPosition(ctx, d.PositionID)
		if err != nil {
			return err
		}
		if position.PoolID != d.PoolID {
			return fmt.Errorf("%w: pool %s does not own position %s", ErrValidation, d.PoolID, d.PositionID)
		}
		if position.ClosedAt != nil || !position.Shares.IsPositive() {
			return ErrPositionClosed
		}

		shares := d.Amount
		if closeAll {
			shares = position.Shares
		}
		if shares.GreaterThan(position.Shares) {
			return fmt.Errorf("%w: selling %s shares but position holds %s",
				ErrValidation, shares, position.Shares)
		}

		quote, err := s.mm.QuoteSell(market.YesReserve, market.NoReserve, position.Side, shares)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		if d.LimitPrice.IsPositive() && quote.AvgPrice.LessThan(d.LimitPrice) {
			return fmt.Errorf("%w: avg price %s below limit %s",
				ErrSlippageExceeded, quote.AvgPrice, d.LimitPrice)
		}

		pool, err := tx.LockPool(ctx, d.PoolID)
		if err != nil {
			return err
		}

		// Realized PnL is proceeds net of fee against the proportional
		// slice of cost basis being sold.
		costSold := position.CostBasis.Mul(shares).Div(position.Shares)
		realized := quote.NetProceeds.Sub(costSold)

		pool.TotalFeesCollected = pool.TotalFeesCollected.Add(quote.Fee)
		pool.LifetimePnL = pool.LifetimePnL.Add(realized)
		if _, err := s.ledger.Credit(ctx, tx, pool, quote.NetProceeds, model.TxSell, position.MarketID,
			fmt.Sprintf("sell %s on market %s", position.Side, position.MarketID)); err != nil {
			return err
		}

		position.Shares = position.Shares.Sub(shares)
		position.CostBasis = position.CostBasis.Sub(costSold)
		if !position.Shares.IsPositive() {
			now := s.now()
			position.ClosedAt = &now
			position.Shares = decimal.Zero
			position.CostBasis = decimal.Zero
		}
		if err := tx.UpdatePosition(ctx, position); err != nil {
			return err
		}

		market.YesReserve = quote.NewYesReserve
		market.NoReserve = quote.NewNoReserve
		if err := tx.UpdateMarket(ctx, market); err != nil {
			return err
		}

		trade = &model.ExecutedTrade{
			PositionID:    position.ID,
			MarketType:    model.MarketPrediction,
			Action:        d.Action,
			SharesOrSize:  shares,
			AmountCharged: quote.NetProceeds.Neg(),
			Fee:           quote.Fee,
			RealizedPnL:   realized,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return trade, nil
}

// SettleMarket resolves a prediction market against the feed's outcome and
// pays every open position: winning shares redeem at 1.0 each, losing
// shares expire worthless. Idempotent; settling a resolved market is a
// no-op.
func (s *Service) SettleMarket(ctx context.Context, marketID string) error {
	outcome, err := s.feed.ResolutionOutcome(ctx, marketID)
	if err != nil {
		return err
	}
	if outcome == nil {
		return fmt.Errorf("%w: market %s", ErrNoOutcome, marketID)
	}

	winningSide := model.SideNo
	if *outcome {
		winningSide = model.SideYes
	}

	var settled bool
	err = s.store.RunInTx(ctx, func(tx store.Tx) error {
		market, err := tx.LockMarket(ctx, marketID)
		if err != nil {
			return err
		}
		if market.Resolved {
			return nil
		}
		settled = true

		positions, err := tx.ListOpenPositionsByMarket(ctx, marketID)
		if err != nil {
			return err
		}

		// Lock pools in sorted ID order; the market lock is already held.
		poolIDs := make([]string, 0, len(positions))
		seen := make(map[string]bool, len(positions))
		for _, p := range positions {
			if !seen[p.PoolID] {
				seen[p.PoolID] = true
				poolIDs = append(poolIDs, p.PoolID)
			}
		}
		sort.Strings(poolIDs)

		pools := make(map[string]*model.Pool, len(poolIDs))
		for _, id := range poolIDs {
			pool, err := tx.LockPool(ctx, id)
			if err != nil {
				return err
			}
			pools[id] = pool
		}

		now := s.now()
		for i := range positions {
			position := &positions[i]
			pool := pools[position.PoolID]

			var realized decimal.Decimal
			if position.Side == winningSide {
				payout := position.Shares // 1.0 per share
				realized = payout.Sub(position.CostBasis)
				if _, err := s.ledger.Credit(ctx, tx, pool, payout, model.TxSettlement, marketID,
					fmt.Sprintf("settlement payout for market %s", marketID)); err != nil {
					return err
				}
			} else {
				realized = position.CostBasis.Neg()
			}
			pool.LifetimePnL = pool.LifetimePnL.Add(realized)
			if err := tx.UpdatePool(ctx, pool); err != nil {
				return err
			}

			position.ClosedAt = &now
			position.Shares = decimal.Zero
			position.CostBasis = decimal.Zero
			if err := tx.UpdatePosition(ctx, position); err != nil {
				return err
			}
		}

		market.Resolved = true
		market.Outcome = outcome
		return tx.UpdateMarket(ctx, market)
	})
	if err != nil {
		return err
	}
	if !settled {
		return nil
	}

	metrics.MarketsSettledTotal.Inc()
	metrics.ActiveMarkets.Dec()
	slog.Info("market settled", "market", marketID, "outcome", *outcome)

	if s.hub != nil {
		s.hub.Broadcast(Event{
			Type:     "market_settled",
			MarketID: marketID,
			Amount:   fmt.Sprintf("%v", *outcome),
		})
	}
	return nil
}

// MarketPrices returns the instantaneous yes/no prices of a market.
func (s *Service) MarketPrices(ctx context.Context, marketID string) (yes, no decimal.Decimal, err error) {
	market, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	yes = s.mm.Price(market.YesReserve, market.NoReserve, model.SideYes)
	no = s.mm.Price(market.YesReserve, market.NoReserve, model.SideNo)
	return yes, no, nil
}

// PreviewBuy prices a prospective buy against the current reserves without
// locking or mutating anything.
func (s *Service) PreviewBuy(ctx context.Context, marketID string, side model.Side, grossAmount decimal.Decimal) (*amm.BuyQuote, error) {
	market, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if err := s.tradeable(market); err != nil {
		return nil, err
	}
	quote, err := s.mm.QuoteBuy(market.YesReserve, market.NoReserve, side, grossAmount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return quote, nil
}

// PreviewSell prices a prospective sell of an open position's shares.
func (s *Service) PreviewSell(ctx context.Context, positionID string, shares decimal.Decimal) (*amm.SellQuote, error) {
	position, err := s.store.GetPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if position.ClosedAt != nil || !position.Shares.IsPositive() {
		return nil, ErrPositionClosed
	}
	if shares.LessThanOrEqual(decimal.Zero) || shares.GreaterThan(position.Shares) {
		return nil, fmt.Errorf("%w: invalid share amount", ErrValidation)
	}
	market, err := s.store.GetMarket(ctx, position.MarketID)
	if err != nil {
		return nil, err
	}
	if err := s.tradeable(market); err != nil {
		return nil, err
	}
	quote, err := s.mm.QuoteSell(market.YesReserve, market.NoReserve, position.Side, shares)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return quote, nil
}
