package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/babylon/trading-engine/internal/metrics"
	"github.com/babylon/trading-engine/internal/model"
	"github.com/babylon/trading-engine/internal/store"
	"github.com/babylon/trading-engine/internal/ticker"
)

const fundingPeriod = 8 * time.Hour

// executeOpenPerp opens a leveraged perpetual position. Margin (size /
// leverage) is debited up front; the position enters at the current index
// price.
func (s *Service) executeOpenPerp(ctx context.Context, d *model.TradingDecision, side model.PerpSide) (*model.ExecutedTrade, error) {
	if _, err := ticker.Parse(d.Ticker); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if d.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: size must be positive", ErrValidation)
	}
	if err := s.risk.ValidateLeverage(d.Leverage); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	entryPrice, err := s.feed.IndexPrice(ctx, d.Ticker)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if d.LimitPrice.IsPositive() {
		if side == model.PerpLong && entryPrice.GreaterThan(d.LimitPrice) {
			return nil, fmt.Errorf("%w: entry %s above limit %s", ErrSlippageExceeded, entryPrice, d.LimitPrice)
		}
		if side == model.PerpShort && entryPrice.LessThan(d.LimitPrice) {
			return nil, fmt.Errorf("%w: entry %s below limit %s", ErrSlippageExceeded, entryPrice, d.LimitPrice)
		}
	}

	liqPrice, err := s.risk.LiquidationPrice(entryPrice, side, d.Leverage)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	margin := d.Amount.Div(d.Leverage)

	var trade *model.ExecutedTrade
	err = s.store.RunInTx(ctx, func(tx store.Tx) error {
		pool, err := tx.LockPool(ctx, d.PoolID)
		if err != nil {
			return err
		}

		// Exposure check under the pool lock so concurrent opens cannot
		// both pass.
		open, err := tx.ListOpenPerpPositionsByOwner(ctx, d.PoolID)
		if err != nil {
			return err
		}
		notional := make(map[string]decimal.Decimal, len(open))
		for _, p := range open {
			notional[p.Ticker] = notional[p.Ticker].Add(p.Size)
		}
		if err := s.limits.CheckLimit(d.Ticker, d.Amount, notional); err != nil {
			return err
		}

		position := &model.PerpPosition{
			ID:               uuid.New().String(),
			OwnerID:          d.PoolID,
			Ticker:           d.Ticker,
			Side:             side,
			EntryPrice:       entryPrice,
			CurrentPrice:     entryPrice,
			Size:             d.Amount,
			Leverage:         d.Leverage,
			Margin:           margin,
			LiquidationPrice: liqPrice,
			Status:           model.PerpOpen,
			OpenedAt:         s.now(),
			LastFundingAt:    s.now(),
			LastUpdated:      s.now(),
		}

		if _, err := s.ledger.Debit(ctx, tx, pool, margin, model.TxPerpOpen, position.ID,
			fmt.Sprintf("margin for %s %s", side, d.Ticker)); err != nil {
			return err
		}
		if err := tx.InsertPerpPosition(ctx, position); err != nil {
			return err
		}

		trade = &model.ExecutedTrade{
			PositionID:    position.ID,
			MarketType:    model.MarketPerpetual,
			Action:        d.Action,
			SharesOrSize:  d.Amount,
			AmountCharged: margin,
			Fee:           decimal.Zero,
			RealizedPnL:   decimal.Zero,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return trade, nil
}

// exitPrice computes the manipulation-resistant mark price a position
// closes or liquidates against.
func (s *Service) exitPrice(ctx context.Context, p *model.PerpPosition) (decimal.Decimal, error) {
	index, err := s.feed.IndexPrice(ctx, p.Ticker)
	if err != nil {
		return decimal.Zero, err
	}
	rate, err := s.feed.FundingRate(ctx, p.Ticker)
	if err != nil {
		return decimal.Zero, err
	}
	return s.risk.MarkPrice(index, p.CurrentPrice, rate), nil
}

// executeClosePerp closes an open perpetual position at the mark price and
// settles margin plus PnL back to the owner. The payout is floored at zero;
// losses never exceed posted margin.
func (s *Service) executeClosePerp(ctx context.Context, d *model.TradingDecision) (*model.ExecutedTrade, error) {
	if d.PositionID == "" {
		return nil, fmt.Errorf("%w: position_id is required", ErrValidation)
	}

	var trade *model.ExecutedTrade
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		position, err := tx.LockPerpPosition(ctx, d.PositionID)
		if err != nil {
			return err
		}
		if position.OwnerID != d.PoolID {
			return fmt.Errorf("%w: pool %s does not own position %s", ErrValidation, d.PoolID, d.PositionID)
		}
		switch position.Status {
		case model.PerpLiquidated:
			return ErrLiquidated
		case model.PerpClosed:
			return ErrPositionClosed
		}

		exit, err := s.exitPrice(ctx, position)
		if err != nil {
			return err
		}
		pnl, err := s.risk.UnrealizedPnL(position.EntryPrice, exit, position.Side, position.Size)
		if err != nil {
			return err
		}

		pool, err := tx.LockPool(ctx, position.OwnerID)
		if err != nil {
			return err
		}

		payout := position.Margin.Add(pnl.PnL)
		if payout.IsNegative() {
			payout = decimal.Zero
		}
		realized := payout.Sub(position.Margin)

		pool.LifetimePnL = pool.LifetimePnL.Add(realized)
		if payout.IsPositive() {
			if _, err := s.ledger.Credit(ctx, tx, pool, payout, model.TxPerpClose, position.ID,
				fmt.Sprintf("close %s %s", position.Side, position.Ticker)); err != nil {
				return err
			}
		} else if err := tx.UpdatePool(ctx, pool); err != nil {
			return err
		}

		now := s.now()
		position.Status = model.PerpClosed
		position.CurrentPrice = exit
		position.UnrealizedPnL = decimal.Zero
		position.LastUpdated = now
		position.ClosedAt = &now
		if err := tx.UpdatePerpPosition(ctx, position); err != nil {
			return err
		}

		trade = &model.ExecutedTrade{
			PositionID:    position.ID,
			MarketType:    model.MarketPerpetual,
			Action:        d.Action,
			SharesOrSize:  position.Size,
			AmountCharged: payout.Neg(),
			Fee:           decimal.Zero,
			RealizedPnL:   realized,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return trade, nil
}

// ApplyFundingTicks settles funding on every open perpetual position that
// has completed at least one full 8-hour period since its last funding
// settlement. Partial periods accrue nothing, so repeated sweeps within a
// period are no-ops. Returns the number of payments applied.
func (s *Service) ApplyFundingTicks(ctx context.Context) (int, error) {
	open, err := s.store.ListOpenPerpPositions(ctx)
	if err != nil {
		return 0, err
	}

	applied := 0
	for i := range open {
		if err := s.applyFunding(ctx, open[i].ID, &applied); err != nil {
			slog.Error("funding tick failed", "position", open[i].ID, "error", err)
		}
	}
	return applied, nil
}

func (s *Service) applyFunding(ctx context.Context, positionID string, applied *int) error {
	return s.store.RunInTx(ctx, func(tx store.Tx) error {
		position, err := tx.LockPerpPosition(ctx, positionID)
		if err != nil {
			return err
		}
		if position.Status != model.PerpOpen {
			return nil
		}

		periods := int64(s.now().Sub(position.LastFundingAt) / fundingPeriod)
		if periods <= 0 {
			return nil
		}
		hours := decimal.NewFromInt(periods * 8)

		rate, err := s.feed.FundingRate(ctx, position.Ticker)
		if err != nil {
			return err
		}
		payment := s.risk.FundingPayment(position.Size, rate, hours)

		// Positive payment flows from longs to shorts; shorts receive it.
		// Negative flows the other way.
		owes := payment
		if position.Side == model.PerpShort {
			owes = payment.Neg()
		}

		pool, err := tx.LockPool(ctx, position.OwnerID)
		if err != nil {
			return err
		}

		var moved decimal.Decimal
		switch {
		case owes.IsPositive():
			// Funding never overdraws: cap at the available balance.
			due := owes
			if due.GreaterThan(pool.AvailableBalance) {
				due = pool.AvailableBalance
			}
			if due.IsPositive() {
				if _, err := s.ledger.Debit(ctx, tx, pool, due, model.TxFunding, position.ID,
					fmt.Sprintf("funding on %s", position.Ticker)); err != nil {
					return err
				}
			}
			moved = due
		case owes.IsNegative():
			receive := owes.Neg()
			if _, err := s.ledger.Credit(ctx, tx, pool, receive, model.TxFunding, position.ID,
				fmt.Sprintf("funding on %s", position.Ticker)); err != nil {
				return err
			}
			moved = owes
		default:
			moved = decimal.Zero
		}

		position.FundingPaid = position.FundingPaid.Add(moved)
		position.LastFundingAt = position.LastFundingAt.Add(time.Duration(periods) * fundingPeriod)
		position.LastUpdated = s.now()
		if err := tx.UpdatePerpPosition(ctx, position); err != nil {
			return err
		}

		if !moved.IsZero() {
			*applied++
			metrics.FundingPaymentsTotal.Inc()
		}
		return nil
	})
}

// RunLiquidationSweep marks every open perpetual position to the current
// mark price and force-closes those whose mark has crossed the liquidation
// threshold. Liquidated positions settle at the liquidation price; the
// remaining payout, if any, is returned to the owner. Returns the number of
// positions liquidated.
func (s *Service) RunLiquidationSweep(ctx context.Context) (int, error) {
	open, err := s.store.ListOpenPerpPositions(ctx)
	if err != nil {
		return 0, err
	}

	liquidated := 0
	for i := range open {
		hit, err := s.sweepPosition(ctx, open[i].ID)
		if err != nil {
			slog.Error("liquidation sweep failed", "position", open[i].ID, "error", err)
			continue
		}
		if hit {
			liquidated++
		}
	}
	return liquidated, nil
}

func (s *Service) sweepPosition(ctx context.Context, positionID string) (bool, error) {
	var hit bool
	var event *Event
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		position, err := tx.LockPerpPosition(ctx, positionID)
		if err != nil {
			return err
		}
		if position.Status != model.PerpOpen {
			return nil
		}

		mark, err := s.exitPrice(ctx, position)
		if err != nil {
			return err
		}

		if !s.risk.ShouldLiquidate(mark, position.LiquidationPrice, position.Side) {
			// Mark-to-market refresh only.
			pnl, err := s.risk.UnrealizedPnL(position.EntryPrice, mark, position.Side, position.Size)
			if err != nil {
				return err
			}
			position.CurrentPrice = mark
			position.UnrealizedPnL = pnl.PnL
			position.LastUpdated = s.now()
			return tx.UpdatePerpPosition(ctx, position)
		}

		// Settle at the liquidation price, not the mark: margin beyond the
		// threshold is gone either way and this keeps liquidation payouts
		// independent of sweep timing.
		pnl, err := s.risk.UnrealizedPnL(position.EntryPrice, position.LiquidationPrice, position.Side, position.Size)
		if err != nil {
			return err
		}

		pool, err := tx.LockPool(ctx, position.OwnerID)
		if err != nil {
			return err
		}

		payout := position.Margin.Add(pnl.PnL)
		if payout.IsNegative() {
			payout = decimal.Zero
		}
		realized := payout.Sub(position.Margin)

		pool.LifetimePnL = pool.LifetimePnL.Add(realized)
		if payout.IsPositive() {
			if _, err := s.ledger.Credit(ctx, tx, pool, payout, model.TxLiquidation, position.ID,
				fmt.Sprintf("liquidation of %s %s", position.Side, position.Ticker)); err != nil {
				return err
			}
		} else if err := tx.UpdatePool(ctx, pool); err != nil {
			return err
		}

		now := s.now()
		position.Status = model.PerpLiquidated
		position.CurrentPrice = position.LiquidationPrice
		position.UnrealizedPnL = decimal.Zero
		position.LastUpdated = now
		position.ClosedAt = &now
		if err := tx.UpdatePerpPosition(ctx, position); err != nil {
			return err
		}

		hit = true
		event = &Event{
			Type:   "position_liquidated",
			PoolID: position.OwnerID,
			Ticker: position.Ticker,
			Price:  position.LiquidationPrice.String(),
			PnL:    realized.String(),
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if hit {
		metrics.LiquidationsTotal.Inc()
		slog.Info("position liquidated", "position", positionID)
		if s.hub != nil && event != nil {
			s.hub.Broadcast(*event)
		}
	}
	return hit, nil
}
