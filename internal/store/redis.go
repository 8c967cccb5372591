package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/babylon/trading-engine/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache for the
// hot preview reads (markets, pools, perp positions). Writes go to the
// primary; a tracking Tx wrapper records every row an atomic unit touches
// and invalidates those keys after a successful commit.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{primary: primary, rdb: rdb, ttl: ttl}
}

func marketKey(id string) string { return fmt.Sprintf("market:%s", id) }
func poolKey(id string) string   { return fmt.Sprintf("pool:%s", id) }
func perpKey(id string) string   { return fmt.Sprintf("perp:%s", id) }

// --- Read-through ---

func readThrough[T any](ctx context.Context, s *CachedStore, key string, load func() (*T, error)) (*T, error) {
	if data, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		var v T
		if json.Unmarshal(data, &v) == nil {
			return &v, nil
		}
	}

	v, err := load()
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return v, nil
}

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	return readThrough(ctx, s, marketKey(id), func() (*model.Market, error) {
		return s.primary.GetMarket(ctx, id)
	})
}

func (s *CachedStore) GetPool(ctx context.Context, id string) (*model.Pool, error) {
	return readThrough(ctx, s, poolKey(id), func() (*model.Pool, error) {
		return s.primary.GetPool(ctx, id)
	})
}

func (s *CachedStore) GetPerpPosition(ctx context.Context, id string) (*model.PerpPosition, error) {
	return readThrough(ctx, s, perpKey(id), func() (*model.PerpPosition, error) {
		return s.primary.GetPerpPosition(ctx, id)
	})
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	return s.primary.GetPosition(ctx, id)
}

func (s *CachedStore) ListOpenPerpPositions(ctx context.Context) ([]model.PerpPosition, error) {
	return s.primary.ListOpenPerpPositions(ctx)
}

func (s *CachedStore) ListBalanceTransactions(ctx context.Context, poolID string) ([]model.BalanceTransaction, error) {
	return s.primary.ListBalanceTransactions(ctx, poolID)
}

// --- Writes (invalidate) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketKey(m.ID))
	return nil
}

func (s *CachedStore) CreatePool(ctx context.Context, p *model.Pool) error {
	if err := s.primary.CreatePool(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, poolKey(p.ID))
	return nil
}

// RunInTx delegates to the primary store, recording every key the unit
// writes; on success those cache entries are dropped so the next read
// re-populates from the source of truth.
func (s *CachedStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	var touched []string
	err := s.primary.RunInTx(ctx, func(tx Tx) error {
		tracker := &trackingTx{Tx: tx, touched: &touched}
		return fn(tracker)
	})
	if err != nil {
		return err
	}
	if len(touched) > 0 {
		s.rdb.Del(ctx, touched...)
	}
	return nil
}

// trackingTx records cache keys for rows mutated through it.
type trackingTx struct {
	Tx
	touched *[]string
}

func (t *trackingTx) touch(key string) {
	*t.touched = append(*t.touched, key)
}

func (t *trackingTx) UpdateMarket(ctx context.Context, m *model.Market) error {
	t.touch(marketKey(m.ID))
	return t.Tx.UpdateMarket(ctx, m)
}

func (t *trackingTx) UpdatePool(ctx context.Context, p *model.Pool) error {
	t.touch(poolKey(p.ID))
	return t.Tx.UpdatePool(ctx, p)
}

func (t *trackingTx) InsertPerpPosition(ctx context.Context, p *model.PerpPosition) error {
	t.touch(perpKey(p.ID))
	return t.Tx.InsertPerpPosition(ctx, p)
}

func (t *trackingTx) UpdatePerpPosition(ctx context.Context, p *model.PerpPosition) error {
	t.touch(perpKey(p.ID))
	return t.Tx.UpdatePerpPosition(ctx, p)
}
