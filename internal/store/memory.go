package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/babylon/trading-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Row locks are per-key semaphores with a timeout, so the
// contention semantics match the PostgreSQL implementation.
type MemoryStore struct {
	mu        sync.RWMutex
	markets   map[string]*model.Market
	pools     map[string]*model.Pool
	positions map[string]*model.Position
	perps     map[string]*model.PerpPosition
	ledger    []model.BalanceTransaction

	lockMu      sync.Mutex
	locks       map[string]chan struct{}
	lockTimeout time.Duration
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:     make(map[string]*model.Market),
		pools:       make(map[string]*model.Pool),
		positions:   make(map[string]*model.Position),
		perps:       make(map[string]*model.PerpPosition),
		locks:       make(map[string]chan struct{}),
		lockTimeout: 2 * time.Second,
	}
}

// SetLockTimeout overrides the row-lock acquisition timeout.
func (s *MemoryStore) SetLockTimeout(d time.Duration) {
	s.lockTimeout = d
}

// --- Reader ---

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *m)
	}
	sort.Slice(markets, func(i, j int) bool { return markets[i].CreatedAt.After(markets[j].CreatedAt) })
	return markets, nil
}

func (s *MemoryStore) GetPool(_ context.Context, id string) (*model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pools[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, id string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) GetPerpPosition(_ context.Context, id string) (*model.PerpPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.perps[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListOpenPerpPositions(_ context.Context) ([]model.PerpPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.PerpPosition
	for _, p := range s.perps {
		if p.Status == model.PerpOpen {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ListBalanceTransactions(_ context.Context, poolID string) ([]model.BalanceTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.BalanceTransaction
	for _, t := range s.ledger {
		if t.PoolID == poolID {
			out = append(out, t)
		}
	}
	return out, nil
}

// --- Creates ---

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.markets[m.ID]; exists {
		return ErrConflict
	}
	cp := *m
	s.markets[m.ID] = &cp
	return nil
}

func (s *MemoryStore) CreatePool(_ context.Context, p *model.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pools[p.ID]; exists {
		return ErrConflict
	}
	cp := *p
	s.pools[p.ID] = &cp
	return nil
}

// --- Transactions ---

// RunInTx stages all writes and applies them to the primary maps only if fn
// succeeds. Row locks acquired through the Tx are released when the unit
// finishes, success or not.
func (s *MemoryStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memTx{
		s:         s,
		held:      make(map[string]struct{}),
		markets:   make(map[string]*model.Market),
		pools:     make(map[string]*model.Pool),
		positions: make(map[string]*model.Position),
		perps:     make(map[string]*model.PerpPosition),
	}
	defer tx.releaseAll()

	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, m := range tx.markets {
		s.markets[id] = m
	}
	for id, p := range tx.pools {
		s.pools[id] = p
	}
	for id, p := range tx.positions {
		s.positions[id] = p
	}
	for id, p := range tx.perps {
		s.perps[id] = p
	}
	s.ledger = append(s.ledger, tx.entries...)
	return nil
}

// acquire takes the per-key semaphore, failing with ErrContention on timeout.
func (s *MemoryStore) acquire(ctx context.Context, key string) error {
	s.lockMu.Lock()
	ch, ok := s.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[key] = ch
	}
	s.lockMu.Unlock()

	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrContention
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *MemoryStore) release(key string) {
	s.lockMu.Lock()
	ch := s.locks[key]
	s.lockMu.Unlock()
	if ch != nil {
		<-ch
	}
}

// memTx buffers writes until commit. Getters are read-your-writes: staged
// rows shadow the primary maps.
type memTx struct {
	s    *MemoryStore
	held map[string]struct{}

	markets   map[string]*model.Market
	pools     map[string]*model.Pool
	positions map[string]*model.Position
	perps     map[string]*model.PerpPosition
	entries   []model.BalanceTransaction
}

func (tx *memTx) lock(ctx context.Context, key string) error {
	if _, ok := tx.held[key]; ok {
		return nil // re-entrant within the same unit
	}
	if err := tx.s.acquire(ctx, key); err != nil {
		return err
	}
	tx.held[key] = struct{}{}
	return nil
}

func (tx *memTx) releaseAll() {
	for key := range tx.held {
		tx.s.release(key)
	}
	tx.held = nil
}

func (tx *memTx) LockMarket(ctx context.Context, id string) (*model.Market, error) {
	if err := tx.lock(ctx, "market:"+id); err != nil {
		return nil, err
	}
	if staged, ok := tx.markets[id]; ok {
		cp := *staged
		return &cp, nil
	}
	return tx.s.GetMarket(ctx, id)
}

func (tx *memTx) LockPool(ctx context.Context, id string) (*model.Pool, error) {
	if err := tx.lock(ctx, "pool:"+id); err != nil {
		return nil, err
	}
	if staged, ok := tx.pools[id]; ok {
		cp := *staged
		return &cp, nil
	}
	return tx.s.GetPool(ctx, id)
}

func (tx *memTx) LockPerpPosition(ctx context.Context, id string) (*model.PerpPosition, error) {
	if err := tx.lock(ctx, "perp:"+id); err != nil {
		return nil, err
	}
	if staged, ok := tx.perps[id]; ok {
		cp := *staged
		return &cp, nil
	}
	return tx.s.GetPerpPosition(ctx, id)
}

func (tx *memTx) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	if staged, ok := tx.positions[id]; ok {
		cp := *staged
		return &cp, nil
	}
	return tx.s.GetPosition(ctx, id)
}

func (tx *memTx) FindOpenPosition(_ context.Context, poolID, marketID string, side model.Side) (*model.Position, error) {
	match := func(p *model.Position) bool {
		return p.PoolID == poolID && p.MarketID == marketID && p.Side == side && p.ClosedAt == nil
	}
	for _, p := range tx.positions {
		if match(p) {
			cp := *p
			return &cp, nil
		}
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	for id, p := range tx.s.positions {
		if _, shadowed := tx.positions[id]; shadowed {
			continue
		}
		if match(p) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (tx *memTx) ListOpenPositionsByMarket(_ context.Context, marketID string) ([]model.Position, error) {
	var out []model.Position
	for _, p := range tx.positions {
		if p.MarketID == marketID && p.ClosedAt == nil {
			out = append(out, *p)
		}
	}
	tx.s.mu.RLock()
	for id, p := range tx.s.positions {
		if _, shadowed := tx.positions[id]; shadowed {
			continue
		}
		if p.MarketID == marketID && p.ClosedAt == nil {
			out = append(out, *p)
		}
	}
	tx.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memTx) ListOpenPerpPositionsByOwner(_ context.Context, ownerID string) ([]model.PerpPosition, error) {
	var out []model.PerpPosition
	for _, p := range tx.perps {
		if p.OwnerID == ownerID && p.Status == model.PerpOpen {
			out = append(out, *p)
		}
	}
	tx.s.mu.RLock()
	for id, p := range tx.s.perps {
		if _, shadowed := tx.perps[id]; shadowed {
			continue
		}
		if p.OwnerID == ownerID && p.Status == model.PerpOpen {
			out = append(out, *p)
		}
	}
	tx.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memTx) UpdateMarket(_ context.Context, m *model.Market) error {
	cp := *m
	tx.markets[m.ID] = &cp
	return nil
}

func (tx *memTx) UpdatePool(_ context.Context, p *model.Pool) error {
	cp := *p
	tx.pools[p.ID] = &cp
	return nil
}

func (tx *memTx) InsertPosition(_ context.Context, p *model.Position) error {
	cp := *p
	tx.positions[p.ID] = &cp
	return nil
}

func (tx *memTx) UpdatePosition(_ context.Context, p *model.Position) error {
	cp := *p
	tx.positions[p.ID] = &cp
	return nil
}

func (tx *memTx) InsertPerpPosition(_ context.Context, p *model.PerpPosition) error {
	cp := *p
	tx.perps[p.ID] = &cp
	return nil
}

func (tx *memTx) UpdatePerpPosition(_ context.Context, p *model.PerpPosition) error {
	cp := *p
	tx.perps[p.ID] = &cp
	return nil
}

func (tx *memTx) InsertBalanceTransaction(_ context.Context, t *model.BalanceTransaction) error {
	tx.entries = append(tx.entries, *t)
	return nil
}
