// Package memstore implements the domain store interfaces in memory. It
// backs the mock operating mode and the component tests. Transactions are
// snapshot-based: InTx runs against a deep copy of the state and swaps it in
// only on success, so a failed closure rolls back every mutation exactly
// like the PostgreSQL implementation.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tumodex/perpd/internal/domain"
)

// Store owns the in-memory state and implements domain.TxRunner.
type Store struct {
	mu    sync.RWMutex
	state *state
}

type state struct {
	positions     map[string]domain.Position
	markets       map[string]domain.Market
	liquidations  []domain.LiquidationRecord
	fundingRates  []domain.FundingRate
	checkpoints   map[int64]domain.SyncCheckpoint
	nextLiqID     int64
	nextFundingID int64
}

// New creates an empty Store.
func New() *Store {
	return &Store{state: &state{
		positions:     make(map[string]domain.Position),
		markets:       make(map[string]domain.Market),
		checkpoints:   make(map[int64]domain.SyncCheckpoint),
		nextLiqID:     1,
		nextFundingID: 1,
	}}
}

func (st *state) clone() *state {
	next := &state{
		positions:     make(map[string]domain.Position, len(st.positions)),
		markets:       make(map[string]domain.Market, len(st.markets)),
		liquidations:  append([]domain.LiquidationRecord(nil), st.liquidations...),
		fundingRates:  append([]domain.FundingRate(nil), st.fundingRates...),
		checkpoints:   make(map[int64]domain.SyncCheckpoint, len(st.checkpoints)),
		nextLiqID:     st.nextLiqID,
		nextFundingID: st.nextFundingID,
	}
	for k, v := range st.positions {
		next.positions[k] = v
	}
	for k, v := range st.markets {
		next.markets[k] = v
	}
	for k, v := range st.checkpoints {
		next.checkpoints[k] = v
	}
	return next
}

// InTx implements domain.TxRunner with copy-on-write semantics.
func (m *Store) InTx(ctx context.Context, fn func(ctx context.Context, s domain.Stores) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.state.clone()
	if err := fn(ctx, m.storesOver(next)); err != nil {
		return err
	}
	m.state = next
	return nil
}

// Stores returns autocommit store views, analogous to pool-backed stores in
// the PostgreSQL implementation.
func (m *Store) Stores() domain.Stores {
	return m.storesOver(nil)
}

func (m *Store) storesOver(st *state) domain.Stores {
	return domain.Stores{
		Positions:    &positionStore{m: m, st: st},
		Markets:      &marketStore{m: m, st: st},
		Liquidations: &liquidationStore{m: m, st: st},
		Funding:      &fundingStore{m: m, st: st},
		Checkpoints:  &checkpointStore{m: m, st: st},
	}
}

// read runs fn against the transaction state when bound, otherwise against
// the live state under a read lock.
func (m *Store) read(st *state, fn func(*state) error) error {
	if st != nil {
		return fn(st)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(m.state)
}

// write runs fn against the transaction state when bound, otherwise against
// the live state under a write lock.
func (m *Store) write(st *state, fn func(*state) error) error {
	if st != nil {
		return fn(st)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.state)
}

// ── positions ──

type positionStore struct {
	m  *Store
	st *state
}

func (p *positionStore) Create(ctx context.Context, pos domain.Position) error {
	return p.m.write(p.st, func(st *state) error {
		if _, ok := st.positions[pos.PositionID]; ok {
			return domain.ErrAlreadyExists
		}
		pos.UpdatedAt = time.Now().UTC()
		st.positions[pos.PositionID] = pos
		return nil
	})
}

func (p *positionStore) GetByPositionID(ctx context.Context, positionID string) (domain.Position, error) {
	var out domain.Position
	err := p.m.read(p.st, func(st *state) error {
		pos, ok := st.positions[positionID]
		if !ok {
			return domain.ErrNotFound
		}
		out = pos
		return nil
	})
	return out, err
}

func (p *positionStore) GetOpenByPositionID(ctx context.Context, positionID string) (domain.Position, error) {
	var out domain.Position
	err := p.m.read(p.st, func(st *state) error {
		pos, ok := st.positions[positionID]
		if !ok || !pos.Open() {
			return domain.ErrNotFound
		}
		out = pos
		return nil
	})
	return out, err
}

func (p *positionStore) Update(ctx context.Context, pos domain.Position) error {
	return p.m.write(p.st, func(st *state) error {
		cur, ok := st.positions[pos.PositionID]
		if !ok || !cur.Open() {
			return domain.ErrNotFound
		}
		cur.Side = pos.Side
		cur.Size = pos.Size
		cur.Collateral = pos.Collateral
		cur.Leverage = pos.Leverage
		cur.EntryPrice = pos.EntryPrice
		cur.AccumulatedFunding = pos.AccumulatedFunding
		cur.UpdatedAt = time.Now().UTC()
		st.positions[pos.PositionID] = cur
		return nil
	})
}

func (p *positionStore) Settle(ctx context.Context, sp domain.SettleParams) error {
	return p.m.write(p.st, func(st *state) error {
		cur, ok := st.positions[sp.PositionID]
		if !ok || !cur.Open() {
			return domain.ErrNotFound
		}
		cur.Status = sp.Status
		cur.RealizedPnL = sp.RealizedPnL
		cur.ExitPrice = sp.ExitPrice
		closeTx := sp.CloseTxHash
		cur.CloseTransactionHash = &closeTx
		closedAt := sp.ClosedAt
		cur.ClosedAt = &closedAt
		cur.UpdatedAt = time.Now().UTC()
		st.positions[sp.PositionID] = cur
		return nil
	})
}

func (p *positionStore) ListOpenWithMarkets(ctx context.Context) ([]domain.OpenPositionJoin, error) {
	var joins []domain.OpenPositionJoin
	err := p.m.read(p.st, func(st *state) error {
		for _, pos := range st.positions {
			if !pos.Open() {
				continue
			}
			market, ok := st.markets[pos.MarketID]
			if !ok {
				continue
			}
			joins = append(joins, domain.OpenPositionJoin{Position: pos, Market: market})
		}
		return nil
	})
	sort.Slice(joins, func(i, j int) bool {
		return joins[i].Position.PositionID < joins[j].Position.PositionID
	})
	return joins, err
}

func (p *positionStore) ListSettledBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Position, error) {
	var out []domain.Position
	err := p.m.read(p.st, func(st *state) error {
		for _, pos := range st.positions {
			if pos.Open() || pos.ClosedAt == nil || !pos.ClosedAt.Before(cutoff) {
				continue
			}
			out = append(out, pos)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ClosedAt.Before(*out[j].ClosedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

// ── markets ──

type marketStore struct {
	m  *Store
	st *state
}

func (s *marketStore) Upsert(ctx context.Context, m domain.Market) error {
	return s.m.write(s.st, func(st *state) error {
		if cur, ok := st.markets[m.MarketID]; ok {
			// Preserve aggregate state on conflict, like the SQL upsert.
			m.TotalLongOI = cur.TotalLongOI
			m.TotalShortOI = cur.TotalShortOI
			m.TotalVolume = cur.TotalVolume
			m.CurrentFundingRate = cur.CurrentFundingRate
			m.LastFundingUpdate = cur.LastFundingUpdate
		}
		m.UpdatedAt = time.Now().UTC()
		st.markets[m.MarketID] = m
		return nil
	})
}

func (s *marketStore) GetByID(ctx context.Context, marketID string) (domain.Market, error) {
	var out domain.Market
	err := s.m.read(s.st, func(st *state) error {
		m, ok := st.markets[marketID]
		if !ok {
			return domain.ErrNotFound
		}
		out = m
		return nil
	})
	return out, err
}

func (s *marketStore) ListActive(ctx context.Context) ([]domain.Market, error) {
	var out []domain.Market
	err := s.m.read(s.st, func(st *state) error {
		for _, m := range st.markets {
			if m.Status == domain.MarketStatusActive {
				out = append(out, m)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out, err
}

func (s *marketStore) AdjustOpenInterest(ctx context.Context, marketID string, longDelta, shortDelta float64) error {
	return s.m.write(s.st, func(st *state) error {
		m, ok := st.markets[marketID]
		if !ok {
			return domain.ErrNotFound
		}
		m.TotalLongOI = max(0, m.TotalLongOI+longDelta)
		m.TotalShortOI = max(0, m.TotalShortOI+shortDelta)
		m.UpdatedAt = time.Now().UTC()
		st.markets[marketID] = m
		return nil
	})
}

func (s *marketStore) UpdateFunding(ctx context.Context, marketID string, rate float64, at time.Time) error {
	return s.m.write(s.st, func(st *state) error {
		m, ok := st.markets[marketID]
		if !ok {
			return domain.ErrNotFound
		}
		m.CurrentFundingRate = rate
		t := at
		m.LastFundingUpdate = &t
		m.UpdatedAt = time.Now().UTC()
		st.markets[marketID] = m
		return nil
	})
}

// ── liquidations ──

type liquidationStore struct {
	m  *Store
	st *state
}

func (s *liquidationStore) Create(ctx context.Context, rec domain.LiquidationRecord) error {
	return s.m.write(s.st, func(st *state) error {
		rec.ID = st.nextLiqID
		st.nextLiqID++
		st.liquidations = append(st.liquidations, rec)
		return nil
	})
}

func (s *liquidationStore) ListRecent(ctx context.Context, limit int) ([]domain.LiquidationRecord, error) {
	var out []domain.LiquidationRecord
	err := s.m.read(s.st, func(st *state) error {
		out = append(out, st.liquidations...)
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

// ── funding rates ──

type fundingStore struct {
	m  *Store
	st *state
}

func (s *fundingStore) Insert(ctx context.Context, fr domain.FundingRate) error {
	return s.m.write(s.st, func(st *state) error {
		fr.ID = st.nextFundingID
		st.nextFundingID++
		st.fundingRates = append(st.fundingRates, fr)
		return nil
	})
}

func (s *fundingStore) ListByMarketSince(ctx context.Context, marketID string, since time.Time) ([]domain.FundingRate, error) {
	var out []domain.FundingRate
	err := s.m.read(s.st, func(st *state) error {
		for _, fr := range st.fundingRates {
			if fr.MarketID == marketID && !fr.Timestamp.Before(since) {
				out = append(out, fr)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, err
}

func (s *fundingStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.FundingRate, error) {
	var out []domain.FundingRate
	err := s.m.read(s.st, func(st *state) error {
		for _, fr := range st.fundingRates {
			if fr.Timestamp.Before(cutoff) {
				out = append(out, fr)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

// ── checkpoints ──

type checkpointStore struct {
	m  *Store
	st *state
}

func (s *checkpointStore) Get(ctx context.Context, chainID int64) (domain.SyncCheckpoint, error) {
	var out domain.SyncCheckpoint
	err := s.m.read(s.st, func(st *state) error {
		cp, ok := st.checkpoints[chainID]
		if !ok {
			return domain.ErrNotFound
		}
		out = cp
		return nil
	})
	return out, err
}

func (s *checkpointStore) Init(ctx context.Context, chainID int64, cursor uint64) error {
	return s.m.write(s.st, func(st *state) error {
		if _, ok := st.checkpoints[chainID]; ok {
			return nil
		}
		st.checkpoints[chainID] = domain.SyncCheckpoint{
			ChainID:          chainID,
			LastSyncedCursor: cursor,
			UpdatedAt:        time.Now().UTC(),
		}
		return nil
	})
}

func (s *checkpointStore) Advance(ctx context.Context, chainID int64, cursor uint64) error {
	return s.m.write(s.st, func(st *state) error {
		cp, ok := st.checkpoints[chainID]
		if !ok || cp.LastSyncedCursor >= cursor {
			return domain.ErrNotFound
		}
		cp.LastSyncedCursor = cursor
		cp.UpdatedAt = time.Now().UTC()
		st.checkpoints[chainID] = cp
		return nil
	})
}
