// Package memory provides an in-memory implementation of the storage
// interfaces, used by tests and single-node deployments without a
// database.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/marbledao/market-layer/internal/app/domain/market"
	"github.com/marbledao/market-layer/internal/app/domain/staking"
	"github.com/marbledao/market-layer/internal/app/gateway"
	"github.com/marbledao/market-layer/internal/app/storage"
)

// Store keeps everything behind one mutex. All returned values are
// defensive clones.
type Store struct {
	mu         sync.RWMutex
	sales      map[uint64]market.SaleRecord
	staking    map[string]staking.Record
	marketCfg  *market.Config
	stakingCfg *staking.Config
	batches    map[string]gateway.Batch
	batchOrder []string
}

var (
	_ storage.SaleStore    = (*Store)(nil)
	_ storage.StakingStore = (*Store)(nil)
	_ storage.ConfigStore  = (*Store)(nil)
	_ storage.IntentStore  = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{
		sales:   make(map[uint64]market.SaleRecord),
		staking: make(map[string]staking.Record),
		batches: make(map[string]gateway.Batch),
	}
}

func (s *Store) CreateSale(_ context.Context, rec market.SaleRecord) (market.SaleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sales[rec.ItemID]; ok {
		return market.SaleRecord{}, fmt.Errorf("sale for item %d already exists", rec.ItemID)
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.sales[rec.ItemID] = cloneSale(rec)
	return rec, nil
}

func (s *Store) UpdateSale(_ context.Context, rec market.SaleRecord) (market.SaleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sales[rec.ItemID]
	if !ok {
		return market.SaleRecord{}, fmt.Errorf("sale for item %d not found", rec.ItemID)
	}
	rec.CreatedAt = existing.CreatedAt
	rec.UpdatedAt = time.Now().UTC()
	s.sales[rec.ItemID] = cloneSale(rec)
	return rec, nil
}

func (s *Store) GetSale(_ context.Context, itemID uint64) (market.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sales[itemID]
	if !ok {
		return market.SaleRecord{}, fmt.Errorf("sale for item %d not found", itemID)
	}
	return cloneSale(rec), nil
}

func (s *Store) DeleteSale(_ context.Context, itemID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sales[itemID]; !ok {
		return fmt.Errorf("sale for item %d not found", itemID)
	}
	delete(s.sales, itemID)
	return nil
}

func (s *Store) ListSales(_ context.Context, startAfter uint64, limit int) ([]market.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]uint64, 0, len(s.sales))
	for id := range s.sales {
		if id > startAfter {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]market.SaleRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneSale(s.sales[id]))
	}
	return out, nil
}

func (s *Store) CreateStaking(_ context.Context, rec staking.Record) (staking.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.staking[rec.Staker]; ok {
		return staking.Record{}, fmt.Errorf("staking record for %s already exists", rec.Staker)
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.staking[rec.Staker] = cloneStaking(rec)
	return rec, nil
}

func (s *Store) UpdateStaking(_ context.Context, rec staking.Record) (staking.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.staking[rec.Staker]
	if !ok {
		return staking.Record{}, fmt.Errorf("staking record for %s not found", rec.Staker)
	}
	rec.CreatedAt = existing.CreatedAt
	rec.UpdatedAt = time.Now().UTC()
	s.staking[rec.Staker] = cloneStaking(rec)
	return rec, nil
}

func (s *Store) GetStaking(_ context.Context, staker string) (staking.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.staking[staker]
	if !ok {
		return staking.Record{}, fmt.Errorf("staking record for %s not found", staker)
	}
	return cloneStaking(rec), nil
}

func (s *Store) DeleteStaking(_ context.Context, staker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.staking[staker]; !ok {
		return fmt.Errorf("staking record for %s not found", staker)
	}
	delete(s.staking, staker)
	return nil
}

func (s *Store) GetMarketConfig(_ context.Context) (market.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.marketCfg == nil {
		return market.Config{}, fmt.Errorf("market config not found")
	}
	return cloneMarketConfig(*s.marketCfg), nil
}

func (s *Store) SaveMarketConfig(_ context.Context, cfg market.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := cloneMarketConfig(cfg)
	s.marketCfg = &clone
	return nil
}

func (s *Store) GetStakingConfig(_ context.Context) (staking.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stakingCfg == nil {
		return staking.Config{}, fmt.Errorf("staking config not found")
	}
	return *s.stakingCfg, nil
}

func (s *Store) SaveStakingConfig(_ context.Context, cfg staking.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stakingCfg = &cfg
	return nil
}

func (s *Store) QueueIntentBatch(_ context.Context, batch gateway.Batch) (gateway.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if batch.ID == "" {
		return gateway.Batch{}, fmt.Errorf("intent batch requires an id")
	}
	if _, ok := s.batches[batch.ID]; ok {
		return gateway.Batch{}, fmt.Errorf("intent batch %s already exists", batch.ID)
	}
	now := time.Now().UTC()
	batch.CreatedAt = now
	batch.UpdatedAt = now
	batch.Delivered = false
	s.batches[batch.ID] = cloneBatch(batch)
	s.batchOrder = append(s.batchOrder, batch.ID)
	return batch, nil
}

func (s *Store) ListPendingIntentBatches(_ context.Context, limit int) ([]gateway.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]gateway.Batch, 0)
	for _, id := range s.batchOrder {
		batch, ok := s.batches[id]
		if !ok || batch.Delivered {
			continue
		}
		out = append(out, cloneBatch(batch))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkIntentBatchDelivered(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[id]
	if !ok {
		return fmt.Errorf("intent batch %s not found", id)
	}
	batch.Delivered = true
	batch.UpdatedAt = time.Now().UTC()
	s.batches[id] = batch
	return nil
}

func cloneSale(rec market.SaleRecord) market.SaleRecord {
	out := rec
	if rec.Offers != nil {
		out.Offers = make([]market.Offer, len(rec.Offers))
		copy(out.Offers, rec.Offers)
	}
	return out
}

func cloneStaking(rec staking.Record) staking.Record {
	out := rec
	if rec.ItemIDs != nil {
		out.ItemIDs = make([]uint64, len(rec.ItemIDs))
		copy(out.ItemIDs, rec.ItemIDs)
	}
	return out
}

func cloneMarketConfig(cfg market.Config) market.Config {
	out := cfg
	if cfg.Royalties != nil {
		out.Royalties = append(out.Royalties[:0:0], cfg.Royalties...)
	}
	return out
}

func cloneBatch(batch gateway.Batch) gateway.Batch {
	out := batch
	if batch.Intents != nil {
		out.Intents = make([]gateway.Intent, len(batch.Intents))
		copy(out.Intents, batch.Intents)
	}
	return out
}
