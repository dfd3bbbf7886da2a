package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"frizo/margin_ledger/internal/market"
)

// MemoryStore implements Store with an in-memory map. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]MarketRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]MarketRecord),
	}
}

func (s *MemoryStore) Save(_ context.Context, snap market.Snapshot) error {
	r, err := NewRecord(snap)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[snap.ID] = r
	return nil
}

func (s *MemoryStore) Load(_ context.Context, marketID string) (market.Snapshot, error) {
	s.mu.RLock()
	r, ok := s.records[marketID]
	s.mu.RUnlock()

	if !ok {
		return market.Snapshot{}, fmt.Errorf("market %s: %w", marketID, ErrNotFound)
	}
	return r.Snapshot()
}

func (s *MemoryStore) List(_ context.Context) ([]market.Snapshot, error) {
	s.mu.RLock()
	records := make([]MarketRecord, 0, len(s.records))
	for _, r := range s.records {
		records = append(records, r)
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	out := make([]market.Snapshot, 0, len(records))
	for _, r := range records {
		snap, err := r.Snapshot()
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}
