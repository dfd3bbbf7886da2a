package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"frizo/margin_ledger/internal/market"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) Save(ctx context.Context, snap market.Snapshot) error {
	if err := s.primary.Save(ctx, snap); err != nil {
		return err
	}
	// Invalidate cache; next read will re-populate.
	s.rdb.Del(ctx, snapshotKey(snap.ID))
	return nil
}

func (s *CachedStore) Load(ctx context.Context, marketID string) (market.Snapshot, error) {
	// Try cache. A cached record is re-validated like any other.
	data, err := s.rdb.Get(ctx, snapshotKey(marketID)).Bytes()
	if err == nil {
		var r MarketRecord
		if json.Unmarshal(data, &r) == nil {
			if snap, err := r.Snapshot(); err == nil {
				return snap, nil
			}
		}
	}

	// Cache miss: read from primary.
	snap, err := s.primary.Load(ctx, marketID)
	if err != nil {
		return market.Snapshot{}, err
	}

	s.cache(ctx, snap)
	return snap, nil
}

// List is not cached.
func (s *CachedStore) List(ctx context.Context) ([]market.Snapshot, error) {
	return s.primary.List(ctx)
}

func (s *CachedStore) cache(ctx context.Context, snap market.Snapshot) {
	r, err := NewRecord(snap)
	if err != nil {
		return
	}
	if data, err := json.Marshal(r); err == nil {
		s.rdb.Set(ctx, snapshotKey(snap.ID), data, s.ttl)
	}
}

func snapshotKey(id string) string { return fmt.Sprintf("margin_ledger:snapshot:%s", id) }
