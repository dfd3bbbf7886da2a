// Package store persists market snapshots. PostgreSQL is the source of truth, Redis provides a
// read-through cache, and the in-memory store serves tests and development.
//
// Every load goes back through market.Restore, so a snapshot that breaks an invariant is
// rejected instead of being handed to the engine.
package store

import (
	"context"
	"errors"

	"frizo/margin_ledger/internal/market"
)

var ErrNotFound = errors.New("snapshot not found")

// Store is the persistence interface.
type Store interface {
	// Save replaces the stored snapshot of s.ID.
	Save(ctx context.Context, s market.Snapshot) error

	// Load returns the snapshot of one market.
	Load(ctx context.Context, marketID string) (market.Snapshot, error)

	// List returns every stored snapshot, sorted by market ID.
	List(ctx context.Context) ([]market.Snapshot, error)
}
