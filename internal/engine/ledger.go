package engine

import (
	"fmt"
	"sort"
	"sync"

	"frizo/margin_ledger/internal/market"
)

// Ledger is the registry of markets. Its lock only guards registration; operations on
// different markets never contend.
type Ledger struct {
	engines map[string]*Engine
	deps    Dependencies

	mu sync.RWMutex
}

func NewLedger(deps Dependencies) (*Ledger, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Ledger{
		engines: make(map[string]*Engine),
		deps:    deps,
	}, nil
}

// CreateMarket registers a new empty market.
func (l *Ledger) CreateMarket(id, symbol string, params market.Params) (*Engine, error) {
	m, err := market.New(id, symbol, params, l.deps.Clock())
	if err != nil {
		return nil, err
	}
	return l.register(m)
}

// Restore registers a market loaded from a snapshot. Every invariant is re-checked.
func (l *Ledger) Restore(snap market.Snapshot) (*Engine, error) {
	m, err := market.FromSnapshot(snap)
	if err != nil {
		return nil, err
	}
	return l.register(m)
}

func (l *Ledger) register(m *market.Market) (*Engine, error) {
	eng, err := New(m, l.deps)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.engines[m.ID()]; ok {
		return nil, fmt.Errorf("%s: %w", m.ID(), ErrMarketExists)
	}
	l.engines[m.ID()] = eng
	eng.observeMarket()
	l.deps.Logger.Info("market registered", "market", m.ID(), "symbol", m.Symbol(), "positions", m.Positions().Len())
	return eng, nil
}

func (l *Ledger) Market(id string) (*Engine, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	eng, ok := l.engines[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrMarketNotFound)
	}
	return eng, nil
}

// Markets returns every engine sorted by market ID.
func (l *Ledger) Markets() []*Engine {
	l.mu.RLock()
	out := make([]*Engine, 0, len(l.engines))
	for _, eng := range l.engines {
		out = append(out, eng)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Snapshots captures every market, each under its own lock.
func (l *Ledger) Snapshots() []market.Snapshot {
	engines := l.Markets()
	out := make([]market.Snapshot, 0, len(engines))
	for _, eng := range engines {
		out = append(out, eng.Snapshot())
	}
	return out
}
