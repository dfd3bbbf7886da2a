package position

import (
	"fmt"
	"sort"
	"sync"
)

// Store holds at most one position per trader for a single market.
// Positions are copied in and out so callers never share state with the store.
type Store struct {
	positions map[string]Position // trader -> position
	mu        sync.RWMutex
}

func NewStore() *Store {
	return &Store{
		positions: make(map[string]Position),
	}
}

// Get returns the trader's position, if any.
func (s *Store) Get(trader string) (Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[trader]
	return p, ok
}

// Upsert validates p and stores it under trader.
func (s *Store) Upsert(trader string, p Position) error {
	if p.Trader == "" {
		p.Trader = trader
	}
	if p.Trader != trader {
		return fmt.Errorf("position belongs to %s, not %s: %w", p.Trader, trader, ErrInvalidPosition)
	}
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[trader] = p
	return nil
}

// Remove deletes the trader's position. Removing an absent trader is a no-op.
func (s *Store) Remove(trader string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, trader)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions)
}

// List returns every position ordered by trader.
func (s *Store) List() []Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]Position, 0, len(s.positions))
	for _, p := range s.positions {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Trader < list[j].Trader })
	return list
}

// Traders returns the traders holding a position, sorted.
func (s *Store) Traders() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	traders := make([]string, 0, len(s.positions))
	for trader := range s.positions {
		traders = append(traders, trader)
	}
	sort.Strings(traders)
	return traders
}
