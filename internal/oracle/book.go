// Package oracle keeps the latest mark price and cumulative premium fraction per market.
// Prices are pushed in from outside (HTTP or a feed); the engine only reads them.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrPriceUnavailable = errors.New("price unavailable")
	ErrInvalidPrice     = errors.New("mark price must be positive")
)

// Quote is the latest price data for one market.
type Quote struct {
	MarketID        string          `json:"market_id"`
	MarkPrice       decimal.Decimal `json:"mark_price"`
	PremiumFraction decimal.Decimal `json:"premium_fraction"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Book is an in-memory quote table.
type Book struct {
	quotes map[string]Quote
	now    func() time.Time

	mu sync.RWMutex
}

func NewBook() *Book {
	return &Book{
		quotes: make(map[string]Quote),
		now:    time.Now,
	}
}

// SetMarkPrice stores a new mark price and keeps the premium fraction.
func (b *Book) SetMarkPrice(marketID string, mark decimal.Decimal) error {
	if !mark.IsPositive() {
		return fmt.Errorf("%s: %s: %w", marketID, mark, ErrInvalidPrice)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.quotes[marketID]
	q.MarketID = marketID
	q.MarkPrice = mark
	q.UpdatedAt = b.now()
	b.quotes[marketID] = q
	return nil
}

// SetPremiumFraction stores the cumulative premium fraction. It may be negative.
func (b *Book) SetPremiumFraction(marketID string, premium decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.quotes[marketID]
	q.MarketID = marketID
	q.PremiumFraction = premium
	q.UpdatedAt = b.now()
	b.quotes[marketID] = q
}

func (b *Book) Quote(marketID string) (Quote, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	q, ok := b.quotes[marketID]
	return q, ok
}

// MarkPrice implements the engine's mark price source.
func (b *Book) MarkPrice(_ context.Context, marketID string) (decimal.Decimal, error) {
	q, ok := b.Quote(marketID)
	if !ok || !q.MarkPrice.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("mark price for %s: %w", marketID, ErrPriceUnavailable)
	}
	return q.MarkPrice, nil
}

// PremiumFraction implements the engine's funding rate source. A market without a quote has
// accumulated no premium.
func (b *Book) PremiumFraction(_ context.Context, marketID string) (decimal.Decimal, error) {
	q, _ := b.Quote(marketID)
	return q.PremiumFraction, nil
}
