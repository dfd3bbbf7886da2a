// Package market holds the state of one traded instrument: its risk parameters, its aggregate
// accounting and the store of open positions. A Market is not safe for concurrent mutation;
// the engine serializes access to it.
package market

import (
	"errors"
	"fmt"
	"time"

	"frizo/margin_ledger/internal/fixedpoint"
	"frizo/margin_ledger/internal/position"
)

var ErrPriceFluctuation = errors.New("price fluctuation limit exceeded")

// Market (單一合約市場)
type Market struct {
	id     string
	symbol string

	params Params
	risk   RiskParams

	aggregates Aggregates
	positions  *position.Store

	lastMarkPrice fixedpoint.Value
	lastMarkAt    time.Time
	lastFundingAt time.Time
	paused        bool
	createdAt     time.Time
}

// State is the mutable part of a market, used for persistence.
type State struct {
	Aggregates    Aggregates
	LastMarkPrice fixedpoint.Value
	LastFundingAt time.Time
	Paused        bool
	CreatedAt     time.Time
}

// New creates an empty market after validating params. now becomes the creation time.
func New(id, symbol string, params Params, now time.Time) (*Market, error) {
	if id == "" {
		return nil, fmt.Errorf("market id is required: %w", ErrInvalidMarketParameters)
	}
	risk, err := params.Scaled()
	if err != nil {
		return nil, err
	}

	return &Market{
		id:        id,
		symbol:    symbol,
		params:    params,
		risk:      risk,
		positions: position.NewStore(),
		createdAt: now.UTC(),
	}, nil
}

// Restore rebuilds a market from persisted state, re-validating every invariant.
func Restore(id, symbol string, params Params, state State, positions []position.Position) (*Market, error) {
	m, err := New(id, symbol, params, state.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := state.Aggregates.Validate(); err != nil {
		return nil, fmt.Errorf("restore %s: %w", id, err)
	}
	if state.LastMarkPrice.IsNegative() {
		return nil, fmt.Errorf("restore %s: negative mark price: %w", id, ErrAggregateInvariant)
	}

	long, short := fixedpoint.Zero(), fixedpoint.Zero()
	for _, p := range positions {
		if err := m.positions.Upsert(p.Trader, p); err != nil {
			return nil, fmt.Errorf("restore %s: trader %s: %w", id, p.Trader, err)
		}
		if p.IsLong() {
			long, err = long.Add(p.Notional)
		} else {
			short, err = short.Add(p.Notional)
		}
		if err != nil {
			return nil, fmt.Errorf("restore %s: %w", id, err)
		}
	}
	if m.positions.Len() != len(positions) {
		return nil, fmt.Errorf("restore %s: duplicate trader: %w", id, position.ErrInvalidPosition)
	}
	if !long.Equal(state.Aggregates.OpenNotional) || !short.Equal(state.Aggregates.PositionOpenNotional) {
		return nil, fmt.Errorf("restore %s: position notional does not match aggregates: %w", id, ErrAggregateInvariant)
	}

	m.aggregates = state.Aggregates
	m.lastMarkPrice = state.LastMarkPrice
	m.lastFundingAt = state.LastFundingAt
	m.paused = state.Paused
	return m, nil
}

func (m *Market) ID() string                      { return m.id }
func (m *Market) Symbol() string                  { return m.symbol }
func (m *Market) Params() Params                  { return m.params }
func (m *Market) Risk() RiskParams                { return m.risk }
func (m *Market) Precision() fixedpoint.Precision { return m.risk.Precision }
func (m *Market) Aggregates() Aggregates          { return m.aggregates }
func (m *Market) Positions() *position.Store      { return m.positions }
func (m *Market) LastMarkPrice() fixedpoint.Value { return m.lastMarkPrice }
func (m *Market) LastFundingAt() time.Time        { return m.lastFundingAt }
func (m *Market) Paused() bool                    { return m.paused }
func (m *Market) CreatedAt() time.Time            { return m.createdAt }

func (m *Market) SetPaused(paused bool) {
	m.paused = paused
}

// ObserveMarkPrice records mark, at which a trade just executed, as the fluctuation reference
// and starts a new window.
func (m *Market) ObserveMarkPrice(mark fixedpoint.Value, now time.Time) {
	m.lastMarkPrice = mark
	m.lastMarkAt = now
}

// RollMarkPrice replaces the fluctuation reference with mark once the current window has
// elapsed, so a market whose trades keep getting rejected still follows the price.
// A restored market has no window yet and takes the first mark it sees.
func (m *Market) RollMarkPrice(mark fixedpoint.Value, now time.Time) {
	if m.lastMarkAt.IsZero() || now.Sub(m.lastMarkAt) >= m.risk.FluctuationWindow {
		m.ObserveMarkPrice(mark, now)
	}
}

// State returns a copy of the mutable state.
func (m *Market) State() State {
	return State{
		Aggregates:    m.aggregates,
		LastMarkPrice: m.lastMarkPrice,
		LastFundingAt: m.lastFundingAt,
		Paused:        m.paused,
		CreatedAt:     m.createdAt,
	}
}

// PreviewDelta returns the aggregates d would produce without committing them.
func (m *Market) PreviewDelta(d Delta) (Aggregates, error) {
	return m.aggregates.Apply(d)
}

// ApplyDelta commits d, or leaves the market untouched if the result is invalid.
func (m *Market) ApplyDelta(d Delta) error {
	next, err := m.aggregates.Apply(d)
	if err != nil {
		return err
	}
	m.aggregates = next
	return nil
}

// CheckFluctuation rejects a mark price that moved more than the fluctuation limit away from
// the reference of the current window.
func (m *Market) CheckFluctuation(mark fixedpoint.Value) error {
	limit := m.risk.FluctuationLimitRatio
	if limit.IsZero() || !m.lastMarkPrice.IsPositive() {
		return nil
	}

	diff, err := mark.Sub(m.lastMarkPrice)
	if err != nil {
		return err
	}
	ratio, err := m.risk.Precision.Div(diff.Abs(), m.lastMarkPrice)
	if err != nil {
		return err
	}
	if ratio.GreaterThan(limit) {
		prec := m.risk.Precision
		return fmt.Errorf("mark %s moved %s from %s, limit %s: %w",
			prec.Format(mark), prec.Format(ratio), prec.Format(m.lastMarkPrice), prec.Format(limit), ErrPriceFluctuation)
	}
	return nil
}

// FundingDue reports whether a funding period has elapsed since the last settlement.
func (m *Market) FundingDue(now time.Time) bool {
	if m.lastFundingAt.IsZero() {
		return true
	}
	return !now.Before(m.lastFundingAt.Add(m.risk.FundingPeriod))
}

// NextFundingAt is the earliest time the next market-wide settlement may run.
func (m *Market) NextFundingAt() time.Time {
	if m.lastFundingAt.IsZero() {
		return time.Time{}
	}
	return m.lastFundingAt.Add(m.risk.FundingPeriod)
}

func (m *Market) MarkFunded(now time.Time) {
	m.lastFundingAt = now
}

// Snapshot is a complete, self-contained copy of a market.
type Snapshot struct {
	ID        string
	Symbol    string
	Params    Params
	State     State
	Positions []position.Position
}

func (m *Market) Snapshot() Snapshot {
	return Snapshot{
		ID:        m.id,
		Symbol:    m.symbol,
		Params:    m.params,
		State:     m.State(),
		Positions: m.positions.List(),
	}
}

// FromSnapshot is Restore for a Snapshot.
func FromSnapshot(s Snapshot) (*Market, error) {
	return Restore(s.ID, s.Symbol, s.Params, s.State, s.Positions)
}
