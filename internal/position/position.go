package position

import (
	"errors"
	"fmt"

	"frizo/margin_ledger/internal/fixedpoint"
)

var ErrInvalidPosition = errors.New("invalid position")

// Position is one trader's exposure in one market.
type Position struct {
	Trader string         `json:"trader"`
	Status PositionStatus `json:"status"`

	// Size is signed: positive for long, negative for short.
	Size     fixedpoint.Value `json:"-"`
	Margin   fixedpoint.Value `json:"-"`
	Notional fixedpoint.Value `json:"-"` // quote value at open / last adjustment

	// LastUpdatedPremiumFraction is the funding accumulator at the last settlement.
	LastUpdatedPremiumFraction fixedpoint.Value `json:"-"`

	// unix seconds
	OpenedAt  uint64 `json:"opened_at"`
	UpdatedAt uint64 `json:"updated_at"`
}

// New builds an open position. size is the unsigned base amount, side gives its direction.
func New(trader string, side PositionSide, size, margin, notional, premiumFraction fixedpoint.Value, now uint64) (Position, error) {
	if side != LONG && side != SHORT {
		return Position{}, fmt.Errorf("unknown side %d: %w", side, ErrInvalidPosition)
	}
	if size.IsNegative() {
		return Position{}, fmt.Errorf("size must be unsigned: %w", ErrInvalidPosition)
	}
	if side == SHORT {
		size = size.Neg()
	}

	p := Position{
		Trader:                     trader,
		Status:                     PositionNormal,
		Size:                       size,
		Margin:                     margin,
		Notional:                   notional,
		LastUpdatedPremiumFraction: premiumFraction,
		OpenedAt:                   now,
		UpdatedAt:                  now,
	}
	if err := p.Validate(); err != nil {
		return Position{}, err
	}
	return p, nil
}

// Validate checks the record invariants. Zero margin is only admissible while liquidating.
func (p Position) Validate() error {
	switch {
	case p.Trader == "":
		return fmt.Errorf("trader is required: %w", ErrInvalidPosition)
	case p.Size.IsZero():
		return fmt.Errorf("size must be non-zero: %w", ErrInvalidPosition)
	case !p.Notional.IsPositive():
		return fmt.Errorf("notional must be positive: %w", ErrInvalidPosition)
	case p.Margin.IsNegative():
		return fmt.Errorf("margin must not be negative: %w", ErrInvalidPosition)
	case p.Margin.IsZero() && p.Status != PositionLiquidating:
		return fmt.Errorf("margin must be positive: %w", ErrInvalidPosition)
	case p.Status != PositionNormal && p.Status != PositionLiquidating:
		return fmt.Errorf("unknown status %d: %w", p.Status, ErrInvalidPosition)
	case p.UpdatedAt < p.OpenedAt:
		return fmt.Errorf("updated_at precedes opened_at: %w", ErrInvalidPosition)
	}
	return nil
}

func (p Position) Side() PositionSide {
	if p.Size.IsNegative() {
		return SHORT
	}
	return LONG
}

func (p Position) IsLong() bool {
	return !p.Size.IsNegative()
}

// AbsSize returns the base amount without direction.
func (p Position) AbsSize() fixedpoint.Value {
	return p.Size.Abs()
}

// Touched returns a copy stamped with now. UpdatedAt never moves backwards.
func (p Position) Touched(now uint64) Position {
	if now > p.UpdatedAt {
		p.UpdatedAt = now
	}
	return p
}
