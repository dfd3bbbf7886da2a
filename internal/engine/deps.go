package engine

import (
	"context"
	"time"

	"frizo/margin_ledger/internal/logger"
	"github.com/shopspring/decimal"
)

// Collaborators speak decimal.Decimal; the engine scales to the market precision at the boundary.

// MarkPriceSource supplies the mark price of a market.
type MarkPriceSource interface {
	MarkPrice(ctx context.Context, marketID string) (decimal.Decimal, error)
}

// FundingRateSource supplies the cumulative premium fraction of a market.
type FundingRateSource interface {
	PremiumFraction(ctx context.Context, marketID string) (decimal.Decimal, error)
}

// CollateralSink moves collateral between traders and positions. Pull takes margin in,
// Push pays it out.
type CollateralSink interface {
	Pull(ctx context.Context, trader string, amount decimal.Decimal) error
	Push(ctx context.Context, trader string, amount decimal.Decimal) error
}

// EventSink receives committed ledger events. Publish must not block.
type EventSink interface {
	Publish(Event)
}

// Dependencies are shared by every market of a Ledger.
type Dependencies struct {
	Marks      MarkPriceSource
	Funding    FundingRateSource // optional, positions open at a zero premium without it
	Collateral CollateralSink
	Events     EventSink // optional
	Clock      func() time.Time
	Logger     *logger.Logger
}

func (d Dependencies) withDefaults() (Dependencies, error) {
	if d.Marks == nil || d.Collateral == nil {
		return d, ErrMissingDependency
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Logger == nil {
		d.Logger = logger.Default()
	}
	return d, nil
}
