// Package engine is the position engine of the margin ledger. Each Engine owns one market and
// serializes every mutation of it behind a single mutex: validate, move collateral, commit.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"frizo/margin_ledger/internal/fixedpoint"
	"frizo/margin_ledger/internal/logger"
	"frizo/margin_ledger/internal/market"
	"frizo/margin_ledger/internal/metrics"
	"frizo/margin_ledger/internal/position"
	"frizo/margin_ledger/internal/risk"
	"github.com/shopspring/decimal"
)

const (
	OpOpen          = "open_position"
	OpDeposit       = "deposit_margin"
	OpWithdraw      = "withdraw_margin"
	OpPayFunding    = "pay_funding"
	OpLiquidate     = "liquidate_position"
	OpClose         = "close_position"
	OpSettleFunding = "settle_funding"
	OpSettleBadDebt = "settle_bad_debt"
)

// Engine (倉位引擎) for one market.
type Engine struct {
	market *market.Market
	eval   risk.Evaluator
	deps   Dependencies
	log    *logger.Logger

	mu sync.Mutex
}

func New(m *market.Market, deps Dependencies) (*Engine, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}

	return &Engine{
		market: m,
		eval:   risk.NewEvaluator(m.Risk()),
		deps:   deps,
		log:    deps.Logger.With("market", m.ID()),
	}, nil
}

func (e *Engine) ID() string                      { return e.market.ID() }
func (e *Engine) Symbol() string                  { return e.market.Symbol() }
func (e *Engine) Params() market.Params           { return e.market.Params() }
func (e *Engine) Precision() fixedpoint.Precision { return e.market.Precision() }

// =====================================================
// Read API
// =====================================================

func (e *Engine) Position(trader string) (position.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.market.Positions().Get(trader)
	if !ok {
		return position.Position{}, fmt.Errorf("%s: %w", trader, ErrPositionNotFound)
	}
	return p, nil
}

func (e *Engine) Positions() []position.Position {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.market.Positions().List()
}

func (e *Engine) Aggregates() market.Aggregates {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.market.Aggregates()
}

func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.market.Paused()
}

// Snapshot returns a consistent copy of the market for persistence.
func (e *Engine) Snapshot() market.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.market.Snapshot()
}

// Assess evaluates one position at the current mark price without changing anything.
func (e *Engine) Assess(ctx context.Context, trader string) (risk.Assessment, error) {
	mark, err := e.markPrice(ctx)
	if err != nil {
		return risk.Assessment{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.market.Positions().Get(trader)
	if !ok {
		return risk.Assessment{}, fmt.Errorf("%s: %w", trader, ErrPositionNotFound)
	}
	return e.eval.Assess(p, mark)
}

// Liquidatable lists the traders whose positions can be liquidated at the current mark price.
func (e *Engine) Liquidatable(ctx context.Context) ([]string, error) {
	mark, err := e.markPrice(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var traders []string
	for _, p := range e.market.Positions().List() {
		ok, err := e.eval.IsLiquidatable(p, mark)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Trader, err)
		}
		if ok {
			traders = append(traders, p.Trader)
		}
	}
	return traders, nil
}

// =====================================================
// Pause
// =====================================================

// Pause stops open, deposit, withdraw and close. Liquidation and funding keep working.
func (e *Engine) Pause() string {
	return e.setPaused(true)
}

func (e *Engine) Unpause() string {
	return e.setPaused(false)
}

func (e *Engine) setPaused(paused bool) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.market.SetPaused(paused)
	typ := EventMarketResumed
	if paused {
		typ = EventMarketPaused
	}
	e.log.Info("market pause changed", "paused", paused)
	return e.publish(e.newEvent(typ, "", Result{}, e.deps.Clock()))
}

// =====================================================
// support methods
// =====================================================

// markPrice must be called outside the critical section.
func (e *Engine) markPrice(ctx context.Context) (fixedpoint.Value, error) {
	d, err := e.deps.Marks.MarkPrice(ctx, e.market.ID())
	if err != nil {
		return fixedpoint.Value{}, fmt.Errorf("%w: %w", ErrPriceUnavailable, err)
	}
	mark, err := e.market.Precision().FromDecimal(d)
	if err != nil {
		return fixedpoint.Value{}, err
	}
	if !mark.IsPositive() {
		return fixedpoint.Value{}, fmt.Errorf("mark price %s: %w", d, ErrPriceUnavailable)
	}
	return mark, nil
}

// premiumFraction must be called outside the critical section.
func (e *Engine) premiumFraction(ctx context.Context) (fixedpoint.Value, error) {
	if e.deps.Funding == nil {
		return fixedpoint.Zero(), nil
	}
	d, err := e.deps.Funding.PremiumFraction(ctx, e.market.ID())
	if err != nil {
		return fixedpoint.Value{}, fmt.Errorf("%w: %w", ErrPriceUnavailable, err)
	}
	return e.market.Precision().FromDecimal(d)
}

func (e *Engine) pull(ctx context.Context, trader string, amount fixedpoint.Value) error {
	if err := e.deps.Collateral.Pull(ctx, trader, e.toDecimal(amount)); err != nil {
		return fmt.Errorf("pull %s from %s: %w: %w", e.market.Precision().Format(amount), trader, ErrCollateralTransferFailed, err)
	}
	return nil
}

func (e *Engine) push(ctx context.Context, trader string, amount fixedpoint.Value) error {
	if err := e.deps.Collateral.Push(ctx, trader, e.toDecimal(amount)); err != nil {
		return fmt.Errorf("push %s to %s: %w: %w", e.market.Precision().Format(amount), trader, ErrCollateralTransferFailed, err)
	}
	return nil
}

func (e *Engine) toDecimal(v fixedpoint.Value) decimal.Decimal {
	return e.market.Precision().ToDecimal(v)
}

func (e *Engine) now() (time.Time, uint64) {
	t := e.deps.Clock()
	if t.Unix() < 0 {
		return t, 0
	}
	return t, uint64(t.Unix())
}

func (e *Engine) calc() *calc {
	return &calc{prec: e.market.Precision()}
}

// commit applies d and writes or removes the position. Both were validated beforehand, so
// an error here means the in-memory state is corrupt.
func (e *Engine) commit(d market.Delta, trader string, p *position.Position) error {
	if err := e.market.ApplyDelta(d); err != nil {
		return err
	}
	if p == nil {
		e.market.Positions().Remove(trader)
	} else if err := e.market.Positions().Upsert(trader, *p); err != nil {
		return err
	}
	e.observeMarket()
	return nil
}

func (e *Engine) observeMarket() {
	agg := e.market.Aggregates()
	prec := e.market.Precision()
	metrics.ObserveMarket(e.market.ID(),
		prec.ToDecimal(agg.OpenInterestNotional).InexactFloat64(),
		prec.ToDecimal(agg.InsuranceFund).InexactFloat64(),
		prec.ToDecimal(agg.PrepaidBadDebt).InexactFloat64(),
		e.market.Positions().Len())
}

// observe records metrics for op and logs failures. Overflow is an error-level event.
func (e *Engine) observe(op, trader string, start time.Time, err error) {
	metrics.ObserveOperation(op, start, err)
	if err == nil {
		return
	}
	if errors.Is(err, fixedpoint.ErrArithmeticOverflow) {
		metrics.ArithmeticOverflows.WithLabelValues(e.market.ID(), op).Inc()
		e.log.Error("arithmetic overflow", "op", op, "trader", trader, "error", err)
		return
	}
	e.log.Debug("operation rejected", "op", op, "trader", trader, "error", err)
}

func sideDelta(p position.Position, notional fixedpoint.Value) market.Delta {
	d := market.Delta{OpenInterestNotional: notional}
	if p.IsLong() {
		d.OpenNotional = notional
	} else {
		d.PositionOpenNotional = notional
	}
	return d
}
