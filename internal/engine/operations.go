package engine

import (
	"context"
	"fmt"
	"time"

	"frizo/margin_ledger/internal/fixedpoint"
	"frizo/margin_ledger/internal/market"
	"frizo/margin_ledger/internal/metrics"
	"frizo/margin_ledger/internal/position"
	"frizo/margin_ledger/internal/risk"
)

// OpenRequest opens a position. Amounts are at the market precision; Size is unsigned.
type OpenRequest struct {
	Trader   string
	Side     position.PositionSide
	Size     fixedpoint.Value
	Margin   fixedpoint.Value
	Leverage fixedpoint.Value
}

// =====================================================
// Open / Close
// =====================================================

// OpenPosition (開倉)
func (e *Engine) OpenPosition(ctx context.Context, req OpenRequest) (res Result, err error) {
	start := time.Now()
	defer func() { e.observe(OpOpen, req.Trader, start, err) }()

	if req.Trader == "" {
		return Result{}, fmt.Errorf("trader is required: %w", position.ErrInvalidPosition)
	}
	if req.Side != position.LONG && req.Side != position.SHORT {
		return Result{}, fmt.Errorf("unknown side %d: %w", req.Side, position.ErrInvalidPosition)
	}
	if !req.Size.IsPositive() || !req.Margin.IsPositive() || !req.Leverage.IsPositive() {
		return Result{}, fmt.Errorf("size, margin and leverage must be positive: %w", ErrInvalidAmount)
	}

	mark, err := e.markPrice(ctx)
	if err != nil {
		return Result{}, err
	}
	premium, err := e.premiumFraction(ctx)
	if err != nil {
		return Result{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.market.Paused() {
		return Result{}, ErrMarketPaused
	}
	if _, ok := e.market.Positions().Get(req.Trader); ok {
		return Result{}, fmt.Errorf("%s: %w", req.Trader, ErrPositionAlreadyOpen)
	}

	rp := e.market.Risk()
	c := e.calc()
	notional := c.mul(req.Size, mark)
	leverageRatio := c.div(rp.Precision.One(), req.Leverage)
	marginRatio := c.div(req.Margin, notional)
	if c.err != nil {
		return Result{}, c.err
	}
	if notional.IsZero() {
		return Result{}, fmt.Errorf("size too small at mark %s: %w", rp.Precision.Format(mark), ErrInvalidAmount)
	}
	if leverageRatio.LessThan(rp.InitialMarginRatio) {
		return Result{}, fmt.Errorf("leverage %s exceeds 1/initial_margin_ratio: %w",
			rp.Precision.Format(req.Leverage), ErrInsufficientMargin)
	}
	if marginRatio.LessThan(leverageRatio) {
		return Result{}, fmt.Errorf("margin %s below notional/leverage: %w",
			rp.Precision.Format(req.Margin), ErrInsufficientMargin)
	}
	now, ts := e.now()
	e.market.RollMarkPrice(mark, now)
	if err := e.market.CheckFluctuation(mark); err != nil {
		return Result{}, err
	}

	p, err := position.New(req.Trader, req.Side, req.Size, req.Margin, notional, premium, ts)
	if err != nil {
		return Result{}, err
	}
	delta := sideDelta(p, notional)
	if _, err := e.market.PreviewDelta(delta); err != nil {
		return Result{}, err
	}

	if err := e.pull(ctx, req.Trader, req.Margin); err != nil {
		return Result{}, err
	}
	if err := e.commit(delta, req.Trader, &p); err != nil {
		return Result{}, err
	}
	e.market.ObserveMarkPrice(mark, now)

	res = Result{Position: p}
	res.EventID = e.publish(e.newEvent(EventPositionOpened, req.Trader, res, now))
	e.log.Info("position opened", "trader", req.Trader, "side", req.Side.String(),
		"size", rp.Precision.Format(req.Size), "margin", rp.Precision.Format(req.Margin),
		"notional", rp.Precision.Format(notional))
	return res, nil
}

// ClosePosition (平倉) realizes the PnL and pays margin + PnL back to the trader.
// A liquidatable position must be liquidated instead.
func (e *Engine) ClosePosition(ctx context.Context, trader string) (res Result, err error) {
	start := time.Now()
	defer func() { e.observe(OpClose, trader, start, err) }()

	mark, err := e.markPrice(ctx)
	if err != nil {
		return Result{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.market.Paused() {
		return Result{}, ErrMarketPaused
	}
	p, ok := e.market.Positions().Get(trader)
	if !ok {
		return Result{}, fmt.Errorf("%s: %w", trader, ErrPositionNotFound)
	}
	a, err := e.eval.Assess(p, mark)
	if err != nil {
		return Result{}, err
	}
	if a.Liquidatable {
		return Result{}, fmt.Errorf("%s: margin ratio %s: %w", trader, e.market.Precision().Format(a.MarginRatio), ErrNotEligibleToClose)
	}
	now, ts := e.now()
	e.market.RollMarkPrice(mark, now)
	if err := e.market.CheckFluctuation(mark); err != nil {
		return Result{}, err
	}

	c := e.calc()
	payout := c.add(p.Margin, a.UnrealizedPnL)
	if c.err != nil {
		return Result{}, c.err
	}
	delta := sideDelta(p, p.Notional.Neg())
	delta.UnrealizedPnL = a.UnrealizedPnL
	if _, err := e.market.PreviewDelta(delta); err != nil {
		return Result{}, err
	}

	if payout.IsPositive() {
		if err := e.push(ctx, trader, payout); err != nil {
			return Result{}, err
		}
	}
	if err := e.commit(delta, trader, nil); err != nil {
		return Result{}, err
	}
	e.market.ObserveMarkPrice(mark, now)

	res = Result{
		Position:    p.Touched(ts),
		Removed:     true,
		RealizedPnL: a.UnrealizedPnL,
		Payout:      payout,
	}
	res.EventID = e.publish(e.newEvent(EventPositionClosed, trader, res, now))
	e.log.Info("position closed", "trader", trader,
		"pnl", e.market.Precision().Format(a.UnrealizedPnL), "payout", e.market.Precision().Format(payout))
	return res, nil
}

// =====================================================
// Margin
// =====================================================

// DepositMargin (追加保證金). A liquidating position returns to normal.
func (e *Engine) DepositMargin(ctx context.Context, trader string, amount fixedpoint.Value) (res Result, err error) {
	start := time.Now()
	defer func() { e.observe(OpDeposit, trader, start, err) }()

	if !amount.IsPositive() {
		return Result{}, fmt.Errorf("deposit must be positive: %w", ErrInvalidAmount)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.market.Paused() {
		return Result{}, ErrMarketPaused
	}
	p, ok := e.market.Positions().Get(trader)
	if !ok {
		return Result{}, fmt.Errorf("%s: %w", trader, ErrPositionNotFound)
	}

	margin, err := p.Margin.Add(amount)
	if err != nil {
		return Result{}, err
	}
	now, ts := e.now()
	next := p.Touched(ts)
	next.Margin = margin
	next.Status = position.PositionNormal
	if err := next.Validate(); err != nil {
		return Result{}, err
	}

	if err := e.pull(ctx, trader, amount); err != nil {
		return Result{}, err
	}
	if err := e.commit(market.Delta{}, trader, &next); err != nil {
		return Result{}, err
	}

	res = Result{Position: next, Amount: amount}
	res.EventID = e.publish(e.newEvent(EventMarginDeposited, trader, res, now))
	e.log.Info("margin deposited", "trader", trader, "amount", e.market.Precision().Format(amount))
	return res, nil
}

// WithdrawMargin (提取保證金). The remaining margin must keep the position at or above the
// initial margin ratio.
func (e *Engine) WithdrawMargin(ctx context.Context, trader string, amount fixedpoint.Value) (res Result, err error) {
	start := time.Now()
	defer func() { e.observe(OpWithdraw, trader, start, err) }()

	if !amount.IsPositive() {
		return Result{}, fmt.Errorf("withdrawal must be positive: %w", ErrInvalidAmount)
	}

	mark, err := e.markPrice(ctx)
	if err != nil {
		return Result{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.market.Paused() {
		return Result{}, ErrMarketPaused
	}
	p, ok := e.market.Positions().Get(trader)
	if !ok {
		return Result{}, fmt.Errorf("%s: %w", trader, ErrPositionNotFound)
	}

	prec := e.market.Precision()
	if amount.GreaterThanOrEqual(p.Margin) {
		return Result{}, fmt.Errorf("withdraw %s of margin %s: %w", prec.Format(amount), prec.Format(p.Margin), ErrMarginRatioTooLow)
	}

	now, ts := e.now()
	next := p.Touched(ts)
	next.Margin, err = p.Margin.Sub(amount)
	if err != nil {
		return Result{}, err
	}
	ratio, err := e.eval.MarginRatio(next, mark)
	if err != nil {
		return Result{}, err
	}
	if ratio.LessThan(e.market.Risk().InitialMarginRatio) {
		return Result{}, fmt.Errorf("ratio after withdrawal %s: %w", prec.Format(ratio), ErrMarginRatioTooLow)
	}
	if err := next.Validate(); err != nil {
		return Result{}, err
	}

	if err := e.push(ctx, trader, amount); err != nil {
		return Result{}, err
	}
	if err := e.commit(market.Delta{}, trader, &next); err != nil {
		return Result{}, err
	}

	res = Result{Position: next, Amount: amount, Payout: amount}
	res.EventID = e.publish(e.newEvent(EventMarginWithdrawn, trader, res, now))
	e.log.Info("margin withdrawn", "trader", trader, "amount", prec.Format(amount))
	return res, nil
}

// =====================================================
// Funding
// =====================================================

// PayFunding settles funding for one position against premiumFraction.
func (e *Engine) PayFunding(ctx context.Context, trader string, premiumFraction fixedpoint.Value) (res Result, err error) {
	start := time.Now()
	defer func() { e.observe(OpPayFunding, trader, start, err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.market.Positions().Get(trader)
	if !ok {
		return Result{}, fmt.Errorf("%s: %w", trader, ErrPositionNotFound)
	}

	now, ts := e.now()
	f, err := e.fundPosition(p, premiumFraction, ts)
	if err != nil {
		return Result{}, err
	}
	delta := market.Delta{PrepaidBadDebt: f.shortfall}
	if _, err := e.market.PreviewDelta(delta); err != nil {
		return Result{}, err
	}
	if err := e.commit(delta, trader, &f.position); err != nil {
		return Result{}, err
	}

	res = Result{Position: f.position, Amount: f.owed, BadDebt: f.shortfall}
	res.EventID = e.publish(e.newEvent(EventFundingPaid, trader, res, now))
	e.log.Info("funding paid", "trader", trader,
		"owed", e.market.Precision().Format(f.owed), "shortfall", e.market.Precision().Format(f.shortfall))
	return res, nil
}

type funding struct {
	position  position.Position
	owed      fixedpoint.Value // negative: received
	shortfall fixedpoint.Value
}

// fundPosition applies the funding payment to margin. Margin never goes negative: the part
// it cannot cover becomes bad debt and the position waits for liquidation or a deposit.
func (e *Engine) fundPosition(p position.Position, premiumFraction fixedpoint.Value, ts uint64) (funding, error) {
	owed, err := e.eval.FundingPayment(p, premiumFraction)
	if err != nil {
		return funding{}, err
	}

	c := e.calc()
	next := p.Touched(ts)
	next.LastUpdatedPremiumFraction = premiumFraction
	shortfall := fixedpoint.Zero()
	if owed.GreaterThan(p.Margin) {
		shortfall = c.sub(owed, p.Margin)
		next.Margin = fixedpoint.Zero()
	} else {
		next.Margin = c.sub(p.Margin, owed)
	}
	if c.err != nil {
		return funding{}, c.err
	}

	if next.Margin.IsZero() {
		next.Status = position.PositionLiquidating
	} else {
		next.Status = position.PositionNormal
	}
	if err := next.Validate(); err != nil {
		return funding{}, err
	}
	return funding{position: next, owed: owed, shortfall: shortfall}, nil
}

// =====================================================
// Liquidation
// =====================================================

// LiquidatePosition (強平) closes a slice of the position when it is eligible for partial
// liquidation, the whole position otherwise.
func (e *Engine) LiquidatePosition(ctx context.Context, trader string) (res Result, err error) {
	start := time.Now()
	defer func() { e.observe(OpLiquidate, trader, start, err) }()

	mark, err := e.markPrice(ctx)
	if err != nil {
		return Result{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.market.Positions().Get(trader)
	if !ok {
		return Result{}, fmt.Errorf("%s: %w", trader, ErrPositionNotFound)
	}
	a, err := e.eval.Assess(p, mark)
	if err != nil {
		return Result{}, err
	}
	if !a.Liquidatable {
		return Result{}, fmt.Errorf("%s: margin ratio %s: %w", trader, e.market.Precision().Format(a.MarginRatio), ErrNotLiquidatable)
	}

	now, ts := e.now()
	var plan liquidation
	if a.PartialEligible {
		plan, err = e.planLiquidation(p, a, e.market.Risk().PartialLiquidationRatio, ts)
		if err != nil {
			return Result{}, err
		}
	}
	if plan.remaining == nil {
		plan, err = e.planLiquidation(p, a, e.market.Precision().One(), ts)
		if err != nil {
			return Result{}, err
		}
	}
	if _, err := e.market.PreviewDelta(plan.delta); err != nil {
		return Result{}, err
	}
	if err := e.commit(plan.delta, trader, plan.remaining); err != nil {
		return Result{}, err
	}
	e.market.ObserveMarkPrice(mark, now)

	kind, typ := "full", EventLiquidation
	res = Result{
		Position:    p.Touched(ts),
		Removed:     true,
		RealizedPnL: plan.pnl,
		Fee:         plan.fee,
		BadDebt:     plan.badDebt,
	}
	if plan.remaining != nil {
		kind, typ = "partial", EventPartialLiquidation
		res.Position = *plan.remaining
		res.Removed = false
	}
	metrics.LiquidationsTotal.WithLabelValues(e.market.ID(), kind).Inc()
	res.EventID = e.publish(e.newEvent(typ, trader, res, now))

	prec := e.market.Precision()
	e.log.Info("position liquidated", "trader", trader, "kind", kind,
		"pnl", prec.Format(plan.pnl), "fee", prec.Format(plan.fee), "bad_debt", prec.Format(plan.badDebt))
	return res, nil
}

type liquidation struct {
	remaining *position.Position // nil: the whole position goes
	pnl       fixedpoint.Value
	fee       fixedpoint.Value
	badDebt   fixedpoint.Value
	delta     market.Delta
}

// planLiquidation liquidates the fraction r of p. The slice realizes r × pnl and pays a fee of
// liquidation_fee × r × value, split between the insurance fund and the fee pool. What is left
// of the slice's margin goes to the insurance fund; what is missing becomes bad debt.
// A partial plan whose remainder would not be a valid position comes back with remaining nil.
func (e *Engine) planLiquidation(p position.Position, a risk.Assessment, r fixedpoint.Value, ts uint64) (liquidation, error) {
	prec := e.market.Precision()
	full := r.GreaterThanOrEqual(prec.One())

	c := e.calc()
	slice := p
	pnl, value := a.UnrealizedPnL, a.PositionValue
	if !full {
		slice.Size = c.mul(p.Size, r)
		slice.Notional = c.mul(p.Notional, r)
		slice.Margin = c.mul(p.Margin, r)
		pnl = c.mul(a.UnrealizedPnL, r)
		value = c.mul(a.PositionValue, r)
	}

	fee := c.mul(e.market.Risk().LiquidationFee, value)
	toInsurance := c.div(fee, c.keep(prec.FromInt(2)))
	toFeePool := c.sub(fee, toInsurance)
	equity := c.sub(c.add(slice.Margin, pnl), fee)
	if c.err != nil {
		return liquidation{}, c.err
	}

	badDebt := fixedpoint.Zero()
	if equity.IsNegative() {
		badDebt = equity.Neg()
	} else {
		toInsurance = c.add(toInsurance, equity)
	}

	delta := sideDelta(p, slice.Notional.Neg())
	delta.UnrealizedPnL = pnl
	delta.InsuranceFund = toInsurance
	delta.FeePool = toFeePool
	delta.PrepaidBadDebt = badDebt

	plan := liquidation{pnl: pnl, fee: fee, badDebt: badDebt, delta: delta}
	if !full {
		rest := p.Touched(ts)
		rest.Size = c.sub(p.Size, slice.Size)
		rest.Notional = c.sub(p.Notional, slice.Notional)
		rest.Margin = c.sub(p.Margin, slice.Margin)
		if c.err == nil && rest.Validate() == nil && !slice.Size.IsZero() {
			plan.remaining = &rest
		}
	}
	if c.err != nil {
		return liquidation{}, c.err
	}
	return plan, nil
}
