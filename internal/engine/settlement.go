package engine

import (
	"context"
	"fmt"
	"time"

	"frizo/margin_ledger/internal/fixedpoint"
	"frizo/margin_ledger/internal/market"
	"frizo/margin_ledger/internal/position"
)

// FundingSummary is the outcome of a market-wide funding settlement.
type FundingSummary struct {
	PremiumFraction fixedpoint.Value
	Positions       int
	Paid            fixedpoint.Value // total owed by payers
	Received        fixedpoint.Value // total credited to receivers
	BadDebt         fixedpoint.Value
	EventID         string
}

// SettleFunding applies the current premium fraction to every open position, at most once per
// funding period. Either every position is settled or none is.
func (e *Engine) SettleFunding(ctx context.Context) (sum FundingSummary, err error) {
	start := time.Now()
	defer func() { e.observe(OpSettleFunding, "", start, err) }()

	if e.deps.Funding == nil {
		return FundingSummary{}, fmt.Errorf("no funding rate source: %w", ErrPriceUnavailable)
	}
	premium, err := e.premiumFraction(ctx)
	if err != nil {
		return FundingSummary{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now, ts := e.now()
	if !e.market.FundingDue(now) {
		return FundingSummary{}, fmt.Errorf("next settlement at %s: %w", e.market.NextFundingAt().Format(time.RFC3339), ErrFundingNotDue)
	}

	c := e.calc()
	sum = FundingSummary{
		PremiumFraction: premium,
		Paid:            fixedpoint.Zero(),
		Received:        fixedpoint.Zero(),
		BadDebt:         fixedpoint.Zero(),
	}
	var funded []position.Position
	for _, p := range e.market.Positions().List() {
		f, err := e.fundPosition(p, premium, ts)
		if err != nil {
			return FundingSummary{}, fmt.Errorf("%s: %w", p.Trader, err)
		}
		if f.owed.IsNegative() {
			sum.Received = c.sub(sum.Received, f.owed)
		} else {
			sum.Paid = c.add(sum.Paid, f.owed)
		}
		sum.BadDebt = c.add(sum.BadDebt, f.shortfall)
		funded = append(funded, f.position)
	}
	if c.err != nil {
		return FundingSummary{}, c.err
	}

	delta := market.Delta{PrepaidBadDebt: sum.BadDebt}
	if _, err := e.market.PreviewDelta(delta); err != nil {
		return FundingSummary{}, err
	}
	if err := e.market.ApplyDelta(delta); err != nil {
		return FundingSummary{}, err
	}
	for i := range funded {
		if err := e.market.Positions().Upsert(funded[i].Trader, funded[i]); err != nil {
			return FundingSummary{}, err
		}
	}
	e.market.MarkFunded(now)
	e.observeMarket()

	sum.Positions = len(funded)
	sum.EventID = e.publish(e.newEvent(EventFundingSettled, "", Result{
		Amount:  premium,
		BadDebt: sum.BadDebt,
	}, now))

	prec := e.market.Precision()
	e.log.Info("funding settled", "positions", sum.Positions, "premium_fraction", prec.Format(premium),
		"paid", prec.Format(sum.Paid), "received", prec.Format(sum.Received), "bad_debt", prec.Format(sum.BadDebt))
	return sum, nil
}

// SettleBadDebt covers prepaid bad debt from the insurance fund, as far as the fund allows.
// It returns the amount covered.
func (e *Engine) SettleBadDebt(ctx context.Context) (covered fixedpoint.Value, err error) {
	start := time.Now()
	defer func() { e.observe(OpSettleBadDebt, "", start, err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	agg := e.market.Aggregates()
	covered = fixedpoint.Min(agg.PrepaidBadDebt, agg.InsuranceFund)
	if covered.IsZero() {
		return covered, nil
	}

	delta := market.Delta{
		PrepaidBadDebt: covered.Neg(),
		InsuranceFund:  covered.Neg(),
	}
	if err := e.market.ApplyDelta(delta); err != nil {
		return fixedpoint.Value{}, err
	}
	e.observeMarket()

	now, _ := e.now()
	e.publish(e.newEvent(EventBadDebtSettled, "", Result{Amount: covered}, now))
	e.log.Info("bad debt settled", "covered", e.market.Precision().Format(covered))
	return covered, nil
}
