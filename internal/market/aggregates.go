package market

import (
	"errors"
	"fmt"

	"frizo/margin_ledger/internal/fixedpoint"
)

var ErrAggregateInvariant = errors.New("market aggregate invariant violated")

// Aggregates is the mutable accounting of a market.
type Aggregates struct {
	// OpenInterestNotional is the notional of every open position;
	// OpenNotional (long side) + PositionOpenNotional (short side) always add up to it.
	OpenInterestNotional fixedpoint.Value
	OpenNotional         fixedpoint.Value
	PositionOpenNotional fixedpoint.Value

	// PrepaidBadDebt are losses no margin could cover, waiting for the insurance fund.
	PrepaidBadDebt fixedpoint.Value
	// UnrealizedPnL accumulates trader PnL realized against the market. Signed.
	UnrealizedPnL fixedpoint.Value
	InsuranceFund fixedpoint.Value
	FeePool       fixedpoint.Value
}

// Delta is a signed change to Aggregates.
type Delta struct {
	OpenInterestNotional fixedpoint.Value
	OpenNotional         fixedpoint.Value
	PositionOpenNotional fixedpoint.Value
	PrepaidBadDebt       fixedpoint.Value
	UnrealizedPnL        fixedpoint.Value
	InsuranceFund        fixedpoint.Value
	FeePool              fixedpoint.Value
}

// Merge adds two deltas.
func (d Delta) Merge(o Delta) (Delta, error) {
	out := Delta{}
	pairs := []struct {
		dst  *fixedpoint.Value
		a, b fixedpoint.Value
	}{
		{&out.OpenInterestNotional, d.OpenInterestNotional, o.OpenInterestNotional},
		{&out.OpenNotional, d.OpenNotional, o.OpenNotional},
		{&out.PositionOpenNotional, d.PositionOpenNotional, o.PositionOpenNotional},
		{&out.PrepaidBadDebt, d.PrepaidBadDebt, o.PrepaidBadDebt},
		{&out.UnrealizedPnL, d.UnrealizedPnL, o.UnrealizedPnL},
		{&out.InsuranceFund, d.InsuranceFund, o.InsuranceFund},
		{&out.FeePool, d.FeePool, o.FeePool},
	}
	for _, p := range pairs {
		sum, err := p.a.Add(p.b)
		if err != nil {
			return Delta{}, err
		}
		*p.dst = sum
	}
	return out, nil
}

// Apply returns a + d, or an error if the result breaks an invariant. a is not modified.
func (a Aggregates) Apply(d Delta) (Aggregates, error) {
	next := a
	pairs := []struct {
		name string
		dst  *fixedpoint.Value
		add  fixedpoint.Value
	}{
		{"open_interest_notional", &next.OpenInterestNotional, d.OpenInterestNotional},
		{"open_notional", &next.OpenNotional, d.OpenNotional},
		{"position_open_notional", &next.PositionOpenNotional, d.PositionOpenNotional},
		{"prepaid_bad_debt", &next.PrepaidBadDebt, d.PrepaidBadDebt},
		{"unrealized_pnl", &next.UnrealizedPnL, d.UnrealizedPnL},
		{"insurance_fund", &next.InsuranceFund, d.InsuranceFund},
		{"fee_pool", &next.FeePool, d.FeePool},
	}
	for _, p := range pairs {
		sum, err := p.dst.Add(p.add)
		if err != nil {
			return Aggregates{}, fmt.Errorf("%s: %w", p.name, err)
		}
		*p.dst = sum
	}

	if err := next.Validate(); err != nil {
		return Aggregates{}, err
	}
	return next, nil
}

// Validate checks non-negativity and that the side totals match open interest.
func (a Aggregates) Validate() error {
	nonNegative := map[string]fixedpoint.Value{
		"open_interest_notional": a.OpenInterestNotional,
		"open_notional":          a.OpenNotional,
		"position_open_notional": a.PositionOpenNotional,
		"prepaid_bad_debt":       a.PrepaidBadDebt,
		"insurance_fund":         a.InsuranceFund,
		"fee_pool":               a.FeePool,
	}
	for name, v := range nonNegative {
		if v.IsNegative() {
			return fmt.Errorf("%s would become negative: %w", name, ErrAggregateInvariant)
		}
	}

	sides, err := a.OpenNotional.Add(a.PositionOpenNotional)
	if err != nil {
		return err
	}
	if !sides.Equal(a.OpenInterestNotional) {
		return fmt.Errorf("long and short notional do not add up to open interest: %w", ErrAggregateInvariant)
	}
	return nil
}
