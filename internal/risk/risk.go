// Package risk evaluates the solvency of a single position against a mark price.
// Everything here is a pure function of the market parameters, the position and the price.
package risk

import (
	"frizo/margin_ledger/internal/fixedpoint"
	"frizo/margin_ledger/internal/market"
	"frizo/margin_ledger/internal/position"
)

// Evaluator (風險評估)
type Evaluator struct {
	params market.RiskParams
}

func NewEvaluator(params market.RiskParams) Evaluator {
	return Evaluator{params: params}
}

// Assessment is a point-in-time view of one position at one mark price.
type Assessment struct {
	PositionValue    fixedpoint.Value
	UnrealizedPnL    fixedpoint.Value
	MarginRatio      fixedpoint.Value
	Liquidatable     bool
	PartialEligible  bool
	LiquidationPrice fixedpoint.Value
	FreeCollateral   fixedpoint.Value
}

// =====================================================
// Valuation
// =====================================================

// PositionValue = |size| × mark
func (e Evaluator) PositionValue(p position.Position, mark fixedpoint.Value) (fixedpoint.Value, error) {
	return e.params.Precision.Mul(p.AbsSize(), mark)
}

// UnrealizedPnL 未實現盈虧: long value − notional, short notional − value.
func (e Evaluator) UnrealizedPnL(p position.Position, mark fixedpoint.Value) (fixedpoint.Value, error) {
	value, err := e.PositionValue(p, mark)
	if err != nil {
		return fixedpoint.Value{}, err
	}
	if p.IsLong() {
		return value.Sub(p.Notional)
	}
	return p.Notional.Sub(value)
}

// MarginRatio 保證金率 = (margin + pnl) / notional
func (e Evaluator) MarginRatio(p position.Position, mark fixedpoint.Value) (fixedpoint.Value, error) {
	pnl, err := e.UnrealizedPnL(p, mark)
	if err != nil {
		return fixedpoint.Value{}, err
	}
	return e.ratio(p.Margin, pnl, p.Notional)
}

func (e Evaluator) ratio(margin, pnl, notional fixedpoint.Value) (fixedpoint.Value, error) {
	if notional.IsZero() {
		return fixedpoint.Value{}, fixedpoint.ErrDivisionByZero
	}
	equity, err := margin.Add(pnl)
	if err != nil {
		return fixedpoint.Value{}, err
	}
	return e.params.Precision.Div(equity, notional)
}

// =====================================================
// Liquidation
// =====================================================

// IsLiquidatable reports margin ratio strictly below the maintenance ratio.
func (e Evaluator) IsLiquidatable(p position.Position, mark fixedpoint.Value) (bool, error) {
	ratio, err := e.MarginRatio(p, mark)
	if err != nil {
		return false, err
	}
	return ratio.LessThan(e.params.MaintenanceRatio), nil
}

// IsPartialLiquidationEligible reports whether a liquidation may close only a slice of p.
// A position too small, or one that cannot pay its liquidation fee, is closed outright.
func (e Evaluator) IsPartialLiquidationEligible(p position.Position, mark fixedpoint.Value) (bool, error) {
	ratio, err := e.MarginRatio(p, mark)
	if err != nil {
		return false, err
	}
	return e.partialEligible(p, ratio), nil
}

func (e Evaluator) partialEligible(p position.Position, ratio fixedpoint.Value) bool {
	return ratio.LessThan(e.params.MaintenanceRatio) &&
		e.params.PartialLiquidationRatio.IsPositive() &&
		p.Notional.GreaterThan(e.params.PartialLiquidationFloor) &&
		ratio.GreaterThan(e.params.LiquidationFee) &&
		p.Margin.IsPositive()
}

// LiquidationPrice is the mark at which the margin ratio reaches the maintenance ratio.
// Zero means a long cannot be liquidated by price alone.
func (e Evaluator) LiquidationPrice(p position.Position) (fixedpoint.Value, error) {
	prec := e.params.Precision
	maint, err := prec.Mul(e.params.MaintenanceRatio, p.Notional)
	if err != nil {
		return fixedpoint.Value{}, err
	}

	// long:  (maint + notional − margin) / size
	// short: (notional + margin − maint) / size
	var target fixedpoint.Value
	if p.IsLong() {
		target, err = maint.Add(p.Notional)
		if err == nil {
			target, err = target.Sub(p.Margin)
		}
	} else {
		target, err = p.Notional.Add(p.Margin)
		if err == nil {
			target, err = target.Sub(maint)
		}
	}
	if err != nil {
		return fixedpoint.Value{}, err
	}
	if target.IsNegative() {
		return fixedpoint.Zero(), nil
	}
	return prec.Div(target, p.AbsSize())
}

// =====================================================
// Funding & collateral
// =====================================================

// FundingPayment = (premium − last premium) × size. Positive means the position pays.
func (e Evaluator) FundingPayment(p position.Position, premiumFraction fixedpoint.Value) (fixedpoint.Value, error) {
	diff, err := premiumFraction.Sub(p.LastUpdatedPremiumFraction)
	if err != nil {
		return fixedpoint.Value{}, err
	}
	return e.params.Precision.Mul(diff, p.Size)
}

// FreeCollateral is the margin that could leave the position while keeping its ratio at or
// above the initial margin ratio. Never negative.
func (e Evaluator) FreeCollateral(p position.Position, mark fixedpoint.Value) (fixedpoint.Value, error) {
	pnl, err := e.UnrealizedPnL(p, mark)
	if err != nil {
		return fixedpoint.Value{}, err
	}
	return e.freeCollateral(p, pnl)
}

func (e Evaluator) freeCollateral(p position.Position, pnl fixedpoint.Value) (fixedpoint.Value, error) {
	required, err := e.params.Precision.Mul(e.params.InitialMarginRatio, p.Notional)
	if err != nil {
		return fixedpoint.Value{}, err
	}
	equity, err := p.Margin.Add(pnl)
	if err != nil {
		return fixedpoint.Value{}, err
	}
	free, err := equity.Sub(required)
	if err != nil {
		return fixedpoint.Value{}, err
	}
	free = fixedpoint.Min(free, p.Margin)
	return fixedpoint.Max(free, fixedpoint.Zero()), nil
}

// Assess evaluates everything at once. It does not mutate p, so repeated calls agree.
func (e Evaluator) Assess(p position.Position, mark fixedpoint.Value) (Assessment, error) {
	value, err := e.PositionValue(p, mark)
	if err != nil {
		return Assessment{}, err
	}
	pnl, err := e.UnrealizedPnL(p, mark)
	if err != nil {
		return Assessment{}, err
	}
	ratio, err := e.ratio(p.Margin, pnl, p.Notional)
	if err != nil {
		return Assessment{}, err
	}
	liqPrice, err := e.LiquidationPrice(p)
	if err != nil {
		return Assessment{}, err
	}
	free, err := e.freeCollateral(p, pnl)
	if err != nil {
		return Assessment{}, err
	}

	return Assessment{
		PositionValue:    value,
		UnrealizedPnL:    pnl,
		MarginRatio:      ratio,
		Liquidatable:     ratio.LessThan(e.params.MaintenanceRatio),
		PartialEligible:  e.partialEligible(p, ratio),
		LiquidationPrice: liqPrice,
		FreeCollateral:   free,
	}, nil
}
