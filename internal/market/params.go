package market

import (
	"errors"
	"fmt"
	"time"

	"frizo/margin_ledger/internal/fixedpoint"
	"github.com/shopspring/decimal"
)

var ErrInvalidMarketParameters = errors.New("invalid market parameters")

// DefaultFluctuationWindow applies when Params.FluctuationWindow is zero.
const DefaultFluctuationWindow = time.Minute

// Params are the risk parameters of a market, fixed at creation.
// Ratios are plain decimals ("0.05" is 5%).
type Params struct {
	InitialMarginRatio      decimal.Decimal `json:"initial_margin_ratio"`
	MaintenanceRatio        decimal.Decimal `json:"maintenance_ratio"`
	LiquidationFee          decimal.Decimal `json:"liquidation_fee"`
	PartialLiquidationRatio decimal.Decimal `json:"partial_liquidation_ratio"`
	FluctuationLimitRatio   decimal.Decimal `json:"fluctuation_limit_ratio"` // 0 disables the check

	// PartialLiquidationFloor is the notional a position must exceed to be partially liquidated.
	PartialLiquidationFloor decimal.Decimal `json:"partial_liquidation_floor"`

	// FluctuationWindow is how long a reference mark is held before it rolls to the current one.
	FluctuationWindow time.Duration `json:"fluctuation_window,omitempty"`

	FundingPeriod time.Duration `json:"funding_period"`
	Decimals      uint8         `json:"decimals"`
}

// RiskParams are Params scaled to the market precision.
type RiskParams struct {
	Precision fixedpoint.Precision

	InitialMarginRatio      fixedpoint.Value
	MaintenanceRatio        fixedpoint.Value
	LiquidationFee          fixedpoint.Value
	PartialLiquidationRatio fixedpoint.Value
	PartialLiquidationFloor fixedpoint.Value
	FluctuationLimitRatio   fixedpoint.Value
	FluctuationWindow       time.Duration
	FundingPeriod           time.Duration
}

// Validate checks the parameter invariants after scaling.
func (p Params) Validate() error {
	_, err := p.Scaled()
	return err
}

// Scaled converts p to the market precision and validates it.
func (p Params) Scaled() (RiskParams, error) {
	prec, err := fixedpoint.NewPrecision(p.Decimals)
	if err != nil {
		return RiskParams{}, fmt.Errorf("decimals: %v: %w", err, ErrInvalidMarketParameters)
	}

	rp := RiskParams{Precision: prec, FundingPeriod: p.FundingPeriod, FluctuationWindow: p.FluctuationWindow}
	if rp.FluctuationWindow == 0 {
		rp.FluctuationWindow = DefaultFluctuationWindow
	}
	fields := []struct {
		name string
		in   decimal.Decimal
		out  *fixedpoint.Value
	}{
		{"initial_margin_ratio", p.InitialMarginRatio, &rp.InitialMarginRatio},
		{"maintenance_ratio", p.MaintenanceRatio, &rp.MaintenanceRatio},
		{"liquidation_fee", p.LiquidationFee, &rp.LiquidationFee},
		{"partial_liquidation_ratio", p.PartialLiquidationRatio, &rp.PartialLiquidationRatio},
		{"partial_liquidation_floor", p.PartialLiquidationFloor, &rp.PartialLiquidationFloor},
		{"fluctuation_limit_ratio", p.FluctuationLimitRatio, &rp.FluctuationLimitRatio},
	}
	for _, f := range fields {
		v, err := prec.FromDecimal(f.in)
		if err != nil {
			return RiskParams{}, fmt.Errorf("%s: %v: %w", f.name, err, ErrInvalidMarketParameters)
		}
		if v.IsNegative() {
			return RiskParams{}, fmt.Errorf("%s must not be negative: %w", f.name, ErrInvalidMarketParameters)
		}
		*f.out = v
	}

	one := prec.One()
	switch {
	case !rp.MaintenanceRatio.IsPositive():
		return RiskParams{}, fmt.Errorf("maintenance_ratio must be positive at %d decimals: %w", p.Decimals, ErrInvalidMarketParameters)
	case rp.InitialMarginRatio.LessThan(rp.MaintenanceRatio):
		return RiskParams{}, fmt.Errorf("initial_margin_ratio must be >= maintenance_ratio: %w", ErrInvalidMarketParameters)
	case rp.InitialMarginRatio.GreaterThan(one):
		return RiskParams{}, fmt.Errorf("initial_margin_ratio must be <= 1: %w", ErrInvalidMarketParameters)
	case rp.LiquidationFee.GreaterThan(one):
		return RiskParams{}, fmt.Errorf("liquidation_fee must be <= 1: %w", ErrInvalidMarketParameters)
	case rp.PartialLiquidationRatio.GreaterThan(one):
		return RiskParams{}, fmt.Errorf("partial_liquidation_ratio must be <= 1: %w", ErrInvalidMarketParameters)
	case p.FluctuationWindow < 0:
		return RiskParams{}, fmt.Errorf("fluctuation_window must not be negative: %w", ErrInvalidMarketParameters)
	case p.FundingPeriod <= 0:
		return RiskParams{}, fmt.Errorf("funding_period must be positive: %w", ErrInvalidMarketParameters)
	}

	return rp, nil
}
