package api

import (
	"time"

	"frizo/margin_ledger/internal/engine"
	"frizo/margin_ledger/internal/fixedpoint"
	"frizo/margin_ledger/internal/market"
	"frizo/margin_ledger/internal/position"
	"frizo/margin_ledger/internal/risk"
)

// --- Request types ---
//
// Amounts travel as decimal strings and are parsed at the market precision.

// CreateMarketRequest is the JSON body for POST /api/v1/markets.
type CreateMarketRequest struct {
	ID                      string `json:"id"`
	Symbol                  string `json:"symbol"`
	InitialMarginRatio      string `json:"initial_margin_ratio"`
	MaintenanceRatio        string `json:"maintenance_ratio"`
	LiquidationFee          string `json:"liquidation_fee"`
	PartialLiquidationRatio string `json:"partial_liquidation_ratio"`
	PartialLiquidationFloor string `json:"partial_liquidation_floor"`
	FluctuationLimitRatio   string `json:"fluctuation_limit_ratio"`
	FluctuationWindow       string `json:"fluctuation_window,omitempty"`
	FundingPeriod           string `json:"funding_period"` // time.ParseDuration syntax
	Decimals                uint8  `json:"decimals"`
	MarkPrice               string `json:"mark_price,omitempty"`
}

// PriceRequest is the JSON body for PUT /api/v1/markets/{marketID}/price.
type PriceRequest struct {
	MarkPrice       string `json:"mark_price,omitempty"`
	PremiumFraction string `json:"premium_fraction,omitempty"`
}

// OpenRequest is the JSON body for POST /api/v1/markets/{marketID}/positions.
type OpenRequest struct {
	Trader   string `json:"trader"`
	Side     string `json:"side"` // long / short
	Size     string `json:"size"`
	Margin   string `json:"margin"`
	Leverage string `json:"leverage"`
}

// AmountRequest is the JSON body for deposit, withdraw and collateral credit.
type AmountRequest struct {
	Amount string `json:"amount"`
}

// FundingRequest is the JSON body for POST .../positions/{trader}/funding.
// An empty premium fraction uses the current one from the price book.
type FundingRequest struct {
	PremiumFraction string `json:"premium_fraction,omitempty"`
}

// --- Response types ---

type ParamsResponse struct {
	InitialMarginRatio      string `json:"initial_margin_ratio"`
	MaintenanceRatio        string `json:"maintenance_ratio"`
	LiquidationFee          string `json:"liquidation_fee"`
	PartialLiquidationRatio string `json:"partial_liquidation_ratio"`
	PartialLiquidationFloor string `json:"partial_liquidation_floor"`
	FluctuationLimitRatio   string `json:"fluctuation_limit_ratio"`
	FluctuationWindow       string `json:"fluctuation_window"`
	FundingPeriod           string `json:"funding_period"`
	Decimals                uint8  `json:"decimals"`
}

type AggregatesResponse struct {
	OpenInterestNotional string `json:"open_interest_notional"`
	OpenNotional         string `json:"open_notional"`
	PositionOpenNotional string `json:"position_open_notional"`
	PrepaidBadDebt       string `json:"prepaid_bad_debt"`
	UnrealizedPnL        string `json:"unrealized_pnl"`
	InsuranceFund        string `json:"insurance_fund"`
	FeePool              string `json:"fee_pool"`
}

type MarketResponse struct {
	ID            string             `json:"id"`
	Symbol        string             `json:"symbol"`
	Params        ParamsResponse     `json:"params"`
	Aggregates    AggregatesResponse `json:"aggregates"`
	Positions     int                `json:"positions"`
	Paused        bool               `json:"paused"`
	LastMarkPrice string             `json:"last_mark_price"`
	LastFundingAt *time.Time         `json:"last_funding_at,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}

type PositionResponse struct {
	Trader                     string `json:"trader"`
	Side                       string `json:"side"`
	Status                     string `json:"status"`
	Size                       string `json:"size"`
	Margin                     string `json:"margin"`
	Notional                   string `json:"notional"`
	LastUpdatedPremiumFraction string `json:"last_updated_premium_fraction"`
	OpenedAt                   uint64 `json:"opened_at"`
	UpdatedAt                  uint64 `json:"updated_at"`
}

// ResultResponse is returned by every mutating position endpoint.
type ResultResponse struct {
	EventID     string            `json:"event_id"`
	Position    *PositionResponse `json:"position,omitempty"` // nil once removed
	Removed     bool              `json:"removed"`
	Amount      string            `json:"amount"`
	RealizedPnL string            `json:"realized_pnl"`
	Fee         string            `json:"fee"`
	BadDebt     string            `json:"bad_debt"`
	Payout      string            `json:"payout"`
}

type RiskResponse struct {
	Trader           string `json:"trader"`
	PositionValue    string `json:"position_value"`
	UnrealizedPnL    string `json:"unrealized_pnl"`
	MarginRatio      string `json:"margin_ratio"`
	Liquidatable     bool   `json:"liquidatable"`
	PartialEligible  bool   `json:"partial_eligible"`
	LiquidationPrice string `json:"liquidation_price"`
	FreeCollateral   string `json:"free_collateral"`
}

type FundingResponse struct {
	EventID         string `json:"event_id"`
	PremiumFraction string `json:"premium_fraction"`
	Positions       int    `json:"positions"`
	Paid            string `json:"paid"`
	Received        string `json:"received"`
	BadDebt         string `json:"bad_debt"`
}

// --- Conversions ---

func newParamsResponse(p market.Params) ParamsResponse {
	window := p.FluctuationWindow
	if window == 0 {
		window = market.DefaultFluctuationWindow
	}
	return ParamsResponse{
		InitialMarginRatio:      p.InitialMarginRatio.String(),
		MaintenanceRatio:        p.MaintenanceRatio.String(),
		LiquidationFee:          p.LiquidationFee.String(),
		PartialLiquidationRatio: p.PartialLiquidationRatio.String(),
		PartialLiquidationFloor: p.PartialLiquidationFloor.String(),
		FluctuationLimitRatio:   p.FluctuationLimitRatio.String(),
		FluctuationWindow:       window.String(),
		FundingPeriod:           p.FundingPeriod.String(),
		Decimals:                p.Decimals,
	}
}

func newAggregatesResponse(prec fixedpoint.Precision, a market.Aggregates) AggregatesResponse {
	return AggregatesResponse{
		OpenInterestNotional: prec.Format(a.OpenInterestNotional),
		OpenNotional:         prec.Format(a.OpenNotional),
		PositionOpenNotional: prec.Format(a.PositionOpenNotional),
		PrepaidBadDebt:       prec.Format(a.PrepaidBadDebt),
		UnrealizedPnL:        prec.Format(a.UnrealizedPnL),
		InsuranceFund:        prec.Format(a.InsuranceFund),
		FeePool:              prec.Format(a.FeePool),
	}
}

func newMarketResponse(eng *engine.Engine) MarketResponse {
	snap := eng.Snapshot()
	prec := eng.Precision()
	resp := MarketResponse{
		ID:            snap.ID,
		Symbol:        snap.Symbol,
		Params:        newParamsResponse(snap.Params),
		Aggregates:    newAggregatesResponse(prec, snap.State.Aggregates),
		Positions:     len(snap.Positions),
		Paused:        snap.State.Paused,
		LastMarkPrice: prec.Format(snap.State.LastMarkPrice),
		CreatedAt:     snap.State.CreatedAt,
	}
	if !snap.State.LastFundingAt.IsZero() {
		t := snap.State.LastFundingAt
		resp.LastFundingAt = &t
	}
	return resp
}

func newPositionResponse(prec fixedpoint.Precision, p position.Position) PositionResponse {
	return PositionResponse{
		Trader:                     p.Trader,
		Side:                       p.Side().String(),
		Status:                     p.Status.String(),
		Size:                       prec.Format(p.Size),
		Margin:                     prec.Format(p.Margin),
		Notional:                   prec.Format(p.Notional),
		LastUpdatedPremiumFraction: prec.Format(p.LastUpdatedPremiumFraction),
		OpenedAt:                   p.OpenedAt,
		UpdatedAt:                  p.UpdatedAt,
	}
}

func newResultResponse(prec fixedpoint.Precision, res engine.Result) ResultResponse {
	resp := ResultResponse{
		EventID:     res.EventID,
		Removed:     res.Removed,
		Amount:      prec.Format(res.Amount),
		RealizedPnL: prec.Format(res.RealizedPnL),
		Fee:         prec.Format(res.Fee),
		BadDebt:     prec.Format(res.BadDebt),
		Payout:      prec.Format(res.Payout),
	}
	if !res.Removed {
		p := newPositionResponse(prec, res.Position)
		resp.Position = &p
	}
	return resp
}

func newRiskResponse(prec fixedpoint.Precision, trader string, a risk.Assessment) RiskResponse {
	return RiskResponse{
		Trader:           trader,
		PositionValue:    prec.Format(a.PositionValue),
		UnrealizedPnL:    prec.Format(a.UnrealizedPnL),
		MarginRatio:      prec.Format(a.MarginRatio),
		Liquidatable:     a.Liquidatable,
		PartialEligible:  a.PartialEligible,
		LiquidationPrice: prec.Format(a.LiquidationPrice),
		FreeCollateral:   prec.Format(a.FreeCollateral),
	}
}

func newFundingResponse(prec fixedpoint.Precision, s engine.FundingSummary) FundingResponse {
	return FundingResponse{
		EventID:         s.EventID,
		PremiumFraction: prec.Format(s.PremiumFraction),
		Positions:       s.Positions,
		Paid:            prec.Format(s.Paid),
		Received:        prec.Format(s.Received),
		BadDebt:         prec.Format(s.BadDebt),
	}
}
