package store

import (
	"fmt"
	"time"

	"frizo/margin_ledger/internal/fixedpoint"
	"frizo/margin_ledger/internal/market"
	"frizo/margin_ledger/internal/position"
)

// MarketRecord is the storage form of a market.Snapshot. Amounts are decimal strings.
type MarketRecord struct {
	ID     string        `json:"id"`
	Symbol string        `json:"symbol"`
	Params market.Params `json:"params"`

	OpenInterestNotional string `json:"open_interest_notional"`
	OpenNotional         string `json:"open_notional"`
	PositionOpenNotional string `json:"position_open_notional"`
	PrepaidBadDebt       string `json:"prepaid_bad_debt"`
	UnrealizedPnL        string `json:"unrealized_pnl"`
	InsuranceFund        string `json:"insurance_fund"`
	FeePool              string `json:"fee_pool"`

	LastMarkPrice string     `json:"last_mark_price"`
	LastFundingAt *time.Time `json:"last_funding_at,omitempty"`
	Paused        bool       `json:"paused"`
	CreatedAt     time.Time  `json:"created_at"`

	Positions []PositionRecord `json:"positions"`
}

type PositionRecord struct {
	Trader                     string                  `json:"trader"`
	Status                     position.PositionStatus `json:"status"`
	Size                       string                  `json:"size"`
	Margin                     string                  `json:"margin"`
	Notional                   string                  `json:"notional"`
	LastUpdatedPremiumFraction string                  `json:"last_updated_premium_fraction"`
	OpenedAt                   uint64                  `json:"opened_at"`
	UpdatedAt                  uint64                  `json:"updated_at"`
}

// NewRecord encodes s.
func NewRecord(s market.Snapshot) (MarketRecord, error) {
	prec, err := fixedpoint.NewPrecision(s.Params.Decimals)
	if err != nil {
		return MarketRecord{}, fmt.Errorf("encode %s: %w", s.ID, err)
	}

	agg := s.State.Aggregates
	r := MarketRecord{
		ID:                   s.ID,
		Symbol:               s.Symbol,
		Params:               s.Params,
		OpenInterestNotional: prec.Format(agg.OpenInterestNotional),
		OpenNotional:         prec.Format(agg.OpenNotional),
		PositionOpenNotional: prec.Format(agg.PositionOpenNotional),
		PrepaidBadDebt:       prec.Format(agg.PrepaidBadDebt),
		UnrealizedPnL:        prec.Format(agg.UnrealizedPnL),
		InsuranceFund:        prec.Format(agg.InsuranceFund),
		FeePool:              prec.Format(agg.FeePool),
		LastMarkPrice:        prec.Format(s.State.LastMarkPrice),
		Paused:               s.State.Paused,
		CreatedAt:            s.State.CreatedAt,
		Positions:            make([]PositionRecord, 0, len(s.Positions)),
	}
	if !s.State.LastFundingAt.IsZero() {
		t := s.State.LastFundingAt
		r.LastFundingAt = &t
	}

	for _, p := range s.Positions {
		r.Positions = append(r.Positions, PositionRecord{
			Trader:                     p.Trader,
			Status:                     p.Status,
			Size:                       prec.Format(p.Size),
			Margin:                     prec.Format(p.Margin),
			Notional:                   prec.Format(p.Notional),
			LastUpdatedPremiumFraction: prec.Format(p.LastUpdatedPremiumFraction),
			OpenedAt:                   p.OpenedAt,
			UpdatedAt:                  p.UpdatedAt,
		})
	}
	return r, nil
}

// Snapshot decodes r and re-validates it as a market.
func (r MarketRecord) Snapshot() (market.Snapshot, error) {
	prec, err := fixedpoint.NewPrecision(r.Params.Decimals)
	if err != nil {
		return market.Snapshot{}, fmt.Errorf("decode %s: %w", r.ID, err)
	}
	d := decoder{prec: prec}

	s := market.Snapshot{
		ID:     r.ID,
		Symbol: r.Symbol,
		Params: r.Params,
		State: market.State{
			Aggregates: market.Aggregates{
				OpenInterestNotional: d.parse("open_interest_notional", r.OpenInterestNotional),
				OpenNotional:         d.parse("open_notional", r.OpenNotional),
				PositionOpenNotional: d.parse("position_open_notional", r.PositionOpenNotional),
				PrepaidBadDebt:       d.parse("prepaid_bad_debt", r.PrepaidBadDebt),
				UnrealizedPnL:        d.parse("unrealized_pnl", r.UnrealizedPnL),
				InsuranceFund:        d.parse("insurance_fund", r.InsuranceFund),
				FeePool:              d.parse("fee_pool", r.FeePool),
			},
			LastMarkPrice: d.parse("last_mark_price", r.LastMarkPrice),
			Paused:        r.Paused,
			CreatedAt:     r.CreatedAt,
		},
		Positions: make([]position.Position, 0, len(r.Positions)),
	}
	if r.LastFundingAt != nil {
		s.State.LastFundingAt = *r.LastFundingAt
	}

	for _, pr := range r.Positions {
		s.Positions = append(s.Positions, position.Position{
			Trader:                     pr.Trader,
			Status:                     pr.Status,
			Size:                       d.parse(pr.Trader+".size", pr.Size),
			Margin:                     d.parse(pr.Trader+".margin", pr.Margin),
			Notional:                   d.parse(pr.Trader+".notional", pr.Notional),
			LastUpdatedPremiumFraction: d.parse(pr.Trader+".last_updated_premium_fraction", pr.LastUpdatedPremiumFraction),
			OpenedAt:                   pr.OpenedAt,
			UpdatedAt:                  pr.UpdatedAt,
		})
	}
	if d.err != nil {
		return market.Snapshot{}, fmt.Errorf("decode %s: %w", r.ID, d.err)
	}

	if _, err := market.FromSnapshot(s); err != nil {
		return market.Snapshot{}, err
	}
	return s, nil
}

type decoder struct {
	prec fixedpoint.Precision
	err  error
}

func (d *decoder) parse(field, s string) fixedpoint.Value {
	if d.err != nil {
		return fixedpoint.Zero()
	}
	if s == "" {
		return fixedpoint.Zero()
	}
	v, err := d.prec.Parse(s)
	if err != nil {
		d.err = fmt.Errorf("%s: %w", field, err)
		return fixedpoint.Zero()
	}
	return v
}
