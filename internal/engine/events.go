package engine

import (
	"time"

	"frizo/margin_ledger/internal/common"
	"frizo/margin_ledger/internal/fixedpoint"
	"frizo/margin_ledger/internal/position"
)

type EventType string

const (
	EventPositionOpened     EventType = "position_opened"
	EventMarginDeposited    EventType = "margin_deposited"
	EventMarginWithdrawn    EventType = "margin_withdrawn"
	EventFundingPaid        EventType = "funding_paid"
	EventPartialLiquidation EventType = "position_partially_liquidated"
	EventLiquidation        EventType = "position_liquidated"
	EventPositionClosed     EventType = "position_closed"
	EventFundingSettled     EventType = "funding_settled"
	EventBadDebtSettled     EventType = "bad_debt_settled"
	EventMarketPaused       EventType = "market_paused"
	EventMarketResumed      EventType = "market_resumed"
)

// Event describes one committed mutation. Amounts are decimal strings.
type Event struct {
	ID       string    `json:"id"`
	Type     EventType `json:"type"`
	MarketID string    `json:"market_id"`
	Trader   string    `json:"trader,omitempty"`

	Size        string `json:"size,omitempty"`
	Margin      string `json:"margin,omitempty"`
	Amount      string `json:"amount,omitempty"`
	RealizedPnL string `json:"realized_pnl,omitempty"`
	Fee         string `json:"fee,omitempty"`
	BadDebt     string `json:"bad_debt,omitempty"`

	Time time.Time `json:"time"`
}

// Result is returned by every mutating position operation.
type Result struct {
	Position position.Position // state after the operation
	Removed  bool              // the position no longer exists

	Amount      fixedpoint.Value // deposit, withdrawal or funding owed (negative: received)
	RealizedPnL fixedpoint.Value
	Fee         fixedpoint.Value
	BadDebt     fixedpoint.Value // added to prepaid bad debt
	Payout      fixedpoint.Value // pushed to the collateral sink

	EventID string
}

func (e *Engine) newEvent(typ EventType, trader string, res Result, now time.Time) Event {
	prec := e.market.Precision()
	format := func(v fixedpoint.Value) string {
		if v.IsZero() {
			return ""
		}
		return prec.Format(v)
	}

	return Event{
		ID:          common.GenerateEventID(),
		Type:        typ,
		MarketID:    e.market.ID(),
		Trader:      trader,
		Size:        format(res.Position.Size),
		Margin:      format(res.Position.Margin),
		Amount:      format(res.Amount),
		RealizedPnL: format(res.RealizedPnL),
		Fee:         format(res.Fee),
		BadDebt:     format(res.BadDebt),
		Time:        now.UTC(),
	}
}

// publish must be called after commit.
func (e *Engine) publish(ev Event) string {
	if e.deps.Events != nil {
		e.deps.Events.Publish(ev)
	}
	return ev.ID
}
