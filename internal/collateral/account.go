package collateral

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account (抵押品帳戶) is a trader's free balance outside any position.
type Account struct {
	Trader  string          `json:"trader"`
	Balance decimal.Decimal `json:"balance"`

	// Locked 倉位保證金 -> margin currently held by positions, as seen by the vault.
	Locked decimal.Decimal `json:"locked"`

	// lifetime totals
	Credited decimal.Decimal `json:"credited"`
	Pulled   decimal.Decimal `json:"pulled"`
	Pushed   decimal.Decimal `json:"pushed"`

	UpdatedAt time.Time `json:"updated_at"`
}

func newAccount(trader string, now time.Time) *Account {
	return &Account{
		Trader:    trader,
		UpdatedAt: now,
	}
}

func (a *Account) credit(amount decimal.Decimal, now time.Time) {
	a.Balance = a.Balance.Add(amount)
	a.Credited = a.Credited.Add(amount)
	a.UpdatedAt = now
}

func (a *Account) pull(amount decimal.Decimal, now time.Time) error {
	if a.Balance.LessThan(amount) {
		return &InsufficientBalanceError{Trader: a.Trader, Balance: a.Balance, Amount: amount}
	}
	a.Balance = a.Balance.Sub(amount)
	a.Locked = a.Locked.Add(amount)
	a.Pulled = a.Pulled.Add(amount)
	a.UpdatedAt = now
	return nil
}

// push returns funds from a position. The payout may exceed what was locked when the position
// closed in profit, so Locked is released down to zero. Margin lost to liquidation stays locked.
func (a *Account) push(amount decimal.Decimal, now time.Time) {
	a.Balance = a.Balance.Add(amount)
	a.Locked = decimal.Max(a.Locked.Sub(amount), decimal.Zero)
	a.Pushed = a.Pushed.Add(amount)
	a.UpdatedAt = now
}
