// Package collateral is an in-memory collateral vault: the place margin comes from when a
// position opens and where it goes when a position closes.
package collateral

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount   = errors.New("amount must be greater than zero")
	ErrAccountNotFound = errors.New("collateral account not found")
)

// InsufficientBalanceError is returned when a pull exceeds the free balance.
type InsufficientBalanceError struct {
	Trader  string
	Balance decimal.Decimal
	Amount  decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: %s < %s", e.Trader, e.Balance, e.Amount)
}

// Vault holds one Account per trader.
type Vault struct {
	accounts map[string]*Account
	now      func() time.Time

	mu sync.RWMutex
}

func NewVault() *Vault {
	return &Vault{
		accounts: make(map[string]*Account),
		now:      time.Now,
	}
}

// Credit adds external funds to a trader's free balance, creating the account if needed.
func (v *Vault) Credit(trader string, amount decimal.Decimal) (Account, error) {
	if !amount.IsPositive() {
		return Account{}, ErrInvalidAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	acc := v.account(trader)
	acc.credit(amount, v.now())
	return *acc, nil
}

// Pull moves amount from the free balance into a position.
func (v *Vault) Pull(_ context.Context, trader string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	acc, ok := v.accounts[trader]
	if !ok {
		return fmt.Errorf("%s: %w", trader, ErrAccountNotFound)
	}
	return acc.pull(amount, v.now())
}

// Push pays amount out of a position back to the free balance.
func (v *Vault) Push(_ context.Context, trader string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	acc := v.account(trader)
	acc.push(amount, v.now())
	return nil
}

func (v *Vault) Account(trader string) (Account, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	acc, ok := v.accounts[trader]
	if !ok {
		return Account{}, fmt.Errorf("%s: %w", trader, ErrAccountNotFound)
	}
	return *acc, nil
}

// Accounts returns a snapshot of every account, sorted by trader.
func (v *Vault) Accounts() []Account {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]Account, 0, len(v.accounts))
	for _, acc := range v.accounts {
		out = append(out, *acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Trader < out[j].Trader })
	return out
}

// account must be called with mu held.
func (v *Vault) account(trader string) *Account {
	acc, ok := v.accounts[trader]
	if !ok {
		acc = newAccount(trader, v.now())
		v.accounts[trader] = acc
	}
	return acc
}
