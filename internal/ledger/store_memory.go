package ledger

import (
	"context"
	"sync"

	id "dattas/pkg/domain"
)

// InMemoryLedger keeps balances in a map. It never returns infrastructure
// errors; only Reserve can fail, with a funds error.
type InMemoryLedger struct {
	mu       sync.RWMutex
	accounts map[id.AccountID]*Account
	issuance id.Balance
}

func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{accounts: make(map[id.AccountID]*Account)}
}

// Deposit credits free balance, creating the account if needed.
func (l *InMemoryLedger) Deposit(_ context.Context, account id.AccountID, amount id.Balance) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc := l.accountLocked(account)
	acc.Free = acc.Free.SaturatingAdd(amount)
	l.issuance = l.issuance.SaturatingAdd(amount)
	return nil
}

func (l *InMemoryLedger) Exists(_ context.Context, account id.AccountID) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.accounts[account]
	return ok, nil
}

func (l *InMemoryLedger) Account(_ context.Context, account id.AccountID) (Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if acc, ok := l.accounts[account]; ok {
		return *acc, nil
	}
	return Account{ID: account}, nil
}

// Reserve moves amount from free to reserved. A zero reservation succeeds
// for unknown accounts and creates them.
func (l *InMemoryLedger) Reserve(_ context.Context, account id.AccountID, amount id.Balance) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if acc, ok := l.accounts[account]; ok && acc.Free < amount {
		return ErrInsufficientFunds(acc.Free, amount)
	}
	if _, ok := l.accounts[account]; !ok && !amount.IsZero() {
		return ErrInsufficientFunds(0, amount)
	}
	acc := l.accountLocked(account)
	acc.Free -= amount
	acc.Reserved = acc.Reserved.SaturatingAdd(amount)
	return nil
}

// Unreserve moves up to amount from reserved back to free and returns the
// part that could not be moved.
func (l *InMemoryLedger) Unreserve(_ context.Context, account id.AccountID, amount id.Balance) (id.Balance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[account]
	if !ok {
		return amount, nil
	}
	actual := id.Min(acc.Reserved, amount)
	acc.Reserved -= actual
	acc.Free = acc.Free.SaturatingAdd(actual)
	return amount - actual, nil
}

// SlashReserved removes up to amount from reserved balance.
func (l *InMemoryLedger) SlashReserved(_ context.Context, account id.AccountID, amount id.Balance) (Imbalance, id.Balance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[account]
	if !ok {
		return Imbalance{From: account}, amount, nil
	}
	actual := id.Min(acc.Reserved, amount)
	acc.Reserved -= actual
	l.issuance = l.issuance.SaturatingSub(actual)
	return Imbalance{From: account, Amount: actual}, amount - actual, nil
}

// TotalIssuance is the sum of all free and reserved balances.
func (l *InMemoryLedger) TotalIssuance() id.Balance {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.issuance
}

func (l *InMemoryLedger) accountLocked(account id.AccountID) *Account {
	acc, ok := l.accounts[account]
	if !ok {
		acc = &Account{ID: account}
		l.accounts[account] = acc
	}
	return acc
}
