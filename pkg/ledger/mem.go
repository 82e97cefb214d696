package ledger

import (
	"context"
	"sync"
)

// MemLedger is an in-process ledger used in tests and single-node
// deployments without Redis.
type MemLedger struct {
	mu       sync.Mutex
	balances map[string]int64
}

func NewMemLedger() *MemLedger {
	return &MemLedger{balances: make(map[string]int64)}
}

// Deposit seeds or tops up an account.
func (l *MemLedger) Deposit(account string, amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] += amount
}

func (l *MemLedger) Balance(_ context.Context, account string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	balance, ok := l.balances[account]
	if !ok {
		return 0, ErrUnknownAccount
	}
	return balance, nil
}

func (l *MemLedger) Debit(_ context.Context, account string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balances[account] < amount {
		return ErrInsufficientFunds
	}
	l.balances[account] -= amount
	return nil
}

func (l *MemLedger) Credit(_ context.Context, account string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] += amount
	return nil
}
