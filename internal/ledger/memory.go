package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Memory is an in-process ledger for tests and dev mode. The single
// mutex gives the same atomic conditional-debit guarantee the Postgres
// implementation gets from row locking.
type Memory struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	entries  map[string][]Entry
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		balances: make(map[string]decimal.Decimal),
		entries:  make(map[string][]Entry),
	}
}

// Seed sets an account balance directly, creating the account if
// needed. Intended for tests and dev bootstrapping.
func (l *Memory) Seed(accountID string, balance decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[accountID] = balance
}

func (l *Memory) Debit(ctx context.Context, accountID string, amount decimal.Decimal, reference, reason string) (*Entry, error) {
	return l.mutate(accountID, "debit", amount, reference, reason)
}

func (l *Memory) Credit(ctx context.Context, accountID string, amount decimal.Decimal, reference, reason string) (*Entry, error) {
	return l.mutate(accountID, "credit", amount, reference, reason)
}

func (l *Memory) mutate(accountID, entryType string, amount decimal.Decimal, reference, reason string) (*Entry, error) {
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	balance, ok := l.balances[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}

	var newBalance decimal.Decimal
	if entryType == "credit" {
		newBalance = balance.Add(amount)
	} else {
		newBalance = balance.Sub(amount)
		if newBalance.IsNegative() {
			return nil, ErrInsufficientCredits
		}
	}

	entry := Entry{
		ID:        uuid.New(),
		AccountID: accountID,
		Type:      entryType,
		Amount:    amount,
		Balance:   newBalance,
		Reference: reference,
		Reason:    reason,
		CreatedAt: time.Now(),
	}

	l.balances[accountID] = newBalance
	l.entries[accountID] = append(l.entries[accountID], entry)
	return &entry, nil
}

func (l *Memory) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	balance, ok := l.balances[accountID]
	if !ok {
		return decimal.Zero, ErrAccountNotFound
	}
	return balance, nil
}

func (l *Memory) Entries(ctx context.Context, accountID string, limit int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	all := l.entries[accountID]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}

	// Newest first, matching the Postgres implementation.
	entries := make([]Entry, 0, limit)
	for i := len(all) - 1; i >= 0 && len(entries) < limit; i-- {
		entries = append(entries, all[i])
	}
	return entries, nil
}
