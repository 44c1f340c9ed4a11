// Package ledger is the platform's internal prepaid credit ledger.
// Debits are atomic conditional check-then-subtract operations; every
// mutation leaves an audit entry.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrAccountNotFound     = errors.New("account not found")
	ErrInvalidAmount       = errors.New("amount must be positive")
)

// Entry is one audit record of a balance mutation.
type Entry struct {
	ID        uuid.UUID       `json:"id"`
	AccountID string          `json:"account_id"`
	Type      string          `json:"type"` // "debit" or "credit"
	Amount    decimal.Decimal `json:"amount"`
	Balance   decimal.Decimal `json:"balance"`
	Reference string          `json:"reference"`
	Reason    string          `json:"reason"`
	CreatedAt time.Time       `json:"created_at"`
}

// Ledger is the credit balance store. Debit must be atomic: two
// concurrent debits against the same account can never both succeed on
// a balance that covers only one of them.
type Ledger interface {
	Debit(ctx context.Context, accountID string, amount decimal.Decimal, reference, reason string) (*Entry, error)
	Credit(ctx context.Context, accountID string, amount decimal.Decimal, reference, reason string) (*Entry, error)
	Balance(ctx context.Context, accountID string) (decimal.Decimal, error)
	Entries(ctx context.Context, accountID string, limit int) ([]Entry, error)
}
