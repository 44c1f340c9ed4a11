package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Postgres implements Ledger on a Postgres accounts/entries schema.
// Mutations lock the account row so the check-then-subtract in Debit
// is atomic across concurrent requests.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a Postgres-backed ledger.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Debit subtracts amount from the account, failing with
// ErrInsufficientCredits when the balance does not cover it.
func (l *Postgres) Debit(ctx context.Context, accountID string, amount decimal.Decimal, reference, reason string) (*Entry, error) {
	return l.mutate(ctx, accountID, "debit", amount, reference, reason)
}

// Credit adds amount to the account.
func (l *Postgres) Credit(ctx context.Context, accountID string, amount decimal.Decimal, reference, reason string) (*Entry, error) {
	return l.mutate(ctx, accountID, "credit", amount, reference, reason)
}

func (l *Postgres) mutate(ctx context.Context, accountID, entryType string, amount decimal.Decimal, reference, reason string) (*Entry, error) {
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var balance decimal.Decimal
	var version int
	err = tx.QueryRowContext(ctx,
		`SELECT balance, version FROM credit_accounts WHERE account_id = $1 FOR UPDATE`,
		accountID,
	).Scan(&balance, &version)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock account: %w", err)
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

	entry := &Entry{
		ID:        uuid.New(),
		AccountID: accountID,
		Type:      entryType,
		Amount:    amount,
		Balance:   newBalance,
		Reference: reference,
		Reason:    reason,
		CreatedAt: time.Now(),
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO credit_entries (id, account_id, type, amount, balance, reference, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.AccountID, entry.Type, entry.Amount,
		entry.Balance, entry.Reference, entry.Reason, entry.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert entry: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE credit_accounts SET balance = $1, updated_at = $2, version = version + 1
		 WHERE account_id = $3 AND version = $4`,
		newBalance, time.Now(), accountID, version,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("concurrent modification detected")
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	return entry, nil
}

// Balance returns the current credit balance of accountID.
func (l *Postgres) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := l.db.QueryRowContext(ctx,
		`SELECT balance FROM credit_accounts WHERE account_id = $1`,
		accountID,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return decimal.Zero, ErrAccountNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query balance: %w", err)
	}
	return balance, nil
}

// Entries returns the newest audit entries for accountID.
func (l *Postgres) Entries(ctx context.Context, accountID string, limit int) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, account_id, type, amount, balance, reference, reason, created_at
		 FROM credit_entries WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2`,
		accountID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Type, &e.Amount,
			&e.Balance, &e.Reference, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
