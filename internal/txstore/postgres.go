package txstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Postgres implements Store on a single append-only table.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a Postgres-backed record store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const insertRecord = `
INSERT INTO provisioning_records
  (transaction_id, account_id, target_id, state, requested_credits,
   expected_cycles, actual_cycles, token_subunits, usd_per_token,
   cycles_per_token, block_reference, reason, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

const selectColumns = `
SELECT transaction_id, account_id, target_id, state, requested_credits,
       expected_cycles, actual_cycles, token_subunits, usd_per_token,
       cycles_per_token, block_reference, reason, recorded_at
FROM provisioning_records`

func (s *Postgres) Append(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, insertRecord,
		rec.TransactionID, rec.AccountID, rec.TargetID, rec.State,
		rec.RequestedCredits, rec.ExpectedCycles, rec.ActualCycles,
		rec.TokenSubunits, rec.UsdPerToken, rec.CyclesPerToken,
		rec.BlockReference, rec.Reason, rec.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		selectColumns+` WHERE transaction_id = $1 ORDER BY seq DESC LIMIT 1`, id)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

func (s *Postgres) History(ctx context.Context, id uuid.UUID) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` WHERE transaction_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *Postgres) Range(ctx context.Context, from, to time.Time, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` WHERE recorded_at >= $1 AND recorded_at < $2 ORDER BY seq DESC LIMIT $3`,
		from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query range: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Reconciliation returns the latest snapshot of transactions whose
// terminal state needs operator attention.
func (s *Postgres) Reconciliation(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (transaction_id)
		       transaction_id, account_id, target_id, state, requested_credits,
		       expected_cycles, actual_cycles, token_subunits, usd_per_token,
		       cycles_per_token, block_reference, reason, recorded_at
		FROM provisioning_records
		ORDER BY transaction_id, seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query reconciliation set: %w", err)
	}
	defer rows.Close()

	all, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}

	var out []Record
	for _, rec := range all {
		if rec.State.NeedsReconciliation() {
			out = append(out, rec)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	err := row.Scan(&rec.TransactionID, &rec.AccountID, &rec.TargetID, &rec.State,
		&rec.RequestedCredits, &rec.ExpectedCycles, &rec.ActualCycles,
		&rec.TokenSubunits, &rec.UsdPerToken, &rec.CyclesPerToken,
		&rec.BlockReference, &rec.Reason, &rec.RecordedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}
