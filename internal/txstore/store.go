// Package txstore is the append-only audit log of provisioning
// transactions. Every state transition is written, including
// pre-failure partial state, so a saga interrupted by a crash can be
// replayed and reconciled afterwards. There is no compaction;
// retention is an external concern.
package txstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/terminal-bench/cyclemint/internal/saga"
)

var ErrNotFound = errors.New("transaction not found")

// Record is one appended snapshot of a transaction.
type Record struct {
	TransactionID    uuid.UUID  `json:"transaction_id"`
	AccountID        string     `json:"account_id"`
	TargetID         string     `json:"target_id"`
	State            saga.State `json:"state"`
	RequestedCredits string     `json:"requested_credits"`
	ExpectedCycles   int64      `json:"expected_cycles"`
	ActualCycles     int64      `json:"actual_cycles"`
	TokenSubunits    int64      `json:"token_subunits"`
	UsdPerToken      string     `json:"usd_per_token"`
	CyclesPerToken   string     `json:"cycles_per_token"`
	BlockReference   string     `json:"block_reference,omitempty"`
	Reason           string     `json:"reason,omitempty"`
	RecordedAt       time.Time  `json:"recorded_at"`
}

// FromTransaction converts a saga snapshot into a record.
func FromTransaction(tx saga.Transaction) Record {
	return Record{
		TransactionID:    tx.ID,
		AccountID:        tx.AccountID,
		TargetID:         tx.TargetID,
		State:            tx.State,
		RequestedCredits: tx.RequestedCredits.String(),
		ExpectedCycles:   tx.Plan.ExpectedCycles.Int64(),
		ActualCycles:     tx.ActualCyclesReceived.Int64(),
		TokenSubunits:    tx.Plan.TokenSubunits.Int64(),
		UsdPerToken:      tx.Plan.Snapshot.UsdPerToken.String(),
		CyclesPerToken:   tx.Plan.Snapshot.CyclesPerToken.String(),
		BlockReference:   tx.BlockReference,
		Reason:           tx.Reason,
		RecordedAt:       tx.UpdatedAt,
	}
}

// Store is the record persistence contract. Append never overwrites;
// Get returns the latest snapshot for an id.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Get(ctx context.Context, id uuid.UUID) (*Record, error)
	History(ctx context.Context, id uuid.UUID) ([]Record, error)
	Range(ctx context.Context, from, to time.Time, limit int) ([]Record, error)
	Reconciliation(ctx context.Context, limit int) ([]Record, error)
}
