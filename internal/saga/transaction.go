package saga

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/terminal-bench/cyclemint/internal/conversion"
	"github.com/terminal-bench/cyclemint/pkg/cycles"
)

var (
	ErrTransferFailed       = errors.New("treasury transfer failed")
	ErrNotificationFailed   = errors.New("minting notification failed; reconciliation required")
	ErrVerificationTimedOut = errors.New("cycle arrival not verified in time; reconciliation required")
	ErrCompensationFailed   = errors.New("compensation failed; operator intervention required")
)

// Request is one provisioning attempt against one destination.
type Request struct {
	AccountID        string
	TargetID         string
	RequestedCredits decimal.Decimal
	Plan             conversion.Plan
}

// Receipt is the opaque proof a treasury transfer executed.
type Receipt struct {
	BlockReference string    `json:"block_reference"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

// Transaction is the saga's unit of work. It is owned exclusively by
// the orchestrator while in flight; observers receive value copies.
type Transaction struct {
	ID                   uuid.UUID           `json:"id"`
	AccountID            string              `json:"account_id"`
	TargetID             string              `json:"target_id"`
	RequestedCredits     decimal.Decimal     `json:"requested_credits"`
	Plan                 conversion.Plan     `json:"plan"`
	State                State               `json:"state"`
	PrevState            State               `json:"-"`
	BlockReference       string              `json:"block_reference,omitempty"`
	ActualCyclesReceived cycles.Amount       `json:"actual_cycles_received"`
	Reason               string              `json:"reason,omitempty"`
	Compensation         *CompensationRecord `json:"compensation,omitempty"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`
}

// CompensationRecord documents an undone debit.
type CompensationRecord struct {
	TransactionID   uuid.UUID       `json:"transaction_id"`
	CreditsRestored decimal.Decimal `json:"credits_restored"`
	Reason          string          `json:"reason"`
	CreatedAt       time.Time       `json:"created_at"`
}

// TreasuryTransfer moves fuel tokens from the platform treasury to the
// destination instance. Any error, including an ambiguous timeout,
// means the transfer is not confirmed to have happened.
type TreasuryTransfer interface {
	Transfer(ctx context.Context, destinationID string, amount cycles.Subunits) (Receipt, error)
}

// MintingNotifier tells the network's minting authority about a
// confirmed transfer so it credits the destination with cycles. The
// call is retryable but not idempotent-safe; the orchestrator never
// retries it blindly.
type MintingNotifier interface {
	NotifyArrival(ctx context.Context, receipt Receipt, destinationID string) error
}

// Observer receives a copy of the transaction after every state
// change. Observers must not block the saga; persistence and event
// publication both hang off this hook.
type Observer interface {
	OnTransition(ctx context.Context, tx Transaction)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, tx Transaction)

func (f ObserverFunc) OnTransition(ctx context.Context, tx Transaction) { f(ctx, tx) }
