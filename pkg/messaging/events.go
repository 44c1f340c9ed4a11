package messaging

import (
	"time"

	"github.com/google/uuid"
)

// Event subjects
const (
	SubjectSagaTransition = "provisioning.transition"
	SubjectSagaCompleted  = "provisioning.completed"
	SubjectSagaFailed     = "provisioning.failed"
	SubjectReconciliation = "provisioning.reconciliation"
	SubjectLedgerEntry    = "ledger.entry"
	SubjectPricingOutage  = "oracle.unavailable"
)

// TransitionEvent is emitted once per saga state change.
type TransitionEvent struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	AccountID     string    `json:"account_id"`
	TargetID      string    `json:"target_id"`
	FromState     string    `json:"from_state"`
	ToState       string    `json:"to_state"`
	Reason        string    `json:"reason,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// OutcomeEvent is emitted when a saga reaches a terminal state.
type OutcomeEvent struct {
	TransactionID    uuid.UUID `json:"transaction_id"`
	AccountID        string    `json:"account_id"`
	TargetID         string    `json:"target_id"`
	State            string    `json:"state"`
	RequestedCredits string    `json:"requested_credits"`
	ExpectedCycles   int64     `json:"expected_cycles"`
	ActualCycles     int64     `json:"actual_cycles"`
	TokenSubunits    int64     `json:"token_subunits"`
	BlockReference   string    `json:"block_reference,omitempty"`
	Reconciliation   bool      `json:"reconciliation"`
	Reason           string    `json:"reason,omitempty"`
	ElapsedMillis    int64     `json:"elapsed_millis"`
	Timestamp        time.Time `json:"timestamp"`
}

// PricingOutageEvent is emitted when an oracle upstream cannot supply
// a fresh signal. Provisioning halts until the signal recovers.
type PricingOutageEvent struct {
	Signal    string    `json:"signal"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// LedgerEntryEvent is emitted for every credit ledger mutation.
type LedgerEntryEvent struct {
	EntryID   uuid.UUID `json:"entry_id"`
	AccountID string    `json:"account_id"`
	Type      string    `json:"type"`
	Amount    string    `json:"amount"`
	Balance   string    `json:"balance"`
	Reference string    `json:"reference"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
