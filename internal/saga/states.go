package saga

// State is a provisioning transaction's position in the saga.
type State string

const (
	StatePlanned           State = "planned"
	StateCreditsDebited    State = "credits_debited"
	StateTransferSubmitted State = "transfer_submitted"
	StateTransferConfirmed State = "transfer_confirmed"
	StateNotificationSent  State = "notification_sent"
	StateVerifyingArrival  State = "verifying_arrival"
	StateCompleted         State = "completed"

	StateDebitFailed          State = "debit_failed"
	StateTransferFailed       State = "transfer_failed"
	StateNotificationFailed   State = "notification_failed"
	StateVerificationTimedOut State = "verification_timed_out"

	StateCompensating       State = "compensating"
	StateCompensated        State = "compensated"
	StateCompensationFailed State = "compensation_failed"
)

// Terminal reports whether the saga is finished in this state.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateDebitFailed, StateNotificationFailed,
		StateVerificationTimedOut, StateCompensated, StateCompensationFailed:
		return true
	}
	return false
}

// NeedsReconciliation reports whether an operator has to resolve this
// transaction by hand. These are exactly the states where value has
// (or may have) moved on-chain and the debit was deliberately not
// refunded: refunding after funds moved would double-credit the user.
func (s State) NeedsReconciliation() bool {
	switch s {
	case StateNotificationFailed, StateVerificationTimedOut, StateCompensationFailed:
		return true
	}
	return false
}
