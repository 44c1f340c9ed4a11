// Package saga coordinates the provisioning workflow: debit the
// internal credit ledger, move fuel tokens from the treasury to the
// destination, notify the minting authority, and verify the cycles
// arrived. There is no atomic commit across those systems, so failures
// are handled with forward steps and compensating actions.
//
// Compensation is asymmetric on purpose. Failures up to and including
// the transfer refund the debit, because no value is confirmed to have
// moved. Failures after the transfer is confirmed never refund: funds
// already moved on-chain, and refunding credits on top of them would
// pay the user twice. Those transactions end in explicit
// reconciliation states instead.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/terminal-bench/cyclemint/internal/ledger"
	"github.com/terminal-bench/cyclemint/internal/verify"
	"github.com/terminal-bench/cyclemint/pkg/lock"
)

// Config holds the per-phase timeouts. Each external call owns its own
// deadline; the saga has no single global timeout.
type Config struct {
	TransferTimeout time.Duration
	NotifyTimeout   time.Duration
	BaselineTimeout time.Duration
	VerifyMaxWait   time.Duration
}

func (c *Config) applyDefaults() {
	if c.TransferTimeout <= 0 {
		c.TransferTimeout = 30 * time.Second
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = 15 * time.Second
	}
	if c.BaselineTimeout <= 0 {
		c.BaselineTimeout = 10 * time.Second
	}
	if c.VerifyMaxWait <= 0 {
		c.VerifyMaxWait = 90 * time.Second
	}
}

// Orchestrator runs provisioning transactions to a terminal state.
type Orchestrator struct {
	ledger    ledger.Ledger
	treasury  TreasuryTransfer
	minter    MintingNotifier
	balances  verify.BalanceQuerier
	poller    *verify.Poller
	locks     lock.Locker
	observers []Observer
	cfg       Config
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(
	l ledger.Ledger,
	treasury TreasuryTransfer,
	minter MintingNotifier,
	balances verify.BalanceQuerier,
	poller *verify.Poller,
	locks lock.Locker,
	cfg Config,
	observers ...Observer,
) *Orchestrator {
	cfg.applyDefaults()
	if locks == nil {
		locks = lock.NewLocal()
	}
	return &Orchestrator{
		ledger:    l,
		treasury:  treasury,
		minter:    minter,
		balances:  balances,
		poller:    poller,
		locks:     locks,
		observers: observers,
		cfg:       cfg,
	}
}

// Run executes the saga for req. It always returns the transaction in
// its terminal state; the error classifies the outcome (nil only for
// Completed). Once the transfer has been submitted the remaining
// phases run on a context detached from the caller, because real value
// has moved and the saga must reach a terminal state server-side.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Transaction, error) {
	release, err := o.locks.Acquire(ctx, req.TargetID)
	if err != nil {
		return nil, err
	}
	defer release()

	now := time.Now()
	tx := &Transaction{
		ID:               uuid.New(),
		AccountID:        req.AccountID,
		TargetID:         req.TargetID,
		RequestedCredits: req.RequestedCredits,
		Plan:             req.Plan,
		State:            StatePlanned,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	o.emit(ctx, tx)

	// Phase 1: debit. Nothing external has happened yet, so a failure
	// here needs no compensation.
	ref := "provision:" + tx.ID.String()
	_, err = o.ledger.Debit(ctx, req.AccountID, req.RequestedCredits, ref, "instance provisioning")
	if err != nil {
		o.transition(ctx, tx, StateDebitFailed, err.Error())
		if errors.Is(err, ledger.ErrInsufficientCredits) {
			return tx, err
		}
		return tx, fmt.Errorf("failed to debit credits: %w", err)
	}
	o.transition(ctx, tx, StateCreditsDebited, "")

	// Phase 2: treasury transfer. From submission onward the saga must
	// finish regardless of the caller, so detach from its cancellation.
	detached := context.WithoutCancel(ctx)

	o.transition(detached, tx, StateTransferSubmitted, "")
	transferCtx, cancel := context.WithTimeout(detached, o.cfg.TransferTimeout)
	receipt, err := o.treasury.Transfer(transferCtx, req.TargetID, req.Plan.TokenSubunits)
	cancel()
	if err != nil {
		// Includes ambiguous timeouts: the transfer is not confirmed
		// to have moved funds, so the debit is refunded.
		o.transition(detached, tx, StateTransferFailed, err.Error())
		return o.compensate(detached, tx, fmt.Errorf("%w: %v", ErrTransferFailed, err))
	}
	tx.BlockReference = receipt.BlockReference
	o.transition(detached, tx, StateTransferConfirmed, "")

	// Read the baseline before notifying: the notification is what
	// mints cycles onto the destination.
	baselineCtx, cancel := context.WithTimeout(detached, o.cfg.BaselineTimeout)
	baseline, baseErr := o.balances.CycleBalance(baselineCtx, req.TargetID)
	cancel()
	if baseErr != nil {
		baseline = 0
	}

	// Phase 3: minting notification. The transfer has executed, so a
	// failure here must NOT refund the debit: funds may already have
	// moved, and a refund would double-credit. Mark for reconciliation.
	notifyCtx, cancel := context.WithTimeout(detached, o.cfg.NotifyTimeout)
	err = o.minter.NotifyArrival(notifyCtx, receipt, req.TargetID)
	cancel()
	if err != nil {
		o.transition(detached, tx, StateNotificationFailed, err.Error())
		return tx, fmt.Errorf("%w: %v", ErrNotificationFailed, err)
	}
	o.transition(detached, tx, StateNotificationSent, "")

	// Phase 4: verify arrival. Same asymmetry as phase 3: a timeout is
	// a degraded success needing reconciliation, never a refund.
	o.transition(detached, tx, StateVerifyingArrival, "")
	result, err := o.poller.Poll(detached, req.TargetID, baseline, req.Plan.ExpectedCycles, o.cfg.VerifyMaxWait)
	tx.ActualCyclesReceived = result.Delta
	if err != nil || !result.Success {
		reason := fmt.Sprintf("observed %d of %d expected cycles after %s",
			result.Delta.Int64(), req.Plan.ExpectedCycles.Int64(), result.Elapsed.Round(time.Millisecond))
		o.transition(detached, tx, StateVerificationTimedOut, reason)
		return tx, ErrVerificationTimedOut
	}

	o.transition(detached, tx, StateCompleted, "")
	return tx, nil
}

// compensate refunds the debit after a failure that happened before
// any confirmed value movement. cause is returned so callers see the
// original failure, not the bookkeeping.
func (o *Orchestrator) compensate(ctx context.Context, tx *Transaction, cause error) (*Transaction, error) {
	o.transition(ctx, tx, StateCompensating, cause.Error())

	ref := "compensation:" + tx.ID.String()
	_, err := o.ledger.Credit(ctx, tx.AccountID, tx.RequestedCredits, ref, cause.Error())
	if err != nil {
		// Terminal without retry: blind retries against a ledger in an
		// unknown state risk double-crediting. An operator resolves it.
		o.transition(ctx, tx, StateCompensationFailed, err.Error())
		return tx, fmt.Errorf("%w: %v (original failure: %v)", ErrCompensationFailed, err, cause)
	}

	tx.Compensation = &CompensationRecord{
		TransactionID:   tx.ID,
		CreditsRestored: tx.RequestedCredits,
		Reason:          cause.Error(),
		CreatedAt:       time.Now(),
	}
	o.transition(ctx, tx, StateCompensated, cause.Error())
	return tx, cause
}

func (o *Orchestrator) transition(ctx context.Context, tx *Transaction, to State, reason string) {
	tx.PrevState = tx.State
	tx.State = to
	tx.Reason = reason
	tx.UpdatedAt = time.Now()
	o.emit(ctx, tx)
}

func (o *Orchestrator) emit(ctx context.Context, tx *Transaction) {
	snapshot := *tx
	for _, obs := range o.observers {
		obs.OnTransition(ctx, snapshot)
	}
}
