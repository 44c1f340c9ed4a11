package saga

import (
	"context"
	"log"
	"time"

	"github.com/terminal-bench/cyclemint/pkg/messaging"
)

// Publisher is the event sink for saga transitions. Satisfied by
// messaging.Client.
type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
}

// Emitter publishes one structured event per saga transition, plus an
// outcome event when the transaction reaches a terminal state. This
// replaces scattered fire-and-forget tracking calls with a single
// decoupled audit stream.
type Emitter struct {
	pub Publisher
}

// NewEmitter creates an emitter.
func NewEmitter(pub Publisher) *Emitter {
	return &Emitter{pub: pub}
}

func (e *Emitter) OnTransition(ctx context.Context, tx Transaction) {
	event := messaging.TransitionEvent{
		TransactionID: tx.ID,
		AccountID:     tx.AccountID,
		TargetID:      tx.TargetID,
		FromState:     string(tx.PrevState),
		ToState:       string(tx.State),
		Reason:        tx.Reason,
		Timestamp:     tx.UpdatedAt,
	}
	if err := e.pub.Publish(ctx, messaging.SubjectSagaTransition, event); err != nil {
		log.Printf("failed to publish transition event for %s: %v", tx.ID, err)
	}

	if !tx.State.Terminal() {
		return
	}

	outcome := messaging.OutcomeEvent{
		TransactionID:    tx.ID,
		AccountID:        tx.AccountID,
		TargetID:         tx.TargetID,
		State:            string(tx.State),
		RequestedCredits: tx.RequestedCredits.String(),
		ExpectedCycles:   tx.Plan.ExpectedCycles.Int64(),
		ActualCycles:     tx.ActualCyclesReceived.Int64(),
		TokenSubunits:    tx.Plan.TokenSubunits.Int64(),
		BlockReference:   tx.BlockReference,
		Reconciliation:   tx.State.NeedsReconciliation(),
		Reason:           tx.Reason,
		ElapsedMillis:    tx.UpdatedAt.Sub(tx.CreatedAt).Milliseconds(),
		Timestamp:        time.Now(),
	}

	subject := messaging.SubjectSagaCompleted
	switch {
	case tx.State.NeedsReconciliation():
		subject = messaging.SubjectReconciliation
	case tx.State != StateCompleted:
		subject = messaging.SubjectSagaFailed
	}
	if err := e.pub.Publish(ctx, subject, outcome); err != nil {
		log.Printf("failed to publish outcome event for %s: %v", tx.ID, err)
	}
}
