package txstore

import (
	"context"
	"log"

	"github.com/terminal-bench/cyclemint/internal/saga"
)

// Recorder adapts a Store into a saga observer so every transition is
// persisted without coupling the orchestrator to storage.
type Recorder struct {
	store Store
}

// NewRecorder creates a recorder over store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

func (r *Recorder) OnTransition(ctx context.Context, tx saga.Transaction) {
	if err := r.store.Append(ctx, FromTransaction(tx)); err != nil {
		// The saga must not stall on audit persistence; the NATS
		// stream still carries the transition.
		log.Printf("failed to persist record for %s (%s): %v", tx.ID, tx.State, err)
	}
}
