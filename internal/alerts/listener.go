// Package alerts consumes the reconciliation event stream and raises
// operator alerts. Every transaction that lands in a
// reconciliation-needed state has value that moved (or may have moved)
// without the books closing; someone has to look at it.
package alerts

import (
	"encoding/json"
	"log"

	"github.com/nats-io/nats.go"

	"github.com/terminal-bench/cyclemint/pkg/messaging"
)

// Subscriber is the subscription surface the listener needs. Satisfied
// by messaging.Client.
type Subscriber interface {
	Subscribe(subject string, handler func(msg *nats.Msg)) error
	Unsubscribe(subject string) error
}

// Listener subscribes to the reconciliation subject for the lifetime
// of the service.
type Listener struct {
	sub    Subscriber
	onCase func(messaging.OutcomeEvent)
}

// NewListener creates a listener. onCase is invoked per reconciliation
// case; nil means log an operator alert.
func NewListener(sub Subscriber, onCase func(messaging.OutcomeEvent)) *Listener {
	if onCase == nil {
		onCase = logAlert
	}
	return &Listener{sub: sub, onCase: onCase}
}

// Start begins consuming reconciliation events.
func (l *Listener) Start() error {
	return l.sub.Subscribe(messaging.SubjectReconciliation, l.handle)
}

// Stop removes the subscription.
func (l *Listener) Stop() error {
	return l.sub.Unsubscribe(messaging.SubjectReconciliation)
}

func (l *Listener) handle(msg *nats.Msg) {
	var event messaging.OutcomeEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		log.Printf("failed to decode reconciliation event: %v", err)
		return
	}
	l.onCase(event)
}

func logAlert(event messaging.OutcomeEvent) {
	log.Printf("RECONCILIATION REQUIRED: transaction %s for %s ended %s (expected %d cycles, observed %d, block %q): %s",
		event.TransactionID, event.TargetID, event.State,
		event.ExpectedCycles, event.ActualCycles, event.BlockReference, event.Reason)
}
