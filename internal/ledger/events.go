package ledger

import (
	"context"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/terminal-bench/cyclemint/pkg/messaging"
)

// Publisher is the event sink for ledger mutations. Satisfied by
// messaging.Client.
type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
}

// Evented decorates a Ledger, publishing one event per mutation. A
// publish failure never fails the mutation: the ledger row is the
// source of truth, the stream is advisory.
type Evented struct {
	inner Ledger
	pub   Publisher
}

// NewEvented wraps inner with event publication.
func NewEvented(inner Ledger, pub Publisher) *Evented {
	return &Evented{inner: inner, pub: pub}
}

func (l *Evented) Debit(ctx context.Context, accountID string, amount decimal.Decimal, reference, reason string) (*Entry, error) {
	entry, err := l.inner.Debit(ctx, accountID, amount, reference, reason)
	if err != nil {
		return nil, err
	}
	l.publish(ctx, entry)
	return entry, nil
}

func (l *Evented) Credit(ctx context.Context, accountID string, amount decimal.Decimal, reference, reason string) (*Entry, error) {
	entry, err := l.inner.Credit(ctx, accountID, amount, reference, reason)
	if err != nil {
		return nil, err
	}
	l.publish(ctx, entry)
	return entry, nil
}

func (l *Evented) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	return l.inner.Balance(ctx, accountID)
}

func (l *Evented) Entries(ctx context.Context, accountID string, limit int) ([]Entry, error) {
	return l.inner.Entries(ctx, accountID, limit)
}

func (l *Evented) publish(ctx context.Context, entry *Entry) {
	event := messaging.LedgerEntryEvent{
		EntryID:   entry.ID,
		AccountID: entry.AccountID,
		Type:      entry.Type,
		Amount:    entry.Amount.String(),
		Balance:   entry.Balance.String(),
		Reference: entry.Reference,
		Reason:    entry.Reason,
		Timestamp: time.Now(),
	}
	if err := l.pub.Publish(ctx, messaging.SubjectLedgerEntry, event); err != nil {
		log.Printf("failed to publish ledger entry event for %s: %v", entry.ID, err)
	}
}
