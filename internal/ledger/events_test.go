package ledger

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/cyclemint/pkg/messaging"
)

type capturingPublisher struct {
	subjects []string
	payloads []interface{}
}

func (p *capturingPublisher) Publish(ctx context.Context, subject string, data interface{}) error {
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

func TestEvented(t *testing.T) {
	ctx := context.Background()

	t.Run("should publish one event per mutation", func(t *testing.T) {
		mem := NewMemory()
		mem.Seed("acct-1", decimal.NewFromInt(10))
		pub := &capturingPublisher{}
		l := NewEvented(mem, pub)

		_, err := l.Debit(ctx, "acct-1", decimal.NewFromInt(3), "provision:tx-1", "funding")
		require.NoError(t, err)
		_, err = l.Credit(ctx, "acct-1", decimal.NewFromInt(3), "compensation:tx-1", "refund")
		require.NoError(t, err)

		require.Len(t, pub.subjects, 2)
		assert.Equal(t, messaging.SubjectLedgerEntry, pub.subjects[0])

		event, ok := pub.payloads[0].(messaging.LedgerEntryEvent)
		require.True(t, ok)
		assert.Equal(t, "debit", event.Type)
		assert.Equal(t, "3", event.Amount)
		assert.Equal(t, "7", event.Balance)
		assert.Equal(t, "provision:tx-1", event.Reference)

		// Round-trips as JSON for the wire.
		_, err = json.Marshal(event)
		require.NoError(t, err)
	})

	t.Run("should not publish on failed mutations", func(t *testing.T) {
		mem := NewMemory()
		mem.Seed("acct-1", decimal.NewFromInt(1))
		pub := &capturingPublisher{}
		l := NewEvented(mem, pub)

		_, err := l.Debit(ctx, "acct-1", decimal.NewFromInt(5), "ref", "reason")
		assert.ErrorIs(t, err, ErrInsufficientCredits)
		assert.Empty(t, pub.subjects)
	})

	t.Run("should pass reads through untouched", func(t *testing.T) {
		mem := NewMemory()
		mem.Seed("acct-1", decimal.NewFromInt(10))
		l := NewEvented(mem, &capturingPublisher{})

		balance, err := l.Balance(ctx, "acct-1")
		require.NoError(t, err)
		assert.True(t, balance.Equal(decimal.NewFromInt(10)))
	})
}
