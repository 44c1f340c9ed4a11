package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDebit(t *testing.T) {
	ctx := context.Background()

	t.Run("should debit and record the entry", func(t *testing.T) {
		l := NewMemory()
		l.Seed("acct-1", decimal.NewFromInt(100))

		entry, err := l.Debit(ctx, "acct-1", decimal.RequireFromString("3.30"), "provision:tx-1", "instance funding")
		require.NoError(t, err)

		assert.Equal(t, "debit", entry.Type)
		assert.Equal(t, "96.7", entry.Balance.String())

		balance, err := l.Balance(ctx, "acct-1")
		require.NoError(t, err)
		assert.True(t, balance.Equal(decimal.RequireFromString("96.70")))
	})

	t.Run("should reject a debit beyond the balance and change nothing", func(t *testing.T) {
		l := NewMemory()
		l.Seed("acct-1", decimal.NewFromInt(2))

		_, err := l.Debit(ctx, "acct-1", decimal.RequireFromString("3.30"), "provision:tx-1", "instance funding")
		assert.ErrorIs(t, err, ErrInsufficientCredits)

		balance, err := l.Balance(ctx, "acct-1")
		require.NoError(t, err)
		assert.True(t, balance.Equal(decimal.NewFromInt(2)))

		entries, err := l.Entries(ctx, "acct-1", 0)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("should allow a debit to exactly zero", func(t *testing.T) {
		l := NewMemory()
		l.Seed("acct-1", decimal.RequireFromString("3.30"))

		_, err := l.Debit(ctx, "acct-1", decimal.RequireFromString("3.30"), "provision:tx-1", "instance funding")
		require.NoError(t, err)

		balance, err := l.Balance(ctx, "acct-1")
		require.NoError(t, err)
		assert.True(t, balance.IsZero())
	})

	t.Run("should reject unknown accounts", func(t *testing.T) {
		l := NewMemory()
		_, err := l.Debit(ctx, "missing", decimal.NewFromInt(1), "ref", "reason")
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("should reject non-positive amounts", func(t *testing.T) {
		l := NewMemory()
		l.Seed("acct-1", decimal.NewFromInt(10))

		_, err := l.Debit(ctx, "acct-1", decimal.Zero, "ref", "reason")
		assert.ErrorIs(t, err, ErrInvalidAmount)
		_, err = l.Credit(ctx, "acct-1", decimal.NewFromInt(-5), "ref", "reason")
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestMemoryConcurrentDebits(t *testing.T) {
	// 100 goroutines race to debit 1 credit from a balance of 50: exactly
	// 50 must succeed and the balance must land on zero.
	ctx := context.Background()
	l := NewMemory()
	l.Seed("acct-1", decimal.NewFromInt(50))

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Debit(ctx, "acct-1", decimal.NewFromInt(1), "ref", "race")
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, succeeded)

	balance, err := l.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestMemoryEntries(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()
	l.Seed("acct-1", decimal.NewFromInt(100))

	for i := 0; i < 5; i++ {
		_, err := l.Debit(ctx, "acct-1", decimal.NewFromInt(1), "ref", "spend")
		require.NoError(t, err)
	}
	_, err := l.Credit(ctx, "acct-1", decimal.NewFromInt(2), "compensation:tx-9", "refund")
	require.NoError(t, err)

	t.Run("should return newest first", func(t *testing.T) {
		entries, err := l.Entries(ctx, "acct-1", 0)
		require.NoError(t, err)
		require.Len(t, entries, 6)
		assert.Equal(t, "credit", entries[0].Type)
		assert.Equal(t, "compensation:tx-9", entries[0].Reference)
	})

	t.Run("should honor the limit", func(t *testing.T) {
		entries, err := l.Entries(ctx, "acct-1", 2)
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})
}
