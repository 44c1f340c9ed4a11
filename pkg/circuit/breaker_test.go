package circuit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream down")

func failing() error    { return errUpstream }
func succeeding() error { return nil }

func TestBreakerDo(t *testing.T) {
	ctx := context.Background()

	t.Run("should stay closed while calls succeed", func(t *testing.T) {
		b := NewBreaker(Config{Name: "test", MaxFailures: 3})
		for i := 0; i < 10; i++ {
			require.NoError(t, b.Do(ctx, succeeding))
		}
		assert.Equal(t, StateClosed, b.State())
	})

	t.Run("should open after max consecutive failures", func(t *testing.T) {
		b := NewBreaker(Config{Name: "test", MaxFailures: 3, CoolDown: time.Hour})

		for i := 0; i < 3; i++ {
			assert.ErrorIs(t, b.Do(ctx, failing), errUpstream)
		}
		assert.Equal(t, StateOpen, b.State())
		assert.ErrorIs(t, b.Do(ctx, succeeding), ErrOpen)
	})

	t.Run("should reset the failure count on success", func(t *testing.T) {
		b := NewBreaker(Config{Name: "test", MaxFailures: 3, CoolDown: time.Hour})

		_ = b.Do(ctx, failing)
		_ = b.Do(ctx, failing)
		require.NoError(t, b.Do(ctx, succeeding))
		_ = b.Do(ctx, failing)
		_ = b.Do(ctx, failing)
		assert.Equal(t, StateClosed, b.State())
	})

	t.Run("should probe after the cool down and close on success", func(t *testing.T) {
		b := NewBreaker(Config{Name: "test", MaxFailures: 1, CoolDown: 10 * time.Millisecond})

		_ = b.Do(ctx, failing)
		assert.Equal(t, StateOpen, b.State())

		time.Sleep(15 * time.Millisecond)
		require.NoError(t, b.Do(ctx, succeeding))
		assert.Equal(t, StateClosed, b.State())
	})

	t.Run("should reopen when the probe fails", func(t *testing.T) {
		b := NewBreaker(Config{Name: "test", MaxFailures: 1, CoolDown: 10 * time.Millisecond})

		_ = b.Do(ctx, failing)
		time.Sleep(15 * time.Millisecond)
		assert.ErrorIs(t, b.Do(ctx, failing), errUpstream)
		assert.Equal(t, StateOpen, b.State())
	})

	t.Run("should respect a cancelled context before admission", func(t *testing.T) {
		b := NewBreaker(Config{Name: "test"})
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, b.Do(cancelled, succeeding), context.Canceled)
	})

	t.Run("should admit calls again after a reset", func(t *testing.T) {
		b := NewBreaker(Config{Name: "test", MaxFailures: 1, CoolDown: time.Hour})

		_ = b.Do(ctx, failing)
		require.Equal(t, StateOpen, b.State())
		assert.ErrorIs(t, b.Do(ctx, succeeding), ErrOpen)

		b.Reset()
		assert.Equal(t, StateClosed, b.State())
		require.NoError(t, b.Do(ctx, succeeding))
	})

	t.Run("should notify on state changes", func(t *testing.T) {
		var changes []string
		b := NewBreaker(Config{
			Name:        "treasury",
			MaxFailures: 1,
			CoolDown:    time.Hour,
			OnStateChange: func(name string, from, to State) {
				changes = append(changes, name+":"+from.String()+"->"+to.String())
			},
		})

		_ = b.Do(ctx, failing)
		assert.Equal(t, []string{"treasury:closed->open"}, changes)
	})
}

func TestGroup(t *testing.T) {
	ctx := context.Background()

	t.Run("should isolate breakers per upstream", func(t *testing.T) {
		g := NewGroup(Config{MaxFailures: 1, CoolDown: time.Hour})

		assert.ErrorIs(t, g.Do(ctx, "treasury", failing), errUpstream)
		assert.ErrorIs(t, g.Do(ctx, "treasury", succeeding), ErrOpen)
		require.NoError(t, g.Do(ctx, "minter", succeeding))

		states := g.States()
		assert.Equal(t, StateOpen, states["treasury"])
		assert.Equal(t, StateClosed, states["minter"])
	})

	t.Run("should reuse the breaker for a name", func(t *testing.T) {
		g := NewGroup(Config{MaxFailures: 5})
		assert.Same(t, g.Get("treasury"), g.Get("treasury"))
	})
}
