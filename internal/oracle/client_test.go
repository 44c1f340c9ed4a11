package oracle

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingUpstream struct {
	mu    sync.Mutex
	calls int
	value string
	code  int
}

func (u *countingUpstream) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		u.calls++
		value, code := u.value, u.code
		u.mu.Unlock()

		if code != 0 && code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		fmt.Fprintf(w, `{"value": %q, "source": "test-feed"}`, value)
	}
}

func (u *countingUpstream) callCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}

func (u *countingUpstream) set(value string, code int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.value, u.code = value, code
}

type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestClient(t *testing.T, price, rate *countingUpstream, clock *fixedClock) *Client {
	t.Helper()

	priceSrv := httptest.NewServer(price.handler())
	t.Cleanup(priceSrv.Close)
	rateSrv := httptest.NewServer(rate.handler())
	t.Cleanup(rateSrv.Close)

	return NewClient(Config{
		PriceURL: priceSrv.URL,
		RateURL:  rateSrv.URL,
		PriceTTL: time.Minute,
		RateTTL:  5 * time.Minute,
		Now:      clock.now,
	})
}

func TestUsdPrice(t *testing.T) {
	t.Run("should fetch and parse the upstream value", func(t *testing.T) {
		price := &countingUpstream{value: "8.00"}
		rate := &countingUpstream{value: "740000000000"}
		clock := &fixedClock{t: time.Unix(1_700_000_000, 0)}
		c := newTestClient(t, price, rate, clock)

		p, err := c.UsdPrice(context.Background(), 0)
		require.NoError(t, err)

		assert.Equal(t, "8", p.Value.String())
		assert.Equal(t, "test-feed", p.Source)
		assert.Equal(t, clock.now(), p.FetchedAt)
	})

	t.Run("should serve from cache inside the TTL", func(t *testing.T) {
		price := &countingUpstream{value: "8.00"}
		rate := &countingUpstream{value: "740000000000"}
		clock := &fixedClock{t: time.Unix(1_700_000_000, 0)}
		c := newTestClient(t, price, rate, clock)

		_, err := c.UsdPrice(context.Background(), 0)
		require.NoError(t, err)

		clock.advance(30 * time.Second)
		_, err = c.UsdPrice(context.Background(), 0)
		require.NoError(t, err)

		assert.Equal(t, 1, price.callCount())
	})

	t.Run("should refetch once the TTL passes", func(t *testing.T) {
		price := &countingUpstream{value: "8.00"}
		rate := &countingUpstream{value: "740000000000"}
		clock := &fixedClock{t: time.Unix(1_700_000_000, 0)}
		c := newTestClient(t, price, rate, clock)

		_, err := c.UsdPrice(context.Background(), 0)
		require.NoError(t, err)

		clock.advance(2 * time.Minute)
		price.set("9.00", 0)
		p, err := c.UsdPrice(context.Background(), 0)
		require.NoError(t, err)

		assert.Equal(t, 2, price.callCount())
		assert.Equal(t, "9", p.Value.String())
	})

	t.Run("should let a tighter maxAge force a refetch", func(t *testing.T) {
		price := &countingUpstream{value: "8.00"}
		rate := &countingUpstream{value: "740000000000"}
		clock := &fixedClock{t: time.Unix(1_700_000_000, 0)}
		c := newTestClient(t, price, rate, clock)

		_, err := c.UsdPrice(context.Background(), 0)
		require.NoError(t, err)

		clock.advance(10 * time.Second)
		_, err = c.UsdPrice(context.Background(), 5*time.Second)
		require.NoError(t, err)

		assert.Equal(t, 2, price.callCount())
	})
}

func TestPricingUnavailable(t *testing.T) {
	t.Run("should fail loudly on upstream errors", func(t *testing.T) {
		price := &countingUpstream{code: http.StatusBadGateway}
		rate := &countingUpstream{value: "740000000000"}
		clock := &fixedClock{t: time.Unix(1_700_000_000, 0)}
		c := newTestClient(t, price, rate, clock)

		_, err := c.UsdPrice(context.Background(), 0)
		assert.ErrorIs(t, err, ErrPricingUnavailable)
	})

	t.Run("should never fall back to a stale point", func(t *testing.T) {
		price := &countingUpstream{value: "8.00"}
		rate := &countingUpstream{value: "740000000000"}
		clock := &fixedClock{t: time.Unix(1_700_000_000, 0)}
		c := newTestClient(t, price, rate, clock)

		_, err := c.UsdPrice(context.Background(), 0)
		require.NoError(t, err)

		clock.advance(2 * time.Minute)
		price.set("", http.StatusServiceUnavailable)
		_, err = c.UsdPrice(context.Background(), 0)
		assert.ErrorIs(t, err, ErrPricingUnavailable)
	})

	t.Run("should reject non-positive values", func(t *testing.T) {
		price := &countingUpstream{value: "0"}
		rate := &countingUpstream{value: "740000000000"}
		clock := &fixedClock{t: time.Unix(1_700_000_000, 0)}
		c := newTestClient(t, price, rate, clock)

		_, err := c.UsdPrice(context.Background(), 0)
		assert.ErrorIs(t, err, ErrPricingUnavailable)
	})
}

func TestCyclesRate(t *testing.T) {
	t.Run("should cache independently of the price signal", func(t *testing.T) {
		price := &countingUpstream{value: "8.00"}
		rate := &countingUpstream{value: "740000000000"}
		clock := &fixedClock{t: time.Unix(1_700_000_000, 0)}
		c := newTestClient(t, price, rate, clock)

		_, err := c.UsdPrice(context.Background(), 0)
		require.NoError(t, err)
		p, err := c.CyclesRate(context.Background(), 0)
		require.NoError(t, err)

		assert.Equal(t, "740000000000", p.Value.String())
		assert.Equal(t, 1, price.callCount())
		assert.Equal(t, 1, rate.callCount())

		// Price expiring must not disturb the longer-lived rate.
		clock.advance(2 * time.Minute)
		_, err = c.CyclesRate(context.Background(), 0)
		require.NoError(t, err)
		assert.Equal(t, 1, rate.callCount())
	})
}

func TestMemoryCache(t *testing.T) {
	t.Run("should expire entries", func(t *testing.T) {
		clock := &fixedClock{t: time.Unix(1_700_000_000, 0)}
		cache := NewMemoryCache(clock.now)
		ctx := context.Background()

		p := Point{Source: "test", FetchedAt: clock.now()}
		require.NoError(t, cache.Set(ctx, "oracle:usd_price", p, time.Minute))

		_, ok, err := cache.Get(ctx, "oracle:usd_price")
		require.NoError(t, err)
		assert.True(t, ok)

		clock.advance(61 * time.Second)
		_, ok, err = cache.Get(ctx, "oracle:usd_price")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("should miss on unknown keys", func(t *testing.T) {
		cache := NewMemoryCache(nil)
		_, ok, err := cache.Get(context.Background(), "oracle:missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
