// Package oracle fetches the two market signals the conversion engine
// depends on: the fuel token's USD price and the token-to-cycles
// exchange rate. The two signals come from independent upstreams and
// are cached independently; when an upstream is unavailable the client
// fails loudly rather than falling back to a stale or guessed number.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/terminal-bench/cyclemint/pkg/circuit"
	"github.com/terminal-bench/cyclemint/pkg/messaging"
)

// ErrPricingUnavailable is returned whenever a fresh signal cannot be
// obtained. Proceeding on guessed prices either costs the platform
// money or overcharges the user, so callers must abort.
var ErrPricingUnavailable = errors.New("pricing unavailable")

const (
	signalUsdPrice   = "usd_price"
	signalCyclesRate = "cycles_rate"

	keyPrefix = "oracle:"
)

// Point is one observed market signal.
type Point struct {
	Value     decimal.Decimal `json:"value"`
	Source    string          `json:"source"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Age returns how old the point is relative to now.
func (p Point) Age(now time.Time) time.Duration {
	return now.Sub(p.FetchedAt)
}

// Cache stores signal points with a TTL. Implemented by the Redis
// cache in this package and by an in-memory cache for tests and
// single-process deployments.
type Cache interface {
	Get(ctx context.Context, key string) (Point, bool, error)
	Set(ctx context.Context, key string, p Point, ttl time.Duration) error
}

// Publisher receives outage events. Satisfied by messaging.Client.
type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
}

// Config holds oracle client configuration
type Config struct {
	PriceURL string
	RateURL  string
	PriceTTL time.Duration
	RateTTL  time.Duration

	HTTPClient *http.Client
	Cache      Cache
	Breakers   *circuit.Group
	Events     Publisher
	Now        func() time.Time
}

// Client fetches and caches the two pricing signals.
type Client struct {
	priceURL string
	rateURL  string
	priceTTL time.Duration
	rateTTL  time.Duration

	http     *http.Client
	cache    Cache
	breakers *circuit.Group
	events   Publisher
	now      func() time.Time
	sf       singleflight.Group
}

// NewClient creates a new oracle client
func NewClient(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Cache == nil {
		cfg.Cache = NewMemoryCache(cfg.Now)
	}
	if cfg.Breakers == nil {
		cfg.Breakers = circuit.NewGroup(circuit.Config{
			MaxFailures: 5,
			CoolDown:    30 * time.Second,
			HalfOpenMax: 2,
		})
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.PriceTTL <= 0 {
		cfg.PriceTTL = time.Minute
	}
	if cfg.RateTTL <= 0 {
		cfg.RateTTL = 5 * time.Minute
	}
	return &Client{
		priceURL: cfg.PriceURL,
		rateURL:  cfg.RateURL,
		priceTTL: cfg.PriceTTL,
		rateTTL:  cfg.RateTTL,
		http:     cfg.HTTPClient,
		cache:    cfg.Cache,
		breakers: cfg.Breakers,
		events:   cfg.Events,
		now:      cfg.Now,
	}
}

// UsdPrice returns the current USD price of one fuel token. A cached
// point is returned only while younger than both the cache TTL and the
// caller's maxAge; otherwise a fresh fetch happens. maxAge <= 0 means
// the cache TTL alone decides.
func (c *Client) UsdPrice(ctx context.Context, maxAge time.Duration) (Point, error) {
	return c.signal(ctx, signalUsdPrice, c.priceURL, c.priceTTL, maxAge)
}

// CyclesRate returns the current token-to-cycles exchange rate.
func (c *Client) CyclesRate(ctx context.Context, maxAge time.Duration) (Point, error) {
	return c.signal(ctx, signalCyclesRate, c.rateURL, c.rateTTL, maxAge)
}

func (c *Client) signal(ctx context.Context, name, url string, ttl, maxAge time.Duration) (Point, error) {
	limit := ttl
	if maxAge > 0 && maxAge < limit {
		limit = maxAge
	}

	if p, ok, err := c.cache.Get(ctx, keyPrefix+name); err == nil && ok {
		if p.Age(c.now()) <= limit {
			return p, nil
		}
	}

	// Collapse concurrent cache misses into one upstream fetch.
	v, err, _ := c.sf.Do(name, func() (interface{}, error) {
		p, err := c.fetch(ctx, name, url)
		if err != nil {
			return Point{}, err
		}
		if err := c.cache.Set(ctx, keyPrefix+name, p, ttl); err != nil {
			// A cache write failure is not a pricing failure.
			return p, nil
		}
		return p, nil
	})
	if err != nil {
		return Point{}, err
	}
	return v.(Point), nil
}

func (c *Client) fetch(ctx context.Context, name, url string) (Point, error) {
	var p Point
	err := c.breakers.Do(ctx, name, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("upstream returned %d", resp.StatusCode)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if err != nil {
			return err
		}

		var payload struct {
			Value  string `json:"value"`
			Source string `json:"source"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return fmt.Errorf("failed to decode upstream payload: %w", err)
		}

		value, err := decimal.NewFromString(payload.Value)
		if err != nil {
			return fmt.Errorf("upstream sent non-numeric value %q: %w", payload.Value, err)
		}
		if value.Sign() <= 0 {
			return fmt.Errorf("upstream sent non-positive value %s", value)
		}

		p = Point{Value: value, Source: payload.Source, FetchedAt: c.now()}
		return nil
	})
	if err != nil {
		if c.events != nil {
			outage := messaging.PricingOutageEvent{
				Signal:    name,
				Reason:    err.Error(),
				Timestamp: c.now(),
			}
			if pubErr := c.events.Publish(ctx, messaging.SubjectPricingOutage, outage); pubErr != nil {
				log.Printf("failed to publish pricing outage for %s: %v", name, pubErr)
			}
		}
		return Point{}, fmt.Errorf("%w: %s: %v", ErrPricingUnavailable, name, err)
	}
	return p, nil
}
