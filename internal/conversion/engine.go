// Package conversion turns a cycle requirement into a funding plan:
// the exact number of fuel-token subunits to move so the target's
// cycle balance is met or exceeded at current market rates.
package conversion

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/terminal-bench/cyclemint/internal/oracle"
	"github.com/terminal-bench/cyclemint/pkg/cycles"
)

// Snapshot captures the market data a plan was priced against.
type Snapshot struct {
	UsdPerToken    decimal.Decimal `json:"usd_per_token"`
	CyclesPerToken decimal.Decimal `json:"cycles_per_token"`
	Source         string          `json:"source"`
	FetchedAt      time.Time       `json:"fetched_at"`
}

// Plan is a funding request. TokenSubunits is rounded up, never down:
// TokenSubunits * CyclesPerToken / SubunitsPerToken >= ExpectedCycles
// always holds.
type Plan struct {
	TokenSubunits  cycles.Subunits `json:"token_subunits"`
	ExpectedCycles cycles.Amount   `json:"expected_cycles"`
	UsdCost        decimal.Decimal `json:"usd_cost"`
	Snapshot       Snapshot        `json:"snapshot"`
}

// Oracle is the pricing dependency. Both signals fail loudly when
// unavailable; the engine never plans on guessed numbers.
type Oracle interface {
	UsdPrice(ctx context.Context, maxAge time.Duration) (oracle.Point, error)
	CyclesRate(ctx context.Context, maxAge time.Duration) (oracle.Point, error)
}

// Engine combines cost-model output with live pricing.
type Engine struct {
	oracle Oracle
	maxAge time.Duration
}

// NewEngine creates a conversion engine. maxAge bounds how old a
// cached price may be before the engine forces a re-fetch; zero leaves
// the oracle's own TTLs in charge.
func NewEngine(o Oracle, maxAge time.Duration) *Engine {
	return &Engine{oracle: o, maxAge: maxAge}
}

// Plan computes the funding plan for want cycles.
func (e *Engine) Plan(ctx context.Context, want cycles.Amount) (Plan, error) {
	price, err := e.oracle.UsdPrice(ctx, e.maxAge)
	if err != nil {
		return Plan{}, err
	}
	rate, err := e.oracle.CyclesRate(ctx, e.maxAge)
	if err != nil {
		return Plan{}, err
	}

	subunits, err := cycles.SubunitsForCycles(want, rate.Value)
	if err != nil {
		return Plan{}, err
	}

	fetched := price.FetchedAt
	if rate.FetchedAt.Before(fetched) {
		fetched = rate.FetchedAt
	}

	return Plan{
		TokenSubunits:  subunits,
		ExpectedCycles: want,
		UsdCost:        cycles.UsdValue(subunits, price.Value),
		Snapshot: Snapshot{
			UsdPerToken:    price.Value,
			CyclesPerToken: rate.Value,
			Source:         price.Source,
			FetchedAt:      fetched,
		},
	}, nil
}
