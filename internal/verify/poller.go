// Package verify confirms that cycles actually arrived at the
// destination after a transfer. It only observes; it never mutates
// ledger state. The disposition of a failed verification belongs to
// the orchestrator.
package verify

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/terminal-bench/cyclemint/pkg/cycles"
)

// ToleranceFraction is the share of the expected delta that counts as
// arrival. Market conditions can shift between planning and minting,
// so the realized cycle amount is allowed to land below plan.
var ToleranceFraction = decimal.NewFromFloat(0.80)

// DefaultInterval is the balance polling cadence.
const DefaultInterval = 3 * time.Second

// BalanceQuerier reads the destination instance's cycle balance.
type BalanceQuerier interface {
	CycleBalance(ctx context.Context, targetID string) (cycles.Amount, error)
}

// Result is the outcome of one verification run.
type Result struct {
	Success      bool          `json:"success"`
	FinalBalance cycles.Amount `json:"final_balance"`
	Delta        cycles.Amount `json:"delta"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Poller polls a destination's cycle balance until the expected delta
// (within tolerance) shows up or the window closes.
type Poller struct {
	querier  BalanceQuerier
	interval time.Duration
}

// NewPoller creates a poller. A non-positive interval falls back to
// DefaultInterval.
func NewPoller(querier BalanceQuerier, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{querier: querier, interval: interval}
}

// Poll watches targetID's balance for up to maxWait. It succeeds as
// soon as the observed delta reaches ToleranceFraction of expected.
// On timeout it returns Success=false with whatever partial delta was
// observed and a nil error; only context cancellation is an error.
func (p *Poller) Poll(ctx context.Context, targetID string, baseline, expected cycles.Amount, maxWait time.Duration) (Result, error) {
	start := time.Now()
	threshold := expected.Decimal().Mul(ToleranceFraction)

	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var last cycles.Amount
	check := func() (Result, bool) {
		balance, err := p.querier.CycleBalance(ctx, targetID)
		if err != nil {
			// Transient query failures are expected while the
			// network settles; keep polling until the window closes.
			return Result{}, false
		}
		last = balance
		delta := balance.Sub(baseline)
		if delta.Decimal().GreaterThanOrEqual(threshold) {
			return Result{
				Success:      true,
				FinalBalance: balance,
				Delta:        delta,
				Elapsed:      time.Since(start),
			}, true
		}
		return Result{}, false
	}

	// First check immediately; arrival sometimes beats the poller.
	if res, done := check(); done {
		return res, nil
	}

	for {
		select {
		case <-ctx.Done():
			return Result{
				FinalBalance: last,
				Delta:        last.Sub(baseline),
				Elapsed:      time.Since(start),
			}, ctx.Err()
		case <-deadline.C:
			return Result{
				Success:      false,
				FinalBalance: last,
				Delta:        last.Sub(baseline),
				Elapsed:      time.Since(start),
			}, nil
		case <-ticker.C:
			if res, done := check(); done {
				return res, nil
			}
		}
	}
}
