// Package costmodel translates allocation requests into cycle costs.
// Everything here is pure arithmetic: no I/O, no clocks, no state.
package costmodel

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/terminal-bench/cyclemint/pkg/cycles"
)

const (
	// MinMemoryUnits is the platform floor. Requests below it are
	// rounded up, never down: under-provisioning is disallowed.
	MinMemoryUnits int64 = 1

	// BaseRateCycles is the runtime cost of one memory unit for one
	// 30-day period.
	BaseRateCycles int64 = 2_000_000_000_000

	// CreationFeeCycles is the fixed overhead of bringing up one
	// instance.
	CreationFeeCycles int64 = 500_000_000_000

	// DefaultInstanceCount covers the standard paired deployment.
	DefaultInstanceCount int64 = 2

	// CyclesPerCredit fixes the internal credit unit at one trillion
	// cycles.
	CyclesPerCredit int64 = 1_000_000_000_000

	daysPerPeriod int64 = 30
)

// SafetyBufferFraction pads the total to absorb market drift between
// planning and arrival.
var SafetyBufferFraction = decimal.NewFromFloat(0.10)

var (
	ErrInvalidDuration  = errors.New("duration must be at least one day")
	ErrInvalidInstances = errors.New("instance count must not be negative")
	ErrInvalidMemory    = errors.New("memory units must not be negative")
)

// Request describes a desired allocation.
type Request struct {
	MemoryUnits   int64
	DurationDays  int64
	InstanceCount int64
}

// Breakdown is the cycle cost of a request.
type Breakdown struct {
	RuntimeCycles          cycles.Amount
	CreationOverheadCycles cycles.Amount
	BufferedTotalCycles    cycles.Amount
}

// Compute returns the cycle cost of req. Memory below the platform
// floor is rounded up to the floor; a zero instance count means the
// standard paired deployment.
func Compute(req Request) (Breakdown, error) {
	if req.DurationDays <= 0 {
		return Breakdown{}, ErrInvalidDuration
	}
	if req.InstanceCount < 0 {
		return Breakdown{}, ErrInvalidInstances
	}
	if req.MemoryUnits < 0 {
		return Breakdown{}, ErrInvalidMemory
	}

	memory := req.MemoryUnits
	if memory < MinMemoryUnits {
		memory = MinMemoryUnits
	}
	instances := req.InstanceCount
	if instances == 0 {
		instances = DefaultInstanceCount
	}

	runtime := decimal.NewFromInt(memory).
		Mul(decimal.NewFromInt(BaseRateCycles)).
		Mul(decimal.NewFromInt(req.DurationDays)).
		Div(decimal.NewFromInt(daysPerPeriod)).
		Ceil()

	overhead := decimal.NewFromInt(instances).Mul(decimal.NewFromInt(CreationFeeCycles))

	buffered := runtime.Add(overhead).
		Mul(decimal.NewFromInt(1).Add(SafetyBufferFraction)).
		Ceil()

	return Breakdown{
		RuntimeCycles:          cycles.Amount(runtime.IntPart()),
		CreationOverheadCycles: cycles.Amount(overhead.IntPart()),
		BufferedTotalCycles:    cycles.Amount(buffered.IntPart()),
	}, nil
}

// CreditsToFund returns the credits required to cover c, rounded up to
// two decimal places. Used when debiting: rounding up guarantees the
// debit always covers the cycle cost.
func CreditsToFund(c cycles.Amount) decimal.Decimal {
	return c.Decimal().
		Div(decimal.NewFromInt(CyclesPerCredit)).
		RoundUp(2)
}

// DisplayCredits returns the credit value of c for user display,
// rounded down to two decimal places so the UI never overstates what
// the user got.
func DisplayCredits(c cycles.Amount) decimal.Decimal {
	return c.Decimal().
		Div(decimal.NewFromInt(CyclesPerCredit)).
		RoundDown(2)
}

// CyclesForCredits returns the cycles a credit balance is worth,
// rounded down for the same reason as DisplayCredits.
func CyclesForCredits(credits decimal.Decimal) cycles.Amount {
	c := credits.Mul(decimal.NewFromInt(CyclesPerCredit)).Floor()
	return cycles.Amount(c.IntPart())
}
