package cycles

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Amount is a quantity of execution cycles.
type Amount int64

// Subunits is a quantity of fuel-token subunits. One whole token is
// 100,000,000 subunits.
type Subunits int64

// SubunitsPerToken is the fixed subdivision of the fuel token.
const SubunitsPerToken int64 = 100_000_000

var (
	ErrInvalidRate   = errors.New("exchange rate must be positive")
	ErrNegativeValue = errors.New("amount must not be negative")
)

// Add returns a + b.
func (a Amount) Add(b Amount) Amount { return a + b }

// Sub returns a - b.
func (a Amount) Sub(b Amount) Amount { return a - b }

// Int64 returns the raw cycle count.
func (a Amount) Int64() int64 { return int64(a) }

// Decimal returns the amount as a decimal for rate arithmetic.
func (a Amount) Decimal() decimal.Decimal { return decimal.NewFromInt(int64(a)) }

func (a Amount) String() string {
	d := decimal.NewFromInt(int64(a))
	trillion := decimal.NewFromInt(1_000_000_000_000)
	if d.Abs().GreaterThanOrEqual(trillion) {
		return fmt.Sprintf("%sT cycles", d.Div(trillion).Round(3))
	}
	return fmt.Sprintf("%s cycles", d)
}

// Int64 returns the raw subunit count.
func (s Subunits) Int64() int64 { return int64(s) }

// Tokens returns the whole-token value of s.
func (s Subunits) Tokens() decimal.Decimal {
	return decimal.NewFromInt(int64(s)).Div(decimal.NewFromInt(SubunitsPerToken))
}

func (s Subunits) String() string {
	return fmt.Sprintf("%s tokens", s.Tokens())
}

// SubunitsForCycles returns the smallest number of token subunits whose
// cycle value meets or exceeds want at the given cycles-per-token rate.
// Rounding is always up: under-funding the destination is never allowed.
func SubunitsForCycles(want Amount, cyclesPerToken decimal.Decimal) (Subunits, error) {
	if cyclesPerToken.Sign() <= 0 {
		return 0, ErrInvalidRate
	}
	if want < 0 {
		return 0, ErrNegativeValue
	}
	sub := want.Decimal().
		Mul(decimal.NewFromInt(SubunitsPerToken)).
		Div(cyclesPerToken).
		Ceil()
	return Subunits(sub.IntPart()), nil
}

// CyclesForSubunits returns the cycle value of s at the given rate,
// rounded down.
func CyclesForSubunits(s Subunits, cyclesPerToken decimal.Decimal) (Amount, error) {
	if cyclesPerToken.Sign() <= 0 {
		return 0, ErrInvalidRate
	}
	if s < 0 {
		return 0, ErrNegativeValue
	}
	c := decimal.NewFromInt(int64(s)).
		Mul(cyclesPerToken).
		Div(decimal.NewFromInt(SubunitsPerToken)).
		Floor()
	return Amount(c.IntPart()), nil
}

// UsdValue returns the USD value of s at the given token price.
func UsdValue(s Subunits, usdPerToken decimal.Decimal) decimal.Decimal {
	return s.Tokens().Mul(usdPerToken)
}
