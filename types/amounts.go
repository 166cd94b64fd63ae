// Package types provides the branded value types shared across the ledger.
package types

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"math/big"
)

// ErrUnderflow is returned by Sub when the result would be negative.
var ErrUnderflow = errors.New("types: arithmetic underflow")

// ErrOutOfRange is returned by constructors when a value violates its domain.
var ErrOutOfRange = errors.New("types: value out of range")

// MicroUSD is a non-negative integer quantity of micro-US-dollars
// (1 USD = 1,000,000 MicroUSD). It is the sole money unit on the ledger's
// money path — no floating point, no implicit currency conversion.
type MicroUSD int64

// MicroUSDPerUSD is the number of MicroUSD in one US dollar.
const MicroUSDPerUSD int64 = 1_000_000

// ZeroMicroUSD is the additive identity.
const ZeroMicroUSD MicroUSD = 0

// NewMicroUSD validates and constructs a MicroUSD amount. Negative amounts
// are rejected; the money path never represents a negative balance directly.
func NewMicroUSD(amount int64) (MicroUSD, error) {
	if amount < 0 {
		return 0, fmt.Errorf("%w: micro-usd amount %d is negative", ErrOutOfRange, amount)
	}
	return MicroUSD(amount), nil
}

// MustMicroUSD is like NewMicroUSD but panics on error. Use only for
// hardcoded constants (tests, compile-time fallbacks).
func MustMicroUSD(amount int64) MicroUSD {
	v, err := NewMicroUSD(amount)
	if err != nil {
		panic(err)
	}
	return v
}

// Int64 returns the underlying integer value.
func (m MicroUSD) Int64() int64 { return int64(m) }

// IsZero reports whether the amount is zero.
func (m MicroUSD) IsZero() bool { return m == 0 }

// IsPositive reports whether the amount is strictly greater than zero.
func (m MicroUSD) IsPositive() bool { return m > 0 }

// Add returns m + other. Both operands are non-negative by construction so
// the result cannot underflow; it can in principle overflow int64, which is
// treated as a programming-level invariant breach rather than a recoverable
// error (ledger balances never legitimately approach 2^63 micro-USD).
func (m MicroUSD) Add(other MicroUSD) MicroUSD {
	return m + other
}

// Sub returns m - other, failing with ErrUnderflow rather than wrapping
// when the result would be negative.
func (m MicroUSD) Sub(other MicroUSD) (MicroUSD, error) {
	if other > m {
		return 0, fmt.Errorf("%w: %d - %d", ErrUnderflow, m, other)
	}
	return m - other, nil
}

// Min returns the smaller of m and other.
func (m MicroUSD) Min(other MicroUSD) MicroUSD {
	if m < other {
		return m
	}
	return other
}

// Max returns the larger of m and other.
func (m MicroUSD) Max(other MicroUSD) MicroUSD {
	if m > other {
		return m
	}
	return other
}

// LessThan reports whether m < other.
func (m MicroUSD) LessThan(other MicroUSD) bool { return m < other }

// String renders the amount as a "$X.YYYYYY" string for logs and errors.
func (m MicroUSD) String() string {
	major := int64(m) / MicroUSDPerUSD
	minor := int64(m) % MicroUSDPerUSD
	return fmt.Sprintf("$%d.%06d", major, minor)
}

// Value implements driver.Valuer, storing the amount as a plain integer so
// the store never loses precision above 2^53 the way a float column would.
func (m MicroUSD) Value() (driver.Value, error) {
	return int64(m), nil
}

// Scan implements sql.Scanner.
func (m *MicroUSD) Scan(src any) error {
	switch v := src.(type) {
	case int64:
		*m = MicroUSD(v)
		return nil
	case nil:
		*m = 0
		return nil
	default:
		return fmt.Errorf("types: cannot scan %T into MicroUSD", src)
	}
}

// BasisPoints is an integer percentage in hundredths of a percent:
// 10000 == 100%. Valid range is [0, 10000].
type BasisPoints int32

// MaxBasisPoints represents 100%.
const MaxBasisPoints BasisPoints = 10000

// NewBasisPoints validates and constructs a BasisPoints value.
func NewBasisPoints(bps int32) (BasisPoints, error) {
	if bps < 0 || BasisPoints(bps) > MaxBasisPoints {
		return 0, fmt.Errorf("%w: basis points %d outside [0,10000]", ErrOutOfRange, bps)
	}
	return BasisPoints(bps), nil
}

// MustBasisPoints is like NewBasisPoints but panics on error.
func MustBasisPoints(bps int32) BasisPoints {
	v, err := NewBasisPoints(bps)
	if err != nil {
		panic(err)
	}
	return v
}

// BpsShare computes floor(amount * bps / 10000) using exact big-integer
// arithmetic so no intermediate step can lose precision or round
// differently than a straightforward reading of the formula would suggest.
func BpsShare(amount MicroUSD, bps BasisPoints) MicroUSD {
	if amount <= 0 || bps <= 0 {
		return 0
	}
	num := big.NewInt(int64(amount))
	num.Mul(num, big.NewInt(int64(bps)))
	num.Div(num, big.NewInt(int64(MaxBasisPoints)))
	return MicroUSD(num.Int64())
}

// AssertBpsSum reports whether the given basis-point shares sum to exactly
// 10000 (100%), the invariant expected of any exhaustive split.
func AssertBpsSum(parts ...BasisPoints) bool {
	var sum int64
	for _, p := range parts {
		sum += int64(p)
	}
	return sum == int64(MaxBasisPoints)
}

// Value implements driver.Valuer.
func (b BasisPoints) Value() (driver.Value, error) {
	return int64(b), nil
}

// Scan implements sql.Scanner.
func (b *BasisPoints) Scan(src any) error {
	switch v := src.(type) {
	case int64:
		*b = BasisPoints(v)
		return nil
	case nil:
		*b = 0
		return nil
	default:
		return fmt.Errorf("types: cannot scan %T into BasisPoints", src)
	}
}
