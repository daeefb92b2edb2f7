package control

import "fmt"

const (
	maxNanos = 999999999
	minNanos = -999999999
)

// Money represents an amount in a given currency, following the units +
// fractional-nanos representation used by the Service Control wire
// format. Units and Nanos must share a sign when both are nonzero.
type Money struct {
	CurrencyCode string
	Units        int64
	Nanos        int32
}

// Valid reports whether m obeys the Money invariants: a three-letter
// currency code and matching signs between Units and Nanos.
func (m Money) Valid() error {
	if len(m.CurrencyCode) != 3 {
		return PreconditionError("money: currency code must be 3 letters, got " + m.CurrencyCode)
	}
	if m.Nanos < minNanos || m.Nanos > maxNanos {
		return PreconditionError(fmt.Sprintf("money: nanos %d out of range", m.Nanos))
	}
	if signOf(m.Units) != 0 && signOf(int64(m.Nanos)) != 0 && signOf(m.Units) != signOf(int64(m.Nanos)) {
		return PreconditionError("money: units and nanos must share a sign")
	}
	return nil
}

func signOf(v int64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// AddMoney adds b to a, returning the saturated/overflow-clamped sum.
// Both operands must share a currency code. When allowOverflow is false,
// an overflowing sum returns an error; when true, the result is clamped
// to +/-math.MaxInt64 units with the matching extreme nanos value, as the
// original Service Control client does.
//
// Ported from google/scc/money.py's add()/_sum_nanos()/_sign_of().
func AddMoney(a, b Money, allowOverflow bool) (Money, error) {
	if a.CurrencyCode != b.CurrencyCode {
		return Money{}, PreconditionError("money: currency mismatch " + a.CurrencyCode + " vs " + b.CurrencyCode)
	}
	if err := a.Valid(); err != nil {
		return Money{}, err
	}
	if err := b.Valid(); err != nil {
		return Money{}, err
	}

	// Capture the operand signs before the addition -- once units wraps
	// around on overflow, the sum's own sign no longer tells us which
	// direction to clamp toward.
	signA := signOf(a.Units)
	if signA == 0 {
		signA = signOf(int64(a.Nanos))
	}
	signB := signOf(b.Units)
	if signB == 0 {
		signB = signOf(int64(b.Nanos))
	}

	nanos := int64(a.Nanos) + int64(b.Nanos)
	carry := nanos / 1e9
	nanos -= carry * 1e9

	units, overflowed := addInt64(a.Units, b.Units)
	units, carryOverflowed := addInt64(units, carry)
	overflowed = overflowed || carryOverflowed

	// nanos and units must end up with the same sign; borrow/carry one
	// unit worth of nanos if they currently disagree.
	if units > 0 && nanos < 0 {
		units--
		nanos += 1e9
	} else if units < 0 && nanos > 0 {
		units++
		nanos -= 1e9
	}

	if overflowed || units > maxInt64Units || units < minInt64Units {
		if !allowOverflow {
			return Money{}, PreconditionError("money: addition overflowed int64 units")
		}
		if signA > 0 || signB > 0 {
			return Money{CurrencyCode: a.CurrencyCode, Units: maxInt64Units, Nanos: maxNanos}, nil
		}
		return Money{CurrencyCode: a.CurrencyCode, Units: minInt64Units, Nanos: minNanos}, nil
	}

	return Money{CurrencyCode: a.CurrencyCode, Units: units, Nanos: int32(nanos)}, nil
}

const (
	maxInt64Units = 1<<63 - 1
	minInt64Units = -1 << 63
)

// addInt64 adds two int64s and reports whether the result overflowed.
func addInt64(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return sum, true
	}
	return sum, false
}
