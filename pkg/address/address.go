// Package address implements overflow-checked arithmetic over raw address values.
//
// The same raw type is used for addresses, sizes and offsets. A size is just
// an address minus zero.
package address

import (
	"math/bits"
	"unsafe"

	"golang.org/x/exp/constraints"
)

// Address is the method set every concrete address type exposes.
// A is the address type itself and V is the raw value type.
type Address[A any, V constraints.Unsigned] interface {
	Raw() V

	Mask(m V) A
	Or(m V) A

	CheckedAdd(delta V) (A, bool)
	OverflowingAdd(delta V) (A, bool)
	UncheckedAdd(delta V) A

	CheckedSub(delta V) (A, bool)
	OverflowingSub(delta V) (A, bool)
	UncheckedSub(delta V) A

	CheckedOffsetFrom(base A) (V, bool)
	UncheckedOffsetFrom(base A) V

	Compare(other A) int
}

func maxValue[V constraints.Unsigned]() uint64 {
	return uint64(^V(0))
}

func wide[V constraints.Unsigned]() bool {
	var v V
	return unsafe.Sizeof(v) == 8
}

// OverflowingAdd returns a+delta wrapped to the width of V and whether the
// addition overflowed.
func OverflowingAdd[V constraints.Unsigned](a, delta V) (V, bool) {
	sum, carry := bits.Add64(uint64(a), uint64(delta), 0)
	if wide[V]() {
		return V(sum), carry != 0
	}
	return V(sum), carry != 0 || sum > maxValue[V]()
}

// CheckedAdd returns a+delta, or false if the addition overflows.
func CheckedAdd[V constraints.Unsigned](a, delta V) (V, bool) {
	sum, overflow := OverflowingAdd(a, delta)
	if overflow {
		return 0, false
	}
	return sum, true
}

// UncheckedAdd returns a+delta. The caller guarantees it does not overflow.
func UncheckedAdd[V constraints.Unsigned](a, delta V) V {
	return a + delta
}

// OverflowingSub returns a-delta wrapped to the width of V and whether the
// subtraction underflowed.
func OverflowingSub[V constraints.Unsigned](a, delta V) (V, bool) {
	diff, borrow := bits.Sub64(uint64(a), uint64(delta), 0)
	return V(diff), borrow != 0
}

// CheckedSub returns a-delta, or false if the subtraction underflows.
func CheckedSub[V constraints.Unsigned](a, delta V) (V, bool) {
	diff, underflow := OverflowingSub(a, delta)
	if underflow {
		return 0, false
	}
	return diff, true
}

// UncheckedSub returns a-delta. The caller guarantees it does not underflow.
func UncheckedSub[V constraints.Unsigned](a, delta V) V {
	return a - delta
}

// CheckedOffsetFrom returns the distance from base to a, or false if a lies
// below base.
func CheckedOffsetFrom[V constraints.Unsigned](a, base V) (V, bool) {
	return CheckedSub(a, base)
}

// UncheckedOffsetFrom returns a-base. The caller guarantees base <= a.
func UncheckedOffsetFrom[V constraints.Unsigned](a, base V) V {
	return a - base
}

func Mask[V constraints.Unsigned](a, m V) V { return a & m }
func Or[V constraints.Unsigned](a, m V) V   { return a | m }

// Compare returns -1, 0 or +1.
func Compare[V constraints.Unsigned](a, b V) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// IsAligned reports whether a is a multiple of align. align must be a power of two.
func IsAligned[V constraints.Unsigned](a, align V) bool {
	return Mask(a, align-1) == 0
}
