package guestmem

import (
	"fmt"

	"github.com/tinyrange/guestmem/pkg/address"
)

// GuestAddress is a guest physical address (GPA).
//
// A 64-bit raw value is used regardless of the guest's word size.
type GuestAddress uint64

func (a GuestAddress) String() string { return fmt.Sprintf("0x%x", uint64(a)) }

func (a GuestAddress) Raw() uint64 { return uint64(a) }

func (a GuestAddress) Mask(m uint64) GuestAddress { return GuestAddress(address.Mask(uint64(a), m)) }
func (a GuestAddress) Or(m uint64) GuestAddress   { return GuestAddress(address.Or(uint64(a), m)) }

func (a GuestAddress) CheckedAdd(delta uint64) (GuestAddress, bool) {
	v, ok := address.CheckedAdd(uint64(a), delta)
	return GuestAddress(v), ok
}

func (a GuestAddress) OverflowingAdd(delta uint64) (GuestAddress, bool) {
	v, overflow := address.OverflowingAdd(uint64(a), delta)
	return GuestAddress(v), overflow
}

// UncheckedAdd returns a+delta. Only use it when the sum is known to fit.
func (a GuestAddress) UncheckedAdd(delta uint64) GuestAddress {
	return GuestAddress(address.UncheckedAdd(uint64(a), delta))
}

func (a GuestAddress) CheckedSub(delta uint64) (GuestAddress, bool) {
	v, ok := address.CheckedSub(uint64(a), delta)
	return GuestAddress(v), ok
}

func (a GuestAddress) OverflowingSub(delta uint64) (GuestAddress, bool) {
	v, underflow := address.OverflowingSub(uint64(a), delta)
	return GuestAddress(v), underflow
}

// UncheckedSub returns a-delta. Only use it when delta <= a.
func (a GuestAddress) UncheckedSub(delta uint64) GuestAddress {
	return GuestAddress(address.UncheckedSub(uint64(a), delta))
}

// CheckedOffsetFrom returns a-base, or false when a is below base.
func (a GuestAddress) CheckedOffsetFrom(base GuestAddress) (uint64, bool) {
	return address.CheckedOffsetFrom(uint64(a), uint64(base))
}

func (a GuestAddress) UncheckedOffsetFrom(base GuestAddress) uint64 {
	return address.UncheckedOffsetFrom(uint64(a), uint64(base))
}

func (a GuestAddress) Compare(other GuestAddress) int {
	return address.Compare(uint64(a), uint64(other))
}

// RegionAddress is an offset inside a single memory region.
type RegionAddress uint64

func (a RegionAddress) String() string { return fmt.Sprintf("0x%x", uint64(a)) }

func (a RegionAddress) Raw() uint64 { return uint64(a) }

func (a RegionAddress) Mask(m uint64) RegionAddress { return RegionAddress(address.Mask(uint64(a), m)) }
func (a RegionAddress) Or(m uint64) RegionAddress   { return RegionAddress(address.Or(uint64(a), m)) }

func (a RegionAddress) CheckedAdd(delta uint64) (RegionAddress, bool) {
	v, ok := address.CheckedAdd(uint64(a), delta)
	return RegionAddress(v), ok
}

func (a RegionAddress) OverflowingAdd(delta uint64) (RegionAddress, bool) {
	v, overflow := address.OverflowingAdd(uint64(a), delta)
	return RegionAddress(v), overflow
}

func (a RegionAddress) UncheckedAdd(delta uint64) RegionAddress {
	return RegionAddress(address.UncheckedAdd(uint64(a), delta))
}

func (a RegionAddress) CheckedSub(delta uint64) (RegionAddress, bool) {
	v, ok := address.CheckedSub(uint64(a), delta)
	return RegionAddress(v), ok
}

func (a RegionAddress) OverflowingSub(delta uint64) (RegionAddress, bool) {
	v, underflow := address.OverflowingSub(uint64(a), delta)
	return RegionAddress(v), underflow
}

func (a RegionAddress) UncheckedSub(delta uint64) RegionAddress {
	return RegionAddress(address.UncheckedSub(uint64(a), delta))
}

func (a RegionAddress) CheckedOffsetFrom(base RegionAddress) (uint64, bool) {
	return address.CheckedOffsetFrom(uint64(a), uint64(base))
}

func (a RegionAddress) UncheckedOffsetFrom(base RegionAddress) uint64 {
	return address.UncheckedOffsetFrom(uint64(a), uint64(base))
}

func (a RegionAddress) Compare(other RegionAddress) int {
	return address.Compare(uint64(a), uint64(other))
}

var (
	_ address.Address[GuestAddress, uint64]  = GuestAddress(0)
	_ address.Address[RegionAddress, uint64] = RegionAddress(0)
)
