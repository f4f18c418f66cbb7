// Package volatile provides access to memory that can change outside the
// control of the accessor.
//
// Guest memory is shared with the guest, device backends and other threads.
// Two rules keep access sound:
//
//  1. No ordinary Go slice or pointer to volatile memory escapes this package
//     (except through explicitly unsafe accessors).
//  2. Every access goes through an explicit primitive: sync/atomic for aligned
//     4 and 8 byte cells, safemem copies for everything else. Neither can be
//     elided or merged by the compiler.
//
// Spans are gvisor safemem blocks, so a fault on a file-backed mapping (for
// example reading past the end of a truncated file) is reported as an error
// instead of killing the process.
package volatile

import (
	"fmt"

	"github.com/tinyrange/guestmem/pkg/address"
	"gvisor.dev/gvisor/pkg/safecopy"
)

// OutOfBoundsError is returned when an access ends past the extent it is made against.
type OutOfBoundsError struct {
	Addr uint64
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("address 0x%x is out of bounds", e.Addr)
}

// OverflowError is returned when base+offset does not fit in 64 bits.
type OverflowError struct {
	Base   uint64
	Offset uint64
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("address 0x%x offset by 0x%x would overflow", e.Base, e.Offset)
}

// FaultError is returned when the memory behind a slice faulted during a
// copy, for example a file mapping read past the end of its file.
type FaultError struct {
	// Addr is the host address that faulted.
	Addr uintptr
	Err  error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("memory fault at host address %#x: %v", e.Addr, e.Err)
}

func (e *FaultError) Unwrap() error { return e.Err }

// asFault turns a safecopy signal error into a *FaultError. Other errors are
// returned unchanged.
func asFault(err error) error {
	switch e := err.(type) {
	case safecopy.BusError:
		return &FaultError{Addr: e.Addr, Err: e}
	case safecopy.SegvError:
		return &FaultError{Addr: e.Addr, Err: e}
	default:
		return err
	}
}

var (
	_ error = &OutOfBoundsError{}
	_ error = &OverflowError{}
	_ error = &FaultError{}
)

// Memory is an extent that can hand out volatile slices of itself.
type Memory interface {
	// Len returns the size of the extent in bytes.
	Len() uint64
	// GetSlice returns the subslice [offset, offset+count). It only computes
	// coordinates and never touches memory.
	GetSlice(offset, count uint64) (Slice, error)
}

// ComputeOffset returns base+offset or an *OverflowError.
func ComputeOffset(base, offset uint64) (uint64, error) {
	end, ok := address.CheckedAdd(base, offset)
	if !ok {
		return 0, &OverflowError{Base: base, Offset: offset}
	}
	return end, nil
}

// RegionEnd checks that [base, base+count) lies inside m and returns base+count.
func RegionEnd(m Memory, base, count uint64) (uint64, error) {
	end, err := ComputeOffset(base, count)
	if err != nil {
		return 0, err
	}
	if end > m.Len() {
		return 0, &OutOfBoundsError{Addr: end}
	}
	return end, nil
}

// AsVolatileSlice returns a slice covering all of m.
func AsVolatileSlice(m Memory) Slice {
	s, err := m.GetSlice(0, m.Len())
	if err != nil {
		// GetSlice(0, Len()) is always in bounds for a correct Memory.
		panic(fmt.Sprintf("volatile: GetSlice(0, %d): %v", m.Len(), err))
	}
	return s
}
