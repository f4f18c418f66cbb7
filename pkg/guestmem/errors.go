package guestmem

import (
	"errors"
	"fmt"

	"github.com/tinyrange/guestmem/pkg/volatile"
)

var (
	// ErrNoRegions is returned when an address space is built from an empty layout.
	ErrNoRegions = errors.New("no memory regions")
	// ErrInvalidBackendAddress is returned when a backend rejects an address
	// that the address space considered valid.
	ErrInvalidBackendAddress = errors.New("invalid backend address")
	// ErrInvalidBackendOffset is returned when a backend offset is out of range.
	ErrInvalidBackendOffset = errors.New("invalid backend offset")
	// ErrReadOnly is returned when writing to a region without a write path.
	ErrReadOnly = errors.New("region is read only")
)

// InvalidGuestAddressError is returned when an address is not covered by any region.
type InvalidGuestAddressError struct {
	Addr GuestAddress
}

func (e *InvalidGuestAddressError) Error() string {
	return fmt.Sprintf("invalid guest address %s", e.Addr)
}

// InvalidAddressRangeError is returned when base+size does not fit in a guest address.
type InvalidAddressRangeError struct {
	Base GuestAddress
	Size uint64
}

func (e *InvalidAddressRangeError) Error() string {
	return fmt.Sprintf("invalid address range %s+0x%x", e.Base, e.Size)
}

// RegionOverlapError is returned when a region starts before the previous one ends.
type RegionOverlapError struct {
	Index   int
	Start   GuestAddress
	PrevEnd GuestAddress
}

func (e *RegionOverlapError) Error() string {
	return fmt.Sprintf("memory region %d at %s overlaps the previous region ending at %s", e.Index, e.Start, e.PrevEnd)
}

// FromVolatile converts a volatile accessor error into the region layer's
// vocabulary. The volatile error stays in the chain.
func FromVolatile(err error) error {
	if err == nil {
		return nil
	}

	var (
		oob      *volatile.OutOfBoundsError
		overflow *volatile.OverflowError
		fault    *volatile.FaultError
	)
	switch {
	case errors.As(err, &oob), errors.As(err, &fault):
		return fmt.Errorf("%w: %w", ErrInvalidBackendAddress, err)
	case errors.As(err, &overflow):
		return fmt.Errorf("%w: %w", ErrInvalidBackendOffset, err)
	default:
		// access.PartialBufferError and access.IOError pass through.
		return err
	}
}

var (
	_ error = &InvalidGuestAddressError{}
	_ error = &InvalidAddressRangeError{}
	_ error = &RegionOverlapError{}
)
