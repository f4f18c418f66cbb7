// Package guestmem models a guest's physical memory as a set of
// non-overlapping regions and provides bounds-checked access across them.
//
// An AddressSpace maps an absolute GuestAddress to the MemoryRegion that owns
// it. TryAccess is the only code that understands walking across regions;
// everything in Accessor is built on top of it.
package guestmem

import (
	"errors"
	"io"

	"github.com/tinyrange/guestmem/pkg/access"
	"github.com/tinyrange/guestmem/pkg/volatile"
)

// AddressSpace is an ordered, non-overlapping collection of regions.
type AddressSpace interface {
	// NumRegions returns the number of regions.
	NumRegions() int
	// FindRegion returns the region containing addr. Holes and addresses past
	// the last region report false.
	FindRegion(addr GuestAddress) (MemoryRegion, bool)
	// WithRegions calls cb for every region in index order and stops at the
	// first error.
	WithRegions(cb func(index int, region MemoryRegion) error) error
}

// AccessFunc handles one region's share of an access.
//
// done is the number of bytes already handled, count the bytes available in
// this region, addr the region-relative start. It returns the number of bytes
// it handled; 0 ends the walk without an error.
type AccessFunc func(done int, count int, addr RegionAddress, region MemoryRegion) (int, error)

// TryAccess invokes f for each region covering [addr, addr+count).
//
// The walk stops at the first hole, when f returns 0, or when count bytes
// have been handled. It returns the number of bytes handled, which can be
// less than count. Handling no bytes at all is an *InvalidGuestAddressError.
func TryAccess(space AddressSpace, count int, addr GuestAddress, f AccessFunc) (int, error) {
	if count == 0 {
		if _, ok := space.FindRegion(addr); !ok {
			return 0, &InvalidGuestAddressError{Addr: addr}
		}
		return 0, nil
	}

	cur := addr
	total := 0

	for total < count {
		region, ok := space.FindRegion(cur)
		if !ok {
			// no region for this address
			break
		}

		start, err := region.ToRegionAddr(cur)
		if err != nil {
			return total, err
		}

		available := min(region.Len()-start.Raw(), uint64(count-total))

		n, err := f(total, int(available), start, region)
		if err != nil {
			return total, err
		}
		if n == 0 {
			// no more data
			break
		}

		next, ok := cur.CheckedAdd(uint64(n))
		if !ok {
			return total, &InvalidGuestAddressError{Addr: cur}
		}
		cur = next
		total += n
	}

	if total == 0 {
		return 0, &InvalidGuestAddressError{Addr: addr}
	}

	return total, nil
}

// Accessor implements the byte access contract for any AddressSpace.
type Accessor struct {
	space AddressSpace
}

// Access returns an Accessor for space.
func Access(space AddressSpace) Accessor {
	return Accessor{space: space}
}

// Write implements access.Bytes.
func (a Accessor) Write(buf []byte, addr GuestAddress) (int, error) {
	return TryAccess(a.space, len(buf), addr, func(done, _ int, regionAddr RegionAddress, region MemoryRegion) (int, error) {
		if done >= len(buf) {
			return 0, ErrInvalidBackendOffset
		}
		return region.Write(buf[done:], regionAddr)
	})
}

// Read implements access.Bytes.
func (a Accessor) Read(buf []byte, addr GuestAddress) (int, error) {
	return TryAccess(a.space, len(buf), addr, func(done, _ int, regionAddr RegionAddress, region MemoryRegion) (int, error) {
		if done >= len(buf) {
			return 0, ErrInvalidBackendOffset
		}
		return region.Read(buf[done:], regionAddr)
	})
}

// WriteSlice implements access.Bytes.
func (a Accessor) WriteSlice(buf []byte, addr GuestAddress) error {
	n, err := a.Write(buf, addr)
	if err != nil {
		return err
	}
	return access.CheckComplete(len(buf), n)
}

// ReadSlice implements access.Bytes.
func (a Accessor) ReadSlice(buf []byte, addr GuestAddress) error {
	n, err := a.Read(buf, addr)
	if err != nil {
		return err
	}
	return access.CheckComplete(len(buf), n)
}

func stagingBuffer(count int) []byte {
	return make([]byte, min(count, access.MaxAccessChunk))
}

// WriteFromStream implements access.Bytes.
//
// Regions backed by a volatile slice are filled straight from src. Other
// regions are written through a buffer of at most access.MaxAccessChunk bytes.
func (a Accessor) WriteFromStream(addr GuestAddress, src io.Reader, count int) error {
	var staging []byte

	n, err := TryAccess(a.space, count, addr, func(done, available int, regionAddr RegionAddress, region MemoryRegion) (int, error) {
		if done >= count {
			return 0, ErrInvalidBackendOffset
		}

		if vr, ok := region.(VolatileRegion); ok {
			dst, err := vr.VolatileSlice().GetSlice(regionAddr.Raw(), uint64(available))
			if err != nil {
				return 0, FromVolatile(err)
			}
			if err := dst.ReadExactFrom(src); err != nil {
				return 0, FromVolatile(streamError(err))
			}
			return available, nil
		}

		if staging == nil {
			staging = stagingBuffer(count)
		}
		buf := staging[:min(available, len(staging))]
		if _, err := io.ReadFull(src, buf); err != nil {
			return 0, access.WrapIO(err)
		}
		if err := region.WriteSlice(buf, regionAddr); err != nil {
			return 0, err
		}
		return len(buf), nil
	})
	if err != nil {
		return err
	}

	return access.CheckComplete(count, n)
}

// ReadIntoStream implements access.Bytes.
func (a Accessor) ReadIntoStream(addr GuestAddress, dst io.Writer, count int) error {
	var staging []byte

	n, err := TryAccess(a.space, count, addr, func(done, available int, regionAddr RegionAddress, region MemoryRegion) (int, error) {
		if done >= count {
			return 0, ErrInvalidBackendOffset
		}

		if vr, ok := region.(VolatileRegion); ok {
			src, err := vr.VolatileSlice().GetSlice(regionAddr.Raw(), uint64(available))
			if err != nil {
				return 0, FromVolatile(err)
			}
			if err := src.WriteAllTo(dst); err != nil {
				return 0, FromVolatile(streamError(err))
			}
			return available, nil
		}

		if staging == nil {
			staging = stagingBuffer(count)
		}
		buf := staging[:min(available, len(staging))]
		if err := region.ReadSlice(buf, regionAddr); err != nil {
			return 0, err
		}
		if err := writeAll(dst, buf); err != nil {
			return 0, access.WrapIO(err)
		}
		return len(buf), nil
	})
	if err != nil {
		return err
	}

	return access.CheckComplete(count, n)
}

// streamError keeps memory faults as they are so FromVolatile can classify
// them. Everything else failed in the stream.
func streamError(err error) error {
	var fault *volatile.FaultError
	if errors.As(err, &fault) {
		return err
	}
	return access.WrapIO(err)
}

func writeAll(w io.Writer, p []byte) error {
	n, err := w.Write(p)
	if err != nil {
		return err
	}
	if n != len(p) {
		return io.ErrShortWrite
	}
	return nil
}

var (
	_ access.Bytes[GuestAddress] = Accessor{}
)
