package guestmem

import (
	"fmt"
	"io"

	"github.com/tinyrange/guestmem/pkg/access"
	"github.com/tinyrange/guestmem/pkg/volatile"
)

// MemoryRegion is a contiguous extent of guest physical memory.
//
// Region bytes are addressed relative to the start of the region.
type MemoryRegion interface {
	access.Bytes[RegionAddress]

	// Len returns the size of the region in bytes.
	Len() uint64
	// MinAddr returns the first guest address covered by the region.
	MinAddr() GuestAddress
	// MaxAddr returns the first guest address past the region.
	MaxAddr() GuestAddress
	// ToRegionAddr converts an absolute guest address into an offset inside
	// the region, or returns an *InvalidGuestAddressError.
	ToRegionAddr(addr GuestAddress) (RegionAddress, error)
}

// VolatileRegion is implemented by regions whose whole backing storage is one
// volatile slice. Stream transfers copy straight between the slice and the
// stream. Regions that cannot offer it (for example a proxy to remote memory)
// simply don't implement it and callers fall back to chunked Read/Write.
type VolatileRegion interface {
	MemoryRegion
	VolatileSlice() volatile.Slice
}

// FlatRegion is implemented by regions that can hand out their whole backing
// storage as one byte slice.
//
// The slice aliases memory that other threads and the guest may change at any
// time, and touching a file mapping past the end of its file raises SIGBUS.
// Stream transfers go through VolatileRegion instead.
type FlatRegion interface {
	MemoryRegion
	UnsafeBytes() []byte
}

// Extent is the [base, base+size) interval of a region. It is validated once
// at construction so MaxAddr never overflows.
type Extent struct {
	base GuestAddress
	size uint64
}

// NewExtent returns the extent [base, base+size) or an
// *InvalidAddressRangeError if the end does not fit in a guest address.
func NewExtent(base GuestAddress, size uint64) (Extent, error) {
	if _, ok := base.CheckedAdd(size); !ok {
		return Extent{}, &InvalidAddressRangeError{Base: base, Size: size}
	}
	return Extent{base: base, size: size}, nil
}

func (e Extent) String() string {
	return fmt.Sprintf("%016X-%016X", e.MinAddr().Raw(), e.MaxAddr().Raw())
}

func (e Extent) Len() uint64 { return e.size }

func (e Extent) MinAddr() GuestAddress { return e.base }

func (e Extent) MaxAddr() GuestAddress {
	// The end was checked in NewExtent.
	return e.base.UncheckedAdd(e.size)
}

func (e Extent) Contains(addr GuestAddress) bool {
	return addr >= e.MinAddr() && addr < e.MaxAddr()
}

func (e Extent) ToRegionAddr(addr GuestAddress) (RegionAddress, error) {
	offset, ok := addr.CheckedOffsetFrom(e.base)
	if !ok || offset >= e.size {
		return 0, &InvalidGuestAddressError{Addr: addr}
	}
	return RegionAddress(offset), nil
}

// ValidateExtents checks that extents is non-empty, sorted and non-overlapping.
// Gaps between extents are allowed.
func ValidateExtents(extents []Extent) error {
	if len(extents) == 0 {
		return ErrNoRegions
	}

	for i := 1; i < len(extents); i++ {
		prev := extents[i-1]
		if extents[i].MinAddr() < prev.MaxAddr() {
			return &RegionOverlapError{Index: i, Start: extents[i].MinAddr(), PrevEnd: prev.MaxAddr()}
		}
	}

	return nil
}

// SliceRegion is a region whose storage is a volatile slice. Backends embed it
// to get the byte access contract for free.
type SliceRegion struct {
	Extent
	mem volatile.Slice
}

// NewSliceRegion returns a region at base backed by mem.
func NewSliceRegion(base GuestAddress, mem volatile.Slice) (SliceRegion, error) {
	extent, err := NewExtent(base, mem.Len())
	if err != nil {
		return SliceRegion{}, err
	}
	return SliceRegion{Extent: extent, mem: mem}, nil
}

// VolatileSlice returns the slice backing the region.
func (r SliceRegion) VolatileSlice() volatile.Slice { return r.mem }

// Write implements access.Bytes.
func (r SliceRegion) Write(buf []byte, addr RegionAddress) (int, error) {
	n, err := r.mem.Write(buf, addr.Raw())
	return n, FromVolatile(err)
}

// Read implements access.Bytes.
func (r SliceRegion) Read(buf []byte, addr RegionAddress) (int, error) {
	n, err := r.mem.Read(buf, addr.Raw())
	return n, FromVolatile(err)
}

// WriteSlice implements access.Bytes.
func (r SliceRegion) WriteSlice(buf []byte, addr RegionAddress) error {
	return FromVolatile(r.mem.WriteSlice(buf, addr.Raw()))
}

// ReadSlice implements access.Bytes.
func (r SliceRegion) ReadSlice(buf []byte, addr RegionAddress) error {
	return FromVolatile(r.mem.ReadSlice(buf, addr.Raw()))
}

// WriteFromStream implements access.Bytes.
func (r SliceRegion) WriteFromStream(addr RegionAddress, src io.Reader, count int) error {
	return FromVolatile(r.mem.WriteFromStream(addr.Raw(), src, count))
}

// ReadIntoStream implements access.Bytes.
func (r SliceRegion) ReadIntoStream(addr RegionAddress, dst io.Writer, count int) error {
	return FromVolatile(r.mem.ReadIntoStream(addr.Raw(), dst, count))
}

var (
	_ VolatileRegion = SliceRegion{}
)
