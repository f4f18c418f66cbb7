package mmap

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/tinyrange/guestmem/pkg/access"
	"github.com/tinyrange/guestmem/pkg/guestmem"
	"github.com/tinyrange/guestmem/pkg/volatile"
)

// MappedMemoryRegion is a MappedRegion placed at a guest address.
type MappedMemoryRegion struct {
	guestmem.SliceRegion
	mapping *MappedRegion
}

// NewMappedMemoryRegion places mapping at base. The region takes over the
// caller's handle.
func NewMappedMemoryRegion(base guestmem.GuestAddress, mapping *MappedRegion) (*MappedMemoryRegion, error) {
	region, err := guestmem.NewSliceRegion(base, mapping.AsVolatileSlice())
	if err != nil {
		return nil, err
	}

	return &MappedMemoryRegion{SliceRegion: region, mapping: mapping}, nil
}

func (r *MappedMemoryRegion) String() string {
	return fmt.Sprintf("MappedMemoryRegion{%s}", r.Extent)
}

// MappedRegion returns the mapping behind the region.
func (r *MappedMemoryRegion) MappedRegion() *MappedRegion { return r.mapping }

// UnsafeBytes implements guestmem.FlatRegion.
func (r *MappedMemoryRegion) UnsafeBytes() []byte { return r.mapping.UnsafeBytes() }

// Close releases the region's handle on its mapping.
func (r *MappedMemoryRegion) Close() error { return r.mapping.Close() }

// Range describes one region of a MappedAddressSpace.
type Range struct {
	Base guestmem.GuestAddress
	Size uint64
	// File backs the region when set. Otherwise the region is anonymous memory.
	File       FileHandle
	FileOffset int64
}

type regionSet struct {
	regions []*MappedMemoryRegion
	refs    atomic.Int64
}

func (s *regionSet) release() error {
	if s.refs.Add(-1) != 0 {
		return nil
	}

	slog.Debug("releasing address space", "regions", len(s.regions))

	var err error
	for _, region := range s.regions {
		err = errors.Join(err, region.Close())
	}
	return err
}

// MappedAddressSpace is an address space made of host mappings.
//
// The region list is frozen after New so lookups and accesses can run
// concurrently without locks. Clone shares the list with another owner and
// the mappings are released when the last owner calls Close.
type MappedAddressSpace struct {
	set    *regionSet
	closed atomic.Bool
}

// New maps every range and returns the resulting address space.
//
// ranges must be sorted by base. A range that starts before the end of the
// previous one is a *guestmem.RegionOverlapError.
func New(ranges []Range) (*MappedAddressSpace, error) {
	return NewWithPlatform(DefaultPlatform, ranges)
}

// NewWithPlatform is New using platform for every mapping.
func NewWithPlatform(platform Platform, ranges []Range) (*MappedAddressSpace, error) {
	if len(ranges) == 0 {
		return nil, guestmem.ErrNoRegions
	}

	regions := make([]*MappedMemoryRegion, 0, len(ranges))

	fail := func(err error) (*MappedAddressSpace, error) {
		for _, region := range regions {
			err = errors.Join(err, region.Close())
		}
		return nil, err
	}

	var prevEnd guestmem.GuestAddress
	for i, rng := range ranges {
		extent, err := guestmem.NewExtent(rng.Base, rng.Size)
		if err != nil {
			return fail(err)
		}
		if i > 0 && rng.Base < prevEnd {
			return fail(&guestmem.RegionOverlapError{Index: i, Start: rng.Base, PrevEnd: prevEnd})
		}
		prevEnd = extent.MaxAddr()

		if rng.Size > math.MaxInt {
			return fail(&guestmem.InvalidAddressRangeError{Base: rng.Base, Size: rng.Size})
		}

		var mapping *MappedRegion
		if rng.File != nil {
			mapping, err = NewMappedRegionFromFileWithPlatform(platform, rng.File, int(rng.Size), rng.FileOffset)
		} else {
			mapping, err = NewMappedRegionWithPlatform(platform, int(rng.Size))
		}
		if err != nil {
			return fail(fmt.Errorf("region %d at %s: %w", i, rng.Base, err))
		}

		region, err := NewMappedMemoryRegion(rng.Base, mapping)
		if err != nil {
			return fail(errors.Join(err, mapping.Close()))
		}

		regions = append(regions, region)
	}

	slog.Debug("created address space", "regions", len(regions), "end", prevEnd)

	set := &regionSet{regions: regions}
	set.refs.Store(1)

	return &MappedAddressSpace{set: set}, nil
}

// Clone returns another owner of the same regions. Cloning a closed space
// fails with ErrClosed.
func (s *MappedAddressSpace) Clone() (*MappedAddressSpace, error) {
	if s.closed.Load() || !acquire(&s.set.refs) {
		return nil, ErrClosed
	}
	return &MappedAddressSpace{set: s.set}, nil
}

// Close drops this owner. Closing twice does nothing.
func (s *MappedAddressSpace) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.set.release()
}

// NumRegions implements guestmem.AddressSpace.
func (s *MappedAddressSpace) NumRegions() int { return len(s.set.regions) }

// FindRegion implements guestmem.AddressSpace.
func (s *MappedAddressSpace) FindRegion(addr guestmem.GuestAddress) (guestmem.MemoryRegion, bool) {
	region, ok := s.findMapped(addr)
	if !ok {
		return nil, false
	}
	return region, true
}

func (s *MappedAddressSpace) findMapped(addr guestmem.GuestAddress) (*MappedMemoryRegion, bool) {
	for _, region := range s.set.regions {
		if region.Contains(addr) {
			return region, true
		}
	}
	return nil, false
}

// WithRegions implements guestmem.AddressSpace.
func (s *MappedAddressSpace) WithRegions(cb func(index int, region guestmem.MemoryRegion) error) error {
	for i, region := range s.set.regions {
		if err := cb(i, region); err != nil {
			return err
		}
	}
	return nil
}

// WithRegionsMut is WithRegions with access to the concrete mapped regions.
func (s *MappedAddressSpace) WithRegionsMut(cb func(index int, region *MappedMemoryRegion) error) error {
	for i, region := range s.set.regions {
		if err := cb(i, region); err != nil {
			return err
		}
	}
	return nil
}

// GetHostAddress returns a volatile slice from addr to the end of the region
// containing it.
func (s *MappedAddressSpace) GetHostAddress(addr guestmem.GuestAddress) (volatile.Slice, error) {
	region, ok := s.findMapped(addr)
	if !ok {
		return volatile.Slice{}, &guestmem.InvalidGuestAddressError{Addr: addr}
	}

	offset, err := region.ToRegionAddr(addr)
	if err != nil {
		return volatile.Slice{}, err
	}

	slice, err := region.mapping.GetSlice(offset.Raw(), region.Len()-offset.Raw())
	return slice, guestmem.FromVolatile(err)
}

// Write implements access.Bytes.
func (s *MappedAddressSpace) Write(buf []byte, addr guestmem.GuestAddress) (int, error) {
	return guestmem.Access(s).Write(buf, addr)
}

// Read implements access.Bytes.
func (s *MappedAddressSpace) Read(buf []byte, addr guestmem.GuestAddress) (int, error) {
	return guestmem.Access(s).Read(buf, addr)
}

// WriteSlice implements access.Bytes.
func (s *MappedAddressSpace) WriteSlice(buf []byte, addr guestmem.GuestAddress) error {
	return guestmem.Access(s).WriteSlice(buf, addr)
}

// ReadSlice implements access.Bytes.
func (s *MappedAddressSpace) ReadSlice(buf []byte, addr guestmem.GuestAddress) error {
	return guestmem.Access(s).ReadSlice(buf, addr)
}

// WriteFromStream implements access.Bytes.
func (s *MappedAddressSpace) WriteFromStream(addr guestmem.GuestAddress, src io.Reader, count int) error {
	return guestmem.Access(s).WriteFromStream(addr, src, count)
}

// ReadIntoStream implements access.Bytes.
func (s *MappedAddressSpace) ReadIntoStream(addr guestmem.GuestAddress, dst io.Writer, count int) error {
	return guestmem.Access(s).ReadIntoStream(addr, dst, count)
}

var (
	_ guestmem.FlatRegion                 = &MappedMemoryRegion{}
	_ guestmem.VolatileRegion             = &MappedMemoryRegion{}
	_ guestmem.AddressSpace               = &MappedAddressSpace{}
	_ access.Bytes[guestmem.GuestAddress] = &MappedAddressSpace{}
)
