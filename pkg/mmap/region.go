package mmap

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"unsafe"

	"github.com/tinyrange/guestmem/pkg/volatile"
)

// FileHandle is an open file that can be mapped. *os.File implements it.
type FileHandle interface {
	Fd() uintptr
}

// mapping is the single host mapping shared by every handle of a MappedRegion.
type mapping struct {
	platform Platform
	mem      []byte
	refs     atomic.Int64
}

// acquire takes another reference unless the count already dropped to zero.
func acquire(refs *atomic.Int64) bool {
	for {
		n := refs.Load()
		if n <= 0 {
			return false
		}
		if refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (m *mapping) release() error {
	if m.refs.Add(-1) != 0 {
		return nil
	}

	slog.Debug("unmapping memory", "size", len(m.mem))

	if err := m.platform.Unmap(m.mem); err != nil {
		return fmt.Errorf("unmap %d bytes: %w", len(m.mem), err)
	}

	return nil
}

// MappedRegion is a handle to a host memory mapping.
//
// Handles are reference counted. Clone returns another handle to the same
// mapping and the mapping is released when the last handle is closed.
// Volatile slices taken from a region must not be used after that.
type MappedRegion struct {
	m      *mapping
	closed atomic.Bool
}

func newMappedRegion(platform Platform, mem []byte) *MappedRegion {
	m := &mapping{platform: platform, mem: mem}
	m.refs.Store(1)
	return &MappedRegion{m: m}
}

// NewMappedRegion maps size bytes of zeroed anonymous memory.
func NewMappedRegion(size int) (*MappedRegion, error) {
	return NewMappedRegionWithPlatform(DefaultPlatform, size)
}

// NewMappedRegionWithPlatform is NewMappedRegion using platform.
func NewMappedRegionWithPlatform(platform Platform, size int) (*MappedRegion, error) {
	mem, err := platform.MapAnonymous(size)
	if err != nil {
		return nil, fmt.Errorf("map %d anonymous bytes: %w", size, err)
	}

	slog.Debug("mapped anonymous memory", "size", size)

	return newMappedRegion(platform, mem), nil
}

// NewMappedRegionFromFile maps size bytes of f starting at offset. Writes
// through the region reach the file.
func NewMappedRegionFromFile(f FileHandle, size int, offset int64) (*MappedRegion, error) {
	return NewMappedRegionFromFileWithPlatform(DefaultPlatform, f, size, offset)
}

// NewMappedRegionFromFileWithPlatform is NewMappedRegionFromFile using platform.
func NewMappedRegionFromFileWithPlatform(platform Platform, f FileHandle, size int, offset int64) (*MappedRegion, error) {
	mem, err := platform.MapFile(f.Fd(), size, offset)
	if err != nil {
		return nil, fmt.Errorf("map %d bytes of file at offset %d: %w", size, offset, err)
	}

	slog.Debug("mapped file", "size", size, "offset", offset)

	return newMappedRegion(platform, mem), nil
}

// Len implements volatile.Memory.
func (r *MappedRegion) Len() uint64 { return uint64(len(r.m.mem)) }

// GetSlice implements volatile.Memory.
func (r *MappedRegion) GetSlice(offset, count uint64) (volatile.Slice, error) {
	if _, err := volatile.RegionEnd(r, offset, count); err != nil {
		return volatile.Slice{}, err
	}

	base := unsafe.Pointer(unsafe.SliceData(r.m.mem))

	return volatile.New(unsafe.Add(base, offset), count), nil
}

// AsVolatileSlice returns a slice over the whole mapping.
func (r *MappedRegion) AsVolatileSlice() volatile.Slice {
	return volatile.AsVolatileSlice(r)
}

// UnsafeBytes returns the mapping as an ordinary byte slice. The bytes can
// change underneath the caller at any time.
func (r *MappedRegion) UnsafeBytes() []byte { return r.m.mem }

// Clone returns a new handle to the same mapping. Cloning a closed handle
// fails with ErrClosed.
func (r *MappedRegion) Clone() (*MappedRegion, error) {
	if r.closed.Load() || !acquire(&r.m.refs) {
		return nil, ErrClosed
	}
	return &MappedRegion{m: r.m}, nil
}

// Close drops this handle. Closing a handle twice does nothing.
func (r *MappedRegion) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.m.release()
}

var (
	_ volatile.Memory = &MappedRegion{}
)
