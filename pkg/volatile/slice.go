package volatile

import (
	"errors"
	"io"
	"math"
	"unsafe"

	"gvisor.dev/gvisor/pkg/safemem"
)

// Slice is an unchecked span of volatile memory: a base pointer and a length.
//
// A Slice carries no ownership. The code that creates it guarantees the
// memory stays valid for as long as the slice is used, normally the lifetime
// of the owning mapping.
type Slice struct {
	ptr  unsafe.Pointer
	size uint64
	// safe is set for Go-heap backing that can never fault.
	safe bool
}

// New returns a slice over [ptr, ptr+size).
//
// The caller guarantees the range is mapped for the life of the slice and is
// only accessed through volatile primitives.
func New(ptr unsafe.Pointer, size uint64) Slice {
	if size > math.MaxInt {
		panic("volatile: slice larger than the host address space")
	}
	return Slice{ptr: ptr, size: size}
}

// FromBytes returns a slice over the backing array of b.
func FromBytes(b []byte) Slice {
	if len(b) == 0 {
		return Slice{safe: true}
	}
	return Slice{ptr: unsafe.Pointer(&b[0]), size: uint64(len(b)), safe: true}
}

// Len returns the length of the slice in bytes.
func (s Slice) Len() uint64 { return s.size }

// Pointer returns the base pointer of the slice.
func (s Slice) Pointer() unsafe.Pointer { return s.ptr }

func (s Slice) block() safemem.Block {
	if s.size == 0 {
		return safemem.Block{}
	}
	if s.safe {
		return safemem.BlockFromSafePointer(s.ptr, int(s.size))
	}
	return safemem.BlockFromUnsafePointer(s.ptr, int(s.size))
}

// Offset returns the slice starting n bytes in.
func (s Slice) Offset(n uint64) (Slice, error) {
	base := uint64(uintptr(s.ptr))
	newAddr, err := ComputeOffset(base, n)
	if err != nil {
		return Slice{}, err
	}
	if n > s.size {
		return Slice{}, &OutOfBoundsError{Addr: newAddr}
	}
	return Slice{ptr: unsafe.Add(s.ptr, n), size: s.size - n, safe: s.safe}, nil
}

// GetSlice implements Memory.
func (s Slice) GetSlice(offset, count uint64) (Slice, error) {
	if _, err := RegionEnd(s, offset, count); err != nil {
		return Slice{}, err
	}
	return Slice{ptr: unsafe.Add(s.ptr, offset), size: count, safe: s.safe}, nil
}

// CopyToVolatileSlice copies min(s.Len(), dst.Len()) bytes from s to dst and
// returns the number of bytes copied. The copy order is unspecified when the
// two slices overlap.
func (s Slice) CopyToVolatileSlice(dst Slice) (int, error) {
	n, err := safemem.Copy(dst.block(), s.block())
	return n, asFault(err)
}

// WriteTo performs a single write of the whole slice to w.
func (s Slice) WriteTo(w io.Writer) (int64, error) {
	n, err := safemem.FromIOWriter{Writer: w}.WriteFromBlocks(safemem.BlockSeqOf(s.block()))
	return int64(n), asFault(err)
}

// WriteAllTo writes the whole slice to w.
func (s Slice) WriteAllTo(w io.Writer) error {
	n, err := safemem.WriteFullFromBlocks(safemem.FromIOWriter{Writer: w}.WriteFromBlocks, safemem.BlockSeqOf(s.block()))
	if err != nil {
		return asFault(err)
	}
	if n != s.size {
		return io.ErrShortWrite
	}
	return nil
}

// ReadFrom performs a single read from r into the slice.
func (s Slice) ReadFrom(r io.Reader) (int64, error) {
	n, err := safemem.FromIOReader{Reader: r}.ReadToBlocks(safemem.BlockSeqOf(s.block()))
	return int64(n), asFault(err)
}

// ReadExactFrom fills the whole slice from r. A source that ends early yields
// io.ErrUnexpectedEOF, or io.EOF if it produced nothing.
func (s Slice) ReadExactFrom(r io.Reader) error {
	n, err := safemem.ReadFullToBlocks(safemem.FromIOReader{Reader: r}.ReadToBlocks, safemem.BlockSeqOf(s.block()))
	if n == s.size {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		if n == 0 {
			return io.EOF
		}
		return io.ErrUnexpectedEOF
	}
	return asFault(err)
}

var (
	_ Memory = Slice{}
)
