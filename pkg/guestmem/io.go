package guestmem

import (
	"errors"
	"fmt"
	"io"
)

type spaceReaderAt struct {
	acc Accessor
}

// ReadAt implements io.ReaderAt.
func (r spaceReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("off < 0")
	}

	n, err := r.acc.Read(p, GuestAddress(off))
	if err != nil {
		var invalid *InvalidGuestAddressError
		if errors.As(err, &invalid) {
			// Holes end the readable stream.
			return 0, io.EOF
		}
		return n, err
	}

	if n < len(p) {
		return n, io.EOF
	}

	return n, nil
}

type spaceWriterAt struct {
	acc Accessor
}

// WriteAt implements io.WriterAt.
func (w spaceWriterAt) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("off < 0")
	}

	n, err := w.acc.Write(p, GuestAddress(off))
	if err != nil {
		return n, err
	}

	if n < len(p) {
		return n, fmt.Errorf("write to unmapped memory at %s: %w", GuestAddress(off).UncheckedAdd(uint64(n)), io.ErrShortWrite)
	}

	return n, nil
}

// ReaderAt exposes space as an io.ReaderAt addressed by guest address. A read
// that runs into a hole stops there and returns io.EOF.
func ReaderAt(space AddressSpace) io.ReaderAt {
	return spaceReaderAt{acc: Access(space)}
}

// WriterAt exposes space as an io.WriterAt addressed by guest address.
func WriterAt(space AddressSpace) io.WriterAt {
	return spaceWriterAt{acc: Access(space)}
}

func regionToString(region MemoryRegion) string {
	switch region := region.(type) {
	case fmt.Stringer:
		return region.String()
	default:
		return fmt.Sprintf("%T", region)
	}
}

// DumpMap writes one line per region of space to out.
func DumpMap(space AddressSpace, out io.Writer) error {
	return space.WithRegions(func(index int, region MemoryRegion) error {
		if _, err := fmt.Fprintf(out, "%3d %016X-%016X %10d %s\n",
			index,
			region.MinAddr().Raw(),
			region.MaxAddr().Raw(),
			region.Len(),
			regionToString(region),
		); err != nil {
			return err
		}
		return nil
	})
}

var (
	_ io.ReaderAt = spaceReaderAt{}
	_ io.WriterAt = spaceWriterAt{}
)
