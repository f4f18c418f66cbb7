package volatile

import (
	"errors"
	"io"

	"github.com/tinyrange/guestmem/pkg/access"
	"gvisor.dev/gvisor/pkg/safemem"
)

// Guest memory can't strictly be modelled as a Go slice because it is
// volatile. Bulk copies go through safemem, which is as fast as a memmove
// and never assumes exclusive access.

// copyError reports a fault as itself and anything else as an I/O failure.
func copyError(err error) error {
	var fault *FaultError
	if errors.As(err, &fault) {
		return fault
	}
	return access.WrapIO(err)
}

// Write implements access.Bytes.
func (s Slice) Write(buf []byte, addr uint64) (int, error) {
	if addr >= s.size {
		return 0, &OutOfBoundsError{Addr: addr}
	}
	dst, _ := s.Offset(addr)

	n, err := safemem.Copy(dst.block(), safemem.BlockFromSafeSlice(buf))
	return n, copyError(asFault(err))
}

// Read implements access.Bytes.
func (s Slice) Read(buf []byte, addr uint64) (int, error) {
	if addr >= s.size {
		return 0, &OutOfBoundsError{Addr: addr}
	}
	src, _ := s.Offset(addr)

	n, err := safemem.Copy(safemem.BlockFromSafeSlice(buf), src.block())
	return n, copyError(asFault(err))
}

// WriteSlice implements access.Bytes.
func (s Slice) WriteSlice(buf []byte, addr uint64) error {
	n, err := s.Write(buf, addr)
	if err != nil {
		return err
	}
	return access.CheckComplete(len(buf), n)
}

// ReadSlice implements access.Bytes.
func (s Slice) ReadSlice(buf []byte, addr uint64) error {
	n, err := s.Read(buf, addr)
	if err != nil {
		return err
	}
	return access.CheckComplete(len(buf), n)
}

// WriteFromStream implements access.Bytes.
func (s Slice) WriteFromStream(addr uint64, src io.Reader, count int) error {
	dst, err := s.GetSlice(addr, uint64(count))
	if err != nil {
		return err
	}
	return copyError(dst.ReadExactFrom(src))
}

// ReadIntoStream implements access.Bytes.
func (s Slice) ReadIntoStream(addr uint64, dst io.Writer, count int) error {
	src, err := s.GetSlice(addr, uint64(count))
	if err != nil {
		return err
	}
	return copyError(src.WriteAllTo(dst))
}

var (
	_ access.Bytes[uint64] = Slice{}
)
