package guestmem

import (
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/tinyrange/guestmem/pkg/access"
	"github.com/tinyrange/guestmem/pkg/volatile"
)

// ProxyRegion is a region whose bytes live behind an io.ReaderAt, for example
// a file or a connection to memory owned by another process.
//
// It has no flat view, so streams through it are staged in chunks. Reads past
// the end of the backing data return zeros.
type ProxyRegion struct {
	Extent
	r io.ReaderAt
	// w is nil for read-only regions.
	w io.WriterAt
}

func (p *ProxyRegion) String() string {
	return fmt.Sprintf("ProxyRegion{%s, reader=%T}", p.Extent, p.r)
}

// NewProxyRegion returns a region at base that forwards accesses to r and w.
// w may be nil.
func NewProxyRegion(base GuestAddress, size uint64, r io.ReaderAt, w io.WriterAt) (*ProxyRegion, error) {
	extent, err := NewExtent(base, size)
	if err != nil {
		return nil, err
	}

	return &ProxyRegion{Extent: extent, r: r, w: w}, nil
}

type File interface {
	io.ReaderAt
	Stat() (fs.FileInfo, error)
}

// NewFileRegion exposes the whole of f at base. The region is writable if f
// implements io.WriterAt.
func NewFileRegion(base GuestAddress, f File) (*ProxyRegion, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	w, _ := f.(io.WriterAt)

	return NewProxyRegion(base, uint64(info.Size()), f, w)
}

// span returns how many of want bytes fit at addr.
func (p *ProxyRegion) span(addr RegionAddress, want int) (int, error) {
	if addr.Raw() >= p.Len() {
		return 0, FromVolatile(&volatile.OutOfBoundsError{Addr: addr.Raw()})
	}
	return int(min(uint64(want), p.Len()-addr.Raw())), nil
}

// Write implements access.Bytes.
func (p *ProxyRegion) Write(buf []byte, addr RegionAddress) (int, error) {
	n, err := p.span(addr, len(buf))
	if err != nil {
		return 0, err
	}
	if p.w == nil {
		return 0, ErrReadOnly
	}

	written, err := p.w.WriteAt(buf[:n], int64(addr))
	return written, access.WrapIO(err)
}

// Read implements access.Bytes.
func (p *ProxyRegion) Read(buf []byte, addr RegionAddress) (int, error) {
	n, err := p.span(addr, len(buf))
	if err != nil {
		return 0, err
	}

	read, err := p.r.ReadAt(buf[:n], int64(addr))
	if err != nil && !errors.Is(err, io.EOF) {
		return read, access.WrapIO(err)
	}

	// Pad anything the backing data didn't cover.
	clear(buf[read:n])

	return n, nil
}

// WriteSlice implements access.Bytes.
func (p *ProxyRegion) WriteSlice(buf []byte, addr RegionAddress) error {
	n, err := p.Write(buf, addr)
	if err != nil {
		return err
	}
	return access.CheckComplete(len(buf), n)
}

// ReadSlice implements access.Bytes.
func (p *ProxyRegion) ReadSlice(buf []byte, addr RegionAddress) error {
	n, err := p.Read(buf, addr)
	if err != nil {
		return err
	}
	return access.CheckComplete(len(buf), n)
}

func (p *ProxyRegion) checkRange(addr RegionAddress, count int) error {
	_, err := volatile.ComputeOffset(addr.Raw(), uint64(count))
	if err != nil {
		return FromVolatile(err)
	}
	if end := addr.Raw() + uint64(count); end > p.Len() {
		return FromVolatile(&volatile.OutOfBoundsError{Addr: end})
	}
	return nil
}

// WriteFromStream implements access.Bytes.
func (p *ProxyRegion) WriteFromStream(addr RegionAddress, src io.Reader, count int) error {
	if err := p.checkRange(addr, count); err != nil {
		return err
	}

	buf := make([]byte, min(count, access.MaxAccessChunk))
	for count > 0 {
		chunk := buf[:min(count, len(buf))]
		if _, err := io.ReadFull(src, chunk); err != nil {
			return access.WrapIO(err)
		}
		if err := p.WriteSlice(chunk, addr); err != nil {
			return err
		}
		addr = addr.UncheckedAdd(uint64(len(chunk)))
		count -= len(chunk)
	}

	return nil
}

// ReadIntoStream implements access.Bytes.
func (p *ProxyRegion) ReadIntoStream(addr RegionAddress, dst io.Writer, count int) error {
	if err := p.checkRange(addr, count); err != nil {
		return err
	}

	buf := make([]byte, min(count, access.MaxAccessChunk))
	for count > 0 {
		chunk := buf[:min(count, len(buf))]
		if err := p.ReadSlice(chunk, addr); err != nil {
			return err
		}
		if err := writeAll(dst, chunk); err != nil {
			return access.WrapIO(err)
		}
		addr = addr.UncheckedAdd(uint64(len(chunk)))
		count -= len(chunk)
	}

	return nil
}

var (
	_ MemoryRegion = &ProxyRegion{}
)
