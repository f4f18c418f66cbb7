// Package access defines the byte access contract shared by volatile slices,
// single memory regions and whole address spaces.
package access

import (
	"fmt"
	"io"
	"unsafe"
)

// MaxAccessChunk caps the staging buffer used when a region cannot expose its
// storage directly to a stream.
const MaxAccessChunk = 4096

// Bytes is a container of bytes addressed by A.
//
// Implementations include volatile slices (addressed by byte offset),
// memory regions (addressed by region offset) and address spaces (addressed
// by guest address).
type Bytes[A any] interface {
	// Write copies buf to addr and returns the number of bytes written. It can
	// be less than len(buf) if there isn't enough room.
	Write(buf []byte, addr A) (int, error)
	// Read fills buf from addr and returns the number of bytes read. It can be
	// less than len(buf) if there isn't enough room.
	Read(buf []byte, addr A) (int, error)

	// WriteSlice writes all of buf or returns a *PartialBufferError. Part of
	// buf may have been written nevertheless.
	WriteSlice(buf []byte, addr A) error
	// ReadSlice fills all of buf or returns a *PartialBufferError.
	ReadSlice(buf []byte, addr A) error

	// WriteFromStream reads exactly count bytes from src and stores them at addr.
	WriteFromStream(addr A, src io.Reader, count int) error
	// ReadIntoStream writes exactly count bytes starting at addr to dst.
	ReadIntoStream(addr A, dst io.Writer, count int) error
}

// DataInit is satisfied by types for which every bit pattern of the right
// size is a valid value and which own no resources.
type DataInit interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uint | ~uintptr |
		~int8 | ~int16 | ~int32 | ~int64 | ~int
}

// SizeOf returns the size in bytes of T.
func SizeOf[T DataInit]() int {
	var v T
	return int(unsafe.Sizeof(v))
}

// AsBytes returns the raw representation of *v. The returned slice aliases v.
func AsBytes[T DataInit](v *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), unsafe.Sizeof(*v))
}

// WriteObj stores v at addr using its raw byte representation. It fails if v
// does not fit entirely.
func WriteObj[T DataInit, A any](b Bytes[A], v T, addr A) error {
	return b.WriteSlice(AsBytes(&v), addr)
}

// ReadObj loads a T from addr. It fails if T does not fit entirely.
func ReadObj[T DataInit, A any](b Bytes[A], addr A) (T, error) {
	var v T
	if err := b.ReadSlice(AsBytes(&v), addr); err != nil {
		return v, err
	}
	return v, nil
}

// CheckComplete turns a short transfer into a *PartialBufferError.
func CheckComplete(expected, completed int) error {
	if completed != expected {
		return &PartialBufferError{Expected: expected, Completed: completed}
	}
	return nil
}

// PartialBufferError reports an all-or-nothing operation that only moved a
// prefix of the requested bytes.
type PartialBufferError struct {
	Expected  int
	Completed int
}

func (e *PartialBufferError) Error() string {
	return fmt.Sprintf("only used %d bytes in %d long buffer", e.Completed, e.Expected)
}

// IOError wraps a failure of the external byte channel verbatim.
type IOError struct {
	Err error
}

func (e *IOError) Error() string { return e.Err.Error() }
func (e *IOError) Unwrap() error { return e.Err }

// WrapIO returns nil for a nil err and an *IOError otherwise.
func WrapIO(err error) error {
	if err == nil {
		return nil
	}
	if ioErr, ok := err.(*IOError); ok {
		return ioErr
	}
	return &IOError{Err: err}
}

var (
	_ error = &PartialBufferError{}
	_ error = &IOError{}
)
