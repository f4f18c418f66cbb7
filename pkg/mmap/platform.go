// Package mmap backs guest memory with host memory mappings.
//
// Everything that talks to the operating system goes through Platform, so
// tests and alternative hosts can swap it out.
package mmap

import "errors"

var (
	// ErrUnsupported is returned by DefaultPlatform on hosts without a mapping
	// implementation.
	ErrUnsupported = errors.New("memory mapping is not supported on this platform")
	// ErrClosed is returned when cloning a handle that has been closed.
	ErrClosed = errors.New("mapping is closed")
)

// Platform maps and unmaps host memory. The returned slices are read-write
// and shared, so writes are visible to every other mapping of the same
// backing object.
type Platform interface {
	// MapAnonymous returns size zeroed bytes not backed by any file.
	MapAnonymous(size int) ([]byte, error)
	// MapFile maps size bytes of the open file fd starting at offset.
	MapFile(fd uintptr, size int, offset int64) ([]byte, error)
	// Unmap releases a mapping returned by MapAnonymous or MapFile.
	Unmap(mem []byte) error
}

// DefaultPlatform is the host implementation of Platform.
var DefaultPlatform Platform = hostPlatform{}
