//go:build linux

package mmap

import "golang.org/x/sys/unix"

const protReadWrite = unix.PROT_READ | unix.PROT_WRITE

type hostPlatform struct{}

// MapAnonymous implements Platform.
func (hostPlatform) MapAnonymous(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, protReadWrite, unix.MAP_SHARED|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
}

// MapFile implements Platform.
func (hostPlatform) MapFile(fd uintptr, size int, offset int64) ([]byte, error) {
	return unix.Mmap(int(fd), offset, size, protReadWrite, unix.MAP_SHARED)
}

// Unmap implements Platform.
func (hostPlatform) Unmap(mem []byte) error {
	return unix.Munmap(mem)
}

var (
	_ Platform = hostPlatform{}
)
