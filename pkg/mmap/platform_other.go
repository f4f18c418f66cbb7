//go:build !linux

package mmap

type hostPlatform struct{}

func (hostPlatform) MapAnonymous(size int) ([]byte, error) { return nil, ErrUnsupported }

func (hostPlatform) MapFile(fd uintptr, size int, offset int64) ([]byte, error) {
	return nil, ErrUnsupported
}

func (hostPlatform) Unmap(mem []byte) error { return ErrUnsupported }
