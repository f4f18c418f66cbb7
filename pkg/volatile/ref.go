package volatile

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/tinyrange/guestmem/pkg/access"
	"gvisor.dev/gvisor/pkg/safemem"
)

// Ref is a single T living in volatile memory.
type Ref[T access.DataInit] struct {
	ptr  unsafe.Pointer
	safe bool
}

// GetRef returns a reference to the T at offset in m.
func GetRef[T access.DataInit](m Memory, offset uint64) (Ref[T], error) {
	s, err := m.GetSlice(offset, uint64(access.SizeOf[T]()))
	if err != nil {
		return Ref[T]{}, err
	}
	return Ref[T]{ptr: s.ptr, safe: s.safe}, nil
}

// NewRef returns a reference to the T at ptr. The caller guarantees ptr stays
// valid for the life of the reference.
func NewRef[T access.DataInit](ptr unsafe.Pointer) Ref[T] {
	return Ref[T]{ptr: ptr}
}

// Pointer returns the address of the referenced value.
func (r Ref[T]) Pointer() unsafe.Pointer { return r.ptr }

// Len returns the size of T.
func (r Ref[T]) Len() uint64 { return uint64(access.SizeOf[T]()) }

// Load performs a volatile read of the value.
func (r Ref[T]) Load() T { return load[T](r.ptr, r.safe) }

// Store performs a volatile write of v.
func (r Ref[T]) Store(v T) { store(r.ptr, r.safe, v) }

// ToSlice returns a byte slice over the same memory.
func (r Ref[T]) ToSlice() Slice {
	return Slice{ptr: r.ptr, size: r.Len(), safe: r.safe}
}

// CopyTo loads consecutive Ts from s into buf, stopping at whichever of the
// two runs out first. It returns the number of elements copied.
func CopyTo[T access.DataInit](s Slice, buf []T) int {
	size := uint64(access.SizeOf[T]())
	n := min(uint64(len(buf)), s.size/size)
	for i := uint64(0); i < n; i++ {
		buf[i] = load[T](unsafe.Add(s.ptr, i*size), s.safe)
	}
	return int(n)
}

// CopyFrom stores consecutive Ts from buf into s, stopping at whichever of the
// two runs out first. It returns the number of elements copied.
func CopyFrom[T access.DataInit](s Slice, buf []T) int {
	size := uint64(access.SizeOf[T]())
	n := min(uint64(len(buf)), s.size/size)
	for i := uint64(0); i < n; i++ {
		store(unsafe.Add(s.ptr, i*size), s.safe, buf[i])
	}
	return int(n)
}

func span(ptr unsafe.Pointer, size int, safe bool) safemem.Block {
	if safe {
		return safemem.BlockFromSafePointer(ptr, size)
	}
	return safemem.BlockFromUnsafePointer(ptr, size)
}

func load[T access.DataInit](ptr unsafe.Pointer, safe bool) T {
	var v T
	switch unsafe.Sizeof(v) {
	case 4:
		if uintptr(ptr)%4 == 0 {
			u := atomic.LoadUint32((*uint32)(ptr))
			return *(*T)(unsafe.Pointer(&u))
		}
	case 8:
		if uintptr(ptr)%8 == 0 {
			u := atomic.LoadUint64((*uint64)(ptr))
			return *(*T)(unsafe.Pointer(&u))
		}
	}

	dst := access.AsBytes(&v)
	if _, err := safemem.Copy(safemem.BlockFromSafeSlice(dst), span(ptr, len(dst), safe)); err != nil {
		panic(fmt.Sprintf("volatile: load of %d bytes at %p: %v", len(dst), ptr, err))
	}
	return v
}

func store[T access.DataInit](ptr unsafe.Pointer, safe bool, v T) {
	switch unsafe.Sizeof(v) {
	case 4:
		if uintptr(ptr)%4 == 0 {
			atomic.StoreUint32((*uint32)(ptr), *(*uint32)(unsafe.Pointer(&v)))
			return
		}
	case 8:
		if uintptr(ptr)%8 == 0 {
			atomic.StoreUint64((*uint64)(ptr), *(*uint64)(unsafe.Pointer(&v)))
			return
		}
	}

	src := access.AsBytes(&v)
	if _, err := safemem.Copy(span(ptr, len(src), safe), safemem.BlockFromSafeSlice(src)); err != nil {
		panic(fmt.Sprintf("volatile: store of %d bytes at %p: %v", len(src), ptr, err))
	}
}
