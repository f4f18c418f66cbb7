package guestmem

import (
	"fmt"

	"github.com/tinyrange/guestmem/pkg/volatile"
)

// RawRegion is a region backed by ordinary Go heap memory.
type RawRegion struct {
	SliceRegion
	data []byte
}

func (r *RawRegion) String() string {
	return fmt.Sprintf("RawRegion{%s}", r.Extent)
}

// UnsafeBytes implements FlatRegion.
func (r *RawRegion) UnsafeBytes() []byte { return r.data }

// NewRawRegion allocates a zeroed region of size bytes at base.
func NewRawRegion(base GuestAddress, size uint64) (*RawRegion, error) {
	if _, err := NewExtent(base, size); err != nil {
		return nil, err
	}

	data := make([]byte, size)

	region, err := NewSliceRegion(base, volatile.FromBytes(data))
	if err != nil {
		return nil, err
	}

	return &RawRegion{SliceRegion: region, data: data}, nil
}

var (
	_ FlatRegion = &RawRegion{}
)
