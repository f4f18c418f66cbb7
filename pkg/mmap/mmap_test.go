package mmap

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/tinyrange/guestmem/pkg/access"
	"github.com/tinyrange/guestmem/pkg/guestmem"
)

var errMapFailed = errors.New("map failed")

// countingPlatform hands out heap memory and counts mappings.
type countingPlatform struct {
	mu     sync.Mutex
	maps   int
	unmaps int
	// failAt makes the nth MapAnonymous call fail (1-based, 0 never fails).
	failAt int
}

func (p *countingPlatform) MapAnonymous(size int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if size <= 0 {
		return nil, fmt.Errorf("bad size %d", size)
	}
	if p.failAt != 0 && p.maps+1 == p.failAt {
		return nil, errMapFailed
	}

	p.maps++
	return make([]byte, size), nil
}

func (p *countingPlatform) MapFile(fd uintptr, size int, offset int64) ([]byte, error) {
	return p.MapAnonymous(size)
}

func (p *countingPlatform) Unmap(mem []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.unmaps++
	return nil
}

func (p *countingPlatform) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maps, p.unmaps
}

func TestRegionReleasedOnce(t *testing.T) {
	p := &countingPlatform{}

	region, err := NewMappedRegionWithPlatform(p, 0x1000)
	if err != nil {
		t.Fatal(err)
	}

	var clones []*MappedRegion
	for range 3 {
		clone, err := region.Clone()
		if err != nil {
			t.Fatal(err)
		}
		clones = append(clones, clone)
	}

	var wg sync.WaitGroup
	for _, clone := range clones {
		wg.Add(1)
		go func(r *MappedRegion) {
			defer wg.Done()
			if err := r.Close(); err != nil {
				t.Error(err)
			}
			// A second close of the same handle is a no-op.
			if err := r.Close(); err != nil {
				t.Error(err)
			}
		}(clone)
	}
	wg.Wait()

	if _, unmaps := p.counts(); unmaps != 0 {
		t.Fatalf("unmapped while a handle is still open")
	}

	if err := region.Close(); err != nil {
		t.Fatal(err)
	}
	if err := region.Close(); err != nil {
		t.Fatal(err)
	}

	if maps, unmaps := p.counts(); maps != 1 || unmaps != 1 {
		t.Fatalf("maps = %d, unmaps = %d", maps, unmaps)
	}
}

func TestSpaceReleasedOnce(t *testing.T) {
	p := &countingPlatform{}

	space, err := NewWithPlatform(p, []Range{
		{Base: 0x0, Size: 0x1000},
		{Base: 0x2000, Size: 0x1000},
	})
	if err != nil {
		t.Fatal(err)
	}

	other, err := space.Clone()
	if err != nil {
		t.Fatal(err)
	}

	if err := space.Close(); err != nil {
		t.Fatal(err)
	}
	if err := space.Close(); err != nil {
		t.Fatal(err)
	}

	// The clone still works.
	if err := access.WriteObj[uint32, guestmem.GuestAddress](other, 0xcafe, 0x2000); err != nil {
		t.Fatal(err)
	}

	if _, unmaps := p.counts(); unmaps != 0 {
		t.Fatal("released while a clone is open")
	}

	if err := other.Close(); err != nil {
		t.Fatal(err)
	}

	if maps, unmaps := p.counts(); maps != 2 || unmaps != 2 {
		t.Fatalf("maps = %d, unmaps = %d", maps, unmaps)
	}
}

func TestCloneAfterClose(t *testing.T) {
	p := &countingPlatform{}

	region, err := NewMappedRegionWithPlatform(p, 0x1000)
	if err != nil {
		t.Fatal(err)
	}
	if err := region.Close(); err != nil {
		t.Fatal(err)
	}
	if clone, err := region.Clone(); !errors.Is(err, ErrClosed) || clone != nil {
		t.Fatalf("Clone of a closed region = %v, %v", clone, err)
	}
	if maps, unmaps := p.counts(); maps != 1 || unmaps != 1 {
		t.Fatalf("region: maps = %d, unmaps = %d", maps, unmaps)
	}

	p = &countingPlatform{}

	space, err := NewWithPlatform(p, []Range{
		{Base: 0x0, Size: 0x1000},
		{Base: 0x2000, Size: 0x1000},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := space.Close(); err != nil {
		t.Fatal(err)
	}
	if clone, err := space.Clone(); !errors.Is(err, ErrClosed) || clone != nil {
		t.Fatalf("Clone of a closed space = %v, %v", clone, err)
	}
	if maps, unmaps := p.counts(); maps != 2 || unmaps != 2 {
		t.Fatalf("space: maps = %d, unmaps = %d", maps, unmaps)
	}
}

func TestCloneOfClosedHandleWithLiveMapping(t *testing.T) {
	p := &countingPlatform{}

	region, err := NewMappedRegionWithPlatform(p, 0x1000)
	if err != nil {
		t.Fatal(err)
	}
	other, err := region.Clone()
	if err != nil {
		t.Fatal(err)
	}
	if err := region.Close(); err != nil {
		t.Fatal(err)
	}

	// The mapping is still alive but this handle no longer owns it.
	if _, err := region.Clone(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed got %v", err)
	}

	if err := other.Close(); err != nil {
		t.Fatal(err)
	}
	if maps, unmaps := p.counts(); maps != 1 || unmaps != 1 {
		t.Fatalf("maps = %d, unmaps = %d", maps, unmaps)
	}
}

func TestNewReleasesOnFailure(t *testing.T) {
	p := &countingPlatform{failAt: 3}

	_, err := NewWithPlatform(p, []Range{
		{Base: 0x0, Size: 0x1000},
		{Base: 0x1000, Size: 0x1000},
		{Base: 0x2000, Size: 0x1000},
	})
	if !errors.Is(err, errMapFailed) {
		t.Fatalf("expected errMapFailed got %v", err)
	}

	if maps, unmaps := p.counts(); maps != 2 || unmaps != 2 {
		t.Fatalf("maps = %d, unmaps = %d", maps, unmaps)
	}

	p = &countingPlatform{}
	_, err = NewWithPlatform(p, []Range{
		{Base: 0x0, Size: 0x2000},
		{Base: 0x1000, Size: 0x2000},
	})
	var overlap *guestmem.RegionOverlapError
	if !errors.As(err, &overlap) {
		t.Fatalf("expected RegionOverlapError got %v", err)
	}
	if maps, unmaps := p.counts(); maps != unmaps {
		t.Fatalf("maps = %d, unmaps = %d", maps, unmaps)
	}
}

func TestNewLayoutErrors(t *testing.T) {
	p := &countingPlatform{}

	if _, err := NewWithPlatform(p, nil); !errors.Is(err, guestmem.ErrNoRegions) {
		t.Fatalf("expected ErrNoRegions got %v", err)
	}

	_, err := NewWithPlatform(p, []Range{{Base: 0xffff_ffff_ffff_f000, Size: 0x2000}})
	var badRange *guestmem.InvalidAddressRangeError
	if !errors.As(err, &badRange) {
		t.Fatalf("expected InvalidAddressRangeError got %v", err)
	}
	if diff := cmp.Diff(&guestmem.InvalidAddressRangeError{Base: 0xffff_ffff_ffff_f000, Size: 0x2000}, badRange); diff != "" {
		t.Fatal(diff)
	}

	space, err := NewWithPlatform(p, []Range{
		{Base: 0x0, Size: 0x400},
		{Base: 0x800, Size: 0x400},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer space.Close()

	if space.NumRegions() != 2 {
		t.Fatalf("NumRegions() = %d", space.NumRegions())
	}
}

func TestFindRegion(t *testing.T) {
	space, err := NewWithPlatform(&countingPlatform{}, []Range{
		{Base: 0x0, Size: 0x400},
		{Base: 0x800, Size: 0x400},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer space.Close()

	for _, tc := range []struct {
		addr  guestmem.GuestAddress
		found bool
		base  guestmem.GuestAddress
	}{
		{0x200, true, 0x0},
		{0x600, false, 0},
		{0xa00, true, 0x800},
		{0xc00, false, 0},
	} {
		region, ok := space.FindRegion(tc.addr)
		if ok != tc.found {
			t.Fatalf("FindRegion(%s) found = %v", tc.addr, ok)
		}
		if ok && region.MinAddr() != tc.base {
			t.Fatalf("FindRegion(%s) = %s", tc.addr, region.MinAddr())
		}
	}
}

func TestWithRegionsMut(t *testing.T) {
	space, err := NewWithPlatform(&countingPlatform{}, []Range{
		{Base: 0x0, Size: 0x10},
		{Base: 0x10, Size: 0x10},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer space.Close()

	if err := space.WithRegionsMut(func(index int, region *MappedMemoryRegion) error {
		copy(region.UnsafeBytes(), bytes.Repeat([]byte{byte(index + 1)}, 0x10))
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 0x20)
	if err := space.ReadSlice(buf, 0); err != nil {
		t.Fatal(err)
	}
	if buf[0xf] != 1 || buf[0x10] != 2 {
		t.Fatalf("unexpected contents %v", buf)
	}

	var out bytes.Buffer
	if err := guestmem.DumpMap(space, &out); err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(out.Bytes(), []byte("MappedMemoryRegion{")) {
		t.Fatalf("DumpMap = %q", out.String())
	}
}
