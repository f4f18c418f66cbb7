package guestmem

import (
	"slices"
	"sort"
)

/*
RegionList is an AddressSpace over any mix of MemoryRegions sorted by base
address. Unlike the mapped address space it does not own its regions, which
makes it the place to combine alternative backends (heap regions, proxies to
remote memory) with each other.
*/
type RegionList struct {
	regions []MemoryRegion
}

// NewRegionList validates regions and returns them as an address space.
func NewRegionList(regions ...MemoryRegion) (*RegionList, error) {
	extents := make([]Extent, 0, len(regions))
	for _, region := range regions {
		extent, err := NewExtent(region.MinAddr(), region.Len())
		if err != nil {
			return nil, err
		}
		extents = append(extents, extent)
	}

	if err := ValidateExtents(extents); err != nil {
		return nil, err
	}

	return &RegionList{regions: slices.Clone(regions)}, nil
}

// NumRegions implements AddressSpace.
func (l *RegionList) NumRegions() int { return len(l.regions) }

// FindRegion implements AddressSpace.
func (l *RegionList) FindRegion(addr GuestAddress) (MemoryRegion, bool) {
	// First region that ends after addr.
	i := sort.Search(len(l.regions), func(i int) bool {
		return l.regions[i].MaxAddr() > addr
	})
	if i == len(l.regions) {
		return nil, false
	}

	region := l.regions[i]
	if addr < region.MinAddr() {
		// addr is in the hole before region.
		return nil, false
	}

	return region, true
}

// WithRegions implements AddressSpace.
func (l *RegionList) WithRegions(cb func(index int, region MemoryRegion) error) error {
	for i, region := range l.regions {
		if err := cb(i, region); err != nil {
			return err
		}
	}
	return nil
}

var (
	_ AddressSpace = &RegionList{}
)
