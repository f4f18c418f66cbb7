// Package snapshot saves and restores the contents of an address space.
//
// A snapshot is a fixed header describing the region layout followed by a
// zstd stream holding every region's bytes in layout order:
//
//	magic    [8]byte  "GMEMSNP1"
//	count    uint32
//	regions  count * {base uint64, size uint64}
//	contents zstd(region 0 || region 1 || ...)
//
// All integers are little-endian.
package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/klauspost/compress/zstd"
	"github.com/tinyrange/guestmem/pkg/guestmem"
	"github.com/tinyrange/guestmem/pkg/mmap"
)

const maxRegions = 1 << 16

var magic = [8]byte{'G', 'M', 'E', 'M', 'S', 'N', 'P', '1'}

var (
	ErrBadMagic       = errors.New("not a guest memory snapshot")
	ErrTooManyRegions = errors.New("snapshot has too many regions")
)

// Region is one entry of the snapshot layout.
type Region struct {
	Base guestmem.GuestAddress
	Size uint64
}

func (r Region) String() string {
	return fmt.Sprintf("%016X+%X", r.Base.Raw(), r.Size)
}

// LayoutMismatchError is returned by Load when the snapshot was taken from a
// differently shaped address space.
type LayoutMismatchError struct {
	Index int
	Want  Region
	Got   Region
}

func (e *LayoutMismatchError) Error() string {
	return fmt.Sprintf("snapshot region %d is %s but the address space has %s", e.Index, e.Want, e.Got)
}

// Options controls Save, Restore and Load.
type Options struct {
	// Progress receives a copy of the uncompressed region bytes as they are
	// transferred.
	Progress io.Writer
	// Platform is used by Restore to map the new address space. Defaults to
	// mmap.DefaultPlatform.
	Platform mmap.Platform
}

// Layout returns the layout of space as snapshot regions.
func Layout(space guestmem.AddressSpace) ([]Region, error) {
	regions := make([]Region, 0, space.NumRegions())

	if err := space.WithRegions(func(_ int, region guestmem.MemoryRegion) error {
		regions = append(regions, Region{Base: region.MinAddr(), Size: region.Len()})
		return nil
	}); err != nil {
		return nil, err
	}

	return regions, nil
}

// TotalSize returns the number of content bytes described by regions.
func TotalSize(regions []Region) int64 {
	var total int64
	for _, region := range regions {
		total += int64(region.Size)
	}
	return total
}

func writeHeader(w io.Writer, regions []Region) error {
	if len(regions) > maxRegions {
		return ErrTooManyRegions
	}

	if _, err := w.Write(magic[:]); err != nil {
		return err
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(regions))); err != nil {
		return err
	}

	for _, region := range regions {
		if err := binary.Write(w, binary.LittleEndian, [2]uint64{region.Base.Raw(), region.Size}); err != nil {
			return err
		}
	}

	return nil
}

// ReadHeader reads the layout at the start of a snapshot. r is left at the
// start of the compressed contents.
func ReadHeader(r io.Reader) ([]Region, error) {
	var got [8]byte
	if _, err := io.ReadFull(r, got[:]); err != nil {
		return nil, fmt.Errorf("read snapshot magic: %w", err)
	}
	if got != magic {
		return nil, ErrBadMagic
	}

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read region count: %w", err)
	}
	if count > maxRegions {
		return nil, ErrTooManyRegions
	}

	regions := make([]Region, 0, count)
	for i := 0; i < int(count); i++ {
		var entry [2]uint64
		if err := binary.Read(r, binary.LittleEndian, &entry); err != nil {
			return nil, fmt.Errorf("read region %d: %w", i, err)
		}
		regions = append(regions, Region{Base: guestmem.GuestAddress(entry[0]), Size: entry[1]})
	}

	return regions, nil
}

// Save writes the layout and contents of space to w.
func Save(space guestmem.AddressSpace, w io.Writer, opts Options) error {
	regions, err := Layout(space)
	if err != nil {
		return err
	}

	if err := writeHeader(w, regions); err != nil {
		return fmt.Errorf("write snapshot header: %w", err)
	}

	enc, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}

	var dst io.Writer = enc
	if opts.Progress != nil {
		dst = io.MultiWriter(enc, opts.Progress)
	}

	acc := guestmem.Access(space)

	for i, region := range regions {
		slog.Debug("saving region", "index", i, "region", region)

		if err := acc.ReadIntoStream(region.Base, dst, int(region.Size)); err != nil {
			enc.Close()
			return fmt.Errorf("save region %d: %w", i, err)
		}
	}

	return enc.Close()
}

func fill(space guestmem.AddressSpace, regions []Region, r io.Reader, opts Options) error {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return err
	}
	defer dec.Close()

	var src io.Reader = dec
	if opts.Progress != nil {
		src = io.TeeReader(dec, opts.Progress)
	}

	acc := guestmem.Access(space)

	for i, region := range regions {
		slog.Debug("loading region", "index", i, "region", region)

		if err := acc.WriteFromStream(region.Base, src, int(region.Size)); err != nil {
			return fmt.Errorf("load region %d: %w", i, err)
		}
	}

	return nil
}

// Restore builds a new anonymous address space with the layout stored in r
// and fills it with the snapshot contents.
func Restore(r io.Reader, opts Options) (*mmap.MappedAddressSpace, error) {
	regions, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	platform := opts.Platform
	if platform == nil {
		platform = mmap.DefaultPlatform
	}

	ranges := make([]mmap.Range, 0, len(regions))
	for _, region := range regions {
		ranges = append(ranges, mmap.Range{Base: region.Base, Size: region.Size})
	}

	space, err := mmap.NewWithPlatform(platform, ranges)
	if err != nil {
		return nil, err
	}

	if err := fill(space, regions, r, opts); err != nil {
		return nil, errors.Join(err, space.Close())
	}

	return space, nil
}

// Load fills an existing address space from r. The layout stored in r must
// match space exactly.
func Load(space guestmem.AddressSpace, r io.Reader, opts Options) error {
	regions, err := ReadHeader(r)
	if err != nil {
		return err
	}

	current, err := Layout(space)
	if err != nil {
		return err
	}

	for i := 0; i < max(len(regions), len(current)); i++ {
		var want, got Region
		if i < len(regions) {
			want = regions[i]
		}
		if i < len(current) {
			got = current[i]
		}
		if want != got {
			return &LayoutMismatchError{Index: i, Want: want, Got: got}
		}
	}

	return fill(space, regions, r, opts)
}
