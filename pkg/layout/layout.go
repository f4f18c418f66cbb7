// Package layout describes the guest memory map in a config file.
//
// Layouts are YAML (or JSON) documents:
//
//	regions:
//	  - base: 0x0
//	    size: 64MiB
//	  - base: 0x100000000
//	    size: 1GiB
//	    file: ram.img
//	    offset: 4096
//
// or Starlark scripts that assign a list of region() values to regions.
package layout

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/docker/go-units"
	"github.com/tinyrange/guestmem/pkg/guestmem"
	"github.com/tinyrange/guestmem/pkg/mmap"
	"gopkg.in/yaml.v3"
)

// Quantity is an address or size. In a layout it can be an integer or a
// string such as "0x1000" or "64MiB".
type Quantity uint64

// ParseQuantity parses an integer in any Go base prefix or a human readable
// binary size.
func ParseQuantity(s string) (Quantity, error) {
	s = strings.TrimSpace(s)

	if v, err := strconv.ParseUint(strings.ReplaceAll(s, "_", ""), 0, 64); err == nil {
		return Quantity(v), nil
	}

	v, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid quantity %q: %w", s, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("invalid quantity %q: negative", s)
	}

	return Quantity(v), nil
}

func (q Quantity) String() string {
	return units.BytesSize(float64(q))
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (q *Quantity) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a number or size", node.Line)
	}

	v, err := ParseQuantity(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}

	*q = v
	return nil
}

// RegionConfig is one region of a layout.
type RegionConfig struct {
	Base Quantity `yaml:"base"`
	// Size may be left out for file backed regions to use the rest of the file.
	Size   Quantity `yaml:"size,omitempty"`
	File   string   `yaml:"file,omitempty"`
	Offset Quantity `yaml:"offset,omitempty"`
}

func (r RegionConfig) String() string {
	if r.File != "" {
		return fmt.Sprintf("%016X %s %s@%d", uint64(r.Base), r.Size, r.File, r.Offset)
	}
	return fmt.Sprintf("%016X %s", uint64(r.Base), r.Size)
}

type Layout struct {
	Regions []RegionConfig `yaml:"regions"`
}

// Decode reads a YAML or JSON layout.
func Decode(r io.Reader) (*Layout, error) {
	var layout Layout

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(&layout); err != nil {
		return nil, err
	}

	return &layout, nil
}

// LoadFile reads a layout picking the format from the file extension.
func LoadFile(filename string) (*Layout, error) {
	switch ext := filepath.Ext(filename); ext {
	case ".yml", ".yaml", ".json":
		f, err := os.Open(filename)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		layout, err := Decode(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}

		return layout, nil
	case ".star":
		contents, err := os.ReadFile(filename)
		if err != nil {
			return nil, err
		}

		return EvalStarlark(filename, contents)
	default:
		return nil, fmt.Errorf("unknown layout format: %s", ext)
	}
}

type closers []io.Closer

func (c closers) Close() error {
	var err error
	for _, closer := range c {
		err = errors.Join(err, closer.Close())
	}
	return err
}

// Open resolves the layout into mapping ranges sorted by base. Backing files
// are opened read-write relative to baseDir and stay open until the returned
// closer is closed.
func (l *Layout) Open(baseDir string) ([]mmap.Range, io.Closer, error) {
	if len(l.Regions) == 0 {
		return nil, nil, guestmem.ErrNoRegions
	}

	var (
		ranges []mmap.Range
		files  closers
	)

	for i, region := range l.Regions {
		rng := mmap.Range{
			Base:       guestmem.GuestAddress(region.Base),
			Size:       uint64(region.Size),
			FileOffset: int64(region.Offset),
		}

		if region.File != "" {
			filename := region.File
			if !filepath.IsAbs(filename) {
				filename = filepath.Join(baseDir, filename)
			}

			f, err := os.OpenFile(filename, os.O_RDWR, 0)
			if err != nil {
				return nil, nil, errors.Join(fmt.Errorf("region %d: %w", i, err), files.Close())
			}
			files = append(files, f)

			if rng.Size == 0 {
				info, err := f.Stat()
				if err != nil {
					return nil, nil, errors.Join(err, files.Close())
				}
				if info.Size() <= rng.FileOffset {
					return nil, nil, errors.Join(fmt.Errorf("region %d: offset %d is past the end of %s", i, rng.FileOffset, filename), files.Close())
				}
				rng.Size = uint64(info.Size() - rng.FileOffset)
			}

			rng.File = f
		} else if region.Offset != 0 {
			return nil, nil, errors.Join(fmt.Errorf("region %d: offset without a file", i), files.Close())
		}

		ranges = append(ranges, rng)
	}

	slices.SortFunc(ranges, func(a, b mmap.Range) int {
		return a.Base.Compare(b.Base)
	})

	return ranges, files, nil
}
