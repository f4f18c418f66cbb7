package layout

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/tinyrange/guestmem/pkg/guestmem"
)

func TestParseQuantity(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Quantity
	}{
		{"0", 0},
		{"4096", 4096},
		{"0x1000", 0x1000},
		{"0x1_0000_0000", 0x1_0000_0000},
		{"64MiB", 64 << 20},
		{"64m", 64 << 20},
		{"1GiB", 1 << 30},
		{" 2k ", 2 << 10},
	} {
		got, err := ParseQuantity(tc.in)
		if err != nil {
			t.Fatalf("ParseQuantity(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseQuantity(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}

	for _, bad := range []string{"", "lots", "12 parsecs", "-1"} {
		if _, err := ParseQuantity(bad); err == nil {
			t.Fatalf("ParseQuantity(%q) should fail", bad)
		}
	}
}

func TestDecodeYAML(t *testing.T) {
	layout, err := Decode(strings.NewReader(`
regions:
  - base: 0x0
    size: 64MiB
  - base: 0x100000000
    size: 4096
    file: ram.img
    offset: 0x1000
`))
	if err != nil {
		t.Fatal(err)
	}

	want := []RegionConfig{
		{Base: 0, Size: 64 << 20},
		{Base: 0x100000000, Size: 4096, File: "ram.img", Offset: 0x1000},
	}
	if diff := cmp.Diff(want, layout.Regions); diff != "" {
		t.Fatal(diff)
	}
}

func TestDecodeJSON(t *testing.T) {
	layout, err := Decode(strings.NewReader(`{"regions": [{"base": 4096, "size": "1MiB"}]}`))
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]RegionConfig{{Base: 4096, Size: 1 << 20}}, layout.Regions); diff != "" {
		t.Fatal(diff)
	}
}

func TestDecodeErrors(t *testing.T) {
	for _, doc := range []string{
		"regions:\n  - base: 0x0\n    sise: 1MiB\n",
		"regions:\n  - base: [1, 2]\n",
		"regions:\n  - base: lots\n",
	} {
		if _, err := Decode(strings.NewReader(doc)); err == nil {
			t.Fatalf("Decode(%q) should fail", doc)
		}
	}
}

func TestEvalStarlark(t *testing.T) {
	layout, err := EvalStarlark("test.star", []byte(`
low = region(base = 0, size = "64MiB")

regions = [low] + [
    region(base = 0x100000000 + i * size("1GiB"), size = 0x1000)
    for i in range(2)
]

if low.size != 64 * 1024 * 1024:
    fail("size attribute")
`))
	if err != nil {
		t.Fatal(err)
	}

	want := []RegionConfig{
		{Base: 0, Size: 64 << 20},
		{Base: 0x100000000, Size: 0x1000},
		{Base: 0x100000000 + 1<<30, Size: 0x1000},
	}
	if diff := cmp.Diff(want, layout.Regions); diff != "" {
		t.Fatal(diff)
	}
}

func TestEvalStarlarkErrors(t *testing.T) {
	for _, script := range []string{
		`x = 1`,
		`regions = 1`,
		`regions = [1]`,
		`regions = [region(base = 0)]`,
		`regions = [region(base = -1, size = 1)]`,
	} {
		if _, err := EvalStarlark("bad.star", []byte(script)); err == nil {
			t.Fatalf("EvalStarlark(%q) should fail", script)
		}
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	yml := filepath.Join(dir, "layout.yml")
	if err := os.WriteFile(yml, []byte("regions:\n  - base: 0\n    size: 4KiB\n"), os.ModePerm); err != nil {
		t.Fatal(err)
	}
	star := filepath.Join(dir, "layout.star")
	if err := os.WriteFile(star, []byte(`regions = [region(base = 0, size = "4KiB")]`), os.ModePerm); err != nil {
		t.Fatal(err)
	}

	for _, filename := range []string{yml, star} {
		layout, err := LoadFile(filename)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]RegionConfig{{Base: 0, Size: 4096}}, layout.Regions); diff != "" {
			t.Fatalf("%s: %s", filename, diff)
		}
	}

	if _, err := LoadFile(filepath.Join(dir, "layout.toml")); err == nil {
		t.Fatal("unknown extension should fail")
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "rom.bin"), make([]byte, 0x3000), os.ModePerm); err != nil {
		t.Fatal(err)
	}

	layout := &Layout{Regions: []RegionConfig{
		{Base: 0x10000, File: "rom.bin", Offset: 0x1000},
		{Base: 0x0, Size: 0x1000},
	}}

	ranges, closer, err := layout.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer closer.Close()

	if len(ranges) != 2 {
		t.Fatalf("got %d ranges", len(ranges))
	}
	if ranges[0].Base != 0x0 || ranges[0].File != nil {
		t.Fatalf("ranges[0] = %+v", ranges[0])
	}
	if ranges[1].Base != 0x10000 || ranges[1].Size != 0x2000 || ranges[1].FileOffset != 0x1000 || ranges[1].File == nil {
		t.Fatalf("ranges[1] = %+v", ranges[1])
	}

	if _, _, err := (&Layout{}).Open(dir); !errors.Is(err, guestmem.ErrNoRegions) {
		t.Fatalf("expected ErrNoRegions got %v", err)
	}

	for _, bad := range []*Layout{
		{Regions: []RegionConfig{{Base: 0, Size: 0x1000, Offset: 0x10}}},
		{Regions: []RegionConfig{{Base: 0, File: "missing.bin"}}},
		{Regions: []RegionConfig{{Base: 0, File: "rom.bin", Offset: 0x3000}}},
	} {
		if _, _, err := bad.Open(dir); err == nil {
			t.Fatalf("Open(%+v) should fail", bad.Regions)
		}
	}
}
