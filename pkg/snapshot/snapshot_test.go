package snapshot

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/tinyrange/guestmem/pkg/guestmem"
)

type heapPlatform struct{}

func (heapPlatform) MapAnonymous(size int) ([]byte, error) { return make([]byte, size), nil }

func (heapPlatform) MapFile(fd uintptr, size int, offset int64) ([]byte, error) {
	return make([]byte, size), nil
}

func (heapPlatform) Unmap(mem []byte) error { return nil }

func testSpace(t *testing.T) *guestmem.RegionList {
	t.Helper()

	low, err := guestmem.NewRawRegion(0x0, 0x1000)
	if err != nil {
		t.Fatal(err)
	}
	high, err := guestmem.NewRawRegion(0x10000, 0x3000)
	if err != nil {
		t.Fatal(err)
	}

	for i := range low.UnsafeBytes() {
		low.UnsafeBytes()[i] = byte(i)
	}
	copy(high.UnsafeBytes()[0x2000:], "high memory")

	space, err := guestmem.NewRegionList(low, high)
	if err != nil {
		t.Fatal(err)
	}
	return space
}

func TestSaveRestore(t *testing.T) {
	space := testSpace(t)

	var snap bytes.Buffer
	var progress bytes.Buffer
	if err := Save(space, &snap, Options{Progress: &progress}); err != nil {
		t.Fatal(err)
	}
	if progress.Len() != 0x4000 {
		t.Fatalf("progress saw %d bytes", progress.Len())
	}

	restored, err := Restore(bytes.NewReader(snap.Bytes()), Options{Platform: heapPlatform{}})
	if err != nil {
		t.Fatal(err)
	}
	defer restored.Close()

	want, err := Layout(space)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Layout(restored)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatal(diff)
	}

	buf := make([]byte, len("high memory"))
	if err := restored.ReadSlice(buf, 0x12000); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "high memory" {
		t.Fatalf("restored %q", buf)
	}

	low := make([]byte, 0x1000)
	if err := restored.ReadSlice(low, 0x0); err != nil {
		t.Fatal(err)
	}
	if low[0x123] != 0x23 {
		t.Fatalf("low[0x123] = %x", low[0x123])
	}
}

func TestLoad(t *testing.T) {
	var snap bytes.Buffer
	if err := Save(testSpace(t), &snap, Options{}); err != nil {
		t.Fatal(err)
	}

	empty := testSpace(t)
	if err := empty.WithRegions(func(_ int, region guestmem.MemoryRegion) error {
		clear(region.(*guestmem.RawRegion).UnsafeBytes())
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if err := Load(empty, bytes.NewReader(snap.Bytes()), Options{}); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, len("high memory"))
	if err := guestmem.Access(empty).ReadSlice(buf, 0x12000); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "high memory" {
		t.Fatalf("loaded %q", buf)
	}
}

func TestLoadLayoutMismatch(t *testing.T) {
	var snap bytes.Buffer
	if err := Save(testSpace(t), &snap, Options{}); err != nil {
		t.Fatal(err)
	}

	region, err := guestmem.NewRawRegion(0x0, 0x1000)
	if err != nil {
		t.Fatal(err)
	}
	other, err := guestmem.NewRegionList(region)
	if err != nil {
		t.Fatal(err)
	}

	err = Load(other, bytes.NewReader(snap.Bytes()), Options{})
	var mismatch *LayoutMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected LayoutMismatchError got %v", err)
	}
	if diff := cmp.Diff(&LayoutMismatchError{Index: 1, Want: Region{Base: 0x10000, Size: 0x3000}}, mismatch); diff != "" {
		t.Fatal(diff)
	}
}

func TestReadHeaderErrors(t *testing.T) {
	if _, err := ReadHeader(bytes.NewReader([]byte("NOTASNAPSHOT"))); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic got %v", err)
	}

	hdr := append(magic[:], 0xff, 0xff, 0xff, 0xff)
	if _, err := ReadHeader(bytes.NewReader(hdr)); !errors.Is(err, ErrTooManyRegions) {
		t.Fatalf("expected ErrTooManyRegions got %v", err)
	}
}

func TestRestoreTruncated(t *testing.T) {
	var snap bytes.Buffer
	if err := Save(testSpace(t), &snap, Options{}); err != nil {
		t.Fatal(err)
	}

	truncated := snap.Bytes()[:snap.Len()-16]
	if _, err := Restore(bytes.NewReader(truncated), Options{Platform: heapPlatform{}}); err == nil {
		t.Fatal("expected an error restoring a truncated snapshot")
	}
}
