package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"testing"
	"time"
)

func readArchive(t *testing.T, data []byte) *zip.Reader {
	t.Helper()
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("zip.NewReader() error = %v", err)
	}
	return r
}

func testEntries() []Entry {
	return []Entry{
		{Name: "mimetype", Data: []byte("application/epub+zip"), Store: true},
		{Name: "META-INF/container.xml", Data: []byte("<container/>")},
		{Name: "OEBPS/chapter.xhtml", Data: bytes.Repeat([]byte("text "), 100)},
	}
}

func TestPack(t *testing.T) {
	data, err := Pack(testEntries(), time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	r := readArchive(t, data)
	if len(r.File) != 3 {
		t.Fatalf("entries = %d, want 3", len(r.File))
	}

	first := r.File[0]
	if first.Name != "mimetype" {
		t.Errorf("first entry = %q, want mimetype", first.Name)
	}
	if first.Method != zip.Store {
		t.Errorf("mimetype method = %d, want Store", first.Method)
	}
	for _, f := range r.File[1:] {
		if f.Method != zip.Deflate {
			t.Errorf("%s method = %d, want Deflate", f.Name, f.Method)
		}
	}

	rc, err := first.Open()
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	content, _ := io.ReadAll(rc)
	if string(content) != "application/epub+zip" {
		t.Errorf("mimetype content = %q", content)
	}
}

func TestStripDataDescriptors(t *testing.T) {
	data, err := Pack(testEntries(), time.Now())
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	fixed, err := StripDataDescriptors(data)
	if err != nil {
		t.Fatalf("StripDataDescriptors() error = %v", err)
	}

	r := readArchive(t, fixed)
	if len(r.File) != 3 {
		t.Fatalf("entries = %d, want 3", len(r.File))
	}
	if r.File[0].Name != "mimetype" || r.File[0].Method != zip.Store {
		t.Errorf("mimetype entry changed: %q method %d", r.File[0].Name, r.File[0].Method)
	}
	for _, f := range r.File {
		if f.Flags&0x8 != 0 {
			t.Errorf("%s still has data descriptor flag", f.Name)
		}
	}

	if _, err := StripDataDescriptors([]byte("not a zip")); err == nil {
		t.Error("expected error for garbage input")
	}
}

func TestWalk(t *testing.T) {
	data, err := Pack(testEntries(), time.Now())
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}

	var names []string
	err = Walk(readArchive(t, data), "OEBPS/", func(f *zip.File) error {
		names = append(names, f.Name)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	if len(names) != 1 || names[0] != "OEBPS/chapter.xhtml" {
		t.Errorf("Walk() visited %v", names)
	}

	stop := errors.New("stop")
	err = Walk(readArchive(t, data), "", func(*zip.File) error { return stop })
	if !errors.Is(err, stop) {
		t.Errorf("Walk() error = %v, want stop", err)
	}
}

func TestWalk_UnsafePath(t *testing.T) {
	data, err := Pack([]Entry{{Name: "../evil.txt", Data: []byte("x")}}, time.Now())
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	// depending on GODEBUG reader may flag insecure path itself, still
	// returning usable reader
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		t.Fatalf("zip.NewReader() error = %v", err)
	}
	if err := Walk(r, "", func(*zip.File) error { return nil }); err == nil {
		t.Error("expected error for path traversal entry")
	}
}

func TestIsSafePath(t *testing.T) {
	tests := map[string]bool{
		"OEBPS/content.opf": true,
		"mimetype":          true,
		"/etc/passwd":       false,
		`\windows`:          false,
		"a/../b":            false,
		"a/..b/c":           true,
	}
	for in, want := range tests {
		if got := isSafePath(in); got != want {
			t.Errorf("isSafePath(%q) = %v, want %v", in, got, want)
		}
	}
}
