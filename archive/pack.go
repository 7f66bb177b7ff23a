package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"time"

	fixzip "github.com/hidez8891/zip"
)

// Entry is a single file to be put into archive.
type Entry struct {
	Name string
	Data []byte
	// Store requests entry to be written without compression.
	Store bool
}

// Pack produces zip archive with entries in the order given. Entries marked
// with Store are not compressed, everything else is deflated.
func Pack(entries []Entry, modified time.Time) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, e := range entries {
		method := zip.Deflate
		if e.Store {
			method = zip.Store
		}
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     e.Name,
			Method:   method,
			Modified: modified,
		})
		if err != nil {
			return nil, fmt.Errorf("unable to add %s: %w", e.Name, err)
		}
		if _, err := w.Write(e.Data); err != nil {
			return nil, fmt.Errorf("unable to write %s: %w", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("unable to close archive: %w", err)
	}
	return buf.Bytes(), nil
}

// StripDataDescriptors rewrites archive so that no entry carries data
// descriptor. Streaming zip writer always produces them and some readers
// refuse to open such books.
func StripDataDescriptors(data []byte) ([]byte, error) {
	r, err := fixzip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("unable to read archive: %w", err)
	}

	var buf bytes.Buffer
	w := fixzip.NewWriter(&buf)
	for _, file := range r.File {
		file.Flags &= ^fixzip.FlagDataDescriptor
		if err := w.CopyFile(file); err != nil {
			return nil, fmt.Errorf("unable to copy %s: %w", file.Name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("unable to close archive: %w", err)
	}
	return buf.Bytes(), nil
}
