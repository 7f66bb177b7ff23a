package book

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/beevik/etree"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"epubgen/fetch"
)

func setupTestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t, zaptest.WrapOptions(zap.AddCaller()))
}

// fakeFetcher serves canned responses, unknown urls get 404.
type fakeFetcher struct {
	mu        sync.Mutex
	resources map[string]fetch.Response
	calls     map[string]int
}

func newFakeFetcher(resources map[string]fetch.Response) *fakeFetcher {
	if resources == nil {
		resources = make(map[string]fetch.Response)
	}
	return &fakeFetcher{resources: resources, calls: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*fetch.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	r, ok := f.resources[url]
	if !ok {
		return nil, &fetch.StatusError{URL: url, Status: 404}
	}
	if r.Status == 0 {
		r.Status = 200
	}
	return &r, nil
}

func (f *fakeFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) listen(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]EventKind, 0, len(r.events))
	for _, ev := range r.events {
		res = append(res, ev.Kind)
	}
	return res
}

func (r *eventRecorder) has(kind EventKind) bool {
	for _, k := range r.kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

var testTime = time.Date(2024, 5, 17, 10, 30, 0, 0, time.UTC)

func newTestDocument(t *testing.T, f fetch.Fetcher, opts ...Option) *Document {
	t.Helper()
	opts = append([]Option{
		WithFetcher(f),
		WithLogger(setupTestLogger(t)),
		WithClock(func() time.Time { return testTime }),
	}, opts...)
	return New(opts...)
}

// stored returns content of the registered resource.
func stored(t *testing.T, d *Document, p string) []byte {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.store.get(p)
	if !ok {
		t.Fatalf("resource %q is not registered", p)
	}
	return data
}

func parseXML(t *testing.T, data []byte) *etree.Document {
	t.Helper()
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		t.Fatalf("unable to parse XML: %v\n%s", err, data)
	}
	return doc
}

func readArchive(t *testing.T, data []byte) (*zip.Reader, map[string][]byte) {
	t.Helper()
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("unable to open archive: %v", err)
	}
	files := make(map[string][]byte, len(r.File))
	for _, f := range r.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("unable to open %s: %v", f.Name, err)
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("unable to read %s: %v", f.Name, err)
		}
		files[f.Name] = b
	}
	return r, files
}
