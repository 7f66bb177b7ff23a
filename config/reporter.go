package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"epubgen/archive"
	"epubgen/misc"
)

type ReporterConfig struct {
	Destination string `yaml:"destination" sanitize:"path_clean,assure_dir_exists_for_file" validate:"required,filepath"`
}

// Prepare creates empty debug report. When destination could not be created
// report goes to temporary directory.
func (conf *ReporterConfig) Prepare() (*Report, error) {
	f, err := os.Create(conf.Destination)
	if err != nil {
		if f, err = os.CreateTemp("", misc.GetAppName()+"-report.*.zip"); err != nil {
			return nil, fmt.Errorf("unable to create report: %w", err)
		}
	}
	return &Report{items: make(map[string]reportItem), file: f}, nil
}

// reportItem is either a file to be read when report is closed (data is nil)
// or a snapshot taken when it was stored.
type reportItem struct {
	source string
	stamp  time.Time
	data   []byte
}

// Report collects everything needed to troubleshoot a run: processed
// configuration, logs, book manifest and produced book. Nil report is valid
// and ignores everything. Not safe for concurrent use.
type Report struct {
	items map[string]reportItem
	file  *os.File
}

// Close writes report archive. Calling Close on nil report is allowed.
func (r *Report) Close() error {
	if r == nil || r.file == nil {
		return nil
	}
	defer r.file.Close()

	data, err := archive.Pack(r.entries(), time.Now())
	if err != nil {
		return err
	}
	_, err = r.file.Write(data)
	return err
}

// Name returns absolute name of report file.
func (r *Report) Name() string {
	if r == nil || r.file == nil {
		return ""
	}
	if n, err := filepath.Abs(r.file.Name()); err == nil {
		return n
	}
	return r.file.Name()
}

// Store remembers file to be put into report on Close, so it may still be
// written to (logs).
func (r *Report) Store(name, path string) {
	if r == nil {
		return
	}
	if p, err := filepath.Abs(path); err == nil {
		path = p
	}
	if old, exists := r.items[name]; exists && old.source != path {
		panic(fmt.Sprintf("report entry [%s] already refers to %s, not %s", name, old.source, path))
	}
	r.items[name] = reportItem{source: path}
}

// StoreData puts data into report under requested name.
func (r *Report) StoreData(name string, data []byte) {
	if r == nil {
		return
	}
	if _, exists := r.items[name]; exists {
		panic(fmt.Sprintf("report entry [%s] already has data", name))
	}
	r.items[name] = reportItem{stamp: time.Now(), data: data}
}

// StoreCopy reads file right away. Repeated names get timestamp suffix.
func (r *Report) StoreCopy(name, path string) error {
	if r == nil {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	item := reportItem{source: path, stamp: time.Now(), data: data}
	if _, exists := r.items[name]; exists {
		name = fmt.Sprintf("%s-%d", name, item.stamp.UnixNano())
	}
	r.items[name] = item
	return nil
}

// entries returns archive content: MANIFEST listing every item followed by
// items in name order. Deferred files which are absent or not regular are
// skipped.
func (r *Report) entries() []archive.Entry {
	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	slices.Sort(names)

	var (
		now      = time.Now()
		manifest bytes.Buffer
		entries  = make([]archive.Entry, 1, len(names)+1)
	)
	for _, name := range names {
		item := r.items[name]
		if item.data == nil {
			info, err := os.Stat(item.source)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			if item.data, err = os.ReadFile(item.source); err != nil {
				continue
			}
			item.stamp = info.ModTime()
		}
		if item.stamp.IsZero() {
			item.stamp = now
		}
		fmt.Fprintf(&manifest, "%s\t%s\t%s\n", item.stamp.UTC().Format(time.UnixDate), name, item.source)
		entries = append(entries, archive.Entry{Name: name, Data: item.data})
	}
	entries[0] = archive.Entry{Name: "MANIFEST", Data: manifest.Bytes()}
	return entries
}
