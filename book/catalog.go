package book

import (
	"cmp"
	"context"
	"fmt"
	"path"
	"slices"
	"strings"

	"go.uber.org/zap"

	"epubgen/common"
	"epubgen/fetch"
)

// Volume groups chapters. Each volume gets container page holding its title.
type Volume struct {
	Index    int
	Title    string
	Filename string

	doc      *Document
	seq      int
	chapters []*Chapter
}

type Chapter struct {
	Index    int
	Title    string
	Filename string

	seq int
}

// StyleSheet is registered stylesheet. Stylesheet with index 0 is global and
// linked from every chapter unless chapter opts out.
type StyleSheet struct {
	Index    int
	Filename string
	MapName  string

	seq int
}

func byIndex[T any](index func(T) int, seq func(T) int) func(a, b T) int {
	return func(a, b T) int {
		if c := cmp.Compare(index(a), index(b)); c != 0 {
			return c
		}
		return cmp.Compare(seq(a), seq(b))
	}
}

// AddVolume registers volume and its container page. Volumes sharing index
// share container page, the first one registered wins.
func (d *Document) AddVolume(title string, index int) *Volume {
	data, err := documentBytes(volumeDocument(title))
	if err != nil {
		// serializing in-memory tree into buffer does not fail
		panic(err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.seq++
	v := &Volume{
		Index:    index,
		Title:    title,
		Filename: fmt.Sprintf("volume_%d.xhtml", index),
		doc:      d,
		seq:      d.seq,
	}
	if !d.store.register(v.Filename, data) {
		d.log.Debug("Volume container already registered", zap.Int("index", index), zap.String("title", title))
	}
	d.volumes = append(d.volumes, v)
	return v
}

// Volumes returns volumes ordered by index, volumes with equal index keep
// order in which they were added.
func (d *Document) Volumes() []*Volume {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sortedVolumes()
}

func (d *Document) sortedVolumes() []*Volume {
	res := slices.Clone(d.volumes)
	slices.SortStableFunc(res, byIndex(func(v *Volume) int { return v.Index }, func(v *Volume) int { return v.seq }))
	return res
}

// Chapters returns chapters of the volume ordered by index.
func (v *Volume) Chapters() []Chapter {
	v.doc.mu.Lock()
	defer v.doc.mu.Unlock()
	return v.sortedChapters()
}

func (v *Volume) sortedChapters() []Chapter {
	res := make([]Chapter, 0, len(v.chapters))
	for _, c := range v.chapters {
		res = append(res, *c)
	}
	slices.SortStableFunc(res, byIndex(func(c Chapter) int { return c.Index }, func(c Chapter) int { return c.seq }))
	return res
}

type chapterOptions struct {
	insertTitle bool
	globalCSS   bool
	styles      []int
	styleNames  []string
}

// ChapterOption adjusts how chapter is built.
type ChapterOption func(*chapterOptions)

// WithoutTitle prevents chapter title from being inserted as a heading.
func WithoutTitle() ChapterOption {
	return func(o *chapterOptions) { o.insertTitle = false }
}

// WithoutGlobalCSS prevents global stylesheet from being linked.
func WithoutGlobalCSS() ChapterOption {
	return func(o *chapterOptions) { o.globalCSS = false }
}

// WithStylesheets links additional stylesheets by index. Unknown indexes are
// ignored.
func WithStylesheets(indexes ...int) ChapterOption {
	return func(o *chapterOptions) { o.styles = append(o.styles, indexes...) }
}

// WithStylesheetNames links additional stylesheets by their map names.
// Unknown names are ignored.
func WithStylesheetNames(names ...string) ChapterOption {
	return func(o *chapterOptions) { o.styleNames = append(o.styleNames, names...) }
}

// AddChapter normalizes content and registers chapter document. Returned
// value is chapter index. Only context cancellation and internal failures
// are returned as errors, problems with content are worked around.
func (v *Volume) AddChapter(ctx context.Context, index int, content, title string, ct common.ContentType, opts ...ChapterOption) (int, error) {
	d := v.doc

	o := chapterOptions{insertTitle: true, globalCSS: true}
	for _, opt := range opts {
		opt(&o)
	}

	n, err := d.normalizeContent(ctx, content, title, ct, o.insertTitle)
	if err != nil {
		return 0, err
	}

	data, err := documentBytes(chapterDocument(title, d.stylesheetLinks(&o), n))
	if err != nil {
		return 0, fmt.Errorf("unable to serialize chapter %d: %w", index, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.seq++
	c := &Chapter{
		Index:    index,
		Title:    title,
		Filename: fmt.Sprintf("chapter_%d_%d.xhtml", v.Index, index),
		seq:      d.seq,
	}
	if !d.store.register(c.Filename, data) {
		d.log.Debug("Chapter file already registered", zap.String("file", c.Filename), zap.String("title", title))
	}
	v.chapters = append(v.chapters, c)

	d.log.Debug("Chapter added", zap.String("file", c.Filename), zap.Int("images", len(n.staged)))
	return index, nil
}

// stylesheetLinks returns archive paths of stylesheets chapter should link,
// in order: global first, then requested ones.
func (d *Document) stylesheetLinks(o *chapterOptions) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	indexes := make([]int, 0, len(o.styles)+len(o.styleNames)+1)
	if o.globalCSS {
		indexes = append(indexes, 0)
	}
	indexes = append(indexes, o.styles...)
	for _, name := range o.styleNames {
		if idx, ok := d.styleIndex(name); ok {
			indexes = append(indexes, idx)
		} else {
			d.log.Debug("Unknown stylesheet requested", zap.String("name", name))
		}
	}

	var (
		res  []string
		seen = make(map[string]bool)
	)
	for _, idx := range indexes {
		s := d.findStyle(idx)
		if s == nil || seen[s.Filename] {
			continue
		}
		seen[s.Filename] = true
		res = append(res, s.Filename)
	}
	return res
}

// findStyle returns first registered stylesheet with given index.
func (d *Document) findStyle(index int) *StyleSheet {
	for _, s := range d.styles {
		if s.Index == index {
			return s
		}
	}
	return nil
}

func (d *Document) styleIndex(name string) (int, bool) {
	for _, s := range d.styles {
		if len(s.MapName) > 0 && s.MapName == name {
			return s.Index, true
		}
	}
	return 0, false
}

// StyleSheetIndex returns index of stylesheet registered under map name.
func (d *Document) StyleSheetIndex(name string) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.styleIndex(name)
}

// StyleSheets returns registered stylesheets ordered by index.
func (d *Document) StyleSheets() []StyleSheet {
	d.mu.Lock()
	defer d.mu.Unlock()

	res := make([]StyleSheet, 0, len(d.styles))
	for _, s := range d.styles {
		res = append(res, *s)
	}
	slices.SortStableFunc(res, byIndex(func(s StyleSheet) int { return s.Index }, func(s StyleSheet) int { return s.seq }))
	return res
}

// AddCSS registers stylesheet from text or absolute URL. Resources stylesheet
// refers to are localized. When filename is empty sequential name is
// generated. Failure to fetch stylesheet itself is returned.
func (d *Document) AddCSS(ctx context.Context, index int, contentOrURL, filename, mapName string) (int, error) {
	text := contentOrURL
	if fetch.IsAbsolute(strings.TrimSpace(contentOrURL)) {
		ref := strings.TrimSpace(contentOrURL)
		resp, err := d.fetcher.Fetch(ctx, ref)
		if err != nil {
			return 0, fmt.Errorf("unable to get stylesheet: %w", err)
		}
		if text, err = resp.Text(); err != nil {
			return 0, fmt.Errorf("stylesheet %s: %w", ref, err)
		}
	}

	processed, err := d.processStyle(ctx, text)
	if err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if len(filename) == 0 || name == "." || name == "/" {
		name = fmt.Sprintf("style_%d.css", d.counters.next(&d.counters.style))
	}

	d.seq++
	s := &StyleSheet{
		Index:    index,
		Filename: stylesDir + "/" + name,
		MapName:  mapName,
		seq:      d.seq,
	}
	if !d.store.register(s.Filename, []byte(processed)) {
		d.log.Debug("Stylesheet file already registered", zap.String("file", s.Filename))
	}
	d.styles = append(d.styles, s)
	return index, nil
}

// CreateCSSMap registers named stylesheets. Indexes are assigned past the
// largest one in use (starting with 1) in natural order of names.
func (d *Document) CreateCSSMap(ctx context.Context, styles map[string]string) (map[string]int, error) {
	names := make([]string, 0, len(styles))
	for name := range styles {
		names = append(names, name)
	}
	slices.SortFunc(names, naturalCompare)

	d.mu.Lock()
	next := 1
	for _, s := range d.styles {
		next = max(next, s.Index+1)
	}
	d.mu.Unlock()

	res := make(map[string]int, len(names))
	for _, name := range names {
		idx, err := d.AddCSS(ctx, next, styles[name], "", name)
		if err != nil {
			return res, fmt.Errorf("stylesheet %q: %w", name, err)
		}
		res[name] = idx
		next++
	}
	return res, nil
}
