package book

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/beevik/etree"
)

const (
	contentDir    = "OEBPS"
	mimetypeValue = "application/epub+zip"
	packageFile   = "content.opf"
	ncxFile       = "toc.ncx"
	navFile       = "nav.xhtml"
)

type volumeView struct {
	Volume
	chapters []Chapter
}

// snapshot is consistent view of the document used by generators, so they
// do not need any locking.
type snapshot struct {
	id           string
	meta         Metadata
	placeholders Placeholders
	modified     time.Time
	volumes      []volumeView
	paths        []string
	data         map[string][]byte
	ids          map[string]string
	coverImage   string
	coverPage    string
}

// snapshot must be called with document lock held.
func (d *Document) snapshot(coverImage, coverPage string) *snapshot {
	s := &snapshot{
		id:           d.id,
		meta:         d.meta,
		placeholders: d.placeholders,
		modified:     d.now().UTC().Truncate(time.Second),
		paths:        d.store.paths(),
		data:         maps.Clone(d.store.entries),
		coverImage:   coverImage,
		coverPage:    coverPage,
	}
	s.meta.Extra = maps.Clone(d.meta.Extra)
	for _, v := range d.sortedVolumes() {
		s.volumes = append(s.volumes, volumeView{Volume: *v, chapters: v.sortedChapters()})
	}
	s.ids = manifestIDs(s.paths, coverImage, coverPage)
	return s
}

func (d *Document) title() string {
	if len(d.meta.Title) > 0 {
		return d.meta.Title
	}
	return d.placeholders.Title
}

func (s *snapshot) title() string {
	if len(s.meta.Title) > 0 {
		return s.meta.Title
	}
	return s.placeholders.Title
}

func (s *snapshot) author() string {
	if len(s.meta.Author) > 0 {
		return s.meta.Author
	}
	return s.placeholders.Author
}

func (s *snapshot) description() string {
	if len(s.meta.Description) > 0 {
		return s.meta.Description
	}
	return s.placeholders.Description
}

func (s *snapshot) has(p string) bool {
	_, ok := s.data[p]
	return ok
}

// volumeTarget is where navigation entry for the volume leads: its container
// page, its first chapter or nowhere.
func (s *snapshot) volumeTarget(v *volumeView) string {
	if s.has(v.Filename) {
		return v.Filename
	}
	for _, c := range v.chapters {
		if s.has(c.Filename) {
			return c.Filename
		}
	}
	return ""
}

// manifestIDs assigns unique XML ids to every stored path.
func manifestIDs(paths []string, coverImage, coverPage string) map[string]string {
	ids := make(map[string]string, len(paths))
	used := map[string]bool{"nav": true, "ncx": true, "cover-image": true, "cover-page": true}
	for _, p := range paths {
		switch p {
		case coverImage:
			ids[p] = "cover-image"
			continue
		case coverPage:
			ids[p] = "cover-page"
			continue
		}
		base := sanitizeID(p)
		id := base
		for i := 2; used[id]; i++ {
			id = base + "-" + strconv.Itoa(i)
		}
		used[id] = true
		ids[p] = id
	}
	return ids
}

func sanitizeID(p string) string {
	b := []byte(p)
	for i, c := range b {
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') && c != '-' && c != '_' && c != '.' {
			b[i] = '_'
		}
	}
	if len(b) == 0 || (b[0] >= '0' && b[0] <= '9') || b[0] == '-' || b[0] == '.' {
		return "id_" + string(b)
	}
	return string(b)
}

func itemProperties(s *snapshot, p string) string {
	switch p {
	case s.coverImage:
		return "cover-image"
	case s.coverPage:
		return "svg"
	}
	return ""
}

// packageDocument builds OPF: metadata, manifest of everything stored,
// spine of cover and chapters.
func packageDocument(s *snapshot) *etree.Document {
	doc := newXMLDocument()

	pkg := doc.CreateElement("package")
	pkg.CreateAttr("xmlns", "http://www.idpf.org/2007/opf")
	pkg.CreateAttr("unique-identifier", "BookId")
	pkg.CreateAttr("version", "3.0")

	metadata := pkg.CreateElement("metadata")
	metadata.CreateAttr("xmlns:dc", "http://purl.org/dc/elements/1.1/")
	metadata.CreateAttr("xmlns:opf", "http://www.idpf.org/2007/opf")

	identifier := metadata.CreateElement("dc:identifier")
	identifier.CreateAttr("id", "BookId")
	identifier.SetText("urn:uuid:" + s.id)

	metadata.CreateElement("dc:title").SetText(s.title())
	metadata.CreateElement("dc:language").SetText(s.meta.Language)

	creator := metadata.CreateElement("dc:creator")
	creator.CreateAttr("id", "creator0")
	creator.SetText(s.author())
	role := metadata.CreateElement("meta")
	role.CreateAttr("refines", "#creator0")
	role.CreateAttr("property", "role")
	role.CreateAttr("scheme", "marc:relators")
	role.SetText("aut")

	if desc := s.description(); len(desc) > 0 {
		metadata.CreateElement("dc:description").SetText(desc)
	}

	for _, name := range slices.Sorted(maps.Keys(s.meta.Extra)) {
		meta := metadata.CreateElement("meta")
		meta.CreateAttr("name", name)
		meta.CreateAttr("content", s.meta.Extra[name])
	}

	if len(s.coverImage) > 0 {
		// for EPUB2 readers
		meta := metadata.CreateElement("meta")
		meta.CreateAttr("name", "cover")
		meta.CreateAttr("content", s.ids[s.coverImage])
	}

	modified := metadata.CreateElement("meta")
	modified.CreateAttr("property", "dcterms:modified")
	modified.SetText(s.modified.Format("2006-01-02T15:04:05Z"))

	manifest := pkg.CreateElement("manifest")

	item := manifest.CreateElement("item")
	item.CreateAttr("id", "nav")
	item.CreateAttr("href", navFile)
	item.CreateAttr("media-type", "application/xhtml+xml")
	item.CreateAttr("properties", "nav")

	item = manifest.CreateElement("item")
	item.CreateAttr("id", "ncx")
	item.CreateAttr("href", ncxFile)
	item.CreateAttr("media-type", "application/x-dtbncx+xml")

	for _, p := range s.paths {
		item := manifest.CreateElement("item")
		item.CreateAttr("id", s.ids[p])
		item.CreateAttr("href", p)
		item.CreateAttr("media-type", mediaType(p))
		if props := itemProperties(s, p); len(props) > 0 {
			item.CreateAttr("properties", props)
		}
	}

	spine := pkg.CreateElement("spine")
	spine.CreateAttr("toc", "ncx")
	if len(s.coverPage) > 0 {
		spine.CreateElement("itemref").CreateAttr("idref", s.ids[s.coverPage])
	}

	// chapters sharing file are referenced once
	added := make(map[string]bool)
	for i := range s.volumes {
		for _, c := range s.volumes[i].chapters {
			if added[c.Filename] || !s.has(c.Filename) {
				continue
			}
			added[c.Filename] = true
			spine.CreateElement("itemref").CreateAttr("idref", s.ids[c.Filename])
		}
	}

	if len(s.coverPage) > 0 {
		guide := pkg.CreateElement("guide")
		ref := guide.CreateElement("reference")
		ref.CreateAttr("type", "cover")
		ref.CreateAttr("title", "Cover")
		ref.CreateAttr("href", s.coverPage)
	}
	return doc
}

// navigationMap builds NCX with volumes as top level points and chapters
// nested under them. Volumes with nowhere to point to are reported.
func navigationMap(s *snapshot) (*etree.Document, []Event) {
	doc := newXMLDocument()

	ncx := doc.CreateElement("ncx")
	ncx.CreateAttr("xmlns", "http://www.daisy.org/z3986/2005/ncx/")
	ncx.CreateAttr("version", "2005-1")

	depth := 1
	for i := range s.volumes {
		if len(s.volumes[i].chapters) > 0 {
			depth = 2
			break
		}
	}

	head := ncx.CreateElement("head")
	for _, m := range [][2]string{
		{"dtb:uid", "urn:uuid:" + s.id},
		{"dtb:depth", strconv.Itoa(depth)},
		{"dtb:totalPageCount", "0"},
		{"dtb:maxPageNumber", "0"},
	} {
		meta := head.CreateElement("meta")
		meta.CreateAttr("name", m[0])
		meta.CreateAttr("content", m[1])
	}

	ncx.CreateElement("docTitle").CreateElement("text").SetText(s.title())
	ncx.CreateElement("docAuthor").CreateElement("text").SetText(s.author())

	navMap := ncx.CreateElement("navMap")

	var (
		events    []Event
		playOrder int
	)
	navPoint := func(parent *etree.Element, label, src string) *etree.Element {
		playOrder++
		np := parent.CreateElement("navPoint")
		np.CreateAttr("id", fmt.Sprintf("navpoint-%d", playOrder))
		np.CreateAttr("playOrder", strconv.Itoa(playOrder))
		np.CreateElement("navLabel").CreateElement("text").SetText(label)
		if len(src) > 0 {
			np.CreateElement("content").CreateAttr("src", src)
		}
		return np
	}

	for i := range s.volumes {
		v := &s.volumes[i]
		target := s.volumeTarget(v)
		if len(target) == 0 {
			events = append(events, Event{Kind: EventNavigationHazard, Path: v.Filename})
		}
		np := navPoint(navMap, v.Title, target)
		for _, c := range v.chapters {
			navPoint(np, c.Title, c.Filename)
		}
	}
	return doc, events
}

// navigationDocument builds EPUB3 navigation document with the same
// structure as navigation map.
func navigationDocument(s *snapshot) *etree.Document {
	doc, _, body := newXHTMLDocument(s.title(), nil)

	nav := body.CreateElement("nav")
	nav.CreateAttr("epub:type", "toc")
	nav.CreateAttr("id", "toc")
	nav.CreateAttr("role", "doc-toc")
	nav.CreateElement("h1").SetText(s.title())

	link := func(parent *etree.Element, label, href string) {
		if len(href) == 0 {
			parent.CreateElement("span").SetText(label)
			return
		}
		a := parent.CreateElement("a")
		a.CreateAttr("href", href)
		a.SetText(label)
	}

	ol := nav.CreateElement("ol")
	for i := range s.volumes {
		v := &s.volumes[i]
		li := ol.CreateElement("li")
		link(li, v.Title, s.volumeTarget(v))
		if len(v.chapters) == 0 {
			continue
		}
		sub := li.CreateElement("ol")
		for _, c := range v.chapters {
			link(sub.CreateElement("li"), c.Title, c.Filename)
		}
	}

	landmarks := body.CreateElement("nav")
	landmarks.CreateAttr("epub:type", "landmarks")
	landmarks.CreateAttr("id", "landmarks")
	landmarks.CreateAttr("hidden", "")
	landmarks.CreateElement("h2").SetText("Landmarks")
	lol := landmarks.CreateElement("ol")
	if len(s.coverPage) > 0 {
		a := lol.CreateElement("li").CreateElement("a")
		a.CreateAttr("epub:type", "cover")
		a.CreateAttr("href", s.coverPage)
		a.SetText("Cover")
	}
	a := lol.CreateElement("li").CreateElement("a")
	a.CreateAttr("epub:type", "toc")
	a.CreateAttr("href", navFile)
	a.SetText("Table of Contents")

	return doc
}

// containerDocument points reading systems to the package document.
func containerDocument() *etree.Document {
	doc := newXMLDocument()

	container := doc.CreateElement("container")
	container.CreateAttr("version", "1.0")
	container.CreateAttr("xmlns", "urn:oasis:names:tc:opendocument:xmlns:container")

	rootfile := container.CreateElement("rootfiles").CreateElement("rootfile")
	rootfile.CreateAttr("full-path", contentDir+"/"+packageFile)
	rootfile.CreateAttr("media-type", "application/oebps-package+xml")
	return doc
}
