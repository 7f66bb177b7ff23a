package book

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/maruel/natural"

	"epubgen/fetch"
)

const (
	imagesDir = "images"
	stylesDir = "styles"
)

// resourceStore maps archive paths (relative to content directory) to
// their data. First registration for a path wins, later ones are ignored.
type resourceStore struct {
	entries map[string][]byte
}

func newResourceStore() *resourceStore {
	return &resourceStore{entries: make(map[string][]byte)}
}

// register returns false if path was already taken.
func (s *resourceStore) register(p string, data []byte) bool {
	if _, exists := s.entries[p]; exists {
		return false
	}
	s.entries[p] = data
	return true
}

func (s *resourceStore) get(p string) ([]byte, bool) {
	data, ok := s.entries[p]
	return data, ok
}

func (s *resourceStore) has(p string) bool {
	_, ok := s.entries[p]
	return ok
}

// paths returns all registered paths in natural order.
func (s *resourceStore) paths() []string {
	res := make([]string, 0, len(s.entries))
	for p := range s.entries {
		res = append(res, p)
	}
	slices.SortFunc(res, naturalCompare)
	return res
}

func naturalCompare(a, b string) int {
	switch {
	case natural.Less(a, b):
		return -1
	case natural.Less(b, a):
		return 1
	}
	return strings.Compare(a, b)
}

// urlIndex remembers where external resource ended up in the archive, so it
// is fetched and stored only once.
type urlIndex map[string]string

func (u urlIndex) resolve(ref string) (string, bool) {
	p, ok := u[ref]
	return p, ok
}

func (u urlIndex) record(ref, p string) {
	if _, exists := u[ref]; !exists {
		u[ref] = p
	}
}

// counters are used to generate names for resources, they never go back.
type counters struct {
	image, style, other int
}

func (c *counters) next(v *int) int {
	*v++
	return *v
}

// storeExternal registers fetched resource under a freshly generated name
// unless the same url was stored already. Must be called with document lock
// held.
func (d *Document) storeExternal(ref string, data []byte, name func() string) string {
	if p, ok := d.urls.resolve(ref); ok {
		return p
	}
	p := name()
	for !d.store.register(p, data) {
		// generated name collides with something caller registered
		p = name()
	}
	d.urls.record(ref, p)
	return p
}

func (d *Document) imageName(ext string) func() string {
	return func() string {
		return fmt.Sprintf("%s/image_%d.%s", imagesDir, d.counters.next(&d.counters.image), ext)
	}
}

func (d *Document) styleResourceName(ext string) func() string {
	return func() string {
		return fmt.Sprintf("%s/res_%d.%s", stylesDir, d.counters.next(&d.counters.other), ext)
	}
}

var imageTypes = map[string]string{
	"image/jpeg":    "jpg",
	"image/jpg":     "jpg",
	"image/pjpeg":   "jpg",
	"image/png":     "png",
	"image/gif":     "gif",
	"image/svg+xml": "svg",
	"image/webp":    "webp",
	"image/bmp":     "bmp",
	"image/tiff":    "tiff",
	"image/avif":    "avif",
}

var imageExtensions = map[string]string{
	"jpg":  "jpg",
	"jpeg": "jpg",
	"png":  "png",
	"gif":  "gif",
	"svg":  "svg",
	"webp": "webp",
	"bmp":  "bmp",
	"tif":  "tiff",
	"tiff": "tiff",
}

// imageExtension derives file extension from response content type, then
// from url path, defaulting to bin. Known image extensions are normalized.
func imageExtension(contentType, ref string) string {
	if ext, ok := imageTypes[fetch.MediaType(contentType)]; ok {
		return ext
	}
	ext := urlExtension(ref)
	if norm, ok := imageExtensions[ext]; ok {
		return norm
	}
	if len(ext) > 0 {
		return ext
	}
	return "bin"
}

// urlExtension returns lowercased extension of url path without the dot or
// empty string when there is no sensible one.
func urlExtension(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), "."))
	if len(ext) == 0 || len(ext) > 5 {
		return ""
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

var mediaTypes = map[string]string{
	"xhtml": "application/xhtml+xml",
	"html":  "application/xhtml+xml",
	"css":   "text/css",
	"jpg":   "image/jpeg",
	"jpeg":  "image/jpeg",
	"png":   "image/png",
	"gif":   "image/gif",
	"svg":   "image/svg+xml",
	"webp":  "image/webp",
	"bmp":   "image/bmp",
	"tiff":  "image/tiff",
	"avif":  "image/avif",
	"ttf":   "font/ttf",
	"otf":   "font/otf",
	"woff":  "font/woff",
	"woff2": "font/woff2",
	"ncx":   "application/x-dtbncx+xml",
	"js":    "application/javascript",
	"mp3":   "audio/mpeg",
	"mp4":   "video/mp4",
}

// mediaType returns manifest media type for archive path.
func mediaType(p string) string {
	if mt, ok := mediaTypes[strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))]; ok {
		return mt
	}
	return "application/octet-stream"
}

// relativeTo returns target path as seen from dir, both relative to content
// directory.
func relativeTo(dir, target string) string {
	rel, err := filepath.Rel(filepath.FromSlash(dir), filepath.FromSlash(target))
	if err != nil {
		return target
	}
	return filepath.ToSlash(rel)
}
