// Package book assembles EPUB container from volumes and chapters made of
// arbitrary HTML fragments. Resources referenced by content (images, assets
// of stylesheets, cover) are fetched, deduplicated by their external URL and
// packed together with generated package, navigation map and navigation
// documents.
//
// Document is meant to be filled by a single writer and finalized once,
// however counters and registries are guarded, so concurrent AddChapter
// calls never produce colliding resource names.
package book

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"epubgen/config"
	"epubgen/fetch"
)

// Metadata tags recognized by SetMetadata. Any other tag is kept as is and
// written into package document as generic meta element.
const (
	TagCover        = "cover"
	TagTitle        = "bookname"
	TagAuthor       = "author"
	TagIntroduction = "introduction"
	TagLanguage     = "language"
)

const defaultLanguage = "en"

// ErrNotAbsolute is returned when resource which must be fetched is not
// referenced by absolute http(s) URL.
var ErrNotAbsolute = errors.New("not an absolute http(s) URL")

// Placeholders are used in generated documents when caller did not supply
// corresponding metadata.
type Placeholders struct {
	Title       string
	Author      string
	Description string
}

// Metadata describes the book.
type Metadata struct {
	Title       string
	Author      string
	Description string
	Language    string
	Cover       []byte
	CoverType   string
	Extra       map[string]string
}

// Document is a book being assembled.
type Document struct {
	log          *zap.Logger
	fetcher      fetch.Fetcher
	listener     Listener
	secure       bool
	concurrency  int
	now          func() time.Time
	fixZip       bool
	placeholders Placeholders
	id           string

	mu       sync.Mutex
	store    *resourceStore
	urls     urlIndex
	counters counters
	meta     Metadata
	volumes  []*Volume
	styles   []*StyleSheet
	seq      int
}

// Option configures Document.
type Option func(*Document)

// WithFetcher sets retriever of external resources.
func WithFetcher(f fetch.Fetcher) Option {
	return func(d *Document) { d.fetcher = f }
}

func WithLogger(log *zap.Logger) Option {
	return func(d *Document) {
		if log != nil {
			d.log = log
		}
	}
}

// WithListener subscribes to advisory events - recoverable problems which
// do not stop assembly.
func WithListener(l Listener) Option {
	return func(d *Document) { d.listener = l }
}

// WithSecureContext makes document upgrade plain http image references to
// https before fetching.
func WithSecureContext(secure bool) Option {
	return func(d *Document) { d.secure = secure }
}

// WithConcurrency limits number of simultaneous image fetches per chapter.
func WithConcurrency(n int) Option {
	return func(d *Document) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Document) { d.now = now }
}

func WithPlaceholders(p Placeholders) Option {
	return func(d *Document) { d.placeholders = p }
}

// WithFixZip requests produced archive to be rewritten without data
// descriptors.
func WithFixZip(fix bool) Option {
	return func(d *Document) { d.fixZip = fix }
}

// WithLanguage sets book language, invalid tags are ignored.
func WithLanguage(lang string) Option {
	return func(d *Document) {
		if tag, err := language.Parse(lang); err == nil {
			d.meta.Language = tag.String()
		}
	}
}

// WithIdentifier overrides generated unique book identifier.
func WithIdentifier(id string) Option {
	return func(d *Document) {
		if id != "" {
			d.id = id
		}
	}
}

// New creates empty document. Unique identifier is generated once and used
// by every generated document referring to the book.
func New(opts ...Option) *Document {
	d := &Document{
		log:         zap.NewNop(),
		concurrency: 8,
		now:         time.Now,
		placeholders: Placeholders{
			Title:  "Untitled",
			Author: "Unknown author",
		},
		store: newResourceStore(),
		urls:  make(urlIndex),
		meta:  Metadata{Language: defaultLanguage, Extra: make(map[string]string)},
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.id == "" {
		id, err := uuid.NewV7()
		if err != nil {
			id = uuid.New()
		}
		d.id = id.String()
	}
	d.log = d.log.Named("book")
	if d.fetcher == nil {
		d.fetcher = fetch.NewHTTP(&config.FetchConfig{}, d.log)
	}
	return d
}

// ID returns unique book identifier.
func (d *Document) ID() string {
	return d.id
}

// Metadata returns copy of current book metadata.
func (d *Document) Metadata() Metadata {
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.meta
	m.Extra = maps.Clone(d.meta.Extra)
	return m
}

// SetMetadata sets book property. Cover is expected to be absolute URL and
// is fetched right away - failure to get it is returned to the caller. Use
// SetCoverImage to supply cover data directly.
func (d *Document) SetMetadata(ctx context.Context, tag, value string) error {
	switch tag {
	case TagCover:
		if !fetch.IsAbsolute(value) {
			return fmt.Errorf("cover %q: %w", value, ErrNotAbsolute)
		}
		resp, err := d.fetcher.Fetch(ctx, value)
		if err != nil {
			return fmt.Errorf("unable to get cover image: %w", err)
		}
		d.SetCoverImage(resp.Body, resp.ContentType)
		return nil
	case TagLanguage:
		lang, err := language.Parse(value)
		if err != nil {
			return fmt.Errorf("bad language tag %q: %w", value, err)
		}
		value = lang.String()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch tag {
	case TagTitle:
		d.meta.Title = value
	case TagAuthor:
		d.meta.Author = value
	case TagIntroduction:
		d.meta.Description = value
	case TagLanguage:
		d.meta.Language = value
	default:
		d.meta.Extra[tag] = value
	}
	return nil
}

// SetCoverImage supplies cover data. Content type is optional and used only
// when image format could not be detected from data.
func (d *Document) SetCoverImage(data []byte, contentType string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.meta.Cover, d.meta.CoverType = data, contentType
}
