// Package manifest reads YAML description of a book and drives its assembly.
package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rupor-github/gencfg"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"epubgen/book"
	"epubgen/common"
	"epubgen/fetch"
)

var errSource = errors.New("exactly one of file, url or content must be specified")

// Source is where some text comes from: file relative to the manifest,
// absolute URL or inline content.
type Source struct {
	File    string `yaml:"file,omitempty"`
	URL     string `yaml:"url,omitempty" validate:"omitempty,url"`
	Content string `yaml:"content,omitempty"`
}

func (s *Source) check() error {
	n := 0
	for _, v := range []string{s.File, s.URL, s.Content} {
		if len(v) > 0 {
			n++
		}
	}
	if n != 1 {
		return errSource
	}
	return nil
}

// text returns content of the source, fetching and reading as necessary.
func (s *Source) text(ctx context.Context, dir string, f fetch.Fetcher) (string, error) {
	switch {
	case len(s.Content) > 0:
		return s.Content, nil
	case len(s.URL) > 0:
		resp, err := f.Fetch(ctx, s.URL)
		if err != nil {
			return "", err
		}
		return resp.Text()
	}
	data, err := os.ReadFile(resolve(dir, s.File))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

type Stylesheet struct {
	Index    int    `yaml:"index"`
	Name     string `yaml:"name,omitempty"`
	Filename string `yaml:"filename,omitempty"`
	Source   `yaml:",inline"`
}

type Chapter struct {
	Title           string   `yaml:"title"`
	Index           *int     `yaml:"index,omitempty"`
	Type            string   `yaml:"type,omitempty" validate:"omitempty,oneof=html text"`
	NoTitle         bool     `yaml:"no_title,omitempty"`
	NoGlobalCSS     bool     `yaml:"no_global_css,omitempty"`
	Stylesheets     []int    `yaml:"stylesheets,omitempty"`
	StylesheetNames []string `yaml:"stylesheet_names,omitempty"`
	Source          `yaml:",inline"`
}

type Volume struct {
	Title    string    `yaml:"title" validate:"required"`
	Index    *int      `yaml:"index,omitempty"`
	Chapters []Chapter `yaml:"chapters" validate:"dive"`
}

// Manifest describes a book.
type Manifest struct {
	Title            string            `yaml:"title"`
	Author           string            `yaml:"author,omitempty"`
	Introduction     string            `yaml:"introduction,omitempty"`
	Language         string            `yaml:"language,omitempty" validate:"omitempty,bcp47_language_tag"`
	Cover            string            `yaml:"cover,omitempty"`
	Metadata         map[string]string `yaml:"metadata,omitempty"`
	Stylesheets      []Stylesheet      `yaml:"stylesheets,omitempty" validate:"dive"`
	NamedStylesheets map[string]Source `yaml:"named_stylesheets,omitempty"`
	Volumes          []Volume          `yaml:"volumes" validate:"required,min=1,dive"`

	// directory relative paths are resolved against
	dir string
}

// Parse decodes manifest, relative paths will be resolved against dir.
func Parse(data []byte, dir string) (*Manifest, error) {
	m := &Manifest{dir: dir}

	// unknown keys are most likely typos, do not ignore them
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("failed to decode book manifest: %w", err)
	}
	if err := gencfg.Validate(m); err != nil {
		return nil, fmt.Errorf("bad book manifest: %w", err)
	}

	for i := range m.Stylesheets {
		if err := m.Stylesheets[i].check(); err != nil {
			return nil, fmt.Errorf("stylesheet %d: %w", i+1, err)
		}
	}
	for name, src := range m.NamedStylesheets {
		if err := src.check(); err != nil {
			return nil, fmt.Errorf("stylesheet %q: %w", name, err)
		}
	}
	for i := range m.Volumes {
		for j := range m.Volumes[i].Chapters {
			if err := m.Volumes[i].Chapters[j].check(); err != nil {
				return nil, fmt.Errorf("volume %d chapter %d: %w", i+1, j+1, err)
			}
		}
	}
	return m, nil
}

// Load reads manifest from file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read book manifest: %w", err)
	}
	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve book manifest location: %w", err)
	}
	return Parse(data, dir)
}

func resolve(dir, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, filepath.FromSlash(name))
}

func indexOr(idx *int, def int) int {
	if idx != nil {
		return *idx
	}
	return def
}

// Apply fills document according to manifest. Text of chapters and
// stylesheets given by URL is retrieved with f.
func (m *Manifest) Apply(ctx context.Context, d *book.Document, f fetch.Fetcher, log *zap.Logger) error {
	for tag, value := range map[string]string{
		book.TagTitle:        m.Title,
		book.TagAuthor:       m.Author,
		book.TagIntroduction: m.Introduction,
		book.TagLanguage:     m.Language,
	} {
		if len(value) == 0 {
			continue
		}
		if err := d.SetMetadata(ctx, tag, value); err != nil {
			return err
		}
	}
	for tag, value := range m.Metadata {
		if err := d.SetMetadata(ctx, tag, value); err != nil {
			return fmt.Errorf("metadata %q: %w", tag, err)
		}
	}

	if err := m.applyCover(ctx, d); err != nil {
		return err
	}

	for i, s := range m.Stylesheets {
		src := s.URL
		if len(src) == 0 {
			var err error
			if src, err = s.text(ctx, m.dir, f); err != nil {
				return fmt.Errorf("stylesheet %d: %w", i+1, err)
			}
		}
		if _, err := d.AddCSS(ctx, s.Index, src, s.Filename, s.Name); err != nil {
			return fmt.Errorf("stylesheet %d: %w", i+1, err)
		}
	}

	if len(m.NamedStylesheets) > 0 {
		named := make(map[string]string, len(m.NamedStylesheets))
		for name, s := range m.NamedStylesheets {
			src := s.URL
			if len(src) == 0 {
				var err error
				if src, err = s.text(ctx, m.dir, f); err != nil {
					return fmt.Errorf("stylesheet %q: %w", name, err)
				}
			}
			named[name] = src
		}
		if _, err := d.CreateCSSMap(ctx, named); err != nil {
			return err
		}
	}

	for i, mv := range m.Volumes {
		v := d.AddVolume(mv.Title, indexOr(mv.Index, i+1))
		for j, mc := range mv.Chapters {
			if err := m.applyChapter(ctx, v, indexOr(mc.Index, j+1), &mc, f); err != nil {
				return fmt.Errorf("volume %q chapter %d: %w", mv.Title, j+1, err)
			}
		}
		log.Debug("Volume added", zap.String("title", mv.Title), zap.Int("chapters", len(mv.Chapters)))
	}
	return nil
}

func (m *Manifest) applyCover(ctx context.Context, d *book.Document) error {
	if len(m.Cover) == 0 {
		return nil
	}
	if fetch.IsAbsolute(m.Cover) {
		return d.SetMetadata(ctx, book.TagCover, m.Cover)
	}
	data, err := os.ReadFile(resolve(m.dir, m.Cover))
	if err != nil {
		return fmt.Errorf("unable to read cover: %w", err)
	}
	d.SetCoverImage(data, "")
	return nil
}

func (m *Manifest) applyChapter(ctx context.Context, v *book.Volume, index int, mc *Chapter, f fetch.Fetcher) error {
	text, err := mc.text(ctx, m.dir, f)
	if err != nil {
		return err
	}

	ct := common.ContentTypeHtml
	if len(mc.Type) > 0 {
		if ct, err = common.ParseContentType(strings.ToLower(mc.Type)); err != nil {
			return err
		}
	}

	var opts []book.ChapterOption
	if mc.NoTitle {
		opts = append(opts, book.WithoutTitle())
	}
	if mc.NoGlobalCSS {
		opts = append(opts, book.WithoutGlobalCSS())
	}
	if len(mc.Stylesheets) > 0 {
		opts = append(opts, book.WithStylesheets(mc.Stylesheets...))
	}
	if len(mc.StylesheetNames) > 0 {
		opts = append(opts, book.WithStylesheetNames(mc.StylesheetNames...))
	}

	_, err = v.AddChapter(ctx, index, text, mc.Title, ct, opts...)
	return err
}
