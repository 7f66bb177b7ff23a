package book

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"epubgen/fetch"
)

func TestNew_Defaults(t *testing.T) {
	d := New()
	if _, err := uuid.Parse(d.ID()); err != nil {
		t.Errorf("ID() = %q is not uuid: %v", d.ID(), err)
	}
	if other := New(); other.ID() == d.ID() {
		t.Error("two documents share identifier")
	}
	m := d.Metadata()
	if m.Language != "en" {
		t.Errorf("Language = %q, want en", m.Language)
	}
	if d.placeholders.Title == "" || d.placeholders.Author == "" {
		t.Error("placeholders are not set")
	}
}

func TestNew_Options(t *testing.T) {
	d := New(WithIdentifier("fixed"), WithLanguage("ru-RU"), WithConcurrency(0), WithLanguage("not a tag!"))
	if d.ID() != "fixed" {
		t.Errorf("ID() = %q", d.ID())
	}
	if d.Metadata().Language != "ru-RU" {
		t.Errorf("Language = %q, want ru-RU", d.Metadata().Language)
	}
	if d.concurrency != 8 {
		t.Errorf("concurrency = %d, want default", d.concurrency)
	}
}

func TestSetMetadata(t *testing.T) {
	d := newTestDocument(t, newFakeFetcher(nil))
	ctx := context.Background()

	for tag, value := range map[string]string{
		TagTitle:        "Book",
		TagAuthor:       "Writer",
		TagIntroduction: "About",
		TagLanguage:     "de",
		"publisher":     "House",
	} {
		if err := d.SetMetadata(ctx, tag, value); err != nil {
			t.Fatalf("SetMetadata(%s) error = %v", tag, err)
		}
	}
	m := d.Metadata()
	if m.Title != "Book" || m.Author != "Writer" || m.Description != "About" || m.Language != "de" {
		t.Errorf("Metadata() = %+v", m)
	}
	if m.Extra["publisher"] != "House" {
		t.Errorf("Extra = %v", m.Extra)
	}

	if err := d.SetMetadata(ctx, TagLanguage, "??"); err == nil {
		t.Error("bad language accepted")
	}
}

func TestSetMetadata_Cover(t *testing.T) {
	f := newFakeFetcher(map[string]fetch.Response{
		"https://img/cover.jpg": {ContentType: "image/jpeg", Body: []byte("cover")},
	})
	d := newTestDocument(t, f)
	ctx := context.Background()

	if err := d.SetMetadata(ctx, TagCover, "cover.jpg"); !errors.Is(err, ErrNotAbsolute) {
		t.Errorf("relative cover error = %v, want ErrNotAbsolute", err)
	}

	var se *fetch.StatusError
	if err := d.SetMetadata(ctx, TagCover, "https://img/none.jpg"); !errors.As(err, &se) || se.Status != 404 {
		t.Errorf("missing cover error = %v, want status error", err)
	}

	if err := d.SetMetadata(ctx, TagCover, "https://img/cover.jpg"); err != nil {
		t.Fatalf("SetMetadata(cover) error = %v", err)
	}
	m := d.Metadata()
	if string(m.Cover) != "cover" || m.CoverType != "image/jpeg" {
		t.Errorf("cover = %q (%s)", m.Cover, m.CoverType)
	}
}
