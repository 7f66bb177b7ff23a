package book

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"path"
	"slices"
	"strings"
	"testing"

	"epubgen/common"
	"epubgen/fetch"
)

func pngImage(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func buildSampleBook(t *testing.T, opts ...Option) *Document {
	t.Helper()
	f := newFakeFetcher(map[string]fetch.Response{
		"https://img/pic.jpg":   {ContentType: "image/jpeg", Body: []byte("jpeg")},
		"https://fonts/a.woff2": {Body: []byte("font")},
	})
	d := newTestDocument(t, f, opts...)
	ctx := context.Background()

	for tag, value := range map[string]string{TagTitle: "Sample & <Book>", TagAuthor: "Ann Author", TagIntroduction: "Short"} {
		if err := d.SetMetadata(ctx, tag, value); err != nil {
			t.Fatal(err)
		}
	}
	d.SetCoverImage(pngImage(t, 2, 3), "")
	if _, err := d.AddCSS(ctx, 0, `@font-face { src: url(https://fonts/a.woff2) }`, "", ""); err != nil {
		t.Fatal(err)
	}

	v2 := d.AddVolume("Second", 2)
	v1 := d.AddVolume("First", 1)
	for _, ch := range []struct {
		v       *Volume
		idx     int
		content string
	}{
		{v1, 2, `<p>two <img src="https://img/pic.jpg"></p>`},
		{v1, 1, `<html><body><article><p>one</p><img src="https://img/pic.jpg"></article></body></html>`},
		{v2, 1, "plain text"},
	} {
		if _, err := ch.v.AddChapter(ctx, ch.idx, ch.content, "Chapter", common.ContentTypeHtml); err != nil {
			t.Fatal(err)
		}
	}
	return d
}

func TestFinalize_Layout(t *testing.T) {
	d := buildSampleBook(t)
	out, err := d.Finalize(context.Background())
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	r, files := readArchive(t, out)

	first := r.File[0]
	if first.Name != "mimetype" || first.Method != zip.Store || string(files["mimetype"]) != "application/epub+zip" {
		t.Fatalf("first entry = %s (method %d)", first.Name, first.Method)
	}

	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	head := []string{"mimetype", "META-INF/container.xml", "OEBPS/content.opf", "OEBPS/toc.ncx"}
	if !slices.Equal(names[:4], head) {
		t.Errorf("archive starts with %v", names[:4])
	}
	if names[len(names)-1] != "OEBPS/nav.xhtml" {
		t.Errorf("archive ends with %s", names[len(names)-1])
	}
	want := []string{
		"OEBPS/chapter_1_1.xhtml", "OEBPS/chapter_1_2.xhtml", "OEBPS/chapter_2_1.xhtml",
		"OEBPS/cover.xhtml", "OEBPS/images/cover.png", "OEBPS/images/image_1.jpg",
		"OEBPS/styles/res_1.woff2", "OEBPS/styles/style_1.css", "OEBPS/volume_1.xhtml", "OEBPS/volume_2.xhtml",
	}
	if got := names[4 : len(names)-1]; !slices.Equal(got, want) {
		t.Errorf("stored entries = %v, want %v", got, want)
	}

	container := parseXML(t, files["META-INF/container.xml"])
	if rf := container.FindElement("//rootfile"); rf == nil || rf.SelectAttrValue("full-path", "") != "OEBPS/content.opf" {
		t.Error("container does not point to package document")
	}

	opf := parseXML(t, files["OEBPS/content.opf"])
	if e := opf.FindElement("//dc:identifier"); e == nil || e.Text() != "urn:uuid:"+d.ID() {
		t.Error("identifier mismatch")
	}
	if e := opf.FindElement("//dc:title"); e == nil || e.Text() != "Sample & <Book>" {
		t.Error("title does not survive escaping")
	}

	// every manifest entry exists, every stored file is in manifest
	ids := make(map[string]string)
	manifested := make(map[string]bool)
	for _, item := range opf.FindElements("//manifest/item") {
		href := item.SelectAttrValue("href", "")
		if _, ok := files["OEBPS/"+href]; !ok {
			t.Errorf("manifest refers to missing %s", href)
		}
		ids[item.SelectAttrValue("id", "")] = href
		manifested[href] = true
	}
	for name := range files {
		if rel, ok := strings.CutPrefix(name, "OEBPS/"); ok && rel != "content.opf" && !manifested[rel] {
			t.Errorf("%s is not in manifest", rel)
		}
	}
	if cover := opf.FindElement("//manifest/item[@properties='cover-image']"); cover == nil || cover.SelectAttrValue("href", "") != "images/cover.png" {
		t.Error("cover image is not marked")
	}

	var spine []string
	for _, ref := range opf.FindElements("//spine/itemref") {
		href, ok := ids[ref.SelectAttrValue("idref", "")]
		if !ok {
			t.Errorf("spine refers to unknown id %s", ref.SelectAttrValue("idref", ""))
		}
		spine = append(spine, href)
	}
	if want := []string{"cover.xhtml", "chapter_1_1.xhtml", "chapter_1_2.xhtml", "chapter_2_1.xhtml"}; !slices.Equal(spine, want) {
		t.Errorf("spine = %v, want %v", spine, want)
	}

	ncx := parseXML(t, files["OEBPS/toc.ncx"])
	var srcs []string
	for _, c := range ncx.FindElements("//content") {
		src := c.SelectAttrValue("src", "")
		if _, ok := files["OEBPS/"+src]; !ok {
			t.Errorf("ncx refers to missing %s", src)
		}
		srcs = append(srcs, src)
	}
	if want := []string{"volume_1.xhtml", "chapter_1_1.xhtml", "chapter_1_2.xhtml", "volume_2.xhtml", "chapter_2_1.xhtml"}; !slices.Equal(srcs, want) {
		t.Errorf("ncx order = %v, want %v", srcs, want)
	}
	if e := ncx.FindElement("//head/meta[@name='dtb:uid']"); e == nil || e.SelectAttrValue("content", "") != "urn:uuid:"+d.ID() {
		t.Error("ncx uid mismatch")
	}

	nav := parseXML(t, files["OEBPS/nav.xhtml"])
	for _, a := range nav.FindElements("//a") {
		if href := a.SelectAttrValue("href", ""); files["OEBPS/"+href] == nil {
			t.Errorf("nav refers to missing %s", href)
		}
	}

	cover := parseXML(t, files["OEBPS/cover.xhtml"])
	if svg := cover.FindElement("//svg"); svg == nil || svg.SelectAttrValue("viewBox", "") != "0 0 2 3" {
		t.Error("cover page does not use image dimensions")
	}

	css := string(files["OEBPS/styles/style_1.css"])
	if !strings.Contains(css, "url(res_1.woff2)") {
		t.Errorf("stylesheet not localized: %s", css)
	}
	for _, ch := range []string{"chapter_1_1.xhtml", "chapter_1_2.xhtml"} {
		page := parseXML(t, files["OEBPS/"+ch])
		img := page.FindElement("//img")
		if img == nil || img.SelectAttrValue("src", "") != "images/image_1.jpg" {
			t.Errorf("%s image is not localized", ch)
		}
		if l := page.FindElement("//link"); l == nil || path.Clean(l.SelectAttrValue("href", "")) != "styles/style_1.css" {
			t.Errorf("%s does not link global stylesheet", ch)
		}
	}
}

func TestFinalize_Repeatable(t *testing.T) {
	d := buildSampleBook(t)
	first, err := d.Finalize(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	second, err := d.Finalize(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Error("repeated Finalize() produced different archive")
	}
}

func TestFinalize_FixZip(t *testing.T) {
	d := buildSampleBook(t, WithFixZip(true))
	out, err := d.Finalize(context.Background())
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	r, files := readArchive(t, out)
	for _, f := range r.File {
		if f.Flags&0x8 != 0 {
			t.Errorf("%s still has data descriptor", f.Name)
		}
	}
	if r.File[0].Name != "mimetype" || r.File[0].Method != zip.Store {
		t.Error("mimetype is not first stored entry")
	}
	if _, ok := files["OEBPS/nav.xhtml"]; !ok {
		t.Error("entries lost")
	}
}

func TestFinalize_Empty(t *testing.T) {
	d := newTestDocument(t, newFakeFetcher(nil))
	out, err := d.Finalize(context.Background())
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	_, files := readArchive(t, out)
	if len(files) != 5 {
		t.Errorf("empty book has %d entries", len(files))
	}
	opf := parseXML(t, files["OEBPS/content.opf"])
	if e := opf.FindElement("//dc:title"); e == nil || e.Text() != "Untitled" {
		t.Error("title placeholder not used")
	}
}

func TestFinalize_Cancelled(t *testing.T) {
	d := newTestDocument(t, newFakeFetcher(nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Finalize(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Finalize() error = %v, want context.Canceled", err)
	}
}

func TestCoverExtension(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		ct   string
		want string
	}{
		{"png signature", pngImage(t, 1, 1), "image/jpeg", "png"},
		{"jpeg signature", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0x10, 'J', 'F', 'I', 'F'}, "", "jpg"},
		{"content type", []byte("not an image"), "image/gif", "gif"},
		{"default", []byte("not an image"), "", "jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := coverExtension(tt.data, tt.ct); got != tt.want {
				t.Errorf("coverExtension() = %q, want %q", got, tt.want)
			}
		})
	}
}
