// Package verify checks consistency of assembled EPUB container: mandatory
// entries, package document references and navigation targets.
package verify

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
	"github.com/disiqueira/gotree/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"epubgen/archive"
)

const (
	mimetype     = "application/epub+zip"
	containerXML = "META-INF/container.xml"
	ncxMediaType = "application/x-dtbncx+xml"
)

// Report describes checked book.
type Report struct {
	Identifier string
	Title      string
	Entries    int
	Manifest   int
	// Spine lists archive paths in reading order.
	Spine []string
	// TOC is built from navigation map, nil if there is none.
	TOC gotree.Tree
}

type book struct {
	files map[string]*zip.File
	order []string
	log   *zap.Logger
}

func (b *book) parse(name string) (*xmlquery.Node, error) {
	f, ok := b.files[name]
	if !ok {
		return nil, fmt.Errorf("%s is missing", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("unable to open %s: %w", name, err)
	}
	defer rc.Close()

	doc, err := xmlquery.Parse(rc)
	if err != nil {
		return nil, fmt.Errorf("%s is not well formed: %w", name, err)
	}
	return doc, nil
}

// resolve turns reference found in document into archive path.
func resolve(from, href string) string {
	href, _, _ = strings.Cut(href, "#")
	return path.Join(path.Dir(from), href)
}

// compiled keeps expressions already compiled, all of them are constant.
var compiled sync.Map

func compile(expr string) *xpath.Expr {
	if e, ok := compiled.Load(expr); ok {
		return e.(*xpath.Expr)
	}
	e, _ := compiled.LoadOrStore(expr, xpath.MustCompile(expr))
	return e.(*xpath.Expr)
}

func query(top *xmlquery.Node, expr string) []*xmlquery.Node {
	return xmlquery.QuerySelectorAll(top, compile(expr))
}

func queryOne(top *xmlquery.Node, expr string) *xmlquery.Node {
	return xmlquery.QuerySelector(top, compile(expr))
}

// Check validates book archive. Report is returned whenever container could
// be read at all, problems found are combined into returned error.
func Check(data []byte, log *zap.Logger) (*Report, error) {
	if log == nil {
		log = zap.NewNop()
	}
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("unable to open book: %w", err)
	}

	b := &book{files: make(map[string]*zip.File), log: log.Named("verify")}
	if err := archive.Walk(r, "", func(f *zip.File) error {
		b.files[f.Name] = f
		b.order = append(b.order, f.Name)
		return nil
	}); err != nil {
		return nil, err
	}

	rpt := &Report{Entries: len(b.order)}
	errs := checkMimetype(r)

	container, err := b.parse(containerXML)
	if err != nil {
		return rpt, multierr.Append(errs, err)
	}
	rootfile := queryOne(container, "//rootfile[@media-type='application/oebps-package+xml']")
	if rootfile == nil {
		return rpt, multierr.Append(errs, fmt.Errorf("%s has no package rootfile", containerXML))
	}
	opfName := rootfile.SelectAttr("full-path")
	opf, err := b.parse(opfName)
	if err != nil {
		return rpt, multierr.Append(errs, err)
	}

	errs = multierr.Append(errs, b.checkPackage(rpt, opfName, opf))
	return rpt, errs
}

func checkMimetype(r *zip.Reader) error {
	if len(r.File) == 0 {
		return fmt.Errorf("archive is empty")
	}
	f := r.File[0]
	if f.Name != "mimetype" {
		return fmt.Errorf("first entry is %q, not mimetype", f.Name)
	}
	if f.Method != zip.Store {
		return fmt.Errorf("mimetype is compressed")
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("unable to open mimetype: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("unable to read mimetype: %w", err)
	}
	if string(data) != mimetype {
		return fmt.Errorf("unexpected mimetype %q", data)
	}
	return nil
}

type item struct {
	href       string
	mediaType  string
	properties []string
}

func (b *book) checkPackage(rpt *Report, opfName string, opf *xmlquery.Node) (errs error) {
	pkg := queryOne(opf, "/package")
	if pkg == nil {
		return fmt.Errorf("%s has no package element", opfName)
	}
	uid := pkg.SelectAttr("unique-identifier")
	ids := query(opf, "//metadata/*[local-name()='identifier']")
	if idx := slices.IndexFunc(ids, func(n *xmlquery.Node) bool { return n.SelectAttr("id") == uid }); idx >= 0 {
		rpt.Identifier = strings.TrimSpace(ids[idx].InnerText())
	} else {
		errs = multierr.Append(errs, fmt.Errorf("unique identifier %q is not defined", uid))
	}
	if title := queryOne(opf, "//metadata/*[local-name()='title']"); title != nil {
		rpt.Title = strings.TrimSpace(title.InnerText())
	}

	items := make(map[string]item)
	listed := make(map[string]bool)
	for _, n := range query(opf, "//manifest/item") {
		id, href := n.SelectAttr("id"), n.SelectAttr("href")
		if _, dup := items[id]; dup {
			errs = multierr.Append(errs, fmt.Errorf("manifest id %q is not unique", id))
		}
		it := item{href: resolve(opfName, href), mediaType: n.SelectAttr("media-type"), properties: strings.Fields(n.SelectAttr("properties"))}
		items[id] = it
		listed[it.href] = true
		if _, ok := b.files[it.href]; !ok {
			errs = multierr.Append(errs, fmt.Errorf("manifest item %q refers to missing %s", id, it.href))
		}
	}
	rpt.Manifest = len(items)

	base := path.Dir(opfName) + "/"
	for _, name := range b.order {
		if strings.HasPrefix(name, base) && name != opfName && !listed[name] {
			errs = multierr.Append(errs, fmt.Errorf("%s is not listed in manifest", name))
		}
	}

	for _, n := range query(opf, "//spine/itemref") {
		idref := n.SelectAttr("idref")
		it, ok := items[idref]
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("spine refers to unknown item %q", idref))
			continue
		}
		rpt.Spine = append(rpt.Spine, it.href)
	}

	for id, it := range items {
		switch {
		case it.mediaType == ncxMediaType:
			errs = multierr.Append(errs, b.checkNCX(rpt, it.href))
		case slices.Contains(it.properties, "nav"):
			errs = multierr.Append(errs, b.checkNav(it.href))
		default:
			continue
		}
		b.log.Debug("Navigation checked", zap.String("id", id), zap.String("file", it.href))
	}
	return errs
}

func (b *book) checkTargets(doc *xmlquery.Node, name, expr, attr string) (errs error) {
	for _, n := range query(doc, expr) {
		target := resolve(name, n.SelectAttr(attr))
		if _, ok := b.files[target]; !ok {
			errs = multierr.Append(errs, fmt.Errorf("%s refers to missing %s", name, target))
		}
	}
	return errs
}

func (b *book) checkNCX(rpt *Report, name string) error {
	doc, err := b.parse(name)
	if err != nil {
		return err
	}
	errs := b.checkTargets(doc, name, "//navPoint/content", "src")
	if uid := queryOne(doc, "//head/meta[@name='dtb:uid']"); uid == nil || uid.SelectAttr("content") != rpt.Identifier {
		errs = multierr.Append(errs, fmt.Errorf("%s identifier does not match package", name))
	}
	rpt.TOC = tocTree(rpt.Title, doc)
	return errs
}

func (b *book) checkNav(name string) error {
	doc, err := b.parse(name)
	if err != nil {
		return err
	}
	if queryOne(doc, "//nav[@id='toc']") == nil {
		return fmt.Errorf("%s has no table of contents", name)
	}
	return b.checkTargets(doc, name, "//nav//a[@href]", "href")
}
