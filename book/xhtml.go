package book

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/net/html"
)

const (
	xhtmlNS = "http://www.w3.org/1999/xhtml"
	epubNS  = "http://www.idpf.org/2007/ops"
)

func newXMLDocument() *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	return doc
}

// newXHTMLDocument creates skeleton page and returns its head and body.
func newXHTMLDocument(title string, stylesheets []string) (*etree.Document, *etree.Element, *etree.Element) {
	doc := newXMLDocument()
	doc.CreateDirective("DOCTYPE html")

	root := doc.CreateElement("html")
	root.CreateAttr("xmlns", xhtmlNS)
	root.CreateAttr("xmlns:epub", epubNS)

	head := root.CreateElement("head")
	meta := head.CreateElement("meta")
	meta.CreateAttr("http-equiv", "Content-Type")
	meta.CreateAttr("content", "text/html; charset=utf-8")
	head.CreateElement("title").SetText(title)
	for _, href := range stylesheets {
		link := head.CreateElement("link")
		link.CreateAttr("rel", "stylesheet")
		link.CreateAttr("type", "text/css")
		link.CreateAttr("href", href)
	}
	return doc, head, root.CreateElement("body")
}

func documentBytes(doc *etree.Document) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := doc.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// volumeDocument is container page holding volume title.
func volumeDocument(title string) *etree.Document {
	doc, _, body := newXHTMLDocument(title, nil)
	section := body.CreateElement("section")
	section.CreateAttr("epub:type", "part")
	section.CreateElement("h1").SetText(title)
	return doc
}

// chapterDocument places normalized content into chapter page.
func chapterDocument(title string, stylesheets []string, n *normalized) *etree.Document {
	doc, _, body := newXHTMLDocument(title, stylesheets)
	if n.nodes == nil {
		// content could not be parsed, keep it as text
		body.CreateElement("div").SetText(n.html)
		return doc
	}
	for _, node := range n.nodes {
		appendHTMLNode(body, node)
	}
	return doc
}

// coverDocument shows cover image scaled to the page.
func coverDocument(title, image string, width, height int) *etree.Document {
	doc, head, body := newXHTMLDocument(title, nil)
	style := head.CreateElement("style")
	style.CreateAttr("type", "text/css")
	style.SetText("html, body { margin: 0; padding: 0; width: 100%; height: 100%; } svg { display: block; width: auto; height: 100%; margin: 0 auto }")

	body.CreateAttr("epub:type", "cover")

	svg := body.CreateElement("svg")
	svg.CreateAttr("version", "1.1")
	svg.CreateAttr("xmlns", "http://www.w3.org/2000/svg")
	svg.CreateAttr("xmlns:xlink", xlinkNS)
	if width <= 0 || height <= 0 {
		width, height = 100, 100
		svg.CreateAttr("preserveAspectRatio", "xMidYMid slice")
	} else {
		svg.CreateAttr("preserveAspectRatio", "xMidYMid meet")
	}
	svg.CreateAttr("viewBox", "0 0 "+strconv.Itoa(width)+" "+strconv.Itoa(height))

	img := svg.CreateElement("image")
	img.CreateAttr("x", "0")
	img.CreateAttr("y", "0")
	img.CreateAttr("width", strconv.Itoa(width))
	img.CreateAttr("height", strconv.Itoa(height))
	img.CreateAttr("xlink:href", image)
	return doc
}

var foreignNS = map[string]string{
	"svg":  "http://www.w3.org/2000/svg",
	"math": "http://www.w3.org/1998/Math/MathML",
}

const xlinkNS = "http://www.w3.org/1999/xlink"

// usesNamespace reports whether any attribute in subtree belongs to prefixed
// namespace.
func usesNamespace(n *html.Node, prefix string) bool {
	for _, a := range n.Attr {
		if a.Namespace == prefix {
			return true
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if usesNamespace(c, prefix) {
			return true
		}
	}
	return false
}

var xmlName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.\-]*(:[A-Za-z_][A-Za-z0-9_.\-]*)?$`)

// appendHTMLNode copies parsed HTML subtree under XML element. Attributes
// which could not be expressed in XML are dropped, text is escaped on
// output.
func appendHTMLNode(parent *etree.Element, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		parent.CreateText(cleanXMLText(n.Data))
	case html.CommentNode:
		text := strings.ReplaceAll(cleanXMLText(n.Data), "--", "- -")
		if strings.HasSuffix(text, "-") {
			text += " "
		}
		parent.CreateComment(text)
	case html.ElementNode:
		if !xmlName.MatchString(n.Data) {
			// keep content of the element nobody can represent
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				appendHTMLNode(parent, c)
			}
			return
		}
		el := parent.CreateElement(n.Data)
		if ns, ok := foreignNS[n.Namespace]; ok && (n.Parent == nil || n.Parent.Namespace != n.Namespace) {
			el.CreateAttr("xmlns", ns)
			if usesNamespace(n, "xlink") {
				el.CreateAttr("xmlns:xlink", xlinkNS)
			}
		}
		for _, a := range n.Attr {
			key := a.Key
			if len(a.Namespace) > 0 {
				key = a.Namespace + ":" + a.Key
			}
			if !xmlName.MatchString(key) || el.SelectAttr(key) != nil {
				continue
			}
			el.CreateAttr(key, cleanXMLText(a.Val))
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			appendHTMLNode(el, c)
		}
	}
}

// cleanXMLText removes characters XML 1.0 does not allow.
func cleanXMLText(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			return r
		case r < 0x20, r == 0xFFFE, r == 0xFFFF, r >= 0xD800 && r <= 0xDFFF:
			return -1
		}
		return r
	}, s)
}
