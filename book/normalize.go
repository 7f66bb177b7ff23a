package book

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/sync/errgroup"

	"epubgen/common"
	"epubgen/fetch"
)

// staged is external resource brought in by a single normalization call.
type staged struct {
	url  string
	path string
	data []byte
}

// normalized is content ready to be put into chapter body.
type normalized struct {
	// nodes are parsed top level content nodes, nil when parsing failed and
	// raw text has to be used.
	nodes []*html.Node
	// html is serialized form of nodes.
	html   string
	staged []staged
}

var bodyStart = regexp.MustCompile(`(?i)<body[\s>/]`)

// extractRegion narrows content down to the first article if there is one,
// to the body if markup has it and to the whole input otherwise.
func extractRegion(content string) string {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return content
	}
	n := findElement(doc, atom.Article)
	if n == nil && bodyStart.MatchString(content) {
		n = findElement(doc, atom.Body)
	}
	if n == nil {
		return content
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&sb, c); err != nil {
			return content
		}
	}
	return sb.String()
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func wrapContent(region, title string, ct common.ContentType, insertTitle bool) string {
	var sb strings.Builder
	if insertTitle && len(title) > 0 {
		sb.WriteString("<h2>")
		sb.WriteString(html.EscapeString(title))
		sb.WriteString("</h2>")
	}
	if ct.Preformatted() {
		sb.WriteString("<pre>")
		sb.WriteString(html.EscapeString(region))
		sb.WriteString("</pre>")
	} else {
		sb.WriteString(region)
	}
	return sb.String()
}

func getAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func collectImages(n *html.Node, res []*html.Node) []*html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Img {
		res = append(res, n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		res = collectImages(c, res)
	}
	return res
}

func remove(n *html.Node) {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

// pendingImage is external image to be fetched, all elements referring to
// the same url share single fetch.
type pendingImage struct {
	url      string
	fetchURL string
	nodes    []*html.Node
	resp     *fetch.Response
	err      error
}

// normalizeContent turns arbitrary content into markup for chapter body:
// extracts meaningful region, adds heading, localizes images. Only context
// cancellation is reported as an error, all other problems are notified
// and worked around.
func (d *Document) normalizeContent(ctx context.Context, content, title string, ct common.ContentType, insertTitle bool) (*normalized, error) {
	region := content
	if !ct.Preformatted() {
		region = extractRegion(content)
	}
	wrapped := wrapContent(region, title, ct, insertTitle)

	root := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(strings.NewReader(wrapped), root)
	if err != nil {
		d.notify(Event{Kind: EventContentFallback, Err: err})
		return &normalized{html: content}, nil
	}
	for _, n := range nodes {
		root.AppendChild(n)
	}

	var (
		events  []Event
		pending []*pendingImage
		byURL   = make(map[string]*pendingImage)
	)

	d.mu.Lock()
	for _, img := range collectImages(root, nil) {
		src, ok := getAttr(img, "src")
		if !ok {
			continue
		}
		src = strings.TrimSpace(src)
		if p, ok := d.urls.resolve(src); ok {
			setAttr(img, "src", p)
			continue
		}
		if pi, ok := byURL[src]; ok {
			pi.nodes = append(pi.nodes, img)
			continue
		}
		if !fetch.IsAbsolute(src) {
			remove(img)
			events = append(events, Event{Kind: EventImageRejected, URL: src})
			continue
		}
		pi := &pendingImage{url: src, fetchURL: src, nodes: []*html.Node{img}}
		if d.secure && strings.HasPrefix(strings.ToLower(src), "http://") {
			pi.fetchURL = "https://" + src[len("http://"):]
			events = append(events, Event{Kind: EventImageUpgraded, URL: pi.fetchURL})
		}
		byURL[src] = pi
		pending = append(pending, pi)
	}
	d.mu.Unlock()
	d.notify(events...)
	events = events[:0]

	if len(pending) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(d.concurrency)
		for _, pi := range pending {
			g.Go(func() error {
				pi.resp, pi.err = d.fetcher.Fetch(gctx, pi.fetchURL)
				return nil
			})
		}
		_ = g.Wait()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	res := &normalized{}

	// names are given out in document order once all fetches are done
	d.mu.Lock()
	for _, pi := range pending {
		if pi.err != nil {
			for _, n := range pi.nodes {
				remove(n)
			}
			events = append(events, Event{Kind: EventImageDropped, URL: pi.fetchURL, Err: pi.err})
			continue
		}
		p := d.storeExternal(pi.url, pi.resp.Body, d.imageName(imageExtension(pi.resp.ContentType, pi.fetchURL)))
		for _, n := range pi.nodes {
			setAttr(n, "src", p)
		}
		res.staged = append(res.staged, staged{url: pi.url, path: p, data: pi.resp.Body})
	}
	d.mu.Unlock()
	d.notify(events...)

	var sb strings.Builder
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		res.nodes = append(res.nodes, c)
		if err := html.Render(&sb, c); err != nil {
			return nil, fmt.Errorf("unable to serialize content: %w", err)
		}
	}
	res.html = sb.String()

	d.log.Debug("Content normalized", zap.Int("nodes", len(res.nodes)), zap.Int("resources", len(res.staged)))
	return res, nil
}
