package book

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/h2non/filetype"
	parse "github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
	"go.uber.org/zap"

	"epubgen/fetch"
)

// styleURLs returns distinct url() references in order of appearance.
func styleURLs(text string) []string {
	var (
		res  []string
		seen = make(map[string]bool)
	)
	l := css.NewLexer(parse.NewInputString(text))
	for {
		tt, data := l.Next()
		if tt == css.ErrorToken {
			break
		}
		if tt != css.URLToken {
			continue
		}
		ref := urlTokenValue(string(data))
		if len(ref) == 0 || seen[ref] {
			continue
		}
		seen[ref] = true
		res = append(res, ref)
	}
	return res
}

// urlTokenValue extracts reference from url(...) token.
func urlTokenValue(s string) string {
	if len(s) >= 4 && strings.EqualFold(s[:4], "url(") {
		s = s[4:]
	}
	s = strings.TrimSpace(strings.TrimSuffix(s, ")"))
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// processStyle localizes absolute url() references of the stylesheet text.
// Resources which could not be fetched keep their original references.
// Rewriting is plain text substitution of every occurrence of the url.
func (d *Document) processStyle(ctx context.Context, text string) (string, error) {
	type replacement struct{ from, to string }

	var (
		repl   []replacement
		events []Event
	)
	for _, ref := range styleURLs(text) {
		if !fetch.IsAbsolute(ref) {
			continue
		}

		d.mu.Lock()
		p, known := d.urls.resolve(ref)
		d.mu.Unlock()

		if !known {
			resp, err := d.fetcher.Fetch(ctx, ref)
			if err != nil {
				if ctx.Err() != nil {
					return "", ctx.Err()
				}
				events = append(events, Event{Kind: EventStyleResourceDropped, URL: ref, Err: err})
				continue
			}
			ext := urlExtension(ref)
			if len(ext) == 0 {
				ext = "bin"
				if kind, err := filetype.Match(resp.Body); err == nil && kind != filetype.Unknown && len(kind.Extension) > 0 {
					ext = kind.Extension
				}
			}
			d.mu.Lock()
			p = d.storeExternal(ref, resp.Body, d.styleResourceName(ext))
			d.mu.Unlock()
		}
		repl = append(repl, replacement{from: ref, to: relativeTo(stylesDir, p)})
	}
	d.notify(events...)

	if len(repl) == 0 {
		return text, nil
	}

	// longer references first, so prefixes do not win
	slices.SortStableFunc(repl, func(a, b replacement) int {
		return cmp.Compare(len(b.from), len(a.from))
	})
	pairs := make([]string, 0, 2*len(repl))
	for _, r := range repl {
		pairs = append(pairs, r.from, r.to)
	}
	d.log.Debug("Stylesheet references localized", zap.Int("count", len(repl)))
	return strings.NewReplacer(pairs...).Replace(text), nil
}
