package book

import (
	"context"
	"fmt"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"epubgen/archive"
)

// Finalize produces EPUB archive from everything added so far. It may be
// called more than once, document keeps its state.
func (d *Document) Finalize(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	coverImage, coverPage := d.materializeCover()
	s := d.snapshot(coverImage, coverPage)
	d.mu.Unlock()

	ncx, events := navigationMap(s)
	d.notify(events...)

	entries := []archive.Entry{{Name: "mimetype", Data: []byte(mimetypeValue), Store: true}}
	for _, gen := range []struct {
		name string
		doc  *etree.Document
	}{
		{"META-INF/container.xml", containerDocument()},
		{contentDir + "/" + packageFile, packageDocument(s)},
		{contentDir + "/" + ncxFile, ncx},
	} {
		data, err := documentBytes(gen.doc)
		if err != nil {
			return nil, fmt.Errorf("unable to serialize %s: %w", gen.name, err)
		}
		entries = append(entries, archive.Entry{Name: gen.name, Data: data})
	}

	for _, p := range s.paths {
		entries = append(entries, archive.Entry{Name: contentDir + "/" + p, Data: s.data[p]})
	}

	nav, err := documentBytes(navigationDocument(s))
	if err != nil {
		return nil, fmt.Errorf("unable to serialize %s: %w", navFile, err)
	}
	entries = append(entries, archive.Entry{Name: contentDir + "/" + navFile, Data: nav})

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := archive.Pack(entries, s.modified)
	if err != nil {
		return nil, fmt.Errorf("unable to pack book: %w", err)
	}
	if d.fixZip {
		if out, err = archive.StripDataDescriptors(out); err != nil {
			return nil, fmt.Errorf("unable to rewrite book archive: %w", err)
		}
	}

	d.log.Info("Book assembled",
		zap.String("id", s.id),
		zap.Int("volumes", len(s.volumes)),
		zap.Int("resources", len(s.paths)),
		zap.Int("size", len(out)))
	return out, nil
}
