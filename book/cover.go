package book

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/h2non/filetype"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"epubgen/fetch"
)

const coverPage = "cover.xhtml"

// coverExtension detects cover image format by its signature, falling back
// to declared content type.
func coverExtension(data []byte, contentType string) string {
	if kind, err := filetype.Image(data); err == nil && kind != filetype.Unknown {
		if kind.Extension == "jpeg" {
			return "jpg"
		}
		return kind.Extension
	}
	if ext, ok := imageTypes[fetch.MediaType(contentType)]; ok {
		return ext
	}
	return "jpg"
}

func imageSize(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

// materializeCover stores cover image and its page. Must be called with
// document lock held.
func (d *Document) materializeCover() (string, string) {
	if len(d.meta.Cover) == 0 {
		return "", ""
	}

	img := imagesDir + "/cover." + coverExtension(d.meta.Cover, d.meta.CoverType)
	if !d.store.register(img, d.meta.Cover) {
		d.log.Debug("Cover image already stored", zap.String("path", img))
	}

	w, h := imageSize(d.meta.Cover)
	data, err := documentBytes(coverDocument(d.title(), img, w, h))
	if err != nil {
		d.log.Warn("Unable to prepare cover page", zap.Error(err))
		return img, ""
	}
	d.store.register(coverPage, data)
	return img, coverPage
}
