// Package common holds enumerations shared by the book model, the manifest
// loader and configuration.
package common

//go:generate go run github.com/abice/go-enum@v0.9.2 --names --marshal

// Kind of chapter content supplied by the caller.
// ENUM(text, html)
type ContentType int

// Preformatted reports whether content has to be wrapped into a
// preformatted block rather than passed through as markup.
func (c ContentType) Preformatted() bool {
	return c == ContentTypeText
}
