// Package archive writes book containers and walks existing ones.
package archive

import (
	"archive/zip"
	"fmt"
	"path"
	"strings"
)

// WalkFunc is called for each file in archive visited by Walk which
// satisfies match condition. If an error is returned, processing stops.
type WalkFunc func(file *zip.File) error

// Walk walks all files in the archive whose names start with prefix,
// calling walkFn for each in archive order. Entries with path traversal
// components ("..") or absolute paths stop the walk with an error.
func Walk(r *zip.Reader, prefix string, walkFn WalkFunc) error {
	for _, f := range r.File {
		name := f.FileHeader.Name
		if !isSafePath(name) {
			return fmt.Errorf("zip entry %q: unsafe path (absolute or contains path traversal)", name)
		}
		if !f.FileInfo().IsDir() && strings.HasPrefix(name, prefix) {
			if err := walkFn(f); err != nil {
				return err
			}
		}
	}
	return nil
}

// isSafePath returns false for absolute paths and those containing ".."
// components.
func isSafePath(name string) bool {
	if path.IsAbs(name) || strings.HasPrefix(name, `\`) {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}
