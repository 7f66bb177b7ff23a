package build

import (
	"path/filepath"
	"strings"

	"github.com/gosimple/slug"

	"epubgen/config"
	"epubgen/state"
)

const bookExt = ".epub"

// buildOutputPath returns name of the book file. Destination ending with
// book extension is used as is, otherwise it is a directory and file name
// is derived from book title, or from manifest name when title is empty.
func buildOutputPath(title, src, dst string, env *state.LocalEnv) string {
	if strings.EqualFold(filepath.Ext(dst), bookExt) {
		return dst
	}

	name := strings.TrimSpace(title)
	if len(name) == 0 {
		name = strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	}
	if env.Cfg.Document.FileNameTransliterate {
		name = slug.Make(name)
	}
	return filepath.Join(dst, config.CleanFileName(name)+bookExt)
}
