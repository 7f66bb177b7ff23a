// Package misc holds build-time program identity.
package misc

import (
	"os"
	"path/filepath"
	"strings"
)

// set by linker flags
var (
	version = "dev"
	githash = "unknown"
	appname = ""
)

// GetAppName returns program name without extension.
func GetAppName() string {
	if len(appname) > 0 {
		return appname
	}
	name := filepath.Base(os.Args[0])
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func GetVersion() string {
	return version
}

func GetGitHash() string {
	return githash
}
