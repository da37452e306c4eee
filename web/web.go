// Package web embeds the dashboard and the page view tracker script.
package web

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
)

//go:embed index.html app.js tracker.js
var assets embed.FS

// FS returns the static asset tree. An empty dir serves the embedded copy;
// otherwise dir must exist and is served from disk.
func FS(dir string) (fs.FS, error) {
	if dir == "" {
		return assets, nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("web dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("web dir %q is not a directory", dir)
	}
	return os.DirFS(dir), nil
}
