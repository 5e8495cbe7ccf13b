package httpserver

import (
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/pathutil"
)

// siteHandler serves dir read-only. Directory listings are disabled: a
// directory without index.html is a 404. Dotfiles and paths with dot
// segments are never served.
func siteHandler(dir string) http.Handler {
	fsys := os.DirFS(dir)
	files := http.FileServerFS(fsys)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		if !pathutil.Servable(r.URL.Path) {
			http.NotFound(w, r)
			return
		}
		name := fsName(r.URL.Path)
		if fi, err := fs.Stat(fsys, name); err == nil && fi.IsDir() {
			if _, err := fs.Stat(fsys, path.Join(name, "index.html")); err != nil {
				http.NotFound(w, r)
				return
			}
		}
		files.ServeHTTP(w, r)
	})
}

func fsName(p string) string {
	name := strings.TrimPrefix(path.Clean("/"+p), "/")
	if name == "" {
		return "."
	}
	return name
}
