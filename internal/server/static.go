package server

import (
	"net/http"
	"path"
	"strings"

	"github.com/aryan-salemababdi/winbash/internal/domain"
)

// Static serves files under root for GET and HEAD requests whose path names
// an existing file, or a directory holding index.html. Anything else,
// including dotfiles, falls through to the next stage.
func Static(root string) Middleware {
	dir := http.Dir(root)

	return func(next domain.HandlerFunc) domain.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) error {
			if root == "" || (r.Method != http.MethodGet && r.Method != http.MethodHead) {
				return next(w, r)
			}

			name := path.Clean("/" + r.URL.Path)
			if hasDotSegment(name) {
				return next(w, r)
			}

			served, err := serveFile(w, r, dir, name)
			if err != nil {
				return domain.Internal(err)
			}
			if served {
				return nil
			}
			return next(w, r)
		}
	}
}

func serveFile(w http.ResponseWriter, r *http.Request, dir http.Dir, name string) (bool, error) {
	f, err := dir.Open(name)
	if err != nil {
		// Missing, unreadable and malformed paths are not assets.
		return false, nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, err
	}

	if info.IsDir() {
		return serveFile(w, r, dir, path.Join(name, "index.html"))
	}

	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	return true, nil
}

func hasDotSegment(name string) bool {
	for _, seg := range strings.Split(name, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
