package api

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// staticTypes maps file extensions to the content types the static server
// announces. Anything else is served as text/html.
var staticTypes = map[string]string{
	".html": "text/html",
	".js":   "text/javascript",
	".css":  "text/css",
	".jpeg": "image/jpeg",
	".jpg":  "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".json": "application/json",
}

// StaticHandler serves a front-end directory. Directory requests fall back
// to their index.html.
type StaticHandler struct {
	root string
}

// NewStaticHandler creates a handler rooted at dir.
func NewStaticHandler(dir string) *StaticHandler {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	return &StaticHandler{root: abs}
}

// resolve maps a request path onto a file under the root, rejecting
// anything that escapes it.
func (h *StaticHandler) resolve(urlPath string) (string, bool) {
	cleaned := path.Clean("/" + urlPath)
	abs := filepath.Join(h.root, filepath.FromSlash(cleaned))
	if abs != h.root && !strings.HasPrefix(abs, h.root+string(os.PathSeparator)) {
		return "", false
	}
	return abs, true
}

// ServeHTTP handles GET requests for static assets.
func (h *StaticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	abs, ok := h.resolve(r.URL.Path)
	if !ok {
		http.Error(w, "400 Bad Request", http.StatusBadRequest)
		return
	}
	contentType := "text/html"
	if ct, ok := staticTypes[strings.ToLower(path.Ext(r.URL.Path))]; ok {
		contentType = ct
	}

	info, err := os.Stat(abs)
	if err == nil && info.IsDir() {
		abs = filepath.Join(abs, "index.html")
		info, err = os.Stat(abs)
	}
	if err != nil || info.IsDir() {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("404 Not Found"))
		return
	}

	f, err := os.Open(abs)
	if err != nil {
		http.Error(w, "500 Internal Server Error", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", contentType)
	http.ServeContent(w, r, "", info.ModTime(), f)
}
