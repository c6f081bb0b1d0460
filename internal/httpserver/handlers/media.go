package handlers

import (
	"net/http"
	"strings"

	"github.com/MrSnakeDoc/bookmirror/internal/httpserver/deps"
)

// Media serves cached attachments. Files are content addressed and never
// change, so they are cacheable forever. Directory listings are refused.
func Media(d deps.Deps) http.Handler {
	files := http.StripPrefix(d.MediaPublicPath, http.FileServer(http.Dir(d.MediaDir)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, d.MediaPublicPath)
		if name == "" || strings.HasSuffix(name, "/") || strings.HasSuffix(name, ".tmp") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		files.ServeHTTP(w, r)
	})
}
