package routes

import (
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/bookmirror/internal/httpserver/deps"
	"github.com/MrSnakeDoc/bookmirror/internal/httpserver/handlers"
)

func init() { Register(registerMedia) }

func registerMedia(r chi.Router, d deps.Deps) {
	if d.MediaDir == "" {
		return
	}
	prefix := "/" + strings.Trim(d.MediaPublicPath, "/")
	d.MediaPublicPath = prefix
	r.Get(prefix+"/*", handlers.Media(d).ServeHTTP)
}
