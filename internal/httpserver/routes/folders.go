package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/bookmirror/internal/httpserver/deps"
	"github.com/MrSnakeDoc/bookmirror/internal/httpserver/handlers"
)

func init() { Register(registerFolders) }

func registerFolders(r chi.Router, d deps.Deps) {
	a := api(r, d)
	a.Get("/folders", handlers.ListFolders(d))
	a.Post("/folders/map", handlers.MapFolder(d))
}
