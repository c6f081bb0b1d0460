package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/bookmirror/internal/httpserver/deps"
	"github.com/MrSnakeDoc/bookmirror/internal/httpserver/handlers"
)

func init() { Register(registerAuth) }

func registerAuth(r chi.Router, d deps.Deps) {
	a := api(r, d)
	a.Get("/auth/start", handlers.AuthStart(d))
	a.Post("/auth/callback", handlers.AuthCallback(d))
	a.Get("/auth/callback", handlers.AuthCallback(d))
	a.Get("/status", handlers.Status(d))
	a.Post("/disconnect", handlers.Disconnect(d))
}
