package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/bookmirror/internal/httpserver/deps"
	"github.com/MrSnakeDoc/bookmirror/internal/httpserver/mw"
)

// api returns r restricted to allowed hosts with the caller's identity resolved.
func api(r chi.Router, d deps.Deps) chi.Router {
	return r.With(
		mw.EnforceHost(d.AllowedHosts, d.Logger),
		mw.UserIdentity(d.DefaultUserID, d.Logger),
	)
}
