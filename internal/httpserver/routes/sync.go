package routes

import (
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/bookmirror/internal/httpserver/deps"
	"github.com/MrSnakeDoc/bookmirror/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/bookmirror/internal/httpserver/mw"
)

func init() { Register(registerSync) }

func registerSync(r chi.Router, d deps.Deps) {
	// one bucket set for both routes: a folder run costs the same quota as a full one
	limit := mw.RateLimit(mw.RateLimitConfig{
		Burst:         d.SyncBurst,
		RefillPerMin:  d.SyncRefillPerM,
		MaxEntries:    10_000,
		SweepInterval: time.Minute,
		IdleTTL:       30 * time.Minute,
		TrustProxy:    d.TrustProxy,
	})
	s := api(r, d).With(limit)
	s.Post("/sync", handlers.Sync(d))
	s.Post("/sync/folder/{folderId}", handlers.SyncFolder(d))
}
