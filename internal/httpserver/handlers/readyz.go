package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/bookmirror/internal/httpserver/deps"
	"github.com/MrSnakeDoc/bookmirror/internal/logger"
)

const readyzTimeout = 2 * time.Second

type componentStatus struct {
	OK     bool   `json:"ok"`
	Impact string `json:"impact,omitempty"`
	Error  string `json:"error,omitempty"`
}

type readyzResponse struct {
	Ready      bool                       `json:"ready"`
	Components map[string]componentStatus `json:"components"`
}

// Readyz pings Redis and the bookmark database. Any failure makes the
// instance unready (503).
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyzTimeout)
		defer cancel()

		components := map[string]componentStatus{
			"redis":  checkRedis(ctx, d),
			"sqlite": checkDatabase(ctx, d),
		}
		ready := true
		for name, c := range components {
			if !c.OK {
				ready = false
				d.Logger.Warn("readiness check failed", logger.String("component", name), logger.String("error", c.Error))
			}
		}

		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, readyzResponse{Ready: ready, Components: components})
	}
}

func checkRedis(ctx context.Context, d deps.Deps) componentStatus {
	const impact = "auth-and-sync-disabled"
	if d.RedisClient == nil {
		return componentStatus{Impact: impact, Error: "client not initialized"}
	}
	if err := d.RedisClient.Ping(ctx).Err(); err != nil {
		return componentStatus{Impact: impact, Error: err.Error()}
	}
	return componentStatus{OK: true}
}

func checkDatabase(ctx context.Context, d deps.Deps) componentStatus {
	const impact = "bookmarks-unavailable"
	if d.Database == nil {
		return componentStatus{Impact: impact, Error: "database not initialized"}
	}
	if err := d.Database.Ping(ctx); err != nil {
		return componentStatus{Impact: impact, Error: err.Error()}
	}
	return componentStatus{OK: true}
}
