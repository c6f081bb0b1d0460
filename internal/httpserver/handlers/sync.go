package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/bookmirror/internal/domain"
	"github.com/MrSnakeDoc/bookmirror/internal/httpserver/deps"
	"github.com/MrSnakeDoc/bookmirror/internal/httpserver/mw"
	"github.com/MrSnakeDoc/bookmirror/internal/logger"
)

type syncResponse struct {
	domain.SyncResult
	RetryAfterSeconds int `json:"retryAfterSeconds,omitempty"`
}

type reconnectResponse struct {
	ActionRequired string `json:"action_required"`
	Added          int    `json:"added"`
	Updated        int    `json:"updated"`
	Errors         int    `json:"errors"`
}

func Sync(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runSync(d, w, r, "")
	}
}

func SyncFolder(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runSync(d, w, r, chi.URLParam(r, "folderId"))
	}
}

func runSync(d deps.Deps, w http.ResponseWriter, r *http.Request, folderID string) {
	userID := mw.UserID(r.Context())
	res, err := d.Syncer.RunSync(r.Context(), userID, folderID)
	switch {
	case err == nil:
		resp := syncResponse{SyncResult: res}
		if res.RateLimited && res.RetryAfter > 0 {
			resp.RetryAfterSeconds = int(math.Ceil(res.RetryAfter.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(resp.RetryAfterSeconds))
		}
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, domain.ErrAuthExpired):
		writeJSON(w, http.StatusUnauthorized, reconnectResponse{
			ActionRequired: "reconnect",
			Added:          res.Added,
			Updated:        res.Updated,
			Errors:         res.Errors,
		})
	case errors.Is(err, domain.ErrFolderNotFound):
		writeError(w, http.StatusNotFound, "folder_not_found")
	default:
		d.Logger.Error("sync failed",
			logger.UserID(userID),
			logger.String("folder_id", folderID),
			logger.Int("added", res.Added),
			logger.Int("updated", res.Updated),
			logger.Error(err))
		writeError(w, http.StatusInternalServerError, "sync_failed")
	}
}
