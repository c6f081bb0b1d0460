package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/bookmirror/internal/httpserver/deps"
	"github.com/MrSnakeDoc/bookmirror/internal/httpserver/mw"
	"github.com/MrSnakeDoc/bookmirror/internal/logger"
)

func Status(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := mw.UserID(r.Context())
		st, err := d.Accounts.Status(r.Context(), userID)
		if err != nil {
			d.Logger.Error("failed to read connection status", logger.UserID(userID), logger.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func Disconnect(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := mw.UserID(r.Context())
		if err := d.Accounts.Disconnect(r.Context(), userID); err != nil {
			d.Logger.Error("failed to disconnect", logger.UserID(userID), logger.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		writeJSON(w, http.StatusOK, successResponse{Success: true})
	}
}
