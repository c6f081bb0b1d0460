package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MrSnakeDoc/bookmirror/internal/domain"
	"github.com/MrSnakeDoc/bookmirror/internal/folders"
	"github.com/MrSnakeDoc/bookmirror/internal/httpserver/deps"
	"github.com/MrSnakeDoc/bookmirror/internal/httpserver/mw"
	"github.com/MrSnakeDoc/bookmirror/internal/logger"
)

type mapFolderRequest struct {
	FolderID     string `json:"folderId"`
	FolderName   string `json:"folderName"`
	CollectionID string `json:"collectionId,omitempty"`
	CreateNew    bool   `json:"createNew"`
}

type mapFolderResponse struct {
	Success      bool   `json:"success"`
	CollectionID string `json:"collectionId"`
}

func ListFolders(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := mw.UserID(r.Context())
		views, err := d.Syncer.Folders(r.Context(), userID)
		if err != nil {
			if errors.Is(err, domain.ErrAuthExpired) {
				writeJSON(w, http.StatusUnauthorized, reconnectResponse{ActionRequired: "reconnect"})
				return
			}
			d.Logger.Error("failed to list folders", logger.UserID(userID), logger.Error(err))
			writeError(w, http.StatusBadGateway, "folders_unavailable")
			return
		}
		if views == nil {
			views = []folders.View{}
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func MapFolder(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := mw.UserID(r.Context())

		var req mapFolderRequest
		if err := decodeBody(w, r, &req); err != nil || strings.TrimSpace(req.FolderID) == "" {
			writeError(w, http.StatusBadRequest, "invalid_request")
			return
		}

		m, err := d.FolderMapper.MapFolder(r.Context(), userID, req.FolderID, req.FolderName, folders.MapTarget{
			CreateNew:    req.CreateNew,
			CollectionID: req.CollectionID,
		})
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, mapFolderResponse{Success: true, CollectionID: m.CollectionID})
		case errors.Is(err, folders.ErrInvalidTarget):
			writeError(w, http.StatusBadRequest, "invalid_target")
		case errors.Is(err, domain.ErrCollectionNotFound):
			writeError(w, http.StatusNotFound, "collection_not_found")
		default:
			d.Logger.Error("failed to map folder", logger.UserID(userID), logger.String("folder_id", req.FolderID), logger.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error")
		}
	}
}
