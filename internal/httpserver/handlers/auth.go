package handlers

import (
	"errors"
	"net/http"

	"github.com/MrSnakeDoc/bookmirror/internal/domain"
	"github.com/MrSnakeDoc/bookmirror/internal/httpserver/deps"
	"github.com/MrSnakeDoc/bookmirror/internal/httpserver/mw"
	"github.com/MrSnakeDoc/bookmirror/internal/logger"
)

// SessionCookie holds the pending authorization's session id between
// /auth/start and the provider redirect.
const SessionCookie = "bookmirror_auth_session"

type callbackRequest struct {
	Code      string `json:"code"`
	State     string `json:"state"`
	SessionID string `json:"sessionId"`
	// CodeVerifier is accepted for client compatibility and ignored.
	CodeVerifier string `json:"codeVerifier,omitempty"`
}

type callbackResponse struct {
	Success  bool   `json:"success"`
	Username string `json:"username"`
}

func AuthStart(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := mw.UserID(r.Context())
		start, err := d.Accounts.StartAuthorization(r.Context(), userID)
		if err != nil {
			d.Logger.Error("failed to start authorization", logger.UserID(userID), logger.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error")
			return
		}

		http.SetCookie(w, sessionCookie(d, start.SessionID, 0))
		writeJSON(w, http.StatusOK, start)
	}
}

// AuthCallback completes the flow. POST carries a JSON body; GET is the
// provider redirect with code and state in the query. Without an explicit
// session id the session cookie is used.
func AuthCallback(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := mw.UserID(r.Context())

		var req callbackRequest
		if r.Method == http.MethodPost {
			if err := decodeBody(w, r, &req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request")
				return
			}
		} else {
			q := r.URL.Query()
			if q.Get("error") != "" {
				d.Logger.Info("provider denied authorization", logger.UserID(userID), logger.String("error", q.Get("error")))
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "authentication_error", Reason: domain.ReasonAccessDenied})
				return
			}
			req.Code = q.Get("code")
			req.State = q.Get("state")
		}
		if req.SessionID == "" {
			if c, err := r.Cookie(SessionCookie); err == nil {
				req.SessionID = c.Value
			}
		}
		if req.Code == "" || req.State == "" {
			writeError(w, http.StatusBadRequest, "invalid_request")
			return
		}

		username, err := d.Accounts.CompleteAuthorization(r.Context(), userID, req.Code, req.State, req.SessionID)
		if err != nil {
			var authErr *domain.AuthenticationError
			if errors.As(err, &authErr) {
				d.Logger.Warn("authorization failed", logger.UserID(userID), logger.String("reason", authErr.Reason), logger.Error(err))
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "authentication_error", Reason: authErr.Reason})
				return
			}
			d.Logger.Error("failed to complete authorization", logger.UserID(userID), logger.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error")
			return
		}

		http.SetCookie(w, sessionCookie(d, "", -1))
		writeJSON(w, http.StatusOK, callbackResponse{Success: true, Username: username})
	}
}

func sessionCookie(d deps.Deps, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookie,
		Value:    value,
		Path:     "/auth",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   d.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}
