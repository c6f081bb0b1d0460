package mw

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrSnakeDoc/bookmirror/internal/logger"
)

func TestUserIdentity(t *testing.T) {
	tests := []struct {
		name        string
		header      string
		defaultUser string
		wantStatus  int
		wantUser    string
	}{
		{name: "from header", header: "u1", wantStatus: http.StatusOK, wantUser: "u1"},
		{name: "header is trimmed", header: "  u1 ", wantStatus: http.StatusOK, wantUser: "u1"},
		{name: "default", defaultUser: "solo", wantStatus: http.StatusOK, wantUser: "solo"},
		{name: "missing", wantStatus: http.StatusUnauthorized},
		{name: "too long", header: strings.Repeat("a", maxUserIDLen+1), wantStatus: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := UserIdentity(tt.defaultUser, logger.Nop())(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got = UserID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/status", nil)
			if tt.header != "" {
				req.Header.Set(UserHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got != tt.wantUser {
				t.Errorf("user = %q, want %q", got, tt.wantUser)
			}
		})
	}
}
