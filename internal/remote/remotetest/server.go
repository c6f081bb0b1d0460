// Package remotetest provides an in-process fake of the X API and its
// OAuth2 token endpoint for tests.
package remotetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

// Tweet is a bookmarked post served by the fake.
type Tweet struct {
	ID        string
	Text      string
	Author    string
	CreatedAt string
	Likes     int64
	MediaURLs []string
}

// Folder is a bookmark folder and the posts saved in it.
type Folder struct {
	ID    string
	Name  string
	Items []Tweet
}

// Server is the fake platform. Requests must carry the current access
// token; a refresh rotates both tokens.
type Server struct {
	*httptest.Server

	mu           sync.Mutex
	userID       string
	username     string
	bookmarks    []Tweet
	folders      []Folder
	pageSize     int
	code         string
	accessToken  string
	refreshToken string
	expiresIn    int
	refreshDelay time.Duration
	mediaDelay   time.Duration

	rateLimits        []int
	unauthorizedAfter int
	pagesServed       int
	refreshCalls      int
	exchangeCalls     int
	mediaHits         map[string]int
}

// New starts a fake with one user ("42", "alice") and tokens
// "access-0"/"refresh-0". It is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		userID:            "42",
		username:          "alice",
		pageSize:          100,
		code:              "good-code",
		accessToken:       "access-0",
		refreshToken:      "refresh-0",
		expiresIn:         7200,
		unauthorizedAfter: -1,
		mediaHits:         make(map[string]int),
	}

	r := chi.NewRouter()
	r.Post("/2/oauth2/token", s.handleToken)
	r.Get("/2/users/me", s.authorized(s.handleMe))
	r.Get("/2/users/{id}/bookmarks", s.authorized(s.handleBookmarks))
	r.Get("/2/users/{id}/bookmarks/folders", s.authorized(s.handleFolders))
	r.Get("/2/users/{id}/bookmarks/folders/{folderID}", s.authorized(s.handleFolderItems))
	r.Get("/media/{name}", s.handleMedia)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// AuthURL and TokenURL are the OAuth2 endpoints of the fake.
func (s *Server) AuthURL() string  { return s.URL + "/i/oauth2/authorize" }
func (s *Server) TokenURL() string { return s.URL + "/2/oauth2/token" }

// MediaURL returns a downloadable URL for name.
func (s *Server) MediaURL(name string) string { return s.URL + "/media/" + name }

// UserID returns the remote id of the fake account.
func (s *Server) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// SetBookmarks replaces the bookmark list, newest first.
func (s *Server) SetBookmarks(tweets ...Tweet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookmarks = tweets
}

// AddFolder registers a folder.
func (s *Server) AddFolder(f Folder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.folders = append(s.folders, f)
}

// SetPageSize caps how many items one page holds.
func (s *Server) SetPageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageSize = n
}

// SetTokens replaces the currently valid tokens.
func (s *Server) SetTokens(access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = access
	s.refreshToken = refresh
}

// AccessToken returns the currently valid access token.
func (s *Server) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken
}

// SetRefreshDelay slows the refresh grant down, to widen race windows.
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshDelay = d
}

// SetMediaDelay slows media downloads down.
func (s *Server) SetMediaDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mediaDelay = d
}

// RateLimitNext makes the next page requests answer 429, one per value,
// with Retry-After set to the given number of seconds.
func (s *Server) RateLimitNext(retryAfterSeconds ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateLimits = append(s.rateLimits, retryAfterSeconds...)
}

// UnauthorizedAfter answers 401 to every page request once n pages were served.
func (s *Server) UnauthorizedAfter(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unauthorizedAfter = n
}

// RefreshCalls returns how many refresh grants were received.
func (s *Server) RefreshCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCalls
}

// ExchangeCalls returns how many authorization-code grants were received.
func (s *Server) ExchangeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exchangeCalls
}

// PagesServed returns how many item pages were answered with 200.
func (s *Server) PagesServed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pagesServed
}

// MediaHits returns how often name was downloaded.
func (s *Server) MediaHits(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mediaHits[name]
}

func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		want := "Bearer " + s.accessToken
		s.mu.Unlock()
		if r.Header.Get("Authorization") != want {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"title": "Unauthorized", "status": 401})
			return
		}
		next(w, r)
	}
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		s.mu.Lock()
		s.exchangeCalls++
		ok := r.PostForm.Get("code") == s.code && r.PostForm.Get("code_verifier") != ""
		s.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		s.writeTokens(w)

	case "refresh_token":
		s.mu.Lock()
		s.refreshCalls++
		n := s.refreshCalls
		delay := s.refreshDelay
		s.mu.Unlock()

		time.Sleep(delay)

		s.mu.Lock()
		if r.PostForm.Get("refresh_token") != s.refreshToken {
			s.mu.Unlock()
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		s.accessToken = fmt.Sprintf("access-%d", n)
		s.refreshToken = fmt.Sprintf("refresh-%d", n)
		s.mu.Unlock()
		s.writeTokens(w)

	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
	}
}

func (s *Server) writeTokens(w http.ResponseWriter) {
	s.mu.Lock()
	body := map[string]any{
		"access_token":  s.accessToken,
		"refresh_token": s.refreshToken,
		"token_type":    "bearer",
		"expires_in":    s.expiresIn,
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleMe(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]string{"id": s.userID, "username": s.username, "name": "Alice"},
	})
}

func (s *Server) handleBookmarks(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	tweets := s.bookmarks
	s.mu.Unlock()
	s.servePage(w, r, tweets)
}

func (s *Server) handleFolderItems(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "folderID")
	s.mu.Lock()
	var (
		tweets []Tweet
		found  bool
	)
	for _, f := range s.folders {
		if f.ID == id {
			tweets, found = f.Items, true
			break
		}
	}
	s.mu.Unlock()

	if !found {
		writeJSON(w, http.StatusNotFound, map[string]any{"title": "Not Found Error", "status": 404})
		return
	}
	s.servePage(w, r, tweets)
}

func (s *Server) handleFolders(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	folders := s.folders
	s.mu.Unlock()

	// one folder per page to exercise pagination
	start := cursorOffset(r.URL.Query().Get("pagination_token"))
	resp := map[string]any{"data": []map[string]string{}, "meta": map[string]any{}}
	if start < len(folders) {
		f := folders[start]
		resp["data"] = []map[string]string{{"id": f.ID, "name": f.Name}}
		if start+1 < len(folders) {
			resp["meta"] = map[string]any{"next_token": "c" + strconv.Itoa(start+1)}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) servePage(w http.ResponseWriter, r *http.Request, tweets []Tweet) {
	s.mu.Lock()
	if len(s.rateLimits) > 0 {
		retry := s.rateLimits[0]
		s.rateLimits = s.rateLimits[1:]
		s.mu.Unlock()
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"title": "Too Many Requests", "status": 429})
		return
	}
	if s.unauthorizedAfter >= 0 && s.pagesServed >= s.unauthorizedAfter {
		s.mu.Unlock()
		writeJSON(w, http.StatusUnauthorized, map[string]any{"title": "Unauthorized", "status": 401})
		return
	}
	size := s.pageSize
	if n, err := strconv.Atoi(r.URL.Query().Get("max_results")); err == nil && n > 0 && n < size {
		size = n
	}
	s.pagesServed++
	s.mu.Unlock()

	start := cursorOffset(r.URL.Query().Get("pagination_token"))
	end := start + size
	if end > len(tweets) {
		end = len(tweets)
	}
	if start > end {
		start = end
	}

	var (
		data   []map[string]any
		users  = map[string]map[string]string{}
		medias []map[string]string
	)
	for _, t := range tweets[start:end] {
		item := map[string]any{
			"id":         t.ID,
			"text":       t.Text,
			"author_id":  "a-" + t.Author,
			"created_at": t.CreatedAt,
			"public_metrics": map[string]int64{
				"like_count": t.Likes, "retweet_count": 0, "reply_count": 0, "quote_count": 0,
			},
		}
		if len(t.MediaURLs) > 0 {
			keys := make([]string, 0, len(t.MediaURLs))
			for i, u := range t.MediaURLs {
				key := fmt.Sprintf("m-%s-%d", t.ID, i)
				keys = append(keys, key)
				medias = append(medias, map[string]string{"media_key": key, "type": "photo", "url": u})
			}
			item["attachments"] = map[string]any{"media_keys": keys}
		}
		data = append(data, item)
		if t.Author != "" {
			users[t.Author] = map[string]string{"id": "a-" + t.Author, "username": t.Author, "name": strings.ToUpper(t.Author)}
		}
	}

	userList := make([]map[string]string, 0, len(users))
	for _, u := range users {
		userList = append(userList, u)
	}
	resp := map[string]any{
		"data":     data,
		"includes": map[string]any{"users": userList, "media": medias},
		"meta":     map[string]any{"result_count": len(data)},
	}
	if end < len(tweets) {
		resp["meta"] = map[string]any{"result_count": len(data), "next_token": "c" + strconv.Itoa(end)}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.mu.Lock()
	s.mediaHits[name]++
	delay := s.mediaDelay
	s.mu.Unlock()

	time.Sleep(delay)

	if strings.HasPrefix(name, "missing") {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	_, _ = w.Write([]byte("fake-image-" + name))
}

func cursorOffset(cursor string) int {
	if !strings.HasPrefix(cursor, "c") {
		return 0
	}
	n, err := strconv.Atoi(cursor[1:])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
