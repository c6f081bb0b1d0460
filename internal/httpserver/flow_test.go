package httpserver

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/bookmirror/internal/domain"
	"github.com/MrSnakeDoc/bookmirror/internal/folders"
	"github.com/MrSnakeDoc/bookmirror/internal/httpserver/deps"
	"github.com/MrSnakeDoc/bookmirror/internal/logger"
	"github.com/MrSnakeDoc/bookmirror/internal/media"
	"github.com/MrSnakeDoc/bookmirror/internal/oauth"
	"github.com/MrSnakeDoc/bookmirror/internal/remote"
	"github.com/MrSnakeDoc/bookmirror/internal/remote/remotetest"
	redisstore "github.com/MrSnakeDoc/bookmirror/internal/store/redis"
	"github.com/MrSnakeDoc/bookmirror/internal/store/sqlite"
	"github.com/MrSnakeDoc/bookmirror/internal/syncer"
)

type flow struct {
	t      *testing.T
	fake   *remotetest.Server
	router chi.Router
	cookie *http.Cookie
}

// newFlow wires the real stack against the fake platform.
func newFlow(t *testing.T) *flow {
	t.Helper()
	fake := remotetest.New(t)

	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	tokens := redisstore.NewStore(rc, domain.SourceX)

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "flow.db"))
	if err != nil {
		t.Fatalf("sqlite.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mediaDir := t.TempDir()
	cache, err := media.New(media.Options{Dir: mediaDir, PublicPath: "/media", HTTPClient: fake.Client()}, db, logger.Nop())
	if err != nil {
		t.Fatalf("media.New() error = %v", err)
	}

	client := remote.NewClient(fake.URL, fake.Client(), 100, logger.Nop())
	auth := oauth.New(oauth.Config{
		ClientID:    "client",
		RedirectURL: "http://bookmirror.test/auth/callback",
		AuthURL:     fake.AuthURL(),
		TokenURL:    fake.TokenURL(),
		HTTPClient:  fake.Client(),
	}, tokens, client, logger.Nop())
	mapper := folders.NewMapper(db, domain.SourceX, logger.Nop())
	engine := syncer.NewEngine(db, domain.SourceX, logger.Nop())
	orch := syncer.NewOrchestrator(auth, client, engine, cache, mapper, tokens, syncer.Options{MaxPages: 5}, logger.Nop())

	d := deps.Deps{
		Logger:          logger.Nop(),
		StartTime:       time.Now(),
		Accounts:        auth,
		Syncer:          orch,
		FolderMapper:    mapper,
		RedisClient:     rc,
		Database:        db,
		MediaDir:        mediaDir,
		MediaPublicPath: "/media",
		SyncBurst:       100,
		SyncRefillPerM:  100,
	}
	return &flow{t: t, fake: fake, router: NewRouter(logger.Nop(), d, time.Minute)}
}

func (f *flow) do(method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	f.t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("X-User-ID", "u1")
	if f.cookie != nil {
		req.AddCookie(f.cookie)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") && strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func (f *flow) expect(rec *httptest.ResponseRecorder, status int) {
	f.t.Helper()
	if rec.Code != status {
		f.t.Fatalf("%d %s, want %d", rec.Code, rec.Body.String(), status)
	}
}

func TestConnectSyncAndDisconnect(t *testing.T) {
	f := newFlow(t)
	catURL := f.fake.MediaURL("cat.jpg")
	f.fake.SetBookmarks(
		remotetest.Tweet{ID: "1", Text: "first post", Author: "bob", CreatedAt: "2026-01-01T10:00:00Z", MediaURLs: []string{catURL}},
		remotetest.Tweet{ID: "2", Text: "second post", Author: "carol", CreatedAt: "2026-01-02T10:00:00Z"},
	)

	// connect: start, then the provider redirects back with code and state
	rec, body := f.do(http.MethodGet, "/auth/start", "")
	f.expect(rec, http.StatusOK)
	authURL, err := url.Parse(body["authorizationUrl"].(string))
	if err != nil {
		t.Fatalf("authorizationUrl: %v", err)
	}
	if authURL.Query().Get("code_challenge_method") != "S256" {
		t.Errorf("authorization url lacks PKCE challenge: %s", authURL)
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == "bookmirror_auth_session" {
			f.cookie = c
		}
	}
	if f.cookie == nil {
		t.Fatal("no session cookie set")
	}

	rec, body = f.do(http.MethodGet, "/auth/callback?code=good-code&state="+url.QueryEscape(authURL.Query().Get("state")), "")
	f.expect(rec, http.StatusOK)
	if body["username"] != "alice" {
		t.Errorf("callback username = %v", body["username"])
	}
	f.cookie = nil

	// replaying the callback fails: the session is single use
	rec, body = f.do(http.MethodPost, "/auth/callback", `{"code":"good-code","state":"x","sessionId":"gone"}`)
	f.expect(rec, http.StatusBadRequest)
	if body["reason"] != domain.ReasonStateMismatch {
		t.Errorf("replay reason = %v", body["reason"])
	}

	rec, body = f.do(http.MethodPost, "/sync", "")
	f.expect(rec, http.StatusOK)
	if body["added"] != float64(2) || body["updated"] != float64(0) {
		t.Errorf("first sync = %v", body)
	}
	rec, body = f.do(http.MethodPost, "/sync", "")
	f.expect(rec, http.StatusOK)
	if body["added"] != float64(0) || body["updated"] != float64(2) {
		t.Errorf("second sync = %v", body)
	}

	rec, _ = f.do(http.MethodGet, "/media/"+media.Hash(catURL)+".jpg", "")
	f.expect(rec, http.StatusOK)
	if rec.Body.String() != "fake-image-cat.jpg" {
		t.Errorf("media body = %q", rec.Body.String())
	}
	rec, _ = f.do(http.MethodGet, "/media/", "")
	f.expect(rec, http.StatusNotFound)

	rec, body = f.do(http.MethodGet, "/status", "")
	f.expect(rec, http.StatusOK)
	if body["connected"] != true || body["username"] != "alice" || body["lastSync"] == nil {
		t.Errorf("status = %v", body)
	}

	// folders: list, map to a new collection, then sync the folder
	f.fake.AddFolder(remotetest.Folder{ID: "f1", Name: "Go", Items: []remotetest.Tweet{
		{ID: "1", Text: "first post", Author: "bob", CreatedAt: "2026-01-01T10:00:00Z"},
	}})
	rec, _ = f.do(http.MethodGet, "/folders", "")
	f.expect(rec, http.StatusOK)
	var views []folders.View
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil || len(views) != 1 || views[0].Mapped {
		t.Fatalf("folders = %s (%v)", rec.Body.String(), err)
	}

	rec, body = f.do(http.MethodPost, "/folders/map", `{"folderId":"f1","folderName":"Go","createNew":true}`)
	f.expect(rec, http.StatusOK)
	collectionID, _ := body["collectionId"].(string)
	if collectionID == "" {
		t.Fatalf("map = %v", body)
	}

	rec, body = f.do(http.MethodPost, "/sync/folder/f1", "")
	f.expect(rec, http.StatusOK)
	if body["collectionId"] != collectionID || body["updated"] != float64(1) {
		t.Errorf("folder sync = %v", body)
	}
	rec, body = f.do(http.MethodPost, "/sync/folder/nope", "")
	f.expect(rec, http.StatusNotFound)
	if body["error"] != "folder_not_found" {
		t.Errorf("unknown folder = %v", body)
	}

	rec, _ = f.do(http.MethodPost, "/disconnect", "")
	f.expect(rec, http.StatusOK)

	rec, body = f.do(http.MethodPost, "/sync", "")
	f.expect(rec, http.StatusUnauthorized)
	if body["action_required"] != "reconnect" {
		t.Errorf("sync after disconnect = %v", body)
	}
	rec, body = f.do(http.MethodGet, "/status", "")
	f.expect(rec, http.StatusOK)
	if body["connected"] != false {
		t.Errorf("status after disconnect = %v", body)
	}
}
