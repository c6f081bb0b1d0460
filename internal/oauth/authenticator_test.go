package oauth

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/bookmirror/internal/domain"
	"github.com/MrSnakeDoc/bookmirror/internal/logger"
	"github.com/MrSnakeDoc/bookmirror/internal/remote"
	"github.com/MrSnakeDoc/bookmirror/internal/remote/remotetest"
	redisstore "github.com/MrSnakeDoc/bookmirror/internal/store/redis"
)

type fixture struct {
	fake  *remotetest.Server
	store *redisstore.Store
	auth  *Authenticator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := remotetest.New(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := redisstore.NewStore(client, "x")
	f := &fixture{fake: fake, store: store}
	f.auth = f.newAuthenticator()
	return f
}

// newAuthenticator builds a second authenticator over the same store, as a
// separate process would.
func (f *fixture) newAuthenticator() *Authenticator {
	cfg := Config{
		ClientID:    "client",
		RedirectURL: "http://localhost/auth/callback",
		AuthURL:     f.fake.AuthURL(),
		TokenURL:    f.fake.TokenURL(),
		Scopes:      []string{"bookmark.read", "offline.access"},
		HTTPClient:  f.fake.Client(),
	}
	identity := remote.NewClient(f.fake.URL, f.fake.Client(), 100, logger.Nop())
	return New(cfg, f.store, identity, logger.Nop())
}

func (f *fixture) seedCredential(t *testing.T, refreshToken string, expiresAt time.Time) {
	t.Helper()
	err := f.store.Save(context.Background(), &domain.Credential{
		UserID:         "u1",
		RemoteUserID:   "42",
		RemoteUsername: "alice",
		AccessToken:    f.fake.AccessToken(),
		RefreshToken:   refreshToken,
		ExpiresAt:      expiresAt,
	})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
}

func stateOf(t *testing.T, authURL string) string {
	t.Helper()
	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("invalid authorization url %q: %v", authURL, err)
	}
	return u.Query().Get("state")
}

func TestStartAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedCredential(t, "refresh-0", time.Now().Add(time.Hour))

	first, err := f.auth.StartAuthorization(ctx, "u1")
	if err != nil {
		t.Fatalf("StartAuthorization() error = %v", err)
	}
	u, _ := url.Parse(first.AuthorizationURL)
	q := u.Query()
	if q.Get("code_challenge_method") != "S256" || q.Get("code_challenge") == "" {
		t.Errorf("missing PKCE challenge in %s", first.AuthorizationURL)
	}
	if q.Get("client_id") != "client" || q.Get("state") == "" || first.SessionID == "" {
		t.Errorf("unexpected authorization start %+v", first)
	}

	// a previous credential is invalidated
	if _, err := f.store.Get(ctx, "u1"); !errors.Is(err, domain.ErrCredentialNotFound) {
		t.Errorf("credential still stored after start: %v", err)
	}

	second, err := f.auth.StartAuthorization(ctx, "u1")
	if err != nil {
		t.Fatalf("StartAuthorization() error = %v", err)
	}
	u2, _ := url.Parse(second.AuthorizationURL)
	if u2.Query().Get("code_challenge") == q.Get("code_challenge") || stateOf(t, second.AuthorizationURL) == q.Get("state") {
		t.Error("each attempt must use a fresh verifier and state")
	}
}

func TestCompleteAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	start, err := f.auth.StartAuthorization(ctx, "u1")
	if err != nil {
		t.Fatalf("StartAuthorization() error = %v", err)
	}
	state := stateOf(t, start.AuthorizationURL)

	username, err := f.auth.CompleteAuthorization(ctx, "u1", "good-code", state, start.SessionID)
	if err != nil {
		t.Fatalf("CompleteAuthorization() error = %v", err)
	}
	if username != "alice" {
		t.Errorf("username = %q, want alice", username)
	}

	cred, err := f.store.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if cred.AccessToken != "access-0" || cred.RefreshToken != "refresh-0" || cred.RemoteUserID != "42" {
		t.Errorf("stored credential = %+v", cred)
	}
	if cred.ExpiresAt.IsZero() {
		t.Error("expiry must be recorded")
	}

	// the session is one-shot
	_, err = f.auth.CompleteAuthorization(ctx, "u1", "good-code", state, start.SessionID)
	var authErr *domain.AuthenticationError
	if !errors.As(err, &authErr) || authErr.Reason != domain.ReasonStateMismatch {
		t.Errorf("replayed callback error = %v, want state_mismatch", err)
	}
}

func TestCompleteAuthorizationFailures(t *testing.T) {
	tests := []struct {
		name   string
		user   string
		code   string
		state  func(real string) string
		reason string
	}{
		{name: "wrong state", user: "u1", code: "good-code", state: func(string) string { return "forged" }, reason: domain.ReasonStateMismatch},
		{name: "other user", user: "u2", code: "good-code", state: func(s string) string { return s }, reason: domain.ReasonStateMismatch},
		{name: "bad code", user: "u1", code: "bad-code", state: func(s string) string { return s }, reason: domain.ReasonCodeExchangeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			start, err := f.auth.StartAuthorization(ctx, "u1")
			if err != nil {
				t.Fatalf("StartAuthorization() error = %v", err)
			}
			_, err = f.auth.CompleteAuthorization(ctx, tt.user, tt.code, tt.state(stateOf(t, start.AuthorizationURL)), start.SessionID)

			var authErr *domain.AuthenticationError
			if !errors.As(err, &authErr) || authErr.Reason != tt.reason {
				t.Fatalf("CompleteAuthorization() error = %v, want reason %s", err, tt.reason)
			}
			if _, err := f.store.Get(ctx, tt.user); !errors.Is(err, domain.ErrCredentialNotFound) {
				t.Errorf("no credential may be stored on failure, got %v", err)
			}
		})
	}
}

func TestCompleteAuthorizationUnknownSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.auth.CompleteAuthorization(context.Background(), "u1", "good-code", "s", "no-such-session")
	var authErr *domain.AuthenticationError
	if !errors.As(err, &authErr) || authErr.Reason != domain.ReasonStateMismatch {
		t.Errorf("error = %v, want state_mismatch", err)
	}
}

func TestEnsureFreshToken(t *testing.T) {
	t.Run("fresh token is returned as is", func(t *testing.T) {
		f := newFixture(t)
		f.seedCredential(t, "refresh-0", time.Now().Add(time.Hour))

		cred, err := f.auth.EnsureFreshToken(context.Background(), "u1")
		if err != nil {
			t.Fatalf("EnsureFreshToken() error = %v", err)
		}
		if cred.AccessToken != "access-0" || f.fake.RefreshCalls() != 0 {
			t.Errorf("unexpected refresh: cred %+v, calls %d", cred, f.fake.RefreshCalls())
		}
	})

	t.Run("expiring token is refreshed", func(t *testing.T) {
		f := newFixture(t)
		f.seedCredential(t, "refresh-0", time.Now().Add(time.Minute))

		cred, err := f.auth.EnsureFreshToken(context.Background(), "u1")
		if err != nil {
			t.Fatalf("EnsureFreshToken() error = %v", err)
		}
		if cred.AccessToken != "access-1" || cred.RefreshToken != "refresh-1" {
			t.Errorf("refreshed credential = %+v", cred)
		}
		stored, _ := f.store.Get(context.Background(), "u1")
		if stored.AccessToken != "access-1" {
			t.Errorf("refreshed token not persisted: %+v", stored)
		}
	})

	t.Run("rejected refresh revokes", func(t *testing.T) {
		f := newFixture(t)
		f.seedCredential(t, "not-the-refresh-token", time.Now().Add(-time.Minute))

		if _, err := f.auth.EnsureFreshToken(context.Background(), "u1"); !errors.Is(err, domain.ErrAuthExpired) {
			t.Fatalf("EnsureFreshToken() error = %v, want ErrAuthExpired", err)
		}
		stored, _ := f.store.Get(context.Background(), "u1")
		if stored == nil || !stored.Revoked {
			t.Errorf("credential should be revoked: %+v", stored)
		}
		// and stays expired without another round trip
		calls := f.fake.RefreshCalls()
		if _, err := f.auth.EnsureFreshToken(context.Background(), "u1"); !errors.Is(err, domain.ErrAuthExpired) {
			t.Errorf("second EnsureFreshToken() error = %v", err)
		}
		if f.fake.RefreshCalls() != calls {
			t.Error("revoked credential must not be refreshed again")
		}
	})

	t.Run("missing credential", func(t *testing.T) {
		f := newFixture(t)
		if _, err := f.auth.EnsureFreshToken(context.Background(), "u1"); !errors.Is(err, domain.ErrAuthExpired) {
			t.Errorf("EnsureFreshToken() error = %v, want ErrAuthExpired", err)
		}
	})
}

func TestRefreshRaceRefreshesOnce(t *testing.T) {
	f := newFixture(t)
	f.fake.SetRefreshDelay(100 * time.Millisecond)
	f.seedCredential(t, "refresh-0", time.Now().Add(time.Minute))

	// two authenticators stand in for two processes, each with its own
	// in-process coalescing
	auths := []*Authenticator{f.auth, f.newAuthenticator()}

	var wg sync.WaitGroup
	tokens := make([]string, 6)
	errs := make([]error, 6)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cred, err := auths[i%2].EnsureFreshToken(context.Background(), "u1")
			errs[i] = err
			if cred != nil {
				tokens[i] = cred.AccessToken
			}
		}(i)
	}
	wg.Wait()

	for i := range tokens {
		if errs[i] != nil {
			t.Fatalf("caller %d error = %v", i, errs[i])
		}
		if tokens[i] != "access-1" {
			t.Errorf("caller %d token = %q, want access-1", i, tokens[i])
		}
	}
	if got := f.fake.RefreshCalls(); got != 1 {
		t.Errorf("refresh calls = %d, want 1", got)
	}
}

func TestForceRefresh(t *testing.T) {
	t.Run("rejected token is replaced", func(t *testing.T) {
		f := newFixture(t)
		f.seedCredential(t, "refresh-0", time.Now().Add(time.Hour))
		f.fake.SetTokens("rotated", "refresh-0")

		cred, err := f.auth.ForceRefresh(context.Background(), "u1", "access-0")
		if err != nil {
			t.Fatalf("ForceRefresh() error = %v", err)
		}
		if cred.AccessToken != "access-1" || f.fake.RefreshCalls() != 1 {
			t.Errorf("cred %+v, refresh calls %d", cred, f.fake.RefreshCalls())
		}
	})

	t.Run("token replaced elsewhere is reused", func(t *testing.T) {
		f := newFixture(t)
		f.seedCredential(t, "refresh-0", time.Now().Add(time.Hour))

		cred, err := f.auth.ForceRefresh(context.Background(), "u1", "some-older-token")
		if err != nil {
			t.Fatalf("ForceRefresh() error = %v", err)
		}
		if cred.AccessToken != "access-0" || f.fake.RefreshCalls() != 0 {
			t.Errorf("cred %+v, refresh calls %d", cred, f.fake.RefreshCalls())
		}
	})

	t.Run("rejected refresh revokes", func(t *testing.T) {
		f := newFixture(t)
		f.seedCredential(t, "refresh-0", time.Now().Add(time.Hour))
		f.fake.SetTokens("rotated", "refresh-rotated")

		if _, err := f.auth.ForceRefresh(context.Background(), "u1", "access-0"); !errors.Is(err, domain.ErrAuthExpired) {
			t.Fatalf("ForceRefresh() error = %v, want ErrAuthExpired", err)
		}
		stored, _ := f.store.Get(context.Background(), "u1")
		if stored == nil || !stored.Revoked {
			t.Errorf("credential should be revoked: %+v", stored)
		}
	})
}

func TestRefreshLockTimeout(t *testing.T) {
	newAuth := func(f *fixture) *Authenticator {
		identity := remote.NewClient(f.fake.URL, f.fake.Client(), 100, logger.Nop())
		return New(Config{
			ClientID:       "client",
			TokenURL:       f.fake.TokenURL(),
			HTTPClient:     f.fake.Client(),
			RefreshLockTTL: 300 * time.Millisecond,
		}, f.store, identity, logger.Nop())
	}

	t.Run("credential refreshed by the holder is used", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		f.seedCredential(t, "refresh-0", time.Now().Add(time.Minute))
		if _, ok, err := f.store.AcquireRefreshLock(ctx, "u1", time.Minute); !ok || err != nil {
			t.Fatalf("AcquireRefreshLock() = %v, %v", ok, err)
		}

		// the holder stores a fresh credential but never releases the lock
		go func() {
			time.Sleep(50 * time.Millisecond)
			_ = f.store.Save(ctx, &domain.Credential{
				UserID:       "u1",
				RemoteUserID: "42",
				AccessToken:  "from-holder",
				RefreshToken: "refresh-0",
				ExpiresAt:    time.Now().Add(time.Hour),
			})
		}()

		cred, err := newAuth(f).EnsureFreshToken(ctx, "u1")
		if err != nil {
			t.Fatalf("EnsureFreshToken() error = %v", err)
		}
		if cred.AccessToken != "from-holder" || f.fake.RefreshCalls() != 0 {
			t.Errorf("cred %+v, refresh calls %d", cred, f.fake.RefreshCalls())
		}
	})

	t.Run("stale credential is an error", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		f.seedCredential(t, "refresh-0", time.Now().Add(time.Minute))
		if _, ok, err := f.store.AcquireRefreshLock(ctx, "u1", time.Minute); !ok || err != nil {
			t.Fatalf("AcquireRefreshLock() = %v, %v", ok, err)
		}

		_, err := newAuth(f).EnsureFreshToken(ctx, "u1")
		if !errors.Is(err, errLockTimeout) {
			t.Errorf("EnsureFreshToken() error = %v, want lock timeout", err)
		}
		if f.fake.RefreshCalls() != 0 {
			t.Error("no refresh may run while another holder has the lock")
		}
	})
}

func TestDisconnectAndStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedCredential(t, "refresh-0", time.Now().Add(time.Hour))
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	if err := f.store.SetLastSync(ctx, "u1", at); err != nil {
		t.Fatalf("SetLastSync() error = %v", err)
	}

	st, err := f.auth.Status(ctx, "u1")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !st.Connected || st.Username != "alice" || st.LastSync == nil || !st.LastSync.Equal(at) {
		t.Errorf("Status() = %+v", st)
	}

	if err := f.auth.Disconnect(ctx, "u1"); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	st, err = f.auth.Status(ctx, "u1")
	if err != nil || st.Connected || st.LastSync != nil {
		t.Errorf("Status() after disconnect = %+v, %v", st, err)
	}
}
