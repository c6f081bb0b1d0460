package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/bookmirror/internal/domain"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, "x"), mr
}

func TestCredentialLifecycle(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Get(ctx, "u1"); !errors.Is(err, domain.ErrCredentialNotFound) {
		t.Fatalf("Get() on empty store error = %v, want ErrCredentialNotFound", err)
	}

	cred := &domain.Credential{
		UserID:         "u1",
		RemoteUserID:   "42",
		RemoteUsername: "alice",
		AccessToken:    "at-1",
		RefreshToken:   "rt-1",
		ExpiresAt:      time.Now().Add(time.Hour),
	}
	if err := store.Save(ctx, cred); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// saving again replaces the row
	cred.AccessToken = "at-2"
	if err := store.Save(ctx, cred); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.AccessToken != "at-2" || got.Platform != "x" || got.RemoteUsername != "alice" {
		t.Errorf("Get() = %+v", got)
	}

	if err := store.MarkRevoked(ctx, "u1"); err != nil {
		t.Fatalf("MarkRevoked() error = %v", err)
	}
	got, _ = store.Get(ctx, "u1")
	if !got.Revoked {
		t.Error("credential should be revoked")
	}

	if err := store.Delete(ctx, "u1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, "u1"); !errors.Is(err, domain.ErrCredentialNotFound) {
		t.Errorf("Get() after Delete error = %v", err)
	}
}

func TestMarkRevokedMissingIsNoop(t *testing.T) {
	store, _ := newTestStore(t)
	if err := store.MarkRevoked(context.Background(), "nobody"); err != nil {
		t.Fatalf("MarkRevoked() error = %v", err)
	}
}

func TestIsExpiringSoon(t *testing.T) {
	store, _ := newTestStore(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{name: "far future", expiresAt: now.Add(time.Hour), want: false},
		{name: "inside skew", expiresAt: now.Add(2 * time.Minute), want: true},
		{name: "already expired", expiresAt: now.Add(-time.Minute), want: true},
		{name: "unknown expiry", expiresAt: time.Time{}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred := &domain.Credential{ExpiresAt: tt.expiresAt}
			if got := store.IsExpiringSoon(cred, 5*time.Minute); got != tt.want {
				t.Errorf("IsExpiringSoon() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPendingIsOneShot(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	p := &domain.PendingAuthorization{SessionID: "s1", UserID: "u1", State: "st", CodeVerifier: "cv"}
	if err := store.SavePending(ctx, p, time.Minute); err != nil {
		t.Fatalf("SavePending() error = %v", err)
	}

	got, err := store.TakePending(ctx, "s1")
	if err != nil {
		t.Fatalf("TakePending() error = %v", err)
	}
	if got.State != "st" || got.CodeVerifier != "cv" {
		t.Errorf("TakePending() = %+v", got)
	}
	if _, err := store.TakePending(ctx, "s1"); !errors.Is(err, ErrPendingNotFound) {
		t.Errorf("second TakePending() error = %v, want ErrPendingNotFound", err)
	}

	// expired sessions are gone
	if err := store.SavePending(ctx, &domain.PendingAuthorization{SessionID: "s2"}, time.Minute); err != nil {
		t.Fatalf("SavePending() error = %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := store.TakePending(ctx, "s2"); !errors.Is(err, ErrPendingNotFound) {
		t.Errorf("TakePending() after ttl error = %v, want ErrPendingNotFound", err)
	}
}

func TestLastSync(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := store.LastSync(ctx, "u1"); err != nil || ok {
		t.Fatalf("LastSync() = ok %v, err %v; want not found", ok, err)
	}

	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	if err := store.SetLastSync(ctx, "u1", at); err != nil {
		t.Fatalf("SetLastSync() error = %v", err)
	}
	got, ok, err := store.LastSync(ctx, "u1")
	if err != nil || !ok || !got.Equal(at) {
		t.Errorf("LastSync() = %v, %v, %v", got, ok, err)
	}
}

func TestRefreshLock(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	token, ok, err := store.AcquireRefreshLock(ctx, "u1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("AcquireRefreshLock() = %v, %v", ok, err)
	}
	if _, ok, _ := store.AcquireRefreshLock(ctx, "u1", time.Minute); ok {
		t.Fatal("lock must not be acquired twice")
	}

	// a stale token cannot release someone else's lock
	if err := store.ReleaseRefreshLock(ctx, "u1", "not-the-holder"); err != nil {
		t.Fatalf("ReleaseRefreshLock() error = %v", err)
	}
	if _, ok, _ := store.AcquireRefreshLock(ctx, "u1", time.Minute); ok {
		t.Fatal("lock released by a non-holder")
	}

	if err := store.ReleaseRefreshLock(ctx, "u1", token); err != nil {
		t.Fatalf("ReleaseRefreshLock() error = %v", err)
	}
	if _, ok, _ := store.AcquireRefreshLock(ctx, "u1", time.Minute); !ok {
		t.Fatal("lock should be free after release")
	}
}
