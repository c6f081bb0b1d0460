package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrSnakeDoc/bookmirror/internal/domain"
	"github.com/MrSnakeDoc/bookmirror/internal/logger"
	"github.com/MrSnakeDoc/bookmirror/internal/remote/remotetest"
)

type recordedAssets struct {
	mu     sync.Mutex
	assets []domain.MediaAsset
}

func (r *recordedAssets) RecordMediaAsset(_ context.Context, a domain.MediaAsset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets = append(r.assets, a)
	return nil
}

func (r *recordedAssets) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.assets)
}

func newTestCache(t *testing.T, fake *remotetest.Server, assets AssetRecorder) *Cache {
	t.Helper()
	c, err := New(Options{
		Dir:        t.TempDir(),
		PublicPath: "/media/",
		HTTPClient: fake.Client(),
	}, assets, logger.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestGuessExt(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://pbs.twimg.com/media/abc.jpg", ".jpg"},
		{"https://pbs.twimg.com/media/abc.PNG", ".png"},
		{"https://pbs.twimg.com/media/abc?format=webp&name=small", ".webp"},
		{"https://video.twimg.com/ext_tw_video/1/pu/vid/abc", ".mp4"},
		{"https://example.com/download", ".bin"},
		{"https://example.com/file.tar.gz", ".gz"},
		{"https://example.com/weird.j%20g", ".bin"},
		{"::not a url", ".bin"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := guessExt(tt.url); got != tt.want {
				t.Errorf("guessExt(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestHashIsStable(t *testing.T) {
	a := Hash("https://pbs.twimg.com/media/a.jpg")
	if a != Hash("https://pbs.twimg.com/media/a.jpg") {
		t.Fatal("same url must hash the same")
	}
	if a == Hash("https://pbs.twimg.com/media/b.jpg") {
		t.Fatal("different urls should not collide")
	}
	if len(a) != 16 {
		t.Errorf("hash %q should be 16 hex chars", a)
	}
}

func TestFetchAndCacheDownloadsOnce(t *testing.T) {
	fake := remotetest.New(t)
	fake.SetMediaDelay(100 * time.Millisecond)
	assets := &recordedAssets{}
	c := newTestCache(t, fake, assets)
	src := fake.MediaURL("photo.jpg")

	var wg sync.WaitGroup
	paths := make([]string, 8)
	errs := make([]error, 8)
	for i := range paths {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = c.FetchAndCache(context.Background(), src, "")
		}(i)
	}
	wg.Wait()

	want := "/media/" + Hash(src) + ".jpg"
	for i := range paths {
		if errs[i] != nil {
			t.Fatalf("caller %d error = %v", i, errs[i])
		}
		if paths[i] != want {
			t.Errorf("caller %d path = %q, want %q", i, paths[i], want)
		}
	}
	if hits := fake.MediaHits("photo.jpg"); hits != 1 {
		t.Errorf("downloads = %d, want 1", hits)
	}

	data, err := os.ReadFile(filepath.Join(c.Dir(), Hash(src)+".jpg"))
	if err != nil || string(data) != "fake-image-photo.jpg" {
		t.Errorf("cached file = %q, %v", data, err)
	}

	// cached file short-circuits the network
	if _, err := c.FetchAndCache(context.Background(), src, ""); err != nil {
		t.Fatalf("FetchAndCache() error = %v", err)
	}
	if hits := fake.MediaHits("photo.jpg"); hits != 1 {
		t.Errorf("downloads after cache hit = %d, want 1", hits)
	}
	if assets.count() != 1 {
		t.Errorf("recorded assets = %d, want 1", assets.count())
	}
}

func TestFetchAndCacheFailureLeavesNothing(t *testing.T) {
	fake := remotetest.New(t)
	c := newTestCache(t, fake, nil)

	path, err := c.FetchAndCache(context.Background(), fake.MediaURL("missing.jpg"), "")
	var dlErr *domain.MediaDownloadError
	if !errors.As(err, &dlErr) {
		t.Fatalf("FetchAndCache() error = %v, want MediaDownloadError", err)
	}
	if path != "" {
		t.Errorf("path = %q, want empty", path)
	}

	entries, _ := os.ReadDir(c.Dir())
	if len(entries) != 0 {
		t.Errorf("media dir should be empty, has %d entries", len(entries))
	}
}

func TestFetchAndCacheSizeLimit(t *testing.T) {
	fake := remotetest.New(t)
	c := newTestCache(t, fake, nil)
	c.maxBytes = 4

	if _, err := c.FetchAndCache(context.Background(), fake.MediaURL("big.jpg"), ""); !errors.Is(err, errTooLarge) {
		t.Fatalf("FetchAndCache() error = %v, want errTooLarge", err)
	}
	entries, _ := os.ReadDir(c.Dir())
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), tmpSuffix) {
			t.Errorf("temp file %s left behind", e.Name())
		}
	}
}

func TestFetchAll(t *testing.T) {
	fake := remotetest.New(t)
	c := newTestCache(t, fake, nil)

	a, b, missing := fake.MediaURL("a.png"), fake.MediaURL("b.png"), fake.MediaURL("missing.png")
	got := c.FetchAll(context.Background(), []string{a, b, a, missing}, "Bearer tok")

	if len(got) != 2 || got[a] != Hash(a) || got[b] != Hash(b) {
		t.Errorf("FetchAll() = %v", got)
	}
	if _, ok := got[missing]; ok {
		t.Error("failed download must be left out")
	}
	if fake.MediaHits("a.png") != 1 {
		t.Errorf("duplicate url downloaded %d times", fake.MediaHits("a.png"))
	}
}
