// Package media caches remote attachments on local disk, addressed by the
// hash of their source URL.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/MrSnakeDoc/bookmirror/internal/domain"
	"github.com/MrSnakeDoc/bookmirror/internal/logger"
	"github.com/MrSnakeDoc/bookmirror/internal/utils"
)

const (
	// DefaultWorkers bounds concurrent downloads in FetchAll
	DefaultWorkers = 6
	// DefaultMaxBytes caps a single download
	DefaultMaxBytes int64 = 25 << 20

	tmpSuffix = ".tmp"
)

var errTooLarge = errors.New("media exceeds size limit")

// AssetRecorder persists metadata of cached files.
type AssetRecorder interface {
	RecordMediaAsset(ctx context.Context, a domain.MediaAsset) error
}

// Options configures a Cache.
type Options struct {
	// Dir is where files are stored. Created if missing.
	Dir string
	// PublicPath is the URL prefix the directory is served under.
	PublicPath string
	Workers    int
	MaxBytes   int64
	HTTPClient *http.Client
}

// Cache downloads each distinct URL at most once.
type Cache struct {
	dir        string
	publicPath string
	workers    int
	maxBytes   int64
	client     *http.Client
	assets     AssetRecorder
	log        logger.Logger

	flights singleflight.Group
}

// New creates a cache rooted at opts.Dir. assets may be nil.
func New(opts Options, assets AssetRecorder, log logger.Logger) (*Cache, error) {
	if opts.Dir == "" {
		return nil, errors.New("media dir is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media dir: %w", err)
	}
	c := &Cache{
		dir:        opts.Dir,
		publicPath: strings.TrimRight(opts.PublicPath, "/"),
		workers:    opts.Workers,
		maxBytes:   opts.MaxBytes,
		client:     opts.HTTPClient,
		assets:     assets,
		log:        log.Named("media"),
	}
	if c.workers <= 0 {
		c.workers = DefaultWorkers
	}
	if c.maxBytes <= 0 {
		c.maxBytes = DefaultMaxBytes
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: 30 * time.Second}
	}
	return c, nil
}

// Dir returns the directory files are stored in
func (c *Cache) Dir() string { return c.dir }

// Hash returns the content hash of a source URL. It identifies the
// asset; it is not an integrity check of the bytes.
func Hash(sourceURL string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(sourceURL))
}

// FetchAndCache makes sure sourceURL is on disk and returns its public
// path. A file already present is returned without network I/O. Concurrent
// callers for the same URL share one download.
func (c *Cache) FetchAndCache(ctx context.Context, sourceURL, authHeader string) (string, error) {
	hash := Hash(sourceURL)
	name := hash + guessExt(sourceURL)
	target := filepath.Join(c.dir, name)
	public := c.publicPath + "/" + name

	if fileExists(target) {
		return public, nil
	}

	_, err, _ := c.flights.Do(hash, func() (any, error) {
		if fileExists(target) {
			return nil, nil
		}
		if err := c.download(ctx, sourceURL, authHeader, target); err != nil {
			return nil, err
		}
		if c.assets != nil {
			asset := domain.MediaAsset{ContentHash: hash, SourceURL: sourceURL, LocalPath: target}
			if err := c.assets.RecordMediaAsset(ctx, asset); err != nil {
				c.log.Warn("failed to record media asset", logger.String("hash", hash), logger.Error(err))
			}
		}
		return nil, nil
	})
	if err != nil {
		return "", &domain.MediaDownloadError{URL: sourceURL, Err: err}
	}
	return public, nil
}

// FetchAll caches urls with at most the configured number of concurrent
// downloads. It returns the content hash of every URL that is now cached;
// failures are logged and left out.
func (c *Cache) FetchAll(ctx context.Context, urls []string, authHeader string) map[string]string {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		out  = make(map[string]string, len(urls))
		seen = make(map[string]bool, len(urls))
	)
	g.SetLimit(c.workers)

	for _, u := range urls {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true

		u := u
		g.Go(func() error {
			if _, err := c.FetchAndCache(ctx, u, authHeader); err != nil {
				c.log.Warn("media download failed", logger.Error(err))
				return nil
			}
			mu.Lock()
			out[u] = Hash(u)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// download streams the body to a temp file next to target, syncs it and
// renames it into place, so readers never see a partial file.
func (c *Cache) download(ctx context.Context, sourceURL, authHeader, target string) (err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer utils.Close(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(c.dir, filepath.Base(target)+"-*"+tmpSuffix)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	n, err := io.Copy(tmp, io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return fmt.Errorf("failed to write media: %w", err)
	}
	if n > c.maxBytes {
		return errTooLarge
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync media: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close media: %w", err)
	}
	if err = os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("failed to move media into place: %w", err)
	}

	c.log.Debug("media cached", logger.String("url", sourceURL), logger.Int64("bytes", n))
	return nil
}

// guessExt picks a file extension from the URL path, then from known
// media hosts, and falls back to .bin.
func guessExt(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ".bin"
	}
	if ext := strings.ToLower(path.Ext(u.Path)); isPlainExt(ext) {
		return ext
	}

	switch strings.ToLower(u.Hostname()) {
	case "pbs.twimg.com":
		if f := strings.ToLower(u.Query().Get("format")); isPlainExt("." + f) {
			return "." + f
		}
	case "video.twimg.com":
		return ".mp4"
	}
	return ".bin"
}

func isPlainExt(ext string) bool {
	if len(ext) < 2 || len(ext) > 6 {
		return false
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}
