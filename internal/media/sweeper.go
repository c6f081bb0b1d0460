package media

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrSnakeDoc/bookmirror/internal/logger"
)

const (
	// DefaultTmpMaxAge is how old a temp file must be before it counts as
	// left behind by a crashed download
	DefaultTmpMaxAge = time.Hour
)

// Sweeper periodically removes orphaned temp files from the media dir.
// Finished files are never touched.
type Sweeper struct {
	dir      string
	logger   logger.Logger
	interval time.Duration
	maxAge   time.Duration
	now      func() time.Time
	stopCh   chan struct{}
}

// NewSweeper creates a sweeper for dir
func NewSweeper(dir string, log logger.Logger, interval, maxAge time.Duration) *Sweeper {
	if maxAge <= 0 {
		maxAge = DefaultTmpMaxAge
	}
	if interval <= 0 {
		interval = maxAge
	}
	return &Sweeper{
		dir:      dir,
		logger:   log.Named("media-sweeper"),
		interval: interval,
		maxAge:   maxAge,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start sweeps once, then on every interval until Stop or ctx is done
func (s *Sweeper) Start(ctx context.Context) {
	if _, err := s.Collect(ctx); err != nil {
		s.logger.Warn("initial media sweep failed", logger.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := s.Collect(ctx); err != nil {
					s.logger.Error("media sweep failed", logger.Error(err))
				}
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the sweeper
func (s *Sweeper) Stop() {
	close(s.stopCh)
}

// Collect removes temp files older than the max age and returns how many
// were deleted
func (s *Sweeper) Collect(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-s.maxAge)
	deleted := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return deleted, ctx.Err()
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), tmpSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove temp file", logger.String("file", e.Name()), logger.Error(err))
			continue
		}
		deleted++
	}

	if deleted > 0 {
		s.logger.Info("media sweep completed", logger.Int("deleted", deleted))
	} else {
		s.logger.Debug("no temp files to sweep")
	}
	return deleted, nil
}
