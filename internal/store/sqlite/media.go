package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/MrSnakeDoc/bookmirror/internal/domain"
)

// ErrAssetNotFound is returned for an unknown content hash.
var ErrAssetNotFound = errors.New("media asset not found")

// RecordMediaAsset stores an asset row. Assets are immutable, so a second
// insert for the same hash is ignored.
func (s *Store) RecordMediaAsset(ctx context.Context, a domain.MediaAsset) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO media_assets (content_hash, source_url, local_path, created_at)
        VALUES (?, ?, ?, ?)`, a.ContentHash, a.SourceURL, a.LocalPath, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record media asset: %w", err)
	}
	return nil
}

// GetMediaAsset returns the asset stored under hash
func (s *Store) GetMediaAsset(ctx context.Context, hash string) (*domain.MediaAsset, error) {
	var a domain.MediaAsset
	err := s.db.QueryRowContext(ctx, `SELECT content_hash, source_url, local_path, created_at FROM media_assets WHERE content_hash = ?`, hash).
		Scan(&a.ContentHash, &a.SourceURL, &a.LocalPath, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAssetNotFound
		}
		return nil, fmt.Errorf("failed to get media asset: %w", err)
	}
	return &a, nil
}
