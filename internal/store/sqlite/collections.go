package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/MrSnakeDoc/bookmirror/internal/domain"
	"github.com/MrSnakeDoc/bookmirror/internal/utils"
)

// CreateCollection adds a collection owned by userID
func (s *Store) CreateCollection(ctx context.Context, userID, name string) (*domain.Collection, error) {
	if strings.TrimSpace(name) == "" {
		name = "Untitled"
	}
	c := &domain.Collection{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		CreatedAt: s.now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO collections (id, user_id, name, created_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.UserID, c.Name, c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}
	return c, nil
}

// GetCollection returns the user's collection or domain.ErrCollectionNotFound
func (s *Store) GetCollection(ctx context.Context, userID, id string) (*domain.Collection, error) {
	var c domain.Collection
	err := s.db.QueryRowContext(ctx, `SELECT id, user_id, name, created_at FROM collections WHERE id = ? AND user_id = ?`,
		id, userID).Scan(&c.ID, &c.UserID, &c.Name, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrCollectionNotFound
		}
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}
	return &c, nil
}

// AddMemberships links bookmarks to a collection. Existing links are left
// as they are; the count of newly inserted links is returned.
func (s *Store) AddMemberships(ctx context.Context, collectionID string, bookmarkIDs []string) (int, error) {
	if len(bookmarkIDs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin membership tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO collection_bookmarks (collection_id, bookmark_id, created_at) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare membership insert: %w", err)
	}
	defer utils.Close(stmt)

	now := s.now().UTC()
	inserted := 0
	for _, id := range bookmarkIDs {
		res, err := stmt.ExecContext(ctx, collectionID, id, now)
		if err != nil {
			return 0, fmt.Errorf("failed to add bookmark %s to collection: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit memberships: %w", err)
	}
	return inserted, nil
}

// CollectionMembers returns the ids of bookmarks in a collection
func (s *Store) CollectionMembers(ctx context.Context, collectionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT bookmark_id FROM collection_bookmarks WHERE collection_id = ? ORDER BY created_at, bookmark_id`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list collection members: %w", err)
	}
	defer utils.Close(rows)

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveFolderMapping creates or overwrites the mapping of a remote folder
func (s *Store) SaveFolderMapping(ctx context.Context, m *domain.FolderMapping) error {
	m.UpdatedAt = s.now().UTC()
	_, err := s.db.ExecContext(ctx, `INSERT INTO folder_mappings
        (user_id, platform, remote_folder_id, remote_folder_name, collection_id, updated_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(user_id, platform, remote_folder_id) DO UPDATE SET
            remote_folder_name = excluded.remote_folder_name,
            collection_id = excluded.collection_id,
            updated_at = excluded.updated_at`,
		m.UserID, m.Platform, m.RemoteFolderID, m.RemoteFolderName, m.CollectionID, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save folder mapping: %w", err)
	}
	return nil
}

// GetFolderMapping returns the mapping of one remote folder or domain.ErrMappingNotFound
func (s *Store) GetFolderMapping(ctx context.Context, userID, platform, folderID string) (*domain.FolderMapping, error) {
	var m domain.FolderMapping
	err := s.db.QueryRowContext(ctx, `SELECT user_id, platform, remote_folder_id, remote_folder_name, collection_id, updated_at
        FROM folder_mappings WHERE user_id = ? AND platform = ? AND remote_folder_id = ?`, userID, platform, folderID).
		Scan(&m.UserID, &m.Platform, &m.RemoteFolderID, &m.RemoteFolderName, &m.CollectionID, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMappingNotFound
		}
		return nil, fmt.Errorf("failed to get folder mapping: %w", err)
	}
	return &m, nil
}

// ListFolderMappings returns every mapping of the user for a platform
func (s *Store) ListFolderMappings(ctx context.Context, userID, platform string) ([]domain.FolderMapping, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, platform, remote_folder_id, remote_folder_name, collection_id, updated_at
        FROM folder_mappings WHERE user_id = ? AND platform = ? ORDER BY remote_folder_name`, userID, platform)
	if err != nil {
		return nil, fmt.Errorf("failed to list folder mappings: %w", err)
	}
	defer utils.Close(rows)

	var out []domain.FolderMapping
	for rows.Next() {
		var m domain.FolderMapping
		if err := rows.Scan(&m.UserID, &m.Platform, &m.RemoteFolderID, &m.RemoteFolderName, &m.CollectionID, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
