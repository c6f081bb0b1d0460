package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrSnakeDoc/bookmirror/internal/domain"
	"github.com/MrSnakeDoc/bookmirror/internal/urlnorm"
)

const bookmarkColumns = `id, user_id, external_source, external_id, url, normalized_url, title, description,
    title_edited, description_edited, author, source, like_count, repost_count, reply_count, quote_count,
    media_hashes, posted_at, created_at, updated_at`

// FindByExternalID looks a bookmark up by its platform identity
func (s *Store) FindByExternalID(ctx context.Context, userID, externalSource, externalID string) (*domain.Bookmark, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+bookmarkColumns+` FROM bookmarks
        WHERE user_id = ? AND external_source = ? AND external_id = ?`, userID, externalSource, externalID)
	return scanBookmark(row)
}

// FindByNormalizedURL looks a bookmark up by its cross-source URL key
func (s *Store) FindByNormalizedURL(ctx context.Context, userID, normalizedURL string) (*domain.Bookmark, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+bookmarkColumns+` FROM bookmarks
        WHERE user_id = ? AND normalized_url = ?`, userID, normalizedURL)
	return scanBookmark(row)
}

// GetBookmark returns one of the user's bookmarks by id
func (s *Store) GetBookmark(ctx context.Context, userID, id string) (*domain.Bookmark, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+bookmarkColumns+` FROM bookmarks
        WHERE user_id = ? AND id = ?`, userID, id)
	return scanBookmark(row)
}

// CountBookmarks returns how many bookmarks the user has
func (s *Store) CountBookmarks(ctx context.Context, userID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookmarks WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count bookmarks: %w", err)
	}
	return n, nil
}

// CreateBookmark inserts b. ID and NormalizedURL are filled in when empty.
// Returns domain.ErrDuplicate when either uniqueness rule is hit.
func (s *Store) CreateBookmark(ctx context.Context, b *domain.Bookmark) error {
	if strings.TrimSpace(b.UserID) == "" || strings.TrimSpace(b.URL) == "" {
		return errors.New("bookmark requires user id and url")
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.NormalizedURL == "" {
		b.NormalizedURL = urlnorm.Normalize(b.URL)
	}
	if b.Source == "" {
		b.Source = domain.SourceWeb
	}
	now := s.now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now

	hashes, err := encodeHashes(b.MediaHashes)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO bookmarks (`+bookmarkColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.UserID, nullIfEmpty(b.ExternalSource), nullIfEmpty(b.ExternalID), b.URL, b.NormalizedURL,
		b.Title, b.Description, boolToInt(b.TitleEdited), boolToInt(b.DescriptionEdited), b.Author, b.Source,
		b.Metrics.Likes, b.Metrics.Reposts, b.Metrics.Replies, b.Metrics.Quotes,
		hashes, nullTime(b.PostedAt), b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %v", domain.ErrDuplicate, err)
		}
		return fmt.Errorf("failed to create bookmark: %w", err)
	}
	return nil
}

// UpdateBookmark rewrites every mutable column of b. Identity (user, url,
// source, created_at) is left alone.
func (s *Store) UpdateBookmark(ctx context.Context, b *domain.Bookmark) error {
	hashes, err := encodeHashes(b.MediaHashes)
	if err != nil {
		return err
	}
	b.UpdatedAt = s.now().UTC()

	res, err := s.db.ExecContext(ctx, `UPDATE bookmarks SET
            external_source = ?, external_id = ?, title = ?, description = ?,
            title_edited = ?, description_edited = ?, author = ?,
            like_count = ?, repost_count = ?, reply_count = ?, quote_count = ?,
            media_hashes = ?, posted_at = ?, updated_at = ?
        WHERE id = ? AND user_id = ?`,
		nullIfEmpty(b.ExternalSource), nullIfEmpty(b.ExternalID), b.Title, b.Description,
		boolToInt(b.TitleEdited), boolToInt(b.DescriptionEdited), b.Author,
		b.Metrics.Likes, b.Metrics.Reposts, b.Metrics.Replies, b.Metrics.Quotes,
		hashes, nullTime(b.PostedAt), b.UpdatedAt,
		b.ID, b.UserID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %v", domain.ErrDuplicate, err)
		}
		return fmt.Errorf("failed to update bookmark: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrBookmarkNotFound
	}
	return nil
}

// CreateManual stores a bookmark added by hand or by the browser
// extension. A non-empty title counts as user-supplied text.
func (s *Store) CreateManual(ctx context.Context, userID, rawURL, title, source string) (*domain.Bookmark, error) {
	b := &domain.Bookmark{
		UserID:      userID,
		URL:         rawURL,
		Title:       title,
		TitleEdited: title != "",
		Source:      source,
	}
	if err := s.CreateBookmark(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// EditText applies user edits. Edited fields are flagged so sync leaves them alone.
func (s *Store) EditText(ctx context.Context, userID, id string, title, description *string) error {
	b, err := s.GetBookmark(ctx, userID, id)
	if err != nil {
		return err
	}
	if title != nil {
		b.Title = *title
		b.TitleEdited = true
	}
	if description != nil {
		b.Description = *description
		b.DescriptionEdited = true
	}
	return s.UpdateBookmark(ctx, b)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBookmark(row rowScanner) (*domain.Bookmark, error) {
	var (
		b              domain.Bookmark
		externalSource sql.NullString
		externalID     sql.NullString
		hashes         string
		postedAt       sql.NullTime
	)
	err := row.Scan(&b.ID, &b.UserID, &externalSource, &externalID, &b.URL, &b.NormalizedURL,
		&b.Title, &b.Description, &b.TitleEdited, &b.DescriptionEdited, &b.Author, &b.Source,
		&b.Metrics.Likes, &b.Metrics.Reposts, &b.Metrics.Replies, &b.Metrics.Quotes,
		&hashes, &postedAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrBookmarkNotFound
		}
		return nil, fmt.Errorf("failed to scan bookmark: %w", err)
	}
	b.ExternalSource = externalSource.String
	b.ExternalID = externalID.String
	if postedAt.Valid {
		b.PostedAt = postedAt.Time.UTC()
	}
	if hashes != "" {
		if err := json.Unmarshal([]byte(hashes), &b.MediaHashes); err != nil {
			return nil, fmt.Errorf("failed to decode media hashes: %w", err)
		}
	}
	return &b, nil
}

func encodeHashes(hashes []string) (string, error) {
	if len(hashes) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(hashes)
	if err != nil {
		return "", fmt.Errorf("failed to encode media hashes: %w", err)
	}
	return string(data), nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
