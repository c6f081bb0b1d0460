// Package syncer mirrors remote bookmarks into the local store.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MrSnakeDoc/bookmirror/internal/domain"
	"github.com/MrSnakeDoc/bookmirror/internal/logger"
	"github.com/MrSnakeDoc/bookmirror/internal/urlnorm"
)

const maxTitleRunes = 100

// BookmarkStore is the persistence the upsert engine needs.
type BookmarkStore interface {
	FindByExternalID(ctx context.Context, userID, externalSource, externalID string) (*domain.Bookmark, error)
	FindByNormalizedURL(ctx context.Context, userID, normalizedURL string) (*domain.Bookmark, error)
	CreateBookmark(ctx context.Context, b *domain.Bookmark) error
	UpdateBookmark(ctx context.Context, b *domain.Bookmark) error
}

// Engine decides per remote item whether to create or update a bookmark.
type Engine struct {
	store    BookmarkStore
	platform string
	log      logger.Logger
}

// NewEngine creates an upsert engine for platform
func NewEngine(store BookmarkStore, platform string, log logger.Logger) *Engine {
	return &Engine{store: store, platform: platform, log: log.Named("upsert")}
}

// Upsert stores item for userID and returns the outcome with the id of the
// local bookmark. A malformed item yields an *domain.IngestionError and
// leaves the store untouched.
func (e *Engine) Upsert(ctx context.Context, userID string, item domain.RemoteItem, mediaHashes []string) (domain.Outcome, string, error) {
	postedAt, err := item.Validate()
	if err == nil && item.AuthorID == "" && item.AuthorUsername == "" {
		err = errors.New("missing author")
	}
	if err != nil {
		return domain.OutcomeSkipped, "", &domain.IngestionError{ExternalID: item.ID, Err: err}
	}

	outcome, id, err := e.upsert(ctx, userID, item, mediaHashes, postedAt)
	if errors.Is(err, domain.ErrDuplicate) {
		// lost a create race against another writer; the row exists now
		e.log.Debug("create raced, retrying as update", logger.String("external_id", item.ID))
		outcome, id, err = e.upsert(ctx, userID, item, mediaHashes, postedAt)
	}
	if err != nil {
		return domain.OutcomeSkipped, "", fmt.Errorf("upsert %s: %w", item.ID, err)
	}
	return outcome, id, nil
}

func (e *Engine) upsert(ctx context.Context, userID string, item domain.RemoteItem, mediaHashes []string, postedAt time.Time) (domain.Outcome, string, error) {
	existing, err := e.store.FindByExternalID(ctx, userID, e.platform, item.ID)
	switch {
	case err == nil:
		applyRemote(existing, item, mediaHashes, postedAt, false)
		if err := e.store.UpdateBookmark(ctx, existing); err != nil {
			return domain.OutcomeSkipped, "", err
		}
		return domain.OutcomeUpdated, existing.ID, nil
	case !errors.Is(err, domain.ErrBookmarkNotFound):
		return domain.OutcomeSkipped, "", err
	}

	link := item.URL()
	normalized := urlnorm.Normalize(link)

	existing, err = e.store.FindByNormalizedURL(ctx, userID, normalized)
	switch {
	case err == nil:
		if existing.ExternalSource == e.platform && existing.ExternalID != "" && existing.ExternalID != item.ID {
			return domain.OutcomeSkipped, "", &domain.IngestionError{
				ExternalID: item.ID,
				Err:        fmt.Errorf("url already bound to %s item %s", e.platform, existing.ExternalID),
			}
		}
		// same target saved through another path: adopt it, keep its origin
		existing.ExternalSource = e.platform
		existing.ExternalID = item.ID
		applyRemote(existing, item, mediaHashes, postedAt, true)
		if err := e.store.UpdateBookmark(ctx, existing); err != nil {
			return domain.OutcomeSkipped, "", err
		}
		e.log.Info("merged remote item into existing bookmark",
			logger.UserID(userID),
			logger.String("external_id", item.ID),
			logger.String("bookmark_id", existing.ID),
		)
		return domain.OutcomeUpdated, existing.ID, nil
	case !errors.Is(err, domain.ErrBookmarkNotFound):
		return domain.OutcomeSkipped, "", err
	}

	b := &domain.Bookmark{
		UserID:         userID,
		ExternalSource: e.platform,
		ExternalID:     item.ID,
		URL:            link,
		NormalizedURL:  normalized,
		Source:         e.platform,
	}
	applyRemote(b, item, mediaHashes, postedAt, false)
	if err := e.store.CreateBookmark(ctx, b); err != nil {
		return domain.OutcomeSkipped, "", err
	}
	return domain.OutcomeCreated, b.ID, nil
}

// applyRemote copies the platform-authoritative fields onto b. Text the
// user edited is never touched; on a merge, existing text is kept too.
func applyRemote(b *domain.Bookmark, item domain.RemoteItem, mediaHashes []string, postedAt time.Time, merge bool) {
	if item.Metrics != nil {
		b.Metrics = *item.Metrics
	}
	if len(mediaHashes) > 0 {
		b.MediaHashes = mediaHashes
	}
	b.PostedAt = postedAt
	if item.AuthorUsername != "" {
		b.Author = item.AuthorUsername
	}

	if !b.TitleEdited && (!merge || b.Title == "") {
		b.Title = deriveTitle(item)
	}
	if !b.DescriptionEdited && (!merge || b.Description == "") {
		b.Description = item.Text
	}
}

// deriveTitle is the first line of the post, shortened, or a byline for
// posts without text.
func deriveTitle(item domain.RemoteItem) string {
	line := strings.TrimSpace(item.Text)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if line == "" {
		author := item.AuthorUsername
		if author == "" {
			author = item.AuthorID
		}
		return "Post by @" + author
	}
	if utf8.RuneCountInString(line) > maxTitleRunes {
		runes := []rune(line)
		line = string(runes[:maxTitleRunes-1]) + "…"
	}
	return line
}
