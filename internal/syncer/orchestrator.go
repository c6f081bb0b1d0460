package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/bookmirror/internal/domain"
	"github.com/MrSnakeDoc/bookmirror/internal/folders"
	"github.com/MrSnakeDoc/bookmirror/internal/logger"
)

const (
	DefaultMaxPages         = 10
	DefaultRateLimitMaxWait = 15 * time.Second
)

// Authenticator hands out usable credentials.
type Authenticator interface {
	EnsureFreshToken(ctx context.Context, userID string) (*domain.Credential, error)
	ForceRefresh(ctx context.Context, userID, rejectedToken string) (*domain.Credential, error)
	MarkRevoked(ctx context.Context, userID string) error
}

// RemoteClient pages through the platform's bookmarks.
type RemoteClient interface {
	FetchBookmarksPage(ctx context.Context, token, remoteUserID, cursor string) (domain.Page, error)
	FetchFolderPage(ctx context.Context, token, remoteUserID, folderID, cursor string) (domain.Page, error)
	FetchFolders(ctx context.Context, token, remoteUserID string) ([]domain.Folder, error)
}

// MediaFetcher caches attachments and returns url -> content hash for
// the ones now on disk.
type MediaFetcher interface {
	FetchAll(ctx context.Context, urls []string, authHeader string) map[string]string
}

// FolderMapper resolves folder bindings and collection membership.
type FolderMapper interface {
	Mapping(ctx context.Context, userID, folderID string) (*domain.FolderMapping, error)
	EnsureMemberships(ctx context.Context, collectionID string, bookmarkIDs []string) error
	Annotate(ctx context.Context, userID string, remote []domain.Folder) ([]folders.View, error)
}

// SyncRecorder remembers when a user last synced.
type SyncRecorder interface {
	SetLastSync(ctx context.Context, userID string, at time.Time) error
}

// Options tune a run.
type Options struct {
	// MaxPages caps the pages fetched per run.
	MaxPages int
	// RateLimitMaxWait is the longest throttle the run waits out in place.
	RateLimitMaxWait time.Duration
}

// Orchestrator coordinates one sync run: token, pages, media, upserts and
// folder membership.
type Orchestrator struct {
	auth     Authenticator
	remote   RemoteClient
	engine   *Engine
	media    MediaFetcher
	folders  FolderMapper
	recorder SyncRecorder
	opts     Options
	log      logger.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewOrchestrator wires a sync orchestrator
func NewOrchestrator(
	auth Authenticator,
	remote RemoteClient,
	engine *Engine,
	media MediaFetcher,
	mapper FolderMapper,
	recorder SyncRecorder,
	opts Options,
	log logger.Logger,
) *Orchestrator {
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}
	if opts.RateLimitMaxWait < 0 {
		opts.RateLimitMaxWait = DefaultRateLimitMaxWait
	}
	return &Orchestrator{
		auth:     auth,
		remote:   remote,
		engine:   engine,
		media:    media,
		folders:  mapper,
		recorder: recorder,
		opts:     opts,
		log:      log.Named("sync"),
		sleep:    sleepCtx,
		now:      time.Now,
	}
}

type pageFetcher func(ctx context.Context, cred *domain.Credential, cursor string) (domain.Page, error)

// session carries the credential of one run and replaces it when the
// platform rejects its access token.
type session struct {
	auth   Authenticator
	userID string
	cred   *domain.Credential
	log    logger.Logger
}

// do runs call with the current credential. On a 401 the token is
// refreshed once and call retried. A refresh the provider rejects, or a
// retry that gets another 401, leaves the credential revoked and yields
// domain.ErrAuthExpired.
func (s *session) do(ctx context.Context, call func(cred *domain.Credential) error) error {
	err := call(s.cred)
	if !errors.Is(err, domain.ErrAuthExpired) {
		return err
	}

	s.log.Info("access token rejected, refreshing")
	fresh, err := s.auth.ForceRefresh(ctx, s.userID, s.cred.AccessToken)
	if err != nil {
		if errors.Is(err, domain.ErrAuthExpired) {
			return domain.ErrAuthExpired
		}
		return fmt.Errorf("failed to refresh rejected token: %w", err)
	}
	s.cred = fresh

	if err := call(s.cred); !errors.Is(err, domain.ErrAuthExpired) {
		return err
	}
	if rerr := s.auth.MarkRevoked(ctx, s.userID); rerr != nil {
		s.log.Error("failed to mark credential revoked", logger.Error(rerr))
	}
	return domain.ErrAuthExpired
}

// RunSync mirrors the user's bookmarks, or one folder when folderID is set.
//
// The returned result always holds the work done so far. An error is only
// returned when the run could not proceed: domain.ErrAuthExpired (the user
// must reconnect), domain.ErrFolderNotFound, or an infrastructure failure.
// Malformed items and throttling are reported in the result instead.
func (o *Orchestrator) RunSync(ctx context.Context, userID, folderID string) (domain.SyncResult, error) {
	var result domain.SyncResult
	log := o.log.With(logger.UserID(userID))
	started := o.now()

	cred, err := o.auth.EnsureFreshToken(ctx, userID)
	if err != nil {
		return result, err
	}
	sess := &session{auth: o.auth, userID: userID, cred: cred, log: log}

	fetch := pageFetcher(func(ctx context.Context, cred *domain.Credential, cursor string) (domain.Page, error) {
		return o.remote.FetchBookmarksPage(ctx, cred.AccessToken, cred.RemoteUserID, cursor)
	})

	var mapping *domain.FolderMapping
	if folderID != "" {
		result.FolderID = folderID
		mapping, err = o.resolveFolder(ctx, sess, userID, folderID)
		if err != nil {
			return result, err
		}
		if mapping != nil {
			result.CollectionID = mapping.CollectionID
		}
		fetch = func(ctx context.Context, cred *domain.Credential, cursor string) (domain.Page, error) {
			return o.remote.FetchFolderPage(ctx, cred.AccessToken, cred.RemoteUserID, folderID, cursor)
		}
		log = log.With(logger.String("folder_id", folderID))
	}

	seen := make(map[string]bool)
	cursor := ""
	for result.Pages < o.opts.MaxPages {
		var page domain.Page
		err := sess.do(ctx, func(cred *domain.Credential) error {
			var ferr error
			page, ferr = o.fetchWithRetry(ctx, log, fetch, cred, cursor)
			return ferr
		})
		if err != nil {
			var rl *domain.RateLimitedError
			switch {
			case errors.As(err, &rl):
				log.Warn("rate limited, stopping run early", logger.Duration("retry_after", rl.RetryAfter))
				result.RateLimited = true
				result.RetryAfter = rl.RetryAfter
			case errors.Is(err, domain.ErrAuthExpired):
				log.Warn("authorization expired mid-run", logger.Int("added", result.Added), logger.Int("updated", result.Updated))
				return result, domain.ErrAuthExpired
			default:
				return result, fmt.Errorf("fetch page %d: %w", result.Pages+1, err)
			}
			break
		}
		result.Pages++

		ids, err := o.ingest(ctx, log, userID, page.Items, seen, &result)
		if err != nil {
			return result, err
		}
		if mapping != nil && len(ids) > 0 {
			if err := o.folders.EnsureMemberships(ctx, mapping.CollectionID, ids); err != nil {
				log.Error("failed to add bookmarks to collection", logger.Error(err))
			}
		}

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	if err := o.recorder.SetLastSync(ctx, userID, o.now()); err != nil {
		log.Warn("failed to record last sync", logger.Error(err))
	}

	log.Info("sync finished",
		logger.Int("added", result.Added),
		logger.Int("updated", result.Updated),
		logger.Int("skipped", result.Skipped),
		logger.Int("errors", result.Errors),
		logger.Int("pages", result.Pages),
		logger.Bool("rate_limited", result.RateLimited),
		logger.Duration("took", o.now().Sub(started)),
	)
	return result, nil
}

// Folders lists the user's remote folders with their mappings.
func (o *Orchestrator) Folders(ctx context.Context, userID string) ([]folders.View, error) {
	cred, err := o.auth.EnsureFreshToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	sess := &session{auth: o.auth, userID: userID, cred: cred, log: o.log.With(logger.UserID(userID))}

	var remote []domain.Folder
	err = sess.do(ctx, func(cred *domain.Credential) error {
		var ferr error
		remote, ferr = o.remote.FetchFolders(ctx, cred.AccessToken, cred.RemoteUserID)
		return ferr
	})
	if err != nil {
		return nil, err
	}
	return o.folders.Annotate(ctx, userID, remote)
}

// resolveFolder returns the folder's mapping, or nil for a folder that
// exists remotely but is not mapped yet.
func (o *Orchestrator) resolveFolder(ctx context.Context, sess *session, userID, folderID string) (*domain.FolderMapping, error) {
	mapping, err := o.folders.Mapping(ctx, userID, folderID)
	if err == nil {
		return mapping, nil
	}
	if !errors.Is(err, domain.ErrMappingNotFound) {
		return nil, err
	}

	var remote []domain.Folder
	err = sess.do(ctx, func(cred *domain.Credential) error {
		var ferr error
		remote, ferr = o.remote.FetchFolders(ctx, cred.AccessToken, cred.RemoteUserID)
		return ferr
	})
	if err != nil {
		return nil, err
	}
	for _, f := range remote {
		if f.ID == folderID {
			return nil, nil
		}
	}
	return nil, domain.ErrFolderNotFound
}

// fetchWithRetry waits out a short throttle once and retries the same cursor.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, log logger.Logger, fetch pageFetcher, cred *domain.Credential, cursor string) (domain.Page, error) {
	page, err := fetch(ctx, cred, cursor)

	var rl *domain.RateLimitedError
	if errors.As(err, &rl) && rl.RetryAfter <= o.opts.RateLimitMaxWait {
		log.Info("rate limited, waiting", logger.Duration("retry_after", rl.RetryAfter))
		if err := o.sleep(ctx, rl.RetryAfter); err != nil {
			return domain.Page{}, err
		}
		page, err = fetch(ctx, cred, cursor)
	}
	return page, err
}

// ingest caches media and upserts the page in remote order. It returns the
// ids of bookmarks touched by this page.
func (o *Orchestrator) ingest(ctx context.Context, log logger.Logger, userID string, items []domain.RemoteItem, seen map[string]bool, result *domain.SyncResult) ([]string, error) {
	var urls []string
	for _, it := range items {
		urls = append(urls, it.MediaURLs...)
	}
	var cached map[string]string
	if len(urls) > 0 {
		cached = o.media.FetchAll(ctx, urls, "")
	}

	ids := make([]string, 0, len(items))
	for _, it := range items {
		if it.ID != "" && seen[it.ID] {
			result.Tally(domain.OutcomeSkipped)
			continue
		}
		seen[it.ID] = true

		var hashes []string
		for _, u := range it.MediaURLs {
			if h, ok := cached[u]; ok {
				hashes = append(hashes, h)
			}
		}

		outcome, id, err := o.engine.Upsert(ctx, userID, it, hashes)
		if err != nil {
			if ctx.Err() != nil {
				return ids, ctx.Err()
			}
			var ie *domain.IngestionError
			if errors.As(err, &ie) {
				log.Warn("skipping malformed item", logger.String("external_id", ie.ExternalID), logger.Error(ie.Err))
			} else {
				log.Error("failed to store item", logger.String("external_id", it.ID), logger.Error(err))
			}
			result.Errors++
			continue
		}
		result.Tally(outcome)
		ids = append(ids, id)
	}
	return ids, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
