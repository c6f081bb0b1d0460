// Package remote talks to the X API v2 bookmark endpoints.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrSnakeDoc/bookmirror/internal/domain"
	"github.com/MrSnakeDoc/bookmirror/internal/logger"
	"github.com/MrSnakeDoc/bookmirror/internal/utils"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultPageSize   = 100
	defaultRetryAfter = time.Minute
	maxErrorBody      = 512
)

// APIError is a non-2xx answer the client has no better mapping for.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Client is an explicit, injectable API client. It holds no tokens: every
// call takes the bearer token of the user it acts for.
type Client struct {
	baseURL    string
	httpClient *http.Client
	pageSize   int
	log        logger.Logger
	now        func() time.Time
}

// NewClient creates a client for baseURL. A nil httpClient gets a default
// one with a 30s timeout.
func NewClient(baseURL string, httpClient *http.Client, pageSize int, log logger.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = defaultPageSize
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		pageSize:   pageSize,
		log:        log.Named("remote"),
		now:        time.Now,
	}
}

// FetchBookmarksPage returns one page of the user's bookmarks. An empty
// cursor starts from the newest item.
func (c *Client) FetchBookmarksPage(ctx context.Context, token, remoteUserID, cursor string) (domain.Page, error) {
	path := "/2/users/" + url.PathEscape(remoteUserID) + "/bookmarks"
	return c.fetchTweets(ctx, token, path, cursor, false)
}

// FetchFolderPage returns one page of items saved in a bookmark folder
func (c *Client) FetchFolderPage(ctx context.Context, token, remoteUserID, folderID, cursor string) (domain.Page, error) {
	path := "/2/users/" + url.PathEscape(remoteUserID) + "/bookmarks/folders/" + url.PathEscape(folderID)
	return c.fetchTweets(ctx, token, path, cursor, true)
}

// FetchFolders lists every bookmark folder, following pagination
func (c *Client) FetchFolders(ctx context.Context, token, remoteUserID string) ([]domain.Folder, error) {
	var (
		folders []domain.Folder
		cursor  string
	)
	path := "/2/users/" + url.PathEscape(remoteUserID) + "/bookmarks/folders"

	for {
		q := url.Values{}
		if cursor != "" {
			q.Set("pagination_token", cursor)
		}
		var resp foldersResponse
		if err := c.get(ctx, token, path, q, false, &resp); err != nil {
			return nil, err
		}
		folders = append(folders, resp.Data...)

		if resp.Meta.NextToken == "" || resp.Meta.NextToken == cursor {
			return folders, nil
		}
		cursor = resp.Meta.NextToken
	}
}

// Me resolves the account the token belongs to
func (c *Client) Me(ctx context.Context, token string) (domain.RemoteUser, error) {
	var resp meResponse
	if err := c.get(ctx, token, "/2/users/me", nil, false, &resp); err != nil {
		return domain.RemoteUser{}, err
	}
	if resp.Data.ID == "" {
		return domain.RemoteUser{}, errors.New("identity response has no user id")
	}
	return domain.RemoteUser{
		ID:       resp.Data.ID,
		Username: resp.Data.Username,
		Name:     resp.Data.Name,
	}, nil
}

func (c *Client) fetchTweets(ctx context.Context, token, path, cursor string, folder bool) (domain.Page, error) {
	q := url.Values{}
	q.Set("max_results", strconv.Itoa(c.pageSize))
	q.Set("tweet.fields", "created_at,public_metrics,author_id,attachments")
	q.Set("expansions", "author_id,attachments.media_keys")
	q.Set("user.fields", "username,name")
	q.Set("media.fields", "url,preview_image_url,type")
	if cursor != "" {
		q.Set("pagination_token", cursor)
	}

	var resp tweetsResponse
	if err := c.get(ctx, token, path, q, folder, &resp); err != nil {
		return domain.Page{}, err
	}

	page := domain.Page{
		Items:      resp.items(),
		NextCursor: resp.Meta.NextToken,
	}
	c.log.Debug("page fetched",
		logger.String("path", path),
		logger.Int("items", len(page.Items)),
		logger.Bool("has_next", page.NextCursor != ""),
	)
	return page, nil
}

// get performs an authenticated GET and decodes the JSON body into out.
// folder turns a 404 into domain.ErrFolderNotFound.
func (c *Client) get(ctx context.Context, token, path string, q url.Values, folder bool, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s failed: %w", path, err)
	}
	defer utils.Close(resp.Body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retry := c.retryAfter(resp.Header)
		c.log.Warn("rate limited", logger.String("path", path), logger.Duration("retry_after", retry))
		return &domain.RateLimitedError{RetryAfter: retry}
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: remote answered 401", domain.ErrAuthExpired)
	case resp.StatusCode == http.StatusNotFound && folder:
		return domain.ErrFolderNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// retryAfter reads the wait time from x-rate-limit-reset (unix seconds)
// or Retry-After (seconds). Without either a minute is assumed.
func (c *Client) retryAfter(h http.Header) time.Duration {
	if v := h.Get("x-rate-limit-reset"); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			d := time.Unix(epoch, 0).Sub(c.now())
			if d < 0 {
				d = 0
			}
			return d
		}
	}
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultRetryAfter
}
