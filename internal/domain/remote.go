package domain

import (
	"fmt"
	"strings"
	"time"
)

// RemoteItem is one bookmarked post as returned by the platform. It is a
// thin typed view: nothing here is validated until the upsert engine
// converts it with Validate.
type RemoteItem struct {
	ID             string
	Text           string
	AuthorID       string
	AuthorUsername string
	AuthorName     string

	// CreatedAtRaw is kept verbatim; a malformed value fails only this item.
	CreatedAtRaw string

	Metrics   *Metrics
	MediaURLs []string
}

// URL returns the canonical link of the post.
func (it RemoteItem) URL() string {
	author := it.AuthorUsername
	if author == "" {
		author = "i"
	}
	return fmt.Sprintf("https://x.com/%s/status/%s", author, it.ID)
}

// Validate checks required fields and parses the creation timestamp.
func (it RemoteItem) Validate() (time.Time, error) {
	if strings.TrimSpace(it.ID) == "" {
		return time.Time{}, fmt.Errorf("missing id")
	}
	if strings.TrimSpace(it.CreatedAtRaw) == "" {
		return time.Time{}, fmt.Errorf("missing created_at")
	}
	ts, err := time.Parse(time.RFC3339, it.CreatedAtRaw)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed created_at %q: %w", it.CreatedAtRaw, err)
	}
	return ts.UTC(), nil
}

// Page is one page of remote items. NextCursor is empty on the last page.
type Page struct {
	Items      []RemoteItem
	NextCursor string
}

// Folder is a remote bookmark folder.
type Folder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RemoteUser identifies the account the tokens belong to.
type RemoteUser struct {
	ID       string
	Username string
	Name     string
}
