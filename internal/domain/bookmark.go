package domain

import "time"

// Bookmark sources. Anything synced from a platform uses the platform name.
const (
	SourceExtension = "extension"
	SourceWeb       = "web"
	SourceImport    = "import"
	SourceX         = "x"
)

// Bookmark is the local record a remote item is mirrored into.
//
// Two identities point at the same record:
//   - (UserID, ExternalSource, ExternalID) for platform-synced items
//   - (UserID, NormalizedURL) across every source
//
// Both are unique per user.
type Bookmark struct {
	// ─────────────────────────────
	// Identity
	// ─────────────────────────────

	// ID is a random UUID assigned on creation.
	ID string

	// UserID is the local owner.
	UserID string

	// ExternalSource is the platform the ExternalID belongs to. Empty for
	// bookmarks that were never matched with a remote item.
	ExternalSource string

	// ExternalID is the remote item id (post id on X).
	ExternalID string

	// URL is the bookmark target as first seen.
	URL string

	// NormalizedURL is the cross-source dedup key (see urlnorm.Normalize).
	NormalizedURL string

	// ─────────────────────────────
	// Content (user edits win)
	// ─────────────────────────────

	Title       string
	Description string

	// TitleEdited and DescriptionEdited are set once the user supplied their
	// own text. Sync never overwrites edited fields.
	TitleEdited       bool
	DescriptionEdited bool

	// Author is the remote author handle, empty for manual bookmarks.
	Author string

	// ─────────────────────────────
	// Provenance
	// ─────────────────────────────

	// Source is where the record was first created: extension, web,
	// import or a platform name. It is never rewritten by a merge.
	Source string

	// ─────────────────────────────
	// Platform-authoritative data
	// ─────────────────────────────

	Metrics Metrics

	// MediaHashes are the content hashes of cached attachments.
	MediaHashes []string

	// PostedAt is the remote creation timestamp, zero for manual bookmarks.
	PostedAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Metrics are the engagement counters reported by the platform.
type Metrics struct {
	Likes   int64 `json:"likes"`
	Reposts int64 `json:"reposts"`
	Replies int64 `json:"replies"`
	Quotes  int64 `json:"quotes"`
}

// IsSynced reports whether the bookmark is linked to a remote item.
func (b *Bookmark) IsSynced() bool {
	return b.ExternalSource != "" && b.ExternalID != ""
}

// Collection groups bookmarks. Remote folders are mapped onto collections.
type Collection struct {
	ID        string
	UserID    string
	Name      string
	CreatedAt time.Time
}
