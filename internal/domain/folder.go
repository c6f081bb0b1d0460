package domain

import "time"

// FolderMapping binds a remote folder to a local collection.
// One per (UserID, Platform, RemoteFolderID); remapping overwrites it.
type FolderMapping struct {
	UserID           string
	Platform         string
	RemoteFolderID   string
	RemoteFolderName string
	CollectionID     string
	UpdatedAt        time.Time
}

// MediaAsset is a cached attachment. Keyed by the hash of its source URL,
// created once and never mutated.
type MediaAsset struct {
	ContentHash string
	SourceURL   string
	LocalPath   string
	CreatedAt   time.Time
}
