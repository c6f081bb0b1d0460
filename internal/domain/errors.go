package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAuthExpired means the user must reconnect: the credential is
	// missing, revoked, or could not be refreshed.
	ErrAuthExpired = errors.New("auth expired")

	ErrCredentialNotFound = errors.New("credential not found")
	ErrBookmarkNotFound   = errors.New("bookmark not found")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrFolderNotFound     = errors.New("folder not found")

	// ErrDuplicate is returned when a write hits a uniqueness rule.
	ErrDuplicate = errors.New("duplicate record")

	// ErrMappingNotFound means a remote folder is not bound to a collection.
	ErrMappingNotFound = errors.New("folder mapping not found")
)

// Authentication failure reasons.
const (
	ReasonStateMismatch      = "state_mismatch"
	ReasonCodeExchangeFailed = "code_exchange_failed"
	ReasonIdentityLookup     = "identity_lookup_failed"
	ReasonAccessDenied       = "access_denied"
)

// AuthenticationError aborts an authorization flow. The user has to start over.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication error (%s): %v", e.Reason, e.Err)
	}
	return "authentication error (" + e.Reason + ")"
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// RateLimitedError is returned by the remote client on HTTP 429.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// IngestionError marks a single malformed remote record. It is counted and
// skipped, never fatal to a run.
type IngestionError struct {
	ExternalID string
	Err        error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingest item %q: %v", e.ExternalID, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

// MediaDownloadError is tolerated: the bookmark is kept without the asset.
type MediaDownloadError struct {
	URL string
	Err error
}

func (e *MediaDownloadError) Error() string {
	return fmt.Sprintf("download media %s: %v", e.URL, e.Err)
}

func (e *MediaDownloadError) Unwrap() error { return e.Err }
