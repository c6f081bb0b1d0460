package domain

import "time"

// Outcome of upserting one remote item.
type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeCreated
	OutcomeUpdated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	default:
		return "skipped"
	}
}

// SyncResult aggregates one orchestrator run. It only lives for the
// duration of the run and is returned to the caller.
type SyncResult struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
	Pages   int `json:"pages"`

	// RateLimited is set when the run stopped early on a platform throttle.
	RateLimited bool          `json:"rateLimited"`
	RetryAfter  time.Duration `json:"-"`

	// FolderID and CollectionID are set on folder runs.
	FolderID     string `json:"folderId,omitempty"`
	CollectionID string `json:"collectionId,omitempty"`
}

// Tally records one upsert outcome.
func (r *SyncResult) Tally(o Outcome) {
	switch o {
	case OutcomeCreated:
		r.Added++
	case OutcomeUpdated:
		r.Updated++
	default:
		r.Skipped++
	}
}
