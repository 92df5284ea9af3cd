// Package remote talks to the datastore that is authoritative for
// authenticated jobs. The local job row is only a cache of these records.
package remote

import (
	"context"

	"github.com/sammy/pagelift/internal/domain"
)

// SavedJob is the row inserted into the remote jobs table when an
// authenticated extraction completes.
type SavedJob struct {
	ID              string                 `json:"id"`
	UserID          string                 `json:"user_id"`
	Status          string                 `json:"status"`
	Title           string                 `json:"title"`
	TotalPages      int                    `json:"total_pages"`
	TotalComponents int                    `json:"total_components"`
	Results         map[string]interface{} `json:"results"`
	StoragePath     string                 `json:"storage_path"`
}

// Jobs exposes the remote job operations this service invokes. Every
// operation filters by both job ID and owner, so a mismatched owner is
// indistinguishable from not-found.
type Jobs interface {
	// Count returns how many saved jobs the user owns.
	Count(ctx context.Context, userID string) (int, error)

	// Get fetches a single user-owned job, or nil if no row matches
	// both the ID and the owner.
	Get(ctx context.Context, userID, jobID string) (*domain.RemoteJob, error)

	// Rename updates the title of a row matching both ID and owner.
	Rename(ctx context.Context, userID, jobID, title string) error

	// Insert saves a completed job row.
	Insert(ctx context.Context, job *SavedJob) error

	// Delete removes the job's storage objects and then its row,
	// reporting how many objects were removed.
	Delete(ctx context.Context, userID, jobID string) (domain.DeleteResult, error)
}
