package domain

// RemoteJob is an authenticated job row as the remote datastore sees it.
// The remote record is authoritative for identity, title, and existence;
// the local Job row is only a processing-time cache that may drift or be
// missing entirely without being corrupt.
type RemoteJob struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Title       string `json:"title"`
	StoragePath string `json:"storage_path,omitempty"`
}

// DeleteResult summarizes a remote job delete for observability.
type DeleteResult struct {
	DeletedObjects int `json:"deleted_objects"`
}
