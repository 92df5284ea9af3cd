package domain

import "time"

// JobStatus represents the lifecycle state of an extraction job.
// Values include JobStatusQueued, JobStatusProcessing, JobStatusCompleted,
// JobStatusFailed, and JobStatusDelivered.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"

	// JobStatusDelivered is a reserved terminal marker for results that have
	// been fetched and are eligible for cleanup. Accepted as valid, but no
	// code path transitions into it yet.
	JobStatusDelivered JobStatus = "delivered"
)

// Valid reports whether s is a recognized job status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusDelivered:
		return true
	}
	return false
}

// Job represents an extraction job and its processing metadata.
// Guest jobs have a nil UserID and live only in the local store; for
// authenticated jobs this row is a best-effort cache of the remote record.
type Job struct {
	ID              string    `gorm:"type:text;primaryKey" json:"id"`
	UserID          *string   `gorm:"type:text;index:idx_jobs_user" json:"user_id,omitempty"`
	Status          JobStatus `gorm:"type:text;not null;default:queued;index:idx_jobs_status" json:"status"`
	Filename        string    `gorm:"type:text;not null" json:"filename"`
	UploadPath      string    `gorm:"type:text" json:"upload_path"`
	ResultPath      *string   `gorm:"type:text" json:"result_path,omitempty"`
	Error           *string   `gorm:"type:text" json:"error,omitempty"`
	CurrentPage     int       `gorm:"default:0" json:"current_page"`
	TotalPages      int       `gorm:"default:0" json:"total_pages"`
	TotalComponents int       `gorm:"default:0" json:"total_components"`
	CreatedAt       time.Time `gorm:"index:idx_jobs_created" json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName returns the database table name for Job.
func (Job) TableName() string {
	return "jobs"
}

// IsGuest reports whether the job has no owner.
func (j *Job) IsGuest() bool {
	return j.UserID == nil
}

// StatusUpdate carries optional fields stamped atomically with a status
// write. Nil members are left untouched, so the set of updatable columns
// is statically known.
type StatusUpdate struct {
	Error           *string
	ResultPath      *string
	TotalComponents *int
	CurrentPage     *int
	TotalPages      *int
}

// FeedbackType classifies a user feedback entry.
type FeedbackType string

const (
	FeedbackTypeBug              FeedbackType = "bug"
	FeedbackTypeContentViolation FeedbackType = "content_violation"
)

// Valid reports whether t is a recognized feedback type.
func (t FeedbackType) Valid() bool {
	return t == FeedbackTypeBug || t == FeedbackTypeContentViolation
}

// Feedback is a free-form user report attached to a job. JobID is not a
// foreign key: the job may already be gone by the time feedback lands.
type Feedback struct {
	ID        string       `gorm:"type:text;primaryKey" json:"id"`
	JobID     string       `gorm:"type:text;not null;index:idx_feedback_job" json:"job_id"`
	Type      FeedbackType `gorm:"type:text;not null" json:"type"`
	Message   *string      `gorm:"type:text" json:"message,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// TableName returns the database table name for Feedback.
func (Feedback) TableName() string {
	return "feedback"
}
