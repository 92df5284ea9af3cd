package repository

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sammy/pagelift/internal/domain"
	"gorm.io/gorm"
)

// ErrInvalidStatus is returned when a status write carries a value outside
// the recognized job status set.
var ErrInvalidStatus = errors.New("invalid job status")

// ErrInvalidFeedbackType is returned for feedback types other than
// bug or content_violation.
var ErrInvalidFeedbackType = errors.New("invalid feedback type")

// ExpiredJob carries the fields needed to clean up an expired guest job.
type ExpiredJob struct {
	ID         string
	UploadPath string
	ResultPath *string
}

// JobRepository handles job and feedback persistence. The underlying
// database is a single-writer resource, so all mutating calls are
// serialized here rather than relying on callers to coordinate.
type JobRepository struct {
	db *gorm.DB
	mu sync.Mutex
}

// NewJobRepository creates a new JobRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *JobRepository: repository instance bound to db.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// newID generates a 32-char lowercase hex job identifier.
func newID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// Create inserts a new job in queued status and returns its generated ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - filename: original name of the uploaded file.
//   - uploadPath: path where the uploaded file is stored.
//   - userID: owner identifier; nil for guest jobs.
// Returns:
//   - string: the generated job ID (32-char hex).
//   - error: non-nil if the insert fails.
func (r *JobRepository) Create(ctx context.Context, filename, uploadPath string, userID *string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job := &domain.Job{
		ID:         newID(),
		UserID:     userID,
		Status:     domain.JobStatusQueued,
		Filename:   filename,
		UploadPath: uploadPath,
	}
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}
	return job.ID, nil
}

// GetByID retrieves a job by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID in 32-char hex form.
// Returns:
//   - *domain.Job: the job, or nil if not found.
//   - error: non-nil if the lookup fails.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// UpdateStatus writes a new status and any extra fields in a single update.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID to update.
//   - status: new status; must be a recognized value.
//   - upd: optional extra fields stamped with the status write; may be nil.
// Returns:
//   - error: ErrInvalidStatus for unrecognized statuses, or the write error.
func (r *JobRepository) UpdateStatus(ctx context.Context, id string, status domain.JobStatus, upd *domain.StatusUpdate) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	values := map[string]interface{}{"status": status}
	if upd != nil {
		if upd.Error != nil {
			values["error"] = *upd.Error
		}
		if upd.ResultPath != nil {
			values["result_path"] = *upd.ResultPath
		}
		if upd.TotalComponents != nil {
			values["total_components"] = *upd.TotalComponents
		}
		if upd.CurrentPage != nil {
			values["current_page"] = *upd.CurrentPage
		}
		if upd.TotalPages != nil {
			values["total_pages"] = *upd.TotalPages
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.db.WithContext(ctx).Model(&domain.Job{}).Where("id = ?", id).Updates(values).Error
}

// UpdateProgress records page progress for a running job.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID being processed.
//   - currentPage: pages processed so far.
//   - totalPages: total pages in the document.
// Returns:
//   - error: non-nil if the write fails.
func (r *JobRepository) UpdateProgress(ctx context.Context, id string, currentPage, totalPages int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.db.WithContext(ctx).Model(&domain.Job{}).Where("id = ?", id).Updates(map[string]interface{}{
		"current_page": currentPage,
		"total_pages":  totalPages,
	}).Error
}

// Rename updates the stored filename for a job.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID to rename.
//   - filename: new filename/title.
// Returns:
//   - bool: true if a row was updated, false if not found.
//   - error: non-nil if the write fails.
func (r *JobRepository) Rename(ctx context.Context, id, filename string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := r.db.WithContext(ctx).Model(&domain.Job{}).Where("id = ?", id).Update("filename", filename)
	return res.RowsAffected > 0, res.Error
}

// Delete removes a job row. Associated files are not touched; callers
// clean those up separately.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID to delete.
// Returns:
//   - bool: true if a row was deleted, false if not found.
//   - error: non-nil if the delete fails.
func (r *JobRepository) Delete(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := r.db.WithContext(ctx).Delete(&domain.Job{}, "id = ?", id)
	return res.RowsAffected > 0, res.Error
}

// RecoverPending reverts jobs stranded in processing back to queued and
// returns every job that needs to be re-enqueued after a restart: the
// reverted jobs first, then jobs that were still queued when the previous
// run's in-memory queue was lost, each group in creation order. Called
// once on startup so no accepted job sits in a non-terminal status
// forever.
func (r *JobRepository) RecoverPending(ctx context.Context) ([]string, error) {
	var interrupted []string
	if err := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("status = ?", domain.JobStatusProcessing).
		Order("created_at ASC").
		Pluck("id", &interrupted).Error; err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var waiting []string
	if err := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("status = ?", domain.JobStatusQueued).
		Order("created_at ASC").
		Pluck("id", &waiting).Error; err != nil {
		return nil, err
	}

	if len(interrupted) > 0 {
		if err := r.db.WithContext(ctx).Model(&domain.Job{}).
			Where("id IN ?", interrupted).
			Update("status", domain.JobStatusQueued).Error; err != nil {
			return nil, err
		}
	}
	return append(interrupted, waiting...), nil
}

// ListExpired returns cleanup info for guest jobs older than maxAge.
// Authenticated jobs are never listed; their durable record lives remotely.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - maxAge: age threshold measured against created_at.
// Returns:
//   - []ExpiredJob: matching guest jobs with their file paths.
//   - error: non-nil if the query fails.
func (r *JobRepository) ListExpired(ctx context.Context, maxAge time.Duration) ([]ExpiredJob, error) {
	cutoff := time.Now().Add(-maxAge)
	var rows []domain.Job
	if err := r.db.WithContext(ctx).
		Select("id", "upload_path", "result_path").
		Where("created_at < ? AND user_id IS NULL", cutoff).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	expired := make([]ExpiredJob, 0, len(rows))
	for _, row := range rows {
		expired = append(expired, ExpiredJob{
			ID:         row.ID,
			UploadPath: row.UploadPath,
			ResultPath: row.ResultPath,
		})
	}
	return expired, nil
}

// PurgeExpired deletes guest jobs older than maxAge in a single bulk
// delete and returns how many rows were removed.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - maxAge: age threshold measured against created_at.
// Returns:
//   - int64: number of rows deleted.
//   - error: non-nil if the delete fails.
func (r *JobRepository) PurgeExpired(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()
	res := r.db.WithContext(ctx).
		Where("created_at < ? AND user_id IS NULL", cutoff).
		Delete(&domain.Job{})
	return res.RowsAffected, res.Error
}

// CreateFeedback stores a user feedback entry for a job and returns its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: job the feedback relates to.
//   - feedbackType: bug or content_violation.
//   - message: optional free-form details; may be nil.
// Returns:
//   - string: the generated feedback ID (32-char hex).
//   - error: ErrInvalidFeedbackType or the write error.
func (r *JobRepository) CreateFeedback(ctx context.Context, jobID string, feedbackType domain.FeedbackType, message *string) (string, error) {
	if !feedbackType.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidFeedbackType, feedbackType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	fb := &domain.Feedback{
		ID:      newID(),
		JobID:   jobID,
		Type:    feedbackType,
		Message: message,
	}
	if err := r.db.WithContext(ctx).Create(fb).Error; err != nil {
		return "", fmt.Errorf("failed to create feedback: %w", err)
	}
	return fb.ID, nil
}
