package service

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/sammy/pagelift/internal/domain"
	"github.com/sammy/pagelift/internal/logger"
	"github.com/sammy/pagelift/internal/pipeline"
	"github.com/sammy/pagelift/internal/remote"
	"github.com/sammy/pagelift/internal/repository"
)

const (
	maxBaseNameLength = 120
	defaultBatchLimit = 10
)

var invalidBaseName = regexp.MustCompile(`[\\/\x00-\x1f\x7f]`)

var guestAssetName = regexp.MustCompile(`^\d+\.png$`)

// JobServiceConfig holds the knobs the job orchestration needs. Threaded
// through the constructor so nothing lives in mutable package state.
type JobServiceConfig struct {
	UploadDir string // base directory for uploaded files
	OutputDir string // base directory for pipeline output, guest images are served from here
	PublicURL string // this service's public base URL for guest image links
	MaxSlots  int    // saved-job quota per authenticated user
}

// JobService orchestrates job creation, result access, and the
// remote-authoritative operations for authenticated jobs.
type JobService struct {
	repo   *repository.JobRepository
	worker *ExtractionWorker
	remote remote.Jobs // nil when the remote datastore is not configured
	cfg    JobServiceConfig
}

// NewJobService creates a new JobService.
// Parameters:
//   - repo: local job store.
//   - worker: extraction worker fed by CreateUpload.
//   - remoteJobs: remote job operations; may be nil.
//   - cfg: service configuration.
// Returns:
//   - *JobService: initialized service.
func NewJobService(repo *repository.JobRepository, worker *ExtractionWorker, remoteJobs remote.Jobs, cfg JobServiceConfig) *JobService {
	if cfg.MaxSlots <= 0 {
		cfg.MaxSlots = 5
	}
	return &JobService{repo: repo, worker: worker, remote: remoteJobs, cfg: cfg}
}

// NormalizeJobID accepts a job ID in dashed or undashed UUID form and
// returns the 32-char lowercase hex form used for every lookup.
func NormalizeJobID(raw string) (string, error) {
	u, err := uuid.Parse(raw)
	if err != nil {
		return "", validationErrorf("invalid job ID format")
	}
	return hex.EncodeToString(u[:]), nil
}

// CreateUpload persists the uploaded file, creates a queued job, and hands
// it to the worker. Authenticated callers at their slot quota are refused
// before any bytes land on disk.
// Parameters:
//   - ctx: request context.
//   - userID: resolved owner identity; nil for guests.
//   - filename: original upload filename.
//   - content: file bytes.
// Returns:
//   - string: the new job ID.
//   - error: ErrQuotaReached, ErrUpstream, or a write error.
func (s *JobService) CreateUpload(ctx context.Context, userID *string, filename string, content []byte) (string, error) {
	if userID != nil && s.remote != nil {
		count, err := s.remote.Count(ctx, *userID)
		if err != nil {
			logger.CtxError(ctx, "Slot count failed (requester=%s stage=remote_count): %v", *userID, err)
			return "", fmt.Errorf("%w: slot count failed", ErrUpstream)
		}
		if count >= s.cfg.MaxSlots {
			return "", fmt.Errorf("%w (%d/%d), delete a job to continue", ErrQuotaReached, count, s.cfg.MaxSlots)
		}
	}

	// One directory per submission so the upload is removable as a unit
	uploadDir := filepath.Join(s.cfg.UploadDir, newUploadID())
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}
	uploadPath := filepath.Join(uploadDir, filepath.Base(filename))
	if err := os.WriteFile(uploadPath, content, 0644); err != nil {
		return "", fmt.Errorf("failed to save upload: %w", err)
	}
	logger.CtxInfo(ctx, "Saved upload: %s (%d bytes)", uploadPath, len(content))

	jobID, err := s.repo.Create(ctx, filepath.Base(filename), uploadPath, userID)
	if err != nil {
		return "", err
	}
	s.worker.Enqueue(jobID)
	return jobID, nil
}

func newUploadID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// Status returns the job row for a raw (dashed or hex) job ID.
func (s *JobService) Status(ctx context.Context, rawID string) (*domain.Job, error) {
	id, err := NormalizeJobID(rawID)
	if err != nil {
		return nil, err
	}
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrNotFound
	}
	return job, nil
}

// ResultResponse is the single result shape for both ownership modes:
// guest results inline the component list with static URLs, authenticated
// results carry metadata only (the client reads components remotely).
type ResultResponse struct {
	SourceFile      string                 `json:"source_file"`
	TotalPages      int                    `json:"total_pages"`
	TotalComponents int                    `json:"total_components"`
	IsGuest         bool                   `json:"is_guest"`
	Components      []domain.ComponentMeta `json:"components,omitempty"`
}

// ComponentBatch is one page of the flattened component listing.
type ComponentBatch struct {
	Offset     int                    `json:"offset"`
	Limit      int                    `json:"limit"`
	Total      int                    `json:"total"`
	HasMore    bool                   `json:"has_more"`
	Components []domain.ComponentMeta `json:"components"`
}

// loadCompletedResult fetches the job, requires completed status, and
// reads its result artifact.
func (s *JobService) loadCompletedResult(ctx context.Context, rawID string) (*domain.Job, *domain.ExtractionResult, error) {
	id, err := NormalizeJobID(rawID)
	if err != nil {
		return nil, nil, err
	}
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if job == nil {
		return nil, nil, ErrNotFound
	}
	if job.Status != domain.JobStatusCompleted {
		return nil, nil, fmt.Errorf("%w: current status %s", ErrNotCompleted, job.Status)
	}
	if job.ResultPath == nil {
		return nil, nil, fmt.Errorf("%w: result artifact missing", ErrNotFound)
	}
	if _, err := os.Stat(*job.ResultPath); err != nil {
		return nil, nil, fmt.Errorf("%w: result artifact missing", ErrNotFound)
	}
	result, err := pipeline.LoadResult(*job.ResultPath)
	if err != nil {
		return nil, nil, err
	}
	return job, result, nil
}

// Result returns the extraction result for a completed job. Reading a
// result never mutates the job or its files.
func (s *JobService) Result(ctx context.Context, rawID string) (*ResultResponse, error) {
	job, result, err := s.loadCompletedResult(ctx, rawID)
	if err != nil {
		return nil, err
	}

	resp := &ResultResponse{
		SourceFile:      result.SourceFile,
		TotalPages:      result.TotalPages,
		TotalComponents: result.TotalComponents,
		IsGuest:         job.IsGuest(),
	}
	if job.IsGuest() {
		resp.Components = s.resolveURLs(job, result)
	}
	return resp, nil
}

// Components returns one offset/limit window over the stable flattening
// of the result's pages. An out-of-range offset yields an empty batch.
func (s *JobService) Components(ctx context.Context, rawID string, offset, limit int) (*ComponentBatch, error) {
	job, result, err := s.loadCompletedResult(ctx, rawID)
	if err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultBatchLimit
	}

	all := s.resolveURLs(job, result)
	total := len(all)

	batch := []domain.ComponentMeta{}
	if offset < total {
		end := offset + limit
		if end > total {
			end = total
		}
		batch = all[offset:end]
	}

	return &ComponentBatch{
		Offset:     offset,
		Limit:      limit,
		Total:      total,
		HasMore:    offset+limit < total,
		Components: batch,
	}, nil
}

// resolveURLs flattens the result and fills component URLs: static guest
// links for owner-less jobs, the stored storage URL otherwise.
func (s *JobService) resolveURLs(job *domain.Job, result *domain.ExtractionResult) []domain.ComponentMeta {
	components := result.Flatten()
	if job.IsGuest() {
		for i := range components {
			components[i].URL = fmt.Sprintf("%s/static/guest/%s/%d.png", s.cfg.PublicURL, job.ID, components[i].ID)
		}
	}
	return components
}

// GuestAssetPath resolves a component image request under the guest
// static prefix to a file path. Only numbered .png files of existing
// guest jobs resolve; everything else, including any artifact of an
// authenticated job, is ErrNotFound so the output directory is never
// browsable.
// Parameters:
//   - ctx: request context.
//   - rawID: job ID in dashed or hex form.
//   - filename: requested file name, e.g. "0.png".
// Returns:
//   - string: absolute or base-relative path of the image file.
//   - error: ErrNotFound for anything that must not be served.
func (s *JobService) GuestAssetPath(ctx context.Context, rawID, filename string) (string, error) {
	id, err := NormalizeJobID(rawID)
	if err != nil {
		return "", ErrNotFound
	}
	if !guestAssetName.MatchString(filename) {
		return "", ErrNotFound
	}
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if job == nil || !job.IsGuest() {
		return "", ErrNotFound
	}
	return filepath.Join(s.cfg.OutputDir, id, filename), nil
}

// Delete removes an authenticated job: the remote record first (it is
// authoritative), then the local cache row and files as best effort.
// Guest jobs are never deletable through this path.
// Parameters:
//   - ctx: request context.
//   - requesterID: resolved caller identity; nil is rejected before any lookup.
//   - rawID: job ID in dashed or hex form.
// Returns:
//   - domain.DeleteResult: number of storage objects removed.
//   - error: ErrAuthRequired, ErrGuestJob, ErrNotFound, or ErrUpstream.
func (s *JobService) Delete(ctx context.Context, requesterID *string, rawID string) (domain.DeleteResult, error) {
	if requesterID == nil {
		return domain.DeleteResult{}, ErrAuthRequired
	}
	id, err := NormalizeJobID(rawID)
	if err != nil {
		return domain.DeleteResult{}, err
	}

	local, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domain.DeleteResult{}, err
	}
	if local != nil && local.IsGuest() {
		return domain.DeleteResult{}, ErrGuestJob
	}

	if s.remote == nil {
		return domain.DeleteResult{}, fmt.Errorf("%w: remote datastore is not configured", ErrUpstream)
	}

	remoteJob, err := s.remote.Get(ctx, *requesterID, id)
	if err != nil {
		logger.CtxError(ctx, "Delete failed (job_id=%s requester=%s stage=remote_get): %v", id, *requesterID, err)
		return domain.DeleteResult{}, fmt.Errorf("%w: failed to look up job", ErrUpstream)
	}
	if remoteJob == nil {
		return domain.DeleteResult{}, ErrNotFound
	}

	res, err := s.remote.Delete(ctx, *requesterID, id)
	if err != nil {
		logger.CtxError(ctx, "Delete failed (job_id=%s requester=%s stage=remote_delete): %v", id, *requesterID, err)
		return res, fmt.Errorf("%w: failed to delete job resources", ErrUpstream)
	}

	// Best-effort cleanup of a drifted local row; its failure never fails
	// the overall delete.
	if local != nil {
		uploadPath := local.UploadPath
		CleanupJobFiles(&uploadPath, local.ResultPath)
		if _, err := s.repo.Delete(ctx, id); err != nil {
			logger.CtxWarn(ctx, "Local cache delete failed for job %s: %v", id, err)
		}
	}

	logger.CtxInfo(ctx, "Deleted user job %s for requester %s (%d objects)", id, *requesterID, res.DeletedObjects)
	return res, nil
}

// Rename retitles an authenticated job, remote first, keeping the old
// title's extension. The local cache row is updated afterward only when
// the remote rename succeeded and the row belongs to the requester.
// Parameters:
//   - ctx: request context.
//   - requesterID: resolved caller identity; nil is rejected before any lookup.
//   - rawID: job ID in dashed or hex form.
//   - baseName: new title without extension.
// Returns:
//   - string: the resulting full title.
//   - error: ErrAuthRequired, ValidationError, ErrNotFound, or ErrUpstream.
func (s *JobService) Rename(ctx context.Context, requesterID *string, rawID, baseName string) (string, error) {
	if requesterID == nil {
		return "", ErrAuthRequired
	}
	id, err := NormalizeJobID(rawID)
	if err != nil {
		return "", err
	}

	if s.remote == nil {
		return "", fmt.Errorf("%w: remote datastore is not configured", ErrUpstream)
	}

	remoteJob, err := s.remote.Get(ctx, *requesterID, id)
	if err != nil {
		logger.CtxError(ctx, "Rename failed (job_id=%s requester=%s stage=remote_get): %v", id, *requesterID, err)
		return "", fmt.Errorf("%w: failed to look up job", ErrUpstream)
	}
	if remoteJob == nil {
		return "", ErrNotFound
	}

	cleaned, err := validateBaseName(baseName)
	if err != nil {
		return "", err
	}
	newTitle := cleaned + filepath.Ext(remoteJob.Title)
	if newTitle == remoteJob.Title {
		return newTitle, nil
	}

	if err := s.remote.Rename(ctx, *requesterID, id, newTitle); err != nil {
		logger.CtxError(ctx, "Rename failed (job_id=%s requester=%s stage=remote_rename): %v", id, *requesterID, err)
		return "", fmt.Errorf("%w: failed to rename job", ErrUpstream)
	}

	// Best-effort local sync when a matching cached row still exists
	local, err := s.repo.GetByID(ctx, id)
	if err == nil && local != nil && local.UserID != nil && *local.UserID == *requesterID {
		if _, err := s.repo.Rename(ctx, id, newTitle); err != nil {
			logger.CtxWarn(ctx, "Local cache rename failed for job %s: %v", id, err)
		}
	}

	return newTitle, nil
}

// validateBaseName trims and checks a rename base name.
func validateBaseName(baseName string) (string, error) {
	cleaned := strings.TrimSpace(baseName)
	if cleaned == "" {
		return "", validationErrorf("name cannot be empty")
	}
	if len(cleaned) > maxBaseNameLength {
		return "", validationErrorf("name must be at most %d characters", maxBaseNameLength)
	}
	if invalidBaseName.MatchString(cleaned) {
		return "", validationErrorf("name cannot contain slashes or control characters")
	}
	return cleaned, nil
}

// Feedback records a user report against an existing job.
// Parameters:
//   - ctx: request context.
//   - rawJobID: job ID in dashed or hex form.
//   - feedbackType: bug or content_violation.
//   - message: optional details.
// Returns:
//   - string: the feedback ID.
//   - error: ValidationError or ErrNotFound.
func (s *JobService) Feedback(ctx context.Context, rawJobID string, feedbackType domain.FeedbackType, message *string) (string, error) {
	id, err := NormalizeJobID(rawJobID)
	if err != nil {
		return "", err
	}
	if !feedbackType.Valid() {
		return "", validationErrorf("feedback type must be bug or content_violation")
	}

	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if job == nil {
		return "", ErrNotFound
	}

	feedbackID, err := s.repo.CreateFeedback(ctx, id, feedbackType, message)
	if err != nil {
		return "", err
	}
	logger.CtxInfo(ctx, "Feedback %s created for job %s (type=%s)", feedbackID, id, feedbackType)
	return feedbackID, nil
}
