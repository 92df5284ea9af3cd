package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sammy/pagelift/internal/domain"
	"github.com/sammy/pagelift/internal/logger"
	"github.com/sammy/pagelift/internal/metrics"
	"github.com/sammy/pagelift/internal/pipeline"
	"github.com/sammy/pagelift/internal/remote"
	"github.com/sammy/pagelift/internal/repository"
)

// ExtractionWorker processes extraction jobs one at a time in FIFO order.
// A single consumer goroutine is the deliberate design: the external
// pipeline holds shared model state, so exactly one job is ever in
// processing for the whole process.
type ExtractionWorker struct {
	jobs          *repository.JobRepository
	extractor     pipeline.Extractor
	uploader      *ComponentUploader // nil when object storage is not configured
	remote        remote.Jobs        // nil when the remote datastore is not configured
	outputBaseDir string

	mu      sync.Mutex
	pending []string
	wake    chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// progressUpdate is a pipeline progress report marshalled onto the
// consumer goroutine so the store's write path stays serialized.
type progressUpdate struct {
	currentPage int
	totalPages  int
}

type extractOutcome struct {
	result *domain.ExtractionResult
	err    error
}

// NewExtractionWorker creates the worker.
// Parameters:
//   - jobs: job store for status and progress writes.
//   - extractor: external extraction pipeline.
//   - uploader: component uploader for authenticated jobs; may be nil.
//   - remoteJobs: remote datastore for authenticated jobs; may be nil.
//   - outputBaseDir: directory under which per-job output dirs are created.
// Returns:
//   - *ExtractionWorker: initialized worker; call Start to begin processing.
func NewExtractionWorker(
	jobs *repository.JobRepository,
	extractor pipeline.Extractor,
	uploader *ComponentUploader,
	remoteJobs remote.Jobs,
	outputBaseDir string,
) *ExtractionWorker {
	return &ExtractionWorker{
		jobs:          jobs,
		extractor:     extractor,
		uploader:      uploader,
		remote:        remoteJobs,
		outputBaseDir: outputBaseDir,
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// Enqueue appends a job to the processing queue. The queue is unbounded
// and strictly insertion-ordered.
func (w *ExtractionWorker) Enqueue(jobID string) {
	w.mu.Lock()
	w.pending = append(w.pending, jobID)
	size := len(w.pending)
	w.mu.Unlock()
	metrics.SetQueueDepth(size)

	select {
	case w.wake <- struct{}{}:
	default:
	}
	logger.Info("Job %s enqueued (queue size: %d)", jobID, size)
}

// Start requeues jobs left pending by a previous run, then launches the
// consumer goroutine. Both jobs stranded in processing and jobs still
// queued are recovered; the in-memory queue does not survive a restart,
// only the rows do.
func (w *ExtractionWorker) Start(ctx context.Context) {
	pending, err := w.jobs.RecoverPending(ctx)
	if err != nil {
		logger.Error("Failed to recover pending jobs: %v", err)
	}
	for _, id := range pending {
		logger.Warn("Requeueing job %s left pending by a previous run", id)
		w.Enqueue(id)
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	go w.run(runCtx)
	logger.Info("ExtractionWorker started")
}

// Stop cancels the consumer and waits for it to exit. A job mid-pipeline
// is abandoned; its row stays in processing and is recovered by the next
// Start.
func (w *ExtractionWorker) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
	logger.Info("ExtractionWorker stopped")
}

// dequeue pops the oldest pending job ID, or false if the queue is empty.
func (w *ExtractionWorker) dequeue() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		return "", false
	}
	id := w.pending[0]
	w.pending = w.pending[1:]
	metrics.SetQueueDepth(len(w.pending))
	return id, true
}

// run is the consumer loop. A failure in one job never stops the loop;
// anything unexpected is logged and the next job is taken.
func (w *ExtractionWorker) run(ctx context.Context) {
	defer close(w.done)
	for {
		id, ok := w.dequeue()
		if !ok {
			select {
			case <-w.wake:
				continue
			case <-ctx.Done():
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		w.safeProcess(ctx, id)
	}
}

// safeProcess isolates one job's processing from the loop, including
// panics out of the pipeline boundary.
func (w *ExtractionWorker) safeProcess(ctx context.Context, jobID string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic while processing job %s: %v", jobID, r)
		}
	}()
	if err := w.processJob(ctx, jobID); err != nil {
		logger.Error("Unexpected error processing job %s: %v", jobID, err)
	}
}

func (w *ExtractionWorker) processJob(ctx context.Context, jobID string) error {
	ctx = logger.SetJobID(ctx, jobID)

	job, err := w.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		// Tolerate a delete racing the queue
		logger.CtxWarn(ctx, "Job %s not found, skipping", jobID)
		return nil
	}

	logger.CtxInfo(ctx, "Processing job %s (%s)", jobID, job.Filename)
	if err := w.jobs.UpdateStatus(ctx, jobID, domain.JobStatusProcessing, nil); err != nil {
		return err
	}

	outputDir := filepath.Join(w.outputBaseDir, jobID)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return w.failJob(ctx, jobID, outputDir, fmt.Errorf("failed to create output directory: %w", err))
	}

	// The pipeline runs in its own goroutine and reports progress from
	// there. Progress is funneled through a channel and applied here, so
	// every store write for this job happens on the consumer goroutine in
	// order, with the terminal write strictly after the last progress one.
	progressCh := make(chan progressUpdate, 16)
	outcomeCh := make(chan extractOutcome, 1)
	go func() {
		result, err := w.extractor.Extract(ctx, job.UploadPath, outputDir, func(current, total int) {
			progressCh <- progressUpdate{currentPage: current, totalPages: total}
		})
		close(progressCh)
		outcomeCh <- extractOutcome{result: result, err: err}
	}()

	for p := range progressCh {
		if err := w.jobs.UpdateProgress(ctx, jobID, p.currentPage, p.totalPages); err != nil {
			logger.CtxWarn(ctx, "Failed to record progress for job %s: %v", jobID, err)
		}
	}
	outcome := <-outcomeCh

	if outcome.err != nil {
		return w.failJob(ctx, jobID, outputDir, outcome.err)
	}

	result := outcome.result
	resultPath := filepath.Join(outputDir, pipeline.ResultFilename(job.UploadPath))

	if !job.IsGuest() {
		if err := w.saveUserJob(ctx, job, result); err != nil {
			return w.failJob(ctx, jobID, outputDir, err)
		}
	}

	if err := w.jobs.UpdateStatus(ctx, jobID, domain.JobStatusCompleted, &domain.StatusUpdate{
		ResultPath:      &resultPath,
		CurrentPage:     &result.TotalPages,
		TotalPages:      &result.TotalPages,
		TotalComponents: &result.TotalComponents,
	}); err != nil {
		return err
	}

	metrics.IncJobProcessed(string(domain.JobStatusCompleted))
	logger.CtxInfo(ctx, "Job %s completed: %d components", jobID, result.TotalComponents)
	return nil
}

// saveUserJob uploads component images and inserts the durable remote row
// for an authenticated job. Any failure here fails the job: completion for
// a user job means the remote record exists.
func (w *ExtractionWorker) saveUserJob(ctx context.Context, job *domain.Job, result *domain.ExtractionResult) error {
	if w.uploader == nil || w.remote == nil {
		return fmt.Errorf("remote datastore is not configured for user jobs")
	}
	userID := *job.UserID

	components, err := w.uploader.Upload(ctx, userID, job.ID, result)
	if err != nil {
		return err
	}

	return w.remote.Insert(ctx, &remote.SavedJob{
		ID:              job.ID,
		UserID:          userID,
		Status:          string(domain.JobStatusCompleted),
		Title:           job.Filename,
		TotalPages:      result.TotalPages,
		TotalComponents: result.TotalComponents,
		Results:         map[string]interface{}{"components": components},
		StoragePath:     w.uploader.StoragePath(userID, job.ID),
	})
}

// failJob removes the job's output directory so no partial artifacts
// survive, then marks the job failed with the error message.
func (w *ExtractionWorker) failJob(ctx context.Context, jobID, outputDir string, cause error) error {
	logger.CtxError(ctx, "Job %s failed: %v", jobID, cause)
	if err := os.RemoveAll(outputDir); err != nil {
		logger.CtxWarn(ctx, "Failed to remove output dir %s: %v", outputDir, err)
	}

	msg := cause.Error()
	if err := w.jobs.UpdateStatus(ctx, jobID, domain.JobStatusFailed, &domain.StatusUpdate{Error: &msg}); err != nil {
		return err
	}
	metrics.IncJobProcessed(string(domain.JobStatusFailed))
	return nil
}

// CleanupJobFiles removes a job's upload and result paths. Files are
// unlinked and their parent directory removed if now empty; directories
// are removed recursively. Idempotent and safe for already-missing paths.
func CleanupJobFiles(uploadPath, resultPath *string) {
	for _, p := range []*string{uploadPath, resultPath} {
		if p == nil || *p == "" {
			continue
		}
		path := *p

		info, err := os.Stat(path)
		if err != nil {
			continue
		}

		if info.IsDir() {
			_ = os.RemoveAll(path)
			continue
		}

		_ = os.Remove(path)

		// Drop the per-job parent directory if this was its last file.
		// os.Remove refuses non-empty directories, which is exactly the
		// best-effort semantics wanted here.
		_ = os.Remove(filepath.Dir(path))
	}
}
