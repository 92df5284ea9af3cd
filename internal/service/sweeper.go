package service

import (
	"context"
	"time"

	"github.com/sammy/pagelift/internal/logger"
	"github.com/sammy/pagelift/internal/metrics"
	"github.com/sammy/pagelift/internal/repository"
)

// RetentionSweeper periodically purges expired guest jobs and their files.
// Authenticated jobs are never swept; their durable record lives remotely.
type RetentionSweeper struct {
	repo     *repository.JobRepository
	maxAge   time.Duration
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRetentionSweeper creates a sweeper.
// Parameters:
//   - repo: job store to purge from.
//   - maxAge: guest job retention period.
//   - interval: time between sweeps.
// Returns:
//   - *RetentionSweeper: initialized sweeper; call Start to begin.
func NewRetentionSweeper(repo *repository.JobRepository, maxAge, interval time.Duration) *RetentionSweeper {
	return &RetentionSweeper{
		repo:     repo,
		maxAge:   maxAge,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *RetentionSweeper) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep(runCtx)
			case <-runCtx.Done():
				return
			}
		}
	}()
	logger.Info("RetentionSweeper started (max_age=%s interval=%s)", s.maxAge, s.interval)
}

// Stop cancels the sweep loop and waits for it to exit.
func (s *RetentionSweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// Sweep runs one purge pass: collect expired guest jobs, remove their
// files, then bulk-delete the rows.
func (s *RetentionSweeper) Sweep(ctx context.Context) {
	expired, err := s.repo.ListExpired(ctx, s.maxAge)
	if err != nil {
		logger.CtxError(ctx, "Retention sweep listing failed: %v", err)
		return
	}
	if len(expired) == 0 {
		return
	}

	for _, job := range expired {
		uploadPath := job.UploadPath
		CleanupJobFiles(&uploadPath, job.ResultPath)
	}

	count, err := s.repo.PurgeExpired(ctx, s.maxAge)
	if err != nil {
		logger.CtxError(ctx, "Retention sweep purge failed: %v", err)
		return
	}
	metrics.AddJobsSwept(count)
	logger.CtxInfo(ctx, "Cleaned up %d expired guest jobs", count)
}
