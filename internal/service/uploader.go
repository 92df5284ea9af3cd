package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/sammy/pagelift/internal/domain"
	"github.com/sammy/pagelift/internal/logger"
	"github.com/sammy/pagelift/internal/metrics"
	"github.com/sammy/pagelift/internal/storage"
)

const (
	// Max parallel object uploads. The store throttles connections, and a
	// multi-hundred-component document with unbounded fan-out would trip it.
	uploadConcurrency = 8

	uploadMaxRetries   = 3
	uploadRetryBackoff = 1 * time.Second // doubles each retry
)

// ComponentUploader pushes component images from a pipeline result into
// object storage and returns URL-bearing metadata in place of the inline
// bytes.
type ComponentUploader struct {
	objects storage.ObjectStorage
}

// NewComponentUploader creates a new ComponentUploader.
// Parameters:
//   - objects: destination object storage.
// Returns:
//   - *ComponentUploader: initialized uploader.
func NewComponentUploader(objects storage.ObjectStorage) *ComponentUploader {
	return &ComponentUploader{objects: objects}
}

// StoragePath returns the bucket-prefixed object prefix a job's component
// images live under. This is the value recorded on the durable job row.
func (u *ComponentUploader) StoragePath(userID, jobID string) string {
	return fmt.Sprintf("%s/%s/%s/", u.objects.Bucket(), userID, jobID)
}

// Upload decodes every component image in result and uploads it to
// "{userID}/{jobID}/{componentID}.png", at most uploadConcurrency in
// flight, each attempt retried with exponential backoff. It returns the
// flat component metadata with public URLs. All scheduled uploads are
// awaited before returning: success means fully persisted, and an upload
// that exhausts its retries fails the whole batch (already-uploaded
// objects are not rolled back).
func (u *ComponentUploader) Upload(ctx context.Context, userID, jobID string, result *domain.ExtractionResult) ([]domain.ComponentMeta, error) {
	prefix := fmt.Sprintf("%s/%s", userID, jobID)

	var (
		meta     []domain.ComponentMeta
		wg       sync.WaitGroup
		sem      = make(chan struct{}, uploadConcurrency)
		errOnce  sync.Once
		firstErr error
	)

	for _, page := range result.Pages {
		for _, comp := range page.Components {
			if comp.Base64 == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(comp.Base64)
			if err != nil {
				return nil, fmt.Errorf("component %d has invalid image data: %w", comp.ID, err)
			}

			objectPath := fmt.Sprintf("%s/%d.png", prefix, comp.ID)
			meta = append(meta, domain.ComponentMeta{
				ID:            comp.ID,
				PageNumber:    page.PageNumber,
				Category:      comp.Category,
				OriginalLabel: comp.OriginalLabel,
				Confidence:    comp.Confidence,
				BBox:          comp.BBox,
				URL:           u.objects.GetURL(objectPath),
			})

			wg.Add(1)
			go func(path string, data []byte) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				if err := u.uploadWithRetry(ctx, path, data); err != nil {
					metrics.IncComponentUpload("failed")
					errOnce.Do(func() { firstErr = err })
					return
				}
				metrics.IncComponentUpload("uploaded")
			}(objectPath, data)
		}
	}

	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	logger.CtxInfo(ctx, "Uploaded %d components to storage under %s", len(meta), prefix)
	return meta, nil
}

// uploadWithRetry attempts one object upload up to uploadMaxRetries times,
// doubling the backoff after each failure.
func (u *ComponentUploader) uploadWithRetry(ctx context.Context, path string, data []byte) error {
	backoff := uploadRetryBackoff
	var lastErr error

	for attempt := 1; attempt <= uploadMaxRetries; attempt++ {
		lastErr = u.objects.Upload(ctx, path, bytes.NewReader(data), int64(len(data)), "image/png")
		if lastErr == nil {
			return nil
		}
		if attempt == uploadMaxRetries {
			break
		}

		logger.CtxWarn(ctx, "Upload %s failed (attempt %d/%d), retrying in %s: %v",
			path, attempt, uploadMaxRetries, backoff, lastErr)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return fmt.Errorf("upload %s failed after %d attempts: %w", path, uploadMaxRetries, lastErr)
}
