package handler

import (
	"bytes"
	"errors"
	"image"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sammy/pagelift/internal/api/middleware"
	"github.com/sammy/pagelift/internal/domain"
	"github.com/sammy/pagelift/internal/logger"
	"github.com/sammy/pagelift/internal/service"

	_ "golang.org/x/image/webp"
	_ "image/jpeg"
	_ "image/png"
)

// JobHandler handles job lifecycle endpoints.
type JobHandler struct {
	jobs          *service.JobService
	maxUploadSize int64
}

// NewJobHandler creates a new job handler.
// Parameters:
//   - jobs: job orchestration service.
//   - maxUploadSize: upload size cap in bytes.
// Returns:
//   - *JobHandler: initialized handler.
func NewJobHandler(jobs *service.JobService, maxUploadSize int64) *JobHandler {
	return &JobHandler{
		jobs:          jobs,
		maxUploadSize: maxUploadSize,
	}
}

// writeServiceError maps service errors onto HTTP statuses.
func writeServiceError(c *gin.Context, err error) {
	switch {
	case service.IsValidation(err):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
	case errors.Is(err, service.ErrNotCompleted):
		c.JSON(http.StatusConflict, gin.H{"error": "Job is not completed yet"})
	case errors.Is(err, service.ErrQuotaReached):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrAuthRequired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
	case errors.Is(err, service.ErrGuestJob):
		c.JSON(http.StatusForbidden, gin.H{"error": "Guest jobs cannot be deleted"})
	case errors.Is(err, service.ErrUpstream):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Upstream datastore failure"})
	default:
		logger.CtxError(c.Request.Context(), "Unhandled service error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// Extract handles POST /extract: accepts a multipart document upload and
// queues an extraction job.
func (h *JobHandler) Extract(c *gin.Context) {
	if c.Request.ContentLength > h.maxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": "File too large",
		})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Missing file field"})
		return
	}
	if fileHeader.Size > h.maxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Unreadable upload"})
		return
	}
	defer src.Close()

	content, err := io.ReadAll(io.LimitReader(src, h.maxUploadSize+1))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read upload"})
		return
	}
	if int64(len(content)) > h.maxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
		return
	}

	if err := validateUpload(fileHeader.Filename, content); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	jobID, err := h.jobs.CreateUpload(c.Request.Context(), middleware.UserID(c), fileHeader.Filename, content)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id": jobID,
		"status": string(domain.JobStatusQueued),
	})
}

// validateUpload checks the payload looks like something the pipeline can
// process: a PDF by magic bytes, or a decodable image (png/jpeg/webp).
func validateUpload(filename string, content []byte) error {
	if len(content) == 0 {
		return errors.New("empty upload")
	}
	if strings.EqualFold(filepath.Ext(filename), ".pdf") || bytes.HasPrefix(content, []byte("%PDF-")) {
		return nil
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(content)); err != nil {
		return errors.New("unsupported file type, expected a PDF or an image")
	}
	return nil
}

// Status handles GET /jobs/:id.
func (h *JobHandler) Status(c *gin.Context) {
	job, err := h.jobs.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}

	resp := gin.H{
		"job_id":   job.ID,
		"status":   string(job.Status),
		"filename": job.Filename,
		"progress": gin.H{
			"current_page": job.CurrentPage,
			"total_pages":  job.TotalPages,
		},
		"created_at": job.CreatedAt,
	}
	if job.Error != nil {
		resp["error"] = *job.Error
	}
	c.JSON(http.StatusOK, resp)
}

// Result handles GET /jobs/:id/result.
func (h *JobHandler) Result(c *gin.Context) {
	result, err := h.jobs.Result(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Components handles GET /jobs/:id/result/components.
func (h *JobHandler) Components(c *gin.Context) {
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	batch, err := h.jobs.Components(c.Request.Context(), c.Param("id"), offset, limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

// Delete handles DELETE /jobs/:id.
func (h *JobHandler) Delete(c *gin.Context) {
	_, err := h.jobs.Delete(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GuestAsset handles GET /static/guest/:id/:file. Only component images
// of guest jobs are reachable here; result artifacts and authenticated
// jobs' files stay private.
func (h *JobHandler) GuestAsset(c *gin.Context) {
	path, err := h.jobs.GuestAssetPath(c.Request.Context(), c.Param("id"), c.Param("file"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.File(path)
}

type renameRequest struct {
	BaseName string `json:"base_name"`
}

// Rename handles PATCH /jobs/:id/rename.
func (h *JobHandler) Rename(c *gin.Context) {
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Invalid request body"})
		return
	}

	title, err := h.jobs.Rename(c.Request.Context(), middleware.UserID(c), c.Param("id"), req.BaseName)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	// The rename succeeded, so the raw id parses; respond with the
	// canonical form rather than echoing whatever shape the caller sent.
	id, _ := service.NormalizeJobID(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{
		"job_id": id,
		"title":  title,
	})
}
