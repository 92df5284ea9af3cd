package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sammy/pagelift/internal/domain"
	"github.com/sammy/pagelift/internal/service"
)

// FeedbackHandler handles feedback submission.
type FeedbackHandler struct {
	jobs *service.JobService
}

// NewFeedbackHandler creates a new feedback handler.
func NewFeedbackHandler(jobs *service.JobService) *FeedbackHandler {
	return &FeedbackHandler{jobs: jobs}
}

type feedbackRequest struct {
	JobID   string  `json:"job_id"`
	Type    string  `json:"type"`
	Message *string `json:"message,omitempty"`
}

// Submit handles POST /feedback.
func (h *FeedbackHandler) Submit(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Invalid request body"})
		return
	}

	feedbackID, err := h.jobs.Feedback(c.Request.Context(), req.JobID, domain.FeedbackType(req.Type), req.Message)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"feedback_id": feedbackID,
		"status":      "submitted",
	})
}
