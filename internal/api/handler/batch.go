package handler

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/timmy/recap/internal/service"
)

// BatchHandler exposes batch submission and job polling.
type BatchHandler struct {
	coordinator *service.Coordinator
}

// NewBatchHandler creates a new batch handler.
func NewBatchHandler(coordinator *service.Coordinator) *BatchHandler {
	return &BatchHandler{coordinator: coordinator}
}

type batchItemRequest struct {
	Filename string `json:"filename" binding:"required"`
	Data     string `json:"data" binding:"required"`
	Format   string `json:"format"`
}

type batchRequest struct {
	Force bool               `json:"force"`
	Items []batchItemRequest `json:"items" binding:"required"`
}

// Submit accepts a batch of base64-encoded captures and starts a job.
// Responds 202 with the initial job snapshot; processing continues after the
// response is sent.
func (h *BatchHandler) Submit(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	items := make([]service.BatchItem, 0, len(req.Items))
	for i, item := range req.Items {
		payload, err := base64.StdEncoding.DecodeString(item.Data)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("item %d (%s): data is not valid base64", i, item.Filename),
			})
			return
		}
		items = append(items, service.BatchItem{
			Filename: item.Filename,
			Payload:  payload,
			Format:   item.Format,
		})
	}

	job, err := h.coordinator.SubmitBatch(c.Request.Context(), items, req.Force)
	if err != nil {
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":    "batch rejected",
				"problems": verr.Problems,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit batch"})
		return
	}

	c.JSON(http.StatusAccepted, job)
}

// GetJob returns the current snapshot of a job.
func (h *BatchHandler) GetJob(c *gin.Context) {
	jobID := c.Param("id")

	job, err := h.coordinator.GetJob(jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load job"})
		return
	}

	c.JSON(http.StatusOK, job)
}
