package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dialectic.app/engine/internal/http/dto"
	"dialectic.app/engine/internal/service"
	"dialectic.app/engine/internal/store"
)

type JobHandler struct {
	service service.GenerationService
}

func NewJobHandler(service service.GenerationService) *JobHandler {
	return &JobHandler{service: service}
}

func (h *JobHandler) GetJob(c *gin.Context) {
	ctx := c.Request.Context()

	jobID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	job, err := h.service.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		slog.ErrorContext(ctx, "failed to fetch job", "error", err, "job_id", jobID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch job"})
		return
	}

	c.JSON(http.StatusOK, dto.JobResponseFrom(job))
}
