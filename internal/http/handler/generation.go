package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dialectic.app/engine/internal/http/dto"
	"dialectic.app/engine/internal/service"
)

type GenerationHandler struct {
	service service.GenerationService
}

func NewGenerationHandler(service service.GenerationService) *GenerationHandler {
	return &GenerationHandler{service: service}
}

func (h *GenerationHandler) StartGeneration(c *gin.Context) {
	ctx := c.Request.Context()

	sessionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	stageSlug := c.Param("slug")

	var req dto.StartGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid generation request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.StartGeneration(ctx, service.StartGenerationParams{
		SessionID: sessionID,
		StageSlug: stageSlug,
		WalletID:  req.WalletID,
		UserJWT:   req.UserJWT,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		case errors.Is(err, service.ErrStageNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "stage not found"})
		case errors.Is(err, service.ErrNoModelsSelected):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "session has no selected models"})
		default:
			slog.ErrorContext(ctx, "failed to start generation", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start generation"})
		}
		return
	}

	c.JSON(http.StatusAccepted, dto.StartGenerationResponse{
		SessionID:       result.SessionID,
		StageSlug:       result.StageSlug,
		IterationNumber: result.IterationNumber,
		JobIDs:          result.JobIDs,
	})
}
