package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/sentinel/internal/faults"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/training"
	"github.com/your-org/sentinel/pkg/dto"
)

type TrainingHandler struct {
	orch *training.Orchestrator
}

func NewTrainingHandler(orch *training.Orchestrator) *TrainingHandler {
	return &TrainingHandler{orch: orch}
}

func (h *TrainingHandler) Submit(c *gin.Context) {
	var req dto.SubmitTrainingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.orch.SubmitTrainingJob(c.Request.Context(), req.CameraID, req.DatasetID, req.Hyperparams)
	if err != nil {
		switch {
		case errors.Is(err, faults.ErrAlreadyRunning):
			c.JSON(http.StatusConflict, gin.H{"error": faults.Reason(err)})
		case errors.Is(err, faults.ErrInsufficientData):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": faults.Reason(err)})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusAccepted, jobToResponse(job))
}

func (h *TrainingHandler) Status(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	job, err := h.orch.GetJobStatus(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	c.JSON(http.StatusOK, jobToResponse(job))
}

func (h *TrainingHandler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	if err := h.orch.CancelJob(c.Request.Context(), id); err != nil {
		if errors.Is(err, faults.ErrCancelled) {
			c.JSON(http.StatusConflict, gin.H{"error": "job already finished"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "cancelling", "job_id": id})
}

func jobToResponse(job *models.TrainingJob) dto.TrainingJobResponse {
	return dto.TrainingJobResponse{
		ID:              job.ID,
		CameraID:        job.CameraID,
		DatasetID:       job.DatasetID,
		Status:          string(job.Status),
		Epoch:           job.Epoch,
		Loss:            job.Loss,
		ValidationError: job.ValidationError,
		ModelVersionID:  job.ModelVersionID,
		FailureReason:   job.FailureReason,
		CreatedAt:       job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       job.UpdatedAt.Format(time.RFC3339),
	}
}
