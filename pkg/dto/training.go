package dto

import (
	"github.com/google/uuid"

	"github.com/your-org/sentinel/internal/models"
)

type SubmitTrainingRequest struct {
	CameraID uuid.UUID `json:"camera_id" binding:"required"`
	// DatasetID optionally pins the job to a specific closed dataset;
	// when omitted the camera's latest closed dataset is used.
	DatasetID   uuid.UUID          `json:"dataset_id"`
	Hyperparams models.Hyperparams `json:"hyperparams"`
}

type TrainingJobResponse struct {
	ID              uuid.UUID  `json:"id"`
	CameraID        uuid.UUID  `json:"camera_id"`
	DatasetID       uuid.UUID  `json:"dataset_id"`
	Status          string     `json:"status"`
	Epoch           int        `json:"epoch"`
	Loss            float64    `json:"loss"`
	ValidationError float64    `json:"validation_error"`
	ModelVersionID  *uuid.UUID `json:"model_version_id,omitempty"`
	FailureReason   string     `json:"failure_reason,omitempty"`
	CreatedAt       string     `json:"created_at"`
	UpdatedAt       string     `json:"updated_at"`
}
