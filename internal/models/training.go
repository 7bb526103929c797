package models

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the job can no longer change state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// Hyperparams are the knobs for one training run. Zero values fall back to
// the training section of the service config.
type Hyperparams struct {
	MaxEpochs           int     `json:"max_epochs,omitempty"`
	Patience            int     `json:"patience,omitempty"`
	LearningRate        float64 `json:"learning_rate,omitempty"`
	LatentDim           int     `json:"latent_dim,omitempty"`
	InputSize           int     `json:"input_size,omitempty"`
	ValidationSplit     float64 `json:"validation_split,omitempty"`
	ThresholdPercentile float64 `json:"threshold_percentile,omitempty"`
}

type TrainingJob struct {
	ID              uuid.UUID   `json:"id" db:"id"`
	CameraID        uuid.UUID   `json:"camera_id" db:"camera_id"`
	DatasetID       uuid.UUID   `json:"dataset_id" db:"dataset_id"`
	Hyperparams     Hyperparams `json:"hyperparams" db:"hyperparams"`
	Status          JobStatus   `json:"status" db:"status"`
	Epoch           int         `json:"epoch" db:"epoch"`
	Loss            float64     `json:"loss" db:"loss"`
	ValidationError float64     `json:"validation_error" db:"validation_error"`
	ModelVersionID  *uuid.UUID  `json:"model_version_id,omitempty" db:"model_version_id"`
	FailureReason   string      `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at" db:"updated_at"`
}
