package models

import (
	"time"

	"github.com/google/uuid"
)

type ModelState string

const (
	ModelStateTrained    ModelState = "trained"
	ModelStateValidated  ModelState = "validated"
	ModelStateDeployed   ModelState = "deployed"
	ModelStateSuperseded ModelState = "superseded"
	ModelStateRolledBack ModelState = "rolled_back"
	ModelStateArchived   ModelState = "archived"
)

// Preprocessing captures how frames must be prepared before scoring.
// An edge never mixes these parameters across model versions.
type Preprocessing struct {
	InputSize int     `json:"input_size"`
	Mean      float32 `json:"mean"`
	Std       float32 `json:"std"`
}

type ModelVersion struct {
	ID              uuid.UUID     `json:"id" db:"id"`
	CameraID        uuid.UUID     `json:"camera_id" db:"camera_id"`
	TrainingJobID   uuid.UUID     `json:"training_job_id" db:"training_job_id"`
	ArtifactKey     string        `json:"artifact_key" db:"artifact_key"`
	Checksum        string        `json:"checksum" db:"checksum"`
	Preprocessing   Preprocessing `json:"preprocessing" db:"preprocessing"`
	Threshold       float64       `json:"threshold" db:"threshold"`
	ValidationError float64       `json:"validation_error" db:"validation_error"`
	State           ModelState    `json:"state" db:"state"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at" db:"updated_at"`
}
