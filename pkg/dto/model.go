package dto

import "github.com/google/uuid"

type ModelVersionResponse struct {
	ID              uuid.UUID `json:"id"`
	CameraID        uuid.UUID `json:"camera_id"`
	TrainingJobID   uuid.UUID `json:"training_job_id"`
	Checksum        string    `json:"checksum"`
	Threshold       float64   `json:"threshold"`
	ValidationError float64   `json:"validation_error"`
	State           string    `json:"state"`
	CreatedAt       string    `json:"created_at"`
	UpdatedAt       string    `json:"updated_at"`
}

type ModelListResponse struct {
	Models []ModelVersionResponse `json:"models"`
	Total  int                    `json:"total"`
}
