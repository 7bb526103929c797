package models

import (
	"time"

	"github.com/google/uuid"
)

type CameraHealth string

const (
	// CameraHealthDetecting means a validated model is deployed and scoring.
	CameraHealthDetecting CameraHealth = "detecting"
	// CameraHealthNoModel means the camera runs without anomaly detection.
	CameraHealthNoModel CameraHealth = "no_model"
	// CameraHealthDegraded means the last deployment failed and the camera
	// keeps using its previous model.
	CameraHealthDegraded CameraHealth = "degraded"
)

type Camera struct {
	ID            uuid.UUID    `json:"id" db:"id"`
	EdgeID        string       `json:"edge_id" db:"edge_id"`
	Name          string       `json:"name" db:"name"`
	Width         int          `json:"width" db:"width"`
	Height        int          `json:"height" db:"height"`
	ActiveModelID *uuid.UUID   `json:"active_model_id,omitempty" db:"active_model_id"`
	Threshold     float64      `json:"threshold" db:"threshold"`
	Health        CameraHealth `json:"health" db:"health"`
	LastSeen      *time.Time   `json:"last_seen,omitempty" db:"last_seen"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at" db:"updated_at"`
}
