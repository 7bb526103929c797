package dto

import "github.com/google/uuid"

type CreateCameraRequest struct {
	EdgeID    string  `json:"edge_id" binding:"required"`
	Name      string  `json:"name" binding:"required"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Threshold float64 `json:"threshold"`
}

type CameraResponse struct {
	ID            uuid.UUID  `json:"id"`
	EdgeID        string     `json:"edge_id"`
	Name          string     `json:"name"`
	Width         int        `json:"width"`
	Height        int        `json:"height"`
	ActiveModelID *uuid.UUID `json:"active_model_id,omitempty"`
	Threshold     float64    `json:"threshold"`
	Health        string     `json:"health"`
	LastSeen      string     `json:"last_seen,omitempty"`
	CreatedAt     string     `json:"created_at"`
}

type CameraListResponse struct {
	Cameras []CameraResponse `json:"cameras"`
	Total   int              `json:"total"`
}
