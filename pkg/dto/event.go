package dto

import "github.com/google/uuid"

type EventResponse struct {
	ID             uuid.UUID `json:"id"`
	CameraID       uuid.UUID `json:"camera_id"`
	EdgeID         string    `json:"edge_id"`
	TriggeredAt    string    `json:"triggered_at"`
	ModelVersionID uuid.UUID `json:"model_version_id"`
	Score          float64   `json:"score"`
	Status         string    `json:"status"`
	FrameURL       string    `json:"frame_url,omitempty"`
	ClipURL        string    `json:"clip_url,omitempty"`
	ClipStart      string    `json:"clip_start,omitempty"`
	ClipEnd        string    `json:"clip_end,omitempty"`
	CreatedAt      string    `json:"created_at"`
}

type EventListResponse struct {
	Events []EventResponse `json:"events"`
	Total  int             `json:"total"`
}

type SimilarEventsResponse struct {
	Events []EventResponse `json:"events"`
}
