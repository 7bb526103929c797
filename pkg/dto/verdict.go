package dto

import "github.com/google/uuid"

type VerdictResponse struct {
	ID               uuid.UUID   `json:"id"`
	EventID          uuid.UUID   `json:"event_id"`
	Version          int         `json:"version"`
	AnomalyType      string      `json:"anomaly_type"`
	RiskLevel        string      `json:"risk_level"`
	Score            float64     `json:"score"`
	Confidence       float32     `json:"confidence"`
	Explanation      string      `json:"explanation"`
	CorrelatedEvents []uuid.UUID `json:"correlated_events,omitempty"`
	Degraded         bool        `json:"degraded"`
	CreatedAt        string      `json:"created_at"`
}

type VerdictListResponse struct {
	Verdicts []VerdictResponse `json:"verdicts"`
	Total    int               `json:"total"`
}

type FeedbackRequest struct {
	Kind string `json:"kind" binding:"required,oneof=false_positive confirmed_threat"`
}

// WSVerdict is a WebSocket message for live verdict delivery.
type WSVerdict struct {
	Type     string          `json:"type"` // verdict
	CameraID uuid.UUID       `json:"camera_id"`
	Data     VerdictResponse `json:"data"`
}
