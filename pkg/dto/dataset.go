package dto

import "github.com/google/uuid"

// SnapshotEntry references one exported snapshot already uploaded to the
// blob store by the edge.
type SnapshotEntry struct {
	Label      string `json:"label" binding:"required,oneof=normal threat abnormal custom"`
	CapturedAt string `json:"captured_at" binding:"required"`
	BlobKey    string `json:"blob_key" binding:"required"`
	SizeBytes  int64  `json:"size_bytes"`
	Conditions string `json:"conditions,omitempty"`
}

// RegisterDatasetRequest registers an edge snapshot export as a closed,
// immutable dataset.
type RegisterDatasetRequest struct {
	CameraID  uuid.UUID       `json:"camera_id" binding:"required"`
	EdgeID    string          `json:"edge_id" binding:"required"`
	Snapshots []SnapshotEntry `json:"snapshots" binding:"required,min=1"`
}

type DatasetResponse struct {
	ID          uuid.UUID      `json:"id"`
	CameraID    uuid.UUID      `json:"camera_id"`
	EdgeID      string         `json:"edge_id"`
	LabelCounts map[string]int `json:"label_counts"`
	TotalBytes  int64          `json:"total_bytes"`
	Status      string         `json:"status"`
	ClosedAt    string         `json:"closed_at,omitempty"`
	CreatedAt   string         `json:"created_at"`
}
