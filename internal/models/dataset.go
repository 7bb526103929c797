package models

import (
	"time"

	"github.com/google/uuid"
)

type SnapshotLabel string

const (
	LabelNormal   SnapshotLabel = "normal"
	LabelThreat   SnapshotLabel = "threat"
	LabelAbnormal SnapshotLabel = "abnormal"
	LabelCustom   SnapshotLabel = "custom"
)

type DatasetStatus string

const (
	DatasetStatusOpen   DatasetStatus = "open"
	DatasetStatusClosed DatasetStatus = "closed"
)

// Dataset groups labeled snapshots for one camera at one point in time.
// A closed dataset is immutable; new snapshots go into a successor dataset.
type Dataset struct {
	ID          uuid.UUID             `json:"id" db:"id"`
	CameraID    uuid.UUID             `json:"camera_id" db:"camera_id"`
	EdgeID      string                `json:"edge_id" db:"edge_id"`
	LabelCounts map[SnapshotLabel]int `json:"label_counts" db:"label_counts"`
	TotalBytes  int64                 `json:"total_bytes" db:"total_bytes"`
	Status      DatasetStatus         `json:"status" db:"status"`
	ClosedAt    *time.Time            `json:"closed_at,omitempty" db:"closed_at"`
	CreatedAt   time.Time             `json:"created_at" db:"created_at"`
}

// NormalCount returns the number of normal-labeled snapshots.
func (d *Dataset) NormalCount() int {
	if d.LabelCounts == nil {
		return 0
	}
	return d.LabelCounts[LabelNormal]
}

// LabeledSnapshot is an immutable camera snapshot with an operator label.
// Content lives in the blob store under BlobKey.
type LabeledSnapshot struct {
	ID         uuid.UUID     `json:"id" db:"id"`
	DatasetID  uuid.UUID     `json:"dataset_id" db:"dataset_id"`
	CameraID   uuid.UUID     `json:"camera_id" db:"camera_id"`
	Label      SnapshotLabel `json:"label" db:"label"`
	CapturedAt time.Time     `json:"captured_at" db:"captured_at"`
	Conditions string        `json:"conditions,omitempty" db:"conditions"`
	BlobKey    string        `json:"blob_key" db:"blob_key"`
	SizeBytes  int64         `json:"size_bytes" db:"size_bytes"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
}
