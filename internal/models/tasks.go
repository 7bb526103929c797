package models

import (
	"time"

	"github.com/google/uuid"
)

// TrainingTask is the message published to NATS for trainer workers.
type TrainingTask struct {
	JobID     uuid.UUID `json:"job_id"`
	CameraID  uuid.UUID `json:"camera_id"`
	DatasetID uuid.UUID `json:"dataset_id"`
}

// AnalysisTask is the message published to NATS when an event is accepted
// by intake and queued for deep analysis.
type AnalysisTask struct {
	EventID  uuid.UUID `json:"event_id"`
	CameraID uuid.UUID `json:"camera_id"`
}

// BaselineTask asks a worker to rebuild a camera's baseline inventory from a
// closed dataset.
type BaselineTask struct {
	CameraID  uuid.UUID `json:"camera_id"`
	DatasetID uuid.UUID `json:"dataset_id"`
}

// EventSubmission is what an edge sends over the channel for one trigger.
type EventSubmission struct {
	EventID        uuid.UUID `json:"event_id"`
	CameraID       uuid.UUID `json:"camera_id"`
	EdgeID         string    `json:"edge_id"`
	TriggeredAt    time.Time `json:"triggered_at"`
	ModelVersionID uuid.UUID `json:"model_version_id"`
	Score          float64   `json:"score"`
	FrameKey       string    `json:"frame_key"`
	ClipKey        string    `json:"clip_key,omitempty"`
	ClipStart      time.Time `json:"clip_start"`
	ClipEnd        time.Time `json:"clip_end"`
	SceneVector    []float32 `json:"scene_vector,omitempty"`
}

// DeployManifest announces a model transfer to an edge: metadata first,
// then ChunkCount artifact chunks, then edge acks after checksum match.
type DeployManifest struct {
	TransferID     uuid.UUID     `json:"transfer_id"`
	CameraID       uuid.UUID     `json:"camera_id"`
	ModelVersionID uuid.UUID     `json:"model_version_id"`
	Threshold      float64       `json:"threshold"`
	Preprocessing  Preprocessing `json:"preprocessing"`
	Checksum       string        `json:"checksum"`
	SizeBytes      int           `json:"size_bytes"`
	ChunkCount     int           `json:"chunk_count"`
	Rollback       bool          `json:"rollback,omitempty"`
}

// DeployChunk carries one artifact fragment, ordered by Index.
type DeployChunk struct {
	TransferID uuid.UUID `json:"transfer_id"`
	Index      int       `json:"index"`
	Data       []byte    `json:"data"`
}

// DeployMessage is the envelope on the deploy subject: exactly one of
// Manifest or Chunk is set.
type DeployMessage struct {
	Manifest *DeployManifest `json:"manifest,omitempty"`
	Chunk    *DeployChunk    `json:"chunk,omitempty"`
}

// DeployAck is the edge's activation confirmation (or refusal).
type DeployAck struct {
	TransferID     uuid.UUID `json:"transfer_id"`
	CameraID       uuid.UUID `json:"camera_id"`
	ModelVersionID uuid.UUID `json:"model_version_id"`
	OK             bool      `json:"ok"`
	Reason         string    `json:"reason,omitempty"`
}

// EdgeHealth is the periodic capability/health sync from an edge.
type EdgeHealth struct {
	EdgeID    string             `json:"edge_id"`
	Timestamp time.Time          `json:"timestamp"`
	Cameras   []CameraHealthInfo `json:"cameras"`
}

type CameraHealthInfo struct {
	CameraID      uuid.UUID    `json:"camera_id"`
	Health        CameraHealth `json:"health"`
	ActiveModelID *uuid.UUID   `json:"active_model_id,omitempty"`
}
