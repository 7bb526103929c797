package models

import (
	"time"

	"github.com/google/uuid"
)

type EventStatus string

const (
	EventStatusReceived  EventStatus = "received"
	EventStatusAnalyzing EventStatus = "analyzing"
	EventStatusAnalyzed  EventStatus = "analyzed"
)

// Event is a frame/clip pair submitted because edge-side reconstruction
// error exceeded the camera threshold.
type Event struct {
	ID             uuid.UUID   `json:"id" db:"id"`
	CameraID       uuid.UUID   `json:"camera_id" db:"camera_id"`
	EdgeID         string      `json:"edge_id" db:"edge_id"`
	TriggeredAt    time.Time   `json:"triggered_at" db:"triggered_at"`
	ModelVersionID uuid.UUID   `json:"model_version_id" db:"model_version_id"`
	Score          float64     `json:"score" db:"score"`
	FrameKey       string      `json:"frame_key" db:"frame_key"`
	ClipKey        string      `json:"clip_key,omitempty" db:"clip_key"`
	ClipStart      time.Time   `json:"clip_start" db:"clip_start"`
	ClipEnd        time.Time   `json:"clip_end" db:"clip_end"`
	SceneVector    []float32   `json:"-" db:"scene_vector"`
	Status         EventStatus `json:"status" db:"status"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
}

// ClipCoverage is the temporal span of the event clip.
func (e *Event) ClipCoverage() time.Duration {
	if e.ClipEnd.Before(e.ClipStart) {
		return 0
	}
	return e.ClipEnd.Sub(e.ClipStart)
}

// DetectedObject is one object found by the heavy detector.
type DetectedObject struct {
	Class      string     `json:"class"`
	Confidence float32    `json:"confidence"`
	BBox       [4]float32 `json:"bbox"` // x1, y1, x2, y2 normalized to [0,1]
}

// DetectionResult is the deep-analysis output for one event.
type DetectionResult struct {
	EventID  uuid.UUID        `json:"event_id"`
	Objects  []DetectedObject `json:"objects"`
	Degraded bool             `json:"degraded"`
	Elapsed  time.Duration    `json:"elapsed"`
}

// CountByClass returns the number of detections per class.
func (r *DetectionResult) CountByClass() map[string]int {
	counts := make(map[string]int)
	for _, obj := range r.Objects {
		counts[obj.Class]++
	}
	return counts
}
