package models

import (
	"time"

	"github.com/google/uuid"
)

type AnomalyType string

const (
	AnomalyNewObject     AnomalyType = "new_object"
	AnomalyMissingObject AnomalyType = "missing_object"
	AnomalyAbnormalCount AnomalyType = "abnormal_count"
	AnomalyAbnormalTime  AnomalyType = "abnormal_time"
	AnomalyUnusualPath   AnomalyType = "unusual_path"
	AnomalyUnusualDwell  AnomalyType = "unusual_dwell"
	AnomalyNone          AnomalyType = "none"
)

type RiskLevel string

const (
	RiskCritical      RiskLevel = "critical"
	RiskWarning       RiskLevel = "warning"
	RiskNormal        RiskLevel = "normal"
	RiskFalsePositive RiskLevel = "false_positive"
)

// rank orders risk levels: critical > warning > normal > false_positive.
func (r RiskLevel) rank() int {
	switch r {
	case RiskCritical:
		return 3
	case RiskWarning:
		return 2
	case RiskNormal:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether r is as severe as other.
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return r.rank() >= other.rank()
}

// AnomalyVerdict is immutable once written; re-analysis inserts the next
// version for the same event rather than mutating.
type AnomalyVerdict struct {
	ID               uuid.UUID   `json:"id" db:"id"`
	EventID          uuid.UUID   `json:"event_id" db:"event_id"`
	Version          int         `json:"version" db:"version"`
	AnomalyType      AnomalyType `json:"anomaly_type" db:"anomaly_type"`
	RiskLevel        RiskLevel   `json:"risk_level" db:"risk_level"`
	Score            float64     `json:"score" db:"score"`
	Confidence       float32     `json:"confidence" db:"confidence"`
	Explanation      string      `json:"explanation" db:"explanation"`
	CorrelatedEvents []uuid.UUID `json:"correlated_events,omitempty" db:"correlated_events"`
	Degraded         bool        `json:"degraded" db:"degraded"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
}

type FeedbackKind string

const (
	FeedbackFalsePositive   FeedbackKind = "false_positive"
	FeedbackConfirmedThreat FeedbackKind = "confirmed_threat"
)

// FeedbackSignal is an append-only operator judgement about a verdict.
// It biases future scoring; it never edits the verdict it refers to.
type FeedbackSignal struct {
	ID          uuid.UUID    `json:"id" db:"id"`
	VerdictID   uuid.UUID    `json:"verdict_id" db:"verdict_id"`
	EventID     uuid.UUID    `json:"event_id" db:"event_id"`
	CameraID    uuid.UUID    `json:"camera_id" db:"camera_id"`
	AnomalyType AnomalyType  `json:"anomaly_type" db:"anomaly_type"`
	Kind        FeedbackKind `json:"kind" db:"kind"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
}
