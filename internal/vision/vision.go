package vision

import (
	"context"
	"image"

	"github.com/your-org/sentinel/internal/models"
)

// FrameScorer is the lightweight per-camera anomaly capability: score one
// preprocessed frame vector and return its reconstruction error.
type FrameScorer interface {
	Score(frame []float32) (float64, error)
}

// ObjectDetector is the heavy multi-class capability used by deep analysis
// and the baseline inventory builder.
type ObjectDetector interface {
	Detect(ctx context.Context, img image.Image) ([]models.DetectedObject, error)
	Close()
}
