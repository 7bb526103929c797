package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/your-org/sentinel/internal/faults"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/observability"
	"github.com/your-org/sentinel/internal/vision"
)

// BlobGetter fetches blobs by key. Satisfied by *storage.BlobStore.
type BlobGetter interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// DeepAnalyzer runs the heavy multi-class detector over an event's trigger
// frame, bounded by a per-event timeout. It always produces a result: a
// timeout or unreadable frame yields an empty, degraded DetectionResult so
// the event never sticks mid-pipeline.
type DeepAnalyzer struct {
	detector vision.ObjectDetector
	blobs    BlobGetter
	timeout  time.Duration
}

func NewDeepAnalyzer(detector vision.ObjectDetector, blobs BlobGetter, timeout time.Duration) *DeepAnalyzer {
	return &DeepAnalyzer{
		detector: detector,
		blobs:    blobs,
		timeout:  timeout,
	}
}

// Analyze detects objects in the event's frame. The result is never nil: when
// the detector misses the deadline or the frame cannot be read, Analyze
// returns a degraded result (empty object list) alongside the cause — a
// wrapped ErrAnalysisTimeout on deadline, the underlying failure otherwise.
func (a *DeepAnalyzer) Analyze(ctx context.Context, ev *models.Event) (*models.DetectionResult, error) {
	start := time.Now()
	result := &models.DetectionResult{EventID: ev.ID}

	data, err := a.blobs.Get(ctx, ev.FrameKey)
	if err != nil {
		result.Degraded = true
		result.Elapsed = time.Since(start)
		return result, fmt.Errorf("fetch event frame %s: %w", ev.FrameKey, err)
	}
	img, err := vision.DecodeImage(data)
	if err != nil {
		result.Degraded = true
		result.Elapsed = time.Since(start)
		return result, fmt.Errorf("decode event frame: %w", err)
	}

	detCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	type detOut struct {
		objects []models.DetectedObject
		err     error
	}
	ch := make(chan detOut, 1)
	go func() {
		objects, err := a.detector.Detect(detCtx, img)
		ch <- detOut{objects, err}
	}()

	var cause error
	select {
	case out := <-ch:
		if out.err != nil {
			result.Degraded = true
			cause = fmt.Errorf("detect: %w", out.err)
		} else {
			result.Objects = out.objects
		}
	case <-detCtx.Done():
		// The detector goroutine finishes on its own; the event moves on.
		result.Degraded = true
		cause = fmt.Errorf("%w: detector exceeded %s", faults.ErrAnalysisTimeout, a.timeout)
	}

	result.Elapsed = time.Since(start)
	observability.InferenceDuration.WithLabelValues("deep_analysis").Observe(result.Elapsed.Seconds())
	return result, cause
}
