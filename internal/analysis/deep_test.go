package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/sentinel/internal/faults"
	"github.com/your-org/sentinel/internal/models"
)

func TestAnalyzeReturnsDetections(t *testing.T) {
	det := &scriptedDetector{responses: [][]models.DetectedObject{
		{obj("person", 0.9, 0.5, 0.5)},
	}}
	blobs := newStubBlobs()
	a := NewDeepAnalyzer(det, blobs, time.Second)

	ev := eventAt(uuid.New(), 12, 12*time.Second)
	blobs.put(ev.FrameKey, snapshotJPEG(t, 128))

	result, err := a.Analyze(context.Background(), ev)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if result.Degraded {
		t.Fatal("result degraded")
	}
	if len(result.Objects) != 1 || result.Objects[0].Class != "person" {
		t.Fatalf("objects = %+v", result.Objects)
	}
}

func TestAnalyzeTimeoutDegradesWithCause(t *testing.T) {
	det := &scriptedDetector{delay: 200 * time.Millisecond}
	blobs := newStubBlobs()
	a := NewDeepAnalyzer(det, blobs, 10*time.Millisecond)

	ev := eventAt(uuid.New(), 12, 12*time.Second)
	blobs.put(ev.FrameKey, snapshotJPEG(t, 128))

	result, err := a.Analyze(context.Background(), ev)
	if !errors.Is(err, faults.ErrAnalysisTimeout) {
		t.Fatalf("expected ErrAnalysisTimeout, got %v", err)
	}
	if faults.Reason(err) != "AnalysisTimeout" {
		t.Fatalf("reason = %q", faults.Reason(err))
	}
	if result == nil || !result.Degraded {
		t.Fatalf("result = %+v, want degraded", result)
	}
	if len(result.Objects) != 0 {
		t.Fatalf("degraded result carries objects: %+v", result.Objects)
	}
}

func TestAnalyzeMissingFrameDegrades(t *testing.T) {
	a := NewDeepAnalyzer(&scriptedDetector{}, newStubBlobs(), time.Second)

	ev := eventAt(uuid.New(), 12, 12*time.Second)
	result, err := a.Analyze(context.Background(), ev)
	if err == nil {
		t.Fatal("expected fetch error")
	}
	if errors.Is(err, faults.ErrAnalysisTimeout) {
		t.Fatalf("fetch failure misreported as timeout: %v", err)
	}
	if result == nil || !result.Degraded {
		t.Fatalf("result = %+v, want degraded", result)
	}
}
