package intake

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/sentinel/internal/config"
	"github.com/your-org/sentinel/internal/faults"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/observability"
	"github.com/your-org/sentinel/internal/storage"
)

// BlobChecker resolves blob references without downloading them. Satisfied
// by *storage.BlobStore.
type BlobChecker interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// AnalysisPublisher queues accepted events for deep analysis. Satisfied by
// *queue.Producer.
type AnalysisPublisher interface {
	PublishAnalysisTask(ctx context.Context, cameraID string, task interface{}) error
}

// maxClockSkew is how far in the future a trigger timestamp may sit before
// the submission is rejected as invalid.
const maxClockSkew = time.Minute

// shedScoreFactor: above the queue high-water mark only events scoring this
// many times the camera threshold are still accepted.
const shedScoreFactor = 2.0

// Intake accepts event submissions from edges. Submissions are idempotent by
// event id; invalid ones are rejected permanently; under backlog pressure
// low-score events are shed before high-score ones.
type Intake struct {
	store storage.Store
	blobs BlobChecker
	pub   AnalysisPublisher
	cfg   config.AnalysisConfig
}

func New(store storage.Store, blobs BlobChecker, pub AnalysisPublisher, cfg config.AnalysisConfig) *Intake {
	return &Intake{
		store: store,
		blobs: blobs,
		pub:   pub,
		cfg:   cfg,
	}
}

// Submit validates and persists one submission, then queues it for analysis.
// Returns ErrInvalidEvent for permanent rejections; callers must not retry
// those. Duplicates and shed events return nil.
func (i *Intake) Submit(ctx context.Context, sub models.EventSubmission) error {
	if err := i.validate(ctx, sub); err != nil {
		slog.Warn("reject event submission", "event", sub.EventID, "camera", sub.CameraID, "error", err)
		return err
	}

	shed, err := i.shouldShed(ctx, sub)
	if err != nil {
		return err
	}
	if shed {
		observability.EventsShed.Inc()
		slog.Warn("shed event under backlog pressure",
			"event", sub.EventID, "camera", sub.CameraID, "score", sub.Score)
		return nil
	}

	ev := &models.Event{
		ID:             sub.EventID,
		CameraID:       sub.CameraID,
		EdgeID:         sub.EdgeID,
		TriggeredAt:    sub.TriggeredAt,
		ModelVersionID: sub.ModelVersionID,
		Score:          sub.Score,
		FrameKey:       sub.FrameKey,
		ClipKey:        sub.ClipKey,
		ClipStart:      sub.ClipStart,
		ClipEnd:        sub.ClipEnd,
		SceneVector:    sub.SceneVector,
		Status:         models.EventStatusReceived,
	}
	inserted, err := i.store.InsertEvent(ctx, ev)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if !inserted {
		slog.Debug("duplicate event submission", "event", sub.EventID)
		return nil
	}

	task := models.AnalysisTask{EventID: ev.ID, CameraID: ev.CameraID}
	if err := i.pub.PublishAnalysisTask(ctx, ev.CameraID.String(), task); err != nil {
		return fmt.Errorf("enqueue analysis: %w", err)
	}

	slog.Info("event accepted", "event", ev.ID, "camera", ev.CameraID, "score", ev.Score)
	return nil
}

func (i *Intake) validate(ctx context.Context, sub models.EventSubmission) error {
	if sub.EventID == uuid.Nil {
		return fmt.Errorf("%w: missing event id", faults.ErrInvalidEvent)
	}
	if sub.TriggeredAt.IsZero() {
		return fmt.Errorf("%w: missing trigger timestamp", faults.ErrInvalidEvent)
	}
	if sub.TriggeredAt.After(time.Now().Add(maxClockSkew)) {
		return fmt.Errorf("%w: trigger timestamp %s is in the future", faults.ErrInvalidEvent, sub.TriggeredAt)
	}
	if sub.ClipKey != "" && sub.ClipEnd.Before(sub.ClipStart) {
		return fmt.Errorf("%w: clip window ends before it starts", faults.ErrInvalidEvent)
	}
	if sub.FrameKey == "" {
		return fmt.Errorf("%w: missing frame reference", faults.ErrInvalidEvent)
	}

	cam, err := i.store.GetCamera(ctx, sub.CameraID)
	if err != nil {
		return fmt.Errorf("get camera: %w", err)
	}
	if cam == nil {
		return fmt.Errorf("%w: unknown camera %s", faults.ErrInvalidEvent, sub.CameraID)
	}

	for _, key := range []string{sub.FrameKey, sub.ClipKey} {
		if key == "" {
			continue
		}
		ok, err := i.blobs.Exists(ctx, key)
		if err != nil {
			return fmt.Errorf("check blob %s: %w", key, err)
		}
		if !ok {
			return fmt.Errorf("%w: blob %s does not resolve", faults.ErrInvalidEvent, key)
		}
	}
	return nil
}

// shouldShed applies the high-water mark: when the unanalyzed backlog is at
// capacity, only events well above their camera's threshold get through.
func (i *Intake) shouldShed(ctx context.Context, sub models.EventSubmission) (bool, error) {
	pending, err := i.store.PendingEventCount(ctx)
	if err != nil {
		return false, fmt.Errorf("pending event count: %w", err)
	}
	if pending < i.cfg.QueueHighWater {
		return false, nil
	}

	cam, err := i.store.GetCamera(ctx, sub.CameraID)
	if err != nil {
		return false, fmt.Errorf("get camera: %w", err)
	}
	floor := 0.0
	if cam != nil {
		floor = cam.Threshold * shedScoreFactor
	}
	return sub.Score < floor, nil
}
