package intake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/sentinel/internal/config"
	"github.com/your-org/sentinel/internal/faults"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/storage"
)

type fakeBlobs struct {
	keys map[string]bool
}

func (f *fakeBlobs) Exists(_ context.Context, key string) (bool, error) {
	return f.keys[key], nil
}

type fakeAnalysisPub struct {
	tasks []models.AnalysisTask
}

func (f *fakeAnalysisPub) PublishAnalysisTask(_ context.Context, _ string, task interface{}) error {
	f.tasks = append(f.tasks, task.(models.AnalysisTask))
	return nil
}

type fixture struct {
	in     *Intake
	store  *storage.MemoryStore
	blobs  *fakeBlobs
	pub    *fakeAnalysisPub
	camera uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	cam := &models.Camera{Name: "yard", Threshold: 0.1}
	if err := store.CreateCamera(context.Background(), cam); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default().Analysis
	cfg.QueueHighWater = 5
	blobs := &fakeBlobs{keys: make(map[string]bool)}
	pub := &fakeAnalysisPub{}
	return &fixture{
		in:     New(store, blobs, pub, cfg),
		store:  store,
		blobs:  blobs,
		pub:    pub,
		camera: cam.ID,
	}
}

func (fx *fixture) submission() models.EventSubmission {
	id := uuid.New()
	frameKey := "events/" + id.String() + "/frame.jpg"
	clipKey := "events/" + id.String() + "/clip.mjpeg"
	fx.blobs.keys[frameKey] = true
	fx.blobs.keys[clipKey] = true
	now := time.Now()
	return models.EventSubmission{
		EventID:        id,
		CameraID:       fx.camera,
		EdgeID:         "edge-1",
		TriggeredAt:    now,
		ModelVersionID: uuid.New(),
		Score:          0.4,
		FrameKey:       frameKey,
		ClipKey:        clipKey,
		ClipStart:      now.Add(-5 * time.Second),
		ClipEnd:        now.Add(5 * time.Second),
	}
}

func TestSubmitAcceptsAndQueues(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	sub := fx.submission()

	if err := fx.in.Submit(ctx, sub); err != nil {
		t.Fatalf("submit: %v", err)
	}

	ev, _ := fx.store.GetEvent(ctx, sub.EventID)
	if ev == nil {
		t.Fatal("event not persisted")
	}
	if ev.Status != models.EventStatusReceived {
		t.Fatalf("status = %s", ev.Status)
	}
	if len(fx.pub.tasks) != 1 || fx.pub.tasks[0].EventID != sub.EventID {
		t.Fatalf("analysis task not queued: %+v", fx.pub.tasks)
	}
}

func TestSubmitIdempotent(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	sub := fx.submission()

	if err := fx.in.Submit(ctx, sub); err != nil {
		t.Fatal(err)
	}
	if err := fx.in.Submit(ctx, sub); err != nil {
		t.Fatalf("duplicate submit must succeed quietly: %v", err)
	}
	if len(fx.pub.tasks) != 1 {
		t.Fatalf("duplicate must not re-queue analysis, got %d tasks", len(fx.pub.tasks))
	}
}

func TestSubmitRejectsInvalid(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*models.EventSubmission)
	}{
		{"missing id", func(s *models.EventSubmission) { s.EventID = uuid.Nil }},
		{"unknown camera", func(s *models.EventSubmission) { s.CameraID = uuid.New() }},
		{"zero timestamp", func(s *models.EventSubmission) { s.TriggeredAt = time.Time{} }},
		{"future timestamp", func(s *models.EventSubmission) { s.TriggeredAt = time.Now().Add(time.Hour) }},
		{"inverted clip window", func(s *models.EventSubmission) {
			s.ClipStart, s.ClipEnd = s.ClipEnd, s.ClipStart
		}},
		{"missing frame key", func(s *models.EventSubmission) { s.FrameKey = "" }},
		{"dangling frame blob", func(s *models.EventSubmission) { s.FrameKey = "events/nowhere/frame.jpg" }},
		{"dangling clip blob", func(s *models.EventSubmission) { s.ClipKey = "events/nowhere/clip.mjpeg" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sub := fx.submission()
			tc.mutate(&sub)
			err := fx.in.Submit(ctx, sub)
			if !errors.Is(err, faults.ErrInvalidEvent) {
				t.Fatalf("expected ErrInvalidEvent, got %v", err)
			}
			if ev, _ := fx.store.GetEvent(ctx, sub.EventID); ev != nil {
				t.Fatal("rejected event must not be persisted")
			}
		})
	}
}

func TestSubmitShedsLowScoreUnderPressure(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	// Fill the backlog to the high-water mark.
	for i := 0; i < 5; i++ {
		if err := fx.in.Submit(ctx, fx.submission()); err != nil {
			t.Fatal(err)
		}
	}

	low := fx.submission()
	low.Score = 0.15 // below 2x camera threshold of 0.1
	if err := fx.in.Submit(ctx, low); err != nil {
		t.Fatalf("shed submit must return nil: %v", err)
	}
	if ev, _ := fx.store.GetEvent(ctx, low.EventID); ev != nil {
		t.Fatal("shed event must not be persisted")
	}

	high := fx.submission()
	high.Score = 0.9
	if err := fx.in.Submit(ctx, high); err != nil {
		t.Fatal(err)
	}
	if ev, _ := fx.store.GetEvent(ctx, high.EventID); ev == nil {
		t.Fatal("high-score event must get through under pressure")
	}
}
