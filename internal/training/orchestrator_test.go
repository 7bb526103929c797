package training

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/sentinel/internal/faults"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/storage"
	"github.com/your-org/sentinel/internal/vision"
)

type fakePublisher struct {
	tasks []models.TrainingTask
	fail  bool
}

func (f *fakePublisher) PublishTrainingTask(_ context.Context, _ string, task interface{}) error {
	if f.fail {
		return errors.New("nats down")
	}
	f.tasks = append(f.tasks, task.(models.TrainingTask))
	return nil
}

type memBlobs struct {
	objects map[string][]byte
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: make(map[string][]byte)}
}

func (m *memBlobs) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("no such key: %s", key)
	}
	return data, nil
}

func (m *memBlobs) Put(_ context.Context, key string, data []byte, _ string) error {
	m.objects[key] = data
	return nil
}

func snapshotJPEG(shade uint8) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: shade, G: shade, B: shade, A: 255})
		}
	}
	return vision.EncodeJPEG(img, 90)
}

// seedDataset creates a camera with a closed dataset of n normal snapshots.
func seedDataset(t *testing.T, store storage.Store, blobs *memBlobs, n int) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	cam := &models.Camera{Name: "dock"}
	if err := store.CreateCamera(ctx, cam); err != nil {
		t.Fatal(err)
	}
	ds := &models.Dataset{CameraID: cam.ID}
	if err := store.CreateDataset(ctx, ds); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("snapshots/%s/%d", cam.ID, i)
		blobs.objects[key] = snapshotJPEG(uint8(100 + i*4))
		snap := &models.LabeledSnapshot{
			DatasetID: ds.ID,
			CameraID:  cam.ID,
			Label:     models.LabelNormal,
			BlobKey:   key,
		}
		if err := store.AddSnapshot(ctx, snap); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.CloseDataset(ctx, ds.ID, time.Now()); err != nil {
		t.Fatal(err)
	}
	return cam.ID
}

func TestSubmitTrainingJob(t *testing.T) {
	store := storage.NewMemoryStore()
	blobs := newMemBlobs()
	pub := &fakePublisher{}
	cfg := testTrainingConfig()
	camID := seedDataset(t, store, blobs, 10)

	orch := NewOrchestrator(store, pub, cfg)
	job, err := orch.SubmitTrainingJob(context.Background(), camID, uuid.Nil, models.Hyperparams{})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.Status != models.JobStatusQueued {
		t.Fatalf("status = %s", job.Status)
	}
	if len(pub.tasks) != 1 || pub.tasks[0].JobID != job.ID {
		t.Fatalf("task not published: %+v", pub.tasks)
	}
}

func TestSubmitTrainsOnExplicitDataset(t *testing.T) {
	store := storage.NewMemoryStore()
	blobs := newMemBlobs()
	pub := &fakePublisher{}
	camID := seedDataset(t, store, blobs, 10)
	ctx := context.Background()

	first, err := store.LatestClosedDataset(ctx, camID)
	if err != nil {
		t.Fatal(err)
	}

	// A newer closed dataset would win by default; pin the job to the first.
	second := &models.Dataset{CameraID: camID}
	if err := store.CreateDataset(ctx, second); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("snapshots/%s/second-%d", camID, i)
		blobs.objects[key] = snapshotJPEG(uint8(60 + i*4))
		snap := &models.LabeledSnapshot{
			DatasetID: second.ID,
			CameraID:  camID,
			Label:     models.LabelNormal,
			BlobKey:   key,
		}
		if err := store.AddSnapshot(ctx, snap); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.CloseDataset(ctx, second.ID, time.Now()); err != nil {
		t.Fatal(err)
	}

	orch := NewOrchestrator(store, pub, testTrainingConfig())
	job, err := orch.SubmitTrainingJob(ctx, camID, first.ID, models.Hyperparams{})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.DatasetID != first.ID {
		t.Fatalf("job trains on %s, want pinned dataset %s", job.DatasetID, first.ID)
	}
	if pub.tasks[0].DatasetID != first.ID {
		t.Fatalf("published task dataset = %s", pub.tasks[0].DatasetID)
	}
}

func TestSubmitRejectsBadExplicitDataset(t *testing.T) {
	store := storage.NewMemoryStore()
	blobs := newMemBlobs()
	camID := seedDataset(t, store, blobs, 10)
	otherCamID := seedDataset(t, store, blobs, 10)
	ctx := context.Background()

	foreign, err := store.LatestClosedDataset(ctx, otherCamID)
	if err != nil {
		t.Fatal(err)
	}
	open := &models.Dataset{CameraID: camID}
	if err := store.CreateDataset(ctx, open); err != nil {
		t.Fatal(err)
	}

	orch := NewOrchestrator(store, &fakePublisher{}, testTrainingConfig())
	cases := []struct {
		name      string
		datasetID uuid.UUID
	}{
		{"unknown dataset", uuid.New()},
		{"another camera's dataset", foreign.ID},
		{"dataset still open", open.ID},
	}
	for _, tc := range cases {
		if _, err := orch.SubmitTrainingJob(ctx, camID, tc.datasetID, models.Hyperparams{}); !errors.Is(err, faults.ErrInsufficientData) {
			t.Fatalf("%s: expected ErrInsufficientData, got %v", tc.name, err)
		}
	}
}

func TestSubmitRejectsConcurrentJob(t *testing.T) {
	store := storage.NewMemoryStore()
	blobs := newMemBlobs()
	pub := &fakePublisher{}
	camID := seedDataset(t, store, blobs, 10)

	orch := NewOrchestrator(store, pub, testTrainingConfig())
	ctx := context.Background()
	if _, err := orch.SubmitTrainingJob(ctx, camID, uuid.Nil, models.Hyperparams{}); err != nil {
		t.Fatal(err)
	}
	_, err := orch.SubmitTrainingJob(ctx, camID, uuid.Nil, models.Hyperparams{})
	if !errors.Is(err, faults.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestSubmitInsufficientData(t *testing.T) {
	store := storage.NewMemoryStore()
	blobs := newMemBlobs()
	camID := seedDataset(t, store, blobs, 2)

	orch := NewOrchestrator(store, &fakePublisher{}, testTrainingConfig())
	_, err := orch.SubmitTrainingJob(context.Background(), camID, uuid.Nil, models.Hyperparams{})
	if !errors.Is(err, faults.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestSubmitPublishFailureMarksJobFailed(t *testing.T) {
	store := storage.NewMemoryStore()
	blobs := newMemBlobs()
	pub := &fakePublisher{fail: true}
	camID := seedDataset(t, store, blobs, 10)

	orch := NewOrchestrator(store, pub, testTrainingConfig())
	_, err := orch.SubmitTrainingJob(context.Background(), camID, uuid.Nil, models.Hyperparams{})
	if err == nil {
		t.Fatal("expected publish error")
	}

	running, _ := store.RunningJob(context.Background(), camID)
	if running != nil {
		t.Fatalf("failed submit left a live job: %+v", running)
	}
}

func TestCancelJob(t *testing.T) {
	store := storage.NewMemoryStore()
	blobs := newMemBlobs()
	camID := seedDataset(t, store, blobs, 10)

	orch := NewOrchestrator(store, &fakePublisher{}, testTrainingConfig())
	ctx := context.Background()
	job, err := orch.SubmitTrainingJob(ctx, camID, uuid.Nil, models.Hyperparams{})
	if err != nil {
		t.Fatal(err)
	}

	if err := orch.CancelJob(ctx, job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, _ := orch.GetJobStatus(ctx, job.ID)
	if got.Status != models.JobStatusFailed || got.FailureReason != "cancelled" {
		t.Fatalf("job after cancel: %+v", got)
	}

	if err := orch.CancelJob(ctx, job.ID); !errors.Is(err, faults.ErrCancelled) {
		t.Fatalf("expected ErrCancelled on double cancel, got %v", err)
	}
}

func TestWorkerRunsJobToCompletion(t *testing.T) {
	store := storage.NewMemoryStore()
	blobs := newMemBlobs()
	pub := &fakePublisher{}
	cfg := testTrainingConfig()
	cfg.MaxEpochs = 30
	camID := seedDataset(t, store, blobs, 10)

	orch := NewOrchestrator(store, pub, cfg)
	ctx := context.Background()
	job, err := orch.SubmitTrainingJob(ctx, camID, uuid.Nil, models.Hyperparams{})
	if err != nil {
		t.Fatal(err)
	}

	worker := NewWorker(store, blobs, cfg)
	if err := worker.HandleTask(ctx, pub.tasks[0]); err != nil {
		t.Fatalf("handle task: %v", err)
	}

	done, _ := store.GetTrainingJob(ctx, job.ID)
	if done.Status != models.JobStatusSucceeded {
		t.Fatalf("job status = %s (reason %q)", done.Status, done.FailureReason)
	}
	if done.ModelVersionID == nil {
		t.Fatal("no model version recorded")
	}

	mv, _ := store.GetModelVersion(ctx, *done.ModelVersionID)
	if mv == nil || mv.State != models.ModelStateTrained {
		t.Fatalf("model version: %+v", mv)
	}
	if mv.Threshold <= 0 {
		t.Fatalf("recommended threshold = %v, want > 0", mv.Threshold)
	}
	artifact, err := blobs.Get(ctx, mv.ArtifactKey)
	if err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	if vision.Checksum(artifact) != mv.Checksum {
		t.Fatal("stored artifact checksum mismatch")
	}
	if _, err := vision.UnmarshalAutoencoder(artifact); err != nil {
		t.Fatalf("stored artifact unreadable: %v", err)
	}
}

func TestWorkerMarksInsufficientDataFailed(t *testing.T) {
	store := storage.NewMemoryStore()
	blobs := newMemBlobs()
	cfg := testTrainingConfig()
	camID := seedDataset(t, store, blobs, 3)

	ctx := context.Background()
	ds, _ := store.LatestClosedDataset(ctx, camID)
	job := &models.TrainingJob{
		ID:        uuid.New(),
		CameraID:  camID,
		DatasetID: ds.ID,
		Status:    models.JobStatusQueued,
	}
	if err := store.CreateTrainingJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	worker := NewWorker(store, blobs, cfg)
	task := models.TrainingTask{JobID: job.ID, CameraID: camID, DatasetID: ds.ID}
	if err := worker.HandleTask(ctx, task); err != nil {
		t.Fatalf("deterministic failure should not propagate: %v", err)
	}

	done, _ := store.GetTrainingJob(ctx, job.ID)
	if done.Status != models.JobStatusFailed {
		t.Fatalf("status = %s", done.Status)
	}
	if done.FailureReason != "InsufficientData" {
		t.Fatalf("reason = %q", done.FailureReason)
	}
}
