package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/your-org/sentinel/internal/config"
	"github.com/your-org/sentinel/internal/faults"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/observability"
	"github.com/your-org/sentinel/internal/storage"
	"github.com/your-org/sentinel/internal/vision"
)

// BlobStore is the slice of blob operations the worker needs. Satisfied by
// *storage.BlobStore.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// cancelCheckEvery is how many epochs pass between job-record reloads while
// training, so operator cancellation takes effect mid-run.
const cancelCheckEvery = 5

// Worker executes queued training jobs: load the dataset's normal snapshots,
// fit the model, store the artifact, register a trained ModelVersion.
type Worker struct {
	store   storage.Store
	blobs   BlobStore
	trainer *Trainer
	cfg     config.TrainingConfig
}

func NewWorker(store storage.Store, blobs BlobStore, cfg config.TrainingConfig) *Worker {
	return &Worker{
		store:   store,
		blobs:   blobs,
		trainer: NewTrainer(cfg),
		cfg:     cfg,
	}
}

// HandleTask runs one training job end to end. Deterministic failures mark
// the job failed and return nil so the queue does not redeliver; only
// transient infrastructure errors propagate.
func (w *Worker) HandleTask(ctx context.Context, task models.TrainingTask) error {
	job, err := w.store.GetTrainingJob(ctx, task.JobID)
	if err != nil {
		return fmt.Errorf("get training job: %w", err)
	}
	if job == nil {
		slog.Warn("training task references unknown job", "job", task.JobID)
		return nil
	}
	if job.Status.Terminal() {
		slog.Info("skip terminal training job", "job", job.ID, "status", job.Status)
		return nil
	}

	job.Status = models.JobStatusRunning
	if err := w.store.UpdateTrainingJob(ctx, job); err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}
	observability.TrainingJobs.WithLabelValues(string(models.JobStatusRunning)).Inc()

	frames, err := w.loadFrames(ctx, job)
	if err != nil {
		return w.finishJob(ctx, job, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cameraLabel := job.CameraID.String()
	progress := func(epoch int, loss float64) {
		observability.TrainingEpochs.WithLabelValues(cameraLabel).Inc()
		job.Epoch = epoch
		job.Loss = loss
		if epoch%cancelCheckEvery != 0 {
			return
		}
		_ = w.store.UpdateTrainingJob(runCtx, job)
		if latest, err := w.store.GetTrainingJob(runCtx, job.ID); err == nil && latest != nil && latest.Status.Terminal() {
			cancel()
		}
	}

	result, err := w.trainer.Train(runCtx, frames, job.Hyperparams, progress)
	if err != nil {
		return w.finishJob(ctx, job, err)
	}

	artifactKey := fmt.Sprintf("models/%s/%s.json", job.CameraID, job.ID)
	if err := w.blobs.Put(ctx, artifactKey, result.Artifact, "application/json"); err != nil {
		return fmt.Errorf("store artifact: %w", err)
	}

	mv := &models.ModelVersion{
		ID:              uuid.New(),
		CameraID:        job.CameraID,
		TrainingJobID:   job.ID,
		ArtifactKey:     artifactKey,
		Checksum:        result.Checksum,
		Preprocessing:   result.Preprocessing,
		Threshold:       result.Threshold,
		ValidationError: result.ValidationError,
		State:           models.ModelStateTrained,
	}
	if err := w.store.CreateModelVersion(ctx, mv); err != nil {
		return fmt.Errorf("create model version: %w", err)
	}

	job.Status = models.JobStatusSucceeded
	job.Epoch = result.Epochs
	job.ValidationError = result.ValidationError
	job.ModelVersionID = &mv.ID
	if err := w.store.UpdateTrainingJob(ctx, job); err != nil {
		return fmt.Errorf("mark job succeeded: %w", err)
	}

	observability.TrainingJobs.WithLabelValues(string(models.JobStatusSucceeded)).Inc()
	slog.Info("training job succeeded",
		"job", job.ID, "camera", job.CameraID, "model", mv.ID,
		"epochs", result.Epochs, "validation_error", result.ValidationError,
		"threshold", result.Threshold)
	return nil
}

// loadFrames decodes the dataset's normal snapshots into frame vectors.
func (w *Worker) loadFrames(ctx context.Context, job *models.TrainingJob) ([][]float32, error) {
	snaps, err := w.store.ListSnapshots(ctx, job.DatasetID, models.LabelNormal)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	if len(snaps) < w.cfg.MinNormalSnapshots {
		return nil, fmt.Errorf("%w: %d normal snapshots, need %d", faults.ErrInsufficientData, len(snaps), w.cfg.MinNormalSnapshots)
	}

	inputSize := job.Hyperparams.InputSize
	if inputSize == 0 {
		inputSize = w.cfg.InputSize
	}
	prep := models.Preprocessing{InputSize: inputSize, Mean: FrameMean, Std: FrameStd}

	frames := make([][]float32, 0, len(snaps))
	for _, snap := range snaps {
		data, err := w.blobs.Get(ctx, snap.BlobKey)
		if err != nil {
			slog.Warn("skip unreadable snapshot", "snapshot", snap.ID, "error", err)
			continue
		}
		img, err := vision.DecodeImage(data)
		if err != nil {
			slog.Warn("skip undecodable snapshot", "snapshot", snap.ID, "error", err)
			continue
		}
		frames = append(frames, vision.FrameVector(img, prep))
	}
	if len(frames) < w.cfg.MinNormalSnapshots {
		return nil, fmt.Errorf("%w: only %d of %d snapshots decodable", faults.ErrInsufficientData, len(frames), len(snaps))
	}
	return frames, nil
}

// finishJob records a failed run. Cancellation initiated through the catalog
// has already marked the record; don't overwrite that.
func (w *Worker) finishJob(ctx context.Context, job *models.TrainingJob, cause error) error {
	if errors.Is(cause, faults.ErrCancelled) {
		if latest, err := w.store.GetTrainingJob(ctx, job.ID); err == nil && latest != nil && latest.Status.Terminal() {
			slog.Info("training job cancelled mid-run", "job", job.ID, "epoch", job.Epoch)
			return nil
		}
	}

	job.Status = models.JobStatusFailed
	job.FailureReason = faults.Reason(cause)
	if err := w.store.UpdateTrainingJob(ctx, job); err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}

	observability.TrainingJobs.WithLabelValues(string(models.JobStatusFailed)).Inc()
	slog.Error("training job failed", "job", job.ID, "camera", job.CameraID, "reason", job.FailureReason, "error", cause)
	return nil
}
