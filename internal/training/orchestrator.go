package training

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/your-org/sentinel/internal/config"
	"github.com/your-org/sentinel/internal/faults"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/observability"
	"github.com/your-org/sentinel/internal/storage"
)

// TaskPublisher enqueues training tasks. Satisfied by *queue.Producer.
type TaskPublisher interface {
	PublishTrainingTask(ctx context.Context, cameraID string, task interface{}) error
}

// Orchestrator accepts training requests, enforces one job per camera, and
// hands accepted jobs to trainer workers through the queue.
type Orchestrator struct {
	store storage.Store
	pub   TaskPublisher
	cfg   config.TrainingConfig

	mu     sync.Mutex
	leases map[uuid.UUID]bool
}

func NewOrchestrator(store storage.Store, pub TaskPublisher, cfg config.TrainingConfig) *Orchestrator {
	return &Orchestrator{
		store:  store,
		pub:    pub,
		cfg:    cfg,
		leases: make(map[uuid.UUID]bool),
	}
}

func (o *Orchestrator) acquire(cameraID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.leases[cameraID] {
		return false
	}
	o.leases[cameraID] = true
	return true
}

func (o *Orchestrator) release(cameraID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.leases, cameraID)
}

// SubmitTrainingJob validates the request against a closed dataset of the
// camera — the one named by datasetID, or the latest closed one when
// datasetID is uuid.Nil — persists a queued job, and publishes it for a
// trainer worker. A camera can have at most one non-terminal job.
func (o *Orchestrator) SubmitTrainingJob(ctx context.Context, cameraID, datasetID uuid.UUID, hp models.Hyperparams) (*models.TrainingJob, error) {
	if !o.acquire(cameraID) {
		return nil, fmt.Errorf("%w: training already in progress for camera %s", faults.ErrAlreadyRunning, cameraID)
	}
	defer o.release(cameraID)

	cam, err := o.store.GetCamera(ctx, cameraID)
	if err != nil {
		return nil, fmt.Errorf("get camera: %w", err)
	}
	if cam == nil {
		return nil, fmt.Errorf("camera %s not found", cameraID)
	}

	if running, err := o.store.RunningJob(ctx, cameraID); err != nil {
		return nil, fmt.Errorf("check running job: %w", err)
	} else if running != nil {
		return nil, fmt.Errorf("%w: job %s is %s", faults.ErrAlreadyRunning, running.ID, running.Status)
	}

	ds, err := o.resolveDataset(ctx, cameraID, datasetID)
	if err != nil {
		return nil, err
	}
	if n := ds.NormalCount(); n < o.cfg.MinNormalSnapshots {
		return nil, fmt.Errorf("%w: %d normal snapshots, need %d", faults.ErrInsufficientData, n, o.cfg.MinNormalSnapshots)
	}

	job := &models.TrainingJob{
		ID:          uuid.New(),
		CameraID:    cameraID,
		DatasetID:   ds.ID,
		Hyperparams: hp,
		Status:      models.JobStatusQueued,
	}
	if err := o.store.CreateTrainingJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create training job: %w", err)
	}

	task := models.TrainingTask{JobID: job.ID, CameraID: cameraID, DatasetID: ds.ID}
	if err := o.pub.PublishTrainingTask(ctx, cameraID.String(), task); err != nil {
		job.Status = models.JobStatusFailed
		job.FailureReason = "enqueue failed"
		_ = o.store.UpdateTrainingJob(ctx, job)
		return nil, fmt.Errorf("publish training task: %w", err)
	}

	observability.TrainingJobs.WithLabelValues(string(models.JobStatusQueued)).Inc()
	slog.Info("training job queued", "job", job.ID, "camera", cameraID, "dataset", ds.ID)
	return job, nil
}

// resolveDataset picks the dataset a job trains on. An explicit id must name
// a closed dataset belonging to the camera; uuid.Nil selects the camera's
// latest closed dataset.
func (o *Orchestrator) resolveDataset(ctx context.Context, cameraID, datasetID uuid.UUID) (*models.Dataset, error) {
	if datasetID == uuid.Nil {
		ds, err := o.store.LatestClosedDataset(ctx, cameraID)
		if err != nil {
			return nil, fmt.Errorf("latest dataset: %w", err)
		}
		if ds == nil {
			return nil, fmt.Errorf("%w: camera %s has no closed dataset", faults.ErrInsufficientData, cameraID)
		}
		return ds, nil
	}

	ds, err := o.store.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("get dataset: %w", err)
	}
	if ds == nil {
		return nil, fmt.Errorf("%w: dataset %s not found", faults.ErrInsufficientData, datasetID)
	}
	if ds.CameraID != cameraID {
		return nil, fmt.Errorf("%w: dataset %s belongs to camera %s", faults.ErrInsufficientData, datasetID, ds.CameraID)
	}
	if ds.Status != models.DatasetStatusClosed {
		return nil, fmt.Errorf("%w: dataset %s is %s, need closed", faults.ErrInsufficientData, datasetID, ds.Status)
	}
	return ds, nil
}

// GetJobStatus returns the current job record, or nil if no such job exists.
func (o *Orchestrator) GetJobStatus(ctx context.Context, jobID uuid.UUID) (*models.TrainingJob, error) {
	job, err := o.store.GetTrainingJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("get training job: %w", err)
	}
	return job, nil
}

// CancelJob marks a non-terminal job failed with a cancellation reason. The
// worker checks the record between epochs and stops cleanly.
func (o *Orchestrator) CancelJob(ctx context.Context, jobID uuid.UUID) error {
	job, err := o.store.GetTrainingJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("get training job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("training job %s not found", jobID)
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: job %s already %s", faults.ErrCancelled, jobID, job.Status)
	}

	job.Status = models.JobStatusFailed
	job.FailureReason = "cancelled"
	if err := o.store.UpdateTrainingJob(ctx, job); err != nil {
		return fmt.Errorf("update training job: %w", err)
	}

	slog.Info("training job cancelled", "job", jobID, "camera", job.CameraID)
	return nil
}
