package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/sentinel/internal/models"
)

// Store is the persistence contract shared by the VM services.
// Lookups return (nil, nil) when the record does not exist.
// PostgresStore is the production implementation; MemoryStore backs
// package tests and the edge agent's local cache.
type Store interface {
	// Cameras
	CreateCamera(ctx context.Context, cam *models.Camera) error
	GetCamera(ctx context.Context, id uuid.UUID) (*models.Camera, error)
	ListCameras(ctx context.Context) ([]models.Camera, error)
	SetCameraDeployment(ctx context.Context, id uuid.UUID, modelID *uuid.UUID, threshold float64, health models.CameraHealth) error
	SetCameraHealth(ctx context.Context, id uuid.UUID, health models.CameraHealth, lastSeen time.Time) error

	// Datasets and snapshots
	CreateDataset(ctx context.Context, ds *models.Dataset) error
	GetDataset(ctx context.Context, id uuid.UUID) (*models.Dataset, error)
	CloseDataset(ctx context.Context, id uuid.UUID, closedAt time.Time) error
	LatestClosedDataset(ctx context.Context, cameraID uuid.UUID) (*models.Dataset, error)
	AddSnapshot(ctx context.Context, snap *models.LabeledSnapshot) error
	ListSnapshots(ctx context.Context, datasetID uuid.UUID, label models.SnapshotLabel) ([]models.LabeledSnapshot, error)

	// Training jobs
	CreateTrainingJob(ctx context.Context, job *models.TrainingJob) error
	GetTrainingJob(ctx context.Context, id uuid.UUID) (*models.TrainingJob, error)
	UpdateTrainingJob(ctx context.Context, job *models.TrainingJob) error
	RunningJob(ctx context.Context, cameraID uuid.UUID) (*models.TrainingJob, error)

	// Model versions
	CreateModelVersion(ctx context.Context, mv *models.ModelVersion) error
	GetModelVersion(ctx context.Context, id uuid.UUID) (*models.ModelVersion, error)
	ListModelVersions(ctx context.Context, cameraID uuid.UUID) ([]models.ModelVersion, error)
	SetModelState(ctx context.Context, id uuid.UUID, state models.ModelState) error
	DeployedModel(ctx context.Context, cameraID uuid.UUID) (*models.ModelVersion, error)
	LatestSuperseded(ctx context.Context, cameraID uuid.UUID) (*models.ModelVersion, error)
	// PromoteDeployed atomically marks the model deployed and the camera's
	// prior deployed version superseded. Returns the superseded version.
	PromoteDeployed(ctx context.Context, cameraID, modelID uuid.UUID) (*models.ModelVersion, error)

	// Baseline inventories
	CreateBaseline(ctx context.Context, b *models.BaselineInventory) error
	LatestBaseline(ctx context.Context, cameraID uuid.UUID) (*models.BaselineInventory, error)

	// Events
	// InsertEvent reports false when the event id already exists.
	InsertEvent(ctx context.Context, ev *models.Event) (bool, error)
	GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error)
	SetEventStatus(ctx context.Context, id uuid.UUID, status models.EventStatus) error
	QueryEvents(ctx context.Context, cameraID uuid.UUID, from, to *time.Time, status *models.EventStatus, limit, offset int) ([]models.Event, int, error)
	PendingEventCount(ctx context.Context) (int, error)
	SimilarEvents(ctx context.Context, vector []float32, limit int) ([]models.Event, error)

	// Verdicts
	// InsertVerdict assigns the next version number for the event.
	InsertVerdict(ctx context.Context, v *models.AnomalyVerdict) error
	GetVerdict(ctx context.Context, id uuid.UUID) (*models.AnomalyVerdict, error)
	LatestVerdict(ctx context.Context, eventID uuid.UUID) (*models.AnomalyVerdict, error)
	ListVerdicts(ctx context.Context, eventID uuid.UUID) ([]models.AnomalyVerdict, error)
	// CorrelatedEvents returns ids of analyzed events on the camera since the
	// cutoff whose latest verdict carries the given anomaly type.
	CorrelatedEvents(ctx context.Context, cameraID uuid.UUID, anomalyType models.AnomalyType, since time.Time) ([]uuid.UUID, error)

	// Operator feedback
	AddFeedback(ctx context.Context, f *models.FeedbackSignal) error
	CountFeedback(ctx context.Context, cameraID uuid.UUID, kind models.FeedbackKind, since time.Time) (int, error)

	Ping(ctx context.Context) error
	Close()
}
