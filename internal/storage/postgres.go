package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/sentinel/internal/config"
	"github.com/your-org/sentinel/internal/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Migrate applies the schema with the given scene-vector dimension, the
// deployed models' latent size. Statements are idempotent.
func (s *PostgresStore) Migrate(ctx context.Context, sceneVectorDim int) error {
	if _, err := s.pool.Exec(ctx, schemaDDL(sceneVectorDim)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Cameras ---

func (s *PostgresStore) CreateCamera(ctx context.Context, cam *models.Camera) error {
	if cam.ID == uuid.Nil {
		cam.ID = uuid.New()
	}
	if cam.Health == "" {
		cam.Health = models.CameraHealthNoModel
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO cameras (id, edge_id, name, width, height, threshold, health)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at, updated_at`,
		cam.ID, cam.EdgeID, cam.Name, cam.Width, cam.Height, cam.Threshold, cam.Health,
	).Scan(&cam.CreatedAt, &cam.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create camera: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCamera(ctx context.Context, id uuid.UUID) (*models.Camera, error) {
	cam := &models.Camera{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, edge_id, name, width, height, active_model_id, threshold, health, last_seen, created_at, updated_at
		 FROM cameras WHERE id = $1`, id,
	).Scan(&cam.ID, &cam.EdgeID, &cam.Name, &cam.Width, &cam.Height,
		&cam.ActiveModelID, &cam.Threshold, &cam.Health, &cam.LastSeen, &cam.CreatedAt, &cam.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get camera: %w", err)
	}
	return cam, nil
}

func (s *PostgresStore) ListCameras(ctx context.Context) ([]models.Camera, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, edge_id, name, width, height, active_model_id, threshold, health, last_seen, created_at, updated_at
		 FROM cameras ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list cameras: %w", err)
	}
	defer rows.Close()

	var cameras []models.Camera
	for rows.Next() {
		var cam models.Camera
		if err := rows.Scan(&cam.ID, &cam.EdgeID, &cam.Name, &cam.Width, &cam.Height,
			&cam.ActiveModelID, &cam.Threshold, &cam.Health, &cam.LastSeen, &cam.CreatedAt, &cam.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan camera: %w", err)
		}
		cameras = append(cameras, cam)
	}
	return cameras, nil
}

func (s *PostgresStore) SetCameraDeployment(ctx context.Context, id uuid.UUID, modelID *uuid.UUID, threshold float64, health models.CameraHealth) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE cameras SET active_model_id = $1, threshold = $2, health = $3, updated_at = now() WHERE id = $4`,
		modelID, threshold, health, id)
	return err
}

func (s *PostgresStore) SetCameraHealth(ctx context.Context, id uuid.UUID, health models.CameraHealth, lastSeen time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE cameras SET health = $1, last_seen = $2, updated_at = now() WHERE id = $3`,
		health, lastSeen, id)
	return err
}

// --- Datasets ---

func (s *PostgresStore) CreateDataset(ctx context.Context, ds *models.Dataset) error {
	if ds.ID == uuid.Nil {
		ds.ID = uuid.New()
	}
	if ds.Status == "" {
		ds.Status = models.DatasetStatusOpen
	}
	if ds.LabelCounts == nil {
		ds.LabelCounts = make(map[models.SnapshotLabel]int)
	}
	counts, err := json.Marshal(ds.LabelCounts)
	if err != nil {
		return fmt.Errorf("marshal label counts: %w", err)
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO datasets (id, camera_id, edge_id, label_counts, total_bytes, status, closed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at`,
		ds.ID, ds.CameraID, ds.EdgeID, counts, ds.TotalBytes, ds.Status, ds.ClosedAt,
	).Scan(&ds.CreatedAt)
	if err != nil {
		return fmt.Errorf("create dataset: %w", err)
	}
	return nil
}

func (s *PostgresStore) scanDataset(row pgx.Row) (*models.Dataset, error) {
	ds := &models.Dataset{}
	var counts []byte
	err := row.Scan(&ds.ID, &ds.CameraID, &ds.EdgeID, &counts, &ds.TotalBytes, &ds.Status, &ds.ClosedAt, &ds.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(counts, &ds.LabelCounts); err != nil {
		return nil, fmt.Errorf("unmarshal label counts: %w", err)
	}
	return ds, nil
}

func (s *PostgresStore) GetDataset(ctx context.Context, id uuid.UUID) (*models.Dataset, error) {
	ds, err := s.scanDataset(s.pool.QueryRow(ctx,
		`SELECT id, camera_id, edge_id, label_counts, total_bytes, status, closed_at, created_at
		 FROM datasets WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get dataset: %w", err)
	}
	return ds, nil
}

func (s *PostgresStore) CloseDataset(ctx context.Context, id uuid.UUID, closedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE datasets SET status = $1, closed_at = $2 WHERE id = $3 AND status = $4`,
		models.DatasetStatusClosed, closedAt, id, models.DatasetStatusOpen)
	return err
}

func (s *PostgresStore) LatestClosedDataset(ctx context.Context, cameraID uuid.UUID) (*models.Dataset, error) {
	ds, err := s.scanDataset(s.pool.QueryRow(ctx,
		`SELECT id, camera_id, edge_id, label_counts, total_bytes, status, closed_at, created_at
		 FROM datasets WHERE camera_id = $1 AND status = 'closed' ORDER BY closed_at DESC LIMIT 1`, cameraID))
	if err != nil {
		return nil, fmt.Errorf("latest closed dataset: %w", err)
	}
	return ds, nil
}

func (s *PostgresStore) AddSnapshot(ctx context.Context, snap *models.LabeledSnapshot) error {
	if snap.ID == uuid.Nil {
		snap.ID = uuid.New()
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO snapshots (id, dataset_id, camera_id, label, captured_at, conditions, blob_key, size_bytes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at`,
		snap.ID, snap.DatasetID, snap.CameraID, snap.Label, snap.CapturedAt,
		snap.Conditions, snap.BlobKey, snap.SizeBytes,
	).Scan(&snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("add snapshot: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE datasets
		 SET label_counts = jsonb_set(label_counts, ARRAY[$1::text], (COALESCE(label_counts->>$1, '0')::int + 1)::text::jsonb),
		     total_bytes = total_bytes + $2
		 WHERE id = $3 AND status = 'open'`,
		string(snap.Label), snap.SizeBytes, snap.DatasetID)
	if err != nil {
		return fmt.Errorf("update dataset counts: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, datasetID uuid.UUID, label models.SnapshotLabel) ([]models.LabeledSnapshot, error) {
	query := `SELECT id, dataset_id, camera_id, label, captured_at, conditions, blob_key, size_bytes, created_at
		 FROM snapshots WHERE dataset_id = $1`
	args := []interface{}{datasetID}
	if label != "" {
		query += ` AND label = $2`
		args = append(args, label)
	}
	query += ` ORDER BY captured_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []models.LabeledSnapshot
	for rows.Next() {
		var snap models.LabeledSnapshot
		if err := rows.Scan(&snap.ID, &snap.DatasetID, &snap.CameraID, &snap.Label,
			&snap.CapturedAt, &snap.Conditions, &snap.BlobKey, &snap.SizeBytes, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// --- Training jobs ---

func (s *PostgresStore) CreateTrainingJob(ctx context.Context, job *models.TrainingJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	params, err := json.Marshal(job.Hyperparams)
	if err != nil {
		return fmt.Errorf("marshal hyperparams: %w", err)
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO training_jobs (id, camera_id, dataset_id, hyperparams, status)
		 VALUES ($1, $2, $3, $4, $5) RETURNING created_at, updated_at`,
		job.ID, job.CameraID, job.DatasetID, params, job.Status,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create training job: %w", err)
	}
	return nil
}

func (s *PostgresStore) scanTrainingJob(row pgx.Row) (*models.TrainingJob, error) {
	job := &models.TrainingJob{}
	var params []byte
	err := row.Scan(&job.ID, &job.CameraID, &job.DatasetID, &params, &job.Status,
		&job.Epoch, &job.Loss, &job.ValidationError, &job.ModelVersionID,
		&job.FailureReason, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(params, &job.Hyperparams); err != nil {
		return nil, fmt.Errorf("unmarshal hyperparams: %w", err)
	}
	return job, nil
}

const trainingJobColumns = `id, camera_id, dataset_id, hyperparams, status, epoch, loss, validation_error, model_version_id, failure_reason, created_at, updated_at`

func (s *PostgresStore) GetTrainingJob(ctx context.Context, id uuid.UUID) (*models.TrainingJob, error) {
	job, err := s.scanTrainingJob(s.pool.QueryRow(ctx,
		`SELECT `+trainingJobColumns+` FROM training_jobs WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get training job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) UpdateTrainingJob(ctx context.Context, job *models.TrainingJob) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE training_jobs
		 SET status = $1, epoch = $2, loss = $3, validation_error = $4,
		     model_version_id = $5, failure_reason = $6, updated_at = now()
		 WHERE id = $7`,
		job.Status, job.Epoch, job.Loss, job.ValidationError,
		job.ModelVersionID, job.FailureReason, job.ID)
	if err != nil {
		return fmt.Errorf("update training job: %w", err)
	}
	return nil
}

func (s *PostgresStore) RunningJob(ctx context.Context, cameraID uuid.UUID) (*models.TrainingJob, error) {
	job, err := s.scanTrainingJob(s.pool.QueryRow(ctx,
		`SELECT `+trainingJobColumns+` FROM training_jobs
		 WHERE camera_id = $1 AND status IN ('queued', 'running')
		 ORDER BY created_at DESC LIMIT 1`, cameraID))
	if err != nil {
		return nil, fmt.Errorf("running job: %w", err)
	}
	return job, nil
}

// --- Model versions ---

const modelVersionColumns = `id, camera_id, training_job_id, artifact_key, checksum, preprocessing, threshold, validation_error, state, created_at, updated_at`

func (s *PostgresStore) CreateModelVersion(ctx context.Context, mv *models.ModelVersion) error {
	if mv.ID == uuid.Nil {
		mv.ID = uuid.New()
	}
	prep, err := json.Marshal(mv.Preprocessing)
	if err != nil {
		return fmt.Errorf("marshal preprocessing: %w", err)
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO model_versions (id, camera_id, training_job_id, artifact_key, checksum, preprocessing, threshold, validation_error, state)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING created_at, updated_at`,
		mv.ID, mv.CameraID, mv.TrainingJobID, mv.ArtifactKey, mv.Checksum,
		prep, mv.Threshold, mv.ValidationError, mv.State,
	).Scan(&mv.CreatedAt, &mv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create model version: %w", err)
	}
	return nil
}

func scanModelVersion(row pgx.Row) (*models.ModelVersion, error) {
	mv := &models.ModelVersion{}
	var prep []byte
	err := row.Scan(&mv.ID, &mv.CameraID, &mv.TrainingJobID, &mv.ArtifactKey, &mv.Checksum,
		&prep, &mv.Threshold, &mv.ValidationError, &mv.State, &mv.CreatedAt, &mv.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(prep, &mv.Preprocessing); err != nil {
		return nil, fmt.Errorf("unmarshal preprocessing: %w", err)
	}
	return mv, nil
}

func (s *PostgresStore) GetModelVersion(ctx context.Context, id uuid.UUID) (*models.ModelVersion, error) {
	mv, err := scanModelVersion(s.pool.QueryRow(ctx,
		`SELECT `+modelVersionColumns+` FROM model_versions WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get model version: %w", err)
	}
	return mv, nil
}

func (s *PostgresStore) ListModelVersions(ctx context.Context, cameraID uuid.UUID) ([]models.ModelVersion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+modelVersionColumns+` FROM model_versions WHERE camera_id = $1 ORDER BY created_at`, cameraID)
	if err != nil {
		return nil, fmt.Errorf("list model versions: %w", err)
	}
	defer rows.Close()

	var versions []models.ModelVersion
	for rows.Next() {
		mv, err := scanModelVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan model version: %w", err)
		}
		versions = append(versions, *mv)
	}
	return versions, nil
}

func (s *PostgresStore) SetModelState(ctx context.Context, id uuid.UUID, state models.ModelState) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE model_versions SET state = $1, updated_at = now() WHERE id = $2`, state, id)
	return err
}

func (s *PostgresStore) DeployedModel(ctx context.Context, cameraID uuid.UUID) (*models.ModelVersion, error) {
	mv, err := scanModelVersion(s.pool.QueryRow(ctx,
		`SELECT `+modelVersionColumns+` FROM model_versions WHERE camera_id = $1 AND state = 'deployed'`, cameraID))
	if err != nil {
		return nil, fmt.Errorf("deployed model: %w", err)
	}
	return mv, nil
}

func (s *PostgresStore) LatestSuperseded(ctx context.Context, cameraID uuid.UUID) (*models.ModelVersion, error) {
	mv, err := scanModelVersion(s.pool.QueryRow(ctx,
		`SELECT `+modelVersionColumns+` FROM model_versions
		 WHERE camera_id = $1 AND state = 'superseded' ORDER BY updated_at DESC LIMIT 1`, cameraID))
	if err != nil {
		return nil, fmt.Errorf("latest superseded: %w", err)
	}
	return mv, nil
}

// PromoteDeployed marks modelID deployed and the camera's prior deployed
// version superseded in one transaction, keeping the partial unique index
// on (camera_id) WHERE state='deployed' satisfied.
func (s *PostgresStore) PromoteDeployed(ctx context.Context, cameraID, modelID uuid.UUID) (*models.ModelVersion, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	prev, err := scanModelVersion(tx.QueryRow(ctx,
		`UPDATE model_versions SET state = 'superseded', updated_at = now()
		 WHERE camera_id = $1 AND state = 'deployed' AND id <> $2
		 RETURNING `+modelVersionColumns, cameraID, modelID))
	if err != nil {
		return nil, fmt.Errorf("supersede prior: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE model_versions SET state = 'deployed', updated_at = now() WHERE id = $1`, modelID); err != nil {
		return nil, fmt.Errorf("mark deployed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return prev, nil
}

// --- Baseline inventories ---

func (s *PostgresStore) CreateBaseline(ctx context.Context, b *models.BaselineInventory) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	profiles, err := json.Marshal(b.Profiles)
	if err != nil {
		return fmt.Errorf("marshal profiles: %w", err)
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO baseline_inventories (id, camera_id, dataset_id, version, profiles)
		 VALUES ($1, $2, $3,
		   (SELECT COALESCE(MAX(version), 0) + 1 FROM baseline_inventories WHERE camera_id = $2),
		   $4)
		 RETURNING version, created_at`,
		b.ID, b.CameraID, b.DatasetID, profiles,
	).Scan(&b.Version, &b.CreatedAt)
	if err != nil {
		return fmt.Errorf("create baseline: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestBaseline(ctx context.Context, cameraID uuid.UUID) (*models.BaselineInventory, error) {
	b := &models.BaselineInventory{}
	var profiles []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, camera_id, dataset_id, version, profiles, created_at
		 FROM baseline_inventories WHERE camera_id = $1 ORDER BY version DESC LIMIT 1`, cameraID,
	).Scan(&b.ID, &b.CameraID, &b.DatasetID, &b.Version, &profiles, &b.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("latest baseline: %w", err)
	}
	if err := json.Unmarshal(profiles, &b.Profiles); err != nil {
		return nil, fmt.Errorf("unmarshal profiles: %w", err)
	}
	return b, nil
}

// --- Events ---

const eventColumns = `id, camera_id, edge_id, triggered_at, model_version_id, score, frame_key, clip_key, clip_start, clip_end, status, created_at`

func (s *PostgresStore) InsertEvent(ctx context.Context, ev *models.Event) (bool, error) {
	if ev.Status == "" {
		ev.Status = models.EventStatusReceived
	}
	ev.CreatedAt = time.Now()
	var vec *pgvector.Vector
	if len(ev.SceneVector) > 0 {
		v := pgvector.NewVector(ev.SceneVector)
		vec = &v
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO events (id, camera_id, edge_id, triggered_at, model_version_id, score, frame_key, clip_key, clip_start, clip_end, scene_vector, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.CameraID, ev.EdgeID, ev.TriggeredAt, ev.ModelVersionID, ev.Score,
		ev.FrameKey, ev.ClipKey, ev.ClipStart, ev.ClipEnd, vec, ev.Status, ev.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanEvent(row pgx.Row) (*models.Event, error) {
	ev := &models.Event{}
	err := row.Scan(&ev.ID, &ev.CameraID, &ev.EdgeID, &ev.TriggeredAt, &ev.ModelVersionID,
		&ev.Score, &ev.FrameKey, &ev.ClipKey, &ev.ClipStart, &ev.ClipEnd, &ev.Status, &ev.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return ev, nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	ev, err := scanEvent(s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return ev, nil
}

func (s *PostgresStore) SetEventStatus(ctx context.Context, id uuid.UUID, status models.EventStatus) error {
	_, err := s.pool.Exec(ctx, `UPDATE events SET status = $1 WHERE id = $2`, status, id)
	return err
}

func (s *PostgresStore) QueryEvents(ctx context.Context, cameraID uuid.UUID, from, to *time.Time, status *models.EventStatus, limit, offset int) ([]models.Event, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	baseWhere := "WHERE camera_id = $1"
	args := []interface{}{cameraID}
	argIdx := 2

	if from != nil {
		baseWhere += fmt.Sprintf(" AND triggered_at >= $%d", argIdx)
		args = append(args, *from)
		argIdx++
	}
	if to != nil {
		baseWhere += fmt.Sprintf(" AND triggered_at <= $%d", argIdx)
		args = append(args, *to)
		argIdx++
	}
	if status != nil {
		baseWhere += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, *status)
		argIdx++
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM events " + baseWhere
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT `+eventColumns+` FROM events %s ORDER BY triggered_at DESC LIMIT $%d OFFSET $%d`,
		baseWhere, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *ev)
	}
	return events, total, nil
}

func (s *PostgresStore) PendingEventCount(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM events WHERE status <> 'analyzed'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("pending event count: %w", err)
	}
	return count, nil
}

// SimilarEvents finds events whose scene signature is closest to the given
// vector, nearest first.
func (s *PostgresStore) SimilarEvents(ctx context.Context, vector []float32, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = 5
	}
	vec := pgvector.NewVector(vector)
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE scene_vector IS NOT NULL
		 ORDER BY scene_vector <=> $1 LIMIT $2`, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("similar events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *ev)
	}
	return events, nil
}

// --- Verdicts ---

const verdictColumns = `id, event_id, version, anomaly_type, risk_level, score, confidence, explanation, correlated_events, degraded, created_at`

func (s *PostgresStore) InsertVerdict(ctx context.Context, v *models.AnomalyVerdict) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	correlated, err := json.Marshal(v.CorrelatedEvents)
	if err != nil {
		return fmt.Errorf("marshal correlated events: %w", err)
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO verdicts (id, event_id, version, anomaly_type, risk_level, score, confidence, explanation, correlated_events, degraded)
		 VALUES ($1, $2,
		   (SELECT COALESCE(MAX(version), 0) + 1 FROM verdicts WHERE event_id = $2),
		   $3, $4, $5, $6, $7, $8, $9)
		 RETURNING version, created_at`,
		v.ID, v.EventID, v.AnomalyType, v.RiskLevel, v.Score, v.Confidence,
		v.Explanation, correlated, v.Degraded,
	).Scan(&v.Version, &v.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert verdict: %w", err)
	}
	return nil
}

func scanVerdict(row pgx.Row) (*models.AnomalyVerdict, error) {
	v := &models.AnomalyVerdict{}
	var correlated []byte
	err := row.Scan(&v.ID, &v.EventID, &v.Version, &v.AnomalyType, &v.RiskLevel,
		&v.Score, &v.Confidence, &v.Explanation, &correlated, &v.Degraded, &v.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(correlated, &v.CorrelatedEvents); err != nil {
		return nil, fmt.Errorf("unmarshal correlated events: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) GetVerdict(ctx context.Context, id uuid.UUID) (*models.AnomalyVerdict, error) {
	v, err := scanVerdict(s.pool.QueryRow(ctx,
		`SELECT `+verdictColumns+` FROM verdicts WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get verdict: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) LatestVerdict(ctx context.Context, eventID uuid.UUID) (*models.AnomalyVerdict, error) {
	v, err := scanVerdict(s.pool.QueryRow(ctx,
		`SELECT `+verdictColumns+` FROM verdicts WHERE event_id = $1 ORDER BY version DESC LIMIT 1`, eventID))
	if err != nil {
		return nil, fmt.Errorf("latest verdict: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) ListVerdicts(ctx context.Context, eventID uuid.UUID) ([]models.AnomalyVerdict, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+verdictColumns+` FROM verdicts WHERE event_id = $1 ORDER BY version`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list verdicts: %w", err)
	}
	defer rows.Close()

	var verdicts []models.AnomalyVerdict
	for rows.Next() {
		v, err := scanVerdict(rows)
		if err != nil {
			return nil, fmt.Errorf("scan verdict: %w", err)
		}
		verdicts = append(verdicts, *v)
	}
	return verdicts, nil
}

func (s *PostgresStore) CorrelatedEvents(ctx context.Context, cameraID uuid.UUID, anomalyType models.AnomalyType, since time.Time) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT e.id FROM events e
		 JOIN LATERAL (
		   SELECT anomaly_type FROM verdicts WHERE event_id = e.id ORDER BY version DESC LIMIT 1
		 ) v ON TRUE
		 WHERE e.camera_id = $1 AND e.triggered_at >= $2 AND v.anomaly_type = $3`,
		cameraID, since, anomalyType)
	if err != nil {
		return nil, fmt.Errorf("correlated events: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan event id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// --- Feedback ---

func (s *PostgresStore) AddFeedback(ctx context.Context, f *models.FeedbackSignal) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO feedback_signals (id, verdict_id, event_id, camera_id, anomaly_type, kind)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`,
		f.ID, f.VerdictID, f.EventID, f.CameraID, f.AnomalyType, f.Kind,
	).Scan(&f.CreatedAt)
	if err != nil {
		return fmt.Errorf("add feedback: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountFeedback(ctx context.Context, cameraID uuid.UUID, kind models.FeedbackKind, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM feedback_signals WHERE camera_id = $1 AND kind = $2 AND created_at >= $3`,
		cameraID, kind, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count feedback: %w", err)
	}
	return count, nil
}
