package storage

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/sentinel/internal/models"
)

// MemoryStore is an in-process Store used by package tests and as the edge
// agent's local deployment cache. Not durable.
type MemoryStore struct {
	mu        sync.RWMutex
	cameras   map[uuid.UUID]*models.Camera
	datasets  map[uuid.UUID]*models.Dataset
	snapshots map[uuid.UUID][]models.LabeledSnapshot // by dataset id
	jobs      map[uuid.UUID]*models.TrainingJob
	versions  map[uuid.UUID]*models.ModelVersion
	baselines map[uuid.UUID][]models.BaselineInventory // by camera id, ascending version
	events    map[uuid.UUID]*models.Event
	verdicts  map[uuid.UUID][]models.AnomalyVerdict // by event id, ascending version
	feedback  []models.FeedbackSignal
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cameras:   make(map[uuid.UUID]*models.Camera),
		datasets:  make(map[uuid.UUID]*models.Dataset),
		snapshots: make(map[uuid.UUID][]models.LabeledSnapshot),
		jobs:      make(map[uuid.UUID]*models.TrainingJob),
		versions:  make(map[uuid.UUID]*models.ModelVersion),
		baselines: make(map[uuid.UUID][]models.BaselineInventory),
		events:    make(map[uuid.UUID]*models.Event),
		verdicts:  make(map[uuid.UUID][]models.AnomalyVerdict),
	}
}

// --- Cameras ---

func (s *MemoryStore) CreateCamera(_ context.Context, cam *models.Camera) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cam.ID == uuid.Nil {
		cam.ID = uuid.New()
	}
	now := time.Now()
	cam.CreatedAt = now
	cam.UpdatedAt = now
	if cam.Health == "" {
		cam.Health = models.CameraHealthNoModel
	}
	cp := *cam
	s.cameras[cam.ID] = &cp
	return nil
}

func (s *MemoryStore) GetCamera(_ context.Context, id uuid.UUID) (*models.Camera, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cam, ok := s.cameras[id]
	if !ok {
		return nil, nil
	}
	cp := *cam
	return &cp, nil
}

func (s *MemoryStore) ListCameras(_ context.Context) ([]models.Camera, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Camera, 0, len(s.cameras))
	for _, cam := range s.cameras {
		out = append(out, *cam)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) SetCameraDeployment(_ context.Context, id uuid.UUID, modelID *uuid.UUID, threshold float64, health models.CameraHealth) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cam, ok := s.cameras[id]
	if !ok {
		return nil
	}
	cam.ActiveModelID = modelID
	cam.Threshold = threshold
	cam.Health = health
	cam.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) SetCameraHealth(_ context.Context, id uuid.UUID, health models.CameraHealth, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cam, ok := s.cameras[id]
	if !ok {
		return nil
	}
	cam.Health = health
	cam.LastSeen = &lastSeen
	cam.UpdatedAt = time.Now()
	return nil
}

// --- Datasets ---

func (s *MemoryStore) CreateDataset(_ context.Context, ds *models.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ds.ID == uuid.Nil {
		ds.ID = uuid.New()
	}
	ds.CreatedAt = time.Now()
	if ds.Status == "" {
		ds.Status = models.DatasetStatusOpen
	}
	if ds.LabelCounts == nil {
		ds.LabelCounts = make(map[models.SnapshotLabel]int)
	}
	cp := *ds
	s.datasets[ds.ID] = &cp
	return nil
}

func (s *MemoryStore) GetDataset(_ context.Context, id uuid.UUID) (*models.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds, ok := s.datasets[id]
	if !ok {
		return nil, nil
	}
	cp := *ds
	return &cp, nil
}

func (s *MemoryStore) CloseDataset(_ context.Context, id uuid.UUID, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.datasets[id]
	if !ok {
		return nil
	}
	ds.Status = models.DatasetStatusClosed
	ds.ClosedAt = &closedAt
	return nil
}

func (s *MemoryStore) LatestClosedDataset(_ context.Context, cameraID uuid.UUID) (*models.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.Dataset
	for _, ds := range s.datasets {
		if ds.CameraID != cameraID || ds.Status != models.DatasetStatusClosed {
			continue
		}
		if latest == nil || ds.ClosedAt.After(*latest.ClosedAt) {
			latest = ds
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (s *MemoryStore) AddSnapshot(_ context.Context, snap *models.LabeledSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.ID == uuid.Nil {
		snap.ID = uuid.New()
	}
	snap.CreatedAt = time.Now()
	s.snapshots[snap.DatasetID] = append(s.snapshots[snap.DatasetID], *snap)
	if ds, ok := s.datasets[snap.DatasetID]; ok {
		ds.LabelCounts[snap.Label]++
		ds.TotalBytes += snap.SizeBytes
	}
	return nil
}

func (s *MemoryStore) ListSnapshots(_ context.Context, datasetID uuid.UUID, label models.SnapshotLabel) ([]models.LabeledSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.LabeledSnapshot
	for _, snap := range s.snapshots[datasetID] {
		if label == "" || snap.Label == label {
			out = append(out, snap)
		}
	}
	return out, nil
}

// --- Training jobs ---

func (s *MemoryStore) CreateTrainingJob(_ context.Context, job *models.TrainingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTrainingJob(_ context.Context, id uuid.UUID) (*models.TrainingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) UpdateTrainingJob(_ context.Context, job *models.TrainingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.UpdatedAt = time.Now()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) RunningJob(_ context.Context, cameraID uuid.UUID) (*models.TrainingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, job := range s.jobs {
		if job.CameraID == cameraID && !job.Status.Terminal() {
			cp := *job
			return &cp, nil
		}
	}
	return nil, nil
}

// --- Model versions ---

func (s *MemoryStore) CreateModelVersion(_ context.Context, mv *models.ModelVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mv.ID == uuid.Nil {
		mv.ID = uuid.New()
	}
	now := time.Now()
	mv.CreatedAt = now
	mv.UpdatedAt = now
	cp := *mv
	s.versions[mv.ID] = &cp
	return nil
}

func (s *MemoryStore) GetModelVersion(_ context.Context, id uuid.UUID) (*models.ModelVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mv, ok := s.versions[id]
	if !ok {
		return nil, nil
	}
	cp := *mv
	return &cp, nil
}

func (s *MemoryStore) ListModelVersions(_ context.Context, cameraID uuid.UUID) ([]models.ModelVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ModelVersion
	for _, mv := range s.versions {
		if mv.CameraID == cameraID {
			out = append(out, *mv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) SetModelState(_ context.Context, id uuid.UUID, state models.ModelState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mv, ok := s.versions[id]; ok {
		mv.State = state
		mv.UpdatedAt = time.Now()
	}
	return nil
}

func (s *MemoryStore) DeployedModel(_ context.Context, cameraID uuid.UUID) (*models.ModelVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, mv := range s.versions {
		if mv.CameraID == cameraID && mv.State == models.ModelStateDeployed {
			cp := *mv
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) LatestSuperseded(_ context.Context, cameraID uuid.UUID) (*models.ModelVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.ModelVersion
	for _, mv := range s.versions {
		if mv.CameraID != cameraID || mv.State != models.ModelStateSuperseded {
			continue
		}
		if latest == nil || mv.UpdatedAt.After(latest.UpdatedAt) {
			latest = mv
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (s *MemoryStore) PromoteDeployed(_ context.Context, cameraID, modelID uuid.UUID) (*models.ModelVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var prev *models.ModelVersion
	for _, mv := range s.versions {
		if mv.CameraID == cameraID && mv.State == models.ModelStateDeployed && mv.ID != modelID {
			mv.State = models.ModelStateSuperseded
			mv.UpdatedAt = now
			cp := *mv
			prev = &cp
		}
	}
	if mv, ok := s.versions[modelID]; ok {
		mv.State = models.ModelStateDeployed
		mv.UpdatedAt = now
	}
	return prev, nil
}

// --- Baselines ---

func (s *MemoryStore) CreateBaseline(_ context.Context, b *models.BaselineInventory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.CreatedAt = time.Now()
	b.Version = len(s.baselines[b.CameraID]) + 1
	s.baselines[b.CameraID] = append(s.baselines[b.CameraID], *b)
	return nil
}

func (s *MemoryStore) LatestBaseline(_ context.Context, cameraID uuid.UUID) (*models.BaselineInventory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.baselines[cameraID]
	if len(versions) == 0 {
		return nil, nil
	}
	cp := versions[len(versions)-1]
	return &cp, nil
}

// --- Events ---

func (s *MemoryStore) InsertEvent(_ context.Context, ev *models.Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[ev.ID]; exists {
		return false, nil
	}
	ev.CreatedAt = time.Now()
	if ev.Status == "" {
		ev.Status = models.EventStatusReceived
	}
	cp := *ev
	s.events[ev.ID] = &cp
	return true, nil
}

func (s *MemoryStore) GetEvent(_ context.Context, id uuid.UUID) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, nil
	}
	cp := *ev
	return &cp, nil
}

func (s *MemoryStore) SetEventStatus(_ context.Context, id uuid.UUID, status models.EventStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev, ok := s.events[id]; ok {
		ev.Status = status
	}
	return nil
}

func (s *MemoryStore) QueryEvents(_ context.Context, cameraID uuid.UUID, from, to *time.Time, status *models.EventStatus, limit, offset int) ([]models.Event, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []models.Event
	for _, ev := range s.events {
		if ev.CameraID != cameraID {
			continue
		}
		if from != nil && ev.TriggeredAt.Before(*from) {
			continue
		}
		if to != nil && ev.TriggeredAt.After(*to) {
			continue
		}
		if status != nil && ev.Status != *status {
			continue
		}
		all = append(all, *ev)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].TriggeredAt.After(all[j].TriggeredAt) })
	total := len(all)
	if limit <= 0 {
		limit = 50
	}
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (s *MemoryStore) PendingEventCount(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, ev := range s.events {
		if ev.Status != models.EventStatusAnalyzed {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) SimilarEvents(_ context.Context, vector []float32, limit int) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 5
	}
	type scored struct {
		ev   models.Event
		dist float64
	}
	var candidates []scored
	for _, ev := range s.events {
		if len(ev.SceneVector) != len(vector) || len(vector) == 0 {
			continue
		}
		candidates = append(candidates, scored{*ev, cosineDistance(vector, ev.SceneVector)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]models.Event, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.ev)
	}
	return out, nil
}

func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// --- Verdicts ---

func (s *MemoryStore) InsertVerdict(_ context.Context, v *models.AnomalyVerdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	v.CreatedAt = time.Now()
	v.Version = len(s.verdicts[v.EventID]) + 1
	s.verdicts[v.EventID] = append(s.verdicts[v.EventID], *v)
	return nil
}

func (s *MemoryStore) GetVerdict(_ context.Context, id uuid.UUID) (*models.AnomalyVerdict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, versions := range s.verdicts {
		for _, v := range versions {
			if v.ID == id {
				cp := v
				return &cp, nil
			}
		}
	}
	return nil, nil
}

func (s *MemoryStore) LatestVerdict(_ context.Context, eventID uuid.UUID) (*models.AnomalyVerdict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.verdicts[eventID]
	if len(versions) == 0 {
		return nil, nil
	}
	cp := versions[len(versions)-1]
	return &cp, nil
}

func (s *MemoryStore) ListVerdicts(_ context.Context, eventID uuid.UUID) ([]models.AnomalyVerdict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.AnomalyVerdict, len(s.verdicts[eventID]))
	copy(out, s.verdicts[eventID])
	return out, nil
}

func (s *MemoryStore) CorrelatedEvents(_ context.Context, cameraID uuid.UUID, anomalyType models.AnomalyType, since time.Time) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []uuid.UUID
	for id, ev := range s.events {
		if ev.CameraID != cameraID || ev.TriggeredAt.Before(since) {
			continue
		}
		versions := s.verdicts[id]
		if len(versions) == 0 {
			continue
		}
		if versions[len(versions)-1].AnomalyType == anomalyType {
			out = append(out, id)
		}
	}
	return out, nil
}

// --- Feedback ---

func (s *MemoryStore) AddFeedback(_ context.Context, f *models.FeedbackSignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	f.CreatedAt = time.Now()
	s.feedback = append(s.feedback, *f)
	return nil
}

func (s *MemoryStore) CountFeedback(_ context.Context, cameraID uuid.UUID, kind models.FeedbackKind, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, f := range s.feedback {
		if f.CameraID == cameraID && f.Kind == kind && !f.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func (s *MemoryStore) Close() {}
