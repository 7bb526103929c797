package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/sentinel/internal/faults"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/storage"
	"github.com/your-org/sentinel/internal/vision"
)

// ArtifactSource fetches blobs by key. Satisfied by *storage.BlobStore.
type ArtifactSource interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// holdoutSample is how many normal snapshots Validate re-scores.
const holdoutSample = 20

// Catalog owns the model version lifecycle:
// trained -> validated -> deployed -> superseded | rolled_back -> archived.
// Exactly one version per camera may be deployed at a time; the store
// enforces that with a partial unique index and Catalog enforces the legal
// transitions above it.
type Catalog struct {
	store       storage.Store
	blobs       ArtifactSource
	sanityBound float64
}

func New(store storage.Store, blobs ArtifactSource, sanityBound float64) *Catalog {
	return &Catalog{
		store:       store,
		blobs:       blobs,
		sanityBound: sanityBound,
	}
}

var validTransitions = map[models.ModelState][]models.ModelState{
	models.ModelStateTrained:    {models.ModelStateValidated, models.ModelStateArchived},
	models.ModelStateValidated:  {models.ModelStateDeployed, models.ModelStateArchived},
	models.ModelStateDeployed:   {models.ModelStateSuperseded, models.ModelStateRolledBack},
	models.ModelStateSuperseded: {models.ModelStateDeployed, models.ModelStateArchived},
	models.ModelStateRolledBack: {models.ModelStateArchived},
}

func transitionAllowed(from, to models.ModelState) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Validate re-scores a holdout sample of normal snapshots through the stored
// artifact and promotes the version to validated when the mean reconstruction
// error stays under the sanity bound. Artifact integrity (checksum, weight
// shapes) is checked first.
func (c *Catalog) Validate(ctx context.Context, modelID uuid.UUID) error {
	mv, err := c.store.GetModelVersion(ctx, modelID)
	if err != nil {
		return fmt.Errorf("get model version: %w", err)
	}
	if mv == nil {
		return fmt.Errorf("model version %s not found", modelID)
	}
	if !transitionAllowed(mv.State, models.ModelStateValidated) {
		return fmt.Errorf("%w: cannot validate model in state %s", faults.ErrValidationFailed, mv.State)
	}

	artifact, err := c.blobs.Get(ctx, mv.ArtifactKey)
	if err != nil {
		return fmt.Errorf("%w: fetch artifact: %v", faults.ErrValidationFailed, err)
	}
	if got := vision.Checksum(artifact); got != mv.Checksum {
		return fmt.Errorf("%w: artifact checksum mismatch (have %s, want %s)", faults.ErrValidationFailed, got, mv.Checksum)
	}

	ae, err := vision.UnmarshalAutoencoder(artifact)
	if err != nil {
		return fmt.Errorf("%w: %v", faults.ErrValidationFailed, err)
	}

	mean, scored, err := c.holdoutError(ctx, mv, ae)
	if err != nil {
		return err
	}
	if scored == 0 {
		return fmt.Errorf("%w: no holdout snapshots could be scored", faults.ErrValidationFailed)
	}
	if mean > c.sanityBound {
		return fmt.Errorf("%w: holdout error %.4f exceeds sanity bound %.4f", faults.ErrValidationFailed, mean, c.sanityBound)
	}

	if err := c.store.SetModelState(ctx, modelID, models.ModelStateValidated); err != nil {
		return fmt.Errorf("set model state: %w", err)
	}

	slog.Info("model validated",
		"model", modelID, "camera", mv.CameraID,
		"holdout_error", mean, "holdout_frames", scored)
	return nil
}

func (c *Catalog) holdoutError(ctx context.Context, mv *models.ModelVersion, scorer vision.FrameScorer) (float64, int, error) {
	ds, err := c.store.LatestClosedDataset(ctx, mv.CameraID)
	if err != nil {
		return 0, 0, fmt.Errorf("latest dataset: %w", err)
	}
	if ds == nil {
		return 0, 0, fmt.Errorf("%w: camera %s has no closed dataset", faults.ErrValidationFailed, mv.CameraID)
	}

	snaps, err := c.store.ListSnapshots(ctx, ds.ID, models.LabelNormal)
	if err != nil {
		return 0, 0, fmt.Errorf("list snapshots: %w", err)
	}
	if len(snaps) > holdoutSample {
		snaps = snaps[len(snaps)-holdoutSample:]
	}

	var sum float64
	scored := 0
	for _, snap := range snaps {
		data, err := c.blobs.Get(ctx, snap.BlobKey)
		if err != nil {
			slog.Warn("skip holdout snapshot", "snapshot", snap.ID, "error", err)
			continue
		}
		img, err := vision.DecodeImage(data)
		if err != nil {
			slog.Warn("skip undecodable holdout snapshot", "snapshot", snap.ID, "error", err)
			continue
		}
		score, err := scorer.Score(vision.FrameVector(img, mv.Preprocessing))
		if err != nil {
			return 0, 0, fmt.Errorf("%w: score holdout frame: %v", faults.ErrValidationFailed, err)
		}
		sum += score
		scored++
	}
	if scored == 0 {
		return 0, 0, nil
	}
	return sum / float64(scored), scored, nil
}

// Deploy promotes a validated version to deployed and supersedes the camera's
// previous deployed version in one transaction. The returned version is the
// superseded one (nil on first deployment). Artifact delivery to the edge is
// the distributor's job; Deploy only moves catalog state.
func (c *Catalog) Deploy(ctx context.Context, cameraID, modelID uuid.UUID) (*models.ModelVersion, error) {
	mv, err := c.store.GetModelVersion(ctx, modelID)
	if err != nil {
		return nil, fmt.Errorf("get model version: %w", err)
	}
	if mv == nil {
		return nil, fmt.Errorf("model version %s not found", modelID)
	}
	if mv.CameraID != cameraID {
		return nil, fmt.Errorf("model %s belongs to camera %s, not %s", modelID, mv.CameraID, cameraID)
	}
	if !transitionAllowed(mv.State, models.ModelStateDeployed) {
		return nil, fmt.Errorf("%w: cannot deploy model in state %s", faults.ErrDeploymentFailed, mv.State)
	}

	prior, err := c.store.PromoteDeployed(ctx, cameraID, modelID)
	if err != nil {
		return nil, fmt.Errorf("promote deployed: %w", err)
	}

	if err := c.store.SetCameraDeployment(ctx, cameraID, &modelID, mv.Threshold, models.CameraHealthDetecting); err != nil {
		return nil, fmt.Errorf("update camera deployment: %w", err)
	}

	slog.Info("model deployed", "model", modelID, "camera", cameraID,
		"superseded", prior != nil)
	return prior, nil
}

// Rollback re-promotes the camera's most recently superseded version and
// marks the currently deployed one rolled_back.
func (c *Catalog) Rollback(ctx context.Context, cameraID uuid.UUID) (*models.ModelVersion, error) {
	prev, err := c.store.LatestSuperseded(ctx, cameraID)
	if err != nil {
		return nil, fmt.Errorf("latest superseded: %w", err)
	}
	if prev == nil {
		return nil, fmt.Errorf("%w: camera %s has no superseded version to roll back to", faults.ErrDeploymentFailed, cameraID)
	}

	current, err := c.store.DeployedModel(ctx, cameraID)
	if err != nil {
		return nil, fmt.Errorf("deployed model: %w", err)
	}

	if _, err := c.store.PromoteDeployed(ctx, cameraID, prev.ID); err != nil {
		return nil, fmt.Errorf("promote rollback target: %w", err)
	}
	if current != nil {
		// PromoteDeployed marked it superseded; rollback is its own terminal
		// branch in the lifecycle.
		if err := c.store.SetModelState(ctx, current.ID, models.ModelStateRolledBack); err != nil {
			return nil, fmt.Errorf("mark rolled back: %w", err)
		}
	}

	if err := c.store.SetCameraDeployment(ctx, cameraID, &prev.ID, prev.Threshold, models.CameraHealthDetecting); err != nil {
		return nil, fmt.Errorf("update camera deployment: %w", err)
	}

	slog.Info("model rolled back", "camera", cameraID, "restored", prev.ID)
	return prev, nil
}

// Archive retires a version that is no longer deployed.
func (c *Catalog) Archive(ctx context.Context, modelID uuid.UUID) error {
	mv, err := c.store.GetModelVersion(ctx, modelID)
	if err != nil {
		return fmt.Errorf("get model version: %w", err)
	}
	if mv == nil {
		return fmt.Errorf("model version %s not found", modelID)
	}
	if !transitionAllowed(mv.State, models.ModelStateArchived) {
		return fmt.Errorf("cannot archive model in state %s", mv.State)
	}
	if err := c.store.SetModelState(ctx, modelID, models.ModelStateArchived); err != nil {
		return fmt.Errorf("set model state: %w", err)
	}
	slog.Info("model archived", "model", modelID, "camera", mv.CameraID, "age", time.Since(mv.CreatedAt).Round(time.Second))
	return nil
}
