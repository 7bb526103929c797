package distribution

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/sentinel/internal/catalog"
	"github.com/your-org/sentinel/internal/config"
	"github.com/your-org/sentinel/internal/faults"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/observability"
	"github.com/your-org/sentinel/internal/storage"
	"github.com/your-org/sentinel/internal/vision"
)

// Transport moves deployment messages between VM and edge. Satisfied by
// *queue.Producer.
type Transport interface {
	PublishDeploy(ctx context.Context, edgeID string, msg interface{}) error
	AwaitDeployAck(ctx context.Context, transferID string, timeout time.Duration) ([]byte, error)
}

// Distributor streams model artifacts to edges in checksummed chunks and
// finalizes catalog state only after the edge confirms activation. A failed
// transfer never touches the currently deployed version.
type Distributor struct {
	store storage.Store
	blobs catalog.ArtifactSource
	cat   *catalog.Catalog
	tr    Transport
	cfg   config.DistributionConfig
}

func New(store storage.Store, blobs catalog.ArtifactSource, cat *catalog.Catalog, tr Transport, cfg config.DistributionConfig) *Distributor {
	return &Distributor{
		store: store,
		blobs: blobs,
		cat:   cat,
		tr:    tr,
		cfg:   cfg,
	}
}

// Deploy transfers a validated model to the edge serving the camera and, on
// a positive ack, promotes it in the catalog. Retries with bounded
// exponential backoff; exhausting attempts reports DeploymentFailed and the
// prior model stays active on both sides.
func (d *Distributor) Deploy(ctx context.Context, cameraID, modelID uuid.UUID, edgeID string) error {
	mv, err := d.store.GetModelVersion(ctx, modelID)
	if err != nil {
		return fmt.Errorf("get model version: %w", err)
	}
	if mv == nil {
		return fmt.Errorf("model version %s not found", modelID)
	}
	if mv.State != models.ModelStateValidated {
		return fmt.Errorf("%w: model %s is %s, want validated", faults.ErrDeploymentFailed, modelID, mv.State)
	}

	artifact, err := d.blobs.Get(ctx, mv.ArtifactKey)
	if err != nil {
		return fmt.Errorf("fetch artifact: %w", err)
	}
	if got := vision.Checksum(artifact); got != mv.Checksum {
		return fmt.Errorf("%w: artifact corrupted in blob store (checksum %s, want %s)", faults.ErrDeploymentFailed, got, mv.Checksum)
	}

	chunks := chunkArtifact(artifact, d.cfg.ChunkSize)

	ack, err := d.transfer(ctx, edgeID, mv, artifact, chunks, false)
	if err != nil {
		observability.DeploymentAttempts.WithLabelValues("failure").Inc()
		if herr := d.store.SetCameraHealth(ctx, cameraID, models.CameraHealthDegraded, time.Now()); herr != nil {
			slog.Error("mark camera degraded", "camera", cameraID, "error", herr)
		}
		return err
	}

	if _, err := d.cat.Deploy(ctx, cameraID, modelID); err != nil {
		return fmt.Errorf("promote after ack: %w", err)
	}

	observability.DeploymentAttempts.WithLabelValues("success").Inc()
	slog.Info("model distributed", "camera", cameraID, "model", modelID,
		"edge", edgeID, "transfer", ack.TransferID, "chunks", len(chunks))
	return nil
}

// Rollback asks the edge to reactivate the camera's previously superseded
// version, preferring its cached artifact. If the edge no longer holds the
// artifact the transfer is repeated with chunks.
func (d *Distributor) Rollback(ctx context.Context, cameraID uuid.UUID, edgeID string) error {
	prev, err := d.store.LatestSuperseded(ctx, cameraID)
	if err != nil {
		return fmt.Errorf("latest superseded: %w", err)
	}
	if prev == nil {
		return fmt.Errorf("%w: camera %s has nothing to roll back to", faults.ErrDeploymentFailed, cameraID)
	}

	// Cache-only first: no chunks, the edge activates from local storage.
	ack, err := d.transfer(ctx, edgeID, prev, nil, nil, true)
	if err != nil {
		artifact, gerr := d.blobs.Get(ctx, prev.ArtifactKey)
		if gerr != nil {
			return fmt.Errorf("fetch rollback artifact: %w", gerr)
		}
		chunks := chunkArtifact(artifact, d.cfg.ChunkSize)
		ack, err = d.transfer(ctx, edgeID, prev, artifact, chunks, true)
		if err != nil {
			observability.DeploymentAttempts.WithLabelValues("failure").Inc()
			return err
		}
	}

	if _, err := d.cat.Rollback(ctx, cameraID); err != nil {
		return fmt.Errorf("catalog rollback after ack: %w", err)
	}

	observability.DeploymentAttempts.WithLabelValues("success").Inc()
	slog.Info("model rolled back on edge", "camera", cameraID, "model", prev.ID,
		"edge", edgeID, "transfer", ack.TransferID)
	return nil
}

// transfer pushes one manifest (+ chunks) per attempt and waits for the ack.
func (d *Distributor) transfer(ctx context.Context, edgeID string, mv *models.ModelVersion, artifact []byte, chunks [][]byte, rollback bool) (*models.DeployAck, error) {
	backoff := d.cfg.InitialBackoff
	var lastReason string

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		transferID := uuid.New()
		manifest := models.DeployManifest{
			TransferID:     transferID,
			CameraID:       mv.CameraID,
			ModelVersionID: mv.ID,
			Threshold:      mv.Threshold,
			Preprocessing:  mv.Preprocessing,
			Checksum:       mv.Checksum,
			SizeBytes:      len(artifact),
			ChunkCount:     len(chunks),
			Rollback:       rollback,
		}

		err := d.sendTransfer(ctx, edgeID, transferID, manifest, chunks)
		if err == nil {
			var ack *models.DeployAck
			ack, err = d.awaitAck(ctx, transferID)
			if err == nil {
				if ack.OK {
					return ack, nil
				}
				err = fmt.Errorf("edge refused activation: %s", ack.Reason)
			}
		}
		lastReason = err.Error()

		observability.DeploymentAttempts.WithLabelValues("retry").Inc()
		slog.Warn("deployment attempt failed",
			"edge", edgeID, "model", mv.ID, "attempt", attempt,
			"max_attempts", d.cfg.MaxAttempts, "error", err)

		if attempt == d.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > d.cfg.MaxBackoff {
			backoff = d.cfg.MaxBackoff
		}
	}

	return nil, fmt.Errorf("%w: model %s to edge %s after %d attempts: %s",
		faults.ErrDeploymentFailed, mv.ID, edgeID, d.cfg.MaxAttempts, lastReason)
}

func (d *Distributor) sendTransfer(ctx context.Context, edgeID string, transferID uuid.UUID, manifest models.DeployManifest, chunks [][]byte) error {
	if err := d.tr.PublishDeploy(ctx, edgeID, models.DeployMessage{Manifest: &manifest}); err != nil {
		return fmt.Errorf("publish manifest: %w", err)
	}
	for i, data := range chunks {
		chunk := models.DeployChunk{TransferID: transferID, Index: i, Data: data}
		if err := d.tr.PublishDeploy(ctx, edgeID, models.DeployMessage{Chunk: &chunk}); err != nil {
			return fmt.Errorf("publish chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}
	return nil
}

func (d *Distributor) awaitAck(ctx context.Context, transferID uuid.UUID) (*models.DeployAck, error) {
	data, err := d.tr.AwaitDeployAck(ctx, transferID.String(), d.cfg.AckTimeout)
	if err != nil {
		return nil, err
	}
	ack := &models.DeployAck{}
	if err := json.Unmarshal(data, ack); err != nil {
		return nil, fmt.Errorf("decode ack: %w", err)
	}
	return ack, nil
}

func chunkArtifact(data []byte, size int) [][]byte {
	if size <= 0 {
		size = 512 * 1024
	}
	var chunks [][]byte
	for len(data) > 0 {
		n := size
		if n > len(data) {
			n = len(data)
		}
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return chunks
}
