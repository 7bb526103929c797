package edge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/vision"
)

// transfer accumulates chunks for one in-flight deployment.
type transfer struct {
	manifest models.DeployManifest
	chunks   [][]byte
	received int
}

// HandleDeploy processes one message from the deploy subject. A manifest
// opens (or, for cache rollbacks, completes) a transfer; chunks fill it.
// The current model keeps scoring until the replacement passes checksum and
// shape validation, so a bad transfer never degrades a camera.
func (e *Engine) HandleDeploy(ctx context.Context, msg models.DeployMessage) error {
	switch {
	case msg.Manifest != nil:
		return e.handleManifest(ctx, *msg.Manifest)
	case msg.Chunk != nil:
		return e.handleChunk(ctx, *msg.Chunk)
	default:
		return fmt.Errorf("deploy message carries neither manifest nor chunk")
	}
}

func (e *Engine) handleManifest(_ context.Context, m models.DeployManifest) error {
	if m.Rollback && m.ChunkCount == 0 {
		e.mu.Lock()
		artifact, cached := e.cache[m.ModelVersionID]
		e.mu.Unlock()
		if !cached {
			e.ack(m, false, "artifact not cached")
			return nil
		}
		if err := e.activate(m, artifact); err != nil {
			e.ack(m, false, err.Error())
			return nil
		}
		e.ack(m, true, "")
		slog.Info("rollback activated from cache", "camera", m.CameraID, "model", m.ModelVersionID)
		return nil
	}

	if m.ChunkCount <= 0 {
		e.ack(m, false, "manifest without chunks")
		return nil
	}

	e.mu.Lock()
	e.transfers[m.TransferID] = &transfer{
		manifest: m,
		chunks:   make([][]byte, m.ChunkCount),
	}
	e.mu.Unlock()

	slog.Info("transfer opened", "transfer", m.TransferID, "camera", m.CameraID,
		"model", m.ModelVersionID, "chunks", m.ChunkCount, "bytes", m.SizeBytes)
	return nil
}

func (e *Engine) handleChunk(_ context.Context, c models.DeployChunk) error {
	e.mu.Lock()
	tr, ok := e.transfers[c.TransferID]
	if !ok {
		e.mu.Unlock()
		slog.Warn("chunk for unknown transfer", "transfer", c.TransferID, "index", c.Index)
		return nil
	}
	if c.Index < 0 || c.Index >= len(tr.chunks) {
		e.mu.Unlock()
		return fmt.Errorf("chunk index %d out of range for transfer %s", c.Index, c.TransferID)
	}
	if tr.chunks[c.Index] == nil {
		tr.chunks[c.Index] = c.Data
		tr.received++
	}
	complete := tr.received == len(tr.chunks)
	if complete {
		delete(e.transfers, c.TransferID)
	}
	e.mu.Unlock()

	if !complete {
		return nil
	}
	return e.completeTransfer(tr)
}

func (e *Engine) completeTransfer(tr *transfer) error {
	var artifact []byte
	for _, chunk := range tr.chunks {
		artifact = append(artifact, chunk...)
	}

	m := tr.manifest
	if got := vision.Checksum(artifact); got != m.Checksum {
		e.ack(m, false, fmt.Sprintf("checksum mismatch: %s", got))
		return nil
	}
	if err := e.activate(m, artifact); err != nil {
		e.ack(m, false, err.Error())
		return nil
	}

	e.mu.Lock()
	e.cache[m.ModelVersionID] = artifact
	e.mu.Unlock()

	e.ack(m, true, "")
	slog.Info("model activated", "camera", m.CameraID, "model", m.ModelVersionID,
		"rollback", m.Rollback)
	return nil
}

// activate validates the artifact against the manifest's preprocessing and
// swaps it in. The previous model stays live on any failure.
func (e *Engine) activate(m models.DeployManifest, artifact []byte) error {
	ae, err := vision.UnmarshalAutoencoder(artifact)
	if err != nil {
		return fmt.Errorf("artifact validation: %w", err)
	}
	wantDim := m.Preprocessing.InputSize * m.Preprocessing.InputSize
	if ae.InputDim != wantDim {
		return fmt.Errorf("artifact input dim %d does not match preprocessing %dx%d",
			ae.InputDim, m.Preprocessing.InputSize, m.Preprocessing.InputSize)
	}

	r := e.AddCamera(m.CameraID)
	r.active.Store(&activeModel{
		versionID: m.ModelVersionID,
		scorer:    ae,
		threshold: m.Threshold,
		prep:      m.Preprocessing,
	})
	return nil
}

func (e *Engine) ack(m models.DeployManifest, ok bool, reason string) {
	ack := models.DeployAck{
		TransferID:     m.TransferID,
		CameraID:       m.CameraID,
		ModelVersionID: m.ModelVersionID,
		OK:             ok,
		Reason:         reason,
	}
	data, err := json.Marshal(ack)
	if err != nil {
		slog.Error("marshal deploy ack", "transfer", m.TransferID, "error", err)
		return
	}
	if err := e.pub.PublishDeployAck(m.TransferID.String(), data); err != nil {
		slog.Error("publish deploy ack", "transfer", m.TransferID, "error", err)
	}
}
