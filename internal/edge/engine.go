package edge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/sentinel/internal/config"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/observability"
	"github.com/your-org/sentinel/internal/vision"
)

// Publisher is the edge's channel back to the VM. Satisfied by
// *queue.Producer.
type Publisher interface {
	PublishEventSubmission(ctx context.Context, edgeID string, sub interface{}) error
	PublishDeployAck(transferID string, data []byte) error
	PublishEdgeHealth(data []byte) error
}

// BlobSink uploads frames and clips. Satisfied by *storage.BlobStore.
type BlobSink interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// activeModel is the immutable per-camera inference state; swapped whole via
// atomic.Value so the scoring goroutine never sees mixed parameters.
type activeModel struct {
	versionID uuid.UUID
	scorer    *vision.Autoencoder
	threshold float64
	prep      models.Preprocessing
}

// Engine runs edge-side inference: one goroutine per camera consuming frames
// in capture order, a ring buffer for pre/post event clips, and hot model
// swaps driven by deployment messages.
type Engine struct {
	edgeID string
	cfg    config.EdgeConfig
	blobs  BlobSink
	pub    Publisher

	mu        sync.Mutex
	cameras   map[uuid.UUID]*cameraRunner
	transfers map[uuid.UUID]*transfer
	cache     map[uuid.UUID][]byte // artifact bytes by model version id
}

func NewEngine(edgeID string, cfg config.EdgeConfig, blobs BlobSink, pub Publisher) *Engine {
	return &Engine{
		edgeID:    edgeID,
		cfg:       cfg,
		blobs:     blobs,
		pub:       pub,
		cameras:   make(map[uuid.UUID]*cameraRunner),
		transfers: make(map[uuid.UUID]*transfer),
		cache:     make(map[uuid.UUID][]byte),
	}
}

type cameraRunner struct {
	cameraID uuid.UUID
	engine   *Engine
	frames   chan Frame
	active   atomic.Value // *activeModel, nil sentinel never stored
	ring     *frameRing
	pending  []pendingEvent
	done     chan struct{}
}

type pendingEvent struct {
	sub      models.EventSubmission
	frame    []byte
	deadline time.Time
}

// AddCamera registers a camera and starts its scoring goroutine. Idempotent.
func (e *Engine) AddCamera(cameraID uuid.UUID) *cameraRunner {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.cameras[cameraID]; ok {
		return r
	}

	interval := e.cfg.FrameInterval
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ringCap := int((e.cfg.PreBuffer + e.cfg.PostBuffer) / interval)
	r := &cameraRunner{
		cameraID: cameraID,
		engine:   e,
		frames:   make(chan Frame, 64),
		ring:     newFrameRing(ringCap + 8),
		done:     make(chan struct{}),
	}
	e.cameras[cameraID] = r
	go r.run()
	slog.Info("camera registered", "camera", cameraID, "ring_capacity", ringCap+8)
	return r
}

// SubmitFrame queues a frame for its camera. Frames for unknown cameras
// register the camera in passthrough mode. Returns false when the camera's
// queue is full and the frame was dropped.
func (e *Engine) SubmitFrame(f Frame) bool {
	r := e.AddCamera(f.CameraID)
	select {
	case r.frames <- f:
		return true
	default:
		return false
	}
}

// Stop drains all camera goroutines.
func (e *Engine) Stop() {
	e.mu.Lock()
	runners := make([]*cameraRunner, 0, len(e.cameras))
	for _, r := range e.cameras {
		runners = append(runners, r)
	}
	e.mu.Unlock()

	for _, r := range runners {
		close(r.frames)
		<-r.done
	}
}

func (r *cameraRunner) run() {
	defer close(r.done)
	cameraLabel := r.cameraID.String()

	for f := range r.frames {
		r.ring.push(f)
		r.flushPending(f.CapturedAt)

		model, _ := r.active.Load().(*activeModel)
		if model == nil {
			// Passthrough: no detection without a deployed model.
			continue
		}

		start := time.Now()
		img, err := vision.DecodeImage(f.Data)
		if err != nil {
			slog.Warn("drop undecodable frame", "camera", r.cameraID, "error", err)
			continue
		}
		vec := vision.FrameVector(img, model.prep)
		score, err := model.scorer.Score(vec)
		if err != nil {
			slog.Error("score frame", "camera", r.cameraID, "error", err)
			continue
		}
		observability.FramesScored.WithLabelValues(cameraLabel).Inc()
		observability.InferenceDuration.WithLabelValues("edge_score").Observe(time.Since(start).Seconds())

		if score > model.threshold {
			r.trigger(f, model, score, model.scorer.Encode(vec))
		}
	}

	// Final flush: submit pending events with whatever clip coverage exists.
	r.flushPending(time.Now().Add(r.engine.cfg.PostBuffer))
}

// trigger records a pending event; the clip is finalized once the
// post-buffer window has been captured.
func (r *cameraRunner) trigger(f Frame, model *activeModel, score float64, latent []float32) {
	eventID := uuid.New()
	sub := models.EventSubmission{
		EventID:        eventID,
		CameraID:       r.cameraID,
		EdgeID:         r.engine.edgeID,
		TriggeredAt:    f.CapturedAt,
		ModelVersionID: model.versionID,
		Score:          score,
		FrameKey:       fmt.Sprintf("events/%s/frame.jpg", eventID),
		ClipKey:        fmt.Sprintf("events/%s/clip.mjpeg", eventID),
		ClipStart:      f.CapturedAt.Add(-r.engine.cfg.PreBuffer),
		ClipEnd:        f.CapturedAt.Add(r.engine.cfg.PostBuffer),
		SceneVector:    latent,
	}
	r.pending = append(r.pending, pendingEvent{
		sub:      sub,
		frame:    f.Data,
		deadline: sub.ClipEnd,
	})
	slog.Info("anomaly trigger", "camera", r.cameraID, "event", eventID,
		"score", score, "threshold", model.threshold)
}

// flushPending submits events whose post-buffer window has elapsed.
func (r *cameraRunner) flushPending(now time.Time) {
	kept := r.pending[:0]
	for _, p := range r.pending {
		if p.deadline.After(now) {
			kept = append(kept, p)
			continue
		}
		r.submit(p)
	}
	r.pending = kept
}

func (r *cameraRunner) submit(p pendingEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.engine.blobs.Put(ctx, p.sub.FrameKey, p.frame, "image/jpeg"); err != nil {
		slog.Error("upload event frame", "event", p.sub.EventID, "error", err)
		return
	}

	clipFrames := r.ring.window(p.sub.ClipStart, p.sub.ClipEnd)
	if len(clipFrames) > 0 {
		var clip []byte
		for _, cf := range clipFrames {
			clip = append(clip, cf.Data...)
		}
		// Trim the declared window to what the ring actually held.
		p.sub.ClipStart = clipFrames[0].CapturedAt
		p.sub.ClipEnd = clipFrames[len(clipFrames)-1].CapturedAt
		if err := r.engine.blobs.Put(ctx, p.sub.ClipKey, clip, "video/x-motion-jpeg"); err != nil {
			slog.Error("upload event clip", "event", p.sub.EventID, "error", err)
			p.sub.ClipKey = ""
		}
	} else {
		p.sub.ClipKey = ""
		p.sub.ClipStart = p.sub.TriggeredAt
		p.sub.ClipEnd = p.sub.TriggeredAt
	}

	if err := r.engine.pub.PublishEventSubmission(ctx, r.engine.edgeID, p.sub); err != nil {
		slog.Error("publish event", "event", p.sub.EventID, "error", err)
		return
	}
	observability.EventsEmitted.WithLabelValues(r.cameraID.String()).Inc()
}

// ActiveModelID returns the camera's live model version, if any.
func (e *Engine) ActiveModelID(cameraID uuid.UUID) *uuid.UUID {
	e.mu.Lock()
	r, ok := e.cameras[cameraID]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	model, _ := r.active.Load().(*activeModel)
	if model == nil {
		return nil
	}
	id := model.versionID
	return &id
}

// HealthReport snapshots per-camera health for the periodic sync.
func (e *Engine) HealthReport() models.EdgeHealth {
	e.mu.Lock()
	defer e.mu.Unlock()

	report := models.EdgeHealth{
		EdgeID:    e.edgeID,
		Timestamp: time.Now(),
	}
	for id, r := range e.cameras {
		info := models.CameraHealthInfo{CameraID: id, Health: models.CameraHealthNoModel}
		if model, _ := r.active.Load().(*activeModel); model != nil {
			mid := model.versionID
			info.Health = models.CameraHealthDetecting
			info.ActiveModelID = &mid
		}
		report.Cameras = append(report.Cameras, info)
	}
	return report
}

// RunHealthSync publishes the health report every cfg.Edge.HealthSync until
// the context ends.
func (e *Engine) RunHealthSync(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.HealthSync)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			data, err := json.Marshal(e.HealthReport())
			if err != nil {
				slog.Error("marshal health report", "error", err)
				continue
			}
			if err := e.pub.PublishEdgeHealth(data); err != nil {
				slog.Warn("publish health report", "error", err)
			}
		}
	}
}
