package edge

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/sentinel/internal/config"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/vision"
)

type fakePub struct {
	mu     sync.Mutex
	subs   []models.EventSubmission
	acks   []models.DeployAck
	health [][]byte
}

func (f *fakePub) PublishEventSubmission(_ context.Context, _ string, sub interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, sub.(models.EventSubmission))
	return nil
}

func (f *fakePub) PublishDeployAck(_ string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ack := models.DeployAck{}
	if err := json.Unmarshal(data, &ack); err != nil {
		return err
	}
	f.acks = append(f.acks, ack)
	return nil
}

func (f *fakePub) PublishEdgeHealth(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.health = append(f.health, data)
	return nil
}

func (f *fakePub) submissions() []models.EventSubmission {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.EventSubmission, len(f.subs))
	copy(out, f.subs)
	return out
}

func (f *fakePub) lastAck(t *testing.T) models.DeployAck {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.acks) == 0 {
		t.Fatal("no deploy ack published")
	}
	return f.acks[len(f.acks)-1]
}

type fakeSink struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeSink() *fakeSink {
	return &fakeSink{objects: make(map[string][]byte)}
}

func (f *fakeSink) Put(_ context.Context, key string, data []byte, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakeSink) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

func testEdgeConfig() config.EdgeConfig {
	return config.EdgeConfig{
		ID:            "edge-test",
		PreBuffer:     2 * time.Second,
		PostBuffer:    2 * time.Second,
		FrameInterval: 200 * time.Millisecond,
		HealthSync:    time.Second,
	}
}

func frameJPEG(gradient bool) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			v := uint8(128)
			if gradient {
				v = uint8(x * 8)
			}
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return vision.EncodeJPEG(img, 90)
}

const testInputSize = 8

// deployModel streams a fresh artifact to the engine in two chunks and
// returns the manifest used.
func deployModel(t *testing.T, e *Engine, cameraID uuid.UUID, threshold float64) models.DeployManifest {
	t.Helper()
	ae := vision.NewAutoencoder(testInputSize*testInputSize, 4, rand.New(rand.NewSource(21)))
	artifact, err := ae.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	return deployArtifact(t, e, cameraID, threshold, artifact, vision.Checksum(artifact))
}

func deployArtifact(t *testing.T, e *Engine, cameraID uuid.UUID, threshold float64, artifact []byte, checksum string) models.DeployManifest {
	t.Helper()
	half := len(artifact) / 2
	m := models.DeployManifest{
		TransferID:     uuid.New(),
		CameraID:       cameraID,
		ModelVersionID: uuid.New(),
		Threshold:      threshold,
		Preprocessing:  models.Preprocessing{InputSize: testInputSize, Mean: 128, Std: 64},
		Checksum:       checksum,
		SizeBytes:      len(artifact),
		ChunkCount:     2,
	}
	ctx := context.Background()
	if err := e.HandleDeploy(ctx, models.DeployMessage{Manifest: &m}); err != nil {
		t.Fatal(err)
	}
	for i, data := range [][]byte{artifact[:half], artifact[half:]} {
		chunk := models.DeployChunk{TransferID: m.TransferID, Index: i, Data: data}
		if err := e.HandleDeploy(ctx, models.DeployMessage{Chunk: &chunk}); err != nil {
			t.Fatal(err)
		}
	}
	return m
}

func TestEngineEmitsEventAboveThreshold(t *testing.T) {
	pub := &fakePub{}
	sink := newFakeSink()
	e := NewEngine("edge-test", testEdgeConfig(), sink, pub)
	camID := uuid.New()

	m := deployModel(t, e, camID, 1e-6)
	if ack := pub.lastAck(t); !ack.OK {
		t.Fatalf("deploy refused: %s", ack.Reason)
	}

	base := time.Now().Add(-time.Minute)
	frames := []struct {
		offset   time.Duration
		gradient bool
	}{
		{-1 * time.Second, false},
		{-500 * time.Millisecond, false},
		{0, true}, // trigger
		{1 * time.Second, false},
		{2500 * time.Millisecond, false}, // past post-buffer, flushes the event
	}
	for _, f := range frames {
		if !e.SubmitFrame(Frame{CameraID: camID, CapturedAt: base.Add(f.offset), Data: frameJPEG(f.gradient)}) {
			t.Fatal("frame dropped")
		}
	}
	e.Stop()

	subs := pub.submissions()
	if len(subs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(subs))
	}
	sub := subs[0]
	if sub.CameraID != camID || sub.ModelVersionID != m.ModelVersionID {
		t.Fatalf("submission mismatch: %+v", sub)
	}
	if sub.Score <= 1e-6 {
		t.Fatalf("score %v not above threshold", sub.Score)
	}
	if len(sub.SceneVector) != 4 {
		t.Fatalf("scene vector length = %d", len(sub.SceneVector))
	}
	if !sub.TriggeredAt.Equal(base) {
		t.Fatalf("triggered at %v, want %v", sub.TriggeredAt, base)
	}
	if !sink.has(sub.FrameKey) {
		t.Fatal("frame blob not uploaded")
	}
	if sub.ClipKey == "" || !sink.has(sub.ClipKey) {
		t.Fatal("clip blob not uploaded")
	}
	if !sub.ClipStart.Before(sub.TriggeredAt) || !sub.ClipEnd.After(sub.TriggeredAt) {
		t.Fatalf("clip window [%v, %v] does not span trigger %v", sub.ClipStart, sub.ClipEnd, sub.TriggeredAt)
	}
}

func TestEngineNormalFramesStayQuiet(t *testing.T) {
	pub := &fakePub{}
	e := NewEngine("edge-test", testEdgeConfig(), newFakeSink(), pub)
	camID := uuid.New()
	deployModel(t, e, camID, 1e-6)

	base := time.Now().Add(-time.Minute)
	for i := 0; i < 10; i++ {
		e.SubmitFrame(Frame{CameraID: camID, CapturedAt: base.Add(time.Duration(i) * 200 * time.Millisecond), Data: frameJPEG(false)})
	}
	e.Stop()

	if subs := pub.submissions(); len(subs) != 0 {
		t.Fatalf("expected no events, got %d", len(subs))
	}
}

// A zero-value config must not blow up camera registration: the ring sizing
// falls back to the default frame interval.
func TestAddCameraZeroConfig(t *testing.T) {
	e := NewEngine("edge-test", config.EdgeConfig{}, newFakeSink(), &fakePub{})

	r := e.AddCamera(uuid.New())
	if r == nil {
		t.Fatal("no runner returned")
	}
	e.Stop()
}

func TestEnginePassthroughWithoutModel(t *testing.T) {
	pub := &fakePub{}
	e := NewEngine("edge-test", testEdgeConfig(), newFakeSink(), pub)
	camID := uuid.New()

	base := time.Now().Add(-time.Minute)
	for i := 0; i < 5; i++ {
		e.SubmitFrame(Frame{CameraID: camID, CapturedAt: base.Add(time.Duration(i) * time.Second), Data: frameJPEG(true)})
	}

	report := e.HealthReport()
	if len(report.Cameras) != 1 {
		t.Fatalf("health cameras = %d", len(report.Cameras))
	}
	if report.Cameras[0].Health != models.CameraHealthNoModel {
		t.Fatalf("health = %s", report.Cameras[0].Health)
	}
	e.Stop()

	if subs := pub.submissions(); len(subs) != 0 {
		t.Fatalf("passthrough emitted %d events", len(subs))
	}
}

func TestDeployChecksumMismatchRefused(t *testing.T) {
	pub := &fakePub{}
	e := NewEngine("edge-test", testEdgeConfig(), newFakeSink(), pub)
	camID := uuid.New()

	ae := vision.NewAutoencoder(testInputSize*testInputSize, 4, rand.New(rand.NewSource(1)))
	artifact, _ := ae.Marshal()
	deployArtifact(t, e, camID, 0.1, artifact, "deadbeef")

	ack := pub.lastAck(t)
	if ack.OK {
		t.Fatal("corrupt transfer must be refused")
	}
	if e.ActiveModelID(camID) != nil {
		t.Fatal("refused transfer must not activate")
	}
	e.Stop()
}

func TestFailedDeployKeepsLastKnownGood(t *testing.T) {
	pub := &fakePub{}
	e := NewEngine("edge-test", testEdgeConfig(), newFakeSink(), pub)
	camID := uuid.New()

	good := deployModel(t, e, camID, 0.1)
	if ack := pub.lastAck(t); !ack.OK {
		t.Fatalf("good deploy refused: %s", ack.Reason)
	}

	bad := []byte("{not an artifact")
	deployArtifact(t, e, camID, 0.1, bad, vision.Checksum(bad))
	if ack := pub.lastAck(t); ack.OK {
		t.Fatal("invalid artifact must be refused")
	}

	active := e.ActiveModelID(camID)
	if active == nil || *active != good.ModelVersionID {
		t.Fatalf("active model = %v, want %s", active, good.ModelVersionID)
	}
	e.Stop()
}

func TestRollbackFromCache(t *testing.T) {
	pub := &fakePub{}
	e := NewEngine("edge-test", testEdgeConfig(), newFakeSink(), pub)
	camID := uuid.New()

	v1 := deployModel(t, e, camID, 0.1)
	v2 := deployModel(t, e, camID, 0.2)
	if active := e.ActiveModelID(camID); active == nil || *active != v2.ModelVersionID {
		t.Fatalf("active = %v, want v2", active)
	}

	rollback := models.DeployManifest{
		TransferID:     uuid.New(),
		CameraID:       camID,
		ModelVersionID: v1.ModelVersionID,
		Threshold:      v1.Threshold,
		Preprocessing:  v1.Preprocessing,
		Checksum:       v1.Checksum,
		Rollback:       true,
	}
	if err := e.HandleDeploy(context.Background(), models.DeployMessage{Manifest: &rollback}); err != nil {
		t.Fatal(err)
	}

	ack := pub.lastAck(t)
	if !ack.OK {
		t.Fatalf("cache rollback refused: %s", ack.Reason)
	}
	if active := e.ActiveModelID(camID); active == nil || *active != v1.ModelVersionID {
		t.Fatalf("active = %v, want v1", active)
	}
	e.Stop()
}

func TestRollbackCacheMissRefused(t *testing.T) {
	pub := &fakePub{}
	e := NewEngine("edge-test", testEdgeConfig(), newFakeSink(), pub)

	rollback := models.DeployManifest{
		TransferID:     uuid.New(),
		CameraID:       uuid.New(),
		ModelVersionID: uuid.New(),
		Rollback:       true,
	}
	if err := e.HandleDeploy(context.Background(), models.DeployMessage{Manifest: &rollback}); err != nil {
		t.Fatal(err)
	}

	ack := pub.lastAck(t)
	if ack.OK {
		t.Fatal("cache miss must be refused so the VM re-streams")
	}
	if ack.Reason != "artifact not cached" {
		t.Fatalf("reason = %q", ack.Reason)
	}
	e.Stop()
}

func TestFrameRingWindow(t *testing.T) {
	r := newFrameRing(4)
	base := time.Now()
	for i := 0; i < 6; i++ {
		r.push(Frame{CapturedAt: base.Add(time.Duration(i) * time.Second), Data: []byte(fmt.Sprintf("f%d", i))})
	}
	if r.len() != 4 {
		t.Fatalf("ring len = %d", r.len())
	}

	// Frames 0 and 1 were evicted; window [1s, 4s] holds frames 2..4.
	got := r.window(base.Add(time.Second), base.Add(4*time.Second))
	if len(got) != 3 {
		t.Fatalf("window size = %d", len(got))
	}
	if string(got[0].Data) != "f2" || string(got[2].Data) != "f4" {
		t.Fatalf("window order wrong: %s..%s", got[0].Data, got[2].Data)
	}
}
