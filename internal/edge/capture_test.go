package edge

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/sentinel/internal/config"
)

type spoolSink struct {
	frames   []Frame
	capacity int // SubmitFrame returns false once len(frames) reaches this
}

func (f *spoolSink) SubmitFrame(frame Frame) bool {
	if f.capacity > 0 && len(f.frames) >= f.capacity {
		return false
	}
	f.frames = append(f.frames, frame)
	return true
}

func writeFrame(t *testing.T, camDir string, capturedAt time.Time, payload byte) string {
	t.Helper()
	name := fmt.Sprintf("%d.jpg", capturedAt.UnixNano())
	if err := os.WriteFile(filepath.Join(camDir, name), []byte{payload}, 0o644); err != nil {
		t.Fatal(err)
	}
	return name
}

func TestSpoolDrainOrderAndCleanup(t *testing.T) {
	dir := t.TempDir()
	camID := uuid.New()
	camDir := filepath.Join(dir, camID.String())
	if err := os.MkdirAll(camDir, 0o755); err != nil {
		t.Fatal(err)
	}

	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	// Written out of order; the spool must consume oldest-first.
	writeFrame(t, camDir, base.Add(2*time.Second), 2)
	writeFrame(t, camDir, base, 0)
	writeFrame(t, camDir, base.Add(time.Second), 1)
	// Non-frame files are ignored.
	if err := os.WriteFile(filepath.Join(camDir, "manifest.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	sink := &spoolSink{}
	spool := NewSpool(dir, sink, config.Default().Edge)
	spool.drain(camDir, camID)

	if len(sink.frames) != 3 {
		t.Fatalf("submitted %d frames, want 3", len(sink.frames))
	}
	for i, f := range sink.frames {
		want := base.Add(time.Duration(i) * time.Second)
		if !f.CapturedAt.Equal(want) {
			t.Fatalf("frame %d captured at %v, want %v", i, f.CapturedAt, want)
		}
		if f.CameraID != camID {
			t.Fatalf("frame %d camera = %v", i, f.CameraID)
		}
		if len(f.Data) != 1 || f.Data[0] != byte(i) {
			t.Fatalf("frame %d payload = %v", i, f.Data)
		}
	}

	entries, err := os.ReadDir(camDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "manifest.json" {
		t.Fatalf("spool after drain: %v, want only manifest.json", entries)
	}
}

func TestSpoolBacklogStopsDrain(t *testing.T) {
	dir := t.TempDir()
	camID := uuid.New()
	camDir := filepath.Join(dir, camID.String())
	if err := os.MkdirAll(camDir, 0o755); err != nil {
		t.Fatal(err)
	}

	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		writeFrame(t, camDir, base.Add(time.Duration(i)*time.Second), byte(i))
	}

	sink := &spoolSink{capacity: 2}
	spool := NewSpool(dir, sink, config.Default().Edge)
	spool.drain(camDir, camID)

	if len(sink.frames) != 2 {
		t.Fatalf("submitted %d frames, want 2", len(sink.frames))
	}
	entries, err := os.ReadDir(camDir)
	if err != nil {
		t.Fatal(err)
	}
	// Two handed off and removed, three left for the next tick.
	if len(entries) != 3 {
		t.Fatalf("%d frames left in spool, want 3", len(entries))
	}

	// Next drain picks up where it stopped.
	sink.capacity = 0
	spool.drain(camDir, camID)
	if len(sink.frames) != 5 {
		t.Fatalf("submitted %d frames after second drain, want 5", len(sink.frames))
	}
	if !sink.frames[2].CapturedAt.Equal(base.Add(2 * time.Second)) {
		t.Fatalf("resume point = %v", sink.frames[2].CapturedAt)
	}

	entries, _ = os.ReadDir(camDir)
	if len(entries) != 0 {
		t.Fatalf("%d frames left after full drain, want 0", len(entries))
	}
}

func TestFrameTimeFallsBackToModTime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "not-a-timestamp.jpg")
	if err := os.WriteFile(path, []byte{0}, 0o644); err != nil {
		t.Fatal(err)
	}

	got := frameTime(path, "not-a-timestamp.jpg")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(info.ModTime()) {
		t.Fatalf("frameTime = %v, want mod time %v", got, info.ModTime())
	}
}
