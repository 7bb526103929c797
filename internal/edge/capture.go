package edge

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/sentinel/internal/config"
)

// FrameSink accepts captured frames. Satisfied by *Engine.
type FrameSink interface {
	SubmitFrame(f Frame) bool
}

// Spool feeds the engine from a frame spool directory: the capture process
// (ffmpeg or the camera vendor agent) drops JPEG frames into
// <dir>/<camera-id>/, named by capture time in unix nanoseconds. Files are
// consumed oldest-first and removed after a successful hand-off, so the
// directory doubles as the backlog when the engine is busy.
type Spool struct {
	dir  string
	sink FrameSink
	cfg  config.EdgeConfig
}

func NewSpool(dir string, sink FrameSink, cfg config.EdgeConfig) *Spool {
	return &Spool{dir: dir, sink: sink, cfg: cfg}
}

// Run polls the spool at the frame interval until the context ends.
func (s *Spool) Run(ctx context.Context, cameraID uuid.UUID) {
	camDir := filepath.Join(s.dir, cameraID.String())
	ticker := time.NewTicker(s.cfg.FrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.drain(camDir, cameraID)
		}
	}
}

func (s *Spool) drain(camDir string, cameraID uuid.UUID) {
	entries, err := os.ReadDir(camDir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("read frame spool", "dir", camDir, "error", err)
		}
		return
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jpg") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(camDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("read spooled frame", "path", path, "error", err)
			continue
		}

		ok := s.sink.SubmitFrame(Frame{
			CameraID:   cameraID,
			CapturedAt: frameTime(path, name),
			Data:       data,
		})
		if !ok {
			// Engine backlog full; leave the rest for the next tick.
			return
		}
		if err := os.Remove(path); err != nil {
			slog.Warn("remove spooled frame", "path", path, "error", err)
		}
	}
}

// frameTime parses the capture timestamp from the <unixnano>.jpg filename,
// falling back to the file's modification time.
func frameTime(path, name string) time.Time {
	base := strings.TrimSuffix(name, ".jpg")
	if ns, err := strconv.ParseInt(base, 10, 64); err == nil && ns > 0 {
		return time.Unix(0, ns)
	}
	if info, err := os.Stat(path); err == nil {
		return info.ModTime()
	}
	return time.Now()
}
