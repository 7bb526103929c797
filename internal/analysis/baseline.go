package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/your-org/sentinel/internal/config"
	"github.com/your-org/sentinel/internal/faults"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/storage"
	"github.com/your-org/sentinel/internal/vision"
)

// Builder derives per-camera baseline inventories from normal snapshots:
// which object classes appear, how many at a time, where in the frame, and
// during which hours. Each rebuild writes a new version.
type Builder struct {
	store    storage.Store
	blobs    BlobGetter
	detector vision.ObjectDetector
	cfg      config.AnalysisConfig
}

func NewBuilder(store storage.Store, blobs BlobGetter, detector vision.ObjectDetector, cfg config.AnalysisConfig) *Builder {
	return &Builder{
		store:    store,
		blobs:    blobs,
		detector: detector,
		cfg:      cfg,
	}
}

// classStats accumulates observations for one class across snapshots.
type classStats struct {
	present   int
	minCount  int
	maxCount  int
	gridCells map[int]bool
	hours     [24]bool
}

// Rebuild runs the detector over the dataset's normal snapshots and writes
// the next inventory version for the camera.
func (b *Builder) Rebuild(ctx context.Context, cameraID, datasetID uuid.UUID) (*models.BaselineInventory, error) {
	snaps, err := b.store.ListSnapshots(ctx, datasetID, models.LabelNormal)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	if len(snaps) == 0 {
		return nil, fmt.Errorf("%w: dataset %s has no normal snapshots", faults.ErrInsufficientData, datasetID)
	}

	stats := make(map[string]*classStats)
	analyzed := 0

	for _, snap := range snaps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := b.blobs.Get(ctx, snap.BlobKey)
		if err != nil {
			slog.Warn("skip unreadable snapshot", "snapshot", snap.ID, "error", err)
			continue
		}
		img, err := vision.DecodeImage(data)
		if err != nil {
			slog.Warn("skip undecodable snapshot", "snapshot", snap.ID, "error", err)
			continue
		}
		objects, err := b.detector.Detect(ctx, img)
		if err != nil {
			slog.Warn("detector failed on snapshot", "snapshot", snap.ID, "error", err)
			continue
		}
		analyzed++
		b.accumulate(stats, objects, snap.CapturedAt.Hour())
	}

	if analyzed == 0 {
		return nil, fmt.Errorf("%w: no snapshot in dataset %s could be analyzed", faults.ErrInsufficientData, datasetID)
	}

	inventory := &models.BaselineInventory{
		ID:        uuid.New(),
		CameraID:  cameraID,
		DatasetID: datasetID,
		Profiles:  buildProfiles(stats, analyzed),
	}
	if err := b.store.CreateBaseline(ctx, inventory); err != nil {
		return nil, fmt.Errorf("create baseline: %w", err)
	}

	slog.Info("baseline rebuilt", "camera", cameraID, "dataset", datasetID,
		"version", inventory.Version, "classes", len(inventory.Profiles), "snapshots", analyzed)
	return inventory, nil
}

func (b *Builder) accumulate(stats map[string]*classStats, objects []models.DetectedObject, hour int) {
	counts := make(map[string]int)
	for _, obj := range objects {
		counts[obj.Class]++
	}
	for class, count := range counts {
		st, ok := stats[class]
		if !ok {
			st = &classStats{minCount: count, maxCount: count, gridCells: make(map[int]bool)}
			stats[class] = st
		}
		st.present++
		if count < st.minCount {
			st.minCount = count
		}
		if count > st.maxCount {
			st.maxCount = count
		}
		st.hours[hour] = true
	}
	for _, obj := range objects {
		stats[obj.Class].gridCells[b.gridCell(obj.BBox)] = true
	}
}

// gridCell maps a normalized bbox center to a cell index in a
// GridSize x GridSize grid, row-major.
func (b *Builder) gridCell(bbox [4]float32) int {
	g := b.cfg.GridSize
	cx := (bbox[0] + bbox[2]) / 2
	cy := (bbox[1] + bbox[3]) / 2
	col := int(cx * float32(g))
	row := int(cy * float32(g))
	if col >= g {
		col = g - 1
	}
	if row >= g {
		row = g - 1
	}
	return row*g + col
}

func buildProfiles(stats map[string]*classStats, analyzed int) []models.ObjectProfile {
	profiles := make([]models.ObjectProfile, 0, len(stats))
	for class, st := range stats {
		cells := make([]int, 0, len(st.gridCells))
		for cell := range st.gridCells {
			cells = append(cells, cell)
		}
		sort.Ints(cells)
		profiles = append(profiles, models.ObjectProfile{
			Class:       class,
			MinCount:    st.minCount,
			MaxCount:    st.maxCount,
			Frequency:   float64(st.present) / float64(analyzed),
			GridCells:   cells,
			HourWindows: hourWindows(st.hours),
		})
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Class < profiles[j].Class })
	return profiles
}

// hourWindows compresses a seen-hours bitmap into contiguous windows,
// merging across midnight when both ends are covered.
func hourWindows(hours [24]bool) []models.HourWindow {
	var windows []models.HourWindow
	for h := 0; h < 24; h++ {
		if !hours[h] {
			continue
		}
		if len(windows) > 0 && windows[len(windows)-1].End == h-1 {
			windows[len(windows)-1].End = h
		} else {
			windows = append(windows, models.HourWindow{Start: h, End: h})
		}
	}
	if len(windows) > 1 {
		first := windows[0]
		last := windows[len(windows)-1]
		if first.Start == 0 && last.End == 23 {
			windows = windows[:len(windows)-1]
			windows[0] = models.HourWindow{Start: last.Start, End: first.End}
		}
	}
	return windows
}

// ShouldRebuild reports whether a freshly closed dataset is materially
// larger than the one the camera's latest baseline was built from.
func (b *Builder) ShouldRebuild(ctx context.Context, cameraID uuid.UUID, ds *models.Dataset) (bool, error) {
	latest, err := b.store.LatestBaseline(ctx, cameraID)
	if err != nil {
		return false, fmt.Errorf("latest baseline: %w", err)
	}
	if latest == nil {
		return true, nil
	}

	prior, err := b.store.GetDataset(ctx, latest.DatasetID)
	if err != nil {
		return false, fmt.Errorf("get baseline dataset: %w", err)
	}
	if prior == nil {
		return true, nil
	}

	grown := float64(ds.NormalCount())
	base := float64(prior.NormalCount())
	if base == 0 {
		return grown > 0, nil
	}
	return grown >= base*(1+b.cfg.BaselineRebuildDelta), nil
}
