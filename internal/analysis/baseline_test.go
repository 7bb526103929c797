package analysis

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/sentinel/internal/faults"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/storage"
)

// scriptedDetector returns canned detections in call order.
type scriptedDetector struct {
	mu        sync.Mutex
	responses [][]models.DetectedObject
	delay     time.Duration
	err       error
}

func (d *scriptedDetector) Detect(ctx context.Context, _ image.Image) ([]models.DetectedObject, error) {
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.responses) == 0 {
		return nil, nil
	}
	out := d.responses[0]
	d.responses = d.responses[1:]
	return out, nil
}

func (d *scriptedDetector) Close() {}

type stubBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newStubBlobs() *stubBlobs {
	return &stubBlobs{objects: make(map[string][]byte)}
}

func (b *stubBlobs) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, errors.New("blob not found: " + key)
	}
	return data, nil
}

func (b *stubBlobs) put(key string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
}

func snapshotJPEG(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func obj(class string, conf float32, cx, cy float32) models.DetectedObject {
	return models.DetectedObject{
		Class:      class,
		Confidence: conf,
		BBox:       [4]float32{cx - 0.05, cy - 0.05, cx + 0.05, cy + 0.05},
	}
}

func seedBaselineDataset(t *testing.T, store *storage.MemoryStore, blobs *stubBlobs, camID uuid.UUID, hours []int) *models.Dataset {
	t.Helper()
	ctx := context.Background()
	ds := &models.Dataset{CameraID: camID, EdgeID: "edge-1"}
	if err := store.CreateDataset(ctx, ds); err != nil {
		t.Fatal(err)
	}
	for i, hour := range hours {
		key := "snapshots/" + uuid.NewString()
		blobs.put(key, snapshotJPEG(t, uint8(100+i)))
		snap := &models.LabeledSnapshot{
			DatasetID:  ds.ID,
			CameraID:   camID,
			Label:      models.LabelNormal,
			CapturedAt: time.Date(2026, 8, 20, hour, 0, 0, 0, time.UTC),
			BlobKey:    key,
		}
		if err := store.AddSnapshot(ctx, snap); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.CloseDataset(ctx, ds.ID, time.Now()); err != nil {
		t.Fatal(err)
	}
	return ds
}

func TestRebuildBuildsProfiles(t *testing.T) {
	store := storage.NewMemoryStore()
	blobs := newStubBlobs()
	camID := uuid.New()
	cfg := testAnalysisConfig()
	cfg.GridSize = 4

	ds := seedBaselineDataset(t, store, blobs, camID, []int{8, 9, 10})
	det := &scriptedDetector{responses: [][]models.DetectedObject{
		{obj("person", 0.9, 0.5, 0.5)},
		{obj("person", 0.9, 0.5, 0.5), obj("person", 0.8, 0.2, 0.2), obj("car", 0.7, 0.9, 0.9)},
		{obj("person", 0.9, 0.5, 0.5)},
	}}

	b := NewBuilder(store, blobs, det, cfg)
	inv, err := b.Rebuild(context.Background(), camID, ds.ID)
	if err != nil {
		t.Fatal(err)
	}
	if inv.Version != 1 {
		t.Fatalf("version = %d", inv.Version)
	}
	if len(inv.Profiles) != 2 {
		t.Fatalf("profiles = %+v", inv.Profiles)
	}

	car := inv.Profiles[0]
	if car.Class != "car" {
		t.Fatalf("profiles not sorted by class: %+v", inv.Profiles)
	}
	if car.MinCount != 1 || car.MaxCount != 1 {
		t.Fatalf("car counts = %d-%d", car.MinCount, car.MaxCount)
	}
	if got := car.Frequency; got < 0.32 || got > 0.34 {
		t.Fatalf("car frequency = %v, want 1/3", got)
	}
	if len(car.HourWindows) != 1 || car.HourWindows[0] != (models.HourWindow{Start: 9, End: 9}) {
		t.Fatalf("car windows = %+v", car.HourWindows)
	}
	// Center (0.9, 0.9) on a 4x4 grid is row 3, col 3.
	if len(car.GridCells) != 1 || car.GridCells[0] != 15 {
		t.Fatalf("car cells = %v", car.GridCells)
	}

	person := inv.Profiles[1]
	if person.MinCount != 1 || person.MaxCount != 2 {
		t.Fatalf("person counts = %d-%d", person.MinCount, person.MaxCount)
	}
	if person.Frequency != 1.0 {
		t.Fatalf("person frequency = %v", person.Frequency)
	}
	if len(person.HourWindows) != 1 || person.HourWindows[0] != (models.HourWindow{Start: 8, End: 10}) {
		t.Fatalf("person windows = %+v", person.HourWindows)
	}
	// Centers (0.5, 0.5) and (0.2, 0.2) are cells 10 and 0.
	if len(person.GridCells) != 2 || person.GridCells[0] != 0 || person.GridCells[1] != 10 {
		t.Fatalf("person cells = %v", person.GridCells)
	}

	latest, err := store.LatestBaseline(context.Background(), camID)
	if err != nil {
		t.Fatal(err)
	}
	if latest == nil || latest.ID != inv.ID {
		t.Fatal("rebuilt inventory not persisted as latest")
	}
}

func TestRebuildEmptyDataset(t *testing.T) {
	store := storage.NewMemoryStore()
	camID := uuid.New()
	ds := &models.Dataset{CameraID: camID}
	if err := store.CreateDataset(context.Background(), ds); err != nil {
		t.Fatal(err)
	}

	b := NewBuilder(store, newStubBlobs(), &scriptedDetector{}, testAnalysisConfig())
	if _, err := b.Rebuild(context.Background(), camID, ds.ID); !errors.Is(err, faults.ErrInsufficientData) {
		t.Fatalf("err = %v", err)
	}
}

func TestRebuildAllSnapshotsUnreadable(t *testing.T) {
	store := storage.NewMemoryStore()
	blobs := newStubBlobs()
	camID := uuid.New()
	ds := seedBaselineDataset(t, store, blobs, camID, []int{8, 9})

	det := &scriptedDetector{err: errors.New("session crashed")}
	b := NewBuilder(store, blobs, det, testAnalysisConfig())
	if _, err := b.Rebuild(context.Background(), camID, ds.ID); !errors.Is(err, faults.ErrInsufficientData) {
		t.Fatalf("err = %v", err)
	}
}

func TestHourWindows(t *testing.T) {
	cases := []struct {
		name  string
		hours []int
		want  []models.HourWindow
	}{
		{"single run", []int{8, 9, 10}, []models.HourWindow{{Start: 8, End: 10}}},
		{"two runs", []int{8, 9, 14}, []models.HourWindow{{Start: 8, End: 9}, {Start: 14, End: 14}}},
		{"midnight wrap", []int{23, 0, 1}, []models.HourWindow{{Start: 23, End: 1}}},
		{"none", nil, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var bitmap [24]bool
			for _, h := range tc.hours {
				bitmap[h] = true
			}
			got := hourWindows(bitmap)
			if len(got) != len(tc.want) {
				t.Fatalf("windows = %+v, want %+v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("windows = %+v, want %+v", got, tc.want)
				}
			}
		})
	}
}

func TestGridCellClampsEdges(t *testing.T) {
	cfg := testAnalysisConfig()
	cfg.GridSize = 4
	b := NewBuilder(storage.NewMemoryStore(), newStubBlobs(), &scriptedDetector{}, cfg)

	if got := b.gridCell([4]float32{0.95, 0.95, 1.0, 1.0}); got != 15 {
		t.Fatalf("bottom-right cell = %d", got)
	}
	if got := b.gridCell([4]float32{0, 0, 0.05, 0.05}); got != 0 {
		t.Fatalf("top-left cell = %d", got)
	}
}

func TestShouldRebuild(t *testing.T) {
	store := storage.NewMemoryStore()
	blobs := newStubBlobs()
	camID := uuid.New()
	cfg := testAnalysisConfig()
	cfg.BaselineRebuildDelta = 0.2
	b := NewBuilder(store, blobs, &scriptedDetector{}, cfg)
	ctx := context.Background()

	mkDataset := func(normals int) *models.Dataset {
		ds := &models.Dataset{
			CameraID:    camID,
			LabelCounts: map[models.SnapshotLabel]int{models.LabelNormal: normals},
		}
		if err := store.CreateDataset(ctx, ds); err != nil {
			t.Fatal(err)
		}
		return ds
	}

	fresh := mkDataset(10)
	rebuild, err := b.ShouldRebuild(ctx, camID, fresh)
	if err != nil {
		t.Fatal(err)
	}
	if !rebuild {
		t.Fatal("first baseline should always build")
	}

	if err := store.CreateBaseline(ctx, &models.BaselineInventory{
		CameraID:  camID,
		DatasetID: fresh.ID,
	}); err != nil {
		t.Fatal(err)
	}

	rebuild, err = b.ShouldRebuild(ctx, camID, mkDataset(11))
	if err != nil {
		t.Fatal(err)
	}
	if rebuild {
		t.Fatal("11 normals over a 10-normal baseline is below the 20% delta")
	}

	rebuild, err = b.ShouldRebuild(ctx, camID, mkDataset(12))
	if err != nil {
		t.Fatal(err)
	}
	if !rebuild {
		t.Fatal("12 normals over a 10-normal baseline meets the 20% delta")
	}
}
