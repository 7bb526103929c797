package analysis

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/sentinel/internal/config"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/storage"
)

func testAnalysisConfig() config.AnalysisConfig {
	cfg := config.Default().Analysis
	cfg.MinClipCoverage = 10 * time.Second
	cfg.CountDeviationFactor = 2.0
	cfg.CorrelationWindow = 5 * time.Minute
	return cfg
}

// dayBaseline profiles a camera that normally sees 1-2 people 08:00-20:00.
func dayBaseline(cameraID uuid.UUID) *models.BaselineInventory {
	return &models.BaselineInventory{
		ID:       uuid.New(),
		CameraID: cameraID,
		Version:  1,
		Profiles: []models.ObjectProfile{
			{
				Class:       "person",
				MinCount:    1,
				MaxCount:    2,
				Frequency:   1.0,
				GridCells:   []int{5, 6},
				HourWindows: []models.HourWindow{{Start: 8, End: 20}},
			},
		},
	}
}

func eventAt(cameraID uuid.UUID, hour int, coverage time.Duration) *models.Event {
	triggered := time.Date(2026, 8, 20, hour, 14, 0, 0, time.UTC)
	return &models.Event{
		ID:          uuid.New(),
		CameraID:    cameraID,
		TriggeredAt: triggered,
		Score:       0.3,
		FrameKey:    "events/x/frame.jpg",
		ClipStart:   triggered.Add(-coverage / 2),
		ClipEnd:     triggered.Add(coverage / 2),
		Status:      models.EventStatusReceived,
	}
}

func detectionOf(objects ...models.DetectedObject) *models.DetectionResult {
	return &models.DetectionResult{Objects: objects}
}

func person(conf float32) models.DetectedObject {
	return models.DetectedObject{Class: "person", Confidence: conf, BBox: [4]float32{0.4, 0.4, 0.6, 0.9}}
}

func TestReasonRulePrecedence(t *testing.T) {
	camID := uuid.New()
	baseline := dayBaseline(camID)
	store := storage.NewMemoryStore()
	r := NewReasoner(store, testAnalysisConfig())
	ctx := context.Background()

	cases := []struct {
		name     string
		hour     int
		coverage time.Duration
		det      *models.DetectionResult
		want     models.AnomalyType
	}{
		{
			name: "unknown class is new_object",
			hour: 12, coverage: 12 * time.Second,
			det:  detectionOf(person(0.9), models.DetectedObject{Class: "car", Confidence: 0.85, BBox: [4]float32{0.1, 0.5, 0.4, 0.9}}),
			want: models.AnomalyNewObject,
		},
		{
			name: "expected class absent with coverage is missing_object",
			hour: 12, coverage: 12 * time.Second,
			det:  detectionOf(),
			want: models.AnomalyMissingObject,
		},
		{
			name: "expected class absent without coverage is none",
			hour: 12, coverage: 2 * time.Second,
			det:  detectionOf(),
			want: models.AnomalyNone,
		},
		{
			name: "count beyond deviation factor is abnormal_count",
			hour: 12, coverage: 12 * time.Second,
			det:  detectionOf(person(0.9), person(0.8), person(0.8), person(0.7), person(0.7)),
			want: models.AnomalyAbnormalCount,
		},
		{
			name: "known class outside hour windows is abnormal_time",
			hour: 2, coverage: 2 * time.Second,
			det:  detectionOf(person(0.9)),
			want: models.AnomalyAbnormalTime,
		},
		{
			name: "in-profile detection is none",
			hour: 12, coverage: 12 * time.Second,
			det:  detectionOf(person(0.9)),
			want: models.AnomalyNone,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := eventAt(camID, tc.hour, tc.coverage)
			verdict, err := r.Reason(ctx, ev, tc.det, baseline)
			if err != nil {
				t.Fatal(err)
			}
			if verdict.AnomalyType != tc.want {
				t.Fatalf("anomaly type = %s, want %s (%s)", verdict.AnomalyType, tc.want, verdict.Explanation)
			}
		})
	}
}

func TestReasonAbnormalCountBelowBaselineMinimum(t *testing.T) {
	camID := uuid.New()
	// A busy lobby: 4-6 people expected during working hours.
	baseline := &models.BaselineInventory{
		ID:       uuid.New(),
		CameraID: camID,
		Version:  1,
		Profiles: []models.ObjectProfile{
			{
				Class:       "person",
				MinCount:    4,
				MaxCount:    6,
				Frequency:   1.0,
				HourWindows: []models.HourWindow{{Start: 8, End: 20}},
			},
		},
	}
	r := NewReasoner(storage.NewMemoryStore(), testAnalysisConfig())
	ctx := context.Background()
	ev := eventAt(camID, 12, 12*time.Second)

	// One person where at least four are expected: below MinCount by more
	// than the deviation factor allows.
	verdict, err := r.Reason(ctx, ev, detectionOf(person(0.9)), baseline)
	if err != nil {
		t.Fatal(err)
	}
	if verdict.AnomalyType != models.AnomalyAbnormalCount {
		t.Fatalf("anomaly type = %s (%s)", verdict.AnomalyType, verdict.Explanation)
	}

	// Two people is within factor 2 of the minimum: in profile.
	verdict, err = r.Reason(ctx, ev, detectionOf(person(0.9), person(0.8)), baseline)
	if err != nil {
		t.Fatal(err)
	}
	if verdict.AnomalyType != models.AnomalyNone {
		t.Fatalf("anomaly type = %s (%s)", verdict.AnomalyType, verdict.Explanation)
	}
}

func TestReasonNewObjectSupersetProperty(t *testing.T) {
	camID := uuid.New()
	baseline := dayBaseline(camID)
	r := NewReasoner(storage.NewMemoryStore(), testAnalysisConfig())
	ctx := context.Background()
	ev := eventAt(camID, 12, 12*time.Second)

	withCar := detectionOf(person(0.9), models.DetectedObject{Class: "car", Confidence: 0.8})
	verdict, err := r.Reason(ctx, ev, withCar, baseline)
	if err != nil {
		t.Fatal(err)
	}
	if verdict.AnomalyType != models.AnomalyNewObject {
		t.Fatalf("with car: %s", verdict.AnomalyType)
	}

	withoutCar := detectionOf(person(0.9))
	verdict, err = r.Reason(ctx, ev, withoutCar, baseline)
	if err != nil {
		t.Fatal(err)
	}
	if verdict.AnomalyType != models.AnomalyNone {
		t.Fatalf("without car: %s", verdict.AnomalyType)
	}
}

func TestReasonWithoutBaseline(t *testing.T) {
	camID := uuid.New()
	r := NewReasoner(storage.NewMemoryStore(), testAnalysisConfig())

	ev := eventAt(camID, 12, 12*time.Second)
	verdict, err := r.Reason(context.Background(), ev, detectionOf(person(0.9)), nil)
	if err != nil {
		t.Fatal(err)
	}
	if verdict.AnomalyType != models.AnomalyNone {
		t.Fatalf("anomaly type = %s", verdict.AnomalyType)
	}
	if !strings.Contains(verdict.Explanation, "no baseline") {
		t.Fatalf("explanation = %q", verdict.Explanation)
	}
}

func TestReasonDegradedCapsConfidence(t *testing.T) {
	camID := uuid.New()
	r := NewReasoner(storage.NewMemoryStore(), testAnalysisConfig())

	ev := eventAt(camID, 12, 12*time.Second)
	det := &models.DetectionResult{Degraded: true}
	verdict, err := r.Reason(context.Background(), ev, det, dayBaseline(camID))
	if err != nil {
		t.Fatal(err)
	}
	if !verdict.Degraded {
		t.Fatal("degraded flag lost")
	}
	if verdict.Confidence > degradedConfidence {
		t.Fatalf("confidence %v above degraded cap", verdict.Confidence)
	}
}

func TestReasonCorrelatesSameTypeEvents(t *testing.T) {
	camID := uuid.New()
	store := storage.NewMemoryStore()
	r := NewReasoner(store, testAnalysisConfig())
	ctx := context.Background()

	ev := eventAt(camID, 2, 2*time.Second)

	// Two earlier abnormal_time events on the same camera inside the window.
	var priorIDs []uuid.UUID
	for i := 1; i <= 2; i++ {
		prior := eventAt(camID, 2, 2*time.Second)
		prior.TriggeredAt = ev.TriggeredAt.Add(-time.Duration(i) * time.Minute)
		if _, err := store.InsertEvent(ctx, prior); err != nil {
			t.Fatal(err)
		}
		if err := store.InsertVerdict(ctx, &models.AnomalyVerdict{
			EventID:     prior.ID,
			AnomalyType: models.AnomalyAbnormalTime,
			RiskLevel:   models.RiskWarning,
		}); err != nil {
			t.Fatal(err)
		}
		priorIDs = append(priorIDs, prior.ID)
	}

	// An old one outside the window must not correlate.
	stale := eventAt(camID, 2, 2*time.Second)
	stale.TriggeredAt = ev.TriggeredAt.Add(-time.Hour)
	if _, err := store.InsertEvent(ctx, stale); err != nil {
		t.Fatal(err)
	}
	if err := store.InsertVerdict(ctx, &models.AnomalyVerdict{
		EventID:     stale.ID,
		AnomalyType: models.AnomalyAbnormalTime,
		RiskLevel:   models.RiskWarning,
	}); err != nil {
		t.Fatal(err)
	}

	verdict, err := r.Reason(ctx, ev, detectionOf(person(0.9)), dayBaseline(camID))
	if err != nil {
		t.Fatal(err)
	}
	if verdict.AnomalyType != models.AnomalyAbnormalTime {
		t.Fatalf("anomaly type = %s", verdict.AnomalyType)
	}
	if len(verdict.CorrelatedEvents) != 2 {
		t.Fatalf("correlated = %v, want %v", verdict.CorrelatedEvents, priorIDs)
	}
	for _, id := range verdict.CorrelatedEvents {
		if id == stale.ID {
			t.Fatal("stale event correlated")
		}
		if id == ev.ID {
			t.Fatal("event correlated with itself")
		}
	}
}
