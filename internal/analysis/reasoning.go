package analysis

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/your-org/sentinel/internal/config"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/storage"
)

// expectedFrequency is the baseline frequency above which a class counts as
// "expected" for the missing-object rule.
const expectedFrequency = 0.8

// degradedConfidence caps verdict confidence when detection was degraded.
const degradedConfidence = 0.2

// Reasoner turns a detection result plus the camera baseline into a draft
// verdict. Rules are evaluated in a fixed precedence order; the first match
// wins:
//
//  1. class in event, absent from baseline          -> new_object
//  2. class expected for this hour, absent in event -> missing_object
//     (needs enough clip coverage to call it absent)
//  3. count outside baseline range x deviation      -> abnormal_count
//  4. event hour outside the class's hour windows   -> abnormal_time
//  5. otherwise                                     -> none
type Reasoner struct {
	store storage.Store
	cfg   config.AnalysisConfig
}

func NewReasoner(store storage.Store, cfg config.AnalysisConfig) *Reasoner {
	return &Reasoner{store: store, cfg: cfg}
}

// Reason produces the draft verdict: anomaly type, confidence, evidence text
// and correlated event ids. Risk level is assigned later by the scorer.
func (r *Reasoner) Reason(ctx context.Context, ev *models.Event, det *models.DetectionResult, baseline *models.BaselineInventory) (*models.AnomalyVerdict, error) {
	draft := &models.AnomalyVerdict{
		EventID:  ev.ID,
		Score:    ev.Score,
		Degraded: det.Degraded,
	}

	anomalyType, confidence, evidence := r.classify(ev, det, baseline)
	draft.AnomalyType = anomalyType
	draft.Confidence = confidence
	draft.Explanation = evidence
	if det.Degraded && draft.Confidence > degradedConfidence {
		draft.Confidence = degradedConfidence
	}

	if anomalyType != models.AnomalyNone {
		since := ev.TriggeredAt.Add(-r.cfg.CorrelationWindow)
		members, err := r.store.CorrelatedEvents(ctx, ev.CameraID, anomalyType, since)
		if err != nil {
			return nil, fmt.Errorf("correlated events: %w", err)
		}
		for _, id := range members {
			if id != ev.ID {
				draft.CorrelatedEvents = append(draft.CorrelatedEvents, id)
			}
		}
	}

	return draft, nil
}

func (r *Reasoner) classify(ev *models.Event, det *models.DetectionResult, baseline *models.BaselineInventory) (models.AnomalyType, float32, string) {
	hour := ev.TriggeredAt.Hour()

	if baseline == nil || len(baseline.Profiles) == 0 {
		return models.AnomalyNone, 0.3, "no baseline inventory for this camera"
	}

	counts := det.CountByClass()
	classes := make([]string, 0, len(counts))
	for class := range counts {
		classes = append(classes, class)
	}
	sort.Strings(classes)

	// Rule 1: new object.
	for _, class := range classes {
		if baseline.Profile(class) == nil {
			return models.AnomalyNewObject, classConfidence(det, class),
				fmt.Sprintf("%s detected at %s, never observed in this camera's baseline",
					class, ev.TriggeredAt.Format("15:04"))
		}
	}

	// Rule 2: missing object, gated on clip coverage.
	if ev.ClipCoverage() >= r.cfg.MinClipCoverage {
		for _, p := range baseline.Profiles {
			if p.Frequency < expectedFrequency {
				continue
			}
			if !hourInWindows(hour, p.HourWindows) {
				continue
			}
			if counts[p.Class] == 0 {
				return models.AnomalyMissingObject, float32(p.Frequency),
					fmt.Sprintf("%s expected (baseline frequency %.0f%%, hours %s) but absent across %s of clip",
						p.Class, p.Frequency*100, formatWindows(p.HourWindows), ev.ClipCoverage())
			}
		}
	}

	// Rule 3: abnormal count, in either direction. Complete absence belongs
	// to rule 2; the lower bound catches a present-but-depleted class.
	for _, class := range classes {
		p := baseline.Profile(class)
		count := counts[class]
		upper := int(float64(p.MaxCount) * r.cfg.CountDeviationFactor)
		if count > upper || float64(count)*r.cfg.CountDeviationFactor < float64(p.MinCount) {
			return models.AnomalyAbnormalCount, classConfidence(det, class),
				fmt.Sprintf("%d %s detected, baseline range %d-%d",
					count, class, p.MinCount, p.MaxCount)
		}
	}

	// Rule 4: abnormal time.
	for _, class := range classes {
		p := baseline.Profile(class)
		if len(p.HourWindows) == 0 || hourInWindows(hour, p.HourWindows) {
			continue
		}
		return models.AnomalyAbnormalTime, classConfidence(det, class),
			fmt.Sprintf("%s present %s, only observed %s in baseline",
				class, ev.TriggeredAt.Format("15:04"), formatWindows(p.HourWindows))
	}

	// Rule 5: edge-level anomaly only.
	return models.AnomalyNone, 0.3,
		fmt.Sprintf("edge reconstruction error %.4f exceeded threshold, no baseline deviation found", ev.Score)
}

func classConfidence(det *models.DetectionResult, class string) float32 {
	var best float32
	for _, obj := range det.Objects {
		if obj.Class == class && obj.Confidence > best {
			best = obj.Confidence
		}
	}
	return best
}

func hourInWindows(hour int, windows []models.HourWindow) bool {
	for _, w := range windows {
		if w.Contains(hour) {
			return true
		}
	}
	return false
}

func formatWindows(windows []models.HourWindow) string {
	parts := make([]string, 0, len(windows))
	for _, w := range windows {
		parts = append(parts, fmt.Sprintf("%02d:00-%02d:59", w.Start, w.End))
	}
	return strings.Join(parts, ", ")
}
