package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/your-org/sentinel/internal/config"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/storage"
)

const (
	highConfidence = 0.8
	largeGroupSize = 3
)

// Scorer finalizes draft verdicts: a monotonic map of anomaly type,
// detection confidence and correlation-group size to a risk level, damped by
// recent operator false-positive feedback. false_positive itself is reserved
// for operator feedback and never assigned here.
type Scorer struct {
	store storage.Store
	cfg   config.ScoringConfig
}

func NewScorer(store storage.Store, cfg config.ScoringConfig) *Scorer {
	return &Scorer{store: store, cfg: cfg}
}

// Score assigns the risk level and final explanation.
func (s *Scorer) Score(ctx context.Context, ev *models.Event, draft *models.AnomalyVerdict) (*models.AnomalyVerdict, error) {
	severity := baseSeverity(draft.AnomalyType)
	if severity > 0 {
		if draft.Confidence >= highConfidence {
			severity++
		}
		if len(draft.CorrelatedEvents)+1 >= largeGroupSize {
			severity++
		}
	}

	// Cameras with a recent history of operator-confirmed false positives
	// get demoted one level; confirmed threats escalate one.
	since := time.Now().Add(-s.cfg.FeedbackWindow)
	fp, err := s.store.CountFeedback(ctx, ev.CameraID, models.FeedbackFalsePositive, since)
	if err != nil {
		return nil, fmt.Errorf("count false-positive feedback: %w", err)
	}
	confirmed, err := s.store.CountFeedback(ctx, ev.CameraID, models.FeedbackConfirmedThreat, since)
	if err != nil {
		return nil, fmt.Errorf("count confirmed-threat feedback: %w", err)
	}
	if fp >= s.cfg.FalsePositiveDamp && severity > 0 {
		severity--
	}
	if confirmed >= s.cfg.FalsePositiveDamp && severity > 0 {
		severity++
	}

	draft.RiskLevel = riskFor(severity)
	draft.Explanation = explain(draft)
	return draft, nil
}

func baseSeverity(t models.AnomalyType) int {
	switch t {
	case models.AnomalyNewObject, models.AnomalyMissingObject, models.AnomalyAbnormalTime:
		return 2
	case models.AnomalyAbnormalCount, models.AnomalyUnusualPath, models.AnomalyUnusualDwell:
		return 1
	default:
		return 0
	}
}

// riskFor is monotonic: severity never maps to a lower level than a smaller
// severity would.
func riskFor(severity int) models.RiskLevel {
	switch {
	case severity >= 3:
		return models.RiskCritical
	case severity == 2:
		return models.RiskWarning
	default:
		return models.RiskNormal
	}
}

func explain(v *models.AnomalyVerdict) string {
	out := fmt.Sprintf("%s: %s", v.AnomalyType, v.Explanation)
	if n := len(v.CorrelatedEvents); n > 0 {
		out += fmt.Sprintf(" (%d related events on this camera)", n)
	}
	if v.Degraded {
		out += " [detection degraded]"
	}
	return out
}
