package analysis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/your-org/sentinel/internal/faults"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/observability"
	"github.com/your-org/sentinel/internal/storage"
)

// VerdictPublisher broadcasts finalized verdicts. Satisfied by
// *queue.Producer.
type VerdictPublisher interface {
	PublishVerdict(ctx context.Context, cameraID string, verdict interface{}) error
}

// Pipeline is the worker-side event path: deep analysis, reasoning, scoring,
// verdict persistence, broadcast. One task per accepted event; re-delivery
// of an already-analyzed event is a no-op.
type Pipeline struct {
	store    storage.Store
	analyzer *DeepAnalyzer
	reasoner *Reasoner
	scorer   *Scorer
	builder  *Builder
	pub      VerdictPublisher
}

func NewPipeline(store storage.Store, analyzer *DeepAnalyzer, reasoner *Reasoner, scorer *Scorer, builder *Builder, pub VerdictPublisher) *Pipeline {
	return &Pipeline{
		store:    store,
		analyzer: analyzer,
		reasoner: reasoner,
		scorer:   scorer,
		builder:  builder,
		pub:      pub,
	}
}

// HandleEvent runs one event through the full analysis path. The event
// always reaches analyzed, degraded or not.
func (p *Pipeline) HandleEvent(ctx context.Context, task models.AnalysisTask) error {
	ev, err := p.store.GetEvent(ctx, task.EventID)
	if err != nil {
		return fmt.Errorf("get event: %w", err)
	}
	if ev == nil {
		slog.Warn("analysis task references unknown event", "event", task.EventID)
		return nil
	}
	if ev.Status == models.EventStatusAnalyzed {
		slog.Debug("event already analyzed", "event", ev.ID)
		return nil
	}

	if err := p.store.SetEventStatus(ctx, ev.ID, models.EventStatusAnalyzing); err != nil {
		return fmt.Errorf("mark analyzing: %w", err)
	}

	det, detErr := p.analyzer.Analyze(ctx, ev)
	if detErr != nil {
		// Degrade, don't fail: the event still reaches analyzed.
		slog.Warn("deep analysis degraded",
			"event", ev.ID, "reason", faults.Reason(detErr), "error", detErr)
	}

	baseline, err := p.store.LatestBaseline(ctx, ev.CameraID)
	if err != nil {
		return fmt.Errorf("latest baseline: %w", err)
	}

	draft, err := p.reasoner.Reason(ctx, ev, det, baseline)
	if err != nil {
		return fmt.Errorf("reason: %w", err)
	}
	verdict, err := p.scorer.Score(ctx, ev, draft)
	if err != nil {
		return fmt.Errorf("score: %w", err)
	}

	if err := p.store.InsertVerdict(ctx, verdict); err != nil {
		return fmt.Errorf("insert verdict: %w", err)
	}
	if err := p.store.SetEventStatus(ctx, ev.ID, models.EventStatusAnalyzed); err != nil {
		return fmt.Errorf("mark analyzed: %w", err)
	}

	observability.EventsAnalyzed.WithLabelValues(string(verdict.AnomalyType)).Inc()
	slog.Info("event analyzed",
		"event", ev.ID, "camera", ev.CameraID,
		"anomaly_type", verdict.AnomalyType, "risk", verdict.RiskLevel,
		"degraded", verdict.Degraded, "correlated", len(verdict.CorrelatedEvents))

	if err := p.pub.PublishVerdict(ctx, ev.CameraID.String(), verdict); err != nil {
		// The verdict is durable; the live broadcast is best-effort.
		slog.Warn("publish verdict", "event", ev.ID, "error", err)
	}
	return nil
}

// HandleBaseline rebuilds a camera's inventory when a dataset close made it
// worthwhile.
func (p *Pipeline) HandleBaseline(ctx context.Context, task models.BaselineTask) error {
	ds, err := p.store.GetDataset(ctx, task.DatasetID)
	if err != nil {
		return fmt.Errorf("get dataset: %w", err)
	}
	if ds == nil {
		slog.Warn("baseline task references unknown dataset", "dataset", task.DatasetID)
		return nil
	}

	rebuild, err := p.builder.ShouldRebuild(ctx, task.CameraID, ds)
	if err != nil {
		return err
	}
	if !rebuild {
		slog.Info("baseline rebuild skipped, dataset not materially larger",
			"camera", task.CameraID, "dataset", task.DatasetID)
		return nil
	}

	if _, err := p.builder.Rebuild(ctx, task.CameraID, task.DatasetID); err != nil {
		return fmt.Errorf("rebuild baseline: %w", err)
	}
	return nil
}
