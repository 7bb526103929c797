package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	TrainingStreamName  = "TRAINING"
	TrainingSubjectBase = "training"
	EventsStreamName    = "EVENTS"
	EventsSubjectBase   = "events"
	AnalysisStreamName  = "ANALYSIS"
	AnalysisSubjectBase = "analysis"

	// Two task families share the ANALYSIS stream.
	AnalysisEventSubject    = AnalysisSubjectBase + ".event"
	AnalysisBaselineSubject = AnalysisSubjectBase + ".baseline"

	DeployStreamName    = "DEPLOY"
	DeploySubjectBase   = "deploy"
	VerdictsStreamName  = "VERDICTS"
	VerdictsSubjectBase = "verdicts"

	// Core NATS subjects (not JetStream): deployment acks and edge health.
	DeployAckSubjectBase = "deploy-ack"
	EdgeHealthSubject    = "edge.health"
)

type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &Producer{nc: nc, js: js}, nil
}

// EnsureStreams creates JetStream streams if they don't exist.
// Retries up to 30 times (1s apart) to handle NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	streams := []jetstream.StreamConfig{
		{
			Name:        TrainingStreamName,
			Subjects:    []string{TrainingSubjectBase + ".>"},
			Retention:   jetstream.WorkQueuePolicy,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     10000,
			Storage:     jetstream.FileStorage,
			Discard:     jetstream.DiscardOld,
			Description: "Training jobs for trainer workers",
		},
		{
			Name:        EventsStreamName,
			Subjects:    []string{EventsSubjectBase + ".>"},
			Retention:   jetstream.WorkQueuePolicy,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     1000000,
			MaxBytes:    1 * 1024 * 1024 * 1024, // 1GB
			Storage:     jetstream.FileStorage,
			Discard:     jetstream.DiscardOld,
			Duplicates:  30 * time.Second,
			Description: "Event submissions from edge devices",
		},
		{
			Name:        AnalysisStreamName,
			Subjects:    []string{AnalysisSubjectBase + ".>"},
			Retention:   jetstream.WorkQueuePolicy,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     1000000,
			Storage:     jetstream.FileStorage,
			Discard:     jetstream.DiscardOld,
			Description: "Accepted events queued for deep analysis",
		},
		{
			Name:        DeployStreamName,
			Subjects:    []string{DeploySubjectBase + ".>"},
			Retention:   jetstream.InterestPolicy,
			MaxAge:      1 * time.Hour,
			MaxBytes:    2 * 1024 * 1024 * 1024, // 2GB
			Storage:     jetstream.FileStorage,
			Description: "Model artifact transfers to edge devices",
		},
		{
			Name:        VerdictsStreamName,
			Subjects:    []string{VerdictsSubjectBase + ".>"},
			Retention:   jetstream.InterestPolicy,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     1000000,
			Storage:     jetstream.FileStorage,
			Description: "Finalized anomaly verdicts",
		},
	}

	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		allOK := true
		for _, cfg := range streams {
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
			cancel()
			if err != nil {
				allOK = false
				if attempt == maxAttempts {
					return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
				}
				slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
				break
			}
		}
		if allOK {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

func (p *Producer) publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", subject, err)
	}
	if _, err := p.js.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// PublishTrainingTask enqueues a training job for trainer workers.
func (p *Producer) PublishTrainingTask(ctx context.Context, cameraID string, task interface{}) error {
	return p.publish(ctx, fmt.Sprintf("%s.%s", TrainingSubjectBase, cameraID), task)
}

// PublishEventSubmission sends an edge event submission toward intake.
func (p *Producer) PublishEventSubmission(ctx context.Context, edgeID string, sub interface{}) error {
	return p.publish(ctx, fmt.Sprintf("%s.%s", EventsSubjectBase, edgeID), sub)
}

// PublishAnalysisTask queues an accepted event for deep analysis.
func (p *Producer) PublishAnalysisTask(ctx context.Context, cameraID string, task interface{}) error {
	return p.publish(ctx, fmt.Sprintf("%s.%s", AnalysisEventSubject, cameraID), task)
}

// PublishBaselineTask queues a baseline inventory rebuild.
func (p *Producer) PublishBaselineTask(ctx context.Context, cameraID string, task interface{}) error {
	return p.publish(ctx, fmt.Sprintf("%s.%s", AnalysisBaselineSubject, cameraID), task)
}

// PublishDeploy sends a deployment manifest or chunk to an edge device.
func (p *Producer) PublishDeploy(ctx context.Context, edgeID string, msg interface{}) error {
	return p.publish(ctx, fmt.Sprintf("%s.%s", DeploySubjectBase, edgeID), msg)
}

// PublishVerdict publishes a finalized verdict for live consumers.
func (p *Producer) PublishVerdict(ctx context.Context, cameraID string, verdict interface{}) error {
	return p.publish(ctx, fmt.Sprintf("%s.%s", VerdictsSubjectBase, cameraID), verdict)
}

// PublishDeployAck sends an edge activation ack via raw NATS (not JetStream).
// The distributor waits on the transfer-scoped subject.
func (p *Producer) PublishDeployAck(transferID string, data []byte) error {
	return p.nc.Publish(fmt.Sprintf("%s.%s", DeployAckSubjectBase, transferID), data)
}

// PublishEdgeHealth sends a capability/health sync via raw NATS.
func (p *Producer) PublishEdgeHealth(data []byte) error {
	return p.nc.Publish(EdgeHealthSubject, data)
}

// SubscribeDeployAck waits for acks for one transfer on raw NATS.
func (p *Producer) SubscribeDeployAck(transferID string, handler func(data []byte)) (*nats.Subscription, error) {
	return p.nc.Subscribe(fmt.Sprintf("%s.%s", DeployAckSubjectBase, transferID), func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// AwaitDeployAck blocks until the first ack arrives for the transfer or the
// timeout elapses. Returns the raw ack payload.
func (p *Producer) AwaitDeployAck(ctx context.Context, transferID string, timeout time.Duration) ([]byte, error) {
	ch := make(chan []byte, 1)
	sub, err := p.SubscribeDeployAck(transferID, func(data []byte) {
		select {
		case ch <- data:
		default:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe deploy ack: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	select {
	case data := <-ch:
		return data, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("no ack for transfer %s within %s", transferID, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SubscribeEdgeHealth receives edge health syncs on raw NATS.
func (p *Producer) SubscribeEdgeHealth(handler func(data []byte)) (*nats.Subscription, error) {
	return p.nc.Subscribe(EdgeHealthSubject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// QueueDepth returns the number of pending messages in a stream.
func (p *Producer) QueueDepth(ctx context.Context, streamName string) (uint64, error) {
	stream, err := p.js.Stream(ctx, streamName)
	if err != nil {
		return 0, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.State.Msgs, nil
}

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
