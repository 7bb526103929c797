package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesScored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "frames_scored_total",
		Help:      "Total number of frames scored by edge inference",
	}, []string{"camera_id"})

	EventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "events_emitted_total",
		Help:      "Total number of anomaly events emitted by edge inference",
	}, []string{"camera_id"})

	EventsAnalyzed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "events_analyzed_total",
		Help:      "Total number of events that completed deep analysis",
	}, []string{"anomaly_type"})

	EventsShed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "events_shed_total",
		Help:      "Total number of events shed by intake backpressure",
	})

	TrainingEpochs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "training_epochs_total",
		Help:      "Total training epochs run",
	}, []string{"camera_id"})

	TrainingJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "training_jobs_total",
		Help:      "Training job outcomes",
	}, []string{"status"})

	DeploymentAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "deployment_attempts_total",
		Help:      "Model deployment transfer attempts",
	}, []string{"outcome"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sentinel",
		Name:      "inference_duration_seconds",
		Help:      "Duration of inference stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sentinel",
		Name:      "queue_depth",
		Help:      "Number of pending messages per JetStream stream",
	}, []string{"stream"})

	ActiveModels = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinel",
		Name:      "active_models",
		Help:      "Number of cameras with a loaded model on this edge",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sentinel",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinel",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
