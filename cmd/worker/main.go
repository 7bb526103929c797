package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/sentinel/internal/analysis"
	"github.com/your-org/sentinel/internal/config"
	"github.com/your-org/sentinel/internal/faults"
	"github.com/your-org/sentinel/internal/intake"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/observability"
	"github.com/your-org/sentinel/internal/queue"
	"github.com/your-org/sentinel/internal/storage"
	"github.com/your-org/sentinel/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting sentinel analysis worker",
		"workers", cfg.Analysis.WorkerCount,
		"cpu_cores", runtime.NumCPU(),
	)

	ort.SetSharedLibraryPath(getONNXLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Error("init onnx runtime", "error", err)
		os.Exit(1)
	}
	defer ort.DestroyEnvironment()

	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	blobs, err := storage.NewBlobStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}

	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	detector, err := vision.NewONNXDetector(
		filepath.Join(cfg.Analysis.ModelsDir, "detector.onnx"),
		float32(cfg.Analysis.DetectionThreshold),
		nil,
	)
	if err != nil {
		slog.Error("load detector", "error", err)
		os.Exit(1)
	}
	defer detector.Close()

	analyzer := analysis.NewDeepAnalyzer(detector, blobs, cfg.Analysis.Timeout)
	reasoner := analysis.NewReasoner(db, cfg.Analysis)
	scorer := analysis.NewScorer(db, cfg.Scoring)
	builder := analysis.NewBuilder(db, blobs, detector, cfg.Analysis)
	pipeline := analysis.NewPipeline(db, analyzer, reasoner, scorer, builder, producer)
	ingest := intake.New(db, blobs, producer, cfg.Analysis)

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Event submissions from edges.
	err = consumer.Consume(ctx, queue.EventsStreamName, "intake", queue.EventsSubjectBase+".>",
		func(ctx context.Context, msg jetstream.Msg) error {
			var sub models.EventSubmission
			if err := json.Unmarshal(msg.Data(), &sub); err != nil {
				slog.Error("unmarshal event submission", "error", err)
				return nil
			}
			if err := ingest.Submit(ctx, sub); err != nil {
				if errors.Is(err, faults.ErrInvalidEvent) {
					slog.Warn("rejected event submission", "event", sub.EventID, "error", err)
					return nil // permanent reject, don't redeliver
				}
				return err
			}
			return nil
		}, cfg.Analysis.WorkerCount)
	if err != nil {
		slog.Error("start intake consumer", "error", err)
		os.Exit(1)
	}

	// Accepted events queued for deep analysis.
	err = consumer.Consume(ctx, queue.AnalysisStreamName, "analysis-workers", queue.AnalysisEventSubject+".>",
		func(ctx context.Context, msg jetstream.Msg) error {
			var task models.AnalysisTask
			if err := json.Unmarshal(msg.Data(), &task); err != nil {
				slog.Error("unmarshal analysis task", "error", err)
				return nil
			}
			return pipeline.HandleEvent(ctx, task)
		}, cfg.Analysis.WorkerCount)
	if err != nil {
		slog.Error("start analysis consumer", "error", err)
		os.Exit(1)
	}

	// Baseline rebuild checks after dataset closes.
	err = consumer.Consume(ctx, queue.AnalysisStreamName, "baseline-workers", queue.AnalysisBaselineSubject+".>",
		func(ctx context.Context, msg jetstream.Msg) error {
			var task models.BaselineTask
			if err := json.Unmarshal(msg.Data(), &task); err != nil {
				slog.Error("unmarshal baseline task", "error", err)
				return nil
			}
			return pipeline.HandleBaseline(ctx, task)
		}, 1)
	if err != nil {
		slog.Error("start baseline consumer", "error", err)
		os.Exit(1)
	}

	// Edge health syncs update camera health in the catalog.
	healthSub, err := producer.SubscribeEdgeHealth(func(data []byte) {
		var health models.EdgeHealth
		if err := json.Unmarshal(data, &health); err != nil {
			slog.Warn("unmarshal edge health", "error", err)
			return
		}
		for _, cam := range health.Cameras {
			if err := db.SetCameraHealth(ctx, cam.CameraID, cam.Health, health.Timestamp); err != nil {
				slog.Warn("persist camera health", "camera", cam.CameraID, "error", err)
			}
		}
	})
	if err != nil {
		slog.Warn("subscribe edge health", "error", err)
	} else {
		defer func() { _ = healthSub.Unsubscribe() }()
	}

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("worker metrics listening", "addr", ":8082")
		if err := http.ListenAndServe(":8082", mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Periodically report queue depth
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, stream := range []string{queue.EventsStreamName, queue.AnalysisStreamName} {
					if depth, err := producer.QueueDepth(ctx, stream); err == nil {
						observability.QueueDepth.WithLabelValues(stream).Set(float64(depth))
					}
				}
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	cancel()
	time.Sleep(2 * time.Second)
	slog.Info("worker stopped")
}

// getONNXLibPath returns the ONNX Runtime shared library path
// based on the operating system.
func getONNXLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}
