package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/sentinel/internal/config"
	"github.com/your-org/sentinel/internal/edge"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/observability"
	"github.com/your-org/sentinel/internal/queue"
	"github.com/your-org/sentinel/internal/storage"
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

	if cfg.Edge.ID == "" {
		fmt.Fprintln(os.Stderr, "edge.id is required (SENTINEL_EDGE_ID)")
		os.Exit(1)
	}

	slog.Info("starting sentinel edge agent", "edge", cfg.Edge.ID, "cameras", len(cfg.Edge.Cameras))

	blobs, err := storage.NewBlobStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}

	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	engine := edge.NewEngine(cfg.Edge.ID, cfg.Edge, blobs, producer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	spool := edge.NewSpool(cfg.Edge.FramesDir, engine, cfg.Edge)
	for _, raw := range cfg.Edge.Cameras {
		cameraID, err := uuid.Parse(raw)
		if err != nil {
			slog.Error("invalid camera id in edge config", "camera", raw)
			os.Exit(1)
		}
		engine.AddCamera(cameraID)
		if cfg.Edge.FramesDir != "" {
			go spool.Run(ctx, cameraID)
		}
	}

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create deploy consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	// Deployment transfers addressed to this edge only.
	err = consumer.Consume(ctx, queue.DeployStreamName, "edge-"+cfg.Edge.ID,
		fmt.Sprintf("%s.%s", queue.DeploySubjectBase, cfg.Edge.ID),
		func(ctx context.Context, msg jetstream.Msg) error {
			var dm models.DeployMessage
			if err := json.Unmarshal(msg.Data(), &dm); err != nil {
				slog.Error("unmarshal deploy message", "error", err)
				return nil
			}
			return engine.HandleDeploy(ctx, dm)
		}, 1)
	if err != nil {
		slog.Error("start deploy consumer", "error", err)
		os.Exit(1)
	}

	go engine.RunHealthSync(ctx)

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("edge metrics listening", "addr", ":8083")
		if err := http.ListenAndServe(":8083", mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down edge agent...")
	cancel()
	engine.Stop()
	time.Sleep(time.Second)
	slog.Info("edge agent stopped")
}
