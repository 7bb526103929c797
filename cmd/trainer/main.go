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

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/sentinel/internal/config"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/observability"
	"github.com/your-org/sentinel/internal/queue"
	"github.com/your-org/sentinel/internal/storage"
	"github.com/your-org/sentinel/internal/training"
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

	slog.Info("starting sentinel trainer", "workers", cfg.Training.WorkerCount)

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

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	worker := training.NewWorker(db, blobs, cfg.Training)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = consumer.Consume(ctx, queue.TrainingStreamName, "trainer-workers", queue.TrainingSubjectBase+".>",
		func(ctx context.Context, msg jetstream.Msg) error {
			var task models.TrainingTask
			if err := json.Unmarshal(msg.Data(), &task); err != nil {
				slog.Error("unmarshal training task", "error", err)
				return nil // Don't retry on unmarshal errors
			}
			return worker.HandleTask(ctx, task)
		}, cfg.Training.WorkerCount)
	if err != nil {
		slog.Error("start training consumer", "error", err)
		os.Exit(1)
	}

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("trainer metrics listening", "addr", ":8081")
		if err := http.ListenAndServe(":8081", mux); err != nil {
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
				if depth, err := producer.QueueDepth(ctx, queue.TrainingStreamName); err == nil {
					observability.QueueDepth.WithLabelValues(queue.TrainingStreamName).Set(float64(depth))
				}
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down trainer...")
	cancel()
	time.Sleep(2 * time.Second)
	slog.Info("trainer stopped")
}
