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
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/sentinel/internal/api"
	"github.com/your-org/sentinel/internal/api/handlers"
	"github.com/your-org/sentinel/internal/api/ws"
	"github.com/your-org/sentinel/internal/catalog"
	"github.com/your-org/sentinel/internal/config"
	"github.com/your-org/sentinel/internal/distribution"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/observability"
	"github.com/your-org/sentinel/internal/queue"
	"github.com/your-org/sentinel/internal/storage"
	"github.com/your-org/sentinel/internal/training"
	"github.com/your-org/sentinel/pkg/dto"
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

	slog.Info("starting sentinel API service", "port", cfg.Server.Port)

	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(context.Background(), cfg.Training.LatentDim); err != nil {
		slog.Error("apply schema", "error", err)
		os.Exit(1)
	}

	blobs, err := storage.NewBlobStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := blobs.EnsureBucket(context.Background()); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
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

	hub := ws.NewHub()
	go hub.Run()

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create verdict consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Broadcast finalized verdicts to WebSocket clients. The camera id rides
	// in the subject: verdicts.<camera-id>.
	err = consumer.Consume(ctx, queue.VerdictsStreamName, "api-verdicts", queue.VerdictsSubjectBase+".>",
		func(ctx context.Context, msg jetstream.Msg) error {
			var verdict models.AnomalyVerdict
			if err := json.Unmarshal(msg.Data(), &verdict); err != nil {
				slog.Error("unmarshal verdict", "error", err)
				return nil
			}
			cameraID, err := uuid.Parse(strings.TrimPrefix(msg.Subject(), queue.VerdictsSubjectBase+"."))
			if err != nil {
				slog.Error("verdict subject has no camera id", "subject", msg.Subject())
				return nil
			}
			hub.BroadcastVerdict(&dto.WSVerdict{
				Type:     "verdict",
				CameraID: cameraID,
				Data:     handlers.VerdictToResponse(&verdict),
			})
			return nil
		}, 1)
	if err != nil {
		slog.Warn("start verdict consumer", "error", err)
	}

	cat := catalog.New(db, blobs, cfg.Training.SanityBound)
	dist := distribution.New(db, blobs, cat, producer, cfg.Distribution)
	orch := training.NewOrchestrator(db, producer, cfg.Training)

	router := api.NewRouter(api.RouterConfig{
		APIKey:       cfg.Server.APIKey,
		DB:           db,
		Blobs:        blobs,
		BlobPinger:   blobs,
		Queue:        producer,
		BaselinePub:  producer,
		Orchestrator: orch,
		Catalog:      cat,
		Deployer:     dist,
		Hub:          hub,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}
