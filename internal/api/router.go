package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/sentinel/internal/api/handlers"
	"github.com/your-org/sentinel/internal/api/ws"
	"github.com/your-org/sentinel/internal/auth"
	"github.com/your-org/sentinel/internal/storage"
	"github.com/your-org/sentinel/internal/training"
)

type RouterConfig struct {
	APIKey       string
	DB           storage.Store
	Blobs        handlers.BlobProxy
	BlobPinger   handlers.Pinger
	Queue        handlers.QueuePinger
	BaselinePub  handlers.BaselinePublisher
	Orchestrator *training.Orchestrator
	Catalog      handlers.Lifecycle
	Deployer     handlers.Deployer
	Hub          *ws.Hub
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.BlobPinger, cfg.Queue)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket verdict stream
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Cameras
	camH := handlers.NewCameraHandler(cfg.DB)
	v1.POST("/cameras", camH.Create)
	v1.GET("/cameras", camH.List)
	v1.GET("/cameras/:id", camH.Get)

	// Datasets
	dsH := handlers.NewDatasetHandler(cfg.DB, cfg.BaselinePub)
	v1.POST("/datasets", dsH.Register)
	v1.GET("/datasets/:id", dsH.Get)

	// Training
	trainH := handlers.NewTrainingHandler(cfg.Orchestrator)
	v1.POST("/training/jobs", trainH.Submit)
	v1.GET("/training/jobs/:id", trainH.Status)
	v1.POST("/training/jobs/:id/cancel", trainH.Cancel)

	// Model catalog and distribution
	modelH := handlers.NewModelHandler(cfg.DB, cfg.Catalog, cfg.Deployer)
	v1.GET("/cameras/:id/models", modelH.List)
	v1.POST("/cameras/:id/rollback", modelH.Rollback)
	v1.POST("/models/:id/validate", modelH.Validate)
	v1.POST("/models/:id/deploy", modelH.Deploy)
	v1.POST("/models/:id/archive", modelH.Archive)

	// Events
	eventH := handlers.NewEventHandler(cfg.DB, cfg.Blobs)
	v1.GET("/cameras/:id/events", eventH.List)
	v1.GET("/events/:id", eventH.Get)
	v1.GET("/events/:id/frame", eventH.Frame)
	v1.GET("/events/:id/clip", eventH.Clip)
	v1.GET("/events/:id/similar", eventH.Similar)

	// Verdicts and feedback
	verdictH := handlers.NewVerdictHandler(cfg.DB)
	v1.GET("/events/:id/verdict", verdictH.Latest)
	v1.GET("/events/:id/verdicts", verdictH.List)
	v1.POST("/verdicts/:id/feedback", verdictH.Feedback)

	return r
}
