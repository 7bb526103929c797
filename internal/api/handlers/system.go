package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/sentinel/internal/storage"
)

// Pinger reports connectivity for a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// QueuePinger is the NATS side of readiness. Satisfied by *queue.Producer.
type QueuePinger interface {
	Ping() error
}

type SystemHandler struct {
	db    storage.Store
	blobs Pinger
	queue QueuePinger
}

func NewSystemHandler(db storage.Store, blobs Pinger, queue QueuePinger) *SystemHandler {
	return &SystemHandler{db: db, blobs: blobs, queue: queue}
}

func (h *SystemHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *SystemHandler) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := h.db.Ping(ctx); err != nil {
		checks["postgres"] = err.Error()
		healthy = false
	} else {
		checks["postgres"] = "ok"
	}

	if err := h.blobs.Ping(ctx); err != nil {
		checks["minio"] = err.Error()
		healthy = false
	} else {
		checks["minio"] = "ok"
	}

	if err := h.queue.Ping(); err != nil {
		checks["nats"] = err.Error()
		healthy = false
	} else {
		checks["nats"] = "ok"
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status": map[bool]string{true: "ready", false: "not ready"}[healthy],
		"checks": checks,
	})
}
