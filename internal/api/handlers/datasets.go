package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/storage"
	"github.com/your-org/sentinel/pkg/dto"
)

// BaselinePublisher queues a baseline inventory rebuild after a dataset
// closes. Satisfied by *queue.Producer.
type BaselinePublisher interface {
	PublishBaselineTask(ctx context.Context, cameraID string, task interface{}) error
}

type DatasetHandler struct {
	db  storage.Store
	pub BaselinePublisher
}

func NewDatasetHandler(db storage.Store, pub BaselinePublisher) *DatasetHandler {
	return &DatasetHandler{db: db, pub: pub}
}

// Register records an edge snapshot export as a closed dataset and queues a
// baseline rebuild check. The snapshots themselves were already uploaded to
// the blob store by the edge.
func (h *DatasetHandler) Register(c *gin.Context) {
	var req dto.RegisterDatasetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	cam, err := h.db.GetCamera(ctx, req.CameraID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if cam == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "camera not found"})
		return
	}

	ds := &models.Dataset{CameraID: req.CameraID, EdgeID: req.EdgeID}
	if err := h.db.CreateDataset(ctx, ds); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	for _, entry := range req.Snapshots {
		capturedAt, err := time.Parse(time.RFC3339, entry.CapturedAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid captured_at: " + entry.CapturedAt})
			return
		}
		snap := &models.LabeledSnapshot{
			DatasetID:  ds.ID,
			CameraID:   req.CameraID,
			Label:      models.SnapshotLabel(entry.Label),
			CapturedAt: capturedAt,
			Conditions: entry.Conditions,
			BlobKey:    entry.BlobKey,
			SizeBytes:  entry.SizeBytes,
		}
		if err := h.db.AddSnapshot(ctx, snap); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	if err := h.db.CloseDataset(ctx, ds.ID, time.Now()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	closed, err := h.db.GetDataset(ctx, ds.ID)
	if err != nil || closed == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reload dataset"})
		return
	}

	// The dataset is registered either way; a missed rebuild check is
	// corrected by the next export.
	task := models.BaselineTask{CameraID: req.CameraID, DatasetID: ds.ID}
	if err := h.pub.PublishBaselineTask(ctx, req.CameraID.String(), task); err != nil {
		slog.Warn("publish baseline task", "dataset", ds.ID, "error", err)
	}

	c.JSON(http.StatusCreated, datasetToResponse(closed))
}

func (h *DatasetHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid dataset id"})
		return
	}

	ds, err := h.db.GetDataset(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if ds == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "dataset not found"})
		return
	}

	c.JSON(http.StatusOK, datasetToResponse(ds))
}

func datasetToResponse(ds *models.Dataset) dto.DatasetResponse {
	counts := make(map[string]int, len(ds.LabelCounts))
	for label, n := range ds.LabelCounts {
		counts[string(label)] = n
	}
	r := dto.DatasetResponse{
		ID:          ds.ID,
		CameraID:    ds.CameraID,
		EdgeID:      ds.EdgeID,
		LabelCounts: counts,
		TotalBytes:  ds.TotalBytes,
		Status:      string(ds.Status),
		CreatedAt:   ds.CreatedAt.Format(time.RFC3339),
	}
	if ds.ClosedAt != nil {
		r.ClosedAt = ds.ClosedAt.Format(time.RFC3339)
	}
	return r
}
