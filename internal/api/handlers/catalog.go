package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/sentinel/internal/faults"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/storage"
	"github.com/your-org/sentinel/pkg/dto"
)

// Lifecycle is the catalog side of the model endpoints. Satisfied by
// *catalog.Catalog.
type Lifecycle interface {
	Validate(ctx context.Context, modelID uuid.UUID) error
	Archive(ctx context.Context, modelID uuid.UUID) error
}

// Deployer pushes artifacts to edges. Satisfied by
// *distribution.Distributor.
type Deployer interface {
	Deploy(ctx context.Context, cameraID, modelID uuid.UUID, edgeID string) error
	Rollback(ctx context.Context, cameraID uuid.UUID, edgeID string) error
}

type ModelHandler struct {
	db       storage.Store
	catalog  Lifecycle
	deployer Deployer
}

func NewModelHandler(db storage.Store, catalog Lifecycle, deployer Deployer) *ModelHandler {
	return &ModelHandler{db: db, catalog: catalog, deployer: deployer}
}

func (h *ModelHandler) List(c *gin.Context) {
	cameraID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid camera id"})
		return
	}

	versions, err := h.db.ListModelVersions(c.Request.Context(), cameraID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.ModelVersionResponse, 0, len(versions))
	for _, mv := range versions {
		resp = append(resp, modelToResponse(&mv))
	}

	c.JSON(http.StatusOK, dto.ModelListResponse{Models: resp, Total: len(resp)})
}

func (h *ModelHandler) Validate(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid model id"})
		return
	}

	if err := h.catalog.Validate(c.Request.Context(), id); err != nil {
		if errors.Is(err, faults.ErrValidationFailed) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": faults.Reason(err)})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.respondWithModel(c, id)
}

// Deploy streams the validated artifact to the camera's edge and promotes it
// in the catalog once the edge acks.
func (h *ModelHandler) Deploy(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid model id"})
		return
	}

	ctx := c.Request.Context()
	mv, err := h.db.GetModelVersion(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if mv == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "model not found"})
		return
	}
	cam, err := h.db.GetCamera(ctx, mv.CameraID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if cam == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "camera not found"})
		return
	}

	if err := h.deployer.Deploy(ctx, cam.ID, id, cam.EdgeID); err != nil {
		if errors.Is(err, faults.ErrDeploymentFailed) {
			c.JSON(http.StatusBadGateway, gin.H{"error": faults.Reason(err)})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.respondWithModel(c, id)
}

// Rollback re-promotes the camera's last superseded model.
func (h *ModelHandler) Rollback(c *gin.Context) {
	cameraID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid camera id"})
		return
	}

	ctx := c.Request.Context()
	cam, err := h.db.GetCamera(ctx, cameraID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if cam == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "camera not found"})
		return
	}

	if err := h.deployer.Rollback(ctx, cameraID, cam.EdgeID); err != nil {
		switch {
		case errors.Is(err, faults.ErrDeploymentFailed):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "rolled_back", "camera_id": cameraID})
}

func (h *ModelHandler) Archive(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid model id"})
		return
	}

	if err := h.catalog.Archive(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	h.respondWithModel(c, id)
}

func (h *ModelHandler) respondWithModel(c *gin.Context, id uuid.UUID) {
	mv, err := h.db.GetModelVersion(c.Request.Context(), id)
	if err != nil || mv == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "model_id": id})
		return
	}
	c.JSON(http.StatusOK, modelToResponse(mv))
}

func modelToResponse(mv *models.ModelVersion) dto.ModelVersionResponse {
	return dto.ModelVersionResponse{
		ID:              mv.ID,
		CameraID:        mv.CameraID,
		TrainingJobID:   mv.TrainingJobID,
		Checksum:        mv.Checksum,
		Threshold:       mv.Threshold,
		ValidationError: mv.ValidationError,
		State:           string(mv.State),
		CreatedAt:       mv.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       mv.UpdatedAt.Format(time.RFC3339),
	}
}
