package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/storage"
	"github.com/your-org/sentinel/pkg/dto"
)

type CameraHandler struct {
	db storage.Store
}

func NewCameraHandler(db storage.Store) *CameraHandler {
	return &CameraHandler{db: db}
}

func (h *CameraHandler) Create(c *gin.Context) {
	var req dto.CreateCameraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cam := &models.Camera{
		EdgeID:    req.EdgeID,
		Name:      req.Name,
		Width:     req.Width,
		Height:    req.Height,
		Threshold: req.Threshold,
		Health:    models.CameraHealthNoModel,
	}
	if err := h.db.CreateCamera(c.Request.Context(), cam); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, cameraToResponse(cam))
}

func (h *CameraHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid camera id"})
		return
	}

	cam, err := h.db.GetCamera(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if cam == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "camera not found"})
		return
	}

	c.JSON(http.StatusOK, cameraToResponse(cam))
}

func (h *CameraHandler) List(c *gin.Context) {
	cams, err := h.db.ListCameras(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.CameraResponse, 0, len(cams))
	for _, cam := range cams {
		resp = append(resp, cameraToResponse(&cam))
	}

	c.JSON(http.StatusOK, dto.CameraListResponse{Cameras: resp, Total: len(resp)})
}

func cameraToResponse(cam *models.Camera) dto.CameraResponse {
	r := dto.CameraResponse{
		ID:            cam.ID,
		EdgeID:        cam.EdgeID,
		Name:          cam.Name,
		Width:         cam.Width,
		Height:        cam.Height,
		ActiveModelID: cam.ActiveModelID,
		Threshold:     cam.Threshold,
		Health:        string(cam.Health),
		CreatedAt:     cam.CreatedAt.Format(time.RFC3339),
	}
	if cam.LastSeen != nil {
		r.LastSeen = cam.LastSeen.Format(time.RFC3339)
	}
	return r
}
