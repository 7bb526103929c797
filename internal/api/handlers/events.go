package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/storage"
	"github.com/your-org/sentinel/pkg/dto"
)

// BlobProxy reads stored objects for the frame/clip endpoints. Satisfied by
// *storage.BlobStore.
type BlobProxy interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

type EventHandler struct {
	db    storage.Store
	blobs BlobProxy
}

func NewEventHandler(db storage.Store, blobs BlobProxy) *EventHandler {
	return &EventHandler{db: db, blobs: blobs}
}

func (h *EventHandler) List(c *gin.Context) {
	cameraID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid camera id"})
		return
	}

	var from, to *time.Time
	if fromStr := c.Query("from"); fromStr != "" {
		if t, err := time.Parse(time.RFC3339, fromStr); err == nil {
			from = &t
		}
	}
	if toStr := c.Query("to"); toStr != "" {
		if t, err := time.Parse(time.RFC3339, toStr); err == nil {
			to = &t
		}
	}

	var status *models.EventStatus
	if s := c.Query("status"); s != "" {
		st := models.EventStatus(s)
		status = &st
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	events, total, err := h.db.QueryEvents(c.Request.Context(), cameraID, from, to, status, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.EventResponse, 0, len(events))
	for _, ev := range events {
		resp = append(resp, eventToResponse(&ev))
	}

	c.JSON(http.StatusOK, dto.EventListResponse{Events: resp, Total: total})
}

func (h *EventHandler) Get(c *gin.Context) {
	ev, ok := h.lookupEvent(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, eventToResponse(ev))
}

// Frame proxies the trigger frame image from the blob store.
func (h *EventHandler) Frame(c *gin.Context) {
	ev, ok := h.lookupEvent(c)
	if !ok {
		return
	}

	data, err := h.blobs.Get(c.Request.Context(), ev.FrameKey)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "frame not found"})
		return
	}

	c.Data(http.StatusOK, "image/jpeg", data)
}

// Clip proxies the pre/post event clip from the blob store.
func (h *EventHandler) Clip(c *gin.Context) {
	ev, ok := h.lookupEvent(c)
	if !ok {
		return
	}
	if ev.ClipKey == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "event has no clip"})
		return
	}

	data, err := h.blobs.Get(c.Request.Context(), ev.ClipKey)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "clip not found"})
		return
	}

	c.Data(http.StatusOK, "video/x-motion-jpeg", data)
}

// Similar returns events whose scene signature is closest to this event's.
func (h *EventHandler) Similar(c *gin.Context) {
	ev, ok := h.lookupEvent(c)
	if !ok {
		return
	}
	if len(ev.SceneVector) == 0 {
		c.JSON(http.StatusOK, dto.SimilarEventsResponse{Events: []dto.EventResponse{}})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "5"))
	neighbors, err := h.db.SimilarEvents(c.Request.Context(), ev.SceneVector, limit+1)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.EventResponse, 0, len(neighbors))
	for _, n := range neighbors {
		if n.ID == ev.ID {
			continue
		}
		resp = append(resp, eventToResponse(&n))
	}
	if len(resp) > limit {
		resp = resp[:limit]
	}

	c.JSON(http.StatusOK, dto.SimilarEventsResponse{Events: resp})
}

func (h *EventHandler) lookupEvent(c *gin.Context) (*models.Event, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return nil, false
	}

	ev, err := h.db.GetEvent(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if ev == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return nil, false
	}
	return ev, true
}

func eventToResponse(ev *models.Event) dto.EventResponse {
	r := dto.EventResponse{
		ID:             ev.ID,
		CameraID:       ev.CameraID,
		EdgeID:         ev.EdgeID,
		TriggeredAt:    ev.TriggeredAt.Format(time.RFC3339),
		ModelVersionID: ev.ModelVersionID,
		Score:          ev.Score,
		Status:         string(ev.Status),
		CreatedAt:      ev.CreatedAt.Format(time.RFC3339),
	}
	if ev.FrameKey != "" {
		r.FrameURL = "/v1/events/" + ev.ID.String() + "/frame"
	}
	if ev.ClipKey != "" {
		r.ClipURL = "/v1/events/" + ev.ID.String() + "/clip"
		r.ClipStart = ev.ClipStart.Format(time.RFC3339)
		r.ClipEnd = ev.ClipEnd.Format(time.RFC3339)
	}
	return r
}
