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

type VerdictHandler struct {
	db storage.Store
}

func NewVerdictHandler(db storage.Store) *VerdictHandler {
	return &VerdictHandler{db: db}
}

// Latest returns the current verdict for an event.
func (h *VerdictHandler) Latest(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	v, err := h.db.LatestVerdict(c.Request.Context(), eventID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if v == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no verdict for event"})
		return
	}

	c.JSON(http.StatusOK, VerdictToResponse(v))
}

// List returns every verdict version for an event, oldest first.
func (h *VerdictHandler) List(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	verdicts, err := h.db.ListVerdicts(c.Request.Context(), eventID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.VerdictResponse, 0, len(verdicts))
	for _, v := range verdicts {
		resp = append(resp, VerdictToResponse(&v))
	}

	c.JSON(http.StatusOK, dto.VerdictListResponse{Verdicts: resp, Total: len(resp)})
}

// Feedback records an operator judgement about a verdict. A false_positive
// judgement additionally writes a new verdict version carrying the
// false_positive risk level; the scoring engine itself never assigns it.
func (h *VerdictHandler) Feedback(c *gin.Context) {
	verdictID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid verdict id"})
		return
	}

	var req dto.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	v, err := h.db.GetVerdict(ctx, verdictID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if v == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "verdict not found"})
		return
	}
	ev, err := h.db.GetEvent(ctx, v.EventID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if ev == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}

	signal := &models.FeedbackSignal{
		VerdictID:   v.ID,
		EventID:     v.EventID,
		CameraID:    ev.CameraID,
		AnomalyType: v.AnomalyType,
		Kind:        models.FeedbackKind(req.Kind),
	}
	if err := h.db.AddFeedback(ctx, signal); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if signal.Kind == models.FeedbackFalsePositive {
		next := &models.AnomalyVerdict{
			EventID:          v.EventID,
			AnomalyType:      v.AnomalyType,
			RiskLevel:        models.RiskFalsePositive,
			Score:            v.Score,
			Confidence:       v.Confidence,
			Explanation:      v.Explanation + " (operator marked false positive)",
			CorrelatedEvents: v.CorrelatedEvents,
			Degraded:         v.Degraded,
		}
		if err := h.db.InsertVerdict(ctx, next); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, VerdictToResponse(next))
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "recorded", "verdict_id": v.ID})
}

// VerdictToResponse is shared with the WebSocket broadcast path in cmd/api.
func VerdictToResponse(v *models.AnomalyVerdict) dto.VerdictResponse {
	return dto.VerdictResponse{
		ID:               v.ID,
		EventID:          v.EventID,
		Version:          v.Version,
		AnomalyType:      string(v.AnomalyType),
		RiskLevel:        string(v.RiskLevel),
		Score:            v.Score,
		Confidence:       v.Confidence,
		Explanation:      v.Explanation,
		CorrelatedEvents: v.CorrelatedEvents,
		Degraded:         v.Degraded,
		CreatedAt:        v.CreatedAt.Format(time.RFC3339),
	}
}
