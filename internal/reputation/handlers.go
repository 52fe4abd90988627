package reputation

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/accordproto/accord/internal/logging"
	"github.com/accordproto/accord/internal/registry"
)

// EventEmitter broadcasts reputation activity to real-time subscribers.
type EventEmitter interface {
	EmitReputationRecorded(data map[string]interface{})
}

// Handler provides HTTP endpoints for reputation.
type Handler struct {
	ledger *Ledger
	events EventEmitter // optional
}

// NewHandler creates a new reputation handler.
func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// WithEvents adds an event emitter to the handler.
func (h *Handler) WithEvents(events EventEmitter) *Handler {
	h.events = events
	return h
}

// RegisterRoutes sets up the read-only reputation endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/reputation/:id", h.GetScore)
	r.GET("/reputation/:id/events", h.ListEvents)
	r.GET("/reputation/:id/networks", h.GetNetworkScores)
}

// RegisterProtectedRoutes sets up the mutating endpoints. Outcome
// recording is for operators and trusted services, not public callers.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/reputation/:id/events", h.RecordEvent)
	r.POST("/reputation/:id/sync", h.SyncNetworks)
}

// GetScore handles GET /reputation/:id
func (h *Handler) GetScore(c *gin.Context) {
	agentID := c.Param("id")

	score, err := h.ledger.GetScore(c.Request.Context(), agentID)
	if err != nil {
		if errors.Is(err, ErrInvalidAgentID) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to compute reputation",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"agentId": agentID,
		"score":   score,
	})
}

// RecordEventRequest is the payload for recording an outcome.
type RecordEventRequest struct {
	EventType    string   `json:"eventType" binding:"required"`
	QualityScore *float64 `json:"qualityScore" binding:"required"`
	EvidenceHash string   `json:"evidenceHash"`
	Networks     []string `json:"networks"`
}

// RecordEvent handles POST /reputation/:id/events
func (h *Handler) RecordEvent(c *gin.Context) {
	ctx := c.Request.Context()
	logger := logging.L(ctx)
	agentID := c.Param("id")

	var req RecordEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain 'eventType' and 'qualityScore'",
		})
		return
	}

	ev, err := h.ledger.Record(ctx, agentID, req.EventType, *req.QualityScore, req.EvidenceHash, req.Networks)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrAgentNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Agent not found",
			})
		case errors.Is(err, ErrInvalidAgentID), errors.Is(err, ErrInvalidEventType),
			errors.Is(err, ErrInvalidScore), errors.Is(err, ErrInvalidNetwork),
			errors.Is(err, ErrInvalidEvidence):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": err.Error(),
			})
		default:
			logger.Error("failed to record reputation event", "agent_id", agentID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to record event",
			})
		}
		return
	}

	logger.Info("reputation event recorded",
		"agent_id", agentID,
		"event_type", ev.EventType,
		"quality", ev.QualityScore,
	)

	if h.events != nil {
		h.events.EmitReputationRecorded(map[string]interface{}{
			"agentId":      agentID,
			"eventType":    string(ev.EventType),
			"qualityScore": ev.QualityScore,
		})
	}

	resp := gin.H{"event": ev}
	if score, err := h.ledger.GetScore(ctx, agentID); err == nil {
		resp["score"] = score
	}
	c.JSON(http.StatusCreated, resp)
}

// ListEvents handles GET /reputation/:id/events?limit=
func (h *Handler) ListEvents(c *gin.Context) {
	agentID := c.Param("id")

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	events, err := h.ledger.Events(c.Request.Context(), agentID, limit)
	if err != nil {
		if errors.Is(err, ErrInvalidAgentID) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list events",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"agentId": agentID,
		"events":  events,
		"count":   len(events),
	})
}

// SyncRequest is the payload for network score sync.
type SyncRequest struct {
	Networks []string `json:"networks" binding:"required"`
}

// SyncNetworks handles POST /reputation/:id/sync
func (h *Handler) SyncNetworks(c *gin.Context) {
	ctx := c.Request.Context()
	logger := logging.L(ctx)
	agentID := c.Param("id")

	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must contain 'networks' array",
		})
		return
	}

	scores, err := h.ledger.SyncNetworks(ctx, agentID, req.Networks)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidAgentID), errors.Is(err, ErrInvalidNetwork):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": err.Error(),
			})
		default:
			logger.Error("failed to sync network scores", "agent_id", agentID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to sync network scores",
			})
		}
		return
	}

	logger.Info("network scores synced", "agent_id", agentID, "networks", len(scores))

	c.JSON(http.StatusOK, gin.H{
		"agentId": agentID,
		"synced":  scores,
		"count":   len(scores),
	})
}

// GetNetworkScores handles GET /reputation/:id/networks
func (h *Handler) GetNetworkScores(c *gin.Context) {
	agentID := c.Param("id")

	scores, err := h.ledger.NetworkScores(c.Request.Context(), agentID)
	if err != nil {
		if errors.Is(err, ErrInvalidAgentID) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list network scores",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"agentId": agentID,
		"scores":  scores,
		"count":   len(scores),
	})
}
