package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/accordproto/accord/internal/logging"
)

// EventEmitter broadcasts directory changes to real-time subscribers.
type EventEmitter interface {
	EmitAgentRegistered(data map[string]interface{})
}

// KeyIssuer mints an API key for a freshly registered agent's owner.
type KeyIssuer interface {
	IssueKey(ctx context.Context, ownerAddr, name string) (rawKey, keyID string, err error)
}

// Handler provides HTTP handlers for the registry API.
type Handler struct {
	svc    *Service
	events EventEmitter // optional
	keys   KeyIssuer    // optional
}

// NewHandler creates a new registry handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// WithEvents adds an event emitter to the handler.
func (h *Handler) WithEvents(events EventEmitter) *Handler {
	h.events = events
	return h
}

// WithKeyIssuer makes RegisterAgent return an API key alongside the profile.
func (h *Handler) WithKeyIssuer(keys KeyIssuer) *Handler {
	h.keys = keys
	return h
}

// RegisterRoutes sets up registration and the public directory reads.
// Restake and Deactivate are not included here: they change an agent's
// standing, so the server registers them behind an ownership check.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/agents", h.RegisterAgent)
	r.GET("/agents", h.FindAgents)
	r.GET("/agents/:id", h.GetAgent)
}

// registeredResponse is the RegisterAgent payload. Profile fields marshal
// flat so callers that only read the profile are unaffected; the key fields
// appear only when a KeyIssuer is configured.
type registeredResponse struct {
	*Profile
	APIKey  string `json:"apiKey,omitempty"`
	KeyID   string `json:"keyId,omitempty"`
	Warning string `json:"warning,omitempty"`
	Usage   string `json:"usage,omitempty"`
}

// RegisterAgent handles POST /agents
func (h *Handler) RegisterAgent(c *gin.Context) {
	ctx := c.Request.Context()
	logger := logging.L(ctx)

	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	profile, err := h.svc.Register(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateAgent):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "agent_exists",
				"message": "An agent with this id is already registered",
			})
		case errors.Is(err, ErrInsufficientStake):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "insufficient_stake",
				"message": err.Error(),
			})
		case errors.Is(err, ErrInvalidAddress), errors.Is(err, ErrInvalidAgentID),
			errors.Is(err, ErrInvalidCapability), errors.Is(err, ErrInvalidStake):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": err.Error(),
			})
		default:
			logger.Error("failed to register agent", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to register agent",
			})
		}
		return
	}

	logger.Info("agent registered",
		"agent_id", profile.AgentID,
		"owner", profile.OwnerAddress,
		"tier", profile.StakeTier,
	)

	if h.events != nil {
		h.events.EmitAgentRegistered(map[string]interface{}{
			"agentId":      profile.AgentID,
			"ownerAddress": profile.OwnerAddress,
			"capabilities": profile.Capabilities,
			"stakeTier":    string(profile.StakeTier),
		})
	}

	resp := registeredResponse{Profile: profile}
	if h.keys != nil {
		rawKey, keyID, err := h.keys.IssueKey(ctx, profile.OwnerAddress, "Primary key")
		if err != nil {
			logger.Warn("api key issuance failed", "agent_id", profile.AgentID, "error", err)
			resp.Warning = "Agent registered but API key issuance failed. Contact support."
		} else {
			resp.APIKey = rawKey
			resp.KeyID = keyID
			resp.Warning = "Store this API key securely. It will not be shown again."
			resp.Usage = "Include 'Authorization: Bearer <apiKey>' header in requests."
		}
	}

	c.JSON(http.StatusCreated, resp)
}

// GetAgent handles GET /agents/:id
func (h *Handler) GetAgent(c *gin.Context) {
	ctx := c.Request.Context()

	profile, err := h.svc.Get(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrAgentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Agent not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to get agent",
		})
		return
	}

	c.JSON(http.StatusOK, profile)
}

// FindAgents handles GET /agents
//
// Query params: capabilities (comma-separated), minReputation,
// maxPaymentRate, network, limit, offset.
func (h *Handler) FindAgents(c *gin.Context) {
	ctx := c.Request.Context()

	query := Query{
		MaxPaymentRate: c.Query("maxPaymentRate"),
		Network:        c.Query("network"),
		Limit:          parseIntQuery(c, "limit", 50),
		Offset:         parseIntQuery(c, "offset", 0),
	}
	if caps := c.Query("capabilities"); caps != "" {
		for _, capability := range strings.Split(caps, ",") {
			if capability = strings.TrimSpace(capability); capability != "" {
				query.Capabilities = append(query.Capabilities, capability)
			}
		}
	}
	if minRep := c.Query("minReputation"); minRep != "" {
		v, err := strconv.ParseFloat(minRep, 64)
		if err != nil || v < 0 || v > 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "minReputation must be a number in [0,1]",
			})
			return
		}
		query.MinReputation = v
	}

	agents, err := h.svc.Find(ctx, query)
	if err != nil {
		if errors.Is(err, ErrInvalidCapability) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to find agents",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"agents": agents,
		"count":  len(agents),
	})
}

// RestakeRequest is the payload for stake adjustment.
type RestakeRequest struct {
	Delta string `json:"delta" binding:"required"`
}

// Restake handles POST /agents/:id/restake
func (h *Handler) Restake(c *gin.Context) {
	ctx := c.Request.Context()
	logger := logging.L(ctx)
	agentID := c.Param("id")

	var req RestakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	tier, err := h.svc.Restake(ctx, agentID, req.Delta)
	if err != nil {
		switch {
		case errors.Is(err, ErrAgentNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Agent not found",
			})
		case errors.Is(err, ErrAgentDeactivated):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "agent_deactivated",
				"message": "Agent is deactivated",
			})
		case errors.Is(err, ErrInsufficientStake):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "insufficient_stake",
				"message": err.Error(),
			})
		case errors.Is(err, ErrInvalidStake):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": err.Error(),
			})
		default:
			logger.Error("failed to restake", "agent_id", agentID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to restake",
			})
		}
		return
	}

	profile, err := h.svc.Get(ctx, agentID)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"agentId": agentID, "stakeTier": tier})
		return
	}

	logger.Info("stake adjusted",
		"agent_id", agentID,
		"delta", req.Delta,
		"tier", tier,
	)

	c.JSON(http.StatusOK, gin.H{
		"agentId":      agentID,
		"stakedAmount": profile.StakedAmount,
		"stakeTier":    tier,
	})
}

// Deactivate handles POST /agents/:id/deactivate
func (h *Handler) Deactivate(c *gin.Context) {
	ctx := c.Request.Context()
	logger := logging.L(ctx)
	agentID := c.Param("id")

	if err := h.svc.Deactivate(ctx, agentID); err != nil {
		if errors.Is(err, ErrAgentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Agent not found",
			})
			return
		}
		logger.Error("failed to deactivate agent", "agent_id", agentID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to deactivate agent",
		})
		return
	}

	logger.Info("agent deactivated", "agent_id", agentID)
	c.Status(http.StatusNoContent)
}

func parseIntQuery(c *gin.Context, key string, defaultVal int) int {
	if val := c.Query(key); val != "" {
		var i int
		if _, err := fmt.Sscanf(val, "%d", &i); err == nil && i > 0 {
			return i
		}
	}
	return defaultVal
}
