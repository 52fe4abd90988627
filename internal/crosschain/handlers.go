package crosschain

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/accordproto/accord/internal/logging"
	"github.com/accordproto/accord/internal/registry"
)

// Handler exposes the cross-chain coordinator over HTTP.
type Handler struct {
	coord *Coordinator
}

// NewHandler creates a new cross-chain handler.
func NewHandler(coord *Coordinator) *Handler {
	return &Handler{coord: coord}
}

// RegisterRoutes sets up the cross-chain read endpoints. Network
// registration mutates the agent's profile, so the server registers
// it behind an ownership check.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/networks", h.ListNetworks)
	r.GET("/agents/:id/networks", h.GetAgentNetworks)
	r.GET("/agents/:id/route", h.CheckRoute)
}

// ListNetworks handles GET /networks
func (h *Handler) ListNetworks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"networks": h.coord.Networks()})
}

// RegisterNetworksRequest is the POST /agents/:id/networks body.
type RegisterNetworksRequest struct {
	Networks []string `json:"networks" binding:"required"`
}

// RegisterNetworks handles POST /agents/:id/networks
func (h *Handler) RegisterNetworks(c *gin.Context) {
	ctx := c.Request.Context()
	logger := logging.L(ctx)
	agentID := c.Param("id")

	var req RegisterNetworksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	reg, err := h.coord.RegisterNetworks(ctx, agentID, req.Networks)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrAgentNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Agent not found",
			})
		case errors.Is(err, ErrInvalidAgentID), errors.Is(err, ErrInvalidNetworks),
			errors.Is(err, ErrUnknownNetwork):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": err.Error(),
			})
		default:
			logger.Error("failed to register networks", "agent_id", agentID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to register networks",
			})
		}
		return
	}

	logger.Info("agent networks registered",
		"agent_id", agentID,
		"networks", reg.Networks,
	)

	c.JSON(http.StatusOK, reg)
}

// GetAgentNetworks handles GET /agents/:id/networks
func (h *Handler) GetAgentNetworks(c *gin.Context) {
	ctx := c.Request.Context()
	agentID := c.Param("id")

	networks, err := h.coord.RegisteredNetworks(ctx, agentID)
	if err != nil {
		respondCoordError(c, agentID, err, "Failed to load agent networks")
		return
	}
	matrix, err := h.coord.Matrix(ctx, agentID)
	if err != nil {
		respondCoordError(c, agentID, err, "Failed to load agent networks")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"agentId":  agentID,
		"networks": networks,
		"matrix":   matrix,
	})
}

// CheckRoute handles GET /agents/:id/route?from=X&to=Y
func (h *Handler) CheckRoute(c *gin.Context) {
	ctx := c.Request.Context()
	agentID := c.Param("id")
	from := c.Query("from")
	to := c.Query("to")

	if from == "" || to == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "from and to query parameters are required",
		})
		return
	}

	protocol, err := h.coord.CheckRoute(ctx, agentID, from, to)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidAgentID), errors.Is(err, ErrUnknownNetwork):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": err.Error(),
			})
		case errors.Is(err, ErrNetworkNotRegistered):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "network_not_registered",
				"message": err.Error(),
			})
		case errors.Is(err, ErrNoBridgeCompatibility):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "no_bridge_compatibility",
				"message": err.Error(),
			})
		default:
			logging.L(ctx).Error("route check failed", "agent_id", agentID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to check route",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"agentId":  agentID,
		"from":     from,
		"to":       to,
		"protocol": protocol,
	})
}

func respondCoordError(c *gin.Context, agentID string, err error, fallback string) {
	if errors.Is(err, ErrInvalidAgentID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}
	logging.L(c.Request.Context()).Error("crosschain request failed", "agent_id", agentID, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": fallback,
	})
}
