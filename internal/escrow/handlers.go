package escrow

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/accordproto/accord/internal/chainled"
	"github.com/accordproto/accord/internal/crosschain"
	"github.com/accordproto/accord/internal/logging"
	"github.com/accordproto/accord/internal/registry"
)

// EventEmitter broadcasts escrow activity to real-time subscribers.
type EventEmitter interface {
	EmitEscrowCreated(data map[string]interface{})
	EmitMilestoneReleased(data map[string]interface{})
	EmitEscrowResolved(data map[string]interface{})
}

// Handler exposes escrow lifecycle over HTTP.
type Handler struct {
	service *Service
	events  EventEmitter // optional
}

// NewHandler creates a new escrow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// WithEvents adds an event emitter to the handler.
func (h *Handler) WithEvents(events EventEmitter) *Handler {
	h.events = events
	return h
}

// RegisterRoutes sets up the read-only escrow endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/escrows/:id", h.GetEscrow)
	r.GET("/agents/:id/escrows", h.ListAgentEscrows)
}

// RegisterProtectedRoutes sets up the endpoints that move funds.
// Expects auth middleware to have set authAgentAddr.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/escrows", h.CreateEscrow)
	r.POST("/escrows/:id/milestones/:index/proof", h.SubmitProof)
	r.POST("/escrows/:id/cancel", h.CancelEscrow)
}

// RegisterAdminRoutes sets up the operator-only endpoints.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/escrows/sweep", h.Sweep)
}

// CreateEscrow handles POST /escrows
func (h *Handler) CreateEscrow(c *gin.Context) {
	ctx := c.Request.Context()
	logger := logging.L(ctx)

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}
	if callerAddr := c.GetString("authAgentAddr"); callerAddr != "" {
		req.RequesterAddress = callerAddr
	}

	e, err := h.service.Create(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrAgentNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Agent not found",
			})
		case errors.Is(err, ErrInvalidAddress),
			errors.Is(err, ErrInvalidAgentID),
			errors.Is(err, ErrInvalidAmount),
			errors.Is(err, ErrInvalidCurrency),
			errors.Is(err, ErrInvalidMilestones),
			errors.Is(err, ErrInvalidDeadline),
			errors.Is(err, ErrInvalidNetworkPair),
			errors.Is(err, ErrUnknownCondition),
			errors.Is(err, ErrInvalidCondition),
			errors.Is(err, crosschain.ErrInvalidNetworks),
			errors.Is(err, crosschain.ErrUnknownNetwork):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": err.Error(),
			})
		case errors.Is(err, ErrAgentInactive):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "agent_inactive",
				"message": err.Error(),
			})
		case errors.Is(err, ErrPaymentCapExceeded):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "payment_cap_exceeded",
				"message": err.Error(),
			})
		case errors.Is(err, chainled.ErrInsufficientFunds):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "insufficient_funds",
				"message": "Requester balance does not cover the payment",
			})
		case errors.Is(err, crosschain.ErrNetworkNotRegistered):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "network_not_registered",
				"message": err.Error(),
			})
		case errors.Is(err, crosschain.ErrNoBridgeCompatibility):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "no_bridge_compatibility",
				"message": err.Error(),
			})
		default:
			logger.Error("escrow creation failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to create escrow",
			})
		}
		return
	}

	if h.events != nil {
		h.events.EmitEscrowCreated(map[string]interface{}{
			"escrowId":         e.ID,
			"requesterAddress": e.RequesterAddress,
			"agentId":          e.AgentID,
			"amount":           e.PaymentAmount,
			"currency":         e.Currency,
		})
	}

	c.JSON(http.StatusCreated, e)
}

// SubmitProofRequest is the POST /escrows/:id/milestones/:index/proof body.
type SubmitProofRequest struct {
	Proof string `json:"proof" binding:"required"`
}

// SubmitProof handles POST /escrows/:id/milestones/:index/proof
func (h *Handler) SubmitProof(c *gin.Context) {
	ctx := c.Request.Context()
	logger := logging.L(ctx)

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Milestone index must be an integer",
		})
		return
	}

	var req SubmitProofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	outcome, err := h.service.SubmitProof(ctx, c.Param("id"), index, req.Proof)
	if err != nil {
		switch {
		case errors.Is(err, ErrEscrowNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Escrow not found",
			})
		case errors.Is(err, ErrMilestoneOutOfRange), errors.Is(err, ErrUnknownCondition):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": err.Error(),
			})
		case errors.Is(err, ErrConditionFailed):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "condition_failed",
				"message": err.Error(),
			})
		case errors.Is(err, ErrAlreadyReleased):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "already_released",
				"message": err.Error(),
			})
		case errors.Is(err, ErrDeadlinePassed):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "deadline_passed",
				"message": err.Error(),
			})
		case errors.Is(err, ErrTerminalState):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "terminal_state",
				"message": err.Error(),
			})
		case errors.Is(err, ErrEscrowFrozen):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "escrow_frozen",
				"message": err.Error(),
			})
		default:
			logger.Error("milestone proof failed", "escrow_id", c.Param("id"), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to process milestone proof",
			})
		}
		return
	}

	if h.events != nil {
		h.events.EmitMilestoneReleased(map[string]interface{}{
			"escrowId":       outcome.Escrow.ID,
			"agentId":        outcome.Escrow.AgentID,
			"milestoneIndex": outcome.MilestoneIndex,
			"amount":         outcome.AmountReleased,
			"txRef":          outcome.TxRef,
		})
		if outcome.FinalRelease {
			h.events.EmitEscrowResolved(map[string]interface{}{
				"escrowId":         outcome.Escrow.ID,
				"requesterAddress": outcome.Escrow.RequesterAddress,
				"agentId":          outcome.Escrow.AgentID,
				"state":            string(outcome.Escrow.State),
			})
		}
	}

	c.JSON(http.StatusOK, outcome)
}

// CancelEscrow handles POST /escrows/:id/cancel
func (h *Handler) CancelEscrow(c *gin.Context) {
	ctx := c.Request.Context()
	logger := logging.L(ctx)
	callerAddr := c.GetString("authAgentAddr") // Set by auth middleware

	e, err := h.service.Cancel(ctx, c.Param("id"), callerAddr)
	if err != nil {
		switch {
		case errors.Is(err, ErrEscrowNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Escrow not found",
			})
		case errors.Is(err, ErrNotRequester):
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "not_requester",
				"message": err.Error(),
			})
		case errors.Is(err, ErrNotCancellable):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "not_cancellable",
				"message": err.Error(),
			})
		case errors.Is(err, ErrTerminalState):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "terminal_state",
				"message": err.Error(),
			})
		case errors.Is(err, ErrEscrowFrozen):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "escrow_frozen",
				"message": err.Error(),
			})
		default:
			logger.Error("escrow cancel failed", "escrow_id", c.Param("id"), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to cancel escrow",
			})
		}
		return
	}

	if h.events != nil {
		h.events.EmitEscrowResolved(map[string]interface{}{
			"escrowId":         e.ID,
			"requesterAddress": e.RequesterAddress,
			"agentId":          e.AgentID,
			"state":            string(e.State),
		})
	}

	c.JSON(http.StatusOK, e)
}

// Sweep handles POST /escrows/sweep
func (h *Handler) Sweep(c *gin.Context) {
	ctx := c.Request.Context()

	expired, err := h.service.ExpireOverdue(ctx, time.Now())
	if err != nil {
		logging.L(ctx).Error("escrow sweep failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to sweep escrows",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"expired": expired})
}

// GetEscrow handles GET /escrows/:id
func (h *Handler) GetEscrow(c *gin.Context) {
	ctx := c.Request.Context()

	e, err := h.service.Get(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrEscrowNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Escrow not found",
			})
			return
		}
		logging.L(ctx).Error("escrow lookup failed", "escrow_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to get escrow",
		})
		return
	}

	c.JSON(http.StatusOK, e)
}

// ListAgentEscrows handles GET /agents/:id/escrows
func (h *Handler) ListAgentEscrows(c *gin.Context) {
	ctx := c.Request.Context()

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		var err error
		limit, err = strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "Limit must be an integer",
			})
			return
		}
	}

	escrows, next, more, err := h.service.ListByAgent(ctx, c.Param("id"), c.Query("cursor"), limit)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidAgentID), errors.Is(err, ErrInvalidCursor):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": err.Error(),
			})
		default:
			logging.L(ctx).Error("escrow list failed", "agent_id", c.Param("id"), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to list escrows",
			})
		}
		return
	}

	resp := gin.H{"escrows": escrows, "hasMore": more}
	if next != "" {
		resp["nextCursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}
