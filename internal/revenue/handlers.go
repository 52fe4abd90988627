package revenue

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/accordproto/accord/internal/logging"
	"github.com/accordproto/accord/internal/validation"
)

// EventEmitter broadcasts revenue activity to real-time subscribers.
type EventEmitter interface {
	EmitRevenueDistributed(data map[string]interface{})
	EmitRevenueClaimed(data map[string]interface{})
}

// Handler exposes revenue sharing over HTTP.
type Handler struct {
	service *Service
	events  EventEmitter // optional
}

// NewHandler creates a new revenue handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// WithEvents adds an event emitter to the handler.
func (h *Handler) WithEvents(events EventEmitter) *Handler {
	h.events = events
	return h
}

// RegisterRoutes sets up the read-only revenue endpoints. Claim
// listings are not included here: they expose per-address payout
// history, so the server registers them behind an ownership check.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/revenue/pool", h.GetPool)
	r.GET("/revenue/shares/:address", h.GetShare)
	r.GET("/revenue/distributions", h.ListDistributions)
}

// RegisterProtectedRoutes sets up the endpoints that move funds.
// Expects auth middleware to have set authAgentAddr.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/revenue/claim", h.ClaimRewards)
}

// RegisterAdminRoutes sets up the operator-only endpoints.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/revenue/holders", h.UpsertHolder)
	r.POST("/revenue/distribute", h.Distribute)
	r.POST("/revenue/distribute/pool", h.DistributePool)
}

// UpsertHolder handles POST /revenue/holders
func (h *Handler) UpsertHolder(c *gin.Context) {
	ctx := c.Request.Context()
	logger := logging.L(ctx)

	var req UpsertHolderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidAddress("recipientAddress", req.RecipientAddress),
		validation.ValidScore("contributionScore", req.ContributionScore),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	share, err := h.service.UpsertHolder(ctx, req.RecipientAddress, req.ParticipationTokens, req.ContributionScore)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidRecipient), errors.Is(err, ErrInvalidScore):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": err.Error(),
			})
		default:
			logger.Error("holder upsert failed", "recipient", req.RecipientAddress, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to upsert holder",
			})
		}
		return
	}

	c.JSON(http.StatusOK, share)
}

// Distribute handles POST /revenue/distribute
func (h *Handler) Distribute(c *gin.Context) {
	ctx := c.Request.Context()
	logger := logging.L(ctx)

	var req DistributeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidAmount("totalRevenue", req.TotalRevenue),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	dist, err := h.service.Distribute(ctx, req.TotalRevenue, req.PeriodID)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": err.Error(),
			})
		case errors.Is(err, ErrAlreadyDistributed):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "already_distributed",
				"message": err.Error(),
			})
		case errors.Is(err, ErrPeriodOutOfOrder):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "period_out_of_order",
				"message": err.Error(),
			})
		case errors.Is(err, ErrNoHolders):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "no_holders",
				"message": err.Error(),
			})
		default:
			logger.Error("distribution failed", "period_id", req.PeriodID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to distribute revenue",
			})
		}
		return
	}

	h.emitDistribution(dist)
	c.JSON(http.StatusOK, dist)
}

// DistributePool handles POST /revenue/distribute/pool
func (h *Handler) DistributePool(c *gin.Context) {
	ctx := c.Request.Context()
	logger := logging.L(ctx)

	dist, err := h.service.DistributePool(ctx)
	if err != nil {
		if errors.Is(err, ErrNoHolders) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "no_holders",
				"message": err.Error(),
			})
			return
		}
		logger.Error("pool distribution failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to distribute pool revenue",
		})
		return
	}
	if dist == nil {
		c.JSON(http.StatusOK, gin.H{"distributed": false})
		return
	}

	h.emitDistribution(dist)
	c.JSON(http.StatusOK, gin.H{"distributed": true, "distribution": dist})
}

func (h *Handler) emitDistribution(dist *Distribution) {
	if h.events == nil {
		return
	}
	h.events.EmitRevenueDistributed(map[string]interface{}{
		"periodId":     dist.PeriodID,
		"totalRevenue": dist.TotalRevenue,
		"holderCount":  dist.HolderCount,
	})
}

// ClaimRewards handles POST /revenue/claim
func (h *Handler) ClaimRewards(c *gin.Context) {
	ctx := c.Request.Context()
	logger := logging.L(ctx)
	callerAddr := c.GetString("authAgentAddr") // Set by auth middleware
	if callerAddr == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Authentication required",
		})
		return
	}

	claim, err := h.service.Claim(ctx, callerAddr)
	if err != nil {
		switch {
		case errors.Is(err, ErrShareNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No revenue share for this address",
			})
		case errors.Is(err, ErrNothingToClaim):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "nothing_to_claim",
				"message": err.Error(),
			})
		default:
			logger.Error("reward claim failed", "recipient", callerAddr, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to claim rewards",
			})
		}
		return
	}

	if h.events != nil {
		h.events.EmitRevenueClaimed(map[string]interface{}{
			"recipient": claim.RecipientAddress,
			"amount":    claim.Amount,
			"periodId":  claim.PeriodID,
			"txRef":     claim.TxRef,
		})
	}

	c.JSON(http.StatusOK, claim)
}

// GetPool handles GET /revenue/pool
func (h *Handler) GetPool(c *gin.Context) {
	ctx := c.Request.Context()

	status, err := h.service.PoolStatus(ctx)
	if err != nil {
		logging.L(ctx).Error("pool status failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to get pool status",
		})
		return
	}

	c.JSON(http.StatusOK, status)
}

// GetShare handles GET /revenue/shares/:address
func (h *Handler) GetShare(c *gin.Context) {
	ctx := c.Request.Context()

	share, err := h.service.GetShare(ctx, c.Param("address"))
	if err != nil {
		switch {
		case errors.Is(err, ErrShareNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Revenue share not found",
			})
		case errors.Is(err, ErrInvalidRecipient):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": err.Error(),
			})
		default:
			logging.L(ctx).Error("share lookup failed", "recipient", c.Param("address"), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to get revenue share",
			})
		}
		return
	}

	c.JSON(http.StatusOK, share)
}

// ListDistributions handles GET /revenue/distributions
func (h *Handler) ListDistributions(c *gin.Context) {
	ctx := c.Request.Context()

	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	dists, err := h.service.ListDistributions(ctx, limit)
	if err != nil {
		logging.L(ctx).Error("distribution list failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list distributions",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"distributions": dists})
}

// ListClaims handles GET /revenue/claims/:address
func (h *Handler) ListClaims(c *gin.Context) {
	ctx := c.Request.Context()

	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	claims, err := h.service.ListClaims(ctx, c.Param("address"), limit)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidRecipient):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": err.Error(),
			})
		default:
			logging.L(ctx).Error("claim list failed", "recipient", c.Param("address"), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to list claims",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"claims": claims})
}

func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Limit must be an integer",
		})
		return 0, false
	}
	return limit, true
}
