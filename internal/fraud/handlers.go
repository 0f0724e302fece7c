package fraud

import (
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/tiptap/internal/pagination"
	"github.com/mbd888/tiptap/internal/validation"
)

// Handler provides HTTP endpoints for fraud administration.
type Handler struct {
	detector *Detector
}

// NewHandler creates a fraud handler.
func NewHandler(detector *Detector) *Handler {
	return &Handler{detector: detector}
}

// RegisterRoutes sets up the fraud routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/fraud/blocked-devices", h.ListBlocked)
	r.POST("/fraud/blocked-devices", h.Block)
	r.DELETE("/fraud/blocked-devices/:deviceId", validation.IDParamMiddleware("deviceId"), h.Unblock)
	r.GET("/fraud/config", h.GetConfig)
	r.PUT("/fraud/config", h.UpdateConfig)
	r.GET("/fraud/history", h.History)
}

type blockRequest struct {
	DeviceID string `json:"deviceId" binding:"required"`
}

// ListBlocked handles GET /v1/fraud/blocked-devices
func (h *Handler) ListBlocked(c *gin.Context) {
	set, err := h.detector.BlockedDevices(c.Request.Context())
	if err != nil {
		internalError(c, "Failed to load blocked devices")
		return
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	c.JSON(http.StatusOK, gin.H{"devices": ids})
}

// Block handles POST /v1/fraud/blocked-devices
func (h *Handler) Block(c *gin.Context) {
	var req blockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if !validation.IsValidID(req.DeviceID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "deviceId: must contain only letters, digits, '_' or '-'",
		})
		return
	}
	if err := h.detector.BlockDevice(c.Request.Context(), req.DeviceID); err != nil {
		internalError(c, "Failed to block device")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"deviceId": req.DeviceID, "blocked": true})
}

// Unblock handles DELETE /v1/fraud/blocked-devices/:deviceId
func (h *Handler) Unblock(c *gin.Context) {
	id := c.Param("deviceId")
	if err := h.detector.UnblockDevice(c.Request.Context(), id); err != nil {
		internalError(c, "Failed to unblock device")
		return
	}
	c.JSON(http.StatusOK, gin.H{"deviceId": id, "blocked": false})
}

// GetConfig handles GET /v1/fraud/config
func (h *Handler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.detector.Config(c.Request.Context()))
}

// UpdateConfig handles PUT /v1/fraud/config
func (h *Handler) UpdateConfig(c *gin.Context) {
	var cfg Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if err := h.detector.UpdateConfig(c.Request.Context(), cfg); err != nil {
		if errors.Is(err, ErrInvalidConfig) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_config", "message": err.Error()})
			return
		}
		internalError(c, "Failed to save fraud config")
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// History handles GET /v1/fraud/history. Newest attempts come first.
func (h *Handler) History(c *gin.Context) {
	limit := pagination.Limit(c.Query("limit"), 50, 500)
	attempts, err := h.detector.History(c.Request.Context())
	if err != nil {
		internalError(c, "Failed to load fraud history")
		return
	}
	out := make([]Attempt, 0, min(limit, len(attempts)))
	for i := len(attempts) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, attempts[i])
	}
	c.JSON(http.StatusOK, gin.H{"attempts": out, "count": len(out)})
}

func internalError(c *gin.Context, msg string) {
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": msg})
}
