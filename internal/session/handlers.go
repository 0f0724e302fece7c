package session

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/tiptap/internal/authn"
	"github.com/mbd888/tiptap/internal/validation"
)

// Handler provides HTTP endpoints for the session lifecycle.
type Handler struct {
	manager *Manager
	gate    *authn.Gate
}

// NewHandler creates a session handler. gate runs unlock challenges from
// credentials in the request body.
func NewHandler(manager *Manager, gate *authn.Gate) *Handler {
	return &Handler{manager: manager, gate: gate}
}

// RegisterRoutes sets up the session routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/sessions", h.Start)
	r.GET("/sessions/current", h.Current)
	r.DELETE("/sessions/current", h.End)
	r.POST("/sessions/activity", h.Activity)
	r.POST("/sessions/lock", h.Lock)
	r.POST("/sessions/background", h.Background)
	r.POST("/sessions/foreground", h.Foreground)
	r.POST("/sessions/unlock", h.Unlock)
}

// StartRequest begins a session.
type StartRequest struct {
	UserID string `json:"userId" binding:"required"`
}

// Start handles POST /v1/sessions
func (h *Handler) Start(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if errs := validation.Validate(validation.ValidID("userId", req.UserID)); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	s, err := h.manager.Start(c.Request.Context(), req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": s})
}

// Current handles GET /v1/sessions/current
func (h *Handler) Current(c *gin.Context) {
	s, ok := h.manager.Current()
	if !ok {
		respondError(c, ErrNoSession)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": s})
}

// End handles DELETE /v1/sessions/current
func (h *Handler) End(c *gin.Context) {
	h.transition(c, h.manager.End(c.Request.Context()))
}

// Activity handles POST /v1/sessions/activity
func (h *Handler) Activity(c *gin.Context) {
	h.transition(c, h.manager.UpdateActivity(c.Request.Context()))
}

// Lock handles POST /v1/sessions/lock
func (h *Handler) Lock(c *gin.Context) {
	h.transition(c, h.manager.Lock(c.Request.Context()))
}

// Background handles POST /v1/sessions/background
func (h *Handler) Background(c *gin.Context) {
	h.transition(c, h.manager.Background(c.Request.Context()))
}

// Foreground handles POST /v1/sessions/foreground
func (h *Handler) Foreground(c *gin.Context) {
	h.transition(c, h.manager.Foreground(c.Request.Context()))
}

// Unlock handles POST /v1/sessions/unlock. The body carries the biometric
// outcome and optional PIN collected by the app.
func (h *Handler) Unlock(c *gin.Context) {
	var creds authn.Credentials
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&creds); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "Invalid request body",
			})
			return
		}
	}
	h.transition(c, h.manager.UnlockWith(c.Request.Context(), creds.Challenger(h.gate)))
}

func (h *Handler) transition(c *gin.Context, err error) {
	if err != nil {
		respondError(c, err)
		return
	}
	s, _ := h.manager.Current()
	c.JSON(http.StatusOK, gin.H{"session": s})
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidUserID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_user", "message": err.Error()})
	case errors.Is(err, ErrNoSession):
		c.JSON(http.StatusNotFound, gin.H{"error": "no_session", "message": "No session"})
	case errors.Is(err, ErrAuthFailed):
		body := gin.H{"error": "auth_failed", "message": "Authentication failed"}
		switch {
		case errors.Is(err, authn.ErrPINLockedOut):
			body["reason"] = "pin_locked_out"
		case errors.Is(err, authn.ErrChallengeCancelled), errors.Is(err, authn.ErrChallengeTimeout):
			body["reason"] = "cancelled"
		}
		c.JSON(http.StatusUnauthorized, body)
	case errors.Is(err, ErrNotActive), errors.Is(err, ErrEnded), errors.Is(err, ErrStateChanged):
		c.JSON(http.StatusConflict, gin.H{"error": "session_state", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Session operation failed"})
	}
}
