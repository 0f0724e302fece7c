package authn

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Credentials is the outcome of a challenge the native shell already ran,
// carried in a request body. NativeErrorCode takes precedence over
// BiometricOutcome when both are present.
type Credentials struct {
	BiometricAvailable bool             `json:"biometricAvailable"`
	BiometricType      BiometricType    `json:"biometricType,omitempty"`
	BiometricOutcome   BiometricOutcome `json:"biometricOutcome,omitempty"`
	NativeErrorCode    *string          `json:"nativeErrorCode,omitempty"`
	PIN                string           `json:"pin,omitempty"`
}

// Challenger binds the credentials to gate. A nil receiver yields a gate
// with no biometric sensor and a dismissed PIN prompt.
func (c *Credentials) Challenger(gate *Gate) Challenger {
	if c == nil {
		return gate.With(nil, StaticPIN(""))
	}
	outcome := c.BiometricOutcome
	if c.NativeErrorCode != nil {
		outcome = ClassifyNativeError(*c.NativeErrorCode)
	}
	if outcome == "" {
		outcome = BiometricUnavailable
	}
	typ := c.BiometricType
	if typ == "" {
		typ = BiometricNone
	}
	bio := StaticBiometric{
		Availability: Availability{Available: c.BiometricAvailable, Type: typ},
		Outcome:      outcome,
	}
	return gate.With(bio, StaticPIN(c.PIN))
}

// Handler provides HTTP endpoints for PIN management.
type Handler struct {
	pins *PINAuthenticator
}

// NewHandler creates a PIN handler.
func NewHandler(pins *PINAuthenticator) *Handler {
	return &Handler{pins: pins}
}

// RegisterRoutes sets up the PIN routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/pin", h.Status)
	r.POST("/pin", h.Setup)
	r.PUT("/pin", h.Change)
	r.DELETE("/pin", h.Remove)
}

type setupRequest struct {
	PIN     string `json:"pin" binding:"required"`
	Confirm string `json:"confirmPin" binding:"required"`
}

type changeRequest struct {
	Current string `json:"currentPin" binding:"required"`
	PIN     string `json:"pin" binding:"required"`
	Confirm string `json:"confirmPin" binding:"required"`
}

type removeRequest struct {
	Current string `json:"currentPin" binding:"required"`
}

// Status handles GET /v1/pin
func (h *Handler) Status(c *gin.Context) {
	st, err := h.pins.Status(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// Setup handles POST /v1/pin
func (h *Handler) Setup(c *gin.Context) {
	var req setupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c)
		return
	}
	if err := h.pins.Setup(c.Request.Context(), req.PIN, req.Confirm); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"set": true})
}

// Change handles PUT /v1/pin
func (h *Handler) Change(c *gin.Context) {
	var req changeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c)
		return
	}
	if err := h.pins.Change(c.Request.Context(), req.Current, req.PIN, req.Confirm); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"set": true})
}

// Remove handles DELETE /v1/pin
func (h *Handler) Remove(c *gin.Context) {
	var req removeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c)
		return
	}
	if err := h.pins.Remove(c.Request.Context(), req.Current); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"set": false})
}

func invalidBody(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"message": "Invalid request body",
	})
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidPINFormat), errors.Is(err, ErrPINMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_pin", "message": err.Error()})
	case errors.Is(err, ErrPINNotSet):
		c.JSON(http.StatusNotFound, gin.H{"error": "pin_not_set", "message": "No PIN is configured"})
	case errors.Is(err, ErrIncorrectPIN):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "incorrect_pin", "message": "Current PIN is incorrect"})
	case errors.Is(err, ErrPINLockedOut):
		c.JSON(http.StatusLocked, gin.H{"error": "pin_locked_out", "message": "Too many incorrect attempts"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "PIN operation failed"})
	}
}
