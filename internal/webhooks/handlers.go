package webhooks

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides the gateway callback endpoints.
type Handler struct {
	processor *Processor
}

// NewHandler creates a new webhook handler
func NewHandler(processor *Processor) *Handler {
	return &Handler{processor: processor}
}

// RegisterRoutes sets up webhook routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/stripe", h.StripeEvent)
}

// StripeEvent handles POST /v1/webhooks/stripe. Any non-2xx response makes
// Stripe deliver the event again.
func (h *Handler) StripeEvent(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Could not read request body",
		})
		return
	}

	out, err := h.processor.HandleStripe(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	switch {
	case errors.Is(err, ErrInvalidSignature):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_signature",
			"message": "Webhook signature verification failed",
		})
	case errors.Is(err, ErrMalformedEvent):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "malformed_event",
			"message": err.Error(),
		})
	case err != nil:
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "processing_failed",
			"message": "Event could not be applied, retry later",
		})
	default:
		c.JSON(http.StatusOK, out)
	}
}
