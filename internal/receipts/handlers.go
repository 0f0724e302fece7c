package receipts

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/tiptap/internal/payment"
	"github.com/mbd888/tiptap/internal/validation"
)

// Transactions looks up the transaction a receipt is issued for.
type Transactions interface {
	Get(ctx context.Context, id string) (*payment.Transaction, error)
}

// Handler provides HTTP endpoints for receipt operations.
type Handler struct {
	issuer *Issuer
	txs    Transactions
}

// NewHandler creates a new receipt handler.
func NewHandler(issuer *Issuer, txs Transactions) *Handler {
	return &Handler{issuer: issuer, txs: txs}
}

// RegisterRoutes sets up receipt routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/payments/:id/receipt", validation.IDParamMiddleware("id"), h.GetReceipt)
	r.POST("/receipts/verify", h.VerifyReceipt)
}

// GetReceipt handles GET /v1/payments/:id/receipt. ?format=text returns
// the plain-text rendering.
func (h *Handler) GetReceipt(c *gin.Context) {
	tx, err := h.txs.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, payment.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Transaction not found",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load transaction",
		})
		return
	}

	receipt, err := h.issuer.Issue(tx)
	if errors.Is(err, ErrNotSettled) {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "not_settled",
			"message": err.Error(),
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	if c.Query("format") == "text" {
		c.String(http.StatusOK, Text(receipt))
		return
	}
	c.JSON(http.StatusOK, gin.H{"receipt": receipt})
}

// VerifyReceipt handles POST /v1/receipts/verify
func (h *Handler) VerifyReceipt(c *gin.Context) {
	var req Receipt
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"verification": h.issuer.Verify(req)})
}
