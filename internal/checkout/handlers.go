package checkout

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/mbd888/tiptap/internal/authn"
	"github.com/mbd888/tiptap/internal/authorize"
	"github.com/mbd888/tiptap/internal/fraud"
	"github.com/mbd888/tiptap/internal/pagination"
	"github.com/mbd888/tiptap/internal/payment"
	"github.com/mbd888/tiptap/internal/validation"
)

// Payments is the orchestrator surface the handler exposes.
type Payments interface {
	Status(ctx context.Context, id string) payment.Result
	Refund(ctx context.Context, req payment.RefundRequest) payment.Result
	Cancel(ctx context.Context, id string) payment.Result
	ListByMerchant(ctx context.Context, merchantID string, limit int, cursor *pagination.Cursor) ([]*payment.Transaction, error)
	Gateways() []payment.Gateway
}

// Handler provides HTTP endpoints for authorization and payments.
type Handler struct {
	service    *Service
	authorizer Authorizer
	payments   Payments
	gate       *authn.Gate
}

// NewHandler creates a payments handler. gate turns request credentials
// into the challenge authorization runs.
func NewHandler(service *Service, authorizer Authorizer, payments Payments, gate *authn.Gate) *Handler {
	return &Handler{service: service, authorizer: authorizer, payments: payments, gate: gate}
}

// RegisterRoutes sets up the payment routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/gateways", h.ListGateways)
	r.POST("/authorize", h.Authorize)
	r.POST("/payments", h.CreatePayment)

	byID := r.Group("/payments/:id", validation.IDParamMiddleware("id"))
	byID.GET("", h.GetPayment)
	byID.POST("/refund", h.RefundPayment)
	byID.POST("/cancel", h.CancelPayment)

	r.GET("/merchants/:merchantId/payments", validation.IDParamMiddleware("merchantId"), h.ListMerchantPayments)
}

// AuthorizeRequest asks for a verdict without charging.
type AuthorizeRequest struct {
	TransactionID string             `json:"transactionId,omitempty"`
	Amount        decimal.Decimal    `json:"amount"`
	MerchantID    string             `json:"merchantId"`
	Location      *fraud.Geolocation `json:"location,omitempty"`
	Credentials   *authn.Credentials `json:"credentials,omitempty"`
}

// PaymentRequest is a checkout: the payment plus what authorization needs.
type PaymentRequest struct {
	payment.Request
	Location    *fraud.Geolocation `json:"location,omitempty"`
	Credentials *authn.Credentials `json:"credentials,omitempty"`
}

// ListGateways handles GET /v1/gateways
func (h *Handler) ListGateways(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"gateways": h.payments.Gateways()})
}

// Authorize handles POST /v1/authorize
func (h *Handler) Authorize(c *gin.Context) {
	var req AuthorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c)
		return
	}
	if !validRequest(c,
		validation.PositiveAmount("amount", req.Amount),
		validation.Required("merchantId", req.MerchantID),
		validation.ValidID("merchantId", req.MerchantID),
		validation.ValidID("transactionId", req.TransactionID),
	) {
		return
	}

	check := h.authorizer.Authorize(c.Request.Context(), authorize.Request{
		TransactionID: req.TransactionID,
		Amount:        req.Amount,
		MerchantID:    req.MerchantID,
		Location:      req.Location,
		Challenger:    req.Credentials.Challenger(h.gate),
	})
	c.JSON(http.StatusOK, gin.H{"authorization": check})
}

// CreatePayment handles POST /v1/payments. An Idempotency-Key header is
// used when the body carries no key.
func (h *Handler) CreatePayment(c *gin.Context) {
	var req PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}
	checks := []func() *validation.ValidationError{
		validation.Required("gatewayId", req.GatewayID),
		validation.Required("merchantId", req.MerchantID),
		validation.ValidID("merchantId", req.MerchantID),
		validation.ValidID("customerId", req.CustomerID),
		validation.ValidID("transactionId", req.TransactionID),
		validation.MaxLength("idempotencyKey", req.IdempotencyKey, validation.MaxIDLength),
		validation.MaxLength("description", req.Description, validation.MaxStringLength),
		validation.ValidCurrency("currency", req.Currency),
		validation.PositiveAmount("amount", req.Amount),
	}
	if req.Tip != nil {
		checks = append(checks, validation.Percentage("tip.percentage", req.Tip.Percentage))
	}
	if !validRequest(c, checks...) {
		return
	}

	out := h.service.Checkout(c.Request.Context(), Request{
		Payment:    req.Request,
		Location:   req.Location,
		Challenger: req.Credentials.Challenger(h.gate),
	})

	switch {
	case out.Payment == nil:
		c.JSON(http.StatusForbidden, gin.H{
			"error":         "authorization_declined",
			"message":       "Payment was not authorized",
			"authorization": out.Authorization,
		})
	case out.Payment.Success:
		c.JSON(http.StatusCreated, out)
	case out.Payment.Err == nil:
		// Accepted by the gateway but not settled yet.
		c.JSON(http.StatusAccepted, out)
	default:
		c.JSON(statusFor(out.Payment.Err.Code), out)
	}
}

// GetPayment handles GET /v1/payments/:id. A transaction awaiting gateway
// confirmation is refreshed first.
func (h *Handler) GetPayment(c *gin.Context) {
	res := h.payments.Status(c.Request.Context(), c.Param("id"))
	if res.Transaction == nil {
		respondResult(c, res, http.StatusOK)
		return
	}
	// A failed refresh still returns the stored transaction.
	c.JSON(http.StatusOK, res)
}

type refundBody struct {
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	Reason         string           `json:"reason,omitempty"`
	IdempotencyKey string           `json:"idempotencyKey,omitempty"`
}

// RefundPayment handles POST /v1/payments/:id/refund
func (h *Handler) RefundPayment(c *gin.Context) {
	var body refundBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			invalidBody(c)
			return
		}
	}
	if body.IdempotencyKey == "" {
		body.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}
	if !validRequest(c,
		validation.MaxLength("reason", body.Reason, validation.MaxStringLength),
		validation.MaxLength("idempotencyKey", body.IdempotencyKey, validation.MaxIDLength),
	) {
		return
	}
	res := h.payments.Refund(c.Request.Context(), payment.RefundRequest{
		TransactionID:  c.Param("id"),
		Amount:         body.Amount,
		Reason:         body.Reason,
		IdempotencyKey: body.IdempotencyKey,
	})
	respondResult(c, res, http.StatusCreated)
}

// CancelPayment handles POST /v1/payments/:id/cancel
func (h *Handler) CancelPayment(c *gin.Context) {
	respondResult(c, h.payments.Cancel(c.Request.Context(), c.Param("id")), http.StatusOK)
}

// ListMerchantPayments handles GET /v1/merchants/:merchantId/payments
func (h *Handler) ListMerchantPayments(c *gin.Context) {
	limit := pagination.Limit(c.Query("limit"), 50, 200)
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": err.Error()})
		return
	}

	txs, err := h.payments.ListByMerchant(c.Request.Context(), c.Param("merchantId"), limit+1, cursor)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list payments",
		})
		return
	}
	txs, next, hasMore := pagination.ComputePage(txs, limit, func(tx *payment.Transaction) (time.Time, string) {
		return tx.CreatedAt, tx.ID
	})
	if txs == nil {
		txs = []*payment.Transaction{}
	}
	c.JSON(http.StatusOK, gin.H{
		"transactions": txs,
		"count":        len(txs),
		"next_cursor":  next,
		"has_more":     hasMore,
	})
}

func respondResult(c *gin.Context, res payment.Result, okStatus int) {
	switch {
	case res.Success:
		c.JSON(okStatus, res)
	case res.Err == nil:
		c.JSON(http.StatusAccepted, res)
	default:
		c.JSON(statusFor(res.Err.Code), res)
	}
}

// statusFor maps a payment error code onto an HTTP status.
func statusFor(code payment.ErrorCode) int {
	switch code {
	case payment.CodeInvalidGateway, payment.CodeInvalidAmount, payment.CodeInvalidCurrency,
		payment.CodeInvalidPaymentMethod:
		return http.StatusBadRequest
	case payment.CodeTransactionNotFound:
		return http.StatusNotFound
	case payment.CodeInvalidTransactionStatus:
		return http.StatusConflict
	case payment.CodeCardDeclined, payment.CodeInsufficientFunds, payment.CodeExpiredCard,
		payment.CodeInvalidCVC, payment.CodeRefundFailed:
		return http.StatusPaymentRequired
	case payment.CodeUserCancelled:
		return http.StatusConflict
	case payment.CodeGatewayTimeout:
		return http.StatusGatewayTimeout
	case payment.CodeGatewayUnavailable, payment.CodeNetworkError, payment.CodeAPIError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func validRequest(c *gin.Context, validators ...func() *validation.ValidationError) bool {
	if errs := validation.Validate(validators...); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return false
	}
	return true
}

func invalidBody(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"message": "Invalid request body",
	})
}
