package tip

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/mbd888/tiptap/internal/validation"
)

// MaxSplit bounds the number of shares a split may produce.
const MaxSplit = 100

// Handler provides HTTP endpoints for tip calculation.
type Handler struct{}

// NewHandler creates a tip handler.
func NewHandler() *Handler { return &Handler{} }

// RegisterRoutes sets up the tip routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/tips/presets", h.Presets)
	r.POST("/tips/calculate", h.Calculate)
	r.POST("/tips/split", h.Split)
}

// CalculateRequest computes a tip. When TotalAmount is set instead of
// BaseAmount the base is recovered from the tip-inclusive total.
type CalculateRequest struct {
	BaseAmount      decimal.Decimal  `json:"baseAmount"`
	TotalAmount     *decimal.Decimal `json:"totalAmount,omitempty"`
	TipPercentage   decimal.Decimal  `json:"tipPercentage"`
	CustomTipAmount *decimal.Decimal `json:"customTipAmount,omitempty"`
	Currency        string           `json:"currency"`
	Rounding        string           `json:"rounding,omitempty"`
}

// SplitRequest splits a calculation between People.
type SplitRequest struct {
	CalculateRequest
	People int `json:"people"`
}

// Response is a calculation plus display strings.
type Response struct {
	Calculation
	FormattedTip   string `json:"formattedTip"`
	FormattedTotal string `json:"formattedTotal"`
}

func respond(c Calculation) Response {
	return Response{
		Calculation:    c,
		FormattedTip:   Format(c.TipAmount, c.Currency),
		FormattedTotal: Format(c.TotalAmount, c.Currency),
	}
}

// Presets handles GET /v1/tips/presets
func (h *Handler) Presets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"presets": Presets()})
}

// Calculate handles POST /v1/tips/calculate
func (h *Handler) Calculate(c *gin.Context) {
	var req CalculateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c)
		return
	}
	calc, ok := compute(c, req)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, respond(calc))
}

// Split handles POST /v1/tips/split
func (h *Handler) Split(c *gin.Context) {
	var req SplitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c)
		return
	}
	if req.People > MaxSplit {
		respondError(c, ErrInvalidPeople)
		return
	}
	calc, ok := compute(c, req.CalculateRequest)
	if !ok {
		return
	}
	shares, err := Split(calc, req.People)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]Response, len(shares))
	for i, s := range shares {
		out[i] = respond(s)
	}
	c.JSON(http.StatusOK, gin.H{"total": respond(calc), "shares": out})
}

func compute(c *gin.Context, req CalculateRequest) (Calculation, bool) {
	if errs := validation.Validate(
		validation.Percentage("tipPercentage", req.TipPercentage),
		validation.OneOf("rounding", req.Rounding, string(RoundNearest), string(RoundUp), string(RoundDown)),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return Calculation{}, false
	}

	var (
		calc Calculation
		err  error
	)
	if req.TotalAmount != nil && req.BaseAmount.IsZero() {
		calc, err = FromTotal(*req.TotalAmount, req.TipPercentage, req.Currency)
	} else {
		calc, err = Calculate(Input{
			BaseAmount:      req.BaseAmount,
			TipPercentage:   req.TipPercentage,
			CustomTipAmount: req.CustomTipAmount,
			Currency:        req.Currency,
			Rounding:        ParseRounding(req.Rounding),
		})
	}
	if err != nil {
		respondError(c, err)
		return Calculation{}, false
	}
	return calc, true
}

func invalidBody(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"message": "Invalid request body",
	})
}

func respondError(c *gin.Context, err error) {
	code := "invalid_amount"
	switch {
	case errors.Is(err, ErrInvalidCurrency):
		code = "invalid_currency"
	case errors.Is(err, ErrInvalidPeople):
		code = "invalid_people"
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": code, "message": err.Error()})
}
