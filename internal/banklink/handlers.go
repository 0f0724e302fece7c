package banklink

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/tiptap/internal/session"
	"github.com/mbd888/tiptap/internal/validation"
)

// Sessions exposes the signed-in user.
type Sessions interface {
	Current() (session.Session, bool)
}

// Handler provides HTTP endpoints for bank linking. Every route acts on
// the user of the active session.
type Handler struct {
	linker   *Linker
	sessions Sessions
}

// NewHandler creates a bank link handler.
func NewHandler(linker *Linker, sessions Sessions) *Handler {
	return &Handler{linker: linker, sessions: sessions}
}

// RegisterRoutes sets up the bank link routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/banklink/token", h.CreateLinkToken)
	r.POST("/banklink/exchange", h.Exchange)
	r.GET("/banklink/items", h.ListItems)
	r.DELETE("/banklink/items/:itemId", validation.IDParamMiddleware("itemId"), h.Unlink)
}

func (h *Handler) user(c *gin.Context) (string, bool) {
	s, ok := h.sessions.Current()
	if !ok || !s.Active() {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "session_required",
			"message": "An active session is required",
		})
		return "", false
	}
	return s.UserID, true
}

// CreateLinkToken handles POST /v1/banklink/token
func (h *Handler) CreateLinkToken(c *gin.Context) {
	userID, ok := h.user(c)
	if !ok {
		return
	}
	tok, err := h.linker.CreateLinkToken(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tok)
}

// Exchange handles POST /v1/banklink/exchange
func (h *Handler) Exchange(c *gin.Context) {
	userID, ok := h.user(c)
	if !ok {
		return
	}
	var req ExchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	req.InstitutionName = validation.SanitizeString(req.InstitutionName, validation.MaxStringLength)
	item, err := h.linker.Exchange(c.Request.Context(), userID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"item": item})
}

// ListItems handles GET /v1/banklink/items
func (h *Handler) ListItems(c *gin.Context) {
	userID, ok := h.user(c)
	if !ok {
		return
	}
	items, err := h.linker.Items(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	if items == nil {
		items = []Item{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// Unlink handles DELETE /v1/banklink/items/:itemId
func (h *Handler) Unlink(c *gin.Context) {
	userID, ok := h.user(c)
	if !ok {
		return
	}
	if err := h.linker.Unlink(c.Request.Context(), userID, c.Param("itemId")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func respondError(c *gin.Context, err error) {
	var apiErr *APIError
	switch {
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrInvalidUserID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	case errors.Is(err, ErrAlreadyInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "link_in_progress", "message": "A bank link attempt is already in progress"})
	case errors.Is(err, ErrNotLinked):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Bank item not linked"})
	case errors.As(err, &apiErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "plaid_error", "code": apiErr.Code, "message": apiErr.Message})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Bank link failed"})
	}
}
