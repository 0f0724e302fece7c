// Package validation provides input validation helpers and middleware for the
// TipTap API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// MaxRequestSize is the maximum request body size (64KB)
const MaxRequestSize = 64 << 10

// MaxStringLength is the maximum length for free-text fields
const MaxStringLength = 500

// MaxIDLength bounds client-supplied identifiers.
const MaxIDLength = 128

var (
	idRegex       = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)
	currencyRegex = regexp.MustCompile(`^[A-Za-z]{3}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidID reports whether s is a usable identifier: non-empty, bounded,
// and limited to letters, digits, underscore and dash.
func IsValidID(s string) bool {
	return len(s) > 0 && len(s) <= MaxIDLength && idRegex.MatchString(s)
}

// IsValidCurrency checks for a 3-letter currency code.
func IsValidCurrency(s string) bool {
	return currencyRegex.MatchString(s)
}

// SanitizeString trims whitespace, drops null bytes and limits length.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\x00", "")
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate runs validators and collects their errors.
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// ValidID checks an optional identifier field.
func ValidID(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidID(value) {
			return &ValidationError{Field: field, Message: "must contain only letters, digits, '_' or '-'"}
		}
		return nil
	}
}

// ValidCurrency checks an optional currency code.
func ValidCurrency(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidCurrency(value) {
			return &ValidationError{Field: field, Message: "must be a 3-letter currency code"}
		}
		return nil
	}
}

// PositiveAmount checks that amount is greater than zero.
func PositiveAmount(field string, amount decimal.Decimal) func() *ValidationError {
	return func() *ValidationError {
		if !amount.IsPositive() {
			return &ValidationError{Field: field, Message: "amount must be greater than zero"}
		}
		return nil
	}
}

// Percentage checks that pct lies in [0, 100].
func Percentage(field string, pct decimal.Decimal) func() *ValidationError {
	return func() *ValidationError {
		if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
			return &ValidationError{Field: field, Message: "must be between 0 and 100"}
		}
		return nil
	}
}

// OneOf checks that an optional value is in the allowed set.
func OneOf(field, value string, allowed ...string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		for _, a := range allowed {
			if value == a {
				return nil
			}
		}
		return &ValidationError{Field: field, Message: "must be one of " + strings.Join(allowed, ", ")}
	}
}

// IDParamMiddleware rejects malformed :name URL parameters early.
func IDParamMiddleware(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := c.Param(name); id != "" && !IsValidID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_" + name,
				"message": name + " must contain only letters, digits, '_' or '-'",
			})
			return
		}
		c.Next()
	}
}
