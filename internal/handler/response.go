// Package handler implements the HTTP surface: event ingest, the payment
// gateway webhook, and the admin surface. Each handler binds and validates
// the request, calls one service, and maps the result onto an RFC 7807
// problem-details error shape.
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ledgerforge/meterbill/internal/domain"
)

// ProblemDetails is the RFC 7807 error response shape.
type ProblemDetails struct {
	Type     string            `json:"type"`
	Title    string            `json:"title"`
	Status   int               `json:"status"`
	Detail   string            `json:"detail,omitempty"`
	Instance string            `json:"instance,omitempty"`
	Errors   []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

const (
	errorTypeValidation   = "https://meterbill.dev/errors/validation"
	errorTypeNotFound     = "https://meterbill.dev/errors/not-found"
	errorTypeUnauthorized = "https://meterbill.dev/errors/unauthorized"
	errorTypeForbidden    = "https://meterbill.dev/errors/forbidden"
	errorTypeConflict     = "https://meterbill.dev/errors/conflict"
	errorTypeInternal     = "https://meterbill.dev/errors/internal"
)

func problem(c echo.Context, status int, errType, title, detail string) error {
	return c.JSON(status, ProblemDetails{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Request().URL.Path,
	})
}

func newValidationError(c echo.Context, detail string) error {
	return problem(c, http.StatusBadRequest, errorTypeValidation, "Validation Error", detail)
}

func newNotFoundError(c echo.Context, detail string) error {
	return problem(c, http.StatusNotFound, errorTypeNotFound, "Not Found", detail)
}

func newForbiddenError(c echo.Context, detail string) error {
	return problem(c, http.StatusForbidden, errorTypeForbidden, "Forbidden", detail)
}

func newConflictError(c echo.Context, detail string) error {
	return problem(c, http.StatusConflict, errorTypeConflict, "Conflict", detail)
}

func newInternalError(c echo.Context, detail string) error {
	return problem(c, http.StatusInternalServerError, errorTypeInternal, "Internal Server Error", detail)
}

// mapDomainError translates a core error into the HTTP response its kind
// mandates: validation -> 400, not-found -> 404, conflict -> the winning
// entity, everything else -> 500.
func mapDomainError(c echo.Context, err error) error {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return newValidationError(c, ve.Error())
	}
	var ce *domain.ConflictError
	if errors.As(err, &ce) {
		return newConflictError(c, ce.Error())
	}
	if errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrOrganisationNotFound) ||
		errors.Is(err, domain.ErrProjectNotFound) ||
		errors.Is(err, domain.ErrInvoiceNotFound) ||
		errors.Is(err, domain.ErrPaymentNotFound) ||
		errors.Is(err, domain.ErrRefundNotFound) ||
		errors.Is(err, domain.ErrAlertNotFound) ||
		errors.Is(err, domain.ErrPricingNotFound) ||
		errors.Is(err, domain.ErrExchangeRateMissing) {
		return newNotFoundError(c, err.Error())
	}
	if errors.Is(err, domain.ErrForbidden) {
		return newForbiddenError(c, err.Error())
	}
	return newInternalError(c, err.Error())
}

func parseLimitOffset(c echo.Context) (limit, offset int) {
	limit, offset = 50, 0
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
