package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/ledgerforge/meterbill/internal/currency"
	"github.com/ledgerforge/meterbill/internal/domain"
)

// ExchangeRateHandler serves the admin "exchange rates CRUD + sync" surface.
type ExchangeRateHandler struct {
	svc *currency.Service
}

func NewExchangeRateHandler(svc *currency.Service) *ExchangeRateHandler {
	return &ExchangeRateHandler{svc: svc}
}

type exchangeRateRequest struct {
	Base          string `json:"base"`
	Target        string `json:"target"`
	Rate          string `json:"rate"`
	EffectiveFrom string `json:"effective_from,omitempty"`
	Source        string `json:"source,omitempty"`
}

type exchangeRateResponse struct {
	ID            string  `json:"id"`
	Base          string  `json:"base"`
	Target        string  `json:"target"`
	Rate          string  `json:"rate"`
	EffectiveFrom string  `json:"effective_from"`
	EffectiveTo   *string `json:"effective_to,omitempty"`
	Source        string  `json:"source"`
}

func toExchangeRateResponse(r *domain.ExchangeRate) exchangeRateResponse {
	out := exchangeRateResponse{
		ID:            r.ID,
		Base:          r.Base,
		Target:        r.Target,
		Rate:          r.Rate.String(),
		EffectiveFrom: r.EffectiveFrom.Format(time.RFC3339),
		Source:        r.Source,
	}
	if r.EffectiveTo != nil {
		s := r.EffectiveTo.Format(time.RFC3339)
		out.EffectiveTo = &s
	}
	return out
}

// Upsert serves POST /admin/exchange-rates.
func (h *ExchangeRateHandler) Upsert(c echo.Context) error {
	var req exchangeRateRequest
	if err := c.Bind(&req); err != nil {
		return newValidationError(c, "invalid request body")
	}
	if req.Base == "" || req.Target == "" {
		return newValidationError(c, "base and target are required")
	}
	rate, err := decimal.NewFromString(req.Rate)
	if err != nil {
		return newValidationError(c, "rate must be a number")
	}

	effectiveFrom := time.Now().UTC()
	if req.EffectiveFrom != "" {
		effectiveFrom, err = time.Parse(time.RFC3339, req.EffectiveFrom)
		if err != nil {
			return newValidationError(c, "effective_from must be RFC3339")
		}
	}
	source := req.Source
	if source == "" {
		source = "manual"
	}

	rec := &domain.ExchangeRate{Base: req.Base, Target: req.Target, Rate: rate, EffectiveFrom: effectiveFrom, Source: source}
	if err := h.svc.Upsert(c.Request().Context(), rec); err != nil {
		return mapDomainError(c, err)
	}
	return c.JSON(http.StatusOK, toExchangeRateResponse(rec))
}

// List serves GET /admin/exchange-rates?base=INR.
func (h *ExchangeRateHandler) List(c echo.Context) error {
	list, err := h.svc.List(c.Request().Context(), c.QueryParam("base"))
	if err != nil {
		return mapDomainError(c, err)
	}
	out := make([]exchangeRateResponse, 0, len(list))
	for _, r := range list {
		out = append(out, toExchangeRateResponse(r))
	}
	return c.JSON(http.StatusOK, out)
}

// Sync serves POST /admin/exchange-rates/sync?base=INR.
func (h *ExchangeRateHandler) Sync(c echo.Context) error {
	base := c.QueryParam("base")
	if base == "" {
		return newValidationError(c, "base is required")
	}
	if err := h.svc.Sync(c.Request().Context(), base); err != nil {
		return mapDomainError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
