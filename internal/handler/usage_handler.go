package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/ledgerforge/meterbill/internal/domain"
)

// UsageHandler serves the "usage summary/trends/cost-breakdown" admin
// surface.
type UsageHandler struct {
	aggregates domain.UsageAggregateRepository
	pricing    domain.PricingRepository
	events     domain.UsageEventRepository
}

func NewUsageHandler(aggregates domain.UsageAggregateRepository, pricing domain.PricingRepository, events domain.UsageEventRepository) *UsageHandler {
	return &UsageHandler{aggregates: aggregates, pricing: pricing, events: events}
}

type usageAggregateResponse struct {
	MetricName string `json:"metric_name"`
	Unit       string `json:"unit"`
	TotalValue string `json:"total_value"`
	EventCount int64  `json:"event_count"`
}

func monthYearFromQuery(c echo.Context) (month, year int) {
	now := time.Now().UTC()
	month, year = int(now.Month()), now.Year()
	if v := c.QueryParam("month"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 && n <= 12 {
			month = n
		}
	}
	if v := c.QueryParam("year"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			year = n
		}
	}
	return month, year
}

// Summary serves GET /admin/organisations/:id/usage/summary.
func (h *UsageHandler) Summary(c echo.Context) error {
	month, year := monthYearFromQuery(c)
	list, err := h.aggregates.ListForBillingPeriod(c.Request().Context(), c.Param("id"), month, year)
	if err != nil {
		return mapDomainError(c, err)
	}

	out := make([]usageAggregateResponse, 0, len(list))
	for _, a := range list {
		out = append(out, usageAggregateResponse{
			MetricName: a.MetricName,
			Unit:       a.Unit,
			TotalValue: a.TotalValue.String(),
			EventCount: a.EventCount,
		})
	}
	return c.JSON(http.StatusOK, out)
}

type trendPoint struct {
	Month int                       `json:"month"`
	Year  int                       `json:"year"`
	Usage []usageAggregateResponse `json:"usage"`
}

// Trends serves GET /admin/organisations/:id/usage/trends, returning the
// requested number of trailing months (default 6, max 24).
func (h *UsageHandler) Trends(c echo.Context) error {
	months := 6
	if v := c.QueryParam("months"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 24 {
			months = n
		}
	}

	now := time.Now().UTC()
	out := make([]trendPoint, 0, months)
	for i := months - 1; i >= 0; i-- {
		cursor := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -i, 0)
		list, err := h.aggregates.ListForBillingPeriod(c.Request().Context(), c.Param("id"), int(cursor.Month()), cursor.Year())
		if err != nil {
			return mapDomainError(c, err)
		}
		point := trendPoint{Month: int(cursor.Month()), Year: cursor.Year(), Usage: make([]usageAggregateResponse, 0, len(list))}
		for _, a := range list {
			point.Usage = append(point.Usage, usageAggregateResponse{
				MetricName: a.MetricName,
				Unit:       a.Unit,
				TotalValue: a.TotalValue.String(),
				EventCount: a.EventCount,
			})
		}
		out = append(out, point)
	}
	return c.JSON(http.StatusOK, out)
}

type costBreakdownEntry struct {
	MetricName string `json:"metric_name"`
	Unit       string `json:"unit"`
	TotalValue string `json:"total_value"`
	Cost       string `json:"cost"`
	Currency   string `json:"currency"`
}

// CostBreakdown serves GET /admin/organisations/:id/usage/cost-breakdown,
// pricing each aggregate with the effective-rule lookup (org-specific rule
// beats global, same precedence billing.Calculate uses).
func (h *UsageHandler) CostBreakdown(c echo.Context) error {
	orgID := c.Param("id")
	month, year := monthYearFromQuery(c)
	billingDate := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0).Add(-time.Second)

	list, err := h.aggregates.ListForBillingPeriod(c.Request().Context(), orgID, month, year)
	if err != nil {
		return mapDomainError(c, err)
	}

	out := make([]costBreakdownEntry, 0, len(list))
	for _, a := range list {
		rule, err := h.pricing.EffectiveRule(c.Request().Context(), orgID, a.MetricName, a.Unit, billingDate)
		entry := costBreakdownEntry{MetricName: a.MetricName, Unit: a.Unit, TotalValue: a.TotalValue.String()}
		if err != nil || rule == nil {
			entry.Cost = decimal.Zero.String()
		} else {
			entry.Cost = a.TotalValue.Mul(rule.PricePerUnit).String()
			entry.Currency = rule.Currency
		}
		out = append(out, entry)
	}
	return c.JSON(http.StatusOK, out)
}

type realtimeEntry struct {
	MetricName string `json:"metric_name"`
	Unit       string `json:"unit"`
	Total      string `json:"total"`
}

// Realtime serves GET /admin/organisations/:id/usage/realtime: the trailing
// hour's durable-event total for a given metric/unit, bypassing the
// monthly aggregate bucket for near-live dashboards. Built on
// UsageEventRepository.SumByPeriod, the same trailing-window primitive the
// alert engine uses for non-monthly comparison periods.
func (h *UsageHandler) Realtime(c echo.Context) error {
	metric := c.QueryParam("metric_name")
	unit := c.QueryParam("unit")
	if metric == "" || unit == "" {
		return newValidationError(c, "metric_name and unit query params are required")
	}
	now := time.Now().UTC()
	total, err := h.events.SumByPeriod(c.Request().Context(), c.Param("id"), metric, unit, now.Add(-time.Hour), now)
	if err != nil {
		return mapDomainError(c, err)
	}
	return c.JSON(http.StatusOK, realtimeEntry{MetricName: metric, Unit: unit, Total: total.String()})
}
