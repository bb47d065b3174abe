package handler

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/ledgerforge/meterbill/internal/alert"
	"github.com/ledgerforge/meterbill/internal/domain"
)

// AlertHandler serves the admin "alert rules CRUD + history" surface.
type AlertHandler struct {
	repo domain.AlertRepository
	eng  *alert.Engine
}

func NewAlertHandler(repo domain.AlertRepository, eng *alert.Engine) *AlertHandler {
	return &AlertHandler{repo: repo, eng: eng}
}

type alertRuleRequest struct {
	OrganisationID   string `json:"organisation_id"`
	Type             string `json:"type"`
	MetricName       string `json:"metric_name,omitempty"`
	Unit             string `json:"unit,omitempty"`
	Threshold        string `json:"threshold"`
	Operator         string `json:"operator,omitempty"`
	ComparisonPeriod string `json:"comparison_period"`
	SpikePercent     string `json:"spike_percent,omitempty"`
	ReferencePeriod  string `json:"reference_period,omitempty"`
	Active           bool   `json:"active"`
	Channels         []string `json:"channels"`
	CooldownMinutes  int    `json:"cooldown_minutes"`
}

type alertRuleResponse struct {
	ID               string   `json:"id"`
	OrganisationID   string   `json:"organisation_id"`
	Type             string   `json:"type"`
	MetricName       string   `json:"metric_name,omitempty"`
	Unit             string   `json:"unit,omitempty"`
	Threshold        string   `json:"threshold"`
	Operator         string   `json:"operator,omitempty"`
	ComparisonPeriod string   `json:"comparison_period"`
	SpikePercent     string   `json:"spike_percent,omitempty"`
	ReferencePeriod  string   `json:"reference_period,omitempty"`
	Active           bool     `json:"active"`
	Channels         []string `json:"channels"`
	CooldownMinutes  int      `json:"cooldown_minutes"`
}

func toAlertRuleResponse(r *domain.AlertRule) alertRuleResponse {
	return alertRuleResponse{
		ID:               r.ID,
		OrganisationID:   r.OrganisationID,
		Type:             string(r.Type),
		MetricName:       r.MetricName,
		Unit:             r.Unit,
		Threshold:        r.Threshold.String(),
		Operator:         string(r.Operator),
		ComparisonPeriod: string(r.ComparisonPeriod),
		SpikePercent:     r.SpikePercent.String(),
		ReferencePeriod:  string(r.ReferencePeriod),
		Active:           r.Active,
		Channels:         r.Channels,
		CooldownMinutes:  r.CooldownMinutes,
	}
}

// Upsert serves POST /admin/alert-rules and PUT /admin/alert-rules/:id.
func (h *AlertHandler) Upsert(c echo.Context) error {
	var req alertRuleRequest
	if err := c.Bind(&req); err != nil {
		return newValidationError(c, "invalid request body")
	}
	if req.OrganisationID == "" || req.Type == "" || req.ComparisonPeriod == "" {
		return newValidationError(c, "organisation_id, type, and comparison_period are required")
	}
	threshold, err := decimal.NewFromString(req.Threshold)
	if err != nil {
		return newValidationError(c, "threshold must be a number")
	}
	spike := decimal.Zero
	if req.SpikePercent != "" {
		spike, err = decimal.NewFromString(req.SpikePercent)
		if err != nil {
			return newValidationError(c, "spike_percent must be a number")
		}
	}

	id := c.Param("id")
	if id == "" {
		id = uuid.NewString()
	}
	rule := &domain.AlertRule{
		ID:               id,
		OrganisationID:   req.OrganisationID,
		Type:             domain.AlertRuleType(req.Type),
		MetricName:       req.MetricName,
		Unit:             req.Unit,
		Threshold:        threshold,
		Operator:         domain.ComparisonOperator(req.Operator),
		ComparisonPeriod: domain.Period(req.ComparisonPeriod),
		SpikePercent:     spike,
		ReferencePeriod:  domain.Period(req.ReferencePeriod),
		Active:           req.Active,
		Channels:         req.Channels,
		CooldownMinutes:  req.CooldownMinutes,
	}
	if err := h.repo.Upsert(c.Request().Context(), rule); err != nil {
		return mapDomainError(c, err)
	}
	return c.JSON(http.StatusOK, toAlertRuleResponse(rule))
}

// Get serves GET /admin/alert-rules/:id.
func (h *AlertHandler) Get(c echo.Context) error {
	r, err := h.repo.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapDomainError(c, err)
	}
	return c.JSON(http.StatusOK, toAlertRuleResponse(r))
}

// ListActive serves GET /admin/alert-rules.
func (h *AlertHandler) ListActive(c echo.Context) error {
	list, err := h.repo.ListActive(c.Request().Context())
	if err != nil {
		return mapDomainError(c, err)
	}
	out := make([]alertRuleResponse, 0, len(list))
	for _, r := range list {
		out = append(out, toAlertRuleResponse(r))
	}
	return c.JSON(http.StatusOK, out)
}

type alertHistoryResponse struct {
	ID          string `json:"id"`
	AlertRuleID string `json:"alert_rule_id"`
	Status      string `json:"status"`
	ActualValue string `json:"actual_value"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
	TriggeredAt string `json:"triggered_at"`
}

// History serves GET /admin/alert-rules/:id/history.
func (h *AlertHandler) History(c echo.Context) error {
	limit, offset := parseLimitOffset(c)
	list, err := h.repo.History(c.Request().Context(), c.Param("id"), limit, offset)
	if err != nil {
		return mapDomainError(c, err)
	}
	out := make([]alertHistoryResponse, 0, len(list))
	for _, hist := range list {
		out = append(out, alertHistoryResponse{
			ID:          hist.ID,
			AlertRuleID: hist.AlertRuleID,
			Status:      string(hist.Status),
			ActualValue: hist.ActualValue.String(),
			PeriodStart: hist.PeriodStart.Format(time.RFC3339),
			PeriodEnd:   hist.PeriodEnd.Format(time.RFC3339),
			TriggeredAt: hist.TriggeredAt.Format(time.RFC3339),
		})
	}
	return c.JSON(http.StatusOK, out)
}

// Evaluate serves POST /admin/alert-rules/:id/evaluate: an operator-forced
// off-cycle evaluation of a single rule.
func (h *AlertHandler) Evaluate(c echo.Context) error {
	rule, err := h.repo.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapDomainError(c, err)
	}
	triggered, err := h.eng.Evaluate(c.Request().Context(), rule, time.Now().UTC())
	if err != nil {
		return mapDomainError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"triggered": triggered})
}
