package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/ledgerforge/meterbill/internal/domain"
	"github.com/ledgerforge/meterbill/internal/ingest"
	"github.com/ledgerforge/meterbill/internal/middleware"
	"github.com/ledgerforge/meterbill/internal/obs"
)

// IngestHandler serves POST /events.
type IngestHandler struct {
	svc     *ingest.Service
	metrics *obs.Metrics
}

func NewIngestHandler(svc *ingest.Service, metrics *obs.Metrics) *IngestHandler {
	return &IngestHandler{svc: svc, metrics: metrics}
}

func (h *IngestHandler) record(outcome string, start time.Time) {
	if h.metrics == nil {
		return
	}
	h.metrics.IngestRequestsTotal.WithLabelValues(outcome).Inc()
	h.metrics.IngestLatencySeconds.Observe(time.Since(start).Seconds())
}

type eventRequest struct {
	EventID     string         `json:"event_id"`
	MetricName  string         `json:"metric_name"`
	MetricValue json.Number    `json:"metric_value"`
	Unit        string         `json:"unit"`
	Timestamp   *time.Time     `json:"timestamp,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type eventResponse struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"`
}

// Accept handles POST /events / POST /api/v1/events.
func (h *IngestHandler) Accept(c echo.Context) error {
	start := time.Now()
	ac := middleware.GetAuthContext(c)

	var req eventRequest
	if err := c.Bind(&req); err != nil {
		h.record("rejected", start)
		return newValidationError(c, "invalid request body")
	}

	value, err := decimal.NewFromString(string(req.MetricValue))
	if err != nil {
		h.record("rejected", start)
		return newValidationError(c, "metric_value must be a number")
	}

	outcome, err := h.svc.Accept(c.Request().Context(), ac.OrganisationID, ac.ProjectID, ingest.EventInput{
		EventID:     req.EventID,
		MetricName:  req.MetricName,
		MetricValue: value,
		Unit:        req.Unit,
		Timestamp:   req.Timestamp,
		Metadata:    req.Metadata,
	})
	if err != nil {
		h.record("rejected", start)
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			return newValidationError(c, ve.Error())
		}
		return newInternalError(c, err.Error())
	}

	h.record(string(outcome), start)
	return c.JSON(http.StatusAccepted, eventResponse{EventID: req.EventID, Status: string(outcome)})
}
