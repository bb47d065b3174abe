package handler

import (
	"github.com/labstack/echo/v4"

	"github.com/ledgerforge/meterbill/internal/middleware"
)

// AdminAuth is whichever admin authentication middleware the deployment has
// configured (JWT, api-key, or the dual fallback): an echo.MiddlewareFunc
// factory so RegisterRoutes doesn't need to know which mode is active.
type AdminAuth interface {
	Authenticate() echo.MiddlewareFunc
}

// Handlers bundles every HTTP handler RegisterRoutes wires up, so the
// function signature doesn't grow with each new admin surface.
type Handlers struct {
	Ingest           *IngestHandler
	Webhook          *WebhookHandler
	Organisation     *OrganisationHandler
	Project          *ProjectHandler
	Usage            *UsageHandler
	Invoice          *InvoiceHandler
	Payment          *PaymentHandler
	Refund           *RefundHandler
	Alert            *AlertHandler
	ExchangeRate     *ExchangeRateHandler
	AdminKey         *AdminKeyHandler
	InvoiceTemplate  *InvoiceTemplateHandler
	EmailNotification *EmailNotificationHandler
	Realtime         *RealtimeHandler
}

// RegisterRoutes wires the event-ingest surface (project api-key auth +
// rate limiting), the payment gateway webhook (unauthenticated, signature
// verified internally), and the admin surface (admin auth + permission
// checks) onto e.
func RegisterRoutes(e *echo.Echo, projectAuth *middleware.ProjectAuthMiddleware, rateLimiter *middleware.RateLimiter, adminAuth AdminAuth, h Handlers) {
	// Event ingest.
	ingestGroup := e.Group("/api/v1")
	ingestGroup.Use(projectAuth.Authenticate())
	if rateLimiter != nil {
		ingestGroup.Use(middleware.RateLimitMiddleware(rateLimiter))
	}
	ingestGroup.POST("/events", h.Ingest.Accept)
	e.POST("/events", h.Ingest.Accept, projectAuth.Authenticate())

	// Payment gateway webhook.
	e.POST("/webhooks/:gateway", h.Webhook.Handle)

	// Admin realtime feed. Authenticates inside the handler via a query-param
	// token because browsers cannot set headers on WebSocket upgrades.
	if h.Realtime != nil {
		e.GET("/ws", h.Realtime.Stream)
	}

	// Admin surface, all behind admin authentication.
	admin := e.Group("/admin")
	admin.Use(adminAuth.Authenticate())

	admin.POST("/organisations", h.Organisation.Create)
	admin.GET("/organisations", h.Organisation.List)
	admin.GET("/organisations/:id", h.Organisation.Get)
	admin.PUT("/organisations/:id", h.Organisation.Update)
	admin.DELETE("/organisations/:id", h.Organisation.Delete)

	admin.POST("/projects", h.Project.Create)
	admin.GET("/projects", h.Project.ListByOrganisation)
	admin.GET("/projects/:id", h.Project.Get)
	admin.PUT("/projects/:id", h.Project.Update)
	admin.POST("/projects/:id/rotate-key", h.Project.RotateAPIKey)

	admin.GET("/organisations/:id/usage/summary", h.Usage.Summary)
	admin.GET("/organisations/:id/usage/trends", h.Usage.Trends)
	admin.GET("/organisations/:id/usage/cost-breakdown", h.Usage.CostBreakdown)
	admin.GET("/organisations/:id/usage/realtime", h.Usage.Realtime)

	admin.GET("/organisations/:id/invoices", h.Invoice.List)
	admin.POST("/invoices", h.Invoice.Generate)
	admin.GET("/invoices/:id", h.Invoice.Get)
	admin.POST("/invoices/:id/finalize", h.Invoice.Finalize)
	admin.GET("/invoices/:id/pdf", h.Invoice.PDF)

	admin.GET("/organisations/:id/payments", h.Payment.List)
	admin.POST("/payments", h.Payment.CreateOrder)
	admin.GET("/payments/:id", h.Payment.Get)
	admin.POST("/payments/:id/retry", h.Payment.Retry)
	admin.GET("/payments/:id/retry-status", h.Payment.RetryStatus)
	admin.GET("/payments/:id/refunds", h.Refund.ListByPayment)

	admin.POST("/refunds", h.Refund.Create)
	admin.GET("/refunds/:id", h.Refund.Get)

	admin.GET("/alert-rules", h.Alert.ListActive)
	admin.POST("/alert-rules", h.Alert.Upsert)
	admin.GET("/alert-rules/:id", h.Alert.Get)
	admin.PUT("/alert-rules/:id", h.Alert.Upsert)
	admin.GET("/alert-rules/:id/history", h.Alert.History)
	admin.POST("/alert-rules/:id/evaluate", h.Alert.Evaluate)

	admin.GET("/exchange-rates", h.ExchangeRate.List)
	admin.POST("/exchange-rates", h.ExchangeRate.Upsert)
	admin.POST("/exchange-rates/sync", h.ExchangeRate.Sync)

	admin.POST("/admin-keys", h.AdminKey.Create)
	admin.GET("/organisations/:id/admin-keys", h.AdminKey.List)
	admin.DELETE("/admin-keys/:id", h.AdminKey.Revoke)

	admin.POST("/invoice-templates", h.InvoiceTemplate.Create)
	admin.GET("/invoice-templates", h.InvoiceTemplate.ListByOrganisation)
	admin.GET("/invoice-templates/:id", h.InvoiceTemplate.Get)
	admin.PUT("/invoice-templates/:id", h.InvoiceTemplate.Update)
	admin.DELETE("/invoice-templates/:id", h.InvoiceTemplate.Delete)
	admin.POST("/invoice-templates/:id/preview", h.InvoiceTemplate.Preview)

	admin.GET("/organisations/:id/email-notifications", h.EmailNotification.List)
}
