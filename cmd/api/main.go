package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ledgerforge/meterbill/internal/aggregator"
	"github.com/ledgerforge/meterbill/internal/alert"
	"github.com/ledgerforge/meterbill/internal/config"
	"github.com/ledgerforge/meterbill/internal/currency"
	"github.com/ledgerforge/meterbill/internal/docgen"
	"github.com/ledgerforge/meterbill/internal/domain"
	"github.com/ledgerforge/meterbill/internal/handler"
	"github.com/ledgerforge/meterbill/internal/hotstore"
	"github.com/ledgerforge/meterbill/internal/idempotency"
	"github.com/ledgerforge/meterbill/internal/ingest"
	"github.com/ledgerforge/meterbill/internal/invoice"
	"github.com/ledgerforge/meterbill/internal/middleware"
	"github.com/ledgerforge/meterbill/internal/migration"
	"github.com/ledgerforge/meterbill/internal/notify"
	"github.com/ledgerforge/meterbill/internal/obs"
	"github.com/ledgerforge/meterbill/internal/payment"
	"github.com/ledgerforge/meterbill/internal/reconciliation"
	"github.com/ledgerforge/meterbill/internal/refund"
	"github.com/ledgerforge/meterbill/internal/repository/postgres"
	"github.com/ledgerforge/meterbill/internal/retry"
	"github.com/ledgerforge/meterbill/internal/scheduler"
	"github.com/ledgerforge/meterbill/internal/websocket"
)

func main() {
	obs.ConfigureLogger(os.Getenv("ENV"))

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Durable store
	pool, err := postgres.NewPool(rootCtx, cfg.DatabaseURL, int32(cfg.DBMaxConns))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pool.Close()
	log.Info().Msg("Connected to database")

	// Hot event store
	redisOpts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid REDIS_URL")
	}
	redisClient := goredis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(rootCtx).Err(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping redis")
	}
	log.Info().Msg("Connected to redis")

	metrics := obs.NewMetrics()

	// Admin realtime feed. State changes are published regardless of auth
	// mode (a feed without subscribers is cheap); the /ws route itself is
	// only registered in the JWT-backed auth modes, since the connection
	// token is a JWT by contract.
	feed := websocket.NewFeed(log.Logger)
	go feed.Run(rootCtx)

	// Repositories
	orgRepo := postgres.NewOrganisationRepository(pool)
	projectRepo := postgres.NewProjectRepository(pool)
	eventRepo := postgres.NewEventRepository(pool)
	aggregateRepo := postgres.NewAggregateRepository(pool)
	pricingRepo := postgres.NewPricingRepository(pool)
	billingConfigRepo := postgres.NewBillingConfigRepository(pool)
	invoiceRepo := postgres.NewInvoiceRepository(pool)
	paymentRepo := postgres.NewPaymentRepository(pool)
	refundRepo := postgres.NewRefundRepository(pool)
	exchangeRepo := postgres.NewExchangeRateRepository(pool)
	alertRepo := postgres.NewAlertRepository(pool)
	reconciliationRepo := postgres.NewReconciliationRepository(pool)
	adminRepo := postgres.NewAdminRepository(pool)
	templateRepo := postgres.NewInvoiceTemplateRepository(pool)
	emailRepo := postgres.NewEmailNotificationRepository(pool)

	hotStore := hotstore.NewRedisStore(redisClient, log.Logger)
	keyCache := hotstore.NewProjectKeyCache(redisClient, projectRepo,
		time.Duration(cfg.ProjectKeyCacheTTLMinutes)*time.Minute, log.Logger)
	registry := idempotency.New(pool, log.Logger)

	// Migration worker: scheduled drains plus ingest-kicked ones. Committed
	// batches stream usage deltas into the realtime feed, which coalesces
	// them per (org, metric, unit).
	worker := migration.New(pool, hotStore, eventRepo, aggregator.New(aggregateRepo), log.Logger, migration.Config{
		BatchSize:  cfg.MigrationBatchSize,
		MaxBatches: cfg.MigrationMaxBatches,
	})
	worker.SetOnMigrated(func(events []*domain.UsageEvent) {
		for _, ev := range events {
			feed.PublishUsage(ev.OrganisationID, ev.MetricName, ev.Unit, ev.MetricValue, 1)
		}
	})
	go worker.ListenKicks(rootCtx)

	// Ingest path
	ingestSvc := ingest.New(hotStore, &kickPublisher{worker: worker}, hotstore.IsDuplicateKey, log.Logger)

	// Currency service
	var rateSource currency.Source
	if cfg.ExchangeSourceEndpoint != "" {
		rateSource = currency.NewHTTPSource(cfg.ExchangeSourceEndpoint)
	}
	currencySvc := currency.New(exchangeRepo, rateSource, log.Logger)

	// Notifications
	notifySvc := notify.New(notify.NewHTTPSender(cfg.EmailEndpoint, cfg.EmailAPIKey), cfg.EmailProvider, emailRepo, log.Logger)

	// Payment gateway + lifecycle services
	gateway := payment.NewHTTPGateway(cfg.Gateway.BaseURL, cfg.Gateway.KeyID, cfg.Gateway.KeySecret)
	paymentSvc := payment.New(payment.Dependencies{
		Payments:        paymentRepo,
		Invoices:        invoiceRepo,
		Idempotency:     registry,
		Gateway:         gateway,
		Rates:           currencySvc.RateCtx,
		GatewayCurrency: cfg.Gateway.Currency,
		WebhookSecret:   cfg.Gateway.WebhookSecret,
		PendingTTL:      time.Duration(cfg.PendingTTLMinutes) * time.Minute,
		MaxRetries:      cfg.RetryMax,
		OnTransition: func(p *domain.Payment, next domain.PaymentStatus) {
			feed.Publish(p.OrganisationID, paymentEvent(p, next))
		},
	}, log.Logger)
	refundSvc := refund.New(refund.Dependencies{
		Refunds:     refundRepo,
		Payments:    paymentRepo,
		Idempotency: registry,
		Gateway:     gateway,
	}, log.Logger)
	retryEngine := retry.New(retry.Dependencies{
		Payments: paymentRepo,
		Gateway:  gateway,
		Base:     time.Duration(cfg.RetryBaseHours) * time.Hour,
	}, log.Logger)

	// Invoice generation + PDF side-effect
	generator := invoice.New(invoice.Dependencies{
		Aggregates:    aggregateRepo,
		Pricing:       pricingRepo,
		BillingConfig: billingConfigRepo,
		Invoices:      invoiceRepo,
		Idempotency:   registry,
		Rates:         currencySvc.Rate,
		OnFinalized: func(inv *domain.Invoice) {
			feed.Publish(inv.OrganisationID, websocket.InvoiceFinalized(map[string]any{
				"invoice_id":     inv.ID,
				"invoice_number": inv.InvoiceNumber,
				"total":          inv.Total.String(),
				"currency":       inv.Currency,
			}))
		},
	}, log.Logger)

	var docs *docgen.Service
	if cfg.PDFRendererEndpoint != "" {
		objectStore, err := docgen.NewS3ObjectStore(rootCtx, docgen.S3Config{
			Endpoint:        cfg.S3.Endpoint,
			Region:          cfg.S3.Region,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Bucket:          cfg.S3.Bucket,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create object store")
		}
		docs = docgen.New(docgen.Dependencies{
			Renderer:    docgen.NewHTTPRenderer(cfg.PDFRendererEndpoint),
			ObjectStore: objectStore,
			Invoices:    invoiceRepo,
			Templates:   templateRepo,
		}, log.Logger)
	}

	// Alerting
	alertEngine := alert.New(alert.Dependencies{
		Alerts:   alertRepo,
		Events:   eventRepo,
		Pricing:  pricingRepo,
		Notifier: &feedAlertNotifier{next: notify.NewAlertAdapter(notifySvc), feed: feed},
	}, log.Logger)

	// Reconciliation
	reconciliationSvc := reconciliation.New(reconciliation.Dependencies{
		Reconciliation: reconciliationRepo,
		HotStore:       hotStore,
		Events:         eventRepo,
		Aggregates:     aggregateRepo,
		Payments:       paymentRepo,
		Gateway:        gateway,
		Alerter: func(ctx context.Context, scope domain.ReconciliationScope, row *domain.ReconciliationRow) {
			metrics.ReconciliationDiscrepanciesTotal.WithLabelValues(string(scope)).Add(float64(row.DiscrepancyCount))
			if cfg.OpsEmail == "" {
				return
			}
			err := notifySvc.Send(ctx, "", notify.Message{
				Recipient: cfg.OpsEmail,
				Template:  "reconciliation_discrepancy",
				Subject:   "Reconciliation discrepancy: " + string(scope),
				Data:      map[string]any{"run_id": row.ID, "subject": row.SubjectKey, "discrepancies": row.DiscrepancyCount},
			})
			if err != nil {
				log.Error().Err(err).Str("scope", string(scope)).Msg("reconciliation alert send failed")
			}
		},
		Keys: func(ctx context.Context) ([]reconciliation.OrgProjectMetricKey, error) {
			keys, err := aggregateRepo.DistinctKeys(ctx)
			if err != nil {
				return nil, err
			}
			out := make([]reconciliation.OrgProjectMetricKey, 0, len(keys))
			for _, k := range keys {
				out = append(out, reconciliation.OrgProjectMetricKey{
					OrganisationID: k.OrganisationID,
					ProjectID:      k.ProjectID,
					MetricName:     k.MetricName,
					Unit:           k.Unit,
				})
			}
			return out, nil
		},
	}, log.Logger)

	// Admin auth, per the configured mode.
	apiKeyAuth := middleware.NewAdminAPIKeyAuthMiddleware(adminRepo)
	var adminAuth handler.AdminAuth = apiKeyAuth
	var jwtAuth *middleware.AdminJWTAuthMiddleware
	if cfg.AdminAuthMode == "jwt" || cfg.AdminAuthMode == "dual" {
		jwtAuth, err = middleware.NewAdminJWTAuthMiddleware(cfg.Auth0Domain, cfg.Auth0Audience, adminRepo)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create admin JWT middleware")
		}
		if cfg.AdminAuthMode == "jwt" {
			adminAuth = jwtAuth
		} else {
			adminAuth = middleware.NewAdminDualAuthMiddleware(jwtAuth, apiKeyAuth)
		}
	}

	projectAuth := middleware.NewProjectAuthMiddleware(keyCache)
	rateLimiter := middleware.NewRateLimiterWithConfig(cfg.RateLimitPerMinute, cfg.RateLimitBurst)

	// Admin realtime feed endpoint: JWT-backed auth modes only, since the
	// connection token is a JWT by contract.
	var wsHandler *handler.RealtimeHandler
	if jwtAuth != nil {
		wsHandler = handler.NewRealtimeHandler(feed, func(token string) (string, error) {
			admin, _, err := jwtAuth.ValidateToken(rootCtx, token)
			if err != nil {
				return "", err
			}
			return admin.OrganisationID, nil
		}, cfg.CORSOrigins)
	}

	// Handlers
	handlers := handler.Handlers{
		Ingest:            handler.NewIngestHandler(ingestSvc, metrics),
		Webhook:           handler.NewWebhookHandler(paymentSvc, refundSvc, cfg.Gateway.WebhookSecret, cfg.Gateway.SignatureHeader, metrics),
		Organisation:      handler.NewOrganisationHandler(orgRepo),
		Project:           handler.NewProjectHandler(projectRepo, keyCache),
		Usage:             handler.NewUsageHandler(aggregateRepo, pricingRepo, eventRepo),
		Invoice:           handler.NewInvoiceHandler(invoiceRepo, generator, docs),
		Payment:           handler.NewPaymentHandler(paymentSvc, retryEngine),
		Refund:            handler.NewRefundHandler(refundSvc),
		Alert:             handler.NewAlertHandler(alertRepo, alertEngine),
		ExchangeRate:      handler.NewExchangeRateHandler(currencySvc),
		AdminKey:          handler.NewAdminKeyHandler(adminRepo),
		InvoiceTemplate:   handler.NewInvoiceTemplateHandler(templateRepo, docs),
		EmailNotification: handler.NewEmailNotificationHandler(emailRepo),
		Realtime:          wsHandler,
	}

	// Scheduler: the single trigger map from which every background job runs.
	sched := scheduler.New(log.Logger)
	jobs := []scheduler.Job{
		scheduler.NewMigrationJob(worker, metrics),
		scheduler.NewReconciliationJob(reconciliationSvc, log.Logger),
		scheduler.NewHESCleanupJob(hotStore, time.Duration(cfg.CleanupRetentionDays)*24*time.Hour, log.Logger),
		scheduler.NewInvoiceGenerationJob(orgRepo, generator, docs, metrics, log.Logger),
		scheduler.NewAlertEvaluationJob(alertEngine, metrics, log.Logger),
		scheduler.NewPaymentReminderJob(invoiceRepo, notifySvc, adminRecipientFor(adminRepo), log.Logger),
	}
	if cfg.RetryEnabled {
		jobs = append(jobs, scheduler.NewPaymentRetryJob(paymentSvc.FailStuckPending, retryEngine, metrics, log.Logger))
	}
	if len(cfg.ExchangeSyncBases) > 0 {
		jobs = append(jobs, scheduler.NewExchangeSyncJob(currencySvc, cfg.ExchangeSyncBases, log.Logger))
	}
	for _, job := range jobs {
		if err := sched.Register(job); err != nil {
			log.Fatal().Err(err).Str("job", job.Name).Msg("Failed to register scheduled job")
		}
	}
	sched.Start()

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomiddleware.RequestID())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		AllowCredentials: true,
		MaxAge:           86400,
	}))
	e.Use(echomiddleware.SecureWithConfig(echomiddleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'self'",
		ReferrerPolicy:        "strict-origin-when-cross-origin",
	}))
	e.Use(obs.RequestLogger())
	e.Use(echomiddleware.Recover())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", obs.MetricsHandler())

	handler.RegisterRoutes(e, projectAuth, rateLimiter, adminAuth, handlers)

	// Start server in goroutine
	go func() {
		log.Info().Str("port", cfg.Port).Msg("Starting server")
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	sched.Stop()
	rootCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// kickPublisher adapts the migration worker's Kick to the ingest path's
// fire-and-forget hint contract: a full kick buffer means a drain is already
// pending, so the hint is dropped and counted, never awaited.
type kickPublisher struct {
	worker  *migration.Worker
	dropped atomic.Int64
}

// Publish implements ingest.MigrationHintPublisher
func (p *kickPublisher) Publish(ctx context.Context, eventID string) error {
	if !p.worker.Kick() {
		log.Debug().Str("event_id", eventID).Int64("dropped_total", p.dropped.Add(1)).Msg("migration hint dropped, drain already pending")
	}
	return nil
}


// adminRecipientFor resolves the reminder recipient for an organisation:
// its first registered admin user's email.
func adminRecipientFor(repo domain.AdminRepository) func(ctx context.Context, organisationID string) (string, bool) {
	return func(ctx context.Context, organisationID string) (string, bool) {
		users, err := repo.ListUsers(ctx, organisationID)
		if err != nil || len(users) == 0 {
			return "", false
		}
		return users[0].Email, true
	}
}

// paymentEvent picks the realtime event shape for a webhook-driven payment
// transition.
func paymentEvent(p *domain.Payment, next domain.PaymentStatus) websocket.Event {
	payload := map[string]any{
		"payment_id": p.ID,
		"invoice_id": p.InvoiceID,
		"status":     string(next),
		"amount":     p.Amount.String(),
		"currency":   p.Currency,
	}
	switch next {
	case domain.PaymentCaptured:
		return websocket.PaymentCaptured(payload)
	case domain.PaymentRefunded, domain.PaymentPartiallyRefunded:
		return websocket.PaymentRefunded(payload)
	default:
		return websocket.NewEvent(websocket.EventTypeUpdated, websocket.EntityTypePayment, payload)
	}
}

// feedAlertNotifier publishes each triggered alert to the realtime feed
// before delegating delivery to the configured notification channel.
type feedAlertNotifier struct {
	next alert.Notifier
	feed *websocket.Feed
}

// Send implements alert.Notifier
func (n *feedAlertNotifier) Send(ctx context.Context, channel string, message alert.Message) error {
	n.feed.Publish(message.OrganisationID, websocket.AlertTriggered(map[string]any{
		"rule_type":    string(message.RuleType),
		"summary":      message.Summary,
		"actual_value": message.ActualValue.String(),
		"threshold":    message.Threshold.String(),
	}))
	return n.next.Send(ctx, channel, message)
}
