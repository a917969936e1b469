package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lojatextil/erp/internal/application/checkout"
	"github.com/lojatextil/erp/internal/application/reconciliation"
	paymentdomain "github.com/lojatextil/erp/internal/domain/payment"
	"github.com/lojatextil/erp/internal/infrastructure/auth"
	"github.com/lojatextil/erp/internal/infrastructure/cache"
	"github.com/lojatextil/erp/internal/infrastructure/config"
	"github.com/lojatextil/erp/internal/infrastructure/event"
	"github.com/lojatextil/erp/internal/infrastructure/logger"
	"github.com/lojatextil/erp/internal/infrastructure/payment"
	"github.com/lojatextil/erp/internal/infrastructure/persistence"
	"github.com/lojatextil/erp/internal/infrastructure/scheduler"
	"github.com/lojatextil/erp/internal/infrastructure/storage"
	"github.com/lojatextil/erp/internal/infrastructure/telemetry"
	"github.com/lojatextil/erp/internal/interfaces/http/handler"
	"github.com/lojatextil/erp/internal/interfaces/http/middleware"
	"github.com/lojatextil/erp/internal/interfaces/http/router"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	appVersion = "1.0.0"

	sweepJobRetention    = 50
	webhookRateLimit     = 300
	webhookRateWindow    = time.Minute
	shutdownTimeout      = 30 * time.Second
	idempotencyStoreWait = 5 * time.Second
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Bootstrap logger, used until the OTLP log core is attached
	bootLog, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	ctx := context.Background()

	logProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, bootLog)
	if err != nil {
		bootLog.Fatal("Failed to initialize log exporter", zap.Error(err))
	}

	var extraCores []zapcore.Core
	if logProvider.IsEnabled() {
		extraCores = append(extraCores, telemetry.NewZapOTELCore(logProvider, logger.ParseLevel(cfg.Log.Level)))
	}
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}, extraCores...)
	if err != nil {
		bootLog.Fatal("Failed to initialize logger", zap.Error(err))
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting payments service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("timezone", cfg.App.Timezone),
	)

	// Telemetry
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}

	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}

	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:         cfg.Telemetry.ProfilingEnabled,
		ServerAddress:   cfg.Telemetry.PyroscopeServer,
		ApplicationName: cfg.Telemetry.ServiceName,
	}, log)
	if err != nil {
		log.Warn("Profiler disabled", zap.Error(err))
	}
	if cfg.Telemetry.ProfilingEnabled && tracerProvider.IsEnabled() {
		if err := tracerProvider.EnableSpanProfiles(); err != nil {
			log.Warn("Failed to link spans to profiles", zap.Error(err))
		}
	}

	reconMetrics, err := telemetry.NewReconciliationMetrics(meterProvider.Meter("reconciliation"))
	if err != nil {
		log.Fatal("Failed to create reconciliation metrics", zap.Error(err))
	}

	// Database
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.GormLevel), cfg.Telemetry.DBSlowQueryThresh)
	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connected successfully")

	dbTracing := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		LogFullSQL:      !cfg.App.IsProduction(),
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
		DBSystem:        "postgresql",
	}, log)
	if err := dbTracing.RegisterOtelGorm(db.DB); err != nil {
		log.Warn("Failed to register database tracing", zap.Error(err))
	}

	saleRepo := persistence.NewGormSaleRepository(db.DB, persistence.WithSequenceLocation(cfg.App.Location()))

	// Mercado Pago
	gateway, err := payment.NewMercadoPagoAdapter(payment.MercadoPagoConfig{
		BaseURL:             cfg.MercadoPago.BaseURL,
		AccessToken:         cfg.MercadoPago.AccessToken,
		Timeout:             cfg.MercadoPago.Timeout,
		NotificationURL:     cfg.MercadoPago.NotificationURL,
		StatementDescriptor: cfg.MercadoPago.StatementDescriptor,
		Breaker: payment.CircuitBreakerConfig{
			FailureThreshold: cfg.MercadoPago.BreakerMaxFailures,
			OpenTimeout:      cfg.MercadoPago.BreakerOpenTimeout,
		},
	}, payment.WithCallObserver(reconMetrics), payment.WithLogger(log))
	if err != nil {
		log.Fatal("Failed to create Mercado Pago client", zap.Error(err))
	}
	verifier := payment.NewSignatureVerifier(cfg.MercadoPago.WebhookSecret, payment.DefaultSignatureTolerance)
	if !verifier.Enabled() {
		log.Warn("Webhook signature verification is disabled, set mercadopago.webhook_secret")
	}

	// Events
	eventBus := event.NewInMemoryEventBus(log)
	eventBus.Subscribe(event.NewPaymentStatusLogHandler(log))

	// Webhook deduplication
	storeCtx, cancelStore := context.WithTimeout(ctx, idempotencyStoreWait)
	idempotency, err := cache.NewIdempotencyStoreFactory(cfg.Redis,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(!cfg.App.IsProduction()),
	).CreateStore(storeCtx)
	cancelStore()
	if err != nil {
		log.Fatal("Failed to create idempotency store", zap.Error(err))
	}

	// Raw notification archive
	var archive reconciliation.WebhookArchive
	if cfg.Reconciliation.ArchiveWebhooks {
		s3Archive, err := storage.NewS3WebhookArchive(ctx, &cfg.Storage, log)
		if err != nil {
			log.Fatal("Failed to create webhook archive", zap.Error(err))
		}
		if err := s3Archive.EnsureBucket(ctx); err != nil {
			log.Fatal("Webhook archive bucket unavailable", zap.Error(err), zap.String("bucket", cfg.Storage.Bucket))
		}
		archive = s3Archive
		log.Info("Archiving webhook payloads", zap.String("bucket", cfg.Storage.Bucket))
	}

	// Application services
	engine := reconciliation.NewEngine(reconciliation.EngineConfig{
		Sales:           saleRepo,
		Gateway:         gateway,
		Events:          eventBus,
		Metrics:         reconMetrics,
		Logger:          log,
		HeuristicWindow: cfg.Reconciliation.HeuristicWindow,
		CandidateLimit:  cfg.Reconciliation.CandidateLimit,
	})
	webhookService := reconciliation.NewWebhookService(reconciliation.WebhookServiceConfig{
		Engine:      engine,
		Verifier:    verifier,
		Idempotency: idempotency,
		Archive:     archive,
		Logger:      log,
		Timeout:     cfg.Reconciliation.WebhookTimeout,
		DedupTTL:    cfg.Reconciliation.IdempotencyTTL,
	})
	refreshService := reconciliation.NewRefreshService(engine, saleRepo, cfg.Reconciliation.RefreshTimeout, log)
	sweepService := reconciliation.NewSweepService(reconciliation.SweepServiceConfig{
		Engine:      engine,
		Sales:       saleRepo,
		Jobs:        reconciliation.NewInMemorySweepJobStore(sweepJobRetention),
		Metrics:     reconMetrics,
		Logger:      log,
		MaxAge:      cfg.Reconciliation.SweepMaxAge,
		BatchLimit:  cfg.Reconciliation.SweepBatchLimit,
		Workers:     cfg.Reconciliation.SweepWorkers,
		ItemTimeout: cfg.Reconciliation.SweepItemTimeout,
	})
	checkoutService := checkout.NewService(checkout.ServiceConfig{
		Sales:               saleRepo,
		Gateway:             gateway,
		Engine:              engine,
		Logger:              log,
		NotificationURL:     cfg.MercadoPago.NotificationURL,
		StatementDescriptor: cfg.MercadoPago.StatementDescriptor,
		DefaultBackURLs: paymentdomain.BackURLs{
			Success: cfg.MercadoPago.SuccessURL,
			Failure: cfg.MercadoPago.FailureURL,
			Pending: cfg.MercadoPago.PendingURL,
		},
	})

	// Periodic sweep
	var sweepScheduler *scheduler.IntervalScheduler
	if cfg.Reconciliation.SweepEnabled {
		sweepScheduler, err = scheduler.NewIntervalScheduler(scheduler.Config{
			Name:     "payment-sweep",
			Interval: cfg.Reconciliation.SweepInterval,
			Timeout:  cfg.Reconciliation.SweepInterval,
		}, scheduler.TaskFunc(func(ctx context.Context) error {
			_, err := sweepService.Sweep(ctx, "scheduler")
			if errors.Is(err, reconciliation.ErrSweepInProgress) {
				return nil
			}
			return err
		}), log)
		if err != nil {
			log.Fatal("Failed to create sweep scheduler", zap.Error(err))
		}
		if err := sweepScheduler.Start(ctx); err != nil {
			log.Fatal("Failed to start sweep scheduler", zap.Error(err))
		}
		log.Info("Sweep scheduler started",
			zap.Duration("interval", cfg.Reconciliation.SweepInterval),
			zap.Duration("max_age", cfg.Reconciliation.SweepMaxAge),
			zap.Int("workers", cfg.Reconciliation.SweepWorkers),
		)
	}

	// HTTP handlers
	jwtService := auth.NewJWTService(cfg.JWT)
	webhookLimiter := middleware.NewRateLimiter(webhookRateLimit, webhookRateWindow)
	handlers := router.Handlers{
		Webhook:        handler.NewWebhookHandler(webhookService),
		Sales:          handler.NewSalesHandler(checkoutService),
		Reconciliation: handler.NewReconciliationHandler(refreshService, sweepService, cfg.Reconciliation.OverridePermission),
		System: handler.NewSystemHandler(cfg.App.Name, appVersion, map[string]handler.HealthCheck{
			"database": db.Ping,
			"gateway": func(context.Context) error {
				if state := gateway.BreakerState(); state == payment.BreakerOpen {
					return fmt.Errorf("circuit breaker %s", state)
				}
				return nil
			},
		}),
	}

	// Set Gin mode based on environment
	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup validation
	middleware.SetupValidator()

	ginEngine := gin.New()

	// Configure trusted proxies
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := ginEngine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	corsConfig := middleware.DefaultCORSConfig()
	if len(cfg.HTTP.CORSAllowOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	}

	// Middleware order: recovery first, then request id so every later
	// layer (spans, logs, metrics) can read it.
	ginEngine.Use(logger.Recovery(log))
	ginEngine.Use(middleware.RequestID())
	ginEngine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     cfg.Telemetry.Enabled,
	}))
	ginEngine.Use(middleware.SpanErrorMarker())
	ginEngine.Use(logger.GinMiddleware(log))
	ginEngine.Use(middleware.HTTPMetrics(meterProvider.Meter("http")))
	ginEngine.Use(middleware.Profiling(middleware.ProfilingConfig{
		Enabled:   cfg.Telemetry.ProfilingEnabled,
		SkipPaths: []string{"/health"},
	}))
	ginEngine.Use(middleware.Secure())
	ginEngine.Use(middleware.CORSWithConfig(corsConfig))
	ginEngine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	router.RegisterPaymentRoutes(ginEngine, handlers, router.Guards{
		Auth:           middleware.JWTAuthMiddleware(jwtService),
		WebhookLimiter: webhookLimiter,
	})

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        ginEngine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if sweepScheduler != nil {
		if err := sweepScheduler.Stop(shutdownCtx); err != nil {
			log.Error("Error stopping sweep scheduler", zap.Error(err))
		}
	}
	// API-started sweeps run detached from their request
	sweepService.Wait()
	webhookLimiter.Stop()

	if err := idempotency.Close(); err != nil {
		log.Error("Error closing idempotency store", zap.Error(err))
	}
	if err := db.Close(); err != nil {
		log.Error("Error closing database", zap.Error(err))
	}
	if profiler != nil {
		if err := profiler.Stop(); err != nil {
			log.Error("Error stopping profiler", zap.Error(err))
		}
	}
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down meter provider", zap.Error(err))
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down tracer provider", zap.Error(err))
	}

	log.Info("Server exited gracefully")
	_ = log.Sync()
	if err := logProvider.Shutdown(shutdownCtx); err != nil {
		bootLog.Error("Error shutting down log exporter", zap.Error(err))
	}
}
