// Command reconcile runs payment reconciliation from the shell: a one-off
// sweep, a single sale refresh, or minting an operator token for the API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lojatextil/erp/internal/application/reconciliation"
	"github.com/lojatextil/erp/internal/infrastructure/config"
	"github.com/lojatextil/erp/internal/infrastructure/event"
	"github.com/lojatextil/erp/internal/infrastructure/logger"
	"github.com/lojatextil/erp/internal/infrastructure/payment"
	"github.com/lojatextil/erp/internal/infrastructure/persistence"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var Version = "dev"

var logLevel string

func main() {
	rootCmd := &cobra.Command{
		Use:          "reconcile",
		Short:        "Reconcile Mercado Pago payments with sales",
		Version:      Version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(saleCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds what the reconciliation commands share
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	db       *persistence.Database
	saleRepo *persistence.GormSaleRepository
	engine   *reconciliation.Engine
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	log, err := logger.New(&logger.Config{
		Level:      logLevel,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.GormLevel), cfg.Telemetry.DBSlowQueryThresh)
	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database, gormLog)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	gateway, err := payment.NewMercadoPagoAdapter(payment.MercadoPagoConfig{
		BaseURL:     cfg.MercadoPago.BaseURL,
		AccessToken: cfg.MercadoPago.AccessToken,
		Timeout:     cfg.MercadoPago.Timeout,
		Breaker: payment.CircuitBreakerConfig{
			FailureThreshold: cfg.MercadoPago.BreakerMaxFailures,
			OpenTimeout:      cfg.MercadoPago.BreakerOpenTimeout,
		},
	}, payment.WithLogger(log))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create Mercado Pago client: %w", err)
	}

	bus := event.NewInMemoryEventBus(log)
	bus.Subscribe(event.NewPaymentStatusLogHandler(log))

	saleRepo := persistence.NewGormSaleRepository(db.DB, persistence.WithSequenceLocation(cfg.App.Location()))
	engine := reconciliation.NewEngine(reconciliation.EngineConfig{
		Sales:           saleRepo,
		Gateway:         gateway,
		Events:          bus,
		Logger:          log,
		HeuristicWindow: cfg.Reconciliation.HeuristicWindow,
		CandidateLimit:  cfg.Reconciliation.CandidateLimit,
	})

	return &app{cfg: cfg, log: log, db: db, saleRepo: saleRepo, engine: engine}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.log.Warn("Error closing database", zap.Error(err))
	}
	_ = a.log.Sync()
}

// signalContext is cancelled on SIGINT or SIGTERM, or after timeout when positive
func signalContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
