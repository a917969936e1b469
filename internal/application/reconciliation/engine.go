package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lojatextil/erp/internal/domain/payment"
	"github.com/lojatextil/erp/internal/domain/sales"
	"github.com/lojatextil/erp/internal/domain/shared"
	"github.com/lojatextil/erp/internal/infrastructure/logger"
	"github.com/lojatextil/erp/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

const (
	DefaultHeuristicWindow = 2 * time.Hour
	DefaultCandidateLimit  = 10

	messageNotMatched = "not matched yet, try again later"
)

// EngineConfig holds the dependencies of an Engine
type EngineConfig struct {
	Sales   sales.Repository
	Gateway payment.Gateway
	Events  shared.EventPublisher
	Metrics Metrics
	Logger  *zap.Logger

	// HeuristicWindow is the half-width of the amount_window time range
	HeuristicWindow time.Duration
	CandidateLimit  int
}

// Engine resolves gateway payments to sales and writes the mapped status.
type Engine struct {
	sales      sales.Repository
	gateway    payment.Gateway
	events     shared.EventPublisher
	metrics    Metrics
	logger     *zap.Logger
	window     time.Duration
	limit      int
	strategies []strategy
}

// NewEngine creates a new Engine
func NewEngine(cfg EngineConfig) *Engine {
	l := cfg.Logger
	if l == nil {
		l = zap.NewNop()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	e := &Engine{
		sales:   cfg.Sales,
		gateway: cfg.Gateway,
		events:  cfg.Events,
		metrics: metrics,
		logger:  l.Named("reconciliation"),
		window:  cfg.HeuristicWindow,
		limit:   cfg.CandidateLimit,
	}
	if e.window <= 0 {
		e.window = DefaultHeuristicWindow
	}
	if e.limit <= 0 {
		e.limit = DefaultCandidateLimit
	}
	e.strategies = []strategy{
		{name: StrategyDirectPaymentID, run: e.matchDirectPaymentID},
		{name: StrategyPaymentMetadata, run: e.matchPaymentMetadata},
		{name: StrategyPreferenceLink, run: e.matchPreferenceLink},
		{name: StrategyPreferenceMetadata, run: e.matchPreferenceMetadata},
		{name: StrategyAmountWindow, run: e.matchAmountWindow},
	}
	return e
}

// Reconcile resolves the request to a sale and applies the gateway status.
// Transient gateway failures come back wrapped and satisfy
// payment.IsRetryable; rejected credentials wrap ErrReconciliationConfig.
func (e *Engine) Reconcile(ctx context.Context, req Request) (result *Result, err error) {
	if !req.HasHints() {
		return nil, ErrNoHints
	}
	if req.Source == "" {
		req.Source = SourceManual
	}

	ctx, span := telemetry.StartSpan(ctx, "reconciliation.reconcile",
		telemetry.WithAttribute("reconciliation.source", string(req.Source)),
		telemetry.WithAttribute("reconciliation.allow_heuristic", req.AllowHeuristic),
		telemetry.WithAttribute("reconciliation.force", req.Force),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		var outcome, strategyName string
		if result != nil {
			outcome = string(result.Outcome)
			strategyName = result.Strategy
		}
		e.metrics.ObserveReconciliation(ctx, string(req.Source), outcome, strategyName, time.Since(start))
		if err != nil {
			telemetry.RecordError(span, err)
			return
		}
		telemetry.SetAttribute(span, "reconciliation.outcome", outcome)
		telemetry.SetAttribute(span, "reconciliation.strategy", strategyName)
		telemetry.SetOK(span)
	}()

	a, err := e.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return notMatched("sale not found"), nil
	}

	m, err := e.resolve(ctx, a)
	if err != nil {
		return nil, classifyError(err)
	}
	if m == nil && a.linkedElsewhere != nil {
		r := notMatched(fmt.Sprintf("payment %s is linked to sale %s", a.paymentID, a.linkedElsewhere.SaleNumber))
		r.PaymentID = a.paymentID
		r.LinkedSaleID = a.linkedElsewhere.ID
		return r, nil
	}
	if m == nil {
		e.log(ctx).Info("No sale matched",
			zap.String("source", string(req.Source)),
			zap.String("payment_id", a.paymentID),
			zap.String("preference_id", a.preferenceID),
			zap.String("sale_id", uuidString(req.SaleID)))
		return notMatched(messageNotMatched), nil
	}
	return e.apply(ctx, a, m)
}

// prepare loads the requested sale and fills missing hints from its stored
// linkage. It returns a nil attempt when the sale is unknown and nothing else
// was given.
func (e *Engine) prepare(ctx context.Context, req Request) (*attempt, error) {
	a := newAttempt(req)
	if req.SaleID == uuid.Nil {
		return a, nil
	}

	sale, err := e.sales.GetByID(ctx, req.SaleID)
	switch {
	case errors.Is(err, sales.ErrSaleNotFound):
		if a.paymentID == "" && a.preferenceID == "" {
			return nil, nil
		}
	case err != nil:
		return nil, fmt.Errorf("failed to load sale: %w", err)
	default:
		a.sale = sale
		if a.paymentID == "" {
			a.paymentID = sale.PaymentID()
		}
		if a.preferenceID == "" {
			a.preferenceID = sale.PreferenceID()
		}
	}
	return a, nil
}

// resolve runs the strategies in order and returns the first match
func (e *Engine) resolve(ctx context.Context, a *attempt) (*match, error) {
	for _, s := range e.strategies {
		m, err := s.run(ctx, a)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", s.name, err)
		}
		if m != nil {
			m.strategy = s.name
			return m, nil
		}
		if a.linkedElsewhere != nil {
			return nil, nil
		}
	}
	return nil, nil
}

// apply writes the mapped gateway status unless the sale already reflects it
func (e *Engine) apply(ctx context.Context, a *attempt, m *match) (*Result, error) {
	target := sales.MapGatewayStatus(m.payment.Status)
	result := &Result{
		SaleID:         m.sale.ID,
		SaleNumber:     m.sale.SaleNumber,
		PreviousStatus: m.sale.PaymentStatus,
		NewStatus:      m.sale.PaymentStatus,
		PaymentID:      m.payment.ID,
		Strategy:       m.strategy,
		Confidence:     m.confidence,
	}
	l := e.log(ctx).With(
		zap.String("sale_id", m.sale.ID.String()),
		zap.String("sale_number", m.sale.SaleNumber),
		zap.String("payment_id", m.payment.ID),
		zap.String("strategy", m.strategy),
		zap.String("confidence", string(m.confidence)))

	if m.sale.IsLinkedTo(target, m.payment.ID, m.payment.Installments) {
		result.Outcome = OutcomeUnchanged
		result.Message = "sale already reflects the gateway status"
		l.Debug("Sale payment status unchanged", zap.String("status", target.String()))
		return result, nil
	}

	upd, err := e.sales.ApplyStatusUpdate(ctx, sales.StatusUpdate{
		SaleID:       m.sale.ID,
		NewStatus:    target,
		PaymentID:    m.payment.ID,
		Installments: m.payment.Installments,
		Force:        a.req.Force,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply payment status: %w", err)
	}
	if upd.Sale != nil {
		result.SaleNumber = upd.Sale.SaleNumber
		result.NewStatus = upd.Sale.PaymentStatus
	}

	if !upd.Applied {
		result.Outcome = OutcomeAlreadyFinal
		result.Message = fmt.Sprintf("sale is already %s", result.NewStatus)
		l.Info("Sale payment status kept",
			zap.String("current_status", result.NewStatus.String()),
			zap.String("gateway_status", m.payment.Status.String()))
		return result, nil
	}

	result.Outcome = OutcomeUpdated
	result.NewStatus = target
	result.Message = fmt.Sprintf("payment status changed from %s to %s", result.PreviousStatus, target)

	fields := []zap.Field{
		zap.String("previous_status", result.PreviousStatus.String()),
		zap.String("new_status", target.String()),
		zap.Bool("forced", a.req.Force),
	}
	if m.confidence == ConfidenceLow {
		l.Warn("Sale payment status updated by heuristic match", fields...)
	} else {
		l.Info("Sale payment status updated", fields...)
	}

	if e.events != nil {
		event := sales.NewSalePaymentStatusChanged(m.sale.ID, result.SaleNumber, result.PreviousStatus, target,
			m.payment.ID, m.strategy, m.confidence == ConfidenceLow)
		if err := e.events.Publish(ctx, event); err != nil {
			l.Error("Failed to publish payment status event", zap.Error(err))
		}
	}
	return result, nil
}

func (e *Engine) log(ctx context.Context) *zap.Logger {
	l := e.logger
	if id := logger.GetRequestID(ctx); id != "" {
		l = l.With(zap.String("request_id", id))
	}
	return l
}

// classifyError maps gateway credential failures onto ErrReconciliationConfig
func classifyError(err error) error {
	if payment.IsFatal(err) {
		return fmt.Errorf("%w: %w", ErrReconciliationConfig, err)
	}
	return err
}

func notMatched(message string) *Result {
	return &Result{Outcome: OutcomeNotMatched, Message: message}
}

func uuidString(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

func trimmed(s string) string {
	return strings.TrimSpace(s)
}

// Ensure Engine implements Reconciler
var _ Reconciler = (*Engine)(nil)
