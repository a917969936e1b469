package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/lojatextil/erp/internal/domain/payment"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName names the meter used for reconciliation instruments
const MeterName = "erp-pagamentos/reconciliation"

// ReconciliationMetrics records reconciliation attempts, sweep runs and
// gateway calls.
type ReconciliationMetrics struct {
	attempts        *Counter
	attemptDuration *Histogram
	sweepRuns       *Counter
	sweepItems      *Counter
	gatewayCalls    *Counter
	gatewayDuration *Histogram
}

// NewReconciliationMetrics creates the instruments on meter.
func NewReconciliationMetrics(meter metric.Meter) (*ReconciliationMetrics, error) {
	m := &ReconciliationMetrics{}
	var err error

	if m.attempts, err = NewCounter(meter, "reconciliation.attempts", "Reconciliation attempts by outcome", "{attempt}"); err != nil {
		return nil, err
	}
	if m.attemptDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "reconciliation.duration",
		Description: "Reconciliation attempt duration",
		Unit:        "s",
		Boundaries:  GatewayDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.sweepRuns, err = NewCounter(meter, "reconciliation.sweep.runs", "Completed sweep runs", "{run}"); err != nil {
		return nil, err
	}
	if m.sweepItems, err = NewCounter(meter, "reconciliation.sweep.items", "Sales visited by sweeps by outcome", "{sale}"); err != nil {
		return nil, err
	}
	if m.gatewayCalls, err = NewCounter(meter, "gateway.calls", "Payment gateway calls", "{call}"); err != nil {
		return nil, err
	}
	if m.gatewayDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "gateway.duration",
		Description: "Payment gateway call latency",
		Unit:        "s",
		Boundaries:  GatewayDurationBuckets,
	}); err != nil {
		return nil, err
	}
	return m, nil
}

// ObserveReconciliation records one attempt. An empty outcome stands for an
// attempt that ended in error.
func (m *ReconciliationMetrics) ObserveReconciliation(ctx context.Context, source, outcome, strategy string, duration time.Duration) {
	if outcome == "" {
		outcome = "error"
	}
	attrs := []attribute.KeyValue{AttrSource.String(source), AttrOutcome.String(outcome)}
	if strategy != "" {
		attrs = append(attrs, AttrStrategy.String(strategy))
	}
	m.attempts.Inc(ctx, attrs...)
	m.attemptDuration.RecordDuration(ctx, duration, AttrSource.String(source))
}

// ObserveSweep records a finished sweep and its per-outcome counts.
func (m *ReconciliationMetrics) ObserveSweep(ctx context.Context, counts map[string]int) {
	m.sweepRuns.Inc(ctx)
	for outcome, n := range counts {
		if n > 0 {
			m.sweepItems.Add(ctx, int64(n), AttrOutcome.String(outcome))
		}
	}
}

// ObserveGatewayCall records one gateway round trip.
func (m *ReconciliationMetrics) ObserveGatewayCall(ctx context.Context, operation string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{AttrOperation.String(operation), AttrErrorClass.String(gatewayErrorClass(err))}
	m.gatewayCalls.Inc(ctx, attrs...)
	m.gatewayDuration.RecordDuration(ctx, duration, AttrOperation.String(operation))
}

func gatewayErrorClass(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, payment.ErrGatewayNotFound):
		return "not_found"
	case errors.Is(err, payment.ErrGatewayAuth):
		return "auth"
	case errors.Is(err, payment.ErrGatewayUnavailable):
		return "unavailable"
	case errors.Is(err, payment.ErrGatewayInvalidResponse):
		return "invalid_response"
	default:
		return "request_failed"
	}
}
