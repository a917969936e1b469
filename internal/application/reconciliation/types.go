// Package reconciliation keeps sale payment statuses in step with the payment
// gateway. An Engine resolves a gateway payment to a sale through an ordered
// chain of strategies and applies the mapped status with a conditional write.
// Webhooks, manual refreshes and periodic sweeps all go through the same
// Engine.
package reconciliation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lojatextil/erp/internal/domain/sales"
	"github.com/lojatextil/erp/internal/domain/shared"
	"github.com/shopspring/decimal"
)

var (
	// ErrReconciliationConfig is returned when the gateway rejects our
	// credentials or is not configured. Retrying will not help.
	ErrReconciliationConfig = errors.New("reconciliation: gateway credentials or configuration rejected")

	ErrNoHints             = shared.NewDomainError("NO_RECONCILIATION_HINTS", "A sale, payment or preference id is required")
	ErrOverrideNotAllowed  = shared.NewDomainError("OVERRIDE_NOT_ALLOWED", "Forcing a payment status requires the override permission")
	ErrInvalidNotification = shared.NewDomainError("INVALID_NOTIFICATION", "Notification does not identify a resource")
	ErrSweepJobNotFound    = shared.NewDomainError("SWEEP_JOB_NOT_FOUND", "Sweep job not found")
)

// Source identifies what triggered a reconciliation attempt
type Source string

const (
	SourceWebhook  Source = "webhook"
	SourceManual   Source = "manual"
	SourceSweep    Source = "sweep"
	SourceCheckout Source = "checkout"
)

// Outcome is what a reconciliation attempt did to the sale
type Outcome string

const (
	OutcomeUpdated      Outcome = "updated"
	OutcomeUnchanged    Outcome = "unchanged"
	OutcomeAlreadyFinal Outcome = "already_final"
	OutcomeNotMatched   Outcome = "not_matched"
)

// Confidence tells how a match was established. Low confidence matches come
// from the amount heuristic and deserve an operator's eye.
type Confidence string

const (
	ConfidenceHigh Confidence = "high"
	ConfidenceLow  Confidence = "low"
)

// Strategy names, in the order the engine tries them
const (
	StrategyDirectPaymentID    = "direct_payment_id"
	StrategyPaymentMetadata    = "payment_metadata"
	StrategyPreferenceLink     = "preference_link"
	StrategyPreferenceMetadata = "preference_metadata"
	StrategyAmountWindow       = "amount_window"
)

// Request is one reconciliation attempt. At least one of SaleID,
// ExternalPaymentID or ExternalPreferenceID must be set.
type Request struct {
	SaleID               uuid.UUID
	ExternalPaymentID    string
	ExternalPreferenceID string
	// DeclaredAmount overrides the payment amount for the heuristic when non-zero
	DeclaredAmount decimal.Decimal
	// EventTime centres the heuristic window; zero means the payment's creation time
	EventTime time.Time

	Source         Source
	AllowHeuristic bool
	// Force writes the gateway status even over a final one
	Force bool
}

// HasHints reports whether the request names anything to reconcile
func (r Request) HasHints() bool {
	return r.SaleID != uuid.Nil || r.ExternalPaymentID != "" || r.ExternalPreferenceID != ""
}

// Result describes the outcome of a reconciliation attempt
type Result struct {
	Outcome        Outcome
	SaleID         uuid.UUID
	SaleNumber     string
	PreviousStatus sales.PaymentStatus
	NewStatus      sales.PaymentStatus
	PaymentID      string
	Strategy       string
	Confidence     Confidence
	Message        string
	// LinkedSaleID is set on not_matched when the payment is bound to a sale
	// other than the requested one
	LinkedSaleID uuid.UUID
}

// Matched reports whether a sale was resolved for the payment
func (r *Result) Matched() bool {
	return r != nil && r.Outcome != OutcomeNotMatched
}

// Reconciler runs reconciliation attempts. *Engine is the implementation;
// the trigger services depend on this interface.
type Reconciler interface {
	Reconcile(ctx context.Context, req Request) (*Result, error)
}

// Metrics receives reconciliation measurements. An empty outcome marks an
// attempt that failed with an error.
type Metrics interface {
	ObserveReconciliation(ctx context.Context, source, outcome, strategy string, duration time.Duration)
	ObserveSweep(ctx context.Context, counts map[string]int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveReconciliation(context.Context, string, string, string, time.Duration) {}
func (nopMetrics) ObserveSweep(context.Context, map[string]int)                                 {}
