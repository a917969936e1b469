package reconciliation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lojatextil/erp/internal/domain/sales"
	"go.uber.org/zap"
)

const (
	DefaultRefreshTimeout = 15 * time.Second

	messageRetryLater = "payment gateway is unavailable, try again later"
)

// RefreshInput is an operator's request to re-check a sale's payment
type RefreshInput struct {
	SaleID       uuid.UUID
	PaymentID    string
	PreferenceID string
	Force        bool
	// CanOverride is whether the caller holds the override permission
	CanOverride bool
}

// RefreshResult is what a manual refresh reports back
type RefreshResult struct {
	Matched    bool                `json:"matched"`
	Outcome    Outcome             `json:"outcome"`
	SaleID     uuid.UUID           `json:"sale_id"`
	SaleNumber string              `json:"sale_number,omitempty"`
	Status     sales.PaymentStatus `json:"status,omitempty"`
	PaymentID  string              `json:"payment_id,omitempty"`
	Strategy   string              `json:"strategy,omitempty"`
	Confidence Confidence          `json:"confidence,omitempty"`
	Message    string              `json:"message"`
	// LinkedSaleID names the sale the payment actually belongs to when it
	// is not the requested one
	LinkedSaleID *uuid.UUID `json:"linked_sale_id,omitempty"`
}

// RefreshService runs reconciliation for a single sale on demand
type RefreshService struct {
	engine  Reconciler
	sales   sales.Repository
	timeout time.Duration
	logger  *zap.Logger
}

// NewRefreshService creates a new RefreshService
func NewRefreshService(engine Reconciler, saleRepo sales.Repository, timeout time.Duration, logger *zap.Logger) *RefreshService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}
	return &RefreshService{engine: engine, sales: saleRepo, timeout: timeout, logger: logger.Named("reconciliation_refresh")}
}

// Refresh reconciles one sale synchronously. It returns sales.ErrSaleNotFound
// for an unknown sale. A transient gateway failure is
// reported as an unmatched result with a retry message; only configuration
// problems and store failures are returned as errors.
func (s *RefreshService) Refresh(ctx context.Context, in RefreshInput) (*RefreshResult, error) {
	if in.SaleID == uuid.Nil {
		return nil, ErrNoHints
	}
	if in.Force && !in.CanOverride {
		return nil, ErrOverrideNotAllowed
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.sales.GetByID(ctx, in.SaleID); err != nil {
		return nil, err
	}

	result, err := s.engine.Reconcile(ctx, Request{
		SaleID:               in.SaleID,
		ExternalPaymentID:    in.PaymentID,
		ExternalPreferenceID: in.PreferenceID,
		Source:               SourceManual,
		Force:                in.Force,
		// candidates are narrowed to the requested sale
		AllowHeuristic: true,
	})
	if err != nil {
		if isTransient(err) && !errors.Is(err, ErrReconciliationConfig) {
			s.logger.Warn("Manual refresh deferred",
				zap.String("sale_id", in.SaleID.String()),
				zap.Error(err))
			return &RefreshResult{
				Matched: false,
				Outcome: OutcomeNotMatched,
				SaleID:  in.SaleID,
				Message: messageRetryLater,
			}, nil
		}
		return nil, err
	}

	if in.Force {
		s.logger.Warn("Payment status refreshed with override",
			zap.String("sale_id", in.SaleID.String()),
			zap.String("outcome", string(result.Outcome)),
			zap.String("new_status", result.NewStatus.String()))
	}

	out := &RefreshResult{
		Matched:    result.Matched(),
		Outcome:    result.Outcome,
		SaleID:     in.SaleID,
		SaleNumber: result.SaleNumber,
		Status:     result.NewStatus,
		PaymentID:  result.PaymentID,
		Strategy:   result.Strategy,
		Confidence: result.Confidence,
		Message:    result.Message,
	}
	linked := result.LinkedSaleID
	if out.Matched && result.SaleID != uuid.Nil && result.SaleID != in.SaleID {
		linked = result.SaleID
	}
	if linked != uuid.Nil {
		out.LinkedSaleID = &linked
	}
	if !out.Matched && linked == uuid.Nil {
		out.Message = messageNotMatched
	}
	return out, nil
}
