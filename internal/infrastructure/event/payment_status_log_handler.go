package event

import (
	"context"

	"github.com/lojatextil/erp/internal/domain/sales"
	"github.com/lojatextil/erp/internal/domain/shared"
	"github.com/lojatextil/erp/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// PaymentStatusLogHandler writes an audit line for every reconciled payment
// status change. Low-confidence changes are logged at Warn so operators can
// review them.
type PaymentStatusLogHandler struct {
	logger *zap.Logger
}

// NewPaymentStatusLogHandler creates the handler
func NewPaymentStatusLogHandler(l *zap.Logger) *PaymentStatusLogHandler {
	if l == nil {
		l = zap.NewNop()
	}
	return &PaymentStatusLogHandler{logger: l.Named("payment_audit")}
}

// EventTypes returns the handled event types
func (h *PaymentStatusLogHandler) EventTypes() []string {
	return []string{sales.EventTypeSalePaymentStatusChanged}
}

// Handle logs the change
func (h *PaymentStatusLogHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	changed, ok := event.(*sales.SalePaymentStatusChanged)
	if !ok {
		return nil
	}

	l := h.logger
	if reqID := logger.GetRequestID(ctx); reqID != "" {
		l = l.With(zap.String("request_id", reqID))
	}
	fields := []zap.Field{
		zap.String("sale_id", changed.AggregateID().String()),
		zap.String("sale_number", changed.SaleNumber),
		zap.String("previous_status", changed.PreviousStatus.String()),
		zap.String("new_status", changed.NewStatus.String()),
		zap.String("payment_id", changed.PaymentID),
		zap.String("strategy", changed.Strategy),
	}
	if changed.LowConfidence {
		l.Warn("Sale payment status changed by heuristic match", append(fields, zap.String("confidence", "low"))...)
		return nil
	}
	l.Info("Sale payment status changed", fields...)
	return nil
}

var _ shared.EventHandler = (*PaymentStatusLogHandler)(nil)
