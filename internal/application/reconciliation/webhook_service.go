package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lojatextil/erp/internal/domain/payment"
	"github.com/lojatextil/erp/internal/domain/shared"
	"github.com/lojatextil/erp/internal/infrastructure/logger"
	"github.com/lojatextil/erp/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

const (
	DefaultWebhookTimeout  = 10 * time.Second
	DefaultWebhookDedupTTL = 24 * time.Hour

	releaseTimeout = 2 * time.Second
)

// SignatureVerifier checks the authenticity of a gateway notification
type SignatureVerifier interface {
	Enabled() bool
	Verify(header, requestID, dataID string) error
}

// WebhookArchive keeps a copy of raw notification payloads
type WebhookArchive interface {
	Archive(ctx context.Context, requestID string, receivedAt time.Time, payload []byte) (string, error)
}

// WebhookDelivery is one received gateway notification
type WebhookDelivery struct {
	Notification payment.Notification
	Payload      []byte
	// SignatureHeader is the raw x-signature header
	SignatureHeader string
	// RequestID is the gateway's x-request-id header
	RequestID  string
	ReceivedAt time.Time
}

// WebhookStatus tells how a delivery was handled. Every status is
// acknowledged to the gateway.
type WebhookStatus string

const (
	WebhookStatusProcessed WebhookStatus = "processed"
	WebhookStatusDuplicate WebhookStatus = "duplicate"
	WebhookStatusIgnored   WebhookStatus = "ignored"
	// WebhookStatusDeferred means the gateway was unreachable; the sweep retries
	WebhookStatusDeferred WebhookStatus = "deferred"
)

// WebhookResult is the outcome of handling a delivery
type WebhookResult struct {
	Status     WebhookStatus
	Result     *Result
	ArchiveKey string
}

// WebhookServiceConfig holds the dependencies of a WebhookService
type WebhookServiceConfig struct {
	Engine      Reconciler
	Verifier    SignatureVerifier
	Idempotency shared.IdempotencyStore
	Archive     WebhookArchive
	Logger      *zap.Logger

	Timeout  time.Duration
	DedupTTL time.Duration
}

// WebhookService handles Mercado Pago notifications
type WebhookService struct {
	engine      Reconciler
	verifier    SignatureVerifier
	idempotency shared.IdempotencyStore
	archive     WebhookArchive
	logger      *zap.Logger
	timeout     time.Duration
	dedupTTL    time.Duration
}

// NewWebhookService creates a new WebhookService. Verifier, Idempotency and
// Archive are optional.
func NewWebhookService(cfg WebhookServiceConfig) *WebhookService {
	l := cfg.Logger
	if l == nil {
		l = zap.NewNop()
	}
	s := &WebhookService{
		engine:      cfg.Engine,
		verifier:    cfg.Verifier,
		idempotency: cfg.Idempotency,
		archive:     cfg.Archive,
		logger:      l.Named("webhook"),
		timeout:     cfg.Timeout,
		dedupTTL:    cfg.DedupTTL,
	}
	if s.timeout <= 0 {
		s.timeout = DefaultWebhookTimeout
	}
	if s.dedupTTL <= 0 {
		s.dedupTTL = DefaultWebhookDedupTTL
	}
	return s
}

// Handle verifies, archives, deduplicates and reconciles a notification.
//
// Errors: payment.ErrInvalidSignature when the signature does not verify,
// ErrInvalidNotification when no resource id is present,
// ErrReconciliationConfig on rejected gateway credentials. Any other error is
// internal. Transient gateway failures are not errors: they yield
// WebhookStatusDeferred.
func (s *WebhookService) Handle(ctx context.Context, d WebhookDelivery) (*WebhookResult, error) {
	n := d.Notification
	ctx, span := telemetry.StartSpan(ctx, "reconciliation.webhook",
		telemetry.WithAttribute("webhook.type", n.Type),
		telemetry.WithAttribute("webhook.action", n.Action),
		telemetry.WithAttribute("webhook.resource_id", n.ResourceID))
	defer span.End()

	l := s.logger.With(
		zap.String("type", n.Type),
		zap.String("action", n.Action),
		zap.String("resource_id", n.ResourceID),
		zap.Bool("live_mode", n.LiveMode))
	if id := logger.GetRequestID(ctx); id != "" {
		l = l.With(zap.String("request_id", id))
	}

	if n.ResourceID == "" {
		telemetry.RecordError(span, ErrInvalidNotification)
		return nil, ErrInvalidNotification
	}

	if s.verifier != nil && s.verifier.Enabled() {
		if err := s.verifier.Verify(d.SignatureHeader, d.RequestID, n.ResourceID); err != nil {
			l.Warn("Rejected webhook with invalid signature", zap.Error(err))
			telemetry.RecordError(span, err)
			if !errors.Is(err, payment.ErrInvalidSignature) {
				err = fmt.Errorf("%w: %w", payment.ErrInvalidSignature, err)
			}
			return nil, err
		}
	}

	out := &WebhookResult{}
	if s.archive != nil && len(d.Payload) > 0 {
		receivedAt := d.ReceivedAt
		if receivedAt.IsZero() {
			receivedAt = time.Now()
		}
		key, err := s.archive.Archive(ctx, d.RequestID, receivedAt, d.Payload)
		if err != nil {
			l.Warn("Failed to archive webhook payload", zap.Error(err))
		} else {
			out.ArchiveKey = key
		}
	}

	if !n.IsPayment() {
		l.Debug("Ignoring non-payment notification")
		out.Status = WebhookStatusIgnored
		telemetry.SetOK(span)
		return out, nil
	}

	// repeats without a request id are still no-ops through the unchanged
	// check and the conditional update
	key := n.DeduplicationKey(d.RequestID)
	claimed := false
	if s.idempotency != nil && key != "" {
		fresh, err := s.idempotency.MarkProcessed(ctx, key, s.dedupTTL)
		switch {
		case err != nil:
			// reconciliation is idempotent on its own; go on without the guard
			l.Warn("Idempotency store unavailable", zap.Error(err))
		case !fresh:
			l.Info("Duplicate webhook delivery", zap.String("dedup_key", key))
			out.Status = WebhookStatusDuplicate
			telemetry.SetOK(span)
			return out, nil
		default:
			claimed = true
		}
	}

	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	result, err := s.engine.Reconcile(rctx, Request{
		ExternalPaymentID: n.ResourceID,
		Source:            SourceWebhook,
		AllowHeuristic:    true,
	})
	if err != nil {
		if claimed {
			s.release(ctx, key, l)
		}
		telemetry.RecordError(span, err)
		if isTransient(err) {
			l.Warn("Webhook reconciliation deferred", zap.Error(err))
			out.Status = WebhookStatusDeferred
			return out, nil
		}
		l.Error("Webhook reconciliation failed", zap.Error(err))
		return nil, err
	}

	out.Status = WebhookStatusProcessed
	out.Result = result
	telemetry.SetAttribute(span, "reconciliation.outcome", string(result.Outcome))
	telemetry.SetOK(span)
	l.Info("Webhook processed",
		zap.String("outcome", string(result.Outcome)),
		zap.String("strategy", result.Strategy),
		zap.String("sale_id", uuidString(result.SaleID)))
	return out, nil
}

// release forgets the dedup key so that a redelivery is processed again
func (s *WebhookService) release(ctx context.Context, key string, l *zap.Logger) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := s.idempotency.Release(rctx, key); err != nil {
		l.Warn("Failed to release idempotency key", zap.String("dedup_key", key), zap.Error(err))
	}
}

// isTransient reports whether err is a gateway or deadline failure that a
// later attempt may resolve
func isTransient(err error) bool {
	return payment.IsRetryable(err) || errors.Is(err, context.Canceled)
}
