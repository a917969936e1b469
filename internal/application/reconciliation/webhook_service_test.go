package reconciliation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lojatextil/erp/internal/domain/payment"
	"github.com/lojatextil/erp/internal/domain/sales"
	"github.com/lojatextil/erp/internal/infrastructure/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func paymentDelivery(id string) WebhookDelivery {
	return WebhookDelivery{
		Notification: payment.Notification{Type: "payment", Action: "payment.updated", ResourceID: id},
		Payload:      []byte(`{"type":"payment","action":"payment.updated","data":{"id":"` + id + `"}}`),
		RequestID:    "req-1",
		ReceivedAt:   time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
}

func TestWebhookService_DuplicateApprovedDelivery(t *testing.T) {
	f := newEngineFixture()
	sale := linked(newTestSale("150.00", sales.PaymentStatusPending, time.Now()), "P1")
	approved := withStatus(sale, sales.PaymentStatusApproved, "P1")
	p := gatewayPayment("P1", payment.StatusApproved, "150.00", time.Now(), nil)

	f.gateway.On("FetchPayment", mock.Anything, "P1").Return(p, nil).Once()
	f.repo.On("FindByExternalPaymentID", mock.Anything, "P1").Return(sale, nil).Once()
	f.repo.On("ApplyStatusUpdate", mock.Anything, mock.Anything).
		Return(&sales.StatusUpdateResult{Sale: approved, Applied: true}, nil).Once()
	f.events.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()

	store := cache.NewInMemoryIdempotencyStore()
	defer store.Close()
	svc := NewWebhookService(WebhookServiceConfig{Engine: f.engine, Idempotency: store})

	first, err := svc.Handle(context.Background(), paymentDelivery("P1"))
	require.NoError(t, err)
	assert.Equal(t, WebhookStatusProcessed, first.Status)
	assert.Equal(t, OutcomeUpdated, first.Result.Outcome)

	second, err := svc.Handle(context.Background(), paymentDelivery("P1"))
	require.NoError(t, err)
	assert.Equal(t, WebhookStatusDuplicate, second.Status)
	assert.Nil(t, second.Result)

	f.assertExpectations(t)
}

func TestWebhookService_StatusChangeAfterPendingDelivery(t *testing.T) {
	f := newEngineFixture()
	pending := linked(newTestSale("150.00", sales.PaymentStatusPending, time.Now()), "P13")
	approved := withStatus(pending, sales.PaymentStatusApproved, "P13")

	f.gateway.On("FetchPayment", mock.Anything, "P13").
		Return(gatewayPayment("P13", payment.StatusPending, "150.00", time.Now(), nil), nil).Once()
	f.gateway.On("FetchPayment", mock.Anything, "P13").
		Return(gatewayPayment("P13", payment.StatusApproved, "150.00", time.Now(), nil), nil).Once()
	f.repo.On("FindByExternalPaymentID", mock.Anything, "P13").Return(pending, nil).Twice()
	f.repo.On("ApplyStatusUpdate", mock.Anything, mock.MatchedBy(func(u sales.StatusUpdate) bool {
		return u.NewStatus == sales.PaymentStatusApproved
	})).Return(&sales.StatusUpdateResult{Sale: approved, Applied: true}, nil).Once()
	f.events.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()

	store := cache.NewInMemoryIdempotencyStore()
	defer store.Close()
	svc := NewWebhookService(WebhookServiceConfig{Engine: f.engine, Idempotency: store})

	first := paymentDelivery("P13")
	first.RequestID = "req-pending"
	out, err := svc.Handle(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, WebhookStatusProcessed, out.Status)
	assert.Equal(t, OutcomeUnchanged, out.Result.Outcome)

	second := paymentDelivery("P13")
	second.RequestID = "req-approved"
	out, err = svc.Handle(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, WebhookStatusProcessed, out.Status)
	require.NotNil(t, out.Result)
	assert.Equal(t, OutcomeUpdated, out.Result.Outcome)
	assert.Equal(t, sales.PaymentStatusApproved, out.Result.NewStatus)

	f.assertExpectations(t)
}

func TestWebhookService_LegacyDeliveryWithoutRequestIDIsNotFiltered(t *testing.T) {
	engine := new(MockReconciler)
	store := new(MockIdempotencyStore)
	engine.On("Reconcile", mock.Anything, mock.Anything).Return(&Result{Outcome: OutcomeUnchanged}, nil).Twice()

	svc := NewWebhookService(WebhookServiceConfig{Engine: engine, Idempotency: store})
	d := paymentDelivery("P14")
	d.Notification.Action = ""
	d.RequestID = ""

	for i := 0; i < 2; i++ {
		out, err := svc.Handle(context.Background(), d)
		require.NoError(t, err)
		assert.Equal(t, WebhookStatusProcessed, out.Status)
	}
	engine.AssertExpectations(t)
	store.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything, mock.Anything)
}

func TestWebhookService_StalePendingAfterApproval(t *testing.T) {
	f := newEngineFixture()
	sale := linked(newTestSale("150.00", sales.PaymentStatusApproved, time.Now()), "P2")
	f.gateway.On("FetchPayment", mock.Anything, "P2").
		Return(gatewayPayment("P2", payment.StatusPending, "150.00", time.Now(), nil), nil)
	f.repo.On("FindByExternalPaymentID", mock.Anything, "P2").Return(sale, nil)
	f.repo.On("ApplyStatusUpdate", mock.Anything, mock.Anything).
		Return(&sales.StatusUpdateResult{Sale: sale, Applied: false}, nil)

	svc := NewWebhookService(WebhookServiceConfig{Engine: f.engine})
	out, err := svc.Handle(context.Background(), paymentDelivery("P2"))

	require.NoError(t, err)
	assert.Equal(t, WebhookStatusProcessed, out.Status)
	assert.Equal(t, OutcomeAlreadyFinal, out.Result.Outcome)
	assert.Equal(t, sales.PaymentStatusApproved, out.Result.NewStatus)
	f.events.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestWebhookService_Handle(t *testing.T) {
	t.Run("reconciles with webhook defaults", func(t *testing.T) {
		engine := new(MockReconciler)
		store := new(MockIdempotencyStore)
		engine.On("Reconcile", mock.Anything, Request{
			ExternalPaymentID: "P3",
			Source:            SourceWebhook,
			AllowHeuristic:    true,
		}).Return(&Result{Outcome: OutcomeNotMatched}, nil)
		store.On("MarkProcessed", mock.Anything, "mercadopago:payment:P3:payment.updated:req-1", DefaultWebhookDedupTTL).Return(true, nil)

		svc := NewWebhookService(WebhookServiceConfig{Engine: engine, Idempotency: store})
		out, err := svc.Handle(context.Background(), paymentDelivery("P3"))

		require.NoError(t, err)
		assert.Equal(t, WebhookStatusProcessed, out.Status)
		engine.AssertExpectations(t)
		store.AssertExpectations(t)
		store.AssertNotCalled(t, "Release", mock.Anything, mock.Anything)
	})

	t.Run("applies a deadline", func(t *testing.T) {
		engine := new(MockReconciler)
		engine.On("Reconcile", mock.MatchedBy(func(ctx context.Context) bool {
			deadline, ok := ctx.Deadline()
			return ok && time.Until(deadline) <= 3*time.Second
		}), mock.Anything).Return(&Result{Outcome: OutcomeUnchanged}, nil)

		svc := NewWebhookService(WebhookServiceConfig{Engine: engine, Timeout: 3 * time.Second})
		_, err := svc.Handle(context.Background(), paymentDelivery("P4"))

		require.NoError(t, err)
		engine.AssertExpectations(t)
	})

	t.Run("ignores other topics", func(t *testing.T) {
		engine := new(MockReconciler)
		svc := NewWebhookService(WebhookServiceConfig{Engine: engine})
		d := paymentDelivery("MO1")
		d.Notification.Type = "merchant_order"

		out, err := svc.Handle(context.Background(), d)

		require.NoError(t, err)
		assert.Equal(t, WebhookStatusIgnored, out.Status)
		engine.AssertNotCalled(t, "Reconcile", mock.Anything, mock.Anything)
	})

	t.Run("rejects a missing resource id", func(t *testing.T) {
		svc := NewWebhookService(WebhookServiceConfig{Engine: new(MockReconciler)})
		_, err := svc.Handle(context.Background(), paymentDelivery(""))
		assert.ErrorIs(t, err, ErrInvalidNotification)
	})

	t.Run("rejects a bad signature", func(t *testing.T) {
		engine := new(MockReconciler)
		verifier := new(MockVerifier)
		verifier.On("Enabled").Return(true)
		verifier.On("Verify", "ts=1,v1=00", "req-1", "P5").Return(payment.ErrInvalidSignature)

		svc := NewWebhookService(WebhookServiceConfig{Engine: engine, Verifier: verifier})
		d := paymentDelivery("P5")
		d.SignatureHeader = "ts=1,v1=00"
		_, err := svc.Handle(context.Background(), d)

		assert.ErrorIs(t, err, payment.ErrInvalidSignature)
		engine.AssertNotCalled(t, "Reconcile", mock.Anything, mock.Anything)
	})

	t.Run("skips verification when disabled", func(t *testing.T) {
		engine := new(MockReconciler)
		verifier := new(MockVerifier)
		verifier.On("Enabled").Return(false)
		engine.On("Reconcile", mock.Anything, mock.Anything).Return(&Result{Outcome: OutcomeUnchanged}, nil)

		svc := NewWebhookService(WebhookServiceConfig{Engine: engine, Verifier: verifier})
		_, err := svc.Handle(context.Background(), paymentDelivery("P6"))

		require.NoError(t, err)
		verifier.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("transient failure is deferred and releases the key", func(t *testing.T) {
		engine := new(MockReconciler)
		store := new(MockIdempotencyStore)
		engine.On("Reconcile", mock.Anything, mock.Anything).Return(nil, payment.ErrGatewayUnavailable)
		store.On("MarkProcessed", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
		store.On("Release", mock.Anything, "mercadopago:payment:P7:payment.updated:req-1").Return(nil).Once()

		svc := NewWebhookService(WebhookServiceConfig{Engine: engine, Idempotency: store})
		out, err := svc.Handle(context.Background(), paymentDelivery("P7"))

		require.NoError(t, err)
		assert.Equal(t, WebhookStatusDeferred, out.Status)
		store.AssertExpectations(t)
	})

	t.Run("configuration failure is returned", func(t *testing.T) {
		engine := new(MockReconciler)
		store := new(MockIdempotencyStore)
		engine.On("Reconcile", mock.Anything, mock.Anything).
			Return(nil, classifyError(payment.ErrGatewayAuth))
		store.On("MarkProcessed", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
		store.On("Release", mock.Anything, mock.Anything).Return(nil).Once()

		svc := NewWebhookService(WebhookServiceConfig{Engine: engine, Idempotency: store})
		_, err := svc.Handle(context.Background(), paymentDelivery("P8"))

		assert.ErrorIs(t, err, ErrReconciliationConfig)
		store.AssertExpectations(t)
	})

	t.Run("store failure is returned", func(t *testing.T) {
		engine := new(MockReconciler)
		engine.On("Reconcile", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

		svc := NewWebhookService(WebhookServiceConfig{Engine: engine})
		_, err := svc.Handle(context.Background(), paymentDelivery("P9"))

		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrReconciliationConfig)
	})

	t.Run("idempotency outage does not block processing", func(t *testing.T) {
		engine := new(MockReconciler)
		store := new(MockIdempotencyStore)
		store.On("MarkProcessed", mock.Anything, mock.Anything, mock.Anything).Return(false, errors.New("redis down"))
		engine.On("Reconcile", mock.Anything, mock.Anything).Return(&Result{Outcome: OutcomeUnchanged}, nil)

		svc := NewWebhookService(WebhookServiceConfig{Engine: engine, Idempotency: store})
		out, err := svc.Handle(context.Background(), paymentDelivery("P10"))

		require.NoError(t, err)
		assert.Equal(t, WebhookStatusProcessed, out.Status)
	})

	t.Run("archives the raw payload", func(t *testing.T) {
		engine := new(MockReconciler)
		archive := new(MockArchive)
		d := paymentDelivery("P11")
		engine.On("Reconcile", mock.Anything, mock.Anything).Return(&Result{Outcome: OutcomeUnchanged}, nil)
		archive.On("Archive", mock.Anything, "req-1", d.ReceivedAt, d.Payload).Return("webhooks/key.json", nil)

		svc := NewWebhookService(WebhookServiceConfig{Engine: engine, Archive: archive})
		out, err := svc.Handle(context.Background(), d)

		require.NoError(t, err)
		assert.Equal(t, "webhooks/key.json", out.ArchiveKey)
		archive.AssertExpectations(t)
	})

	t.Run("archive failure is tolerated", func(t *testing.T) {
		engine := new(MockReconciler)
		archive := new(MockArchive)
		engine.On("Reconcile", mock.Anything, mock.Anything).Return(&Result{Outcome: OutcomeUnchanged}, nil)
		archive.On("Archive", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("s3 down"))

		svc := NewWebhookService(WebhookServiceConfig{Engine: engine, Archive: archive})
		out, err := svc.Handle(context.Background(), paymentDelivery("P12"))

		require.NoError(t, err)
		assert.Equal(t, WebhookStatusProcessed, out.Status)
		assert.Empty(t, out.ArchiveKey)
	})
}
