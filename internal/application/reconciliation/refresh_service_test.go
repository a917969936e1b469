package reconciliation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lojatextil/erp/internal/domain/payment"
	"github.com/lojatextil/erp/internal/domain/sales"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRefreshService_Refresh(t *testing.T) {
	sale := newTestSale("75.00", sales.PaymentStatusPending, time.Now())

	t.Run("reports a match", func(t *testing.T) {
		engine := new(MockReconciler)
		repo := new(MockSaleRepository)
		repo.On("GetByID", mock.Anything, sale.ID).Return(sale, nil)
		engine.On("Reconcile", mock.Anything, Request{
			SaleID:            sale.ID,
			ExternalPaymentID: "P1",
			Source:            SourceManual,
			AllowHeuristic:    true,
		}).Return(&Result{
			Outcome:    OutcomeUpdated,
			SaleID:     sale.ID,
			SaleNumber: sale.SaleNumber,
			NewStatus:  sales.PaymentStatusApproved,
			PaymentID:  "P1",
			Strategy:   StrategyDirectPaymentID,
			Confidence: ConfidenceHigh,
			Message:    "payment status changed from pending to approved",
		}, nil)

		svc := NewRefreshService(engine, repo, time.Second, nil)
		out, err := svc.Refresh(context.Background(), RefreshInput{SaleID: sale.ID, PaymentID: "P1"})

		require.NoError(t, err)
		assert.True(t, out.Matched)
		assert.Equal(t, OutcomeUpdated, out.Outcome)
		assert.Equal(t, sales.PaymentStatusApproved, out.Status)
		assert.Equal(t, StrategyDirectPaymentID, out.Strategy)
		assert.Equal(t, ConfidenceHigh, out.Confidence)
		engine.AssertExpectations(t)
	})

	t.Run("not matched asks to retry later", func(t *testing.T) {
		engine := new(MockReconciler)
		repo := new(MockSaleRepository)
		repo.On("GetByID", mock.Anything, sale.ID).Return(sale, nil)
		engine.On("Reconcile", mock.Anything, mock.Anything).Return(notMatched(messageNotMatched), nil)

		out, err := NewRefreshService(engine, repo, 0, nil).Refresh(context.Background(), RefreshInput{SaleID: sale.ID})

		require.NoError(t, err)
		assert.False(t, out.Matched)
		assert.Equal(t, OutcomeNotMatched, out.Outcome)
		assert.Equal(t, "not matched yet, try again later", out.Message)
	})

	t.Run("gateway outage is not an error", func(t *testing.T) {
		engine := new(MockReconciler)
		repo := new(MockSaleRepository)
		repo.On("GetByID", mock.Anything, sale.ID).Return(sale, nil)
		engine.On("Reconcile", mock.Anything, mock.Anything).Return(nil, payment.ErrGatewayUnavailable)

		out, err := NewRefreshService(engine, repo, 0, nil).Refresh(context.Background(), RefreshInput{SaleID: sale.ID})

		require.NoError(t, err)
		assert.False(t, out.Matched)
		assert.Equal(t, messageRetryLater, out.Message)
	})

	t.Run("configuration failure is an error", func(t *testing.T) {
		engine := new(MockReconciler)
		repo := new(MockSaleRepository)
		repo.On("GetByID", mock.Anything, sale.ID).Return(sale, nil)
		engine.On("Reconcile", mock.Anything, mock.Anything).Return(nil, classifyError(payment.ErrGatewayAuth))

		_, err := NewRefreshService(engine, repo, 0, nil).Refresh(context.Background(), RefreshInput{SaleID: sale.ID})

		assert.ErrorIs(t, err, ErrReconciliationConfig)
	})

	t.Run("force requires permission", func(t *testing.T) {
		engine := new(MockReconciler)
		repo := new(MockSaleRepository)

		_, err := NewRefreshService(engine, repo, 0, nil).Refresh(context.Background(), RefreshInput{SaleID: sale.ID, Force: true})

		assert.ErrorIs(t, err, ErrOverrideNotAllowed)
		engine.AssertNotCalled(t, "Reconcile", mock.Anything, mock.Anything)
	})

	t.Run("force with permission", func(t *testing.T) {
		engine := new(MockReconciler)
		repo := new(MockSaleRepository)
		repo.On("GetByID", mock.Anything, sale.ID).Return(sale, nil)
		engine.On("Reconcile", mock.Anything, mock.MatchedBy(func(r Request) bool { return r.Force })).
			Return(&Result{Outcome: OutcomeUpdated, SaleID: sale.ID, NewStatus: sales.PaymentStatusCancelled}, nil)

		out, err := NewRefreshService(engine, repo, 0, nil).Refresh(context.Background(), RefreshInput{SaleID: sale.ID, Force: true, CanOverride: true})

		require.NoError(t, err)
		assert.Equal(t, sales.PaymentStatusCancelled, out.Status)
		engine.AssertExpectations(t)
	})

	t.Run("unknown sale", func(t *testing.T) {
		engine := new(MockReconciler)
		repo := new(MockSaleRepository)
		id := uuid.New()
		repo.On("GetByID", mock.Anything, id).Return(nil, sales.ErrSaleNotFound)

		_, err := NewRefreshService(engine, repo, 0, nil).Refresh(context.Background(), RefreshInput{SaleID: id})

		assert.ErrorIs(t, err, sales.ErrSaleNotFound)
	})
}

func TestRefreshService_BindsUntaggedPaymentByAmount(t *testing.T) {
	f := newEngineFixture()
	now := time.Now()
	sale := newTestSale("150.00", sales.PaymentStatusPending, now.Add(-10*time.Minute))
	p := gatewayPayment("P9", payment.StatusApproved, "150.00", now, nil)

	f.repo.On("GetByID", mock.Anything, sale.ID).Return(sale, nil)
	f.gateway.On("FetchPayment", mock.Anything, "P9").Return(p, nil)
	f.repo.On("FindByExternalPaymentID", mock.Anything, "P9").Return(nil, sales.ErrSaleNotFound)
	f.repo.On("FindPendingCandidates", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]sales.Sale{*sale}, nil).Once()
	f.repo.On("ApplyStatusUpdate", mock.Anything, sales.StatusUpdate{
		SaleID:       sale.ID,
		NewStatus:    sales.PaymentStatusApproved,
		PaymentID:    "P9",
		Installments: 1,
	}).Return(&sales.StatusUpdateResult{Sale: withStatus(sale, sales.PaymentStatusApproved, "P9"), Applied: true}, nil).Once()
	f.events.On("Publish", mock.Anything, statusChangedEvent(sale.ID, sales.PaymentStatusApproved, true)).Return(nil).Once()

	svc := NewRefreshService(f.engine, f.repo, time.Second, nil)
	out, err := svc.Refresh(context.Background(), RefreshInput{SaleID: sale.ID, PaymentID: "P9"})

	require.NoError(t, err)
	assert.True(t, out.Matched)
	assert.Equal(t, OutcomeUpdated, out.Outcome)
	assert.Equal(t, StrategyAmountWindow, out.Strategy)
	assert.Equal(t, ConfidenceLow, out.Confidence)
	assert.Equal(t, sale.ID, out.SaleID)
	assert.Nil(t, out.LinkedSaleID)
	f.assertExpectations(t)
}

func TestRefreshService_PaymentLinkedToAnotherSale(t *testing.T) {
	f := newEngineFixture()
	requested := newTestSale("90.00", sales.PaymentStatusPending, time.Now())
	owner := linked(newTestSale("90.00", sales.PaymentStatusApproved, time.Now()), "P20")
	owner.SaleNumber = "20260310-007"

	f.repo.On("GetByID", mock.Anything, requested.ID).Return(requested, nil)
	f.gateway.On("FetchPayment", mock.Anything, "P20").
		Return(gatewayPayment("P20", payment.StatusApproved, "90.00", time.Now(), nil), nil)
	f.repo.On("FindByExternalPaymentID", mock.Anything, "P20").Return(owner, nil)

	svc := NewRefreshService(f.engine, f.repo, time.Second, nil)
	out, err := svc.Refresh(context.Background(), RefreshInput{SaleID: requested.ID, PaymentID: "P20"})

	require.NoError(t, err)
	assert.False(t, out.Matched)
	assert.Equal(t, OutcomeNotMatched, out.Outcome)
	assert.Equal(t, requested.ID, out.SaleID)
	require.NotNil(t, out.LinkedSaleID)
	assert.Equal(t, owner.ID, *out.LinkedSaleID)
	assert.Equal(t, "payment P20 is linked to sale 20260310-007", out.Message)
	f.repo.AssertNotCalled(t, "ApplyStatusUpdate", mock.Anything, mock.Anything)
	f.repo.AssertNotCalled(t, "FindPendingCandidates", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.events.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestRefreshService_ReportsSaleResolvedElsewhere(t *testing.T) {
	sale := newTestSale("60.00", sales.PaymentStatusPending, time.Now())
	other := uuid.New()
	engine := new(MockReconciler)
	repo := new(MockSaleRepository)
	repo.On("GetByID", mock.Anything, sale.ID).Return(sale, nil)
	engine.On("Reconcile", mock.Anything, mock.Anything).
		Return(&Result{Outcome: OutcomeUpdated, SaleID: other, NewStatus: sales.PaymentStatusApproved}, nil)

	out, err := NewRefreshService(engine, repo, 0, nil).Refresh(context.Background(), RefreshInput{SaleID: sale.ID, PreferenceID: "PR9"})

	require.NoError(t, err)
	assert.Equal(t, sale.ID, out.SaleID)
	require.NotNil(t, out.LinkedSaleID)
	assert.Equal(t, other, *out.LinkedSaleID)
}
