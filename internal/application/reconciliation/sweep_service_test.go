package reconciliation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lojatextil/erp/internal/domain/payment"
	"github.com/lojatextil/erp/internal/domain/sales"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func pendingSales(n int) []sales.Sale {
	out := make([]sales.Sale, n)
	for i := range out {
		out[i] = *newTestSale("10.00", sales.PaymentStatusPending, time.Now().Add(-time.Duration(i)*time.Minute))
	}
	return out
}

func TestSweepService_Sweep(t *testing.T) {
	t.Run("one failing item does not stop the others", func(t *testing.T) {
		list := pendingSales(4)
		repo := new(MockSaleRepository)
		engine := new(MockReconciler)
		metrics := &recordingMetrics{}

		repo.On("FindPendingSince", mock.Anything, mock.Anything, DefaultSweepBatchLimit).Return(list, nil)
		engine.On("Reconcile", mock.Anything, Request{SaleID: list[0].ID, Source: SourceSweep}).Return(&Result{Outcome: OutcomeUpdated}, nil)
		engine.On("Reconcile", mock.Anything, Request{SaleID: list[1].ID, Source: SourceSweep}).Return(nil, errors.New("boom"))
		engine.On("Reconcile", mock.Anything, Request{SaleID: list[2].ID, Source: SourceSweep}).Return(&Result{Outcome: OutcomeNotMatched}, nil)
		engine.On("Reconcile", mock.Anything, Request{SaleID: list[3].ID, Source: SourceSweep}).Return(&Result{Outcome: OutcomeUnchanged}, nil)

		svc := NewSweepService(SweepServiceConfig{Engine: engine, Sales: repo, Metrics: metrics})
		job, err := svc.Sweep(context.Background(), "test")

		require.NoError(t, err)
		assert.Equal(t, SweepJobStatusPartial, job.Status)
		assert.Equal(t, 4, job.Report.Total)
		assert.Equal(t, 1, job.Report.Updated)
		assert.Equal(t, 1, job.Report.Unchanged)
		assert.Equal(t, 1, job.Report.Unmatched)
		assert.Equal(t, 1, job.Report.Errored)
		require.Len(t, job.Report.Errors, 1)
		assert.Equal(t, list[1].ID, job.Report.Errors[0].SaleID)
		assert.Contains(t, job.Report.Errors[0].Error, "boom")
		engine.AssertNumberOfCalls(t, "Reconcile", 4)

		require.Len(t, metrics.sweeps, 1)
		assert.Equal(t, 1, metrics.sweeps[0]["updated"])
		assert.Equal(t, 1, metrics.sweeps[0]["error"])

		stored, err := svc.Job(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, SweepJobStatusPartial, stored.Status)
		assert.NotNil(t, stored.CompletedAt)
	})

	t.Run("lists sales within max age", func(t *testing.T) {
		repo := new(MockSaleRepository)
		engine := new(MockReconciler)
		fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
		repo.On("FindPendingSince", mock.Anything, fixed.Add(-30*time.Minute), 20).Return([]sales.Sale{}, nil)

		svc := NewSweepService(SweepServiceConfig{Engine: engine, Sales: repo, MaxAge: 30 * time.Minute, BatchLimit: 20})
		svc.now = func() time.Time { return fixed }
		job, err := svc.Sweep(context.Background(), "test")

		require.NoError(t, err)
		assert.Equal(t, SweepJobStatusSuccess, job.Status)
		assert.Equal(t, fixed.Add(-30*time.Minute), job.Since)
		repo.AssertExpectations(t)
	})

	t.Run("configuration error aborts", func(t *testing.T) {
		list := pendingSales(20)
		repo := new(MockSaleRepository)
		engine := new(MockReconciler)
		repo.On("FindPendingSince", mock.Anything, mock.Anything, mock.Anything).Return(list, nil)
		engine.On("Reconcile", mock.Anything, mock.Anything).Return(nil, classifyError(payment.ErrGatewayAuth))

		svc := NewSweepService(SweepServiceConfig{Engine: engine, Sales: repo, Workers: 1})
		job, err := svc.Sweep(context.Background(), "test")

		assert.ErrorIs(t, err, ErrReconciliationConfig)
		assert.Equal(t, SweepJobStatusFailed, job.Status)
		assert.NotEmpty(t, job.Error)
		assert.Equal(t, 1, job.Report.Errored)
		assert.Equal(t, 19, job.Report.Skipped)
	})

	t.Run("listing failure fails the job", func(t *testing.T) {
		repo := new(MockSaleRepository)
		repo.On("FindPendingSince", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

		svc := NewSweepService(SweepServiceConfig{Engine: new(MockReconciler), Sales: repo})
		job, err := svc.Sweep(context.Background(), "test")

		require.Error(t, err)
		assert.Equal(t, SweepJobStatusFailed, job.Status)
	})

	t.Run("bounded concurrency", func(t *testing.T) {
		list := pendingSales(12)
		repo := new(MockSaleRepository)
		engine := new(MockReconciler)
		var inFlight, peak atomic.Int32
		repo.On("FindPendingSince", mock.Anything, mock.Anything, mock.Anything).Return(list, nil)
		engine.On("Reconcile", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
		}).Return(&Result{Outcome: OutcomeUnchanged}, nil)

		svc := NewSweepService(SweepServiceConfig{Engine: engine, Sales: repo, Workers: 3})
		job, err := svc.Sweep(context.Background(), "test")

		require.NoError(t, err)
		assert.Equal(t, 12, job.Report.Unchanged)
		assert.LessOrEqual(t, peak.Load(), int32(3))
	})
}

func TestSweepService_StartRunsInBackground(t *testing.T) {
	repo := new(MockSaleRepository)
	engine := new(MockReconciler)
	release := make(chan struct{})
	list := pendingSales(1)
	repo.On("FindPendingSince", mock.Anything, mock.Anything, mock.Anything).Return(list, nil)
	engine.On("Reconcile", mock.Anything, mock.Anything).Run(func(mock.Arguments) { <-release }).
		Return(&Result{Outcome: OutcomeUpdated}, nil)

	svc := NewSweepService(SweepServiceConfig{Engine: engine, Sales: repo})
	job, err := svc.Start(context.Background(), "api")
	require.NoError(t, err)
	assert.Equal(t, SweepJobStatusPending, job.Status)

	_, err = svc.Start(context.Background(), "api")
	assert.ErrorIs(t, err, ErrSweepInProgress)

	close(release)
	svc.Wait()

	done, err := svc.Job(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, SweepJobStatusSuccess, done.Status)
	assert.Equal(t, 1, done.Report.Updated)

	recent, err := svc.RecentJobs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, job.ID, recent[0].ID)
}

func TestInMemorySweepJobStore(t *testing.T) {
	store := NewInMemorySweepJobStore(2)
	ctx := context.Background()

	first, second, third := NewSweepJob("a"), NewSweepJob("b"), NewSweepJob("c")
	require.NoError(t, store.Save(ctx, first))
	require.NoError(t, store.Save(ctx, second))
	require.NoError(t, store.Save(ctx, third))

	_, err := store.Get(ctx, first.ID)
	assert.ErrorIs(t, err, ErrSweepJobNotFound)

	recent, err := store.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, third.ID, recent[0].ID)
	assert.Equal(t, second.ID, recent[1].ID)

	got, err := store.Get(ctx, second.ID)
	require.NoError(t, err)
	got.Status = SweepJobStatusFailed
	again, _ := store.Get(ctx, second.ID)
	assert.Equal(t, SweepJobStatusPending, again.Status)

	_, err = store.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrSweepJobNotFound)
}

func TestSweepJob_Lifecycle(t *testing.T) {
	job := NewSweepJob("scheduler")
	assert.Equal(t, SweepJobStatusPending, job.Status)
	assert.False(t, job.Status.IsTerminal())

	job.Start(time.Now().Add(-time.Hour))
	assert.Equal(t, SweepJobStatusRunning, job.Status)
	assert.NotNil(t, job.StartedAt)

	job.Complete(SweepReport{Total: 2, Errored: 2})
	assert.Equal(t, SweepJobStatusFailed, job.Status)

	job.Complete(SweepReport{Total: 2, Updated: 2})
	assert.Equal(t, SweepJobStatusSuccess, job.Status)
	assert.True(t, job.Status.IsTerminal())

	job.Fail(SweepReport{}, errors.New("credentials rejected"))
	assert.Equal(t, SweepJobStatusFailed, job.Status)
	assert.Equal(t, "credentials rejected", job.Error)
}
