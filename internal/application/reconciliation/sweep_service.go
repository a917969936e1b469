package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lojatextil/erp/internal/domain/sales"
	"github.com/lojatextil/erp/internal/domain/shared"
	"github.com/lojatextil/erp/internal/infrastructure/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultSweepMaxAge      = 2 * time.Hour
	DefaultSweepBatchLimit  = 500
	DefaultSweepWorkers     = 4
	DefaultSweepItemTimeout = 15 * time.Second
)

// ErrSweepInProgress is returned when a sweep is requested while one runs
var ErrSweepInProgress = shared.NewDomainError("SWEEP_IN_PROGRESS", "A reconciliation sweep is already running")

// SweepServiceConfig holds the dependencies and tuning of a SweepService
type SweepServiceConfig struct {
	Engine  Reconciler
	Sales   sales.Repository
	Jobs    SweepJobStore
	Metrics Metrics
	Logger  *zap.Logger

	MaxAge      time.Duration
	BatchLimit  int
	Workers     int
	ItemTimeout time.Duration
}

// SweepService re-reconciles recent pending sales. It is the safety net for
// webhooks that were lost or arrived while the gateway was unavailable.
type SweepService struct {
	engine  Reconciler
	sales   sales.Repository
	jobs    SweepJobStore
	metrics Metrics
	logger  *zap.Logger

	maxAge      time.Duration
	batchLimit  int
	workers     int
	itemTimeout time.Duration
	now         func() time.Time

	running sync.Mutex
	wg      sync.WaitGroup
}

// NewSweepService creates a new SweepService
func NewSweepService(cfg SweepServiceConfig) *SweepService {
	l := cfg.Logger
	if l == nil {
		l = zap.NewNop()
	}
	s := &SweepService{
		engine:      cfg.Engine,
		sales:       cfg.Sales,
		jobs:        cfg.Jobs,
		metrics:     cfg.Metrics,
		logger:      l.Named("reconciliation_sweep"),
		maxAge:      cfg.MaxAge,
		batchLimit:  cfg.BatchLimit,
		workers:     cfg.Workers,
		itemTimeout: cfg.ItemTimeout,
		now:         time.Now,
	}
	if s.jobs == nil {
		s.jobs = NewInMemorySweepJobStore(DefaultSweepJobRetention)
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	if s.maxAge <= 0 {
		s.maxAge = DefaultSweepMaxAge
	}
	if s.batchLimit <= 0 {
		s.batchLimit = DefaultSweepBatchLimit
	}
	if s.workers <= 0 {
		s.workers = DefaultSweepWorkers
	}
	if s.itemTimeout <= 0 {
		s.itemTimeout = DefaultSweepItemTimeout
	}
	return s
}

// Sweep runs a sweep to completion and returns its job record. The error is
// non-nil when the sweep could not list sales or was aborted by a fatal
// gateway error; the returned job then holds the partial report.
func (s *SweepService) Sweep(ctx context.Context, trigger string) (*SweepJob, error) {
	if !s.running.TryLock() {
		return nil, ErrSweepInProgress
	}
	defer s.running.Unlock()

	job := NewSweepJob(trigger)
	s.save(ctx, job)
	err := s.run(ctx, job)
	return job.clone(), err
}

// Start launches a sweep in the background and returns its pending job
// record. Poll Job for progress.
func (s *SweepService) Start(ctx context.Context, trigger string) (*SweepJob, error) {
	if !s.running.TryLock() {
		return nil, ErrSweepInProgress
	}

	job := NewSweepJob(trigger)
	s.save(ctx, job)
	snapshot := job.clone()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Unlock()
		_ = s.run(context.WithoutCancel(ctx), job)
	}()
	return snapshot, nil
}

// Wait blocks until background sweeps started with Start have finished
func (s *SweepService) Wait() {
	s.wg.Wait()
}

// Job returns a sweep job record
func (s *SweepService) Job(ctx context.Context, id uuid.UUID) (*SweepJob, error) {
	return s.jobs.Get(ctx, id)
}

// RecentJobs returns the latest sweep job records, newest first
func (s *SweepService) RecentJobs(ctx context.Context, limit int) ([]*SweepJob, error) {
	return s.jobs.Recent(ctx, limit)
}

func (s *SweepService) run(ctx context.Context, job *SweepJob) error {
	ctx, span := telemetry.StartSpan(ctx, "reconciliation.sweep",
		telemetry.WithAttribute("sweep.job_id", job.ID.String()),
		telemetry.WithAttribute("sweep.trigger", job.Trigger))
	defer span.End()

	since := s.now().Add(-s.maxAge)
	job.Start(since)
	s.save(ctx, job)

	pending, err := s.sales.FindPendingSince(ctx, since, s.batchLimit)
	if err != nil {
		err = fmt.Errorf("failed to list pending sales: %w", err)
		job.Fail(SweepReport{}, err)
		s.save(ctx, job)
		telemetry.RecordError(span, err)
		s.logger.Error("Sweep failed", zap.String("job_id", job.ID.String()), zap.Error(err))
		return err
	}

	report, err := s.reconcileAll(ctx, pending)
	s.metrics.ObserveSweep(ctx, report.Counts())
	telemetry.SetAttribute(span, "sweep.total", report.Total)
	telemetry.SetAttribute(span, "sweep.updated", report.Updated)
	telemetry.SetAttribute(span, "sweep.errored", report.Errored)

	fields := []zap.Field{
		zap.String("job_id", job.ID.String()),
		zap.String("trigger", job.Trigger),
		zap.Int("total", report.Total),
		zap.Int("updated", report.Updated),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("already_final", report.AlreadyFinal),
		zap.Int("unmatched", report.Unmatched),
		zap.Int("errored", report.Errored),
		zap.Int("skipped", report.Skipped),
	}
	if err != nil {
		job.Fail(report, err)
		s.save(ctx, job)
		telemetry.RecordError(span, err)
		s.logger.Error("Sweep aborted", append(fields, zap.Error(err))...)
		return err
	}

	job.Complete(report)
	s.save(ctx, job)
	telemetry.SetOK(span)
	s.logger.Info("Sweep completed", append(fields, zap.String("status", string(job.Status)))...)
	return nil
}

// reconcileAll runs the engine over every sale with bounded concurrency. An
// item error is recorded and the others go on, except for a configuration
// error, which stops the remaining items.
func (s *SweepService) reconcileAll(ctx context.Context, pending []sales.Sale) (SweepReport, error) {
	report := SweepReport{Total: len(pending), Errors: []SweepItemError{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	started := 0
	for i := range pending {
		if gctx.Err() != nil {
			break
		}
		sale := pending[i]
		started++
		g.Go(func() error {
			if gctx.Err() != nil {
				mu.Lock()
				report.Skipped++
				mu.Unlock()
				return nil
			}
			itemCtx, cancel := context.WithTimeout(gctx, s.itemTimeout)
			defer cancel()

			result, err := s.engine.Reconcile(itemCtx, Request{
				SaleID:         sale.ID,
				Source:         SourceSweep,
				AllowHeuristic: false,
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.recordError(SweepItemError{SaleID: sale.ID, SaleNumber: sale.SaleNumber, Error: err.Error()})
				s.logger.Warn("Sweep item failed",
					zap.String("sale_id", sale.ID.String()),
					zap.String("sale_number", sale.SaleNumber),
					zap.Error(err))
				if errors.Is(err, ErrReconciliationConfig) {
					return err
				}
				return nil
			}
			report.record(result.Outcome)
			return nil
		})
	}

	err := g.Wait()
	report.Skipped += len(pending) - started
	return report, err
}

func (s *SweepService) save(ctx context.Context, job *SweepJob) {
	if err := s.jobs.Save(ctx, job); err != nil {
		s.logger.Warn("Failed to save sweep job", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
}
