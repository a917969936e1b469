// Package scheduler runs periodic background tasks such as the payment
// reconciliation sweep.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is one periodic unit of work
type Task interface {
	Run(ctx context.Context) error
}

// TaskFunc adapts a function to Task
type TaskFunc func(ctx context.Context) error

// Run calls f
func (f TaskFunc) Run(ctx context.Context) error { return f(ctx) }

// Config holds scheduler configuration
type Config struct {
	Name     string
	Interval time.Duration
	// Timeout bounds a single run. Zero means Interval.
	Timeout time.Duration
	// RunOnStart triggers a run right after Start instead of waiting one interval.
	RunOnStart bool
}

// IntervalScheduler runs a task every Interval. A tick that arrives while
// the previous run is still going is skipped.
type IntervalScheduler struct {
	config Config
	task   Task
	logger *zap.Logger

	running atomic.Bool
	runs    atomic.Int64
	skipped atomic.Int64

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewIntervalScheduler validates config and creates the scheduler
func NewIntervalScheduler(config Config, task Task, logger *zap.Logger) (*IntervalScheduler, error) {
	if config.Interval <= 0 {
		return nil, fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	}
	if task == nil {
		return nil, fmt.Errorf("%w: task is required", ErrInvalidConfig)
	}
	if config.Timeout <= 0 {
		config.Timeout = config.Interval
	}
	if config.Name == "" {
		config.Name = "scheduled-task"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntervalScheduler{
		config: config,
		task:   task,
		logger: logger.With(zap.String("task", config.Name)),
	}, nil
}

// Start launches the ticker loop. Calling Start twice is a no-op.
func (s *IntervalScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.Info("Scheduler started",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("timeout", s.config.Timeout),
	)
	return nil
}

// Stop cancels the loop and any run in progress, then waits for them or for ctx.
func (s *IntervalScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out")
		return ctx.Err()
	}
}

// RunNow runs the task synchronously unless a run is already in progress
func (s *IntervalScheduler) RunNow(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)
	return s.execute(ctx)
}

// Runs returns how many runs have started
func (s *IntervalScheduler) Runs() int64 { return s.runs.Load() }

// Skipped returns how many ticks were dropped because a run was in progress
func (s *IntervalScheduler) Skipped() int64 { return s.skipped.Load() }

func (s *IntervalScheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	if s.config.RunOnStart {
		s.tick(ctx)
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *IntervalScheduler) tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.logger.Warn("Previous run still in progress, skipping tick")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		if err := s.execute(ctx); err != nil {
			s.logger.Error("Scheduled run failed", zap.Error(err))
		}
	}()
}

func (s *IntervalScheduler) execute(ctx context.Context) (err error) {
	s.runs.Add(1)
	runCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduled task panicked: %v", r)
		}
	}()

	start := time.Now()
	err = s.task.Run(runCtx)
	s.logger.Debug("Scheduled run finished", zap.Duration("duration", time.Since(start)), zap.Error(err))
	return err
}
