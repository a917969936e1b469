package reconciliation

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SweepJobStatus is the lifecycle state of a sweep run
type SweepJobStatus string

const (
	SweepJobStatusPending SweepJobStatus = "PENDING"
	SweepJobStatusRunning SweepJobStatus = "RUNNING"
	SweepJobStatusSuccess SweepJobStatus = "SUCCESS"
	SweepJobStatusPartial SweepJobStatus = "PARTIAL"
	SweepJobStatusFailed  SweepJobStatus = "FAILED"
)

// IsTerminal reports whether the job has finished
func (s SweepJobStatus) IsTerminal() bool {
	return s == SweepJobStatusSuccess || s == SweepJobStatusPartial || s == SweepJobStatusFailed
}

// SweepItemError records a sale the sweep could not reconcile
type SweepItemError struct {
	SaleID     uuid.UUID `json:"sale_id"`
	SaleNumber string    `json:"sale_number"`
	Error      string    `json:"error"`
}

// SweepReport counts what a sweep did per sale
type SweepReport struct {
	Total        int              `json:"total"`
	Updated      int              `json:"updated"`
	Unchanged    int              `json:"unchanged"`
	AlreadyFinal int              `json:"already_final"`
	Unmatched    int              `json:"unmatched"`
	Errored      int              `json:"errored"`
	Skipped      int              `json:"skipped"`
	Errors       []SweepItemError `json:"errors"`
}

func (r *SweepReport) record(outcome Outcome) {
	switch outcome {
	case OutcomeUpdated:
		r.Updated++
	case OutcomeUnchanged:
		r.Unchanged++
	case OutcomeAlreadyFinal:
		r.AlreadyFinal++
	case OutcomeNotMatched:
		r.Unmatched++
	}
}

func (r *SweepReport) recordError(e SweepItemError) {
	r.Errored++
	r.Errors = append(r.Errors, e)
}

// Counts returns the per-outcome counters keyed by metric label
func (r *SweepReport) Counts() map[string]int {
	return map[string]int{
		string(OutcomeUpdated):      r.Updated,
		string(OutcomeUnchanged):    r.Unchanged,
		string(OutcomeAlreadyFinal): r.AlreadyFinal,
		string(OutcomeNotMatched):   r.Unmatched,
		"error":                     r.Errored,
		"skipped":                   r.Skipped,
	}
}

// SweepJob is the record of one sweep run
type SweepJob struct {
	ID          uuid.UUID      `json:"id"`
	Trigger     string         `json:"trigger"`
	Status      SweepJobStatus `json:"status"`
	Since       time.Time      `json:"since"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Report      SweepReport    `json:"report"`
}

// NewSweepJob creates a pending sweep job
func NewSweepJob(trigger string) *SweepJob {
	return &SweepJob{
		ID:        uuid.New(),
		Trigger:   trigger,
		Status:    SweepJobStatusPending,
		CreatedAt: time.Now(),
	}
}

// Start marks the job as running
func (j *SweepJob) Start(since time.Time) {
	now := time.Now()
	j.Status = SweepJobStatusRunning
	j.Since = since
	j.StartedAt = &now
	j.Error = ""
}

// Complete marks the job finished with the given report. A run where every
// item failed is FAILED; one with some failures is PARTIAL.
func (j *SweepJob) Complete(report SweepReport) {
	now := time.Now()
	j.Report = report
	j.CompletedAt = &now

	switch {
	case report.Errored == 0:
		j.Status = SweepJobStatusSuccess
	case report.Errored < report.Total:
		j.Status = SweepJobStatusPartial
	default:
		j.Status = SweepJobStatusFailed
	}
}

// Fail marks the job as failed, keeping whatever was counted so far
func (j *SweepJob) Fail(report SweepReport, err error) {
	now := time.Now()
	j.Report = report
	j.Status = SweepJobStatusFailed
	j.CompletedAt = &now
	if err != nil {
		j.Error = err.Error()
	}
}

func (j *SweepJob) clone() *SweepJob {
	c := *j
	c.Report.Errors = slices.Clone(j.Report.Errors)
	return &c
}

// ---------------------------------------------------------------------------
// Job store
// ---------------------------------------------------------------------------

// SweepJobStore keeps sweep job records
type SweepJobStore interface {
	Save(ctx context.Context, job *SweepJob) error
	Get(ctx context.Context, id uuid.UUID) (*SweepJob, error)
	// Recent returns up to limit jobs, newest first
	Recent(ctx context.Context, limit int) ([]*SweepJob, error)
}

// DefaultSweepJobRetention is how many jobs the in-memory store keeps
const DefaultSweepJobRetention = 50

// InMemorySweepJobStore keeps the most recent sweep jobs in process memory.
// Records are copied in and out so callers never share state with a running sweep.
type InMemorySweepJobStore struct {
	mu        sync.RWMutex
	jobs      map[uuid.UUID]*SweepJob
	order     []uuid.UUID
	retention int
}

// NewInMemorySweepJobStore creates a store keeping at most retention jobs
func NewInMemorySweepJobStore(retention int) *InMemorySweepJobStore {
	if retention <= 0 {
		retention = DefaultSweepJobRetention
	}
	return &InMemorySweepJobStore{
		jobs:      make(map[uuid.UUID]*SweepJob),
		retention: retention,
	}
}

// Save inserts or replaces a job record
func (s *InMemorySweepJobStore) Save(_ context.Context, job *SweepJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; !ok {
		s.order = append(s.order, job.ID)
		for len(s.order) > s.retention {
			delete(s.jobs, s.order[0])
			s.order = s.order[1:]
		}
	}
	s.jobs[job.ID] = job.clone()
	return nil
}

// Get returns a copy of the job or ErrSweepJobNotFound
func (s *InMemorySweepJobStore) Get(_ context.Context, id uuid.UUID) (*SweepJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrSweepJobNotFound
	}
	return job.clone(), nil
}

// Recent returns up to limit jobs, newest first
func (s *InMemorySweepJobStore) Recent(_ context.Context, limit int) ([]*SweepJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.order) {
		limit = len(s.order)
	}
	out := make([]*SweepJob, 0, limit)
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.jobs[s.order[i]].clone())
	}
	return out, nil
}

// Ensure InMemorySweepJobStore implements SweepJobStore
var _ SweepJobStore = (*InMemorySweepJobStore)(nil)
