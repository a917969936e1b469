package handler

import (
	"context"
	"errors"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lojatextil/erp/internal/application/reconciliation"
	"github.com/lojatextil/erp/internal/interfaces/http/dto"
	"github.com/lojatextil/erp/internal/interfaces/http/middleware"
)

const defaultSweepJobListLimit = 20

// PaymentRefresher re-checks one sale against the gateway
type PaymentRefresher interface {
	Refresh(ctx context.Context, in reconciliation.RefreshInput) (*reconciliation.RefreshResult, error)
}

// SweepRunner starts sweeps and reports on their jobs
type SweepRunner interface {
	Start(ctx context.Context, trigger string) (*reconciliation.SweepJob, error)
	Job(ctx context.Context, id uuid.UUID) (*reconciliation.SweepJob, error)
	RecentJobs(ctx context.Context, limit int) ([]*reconciliation.SweepJob, error)
}

// ReconciliationHandler exposes operator-triggered reconciliation
type ReconciliationHandler struct {
	BaseHandler
	refresher          PaymentRefresher
	sweeps             SweepRunner
	overridePermission string
}

// NewReconciliationHandler creates a new ReconciliationHandler. Callers
// holding overridePermission may force a status.
func NewReconciliationHandler(refresher PaymentRefresher, sweeps SweepRunner, overridePermission string) *ReconciliationHandler {
	if overridePermission == "" {
		overridePermission = middleware.PermissionPaymentOverride
	}
	return &ReconciliationHandler{
		refresher:          refresher,
		sweeps:             sweeps,
		overridePermission: overridePermission,
	}
}

// RefreshPayment reconciles a sale now. The body is optional.
//
//	POST /api/v1/sales/:id/payment/refresh
func (h *ReconciliationHandler) RefreshPayment(c *gin.Context) {
	saleID, ok := h.parseIDParam(c)
	if !ok {
		return
	}

	var req dto.RefreshPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.ValidationError(c, err)
		return
	}

	result, err := h.refresher.Refresh(c.Request.Context(), reconciliation.RefreshInput{
		SaleID:       saleID,
		PaymentID:    req.PaymentID,
		PreferenceID: req.PreferenceID,
		Force:        req.Force,
		CanOverride:  middleware.HasPermission(c, h.overridePermission),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, result)
}

// StartSweep launches a sweep in the background and returns its job.
//
//	POST /api/v1/reconciliation/sweep
func (h *ReconciliationHandler) StartSweep(c *gin.Context) {
	trigger := "api"
	if userID, err := getUserID(c); err == nil {
		trigger = "api:" + userID.String()
	}

	job, err := h.sweeps.Start(c.Request.Context(), trigger)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Accepted(c, job)
}

// GetSweepJob returns one sweep job.
//
//	GET /api/v1/reconciliation/sweeps/:id
func (h *ReconciliationHandler) GetSweepJob(c *gin.Context) {
	id, ok := h.parseIDParam(c)
	if !ok {
		return
	}

	job, err := h.sweeps.Job(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, job)
}

// ListSweepJobs returns the most recent sweep jobs, newest first.
//
//	GET /api/v1/reconciliation/sweeps?limit=20
func (h *ReconciliationHandler) ListSweepJobs(c *gin.Context) {
	var req dto.ListSweepJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.ValidationError(c, err)
		return
	}
	if req.Limit == 0 {
		req.Limit = defaultSweepJobListLimit
	}

	jobs, err := h.sweeps.RecentJobs(c.Request.Context(), req.Limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, jobs)
}
