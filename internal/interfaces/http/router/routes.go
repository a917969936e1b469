package router

import (
	"github.com/gin-gonic/gin"
	"github.com/lojatextil/erp/internal/interfaces/http/handler"
	"github.com/lojatextil/erp/internal/interfaces/http/middleware"
)

// Handlers are the handlers mounted by RegisterPaymentRoutes
type Handlers struct {
	Webhook        *handler.WebhookHandler
	Sales          *handler.SalesHandler
	Reconciliation *handler.ReconciliationHandler
	System         *handler.SystemHandler
}

// Guards are the middleware protecting the route groups
type Guards struct {
	// Auth authenticates operator routes
	Auth gin.HandlerFunc
	// WebhookLimiter throttles the public notification endpoint; nil disables it
	WebhookLimiter *middleware.RateLimiter
}

// RegisterPaymentRoutes mounts the payments API:
//
//	GET  /health
//	GET  /api/v1/system/info
//	POST /api/v1/webhooks/mercadopago
//	POST /api/v1/sales
//	GET  /api/v1/sales/:id
//	POST /api/v1/sales/:id/checkout
//	POST /api/v1/sales/:id/charge
//	POST /api/v1/sales/:id/payment/refresh
//	POST /api/v1/reconciliation/sweep
//	GET  /api/v1/reconciliation/sweeps
//	GET  /api/v1/reconciliation/sweeps/:id
func RegisterPaymentRoutes(engine *gin.Engine, h Handlers, g Guards) {
	engine.GET("/health", h.System.Health)

	r := NewRouter(engine)

	system := NewDomainGroup("/system").Use(g.Auth)
	system.GET("/info", h.System.GetSystemInfo)

	webhooks := NewDomainGroup("/webhooks")
	if g.WebhookLimiter != nil {
		webhooks.Use(middleware.RateLimit(g.WebhookLimiter))
	}
	webhooks.POST("/mercadopago", h.Webhook.HandleMercadoPago)

	sales := NewDomainGroup("/sales").Use(g.Auth)
	sales.POST("", middleware.RequirePermission(middleware.PermissionSalesCreate), h.Sales.Create)
	sales.GET("/:id", middleware.RequireAnyPermission(middleware.PermissionSalesCreate, middleware.PermissionPaymentRefresh), h.Sales.Get)
	sales.POST("/:id/checkout", middleware.RequirePermission(middleware.PermissionSalesCharge), h.Sales.StartCheckout)
	sales.POST("/:id/charge", middleware.RequirePermission(middleware.PermissionSalesCharge), h.Sales.Charge)
	sales.POST("/:id/payment/refresh", middleware.RequirePermission(middleware.PermissionPaymentRefresh), h.Reconciliation.RefreshPayment)

	reconciliation := NewDomainGroup("/reconciliation").Use(g.Auth)
	reconciliation.POST("/sweep", middleware.RequirePermission(middleware.PermissionReconciliationRun), h.Reconciliation.StartSweep)
	jobs := reconciliation.Group("/sweeps").Use(middleware.RequireAnyPermission(
		middleware.PermissionReconciliationRead,
		middleware.PermissionReconciliationRun,
	))
	jobs.GET("", h.Reconciliation.ListSweepJobs)
	jobs.GET("/:id", h.Reconciliation.GetSweepJob)

	r.Register(system).Register(webhooks).Register(sales).Register(reconciliation)
	r.Setup()
}
