package middleware

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/lojatextil/erp/internal/infrastructure/logger"
	"github.com/lojatextil/erp/internal/interfaces/http/dto"
	"go.uber.org/zap"
)

// Operator permissions carried in access tokens
const (
	PermissionSalesCreate        = "sales:create"
	PermissionSalesCharge        = "sales:charge"
	PermissionPaymentRefresh     = "sales:payment:refresh"
	PermissionPaymentOverride    = "sales:payment:override"
	PermissionReconciliationRun  = "reconciliation:run"
	PermissionReconciliationRead = "reconciliation:read"
)

// OperatorPermissions lists every permission a token may carry
var OperatorPermissions = []string{
	PermissionSalesCreate,
	PermissionSalesCharge,
	PermissionPaymentRefresh,
	PermissionPaymentOverride,
	PermissionReconciliationRun,
	PermissionReconciliationRead,
}

// RequirePermission rejects requests whose token lacks permission
func RequirePermission(permission string) gin.HandlerFunc {
	return RequireAnyPermission(permission)
}

// RequireAnyPermission rejects requests whose token carries none of
// permissions. It must run after JWTAuthMiddleware.
func RequireAnyPermission(permissions ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetJWTClaims(c)
		if claims != nil && slices.ContainsFunc(permissions, claims.HasPermission) {
			c.Next()
			return
		}

		logger.L(c.Request.Context()).Warn("Permission denied",
			zap.String("user_id", GetJWTUserID(c)),
			zap.Strings("required_permissions", permissions),
			zap.Strings("user_permissions", GetJWTPermissions(c)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
		)
		c.AbortWithStatusJSON(http.StatusForbidden, dto.NewErrorResponseWithRequestID(
			dto.ErrCodeForbidden, "Access denied: insufficient permissions", getRequestID(c)))
	}
}

// HasPermission reports whether the authenticated caller holds permission
func HasPermission(c *gin.Context, permission string) bool {
	claims := GetJWTClaims(c)
	if claims == nil {
		return false
	}
	return claims.HasPermission(permission)
}
