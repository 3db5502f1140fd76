package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"agent-backend/internal/apperr"
	"agent-backend/internal/shared/server/respond"
)

const (
	tenantKey = "tenantId"

	// TenantHeader carries the caller's tenant identifier.
	TenantHeader = "X-Tenant-Id"

	// AuthModeNone accepts every request; the tenant header is optional.
	AuthModeNone = "none"
	// AuthModeToken requires a bearer token matching the shared secret and
	// makes the tenant header mandatory.
	AuthModeToken = "token"

	defaultTenant = "default"
)

// Auth resolves the caller's identity. In token mode the bearer token must
// match the configured secret; a valid token without a tenant header is a
// bad request, not an auth failure.
func Auth(mode, secret string) gin.HandlerFunc {
	mode = strings.ToLower(strings.TrimSpace(mode))
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		tenant := strings.TrimSpace(c.GetHeader(TenantHeader))

		if mode != AuthModeToken {
			if tenant == "" {
				tenant = defaultTenant
			}
			c.Set(tenantKey, tenant)
			c.Next()
			return
		}

		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if !strings.HasPrefix(header, "Bearer ") {
			respond.Error(c, http.StatusUnauthorized, string(apperr.CodeUnauthorized), "missing or invalid token", nil)
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer"))
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			respond.Error(c, http.StatusUnauthorized, string(apperr.CodeUnauthorized), "missing or invalid token", nil)
			return
		}
		if tenant == "" {
			respond.Error(c, http.StatusBadRequest, string(apperr.CodeValidation), TenantHeader+" header is required", nil)
			return
		}

		c.Set(tenantKey, tenant)
		c.Next()
	}
}

// TenantFromContext fetches the tenant ID set by the auth middleware.
func TenantFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(tenantKey)
	if tenant, ok := val.(string); ok {
		return tenant
	}
	return ""
}
