package respond

import (
	"github.com/gin-gonic/gin"

	"agent-backend/internal/apperr"
	"agent-backend/internal/shared/telemetry"
)

// ErrorBody defines the standardized error object.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorResponse wraps the error body.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Error sends a standardized error response.
func Error(c *gin.Context, status int, code, message string, details any) {
	fields := map[string]any{
		"status":     status,
		"code":       code,
		"message":    message,
		"path":       c.Request.URL.Path,
		"method":     c.Request.Method,
		"request_id": c.GetString("requestId"),
	}
	if tenant := c.GetString("tenantId"); tenant != "" {
		fields["tenant_id"] = tenant
	}
	telemetry.Error("http.error", fields)

	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// Failure maps any error onto the standardized envelope, using the apperr
// code's canonical HTTP status.
func Failure(c *gin.Context, err error) {
	appErr := apperr.From(err)
	Error(c, appErr.Code.Status(), string(appErr.Code), appErr.Message, appErr.Details)
}
