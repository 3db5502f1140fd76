package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"agent-backend/internal/admin"
	"agent-backend/internal/files"
	"agent-backend/internal/sessions"
	"agent-backend/internal/shared/config"
	"agent-backend/internal/shared/server/middleware"
	"agent-backend/internal/shared/server/respond"
)

// RouterDeps carries the handlers and middleware state the router wires
// together.
type RouterDeps struct {
	Config         config.Config
	SessionHandler *sessions.Handler
	FileHandler    *files.Handler
	AdminHandler   *admin.Handler
	RateLimiter    *middleware.RateLimiter
}

// NewRouter constructs the gin engine with middleware and routes
// registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.Auth(deps.Config.AuthMode, deps.Config.AuthToken),
		middleware.RateLimit(deps.RateLimiter, deps.Config.RateLimitRPM),
	)

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		respond.JSON(c, http.StatusOK, gin.H{"ok": true})
	})
	deps.SessionHandler.RegisterRoutes(api)
	deps.FileHandler.RegisterRoutes(api)
	deps.AdminHandler.RegisterRoutes(api)

	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
