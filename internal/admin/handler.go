package admin

import (
	"time"

	"github.com/gin-gonic/gin"

	"agent-backend/internal/apperr"
	"agent-backend/internal/providers"
	"agent-backend/internal/sessions"
	"agent-backend/internal/shared/server/respond"
	"agent-backend/internal/shared/telemetry"
)

// Handler serves operational endpoints: provider policy inspection and the
// TTL cleanup sweep.
type Handler struct {
	Store       *sessions.Store
	Policy      providers.Policy
	ArtifactTTL time.Duration
	SessionTTL  time.Duration
}

// NewHandler constructs a Handler.
func NewHandler(store *sessions.Store, policy providers.Policy, artifactTTL, sessionTTL time.Duration) *Handler {
	return &Handler{
		Store:       store,
		Policy:      policy,
		ArtifactTTL: artifactTTL,
		SessionTTL:  sessionTTL,
	}
}

// RegisterRoutes attaches the settings routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/settings/provider-policy", h.providerPolicy)
	rg.POST("/settings/cleanup", h.cleanup)
}

func (h *Handler) providerPolicy(c *gin.Context) {
	respond.OK(c, h.Policy)
}

type cleanupRequest struct {
	ArtifactTTLSeconds *int64 `json:"artifactTtlSeconds"`
	SessionTTLSeconds  *int64 `json:"sessionTtlSeconds"`
}

// cleanup sweeps expired artifacts and idle sessions. TTLs default to the
// configured values; a request body may override them. A TTL of zero
// disables that sweep.
func (h *Handler) cleanup(c *gin.Context) {
	artifactTTL := h.ArtifactTTL
	sessionTTL := h.SessionTTL

	var req cleanupRequest
	if err := c.ShouldBindJSON(&req); err == nil {
		if req.ArtifactTTLSeconds != nil {
			artifactTTL = time.Duration(*req.ArtifactTTLSeconds) * time.Second
		}
		if req.SessionTTLSeconds != nil {
			sessionTTL = time.Duration(*req.SessionTTLSeconds) * time.Second
		}
	}

	removedFiles, removedSessions, err := h.Store.Cleanup(artifactTTL, sessionTTL)
	if err != nil {
		respond.Failure(c, apperr.Newf(apperr.CodeInternal, "cleanup: %v", err))
		return
	}
	telemetry.Info("cleanup.complete", map[string]any{
		"removed_files":    removedFiles,
		"removed_sessions": removedSessions,
	})
	respond.OK(c, gin.H{
		"removedFiles":    removedFiles,
		"removedSessions": removedSessions,
	})
}
