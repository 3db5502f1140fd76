package sessions

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"agent-backend/internal/apperr"
	"agent-backend/internal/shared/server/middleware"
	"agent-backend/internal/shared/server/respond"
)

// Handler wires session and run HTTP handlers to the store.
type Handler struct {
	Store *Store
}

// NewHandler constructs a Handler.
func NewHandler(store *Store) *Handler {
	return &Handler{Store: store}
}

// RegisterRoutes attaches session, run, and approval routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/sessions", h.createSession)
	rg.GET("/sessions/:id", h.getSession)
	rg.POST("/sessions/:id/settings/auto-approve", h.setAutoApprove)
	rg.POST("/sessions/:id/jd", h.submitJD)
	rg.POST("/sessions/:id/messages", h.createRun)
	rg.GET("/sessions/:id/runs/:rid", h.getRun)
	rg.GET("/sessions/:id/runs/:rid/stream", h.streamRun)
	rg.POST("/sessions/:id/runs/:rid/interrupt", h.interruptRun)
	rg.GET("/sessions/:id/approvals", h.listApprovals)
	rg.POST("/sessions/:id/approvals/:aid/approve", h.approveApproval)
	rg.POST("/sessions/:id/approvals/:aid/reject", h.rejectApproval)
}

type createSessionRequest struct {
	Workspace   string `json:"workspace"`
	AutoApprove bool   `json:"autoApprove"`
}

func (h *Handler) createSession(c *gin.Context) {
	tenant := middleware.TenantFromContext(c)

	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		respond.Failure(c, apperr.New(apperr.CodeValidation, "invalid request body"))
		return
	}
	if strings.TrimSpace(req.Workspace) == "" {
		req.Workspace = "workspace"
	}

	view := h.Store.CreateSession(tenant, strings.TrimSpace(req.Workspace), req.AutoApprove)
	respond.JSON(c, http.StatusCreated, view)
}

func (h *Handler) getSession(c *gin.Context) {
	view, err := h.Store.GetSession(middleware.TenantFromContext(c), c.Param("id"))
	if err != nil {
		respond.Failure(c, err)
		return
	}
	respond.OK(c, view)
}

type autoApproveRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *Handler) setAutoApprove(c *gin.Context) {
	var req autoApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Failure(c, apperr.New(apperr.CodeValidation, "invalid request body"))
		return
	}
	view, err := h.Store.SetAutoApprove(middleware.TenantFromContext(c), c.Param("id"), req.Enabled)
	if err != nil {
		respond.Failure(c, err)
		return
	}
	respond.OK(c, view)
}

type submitJDRequest struct {
	Text string `json:"text"`
}

func (h *Handler) submitJD(c *gin.Context) {
	var req submitJDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Failure(c, apperr.New(apperr.CodeValidation, "invalid request body"))
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respond.Failure(c, apperr.New(apperr.CodeValidation, "text is required"))
		return
	}
	view, err := h.Store.SubmitJD(middleware.TenantFromContext(c), c.Param("id"), req.Text)
	if err != nil {
		respond.Failure(c, err)
		return
	}
	respond.OK(c, view)
}

type createRunRequest struct {
	Message        string `json:"message"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type createRunResponse struct {
	RunView
	Reused bool `json:"reused"`
}

func (h *Handler) createRun(c *gin.Context) {
	var req createRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Failure(c, apperr.New(apperr.CodeValidation, "invalid request body"))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respond.Failure(c, apperr.New(apperr.CodeValidation, "message is required"))
		return
	}
	idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if idemKey == "" {
		idemKey = strings.TrimSpace(req.IdempotencyKey)
	}

	view, reused, err := h.Store.CreateRun(middleware.TenantFromContext(c), c.Param("id"), req.Message, idemKey)
	if err != nil {
		respond.Failure(c, err)
		return
	}
	respond.JSON(c, http.StatusAccepted, createRunResponse{RunView: view, Reused: reused})
}

func (h *Handler) getRun(c *gin.Context) {
	view, err := h.Store.GetRun(middleware.TenantFromContext(c), c.Param("id"), c.Param("rid"))
	if err != nil {
		respond.Failure(c, err)
		return
	}
	respond.OK(c, view)
}

func (h *Handler) interruptRun(c *gin.Context) {
	view, inFlight, err := h.Store.Interrupt(middleware.TenantFromContext(c), c.Param("id"), c.Param("rid"))
	if err != nil {
		respond.Failure(c, err)
		return
	}
	status := http.StatusOK
	if inFlight {
		status = http.StatusAccepted
	}
	respond.JSON(c, status, view)
}

func (h *Handler) listApprovals(c *gin.Context) {
	list, err := h.Store.ListApprovals(middleware.TenantFromContext(c), c.Param("id"))
	if err != nil {
		respond.Failure(c, err)
		return
	}
	respond.OK(c, gin.H{"approvals": list})
}

type resolveApprovalRequest struct {
	ApplyToFuture bool `json:"applyToFuture"`
}

func (h *Handler) approveApproval(c *gin.Context) {
	var req resolveApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		respond.Failure(c, apperr.New(apperr.CodeValidation, "invalid request body"))
		return
	}
	ap, err := h.Store.ResolveApproval(middleware.TenantFromContext(c), c.Param("id"), c.Param("aid"), true, req.ApplyToFuture)
	if err != nil {
		respond.Failure(c, err)
		return
	}
	respond.OK(c, ap)
}

func (h *Handler) rejectApproval(c *gin.Context) {
	ap, err := h.Store.ResolveApproval(middleware.TenantFromContext(c), c.Param("id"), c.Param("aid"), false, false)
	if err != nil {
		respond.Failure(c, err)
		return
	}
	respond.OK(c, ap)
}
