package files

import (
	"errors"
	"mime/multipart"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"agent-backend/internal/apperr"
	"agent-backend/internal/extract"
	"agent-backend/internal/sessions"
	"agent-backend/internal/shared/server/middleware"
	"agent-backend/internal/shared/server/respond"
	"agent-backend/internal/shared/telemetry"
	"agent-backend/internal/shared/util"
	"agent-backend/internal/workspace"
)

// Handler serves session-scoped file operations: resume upload, workspace
// files, and export.
type Handler struct {
	Store          *sessions.Store
	Sandbox        *workspace.Sandbox
	MaxUploadBytes int64
	AllowedMime    map[string]struct{}
}

// NewHandler constructs a Handler.
func NewHandler(store *sessions.Store, sandbox *workspace.Sandbox, maxUploadBytes int64, allowedMimeTypes []string) *Handler {
	allowed := make(map[string]struct{}, len(allowedMimeTypes))
	for _, mt := range allowedMimeTypes {
		if trimmed := normalizeMime(mt); trimmed != "" {
			allowed[trimmed] = struct{}{}
		}
	}
	return &Handler{
		Store:          store,
		Sandbox:        sandbox,
		MaxUploadBytes: maxUploadBytes,
		AllowedMime:    allowed,
	}
}

// RegisterRoutes attaches file, resume, and export routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/sessions/:id/resume", h.uploadResume)
	rg.POST("/sessions/:id/files", h.uploadFile)
	rg.GET("/sessions/:id/files", h.listFiles)
	rg.GET("/sessions/:id/files/*path", h.getFile)
	rg.POST("/sessions/:id/export", h.export)
}

func (h *Handler) uploadResume(c *gin.Context) {
	tenant := middleware.TenantFromContext(c)
	sessionID := c.Param("id")
	if err := h.Store.EnsureSession(tenant, sessionID); err != nil {
		respond.Failure(c, err)
		return
	}

	fileHeader, rel, ok := h.acceptUpload(c, "resume")
	if !ok {
		return
	}

	info, err := h.saveUpload(c, sessionID, rel, fileHeader)
	if err != nil {
		respond.Failure(c, err)
		return
	}

	raw, err := h.Sandbox.ReadFile(sessionID, rel)
	if err != nil {
		respond.Failure(c, err)
		return
	}
	text, extractErr := extract.Text(raw, info.MimeType, fileHeader.Filename)
	if extractErr != nil {
		telemetry.Warn("resume.extract_failed", map[string]any{
			"session_id": sessionID,
			"file":       rel,
			"err":        extractErr.Error(),
		})
		text = ""
	}

	view, err := h.Store.AttachResume(tenant, sessionID, rel, text)
	if err != nil {
		respond.Failure(c, err)
		return
	}
	respond.JSON(c, http.StatusCreated, gin.H{
		"session": view,
		"file":    info,
	})
}

func (h *Handler) uploadFile(c *gin.Context) {
	tenant := middleware.TenantFromContext(c)
	sessionID := c.Param("id")
	if err := h.Store.EnsureSession(tenant, sessionID); err != nil {
		respond.Failure(c, err)
		return
	}

	fileHeader, rel, ok := h.acceptUpload(c, "uploads")
	if !ok {
		return
	}

	info, err := h.saveUpload(c, sessionID, rel, fileHeader)
	if err != nil {
		respond.Failure(c, err)
		return
	}
	respond.JSON(c, http.StatusCreated, info)
}

// acceptUpload parses the bounded multipart body and decides the target
// path. It responds on failure and reports ok=false.
func (h *Handler) acceptUpload(c *gin.Context, defaultDir string) (*multipart.FileHeader, string, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		if isTooLarge(err) {
			respond.Failure(c, apperr.New(apperr.CodeUploadTooLarge, "upload exceeds size limit"))
			return nil, "", false
		}
		respond.Failure(c, apperr.New(apperr.CodeValidation, "file is required"))
		return nil, "", false
	}
	if fileHeader.Size > h.MaxUploadBytes {
		respond.Failure(c, apperr.New(apperr.CodeUploadTooLarge, "upload exceeds size limit"))
		return nil, "", false
	}

	if !h.mimeAllowed(fileHeader) {
		respond.Failure(c, apperr.New(apperr.CodeUnsupportedFile, "file type is not allowed"))
		return nil, "", false
	}

	rel := strings.TrimSpace(c.PostForm("path"))
	if rel == "" {
		sanitized, sanErr := util.SanitizeFileName(fileHeader.Filename)
		if sanErr != nil {
			respond.Failure(c, apperr.New(apperr.CodeInvalidPath, "invalid file name"))
			return nil, "", false
		}
		rel = path.Join(defaultDir, sanitized)
	}
	return fileHeader, rel, true
}

func (h *Handler) saveUpload(c *gin.Context, sessionID, rel string, fileHeader *multipart.FileHeader) (workspace.FileInfo, error) {
	src, err := fileHeader.Open()
	if err != nil {
		return workspace.FileInfo{}, apperr.New(apperr.CodeValidation, "unable to read file")
	}
	defer src.Close()

	info, err := h.Sandbox.Save(sessionID, rel, src)
	if err != nil {
		if isTooLarge(err) {
			return workspace.FileInfo{}, apperr.New(apperr.CodeUploadTooLarge, "upload exceeds size limit")
		}
		return workspace.FileInfo{}, err
	}
	return info, nil
}

// listFiles returns the session's workspace listing.
func (h *Handler) listFiles(c *gin.Context) {
	tenant := middleware.TenantFromContext(c)
	sessionID := c.Param("id")
	if err := h.Store.EnsureSession(tenant, sessionID); err != nil {
		respond.Failure(c, err)
		return
	}
	h.writeListing(c, sessionID)
}

func (h *Handler) writeListing(c *gin.Context, sessionID string) {
	list, err := h.Sandbox.List(sessionID)
	if err != nil {
		respond.Failure(c, err)
		return
	}
	respond.OK(c, gin.H{"files": list})
}

// getFile serves one workspace file; an empty path lists the workspace.
func (h *Handler) getFile(c *gin.Context) {
	tenant := middleware.TenantFromContext(c)
	sessionID := c.Param("id")
	if err := h.Store.EnsureSession(tenant, sessionID); err != nil {
		respond.Failure(c, err)
		return
	}

	rel := strings.TrimPrefix(c.Param("path"), "/")
	if rel == "" {
		h.writeListing(c, sessionID)
		return
	}

	reader, info, err := h.Sandbox.Open(sessionID, rel)
	if err != nil {
		respond.Failure(c, err)
		return
	}
	defer reader.Close()
	c.DataFromReader(http.StatusOK, info.SizeBytes, info.MimeType, reader, nil)
}

func (h *Handler) export(c *gin.Context) {
	tenant := middleware.TenantFromContext(c)
	view, artifact, err := h.Store.Export(tenant, c.Param("id"))
	if err != nil {
		respond.Failure(c, err)
		return
	}
	respond.JSON(c, http.StatusCreated, gin.H{
		"session":      view,
		"artifactPath": artifact,
	})
}

// mimeAllowed accepts a file when its declared type, sniffed type, or
// extension-derived type is in the allowlist.
func (h *Handler) mimeAllowed(fileHeader *multipart.FileHeader) bool {
	if len(h.AllowedMime) == 0 {
		return true
	}
	candidates := []string{
		normalizeMime(fileHeader.Header.Get("Content-Type")),
		extensionMime(fileHeader.Filename),
		sniffMime(fileHeader),
	}
	for _, mt := range candidates {
		if mt == "" {
			continue
		}
		if _, ok := h.AllowedMime[mt]; ok {
			return true
		}
	}
	return false
}

func sniffMime(fileHeader *multipart.FileHeader) string {
	src, err := fileHeader.Open()
	if err != nil {
		return ""
	}
	defer src.Close()
	var sniff [512]byte
	n, _ := src.Read(sniff[:])
	if n <= 0 {
		return ""
	}
	return normalizeMime(http.DetectContentType(sniff[:n]))
}

func extensionMime(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".md", ".markdown":
		return "text/markdown"
	case ".txt":
		return "text/plain"
	default:
		return ""
	}
}

func normalizeMime(mt string) string {
	mt = strings.ToLower(strings.TrimSpace(mt))
	if idx := strings.Index(mt, ";"); idx >= 0 {
		mt = strings.TrimSpace(mt[:idx])
	}
	return mt
}

func isTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "request body too large")
}
