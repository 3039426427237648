package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hypoguard/app"
	"hypoguard/domain/core"
	"hypoguard/internal/errors"
	"hypoguard/internal/sessionlog"
)

// SessionHandler serves the session log and risk endpoints
type SessionHandler struct {
	service *app.IntegrityService
	hub     *SSEHub
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(service *app.IntegrityService, hub *SSEHub) *SessionHandler {
	return &SessionHandler{service: service, hub: hub}
}

// NewRouter builds the gin engine serving /api/sessions
func NewRouter(handler *SessionHandler, mode string) *gin.Engine {
	if mode != "" {
		gin.SetMode(mode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	handler.Register(r.Group("/api/sessions"))
	return r
}

// Register mounts the session routes on a router group
func (h *SessionHandler) Register(rg *gin.RouterGroup) {
	rg.GET("", h.ListSessions)
	rg.POST("/:session/tests", h.RecordTest)
	rg.GET("/:session/tests", h.ListTests)
	rg.POST("/:session/tests/:id/flag", h.FlagTest)
	rg.GET("/:session/risk", h.AssessRisk)
	rg.GET("/:session/snapshot", h.Snapshot)
	if h.hub != nil {
		rg.GET("/:session/events", h.hub.HandleSSE)
	}
}

// ListSessions returns the ids of known sessions
func (h *SessionHandler) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.service.Sessions()})
}

// RecordTest appends a test to the session log
func (h *SessionHandler) RecordTest(c *gin.Context) {
	var entry sessionlog.Entry
	if err := c.ShouldBindJSON(&entry); err != nil {
		writeError(c, errors.InvalidInput("invalid request body: "+err.Error()))
		return
	}

	rec, err := h.service.RecordSessionTest(c.Request.Context(), core.SessionID(c.Param("session")), entry)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// ListTests returns a session's records in append order
func (h *SessionHandler) ListTests(c *gin.Context) {
	records, err := h.service.SessionTests(core.SessionID(c.Param("session")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": c.Param("session"), "tests": records})
}

type flagRequest struct {
	Flagged *bool `json:"flagged"`
}

// FlagTest sets or clears the flag on one record. An empty body flags it.
func (h *SessionHandler) FlagTest(c *gin.Context) {
	var req flagRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, errors.InvalidInput("invalid request body: "+err.Error()))
			return
		}
	}
	flagged := true
	if req.Flagged != nil {
		flagged = *req.Flagged
	}

	rec, err := h.service.FlagSessionTest(c.Request.Context(),
		core.SessionID(c.Param("session")), core.SessionTestID(c.Param("id")), flagged)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// AssessRisk scores the session log
func (h *SessionHandler) AssessRisk(c *gin.Context) {
	assessment, err := h.service.AssessRisk(core.SessionID(c.Param("session")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, assessment)
}

// Snapshot returns a fingerprinted copy of the session log
func (h *SessionHandler) Snapshot(c *gin.Context) {
	snap, err := h.service.ExportSessionSnapshot(core.SessionID(c.Param("session")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func writeError(c *gin.Context, err error) {
	code := errors.CodeOf(err)
	c.AbortWithStatusJSON(errors.HTTPStatus(code), gin.H{"error": err.Error(), "code": code})
}
