// Package httpapi exposes the engine's external surfaces over HTTP: event
// intake for business actions, preference updates for the settings page,
// and read-only operator diagnostics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/naveenchhikara/aegis-notify/internal/intake"
	"github.com/naveenchhikara/aegis-notify/internal/notify"
	"github.com/naveenchhikara/aegis-notify/internal/store"
	"github.com/naveenchhikara/aegis-notify/pkg/logx"
)

// Config configures the HTTP listener.
type Config struct {
	Addr string
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8087"
	}
	return c
}

// Server is the HTTP front of the notification engine.
type Server struct {
	cfg    Config
	router *gin.Engine
	srv    *http.Server

	store  *store.Store
	intake *intake.Service
	roles  intake.RoleSource
	log    logx.Logger
}

func NewServer(cfg Config, st *store.Store, in *intake.Service, roles intake.RoleSource, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		cfg:    cfg.withDefaults(),
		router: router,
		store:  st,
		intake: in,
		roles:  roles,
		log:    log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	{
		api.POST("/events", s.handleRecordEvent)

		api.GET("/preferences/:user", s.handleGetPreference)
		api.PUT("/preferences/:user", s.handlePutPreference)

		api.GET("/jobs", s.handleListJobs)
		api.GET("/jobs/:id", s.handleGetJob)
		api.GET("/jobs/:id/attempts", s.handleListAttempts)
		api.GET("/dead-letters", s.handleListDeadLetters)

		api.POST("/deadlines", s.handlePutDeadline)
	}

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notifyd"})
	})
}

// Start begins serving in a background goroutine.
func (s *Server) Start(ctx context.Context) {
	s.srv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		s.log.Info("http listening", logx.String("addr", s.cfg.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("http server stopped", logx.Err(err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) {
	if s.srv == nil {
		return
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Warn("http shutdown", logx.Err(err))
	}
}

// ---- intake ----

type recordEventRequest struct {
	RecipientID string          `json:"recipient_id" binding:"required"`
	Kind        string          `json:"kind" binding:"required"`
	Payload     json.RawMessage `json:"payload"`
	ContextType string          `json:"context_type"`
	ContextID   string          `json:"context_id"`
}

// handleRecordEvent is the fire-and-forget intake boundary. A malformed
// request is the caller's bug and gets a 400; a persistence failure is
// swallowed (logged inside intake) and still answers 202, because
// notification delivery never gates the business action.
func (s *Server) handleRecordEvent(c *gin.Context) {
	var req recordEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	kind := notify.EventKind(req.Kind)
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown event kind: " + req.Kind})
		return
	}

	id := s.intake.RecordBestEffort(c.Request.Context(), intake.Request{
		RecipientID: req.RecipientID,
		Kind:        kind,
		Payload:     req.Payload,
		Context:     notify.Context{Type: req.ContextType, ID: req.ContextID},
	})
	c.JSON(http.StatusAccepted, gin.H{"event_id": id})
}

// ---- preferences ----

type preferenceResponse struct {
	UserID           string `json:"user_id"`
	EmailEnabled     bool   `json:"email_enabled"`
	DigestPreference string `json:"digest_preference"`
}

type preferenceUpdateRequest struct {
	EmailEnabled     bool   `json:"email_enabled"`
	DigestPreference string `json:"digest_preference" binding:"required"`
}

func (s *Server) handleGetPreference(c *gin.Context) {
	p, err := s.store.GetPreference(c.Request.Context(), c.Param("user"))
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, preferenceResponse{
		UserID:           p.UserID,
		EmailEnabled:     p.EmailEnabled,
		DigestPreference: string(p.Digest),
	})
}

// handlePutPreference validates the update against role policy before
// persisting. A policy violation surfaces verbatim; the stored preference
// stays unchanged.
func (s *Server) handlePutPreference(c *gin.Context) {
	var req preferenceUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID := c.Param("user")

	roles, err := s.roles.RolesFor(c.Request.Context(), userID)
	if err != nil {
		s.internalError(c, err)
		return
	}

	p := notify.Preference{
		UserID:       userID,
		EmailEnabled: req.EmailEnabled,
		Digest:       notify.Cadence(req.DigestPreference),
	}
	if err := notify.ValidateUpdate(p, roles); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.PutPreference(c.Request.Context(), p); err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, preferenceResponse{
		UserID:           p.UserID,
		EmailEnabled:     p.EmailEnabled,
		DigestPreference: string(p.Digest),
	})
}

// ---- operator diagnostics (read-only) ----

type jobResponse struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	State       string     `json:"state"`
	RunAt       time.Time  `json:"run_at"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	LastError   string     `json:"last_error,omitempty"`
	LeasedBy    string     `json:"leased_by,omitempty"`
	LeaseExpiry *time.Time `json:"lease_expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func toJobResponse(j store.Job) jobResponse {
	return jobResponse{
		ID:          j.ID,
		Type:        string(j.Type),
		State:       string(j.State),
		RunAt:       j.RunAt,
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		LastError:   j.LastError,
		LeasedBy:    j.LeasedBy,
		LeaseExpiry: j.LeaseExpiry,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

func (s *Server) handleListJobs(c *gin.Context) {
	limit := 100
	jobs, err := s.store.ListJobs(c.Request.Context(),
		store.JobState(c.Query("state")),
		store.JobType(c.Query("type")),
		limit)
	if err != nil {
		s.internalError(c, err)
		return
	}
	out := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobResponse(j))
	}
	c.JSON(http.StatusOK, gin.H{"jobs": out})
}

func (s *Server) handleGetJob(c *gin.Context) {
	j, err := s.store.GetJob(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, toJobResponse(j))
}

func (s *Server) handleListAttempts(c *gin.Context) {
	atts, err := s.store.ListAttempts(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.internalError(c, err)
		return
	}
	type attemptResponse struct {
		Attempt       int       `json:"attempt"`
		Outcome       string    `json:"outcome"`
		ProviderMsgID string    `json:"provider_msg_id,omitempty"`
		Error         string    `json:"error,omitempty"`
		At            time.Time `json:"at"`
	}
	out := make([]attemptResponse, 0, len(atts))
	for _, a := range atts {
		out = append(out, attemptResponse{
			Attempt:       a.Attempt,
			Outcome:       a.Outcome,
			ProviderMsgID: a.ProviderMsgID,
			Error:         a.Error,
			At:            a.At,
		})
	}
	c.JSON(http.StatusOK, gin.H{"attempts": out})
}

func (s *Server) handleListDeadLetters(c *gin.Context) {
	jobs, err := s.store.ListJobs(c.Request.Context(), store.JobDeadLettered, "", 200)
	if err != nil {
		s.internalError(c, err)
		return
	}
	out := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobResponse(j))
	}
	c.JSON(http.StatusOK, gin.H{"dead_letters": out})
}

// ---- deadlines ----

type deadlineRequest struct {
	ID          string    `json:"id" binding:"required"`
	RecipientID string    `json:"recipient_id" binding:"required"`
	Title       string    `json:"title" binding:"required"`
	DueAt       time.Time `json:"due_at" binding:"required"`
	ContextType string    `json:"context_type"`
	ContextID   string    `json:"context_id"`
}

func (s *Server) handlePutDeadline(c *gin.Context) {
	var req deadlineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := s.store.UpsertDeadline(c.Request.Context(), store.Deadline{
		ID:          req.ID,
		RecipientID: req.RecipientID,
		Title:       req.Title,
		DueAt:       req.DueAt,
		Context:     notify.Context{Type: req.ContextType, ID: req.ContextID},
	})
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": req.ID})
}

func (s *Server) internalError(c *gin.Context, err error) {
	s.log.Error("request failed", logx.String("path", c.FullPath()), logx.Err(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
