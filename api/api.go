// Package api exposes the engine's admin surface over HTTP: job
// submission and inspection, cancellation, dead letter management,
// metrics, and health. Mount the router in the host application's
// server; the package never binds a listener itself.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stagepass/workq"
	"github.com/stagepass/workq/engine"
	"github.com/stagepass/workq/id"
	"github.com/stagepass/workq/job"
)

// enqueueRequest is the body of POST /v1/jobs.
type enqueueRequest struct {
	Type          string          `json:"type" binding:"required"`
	Payload       json.RawMessage `json:"payload"`
	Priority      int             `json:"priority"`
	MaxRetries    *int            `json:"max_retries"`
	TimeoutMs     int64           `json:"timeout_ms"`
	DelayMs       int64           `json:"delay_ms"`
	ScheduledFor  *time.Time      `json:"scheduled_for"`
	CorrelationID string          `json:"correlation_id"`
}

// purgeRequest is the body of POST /v1/dlq/purge.
type purgeRequest struct {
	OlderThanMs int64 `json:"older_than_ms" binding:"required"`
}

// Server holds the handlers for the admin API.
type Server struct {
	engine *engine.Engine
}

// NewServer creates the admin API over the given engine.
func NewServer(eng *engine.Engine) *Server {
	return &Server{engine: eng}
}

// Router builds a gin engine with all admin routes mounted under /v1.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	s.Mount(router.Group("/v1"))
	return router
}

// Mount attaches the admin routes to an existing route group, for
// hosts that already run their own gin engine.
func (s *Server) Mount(g *gin.RouterGroup) {
	g.POST("/jobs", s.enqueueJob)
	g.GET("/jobs", s.listJobs)
	g.GET("/jobs/:id", s.getJob)
	g.POST("/jobs/:id/cancel", s.cancelJob)

	g.GET("/dlq", s.listDLQ)
	g.POST("/dlq/:id/replay", s.replayDLQ)
	g.POST("/dlq/purge", s.purgeDLQ)

	g.GET("/metrics", s.getMetrics)
	g.GET("/health", s.getHealth)
}

func (s *Server) enqueueJob(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opts := make([]job.Option, 0, 6)
	if req.Priority != 0 {
		opts = append(opts, job.WithPriority(req.Priority))
	}
	if req.MaxRetries != nil {
		opts = append(opts, job.WithMaxRetries(*req.MaxRetries))
	}
	if req.TimeoutMs > 0 {
		opts = append(opts, job.WithTimeout(time.Duration(req.TimeoutMs)*time.Millisecond))
	}
	if req.ScheduledFor != nil {
		opts = append(opts, job.WithScheduledFor(*req.ScheduledFor))
	} else if req.DelayMs > 0 {
		opts = append(opts, job.WithDelay(time.Duration(req.DelayMs)*time.Millisecond))
	}
	if req.CorrelationID != "" {
		opts = append(opts, job.WithCorrelationID(req.CorrelationID))
	}

	j, err := s.engine.EnqueueRaw(c.Request.Context(), req.Type, req.Payload, opts...)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, j)
}

func (s *Server) getJob(c *gin.Context) {
	jobID, err := id.ParseJobID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	j, err := s.engine.GetJob(jobID)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, j)
}

func (s *Server) listJobs(c *gin.Context) {
	jobType := c.Query("type")
	if jobType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter 'type' is required"})
		return
	}

	var statuses []job.Status
	if raw := c.Query("status"); raw != "" {
		status, ok := job.ParseStatus(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + strconv.Quote(raw)})
			return
		}
		statuses = append(statuses, status)
	}

	jobs := s.engine.JobsByType(jobType, statuses...)
	if jobs == nil {
		jobs = []*job.Job{}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) cancelJob(c *gin.Context) {
	jobID, err := id.ParseJobID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	if err := s.engine.Cancel(c.Request.Context(), jobID); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": jobID.String()})
}

func (s *Server) listDLQ(c *gin.Context) {
	entries := s.engine.DLQ().Store().List()
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

func (s *Server) replayDLQ(c *gin.Context) {
	entryID, err := id.ParseDLQID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid dead letter entry id"})
		return
	}

	j, err := s.engine.DLQ().Replay(c.Request.Context(), entryID)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, j)
}

func (s *Server) purgeDLQ(c *gin.Context) {
	var req purgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	before := time.Now().UTC().Add(-time.Duration(req.OlderThanMs) * time.Millisecond)
	purged := s.engine.DLQ().Store().Purge(before)
	c.JSON(http.StatusOK, gin.H{"purged": purged})
}

func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Metrics())
}

func (s *Server) getHealth(c *gin.Context) {
	h := s.engine.Health()
	status := http.StatusOK
	if h.State == engine.Unhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, h)
}

// renderError maps engine sentinel errors to HTTP statuses.
func (s *Server) renderError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, workq.ErrJobNotFound), errors.Is(err, workq.ErrDLQNotFound):
		status = http.StatusNotFound
	case errors.Is(err, workq.ErrUnknownJobType):
		status = http.StatusBadRequest
	case errors.Is(err, workq.ErrNotCancellable):
		status = http.StatusConflict
	case errors.Is(err, workq.ErrQueueFull):
		status = http.StatusServiceUnavailable
	case errors.Is(err, workq.ErrRateLimited):
		status = http.StatusTooManyRequests
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
