package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"NewsCurator/internal/domain"
	"NewsCurator/internal/ports"
	"NewsCurator/internal/usecase"
)

const defaultHistoryLimit = 20

// Deps wires the administrative HTTP surface to the pipeline use cases.
type Deps struct {
	Processor *usecase.Processor
	Discovery *usecase.Discovery
	Queue     ports.Queue
	Sources   ports.SourceRegistry
	History   ports.RunHistory
	Logger    *slog.Logger

	BatchLimit int
}

// Server exposes the administrative trigger surface over HTTP. Partial
// failures always come back as structured summaries, never bare errors.
type Server struct {
	processor  *usecase.Processor
	discovery  *usecase.Discovery
	queue      ports.Queue
	sources    ports.SourceRegistry
	history    ports.RunHistory
	logger     *slog.Logger
	batchLimit int

	engine *gin.Engine
}

// New builds the HTTP server with its routes registered.
func New(deps Deps) *Server {
	batchLimit := deps.BatchLimit
	if batchLimit <= 0 {
		batchLimit = 25
	}

	s := &Server{
		processor:  deps.Processor,
		discovery:  deps.Discovery,
		queue:      deps.Queue,
		sources:    deps.Sources,
		history:    deps.History,
		logger:     deps.Logger,
		batchLimit: batchLimit,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", s.handleHealth)
	engine.POST("/api/admin/newslist/process", s.handleProcess)
	engine.GET("/api/admin/newslist", s.handleQueueStatus)
	engine.POST("/api/admin/newslist/:id/requeue", s.handleRequeue)
	engine.POST("/api/automation/bulk-save/:slug", s.handleBulkSave)
	engine.GET("/api/admin/history", s.handleHistory)

	s.engine = engine
	return s
}

// Handler exposes the underlying engine for net/http and tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type processRequest struct {
	Limit             int    `json:"limit"`
	ProcessAllPending bool   `json:"processAllPending"`
	Source            string `json:"source"`
}

func (s *Server) handleProcess(c *gin.Context) {
	var req processRequest
	// An empty body means defaults; anything unparsable is a client error.
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request body"})
		return
	}

	limit := req.Limit
	if limit <= 0 || limit > s.batchLimit {
		limit = s.batchLimit
	}

	var (
		summary usecase.BatchSummary
		err     error
	)
	if req.ProcessAllPending {
		summary, err = s.processor.ProcessAllPending(c.Request.Context(), limit, req.Source)
	} else {
		summary, err = s.processor.ProcessBatch(c.Request.Context(), limit, req.Source)
	}
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "unknown source", "source": req.Source})
			return
		}
		s.warn("process batch failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error(), "summary": summary})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "summary": summary})
}

func (s *Server) handleQueueStatus(c *gin.Context) {
	counts, err := s.queue.CountsByStatus(c.Request.Context())
	if err != nil {
		s.warn("queue status failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to load queue status"})
		return
	}

	type countItem struct {
		Source string `json:"source"`
		Status string `json:"status"`
		Count  int    `json:"count"`
	}
	items := make([]countItem, 0, len(counts))
	for _, row := range counts {
		items = append(items, countItem{Source: row.SourceKey, Status: string(row.Status), Count: row.Count})
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "counts": items})
}

func (s *Server) handleRequeue(c *gin.Context) {
	entryID := c.Param("id")

	if err := s.queue.Requeue(c.Request.Context(), entryID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "entry not found or not in error state", "id": entryID})
			return
		}
		s.warn("requeue failed", "entry_id", entryID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "requeue failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "id": entryID})
}

func (s *Server) handleBulkSave(c *gin.Context) {
	slug := c.Param("slug")

	source, err := s.sources.Get(c.Request.Context(), slug)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "unknown source", "source": slug})
			return
		}
		s.warn("resolve source failed", "source", slug, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to resolve source"})
		return
	}
	if !source.IsActive {
		c.JSON(http.StatusConflict, gin.H{"success": false, "message": "source is inactive", "source": slug})
		return
	}

	outcome, err := s.discovery.RunForSource(c.Request.Context(), *source, time.Now())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "no enabled category for source", "source": slug})
			return
		}
		s.warn("bulk save failed", "source", slug, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "source": slug, "outcome": outcome})
}

func (s *Server) handleHistory(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	runs, err := s.history.RecentRuns(c.Request.Context(), limit)
	if err != nil {
		s.warn("history failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to load history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "runs": runs})
}

func (s *Server) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
