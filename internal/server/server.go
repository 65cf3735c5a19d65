// Package server exposes the action queue over HTTP and WebSocket for
// editor integrations. All approval traffic funnels into the same controller
// the CLI uses, so the one-request-at-a-time discipline holds across
// surfaces.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/toolq/toolq/internal/action"
	"github.com/toolq/toolq/internal/approval"
	"github.com/toolq/toolq/internal/logging"
	"github.com/toolq/toolq/internal/observability"
	"github.com/toolq/toolq/internal/workspace"
)

// Config holds the HTTP listener settings.
type Config struct {
	Host         string
	Port         int
	Version      string
	EnableCORS   bool
	Debug        bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns the listener defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:         "127.0.0.1",
		Port:         8765,
		EnableCORS:   true,
		Debug:        false,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Server serves the queue API.
type Server struct {
	ctrl   *approval.Controller
	ws     *workspace.Workspace
	tracer *observability.TracerProvider
	logger logging.Logger

	engine     *gin.Engine
	httpServer *http.Server
	upgrader   websocket.Upgrader

	sessions map[string]*wsSession
	mu       sync.RWMutex

	version   string
	startTime time.Time
}

// New builds the server around an approval controller.
func New(ctrl *approval.Controller, ws *workspace.Workspace, tracer *observability.TracerProvider, logger logging.Logger, cfg *Config) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	if cfg.EnableCORS {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
		corsConfig.AllowWebSockets = true
		engine.Use(cors.New(corsConfig))
	}

	s := &Server{
		ctrl:   ctrl,
		ws:     ws,
		tracer: tracer,
		logger: logging.OrNop(logger),
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Loopback tool; editors connect from file:// and app origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sessions:  make(map[string]*wsSession),
		version:   cfg.Version,
		startTime: time.Now(),
	}

	engine.Use(s.traceMiddleware())
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) setupRoutes() {
	api := s.engine.Group("/api")

	api.GET("/health", s.handleHealth)
	api.GET("/queue", s.handleQueue)
	api.POST("/parse", s.handleParse)
	api.POST("/actions/:id/approve", s.handleApprove)
	api.GET("/actions/:id/preview", s.handlePreview)
	api.POST("/approve-all", s.handleApproveAll)
	api.GET("/files", s.handleFiles)
	api.GET("/documents", s.handleDocuments)
	api.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.engine.GET("/ws", s.handleWebSocket)
}

func (s *Server) traceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.tracer == nil {
			c.Next()
			return
		}
		ctx, span := s.tracer.StartSpan(c.Request.Context(), observability.SpanHTTPServer,
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", c.FullPath()),
		)
		defer span.End()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// startSpan opens a child span under the request span. Without a tracer it
// returns the span already on the context, which is a noop one.
func (s *Server) startSpan(c *gin.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx := c.Request.Context()
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.StartSpan(ctx, name, attrs...)
}

type apiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, apiResponse{Success: true, Data: data})
}

func fail(c *gin.Context, status int, err error) {
	c.JSON(status, apiResponse{Success: false, Error: err.Error()})
}

func (s *Server) handleHealth(c *gin.Context) {
	ok(c, gin.H{
		"status":      "ok",
		"version":     s.version,
		"uptime":      time.Since(s.startTime).String(),
		"workspace":   s.ws.Root(),
		"queue_depth": len(s.ctrl.List()),
	})
}

// handleQueue includes has_approvable so clients can decide whether to offer
// an approve-all control; shell-only queues have nothing bulk can execute.
func (s *Server) handleQueue(c *gin.Context) {
	acts := s.ctrl.List()
	ok(c, gin.H{"actions": acts, "count": len(acts), "has_approvable": s.ctrl.HasApprovable()})
}

type parseRequest struct {
	Text string `json:"text" binding:"required"`
}

func (s *Server) handleParse(c *gin.Context) {
	var req parseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	ctx, span := s.startSpan(c, observability.SpanParse)
	defer span.End()

	acts, err := s.ctrl.Submit(ctx, req.Text)
	if err != nil {
		span.SetAttributes(observability.ErrorAttrs(err)...)
		status := http.StatusInternalServerError
		if errors.Is(err, action.ErrNoActions) {
			status = http.StatusUnprocessableEntity
		}
		fail(c, status, err)
		return
	}
	span.SetAttributes(observability.QueueAttrs(len(s.ctrl.List()))...)
	s.broadcastQueue()
	ok(c, gin.H{"actions": acts, "count": len(acts)})
}

func (s *Server) handleApprove(c *gin.Context) {
	ctx, span := s.startSpan(c, observability.SpanApprove,
		attribute.String(observability.AttrActionID, c.Param("id")))
	defer span.End()

	res, err := s.ctrl.ApproveOne(ctx, c.Param("id"))
	span.SetAttributes(observability.ErrorAttrs(err)...)
	if err != nil && errors.Is(err, approval.ErrUnknownAction) {
		fail(c, http.StatusNotFound, err)
		return
	}
	if res != nil {
		span.SetAttributes(observability.ActionAttrs(res.Action.ID, string(res.Action.Kind))...)
		span.SetAttributes(observability.StatusAttrs(res.Status)...)
	}
	s.broadcastQueue()
	// A failed execution is still a processed approval; the result carries
	// the failure.
	c.JSON(http.StatusOK, apiResponse{
		Success: err == nil,
		Data:    gin.H{"result": res},
		Error:   errString(err),
	})
}

func (s *Server) handleApproveAll(c *gin.Context) {
	ctx, span := s.startSpan(c, observability.SpanApproveAll)
	defer span.End()

	report, err := s.ctrl.ApproveAll(ctx)
	if err != nil {
		span.SetAttributes(observability.ErrorAttrs(err)...)
		fail(c, http.StatusInternalServerError, err)
		return
	}
	span.SetAttributes(
		attribute.Int(observability.AttrSkipped, report.Skipped),
		attribute.Int("toolq.executed", len(report.Results)),
	)
	s.broadcastQueue()
	ok(c, gin.H{"report": report, "summary": report.Summary()})
}

func (s *Server) handlePreview(c *gin.Context) {
	act, found := s.ctrl.Get(c.Param("id"))
	if !found {
		fail(c, http.StatusNotFound, fmt.Errorf("%w: %s", approval.ErrUnknownAction, c.Param("id")))
		return
	}
	result, err := s.ctrl.Preview(act)
	if err != nil {
		fail(c, http.StatusUnprocessableEntity, err)
		return
	}
	if result == nil {
		ok(c, gin.H{"summary": act.Summary(), "diff": ""})
		return
	}
	ok(c, gin.H{
		"summary": result.FormatSummary(),
		"diff":    result.UnifiedDiff,
		"binary":  result.IsBinary,
	})
}

func (s *Server) handleFiles(c *gin.Context) {
	files, err := s.ws.ListFiles(c.QueryArray("exclude"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, workspace.ErrNoWorkspace) {
			status = http.StatusConflict
		}
		fail(c, status, err)
		return
	}
	ok(c, gin.H{"files": files, "count": len(files)})
}

func (s *Server) handleDocuments(c *gin.Context) {
	ok(c, gin.H{"documents": s.ws.OpenDocuments()})
}

// Run serves until ctx is canceled, then drains connections and shuts the
// listener down.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("serving on http://%s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		s.closeAllSessions()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
