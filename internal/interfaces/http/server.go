package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/modelgate/modelgate/internal/application/usecase"
	"github.com/modelgate/modelgate/internal/infrastructure/llm"
	"github.com/modelgate/modelgate/internal/infrastructure/logger"
	"github.com/modelgate/modelgate/internal/infrastructure/monitoring"
	"github.com/modelgate/modelgate/internal/infrastructure/persistence"
	"github.com/modelgate/modelgate/internal/interfaces/http/handlers"
	"github.com/modelgate/modelgate/internal/interfaces/websocket"
)

// Server terminates the gateway's HTTP surface: the Anthropic-shaped
// messages API, token counting, health, metrics, the progress WebSocket
// and the debug endpoints.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// Config is the listener configuration.
type Config struct {
	Host string
	Port int
	Mode string // "debug" enables gin debug output
}

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	Process  *usecase.ProcessMessage
	Sessions *persistence.SessionStore
	Failover *llm.Failover
	Monitor  *monitoring.Monitor
	Audit    *persistence.AuditLogger
	Hub      *websocket.Hub
	Logger   *zap.Logger
}

// NewServer builds the router and wraps it in an http.Server.
func NewServer(cfg Config, deps Deps) *Server {
	if cfg.Mode != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(accessLog(deps.Logger))

	messageHandler := handlers.NewMessageHandler(deps.Process, deps.Logger)
	debugHandler := handlers.NewDebugHandler(deps.Sessions, deps.Audit, deps.Logger)

	setupRoutes(router, deps, messageHandler, debugHandler)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	return &Server{
		server: server,
		logger: deps.Logger,
	}
}

// Start begins serving. The listener runs in its own goroutine; Start
// returns once it is launched.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("address", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func setupRoutes(router *gin.Engine, deps Deps, messageHandler *handlers.MessageHandler, debugHandler *handlers.DebugHandler) {
	router.GET("/health", func(c *gin.Context) {
		body := gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		}
		if deps.Failover != nil {
			body["providers"] = deps.Failover.ListProviders(c.Request.Context())
		}
		if deps.Sessions != nil {
			body["active_sessions"] = deps.Sessions.ActiveCount()
		}
		c.JSON(http.StatusOK, body)
	})

	if deps.Monitor != nil {
		router.GET("/metrics", gin.WrapH(deps.Monitor.PrometheusHandler()))
	}

	v1 := router.Group("/v1")
	{
		v1.POST("/messages", messageHandler.Messages)
		v1.POST("/messages/count_tokens", messageHandler.CountTokens)

		if deps.Hub != nil {
			v1.GET("/progress/ws", gin.WrapF(deps.Hub.ServeWS))
		}
	}

	debug := router.Group("/debug")
	{
		debug.GET("/session", debugHandler.Session)
		debug.GET("/sessions", debugHandler.Sessions)
		debug.GET("/audit", debugHandler.Audit)
	}

	// Claude clients post telemetry batches here; drain and acknowledge.
	router.POST("/api/event_logging/batch", func(c *gin.Context) {
		io.Copy(io.Discard, c.Request.Body) //nolint:errcheck
		c.JSON(http.StatusOK, gin.H{"accepted": true})
	})
}

// requestIDKey is the gin context key the handlers read the id from.
const requestIDKey = "requestId"

// requestID stamps every request, honouring a client-supplied
// X-Request-ID, and echoes the id on the response.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

// accessLog writes one line per request. Header values go through
// redaction so credentials never reach the log.
func accessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
			zap.String("requestId", c.GetString(requestIDKey)),
		}
		if log.Core().Enabled(zap.DebugLevel) {
			fields = append(fields, zap.Any("headers", logger.RedactHeaders(c.Request.Header)))
		}
		log.Info("HTTP request", fields...)
	}
}
