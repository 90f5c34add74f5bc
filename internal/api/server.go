// Package api is the operator-facing control surface: trigger injection,
// decision snapshots and streaming, learning-loop inspection, and replay
// control.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// defaultReplayHeader carries the replay-mode flag on orchestrate requests
// when no header name is configured.
const defaultReplayHeader = "X-Replay-Mode"

// Config contains server configuration.
type Config struct {
	Host string
	Port int
	// ReplayHeader is the request header that marks an orchestrate call as a
	// replay invocation.
	ReplayHeader string
}

// Server is the REST API server.
type Server struct {
	router       *gin.Engine
	orchestrator Orchestrator
	store        DecisionStore
	replay       ReplayController
	addr         string
	replayHeader string
	server       *http.Server
	logger       zerolog.Logger
}

// NewServer wires the handlers over their collaborators and builds the route
// table.
func NewServer(config Config, orchestrator Orchestrator, store DecisionStore, replay ReplayController) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", defaultReplayHeader, config.ReplayHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	replayHeader := config.ReplayHeader
	if replayHeader == "" {
		replayHeader = defaultReplayHeader
	}

	server := &Server{
		router:       router,
		orchestrator: orchestrator,
		store:        store,
		replay:       replay,
		addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		replayHeader: replayHeader,
		logger:       log.With().Str("component", "api").Logger(),
	}

	server.setupRoutes()

	return server
}

// Handler exposes the route table for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks on ListenAndServe until Stop is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: the SSE stream holds its response open
		// indefinitely.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info().Str("addr", s.addr).Msg("Starting API server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping API server")

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
	}

	return nil
}

// LoggerMiddleware is a custom logging middleware for Gin.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		clientIP := c.ClientIP()
		method := c.Request.Method

		logEvent := log.Info().
			Str("method", method).
			Str("path", path).
			Str("query", query).
			Int("status", statusCode).
			Dur("latency", latency).
			Str("client_ip", clientIP)

		if len(c.Errors) > 0 {
			logEvent.Str("errors", c.Errors.String())
		}

		logEvent.Msg("API request")
	}
}
