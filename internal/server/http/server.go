// Package http exposes the generation service over HTTP with gin.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"

	"github.com/ekisa-team/audiogen/internal/config"
	"github.com/ekisa-team/audiogen/internal/env"
	"github.com/ekisa-team/audiogen/internal/metrics"
	"github.com/ekisa-team/audiogen/internal/model"
)

const shutdownTimeout = 10 * time.Second

// Dependencies are the collaborators the routes are built on.
type Dependencies struct {
	Generator Generator
	Statuses  StatusReader
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	// ArtifactsDir is served read-only under ArtifactsPrefix.
	ArtifactsDir    string
	ArtifactsPrefix string
}

// Server is the HTTP front end.
type Server struct {
	listenAddr string
	engine     *gin.Engine
	inner      *http.Server
	logger     *slog.Logger
}

// NewServer builds the gin engine and registers every route.
func NewServer(cfg config.ServerConfig, environment env.Environment, deps Dependencies) (*Server, error) {
	if deps.Generator == nil || deps.Statuses == nil {
		return nil, errors.New("http: generator and status reader are required")
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	corsCfg := corsConfig(cfg.CORSOrigins)
	if err := corsCfg.Validate(); err != nil {
		return nil, fmt.Errorf("http: invalid cors origins: %w", err)
	}

	gin.SetMode(ginMode(environment))
	r := gin.New()
	r.HandleMethodNotAllowed = true

	r.Use(RequestID())
	r.Use(Logging(log))
	r.Use(Metrics(deps.Metrics, deps.ArtifactsPrefix))
	r.Use(Recovery(log))
	r.Use(cors.New(corsCfg))
	if deps.ArtifactsDir != "" && deps.ArtifactsPrefix != "" {
		r.Use(static.Serve(deps.ArtifactsPrefix, static.LocalFile(deps.ArtifactsDir, false)))
	}

	health := NewHealthHandler(deps.Statuses)
	r.GET("/", health.Root)
	r.GET("/health", health.Health)

	for _, task := range model.Tasks() {
		h, err := NewGenerateHandler(task, deps.Generator)
		if err != nil {
			return nil, err
		}
		r.POST(fmt.Sprintf("/generate_%s/", task), h.Handle)
	}

	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, ErrorResponse{Detail: "Not Found"})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, ErrorResponse{Detail: "Method Not Allowed"})
	})

	addr := net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port))
	return &Server{
		listenAddr: addr,
		engine:     r,
		logger:     log,
		inner: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
		},
	}, nil
}

// Handler returns the routed engine.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.listenAddr
}

// Start listens on the configured address and blocks until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.listenAddr)
	if err := s.inner.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Serve accepts connections on l and blocks until Stop is called.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("HTTP server listening", "addr", l.Addr().String())
	if err := s.inner.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests, giving up after a bounded wait.
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	s.logger.Info("Stopping HTTP server")
	return s.inner.Shutdown(ctx)
}

func ginMode(environment env.Environment) string {
	switch environment {
	case env.Development:
		return gin.DebugMode
	case env.Test:
		return gin.TestMode
	default:
		return gin.ReleaseMode
	}
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", RequestIDHeader},
		ExposeHeaders: []string{RequestIDHeader},
		MaxAge:        5 * time.Minute,
	}
	if len(origins) == 0 {
		c.AllowAllOrigins = true
		return c
	}
	for _, o := range origins {
		if o == "*" {
			c.AllowAllOrigins = true
			return c
		}
	}
	c.AllowOrigins = origins
	return c
}
