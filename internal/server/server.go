package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"tasktracker/internal/auth"
	"tasktracker/internal/models"
	"tasktracker/internal/notify"
	"tasktracker/internal/tasks"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps groups what the HTTP layer serves.
type Deps struct {
	Tasks    *tasks.Service
	Hub      *notify.Hub
	Verifier *auth.Verifier
	Store    Pinger
	Logger   *slog.Logger
}

// Server provides HTTP handlers for the task tracker.
type Server struct {
	engine   *gin.Engine
	tasks    *tasks.Service
	hub      *notify.Hub
	verifier *auth.Verifier
	store    Pinger
	logger   *slog.Logger
}

// New constructs the HTTP server with routes and middleware configured.
func New(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.LoggerWithWriter(gin.DefaultWriter, "/api/healthz"))

	srv := &Server{
		engine:   router,
		tasks:    d.Tasks,
		hub:      d.Hub,
		verifier: d.Verifier,
		store:    d.Store,
		logger:   d.Logger,
	}

	srv.registerRoutes()
	return srv
}

// Engine exposes the underlying Gin engine.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// registerRoutes wires all API handlers together.
func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")
	api.GET("/healthz", s.handleHealth)

	authed := api.Group("", s.verifier.Middleware())
	{
		taskRoutes := authed.Group("/tasks")
		{
			taskRoutes.GET("", s.handleListTasks)
			taskRoutes.POST("", s.handleCreateTask)
			taskRoutes.GET(":id", s.handleGetTask)
			taskRoutes.PATCH(":id", s.handleUpdateTask)
			taskRoutes.DELETE(":id", s.handleDeleteTask)
		}

		authed.GET("/notifications", s.handleListNotifications)
		authed.POST("/notifications/:id/read", s.handleMarkNotificationRead)
		authed.GET("/events", s.handleEvents)
	}

	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})
}

// handleHealth provides a basic readiness endpoint.
func (s *Server) handleHealth(c *gin.Context) {
	if s.store != nil {
		if err := s.store.Ping(c.Request.Context()); err != nil {
			s.respondError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// actor returns the caller resolved by the auth middleware.
func actor(c *gin.Context) models.Actor {
	a, _ := auth.ActorFrom(c)
	return a
}

// statusFor maps core errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs the error and returns a JSON payload. Internal failures
// are not echoed to the client.
func (s *Server) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("path", c.FullPath()), slog.String("error", err.Error()))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	s.logger.Debug("request rejected", slog.String("path", c.FullPath()), slog.String("error", err.Error()))
	c.JSON(status, gin.H{"error": err.Error()})
}

// respondSuccess writes payload as JSON, or only the status when it is nil.
func respondSuccess(c *gin.Context, status int, payload any) {
	if payload == nil {
		c.Status(status)
		return
	}
	c.JSON(status, payload)
}
