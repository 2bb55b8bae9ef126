// Package server exposes the authoritative copy over HTTP.
//
// Routes:
//
//	GET    /healthz
//	GET    /api/v1/entities/:type/:id
//	PUT    /api/v1/entities/:type/:id
//	DELETE /api/v1/entities/:type/:id
//	GET    /api/v1/categories
//
// Everything under /api/v1 needs a bearer token. Writes to time categories
// need the admin role. Errors use the envelope {"error":{"code","message"}}.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/roach88/shiftsync/internal/apperr"
	"github.com/roach88/shiftsync/internal/auth"
	"github.com/roach88/shiftsync/internal/category"
)

// Authority is the store of record the server fronts.
type Authority interface {
	Get(ctx context.Context, entityType, id string) (json.RawMessage, error)
	Put(ctx context.Context, entityType, id string, data json.RawMessage) (json.RawMessage, error)
	Delete(ctx context.Context, entityType, id string) error
	ListCategories(ctx context.Context) ([]category.TimeCategory, error)
}

const maxBodyBytes = 1 << 20

// Server serves an Authority.
type Server struct {
	authority   Authority
	tokens      *auth.Tokens
	logger      *slog.Logger
	corsOrigins []string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithCORS allows browser clients from origins. Meant for development.
func WithCORS(origins ...string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// New creates a server for a.
func New(a Authority, tokens *auth.Tokens, opts ...Option) *Server {
	s := &Server{authority: a, tokens: tokens, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))
	_ = r.SetTrustedProxies(nil)

	if len(s.corsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  s.corsOrigins,
			AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders: []string{"Content-Length"},
			AllowMethods:  []string{"GET", "PUT", "DELETE", "OPTIONS"},
			MaxAge:        12 * time.Hour,
		}))
	}

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	api := r.Group("/api/v1", RequireAuth(s.tokens))
	RegisterRoutes(api, s.authority)
	return r
}

// RegisterRoutes mounts the entity routes on r.
func RegisterRoutes(r gin.IRoutes, a Authority) {
	h := &handler{authority: a}
	r.GET("/entities/:type/:id", h.get)
	r.PUT("/entities/:type/:id", h.put)
	r.DELETE("/entities/:type/:id", h.delete)
	r.GET("/categories", h.listCategories)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

type handler struct{ authority Authority }

func (h *handler) get(c *gin.Context) {
	typ, id := c.Param("type"), c.Param("id")
	data, err := h.authority.Get(c.Request.Context(), typ, id)
	if err != nil {
		writeError(c, err)
		return
	}
	if data == nil {
		writeError(c, apperr.NotFound(typ, id))
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

func (h *handler) put(c *gin.Context) {
	typ, id := c.Param("type"), c.Param("id")
	if err := authorizeWrite(c, typ); err != nil {
		writeError(c, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		writeError(c, apperr.Validation("body", "unreadable: %v", err))
		return
	}
	if !json.Valid(body) {
		writeError(c, apperr.Validation("body", "invalid json"))
		return
	}

	stored, err := h.authority.Put(c.Request.Context(), typ, id, body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", stored)
}

func (h *handler) delete(c *gin.Context) {
	typ, id := c.Param("type"), c.Param("id")
	if err := authorizeWrite(c, typ); err != nil {
		writeError(c, err)
		return
	}
	if err := h.authority.Delete(c.Request.Context(), typ, id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) listCategories(c *gin.Context) {
	cats, err := h.authority.ListCategories(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if cats == nil {
		cats = []category.TimeCategory{}
	}
	c.JSON(http.StatusOK, cats)
}

// authorizeWrite keeps category configuration with admins. Attendance
// writes come from any authenticated device.
func authorizeWrite(c *gin.Context, entityType string) error {
	if entityType != category.EntityType {
		return nil
	}
	actor, ok := actorFrom(c)
	if !ok {
		return apperr.Forbidden("missing actor")
	}
	return auth.RequireAdmin(actor, "write "+entityType)
}
