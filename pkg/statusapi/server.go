// Package statusapi serves a small read-only HTTP view of the client's
// reconciled state on localhost, for scripting and debugging.
package statusapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/pipewatch/pkg/session"
	"github.com/codeready-toolchain/pipewatch/pkg/stream"
	"github.com/codeready-toolchain/pipewatch/pkg/transport"
)

// Server exposes the reconciled state over HTTP. It never mutates anything.
type Server struct {
	store      *stream.Store
	sessions   *session.Manager
	connStatus func() transport.Status
	httpServer *http.Server
}

// NewServer creates the status server.
func NewServer(store *stream.Store, sessions *session.Manager, connStatus func() transport.Status) *Server {
	s := &Server{
		store:      store,
		sessions:   sessions,
		connStatus: connStatus,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", s.health)
	router.GET("/api/pipelines/:id", s.getPipeline)
	router.GET("/api/session", s.getSession)

	s.httpServer = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves on addr until Shutdown.
func (s *Server) Run(addr string) error {
	s.httpServer.Addr = addr
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the HTTP handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"connection": s.connStatus(),
	})
}

func (s *Server) getPipeline(c *gin.Context) {
	snap, ok := s.store.Snapshot(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "pipeline not watched"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) getSession(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"session":        s.sessions.Session(),
		"pending_events": s.sessions.Pending(),
	})
}
