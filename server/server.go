// Package server exposes the flows over a local REST API and streams session
// step logs over WebSocket.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"email-signer/flow"
	"email-signer/shared"
)

const shutdownTimeout = 10 * time.Second

// Server hosts the API
type Server struct {
	controller *flow.Controller
	sessions   *flow.SessionManager
	logger     *shared.Logger

	wg sync.WaitGroup // background approvals
}

// New creates a server over controller and sessions
func New(controller *flow.Controller, sessions *flow.SessionManager, logger *shared.Logger) *Server {
	if logger == nil {
		logger = shared.NopLogger()
	}
	return &Server{controller: controller, sessions: sessions, logger: logger}
}

// Router builds the gin engine with every route installed
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	s.InstallAPI(r)
	return r
}

// InstallAPI registers the API handlers with gin
func (s *Server) InstallAPI(r *gin.Engine) {
	r.GET("/health", s.healthHandler)

	r.POST("/api/v1/accounts", s.registerHandler)
	r.GET("/api/v1/accounts/:email", s.accountHandler)

	r.POST("/api/v1/approvals", s.createApprovalHandler)
	r.GET("/api/v1/approvals/:id", s.approvalHandler)
	r.DELETE("/api/v1/approvals/:id", s.cancelApprovalHandler)

	r.GET("/api/v1/sessions/:id/logs", s.sessionLogsHandler)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down and
// closes every live session
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			s.logger.Critical("HTTP server failed", zap.Error(err))
		}
		s.sessions.Stop()
		s.wg.Wait()
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)

	s.sessions.Stop()
	s.wg.Wait()
	return err
}

// Wait blocks until every background approval has returned
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}

func renderError(message string, status int, c *gin.Context) {
	c.JSON(status, gin.H{
		"errors": []gin.H{{"message": message}},
	})
}
