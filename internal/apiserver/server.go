// Package apiserver exposes the engine's operational surface — health,
// suspension listing/cleanup, and stats — over HTTP. It is optional: an
// embedding program can use the engine package directly without ever
// starting this server.
package apiserver

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/flowmesh/engine/engine"
	"github.com/flowmesh/engine/internal/logger"
)

// Server wraps an echo instance bound to an Engine, with graceful shutdown.
type Server struct {
	echo *echo.Echo
	eng  *engine.Engine
	log  *logger.Logger
	addr string
}

// New builds a Server listening on port, routing to eng.
func New(eng *engine.Engine, port int) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{echo: e, eng: eng, log: eng.Logger(), addr: fmt.Sprintf(":%d", port)}
	RegisterRoutes(e, eng)
	return s
}

// Start runs the server until an interrupt/SIGTERM signal, then shuts down
// gracefully within 30 seconds.
func (s *Server) Start() error {
	serverErrors := make(chan error, 1)

	go func() {
		s.log.Info("apiserver starting", "addr", s.addr)
		serverErrors <- s.echo.Start(s.addr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("apiserver: %w", err)
		}
		return nil
	case sig := <-shutdown:
		s.log.Info("apiserver shutdown signal received", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.echo.Shutdown(ctx); err != nil {
			return fmt.Errorf("apiserver: graceful shutdown failed: %w", err)
		}
		s.log.Info("apiserver shutdown complete")
		return nil
	}
}
