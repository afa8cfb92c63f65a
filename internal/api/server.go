// Package api exposes a small read-only status surface over HTTP:
// health and current strategy state. There is no session, auth, or
// mutation endpoint here — those belong to an operator-facing service
// this agent does not implement.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/deriv-trading/agent/internal/orchestrator"
)

// Server wraps the echo instance and the orchestrator it reports on.
type Server struct {
	echo *echo.Echo
	orch *orchestrator.Orchestrator
	addr string
}

// NewServer builds the status server bound to addr.
func NewServer(addr string, orch *orchestrator.Orchestrator) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, orch: orch, addr: addr}

	e.GET("/healthz", s.handleHealth)
	e.GET("/state", s.handleState)

	return s
}

// Start blocks serving HTTP until the server is shut down.
func (s *Server) Start() error {
	log.Info().Str("addr", s.addr).Msg("api: status server listening")
	return s.echo.Start(s.addr)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleState(c echo.Context) error {
	snap := s.orch.Snapshot()

	resp := map[string]interface{}{
		"state":       snap.State.String(),
		"marketState": snap.MarketState.String(),
	}
	if snap.OpenContract != nil {
		resp["openContract"] = snap.OpenContract
	}
	if !snap.LastSignal.IsZero() {
		resp["lastSignal"] = snap.LastSignal
	}

	return c.JSON(http.StatusOK, resp)
}
