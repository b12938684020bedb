package surface

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/entrhq/quickbar/pkg/types"
)

// TabLister lists the open tabs. *browser.Manager satisfies it.
type TabLister interface {
	Tabs() []int
}

// RunInspector reports per-tab run activity. *controller.Controller
// satisfies it.
type RunInspector interface {
	Running(tabID int) bool
	Paused(tabID int) bool
}

// Server exposes the surface over HTTP.
type Server struct {
	echo    *echo.Echo
	surface *Surface
	hub     *Hub

	tabs TabLister
	runs RunInspector
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithRunReport adds open tab and run counts to the health report.
func WithRunReport(tabs TabLister, runs RunInspector) ServerOption {
	return func(s *Server) {
		s.tabs = tabs
		s.runs = runs
	}
}

// NewServer creates a server and registers its routes.
func NewServer(surface *Surface, hub *Hub, opts ...ServerOption) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, surface: surface, hub: hub}
	for _, opt := range opts {
		opt(s)
	}
	s.RegisterRoutes(e)
	return s
}

// RegisterRoutes registers routes with the echo server.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.POST("/commands", s.PostCommand)
	e.GET("/tabs/:id/state", s.GetTabState)
	e.GET("/ws", s.hub.ServeWS)
	e.GET("/healthz", s.Health)
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Start(addr string) error {
	log.Infof("Control surface listening on %s", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown disconnects websocket clients and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.echo.Shutdown(ctx)
}

// PostCommand runs any command. Command failures are replied with 200 and
// an error body; only unreadable requests get a 400.
func (s *Server) PostCommand(c echo.Context) error {
	var cmd types.Command
	if err := c.Bind(&cmd); err != nil {
		return c.JSON(http.StatusBadRequest, types.NewErrorReply(err))
	}
	if cmd.Type == "" {
		return c.JSON(http.StatusBadRequest, &types.Reply{Error: "command type is required"})
	}
	return c.JSON(http.StatusOK, s.surface.Dispatch(c.Request().Context(), cmd))
}

// GetTabState returns one tab's state.
func (s *Server) GetTabState(c echo.Context) error {
	tabID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, &types.Reply{Error: "invalid tab id"})
	}
	cmd := types.Command{Type: types.CommandGetTabState, TabID: tabID}
	return c.JSON(http.StatusOK, s.surface.Dispatch(c.Request().Context(), cmd))
}

// Health returns health status.
func (s *Server) Health(c echo.Context) error {
	report := map[string]any{
		"status":  "healthy",
		"clients": s.hub.Clients(),
	}
	if s.tabs != nil && s.runs != nil {
		tabs := s.tabs.Tabs()
		running, paused := 0, 0
		for _, id := range tabs {
			if s.runs.Running(id) {
				running++
			}
			if s.runs.Paused(id) {
				paused++
			}
		}
		report["tabs"] = len(tabs)
		report["running"] = running
		report["paused"] = paused
	}
	return c.JSON(http.StatusOK, report)
}
