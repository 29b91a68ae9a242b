package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/mcpmux/mcpmux/internal/mcp"
)

// SharedListener owns the one HTTP listener multiplexed across every live
// gateway. It is bound lazily on the first gateway and released when the
// registry empties; each start binds a fresh ephemeral loopback port.
type SharedListener struct {
	logger   *slog.Logger
	host     string
	registry *Registry

	mu      sync.Mutex
	echo    *echo.Echo
	baseURL string
}

func NewSharedListener(log *slog.Logger, host string, registry *Registry) *SharedListener {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(host) == "" {
		host = "127.0.0.1"
	}
	return &SharedListener{
		logger:   log.With(slog.String("component", "shared_listener")),
		host:     host,
		registry: registry,
	}
}

// Start binds the listener if it is not running and returns its base URL.
// Calling Start while running returns the existing address.
func (l *SharedListener) Start() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.echo != nil {
		return l.baseURL, nil
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(l.host, "0"))
	if err != nil {
		return "", fmt.Errorf("bind gateway listener: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.GET("/:token/tools", l.handleListTools)
	e.POST("/:token/tools/call", l.handleCallTool)
	e.RouteNotFound("/*", handleRouteMiss)
	// Method mismatches on registered route shapes bypass RouteNotFound, so
	// fold them into the uniform miss response here.
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) &&
			(httpErr.Code == http.StatusNotFound || httpErr.Code == http.StatusMethodNotAllowed) {
			_ = handleRouteMiss(c)
			return
		}
		e.DefaultHTTPErrorHandler(err, c)
	}
	e.Listener = ln

	go func() {
		if err := e.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error("gateway listener stopped", slog.Any("error", err))
		}
	}()

	l.echo = e
	l.baseURL = "http://" + ln.Addr().String()
	l.logger.Info("gateway listener started", slog.String("address", l.baseURL))
	return l.baseURL, nil
}

// Stop releases the socket. Stopping an already-stopped listener is a no-op.
func (l *SharedListener) Stop(ctx context.Context) error {
	l.mu.Lock()
	e := l.echo
	addr := l.baseURL
	l.echo = nil
	l.baseURL = ""
	l.mu.Unlock()
	if e == nil {
		return nil
	}
	l.logger.Info("gateway listener stopping", slog.String("address", addr))
	return e.Shutdown(ctx)
}

func (l *SharedListener) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.echo != nil
}

func (l *SharedListener) Address() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.baseURL
}

// handleListTools forwards GET /{token}/tools to the matched invoker. The
// registry lock is released before the invoker call so one gateway's slow
// upstream never blocks another's requests.
func (l *SharedListener) handleListTools(c echo.Context) error {
	gw, ok := l.registry.LookupByToken(c.Param("token"))
	if !ok {
		return handleRouteMiss(c)
	}
	tools, err := gw.Invoker.ListTools(c.Request().Context())
	if err != nil {
		l.logger.Warn("list tools failed",
			slog.String("gateway_id", gw.ID),
			slog.Any("error", err),
		)
		return c.JSON(http.StatusBadGateway, errorBody("tool invoker unavailable"))
	}
	if tools == nil {
		tools = []mcp.ToolDescriptor{}
	}
	return c.JSON(http.StatusOK, tools)
}

// handleCallTool forwards POST /{token}/tools/call. A downstream failure is
// a tool-level error carried in a 200 response, distinct from the 4xx-class
// routing and request errors.
func (l *SharedListener) handleCallTool(c echo.Context) error {
	gw, ok := l.registry.LookupByToken(c.Param("token"))
	if !ok {
		return handleRouteMiss(c)
	}
	var payload mcp.ToolCallPayload
	if err := json.NewDecoder(c.Request().Body).Decode(&payload); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}
	name := strings.TrimSpace(payload.Name)
	if name == "" {
		return c.JSON(http.StatusBadRequest, errorBody("tool name is required"))
	}
	arguments := payload.Arguments
	if arguments == nil {
		arguments = map[string]any{}
	}
	result, err := gw.Invoker.CallTool(c.Request().Context(), name, arguments)
	if err != nil {
		if errors.Is(err, mcp.ErrToolNotFound) {
			return c.JSON(http.StatusOK, errorBody("tool not found: "+name))
		}
		return c.JSON(http.StatusOK, errorBody(err.Error()))
	}
	return c.JSON(http.StatusOK, map[string]any{"result": result})
}

// handleRouteMiss answers every routing miss identically, whether the token
// segment was never issued, belonged to a disposed gateway, or is garbage.
func handleRouteMiss(c echo.Context) error {
	return c.JSON(http.StatusNotFound, errorBody("not found"))
}

type errorPayload struct {
	Error errorMessage `json:"error"`
}

type errorMessage struct {
	Message string `json:"message"`
}

func errorBody(message string) errorPayload {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "request failed"
	}
	return errorPayload{Error: errorMessage{Message: message}}
}
