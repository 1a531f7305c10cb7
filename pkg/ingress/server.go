package ingress

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/harun/menubot/internal/observability"
	"github.com/harun/menubot/internal/tracing"
	"github.com/harun/menubot/pkg/engine"
	"github.com/harun/menubot/pkg/llm"
	"github.com/harun/menubot/pkg/orders"
)

// DefaultRateLimitPerMinute applies when Config.RateLimitPerMinute is zero.
const DefaultRateLimitPerMinute = 30

const bodyLimit = "64K"

// ChatEngine runs turns and manages stored history.
type ChatEngine interface {
	RunTurn(ctx context.Context, req engine.TurnRequest) (*engine.TurnResult, error)
	StreamTurn(ctx context.Context, req engine.TurnRequest) (<-chan engine.Event, error)
	History(ctx context.Context, sessionID string) ([]llm.Message, error)
	ClearHistory(ctx context.Context, sessionID string) error
}

// ContentFilter rejects messages that must not reach the model.
type ContentFilter interface {
	CheckMessage(content string) error
}

// SessionResolver maps a phone number to its customer and current thread.
type SessionResolver interface {
	EnsureCustomer(ctx context.Context, phone string) (*orders.Customer, error)
	ResolveSession(ctx context.Context, phone string) (string, error)
}

// Config configures the HTTP server.
type Config struct {
	Engine   ChatEngine
	Sessions SessionResolver
	// Filter is optional.
	Filter ContentFilter
	Logger zerolog.Logger

	RateLimitPerMinute int
	// AllowedOrigins is used for CORS and websocket origin checks. Empty
	// allows every origin.
	AllowedOrigins []string
	// WebhookSecret, when set, requires an HMAC signature on chat bodies.
	WebhookSecret string

	Version     string
	Environment string
}

// Server is the chatbot's HTTP front door.
type Server struct {
	echo     *echo.Echo
	engine   ChatEngine
	sessions SessionResolver
	filter   ContentFilter
	limiter  *RateLimiter
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	version     string
	environment string
}

// New builds the server and registers its routes.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("ingress: engine is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("ingress: session resolver is required")
	}
	limit := cfg.RateLimitPerMinute
	if limit <= 0 {
		limit = DefaultRateLimitPerMinute
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:        e,
		engine:      cfg.Engine,
		sessions:    cfg.Sessions,
		filter:      cfg.Filter,
		limiter:     NewRateLimiter(limit),
		logger:      cfg.Logger.With().Str("component", "ingress").Logger(),
		version:     cfg.Version,
		environment: cfg.Environment,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: tracing.NewRequestID,
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: corsOrigins(cfg.AllowedOrigins),
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
	}))
	e.Use(middleware.BodyLimit(bodyLimit))
	e.Use(s.requestLogger())

	observability.EnsureRegistered()
	e.GET("/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(observability.MetricsHandler()))

	api := e.Group("/api/v1/chatbot")
	chat := []echo.MiddlewareFunc{s.limiter.Middleware()}
	if cfg.WebhookSecret != "" {
		chat = append(chat, signatureMiddleware(cfg.WebhookSecret))
	}
	api.POST("/chat", s.handleChat, chat...)
	api.POST("/chat/stream", s.handleChatStream, chat...)
	api.GET("/ws", s.handleWebSocket, s.limiter.Middleware())
	api.GET("/messages", s.handleHistory)
	api.DELETE("/messages", s.handleClear)

	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("HTTP ingress listening")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ingress: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.Stop()
	return s.echo.Shutdown(ctx)
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogRoutePath: true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := s.logger.Info()
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				ev = s.logger.Warn().Err(v.Error)
			}
			// The route path keeps phone numbers in the query out of the log.
			ev.Str("method", v.Method).
				Str("route", v.RoutePath).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("HTTP request")
			return nil
		},
	})
}

func corsOrigins(allowed []string) []string {
	if len(allowed) == 0 {
		return []string{"*"}
	}
	return allowed
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}
