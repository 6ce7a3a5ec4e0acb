// Package devserver is a reference server for the push and fallback
// protocols. It keeps messages in memory and presence, typing and rate-limit
// state in Redis.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/victorivanov/commsync/internal/auth"
	"github.com/victorivanov/commsync/internal/models"
	"github.com/victorivanov/commsync/internal/redis"
	"github.com/victorivanov/commsync/internal/snowflake"
	"github.com/victorivanov/commsync/internal/transport"
)

const (
	apiRateLimit  = 300
	apiRateWindow = time.Minute
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; this server is for local development.
	},
}

// Options configures a Server.
type Options struct {
	Tokens            *auth.TokenService
	Redis             *redis.Client
	Channels          []models.ChannelSummary
	Node              int64
	HeartbeatInterval time.Duration
	PresenceGrace     time.Duration
	Logger            *slog.Logger
}

// Server wires the gateway and the fallback API onto one Echo instance.
type Server struct {
	echo   *echo.Echo
	hub    *Hub
	svc    *Service
	tokens *auth.TokenService
	redis  *redis.Client
	log    *slog.Logger
}

// New creates a Server. Channels defaults to DefaultChannels.
func New(opts Options) (*Server, error) {
	if opts.Tokens == nil || opts.Redis == nil {
		return nil, errors.New("devserver: token service and redis client are required")
	}
	ids, err := snowflake.NewGenerator(opts.Node)
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "devserver")
	channels := opts.Channels
	if len(channels) == 0 {
		channels = DefaultChannels()
	}

	hub := newHub(log, opts.HeartbeatInterval, opts.PresenceGrace)
	svc := &Service{
		state: NewState(ids, channels),
		hub:   hub,
		redis: opts.Redis,
		log:   log,
	}
	hub.svc = svc

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:   e,
		hub:    hub,
		svc:    svc,
		tokens: opts.Tokens,
		redis:  opts.Redis,
		log:    log,
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.echo.GET("/health", s.health)
	s.echo.GET("/gateway", s.HandleWebSocket)

	api := s.echo.Group("/api/comms", s.tokens.Middleware(), RateLimitMiddleware(s.redis, apiRateLimit, apiRateWindow))
	api.GET("/channels", s.listChannels)
	api.GET("/channels/:id/messages", s.getMessages)
	api.POST("/channels/:id/messages", s.createMessage)
	api.PATCH("/messages/:id", s.updateMessage)
	api.DELETE("/messages/:id", s.deleteMessage)
	api.POST("/messages/:id/reactions", s.toggleReaction)
	api.POST("/messages/:id/pin", s.setPinned)
	api.GET("/presence", s.getPresence)
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.log.Info("dev server listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

// Shutdown drops every push connection and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.echo.Shutdown(ctx)
}

// Close drops every push connection.
func (s *Server) Close() {
	s.hub.Close()
}

func (s *Server) health(c echo.Context) error {
	if err := s.redis.Ping(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded", "redis": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// HandleWebSocket handles GET /gateway. The bearer token is checked before
// the upgrade; browsers that cannot set headers may pass ?token= instead.
func (s *Server) HandleWebSocket(c echo.Context) error {
	token, ok := auth.BearerToken(c.Request().Header.Get("Authorization"))
	if !ok {
		token = c.QueryParam("token")
	}
	claims, err := s.tokens.ValidateAccessToken(token)
	if err != nil {
		return writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
	}
	user := User{ID: claims.UserID, Name: claims.UserName}
	if user.Name == "" {
		user.Name = user.ID
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Warn("upgrade error", "error", err)
		return nil
	}

	conn := newConnection(ws, s.hub, user, uuid.NewString())
	conn.SendFrame(transport.Frame{
		Op: transport.OpHello,
		Data: mustMarshal(transport.HelloData{
			HeartbeatInterval: int(s.hub.heartbeatInterval.Milliseconds()),
		}),
	})

	go conn.writePump()
	s.hub.register(conn)
	go conn.readPump()

	return nil
}

// RateLimitMiddleware limits each authenticated user per route with a Redis
// fixed-window counter.
func RateLimitMiddleware(redisClient *redis.Client, limit int, window time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := "rl:user:" + auth.GetUserID(c) + ":" + c.Path()
			if auth.GetUserID(c) == "" {
				key = "rl:ip:" + c.RealIP() + ":" + c.Path()
			}

			allowed, err := redisClient.CheckRateLimit(c.Request().Context(), key, limit, window)
			if err != nil {
				// On Redis failure, allow the request through rather than blocking users.
				return next(c)
			}
			c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			if !allowed {
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
				return writeError(c, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests, please try again later")
			}
			return next(c)
		}
	}
}
