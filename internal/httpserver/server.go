package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"golang.org/x/sync/singleflight"

	"github.com/YOUniversalIdeas/songIQ-sub006/internal/broadcast"
	"github.com/YOUniversalIdeas/songIQ-sub006/internal/domain"
	"github.com/YOUniversalIdeas/songIQ-sub006/internal/events"
	"github.com/YOUniversalIdeas/songIQ-sub006/internal/platform/config"
	"github.com/YOUniversalIdeas/songIQ-sub006/internal/redis"
)

// broadcastService is the part of broadcast.Service the WebSocket and stats handlers drive.
type broadcastService interface {
	Connect(ctx context.Context, transport domain.Transport, credential string) (uuid.UUID, error)
	MarkAlive(id uuid.UUID)
	HandleMessage(id uuid.UUID, data []byte)
	Remove(id uuid.UUID)
	Stats(ctx context.Context) (broadcast.Stats, error)
}

// instanceDirectory lists the instances of a relay group. Nil without Redis.
type instanceDirectory interface {
	ActiveInstances(ctx context.Context) ([]redis.InstanceInfo, error)
}

type Server struct {
	echo   *echo.Echo
	config *config.Config
	clock  clockwork.Clock

	hub       broadcastService
	publisher domain.Broadcaster
	events    *events.Publisher
	instances instanceDirectory

	upgrader     websocket.Upgrader
	limits       *ConnectionLimits
	statsGroup   singleflight.Group
	healthChecks []HealthCheck
	startTime    time.Time
}

// NewServer builds the echo server. hub owns the local connections; publisher receives
// publish API calls and is either hub itself or a cross-instance relay. instances may be nil.
func NewServer(cfg *config.Config, clock clockwork.Clock, hub broadcastService, publisher domain.Broadcaster, instances instanceDirectory, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:      e,
		config:    cfg,
		clock:     clock,
		hub:       hub,
		publisher: publisher,
		events:    events.NewPublisher(publisher),
		instances: instances,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     NewCheckOrigin(cfg.AppURL, cfg.IsDevelopment()),
		},
		limits:       NewConnectionLimits(clock, int64(cfg.MaxWebSocketConnections), cfg.MaxConnectionsPerIP, cfg.ConnectionRate, cfg.ConnectionBurst),
		healthChecks: healthChecks,
		startTime:    clock.Now(),
	}

	srv.registerRoutes()

	return srv
}

// Handler exposes the router, mainly for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
