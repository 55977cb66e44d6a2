package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	_ "go.uber.org/automaxprocs"

	"github.com/YOUniversalIdeas/songIQ-sub006/internal/auth"
	"github.com/YOUniversalIdeas/songIQ-sub006/internal/broadcast"
	"github.com/YOUniversalIdeas/songIQ-sub006/internal/domain"
	"github.com/YOUniversalIdeas/songIQ-sub006/internal/httpserver"
	"github.com/YOUniversalIdeas/songIQ-sub006/internal/metrics"
	"github.com/YOUniversalIdeas/songIQ-sub006/internal/platform/config"
	"github.com/YOUniversalIdeas/songIQ-sub006/internal/platform/logging"
	"github.com/YOUniversalIdeas/songIQ-sub006/internal/platform/version"
	"github.com/YOUniversalIdeas/songIQ-sub006/internal/redis"
)

const (
	shutdownTimeout       = 10 * time.Second
	systemMetricsInterval = 15 * time.Second
	instanceHeartbeat     = 10 * time.Second
)

// instanceID names this process in the relay group: hostname plus a random suffix,
// so restarted pods with the same hostname do not collide.
func instanceID() string {
	suffix := uuid.NewString()[:8]
	host, err := os.Hostname()
	if err != nil || host == "" {
		return suffix
	}
	return host + "-" + suffix
}

func localStats(service *broadcast.Service) redis.StatsFunc {
	return func(ctx context.Context) (redis.LocalStats, error) {
		stats, err := service.Stats(ctx)
		if err != nil {
			return redis.LocalStats{}, err
		}
		return redis.LocalStats{Connections: stats.ConnectionCount, Topics: len(stats.PerTopicSubscriberCounts)}, nil
	}
}

func runGracefulShutdown(ctx context.Context, srv *httpserver.Server, service *broadcast.Service) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		// Hijacked WebSocket connections outlive the HTTP server; this sends them going-away frames.
		service.Stop()

		close(done)
	}()

	return done
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupRedis(cfg *config.Config) *redis.Client {
	client, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to create Redis client", "error", err)
		os.Exit(1)
	}
	return client
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	info := version.RecordBuildInfo()
	slog.Info("Application starting",
		"env", cfg.AppEnv,
		"port", cfg.Port,
		"version", info.Version,
		"commit", info.Commit,
		"gomaxprocs", runtime.GOMAXPROCS(0),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	verifier := auth.NewJWTVerifier(cfg.JWTSecret, clock)
	service := broadcast.NewService(verifier, clock, cfg.HeartbeatInterval)

	healthChecks := []httpserver.HealthCheck{
		{Name: "broadcaster", Check: service.Ping},
	}

	// Without Redis, publishes go straight to this instance's connections.
	var (
		publisher domain.Broadcaster = service
		instances *redis.InstanceRegistry
	)
	if cfg.RedisURL != "" {
		redisClient := setupRedis(cfg)
		defer func() { _ = redisClient.Close() }()

		publisher = redis.NewRelay(redisClient, cfg.RedisChannel)
		healthChecks = append(healthChecks, httpserver.HealthCheck{Name: "redis", Check: redisClient.Ping})

		subscriber := redis.NewRelaySubscriber(redisClient, cfg.RedisChannel, service, clock)
		go func() {
			if err := subscriber.Run(ctx); err != nil {
				slog.Error("Relay subscriber failed, shutting down", "error", err)
				stop()
			}
		}()
		instances = redis.NewInstanceRegistry(redisClient, clock, instanceID(), info.Version, instanceHeartbeat, localStats(service))
		go instances.Start(ctx)

		slog.Info("Cross-instance relay enabled", "channel", cfg.RedisChannel)
	}

	go metrics.NewSystemCollector(clock, systemMetricsInterval).Run(ctx)

	var srv *httpserver.Server
	if instances != nil {
		srv = httpserver.NewServer(cfg, clock, service, publisher, instances, healthChecks)
	} else {
		// Pass nil explicitly to avoid a typed-nil interface.
		srv = httpserver.NewServer(cfg, clock, service, publisher, nil, healthChecks)
	}
	done := runGracefulShutdown(ctx, srv, service)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
