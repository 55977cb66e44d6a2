package httpserver

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/YOUniversalIdeas/songIQ-sub006/internal/broadcast"
	apperrors "github.com/YOUniversalIdeas/songIQ-sub006/internal/platform/errors"
	"github.com/YOUniversalIdeas/songIQ-sub006/internal/redis"
)

type clusterStatsResponse struct {
	Instances        []redis.InstanceInfo `json:"instances"`
	TotalConnections int                  `json:"totalConnections"`
	Timestamp        time.Time            `json:"timestamp"`
}

// handleStats serves the hub's snapshot. Concurrent requests share one round trip
// through the broadcast loop.
func (s *Server) handleStats(c echo.Context) error {
	result, err, _ := s.statsGroup.Do("stats", func() (any, error) {
		return s.hub.Stats(c.Request().Context())
	})
	if err != nil {
		return apperrors.UnavailableError("stats unavailable", err)
	}

	stats, ok := result.(broadcast.Stats)
	if !ok {
		return apperrors.InternalError("unexpected stats result", nil)
	}
	if err := c.JSON(http.StatusOK, stats); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleClusterStats(c echo.Context) error {
	if s.instances == nil {
		return apperrors.NotFoundError("cluster stats require the Redis relay")
	}

	result, err, _ := s.statsGroup.Do("cluster", func() (any, error) {
		return s.instances.ActiveInstances(c.Request().Context())
	})
	if err != nil {
		return apperrors.ExternalError("failed to read instance registry", err)
	}

	instances, ok := result.([]redis.InstanceInfo)
	if !ok {
		return apperrors.InternalError("unexpected cluster stats result", nil)
	}

	response := clusterStatsResponse{Instances: instances, Timestamp: s.clock.Now().UTC()}
	for _, info := range instances {
		response.TotalConnections += info.Connections
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
