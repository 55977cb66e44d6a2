package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/YOUniversalIdeas/songIQ-sub006/internal/domain"
	"github.com/YOUniversalIdeas/songIQ-sub006/internal/events"
	"github.com/YOUniversalIdeas/songIQ-sub006/internal/metrics"
	apperrors "github.com/YOUniversalIdeas/songIQ-sub006/internal/platform/errors"
)

type publishTopicRequest struct {
	Category domain.Category  `json:"category"`
	ScopeKey string           `json:"scopeKey,omitempty"`
	Type     domain.EventType `json:"type"`
	Payload  json.RawMessage  `json:"payload"`
}

type publishUserRequest struct {
	UserID  string           `json:"userId"`
	Type    domain.EventType `json:"type"`
	Payload json.RawMessage  `json:"payload"`
}

// publishResponse is returned with 202: delivery is best-effort and, behind the relay,
// happens on every instance asynchronously.
type publishResponse struct {
	Status string `json:"status"`
	Target string `json:"target"`
}

func (s *Server) handlePublishTopic(c echo.Context) error {
	var req publishTopicRequest
	if err := c.Bind(&req); err != nil {
		return publishFailed("topic", apperrors.ValidationError("invalid request body"))
	}
	if err := validateEventType(req.Type); err != nil {
		return publishFailed("topic", err)
	}

	topic, err := domain.NewTopic(req.Category, req.ScopeKey)
	if err != nil {
		return publishFailed("topic", apperrors.ValidationError("unknown category").WithContext("category", string(req.Category)))
	}
	if topic.Category.Private() && topic.ScopeKey == "" {
		return publishFailed("topic", apperrors.ValidationError("scopeKey is required for private categories").WithContext("category", string(req.Category)))
	}

	ctx := c.Request().Context()
	if err := s.publisher.PublishToTopic(ctx, topic, req.Type, req.Payload); err != nil {
		return publishFailed("topic", classifyPublishError(err).WithContext("topic", topic.String()))
	}

	metrics.PublishRequestsTotal.WithLabelValues("topic", "accepted").Inc()
	slog.DebugContext(ctx, "Published to topic", "topic", topic.String(), "event_type", req.Type)

	return accepted(c, topic.String())
}

func (s *Server) handlePublishUser(c echo.Context) error {
	var req publishUserRequest
	if err := c.Bind(&req); err != nil {
		return publishFailed("user", apperrors.ValidationError("invalid request body"))
	}
	if err := validateEventType(req.Type); err != nil {
		return publishFailed("user", err)
	}

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return publishFailed("user", apperrors.ValidationError("userId is required"))
	}

	ctx := c.Request().Context()
	if err := s.publisher.PublishToUser(ctx, userID, req.Type, req.Payload); err != nil {
		return publishFailed("user", classifyPublishError(err).WithContext("user_id", userID))
	}

	metrics.PublishRequestsTotal.WithLabelValues("user", "accepted").Inc()
	slog.DebugContext(ctx, "Published to user", "user_id", userID, "event_type", req.Type)

	return accepted(c, "user:"+userID)
}

func validateEventType(eventType domain.EventType) *apperrors.Error {
	if strings.TrimSpace(string(eventType)) == "" {
		return apperrors.ValidationError("type is required")
	}
	return nil
}

func classifyPublishError(err error) *apperrors.Error {
	switch {
	case errors.Is(err, domain.ErrServiceStopped):
		return apperrors.UnavailableError("broadcast service is shutting down", err)
	case errors.Is(err, domain.ErrUnknownCategory):
		return apperrors.ValidationError("unknown category")
	case errors.Is(err, events.ErrMissingTarget):
		return apperrors.ValidationError("event is missing its market, symbol or user")
	default:
		return apperrors.ExternalError("failed to publish event", err)
	}
}

func publishFailed(target string, err *apperrors.Error) error {
	metrics.PublishRequestsTotal.WithLabelValues(target, string(err.Type)).Inc()
	return err
}

func accepted(c echo.Context, target string) error {
	if err := c.JSON(http.StatusAccepted, publishResponse{Status: "accepted", Target: target}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
