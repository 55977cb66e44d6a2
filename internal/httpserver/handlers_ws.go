package httpserver

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/YOUniversalIdeas/songIQ-sub006/internal/broadcast"
	"github.com/YOUniversalIdeas/songIQ-sub006/internal/domain"
	"github.com/YOUniversalIdeas/songIQ-sub006/internal/metrics"
	"github.com/YOUniversalIdeas/songIQ-sub006/internal/platform/correlation"
	apperrors "github.com/YOUniversalIdeas/songIQ-sub006/internal/platform/errors"
)

// pongWaitFactor scales the heartbeat interval into the read deadline.
// A client that misses two consecutive probes is dropped by the reader even if no sweep ran.
const pongWaitFactor = 2

const rateLimitedReason = "rate limit exceeded"

func (s *Server) handleWebSocket(c echo.Context) error {
	ip := c.RealIP()
	if ok, reason := s.limits.Acquire(ip); !ok {
		metrics.WebSocketConnectionsRejected.WithLabelValues(string(reason)).Inc()
		metrics.WebSocketConnectionsTotal.WithLabelValues("rejected").Inc()
		if reason == LimitReasonGlobal {
			return apperrors.UnavailableError("connection capacity reached", nil)
		}
		return apperrors.RateLimitedError("too many connections").WithContext("reason", string(reason))
	}
	metrics.WebSocketConnectionCapacity.Set(s.limits.Global().CapacityPct())
	defer func() {
		s.limits.Release(ip)
		metrics.WebSocketConnectionCapacity.Set(s.limits.Global().CapacityPct())
	}()

	credential := c.QueryParam("token")
	if credential == "" {
		credential, _ = bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the HTTP error response.
		metrics.WebSocketConnectionsTotal.WithLabelValues("error").Inc()
		slog.WarnContext(c.Request().Context(), "WebSocket upgrade failed", "remote_ip", ip, "error", err)
		return nil
	}

	writer := broadcast.NewWriter(conn, s.clock, s.config.SendBufferSize)
	defer func() { _ = writer.Close() }()

	id, err := s.hub.Connect(c.Request().Context(), writer, credential)
	if err != nil {
		metrics.WebSocketConnectionsTotal.WithLabelValues("error").Inc()
		slog.ErrorContext(c.Request().Context(), "Failed to register WebSocket connection", "error", err)
		_ = writer.CloseGraceful(websocket.CloseTryAgainLater, "service unavailable")
		return nil
	}
	metrics.WebSocketConnectionsTotal.WithLabelValues("success").Inc()
	defer s.hub.Remove(id)

	ctx := correlation.WithID(c.Request().Context(), id.String())
	slog.DebugContext(ctx, "WebSocket connected", "connection_id", id, "remote_ip", ip)

	s.readPump(ctx, conn, writer, id)
	return nil
}

// readPump feeds client frames to the hub until the connection fails. Pong frames
// count as liveness acknowledgments and push the read deadline out.
func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, writer domain.Transport, id uuid.UUID) {
	pongWait := pongWaitFactor * s.config.HeartbeatInterval

	conn.SetReadLimit(s.config.MaxMessageBytes)
	_ = conn.SetReadDeadline(s.clock.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		s.hub.MarkAlive(id)
		return conn.SetReadDeadline(s.clock.Now().Add(pongWait))
	})

	limiter := rate.NewLimiter(rate.Limit(s.config.ClientMessageRate), s.config.ClientMessageBurst)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				slog.DebugContext(ctx, "WebSocket read failed", "connection_id", id, "error", err)
			}
			return
		}

		if !limiter.AllowN(s.clock.Now(), 1) {
			metrics.WebSocketClientRateLimited.Inc()
			s.rejectRateLimited(ctx, writer, id)
			continue
		}

		s.hub.HandleMessage(id, data)
	}
}

func (s *Server) rejectRateLimited(ctx context.Context, writer domain.Transport, id uuid.UUID) {
	frame, err := domain.EncodeOutbound(domain.OutboundError, domain.ErrorData{Message: rateLimitedReason}, s.clock.Now())
	if err != nil {
		return
	}
	if err := writer.Send(frame); err != nil {
		slog.DebugContext(ctx, "Failed to send rate limit error", "connection_id", id, "error", err)
	}
}
