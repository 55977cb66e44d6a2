package httpserver

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"

	"github.com/YOUniversalIdeas/songIQ-sub006/internal/events"
	"github.com/YOUniversalIdeas/songIQ-sub006/internal/metrics"
	apperrors "github.com/YOUniversalIdeas/songIQ-sub006/internal/platform/errors"
)

func (s *Server) registerEventRoutes(api *echo.Group) {
	api.POST("/events/orderbook", publishEvent(s, "orderbook", (*events.Publisher).OrderBookUpdated))
	api.POST("/events/trade", publishEvent(s, "trade", (*events.Publisher).TradeExecuted))
	api.POST("/events/ticker", publishEvent(s, "ticker", (*events.Publisher).TickerUpdated))
	api.POST("/events/price", publishEvent(s, "price", (*events.Publisher).PriceUpdated))
	api.POST("/events/balance", publishEvent(s, "balance", (*events.Publisher).BalanceUpdated))
	api.POST("/events/order", publishEvent(s, "order", (*events.Publisher).OrderUpdated))
}

// publishEvent binds the body into a typed event and hands it to the events facade,
// which picks the topic or user and the event type.
func publishEvent[T any](s *Server, kind string, publish func(*events.Publisher, context.Context, T) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		var event T
		if err := c.Bind(&event); err != nil {
			return publishFailed("event", apperrors.ValidationError("invalid request body").WithContext("event", kind))
		}

		ctx := c.Request().Context()
		if err := publish(s.events, ctx, event); err != nil {
			return publishFailed("event", classifyPublishError(err).WithContext("event", kind))
		}

		metrics.PublishRequestsTotal.WithLabelValues("event", "accepted").Inc()
		slog.DebugContext(ctx, "Published typed event", "event", kind)

		return accepted(c, "event:"+kind)
	}
}
